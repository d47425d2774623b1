package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// service is a best-effort companion of the controller.
type service struct {
	name string
	run  func(context.Context) error
}

// runServices runs the controller until ctx ends. A failing service is
// logged and left stopped; it never cancels the controller, whose exit
// path releases the lockdown.
func runServices(ctx context.Context, logger *zap.Logger, controller func(context.Context) error, services ...service) error {
	var g errgroup.Group
	g.Go(func() error { return controller(ctx) })
	for _, s := range services {
		g.Go(func() error {
			if err := s.run(ctx); err != nil && ctx.Err() == nil {
				logger.Error("service failed, lockdown unchanged",
					zap.String("service", s.name),
					zap.Error(err))
			}
			return nil
		})
	}
	return g.Wait()
}

// serveMetrics serves handler on addr until ctx ends.
func serveMetrics(ctx context.Context, addr string, handler http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("metrics server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
