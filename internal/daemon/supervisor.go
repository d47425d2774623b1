package daemon

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/pavkata12/client8/internal/domain"
)

// SupervisorConfig holds supervisor configuration.
type SupervisorConfig struct {
	GuardCheckInterval time.Duration // How often to check the process guard
	HeartbeatInterval  time.Duration // How often to publish the status file
}

// DefaultSupervisorConfig returns default supervisor configuration.
func DefaultSupervisorConfig() SupervisorConfig {
	return SupervisorConfig{
		GuardCheckInterval: 5 * time.Second,
		HeartbeatInterval:  5 * time.Second,
	}
}

// StatusSource provides the status snapshot to publish.
type StatusSource interface {
	Status() domain.AgentStatus
}

// Supervisor keeps the process guard alive and publishes heartbeats.
type Supervisor struct {
	config SupervisorConfig
	guard  Guard
	source StatusSource
	sink   domain.StatusSink
	logger *zap.Logger
}

// NewSupervisor creates a new supervisor.
func NewSupervisor(
	config SupervisorConfig,
	guard Guard,
	source StatusSource,
	sink domain.StatusSink,
	logger *zap.Logger,
) *Supervisor {
	return &Supervisor{
		config: config,
		guard:  guard,
		source: source,
		sink:   sink,
		logger: logger.With(zap.String("component", "supervisor")),
	}
}

// Run starts the supervisor loop.
// This blocks until context is canceled.
func (s *Supervisor) Run(ctx context.Context) error {
	s.logger.Info("supervisor started",
		zap.Duration("guard_check", s.config.GuardCheckInterval),
		zap.Duration("heartbeat", s.config.HeartbeatInterval))

	s.publishHeartbeat()

	guardTicker := time.NewTicker(s.config.GuardCheckInterval)
	heartbeatTicker := time.NewTicker(s.config.HeartbeatInterval)

	defer func() {
		guardTicker.Stop()
		heartbeatTicker.Stop()
	}()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("supervisor stopping")
			return ctx.Err()

		case <-guardTicker.C:
			s.CheckGuard()

		case <-heartbeatTicker.C:
			s.publishHeartbeat()
		}
	}
}

// CheckGuard restarts the process guard if its loop died while lockdown
// wants it running. Returns true when a restart happened.
func (s *Supervisor) CheckGuard() bool {
	if !s.guard.Started() || s.guard.Alive() {
		return false
	}

	s.logger.Warn("process guard not running, restarting...")
	s.guard.Restart()
	if s.guard.Alive() {
		s.logger.Info("process guard restarted successfully")
	}
	return true
}

func (s *Supervisor) publishHeartbeat() {
	if s.sink == nil {
		return
	}
	if err := s.sink.Publish(s.source.Status()); err != nil {
		s.logger.Warn("failed to publish status", zap.Error(err))
	}
}
