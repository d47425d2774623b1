package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/pavkata12/client8/internal/domain"
	"github.com/pavkata12/client8/internal/metrics"
)

const defaultStopTimeout = 3 * time.Second

// ProcessGuard periodically terminates blocked processes and closes
// file-browser windows.
type ProcessGuard struct {
	processManager domain.ProcessManager
	windows        domain.WindowCloser
	notifier       domain.Notifier
	metrics        *metrics.Metrics
	logger         *zap.Logger
	limiter        *rate.Limiter

	rules atomic.Pointer[[]domain.ProcessRule]
	// alive is owned by the current loop; a replaced loop only clears its own flag.
	alive atomic.Pointer[atomic.Bool]

	mu          sync.Mutex
	cancel      context.CancelFunc
	done        chan struct{}
	interval    time.Duration
	stopTimeout time.Duration
}

// NewProcessGuard creates a stopped guard.
func NewProcessGuard(
	pm domain.ProcessManager,
	wc domain.WindowCloser,
	notifier domain.Notifier,
	m *metrics.Metrics,
	logger *zap.Logger,
	rules []domain.ProcessRule,
) *ProcessGuard {
	g := &ProcessGuard{
		processManager: pm,
		windows:        wc,
		notifier:       notifier,
		metrics:        m,
		logger:         logger.With(zap.String("component", "guard")),
		limiter:        rate.NewLimiter(rate.Every(5*time.Second), 3),
		stopTimeout:    defaultStopTimeout,
	}
	g.SetRules(rules)
	return g
}

// SetRules swaps the rule list; the next sweep uses it.
func (g *ProcessGuard) SetRules(rules []domain.ProcessRule) {
	cp := append([]domain.ProcessRule(nil), rules...)
	g.rules.Store(&cp)
}

// Start launches the sweep loop. Starting a running guard is a no-op.
func (g *ProcessGuard) Start(interval time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.cancel != nil {
		return
	}
	g.interval = interval
	g.launchLocked()
	g.logger.Info("process guard started", zap.Duration("interval", interval))
}

// Stop cancels the loop and waits for an in-flight sweep, bounded.
func (g *ProcessGuard) Stop() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.stopLocked()
}

func (g *ProcessGuard) stopLocked() {
	if g.cancel == nil {
		return
	}
	g.cancel()
	select {
	case <-g.done:
	case <-time.After(g.stopTimeout):
		g.logger.Warn("process guard did not stop in time", zap.Duration("timeout", g.stopTimeout))
	}
	g.cancel = nil
	g.done = nil
	g.alive.Store(nil)
	g.logger.Info("process guard stopped")
}

// Restart replaces a dead loop with a fresh one using the last interval.
func (g *ProcessGuard) Restart() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.stopLocked()
	g.launchLocked()
	g.logger.Warn("process guard restarted")
}

func (g *ProcessGuard) launchLocked() {
	ctx, cancel := context.WithCancel(context.Background())
	alive := new(atomic.Bool)
	alive.Store(true)

	g.cancel = cancel
	g.done = make(chan struct{})
	g.alive.Store(alive)
	go g.run(ctx, g.interval, g.done, alive)
}

// Started reports whether Start was called without a matching Stop.
func (g *ProcessGuard) Started() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.cancel != nil
}

// Alive reports whether the sweep loop is running. It turns false when the
// loop exits, including after a recovered panic.
func (g *ProcessGuard) Alive() bool {
	alive := g.alive.Load()
	return alive != nil && alive.Load()
}

func (g *ProcessGuard) run(ctx context.Context, interval time.Duration, done chan struct{}, alive *atomic.Bool) {
	defer close(done)
	defer alive.Store(false)
	defer func() {
		if r := recover(); r != nil {
			g.logger.Error("process guard crashed", zap.Any("panic", r))
		}
	}()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	g.sweepAndLog(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.sweepAndLog(ctx)
		}
	}
}

func (g *ProcessGuard) sweepAndLog(ctx context.Context) {
	result := g.Sweep(ctx)
	if len(result.Errors) > 0 {
		g.logger.Debug("sweep finished with errors",
			zap.Int("errors", len(result.Errors)),
			zap.Int64("duration_ms", result.DurationMs))
	}
}

// Sweep runs one guard iteration. Per-process failures are collected in
// the result and never abort the iteration.
func (g *ProcessGuard) Sweep(ctx context.Context) *domain.SweepResult {
	start := time.Now()
	result := &domain.SweepResult{
		TerminatedPIDs: make([]int, 0),
		Errors:         make([]error, 0),
		ExecutedAt:     start,
	}

	rules := *g.rules.Load()
	byName := make(map[string]domain.ProcessRule)
	var windowRules []domain.ProcessRule
	for _, r := range rules {
		if r.IsWindowRule() {
			windowRules = append(windowRules, r)
		} else if r.ProcessName != "" {
			byName[strings.ToLower(r.ProcessName)] = r
		}
	}

	procs, err := g.processManager.List()
	if err != nil {
		g.logger.Warn("failed to enumerate processes", zap.Error(err))
		result.Errors = append(result.Errors, err)
	}

	self := g.processManager.GetCurrentPID()
	for _, p := range procs {
		if ctx.Err() != nil {
			break
		}
		rule, ok := byName[strings.ToLower(p.Name)]
		if !ok || p.PID == self {
			continue
		}

		if rule.ShellArgsOnly {
			args, err := g.processManager.CommandLine(p.PID)
			if err != nil {
				result.Errors = append(result.Errors, &domain.ProcessAccessError{PID: p.PID, Name: p.Name, Op: "cmdline", Err: err})
				continue
			}
			if !IsBrowseInvocation(args) {
				continue
			}
		}

		if err := g.processManager.Terminate(p.PID); err != nil {
			g.logger.Debug("failed to terminate process",
				zap.Int("pid", p.PID),
				zap.String("name", p.Name),
				zap.Error(err))
			result.Errors = append(result.Errors, &domain.ProcessAccessError{PID: p.PID, Name: p.Name, Op: "terminate", Err: err})
			continue
		}

		g.logger.Info("terminated process",
			zap.Int("pid", p.PID),
			zap.String("name", p.Name))
		result.TerminatedPIDs = append(result.TerminatedPIDs, p.PID)
		g.metrics.ProcessTerminated(strings.ToLower(p.Name))
		g.notifyBlocked(p.Name)
	}

	if len(windowRules) > 0 && g.windows != nil && ctx.Err() == nil {
		n, err := g.windows.CloseWindows(windowRules)
		if err != nil && !errors.Is(err, domain.ErrUnsupported) {
			g.logger.Debug("failed to close windows", zap.Error(err))
			result.Errors = append(result.Errors, err)
		}
		if n > 0 {
			g.logger.Info("closed windows", zap.Int("count", n))
		}
		result.ClosedWindows = n
		g.metrics.WindowsClosed(n)
	}

	result.DurationMs = time.Since(start).Milliseconds()
	return result
}

func (g *ProcessGuard) notifyBlocked(name string) {
	if g.notifier == nil || !g.limiter.Allow() {
		return
	}
	g.notifier.Notify(domain.NoticeWarning, "Application blocked",
		fmt.Sprintf("%s is not allowed on this terminal", name))
}

// IsBrowseInvocation reports whether a desktop shell argv opens a browser
// window: any non-empty argument other than /desktop variants. The bare
// desktop instance has none.
func IsBrowseInvocation(argv []string) bool {
	if len(argv) < 2 {
		return false
	}
	for _, a := range argv[1:] {
		a = strings.TrimSpace(a)
		if a != "" && !strings.HasPrefix(strings.ToLower(a), "/desktop") {
			return true
		}
	}
	return false
}
