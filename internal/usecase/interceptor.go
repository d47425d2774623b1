// Package usecase contains the enforcement leaves driven by the session controller.
package usecase

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/pavkata12/client8/internal/domain"
	"github.com/pavkata12/client8/internal/policy"
)

const (
	defaultInstallTimeout = 2 * time.Second
	defaultJoinTimeout    = 2 * time.Second
)

// Interceptor owns the system-wide key filter and decides each key event
// against the active lockdown profile.
type Interceptor struct {
	filter    domain.KeyFilter
	privilege domain.PrivilegeChecker
	logger    *zap.Logger

	installTimeout time.Duration
	joinTimeout    time.Duration

	// mu serializes Activate and Deactivate; switches never overlap.
	mu     sync.Mutex
	done   chan struct{}
	active atomic.Bool

	profile atomic.Pointer[domain.LockdownProfile]
	mods    atomic.Uint32
	blocked atomic.Uint64
}

// NewInterceptor creates an inactive interceptor.
func NewInterceptor(filter domain.KeyFilter, privilege domain.PrivilegeChecker, logger *zap.Logger) *Interceptor {
	return &Interceptor{
		filter:         filter,
		privilege:      privilege,
		logger:         logger.With(zap.String("component", "interceptor")),
		installTimeout: defaultInstallTimeout,
		joinTimeout:    defaultJoinTimeout,
	}
}

// Activate installs the filter with profile. When already active the old
// filter is fully removed first.
func (i *Interceptor) Activate(profile domain.LockdownProfile) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	elevated, err := i.privilege.Elevated()
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrPermissionDenied, err)
	}
	if !elevated {
		return domain.ErrPermissionDenied
	}

	if i.active.Load() {
		if err := i.stopLocked(&profile); err != nil {
			return fmt.Errorf("%w: %v", domain.ErrHookInstallFailed, err)
		}
	}

	i.profile.Store(&profile)
	i.mods.Store(0)

	ready := make(chan error, 1)
	done := make(chan struct{})
	go i.pump(ready, done)

	select {
	case err := <-ready:
		if err != nil {
			<-done
			if errors.Is(err, domain.ErrUnsupported) {
				return err
			}
			return fmt.Errorf("%w: %v", domain.ErrHookInstallFailed, err)
		}
	case <-time.After(i.installTimeout):
		// A late install must not leave an orphan pump behind.
		go func() {
			if err := <-ready; err == nil {
				i.filter.Wake()
			}
		}()
		return fmt.Errorf("%w: no answer within %s", domain.ErrHookInstallFailed, i.installTimeout)
	}

	i.done = done
	i.active.Store(true)
	i.logger.Info("key filter active",
		zap.String("mode", string(profile.Mode)),
		zap.Int("combos", profile.Blocked.Len()))
	return nil
}

// pump installs, pumps and uninstalls on one locked OS thread. The thread
// is not unlocked, so it is discarded when the goroutine ends.
func (i *Interceptor) pump(ready chan<- error, done chan<- struct{}) {
	runtime.LockOSThread()
	defer close(done)

	if err := i.filter.Install(i.handle); err != nil {
		ready <- err
		return
	}
	ready <- nil

	i.filter.Pump()

	if err := i.filter.Uninstall(); err != nil {
		i.logger.Warn("key filter uninstall failed", zap.Error(err))
	}
}

// Deactivate removes the filter. Calling it while inactive is a no-op.
func (i *Interceptor) Deactivate() error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if !i.active.Load() {
		return nil
	}
	return i.stopLocked(nil)
}

// stopLocked wakes the pump and joins it. A pump that does not exit keeps
// its hook installed, so the interceptor stays active on the same done
// channel and the next call joins it again instead of installing a second
// filter. When next is set the surviving hook enforces it from then on.
func (i *Interceptor) stopLocked(next *domain.LockdownProfile) error {
	i.filter.Wake()

	select {
	case <-i.done:
		i.active.Store(false)
		i.done = nil
		i.logger.Info("key filter removed")
		return nil
	case <-time.After(i.joinTimeout):
		if next != nil {
			i.profile.Store(next)
		}
		i.logger.Error("key filter pump stuck, previous filter still installed",
			zap.Duration("timeout", i.joinTimeout))
		return fmt.Errorf("key filter pump did not exit within %s", i.joinTimeout)
	}
}

// Active reports whether the filter is installed.
func (i *Interceptor) Active() bool {
	return i.active.Load()
}

// Mode returns the mode of the installed profile, or "" when inactive.
func (i *Interceptor) Mode() domain.LockdownMode {
	if !i.active.Load() {
		return ""
	}
	if p := i.profile.Load(); p != nil {
		return p.Mode
	}
	return ""
}

// BlockedCount returns the number of blocked key events since start.
func (i *Interceptor) BlockedCount() uint64 {
	return i.blocked.Load()
}

// handle runs on the pump thread for every key event.
func (i *Interceptor) handle(ev domain.KeyEvent) (decision domain.KeyDecision) {
	defer func() {
		if recover() != nil {
			decision = domain.KeyPass
		}
	}()

	held := domain.ModMask(i.mods.Load())
	if m, ok := policy.ModifierFor(ev.VK); ok {
		if ev.Down {
			held |= m
		} else {
			held &^= m
		}
		i.mods.Store(uint32(held))
	}

	p := i.profile.Load()
	if p == nil || !policy.ShouldBlock(ev.VK, held, *p) {
		return domain.KeyPass
	}
	i.blocked.Add(1)
	return domain.KeyBlock
}
