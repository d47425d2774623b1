package usecase

import (
	"sync"

	"go.uber.org/zap"

	"github.com/pavkata12/client8/internal/domain"
	"github.com/pavkata12/client8/internal/metrics"
)

// RestrictionEnforcer writes machine-wide restriction flags and restores
// the values they replaced. The first baseline of a cycle is never lost.
type RestrictionEnforcer struct {
	store   domain.PolicyStore
	journal domain.SnapshotJournal
	metrics *metrics.Metrics
	logger  *zap.Logger

	mu        sync.Mutex
	snapshots map[string]domain.PolicySnapshot
}

// NewRestrictionEnforcer creates an enforcer. Snapshots left in the journal
// by an earlier run are loaded so they can still be restored. journal may be nil.
func NewRestrictionEnforcer(store domain.PolicyStore, journal domain.SnapshotJournal, m *metrics.Metrics, logger *zap.Logger) *RestrictionEnforcer {
	e := &RestrictionEnforcer{
		store:     store,
		journal:   journal,
		metrics:   m,
		logger:    logger.With(zap.String("component", "restrictions")),
		snapshots: make(map[string]domain.PolicySnapshot),
	}

	if journal != nil {
		snaps, err := journal.LoadAll()
		if err != nil {
			e.logger.Warn("failed to load snapshot journal", zap.Error(err))
		}
		for k, s := range snaps {
			e.snapshots[k] = s
		}
		if len(snaps) > 0 {
			e.logger.Info("recovered snapshots from journal", zap.Int("count", len(snaps)))
		}
	}
	return e
}

// Apply snapshots each change once, then writes its desired value.
// Failures are collected and the remaining changes are still attempted.
func (e *RestrictionEnforcer) Apply(changes []domain.PolicyChange) *domain.RestrictionResult {
	e.mu.Lock()
	defer e.mu.Unlock()

	result := &domain.RestrictionResult{}
	for _, c := range changes {
		key := c.Key()

		if _, ok := e.snapshots[key]; !ok {
			prior, exists, err := e.store.Read(c.StorePath, c.ValueName)
			if err != nil {
				e.fail(result, c, "read", err)
				continue
			}
			snap := domain.PolicySnapshot{HadPrior: exists, Prior: prior}
			if e.journal != nil {
				if err := e.journal.Save(key, snap); err != nil {
					e.logger.Warn("failed to journal snapshot", zap.String("change", key), zap.Error(err))
				}
			}
			e.snapshots[key] = snap
		}

		if err := e.store.Write(c.StorePath, c.ValueName, c.Desired); err != nil {
			e.fail(result, c, "write", err)
			continue
		}
		result.Changed = append(result.Changed, key)
	}

	e.logger.Info("restrictions applied",
		zap.Int("changed", len(result.Changed)),
		zap.Int("errors", len(result.Errors)))
	return result
}

// Remove restores every snapshotted change: prior values are written back,
// absent priors are deleted. A restored change forgets its snapshot.
func (e *RestrictionEnforcer) Remove(changes []domain.PolicyChange) *domain.RestrictionResult {
	e.mu.Lock()
	defer e.mu.Unlock()

	result := &domain.RestrictionResult{}
	for _, c := range changes {
		key := c.Key()
		snap, ok := e.snapshots[key]
		if !ok {
			result.Skipped = append(result.Skipped, key)
			continue
		}

		var err error
		op := "restore"
		if snap.HadPrior {
			err = e.store.Write(c.StorePath, c.ValueName, snap.Prior)
		} else {
			op = "delete"
			err = e.store.Delete(c.StorePath, c.ValueName)
		}
		if err != nil {
			e.fail(result, c, op, err)
			continue
		}

		delete(e.snapshots, key)
		if e.journal != nil {
			if err := e.journal.Delete(key); err != nil {
				e.logger.Warn("failed to drop journaled snapshot", zap.String("change", key), zap.Error(err))
			}
		}
		result.Changed = append(result.Changed, key)
	}

	e.logger.Info("restrictions removed",
		zap.Int("restored", len(result.Changed)),
		zap.Int("errors", len(result.Errors)))
	return result
}

// Snapshot returns the recorded baseline of a change.
func (e *RestrictionEnforcer) Snapshot(c domain.PolicyChange) (domain.PolicySnapshot, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.snapshots[c.Key()]
	return s, ok
}

// Pending returns the number of changes that still have a baseline to restore.
func (e *RestrictionEnforcer) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.snapshots)
}

func (e *RestrictionEnforcer) fail(result *domain.RestrictionResult, c domain.PolicyChange, op string, err error) {
	e.logger.Warn("policy change failed",
		zap.String("op", op),
		zap.String("change", c.Key()),
		zap.Error(err))
	e.metrics.PolicyFailure(op)
	result.Errors = append(result.Errors, &domain.PolicyWriteError{Change: c, Op: op, Err: err})
}
