package versioning

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/ent0n29/runcoach/internal/logging"
	"github.com/ent0n29/runcoach/internal/observability"
	"github.com/ent0n29/runcoach/internal/plan"
	"github.com/ent0n29/runcoach/internal/store"
)

const (
	defaultConflictRetries = 1
	defaultRetryDelay      = 25 * time.Millisecond
)

// CommitHook runs after a version is durably committed. Hook errors are
// logged and never undo the commit.
type CommitHook func(ctx context.Context, v store.PlanVersion) error

type Option func(*Manager)

func WithCommitHook(h CommitHook) Option {
	return func(m *Manager) {
		if h != nil {
			m.hooks = append(m.hooks, h)
		}
	}
}

func WithRetryDelay(d time.Duration) Option {
	return func(m *Manager) {
		if d >= 0 {
			m.retryDelay = d
		}
	}
}

// Manager owns every mutation of a client's plan lineage.
type Manager struct {
	plans      store.PlanStore
	locks      *KeyedMutex
	metrics    *observability.Metrics
	hooks      []CommitHook
	retries    uint64
	retryDelay time.Duration
	log        zerolog.Logger
}

func NewManager(plans store.PlanStore, metrics *observability.Metrics, opts ...Option) *Manager {
	m := &Manager{
		plans:      plans,
		locks:      NewKeyedMutex(),
		metrics:    metrics,
		retries:    defaultConflictRetries,
		retryDelay: defaultRetryDelay,
		log:        logging.Component("versioning"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Commit stores doc as the client's next current version. Commits for one
// client are serialized in-process; a version race with another writer of
// the same store is retried once with a fresh read before ErrConflict is
// returned.
func (m *Manager) Commit(ctx context.Context, clientID string, doc plan.Document) (store.PlanVersion, error) {
	if err := plan.Validate(doc); err != nil {
		return store.PlanVersion{}, err
	}

	unlock, err := m.locks.Lock(ctx, clientID)
	if err != nil {
		return store.PlanVersion{}, err
	}

	attempt := func() (store.PlanVersion, error) {
		latest, err := m.plans.LatestVersion(ctx, clientID)
		if err != nil {
			return store.PlanVersion{}, backoff.Permanent(err)
		}
		v, err := m.plans.CommitVersion(ctx, clientID, latest, doc)
		if err != nil {
			if errors.Is(err, store.ErrConflict) {
				m.metrics.ObserveConflict()
				m.log.Warn().Str("client_id", clientID).Int("expected", latest).Msg("plan version conflict")
				return store.PlanVersion{}, err
			}
			return store.PlanVersion{}, backoff.Permanent(err)
		}
		return v, nil
	}
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(m.retryDelay), m.retries),
		ctx,
	)
	v, err := backoff.RetryWithData(attempt, policy)
	unlock()
	if err != nil {
		return store.PlanVersion{}, fmt.Errorf("commit plan: %w", err)
	}

	m.metrics.ObserveCommit()
	for _, hook := range m.hooks {
		if err := hook(ctx, v); err != nil {
			m.log.Warn().Err(err).Str("client_id", clientID).Int("version", v.Version).Msg("plan commit hook failed")
		}
	}
	return v, nil
}

// GetCurrent returns the client's current version. A client without a plan
// yields found=false and no error.
func (m *Manager) GetCurrent(ctx context.Context, clientID string) (store.PlanVersion, bool, error) {
	return found(m.plans.CurrentVersion(ctx, clientID))
}

// GetVersion looks up one historical version by number.
func (m *Manager) GetVersion(ctx context.Context, clientID string, version int) (store.PlanVersion, bool, error) {
	return found(m.plans.GetVersion(ctx, clientID, version))
}

// History lists up to limit versions, newest first.
func (m *Manager) History(ctx context.Context, clientID string, limit int) ([]store.PlanVersion, error) {
	return m.plans.ListVersions(ctx, clientID, limit)
}

// Lock takes the client's commit lock so other lineage changes such as a
// reset cannot interleave with a commit.
func (m *Manager) Lock(ctx context.Context, clientID string) (func(), error) {
	return m.locks.Lock(ctx, clientID)
}

func found(v store.PlanVersion, err error) (store.PlanVersion, bool, error) {
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return store.PlanVersion{}, false, nil
		}
		return store.PlanVersion{}, false, err
	}
	return v, true, nil
}
