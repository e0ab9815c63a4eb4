package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ent0n29/runcoach/internal/logging"
	"github.com/ent0n29/runcoach/internal/observability"
	"github.com/ent0n29/runcoach/internal/store"
)

var ErrInvalidClient = errors.New("client id is required")

// Purger deletes a client's messages and plan versions in one transaction.
type Purger interface {
	Purge(ctx context.Context, clientID string) (store.ResetResult, error)
}

// Locker serializes lineage changes for one client.
type Locker interface {
	Lock(ctx context.Context, clientID string) (func(), error)
}

// ResetHook runs after a successful purge. Errors are logged only.
type ResetHook func(ctx context.Context, clientID string) error

// Resetter wipes a client's conversation and plan lineage.
type Resetter struct {
	mu      sync.RWMutex
	purger  Purger
	locker  Locker
	metrics *observability.Metrics
	onReset []ResetHook
	log     zerolog.Logger
}

func NewResetter(purger Purger, locker Locker, metrics *observability.Metrics) *Resetter {
	return &Resetter{
		purger:  purger,
		locker:  locker,
		metrics: metrics,
		log:     logging.Component("session"),
	}
}

func (r *Resetter) AddResetHook(hook ResetHook) {
	if hook == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onReset = append(r.onReset, hook)
}

// Reset deletes every message and plan version for the client. It holds the
// client's commit lock so no plan commit can interleave, and it is idempotent:
// resetting an unknown or already-reset client reports zero counts.
func (r *Resetter) Reset(ctx context.Context, clientID string) (ResetResponse, error) {
	clientID = strings.TrimSpace(clientID)
	if clientID == "" {
		return ResetResponse{}, ErrInvalidClient
	}

	if r.locker != nil {
		unlock, err := r.locker.Lock(ctx, clientID)
		if err != nil {
			return ResetResponse{}, err
		}
		defer unlock()
	}

	res, err := r.purger.Purge(ctx, clientID)
	if err != nil {
		return ResetResponse{}, fmt.Errorf("reset session: %w", err)
	}
	r.metrics.ObserveReset()

	r.mu.RLock()
	hooks := append([]ResetHook(nil), r.onReset...)
	r.mu.RUnlock()
	for _, hook := range hooks {
		if err := hook(ctx, clientID); err != nil {
			r.log.Warn().Err(err).Str("client_id", clientID).Msg("reset hook failed")
		}
	}

	r.log.Info().
		Str("client_id", clientID).
		Int64("messages_deleted", res.MessagesDeleted).
		Int64("plans_deleted", res.PlansDeleted).
		Msg("session reset")

	return ResetResponse{
		ClientID:        clientID,
		MessagesDeleted: res.MessagesDeleted,
		PlansDeleted:    res.PlansDeleted,
		ResetAt:         time.Now().UTC(),
	}, nil
}
