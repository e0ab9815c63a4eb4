package session

import (
	"context"
	"errors"
	"testing"

	"github.com/ent0n29/runcoach/internal/plan"
	"github.com/ent0n29/runcoach/internal/store"
	"github.com/ent0n29/runcoach/internal/versioning"
)

func seed(t *testing.T, st *store.InMemoryStore, versions *versioning.Manager, clientID string) {
	t.Helper()
	ctx := context.Background()
	for _, content := range []string{"make me a plan", "Here is your plan."} {
		role := store.RoleUser
		if content != "make me a plan" {
			role = store.RoleAssistant
		}
		if _, err := st.AppendMessage(ctx, clientID, role, content); err != nil {
			t.Fatalf("AppendMessage() error = %v", err)
		}
	}
	for _, goal := range []string{"5K", "10K"} {
		if _, err := versions.Commit(ctx, clientID, plan.Template(goal, 4)); err != nil {
			t.Fatalf("Commit() error = %v", err)
		}
	}
}

func TestResetIsIdempotent(t *testing.T) {
	ctx := context.Background()
	st := store.NewInMemoryStore()
	versions := versioning.NewManager(st, nil)
	seed(t, st, versions, "c1")
	seed(t, st, versions, "c2")

	r := NewResetter(st, versions, nil)
	got, err := r.Reset(ctx, "c1")
	if err != nil {
		t.Fatalf("Reset() error = %v", err)
	}
	if got.MessagesDeleted != 2 || got.PlansDeleted != 2 {
		t.Fatalf("Reset() = %+v, want 2 messages and 2 plans", got)
	}

	got, err = r.Reset(ctx, "c1")
	if err != nil {
		t.Fatalf("second Reset() error = %v", err)
	}
	if got.MessagesDeleted != 0 || got.PlansDeleted != 0 {
		t.Fatalf("second Reset() = %+v, want zero counts", got)
	}

	if _, found, _ := versions.GetCurrent(ctx, "c1"); found {
		t.Fatalf("GetCurrent(c1) found a plan after reset")
	}
	if _, found, _ := versions.GetCurrent(ctx, "c2"); !found {
		t.Fatalf("GetCurrent(c2) lost its plan")
	}
}

func TestResetRestartsVersionNumbering(t *testing.T) {
	ctx := context.Background()
	st := store.NewInMemoryStore()
	versions := versioning.NewManager(st, nil)
	seed(t, st, versions, "c1")

	if _, err := NewResetter(st, versions, nil).Reset(ctx, "c1"); err != nil {
		t.Fatalf("Reset() error = %v", err)
	}
	v, err := versions.Commit(ctx, "c1", plan.Template("Marathon", 4))
	if err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	if v.Version != 1 {
		t.Fatalf("Version = %d, want 1", v.Version)
	}
}

func TestResetRunsHooks(t *testing.T) {
	st := store.NewInMemoryStore()
	r := NewResetter(st, nil, nil)

	var calls []string
	r.AddResetHook(func(ctx context.Context, clientID string) error {
		calls = append(calls, clientID)
		return errors.New("archive offline")
	})

	if _, err := r.Reset(context.Background(), "c9"); err != nil {
		t.Fatalf("Reset() error = %v, want hook failure ignored", err)
	}
	if len(calls) != 1 || calls[0] != "c9" {
		t.Fatalf("hook calls = %v, want [c9]", calls)
	}
}

func TestResetRequiresClient(t *testing.T) {
	r := NewResetter(store.NewInMemoryStore(), nil, nil)
	if _, err := r.Reset(context.Background(), " "); !errors.Is(err, ErrInvalidClient) {
		t.Fatalf("Reset() error = %v, want ErrInvalidClient", err)
	}
}
