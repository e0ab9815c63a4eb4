package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ent0n29/runcoach/internal/plan"
)

// InMemoryStore is a simple in-process store for local/dev use.
type InMemoryStore struct {
	mu       sync.RWMutex
	messages map[string][]Message
	versions map[string][]storedVersion
}

type storedVersion struct {
	PlanVersion
	body []byte
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		messages: make(map[string][]Message),
		versions: make(map[string][]storedVersion),
	}
}

func (s *InMemoryStore) Mode() string { return "memory" }

func (s *InMemoryStore) AppendMessage(_ context.Context, clientID string, role Role, content string) (Message, error) {
	msg := Message{
		ID:        uuid.NewString(),
		ClientID:  clientID,
		Role:      role,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
	s.mu.Lock()
	s.messages[clientID] = append(s.messages[clientID], msg)
	s.mu.Unlock()
	return msg, nil
}

func (s *InMemoryStore) ListMessages(_ context.Context, clientID string) ([]Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	arr := s.messages[clientID]
	if len(arr) == 0 {
		return nil, nil
	}
	out := make([]Message, len(arr))
	copy(out, arr)
	return out, nil
}

func (s *InMemoryStore) LatestVersion(_ context.Context, clientID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.versions[clientID]), nil
}

func (s *InMemoryStore) CommitVersion(_ context.Context, clientID string, expected int, doc plan.Document) (PlanVersion, error) {
	// Keep a private encoded copy so callers cannot mutate history.
	body, err := encodePlan(doc)
	if err != nil {
		return PlanVersion{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	arr := s.versions[clientID]
	if len(arr) != expected {
		return PlanVersion{}, conflictError(clientID, expected, len(arr))
	}
	if n := len(arr); n > 0 {
		arr[n-1].IsCurrent = false
	}
	v := storedVersion{
		PlanVersion: PlanVersion{
			ClientID:  clientID,
			Version:   expected + 1,
			IsCurrent: true,
			CreatedAt: time.Now().UTC(),
		},
		body: body,
	}
	s.versions[clientID] = append(arr, v)
	return v.materialize()
}

func (s *InMemoryStore) CurrentVersion(_ context.Context, clientID string) (PlanVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	arr := s.versions[clientID]
	if len(arr) == 0 {
		return PlanVersion{}, ErrNotFound
	}
	return arr[len(arr)-1].materialize()
}

func (s *InMemoryStore) GetVersion(_ context.Context, clientID string, version int) (PlanVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	arr := s.versions[clientID]
	if version < 1 || version > len(arr) {
		return PlanVersion{}, ErrNotFound
	}
	return arr[version-1].materialize()
}

func (s *InMemoryStore) ListVersions(_ context.Context, clientID string, limit int) ([]PlanVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	arr := s.versions[clientID]
	if limit <= 0 || limit > len(arr) {
		limit = len(arr)
	}
	out := make([]PlanVersion, 0, limit)
	for i := len(arr) - 1; i >= len(arr)-limit; i-- {
		v, err := arr[i].materialize()
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (s *InMemoryStore) Purge(_ context.Context, clientID string) (ResetResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res := ResetResult{
		MessagesDeleted: int64(len(s.messages[clientID])),
		PlansDeleted:    int64(len(s.versions[clientID])),
	}
	delete(s.messages, clientID)
	delete(s.versions, clientID)
	return res, nil
}

func (s *InMemoryStore) Ping(context.Context) error { return nil }

func (s *InMemoryStore) Close() error { return nil }

func (v storedVersion) materialize() (PlanVersion, error) {
	doc, err := decodePlan(v.body)
	if err != nil {
		return PlanVersion{}, err
	}
	out := v.PlanVersion
	out.Plan = doc
	return out, nil
}
