package versioning

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ent0n29/runcoach/internal/plan"
	"github.com/ent0n29/runcoach/internal/store"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// racingStore lets another writer win the version race before each of the
// first `races` commits.
type racingStore struct {
	*store.InMemoryStore
	races   int
	commits atomic.Int32
}

func (s *racingStore) CommitVersion(ctx context.Context, clientID string, expected int, doc plan.Document) (store.PlanVersion, error) {
	s.commits.Add(1)
	if s.races > 0 {
		s.races--
		if _, err := s.InMemoryStore.CommitVersion(ctx, clientID, expected, plan.Template("Other Writer", 2)); err != nil {
			return store.PlanVersion{}, err
		}
	}
	return s.InMemoryStore.CommitVersion(ctx, clientID, expected, doc)
}

func assertSingleCurrent(t *testing.T, m *Manager, clientID string, wantVersions int) {
	t.Helper()
	history, err := m.History(context.Background(), clientID, 0)
	require.NoError(t, err)
	require.Len(t, history, wantVersions)
	current := 0
	for i, v := range history {
		assert.Equal(t, wantVersions-i, v.Version, "versions must be gap-free, newest first")
		if v.IsCurrent {
			current++
			assert.Equal(t, wantVersions, v.Version, "current must carry the max version")
		}
	}
	assert.Equal(t, 1, current)
}

func TestCommitAssignsSequentialVersions(t *testing.T) {
	m := NewManager(store.NewInMemoryStore(), nil)
	ctx := context.Background()

	_, found, err := m.GetCurrent(ctx, "c1")
	require.NoError(t, err)
	require.False(t, found)

	for want := 1; want <= 3; want++ {
		v, err := m.Commit(ctx, "c1", plan.Template("Half Marathon", 8))
		require.NoError(t, err)
		assert.Equal(t, want, v.Version)
		assert.True(t, v.IsCurrent)
	}
	assertSingleCurrent(t, m, "c1", 3)

	v1, found, err := m.GetVersion(ctx, "c1", 1)
	require.NoError(t, err)
	require.True(t, found)
	assert.False(t, v1.IsCurrent)

	_, found, err = m.GetVersion(ctx, "c1", 9)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestConcurrentCommitsSameClient(t *testing.T) {
	m := NewManager(store.NewInMemoryStore(), nil)
	const writers = 20

	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.Commit(context.Background(), "c1", plan.Template("10K", 4))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assertSingleCurrent(t, m, "c1", writers)
	assert.Equal(t, 0, m.locks.Len())
}

func TestCommitsForDifferentClientsAreIndependent(t *testing.T) {
	m := NewManager(store.NewInMemoryStore(), nil)
	ctx := context.Background()

	unlock, err := m.Lock(ctx, "busy")
	require.NoError(t, err)
	defer unlock()

	done := make(chan error, 1)
	go func() {
		_, err := m.Commit(ctx, "free", plan.Template("5K", 4))
		done <- err
	}()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Commit() for another client blocked on a held lock")
	}
}

func TestCommitRetriesConflictOnce(t *testing.T) {
	s := &racingStore{InMemoryStore: store.NewInMemoryStore(), races: 1}
	m := NewManager(s, nil, WithRetryDelay(0))

	v, err := m.Commit(context.Background(), "c1", plan.Template("Marathon", 16))
	require.NoError(t, err)
	assert.Equal(t, 2, v.Version)
	assert.Equal(t, "Marathon", v.Plan.Meta.Goal)
	assert.EqualValues(t, 2, s.commits.Load())
	assertSingleCurrent(t, m, "c1", 2)
}

func TestCommitSurfacesPersistentConflict(t *testing.T) {
	s := &racingStore{InMemoryStore: store.NewInMemoryStore(), races: 5}
	m := NewManager(s, nil, WithRetryDelay(0))

	_, err := m.Commit(context.Background(), "c1", plan.Template("Marathon", 16))
	require.ErrorIs(t, err, store.ErrConflict)
	assert.EqualValues(t, 2, s.commits.Load())

	current, found, err := m.GetCurrent(context.Background(), "c1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "Other Writer", current.Plan.Meta.Goal)
	assertSingleCurrent(t, m, "c1", 2)
}

func TestCommitRejectsInvalidDocument(t *testing.T) {
	m := NewManager(store.NewInMemoryStore(), nil)
	doc := plan.Template("5K", 2)
	doc.Meta.Goal = ""

	_, err := m.Commit(context.Background(), "c1", doc)
	var verr *plan.ValidationError
	require.True(t, errors.As(err, &verr))

	_, found, err := m.GetCurrent(context.Background(), "c1")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestCommitHooks(t *testing.T) {
	var seen []int
	m := NewManager(store.NewInMemoryStore(), nil,
		WithCommitHook(func(_ context.Context, v store.PlanVersion) error {
			seen = append(seen, v.Version)
			return nil
		}),
		WithCommitHook(func(context.Context, store.PlanVersion) error {
			return errors.New("archive unavailable")
		}),
	)

	_, err := m.Commit(context.Background(), "c1", plan.Template("5K", 4))
	require.NoError(t, err)
	_, err = m.Commit(context.Background(), "c1", plan.Template("5K", 5))
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, seen)
}

func TestCommitHonoursContextWhileWaiting(t *testing.T) {
	m := NewManager(store.NewInMemoryStore(), nil)
	unlock, err := m.Lock(context.Background(), "c1")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = m.Commit(ctx, "c1", plan.Template("5K", 4))
	require.ErrorIs(t, err, context.DeadlineExceeded)

	unlock()
	unlock()
	assert.Equal(t, 0, m.locks.Len())
}
