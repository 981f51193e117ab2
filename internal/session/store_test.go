package session

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hunterwarburton/sage/internal/core"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(filepath.Join(t.TempDir(), "sessions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStoreAppendAndRecent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Append(ctx, core.Turn{SessionID: "s1", Role: core.RoleUser, Content: "hello"}))
	require.NoError(t, store.Append(ctx, core.Turn{SessionID: "s1", Role: core.RoleAssistant, Content: "hi there"}))

	turns, err := store.Recent(ctx, "s1", 10)
	require.NoError(t, err)
	require.Len(t, turns, 2)

	assert.Equal(t, core.RoleUser, turns[0].Role)
	assert.Equal(t, "hello", turns[0].Content)
	assert.Equal(t, core.RoleAssistant, turns[1].Role)
	assert.Equal(t, "s1", turns[1].SessionID)
	assert.False(t, turns[1].CreatedAt.IsZero())
}

func TestStoreUnknownSessionIsEmpty(t *testing.T) {
	store := newTestStore(t)

	turns, err := store.Recent(context.Background(), "never-seen", 5)
	require.NoError(t, err)
	assert.Empty(t, turns)
}

func TestStoreRecentKeepsNewestOldestFirst(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		require.NoError(t, store.Append(ctx, core.Turn{
			SessionID: "s1",
			Role:      core.RoleUser,
			Content:   fmt.Sprintf("turn %d", i),
		}))
	}

	turns, err := store.Recent(ctx, "s1", 3)
	require.NoError(t, err)
	require.Len(t, turns, 3)

	// The three newest turns, oldest of them first.
	assert.Equal(t, "turn 3", turns[0].Content)
	assert.Equal(t, "turn 4", turns[1].Content)
	assert.Equal(t, "turn 5", turns[2].Content)
}

func TestStoreSessionsAreIsolated(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Append(ctx, core.Turn{SessionID: "a", Role: core.RoleUser, Content: "from a"}))
	require.NoError(t, store.Append(ctx, core.Turn{SessionID: "b", Role: core.RoleUser, Content: "from b"}))

	turns, err := store.Recent(ctx, "a", 10)
	require.NoError(t, err)
	require.Len(t, turns, 1)
	assert.Equal(t, "from a", turns[0].Content)
}

func TestStoreSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.db")
	ctx := context.Background()

	store, err := NewStore(path)
	require.NoError(t, err)
	require.NoError(t, store.Append(ctx, core.Turn{SessionID: "s1", Role: core.RoleUser, Content: "durable"}))
	require.NoError(t, store.Close())

	reopened, err := NewStore(path)
	require.NoError(t, err)
	defer reopened.Close()

	turns, err := reopened.Recent(ctx, "s1", 10)
	require.NoError(t, err)
	require.Len(t, turns, 1)
	assert.Equal(t, "durable", turns[0].Content)
}

func TestStoreRejectsInvalidTable(t *testing.T) {
	_, err := NewStore(filepath.Join(t.TempDir(), "sessions.db"), WithTable("drop table; --"))
	require.Error(t, err)
}

func TestStoreLimitZeroIsEmpty(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.Append(ctx, core.Turn{SessionID: "s1", Role: core.RoleUser, Content: "x"}))

	turns, err := store.Recent(ctx, "s1", 0)
	require.NoError(t, err)
	assert.Empty(t, turns)
}

func TestStoreConcurrentAppends(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				err := store.Append(ctx, core.Turn{
					SessionID: fmt.Sprintf("s%d", worker),
					Role:      core.RoleUser,
					Content:   fmt.Sprintf("w%d-%d", worker, j),
					CreatedAt: time.Now(),
				})
				assert.NoError(t, err)
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < 4; i++ {
		turns, err := store.Recent(ctx, fmt.Sprintf("s%d", i), 20)
		require.NoError(t, err)
		assert.Len(t, turns, 10)
	}
}
