package history

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemoryStore_Seeded(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemoryStore()

	recs, err := s.All(ctx, Forward, "", "", 0)
	require.NoError(t, err)
	require.Equal(t, DefaultCommands, Commands(recs))

	recs, err = s.All(ctx, Forward, "alice", "h", 0)
	require.NoError(t, err)
	require.Empty(t, recs, "seeds belong to the ownerless namespace only")
}

func TestMemoryStore_Unpaged(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemoryStore()

	for _, page := range []int{1, 2, -1} {
		recs, err := s.All(ctx, Forward, "", "", page)
		require.NoError(t, err)
		require.NotNil(t, recs)
		require.Empty(t, recs)

		recs, err = s.Filter(ctx, "cd", Reverse, "", "", page)
		require.NoError(t, err)
		require.Empty(t, recs)
	}
}

func TestMemoryStore_UpsertKeepsPosition(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemoryStore()

	_, err := s.Add(ctx, "pwd", "", "", map[string]any{"n": 1})
	require.NoError(t, err)

	recs, err := s.All(ctx, Reverse, "", "", 0)
	require.NoError(t, err)
	require.Equal(t, []string{"cat /proc/cpuinfo", "echo hi", "pwd", "cd"}, Commands(recs))
	require.Equal(t, 1, recs[2].Meta["n"])
}

func TestMemoryStore_FilterIsCaseSensitiveSubstring(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemoryStore()
	_, err := s.Add(ctx, "Echo HI", "", "", nil)
	require.NoError(t, err)

	recs, err := s.Filter(ctx, "hi", Forward, "", "", 0)
	require.NoError(t, err)
	require.Equal(t, []string{"echo hi"}, Commands(recs))
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemoryStore()
	id, err := s.Add(ctx, "top", "alice", "h", map[string]any{"a": "b"})
	require.NoError(t, err)

	rec, err := s.Get(ctx, id, "alice", "h")
	require.NoError(t, err)
	rec.Meta["a"] = "mutated"

	again, err := s.Get(ctx, id, "alice", "h")
	require.NoError(t, err)
	require.Equal(t, "b", again.Meta["a"])
}
