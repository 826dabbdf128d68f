package history

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kuitang/cmdhist/internal/db/testutil"
	"github.com/kuitang/cmdhist/internal/errs"
	"github.com/kuitang/cmdhist/internal/testdb"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

var runCounter atomic.Int64

// tickingClock returns strictly increasing timestamps.
func tickingClock() func() time.Time {
	var n atomic.Int64
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return func() time.Time {
		return base.Add(time.Duration(n.Add(1)) * time.Millisecond)
	}
}

type backend struct {
	name string
	// caseFold reports whether Filter matches case-insensitively.
	caseFold bool
	open     func(t testing.TB) Store
	openIn   func(root string) (Store, error)
}

func backends() []backend {
	return []backend{
		{
			name: "memory",
			open: func(testing.TB) Store { return NewMemoryStore() },
			openIn: func(string) (Store, error) {
				return NewMemoryStore(), nil
			},
		},
		{
			name:     "indexed",
			caseFold: true,
			open: func(t testing.TB) Store {
				s := NewIndexedStore(testdb.NewManager(t), 50)
				s.now = tickingClock()
				return s
			},
			openIn: func(root string) (Store, error) {
				mgr, err := testdb.NewManagerIn(fmt.Sprintf("%s/run-%d", root, runCounter.Add(1)))
				if err != nil {
					return nil, err
				}
				s := NewIndexedStore(mgr, 50)
				s.now = tickingClock()
				return s, nil
			},
		},
	}
}

func mustOpenIn(t *rapid.T, b backend, root string) Store {
	s, err := b.openIn(root)
	if err != nil {
		t.Fatalf("open %s store: %v", b.name, err)
	}
	return s
}

// allPages reads every page until the first empty one.
func allPages(t testing.TB, s Store, order Order, owner string) []Record {
	t.Helper()
	var out []Record
	for page := 0; page < 1000; page++ {
		recs, err := s.All(context.Background(), order, owner, "h", page)
		require.NoError(t, err)
		if len(recs) == 0 {
			return out
		}
		out = append(out, recs...)
	}
	t.Fatalf("paging never terminated")
	return nil
}

// =============================================================================
// Properties, run against every backend
// =============================================================================

func testStore_IdempotentUpsert_Properties(t *rapid.T, b backend, root string) {
	s := mustOpenIn(t, b, root)
	defer s.Close()
	ctx := context.Background()

	owner := testutil.ValidOwner().Draw(t, "owner")
	cmd := testutil.ArbitraryCommand().Draw(t, "cmd")
	times := rapid.IntRange(2, 5).Draw(t, "times")

	var firstID string
	for i := 0; i < times; i++ {
		id, err := s.Add(ctx, cmd, owner, "10.0.0.1", map[string]any{fmt.Sprintf("k%d", i): float64(i)})
		if err != nil {
			t.Fatalf("Add failed: %v", err)
		}
		if i == 0 {
			firstID = id
		} else if id != firstID {
			t.Fatalf("re-add changed id: %s != %s", id, firstID)
		}
	}
	if firstID != ContentID(cmd) {
		t.Fatalf("id is not the content hash")
	}

	recs, err := s.All(ctx, Forward, owner, "10.0.0.1", 0)
	if err != nil {
		t.Fatalf("All failed: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("expected exactly one record after %d adds, got %d", times, len(recs))
	}
	if len(recs[0].Meta) != times {
		t.Fatalf("meta was not merged: %v", recs[0].Meta)
	}
}

func TestStore_IdempotentUpsert_Properties(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			root := t.TempDir()
			rapid.Check(t, func(rt *rapid.T) { testStore_IdempotentUpsert_Properties(rt, b, root) })
		})
	}
}

func testStore_ReverseMirrorsForward_Properties(t *rapid.T, b backend, root string) {
	s := mustOpenIn(t, b, root)
	defer s.Close()
	ctx := context.Background()

	owner := testutil.ValidOwner().Draw(t, "owner")
	cmds := rapid.SliceOfNDistinct(testutil.ShellCommand(), 1, 30, func(s string) string { return s }).Draw(t, "cmds")
	for _, c := range cmds {
		if _, err := s.Add(ctx, c, owner, "h", nil); err != nil {
			t.Fatalf("Add failed: %v", err)
		}
	}

	fwd, err := s.All(ctx, Forward, owner, "h", 0)
	if err != nil {
		t.Fatalf("All failed: %v", err)
	}
	rev, err := s.All(ctx, Reverse, owner, "h", 0)
	if err != nil {
		t.Fatalf("All(r) failed: %v", err)
	}
	got := Commands(fwd)
	if !slices.Equal(got, cmds) {
		t.Fatalf("forward order is not insertion order:\n got %q\nwant %q", got, cmds)
	}
	mirrored := Commands(rev)
	slices.Reverse(mirrored)
	if !slices.Equal(got, mirrored) {
		t.Fatalf("reverse is not the mirror of forward:\nfwd %q\nrev %q", got, Commands(rev))
	}
}

func TestStore_ReverseMirrorsForward_Properties(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			root := t.TempDir()
			rapid.Check(t, func(rt *rapid.T) { testStore_ReverseMirrorsForward_Properties(rt, b, root) })
		})
	}
}

func testStore_FilterSoundness_Properties(t *rapid.T, b backend, root string) {
	s := mustOpenIn(t, b, root)
	defer s.Close()
	ctx := context.Background()

	owner := testutil.ValidOwner().Draw(t, "owner")
	cmds := rapid.SliceOfNDistinct(testutil.ArbitraryCommand(), 1, 20, func(s string) string { return s }).Draw(t, "cmds")
	for _, c := range cmds {
		if _, err := s.Add(ctx, c, owner, "h", nil); err != nil {
			t.Fatalf("Add failed: %v", err)
		}
	}
	term := rapid.OneOf(testutil.ArbitrarySearchQuery(), rapid.StringMatching(`[a-z/ -]{1,3}`)).Draw(t, "term")
	order := rapid.SampledFrom([]Order{Forward, Reverse}).Draw(t, "order")

	recs, err := s.Filter(ctx, term, order, owner, "h", 0)
	if err != nil {
		t.Fatalf("Filter failed: %v", err)
	}
	for _, r := range recs {
		haystack, needle := r.Command, term
		if b.caseFold {
			haystack, needle = strings.ToLower(haystack), strings.ToLower(needle)
		}
		if !strings.Contains(haystack, needle) {
			t.Fatalf("Filter(%q) returned %q which lacks the term", term, r.Command)
		}
	}
}

func TestStore_FilterSoundness_Properties(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			root := t.TempDir()
			rapid.Check(t, func(rt *rapid.T) { testStore_FilterSoundness_Properties(rt, b, root) })
		})
	}
}

func testStore_PagingExhaustsMonotonically_Properties(t *rapid.T, b backend, root string) {
	s := mustOpenIn(t, b, root)
	defer s.Close()
	ctx := context.Background()

	owner := testutil.ValidOwner().Draw(t, "owner")
	n := rapid.IntRange(0, 120).Draw(t, "n")
	for i := 0; i < n; i++ {
		if _, err := s.Add(ctx, fmt.Sprintf("echo %d", i), owner, "h", nil); err != nil {
			t.Fatalf("Add failed: %v", err)
		}
	}

	seenEmpty := false
	total := 0
	for page := 0; page < 6; page++ {
		recs, err := s.All(ctx, Forward, owner, "h", page)
		if err != nil {
			t.Fatalf("All(page=%d) failed: %v", page, err)
		}
		if seenEmpty && len(recs) > 0 {
			t.Fatalf("page %d is non-empty after an empty page", page)
		}
		if len(recs) == 0 {
			seenEmpty = true
		}
		total += len(recs)
	}
	if !seenEmpty {
		t.Fatalf("paging never reached an empty page")
	}
	if total != n {
		t.Fatalf("pages returned %d records, stored %d", total, n)
	}
}

func TestStore_PagingExhaustsMonotonically_Properties(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			if b.name == "memory" {
				t.Skip("memory store is unpaged; covered by TestMemoryStore_Unpaged")
			}
			root := t.TempDir()
			rapid.Check(t, func(rt *rapid.T) { testStore_PagingExhaustsMonotonically_Properties(rt, b, root) })
		})
	}
}

func testStore_ReservedMetaStripped_Properties(t *rapid.T, b backend, root string) {
	s := mustOpenIn(t, b, root)
	defer s.Close()
	ctx := context.Background()

	owner := testutil.ValidOwner().Draw(t, "owner")
	cmd := testutil.ShellCommand().Draw(t, "cmd")
	id, err := s.Add(ctx, cmd, owner, "origin", nil)
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	meta := map[string]any{
		"command":  "rm -rf /",
		"username": "mallory",
		"host":     "evil",
		"note":     rapid.StringMatching(`[a-z]{1,10}`).Draw(t, "note"),
	}
	if err := Annotate(ctx, s, id, owner, "other", meta); err != nil {
		t.Fatalf("Annotate failed: %v", err)
	}

	rec, err := s.Get(ctx, id, owner, "origin")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if rec.Command != cmd || rec.Username != owner || rec.Host != "origin" {
		t.Fatalf("reserved fields overwritten: %+v", rec)
	}
	for _, k := range []string{"command", "username", "host"} {
		if _, ok := rec.Meta[k]; ok {
			t.Fatalf("reserved key %q leaked into meta: %v", k, rec.Meta)
		}
	}
	if rec.Meta["note"] != meta["note"] {
		t.Fatalf("annotation lost: %v", rec.Meta)
	}
}

func TestStore_ReservedMetaStripped_Properties(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			root := t.TempDir()
			rapid.Check(t, func(rt *rapid.T) { testStore_ReservedMetaStripped_Properties(rt, b, root) })
		})
	}
}

// =============================================================================
// Scenarios, run against every backend
// =============================================================================

func TestStore_GetDeleteGet(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			ctx := context.Background()
			s := b.open(t)

			id, err := s.Add(ctx, "uname -a", "alice", "1.2.3.4", nil)
			require.NoError(t, err)

			rec, err := s.Get(ctx, id, "alice", "1.2.3.4")
			require.NoError(t, err)
			require.Equal(t, id, rec.ID)
			require.Equal(t, "uname -a", rec.Command)

			require.NoError(t, s.Delete(ctx, id, "alice", "1.2.3.4"))

			_, err = s.Get(ctx, id, "alice", "1.2.3.4")
			require.True(t, errs.Is(err, errs.NotFound), "get after delete: %v", err)

			err = s.Delete(ctx, id, "alice", "1.2.3.4")
			require.True(t, errs.Is(err, errs.NotFound), "second delete: %v", err)
		})
	}
}

func TestStore_CPUInfoScenario(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			ctx := context.Background()
			s := b.open(t)

			_, err := s.Add(ctx, "cat /proc/cpuinfo", "alice", "1.2.3.4", nil)
			require.NoError(t, err)

			recs, err := s.Filter(ctx, "cpuinfo", Forward, "alice", "1.2.3.4", 0)
			require.NoError(t, err)
			require.Len(t, recs, 1)
			require.Equal(t, "cat /proc/cpuinfo", recs[0].Command)
		})
	}
}

func TestStore_OwnerIsolation(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			ctx := context.Background()
			s := b.open(t)

			aliceID, err := s.Add(ctx, "ls", "alice", "a-host", map[string]any{"who": "alice"})
			require.NoError(t, err)
			bobID, err := s.Add(ctx, "ls", "bob", "b-host", map[string]any{"who": "bob"})
			require.NoError(t, err)
			require.Equal(t, aliceID, bobID, "ids are content-derived")

			recs, err := s.Filter(ctx, "ls", Forward, "alice", "a-host", 0)
			require.NoError(t, err)
			require.Len(t, recs, 1)
			require.Equal(t, "alice", recs[0].Username)
			require.Equal(t, "alice", recs[0].Meta["who"])

			require.NoError(t, s.Delete(ctx, bobID, "bob", "b-host"))
			rec, err := s.Get(ctx, aliceID, "alice", "a-host")
			require.NoError(t, err, "deleting bob's record must not touch alice's")
			require.Equal(t, "ls", rec.Command)
		})
	}
}

func TestStore_ConcurrentOwners(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			ctx := context.Background()
			s := b.open(t)

			owners := []string{"alice", "bob", "carol", "dave"}
			done := make(chan error, len(owners))
			for _, owner := range owners {
				go func(owner string) {
					for i := 0; i < 20; i++ {
						if _, err := s.Add(ctx, fmt.Sprintf("echo %s %d", owner, i), owner, "h", nil); err != nil {
							done <- err
							return
						}
					}
					done <- nil
				}(owner)
			}
			for range owners {
				require.NoError(t, <-done)
			}
			for _, owner := range owners {
				recs := allPages(t, s, Forward, owner)
				require.Len(t, recs, 20)
				for _, r := range recs {
					require.Contains(t, r.Command, owner)
				}
			}
		})
	}
}

// =============================================================================
// Package-level helpers
// =============================================================================

func TestContentID_NoCollisionsOnLargeSample(t *testing.T) {
	t.Parallel()
	const n = 50000
	seen := make(map[string]string, n)
	for i := 0; i < n; i++ {
		cmd := fmt.Sprintf("echo %d", i)
		id := ContentID(cmd)
		require.Len(t, id, 64)
		if prev, ok := seen[id]; ok {
			t.Fatalf("collision between %q and %q", prev, cmd)
		}
		seen[id] = cmd
	}
	require.Equal(t, ContentID("ls"), ContentID("ls"))
	require.NotEqual(t, ContentID("ls"), ContentID("ls "))
}

func TestParseOrder(t *testing.T) {
	t.Parallel()
	o, err := ParseOrder("")
	require.NoError(t, err)
	require.Equal(t, Forward, o)

	o, err = ParseOrder("r")
	require.NoError(t, err)
	require.Equal(t, Reverse, o)

	_, err = ParseOrder("desc")
	require.True(t, errs.Is(err, errs.InvalidArgument))
}

func TestAddBatch_RejectsMalformedBeforeWriting(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemoryStore()

	_, err := AddBatch(ctx, s, nil, "alice", "h")
	require.True(t, errs.Is(err, errs.InvalidArgument))

	_, err = AddBatch(ctx, s, []string{"ok", ""}, "alice", "h")
	require.True(t, errs.Is(err, errs.InvalidArgument))
	recs, err := s.All(ctx, Forward, "alice", "h", 0)
	require.NoError(t, err)
	require.Empty(t, recs, "no partial application")

	_, err = AddBatch(ctx, s, []string{"ok", "for f in *; do\n  echo $f\ndone"}, "alice", "h")
	require.True(t, errs.Is(err, errs.InvalidArgument), "multi-line commands split on export: %v", err)
	recs, err = s.All(ctx, Forward, "alice", "h", 0)
	require.NoError(t, err)
	require.Empty(t, recs)

	ids, err := AddBatch(ctx, s, []string{"b", "a", "b"}, "alice", "h")
	require.NoError(t, err)
	require.Equal(t, []string{ContentID("b"), ContentID("a"), ContentID("b")}, ids)
}

func TestAnnotate(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemoryStore()

	err := Annotate(ctx, s, ContentID("missing"), "alice", "h", map[string]any{"x": 1})
	require.True(t, errs.Is(err, errs.NotFound))

	id, err := s.Add(ctx, "make", "alice", "h", nil)
	require.NoError(t, err)
	err = Annotate(ctx, s, id, "alice", "h", map[string]any{"host": "x"})
	require.True(t, errs.Is(err, errs.InvalidArgument), "only reserved keys is an empty annotation")
}

func TestScope_SearchAndPage(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	scope := Scope{Store: NewMemoryStore(), Username: "alice", Host: "h"}

	require.NoError(t, scope.BulkAdd(ctx, []string{"git status", "ls", "git push"}))

	got, err := scope.Search(ctx, "git", Reverse, 0)
	require.NoError(t, err)
	require.Equal(t, []string{"git push", "git status"}, got)

	got, err = scope.Search(ctx, "  ", Forward, 0)
	require.NoError(t, err)
	require.Equal(t, []string{"git status", "ls", "git push"}, got)

	got, err = scope.Page(ctx, 1)
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestScope_ItemOperations(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	scope := Scope{Store: NewMemoryStore(), Username: "alice", Host: "h"}

	require.NoError(t, scope.Add(ctx, "make"))
	id := ContentID("make")
	require.True(t, errs.Is(scope.Add(ctx, "echo a\necho b"), errs.InvalidArgument))
	require.True(t, errs.Is(scope.Add(ctx, ""), errs.InvalidArgument))

	require.NoError(t, scope.Annotate(ctx, id, map[string]any{"exit": 0}))
	rec, err := scope.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, 0, rec.Meta["exit"])

	require.NoError(t, scope.Delete(ctx, id))
	_, err = scope.Get(ctx, id)
	require.True(t, errs.Is(err, errs.NotFound))
	require.True(t, errs.Is(scope.Annotate(ctx, id, map[string]any{"a": 1}), errs.NotFound))
}
