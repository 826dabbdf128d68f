// Package testdb builds throwaway history databases for tests in other
// packages.
package testdb

import (
	"bytes"
	"errors"
	"testing"

	"github.com/kuitang/cmdhist/internal/db"
)

// HardcodedKey is the fixed SQLCipher key used by encrypted test databases.
var HardcodedKey = bytes.Repeat([]byte{0x5a}, 32)

// NewManager returns a plain-SQLite Manager rooted in a fresh temp dir. It
// is closed when the test ends.
func NewManager(t testing.TB) *db.Manager {
	t.Helper()
	return newManager(t, db.Options{Dir: t.TempDir(), Driver: db.PlainDriverName})
}

// NewCipherManager is NewManager over SQLCipher with HardcodedKey. The test
// is skipped in builds without the fts5 tag.
func NewCipherManager(t testing.TB) *db.Manager {
	t.Helper()
	return newManager(t, db.Options{
		Dir:    t.TempDir(),
		Driver: db.CipherDriverName,
		Key:    func(string) []byte { return HardcodedKey },
	})
}

// NewManagerIn returns a plain-SQLite Manager in dir that the caller must
// close. Property tests use it because rapid.T has no cleanup hooks.
func NewManagerIn(dir string) (*db.Manager, error) {
	return db.NewManager(db.Options{Dir: dir, Driver: db.PlainDriverName})
}

func newManager(t testing.TB, opts db.Options) *db.Manager {
	t.Helper()
	m, err := db.NewManager(opts)
	if errors.Is(err, db.ErrNoFTS5) {
		t.Skipf("%v; run go test -tags fts5", err)
	}
	if err != nil {
		t.Fatalf("failed to create test history databases: %v", err)
	}
	t.Cleanup(func() { _ = m.Close() })
	return m
}
