package db

import (
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"

	sqlite3 "github.com/mutecomm/go-sqlcipher/v4"
	_ "modernc.org/sqlite"
)

const (
	// PlainDriverName is modernc.org/sqlite, registered by its package init.
	PlainDriverName = "sqlite"

	// CipherDriverName is the project-specific SQLCipher driver.
	CipherDriverName = "sqlite3_cmdhist"
)

// ErrNoFTS5 is returned by NewManager when the driver cannot create FTS5
// tables. go-sqlcipher only compiles FTS5 in with the fts5 build tag
// (go build -tags fts5); modernc.org/sqlite always has it.
var ErrNoFTS5 = errors.New("sqlite driver was built without the fts5 module (rebuild with -tags fts5)")

var fts5Support sync.Map // driver name -> bool

func init() {
	sql.Register(CipherDriverName, &sqlite3.SQLiteDriver{})
}

// HasFTS5 reports whether driverName can create FTS5 tables. The answer is
// fixed at build time, so it is computed once per driver.
func HasFTS5(driverName string) bool {
	if ok, cached := fts5Support.Load(driverName); cached {
		return ok.(bool)
	}
	ok := createsFTS5Table(driverName)
	fts5Support.Store(driverName, ok)
	return ok
}

func createsFTS5Table(driverName string) bool {
	db, err := sql.Open(driverName, ":memory:")
	if err != nil {
		return false
	}
	defer db.Close()
	_, err = db.Exec(`CREATE VIRTUAL TABLE temp.fts5_support USING fts5(body)`)
	return err == nil
}

// plainDSN builds a modernc.org/sqlite DSN. modernc takes pragmas as
// repeated _pragma=name(value) parameters.
func plainDSN(path string) string {
	pragmas := []string{
		"_pragma=journal_mode(WAL)",
		"_pragma=synchronous(NORMAL)",
		"_pragma=busy_timeout(5000)",
		"_pragma=foreign_keys(on)",
	}
	return appendSQLiteParams(path, strings.Join(pragmas, "&"))
}

// cipherDSN builds a go-sqlcipher DSN keyed with a raw 32-byte key.
// Format: file.db?_pragma_key=x'HEX_KEY'&_pragma_cipher_page_size=4096
func cipherDSN(path string, key []byte) (string, error) {
	if len(key) != 32 {
		return "", fmt.Errorf("index key must be exactly 32 bytes, got %d", len(key))
	}
	dsn := fmt.Sprintf("%s?_pragma_key=x'%s'&_pragma_cipher_page_size=4096", path, hex.EncodeToString(key))
	return appendSQLiteParams(dsn, sqliteCommonParams()), nil
}

func sqliteCommonParams() string {
	// Production-safe defaults: WAL + NORMAL provides good throughput while preserving safety.
	return "_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_foreign_keys=on"
}

func appendSQLiteParams(dsn, params string) string {
	if strings.Contains(dsn, "?") {
		return dsn + "&" + params
	}
	return dsn + "?" + params
}
