// Package db owns the per-owner SQLite history databases behind the indexed
// history store. Every owner (username) gets its own database file, so one
// owner's commands can never be read, deleted or collided with by another.
package db

import (
	"context"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const (
	// OwnerDBMaxOpenConns is the maximum open connections per owner database.
	// One connection serialises writers on the file, so the read-merge-write
	// in Upsert never races another writer for the same owner.
	OwnerDBMaxOpenConns = 1

	// OwnerDBMaxIdleConns is the maximum idle connections per owner database.
	OwnerDBMaxIdleConns = 1
)

var (
	// ErrNotFound is returned when a command id does not exist in an owner's
	// database.
	ErrNotFound = errors.New("command not found")

	// ErrNoDatabase is returned by OpenExisting when the owner has never
	// stored anything.
	ErrNoDatabase = errors.New("owner has no history database")

	// ErrInvalidMeta is returned by Upsert when metadata cannot be encoded
	// as JSON.
	ErrInvalidMeta = errors.New("metadata is not JSON-encodable")
)

// KeyFunc returns the 32-byte SQLCipher key for an owner.
type KeyFunc func(owner string) []byte

// Options configures a Manager.
type Options struct {
	// Dir holds one database file per owner.
	Dir string
	// Driver is PlainDriverName or CipherDriverName.
	Driver string
	// Key is required for CipherDriverName and ignored otherwise.
	Key KeyFunc
}

// Manager opens and caches per-owner history databases.
type Manager struct {
	opts Options

	mu     sync.RWMutex
	owners map[string]*sql.DB
	closed bool
}

// NewManager validates opts and returns a Manager. Databases are opened
// lazily on first use.
func NewManager(opts Options) (*Manager, error) {
	if opts.Dir == "" {
		return nil, fmt.Errorf("data directory cannot be empty")
	}
	switch opts.Driver {
	case PlainDriverName:
	case CipherDriverName:
		if opts.Key == nil {
			return nil, fmt.Errorf("driver %s requires a key function", CipherDriverName)
		}
	default:
		return nil, fmt.Errorf("unknown sqlite driver %q", opts.Driver)
	}
	if !HasFTS5(opts.Driver) {
		return nil, fmt.Errorf("driver %s: %w", opts.Driver, ErrNoFTS5)
	}
	return &Manager{opts: opts, owners: make(map[string]*sql.DB)}, nil
}

// Path returns the database file used for owner. The owner is hex-encoded
// so any username maps to a safe, distinct file name.
func (m *Manager) Path(owner string) string {
	return filepath.Join(m.opts.Dir, "owner-"+hex.EncodeToString([]byte(owner))+".db")
}

// HistoryDB is one owner's history database.
type HistoryDB struct {
	db    *sql.DB
	owner string
}

// DB returns the underlying sql.DB for direct access when needed
func (h *HistoryDB) DB() *sql.DB {
	return h.db
}

// Owner returns the owner this database belongs to.
func (h *HistoryDB) Owner() string {
	return h.owner
}

// OpenExisting is Open for readers: it returns ErrNoDatabase instead of
// creating a file for an owner that has none.
func (m *Manager) OpenExisting(ctx context.Context, owner string) (*HistoryDB, error) {
	m.mu.RLock()
	db, cached := m.owners[owner]
	closed := m.closed
	m.mu.RUnlock()
	if cached && !closed {
		return &HistoryDB{db: db, owner: owner}, nil
	}
	if !closed {
		if _, err := os.Stat(m.Path(owner)); errors.Is(err, os.ErrNotExist) {
			return nil, ErrNoDatabase
		}
	}
	return m.Open(ctx, owner)
}

// Open returns the owner's database, creating the file and schema on first
// use. Connections are cached until Close.
func (m *Manager) Open(ctx context.Context, owner string) (*HistoryDB, error) {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return nil, fmt.Errorf("history databases are closed")
	}
	if db, exists := m.owners[owner]; exists {
		m.mu.RUnlock()
		return &HistoryDB{db: db, owner: owner}, nil
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, fmt.Errorf("history databases are closed")
	}
	// Double-check after acquiring write lock (race condition prevention)
	if db, exists := m.owners[owner]; exists {
		return &HistoryDB{db: db, owner: owner}, nil
	}

	if err := os.MkdirAll(m.opts.Dir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	path := m.Path(owner)
	var dsn string
	switch m.opts.Driver {
	case CipherDriverName:
		var err error
		dsn, err = cipherDSN(path, m.opts.Key(owner))
		if err != nil {
			return nil, err
		}
	default:
		dsn = plainDSN(path)
	}

	db, err := sql.Open(m.opts.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database for %q: %w", owner, err)
	}
	db.SetMaxOpenConns(OwnerDBMaxOpenConns)
	db.SetMaxIdleConns(OwnerDBMaxIdleConns)

	// A wrong SQLCipher key only surfaces on the first real read.
	var sqliteVersion string
	if err := db.QueryRowContext(ctx, "SELECT sqlite_version()").Scan(&sqliteVersion); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to verify history database for %q: %w", owner, err)
	}
	if _, err := db.ExecContext(ctx, HistoryDBSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize history schema for %q: %w", owner, err)
	}

	m.owners[owner] = db
	return &HistoryDB{db: db, owner: owner}, nil
}

// Close closes every cached owner database. The Manager cannot be reused.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var firstErr error
	for owner, db := range m.owners {
		if err := db.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to close history database for %q: %w", owner, err)
		}
	}
	m.owners = make(map[string]*sql.DB)
	m.closed = true
	return firstErr
}

// CommandRow is one stored command.
type CommandRow struct {
	Seq       int64
	ID        string
	Command   string
	Username  string
	Host      string
	Timestamp time.Time
	Meta      map[string]any
	Rank      float64 // bm25 rank, lower is better; only set by Search
}

// Upsert inserts row, or merges row.Meta into the stored metadata when the
// id already exists. Command, username, host and timestamp of an existing
// row are left as first stored. Reports whether a new row was created.
func (h *HistoryDB) Upsert(ctx context.Context, row CommandRow) (bool, error) {
	tx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin upsert: %w", err)
	}
	defer tx.Rollback()

	var rawMeta string
	err = tx.QueryRowContext(ctx, `SELECT meta FROM commands WHERE id = ?`, row.ID).Scan(&rawMeta)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		meta, err := encodeMeta(row.Meta)
		if err != nil {
			return false, err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO commands (id, command, tokens, username, host, timestamp, meta)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, row.ID, row.Command, Tokenize(row.Command), row.Username, row.Host, row.Timestamp.UTC().UnixNano(), meta); err != nil {
			return false, fmt.Errorf("failed to insert command: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return false, fmt.Errorf("failed to commit insert: %w", err)
		}
		return true, nil

	case err != nil:
		return false, fmt.Errorf("failed to look up command: %w", err)
	}

	if len(row.Meta) == 0 {
		return false, nil
	}
	existing, err := decodeMeta(rawMeta)
	if err != nil {
		return false, err
	}
	for k, v := range row.Meta {
		existing[k] = v
	}
	merged, err := encodeMeta(existing)
	if err != nil {
		return false, err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE commands SET meta = ? WHERE id = ?`, merged, row.ID); err != nil {
		return false, fmt.Errorf("failed to update command meta: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit meta update: %w", err)
	}
	return false, nil
}

// Get returns the command with id, or ErrNotFound.
func (h *HistoryDB) Get(ctx context.Context, id string) (*CommandRow, error) {
	row := h.db.QueryRowContext(ctx, `
		SELECT seq, id, command, username, host, timestamp, meta
		FROM commands WHERE id = ?
	`, id)
	r, err := scanCommand(row.Scan, false)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

// Delete removes the command with id, or returns ErrNotFound.
func (h *HistoryDB) Delete(ctx context.Context, id string) error {
	res, err := h.db.ExecContext(ctx, `DELETE FROM commands WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete command: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to count deleted rows: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// List returns a page of commands in insertion order, or its exact mirror
// when reverse is set. seq is the insertion order; timestamps come from the
// wall clock and may step backwards.
func (h *HistoryDB) List(ctx context.Context, reverse bool, limit, offset int) ([]CommandRow, error) {
	order := "ORDER BY seq ASC"
	if reverse {
		order = "ORDER BY seq DESC"
	}
	rows, err := h.db.QueryContext(ctx, `
		SELECT seq, id, command, username, host, timestamp, meta
		FROM commands
		`+order+`
		LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list query failed: %w", err)
	}
	return collectCommands(rows, false)
}

// Search returns a page of commands containing term (case-insensitive).
// Results are best bm25 rank first, or by descending timestamp when reverse
// is set, later insertions first among equal timestamps.
func (h *HistoryDB) Search(ctx context.Context, term string, reverse bool, limit, offset int) ([]CommandRow, error) {
	query := PhraseQuery(term)
	if query == "" {
		return nil, nil
	}
	order := "ORDER BY bm25_rank ASC, c.seq ASC"
	if reverse {
		order = "ORDER BY c.timestamp DESC, c.seq DESC"
	}
	rows, err := h.db.QueryContext(ctx, `
		SELECT c.seq, c.id, c.command, c.username, c.host, c.timestamp, c.meta,
		       bm25(commands_fts) AS bm25_rank
		FROM commands c
		JOIN commands_fts f ON c.seq = f.rowid
		WHERE commands_fts MATCH ?
		`+order+`
		LIMIT ? OFFSET ?
	`, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("FTS search failed: %w", err)
	}
	return collectCommands(rows, true)
}

// Count returns the number of stored commands.
func (h *HistoryDB) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := h.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM commands`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count commands: %w", err)
	}
	return n, nil
}

func collectCommands(rows *sql.Rows, ranked bool) ([]CommandRow, error) {
	defer rows.Close()

	var results []CommandRow
	for rows.Next() {
		r, err := scanCommand(rows.Scan, ranked)
		if err != nil {
			return nil, err
		}
		results = append(results, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating commands: %w", err)
	}
	return results, nil
}

func scanCommand(scan func(dest ...any) error, ranked bool) (*CommandRow, error) {
	var (
		r       CommandRow
		tsNanos int64
		rawMeta string
	)
	dest := []any{&r.Seq, &r.ID, &r.Command, &r.Username, &r.Host, &tsNanos, &rawMeta}
	if ranked {
		dest = append(dest, &r.Rank)
	}
	if err := scan(dest...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan command: %w", err)
	}
	meta, err := decodeMeta(rawMeta)
	if err != nil {
		return nil, err
	}
	r.Meta = meta
	r.Timestamp = time.Unix(0, tsNanos).UTC()
	return &r, nil
}

func encodeMeta(meta map[string]any) (string, error) {
	if len(meta) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(meta)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidMeta, err)
	}
	return string(b), nil
}

func decodeMeta(raw string) (map[string]any, error) {
	meta := make(map[string]any)
	if raw == "" {
		return meta, nil
	}
	if err := json.Unmarshal([]byte(raw), &meta); err != nil {
		return nil, fmt.Errorf("failed to decode meta: %w", err)
	}
	return meta, nil
}
