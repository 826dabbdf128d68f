package history

import (
	"context"
	"errors"
	"time"

	"github.com/kuitang/cmdhist/internal/config"
	"github.com/kuitang/cmdhist/internal/db"
	"github.com/kuitang/cmdhist/internal/errs"
)

// IndexedStore keeps each owner's commands in a separate SQLite database
// with an FTS5 character index over the command text.
//
// Paging is fixed-size with offset pageSize*page. Unordered Filter results
// come back best relevance first with Score set; Reverse ordering always
// sorts by descending timestamp instead.
type IndexedStore struct {
	mgr      *db.Manager
	pageSize int
	now      func() time.Time
}

// NewIndexedStore wraps mgr. A non-positive pageSize means
// config.DefaultPageSize.
func NewIndexedStore(mgr *db.Manager, pageSize int) *IndexedStore {
	if pageSize <= 0 {
		pageSize = config.DefaultPageSize
	}
	return &IndexedStore{
		mgr:      mgr,
		pageSize: pageSize,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// PageSize returns the number of records per page.
func (s *IndexedStore) PageSize() int {
	return s.pageSize
}

func (s *IndexedStore) open(ctx context.Context, username string) (*db.HistoryDB, error) {
	h, err := s.mgr.Open(ctx, username)
	if err != nil {
		return nil, errs.Wrap(errs.Unavailable, "history index unavailable", err)
	}
	return h, nil
}

// openExisting is open for reads. It reports (nil, nil) when the owner has
// no database yet, so reads never create one.
func (s *IndexedStore) openExisting(ctx context.Context, username string) (*db.HistoryDB, error) {
	h, err := s.mgr.OpenExisting(ctx, username)
	if errors.Is(err, db.ErrNoDatabase) {
		return nil, nil
	}
	if err != nil {
		return nil, errs.Wrap(errs.Unavailable, "history index unavailable", err)
	}
	return h, nil
}

func (s *IndexedStore) Add(ctx context.Context, command, username, host string, meta map[string]any) (string, error) {
	h, err := s.open(ctx, username)
	if err != nil {
		return "", err
	}
	id := ContentID(command)
	created, err := h.Upsert(ctx, db.CommandRow{
		ID:        id,
		Command:   command,
		Username:  username,
		Host:      host,
		Timestamp: s.now(),
		Meta:      StripReserved(meta),
	})
	if errors.Is(err, db.ErrInvalidMeta) {
		return "", errs.Wrap(errs.InvalidArgument, "invalid metadata", err)
	}
	if err != nil {
		return "", errs.Wrap(errs.Unavailable, "failed to store command", err)
	}
	logger(ctx).Debug("command stored", "id", id, "created", created)
	return id, nil
}

func (s *IndexedStore) Get(ctx context.Context, id, username, _ string) (*Record, error) {
	h, err := s.openExisting(ctx, username)
	if err != nil {
		return nil, err
	}
	if h == nil {
		return nil, errs.New(errs.NotFound, "no such history item")
	}
	row, err := h.Get(ctx, id)
	if errors.Is(err, db.ErrNotFound) {
		return nil, errs.New(errs.NotFound, "no such history item")
	}
	if err != nil {
		return nil, errs.Wrap(errs.Unavailable, "failed to read command", err)
	}
	rec := recordFromRow(*row)
	return &rec, nil
}

func (s *IndexedStore) Delete(ctx context.Context, id, username, _ string) error {
	h, err := s.openExisting(ctx, username)
	if err != nil {
		return err
	}
	if h == nil {
		return errs.New(errs.NotFound, "no such history item")
	}
	err = h.Delete(ctx, id)
	if errors.Is(err, db.ErrNotFound) {
		return errs.New(errs.NotFound, "no such history item")
	}
	if err != nil {
		return errs.Wrap(errs.Unavailable, "failed to delete command", err)
	}
	return nil
}

func (s *IndexedStore) All(ctx context.Context, order Order, username, _ string, page int) ([]Record, error) {
	if page < 0 {
		return []Record{}, nil
	}
	h, err := s.openExisting(ctx, username)
	if err != nil {
		logger(ctx).Warn("history read degraded to empty", "op", "all", "error", err)
		return []Record{}, nil
	}
	if h == nil {
		return []Record{}, nil
	}
	rows, err := h.List(ctx, order == Reverse, s.pageSize, s.pageSize*page)
	if err != nil {
		logger(ctx).Warn("history read degraded to empty", "op", "all", "error", err)
		return []Record{}, nil
	}
	return recordsFromRows(rows, false), nil
}

func (s *IndexedStore) Filter(ctx context.Context, term string, order Order, username, host string, page int) ([]Record, error) {
	if term == "" {
		return s.All(ctx, order, username, host, page)
	}
	if page < 0 {
		return []Record{}, nil
	}
	h, err := s.openExisting(ctx, username)
	if err != nil {
		logger(ctx).Warn("history read degraded to empty", "op", "filter", "error", err)
		return []Record{}, nil
	}
	if h == nil {
		return []Record{}, nil
	}
	rows, err := h.Search(ctx, term, order == Reverse, s.pageSize, s.pageSize*page)
	if err != nil {
		logger(ctx).Warn("history read degraded to empty", "op", "filter", "error", err)
		return []Record{}, nil
	}
	return recordsFromRows(rows, order != Reverse), nil
}

func (s *IndexedStore) Close() error {
	return s.mgr.Close()
}

func recordFromRow(row db.CommandRow) Record {
	return Record{
		ID:        row.ID,
		Command:   row.Command,
		Username:  row.Username,
		Host:      row.Host,
		Timestamp: row.Timestamp,
		Meta:      row.Meta,
	}
}

func recordsFromRows(rows []db.CommandRow, scored bool) []Record {
	out := make([]Record, 0, len(rows))
	for _, row := range rows {
		rec := recordFromRow(row)
		if scored {
			// bm25 is lower-is-better; Score is higher-is-better.
			rec.Score = -row.Rank
		}
		out = append(out, rec)
	}
	return out
}
