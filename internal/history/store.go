package history

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kuitang/cmdhist/internal/config"
	"github.com/kuitang/cmdhist/internal/crypto"
	"github.com/kuitang/cmdhist/internal/db"
	"github.com/kuitang/cmdhist/internal/errs"
	"github.com/kuitang/cmdhist/internal/obs"
)

// ownerKeyVersion is mixed into every derived index key.
const ownerKeyVersion = 1

// Store is per-owner, deduplicated command storage.
//
// Reads (All, Filter) never fail on infrastructure errors: they log and
// return an empty slice. Past the last page they return an empty slice.
// Writes always propagate errors.
type Store interface {
	// Add upserts command for the owner and returns its content id.
	// Reserved meta keys are stripped; remaining meta is merged into any
	// existing record. Command, username and host keep their first values.
	Add(ctx context.Context, command, username, host string, meta map[string]any) (string, error)
	// Get fails with errs.NotFound when id does not exist for the owner.
	Get(ctx context.Context, id, username, host string) (*Record, error)
	// Delete fails with errs.NotFound when id does not exist for the owner,
	// including on a second delete of the same id.
	Delete(ctx context.Context, id, username, host string) error
	All(ctx context.Context, order Order, username, host string, page int) ([]Record, error)
	// Filter is All restricted to commands containing term.
	Filter(ctx context.Context, term string, order Order, username, host string, page int) ([]Record, error)
	Close() error
}

// Open builds the backend selected by cfg.
func Open(cfg config.StoreConfig) (Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errs.Wrap(errs.InvalidArgument, "invalid store configuration", err)
	}

	switch cfg.Type {
	case config.StoreMemory:
		return NewMemoryStore(), nil

	case config.StoreIndexed:
		opts := db.Options{Dir: cfg.DataDir, Driver: db.PlainDriverName}
		if cfg.Driver == config.DriverSQLCipher {
			master, err := crypto.ParseMasterKey(cfg.IndexKey)
			if err != nil {
				return nil, errs.Wrap(errs.InvalidArgument, "invalid CMDHIST_INDEX_KEY", err)
			}
			opts.Driver = db.CipherDriverName
			opts.Key = func(owner string) []byte {
				return crypto.DeriveOwnerKey(master, owner, ownerKeyVersion)
			}
		}
		mgr, err := db.NewManager(opts)
		if errors.Is(err, db.ErrNoFTS5) {
			return nil, errs.Wrap(errs.InvalidArgument, fmt.Sprintf("CMDHIST_INDEX_DRIVER=%s is unusable in this build", cfg.Driver), err)
		}
		if err != nil {
			return nil, errs.Wrap(errs.Internal, "failed to set up history index", err)
		}
		return NewIndexedStore(mgr, cfg.PageSize), nil

	default:
		return nil, errs.New(errs.InvalidArgument, fmt.Sprintf("unknown store type %q", cfg.Type))
	}
}

// Annotate merges meta into an existing record. The record must exist
// (errs.NotFound otherwise) and meta must be non-empty after reserved keys
// are stripped.
func Annotate(ctx context.Context, s Store, id, username, host string, meta map[string]any) error {
	rec, err := s.Get(ctx, id, username, host)
	if err != nil {
		return err
	}
	clean := StripReserved(meta)
	if len(clean) == 0 {
		return errs.New(errs.InvalidArgument, "data is required, received empty annotation")
	}
	_, err = s.Add(ctx, rec.Command, username, host, clean)
	return err
}

// ValidateCommand rejects an empty command or one spanning several lines.
// History files and exports hold one command per line, so a multi-line
// command would come back as several commands.
func ValidateCommand(command string) error {
	if command == "" {
		return errs.New(errs.InvalidArgument, "command must not be empty")
	}
	if strings.Contains(command, "\n") {
		return errs.New(errs.InvalidArgument, "command must be a single line")
	}
	return nil
}

// AddBatch adds every command for the owner and returns their ids in input
// order. The whole batch is rejected with errs.InvalidArgument before any
// write when it is empty or any command fails ValidateCommand.
func AddBatch(ctx context.Context, s Store, commands []string, username, host string) ([]string, error) {
	if len(commands) == 0 {
		return nil, errs.New(errs.InvalidArgument, "missing commands parameter")
	}
	for i, cmd := range commands {
		if err := ValidateCommand(cmd); err != nil {
			return nil, errs.Wrap(errs.InvalidArgument, fmt.Sprintf("command %d", i), err)
		}
	}

	ids := make([]string, 0, len(commands))
	for _, cmd := range commands {
		id, err := s.Add(ctx, cmd, username, host, nil)
		if err != nil {
			return ids, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Scope binds a Store to one owner and origin host. It is the local
// counterpart of the remote client: sync, import, export and search run
// against either.
type Scope struct {
	Store    Store
	Username string
	Host     string
}

// BulkAdd uploads commands in one batch.
func (s Scope) BulkAdd(ctx context.Context, commands []string) error {
	_, err := AddBatch(ctx, s.Store, commands, s.Username, s.Host)
	return err
}

// Add uploads a single command.
func (s Scope) Add(ctx context.Context, command string) error {
	if err := ValidateCommand(command); err != nil {
		return err
	}
	_, err := s.Store.Add(ctx, command, s.Username, s.Host, nil)
	return err
}

// Get fetches one record by id.
func (s Scope) Get(ctx context.Context, id string) (*Record, error) {
	return s.Store.Get(ctx, id, s.Username, s.Host)
}

// Annotate merges meta into the record with id.
func (s Scope) Annotate(ctx context.Context, id string, meta map[string]any) error {
	return Annotate(ctx, s.Store, id, s.Username, s.Host, meta)
}

// Delete removes a record by id.
func (s Scope) Delete(ctx context.Context, id string) error {
	return s.Store.Delete(ctx, id, s.Username, s.Host)
}

// Page returns one page of the owner's commands in forward order.
func (s Scope) Page(ctx context.Context, page int) ([]string, error) {
	records, err := s.Store.All(ctx, Forward, s.Username, s.Host, page)
	if err != nil {
		return nil, err
	}
	return Commands(records), nil
}

// Search returns one page of commands containing term, or all commands
// when term is blank.
func (s Scope) Search(ctx context.Context, term string, order Order, page int) ([]string, error) {
	var (
		records []Record
		err     error
	)
	if strings.TrimSpace(term) == "" {
		records, err = s.Store.All(ctx, order, s.Username, s.Host, page)
	} else {
		records, err = s.Store.Filter(ctx, term, order, s.Username, s.Host, page)
	}
	if err != nil {
		return nil, err
	}
	return Commands(records), nil
}

func logger(ctx context.Context) *slog.Logger {
	return obs.From(ctx).With("pkg", "history")
}
