package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"golang.org/x/time/rate"

	"github.com/kuitang/cmdhist/internal/config"
	"github.com/kuitang/cmdhist/internal/history"
	"github.com/kuitang/cmdhist/internal/ratelimit"
	"github.com/kuitang/cmdhist/internal/remote"
	"github.com/kuitang/cmdhist/internal/s3client"
	"github.com/kuitang/cmdhist/internal/search"
)

// backend is what every command needs from a history store. history.Scope
// and remoteBackend implement it.
type backend interface {
	BulkAdd(ctx context.Context, commands []string) error
	Page(ctx context.Context, page int) ([]string, error)
	Search(ctx context.Context, term string, order history.Order, page int) ([]string, error)
	Add(ctx context.Context, command string) error
	Get(ctx context.Context, id string) (*history.Record, error)
	Annotate(ctx context.Context, id string, meta map[string]any) error
	Delete(ctx context.Context, id string) error
}

type remoteBackend struct {
	*remote.Client
}

func (r remoteBackend) Search(ctx context.Context, term string, order history.Order, page int) ([]string, error) {
	return search.Remote{Client: r.Client}.Search(ctx, term, order, page)
}

type app struct {
	stdout, stderr io.Writer

	// flags
	local    bool
	histFile string

	cfg   *config.Config
	store history.Store
}

// backend returns the local store scoped to this host, or the remote
// client when --local is not set.
func (a *app) backend() (backend, error) {
	if a.local {
		if a.store == nil {
			store, err := history.Open(a.cfg.Store)
			if err != nil {
				return nil, err
			}
			a.store = store
		}
		host, err := os.Hostname()
		if err != nil {
			host = "localhost"
		}
		return history.Scope{Store: a.store, Host: host}, nil
	}

	if err := a.cfg.RequireRemote(); err != nil {
		return nil, err
	}
	return remoteBackend{remote.New(remote.Options{
		BaseURL: a.cfg.URL,
		Token:   a.cfg.Token,
		Timeout: a.cfg.Timeout,
		RPS:     a.cfg.RPS,
	})}, nil
}

// durableBackend is backend for commands that advance a snapshot. With
// --local it refuses a store that is discarded on exit.
func (a *app) durableBackend() (backend, error) {
	if a.local {
		if err := a.cfg.RequireDurableStore(); err != nil {
			return nil, err
		}
	}
	return a.backend()
}

// snapshotPath is the snapshot belonging to the selected backend.
func (a *app) snapshotPath() string {
	if a.local {
		return a.cfg.LocalSnapshotPath
	}
	return a.cfg.SnapshotPath
}

// pageLimiter paces export paging at the configured request rate.
func (a *app) pageLimiter() *rate.Limiter {
	return ratelimit.New(a.cfg.RPS)
}

// s3 returns an object storage client when path is an s3:// URL, else nil.
func (a *app) s3(ctx context.Context, path string) (*s3client.Client, error) {
	if !s3client.IsURL(path) {
		return nil, nil
	}
	if err := a.cfg.RequireS3(); err != nil {
		return nil, err
	}
	return s3client.New(ctx, s3client.Config{
		Endpoint:        a.cfg.S3.Endpoint,
		Region:          a.cfg.S3.Region,
		AccessKeyID:     a.cfg.S3.AccessKeyID,
		SecretAccessKey: a.cfg.S3.SecretAccessKey,
		UsePathStyle:    a.cfg.S3.Endpoint != "",
	})
}

func (a *app) close() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			fmt.Fprintf(a.stderr, "cmdhist: closing store: %v\n", err)
		}
	}
}
