// Package search looks up commands in forward (oldest first) or reverse
// (newest first) order over a local history file, a local store, or the
// remote server.
package search

import (
	"context"
	"os"
	"slices"
	"strings"

	"github.com/kuitang/cmdhist/internal/errs"
	"github.com/kuitang/cmdhist/internal/histsync"
	"github.com/kuitang/cmdhist/internal/history"
	"github.com/kuitang/cmdhist/internal/remote"
)

// Backend returns one page of commands containing term in the given order.
// history.Scope satisfies it.
type Backend interface {
	Search(ctx context.Context, term string, order history.Order, page int) ([]string, error)
}

// Searcher runs searches against one backend.
type Searcher struct {
	Backend Backend
}

// Forward returns matches oldest first.
func (s Searcher) Forward(ctx context.Context, term string, page int) ([]string, error) {
	return s.Backend.Search(ctx, term, history.Forward, page)
}

// Reverse returns matches newest first.
func (s Searcher) Reverse(ctx context.Context, term string, page int) ([]string, error) {
	return s.Backend.Search(ctx, term, history.Reverse, page)
}

// Remote adapts a remote.Client to Backend.
type Remote struct {
	Client *remote.Client
}

func (r Remote) Search(ctx context.Context, term string, order history.Order, page int) ([]string, error) {
	records, err := r.Client.Search(ctx, term, order, page)
	if err != nil {
		return nil, err
	}
	return history.Commands(records), nil
}

// File searches a shell history file directly. Lines are trimmed and
// uniquified keeping the first occurrence; matching is case-sensitive and
// everything is on page 0.
type File struct {
	lines []string
}

// LoadFile reads the history file at path.
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.Wrap(errs.InvalidArgument, "cannot read shell history", err)
	}
	return NewFile(histsync.SplitLines(data)), nil
}

// NewFile builds a File from history lines.
func NewFile(lines []string) *File {
	seen := make(map[string]struct{}, len(lines))
	f := &File{}
	for _, line := range lines {
		cmd := strings.TrimSpace(line)
		if cmd == "" {
			continue
		}
		if _, ok := seen[cmd]; ok {
			continue
		}
		seen[cmd] = struct{}{}
		f.lines = append(f.lines, cmd)
	}
	return f
}

func (f *File) Search(_ context.Context, term string, order history.Order, page int) ([]string, error) {
	if page != 0 {
		return []string{}, nil
	}
	out := []string{}
	for _, cmd := range f.lines {
		if strings.Contains(cmd, term) {
			out = append(out, cmd)
		}
	}
	if order == history.Reverse {
		slices.Reverse(out)
	}
	return out, nil
}
