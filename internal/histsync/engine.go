// Package histsync uploads the shell history lines that are new since the
// last successful sync.
//
// The snapshot file is the watermark: a verbatim copy of the history file
// as of the last successful upload. Each sync diffs the snapshot against the
// current history file, uploads the added lines in one batch and, only if
// that succeeds, replaces the snapshot with the history it just diffed.
package histsync

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/kuitang/cmdhist/internal/errs"
	"github.com/kuitang/cmdhist/internal/obs"
)

// Uploader accepts one batch of commands. remote.Client and history.Scope
// both satisfy it.
type Uploader interface {
	BulkAdd(ctx context.Context, commands []string) error
}

// Engine runs incremental syncs of one history file.
type Engine struct {
	Uploader     Uploader
	HistFile     string
	SnapshotPath string
	// LargeBatch is the batch size above which a notice is written to
	// Notify before uploading. Zero disables the notice.
	LargeBatch int
	Notify     io.Writer
}

// Result describes one sync.
type Result struct {
	// Commands is the batch that was (or, on error, would have been)
	// uploaded, sorted.
	Commands []string
}

// Diff returns the lines of current that are new relative to snapshot:
// inserted lines and the new side of replaced runs, trimmed, without blanks,
// deduplicated and sorted.
func Diff(snapshot, current []string) []string {
	// autojunk would treat frequent lines ("ls", "cd") as unmatchable and
	// report identical files as changed.
	m := difflib.NewMatcherWithJunk(snapshot, current, false, nil)

	seen := make(map[string]struct{})
	for _, op := range m.GetOpCodes() {
		if op.Tag != 'i' && op.Tag != 'r' {
			continue
		}
		for _, line := range current[op.J1:op.J2] {
			cmd := strings.TrimSpace(line)
			if cmd == "" {
				continue
			}
			seen[cmd] = struct{}{}
		}
	}

	batch := make([]string, 0, len(seen))
	for cmd := range seen {
		batch = append(batch, cmd)
	}
	sort.Strings(batch)
	return batch
}

// Sync uploads new history lines. On any failure the snapshot is left
// untouched so the same lines are retried next time; the returned error
// keeps its class (errs.Unavailable for an unreachable remote,
// errs.Rejected for a remote that refused the batch).
func (e *Engine) Sync(ctx context.Context) (Result, error) {
	log := obs.From(ctx).With("pkg", "histsync")

	if err := EnsureSnapshot(e.SnapshotPath); err != nil {
		return Result{}, errs.Wrap(errs.Internal, "cannot prepare snapshot", err)
	}
	snapshot, err := readOptional(e.SnapshotPath)
	if err != nil {
		return Result{}, errs.Wrap(errs.Internal, "cannot read snapshot", err)
	}
	current, err := os.ReadFile(e.HistFile)
	if err != nil {
		return Result{}, errs.Wrap(errs.InvalidArgument, "cannot read shell history", err)
	}

	batch := Diff(SplitLines(snapshot), SplitLines(current))
	res := Result{Commands: batch}

	if e.LargeBatch > 0 && len(batch) > e.LargeBatch && e.Notify != nil {
		fmt.Fprintf(e.Notify, "Beginning upload of %d history items. This may take a while...\n", len(batch))
	}

	if len(batch) > 0 {
		if err := e.Uploader.BulkAdd(ctx, batch); err != nil {
			log.Warn("sync upload failed; snapshot kept", "batch", len(batch), "error", err)
			return res, err
		}
	}

	// The snapshot becomes exactly what was diffed, even if the shell has
	// appended since.
	if err := ReplaceSnapshot(e.SnapshotPath, current); err != nil {
		return res, errs.Wrap(errs.Internal, "uploaded but failed to update snapshot", err)
	}
	log.Info("sync complete", "uploaded", len(batch))
	return res, nil
}
