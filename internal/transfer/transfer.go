// Package transfer moves whole histories between files (local or S3) and a
// history backend: Importer bulk-uploads a file, Exporter pages the backend
// out to a file.
package transfer

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"os"
	"sort"
	"strings"

	"golang.org/x/time/rate"

	"github.com/kuitang/cmdhist/internal/errs"
	"github.com/kuitang/cmdhist/internal/histsync"
	"github.com/kuitang/cmdhist/internal/obs"
	"github.com/kuitang/cmdhist/internal/s3client"
)

// StdoutDest selects standard output as the export sink.
const StdoutDest = "-"

// Uploader accepts one batch of commands.
type Uploader interface {
	BulkAdd(ctx context.Context, commands []string) error
}

// Pager returns one page of commands in forward order. An empty page marks
// the end.
type Pager interface {
	Page(ctx context.Context, page int) ([]string, error)
}

// Importer uploads a whole history file in one batch.
type Importer struct {
	Uploader     Uploader
	SnapshotPath string
	// S3 reads s3:// sources; nil rejects them.
	S3 *s3client.Client
}

// Import uploads the distinct non-blank lines of src, a file path or an
// s3://bucket/key URL, and on success makes src the new sync snapshot so the
// next sync does not upload the same lines again. It returns the batch.
func (im *Importer) Import(ctx context.Context, src string) ([]string, error) {
	log := obs.From(ctx).With("pkg", "transfer")

	data, err := readSource(ctx, src, im.S3)
	if err != nil {
		return nil, err
	}
	batch := Normalize(histsync.SplitLines(data))

	if len(batch) > 0 {
		if err := im.Uploader.BulkAdd(ctx, batch); err != nil {
			log.Warn("import upload failed", "source", src, "batch", len(batch), "error", err)
			return batch, err
		}
	}
	if im.SnapshotPath != "" {
		if err := histsync.ReplaceSnapshot(im.SnapshotPath, data); err != nil {
			return batch, errs.Wrap(errs.Internal, "imported but failed to update snapshot", err)
		}
	}
	log.Info("import complete", "source", src, "uploaded", len(batch))
	return batch, nil
}

// Normalize trims lines, drops blanks and duplicates, and sorts.
func Normalize(lines []string) []string {
	seen := make(map[string]struct{}, len(lines))
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		cmd := strings.TrimSpace(line)
		if cmd == "" {
			continue
		}
		if _, ok := seen[cmd]; ok {
			continue
		}
		seen[cmd] = struct{}{}
		out = append(out, cmd)
	}
	sort.Strings(out)
	return out
}

func readSource(ctx context.Context, src string, s3 *s3client.Client) ([]byte, error) {
	if s3client.IsURL(src) {
		loc, err := s3client.ParseURL(src)
		if err != nil {
			return nil, err
		}
		if s3 == nil {
			return nil, errs.New(errs.InvalidArgument, "s3 sources need AWS_REGION and credentials configured")
		}
		return s3.Get(ctx, loc)
	}
	data, err := os.ReadFile(src)
	if err != nil {
		return nil, errs.Wrap(errs.InvalidArgument, "cannot read import file", err)
	}
	return data, nil
}

// Exporter writes every stored command, in forward order, page by page.
type Exporter struct {
	Pager Pager
	// Limiter paces page requests; nil means unpaced.
	Limiter *rate.Limiter
	// S3 writes s3:// sinks; nil rejects them.
	S3 *s3client.Client
}

// Export writes pages 0, 1, 2... to w until the first empty page. Each page
// is written newline-joined and newline-terminated. It returns the number of
// commands written.
func (ex *Exporter) Export(ctx context.Context, w io.Writer) (int, error) {
	log := obs.From(ctx).With("pkg", "transfer")

	total := 0
	for page := 0; ; page++ {
		if ex.Limiter != nil {
			if err := ex.Limiter.Wait(ctx); err != nil {
				return total, errs.Wrap(errs.Unavailable, "export cancelled", err)
			}
		}
		commands, err := ex.Pager.Page(ctx, page)
		if err != nil {
			return total, err
		}
		if len(commands) == 0 {
			log.Info("export complete", "pages", page, "commands", total)
			return total, nil
		}
		if _, err := io.WriteString(w, strings.Join(commands, "\n")+"\n"); err != nil {
			return total, errs.Wrap(errs.Internal, "failed to write export", err)
		}
		total += len(commands)
		log.Debug("exported page", "page", page, "commands", len(commands))
	}
}

// ExportTo exports to dest: StdoutDest (or "") for stdout, an s3:// URL, or
// a file path that is created or truncated. S3 output is buffered and
// uploaded only after every page was read.
func (ex *Exporter) ExportTo(ctx context.Context, dest string, stdout io.Writer) (int, error) {
	switch {
	case dest == "" || dest == StdoutDest:
		bw := bufio.NewWriter(stdout)
		n, err := ex.Export(ctx, bw)
		if ferr := bw.Flush(); err == nil && ferr != nil {
			err = errs.Wrap(errs.Internal, "failed to write export", ferr)
		}
		return n, err

	case s3client.IsURL(dest):
		loc, err := s3client.ParseURL(dest)
		if err != nil {
			return 0, err
		}
		if ex.S3 == nil {
			return 0, errs.New(errs.InvalidArgument, "s3 sinks need AWS_REGION and credentials configured")
		}
		var buf bytes.Buffer
		n, err := ex.Export(ctx, &buf)
		if err != nil {
			return n, err
		}
		return n, ex.S3.Put(ctx, loc, buf.Bytes())

	default:
		f, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
		if err != nil {
			return 0, errs.Wrap(errs.InvalidArgument, "cannot create export file", err)
		}
		bw := bufio.NewWriter(f)
		n, err := ex.Export(ctx, bw)
		if ferr := bw.Flush(); err == nil && ferr != nil {
			err = errs.Wrap(errs.Internal, "failed to write export", ferr)
		}
		if cerr := f.Close(); err == nil && cerr != nil {
			err = errs.Wrap(errs.Internal, "failed to close export file", cerr)
		}
		return n, err
	}
}
