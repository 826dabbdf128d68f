package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/kuitang/cmdhist/internal/errs"
	"github.com/kuitang/cmdhist/internal/histsync"
	"github.com/kuitang/cmdhist/internal/history"
	"github.com/kuitang/cmdhist/internal/search"
	"github.com/kuitang/cmdhist/internal/transfer"
	"github.com/kuitang/cmdhist/internal/watcher"
)

func (a *app) engine(b backend) *histsync.Engine {
	return &histsync.Engine{
		Uploader:     b,
		HistFile:     a.cfg.HistFile,
		SnapshotPath: a.snapshotPath(),
		LargeBatch:   a.cfg.LargeUpdate,
		Notify:       a.stdout,
	}
}

func syncCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Upload history lines added since the last sync",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, _ []string) error {
			b, err := a.durableBackend()
			if err != nil {
				return err
			}
			res, err := a.engine(b).Sync(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(a.stderr, "synced %d commands\n", len(res.Commands))
			return nil
		},
	}
}

func importCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "import [FILE|s3://bucket/key]",
		Short: "Upload a whole history file (default: the shell history)",
		Args:  maxArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			src := a.cfg.HistFile
			if len(args) == 1 {
				src = args[0]
			}
			b, err := a.durableBackend()
			if err != nil {
				return err
			}
			s3, err := a.s3(ctx, src)
			if err != nil {
				return err
			}
			im := &transfer.Importer{Uploader: b, SnapshotPath: a.snapshotPath(), S3: s3}
			batch, err := im.Import(ctx, src)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.stderr, "imported %d commands\n", len(batch))
			return nil
		},
	}
}

func exportCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "export [FILE|s3://bucket/key]",
		Short: "Write every stored command, oldest first (default: stdout)",
		Args:  maxArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			dest := transfer.StdoutDest
			if len(args) == 1 {
				dest = args[0]
			}
			b, err := a.backend()
			if err != nil {
				return err
			}
			s3, err := a.s3(ctx, dest)
			if err != nil {
				return err
			}
			ex := &transfer.Exporter{Pager: b, Limiter: a.pageLimiter(), S3: s3}
			n, err := ex.ExportTo(ctx, dest, a.stdout)
			if err != nil {
				return err
			}
			if dest != transfer.StdoutDest {
				fmt.Fprintf(a.stderr, "exported %d commands to %s\n", n, dest)
			}
			return nil
		},
	}
}

func searchCmd(a *app) *cobra.Command {
	var (
		reverse bool
		page    int
		file    bool
	)
	cmd := &cobra.Command{
		Use:   "search [TERM]",
		Short: "Find commands containing TERM (all commands when omitted)",
		Args:  maxArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			term := ""
			if len(args) == 1 {
				term = args[0]
			}

			var s search.Searcher
			if file {
				f, err := search.LoadFile(a.cfg.HistFile)
				if err != nil {
					return err
				}
				s.Backend = f
			} else {
				b, err := a.backend()
				if err != nil {
					return err
				}
				s.Backend = b
			}

			find := s.Forward
			if reverse {
				find = s.Reverse
			}
			results, err := find(cmd.Context(), term, page)
			if err != nil {
				return err
			}
			for _, c := range results {
				fmt.Fprintln(a.stdout, c)
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&reverse, "reverse", "r", false, "newest first")
	cmd.Flags().IntVarP(&page, "page", "p", 0, "page number, starting at 0")
	cmd.Flags().BoolVar(&file, "file", false, "search the shell history file directly")
	return cmd
}

func addCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "add COMMAND...",
		Short: "Store a single command",
		Args:  minArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			command := strings.TrimSpace(strings.Join(args, " "))
			if err := history.ValidateCommand(command); err != nil {
				return err
			}
			b, err := a.backend()
			if err != nil {
				return err
			}
			if err := b.Add(cmd.Context(), command); err != nil {
				return err
			}
			fmt.Fprintln(a.stdout, history.ContentID(command))
			return nil
		},
	}
}

func getCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "get ID",
		Short: "Print one stored record as JSON",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := a.backend()
			if err != nil {
				return err
			}
			rec, err := b.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			enc := json.NewEncoder(a.stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(rec)
		},
	}
}

func annotateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "annotate ID KEY=VALUE...",
		Short: "Merge metadata into a stored record",
		Args:  minArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			meta, err := parseMeta(args[1:])
			if err != nil {
				return err
			}
			b, err := a.backend()
			if err != nil {
				return err
			}
			return b.Annotate(cmd.Context(), args[0], meta)
		},
	}
}

// parseMeta turns KEY=VALUE pairs into metadata. Values that parse as JSON
// keep their JSON type; anything else is a string.
func parseMeta(pairs []string) (map[string]any, error) {
	meta := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, raw, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, errs.New(errs.InvalidArgument, fmt.Sprintf("metadata %q must be KEY=VALUE", pair))
		}
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			v = raw
		}
		meta[key] = v
	}
	return meta, nil
}

func deleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete ID",
		Short: "Delete a stored record",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := a.backend()
			if err != nil {
				return err
			}
			return b.Delete(cmd.Context(), args[0])
		},
	}
}

func watchCmd(a *app) *cobra.Command {
	var (
		window   time.Duration
		interval time.Duration
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Sync whenever the shell history file changes",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, _ []string) error {
			b, err := a.durableBackend()
			if err != nil {
				return err
			}
			w := &watcher.Watcher{
				Path:     a.cfg.HistFile,
				Syncer:   a.engine(b),
				Window:   window,
				Interval: interval,
				OnSync: func(res histsync.Result, err error) {
					if err != nil {
						fmt.Fprintf(a.stderr, "cmdhist: sync failed: %v\n", err)
						return
					}
					if len(res.Commands) > 0 {
						fmt.Fprintf(a.stderr, "synced %d commands\n", len(res.Commands))
					}
				},
			}
			return w.Run(cmd.Context())
		},
	}
	cmd.Flags().DurationVar(&window, "window", watcher.DefaultWindow, "quiet period after the last write before syncing")
	cmd.Flags().DurationVar(&interval, "interval", 5*time.Minute, "also sync on this interval (0 disables)")
	return cmd
}
