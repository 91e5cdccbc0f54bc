package cli

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"genomicore/internal/blob"
	"genomicore/internal/genomic"
	"genomicore/pkg/domain"
)

const watchDebounce = 500 * time.Millisecond

func newWatchCmd(opts *rootOptions) *cobra.Command {
	var bucket, subfolder string
	cmd := &cobra.Command{
		Use:   "watch <job>",
		Short: "Run an ingestion job whenever a manifest lands in a filesystem inbox",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind := domain.JobKind(args[0])
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				if a.cfg.Blob.Driver != blob.DriverFilesystem {
					return fmt.Errorf("watch requires the fs blob driver, got %q", a.cfg.Blob.Driver)
				}
				if bucket == "" {
					src := a.cfg.Sources[kind]
					bucket, subfolder = src.Bucket, src.Subfolder
				}
				if bucket == "" {
					return fmt.Errorf("no bucket given and no source configured for %s", kind)
				}
				dir := filepath.Join(a.cfg.Blob.FSRoot, bucket, filepath.FromSlash(subfolder))
				if err := os.MkdirAll(dir, 0o755); err != nil {
					return err
				}
				w, err := fsnotify.NewWatcher()
				if err != nil {
					return fmt.Errorf("create watcher: %w", err)
				}
				defer func() { _ = w.Close() }()
				if err := w.Add(dir); err != nil {
					return fmt.Errorf("watch %s: %w", dir, err)
				}
				a.logger.Info("watching inbox", "dir", dir, "job", string(kind))
				return watchInbox(ctx, w, watchDebounce, func(name string) {
					req := genomic.JobRequest{Kind: kind, File: genomic.FileRef{Bucket: bucket, Key: path.Join(subfolder, name)}}
					run, sub, err := a.svc.Run(ctx, req)
					if err != nil {
						a.logger.Error("watched run failed", "file", name, "run_id", run.ID, "error", err)
						return
					}
					a.logger.Info("watched run finished", "file", name, "run_id", run.ID, "result", string(sub.Result))
				})
			})
		},
	}
	cmd.Flags().StringVar(&bucket, "bucket", "", "Bucket directory under blob.fs_root (defaults to the job's source)")
	cmd.Flags().StringVar(&subfolder, "subfolder", "", "Subfolder inside the bucket")
	return cmd
}

// watchInbox calls handle once per settled file name. Events for the same
// name within delay of each other are coalesced.
func watchInbox(ctx context.Context, w *fsnotify.Watcher, delay time.Duration, handle func(name string)) error {
	pending := make(map[string]bool)
	timer := time.NewTimer(delay)
	if !timer.Stop() {
		<-timer.C
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
				continue
			}
			name := filepath.Base(ev.Name)
			if !watchable(name) {
				continue
			}
			pending[name] = true
			timer.Reset(delay)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			return fmt.Errorf("watcher: %w", err)
		case <-timer.C:
			names := make([]string, 0, len(pending))
			for n := range pending {
				names = append(names, n)
			}
			sort.Strings(names)
			clear(pending)
			for _, n := range names {
				handle(n)
			}
		}
	}
}

// watchable skips metadata sidecars and in-flight temp files.
func watchable(name string) bool {
	if strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".meta") {
		return false
	}
	return strings.EqualFold(path.Ext(name), ".csv")
}
