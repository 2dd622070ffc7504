// Command rune-ingest walks a library directory and upserts its contents
// into the catalog store, per spec.md §4.4. It replaces cmd/ingest/main.go
// (Postgres/objstore-backed) with the SQLite catalog store and local
// filesystem this repo uses; the cobra flag layout and --watch mode are
// carried over from that file.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/fatih/color"
	"github.com/fsnotify/fsnotify"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/runic-labs/rune/internal/catalog"
	"github.com/runic-labs/rune/internal/fsx"
	"github.com/runic-labs/rune/internal/hlc"
	"github.com/runic-labs/rune/internal/ingest"
	"github.com/runic-labs/rune/internal/logging"
	"github.com/runic-labs/rune/internal/vectorindex"
)

var (
	flagLibraryRoot string
	flagDB          string
	flagVectors     string
	flagForce       bool
	flagWatch       bool
	flagWorkers     int
)

var rootCmd = &cobra.Command{
	Use:   "rune-ingest",
	Short: "Index a music library directory into the rune catalog",
	RunE:  run,
}

func init() {
	home, _ := os.UserHomeDir()
	rootCmd.Flags().StringVar(&flagLibraryRoot, "dir", filepath.Join(home, "Music"), "Library directory to scan")
	rootCmd.Flags().StringVar(&flagDB, "db", filepath.Join(home, ".rune", "catalog.db"), "Path to the catalog SQLite database")
	rootCmd.Flags().StringVar(&flagVectors, "vectors", filepath.Join(home, ".rune", "vectors"), "Path to the vector index's badger directory (optional; skipped if locked by a running runed)")
	rootCmd.Flags().BoolVar(&flagForce, "force", false, "Re-ingest every file even if its mtime and hash are unchanged")
	rootCmd.Flags().BoolVar(&flagWatch, "watch", false, "Re-run ingestion whenever the library directory changes")
	rootCmd.Flags().IntVar(&flagWorkers, "workers", runtime.NumCPU(), "Number of parallel ingest workers")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		color.Red("rune-ingest: %v", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, _ []string) error {
	log := logging.New(logging.Options{Level: "info", Component: "rune-ingest"})
	ctx := cmd.Context()

	if err := os.MkdirAll(filepath.Dir(flagDB), 0o755); err != nil {
		return fmt.Errorf("rune-ingest: create data dir: %w", err)
	}
	store, err := catalog.Connect(ctx, fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)", flagDB))
	if err != nil {
		return fmt.Errorf("rune-ingest: connect catalog: %w", err)
	}
	defer store.Close()
	if err := store.Migrate(); err != nil {
		return fmt.Errorf("rune-ingest: migrate catalog: %w", err)
	}

	libFS, err := fsx.NewScopedFS(flagLibraryRoot)
	if err != nil {
		return fmt.Errorf("rune-ingest: scope library root: %w", err)
	}

	// The vector index is opened best-effort: a runed daemon may already
	// hold its badger lock, and ingestion must proceed without it. When
	// unavailable, a re-ingested file's stale vector just waits for the
	// next rune-analyze pass to overwrite it via Upsert. index is left a
	// true nil interface value when unopened, not a nil *vectorindex.Index,
	// so ingest.Pipeline's nil check behaves correctly.
	var index ingest.VectorIndexer
	if err := os.MkdirAll(flagVectors, 0o755); err == nil {
		if idx, err := vectorindex.Open(flagVectors); err == nil {
			index = idx
			defer idx.Close()
		} else {
			log.Warn().Err(err).Msg("rune-ingest: vector index unavailable, continuing without invalidation")
		}
	}

	clock := hlc.New(hlc.NewNodeID())
	pipeline := ingest.New(libFS, store, clock, index, log)

	runOnce := func() error {
		var bar *progressbar.ProgressBar
		opts := ingest.Options{
			LibraryRoot: flagLibraryRoot,
			Force:       flagForce,
			Workers:     flagWorkers,
			OnProgress: func(p ingest.Progress) {
				if bar == nil {
					bar = progressbar.Default(int64(p.Total), string(p.Phase))
				}
				_ = bar.Set(p.Current)
			},
		}
		if err := pipeline.Run(ctx, opts); err != nil {
			return err
		}
		color.Green("rune-ingest: pass complete")
		return nil
	}

	if err := runOnce(); err != nil {
		return err
	}
	if !flagWatch {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("rune-ingest: create watcher: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(flagLibraryRoot); err != nil {
		return fmt.Errorf("rune-ingest: watch library root: %w", err)
	}

	var debounce *time.Timer
	debounceRun := func() {
		if debounce != nil {
			debounce.Stop()
		}
		debounce = time.AfterFunc(2*time.Second, func() {
			if err := runOnce(); err != nil {
				log.Warn().Err(err).Msg("rune-ingest: watch-triggered pass failed")
			}
		})
	}

	color.Cyan("rune-ingest: watching %s for changes", flagLibraryRoot)
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
				debounceRun()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warn().Err(err).Msg("rune-ingest: watcher error")
		}
	}
}
