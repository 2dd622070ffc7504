// Command rune-analyze decodes pending audio files, derives their
// acoustic feature vectors and fingerprints, and persists them into the
// catalog and vector index, per spec.md §4.5. No teacher file wires an
// equivalent CLI; the cobra flag shape and progress rendering mirror
// cmd/rune-ingest, this repo's own convention for these small worker
// CLIs.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/runic-labs/rune/internal/analysis"
	"github.com/runic-labs/rune/internal/catalog"
	"github.com/runic-labs/rune/internal/dsp"
	"github.com/runic-labs/rune/internal/hlc"
	"github.com/runic-labs/rune/internal/logging"
	"github.com/runic-labs/rune/internal/vectorindex"
)

var (
	flagDB      string
	flagVectors string
	flagDevice  string
	flagForce   bool
	flagWorkers int
)

var rootCmd = &cobra.Command{
	Use:   "rune-analyze",
	Short: "Analyze pending media files and populate the vector index",
	RunE:  run,
}

func init() {
	home, _ := os.UserHomeDir()
	rootCmd.Flags().StringVar(&flagDB, "db", filepath.Join(home, ".rune", "catalog.db"), "Path to the catalog SQLite database")
	rootCmd.Flags().StringVar(&flagVectors, "vectors", filepath.Join(home, ".rune", "vectors"), "Path to the vector index's badger directory")
	rootCmd.Flags().StringVar(&flagDevice, "device", "cpu", "Analysis kernel: cpu | gpu")
	rootCmd.Flags().BoolVar(&flagForce, "force", false, "Re-analyze every previously analyzed file")
	rootCmd.Flags().IntVar(&flagWorkers, "workers", runtime.NumCPU(), "Number of parallel analysis workers")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		color.Red("rune-analyze: %v", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, _ []string) error {
	log := logging.New(logging.Options{Level: "info", Component: "rune-analyze"})
	ctx := cmd.Context()

	store, err := catalog.Connect(ctx, fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)", flagDB))
	if err != nil {
		return fmt.Errorf("rune-analyze: connect catalog: %w", err)
	}
	defer store.Close()
	if err := store.Migrate(); err != nil {
		return fmt.Errorf("rune-analyze: migrate catalog: %w", err)
	}

	if err := os.MkdirAll(flagVectors, 0o755); err != nil {
		return fmt.Errorf("rune-analyze: create vector index dir: %w", err)
	}
	index, err := vectorindex.Open(flagVectors)
	if err != nil {
		return fmt.Errorf("rune-analyze: open vector index: %w", err)
	}
	defer index.Close()

	kernel := pickKernel(flagDevice)
	clock := hlc.New(hlc.NewNodeID())
	pipeline := analysis.New(store, clock, analysis.WAVDecoder{}, kernel, nil, index, log)

	var bar *progressbar.ProgressBar
	opts := analysis.Options{
		Force:   flagForce,
		Workers: flagWorkers,
		OnProgress: func(p analysis.Progress) {
			if bar == nil {
				bar = progressbar.Default(int64(p.Total), "analyzing")
			}
			_ = bar.Set(p.Current)
		},
	}
	if err := pipeline.Run(ctx, opts); err != nil {
		return fmt.Errorf("rune-analyze: run: %w", err)
	}
	color.Green("rune-analyze: pass complete")
	return nil
}

func pickKernel(device string) dsp.Kernel {
	if device == "gpu" {
		return dsp.GPUKernel{}
	}
	return dsp.CPUKernel{}
}
