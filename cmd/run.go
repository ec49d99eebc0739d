package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/photo-dedup/internal/config"
	"github.com/kozaktomas/photo-dedup/internal/constants"
	"github.com/kozaktomas/photo-dedup/internal/hashcache"
	"github.com/kozaktomas/photo-dedup/internal/logger"
	"github.com/kozaktomas/photo-dedup/internal/pipeline"
	"github.com/kozaktomas/photo-dedup/internal/placer"
	"github.com/kozaktomas/photo-dedup/internal/walker"
)

var runCmd = &cobra.Command{
	Use:   "run <input-dir> <output-dir>",
	Short: "Deduplicate the images in a directory",
	Long: `Hash every image in the input directory, group near-duplicates and write
one image per group to the output directory.

Duplicates are left alone unless --duplicates-dir is given, in which case
they are written there. With --move the sources are moved instead of copied.

Examples:
  # Copy unique images to ./clean
  photo-dedup run ./photos ./clean

  # Stricter matching with 256-bit fingerprints
  photo-dedup run ./photos ./clean --hash-size 16 --threshold 20

  # Keep the largest file of each group and collect the rest
  photo-dedup run ./photos ./clean --policy largest --duplicates-dir ./dups

  # Treat every subfolder as its own collection
  photo-dedup run ./albums ./clean --by-folder --own-folder

  # Show what would happen without writing anything
  photo-dedup run ./photos ./clean --dry-run`,
	Args: cobra.ExactArgs(2),
	RunE: runDedup,
}

func init() {
	rootCmd.AddCommand(runCmd)

	addFingerprintFlags(runCmd)
	runCmd.Flags().Int("threshold", config.ThresholdAuto, "Maximum Hamming distance for duplicates (-1 scales 10 per 64 bits)")
	runCmd.Flags().String("index", constants.DefaultIndex, "Neighbour index: exact, or hnsw (approximate, lower recall: may miss some duplicates)")
	runCmd.Flags().String("policy", constants.DefaultPolicy, "Which image of a group to keep: first, largest or resolution")
	runCmd.Flags().Int("workers", 0, "Number of parallel workers (default: number of CPUs)")
	runCmd.Flags().Int("retry-limit", constants.DefaultRetryLimit, "Attempts per file on transient I/O errors")
	runCmd.Flags().Bool("mem-cache", false, "Keep file contents in memory between hashing and placing")

	runCmd.Flags().String("extensions", constants.DefaultExtensions, "Image extensions to include, comma or space separated")
	runCmd.Flags().Bool("recursive", false, "Descend into subdirectories")
	runCmd.Flags().Bool("by-folder", false, "Deduplicate each immediate subfolder independently")

	runCmd.Flags().String("duplicates-dir", "", "Write duplicates to this directory")
	runCmd.Flags().Bool("move", false, "Move files instead of copying them")
	runCmd.Flags().Bool("preserve-structure", false, "Mirror the input directory structure in the output")
	runCmd.Flags().Bool("own-folder", false, "Write into a folder named after the input (or subfolder)")
	runCmd.MarkFlagsMutuallyExclusive("preserve-structure", "own-folder")

	runCmd.Flags().Bool("cache", false, "Reuse fingerprints stored in the on-disk cache")
	runCmd.Flags().String("cache-path", "", "Fingerprint cache location (implies --cache)")

	runCmd.Flags().Bool("dry-run", false, "Plan placements without writing anything")
	runCmd.Flags().Bool("json", false, "Output the report as JSON")
	runCmd.Flags().Bool("groups", false, "List every duplicate group in the summary")
}

func runDedup(cmd *cobra.Command, args []string) error {
	dryRun := mustGetBool(cmd, "dry-run")
	jsonOutput := mustGetBool(cmd, "json")
	showGroups := mustGetBool(cmd, "groups")

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	cfg.Output.Dir = args[1]
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var cache *hashcache.Cache
	if cfg.Cache.Enabled {
		cache, err = hashcache.Open(cfg.Cache.Path)
		if err != nil {
			return fmt.Errorf("opening fingerprint cache: %w", err)
		}
		defer cache.Close()
		logger.Named("run").Debug().Str("path", cache.Path()).Msg("Fingerprint cache opened")
	}

	if !jsonOutput {
		fmt.Printf("Deduplicating %s -> %s\n", args[0], cfg.Output.Dir)
		fmt.Printf("Algorithm: %s, %d bits, threshold %d\n\n",
			cfg.Fingerprint.Algorithm, cfg.Bits(), cfg.EffectiveThreshold())
	}

	report, runErr := dedup(ctx, cfg, args[0], runSettings{
		DryRun:   dryRun,
		Progress: !jsonOutput,
		Cache:    cache,
	})
	if report != nil {
		if jsonOutput {
			if err := outputJSON(report); err != nil {
				return err
			}
		} else {
			printSummary(report, showGroups || dryRun)
		}
	}
	return runErr
}

// runSettings carries the per-invocation choices that are not part of Config.
type runSettings struct {
	DryRun   bool
	Progress bool
	Cache    *hashcache.Cache
}

// dedup runs the pipeline over input, once per subfolder in by-folder mode.
// The returned report is non-nil whenever any batch ran, even on error.
func dedup(ctx context.Context, cfg *config.Config, input string, s runSettings) (*pipeline.Report, error) {
	input, err := filepath.Abs(input)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", input, err)
	}
	if info, err := os.Stat(input); err != nil {
		return nil, err
	} else if !info.IsDir() {
		return nil, &config.ConfigurationError{Field: "input", Reason: fmt.Sprintf("%s is not a directory", input)}
	}

	pl, err := newPlacer(cfg, input)
	if err != nil {
		return nil, err
	}

	log := logger.Named("run")
	total := &pipeline.Report{}

	batches := []walker.Batch{{Root: input}}
	if cfg.Input.ByFolder {
		folders, err := walker.Folders(input)
		switch {
		case errors.Is(err, walker.ErrNoFolders):
			msg := fmt.Sprintf("%s has no subfolders; processing it as a single batch", input)
			log.Warn().Str("root", input).Msg("No subfolders, processing the input directory itself")
			total.Warnings = append(total.Warnings, msg)
		case err != nil:
			return nil, err
		default:
			batches = folders
		}
	}

	walkOpts := walker.Options{Extensions: cfg.Input.Extensions, Recursive: cfg.Input.Recursive}
	ran := false
	for _, b := range batches {
		if err := ctx.Err(); err != nil {
			total.Canceled = true
			return total, fmt.Errorf("run canceled before %s: %w", b.Root, err)
		}

		opts := pipeline.OptionsFromConfig(cfg)
		opts.DryRun = s.DryRun
		opts.Batch = b.Name

		var options []pipeline.Option
		if s.Cache != nil {
			options = append(options, pipeline.WithCache(s.Cache))
		}
		if s.Progress {
			options = append(options, pipeline.WithProgress(newBarSink(b.Name)))
		}

		p, err := pipeline.New(opts, pl.ForRoot(b.Root), options...)
		if err != nil {
			return nil, err
		}

		paths := walker.Paths(b.Root, walkOpts, func(err error) {
			log.Warn().Err(err).Str("root", b.Root).Msg("Skipping unreadable entry")
		})
		report, err := p.Run(ctx, paths)
		if report != nil {
			if !ran {
				total.RunID = report.RunID
				ran = true
			}
			total.Add(report)
		}
		if err != nil {
			if !ran {
				return nil, err
			}
			return total, err
		}
	}
	return total, nil
}

func newPlacer(cfg *config.Config, input string) (*placer.Placer, error) {
	layout, err := placer.ParseLayout(cfg.Output.Layout)
	if err != nil {
		return nil, &config.ConfigurationError{Field: "output.layout", Reason: err.Error()}
	}
	mode := placer.ModeCopy
	if cfg.Output.Move {
		mode = placer.ModeMove
	}

	kept, err := filepath.Abs(cfg.Output.Dir)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", cfg.Output.Dir, err)
	}
	var dups string
	if cfg.Output.DuplicatesDir != "" {
		if dups, err = filepath.Abs(cfg.Output.DuplicatesDir); err != nil {
			return nil, fmt.Errorf("resolving %s: %w", cfg.Output.DuplicatesDir, err)
		}
	}

	pl, err := placer.New(placer.Options{
		Mode:           mode,
		Layout:         layout,
		SourceRoot:     input,
		KeptRoot:       kept,
		DuplicatesRoot: dups,
	})
	if err != nil {
		if errors.Is(err, placer.ErrNoKeptRoot) {
			return nil, &config.ConfigurationError{Field: "output.dir", Reason: "is required"}
		}
		return nil, err
	}
	return pl, nil
}
