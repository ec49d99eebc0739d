package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"

	"github.com/kozaktomas/photo-dedup/internal/pipeline"
)

func outputJSON(data any) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(data); err != nil {
		return fmt.Errorf("encoding JSON output: %w", err)
	}
	return nil
}

// newHashProgressBar creates a progress bar, or nil if JSON output.
// A negative count draws a spinner for inputs of unknown size.
func newHashProgressBar(count int, description, unit string, jsonOutput bool) *progressbar.ProgressBar {
	if jsonOutput {
		return nil
	}
	return progressbar.NewOptions(count,
		progressbar.OptionSetDescription(description),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString(unit),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetPredictTime(count > 0),
		progressbar.OptionFullWidth(),
	)
}

// barSink draws pipeline progress as one bar per stage.
type barSink struct {
	mu    sync.Mutex
	label string
	bars  map[pipeline.Stage]*progressbar.ProgressBar
}

func newBarSink(label string) *barSink {
	return &barSink{label: label, bars: make(map[pipeline.Stage]*progressbar.ProgressBar)}
}

func (s *barSink) Start(stage pipeline.Stage, total int) {
	if stage == pipeline.StageClustering {
		return
	}
	desc := "Hashing"
	unit := "images"
	if stage == pipeline.StagePlacing {
		desc = "Placing"
		unit = "files"
	}
	if s.label != "" {
		desc = s.label + ": " + desc
	}
	s.mu.Lock()
	s.bars[stage] = newHashProgressBar(total, desc, unit, false)
	s.mu.Unlock()
}

func (s *barSink) Advance(stage pipeline.Stage) {
	s.mu.Lock()
	bar := s.bars[stage]
	s.mu.Unlock()
	if bar != nil {
		_ = bar.Add(1)
	}
}

func (s *barSink) Finish(stage pipeline.Stage) {
	s.mu.Lock()
	bar := s.bars[stage]
	delete(s.bars, stage)
	s.mu.Unlock()
	if bar != nil {
		_ = bar.Finish()
		fmt.Println()
	}
}

// printSummary prints the run report for humans.
func printSummary(r *pipeline.Report, showGroups bool) {
	bold := color.New(color.Bold).SprintFunc()
	green := color.New(color.FgGreen).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()
	gray := color.New(color.FgHiBlack).SprintFunc()

	title := "Run"
	if r.DryRun {
		title = "Dry run"
	}
	fmt.Printf("\n%s %s\n", bold(title), gray(r.RunID))
	if len(r.Batches) > 0 {
		fmt.Printf("  Folders:    %d\n", len(r.Batches))
	}
	fmt.Printf("  Images:     %d\n", r.Total)
	fmt.Printf("  Hashed:     %s", green(r.Hashed))
	if r.Cached > 0 {
		fmt.Printf(" %s", gray(fmt.Sprintf("(%d from cache)", r.Cached)))
	}
	fmt.Println()
	if len(r.Failed) > 0 {
		fmt.Printf("  Failed:     %s\n", red(len(r.Failed)))
	} else {
		fmt.Printf("  Failed:     0\n")
	}
	fmt.Printf("  Groups:     %d\n", r.GroupCount)
	fmt.Printf("  Kept:       %s\n", green(r.Kept))
	fmt.Printf("  Removed:    %s\n", yellow(r.Removed))
	if r.DryRun {
		fmt.Printf("  Planned:    %d\n", len(r.Placements))
	} else {
		fmt.Printf("  Placed:     %d\n", r.Placed)
	}
	if len(r.PlacementFailures) > 0 {
		fmt.Printf("  Not placed: %s\n", red(len(r.PlacementFailures)))
	}
	if r.Skipped > 0 {
		fmt.Printf("  Skipped:    %s\n", yellow(r.Skipped))
	}
	fmt.Printf("  Duration:   %s\n", r.Duration.Round(time.Millisecond))
	if r.Canceled {
		fmt.Printf("\n%s\n", yellow("Interrupted: the run was canceled before it finished."))
	}

	for _, w := range r.Warnings {
		fmt.Printf("\n%s %s\n", yellow("Warning:"), w)
	}

	if showGroups && len(r.Duplicates) > 0 {
		fmt.Printf("\n%s\n", bold("Duplicate groups:"))
		for _, g := range r.Duplicates {
			fmt.Printf("  %s %s\n", green("keep"), g.Keep)
			for _, d := range g.Duplicates {
				fmt.Printf("    %s %s\n", gray("dup"), d)
			}
		}
	}

	if r.DryRun && showGroups {
		fmt.Printf("\n%s\n", bold("Planned placements:"))
		for _, p := range r.Placements {
			fmt.Printf("  %s -> %s\n", p.Source, p.Dest)
		}
	}

	if len(r.Failed) > 0 {
		fmt.Printf("\n%s\n", red("Failed images:"))
		for _, f := range r.Failed {
			fmt.Printf("  - %s: %s\n", f.Path, f.Error)
		}
	}
	if len(r.PlacementFailures) > 0 {
		fmt.Printf("\n%s\n", red("Placement failures:"))
		for _, f := range r.PlacementFailures {
			fmt.Printf("  - %s -> %s: %s\n", f.Path, f.Dest, f.Error)
		}
	}
}
