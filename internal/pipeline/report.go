package pipeline

import (
	"time"

	"github.com/kozaktomas/photo-dedup/internal/selection"
)

// Failure is a per-image error that did not abort the run.
type Failure struct {
	Path     string `json:"path"`
	Dest     string `json:"dest,omitempty"`
	Error    string `json:"error"`
	Attempts int    `json:"attempts,omitempty"`
}

// GroupReport describes one duplicate group by path.
type GroupReport struct {
	Batch      string   `json:"batch,omitempty"`
	Keep       string   `json:"keep"`
	Duplicates []string `json:"duplicates"`
}

// Placement is one planned or completed write.
type Placement struct {
	Source string `json:"source"`
	Dest   string `json:"dest"`
	Keep   bool   `json:"keep"`
}

// Report summarises a run.
type Report struct {
	RunID   string    `json:"run_id"`
	Batches []string  `json:"batches,omitempty"`
	Total   int       `json:"total"`
	Hashed  int       `json:"hashed"`
	Cached  int       `json:"cached"`
	Failed  []Failure `json:"failed"`

	GroupCount int           `json:"group_count"`
	Duplicates []GroupReport `json:"duplicates"`
	Kept       int           `json:"kept"`
	Removed    int           `json:"removed"`

	DryRun            bool        `json:"dry_run,omitempty"`
	Placements        []Placement `json:"placements,omitempty"`
	Placed            int         `json:"placed"`
	PlacementFailures []Failure   `json:"placement_failures"`
	Skipped           int         `json:"skipped"`

	Canceled bool          `json:"canceled"`
	Warnings []string      `json:"warnings,omitempty"`
	Duration time.Duration `json:"duration"`

	Records   []Record             `json:"-"`
	Decisions []selection.Decision `json:"-"`
}

// Add folds another batch's report into r. Records and decisions stay per batch.
func (r *Report) Add(o *Report) {
	r.Batches = append(r.Batches, o.Batches...)
	r.Total += o.Total
	r.Hashed += o.Hashed
	r.Cached += o.Cached
	r.Failed = append(r.Failed, o.Failed...)
	r.GroupCount += o.GroupCount
	r.Duplicates = append(r.Duplicates, o.Duplicates...)
	r.Kept += o.Kept
	r.Removed += o.Removed
	r.DryRun = r.DryRun || o.DryRun
	r.Placements = append(r.Placements, o.Placements...)
	r.Placed += o.Placed
	r.PlacementFailures = append(r.PlacementFailures, o.PlacementFailures...)
	r.Skipped += o.Skipped
	r.Canceled = r.Canceled || o.Canceled
	r.Warnings = append(r.Warnings, o.Warnings...)
	r.Duration += o.Duration
}
