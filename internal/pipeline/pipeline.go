// Package pipeline runs the batch: hash every image in parallel, wait for all
// workers, cluster near-duplicates, select keepers, then place the results.
package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"iter"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/kozaktomas/photo-dedup/internal/cluster"
	"github.com/kozaktomas/photo-dedup/internal/config"
	"github.com/kozaktomas/photo-dedup/internal/constants"
	"github.com/kozaktomas/photo-dedup/internal/fingerprint"
	"github.com/kozaktomas/photo-dedup/internal/hashcache"
	"github.com/kozaktomas/photo-dedup/internal/index"
	"github.com/kozaktomas/photo-dedup/internal/logger"
	"github.com/kozaktomas/photo-dedup/internal/placer"
	"github.com/kozaktomas/photo-dedup/internal/selection"
)

// Options configures a run.
type Options struct {
	Algorithm   fingerprint.Algorithm
	HashSize    int
	Threshold   int
	Index       index.Kind
	Policy      string
	Workers     int
	MemoryCache bool
	DryRun      bool
	// Batch names the folder in by-folder mode; it is copied into the report.
	Batch string
	Retry RetryConfig
}

// DefaultOptions returns options matching config.Default.
func DefaultOptions() Options {
	return OptionsFromConfig(config.Default())
}

// OptionsFromConfig maps a loaded configuration onto run options.
func OptionsFromConfig(cfg *config.Config) Options {
	retry := DefaultRetryConfig()
	retry.Attempts = cfg.Processing.RetryLimit
	return Options{
		Algorithm:   fingerprint.Algorithm(cfg.Fingerprint.Algorithm),
		HashSize:    cfg.Fingerprint.HashSize,
		Threshold:   cfg.EffectiveThreshold(),
		Index:       index.Kind(cfg.Fingerprint.Index),
		Policy:      cfg.Output.Policy,
		Workers:     cfg.Processing.Workers,
		MemoryCache: cfg.Processing.MemoryCache,
		Retry:       retry,
	}
}

// Validate returns a *config.ConfigurationError for unusable options.
// A threshold at or above the fingerprint width is accepted; Run warns about it.
func (o Options) Validate() error {
	invalid := func(field, format string, args ...any) error {
		return &config.ConfigurationError{Field: field, Reason: fmt.Sprintf(format, args...)}
	}
	switch {
	case o.HashSize < fingerprint.MinHashSize:
		return invalid("hash_size", "must be at least %d, got %d", fingerprint.MinHashSize, o.HashSize)
	case o.Threshold < 0:
		return invalid("threshold", "must not be negative, got %d", o.Threshold)
	case o.Workers < 1:
		return invalid("worker_count", "must be at least 1, got %d", o.Workers)
	case o.Retry.Attempts < 1:
		return invalid("retry_limit", "must be at least 1, got %d", o.Retry.Attempts)
	}
	if _, err := fingerprint.ParseAlgorithm(string(o.Algorithm)); err != nil {
		return invalid("algorithm", "%v", err)
	}
	if _, err := index.ParseKind(string(o.Index)); err != nil {
		return invalid("index", "%v", err)
	}
	noMetric := func(int) int64 { return 0 }
	if _, err := selection.ParsePolicy(o.Policy, noMetric, noMetric); err != nil {
		return invalid("policy", "%v", err)
	}
	return nil
}

// Placer assigns destinations and writes them. *placer.Placer implements it.
type Placer interface {
	Plan(items []placer.Item) ([]placer.Target, error)
	Write(ctx context.Context, t placer.Target) error
}

// Cache stores fingerprints between runs. *hashcache.Cache implements it.
type Cache interface {
	Get(ctx context.Context, key hashcache.Key) (hashcache.Entry, bool, error)
	Put(ctx context.Context, key hashcache.Key, e hashcache.Entry) error
}

// Source reads input files.
type Source interface {
	Stat(path string) (fs.FileInfo, error)
	ReadFile(path string) ([]byte, error)
}

type osSource struct{}

func (osSource) Stat(path string) (fs.FileInfo, error) { return os.Stat(path) }
func (osSource) ReadFile(path string) ([]byte, error)  { return os.ReadFile(path) }

// Stage names a pipeline phase for progress reporting.
type Stage string

const (
	StageHashing    Stage = "hashing"
	StageClustering Stage = "clustering"
	StagePlacing    Stage = "placing"
)

// ProgressSink receives progress events. Advance is called from worker goroutines.
type ProgressSink interface {
	Start(stage Stage, total int) // total is -1 when unknown
	Advance(stage Stage)
	Finish(stage Stage)
}

// Counters is a snapshot of run progress.
type Counters struct {
	Ingested int64
	Hashed   int64
	Failed   int64
	Placed   int64
}

// Option customises a Pipeline.
type Option func(*Pipeline)

// WithCache enables the persisted fingerprint cache.
func WithCache(c Cache) Option { return func(p *Pipeline) { p.cache = c } }

// WithProgress attaches a progress sink.
func WithProgress(s ProgressSink) Option { return func(p *Pipeline) { p.sink = s } }

// WithSource replaces the filesystem reader.
func WithSource(s Source) Option { return func(p *Pipeline) { p.source = s } }

// Pipeline orchestrates one batch. A Pipeline can run more than once; counters accumulate.
type Pipeline struct {
	opts   Options
	placer Placer
	cache  Cache
	source Source
	sink   ProgressSink

	ingested atomic.Int64
	hashed   atomic.Int64
	failed   atomic.Int64
	placed   atomic.Int64
}

// New validates opts and builds a pipeline. A nil placer disables placement.
func New(opts Options, pl Placer, options ...Option) (*Pipeline, error) {
	if opts.Algorithm == "" {
		opts.Algorithm = fingerprint.DHash
	}
	if opts.Index == "" {
		opts.Index = index.KindExact
	}
	if opts.Retry.BackoffMultiplier == 0 {
		opts.Retry.BackoffMultiplier = constants.RetryBackoffMultiplier
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	p := &Pipeline{opts: opts, placer: pl, source: osSource{}}
	for _, o := range options {
		o(p)
	}
	return p, nil
}

// Counters returns the current progress counters.
func (p *Pipeline) Counters() Counters {
	return Counters{
		Ingested: p.ingested.Load(),
		Hashed:   p.hashed.Load(),
		Failed:   p.failed.Load(),
		Placed:   p.placed.Load(),
	}
}

// Run processes paths. Per-image failures are collected in the report. The
// returned error is non-nil only for cancellation (wrapping ctx.Err()) and for
// internal failures that abort the run before anything is placed.
func (p *Pipeline) Run(ctx context.Context, paths iter.Seq[string]) (*Report, error) {
	start := time.Now()
	report := &Report{RunID: uuid.NewString(), DryRun: p.opts.DryRun}
	if p.opts.Batch != "" {
		report.Batches = []string{p.opts.Batch}
	}
	ctx = logger.WithRun(ctx, report.RunID)
	log := logger.C(ctx).With().Str("component", "pipeline").Str("batch", p.opts.Batch).Logger()

	records := p.hashAll(ctx, paths)
	defer func() {
		report.Records = snapshot(records)
		report.Duration = time.Since(start)
	}()
	summariseHashing(report, records)
	log.Debug().Int("total", report.Total).Int("hashed", report.Hashed).Int("failed", len(report.Failed)).
		Dur("elapsed", time.Since(start)).Msg("hashing finished")

	if err := ctx.Err(); err != nil {
		report.Canceled = true
		return report, fmt.Errorf("hashing interrupted: %w", err)
	}

	groups, err := p.group(records, report)
	if err != nil {
		return report, err
	}

	policy, err := selection.ParsePolicy(p.opts.Policy,
		func(id int) int64 { return metric(records, id, func(r *Record) int64 { return r.Size }) },
		func(id int) int64 { return metric(records, id, (*Record).Pixels) },
	)
	if err != nil {
		return report, err
	}
	decisions := selection.Select(groups, policy)
	report.Decisions = decisions
	summariseDecisions(report, records, decisions, p.opts.Batch)

	if p.placer == nil {
		return report, nil
	}
	if err := p.place(ctx, records, decisions, report); err != nil {
		return report, err
	}
	if err := ctx.Err(); err != nil {
		report.Canceled = true
		return report, fmt.Errorf("placing interrupted: %w", err)
	}
	return report, nil
}

func (p *Pipeline) start(stage Stage, total int) {
	if p.sink != nil {
		p.sink.Start(stage, total)
	}
}

func (p *Pipeline) advance(stage Stage) {
	if p.sink != nil {
		p.sink.Advance(stage)
	}
}

func (p *Pipeline) finish(stage Stage) {
	if p.sink != nil {
		p.sink.Finish(stage)
	}
}

// hashAll ingests paths, assigning ids in enumeration order, and hashes them on
// a bounded worker pool. It returns once every submitted record is settled.
func (p *Pipeline) hashAll(ctx context.Context, paths iter.Seq[string]) []*Record {
	sem := semaphore.NewWeighted(int64(p.opts.Workers))
	var wg sync.WaitGroup
	var records []*Record

	p.start(StageHashing, -1)
	for path := range paths {
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		rec := &Record{ID: len(records), Path: path}
		records = append(records, rec)
		p.ingested.Add(1)

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer sem.Release(1)
			p.hashOne(ctx, rec)
			p.advance(StageHashing)
		}()
	}
	wg.Wait()
	p.finish(StageHashing)
	return records
}

func (p *Pipeline) hashOne(ctx context.Context, rec *Record) {
	attempts, err := retryWithBackoff(ctx, p.opts.Retry, "stat", rec.Path, func() error {
		info, err := p.source.Stat(rec.Path)
		if err != nil {
			return err
		}
		rec.Size, rec.ModTime = info.Size(), info.ModTime()
		return nil
	})
	rec.Attempts = attempts
	if err != nil {
		p.fail(ctx, rec, err)
		return
	}

	key := hashcache.Key{
		Path:      rec.Path,
		Size:      rec.Size,
		ModTime:   rec.ModTime,
		Algorithm: string(p.opts.Algorithm),
		HashSize:  p.opts.HashSize,
	}
	if p.cache != nil {
		p.lookup(ctx, key, rec)
	}

	if !rec.Cached || p.opts.MemoryCache {
		var data []byte
		attempts, err := retryWithBackoff(ctx, p.opts.Retry, "read", rec.Path, func() error {
			var err error
			data, err = p.source.ReadFile(rec.Path)
			return err
		})
		rec.Attempts += attempts
		if err != nil {
			p.fail(ctx, rec, err)
			return
		}
		if !rec.Cached {
			if err := p.compute(ctx, key, rec, data); err != nil {
				p.fail(ctx, rec, err)
				return
			}
		}
		if p.opts.MemoryCache {
			rec.data = data
		}
	}

	rec.Status = StatusHashed
	p.hashed.Add(1)
}

func (p *Pipeline) lookup(ctx context.Context, key hashcache.Key, rec *Record) {
	entry, ok, err := p.cache.Get(ctx, key)
	if err != nil {
		logger.C(ctx).Warn().Err(err).Str("path", rec.Path).Msg("fingerprint cache lookup failed")
		return
	}
	if !ok || entry.Bits != p.opts.HashSize*p.opts.HashSize {
		return
	}
	fp, err := fingerprint.ParseHex(entry.Fingerprint, entry.Bits)
	if err != nil {
		return
	}
	rec.Fingerprint = fp
	rec.Format, rec.Width, rec.Height = entry.Format, entry.Width, entry.Height
	rec.Cached = true
}

func (p *Pipeline) compute(ctx context.Context, key hashcache.Key, rec *Record, data []byte) error {
	img, format, err := fingerprint.Decode(bytes.NewReader(data))
	if err != nil {
		return err
	}
	fp, err := fingerprint.ComputeWith(img, p.opts.Algorithm, p.opts.HashSize)
	if err != nil {
		return err
	}
	b := img.Bounds()
	rec.Fingerprint = fp
	rec.Format, rec.Width, rec.Height = format, b.Dx(), b.Dy()

	if p.cache != nil {
		entry := hashcache.Entry{
			Fingerprint: fp.Hex(),
			Bits:        fp.Bits(),
			Format:      format,
			Width:       rec.Width,
			Height:      rec.Height,
			ComputedAt:  time.Now().UTC(),
		}
		if err := p.cache.Put(ctx, key, entry); err != nil {
			logger.C(ctx).Warn().Err(err).Str("path", rec.Path).Msg("fingerprint cache write failed")
		}
	}
	return nil
}

func (p *Pipeline) fail(ctx context.Context, rec *Record, err error) {
	rec.Status = StatusFailed
	rec.Err = err
	rec.data = nil
	p.failed.Add(1)

	ev := logger.C(ctx).Warn()
	if errors.Is(err, fingerprint.ErrDecode) {
		ev = logger.C(ctx).Info()
	}
	ev.Err(err).Str("path", rec.Path).Int("attempts", rec.Attempts).Msg("skipping image")
}

// group builds the similarity index over hashed records and clusters them.
func (p *Pipeline) group(records []*Record, report *Report) ([]cluster.Group, error) {
	p.start(StageClustering, 1)
	defer p.finish(StageClustering)

	entries := make([]index.Entry, 0, len(records))
	ids := make([]int, 0, len(records))
	for _, rec := range records {
		if rec.Status != StatusHashed {
			continue
		}
		entries = append(entries, index.Entry{ID: rec.ID, Fingerprint: rec.Fingerprint})
		ids = append(ids, rec.ID)
	}

	idx, err := index.New(p.opts.Index)
	if err != nil {
		return nil, err
	}
	if err := idx.Build(entries); err != nil {
		return nil, fmt.Errorf("building %s index: %w", p.opts.Index, err)
	}

	bits := p.opts.HashSize * p.opts.HashSize
	if cluster.CoversAll(p.opts.Threshold, bits) && len(ids) > 1 {
		msg := fmt.Sprintf("threshold %d covers all %d fingerprint bits; every image falls into one group", p.opts.Threshold, bits)
		report.Warnings = append(report.Warnings, msg)
		logger.Get().Warn().Int("threshold", p.opts.Threshold).Int("bits", bits).Msg("threshold merges everything")
	}

	groups, err := cluster.Build(ids, idx, p.opts.Threshold)
	if err != nil {
		return nil, fmt.Errorf("clustering: %w", err)
	}
	p.advance(StageClustering)
	return groups, nil
}

// place plans every destination in id order, then writes. Memory-cache mode
// writes sequentially from the cached bytes; otherwise writes run on the worker pool.
func (p *Pipeline) place(ctx context.Context, records []*Record, decisions []selection.Decision, report *Report) error {
	defer func() {
		for _, rec := range records {
			rec.data = nil
		}
	}()

	items := make([]placer.Item, 0, len(decisions))
	for _, d := range decisions {
		rec := records[d.ID]
		items = append(items, placer.Item{Source: rec.Path, Keep: d.Keep, Data: rec.data, ModTime: rec.ModTime})
	}
	targets, err := p.placer.Plan(items)
	if err != nil {
		return fmt.Errorf("planning placement: %w", err)
	}
	for _, t := range targets {
		report.Placements = append(report.Placements, Placement{Source: t.Source, Dest: t.Dest, Keep: t.Keep})
	}
	if p.opts.DryRun {
		return nil
	}

	p.start(StagePlacing, len(targets))
	defer p.finish(StagePlacing)

	results := make([]error, len(targets))
	attempts := make([]int, len(targets))
	done := make([]bool, len(targets))

	write := func(i int) {
		attempts[i], results[i] = retryWithBackoff(ctx, p.opts.Retry, "place", targets[i].Source, func() error {
			return p.placer.Write(ctx, targets[i])
		})
		done[i] = true
		if results[i] == nil {
			p.placed.Add(1)
		}
		p.advance(StagePlacing)
	}

	if p.opts.MemoryCache {
		for i := range targets {
			if ctx.Err() != nil {
				break
			}
			write(i)
		}
	} else {
		sem := semaphore.NewWeighted(int64(p.opts.Workers))
		var wg sync.WaitGroup
		for i := range targets {
			if err := sem.Acquire(ctx, 1); err != nil {
				break
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer sem.Release(1)
				write(i)
			}()
		}
		wg.Wait()
	}

	for i, t := range targets {
		switch {
		case !done[i] || errors.Is(results[i], context.Canceled):
			report.Skipped++
		case results[i] != nil:
			report.PlacementFailures = append(report.PlacementFailures, Failure{
				Path:     t.Source,
				Dest:     t.Dest,
				Error:    results[i].Error(),
				Attempts: attempts[i],
			})
			logger.C(ctx).Warn().Err(results[i]).Str("path", t.Source).Str("dest", t.Dest).Msg("placement failed")
		default:
			report.Placed++
		}
	}
	return nil
}

func metric(records []*Record, id int, f func(*Record) int64) int64 {
	if id < 0 || id >= len(records) || records[id].Status != StatusHashed {
		return -1
	}
	return f(records[id])
}

func summariseHashing(report *Report, records []*Record) {
	report.Total = len(records)
	for _, rec := range records {
		switch rec.Status {
		case StatusHashed:
			report.Hashed++
			if rec.Cached {
				report.Cached++
			}
		case StatusFailed:
			report.Failed = append(report.Failed, Failure{
				Path:     rec.Path,
				Error:    rec.Err.Error(),
				Attempts: rec.Attempts,
			})
		}
	}
}

func summariseDecisions(report *Report, records []*Record, decisions []selection.Decision, batch string) {
	s := selection.Summarize(decisions)
	report.GroupCount, report.Kept, report.Removed = s.Groups, s.Kept, s.Removed

	seen := make(map[*cluster.Group]bool)
	for _, d := range decisions {
		g := d.Group
		if seen[g] || g.Size() < 2 {
			continue
		}
		seen[g] = true
		gr := GroupReport{Batch: batch, Keep: records[g.Representative].Path}
		for _, m := range g.Duplicates() {
			gr.Duplicates = append(gr.Duplicates, records[m].Path)
		}
		report.Duplicates = append(report.Duplicates, gr)
	}
}

func snapshot(records []*Record) []Record {
	out := make([]Record, len(records))
	for i, rec := range records {
		out[i] = *rec
		out[i].data = nil
	}
	return out
}
