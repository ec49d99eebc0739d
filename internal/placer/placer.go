// Package placer writes kept images and, optionally, duplicates into output trees.
//
// Destinations are assigned by Plan in a single deterministic pass; writes can
// then run concurrently. Every write goes to a temporary file in the destination
// directory and is renamed into place, so an interrupted run never leaves a
// half-written image behind.
package placer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/renameio"
	"golang.org/x/text/unicode/norm"

	"github.com/kozaktomas/photo-dedup/internal/constants"
)

// Mode selects whether sources are kept after placement.
type Mode string

const (
	ModeCopy Mode = "copy"
	ModeMove Mode = "move"
)

// Layout selects how destination paths are derived from source paths.
type Layout string

const (
	// LayoutFlat puts every file directly in the destination root.
	LayoutFlat Layout = "flat"
	// LayoutPreserve mirrors the path relative to the source root.
	LayoutPreserve Layout = "preserve-structure"
	// LayoutOwnFolder puts files in a folder named after the source root.
	LayoutOwnFolder Layout = "own-folder"
)

// ParseLayout validates a layout name. Empty selects LayoutFlat.
func ParseLayout(s string) (Layout, error) {
	switch Layout(s) {
	case "", LayoutFlat:
		return LayoutFlat, nil
	case LayoutPreserve, LayoutOwnFolder:
		return Layout(s), nil
	default:
		return "", fmt.Errorf("unknown layout %q", s)
	}
}

// Options configures a Placer.
type Options struct {
	Mode   Mode
	Layout Layout
	// SourceRoot is the input directory; required for the preserve and own-folder layouts.
	SourceRoot string
	// KeptRoot receives kept images.
	KeptRoot string
	// DuplicatesRoot receives duplicates. Empty means duplicates are not written.
	DuplicatesRoot string
}

// Item is one image to place.
type Item struct {
	Source string
	Keep   bool
	// Data holds the file contents when the caller cached them; nil means read Source.
	Data []byte
	// ModTime is applied to the destination when Data is used.
	ModTime time.Time
}

// Target is an item with its assigned destination.
type Target struct {
	Item
	Dest string
}

var (
	ErrNoKeptRoot    = errors.New("kept root is required")
	ErrNoSourceRoot  = errors.New("source root is required for this layout")
	ErrOutsideSource = errors.New("source is outside the source root")
	ErrUnknownMode   = errors.New("unknown placement mode")
	ErrSkipped       = errors.New("duplicate not placed: no duplicates root")
)

// claims tracks destinations handed out so far.
type claims struct {
	mu    sync.Mutex
	paths map[string]struct{}
}

// Placer assigns destinations and writes files. It is safe for concurrent use.
type Placer struct {
	opts   Options
	claims *claims
}

// New validates opts and returns a Placer.
func New(opts Options) (*Placer, error) {
	if opts.Mode == "" {
		opts.Mode = ModeCopy
	}
	if opts.Mode != ModeCopy && opts.Mode != ModeMove {
		return nil, fmt.Errorf("%w: %q", ErrUnknownMode, opts.Mode)
	}
	layout, err := ParseLayout(string(opts.Layout))
	if err != nil {
		return nil, err
	}
	opts.Layout = layout
	if opts.KeptRoot == "" {
		return nil, ErrNoKeptRoot
	}
	if opts.Layout != LayoutFlat && opts.SourceRoot == "" {
		return nil, ErrNoSourceRoot
	}
	return &Placer{opts: opts, claims: &claims{paths: make(map[string]struct{})}}, nil
}

// ForRoot returns a placer for another source root that shares this placer's
// destination claims, so batches writing into one tree never collide.
func (p *Placer) ForRoot(sourceRoot string) *Placer {
	opts := p.opts
	opts.SourceRoot = sourceRoot
	return &Placer{opts: opts, claims: p.claims}
}

// Options returns the placer's effective options.
func (p *Placer) Options() Options { return p.opts }

// Plan assigns a destination to each item in order. Duplicates are dropped when
// no duplicates root is configured. Names colliding with an earlier claim get a
// numeric suffix.
func (p *Placer) Plan(items []Item) ([]Target, error) {
	targets := make([]Target, 0, len(items))
	for _, it := range items {
		dest, err := p.claim(it)
		if errors.Is(err, ErrSkipped) {
			continue
		}
		if err != nil {
			return nil, err
		}
		targets = append(targets, Target{Item: it, Dest: dest})
	}
	return targets, nil
}

// Place claims a destination for item and writes it. It returns the destination path.
func (p *Placer) Place(ctx context.Context, item Item) (string, error) {
	dest, err := p.claim(item)
	if err != nil {
		return "", err
	}
	if err := p.Write(ctx, Target{Item: item, Dest: dest}); err != nil {
		return "", err
	}
	return dest, nil
}

func (p *Placer) root(keep bool) string {
	if keep {
		return p.opts.KeptRoot
	}
	return p.opts.DuplicatesRoot
}

func (p *Placer) claim(item Item) (string, error) {
	root := p.root(item.Keep)
	if root == "" {
		return "", ErrSkipped
	}
	rel, err := p.relative(item.Source)
	if err != nil {
		return "", err
	}
	dest := filepath.Join(root, rel)

	p.claims.mu.Lock()
	defer p.claims.mu.Unlock()

	candidate := dest
	ext := filepath.Ext(dest)
	base := strings.TrimSuffix(dest, ext)
	for n := 1; ; n++ {
		if _, taken := p.claims.paths[candidate]; !taken {
			break
		}
		candidate = base + "_" + strconv.Itoa(n) + ext
	}
	p.claims.paths[candidate] = struct{}{}
	return candidate, nil
}

// relative returns the NFC-normalised destination path relative to a root.
func (p *Placer) relative(source string) (string, error) {
	name := filepath.Base(source)
	var rel string
	switch p.opts.Layout {
	case LayoutPreserve:
		r, err := filepath.Rel(p.opts.SourceRoot, source)
		if err != nil || r == ".." || strings.HasPrefix(r, ".."+string(filepath.Separator)) {
			return "", fmt.Errorf("%w: %s", ErrOutsideSource, source)
		}
		rel = r
	case LayoutOwnFolder:
		rel = filepath.Join(filepath.Base(filepath.Clean(p.opts.SourceRoot)), name)
	default:
		rel = name
	}
	return norm.NFC.String(rel), nil
}

// Write stores one planned target. In move mode the source is removed after a
// successful write.
func (p *Placer) Write(ctx context.Context, t Target) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(t.Dest), constants.DirPerm); err != nil {
		return fmt.Errorf("creating %s: %w", filepath.Dir(t.Dest), err)
	}

	if t.Data == nil && p.opts.Mode == ModeMove {
		if err := os.Rename(t.Source, t.Dest); err == nil {
			return nil
		}
		// Different filesystem; fall back to copy and remove.
	}

	if err := writeAtomic(t); err != nil {
		return err
	}

	if p.opts.Mode == ModeMove {
		if err := os.Remove(t.Source); err != nil {
			return fmt.Errorf("removing source %s: %w", t.Source, err)
		}
	}
	return nil
}

func writeAtomic(t Target) error {
	pf, err := renameio.TempFile(filepath.Dir(t.Dest), t.Dest)
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	defer pf.Cleanup()

	modTime := t.ModTime
	if t.Data != nil {
		if _, err := pf.Write(t.Data); err != nil {
			return fmt.Errorf("writing %s: %w", t.Dest, err)
		}
	} else {
		if modTime, err = copyFrom(pf, t.Source); err != nil {
			return err
		}
	}

	if err := pf.Chmod(constants.FilePerm); err != nil {
		return fmt.Errorf("setting permissions on %s: %w", t.Dest, err)
	}
	if !modTime.IsZero() {
		if err := os.Chtimes(pf.Name(), modTime, modTime); err != nil {
			return fmt.Errorf("setting times on %s: %w", t.Dest, err)
		}
	}
	if err := pf.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("replacing %s: %w", t.Dest, err)
	}
	return nil
}

func copyFrom(w io.Writer, source string) (time.Time, error) {
	f, err := os.Open(source)
	if err != nil {
		return time.Time{}, fmt.Errorf("opening %s: %w", source, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return time.Time{}, fmt.Errorf("stat %s: %w", source, err)
	}
	if _, err := io.Copy(w, f); err != nil {
		return time.Time{}, fmt.Errorf("copying %s: %w", source, err)
	}
	return info.ModTime(), nil
}
