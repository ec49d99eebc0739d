// Package walker enumerates image files below a directory.
package walker

import (
	"errors"
	"fmt"
	"io/fs"
	"iter"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// Options controls which files are yielded.
type Options struct {
	// Extensions without leading dots, matched case-insensitively.
	Extensions []string
	// Recursive descends into subdirectories.
	Recursive bool
}

func (o Options) matches(name string) bool {
	ext := strings.TrimPrefix(filepath.Ext(name), ".")
	if ext == "" {
		return false
	}
	for _, e := range o.Extensions {
		if strings.EqualFold(ext, strings.TrimPrefix(e, ".")) {
			return true
		}
	}
	return false
}

// Walk lazily yields absolute paths of matching files in lexical order.
// Hidden files and directories are skipped. Errors for unreadable entries are
// yielded alongside an empty path and the walk continues.
func Walk(root string, opts Options) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		abs, err := filepath.Abs(root)
		if err != nil {
			yield("", fmt.Errorf("resolving %s: %w", root, err))
			return
		}
		info, err := os.Stat(abs)
		if err != nil {
			yield("", err)
			return
		}
		if !info.IsDir() {
			yield("", fmt.Errorf("%s is not a directory", abs))
			return
		}

		_ = filepath.WalkDir(abs, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				if !yield("", err) {
					return filepath.SkipAll
				}
				if d != nil && d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			if path == abs {
				return nil
			}
			if strings.HasPrefix(d.Name(), ".") {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			if d.IsDir() {
				if !opts.Recursive {
					return filepath.SkipDir
				}
				return nil
			}
			if !d.Type().IsRegular() || !opts.matches(d.Name()) {
				return nil
			}
			if !yield(path, nil) {
				return filepath.SkipAll
			}
			return nil
		})
	}
}

// Paths adapts Walk to a plain path sequence, passing errors to onErr.
func Paths(root string, opts Options, onErr func(error)) iter.Seq[string] {
	return func(yield func(string) bool) {
		for path, err := range Walk(root, opts) {
			if err != nil {
				if onErr != nil {
					onErr(err)
				}
				continue
			}
			if !yield(path) {
				return
			}
		}
	}
}

// Batch is one independently processed folder.
type Batch struct {
	Name string
	Root string
}

// ErrNoFolders is returned by Folders when root has no subdirectories.
var ErrNoFolders = errors.New("no subfolders to process")

// Folders returns the immediate, non-hidden subdirectories of root in lexical order.
func Folders(root string) ([]Batch, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", root, err)
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", abs, err)
	}

	var out []Batch
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		out = append(out, Batch{Name: e.Name(), Root: filepath.Join(abs, e.Name())})
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoFolders, abs)
	}
	slices.SortFunc(out, func(a, b Batch) int { return strings.Compare(a.Name, b.Name) })
	return out, nil
}
