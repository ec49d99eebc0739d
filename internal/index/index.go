// Package index answers distance-bounded neighbour queries over image fingerprints.
//
// An index is built exactly once from the complete set of hashed records and is
// read-only afterwards. Rebuilding means constructing a new index.
package index

import (
	"errors"
	"fmt"

	"github.com/kozaktomas/photo-dedup/internal/fingerprint"
)

var (
	// ErrNotBuilt is returned when an index is queried before Build.
	ErrNotBuilt = errors.New("index not built")
	// ErrAlreadyBuilt is returned when Build is called a second time.
	ErrAlreadyBuilt = errors.New("index already built")
	// ErrUnknownID is returned when Query receives an id that was never indexed.
	ErrUnknownID = errors.New("unknown id")
	// ErrWidthMismatch is returned when entries have different fingerprint widths.
	ErrWidthMismatch = errors.New("fingerprint width mismatch")
)

// NotBuiltError reports a query against an unbuilt index. It matches ErrNotBuilt.
type NotBuiltError struct {
	Kind Kind
}

func (e *NotBuiltError) Error() string {
	return fmt.Sprintf("%s index: query before build", e.Kind)
}

func (e *NotBuiltError) Is(target error) bool { return target == ErrNotBuilt }

// Kind names an index strategy.
type Kind string

const (
	// KindExact compares every pair of fingerprints.
	KindExact Kind = "exact"
	// KindHNSW uses an approximate HNSW graph. It may miss true neighbours.
	KindHNSW Kind = "hnsw"
)

// ParseKind converts a name into a Kind.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindExact, "":
		return KindExact, nil
	case KindHNSW:
		return KindHNSW, nil
	default:
		return "", fmt.Errorf("unknown index kind %q", s)
	}
}

// Entry is one indexed fingerprint.
type Entry struct {
	ID          int
	Fingerprint fingerprint.Fingerprint
}

// Index is a one-shot similarity index.
type Index interface {
	// Build indexes entries. It may only be called once.
	Build(entries []Entry) error
	// Query returns ids within Hamming distance <= radius of id, excluding id, ascending.
	Query(id, radius int) ([]int, error)
	// Len returns the number of indexed entries.
	Len() int
	// Bits returns the fingerprint width, or 0 before Build.
	Bits() int
	// Kind names the strategy.
	Kind() Kind
}

// New creates an unbuilt index of the given kind.
func New(kind Kind) (Index, error) {
	switch kind {
	case KindExact, "":
		return NewExact(), nil
	case KindHNSW:
		return NewHNSW(DefaultHNSWParams()), nil
	default:
		return nil, fmt.Errorf("unknown index kind %q", kind)
	}
}

// checkEntries validates widths and id uniqueness and returns the common width.
func checkEntries(entries []Entry) (int, error) {
	if len(entries) == 0 {
		return 0, nil
	}
	width := entries[0].Fingerprint.Bits()
	seen := make(map[int]struct{}, len(entries))
	for _, e := range entries {
		if e.Fingerprint.Bits() != width {
			return 0, fmt.Errorf("%w: id %d has %d bits, want %d", ErrWidthMismatch, e.ID, e.Fingerprint.Bits(), width)
		}
		if _, dup := seen[e.ID]; dup {
			return 0, fmt.Errorf("duplicate id %d", e.ID)
		}
		seen[e.ID] = struct{}{}
	}
	return width, nil
}
