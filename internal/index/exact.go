package index

import (
	"fmt"
	"slices"

	"github.com/kozaktomas/photo-dedup/internal/fingerprint"
)

// Exact is a brute-force index: each query scans every entry.
// Suitable for tens of thousands of images and the reference for correctness.
type Exact struct {
	built bool
	bits  int
	ids   []int
	fps   []fingerprint.Fingerprint
	byID  map[int]int // id -> position in ids/fps
}

// NewExact creates an unbuilt exact index.
func NewExact() *Exact {
	return &Exact{}
}

// Build copies entries into the index.
func (x *Exact) Build(entries []Entry) error {
	if x.built {
		return ErrAlreadyBuilt
	}
	width, err := checkEntries(entries)
	if err != nil {
		return err
	}

	x.bits = width
	x.ids = make([]int, len(entries))
	x.fps = make([]fingerprint.Fingerprint, len(entries))
	x.byID = make(map[int]int, len(entries))
	for i, e := range entries {
		x.ids[i] = e.ID
		x.fps[i] = e.Fingerprint
		x.byID[e.ID] = i
	}
	x.built = true
	return nil
}

// Query returns every id within radius of id.
func (x *Exact) Query(id, radius int) ([]int, error) {
	if !x.built {
		return nil, &NotBuiltError{Kind: KindExact}
	}
	pos, ok := x.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownID, id)
	}

	query := x.fps[pos]
	var out []int
	for i, fp := range x.fps {
		if i == pos {
			continue
		}
		if fingerprint.HammingDistance(query, fp) <= radius {
			out = append(out, x.ids[i])
		}
	}
	slices.Sort(out)
	return out, nil
}

// Len returns the number of indexed entries.
func (x *Exact) Len() int { return len(x.ids) }

// Bits returns the fingerprint width.
func (x *Exact) Bits() int { return x.bits }

// Kind returns KindExact.
func (x *Exact) Kind() Kind { return KindExact }
