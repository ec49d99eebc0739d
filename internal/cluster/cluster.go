// Package cluster groups fingerprints whose distance is within a threshold.
//
// Grouping is greedy and order dependent: ids are processed in ascending order and
// each id is merged into the set of every earlier neighbour. The earliest id of a
// group is its representative.
package cluster

import (
	"errors"
	"fmt"
	"slices"

	"github.com/kozaktomas/photo-dedup/internal/index"
)

// ErrNegativeThreshold is returned for threshold < 0.
var ErrNegativeThreshold = errors.New("threshold must not be negative")

// Group is a set of near-duplicate ids. Members are ascending and include Representative.
type Group struct {
	Representative int   `json:"representative"`
	Members        []int `json:"members"`
}

// Size returns the number of members.
func (g Group) Size() int { return len(g.Members) }

// Duplicates returns every member except the representative.
func (g Group) Duplicates() []int {
	out := make([]int, 0, len(g.Members)-1)
	for _, m := range g.Members {
		if m != g.Representative {
			out = append(out, m)
		}
	}
	return out
}

// CoversAll reports whether threshold merges any two fingerprints of the given width.
func CoversAll(threshold, bits int) bool {
	return bits > 0 && threshold >= bits
}

// Build partitions ids into duplicate groups using idx for neighbour queries.
// Groups are returned ordered by representative; singletons are included.
func Build(ids []int, idx index.Index, threshold int) ([]Group, error) {
	if threshold < 0 {
		return nil, fmt.Errorf("%w: %d", ErrNegativeThreshold, threshold)
	}

	order := slices.Clone(ids)
	slices.Sort(order)
	if i, dup := firstDuplicate(order); dup {
		return nil, fmt.Errorf("duplicate id %d", order[i])
	}

	uf := newUnionFind(order)
	for _, id := range order {
		neighbors, err := idx.Query(id, threshold)
		if err != nil {
			return nil, fmt.Errorf("querying neighbours of %d: %w", id, err)
		}
		for _, j := range neighbors {
			// Only earlier ids have been assigned; later ones will link back to us.
			if j >= id || !uf.has(j) {
				continue
			}
			uf.attach(id, j)
		}
	}

	return uf.groups(), nil
}

func firstDuplicate(sorted []int) (int, bool) {
	for i := 1; i < len(sorted); i++ {
		if sorted[i] == sorted[i-1] {
			return i, true
		}
	}
	return 0, false
}
