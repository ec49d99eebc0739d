// Package selection decides which member of each duplicate group is kept.
package selection

import (
	"fmt"
	"slices"

	"github.com/kozaktomas/photo-dedup/internal/cluster"
)

// Decision is the verdict for one hashed image.
type Decision struct {
	ID    int            `json:"id"`
	Keep  bool           `json:"keep"`
	Group *cluster.Group `json:"-"`
}

// Policy picks the member of a group to keep.
type Policy interface {
	Name() string
	Pick(g cluster.Group) int
}

// Policy names accepted by ParsePolicy
const (
	PolicyFirst      = "first"
	PolicyLargest    = "largest"
	PolicyResolution = "resolution"
)

// Metric returns a score for an id; higher wins. Unknown ids should return a negative value.
type Metric func(id int) int64

// KeepFirst keeps the earliest enumerated image.
type KeepFirst struct{}

// Name returns PolicyFirst.
func (KeepFirst) Name() string { return PolicyFirst }

// Pick returns the smallest id.
func (KeepFirst) Pick(g cluster.Group) int { return g.Representative }

// KeepBest keeps the member with the highest metric, breaking ties by smallest id.
type KeepBest struct {
	name   string
	metric Metric
}

// KeepLargestFile keeps the member with the largest file size.
func KeepLargestFile(size Metric) *KeepBest {
	return &KeepBest{name: PolicyLargest, metric: size}
}

// KeepHighestResolution keeps the member with the most pixels.
func KeepHighestResolution(pixels Metric) *KeepBest {
	return &KeepBest{name: PolicyResolution, metric: pixels}
}

// Name returns the policy name.
func (k *KeepBest) Name() string { return k.name }

// Pick returns the best-scoring member.
func (k *KeepBest) Pick(g cluster.Group) int {
	best := g.Representative
	bestScore := k.metric(best)
	for _, m := range g.Members {
		score := k.metric(m)
		if score > bestScore || (score == bestScore && m < best) {
			best, bestScore = m, score
		}
	}
	return best
}

// ParsePolicy builds a policy by name. Metric-based policies need their metric.
func ParsePolicy(name string, size, pixels Metric) (Policy, error) {
	switch name {
	case PolicyFirst, "":
		return KeepFirst{}, nil
	case PolicyLargest:
		if size == nil {
			return nil, fmt.Errorf("policy %q needs a size metric", name)
		}
		return KeepLargestFile(size), nil
	case PolicyResolution:
		if pixels == nil {
			return nil, fmt.Errorf("policy %q needs a resolution metric", name)
		}
		return KeepHighestResolution(pixels), nil
	default:
		return nil, fmt.Errorf("unknown selection policy %q", name)
	}
}

// Select produces one decision per member of every group, ordered by id.
// Exactly one member per group is kept. The decision's group has the kept id as representative.
func Select(groups []cluster.Group, policy Policy) []Decision {
	if policy == nil {
		policy = KeepFirst{}
	}

	var out []Decision
	for _, g := range groups {
		keep := policy.Pick(g)
		if !slices.Contains(g.Members, keep) {
			// A policy must never invent ids; fall back to the earliest member.
			keep = g.Representative
		}
		group := &cluster.Group{Representative: keep, Members: slices.Clone(g.Members)}
		for _, m := range g.Members {
			out = append(out, Decision{ID: m, Keep: m == keep, Group: group})
		}
	}

	slices.SortFunc(out, func(a, b Decision) int { return a.ID - b.ID })
	return out
}

// Summary counts kept and removed decisions.
type Summary struct {
	Groups  int `json:"groups"`
	Kept    int `json:"kept"`
	Removed int `json:"removed"`
}

// Summarize counts decisions.
func Summarize(decisions []Decision) Summary {
	var s Summary
	groups := make(map[*cluster.Group]struct{})
	for _, d := range decisions {
		groups[d.Group] = struct{}{}
		if d.Keep {
			s.Kept++
		} else {
			s.Removed++
		}
	}
	s.Groups = len(groups)
	return s
}
