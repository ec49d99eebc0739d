package index

import (
	"fmt"
	"math/rand"
	"slices"
	"sync"

	"github.com/coder/hnsw"

	"github.com/kozaktomas/photo-dedup/internal/fingerprint"
)

// HNSW graph parameters for bit-vector fingerprints
const (
	// HNSWMaxNeighbors (M) is the maximum number of neighbors per node.
	// Higher values improve recall but increase memory and build time.
	HNSWMaxNeighbors = 16

	// HNSWEfSearch is the minimum search candidate pool size.
	HNSWEfSearch = 64

	// HNSWInitialK is the first number of candidates requested per query.
	// It doubles while every candidate still falls inside the radius.
	HNSWInitialK = 16

	// HNSWSeed makes graph construction reproducible across runs.
	HNSWSeed = 1
)

// HNSWParams tunes the approximate index.
type HNSWParams struct {
	M        int
	EfSearch int
	InitialK int
	Seed     int64
}

// DefaultHNSWParams returns the default graph parameters.
func DefaultHNSWParams() HNSWParams {
	return HNSWParams{
		M:        HNSWMaxNeighbors,
		EfSearch: HNSWEfSearch,
		InitialK: HNSWInitialK,
		Seed:     HNSWSeed,
	}
}

// HNSW wraps an HNSW graph over fingerprints expanded to {0,1} float vectors.
// Squared Euclidean distance between such vectors equals the Hamming distance, so the
// graph orders candidates correctly; every candidate is still re-checked exactly.
//
// The graph holds one node per distinct fingerprint, keyed by the first id that
// carries it. Identical images share a node and are always reported for each other.
// When a search visibly stalls (it misses the query's own node or returns fewer
// nodes than requested) the query falls back to a linear scan of the distinct
// fingerprints. Recall is still lower than Exact: true neighbours the graph never
// visits are missed.
type HNSW struct {
	params  HNSWParams
	graph   *hnsw.Graph[int]
	nodeOf  map[int]int                     // id -> node key
	nodes   map[int]fingerprint.Fingerprint // node key -> fingerprint
	members map[int][]int                   // node key -> ids, ascending
	keys    []int                           // node keys in insertion order
	ids     int
	bits    int
	mu      sync.Mutex
}

// NewHNSW creates an unbuilt approximate index.
func NewHNSW(params HNSWParams) *HNSW {
	if params.M <= 0 {
		params.M = HNSWMaxNeighbors
	}
	if params.EfSearch <= 0 {
		params.EfSearch = HNSWEfSearch
	}
	if params.InitialK <= 0 {
		params.InitialK = HNSWInitialK
	}
	return &HNSW{params: params}
}

// Build adds one graph node per distinct fingerprint.
func (h *HNSW) Build(entries []Entry) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.nodeOf != nil {
		return ErrAlreadyBuilt
	}
	width, err := checkEntries(entries)
	if err != nil {
		return err
	}

	g := hnsw.NewGraph[int]()
	g.M = h.params.M
	g.Ml = 1.0 / float64(h.params.M) // Standard HNSW formula
	g.EfSearch = h.params.EfSearch
	g.Distance = hnsw.EuclideanDistance
	g.Rng = rand.New(rand.NewSource(h.params.Seed)) //nolint:gosec // reproducible layout, not security

	h.nodeOf = make(map[int]int, len(entries))
	h.nodes = make(map[int]fingerprint.Fingerprint)
	h.members = make(map[int][]int)
	byHex := make(map[string]int)
	for _, e := range entries {
		hex := e.Fingerprint.Hex()
		key, seen := byHex[hex]
		if !seen {
			key = e.ID
			byHex[hex] = key
			h.nodes[key] = e.Fingerprint
			h.keys = append(h.keys, key)
			g.Add(hnsw.MakeNode(key, toVector(e.Fingerprint)))
		}
		h.nodeOf[e.ID] = key
		h.members[key] = append(h.members[key], e.ID)
	}
	for _, ids := range h.members {
		slices.Sort(ids)
	}

	h.graph = g
	h.ids = len(entries)
	h.bits = width
	return nil
}

// Query searches the graph and keeps candidates whose exact distance is within radius.
func (h *HNSW) Query(id, radius int) ([]int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.nodeOf == nil {
		return nil, &NotBuiltError{Kind: KindHNSW}
	}
	self, ok := h.nodeOf[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownID, id)
	}

	var out []int
	for _, m := range h.members[self] {
		if m != id {
			out = append(out, m)
		}
	}

	total := len(h.keys)
	if total == 1 {
		return out, nil
	}

	query := h.nodes[self]
	vec := toVector(query)
	k := min(h.params.InitialK, total-1)

	for {
		want := k + 1 // the query's own node comes back too
		h.graph.EfSearch = max(h.params.EfSearch, want)
		found := h.graph.Search(vec, want)
		if len(found) < want || !slices.ContainsFunc(found, func(n hnsw.Node[int]) bool { return n.Key == self }) {
			out = append(out, h.scan(self, query, radius)...)
			slices.Sort(out)
			return out, nil
		}

		var hits []int
		exhausted := true
		for _, n := range found {
			if n.Key == self {
				continue
			}
			if fingerprint.HammingDistance(query, h.nodes[n.Key]) <= radius {
				hits = append(hits, h.members[n.Key]...)
			} else {
				exhausted = false
			}
		}

		// Stop once some candidate fell outside the radius, or the whole graph was requested.
		if !exhausted || want >= total {
			out = append(out, hits...)
			slices.Sort(out)
			return out, nil
		}
		k = min(k*2, total-1)
	}
}

// scan checks every distinct fingerprint other than self.
func (h *HNSW) scan(self int, query fingerprint.Fingerprint, radius int) []int {
	var out []int
	for _, key := range h.keys {
		if key != self && fingerprint.HammingDistance(query, h.nodes[key]) <= radius {
			out = append(out, h.members[key]...)
		}
	}
	return out
}

// Len returns the number of indexed entries.
func (h *HNSW) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.ids
}

// Nodes returns the number of distinct fingerprints in the graph.
func (h *HNSW) Nodes() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.keys)
}

// Bits returns the fingerprint width.
func (h *HNSW) Bits() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.bits
}

// Kind returns KindHNSW.
func (h *HNSW) Kind() Kind { return KindHNSW }

// toVector expands a fingerprint into one float per bit.
func toVector(fp fingerprint.Fingerprint) []float32 {
	vec := make([]float32, fp.Bits())
	for i := range vec {
		if fp.Bit(i) {
			vec[i] = 1
		}
	}
	return vec
}
