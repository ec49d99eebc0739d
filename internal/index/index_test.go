package index

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kozaktomas/photo-dedup/internal/fingerprint"
)

func entries64(values ...uint64) []Entry {
	out := make([]Entry, len(values))
	for i, v := range values {
		out[i] = Entry{ID: i, Fingerprint: fingerprint.FromUint64(v)}
	}
	return out
}

func TestQueryBeforeBuild(t *testing.T) {
	for _, idx := range []Index{NewExact(), NewHNSW(DefaultHNSWParams())} {
		t.Run(string(idx.Kind()), func(t *testing.T) {
			_, err := idx.Query(0, 5)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrNotBuilt)

			var nb *NotBuiltError
			require.True(t, errors.As(err, &nb))
			assert.Equal(t, idx.Kind(), nb.Kind)
		})
	}
}

func TestBuildTwice(t *testing.T) {
	for _, idx := range []Index{NewExact(), NewHNSW(DefaultHNSWParams())} {
		t.Run(string(idx.Kind()), func(t *testing.T) {
			require.NoError(t, idx.Build(entries64(1, 2)))
			assert.ErrorIs(t, idx.Build(entries64(1, 2)), ErrAlreadyBuilt)
		})
	}
}

func TestBuildRejectsMixedWidths(t *testing.T) {
	wide, err := fingerprint.FromWords(128, []uint64{0, 0})
	require.NoError(t, err)

	entries := []Entry{
		{ID: 0, Fingerprint: fingerprint.FromUint64(0)},
		{ID: 1, Fingerprint: wide},
	}
	assert.ErrorIs(t, NewExact().Build(entries), ErrWidthMismatch)
	assert.ErrorIs(t, NewHNSW(DefaultHNSWParams()).Build(entries), ErrWidthMismatch)
}

func TestBuildRejectsDuplicateIDs(t *testing.T) {
	entries := []Entry{
		{ID: 3, Fingerprint: fingerprint.FromUint64(0)},
		{ID: 3, Fingerprint: fingerprint.FromUint64(1)},
	}
	assert.Error(t, NewExact().Build(entries))
}

func TestExactQuery(t *testing.T) {
	idx := NewExact()
	require.NoError(t, idx.Build(entries64(
		0x0,                // 0
		0x0,                // 1: identical to 0
		0x7,                // 2: 3 bits from 0
		0xFFFF000000000000, // 3
		0x00000000FFFF0000, // 4
	)))

	assert.Equal(t, 5, idx.Len())
	assert.Equal(t, 64, idx.Bits())

	tests := []struct {
		id     int
		radius int
		want   []int
	}{
		{0, 0, []int{1}},
		{0, 3, []int{1, 2}},
		{2, 2, nil},
		{2, 3, []int{0, 1}},
		{3, 5, nil},
		{3, 64, []int{0, 1, 2, 4}},
	}
	for _, tc := range tests {
		got, err := idx.Query(tc.id, tc.radius)
		require.NoError(t, err)
		assert.Equal(t, tc.want, got, "Query(%d, %d)", tc.id, tc.radius)
	}

	_, err := idx.Query(99, 1)
	assert.ErrorIs(t, err, ErrUnknownID)
}

func TestHNSWSmallGraph(t *testing.T) {
	idx := NewHNSW(DefaultHNSWParams())
	require.NoError(t, idx.Build(entries64(0x0, 0x0, 0x7, 0xFFFF000000000000)))

	got, err := idx.Query(0, 3)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, got)

	got, err = idx.Query(3, 3)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestHNSWSingleEntry(t *testing.T) {
	idx := NewHNSW(DefaultHNSWParams())
	require.NoError(t, idx.Build(entries64(0x42)))

	got, err := idx.Query(0, 64)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestHNSWAgreesWithExact(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	var entries []Entry
	id := 0
	for range 20 {
		center := rng.Uint64()
		for range 5 {
			v := center
			for range rng.Intn(3) {
				v ^= 1 << uint(rng.Intn(64))
			}
			entries = append(entries, Entry{ID: id, Fingerprint: fingerprint.FromUint64(v)})
			id++
		}
	}

	exact := NewExact()
	require.NoError(t, exact.Build(entries))
	approx := NewHNSW(DefaultHNSWParams())
	require.NoError(t, approx.Build(entries))

	var found, expected int
	for _, e := range entries {
		want, err := exact.Query(e.ID, 6)
		require.NoError(t, err)
		got, err := approx.Query(e.ID, 6)
		require.NoError(t, err)

		// Approximate results never contain false positives.
		assert.Subset(t, want, got)
		found += len(got)
		expected += len(want)
	}
	require.Positive(t, expected)
	assert.GreaterOrEqual(t, float64(found)/float64(expected), 0.9)
}

func TestHNSWHeavyDuplication(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	var entries []Entry
	for range 30 {
		center := rng.Uint64()
		for i := range 40 {
			v := center
			if i%2 == 1 {
				v ^= 1 << uint(rng.Intn(64))
			}
			entries = append(entries, Entry{ID: len(entries), Fingerprint: fingerprint.FromUint64(v)})
		}
	}

	exact := NewExact()
	require.NoError(t, exact.Build(entries))
	approx := NewHNSW(DefaultHNSWParams())
	require.NoError(t, approx.Build(entries))

	assert.Equal(t, len(entries), approx.Len())
	assert.Less(t, approx.Nodes(), len(entries)/2+30+1, "identical fingerprints share a node")

	var found, expected int
	for _, e := range entries {
		want, err := exact.Query(e.ID, 0)
		require.NoError(t, err)
		got, err := approx.Query(e.ID, 0)
		require.NoError(t, err)
		assert.Equal(t, want, got, "Query(%d, 0)", e.ID)

		want, err = exact.Query(e.ID, 5)
		require.NoError(t, err)
		got, err = approx.Query(e.ID, 5)
		require.NoError(t, err)
		assert.Subset(t, want, got)
		found += len(got)
		expected += len(want)
	}
	assert.GreaterOrEqual(t, float64(found)/float64(expected), 0.99)
}

func TestHNSWSharedNodeOrder(t *testing.T) {
	idx := NewHNSW(DefaultHNSWParams())
	require.NoError(t, idx.Build([]Entry{
		{ID: 7, Fingerprint: fingerprint.FromUint64(0x1)},
		{ID: 2, Fingerprint: fingerprint.FromUint64(0x1)},
		{ID: 5, Fingerprint: fingerprint.FromUint64(0x3)},
	}))
	assert.Equal(t, 2, idx.Nodes())

	got, err := idx.Query(7, 1)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 5}, got)

	got, err = idx.Query(2, 0)
	require.NoError(t, err)
	assert.Equal(t, []int{7}, got)
}

func TestNewAndParseKind(t *testing.T) {
	kind, err := ParseKind("")
	require.NoError(t, err)
	assert.Equal(t, KindExact, kind)

	kind, err = ParseKind("hnsw")
	require.NoError(t, err)
	assert.Equal(t, KindHNSW, kind)

	_, err = ParseKind("annoy")
	assert.Error(t, err)

	idx, err := New(KindHNSW)
	require.NoError(t, err)
	assert.Equal(t, KindHNSW, idx.Kind())

	_, err = New(Kind("bogus"))
	assert.Error(t, err)
}

func TestToVector(t *testing.T) {
	vec := toVector(fingerprint.FromUint64(0x8000000000000001))
	require.Len(t, vec, 64)
	assert.Equal(t, float32(1), vec[0])
	assert.Equal(t, float32(1), vec[63])
	assert.Equal(t, float32(0), vec[1])
}
