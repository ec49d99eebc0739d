package selection

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kozaktomas/photo-dedup/internal/cluster"
)

var scenarioGroups = []cluster.Group{
	{Representative: 0, Members: []int{0, 1, 2}},
	{Representative: 3, Members: []int{3}},
	{Representative: 4, Members: []int{4}},
}

func keptIDs(decisions []Decision) []int {
	var out []int
	for _, d := range decisions {
		if d.Keep {
			out = append(out, d.ID)
		}
	}
	return out
}

func TestSelectKeepFirst(t *testing.T) {
	decisions := Select(scenarioGroups, KeepFirst{})

	require.Len(t, decisions, 5)
	for i, d := range decisions {
		assert.Equal(t, i, d.ID)
	}
	assert.Equal(t, []int{0, 3, 4}, keptIDs(decisions))
	assert.Same(t, decisions[0].Group, decisions[2].Group)
	assert.Equal(t, Summary{Groups: 3, Kept: 3, Removed: 2}, Summarize(decisions))
}

func TestSelectNilPolicyDefaultsToFirst(t *testing.T) {
	assert.Equal(t, []int{0, 3, 4}, keptIDs(Select(scenarioGroups, nil)))
}

func TestSelectOneKeepPerGroup(t *testing.T) {
	groups := []cluster.Group{
		{Representative: 1, Members: []int{1, 5, 9}},
		{Representative: 2, Members: []int{2, 3}},
	}
	sizes := map[int]int64{1: 10, 5: 30, 9: 30, 2: 7, 3: 7}
	policy := KeepLargestFile(func(id int) int64 { return sizes[id] })

	decisions := Select(groups, policy)
	summary := Summarize(decisions)
	assert.Equal(t, len(groups), summary.Kept)
	assert.Equal(t, 3, summary.Removed)

	// 5 and 9 tie on size; the smaller id wins. 2 and 3 tie; 2 wins.
	assert.Equal(t, []int{2, 5}, keptIDs(decisions))
	for _, d := range decisions {
		if d.ID == 9 {
			assert.Equal(t, 5, d.Group.Representative)
		}
	}
}

func TestKeepHighestResolution(t *testing.T) {
	pixels := map[int]int64{0: 100, 1: 400, 2: 400}
	policy := KeepHighestResolution(func(id int) int64 { return pixels[id] })

	assert.Equal(t, PolicyResolution, policy.Name())
	assert.Equal(t, 1, policy.Pick(scenarioGroups[0]))
}

type rogue struct{}

func (rogue) Name() string           { return "rogue" }
func (rogue) Pick(cluster.Group) int { return 42 }

func TestSelectIgnoresForeignPick(t *testing.T) {
	assert.Equal(t, []int{0, 3, 4}, keptIDs(Select(scenarioGroups, rogue{})))
}

func TestParsePolicy(t *testing.T) {
	metric := func(int) int64 { return 0 }

	p, err := ParsePolicy("", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, PolicyFirst, p.Name())

	p, err = ParsePolicy(PolicyLargest, metric, nil)
	require.NoError(t, err)
	assert.Equal(t, PolicyLargest, p.Name())

	_, err = ParsePolicy(PolicyResolution, metric, nil)
	assert.Error(t, err)

	_, err = ParsePolicy("random", metric, metric)
	assert.Error(t, err)
}
