package cluster

// unionFind is a disjoint-set forest over sparse ids with path compression.
// Merges always hang the later set under the earlier neighbour's root.
type unionFind struct {
	order  []int       // ids ascending
	parent map[int]int // id -> parent id
}

func newUnionFind(sorted []int) *unionFind {
	parent := make(map[int]int, len(sorted))
	for _, id := range sorted {
		parent[id] = id
	}
	return &unionFind{order: sorted, parent: parent}
}

func (u *unionFind) has(id int) bool {
	_, ok := u.parent[id]
	return ok
}

// find returns the root of id, compressing the path on the way.
func (u *unionFind) find(id int) int {
	root := id
	for u.parent[root] != root {
		root = u.parent[root]
	}
	for u.parent[id] != root {
		next := u.parent[id]
		u.parent[id] = root
		id = next
	}
	return root
}

// attach merges the set containing id into the set containing target.
func (u *unionFind) attach(id, target int) bool {
	ri, rt := u.find(id), u.find(target)
	if ri == rt {
		return false
	}
	u.parent[ri] = rt
	return true
}

// groups flattens the forest. Walking ids ascending makes each group's first member its minimum.
func (u *unionFind) groups() []Group {
	byRoot := make(map[int]int, len(u.order)) // root -> position in out
	var out []Group
	for _, id := range u.order {
		root := u.find(id)
		pos, ok := byRoot[root]
		if !ok {
			pos = len(out)
			byRoot[root] = pos
			out = append(out, Group{Representative: id})
		}
		out[pos].Members = append(out[pos].Members, id)
	}
	return out
}
