package graph

// UnionFind implements union-find with path compression and union by size
type UnionFind[K comparable] struct {
	parent map[K]K
	size   map[K]int
}

// NewUnionFind creates a new UnionFind where each element is its own component
func NewUnionFind[K comparable](ids []K) *UnionFind[K] {
	uf := &UnionFind[K]{
		parent: make(map[K]K, len(ids)),
		size:   make(map[K]int, len(ids)),
	}
	for _, id := range ids {
		uf.parent[id] = id
		uf.size[id] = 1
	}
	return uf
}

// Find returns the root of the component containing id. Unknown ids are
// their own root.
func (uf *UnionFind[K]) Find(id K) K {
	root := id
	for {
		p, ok := uf.parent[root]
		if !ok || p == root {
			break
		}
		root = p
	}
	// compress
	for id != root {
		next := uf.parent[id]
		uf.parent[id] = root
		id = next
	}
	return root
}

// Union merges the components containing a and b. Returns true if they were separate.
func (uf *UnionFind[K]) Union(a, b K) bool {
	ra, rb := uf.Find(a), uf.Find(b)
	if ra == rb {
		return false
	}
	if uf.size[ra] < uf.size[rb] {
		ra, rb = rb, ra
	}
	uf.parent[rb] = ra
	uf.size[ra] += uf.size[rb]
	return true
}

// Size returns the number of members in id's component.
func (uf *UnionFind[K]) Size(id K) int {
	return uf.size[uf.Find(id)]
}

// Components returns all components as slices of members
func (uf *UnionFind[K]) Components() [][]K {
	groups := make(map[K][]K)
	for id := range uf.parent {
		root := uf.Find(id)
		groups[root] = append(groups[root], id)
	}
	result := make([][]K, 0, len(groups))
	for _, members := range groups {
		result = append(result, members)
	}
	return result
}
