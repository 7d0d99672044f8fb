package graph

// UnionFind implements a disjoint-set data structure with path halving and
// union by rank.
type UnionFind struct {
	parent []uint32
	rank   []byte // byte is sufficient, max rank ~30 for realistic graphs
	size   []uint32
}

// NewUnionFind creates a UnionFind for n elements.
func NewUnionFind(n uint32) *UnionFind {
	parent := make([]uint32, n)
	size := make([]uint32, n)
	for i := range n {
		parent[i] = i
		size[i] = 1
	}
	return &UnionFind{
		parent: parent,
		rank:   make([]byte, n),
		size:   size,
	}
}

// Find returns the representative of the set containing x.
func (uf *UnionFind) Find(x uint32) uint32 {
	for uf.parent[x] != x {
		uf.parent[x] = uf.parent[uf.parent[x]] // path halving
		x = uf.parent[x]
	}
	return x
}

// Union merges the sets containing x and y. Returns false if already same set.
func (uf *UnionFind) Union(x, y uint32) bool {
	rx := uf.Find(x)
	ry := uf.Find(y)
	if rx == ry {
		return false
	}
	if uf.rank[rx] < uf.rank[ry] {
		rx, ry = ry, rx
	}
	uf.parent[ry] = rx
	uf.size[rx] += uf.size[ry]
	if uf.rank[rx] == uf.rank[ry] {
		uf.rank[rx]++
	}
	return true
}

// Size returns the size of the set containing x.
func (uf *UnionFind) Size(x uint32) uint32 {
	return uf.size[uf.Find(x)]
}

// LargestComponent returns the subgraph induced by the largest weakly
// connected component. Ties go to the component containing the lowest node id.
func LargestComponent(g *Graph) (*Graph, error) {
	n := uint32(g.NumNodes())
	if n == 0 {
		return g, nil
	}

	uf := NewUnionFind(n)
	for u := uint32(0); u < n; u++ {
		start, end := g.EdgesFrom(u)
		for e := start; e < end; e++ {
			uf.Union(u, g.head[e])
		}
	}

	bestRoot := uf.Find(0)
	bestSize := uf.Size(bestRoot)
	for i := uint32(1); i < n; i++ {
		if size := uf.Size(i); size > bestSize {
			bestRoot = uf.Find(i)
			bestSize = size
		}
	}
	if bestSize == n {
		return g, nil
	}

	nodes := make([]Node, 0, bestSize)
	for i := uint32(0); i < n; i++ {
		if uf.Find(i) == bestRoot {
			nodes = append(nodes, g.nodes[i])
		}
	}
	var edges []Edge
	for u := uint32(0); u < n; u++ {
		if uf.Find(u) != bestRoot {
			continue
		}
		start, end := g.EdgesFrom(u)
		edges = append(edges, g.edges[start:end]...)
	}

	return Build(g.crs, nodes, edges)
}
