package graph

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"sort"

	"github.com/paulmach/orb"
)

// ErrIntegrity is returned when a graph or its serialized form is internally
// inconsistent: dangling edge references, duplicate keys, missing fields.
var ErrIntegrity = errors.New("graph integrity violation")

// DefaultCRS is the coordinate reference system assumed when none is given.
const DefaultCRS = "epsg:4326"

// NodeID identifies a node. Ids are stable across compaction and encoding.
type NodeID int64

// Node is a network node with planar or geographic coordinates.
type Node struct {
	ID    NodeID
	X     float64
	Y     float64
	Attrs map[string]string // uncompacted form only
}

// Edge is a directed edge. Key separates parallel edges between the same
// pair of nodes.
type Edge struct {
	Source   NodeID
	Target   NodeID
	Key      int
	Length   float64
	Geometry orb.LineString    // optional, ordered (x, y) shape points
	Attrs    map[string]string // uncompacted form only
}

// Graph is an immutable directed multigraph stored in CSR (Compressed Sparse
// Row) format over node indices. Nodes are ordered by id; edges are ordered
// by (source, target, key).
type Graph struct {
	crs   string
	nodes []Node
	index map[NodeID]uint32

	firstOut []uint32 // len: NumNodes + 1; firstOut[i]..firstOut[i+1] are edges from node i
	head     []uint32 // len: NumEdges; target node index for each edge
	edges    []Edge   // len: NumEdges; aligned with head
	inDeg    []uint32 // len: NumNodes
}

type edgeTriple struct {
	source, target NodeID
	key            int
}

// Build creates a Graph from nodes and edges. It fails with ErrIntegrity if
// a node id repeats, an edge references an unknown node, an edge length is
// negative or NaN, or a (source, target, key) triple repeats.
func Build(crs string, nodes []Node, edges []Edge) (*Graph, error) {
	if crs == "" {
		crs = DefaultCRS
	}

	ns := slices.Clone(nodes)
	sort.Slice(ns, func(i, j int) bool { return ns[i].ID < ns[j].ID })

	index := make(map[NodeID]uint32, len(ns))
	for i, n := range ns {
		if _, dup := index[n.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate node %d", ErrIntegrity, n.ID)
		}
		index[n.ID] = uint32(i)
	}

	seen := make(map[edgeTriple]struct{}, len(edges))
	for _, e := range edges {
		if _, ok := index[e.Source]; !ok {
			return nil, fmt.Errorf("%w: edge %d->%d references unknown node %d", ErrIntegrity, e.Source, e.Target, e.Source)
		}
		if _, ok := index[e.Target]; !ok {
			return nil, fmt.Errorf("%w: edge %d->%d references unknown node %d", ErrIntegrity, e.Source, e.Target, e.Target)
		}
		if e.Length < 0 || math.IsNaN(e.Length) {
			return nil, fmt.Errorf("%w: edge %d->%d has invalid length %v", ErrIntegrity, e.Source, e.Target, e.Length)
		}
		t := edgeTriple{e.Source, e.Target, e.Key}
		if _, dup := seen[t]; dup {
			return nil, fmt.Errorf("%w: duplicate edge %d->%d key %d", ErrIntegrity, e.Source, e.Target, e.Key)
		}
		seen[t] = struct{}{}
	}

	es := slices.Clone(edges)
	sort.Slice(es, func(i, j int) bool {
		if es[i].Source != es[j].Source {
			return es[i].Source < es[j].Source
		}
		if es[i].Target != es[j].Target {
			return es[i].Target < es[j].Target
		}
		return es[i].Key < es[j].Key
	})

	numNodes := uint32(len(ns))
	firstOut := make([]uint32, numNodes+1)
	head := make([]uint32, len(es))
	inDeg := make([]uint32, numNodes)

	for i, e := range es {
		u, v := index[e.Source], index[e.Target]
		firstOut[u+1]++
		head[i] = v
		inDeg[v]++
	}
	// Prefix sum.
	for i := uint32(1); i <= numNodes; i++ {
		firstOut[i] += firstOut[i-1]
	}

	return &Graph{
		crs:      crs,
		nodes:    ns,
		index:    index,
		firstOut: firstOut,
		head:     head,
		edges:    es,
		inDeg:    inDeg,
	}, nil
}

// CRS returns the coordinate reference system label.
func (g *Graph) CRS() string { return g.crs }

// NumNodes returns the node count.
func (g *Graph) NumNodes() int { return len(g.nodes) }

// NumEdges returns the edge count, counting parallel edges separately.
func (g *Graph) NumEdges() int { return len(g.edges) }

// Node looks up a node by id.
func (g *Graph) Node(id NodeID) (Node, bool) {
	idx, ok := g.index[id]
	if !ok {
		return Node{}, false
	}
	return g.nodes[idx], true
}

// Has reports whether the graph contains node id.
func (g *Graph) Has(id NodeID) bool {
	_, ok := g.index[id]
	return ok
}

// Index returns the dense index of node id.
func (g *Graph) Index(id NodeID) (uint32, bool) {
	idx, ok := g.index[id]
	return idx, ok
}

// NodeAt returns the node at dense index idx.
func (g *Graph) NodeAt(idx uint32) Node { return g.nodes[idx] }

// Nodes returns a copy of all nodes ordered by id.
func (g *Graph) Nodes() []Node { return slices.Clone(g.nodes) }

// Edges returns a copy of all edges ordered by (source, target, key).
func (g *Graph) Edges() []Edge { return slices.Clone(g.edges) }

// EdgesFrom returns the range of edge indices for edges originating from the
// node at index u.
func (g *Graph) EdgesFrom(u uint32) (start, end uint32) {
	return g.firstOut[u], g.firstOut[u+1]
}

// Head returns the target node index of edge e.
func (g *Graph) Head(e uint32) uint32 { return g.head[e] }

// Length returns the weight of edge e.
func (g *Graph) Length(e uint32) float64 { return g.edges[e].Length }

// EdgeAt returns edge e.
func (g *Graph) EdgeAt(e uint32) Edge { return g.edges[e] }

// OutDegree returns the number of edges leaving id.
func (g *Graph) OutDegree(id NodeID) int {
	idx, ok := g.index[id]
	if !ok {
		return 0
	}
	return int(g.firstOut[idx+1] - g.firstOut[idx])
}

// InDegree returns the number of edges entering id.
func (g *Graph) InDegree(id NodeID) int {
	idx, ok := g.index[id]
	if !ok {
		return 0
	}
	return int(g.inDeg[idx])
}

// Degree returns in-degree plus out-degree. A self-loop counts twice.
func (g *Graph) Degree(id NodeID) int {
	return g.InDegree(id) + g.OutDegree(id)
}
