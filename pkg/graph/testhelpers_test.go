package graph

import "testing"

// biEdges expands undirected (a, b, length) triples into edge pairs.
func biEdges(pairs ...[3]float64) []Edge {
	var edges []Edge
	for _, p := range pairs {
		a, b := NodeID(p[0]), NodeID(p[1])
		edges = append(edges,
			Edge{Source: a, Target: b, Length: p[2]},
			Edge{Source: b, Target: a, Length: p[2]},
		)
	}
	return edges
}

func nodesAt(ids ...NodeID) []Node {
	nodes := make([]Node, len(ids))
	for i, id := range ids {
		nodes[i] = Node{ID: id, X: 103.8 + float64(id)*0.001, Y: 1.3 + float64(id)*0.001}
	}
	return nodes
}

func mustBuild(t *testing.T, nodes []Node, edges []Edge) *Graph {
	t.Helper()
	g, err := Build("", nodes, edges)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return g
}
