package graph

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/simplify"
)

// CompactOptions controls Compact.
type CompactOptions struct {
	MinEdgeLength      float64 // edges shorter than this are removed
	CoordinateDecimals int     // negative disables rounding
	SimplifyTolerance  float64 // Douglas-Peucker threshold in coordinate units
	KeepGeometry       bool    // retain (rounded, simplified) edge geometry
}

// DefaultCompactOptions returns the settings used for stored city networks.
func DefaultCompactOptions() CompactOptions {
	return CompactOptions{
		MinEdgeLength:      5.0,
		CoordinateDecimals: 5,
		SimplifyTolerance:  0.001,
		KeepGeometry:       false,
	}
}

// Compact returns a reduced copy of g. Steps run in a fixed order:
//
//  1. strip attributes (and geometry unless KeepGeometry)
//  2. round coordinates
//  3. simplify retained geometry
//  4. remove edges with Length < MinEdgeLength
//  5. remove nodes left with degree 0
//
// Pruning runs after rounding so that edges collapsed by rounding are still
// eligible for removal. g is not modified.
func Compact(g *Graph, opts CompactOptions) (*Graph, error) {
	if math.IsNaN(opts.MinEdgeLength) || math.IsNaN(opts.SimplifyTolerance) {
		return nil, fmt.Errorf("invalid compact options: %+v", opts)
	}

	nodes, edges := stripAttributes(g.Nodes(), g.Edges(), opts.KeepGeometry)
	nodes, edges = roundCoordinates(nodes, edges, opts.CoordinateDecimals)
	if opts.KeepGeometry && opts.SimplifyTolerance > 0 {
		edges = simplifyGeometry(edges, opts.SimplifyTolerance)
	}
	edges = pruneShortEdges(edges, opts.MinEdgeLength)
	nodes = dropIsolated(nodes, edges)

	return Build(g.CRS(), nodes, edges)
}

func stripAttributes(nodes []Node, edges []Edge, keepGeometry bool) ([]Node, []Edge) {
	outNodes := make([]Node, len(nodes))
	for i, n := range nodes {
		outNodes[i] = Node{ID: n.ID, X: n.X, Y: n.Y}
	}
	outEdges := make([]Edge, len(edges))
	for i, e := range edges {
		outEdges[i] = Edge{Source: e.Source, Target: e.Target, Key: e.Key, Length: e.Length}
		if keepGeometry && len(e.Geometry) > 0 {
			outEdges[i].Geometry = e.Geometry.Clone()
		}
	}
	return outNodes, outEdges
}

func roundCoordinates(nodes []Node, edges []Edge, decimals int) ([]Node, []Edge) {
	if decimals < 0 {
		return nodes, edges
	}
	outNodes := make([]Node, len(nodes))
	for i, n := range nodes {
		n.X = roundTo(n.X, decimals)
		n.Y = roundTo(n.Y, decimals)
		outNodes[i] = n
	}
	outEdges := make([]Edge, len(edges))
	for i, e := range edges {
		if len(e.Geometry) > 0 {
			ls := make(orb.LineString, len(e.Geometry))
			for k, p := range e.Geometry {
				ls[k] = orb.Point{roundTo(p[0], decimals), roundTo(p[1], decimals)}
			}
			e.Geometry = ls
		}
		outEdges[i] = e
	}
	return outNodes, outEdges
}

func simplifyGeometry(edges []Edge, tolerance float64) []Edge {
	dp := simplify.DouglasPeucker(tolerance)
	out := make([]Edge, len(edges))
	for i, e := range edges {
		if len(e.Geometry) > 2 {
			// Simplify works in place.
			if ls, ok := dp.Simplify(e.Geometry.Clone()).(orb.LineString); ok {
				e.Geometry = ls
			}
		}
		out[i] = e
	}
	return out
}

func pruneShortEdges(edges []Edge, minLength float64) []Edge {
	out := make([]Edge, 0, len(edges))
	for _, e := range edges {
		if e.Length < minLength {
			continue
		}
		out = append(out, e)
	}
	return out
}

func dropIsolated(nodes []Node, edges []Edge) []Node {
	used := make(map[NodeID]struct{}, len(nodes))
	for _, e := range edges {
		used[e.Source] = struct{}{}
		used[e.Target] = struct{}{}
	}
	out := make([]Node, 0, len(used))
	for _, n := range nodes {
		if _, ok := used[n.ID]; ok {
			out = append(out, n)
		}
	}
	return out
}

func roundTo(v float64, decimals int) float64 {
	p := math.Pow10(decimals)
	return math.Round(v*p) / p
}
