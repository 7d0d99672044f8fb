package routing

import (
	"errors"
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
	"github.com/tidwall/rtree"

	"walkfilter/pkg/graph"
)

// MaxSamplePoints bounds how many points of a line are looked up.
const MaxSamplePoints = 10

var (
	// ErrEmptyGraph is returned when snapping against a graph with no nodes.
	ErrEmptyGraph = errors.New("graph has no nodes")
	// ErrPointTooFar is returned when the nearest node exceeds the snap limit.
	ErrPointTooFar = errors.New("point too far from network")
	// ErrUnsupportedGeometry is returned for geometries that cannot be sampled.
	ErrUnsupportedGeometry = errors.New("unsupported geometry")
)

// SnapOptions controls NewSnapper.
type SnapOptions struct {
	// MaxDistanceMeters rejects matches farther than this great-circle
	// distance. Zero disables the check.
	MaxDistanceMeters float64
}

// Match is the result of snapping a single point.
type Match struct {
	Node graph.NodeID
	Err  error
}

// Snapper maps coordinates to the nearest graph node. Distances are planar
// in coordinate units; equidistant nodes resolve to the lowest node id.
type Snapper struct {
	g    *graph.Graph
	tree rtree.RTreeG[uint32] // node index
	opts SnapOptions
}

// NewSnapper indexes every node of g.
func NewSnapper(g *graph.Graph, opts SnapOptions) *Snapper {
	s := &Snapper{g: g, opts: opts}
	for i := 0; i < g.NumNodes(); i++ {
		n := g.NodeAt(uint32(i))
		pt := [2]float64{n.X, n.Y}
		s.tree.Insert(pt, pt, uint32(i))
	}
	return s
}

// boxDist is the squared planar distance from p to the rectangle [min, max].
func boxDist(p orb.Point, min, max [2]float64) float64 {
	var d float64
	for i := 0; i < 2; i++ {
		switch {
		case p[i] < min[i]:
			d += (min[i] - p[i]) * (min[i] - p[i])
		case p[i] > max[i]:
			d += (p[i] - max[i]) * (p[i] - max[i])
		}
	}
	return d
}

// NearestNode returns the node closest to p.
func (s *Snapper) NearestNode(p orb.Point) (graph.NodeID, error) {
	if s.g.NumNodes() == 0 {
		return 0, ErrEmptyGraph
	}

	best := uint32(0)
	bestDist := -1.0
	s.tree.Nearby(
		func(min, max [2]float64, _ uint32, _ bool) float64 {
			return boxDist(p, min, max)
		},
		func(_, _ [2]float64, idx uint32, dist float64) bool {
			if bestDist >= 0 && dist > bestDist {
				return false
			}
			// Nodes are indexed in id order, so the lower index wins ties.
			if bestDist < 0 || idx < best {
				best, bestDist = idx, dist
			}
			return true
		},
	)

	n := s.g.NodeAt(best)
	if s.opts.MaxDistanceMeters > 0 {
		if d := geo.Distance(p, orb.Point{n.X, n.Y}); d > s.opts.MaxDistanceMeters {
			return 0, fmt.Errorf("%w: %.0fm to node %d", ErrPointTooFar, d, n.ID)
		}
	}
	return n.ID, nil
}

// NearestNodes snaps each point independently. Entry i equals
// NearestNode(points[i]).
func (s *Snapper) NearestNodes(points []orb.Point) []Match {
	out := make([]Match, len(points))
	for i, p := range points {
		id, err := s.NearestNode(p)
		out[i] = Match{Node: id, Err: err}
	}
	return out
}

// GeometryNodes returns the distinct nodes nearest to geom in first-seen
// order. Points map to one node each; lines and polygon rings are sampled
// with SamplePoints. Sample points beyond the snap limit are skipped;
// ErrPointTooFar is returned only when none resolve.
func (s *Snapper) GeometryNodes(geom orb.Geometry) ([]graph.NodeID, error) {
	var points []orb.Point
	if err := collectSamples(geom, &points); err != nil {
		return nil, err
	}

	var (
		out     []graph.NodeID
		seen    = make(map[graph.NodeID]struct{}, len(points))
		lastErr error
	)
	for _, m := range s.NearestNodes(points) {
		if m.Err != nil {
			if errors.Is(m.Err, ErrPointTooFar) {
				lastErr = m.Err
				continue
			}
			return nil, m.Err
		}
		if _, dup := seen[m.Node]; dup {
			continue
		}
		seen[m.Node] = struct{}{}
		out = append(out, m.Node)
	}
	if len(out) == 0 && lastErr != nil {
		return nil, lastErr
	}
	return out, nil
}

func collectSamples(geom orb.Geometry, points *[]orb.Point) error {
	switch g := geom.(type) {
	case orb.Point:
		*points = append(*points, g)
	case orb.MultiPoint:
		*points = append(*points, g...)
	case orb.LineString:
		*points = append(*points, SamplePoints(g, MaxSamplePoints)...)
	case orb.Ring:
		*points = append(*points, SamplePoints(orb.LineString(g), MaxSamplePoints)...)
	case orb.MultiLineString:
		for _, ls := range g {
			collectSamples(ls, points)
		}
	case orb.Polygon:
		for _, r := range g {
			collectSamples(r, points)
		}
	case orb.MultiPolygon:
		for _, p := range g {
			collectSamples(p, points)
		}
	case orb.Collection:
		for _, part := range g {
			if err := collectSamples(part, points); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("%w: %T", ErrUnsupportedGeometry, geom)
	}
	return nil
}

// SamplePoints picks at most max evenly spaced points from ls, starting at
// the first point. Lines with max or fewer points are returned whole.
func SamplePoints(ls orb.LineString, max int) []orb.Point {
	n := len(ls)
	if n == 0 || max <= 0 {
		return nil
	}
	k := min(n, max)
	step := n / k
	out := make([]orb.Point, k)
	for i := range k {
		out[i] = ls[i*step]
	}
	return out
}
