package osm

import (
	"context"
	"fmt"
	"io"
	"log"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
	"github.com/paulmach/osm"
	"github.com/paulmach/osm/osmpbf"

	"walkfilter/pkg/graph"
)

// Segment is a walkable stretch of a way between two split nodes.
type Segment struct {
	From, To osm.NodeID
	Shape    orb.LineString // full polyline, From first and To last
	Length   float64        // meters along Shape
}

// ParseResult holds the output of parsing an OSM PBF file.
type ParseResult struct {
	Segments []Segment
	Coords   map[osm.NodeID]orb.Point // split nodes only
}

// excludedHighways lists highway values that are not walkable.
var excludedHighways = map[string]bool{
	"abandoned":     true,
	"bus_guideway":  true,
	"construction":  true,
	"cycleway":      true,
	"motorway":      true,
	"motorway_link": true,
	"no":            true,
	"planned":       true,
	"platform":      true,
	"proposed":      true,
	"raceway":       true,
	"razed":         true,
}

// isWalkable returns true if the way can be used on foot.
func isWalkable(tags osm.Tags) bool {
	hw := tags.Find("highway")
	if hw == "" || excludedHighways[hw] {
		return false
	}

	// Skip area highways (pedestrian plazas are mapped by their outline).
	if tags.Find("area") == "yes" {
		return false
	}

	access := tags.Find("access")
	if access == "no" || access == "private" {
		return false
	}
	if tags.Find("foot") == "no" {
		return false
	}
	if tags.Find("service") == "private" {
		return false
	}

	return true
}

// BBox defines a geographic bounding box for filtering.
// If non-zero, only segments with both endpoints inside the box are kept.
type BBox struct {
	MinLat, MaxLat float64
	MinLng, MaxLng float64
}

// IsZero returns true if the bbox is unset.
func (b BBox) IsZero() bool {
	return b.MinLat == 0 && b.MaxLat == 0 && b.MinLng == 0 && b.MaxLng == 0
}

// Contains returns true if the point is inside the bounding box.
func (b BBox) Contains(p orb.Point) bool {
	return p.Lat() >= b.MinLat && p.Lat() <= b.MaxLat && p.Lon() >= b.MinLng && p.Lon() <= b.MaxLng
}

// ParseOptions configures the OSM parser.
type ParseOptions struct {
	BBox BBox // if non-zero, filter segments to this bounding box
}

// Parse reads an OSM PBF file and returns the walkable network split at
// intersections. The reader is consumed twice (seeks back to start for the
// second pass), so it must implement io.ReadSeeker.
func Parse(ctx context.Context, rs io.ReadSeeker, opts ...ParseOptions) (*ParseResult, error) {
	var opt ParseOptions
	if len(opts) > 0 {
		opt = opts[0]
	}

	// Pass 1: Scan ways to collect walkable node sequences.
	var ways [][]osm.NodeID
	referenced := make(map[osm.NodeID]struct{})

	scanner := osmpbf.New(ctx, rs, 1)
	scanner.SkipNodes = true
	scanner.SkipRelations = true

	for scanner.Scan() {
		w, ok := scanner.Object().(*osm.Way)
		if !ok {
			continue
		}
		if !isWalkable(w.Tags) || len(w.Nodes) < 2 {
			continue
		}
		ids := w.Nodes.NodeIDs()
		for _, id := range ids {
			referenced[id] = struct{}{}
		}
		ways = append(ways, ids)
	}
	if err := scanner.Err(); err != nil {
		scanner.Close()
		return nil, fmt.Errorf("pass 1 (ways): %w", err)
	}
	scanner.Close()

	log.Printf("Pass 1 complete: %d ways, %d referenced nodes", len(ways), len(referenced))

	// Pass 2: Scan nodes to collect coordinates for referenced nodes only.
	if _, err := rs.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("seek for pass 2: %w", err)
	}

	coords := make(map[osm.NodeID]orb.Point, len(referenced))

	scanner = osmpbf.New(ctx, rs, 1)
	scanner.SkipWays = true
	scanner.SkipRelations = true

	for scanner.Scan() {
		n, ok := scanner.Object().(*osm.Node)
		if !ok {
			continue
		}
		if _, needed := referenced[n.ID]; !needed {
			continue
		}
		coords[n.ID] = n.Point()
	}
	if err := scanner.Err(); err != nil {
		scanner.Close()
		return nil, fmt.Errorf("pass 2 (nodes): %w", err)
	}
	scanner.Close()

	log.Printf("Pass 2 complete: %d node coordinates collected", len(coords))

	return buildSegments(ways, coords, opt.BBox), nil
}

// buildSegments splits ways at their endpoints and at nodes shared with
// another way (or visited twice by the same way).
func buildSegments(ways [][]osm.NodeID, coords map[osm.NodeID]orb.Point, bbox BBox) *ParseResult {
	uses := make(map[osm.NodeID]int)
	for _, w := range ways {
		for _, id := range w {
			uses[id]++
		}
	}

	res := &ParseResult{Coords: make(map[osm.NodeID]orb.Point)}
	var skipped, bboxFiltered int

	for _, w := range ways {
		start := 0
		for i := 1; i < len(w); i++ {
			if i != len(w)-1 && uses[w[i]] < 2 {
				continue
			}

			ids := w[start : i+1]
			start = i

			shape := make(orb.LineString, 0, len(ids))
			complete := true
			for _, id := range ids {
				p, ok := coords[id]
				if !ok {
					complete = false
					break
				}
				shape = append(shape, p)
			}
			if !complete {
				skipped++
				continue
			}

			from, to := ids[0], ids[len(ids)-1]
			if !bbox.IsZero() && (!bbox.Contains(shape[0]) || !bbox.Contains(shape[len(shape)-1])) {
				bboxFiltered++
				continue
			}

			res.Segments = append(res.Segments, Segment{
				From:   from,
				To:     to,
				Shape:  shape,
				Length: geo.Length(shape),
			})
			res.Coords[from] = shape[0]
			res.Coords[to] = shape[len(shape)-1]
		}
	}

	if skipped > 0 {
		log.Printf("Warning: skipped %d segments due to missing node coordinates", skipped)
	}
	if bboxFiltered > 0 {
		log.Printf("Filtered %d segments outside bounding box", bboxFiltered)
	}
	log.Printf("Built %d walkable segments", len(res.Segments))

	return res
}

// ToGraph builds a directed multigraph with every segment in both
// directions. Parallel segments between the same nodes get increasing keys.
func ToGraph(res *ParseResult) (*graph.Graph, error) {
	nodes := make([]graph.Node, 0, len(res.Coords))
	for id, p := range res.Coords {
		nodes = append(nodes, graph.Node{ID: graph.NodeID(id), X: p.Lon(), Y: p.Lat()})
	}

	type pair struct{ u, v graph.NodeID }
	keys := make(map[pair]int)
	next := func(u, v graph.NodeID) int {
		k := keys[pair{u, v}]
		keys[pair{u, v}] = k + 1
		return k
	}

	edges := make([]graph.Edge, 0, 2*len(res.Segments))
	for _, s := range res.Segments {
		u, v := graph.NodeID(s.From), graph.NodeID(s.To)
		back := s.Shape.Clone()
		back.Reverse()

		edges = append(edges,
			graph.Edge{Source: u, Target: v, Key: next(u, v), Length: s.Length, Geometry: s.Shape},
			graph.Edge{Source: v, Target: u, Key: next(v, u), Length: s.Length, Geometry: back},
		)
	}

	return graph.Build(graph.DefaultCRS, nodes, edges)
}
