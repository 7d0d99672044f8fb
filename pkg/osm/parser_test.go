package osm

import (
	"math"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/osm"

	"walkfilter/pkg/graph"
)

func TestIsWalkable(t *testing.T) {
	tests := []struct {
		name string
		tags osm.Tags
		want bool
	}{
		{
			name: "footway",
			tags: osm.Tags{{Key: "highway", Value: "footway"}},
			want: true,
		},
		{
			name: "residential road",
			tags: osm.Tags{{Key: "highway", Value: "residential"}},
			want: true,
		},
		{
			name: "steps",
			tags: osm.Tags{{Key: "highway", Value: "steps"}},
			want: true,
		},
		{
			name: "motorway",
			tags: osm.Tags{{Key: "highway", Value: "motorway"}},
			want: false,
		},
		{
			name: "cycleway",
			tags: osm.Tags{{Key: "highway", Value: "cycleway"}},
			want: false,
		},
		{
			name: "under construction",
			tags: osm.Tags{{Key: "highway", Value: "construction"}},
			want: false,
		},
		{
			name: "private access",
			tags: osm.Tags{
				{Key: "highway", Value: "residential"},
				{Key: "access", Value: "private"},
			},
			want: false,
		},
		{
			name: "foot=no",
			tags: osm.Tags{
				{Key: "highway", Value: "primary"},
				{Key: "foot", Value: "no"},
			},
			want: false,
		},
		{
			name: "private service road",
			tags: osm.Tags{
				{Key: "highway", Value: "service"},
				{Key: "service", Value: "private"},
			},
			want: false,
		},
		{
			name: "area=yes (pedestrian plaza)",
			tags: osm.Tags{
				{Key: "highway", Value: "pedestrian"},
				{Key: "area", Value: "yes"},
			},
			want: false,
		},
		{
			name: "oneway is still walkable",
			tags: osm.Tags{
				{Key: "highway", Value: "secondary"},
				{Key: "oneway", Value: "yes"},
			},
			want: true,
		},
		{
			name: "no highway tag",
			tags: osm.Tags{{Key: "name", Value: "Some Street"}},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isWalkable(tt.tags); got != tt.want {
				t.Errorf("isWalkable() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestBBox(t *testing.T) {
	var zero BBox
	if !zero.IsZero() {
		t.Error("zero bbox should be zero")
	}

	b := BBox{MinLat: 1.2, MaxLat: 1.5, MinLng: 103.6, MaxLng: 104.1}
	if !b.Contains(orb.Point{103.8, 1.3}) {
		t.Error("expected point inside")
	}
	if b.Contains(orb.Point{103.8, 1.6}) {
		t.Error("expected point outside")
	}
}

// coordsLine places node i at (103.8 + i*0.001, 1.3).
func coordsLine(ids ...osm.NodeID) map[osm.NodeID]orb.Point {
	m := make(map[osm.NodeID]orb.Point, len(ids))
	for _, id := range ids {
		m[id] = orb.Point{103.8 + float64(id)*0.001, 1.3}
	}
	return m
}

func TestBuildSegmentsSplitsAtIntersections(t *testing.T) {
	// Way A: 1-2-3-4-5, way B: 10-3-11. Node 3 is shared.
	ways := [][]osm.NodeID{{1, 2, 3, 4, 5}, {10, 3, 11}}
	coords := coordsLine(1, 2, 3, 4, 5, 10, 11)

	res := buildSegments(ways, coords, BBox{})

	type seg struct {
		from, to osm.NodeID
		n        int
	}
	want := []seg{{1, 3, 3}, {3, 5, 3}, {10, 3, 2}, {3, 11, 2}}
	if len(res.Segments) != len(want) {
		t.Fatalf("got %d segments, want %d", len(res.Segments), len(want))
	}
	for i, w := range want {
		s := res.Segments[i]
		if s.From != w.from || s.To != w.to || len(s.Shape) != w.n {
			t.Errorf("segment %d = %d->%d (%d points), want %d->%d (%d points)",
				i, s.From, s.To, len(s.Shape), w.from, w.to, w.n)
		}
	}

	// Intermediate nodes 2 and 4 are geometry only.
	for _, id := range []osm.NodeID{2, 4} {
		if _, ok := res.Coords[id]; ok {
			t.Errorf("node %d should not be a graph node", id)
		}
	}

	// 0.002 degrees of longitude at 1.3N is about 222 m.
	if l := res.Segments[0].Length; math.Abs(l-222) > 2 {
		t.Errorf("length = %f, want ~222", l)
	}
}

func TestBuildSegmentsSkipsMissingCoords(t *testing.T) {
	ways := [][]osm.NodeID{{1, 2, 3}}
	coords := coordsLine(1, 3)
	res := buildSegments(ways, coords, BBox{})
	if len(res.Segments) != 0 {
		t.Errorf("got %d segments, want 0", len(res.Segments))
	}
}

func TestBuildSegmentsBBox(t *testing.T) {
	ways := [][]osm.NodeID{{1, 2}, {2, 50}}
	coords := coordsLine(1, 2, 50)
	bbox := BBox{MinLat: 1, MaxLat: 2, MinLng: 103.8, MaxLng: 103.81}

	res := buildSegments(ways, coords, bbox)
	if len(res.Segments) != 1 || res.Segments[0].To != 2 {
		t.Errorf("segments = %+v, want only 1->2", res.Segments)
	}
}

func TestToGraph(t *testing.T) {
	// Two parallel ways between 1 and 3, one through 2.
	ways := [][]osm.NodeID{{1, 3}, {1, 2, 3}}
	coords := coordsLine(1, 2, 3)
	coords[2] = orb.Point{103.802, 1.301}

	g, err := ToGraph(buildSegments(ways, coords, BBox{}))
	if err != nil {
		t.Fatalf("ToGraph: %v", err)
	}
	if g.NumNodes() != 2 {
		t.Errorf("NumNodes = %d, want 2", g.NumNodes())
	}
	if g.NumEdges() != 4 {
		t.Fatalf("NumEdges = %d, want 4", g.NumEdges())
	}
	if g.OutDegree(1) != 2 || g.OutDegree(3) != 2 {
		t.Errorf("out degrees = %d, %d; want 2, 2", g.OutDegree(1), g.OutDegree(3))
	}

	var keys []int
	for _, e := range g.Edges() {
		if e.Source == graph.NodeID(1) {
			keys = append(keys, e.Key)
			if e.Geometry[0] != coords[1] {
				t.Errorf("forward geometry starts at %v, want node 1", e.Geometry[0])
			}
		} else if e.Geometry[0] != coords[3] {
			t.Errorf("backward geometry starts at %v, want node 3", e.Geometry[0])
		}
	}
	if len(keys) != 2 || keys[0] != 0 || keys[1] != 1 {
		t.Errorf("keys = %v, want [0 1]", keys)
	}

	n, _ := g.Node(1)
	if n.X != coords[1].Lon() || n.Y != coords[1].Lat() {
		t.Errorf("node 1 = (%v, %v), want x=lon, y=lat", n.X, n.Y)
	}
}
