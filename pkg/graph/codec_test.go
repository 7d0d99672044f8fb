package graph

import (
	"errors"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/paulmach/orb"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	for _, keep := range []bool{false, true} {
		opts := DefaultCompactOptions()
		opts.KeepGeometry = keep

		compacted, err := Compact(rawGraph(t), opts)
		if err != nil {
			t.Fatalf("Compact: %v", err)
		}
		data, err := Encode(compacted)
		if err != nil {
			t.Fatalf("Encode: %v", err)
		}
		decoded, err := Decode(data)
		if err != nil {
			t.Fatalf("Decode: %v", err)
		}

		if !reflect.DeepEqual(decoded.Nodes(), compacted.Nodes()) {
			t.Errorf("keep=%v: nodes differ:\n got %v\nwant %v", keep, decoded.Nodes(), compacted.Nodes())
		}
		if !reflect.DeepEqual(decoded.Edges(), compacted.Edges()) {
			t.Errorf("keep=%v: edges differ:\n got %v\nwant %v", keep, decoded.Edges(), compacted.Edges())
		}
		if decoded.CRS() != compacted.CRS() {
			t.Errorf("CRS = %q, want %q", decoded.CRS(), compacted.CRS())
		}
	}
}

func TestDecodeNodeLinkPayload(t *testing.T) {
	payload := `{
		"directed": true, "multigraph": true,
		"graph": {"crs": "epsg:4326", "created_with": "osmnx"},
		"nodes": [{"id": 1, "x": 103.8, "y": 1.3, "street_count": 3}, {"id": 2, "x": 103.9, "y": 1.3}],
		"links": [
			{"source": 1, "target": 2, "key": 0, "length": 12.5,
			 "geometry": {"type": "LineString", "coordinates": [[103.8, 1.3], [103.85, 1.31], [103.9, 1.3]]}},
			{"source": 1, "target": 2, "key": 1, "length": 14.0}
		]
	}`
	g, err := Decode([]byte(payload))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if g.NumNodes() != 2 || g.NumEdges() != 2 {
		t.Fatalf("got %d nodes, %d edges; want 2, 2", g.NumNodes(), g.NumEdges())
	}
	want := orb.LineString{{103.8, 1.3}, {103.85, 1.31}, {103.9, 1.3}}
	if got := g.EdgeAt(0).Geometry; !reflect.DeepEqual(got, want) {
		t.Errorf("geometry = %v, want %v", got, want)
	}
}

func TestDecodeEdgesSpelling(t *testing.T) {
	payload := `{"directed": true, "multigraph": true, "graph": {},
		"nodes": [{"id": 1, "x": 0, "y": 0}, {"id": 2, "x": 1, "y": 0}],
		"edges": [{"source": 1, "target": 2, "key": 0, "length": 10}]}`
	g, err := Decode([]byte(payload))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if g.NumEdges() != 1 {
		t.Errorf("NumEdges = %d, want 1", g.NumEdges())
	}
}

func TestDecodeUndirectedMirrorsLinks(t *testing.T) {
	payload := `{"directed": false, "multigraph": false, "graph": {},
		"nodes": [{"id": 1, "x": 0, "y": 0}, {"id": 2, "x": 1, "y": 0}],
		"links": [{"source": 1, "target": 2, "length": 10}]}`
	g, err := Decode([]byte(payload))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if g.OutDegree(1) != 1 || g.OutDegree(2) != 1 {
		t.Errorf("out degrees = %d, %d; want 1, 1", g.OutDegree(1), g.OutDegree(2))
	}
}

func TestDecodeRejectsMalformed(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{"not json", `not json`},
		{"missing directed", `{"multigraph": true, "nodes": [], "links": []}`},
		{"missing multigraph", `{"directed": true, "nodes": [], "links": []}`},
		{"missing nodes", `{"directed": true, "multigraph": true, "links": []}`},
		{"missing links", `{"directed": true, "multigraph": true, "nodes": []}`},
		{"node missing x", `{"directed": true, "multigraph": true, "nodes": [{"id": 1, "y": 0}], "links": []}`},
		{"node missing id", `{"directed": true, "multigraph": true, "nodes": [{"x": 1, "y": 0}], "links": []}`},
		{"link missing length", `{"directed": true, "multigraph": true,
			"nodes": [{"id": 1, "x": 0, "y": 0}, {"id": 2, "x": 1, "y": 0}],
			"links": [{"source": 1, "target": 2, "key": 0}]}`},
		{"link missing key", `{"directed": true, "multigraph": true,
			"nodes": [{"id": 1, "x": 0, "y": 0}, {"id": 2, "x": 1, "y": 0}],
			"links": [{"source": 1, "target": 2, "length": 3}]}`},
		{"dangling target", `{"directed": true, "multigraph": true,
			"nodes": [{"id": 1, "x": 0, "y": 0}],
			"links": [{"source": 1, "target": 2, "key": 0, "length": 3}]}`},
		{"point geometry", `{"directed": true, "multigraph": true,
			"nodes": [{"id": 1, "x": 0, "y": 0}, {"id": 2, "x": 1, "y": 0}],
			"links": [{"source": 1, "target": 2, "key": 0, "length": 3,
				"geometry": {"type": "Point", "coordinates": [0, 0]}}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, err := Decode([]byte(tt.payload))
			if !errors.Is(err, ErrIntegrity) {
				t.Fatalf("err = %v, want ErrIntegrity", err)
			}
			if g != nil {
				t.Error("expected no partial graph")
			}
		})
	}
}

func TestWriteReadFile(t *testing.T) {
	g, err := Compact(rawGraph(t), DefaultCompactOptions())
	if err != nil {
		t.Fatalf("Compact: %v", err)
	}
	path := filepath.Join(t.TempDir(), "city.graph.json")
	if err := WriteFile(path, g); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	loaded, err := ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !reflect.DeepEqual(loaded.Edges(), g.Edges()) {
		t.Error("edges differ after file round trip")
	}
}
