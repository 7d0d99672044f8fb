package graph

import (
	"encoding/json"
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// Node-link wire format. Geometry is always a GeoJSON LineString object so
// the payload is readable without this package.

type linkAttrs struct {
	CRS string `json:"crs,omitempty"`
}

type encNode struct {
	ID NodeID  `json:"id"`
	X  float64 `json:"x"`
	Y  float64 `json:"y"`
}

type encLink struct {
	Source   NodeID            `json:"source"`
	Target   NodeID            `json:"target"`
	Key      int               `json:"key"`
	Length   float64           `json:"length"`
	Geometry *geojson.Geometry `json:"geometry,omitempty"`
}

type encGraph struct {
	Directed   bool      `json:"directed"`
	Multigraph bool      `json:"multigraph"`
	Graph      linkAttrs `json:"graph"`
	Nodes      []encNode `json:"nodes"`
	Links      []encLink `json:"links"`
}

// Decoding uses pointers so that missing fields can be told apart from zero
// values.

type decNode struct {
	ID *NodeID  `json:"id"`
	X  *float64 `json:"x"`
	Y  *float64 `json:"y"`
}

type decLink struct {
	Source   *NodeID           `json:"source"`
	Target   *NodeID           `json:"target"`
	Key      *int              `json:"key"`
	Length   *float64          `json:"length"`
	Geometry *geojson.Geometry `json:"geometry"`
}

type decGraph struct {
	Directed   *bool      `json:"directed"`
	Multigraph *bool      `json:"multigraph"`
	Graph      linkAttrs  `json:"graph"`
	Nodes      *[]decNode `json:"nodes"`
	Links      *[]decLink `json:"links"`
	Edges      *[]decLink `json:"edges"` // newer networkx spelling of "links"
}

// Encode serializes g into node-link JSON.
func Encode(g *Graph) ([]byte, error) {
	out := encGraph{
		Directed:   true,
		Multigraph: true,
		Graph:      linkAttrs{CRS: g.crs},
		Nodes:      make([]encNode, len(g.nodes)),
		Links:      make([]encLink, len(g.edges)),
	}
	for i, n := range g.nodes {
		out.Nodes[i] = encNode{ID: n.ID, X: n.X, Y: n.Y}
	}
	for i, e := range g.edges {
		l := encLink{Source: e.Source, Target: e.Target, Key: e.Key, Length: e.Length}
		if len(e.Geometry) > 0 {
			l.Geometry = geojson.NewGeometry(e.Geometry)
		}
		out.Links[i] = l
	}

	data, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("marshal graph: %w", err)
	}
	return data, nil
}

// Decode parses node-link JSON into a Graph. Any missing required field,
// non-LineString geometry or dangling reference fails with ErrIntegrity;
// nothing is silently dropped.
func Decode(data []byte) (*Graph, error) {
	var in decGraph
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIntegrity, err)
	}

	if in.Directed == nil {
		return nil, fmt.Errorf("%w: missing field \"directed\"", ErrIntegrity)
	}
	if in.Multigraph == nil {
		return nil, fmt.Errorf("%w: missing field \"multigraph\"", ErrIntegrity)
	}
	if in.Nodes == nil {
		return nil, fmt.Errorf("%w: missing field \"nodes\"", ErrIntegrity)
	}
	links := in.Links
	if links == nil {
		links = in.Edges
	}
	if links == nil {
		return nil, fmt.Errorf("%w: missing field \"links\"", ErrIntegrity)
	}

	nodes := make([]Node, len(*in.Nodes))
	for i, n := range *in.Nodes {
		if n.ID == nil || n.X == nil || n.Y == nil {
			return nil, fmt.Errorf("%w: node %d missing id, x or y", ErrIntegrity, i)
		}
		nodes[i] = Node{ID: *n.ID, X: *n.X, Y: *n.Y}
	}

	edges := make([]Edge, 0, len(*links))
	for i, l := range *links {
		if l.Source == nil || l.Target == nil || l.Length == nil {
			return nil, fmt.Errorf("%w: link %d missing source, target or length", ErrIntegrity, i)
		}
		key := 0
		if l.Key != nil {
			key = *l.Key
		} else if *in.Multigraph {
			return nil, fmt.Errorf("%w: link %d missing key", ErrIntegrity, i)
		}

		e := Edge{Source: *l.Source, Target: *l.Target, Key: key, Length: *l.Length}
		if l.Geometry != nil {
			ls, ok := l.Geometry.Geometry().(orb.LineString)
			if !ok {
				return nil, fmt.Errorf("%w: link %d geometry is %s, want LineString", ErrIntegrity, i, l.Geometry.Type)
			}
			e.Geometry = ls
		}
		edges = append(edges, e)

		if !*in.Directed && e.Source != e.Target {
			rev := e
			rev.Source, rev.Target = e.Target, e.Source
			if len(e.Geometry) > 0 {
				rev.Geometry = e.Geometry.Clone()
				rev.Geometry.Reverse()
			}
			edges = append(edges, rev)
		}
	}

	return Build(in.Graph.CRS, nodes, edges)
}
