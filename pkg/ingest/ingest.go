// Package ingest seeds the store with a city's walking network and its
// amenities.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"

	"walkfilter/pkg/graph"
	"walkfilter/pkg/routing"
	"walkfilter/pkg/store"
)

// Store receives seeded data.
type Store interface {
	PutCity(ctx context.Context, c store.City) error
	PutNetworkGraph(ctx context.Context, cityID int64, data []byte) error
	PutAmenities(ctx context.Context, cityID int64, category string, rows []store.CandidateRow) error
	PutNodeSet(ctx context.Context, cityID int64, category string, nodes []graph.NodeID) error
}

// City keeps the largest connected part of g, compacts it and stores it.
// The stored graph is returned so amenities can be snapped against it.
func City(ctx context.Context, st Store, cityID int64, name string, g *graph.Graph, opts graph.CompactOptions) (*graph.Graph, error) {
	lc, err := graph.LargestComponent(g)
	if err != nil {
		return nil, fmt.Errorf("largest component: %w", err)
	}
	compacted, err := graph.Compact(lc, opts)
	if err != nil {
		return nil, fmt.Errorf("compact: %w", err)
	}
	data, err := graph.Encode(compacted)
	if err != nil {
		return nil, err
	}

	if err := st.PutCity(ctx, store.City{ID: cityID, Name: name}); err != nil {
		return nil, err
	}
	if err := st.PutNetworkGraph(ctx, cityID, data); err != nil {
		return nil, err
	}

	log.Printf("City %d (%s): %d/%d nodes, %d/%d edges kept, %d bytes",
		cityID, name, compacted.NumNodes(), g.NumNodes(), compacted.NumEdges(), g.NumEdges(), len(data))
	return compacted, nil
}

// Amenities stores the features of fc under category and records the
// network nodes that serve them. With useBoundary, lines and polygon
// outlines are sampled so large areas such as parks get several access
// nodes; otherwise each feature maps to the node nearest its centroid.
// Features that cannot be snapped are stored but contribute no node.
func Amenities(ctx context.Context, st Store, snapper *routing.Snapper, cityID int64, category string, fc *geojson.FeatureCollection, useBoundary bool) ([]graph.NodeID, error) {
	rows := make([]store.CandidateRow, 0, len(fc.Features))
	var nodes []graph.NodeID
	seen := make(map[graph.NodeID]struct{})
	var unsnapped int

	for i, f := range fc.Features {
		if f.Geometry == nil {
			continue
		}
		centroid := Centroid(f.Geometry)

		row, err := toRow(f, centroid)
		if err != nil {
			return nil, fmt.Errorf("feature %d: %w", i, err)
		}
		rows = append(rows, row)

		var ids []graph.NodeID
		if useBoundary {
			ids, err = snapper.GeometryNodes(f.Geometry)
		} else {
			var id graph.NodeID
			id, err = snapper.NearestNode(centroid)
			ids = []graph.NodeID{id}
		}
		if errors.Is(err, routing.ErrPointTooFar) {
			unsnapped++
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("feature %d: %w", i, err)
		}
		for _, id := range ids {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			nodes = append(nodes, id)
		}
	}

	if err := st.PutAmenities(ctx, cityID, category, rows); err != nil {
		return nil, err
	}
	if err := st.PutNodeSet(ctx, cityID, category, nodes); err != nil {
		return nil, err
	}

	if unsnapped > 0 {
		log.Printf("Warning: %d %s features too far from the network", unsnapped, category)
	}
	log.Printf("Seeded %d %s features onto %d nodes", len(rows), category, len(nodes))
	return nodes, nil
}

// Centroid returns the area-weighted centroid of polygons, the
// length-weighted centroid of lines, and the mean of points.
func Centroid(g orb.Geometry) orb.Point {
	if p, ok := g.(orb.Point); ok {
		return p
	}
	c, _ := planar.CentroidArea(g)
	return c
}

func toRow(f *geojson.Feature, centroid orb.Point) (store.CandidateRow, error) {
	geom, err := json.Marshal(geojson.NewGeometry(f.Geometry))
	if err != nil {
		return store.CandidateRow{}, fmt.Errorf("encode geometry: %w", err)
	}
	cen, err := json.Marshal(geojson.NewGeometry(centroid))
	if err != nil {
		return store.CandidateRow{}, fmt.Errorf("encode centroid: %w", err)
	}
	props := f.Properties
	if props == nil {
		props = geojson.Properties{}
	}
	rawProps, err := json.Marshal(props)
	if err != nil {
		return store.CandidateRow{}, fmt.Errorf("encode properties: %w", err)
	}
	return store.CandidateRow{GeometryJSON: geom, CentroidJSON: cen, PropertiesJSON: rawProps}, nil
}

// ReadFeatureCollection loads a GeoJSON FeatureCollection file.
func ReadFeatureCollection(path string) (*geojson.FeatureCollection, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return fc, nil
}
