package analyze

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"golang.org/x/sync/errgroup"

	"walkfilter/pkg/graph"
	"walkfilter/pkg/routing"
	"walkfilter/pkg/store"
)

// Query phases, in execution order.
const (
	PhaseFetch   = "fetch"
	PhaseDecode  = "decode"
	PhaseResolve = "resolve"
	PhaseFilter  = "filter"
	PhaseFormat  = "format"
)

// Store is the data the orchestrator reads per query.
type Store interface {
	GetNetworkGraph(ctx context.Context, cityID int64) ([]byte, error)
	GetNodeSets(ctx context.Context, cityID int64, categories []string) (map[string][]graph.NodeID, error)
	GetCandidates(ctx context.Context, cityID int64, category string) ([]store.CandidateRow, error)
	GetFavorites(ctx context.Context, ids []int64) ([]store.CandidateRow, error)
}

// Options configures a Service.
type Options struct {
	CandidateCategory string  // amenity category evaluated against the constraints
	FetchWorkers      int     // concurrent store fetches; keep below the store pool size
	MaxSnapMeters     float64 // centroids farther than this from the network never match
}

// DefaultOptions returns the production defaults.
func DefaultOptions() Options {
	return Options{
		CandidateCategory: "apartment",
		FetchWorkers:      3,
	}
}

// Query asks which candidates of a city are within the given walking
// distance, in meters, of each category. A nil distance disables the
// category.
type Query struct {
	CityID       int64
	MaxDistances map[string]*float64
}

// Candidate is a decoded candidate row.
type Candidate struct {
	ID         int64
	Properties map[string]any
	Geometry   orb.Geometry
	Centroid   orb.Point
}

// Result holds the matching candidates as two views of the same features.
type Result struct {
	Polygon  *geojson.FeatureCollection `json:"polygon"`
	Centroid *geojson.FeatureCollection `json:"centroid"`
}

// PhaseError records which phase of a query failed.
type PhaseError struct {
	Phase string
	Err   error
}

func (e *PhaseError) Error() string { return e.Phase + ": " + e.Err.Error() }

func (e *PhaseError) Unwrap() error { return e.Err }

// Stats are cumulative query counters.
type Stats struct {
	Queries int64 `json:"queries"`
	Failed  int64 `json:"failed"`
	Matched int64 `json:"matched"`
}

// Service runs analyze queries. Each query decodes its own graph, so no
// graph state is shared between concurrent queries.
type Service struct {
	store Store
	opts  Options

	queries atomic.Int64
	failed  atomic.Int64
	matched atomic.Int64
}

// NewService creates a Service. Zero option fields take their defaults.
func NewService(st Store, opts Options) *Service {
	def := DefaultOptions()
	if opts.CandidateCategory == "" {
		opts.CandidateCategory = def.CandidateCategory
	}
	if opts.FetchWorkers <= 0 {
		opts.FetchWorkers = def.FetchWorkers
	}
	return &Service{store: st, opts: opts}
}

// Stats returns a snapshot of the query counters.
func (s *Service) Stats() Stats {
	return Stats{
		Queries: s.queries.Load(),
		Failed:  s.failed.Load(),
		Matched: s.matched.Load(),
	}
}

type fetched struct {
	graphData  []byte
	rows       []store.CandidateRow
	nodeSets   map[string][]graph.NodeID
	categories []string
}

// Analyze runs one query. Any phase failure aborts the query; partial
// results are never returned.
func (s *Service) Analyze(ctx context.Context, q Query) (*Result, error) {
	queryID := uuid.New().String()
	start := time.Now()
	s.queries.Add(1)

	res, matched, total, err := s.run(ctx, q)
	QueriesTotal.WithLabelValues(outcome(err)).Inc()
	if err != nil {
		s.failed.Add(1)
		log.Printf("Query %s city=%d failed after %s: %v", queryID, q.CityID, time.Since(start).Round(time.Microsecond), err)
		return nil, err
	}

	s.matched.Add(int64(matched))
	CandidatesMatched.Observe(float64(matched))
	log.Printf("Query %s city=%d: %d/%d candidates matched in %s", queryID, q.CityID, matched, total, time.Since(start).Round(time.Microsecond))
	return res, nil
}

func (s *Service) run(ctx context.Context, q Query) (*Result, int, int, error) {
	var f *fetched
	err := timed(ctx, PhaseFetch, func() (err error) {
		f, err = s.fetch(ctx, q)
		return err
	})
	if err != nil {
		return nil, 0, 0, err
	}

	var (
		g          *graph.Graph
		candidates []Candidate
	)
	err = timed(ctx, PhaseDecode, func() (err error) {
		if g, err = graph.Decode(f.graphData); err != nil {
			return err
		}
		candidates, err = decodeCandidates(f.rows)
		return err
	})
	if err != nil {
		return nil, 0, 0, err
	}

	var matches []routing.Match
	err = timed(ctx, PhaseResolve, func() error {
		points := make([]orb.Point, len(candidates))
		for i, c := range candidates {
			points[i] = c.Centroid
		}
		matches = routing.NewSnapper(g, routing.SnapOptions{MaxDistanceMeters: s.opts.MaxSnapMeters}).NearestNodes(points)
		for _, m := range matches {
			if m.Err != nil && !errors.Is(m.Err, routing.ErrPointTooFar) {
				return fmt.Errorf("%w: %v", routing.ErrComputation, m.Err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, 0, 0, err
	}

	var kept map[graph.NodeID]struct{}
	err = timed(ctx, PhaseFilter, func() error {
		input := make([]graph.NodeID, 0, len(matches))
		for _, m := range matches {
			if m.Err == nil {
				input = append(input, m.Node)
			}
		}

		constraints := make(map[string]routing.Constraint, len(f.categories))
		for _, c := range f.categories {
			constraints[c] = routing.Constraint{Sources: f.nodeSets[c], MaxDistance: q.MaxDistances[c]}
		}

		out, err := routing.Filter(g, input, constraints)
		if err != nil {
			return err
		}
		kept = make(map[graph.NodeID]struct{}, len(out))
		for _, id := range out {
			kept[id] = struct{}{}
		}
		return nil
	})
	if err != nil {
		return nil, 0, 0, err
	}

	var res *Result
	err = timed(ctx, PhaseFormat, func() error {
		res = &Result{
			Polygon:  geojson.NewFeatureCollection(),
			Centroid: geojson.NewFeatureCollection(),
		}
		for i, c := range candidates {
			if matches[i].Err != nil {
				continue
			}
			if _, ok := kept[matches[i].Node]; !ok {
				continue
			}
			res.Polygon.Append(newFeature(c.Geometry, c.Properties))
			res.Centroid.Append(newFeature(c.Centroid, c.Properties))
		}
		return nil
	})
	if err != nil {
		return nil, 0, 0, err
	}
	return res, len(res.Polygon.Features), len(candidates), nil
}

// Amenities returns every stored feature of one category, either with its
// original geometry or as its centroid. An unknown category yields an empty
// collection.
func (s *Service) Amenities(ctx context.Context, cityID int64, category string, centroid bool) (*geojson.FeatureCollection, error) {
	fc := geojson.NewFeatureCollection()
	rows, err := s.store.GetCandidates(ctx, cityID, category)
	if errors.Is(err, store.ErrNotFound) {
		return fc, nil
	}
	if err != nil {
		return nil, err
	}
	candidates, err := decodeCandidates(rows)
	if err != nil {
		return nil, err
	}

	for _, c := range candidates {
		if centroid {
			fc.Append(newFeature(c.Centroid, c.Properties))
		} else {
			fc.Append(newFeature(c.Geometry, c.Properties))
		}
	}
	return fc, nil
}

// Favorites returns the centroids of the amenities whose "id" property is
// in ids, in storage order.
func (s *Service) Favorites(ctx context.Context, ids []int64) ([]*geojson.Feature, error) {
	rows, err := s.store.GetFavorites(ctx, ids)
	if err != nil {
		return nil, err
	}
	candidates, err := decodeCandidates(rows)
	if err != nil {
		return nil, err
	}
	out := make([]*geojson.Feature, len(candidates))
	for i, c := range candidates {
		out[i] = newFeature(c.Centroid, c.Properties)
	}
	return out, nil
}

// fetch loads the graph, the candidates and the node sets of the active
// categories concurrently.
func (s *Service) fetch(ctx context.Context, q Query) (*fetched, error) {
	f := &fetched{}
	for name, d := range q.MaxDistances {
		if d != nil {
			f.categories = append(f.categories, name)
		}
	}
	sort.Strings(f.categories)

	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(s.opts.FetchWorkers)
	eg.Go(func() (err error) {
		f.graphData, err = s.store.GetNetworkGraph(ctx, q.CityID)
		return err
	})
	eg.Go(func() (err error) {
		f.rows, err = s.store.GetCandidates(ctx, q.CityID, s.opts.CandidateCategory)
		return err
	})
	if len(f.categories) > 0 {
		eg.Go(func() (err error) {
			f.nodeSets, err = s.store.GetNodeSets(ctx, q.CityID, f.categories)
			return err
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return f, nil
}

// timed runs fn, records its latency and wraps any error with the phase.
// A query whose deadline has passed fails before the phase starts.
func timed(ctx context.Context, phase string, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return &PhaseError{Phase: phase, Err: err}
	}
	start := time.Now()
	err := fn()
	PhaseSeconds.WithLabelValues(phase).Observe(time.Since(start).Seconds())
	if err != nil {
		return &PhaseError{Phase: phase, Err: err}
	}
	return nil
}

func decodeCandidates(rows []store.CandidateRow) ([]Candidate, error) {
	out := make([]Candidate, len(rows))
	for i, r := range rows {
		geom, err := geojson.UnmarshalGeometry(r.GeometryJSON)
		if err != nil {
			return nil, fmt.Errorf("candidate %d geometry: %w", r.ID, err)
		}
		centroid, err := geojson.UnmarshalGeometry(r.CentroidJSON)
		if err != nil {
			return nil, fmt.Errorf("candidate %d centroid: %w", r.ID, err)
		}
		pt, ok := centroid.Geometry().(orb.Point)
		if !ok {
			return nil, fmt.Errorf("candidate %d centroid is %s, want Point", r.ID, centroid.Type)
		}

		props := map[string]any{}
		if len(r.PropertiesJSON) > 0 {
			if err := json.Unmarshal(r.PropertiesJSON, &props); err != nil {
				return nil, fmt.Errorf("candidate %d properties: %w", r.ID, err)
			}
		}
		out[i] = Candidate{ID: r.ID, Properties: props, Geometry: geom.Geometry(), Centroid: pt}
	}
	return out, nil
}

func newFeature(geom orb.Geometry, props map[string]any) *geojson.Feature {
	f := geojson.NewFeature(geom)
	for k, v := range props {
		f.Properties[k] = v
	}
	return f
}

// outcome labels an Analyze error for QueriesTotal.
func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, store.ErrNotFound):
		return "not_found"
	case errors.Is(err, graph.ErrIntegrity):
		return "integrity"
	case errors.Is(err, store.ErrResourceExhausted):
		return "exhausted"
	case errors.Is(err, routing.ErrComputation):
		return "computation"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "error"
	}
}
