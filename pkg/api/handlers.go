package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/paulmach/orb/geojson"

	"walkfilter/pkg/analyze"
	"walkfilter/pkg/graph"
	"walkfilter/pkg/routing"
	"walkfilter/pkg/store"
)

// legacyPrefix marks distance keys in the legacy kwargs parameter.
const legacyPrefix = "max_meter_"

// Analyzer runs analyze queries and serves the stored amenity layers.
type Analyzer interface {
	Analyze(ctx context.Context, q analyze.Query) (*analyze.Result, error)
	Amenities(ctx context.Context, cityID int64, category string, centroid bool) (*geojson.FeatureCollection, error)
	Favorites(ctx context.Context, ids []int64) ([]*geojson.Feature, error)
	Stats() analyze.Stats
}

// CityLister lists served cities.
type CityLister interface {
	ListCities(ctx context.Context) ([]store.City, error)
}

// Handlers holds the HTTP handlers and their dependencies.
type Handlers struct {
	analyzer Analyzer
	cities   CityLister
}

// NewHandlers creates handlers. cities may be nil.
func NewHandlers(analyzer Analyzer, cities CityLister) *Handlers {
	return &Handlers{
		analyzer: analyzer,
		cities:   cities,
	}
}

// HandleAnalyze handles POST /api/v1/analyze.
func (h *Handlers) HandleAnalyze(w http.ResponseWriter, r *http.Request) {
	// Enforce Content-Type.
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "application/json" {
		writeError(w, http.StatusBadRequest, "invalid_request", "")
		return
	}

	var req AnalyzeRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "")
		return
	}
	if req.CityID == nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "city_id")
		return
	}
	if field, err := validateDistances(req.MaxDistances); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", field)
		return
	}

	h.analyze(w, r, analyze.Query{CityID: *req.CityID, MaxDistances: req.MaxDistances})
}

// HandleLegacyAnalyze handles GET /analyze?city_id=1&kwargs={"max_meter_park":500}.
// Keys without the max_meter_ prefix are ignored.
func (h *Handlers) HandleLegacyAnalyze(w http.ResponseWriter, r *http.Request) {
	cityID, err := strconv.ParseInt(r.URL.Query().Get("city_id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "city_id")
		return
	}

	distances, err := parseKwargs(r.URL.Query().Get("kwargs"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "kwargs")
		return
	}
	if field, err := validateDistances(distances); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", field)
		return
	}

	h.analyze(w, r, analyze.Query{CityID: cityID, MaxDistances: distances})
}

func (h *Handlers) analyze(w http.ResponseWriter, r *http.Request, q analyze.Query) {
	res, err := h.analyzer.Analyze(r.Context(), q)
	if err != nil {
		writeAnalyzeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(res)
}

// HandleAmenities handles GET /api/v1/amenities?city_id=1&name=park&is_centroid=true.
func (h *Handlers) HandleAmenities(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	cityID, err := strconv.ParseInt(q.Get("city_id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "city_id")
		return
	}
	name := q.Get("name")
	if name == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "name")
		return
	}
	centroid := false
	if v := q.Get("is_centroid"); v != "" {
		if centroid, err = strconv.ParseBool(v); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "is_centroid")
			return
		}
	}

	fc, err := h.analyzer.Amenities(r.Context(), cityID, name, centroid)
	if err != nil {
		writeAnalyzeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(fc)
}

// HandleFavorites handles GET /api/v1/favorites?ids=1&ids=2 and responds
// with a JSON array of centroid features.
func (h *Handlers) HandleFavorites(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query()["ids"]
	if len(raw) == 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "ids")
		return
	}
	ids := make([]int64, len(raw))
	for i, v := range raw {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "ids")
			return
		}
		ids[i] = id
	}

	features, err := h.analyzer.Favorites(r.Context(), ids)
	if err != nil {
		writeAnalyzeError(w, err)
		return
	}
	if features == nil {
		features = []*geojson.Feature{}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(features)
}

// HandleHealth handles GET /api/v1/health.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(HealthResponse{Status: "ok"})
}

// HandleStats handles GET /api/v1/stats.
func (h *Handlers) HandleStats(w http.ResponseWriter, r *http.Request) {
	s := h.analyzer.Stats()
	resp := StatsResponse{
		Cities:  []CityJSON{},
		Queries: s.Queries,
		Failed:  s.Failed,
		Matched: s.Matched,
	}
	if h.cities != nil {
		cities, err := h.cities.ListCities(r.Context())
		if err != nil {
			writeAnalyzeError(w, err)
			return
		}
		for _, c := range cities {
			resp.Cities = append(resp.Cities, CityJSON{ID: c.ID, Name: c.Name})
		}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// parseKwargs extracts max_meter_* entries from a JSON object. Values must
// be numbers or null.
func parseKwargs(raw string) (map[string]*float64, error) {
	out := map[string]*float64{}
	if raw == "" {
		return out, nil
	}

	var kwargs map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &kwargs); err != nil {
		return nil, err
	}
	for k, v := range kwargs {
		category, ok := strings.CutPrefix(k, legacyPrefix)
		if !ok || category == "" {
			continue
		}
		var d *float64
		if err := json.Unmarshal(v, &d); err != nil {
			return nil, fmt.Errorf("%s: %w", k, err)
		}
		out[category] = d
	}
	return out, nil
}

func validateDistances(distances map[string]*float64) (string, error) {
	for category, d := range distances {
		if d == nil {
			continue
		}
		if math.IsNaN(*d) || math.IsInf(*d, 0) || *d < 0 {
			return category, errors.New("distance must be a non-negative finite number")
		}
	}
	return "", nil
}

func writeAnalyzeError(w http.ResponseWriter, err error) {
	var pe *analyze.PhaseError
	errors.As(err, &pe)

	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "")
	case errors.Is(err, store.ErrResourceExhausted):
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusServiceUnavailable, "service_unavailable", "")
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusServiceUnavailable, "request_timeout", "")
	case errors.Is(err, graph.ErrIntegrity):
		log.Printf("Graph integrity error: %v", err)
		writeError(w, http.StatusInternalServerError, "graph_integrity", "")
	case errors.Is(err, routing.ErrComputation):
		log.Printf("Computation error: %v", err)
		field := ""
		if pe != nil {
			field = pe.Phase
		}
		writeError(w, http.StatusInternalServerError, "computation_failed", field)
	default:
		log.Printf("Internal error: %v", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "")
	}
}

func writeError(w http.ResponseWriter, status int, code, field string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{Error: code, Field: field})
}
