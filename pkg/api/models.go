package api

// AnalyzeRequest is the JSON body for POST /api/v1/analyze. A null distance
// disables that category.
type AnalyzeRequest struct {
	CityID       *int64              `json:"city_id"`
	MaxDistances map[string]*float64 `json:"max_distances"`
}

// ErrorResponse is the JSON response for errors.
type ErrorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

// StatsResponse is the JSON response for GET /api/v1/stats.
type StatsResponse struct {
	Cities  []CityJSON `json:"cities"`
	Queries int64      `json:"queries"`
	Failed  int64      `json:"failed"`
	Matched int64      `json:"matched"`
}

// CityJSON is a served city.
type CityJSON struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// HealthResponse is the JSON response for GET /api/v1/health.
type HealthResponse struct {
	Status string `json:"status"`
}
