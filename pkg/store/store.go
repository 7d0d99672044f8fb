package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"walkfilter/pkg/graph"
)

var (
	// ErrNotFound is returned when a city has no stored graph or no rows of
	// the requested category.
	ErrNotFound = errors.New("not found")
	// ErrResourceExhausted is returned when no connection slot frees up
	// within the acquire timeout. Callers should retry with backoff.
	ErrResourceExhausted = errors.New("connection pool exhausted")
)

// Config controls Open.
type Config struct {
	Path           string
	MaxConns       int
	AcquireTimeout time.Duration
}

// CandidateRow is a stored amenity. The JSON columns hold GeoJSON geometry
// objects and a flat properties object.
type CandidateRow struct {
	ID             int64
	GeometryJSON   []byte
	CentroidJSON   []byte
	PropertiesJSON []byte
}

// City is a row of the cities table.
type City struct {
	ID   int64
	Name string
}

// SQLite is the backing store. Every call first takes a slot from a gate
// sized like the connection pool.
type SQLite struct {
	db             *sql.DB
	gate           chan struct{}
	acquireTimeout time.Duration
}

// Open opens (creating if needed) the database at cfg.Path and migrates it.
func Open(cfg Config) (*SQLite, error) {
	if cfg.MaxConns <= 0 {
		cfg.MaxConns = 4
	}
	if cfg.AcquireTimeout <= 0 {
		cfg.AcquireTimeout = 100 * time.Millisecond
	}

	db, err := sql.Open("sqlite3", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxConns)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	s := &SQLite{
		db:             db,
		gate:           make(chan struct{}, cfg.MaxConns),
		acquireTimeout: cfg.AcquireTimeout,
	}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("schema migration failed: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS cities (
		id INTEGER PRIMARY KEY,
		name TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS network_graphs (
		city_id INTEGER PRIMARY KEY,
		graph BLOB NOT NULL,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	-- Node sets per category; nodes is a JSON array of node ids.
	CREATE TABLE IF NOT EXISTS network_nodes (
		city_id INTEGER NOT NULL,
		name TEXT NOT NULL,
		nodes JSON NOT NULL,
		PRIMARY KEY (city_id, name)
	);

	CREATE TABLE IF NOT EXISTS amenities (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		city_id INTEGER NOT NULL,
		name TEXT NOT NULL,
		geom JSON NOT NULL,
		centroid JSON NOT NULL,
		properties JSON NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_amenities_city_name ON amenities(city_id, name);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create tables: %w", err)
	}
	return nil
}

// acquire takes a gate slot, waiting at most the acquire timeout.
func (s *SQLite) acquire(ctx context.Context) (func(), error) {
	timer := time.NewTimer(s.acquireTimeout)
	defer timer.Stop()

	select {
	case s.gate <- struct{}{}:
		return func() { <-s.gate }, nil
	case <-timer.C:
		return nil, ErrResourceExhausted
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// GetNetworkGraph returns the encoded graph of a city.
func (s *SQLite) GetNetworkGraph(ctx context.Context, cityID int64) ([]byte, error) {
	release, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	var data []byte
	err = s.db.QueryRowContext(ctx, "SELECT graph FROM network_graphs WHERE city_id = ?", cityID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("graph for city %d: %w", cityID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query graph: %w", err)
	}
	return data, nil
}

// GetNodeSets returns the stored node sets for the given categories.
// Categories without a stored set are absent from the result.
func (s *SQLite) GetNodeSets(ctx context.Context, cityID int64, categories []string) (map[string][]graph.NodeID, error) {
	out := make(map[string][]graph.NodeID, len(categories))
	if len(categories) == 0 {
		return out, nil
	}

	release, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	args := make([]any, 0, len(categories)+1)
	args = append(args, cityID)
	for _, c := range categories {
		args = append(args, c)
	}
	query := "SELECT name, nodes FROM network_nodes WHERE city_id = ? AND name IN (?" +
		strings.Repeat(", ?", len(categories)-1) + ")"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query node sets: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			name string
			raw  []byte
			ids  []graph.NodeID
		)
		if err := rows.Scan(&name, &raw); err != nil {
			return nil, fmt.Errorf("scan node set: %w", err)
		}
		if err := json.Unmarshal(raw, &ids); err != nil {
			return nil, fmt.Errorf("decode node set %q: %w", name, err)
		}
		out[name] = ids
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate node sets: %w", err)
	}
	return out, nil
}

// GetCandidates returns the amenities of one category in insertion order.
func (s *SQLite) GetCandidates(ctx context.Context, cityID int64, category string) ([]CandidateRow, error) {
	release, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, geom, centroid, properties FROM amenities WHERE city_id = ? AND name = ? ORDER BY id",
		cityID, category)
	if err != nil {
		return nil, fmt.Errorf("query candidates: %w", err)
	}
	defer rows.Close()

	out, err := scanCandidates(rows)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s in city %d: %w", category, cityID, ErrNotFound)
	}
	return out, nil
}

// GetFavorites returns the amenities, in any city or category, whose
// properties carry one of ids as "id". Unknown ids are skipped.
func (s *SQLite) GetFavorites(ctx context.Context, ids []int64) ([]CandidateRow, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	release, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	query := "SELECT id, geom, centroid, properties FROM amenities WHERE json_extract(properties, '$.id') IN (?" +
		strings.Repeat(", ?", len(ids)-1) + ") ORDER BY id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query favorites: %w", err)
	}
	defer rows.Close()

	return scanCandidates(rows)
}

func scanCandidates(rows *sql.Rows) ([]CandidateRow, error) {
	var out []CandidateRow
	for rows.Next() {
		var r CandidateRow
		if err := rows.Scan(&r.ID, &r.GeometryJSON, &r.CentroidJSON, &r.PropertiesJSON); err != nil {
			return nil, fmt.Errorf("scan candidate: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate candidates: %w", err)
	}
	return out, nil
}

// PutCity inserts or renames a city.
func (s *SQLite) PutCity(ctx context.Context, c City) error {
	release, err := s.acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	_, err = s.db.ExecContext(ctx,
		"INSERT INTO cities (id, name) VALUES (?, ?) ON CONFLICT(id) DO UPDATE SET name = excluded.name",
		c.ID, c.Name)
	if err != nil {
		return fmt.Errorf("upsert city: %w", err)
	}
	return nil
}

// ListCities returns all cities ordered by id.
func (s *SQLite) ListCities(ctx context.Context) ([]City, error) {
	release, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	rows, err := s.db.QueryContext(ctx, "SELECT id, name FROM cities ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("query cities: %w", err)
	}
	defer rows.Close()

	var out []City
	for rows.Next() {
		var c City
		if err := rows.Scan(&c.ID, &c.Name); err != nil {
			return nil, fmt.Errorf("scan city: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// PutNetworkGraph replaces the encoded graph of a city.
func (s *SQLite) PutNetworkGraph(ctx context.Context, cityID int64, data []byte) error {
	release, err := s.acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO network_graphs (city_id, graph, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(city_id) DO UPDATE SET graph = excluded.graph, updated_at = excluded.updated_at`,
		cityID, data)
	if err != nil {
		return fmt.Errorf("upsert graph: %w", err)
	}
	return nil
}

// PutNodeSet replaces the node set of one category.
func (s *SQLite) PutNodeSet(ctx context.Context, cityID int64, category string, nodes []graph.NodeID) error {
	if nodes == nil {
		nodes = []graph.NodeID{}
	}
	raw, err := json.Marshal(nodes)
	if err != nil {
		return fmt.Errorf("encode node set: %w", err)
	}

	release, err := s.acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO network_nodes (city_id, name, nodes) VALUES (?, ?, ?)
		ON CONFLICT(city_id, name) DO UPDATE SET nodes = excluded.nodes`,
		cityID, category, raw)
	if err != nil {
		return fmt.Errorf("upsert node set: %w", err)
	}
	return nil
}

// PutAmenities replaces all amenities of one category in a single
// transaction. Row ids are assigned by the database.
func (s *SQLite) PutAmenities(ctx context.Context, cityID int64, category string, rows []CandidateRow) error {
	release, err := s.acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM amenities WHERE city_id = ? AND name = ?", cityID, category); err != nil {
		return fmt.Errorf("clear amenities: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		"INSERT INTO amenities (city_id, name, geom, centroid, properties) VALUES (?, ?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range rows {
		props := r.PropertiesJSON
		if len(props) == 0 {
			props = []byte("{}")
		}
		if _, err := stmt.ExecContext(ctx, cityID, category, r.GeometryJSON, r.CentroidJSON, props); err != nil {
			return fmt.Errorf("insert amenity: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
