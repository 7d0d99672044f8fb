package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, 10*time.Second, cfg.Server.QueryTimeout)
	assert.Equal(t, 4, cfg.Database.MaxConns)
	assert.Equal(t, 100*time.Millisecond, cfg.Database.AcquireTimeout)
	assert.Equal(t, "apartment", cfg.Analyze.CandidateCategory)
	assert.Equal(t, 3, cfg.Analyze.FetchWorkers)
	assert.NoError(t, cfg.Validate())

	opts := cfg.Compact.Options()
	assert.Equal(t, 5.0, opts.MinEdgeLength)
	assert.Equal(t, 5, opts.CoordinateDecimals)
	assert.Equal(t, 0.001, opts.SimplifyTolerance)
	assert.False(t, opts.KeepGeometry)
}

func TestLoadFromPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "walkfilter.yaml")
	yml := `
server:
  addr: ":9000"
  query_timeout: 3s
database:
  path: /tmp/w.db
  max_conns: 8
redis:
  addr: localhost:6379
analyze:
  candidate_category: house
compact:
  coordinate_decimals: -1
  keep_geometry: true
`
	require.NoError(t, os.WriteFile(path, []byte(yml), 0644))

	cfg, gotPath, err := LoadFromPath(path)
	require.NoError(t, err)
	assert.Equal(t, path, gotPath)

	assert.Equal(t, ":9000", cfg.Server.Addr)
	assert.Equal(t, 3*time.Second, cfg.Server.QueryTimeout)
	assert.Equal(t, "/tmp/w.db", cfg.Database.Path)
	assert.Equal(t, 8, cfg.Database.MaxConns)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, time.Hour, cfg.Redis.GraphTTL)
	assert.Equal(t, "house", cfg.Analyze.CandidateCategory)
	assert.Equal(t, 3, cfg.Analyze.FetchWorkers)

	opts := cfg.Compact.Options()
	assert.Equal(t, -1, opts.CoordinateDecimals)
	assert.True(t, opts.KeepGeometry)
	assert.Equal(t, 5.0, opts.MinEdgeLength)
}

func TestLoadFromPathErrors(t *testing.T) {
	_, _, err := LoadFromPath(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("server: [unclosed"), 0644))
	_, _, err = LoadFromPath(bad)
	assert.Error(t, err)
}

func TestLoadEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "walkfilter.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  addr: \":9000\"\n"), 0644))

	t.Setenv("WALKFILTER_CONFIG", path)
	t.Setenv("WALKFILTER_ADDR", ":7000")
	t.Setenv("WALKFILTER_QUERY_TIMEOUT", "2s")
	t.Setenv("WALKFILTER_DB_MAX_CONNS", "6")
	t.Setenv("WALKFILTER_MAX_SNAP_METERS", "250")

	cfg, gotPath, err := Load()
	require.NoError(t, err)
	assert.Equal(t, path, gotPath)
	assert.Equal(t, ":7000", cfg.Server.Addr)
	assert.Equal(t, 2*time.Second, cfg.Server.QueryTimeout)
	assert.Equal(t, 6, cfg.Database.MaxConns)
	assert.Equal(t, 250.0, cfg.Analyze.MaxSnapMeters)
}

func TestLoadInvalidEnv(t *testing.T) {
	t.Setenv("WALKFILTER_CONFIG", "")
	t.Setenv("WALKFILTER_QUERY_TIMEOUT", "soon")
	_, _, err := Load()
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Analyze.FetchWorkers = 4
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Analyze.MaxSnapMeters = -1
	assert.Error(t, cfg.Validate())
}
