package main

import (
	"context"
	"flag"
	"log"
	"os"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"walkfilter/pkg/analyze"
	"walkfilter/pkg/api"
	"walkfilter/pkg/config"
	"walkfilter/pkg/store"
	"walkfilter/pkg/store/redis"
)

// cachedStore serves graphs through the Redis cache and everything else
// from SQLite.
type cachedStore struct {
	*store.SQLite
	graphs *redis.GraphCache
}

func (s cachedStore) GetNetworkGraph(ctx context.Context, cityID int64) ([]byte, error) {
	return s.graphs.GetNetworkGraph(ctx, cityID)
}

func main() {
	cfg, cfgPath, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	addr := flag.String("addr", cfg.Server.Addr, "HTTP listen address")
	dbPath := flag.String("db", cfg.Database.Path, "Path to SQLite database")
	redisAddr := flag.String("redis", cfg.Redis.Addr, "Redis address for the graph cache (empty disables)")
	corsOrigin := flag.String("cors-origin", cfg.Server.CORSOrigin, "CORS allowed origin (empty = same-origin)")
	flag.Parse()

	if cfgPath != "" {
		log.Printf("Loaded config from %s", cfgPath)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	start := time.Now()

	st, err := store.Open(store.Config{
		Path:           *dbPath,
		MaxConns:       cfg.Database.MaxConns,
		AcquireTimeout: cfg.Database.AcquireTimeout,
	})
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}
	defer st.Close()

	var backend analyze.Store = st
	if *redisAddr != "" {
		client := goredis.NewClient(&goredis.Options{
			Addr:     *redisAddr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer client.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := client.Ping(ctx).Err(); err != nil {
			log.Printf("Warning: redis at %s unreachable, graphs will load from the database: %v", *redisAddr, err)
		}
		cancel()

		backend = cachedStore{SQLite: st, graphs: redis.NewGraphCache(client, st, cfg.Redis.GraphTTL)}
		log.Printf("Graph cache enabled (redis %s, ttl %s)", *redisAddr, cfg.Redis.GraphTTL)
	}

	svc := analyze.NewService(backend, analyze.Options{
		CandidateCategory: cfg.Analyze.CandidateCategory,
		FetchWorkers:      cfg.Analyze.FetchWorkers,
		MaxSnapMeters:     cfg.Analyze.MaxSnapMeters,
	})

	cities, err := st.ListCities(context.Background())
	if err != nil {
		log.Fatalf("Failed to list cities: %v", err)
	}
	log.Printf("Ready in %s, serving %d cities", time.Since(start).Round(time.Millisecond), len(cities))

	srvCfg := api.DefaultConfig(*addr)
	srvCfg.CORSOrigin = *corsOrigin
	srvCfg.QueryTimeout = cfg.Server.QueryTimeout
	if cfg.Server.MaxConcurrent > 0 {
		srvCfg.MaxConcurrent = cfg.Server.MaxConcurrent
	}

	srv := api.NewServer(srvCfg, api.NewHandlers(svc, st))

	if err := api.ListenAndServe(srv); err != nil {
		log.Printf("Server stopped: %v", err)
		os.Exit(1)
	}
}
