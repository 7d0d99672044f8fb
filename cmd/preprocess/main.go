package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"walkfilter/pkg/config"
	"walkfilter/pkg/graph"
	"walkfilter/pkg/ingest"
	osmparser "walkfilter/pkg/osm"
	"walkfilter/pkg/routing"
	"walkfilter/pkg/store"
	"walkfilter/pkg/store/redis"
)

// reseedStore writes graphs through the Redis cache so running servers drop
// their cached copy of the city.
type reseedStore struct {
	*store.SQLite
	graphs *redis.GraphCache
}

func (s reseedStore) PutNetworkGraph(ctx context.Context, cityID int64, data []byte) error {
	return s.graphs.PutNetworkGraph(ctx, cityID, data)
}

func main() {
	cfg, cfgPath, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if cfgPath != "" {
		log.Printf("Loaded config from %s", cfgPath)
	}

	input := flag.String("input", "", "Path to .osm.pbf file")
	cityID := flag.Int64("city-id", 0, "City id to seed")
	cityName := flag.String("city-name", "", "City display name")
	dbPath := flag.String("db", cfg.Database.Path, "Path to SQLite database")
	output := flag.String("output", "", "Also write the compacted graph as node-link JSON to this path")
	amenities := flag.String("amenities", "", "Directory of <category>.geojson files to seed")
	boundary := flag.String("boundary", "park", "Comma-separated categories snapped by their outline instead of their centroid")
	bbox := flag.String("bbox", "", "Bounding box filter: minLat,minLng,maxLat,maxLng (e.g. 48.81,2.22,48.91,2.47)")
	redisAddr := flag.String("redis", cfg.Redis.Addr, "Redis address of the servers' graph cache to invalidate (empty skips)")
	keepGeometry := flag.Bool("keep-geometry", cfg.Compact.KeepGeometry, "Keep simplified edge geometry in the stored graph")
	flag.Parse()

	if *input == "" || *cityID == 0 {
		fmt.Fprintln(os.Stderr, "Usage: preprocess --input <file.osm.pbf> --city-id <id> [--city-name name] [--db path] [--amenities dir] [--output graph.json] [--bbox minLat,minLng,maxLat,maxLng]")
		os.Exit(1)
	}

	var opts osmparser.ParseOptions
	if *bbox != "" {
		var minLat, minLng, maxLat, maxLng float64
		_, err := fmt.Sscanf(*bbox, "%f,%f,%f,%f", &minLat, &minLng, &maxLat, &maxLng)
		if err != nil {
			log.Fatalf("Invalid bbox format (expected minLat,minLng,maxLat,maxLng): %v", err)
		}
		opts.BBox = osmparser.BBox{MinLat: minLat, MaxLat: maxLat, MinLng: minLng, MaxLng: maxLng}
		log.Printf("Using bounding box filter: lat [%.4f, %.4f], lng [%.4f, %.4f]", minLat, maxLat, minLng, maxLng)
	}

	compactOpts := cfg.Compact.Options()
	compactOpts.KeepGeometry = *keepGeometry

	start := time.Now()
	ctx := context.Background()

	// Step 1: Parse OSM data.
	log.Println("Opening OSM file...")
	f, err := os.Open(*input)
	if err != nil {
		log.Fatalf("Failed to open input file: %v", err)
	}
	defer f.Close()

	log.Println("Parsing OSM data...")
	parseResult, err := osmparser.Parse(ctx, f, opts)
	if err != nil {
		log.Fatalf("Failed to parse OSM data: %v", err)
	}

	// Step 2: Build graph.
	g, err := osmparser.ToGraph(parseResult)
	if err != nil {
		log.Fatalf("Failed to build graph: %v", err)
	}
	log.Printf("Graph: %d nodes, %d edges", g.NumNodes(), g.NumEdges())

	// Step 3: Compact and store.
	st, err := store.Open(store.Config{
		Path:           *dbPath,
		MaxConns:       cfg.Database.MaxConns,
		AcquireTimeout: cfg.Database.AcquireTimeout,
	})
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}
	defer st.Close()

	name := *cityName
	if name == "" {
		name = strings.TrimSuffix(filepath.Base(*input), ".osm.pbf")
	}
	var target ingest.Store = st
	if *redisAddr != "" {
		client := goredis.NewClient(&goredis.Options{
			Addr:     *redisAddr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer client.Close()
		target = reseedStore{SQLite: st, graphs: redis.NewGraphCache(client, st, cfg.Redis.GraphTTL)}
		log.Printf("Invalidating cached graph in redis %s", *redisAddr)
	}
	compacted, err := ingest.City(ctx, target, *cityID, name, g, compactOpts)
	if err != nil {
		log.Fatalf("Failed to store city: %v", err)
	}

	if *output != "" {
		log.Printf("Writing graph to %s...", *output)
		if err := graph.WriteFile(*output, compacted); err != nil {
			log.Fatalf("Failed to write graph: %v", err)
		}
	}

	// Step 4: Seed amenities.
	if *amenities != "" {
		snapper := routing.NewSnapper(compacted, routing.SnapOptions{MaxDistanceMeters: cfg.Analyze.MaxSnapMeters})
		if err := seedAmenities(ctx, st, snapper, *cityID, *amenities, *boundary); err != nil {
			log.Fatalf("Failed to seed amenities: %v", err)
		}
	}

	log.Printf("Done in %s", time.Since(start).Round(time.Second))
}

func seedAmenities(ctx context.Context, st *store.SQLite, snapper *routing.Snapper, cityID int64, dir, boundary string) error {
	useBoundary := make(map[string]bool)
	for _, c := range strings.Split(boundary, ",") {
		if c = strings.TrimSpace(c); c != "" {
			useBoundary[c] = true
		}
	}

	files, err := filepath.Glob(filepath.Join(dir, "*.geojson"))
	if err != nil {
		return err
	}
	sort.Strings(files)
	if len(files) == 0 {
		log.Printf("Warning: no .geojson files in %s", dir)
	}

	for _, path := range files {
		category := strings.TrimSuffix(filepath.Base(path), ".geojson")
		fc, err := ingest.ReadFeatureCollection(path)
		if err != nil {
			return err
		}
		if _, err := ingest.Amenities(ctx, st, snapper, cityID, category, fc, useBoundary[category]); err != nil {
			return fmt.Errorf("%s: %w", category, err)
		}
	}
	return nil
}
