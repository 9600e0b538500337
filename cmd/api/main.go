// Package main implements the vidmem API server: indexing, deletion, and
// hybrid search over the stored video knowledge.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/vidmem/vidmem/engine/domain"
	"github.com/vidmem/vidmem/engine/embed"
	"github.com/vidmem/vidmem/engine/graph"
	"github.com/vidmem/vidmem/engine/ingest"
	"github.com/vidmem/vidmem/engine/search"
	"github.com/vidmem/vidmem/engine/semantic"
	"github.com/vidmem/vidmem/pkg/metrics"
	"github.com/vidmem/vidmem/pkg/mid"
	"github.com/vidmem/vidmem/pkg/natsutil"
	"github.com/vidmem/vidmem/pkg/resilience"
)

// Config holds all environment-based configuration.
type Config struct {
	Port       string
	Neo4jURL   string
	Neo4jUser  string
	Neo4jPass  string
	QdrantURL  string
	Collection string
	NatsURL    string
	AsyncIndex bool
	CORSOrigin string
	RatePerSec float64
	RateBurst  int
}

func loadConfig() Config {
	return Config{
		Port:       envOr("PORT", "8080"),
		Neo4jURL:   envOr("NEO4J_URL", "neo4j://localhost:7687"),
		Neo4jUser:  envOr("NEO4J_USER", "neo4j"),
		Neo4jPass:  envOr("NEO4J_PASS", "password"),
		QdrantURL:  envOr("QDRANT_URL", "localhost:6334"),
		Collection: envOr("QDRANT_COLLECTION", "vidmem"),
		NatsURL:    envOr("NATS_URL", ""),
		AsyncIndex: envOr("ASYNC_INDEX", "") == "true",
		CORSOrigin: envOr("CORS_ORIGIN", "*"),
		RatePerSec: envFloat("RATE_PER_SEC", 50),
		RateBurst:  envInt("RATE_BURST", 100),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg := loadConfig()

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited with error", "err", err)
		os.Exit(1)
	}
}

func run(cfg Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Connect to Neo4j ---
	driver, err := neo4j.NewDriverWithContext(cfg.Neo4jURL, neo4j.BasicAuth(cfg.Neo4jUser, cfg.Neo4jPass, ""))
	if err != nil {
		return fmt.Errorf("neo4j driver: %w", err)
	}
	defer driver.Close(ctx)
	store := graph.New(driver)

	// --- Connect to Qdrant ---
	vectors, err := semantic.New(cfg.QdrantURL, cfg.Collection)
	if err != nil {
		return fmt.Errorf("qdrant connect: %w", err)
	}
	defer vectors.Close()
	if err := vectors.EnsureCollection(ctx, domain.EmbeddingDim); err != nil {
		return fmt.Errorf("qdrant collection: %w", err)
	}

	// --- Optional NATS for async indexing ---
	var nc *nats.Conn
	if cfg.NatsURL != "" {
		nc, err = natsutil.Connect(ctx, cfg.NatsURL, logger)
		if err != nil {
			return fmt.Errorf("nats connect: %w", err)
		}
		defer nc.Close()
	}

	// --- Build services ---
	registry := metrics.New()
	engine := embed.Default()
	defer engine.Close()

	builder := graph.NewBuilder(store, graph.DefaultThreshold, logger)
	ingestSvc := ingest.NewService(ingest.Deps{
		Embedder: engine,
		Chunks:   store,
		Vectors:  vectors,
		Edges:    builder,
		Logger:   logger,
		Registry: registry,
	})
	searchSvc := search.NewService(search.Deps{
		Store:    store,
		Vectors:  vectors,
		Embedder: engine,
		Breaker:  resilience.NewBreaker(resilience.DefaultBreakerOpts),
		Logger:   logger,
		Registry: registry,
	})

	srv := newServer(serverDeps{
		indexer:    ingestSvc,
		searcher:   searchSvc,
		deleter:    &storeDeleter{store: store, vectors: vectors},
		related:    store,
		embedder:   engine,
		nats:       nc,
		asyncIndex: cfg.AsyncIndex && nc != nil,
		logger:     logger,
	})

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", srv.handleHealth)
	mux.HandleFunc("GET /api/search", srv.handleSearch)
	mux.HandleFunc("POST /api/videos", srv.handleIndexVideo)
	mux.HandleFunc("DELETE /api/videos/{id}", srv.handleDeleteVideo)
	mux.HandleFunc("GET /api/chunks/{id}/related", srv.handleRelatedChunks)
	mux.Handle("GET /metrics", registry.Handler())

	handler := mid.Chain(mux,
		mid.Recover(logger),
		mid.Logger(logger),
		mid.Trace("vidmem-api"),
		mid.CORS(cfg.CORSOrigin),
		mid.RateLimit(resilience.NewLimiter(cfg.RatePerSec, cfg.RateBurst)),
	)

	httpSrv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server starting", "port", cfg.Port)
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutCtx)
}

// storeDeleter removes a video from both stores.
type storeDeleter struct {
	store   *graph.Store
	vectors *semantic.VectorStore
}

func (d *storeDeleter) DeleteVideo(ctx context.Context, videoID string) error {
	if err := d.store.DeleteVideo(ctx, videoID); err != nil {
		return err
	}
	return d.vectors.DeleteByVideoID(ctx, videoID)
}
