// Command indexer consumes index requests from NATS and runs them through the
// ingest pipeline: chunk, embed, persist, build the similarity graph.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/vidmem/vidmem/engine/domain"
	"github.com/vidmem/vidmem/engine/embed"
	"github.com/vidmem/vidmem/engine/graph"
	"github.com/vidmem/vidmem/engine/ingest"
	"github.com/vidmem/vidmem/engine/semantic"
	"github.com/vidmem/vidmem/pkg/metrics"
	"github.com/vidmem/vidmem/pkg/natsutil"
)

func main() {
	var (
		natsURL     = flag.String("nats", "nats://localhost:4222", "NATS server URL")
		neo4jURL    = flag.String("neo4j", "neo4j://localhost:7687", "Neo4j bolt URL")
		neo4jUser   = flag.String("neo4j-user", "neo4j", "Neo4j username")
		neo4jPass   = flag.String("neo4j-pass", "password", "Neo4j password")
		qdrantAddr  = flag.String("qdrant", "localhost:6334", "Qdrant gRPC address")
		collection  = flag.String("collection", "vidmem", "Qdrant collection name")
		metricsPort = flag.Int("metrics-port", 9091, "metrics HTTP port")
	)
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	registry := metrics.New()
	registry.ServeAsync(*metricsPort)

	driver, err := neo4j.NewDriverWithContext(*neo4jURL, neo4j.BasicAuth(*neo4jUser, *neo4jPass, ""))
	if err != nil {
		logger.Error("neo4j connect failed", "error", err)
		os.Exit(1)
	}
	defer driver.Close(ctx)
	if err := driver.VerifyConnectivity(ctx); err != nil {
		logger.Error("neo4j verify failed", "error", err)
		os.Exit(1)
	}
	store := graph.New(driver)

	vectors, err := semantic.New(*qdrantAddr, *collection)
	if err != nil {
		logger.Error("qdrant connect failed", "error", err)
		os.Exit(1)
	}
	defer vectors.Close()
	if err := vectors.EnsureCollection(ctx, domain.EmbeddingDim); err != nil {
		logger.Error("qdrant ensure collection failed", "error", err)
		os.Exit(1)
	}

	nc, err := natsutil.Connect(ctx, *natsURL, logger)
	if err != nil {
		logger.Error("nats connect failed", "error", err)
		os.Exit(1)
	}
	defer nc.Close()

	engine := embed.Default()
	defer engine.Close()

	svc := ingest.NewService(ingest.Deps{
		Embedder: engine,
		Chunks:   store,
		Vectors:  vectors,
		Edges:    graph.NewBuilder(store, graph.DefaultThreshold, logger),
		Logger:   logger,
		Registry: registry,
	})

	sub, err := ingest.StartConsumer(nc, svc, logger)
	if err != nil {
		logger.Error("subscribe failed", "error", err)
		os.Exit(1)
	}
	defer sub.Unsubscribe()

	logger.Info("indexer running",
		"subject", ingest.IndexSubject,
		"dlq", ingest.DLQSubject,
		"metrics_port", *metricsPort,
	)
	<-ctx.Done()
	logger.Info("shutting down")
}
