// Command reindex recomputes the similarity graph for every stored video.
// Useful after changing the similarity threshold or repairing a partial run:
// edge IDs are deterministic, so re-running only adds what is missing.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/vidmem/vidmem/engine/graph"
)

func main() {
	var (
		neo4jURL  = flag.String("neo4j", "neo4j://localhost:7687", "Neo4j bolt URL")
		neo4jUser = flag.String("neo4j-user", "neo4j", "Neo4j username")
		neo4jPass = flag.String("neo4j-pass", "password", "Neo4j password")
		threshold = flag.Float64("threshold", graph.DefaultThreshold, "similarity threshold")
	)
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

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
	builder := graph.NewBuilder(store, *threshold, logger)

	ids, err := store.VideoIDs(ctx)
	if err != nil {
		logger.Error("list videos failed", "error", err)
		os.Exit(1)
	}
	logger.Info("reindexing similarity graphs", "videos", len(ids), "threshold", *threshold)

	var created, skipped, failures int
	for i, id := range ids {
		if ctx.Err() != nil {
			logger.Warn("interrupted", "processed", i, "of", len(ids))
			break
		}
		stats, err := builder.Compute(ctx, id)
		if err != nil {
			logger.Error("compute failed", "video_id", id, "error", err)
			failures++
			continue
		}
		created += stats.Created
		skipped += stats.Skipped
	}

	logger.Info("done",
		"videos", len(ids),
		"edges_created", created,
		"pairs_skipped", skipped,
		"failures", failures,
	)
	if failures > 0 {
		os.Exit(1)
	}
}
