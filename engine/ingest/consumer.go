package ingest

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"

	"github.com/vidmem/vidmem/pkg/natsutil"
)

const (
	// IndexSubject carries index requests for the consumer.
	IndexSubject = "vidmem.index"
	// DLQSubject receives requests that kept failing.
	DLQSubject = "vidmem.index.dlq"
	// MaxRetries before a request is dead-lettered.
	MaxRetries = 3

	retryHeader = "X-Retry-Count"
)

// dlqMessage is published to the DLQ after the last retry.
type dlqMessage struct {
	Request IndexRequest `json:"request"`
	Error   string       `json:"error"`
	Retries int          `json:"retries"`
}

// StartConsumer subscribes to IndexSubject and runs each request through the
// index pipeline. Failed requests are republished with an incremented retry
// header until MaxRetries, then dead-lettered.
func StartConsumer(nc *nats.Conn, s *Service, log *slog.Logger) (*nats.Subscription, error) {
	if log == nil {
		log = slog.Default()
	}
	pipeline := s.IndexStage()

	return natsutil.SubscribeMsg(nc, IndexSubject, func(ctx context.Context, req IndexRequest, msg *nats.Msg) {
		retries := 0
		if msg.Header != nil {
			if v := msg.Header.Get(retryHeader); v != "" {
				fmt.Sscanf(v, "%d", &retries)
			}
		}

		result := pipeline(ctx, req)
		if result.IsOk() {
			batch, _ := result.Unwrap()
			log.Info("index: video processed",
				"video_id", req.Video.ID,
				"chunks", batch.TotalChunks,
				"succeeded", batch.SuccessCount,
				"failed", batch.ErrorCount,
				"relationships", batch.RelationshipsCreated,
			)
			return
		}

		_, pipeErr := result.Unwrap()
		retries++
		log.Error("index: pipeline failed",
			"video_id", req.Video.ID,
			"retry", retries,
			"error", pipeErr,
		)

		if retries >= MaxRetries {
			dlq := dlqMessage{Request: req, Error: pipeErr.Error(), Retries: retries}
			if err := natsutil.Publish(ctx, nc, DLQSubject, dlq); err != nil {
				log.Error("index: dlq publish failed", "video_id", req.Video.ID, "error", err)
			}
			return
		}

		retry := nats.NewMsg(IndexSubject)
		retry.Data = msg.Data
		retry.Header.Set(retryHeader, fmt.Sprintf("%d", retries))
		if err := natsutil.PublishMsg(ctx, nc, retry); err != nil {
			log.Error("index: retry publish failed", "video_id", req.Video.ID, "error", err)
		}
	})
}

// PublishIndexRequest enqueues an index request for the consumer.
func PublishIndexRequest(ctx context.Context, nc *nats.Conn, req IndexRequest) error {
	return natsutil.Publish(ctx, nc, IndexSubject, req)
}
