// Package natsutil provides typed NATS publish/subscribe helpers with
// OpenTelemetry trace propagation, plus a retrying connect.
package natsutil

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"

	"github.com/vidmem/vidmem/pkg/fn"
)

// headerCarrier adapts nats.Msg headers for the OTel TextMapCarrier.
type headerCarrier nats.Msg

func (c *headerCarrier) Get(key string) string {
	if c.Header == nil {
		return ""
	}
	return c.Header.Get(key)
}

func (c *headerCarrier) Set(key, val string) {
	if c.Header == nil {
		c.Header = make(nats.Header)
	}
	c.Header.Set(key, val)
}

func (c *headerCarrier) Keys() []string {
	if c.Header == nil {
		return nil
	}
	keys := make([]string, 0, len(c.Header))
	for k := range c.Header {
		keys = append(keys, k)
	}
	return keys
}

// Connect dials the NATS server, retrying with backoff until it answers or
// ctx is cancelled. Brokers often come up after the services that use them.
func Connect(ctx context.Context, url string, log *slog.Logger, natsOpts ...nats.Option) (*nats.Conn, error) {
	opts := fn.RetryOpts{
		MaxAttempts: 10,
		InitialWait: 500 * time.Millisecond,
		MaxWait:     10 * time.Second,
		Jitter:      true,
	}
	attempt := 0
	result := fn.Retry(ctx, opts, func(context.Context) fn.Result[*nats.Conn] {
		attempt++
		nc, err := nats.Connect(url, natsOpts...)
		if err != nil {
			log.Warn("nats connect failed", "url", url, "attempt", attempt, "error", err)
			return fn.Err[*nats.Conn](err)
		}
		return fn.Ok(nc)
	})
	return result.Unwrap()
}

// Publish serializes v as JSON and publishes it, injecting trace context
// from ctx into the message headers.
func Publish[T any](ctx context.Context, nc *nats.Conn, subject string, v T) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	msg := &nats.Msg{Subject: subject, Data: data}
	otel.GetTextMapPropagator().Inject(ctx, (*headerCarrier)(msg))
	return nc.PublishMsg(msg)
}

// Subscribe registers a handler for JSON messages of type T. Trace context is
// extracted from message headers. Malformed payloads are dropped.
func Subscribe[T any](nc *nats.Conn, subject string, handler func(context.Context, T)) (*nats.Subscription, error) {
	return nc.Subscribe(subject, func(msg *nats.Msg) {
		var v T
		if err := json.Unmarshal(msg.Data, &v); err != nil {
			return
		}
		ctx := otel.GetTextMapPropagator().Extract(context.Background(), (*headerCarrier)(msg))
		handler(ctx, v)
	})
}

// SubscribeMsg is like Subscribe but hands the handler the raw message too,
// for consumers that need headers or manual republish.
func SubscribeMsg[T any](nc *nats.Conn, subject string, handler func(context.Context, T, *nats.Msg)) (*nats.Subscription, error) {
	return nc.Subscribe(subject, func(msg *nats.Msg) {
		var v T
		if err := json.Unmarshal(msg.Data, &v); err != nil {
			return
		}
		ctx := otel.GetTextMapPropagator().Extract(context.Background(), (*headerCarrier)(msg))
		handler(ctx, v, msg)
	})
}

// PublishMsg publishes a prebuilt message after injecting trace context.
func PublishMsg(ctx context.Context, nc *nats.Conn, msg *nats.Msg) error {
	otel.GetTextMapPropagator().Inject(ctx, (*headerCarrier)(msg))
	return nc.PublishMsg(msg)
}
