// Package embed wraps a local sentence-embedding model behind a lazily
// initialized, process-wide engine. Concurrent first callers all await the
// same in-flight initialization; the loaded model is the one long-lived
// shared resource in the process.
package embed

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/vidmem/vidmem/engine/domain"
)

// State is the engine lifecycle state.
type State int

const (
	StateUninitialized State = iota
	StateInitializing
	StateReady
	StateFailed // recoverable: the next caller retriggers initialization
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// model is the loaded inference backend. The ONNX implementation lives in
// model.go; tests substitute fakes.
type model interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Close() error
}

// loadFunc loads a model from a prepared cache directory.
type loadFunc func(ctx context.Context, dir string) (model, error)

// fetchFunc materializes missing model artifacts into the cache directory.
type fetchFunc func(ctx context.Context, dir string, cfg Config) error

// Config configures the engine's cache area and model source.
type Config struct {
	// CacheDir is the base directory for model caches. Defaults to
	// <user cache dir>/vidmem/models.
	CacheDir string
	// ModelURL and TokenizerURL are fetched into the cache when absent.
	ModelURL     string
	TokenizerURL string
}

// DefaultConfig returns the standard MiniLM configuration.
func DefaultConfig() Config {
	base, err := os.UserCacheDir()
	if err != nil {
		base = os.TempDir()
	}
	return Config{
		CacheDir:     filepath.Join(base, "vidmem", "models"),
		ModelURL:     "https://huggingface.co/sentence-transformers/all-MiniLM-L6-v2/resolve/main/onnx/model.onnx",
		TokenizerURL: "https://huggingface.co/sentence-transformers/all-MiniLM-L6-v2/resolve/main/tokenizer.json",
	}
}

// Engine serializes access to a single model instance. At most one
// initialization ever runs; every caller observes the same eventual
// instance or failure.
type Engine struct {
	mu     sync.Mutex
	state  State
	done   chan struct{} // closed when the current init attempt settles
	model  model
	err    error
	cfg    Config
	load   loadFunc
	fetch  fetchFunc
	logger *slog.Logger
}

// New creates an engine. Initialization is deferred until the first Embed call.
func New(cfg Config, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{cfg: cfg, load: loadONNXModel, fetch: ensureModelFiles, logger: logger}
}

var (
	defaultEngine *Engine
	defaultOnce   sync.Once
)

// Default returns the process-wide engine.
func Default() *Engine {
	defaultOnce.Do(func() {
		defaultEngine = New(DefaultConfig(), slog.Default())
	})
	return defaultEngine
}

// State returns the current lifecycle state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Available reports whether the model is loaded and ready to serve.
func (e *Engine) Available() bool { return e.State() == StateReady }

// Embed returns the fixed-dimension vector for text, lazily triggering
// initialization. Output is mean-pooled and L2-normalized, so cosine
// similarity between outputs reduces to a dot product.
func (e *Engine) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, domain.ErrEmptyText
	}
	m, err := e.acquire(ctx)
	if err != nil {
		return nil, err
	}
	vec, err := m.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed: inference: %w", err)
	}
	if err := domain.ValidateEmbedding(vec); err != nil {
		return nil, err
	}
	return vec, nil
}

// acquire returns the shared model, starting initialization if needed and
// otherwise awaiting the in-flight attempt. A failed engine is recoverable:
// the next acquire starts a fresh attempt.
func (e *Engine) acquire(ctx context.Context) (model, error) {
	e.mu.Lock()
	switch e.state {
	case StateReady:
		m := e.model
		e.mu.Unlock()
		return m, nil
	case StateUninitialized, StateFailed:
		e.state = StateInitializing
		e.done = make(chan struct{})
		go e.initialize()
	}
	done := e.done
	e.mu.Unlock()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-done:
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == StateReady {
		return e.model, nil
	}
	return nil, e.err
}

// initialize runs one full initialization attempt and settles the shared
// future. It deliberately uses a background context: the attempt is shared
// by all waiters and must not die with any single caller.
func (e *Engine) initialize() {
	m, err := e.initOnce(context.Background())

	e.mu.Lock()
	if err != nil {
		e.state = StateFailed
		e.err = err
		e.logger.Warn("embed: initialization failed", "error", err)
	} else {
		e.state = StateReady
		e.model = m
		e.err = nil
		e.logger.Info("embed: model ready", "dims", domain.EmbeddingDim)
	}
	close(e.done)
	e.mu.Unlock()
}

// initOnce prepares the versioned cache directory, loads the model, and
// writes the version marker. A load failure matching a known corruption
// signature clears the cached model files and retries exactly once; any
// second failure propagates, and non-corruption errors never retry.
func (e *Engine) initOnce(ctx context.Context) (model, error) {
	dir := cacheDirFor(e.cfg.CacheDir)
	if err := validateCacheDir(dir); err != nil {
		return nil, fmt.Errorf("embed: cache dir: %w", err)
	}
	if err := e.fetch(ctx, dir, e.cfg); err != nil {
		return nil, fmt.Errorf("embed: fetch model files: %w", err)
	}

	m, err := e.load(ctx, dir)
	if err != nil && IsCorruption(err) {
		e.logger.Warn("embed: corrupted model cache, clearing and retrying once", "error", err)
		if clearErr := clearModelFiles(dir); clearErr != nil {
			return nil, fmt.Errorf("embed: clear corrupted cache: %w", clearErr)
		}
		if fetchErr := e.fetch(ctx, dir, e.cfg); fetchErr != nil {
			return nil, fmt.Errorf("embed: refetch model files: %w", fetchErr)
		}
		m, err = e.load(ctx, dir)
	}
	if err != nil {
		return nil, fmt.Errorf("embed: load model: %w", err)
	}

	if err := writeMarker(dir); err != nil {
		m.Close()
		return nil, fmt.Errorf("embed: write version marker: %w", err)
	}
	return m, nil
}

// Close releases the loaded model, if any.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.model != nil {
		err := e.model.Close()
		e.model = nil
		e.state = StateUninitialized
		return err
	}
	return nil
}
