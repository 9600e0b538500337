package embed

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/vidmem/vidmem/pkg/resilience"
)

// downloadLimiter paces outbound model-file requests so repeated
// initialization attempts cannot hammer the model host.
var downloadLimiter = resilience.NewLimiter(2, 2)

var downloadClient = &http.Client{Timeout: 5 * time.Minute}

// ensureModelFiles downloads any missing model artifact into dir. Files
// already present are left untouched.
func ensureModelFiles(ctx context.Context, dir string, cfg Config) error {
	files := map[string]string{
		modelFile:     cfg.ModelURL,
		tokenizerFile: cfg.TokenizerURL,
	}
	for name, url := range files {
		dest := filepath.Join(dir, name)
		if _, err := os.Stat(dest); err == nil {
			continue
		}
		if url == "" {
			return fmt.Errorf("missing %s and no source URL configured", name)
		}
		if err := downloadFile(ctx, url, dest); err != nil {
			return fmt.Errorf("download %s: %w", name, err)
		}
	}
	return nil
}

// downloadFile fetches url into dest via a temp file so a partial download
// never masquerades as a cached artifact.
func downloadFile(ctx context.Context, url, dest string) error {
	return downloadLimiter.DoWait(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		resp, err := downloadClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("status %d from %s", resp.StatusCode, url)
		}

		tmp, err := os.CreateTemp(filepath.Dir(dest), ".download-*")
		if err != nil {
			return err
		}
		defer os.Remove(tmp.Name())

		if _, err := io.Copy(tmp, resp.Body); err != nil {
			tmp.Close()
			return err
		}
		if err := tmp.Close(); err != nil {
			return err
		}
		return os.Rename(tmp.Name(), dest)
	})
}
