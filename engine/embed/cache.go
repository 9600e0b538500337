package embed

import (
	"os"
	"path/filepath"
	"strings"
)

const (
	// runtimeVersion tags the cache directory. It tracks the pinned ONNX
	// Runtime shared library; a bump invalidates every cached model so a
	// stale binary is never loaded into a newer runtime.
	runtimeVersion = "1.24.0"

	markerFile    = "VERSION"
	modelFile     = "model.onnx"
	tokenizerFile = "tokenizer.json"
)

// cacheDirFor returns the cache directory namespaced by the runtime version.
func cacheDirFor(base string) string {
	return filepath.Join(base, "ort-"+runtimeVersion)
}

// validateCacheDir ensures dir exists and belongs to the current runtime
// version. A marker that disagrees with the current tag wipes the whole
// directory; a missing marker just ensures the directory exists (the marker
// is written only after a successful load).
func validateCacheDir(dir string) error {
	raw, err := os.ReadFile(filepath.Join(dir, markerFile))
	if err == nil && strings.TrimSpace(string(raw)) != runtimeVersion {
		if err := os.RemoveAll(dir); err != nil {
			return err
		}
	}
	return os.MkdirAll(dir, 0o755)
}

// writeMarker records the runtime version after a successful model load.
func writeMarker(dir string) error {
	return os.WriteFile(filepath.Join(dir, markerFile), []byte(runtimeVersion+"\n"), 0o644)
}

// clearModelFiles removes the cached model weights and tokenizer, leaving the
// directory itself in place. Used when a load failure matches a corruption
// signature.
func clearModelFiles(dir string) error {
	for _, name := range []string{modelFile, tokenizerFile, markerFile} {
		if err := os.Remove(filepath.Join(dir, name)); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}
