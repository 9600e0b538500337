package embed

import "strings"

// corruptionSignatures are case-insensitive substrings that indicate
// malformed cached weights rather than a transient or environmental failure.
// The list is closed and best-effort: it covers the parse errors the ONNX
// Runtime and tokenizer loaders are known to emit for truncated or mangled
// files, not every conceivable corruption.
var corruptionSignatures = []string{
	"corrupt",
	"protobuf parsing failed",
	"invalid protobuf",
	"invalid model",
	"unexpected end of file",
	"unexpected eof",
	"truncated",
	"failed to parse",
	"invalid character",
}

// IsCorruption reports whether err matches a known corruption signature.
// Only these failures earn a single clear-and-retry during initialization.
func IsCorruption(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, sig := range corruptionSignatures {
		if strings.Contains(msg, sig) {
			return true
		}
	}
	return false
}
