// Package chunker segments transcript caption cues into bounded, overlapping
// text chunks with timestamp ranges. Splitting is a pure function: no I/O,
// deterministic output for a given input.
package chunker

import (
	"strings"
	"unicode/utf8"

	"github.com/vidmem/vidmem/engine/domain"
)

const (
	// DefaultTargetSize is the character budget per chunk.
	DefaultTargetSize = 1000
	// DefaultOverlap is the number of trailing characters carried into the
	// next chunk.
	DefaultOverlap = 100
)

// Options configures the chunk budget and overlap.
type Options struct {
	TargetSize int
	Overlap    int
}

// DefaultOptions returns the standard chunking parameters.
func DefaultOptions() Options {
	return Options{TargetSize: DefaultTargetSize, Overlap: DefaultOverlap}
}

// Split walks segments in order, concatenating trimmed non-empty text with a
// single space. When adding a segment would exceed the budget the current
// chunk is closed and the next one is seeded with the trailing overlap of the
// closed chunk. Empty or whitespace-only segments are skipped and contribute
// no index; all-empty input yields an empty list.
func Split(segments []domain.TranscriptSegment, opts Options) []domain.Chunk {
	if opts.TargetSize <= 0 {
		opts.TargetSize = DefaultTargetSize
	}
	if opts.Overlap < 0 {
		opts.Overlap = 0
	}

	var (
		chunks  []domain.Chunk
		buf     string // current chunk text, possibly starting with an overlap seed
		indices []int
		startMs int64
		endMs   int64
	)

	flush := func() {
		if len(indices) == 0 {
			return
		}
		chunks = append(chunks, domain.Chunk{
			Content:        buf,
			StartMs:        startMs,
			EndMs:          endMs,
			SegmentIndices: indices,
		})
		buf = tail(buf, opts.Overlap)
		indices = nil
	}

	add := func(text string, idx int, offset int64) {
		if len(indices) == 0 {
			startMs = offset
		}
		if buf == "" {
			buf = text
		} else {
			buf += " " + text
		}
		indices = append(indices, idx)
		endMs = offset
	}

	for i, seg := range segments {
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}

		// A segment whose own text exceeds the budget is split independently.
		if utf8.RuneCountInString(text) > opts.TargetSize {
			flush()
			for _, piece := range splitOversized(text, opts.TargetSize) {
				add(piece, i, seg.OffsetMs)
				flush()
			}
			continue
		}

		if len(indices) > 0 && joinedLen(buf, text) > opts.TargetSize {
			flush()
		}
		add(text, i, seg.OffsetMs)
	}
	flush()

	return chunks
}

// splitOversized cuts text into pieces within the budget, preferring the last
// sentence terminator inside the window, then the nearest word boundary, and
// only splitting mid-word when no boundary exists.
func splitOversized(text string, target int) []string {
	var pieces []string
	for utf8.RuneCountInString(text) > target {
		window := firstRunes(text, target)
		rest := text[len(window):]

		cut := strings.LastIndexAny(window, ".!?")
		if cut >= 0 {
			cut++ // keep the terminator with the piece
		} else {
			cut = strings.LastIndex(window, " ")
		}
		if cut <= 0 {
			cut = len(window)
		}

		if piece := strings.TrimSpace(window[:cut]); piece != "" {
			pieces = append(pieces, piece)
		}
		text = strings.TrimSpace(window[cut:] + rest)
	}
	if text != "" {
		pieces = append(pieces, text)
	}
	return pieces
}

// joinedLen is the rune length of a+" "+b.
func joinedLen(a, b string) int {
	return utf8.RuneCountInString(a) + 1 + utf8.RuneCountInString(b)
}

// firstRunes returns the prefix of s holding at most n runes.
func firstRunes(s string, n int) string {
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}

// tail returns the trailing n runes of s.
func tail(s string, n int) string {
	if n <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[len(r)-n:])
}
