// Package compression bounds what gets persisted and displayed:
// zstd for stored result summaries, rune-safe truncation for
// summaries that must fit a budget.
package compression

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
)

var (
	encoder, _ = zstd.NewWriter(nil)
	decoder, _ = zstd.NewReader(nil)
)

// Compress returns the zstd-compressed form of data
func Compress(data []byte) []byte {
	return encoder.EncodeAll(data, nil)
}

// Decompress reverses Compress
func Decompress(data []byte) ([]byte, error) {
	out, err := decoder.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress: %w", err)
	}
	return out, nil
}

// Truncate cuts s to at most budget bytes without splitting a rune,
// appending an ellipsis when anything was dropped. A budget of zero
// or less disables truncation.
func Truncate(s string, budget int) string {
	if budget <= 0 || len(s) <= budget {
		return s
	}
	cut := budget
	for cut > 0 && !isRuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
