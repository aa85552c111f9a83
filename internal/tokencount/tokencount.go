// Package tokencount estimates token usage for requests and responses. The
// upstream service does not always report counts, so the gateway falls back
// to a cl100k tokenization of the exchanged text.
package tokencount

import (
	"sync"

	"github.com/tiktoken-go/tokenizer"
)

var (
	once  sync.Once
	codec tokenizer.Codec
)

func getCodec() tokenizer.Codec {
	once.Do(func() {
		codec, _ = tokenizer.Get(tokenizer.Cl100kBase)
	})
	return codec
}

// Estimate counts tokens in text. When the tokenizer is unavailable it
// degrades to the rough four-bytes-per-token heuristic.
func Estimate(text string) int {
	if text == "" {
		return 0
	}
	if c := getCodec(); c != nil {
		if ids, _, err := c.Encode(text); err == nil {
			return len(ids)
		}
	}
	return len(text) / 4
}

// EstimateAll counts tokens across several text segments.
func EstimateAll(segments ...string) int {
	total := 0
	for _, s := range segments {
		total += Estimate(s)
	}
	return total
}
