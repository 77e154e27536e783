package extractor

import (
	"fmt"
	"strings"

	"github.com/tiktoken-go/tokenizer"
)

const truncationMarker = "\n\n[... середина разговора опущена ...]\n\n"

// Truncator keeps long transcripts inside a token budget by dropping the middle.
type Truncator struct {
	codec     tokenizer.Codec
	maxTokens int
}

func NewTruncator(maxTokens int) (*Truncator, error) {
	codec, err := tokenizer.Get(tokenizer.O200kBase)
	if err != nil {
		return nil, fmt.Errorf("failed to get tokenizer encoding: %w", err)
	}
	return &Truncator{codec: codec, maxTokens: maxTokens}, nil
}

// Count returns the number of tokens in text.
func (t *Truncator) Count(text string) int {
	ids, _, err := t.codec.Encode(text)
	if err != nil {
		return 0
	}
	return len(ids)
}

// Truncate returns text unchanged when it fits, otherwise the first two thirds
// of the budget from the head and the rest from the tail.
func (t *Truncator) Truncate(text string) (string, bool) {
	if t.maxTokens <= 0 {
		return text, false
	}
	ids, _, err := t.codec.Encode(text)
	if err != nil || len(ids) <= t.maxTokens {
		return text, false
	}
	head := t.maxTokens * 2 / 3
	tail := t.maxTokens - head

	headText, err := t.codec.Decode(ids[:head])
	if err != nil {
		return text, false
	}
	tailText, err := t.codec.Decode(ids[len(ids)-tail:])
	if err != nil {
		return text, false
	}
	// token boundaries can split a multi-byte rune
	headText = strings.ToValidUTF8(headText, "")
	tailText = strings.ToValidUTF8(tailText, "")
	return strings.TrimSpace(headText) + truncationMarker + strings.TrimSpace(tailText), true
}
