package ai

import (
	"fmt"

	"github.com/tiktoken-go/tokenizer"
)

// TokenCounter measures prompt size in model tokens.
type TokenCounter interface {
	CountTokens(text string) int
}

// TiktokenCounter counts tokens with a BPE encoding. Gemini and Ark use
// their own vocabularies, so counts are an approximation used for budgeting.
type TiktokenCounter struct {
	codec tokenizer.Codec
}

// NewTiktokenCounter loads the cl100k_base encoding.
func NewTiktokenCounter() (*TiktokenCounter, error) {
	codec, err := tokenizer.Get(tokenizer.Cl100kBase)
	if err != nil {
		return nil, fmt.Errorf("load tokenizer: %w", err)
	}
	return &TiktokenCounter{codec: codec}, nil
}

func (c *TiktokenCounter) CountTokens(text string) int {
	ids, _, err := c.codec.Encode(text)
	if err != nil {
		// rough fallback of four bytes per token
		return len(text)/4 + 1
	}
	return len(ids)
}
