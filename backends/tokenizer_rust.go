//go:build ORT || ALL

package backends

import (
	"fmt"

	"github.com/daulet/tokenizers"
)

// RustTokenizer wraps the huggingface tokenizers library through cgo.
type RustTokenizer struct {
	Tokenizer *tokenizers.Tokenizer
}

func NewRustTokenizer(tokenizerBytes []byte) (Tokenizer, error) {
	tk, err := tokenizers.FromBytes(tokenizerBytes)
	if err != nil {
		return nil, fmt.Errorf("loading tokenizer.json: %w", err)
	}
	return &RustTokenizer{Tokenizer: tk}, nil
}

func (t *RustTokenizer) Encode(text string, addSpecialTokens bool) ([]uint32, error) {
	output := t.Tokenizer.EncodeWithOptions(text, addSpecialTokens)
	return output.IDs, nil
}

func (t *RustTokenizer) Destroy() error {
	return t.Tokenizer.Close()
}
