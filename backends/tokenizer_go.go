package backends

import (
	"bytes"
	"fmt"

	"github.com/sugarme/tokenizer"
	"github.com/sugarme/tokenizer/pretrained"

	"github.com/knights-analytics/gliner/util/safeconv"
)

// GoTokenizer is the pure Go tokenizer used by the GO backend.
type GoTokenizer struct {
	Tokenizer *tokenizer.Tokenizer
}

func NewGoTokenizer(tokenizerBytes []byte) (*GoTokenizer, error) {
	tk, err := pretrained.FromReader(bytes.NewReader(tokenizerBytes))
	if err != nil {
		return nil, fmt.Errorf("loading tokenizer.json: %w", err)
	}
	return &GoTokenizer{Tokenizer: tk}, nil
}

func (t *GoTokenizer) Encode(text string, addSpecialTokens bool) ([]uint32, error) {
	output, err := t.Tokenizer.EncodeSingle(text, addSpecialTokens)
	if err != nil {
		return nil, err
	}
	return safeconv.IntSliceToUint32Slice(output.Ids), nil
}

func (t *GoTokenizer) Destroy() error {
	return nil
}
