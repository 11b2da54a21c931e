//go:build !ORT && !ALL

package backends

import "errors"

func NewRustTokenizer(_ []byte) (Tokenizer, error) {
	return nil, errors.New("rust tokenizer is not enabled, build with -tags ORT or -tags ALL")
}
