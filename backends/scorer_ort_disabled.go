//go:build !ORT && !ALL

package backends

import (
	"errors"

	"github.com/knights-analytics/gliner/options"
)

func NewORTScorer(_ []byte, _ *options.Options) (Scorer, error) {
	return nil, errors.New("to enable ORT, run `go build -tags ORT` or `go build -tags ALL`")
}
