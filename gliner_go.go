package gliner

import (
	"github.com/knights-analytics/gliner/options"
)

// NewGoSession creates a session running models with the pure Go backend.
func NewGoSession(opts ...options.WithOption) (*Session, error) {
	return newSession("GO", opts...)
}
