// Package embedding turns indexed text into dense vectors for semantic
// search. The daemon runs without an encoder when no provider is
// configured; semantic ranking is simply skipped in that case.
package embedding

import (
	"context"
	"errors"
)

// ErrNotConfigured is returned by encoders that have no usable backend.
var ErrNotConfigured = errors.New("embedding provider not configured")

// Encoder produces fixed-dimension vectors for text fragments.
type Encoder interface {
	// Embed returns one vector per input text, in input order.
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions reports the width of vectors this encoder produces.
	Dimensions() int

	// Available reports whether the encoder can serve requests,
	// with a human-readable reason when it cannot.
	Available() (bool, string)
}

// Disabled is an Encoder that rejects every request. It stands in when
// the configuration names no provider.
type Disabled struct{}

func (Disabled) Embed(context.Context, []string) ([][]float32, error) {
	return nil, ErrNotConfigured
}

func (Disabled) Dimensions() int { return 0 }

func (Disabled) Available() (bool, string) {
	return false, "no embedding provider configured"
}
