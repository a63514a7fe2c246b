// Package embeddings
package embeddings

import (
	"context"
	"errors"
)

// ErrUnavailable is returned when the embedding backend cannot be reached.
// Saves cannot proceed without an embedding; reads fall back to graph-only.
var ErrUnavailable = errors.New("embedder unavailable")

// Embedder provides text embedding capabilities.
type Embedder interface {
	// Embed converts text into a vector embedding.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimensions returns the vector dimensionality the embedder produces.
	Dimensions() uint

	// Close releases any resources held by the embedder.
	Close() error
}
