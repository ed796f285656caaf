package domain

import (
	"context"
)

// VectorEncoder defines the interface for generating embeddings.
// Encode is order-preserving: result index i corresponds to texts[i].
type VectorEncoder interface {
	Encode(ctx context.Context, texts []string) ([][]float32, error)
	Version() string
}
