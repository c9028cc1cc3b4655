package embedder

import (
	"context"
	"fmt"
)

// DimensionGuard rejects vectors whose length differs from the configured
// dimension.
type DimensionGuard struct {
	client     Client
	dimensions int
}

// NewDimensionGuard wraps client. A non-positive dimensions value falls back to
// client.Dimensions().
func NewDimensionGuard(client Client, dimensions int) *DimensionGuard {
	if dimensions <= 0 {
		dimensions = client.Dimensions()
	}
	return &DimensionGuard{client: client, dimensions: dimensions}
}

// Embed implements Client.
func (g *DimensionGuard) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	vectors, err := g.client.Embed(ctx, texts)
	if err != nil {
		return nil, err
	}
	for i, v := range vectors {
		if err := g.Check(v); err != nil {
			return nil, fmt.Errorf("text %d: %w", i, err)
		}
	}
	return vectors, nil
}

// EmbedSingle implements Client.
func (g *DimensionGuard) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	return embedSingle(ctx, g, text)
}

// Check validates one vector. Empty vectors pass; they mean "no embedding".
func (g *DimensionGuard) Check(v []float32) error {
	if g.dimensions > 0 && len(v) != 0 && len(v) != g.dimensions {
		return fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(v), g.dimensions)
	}
	return nil
}

// Dimensions implements Client.
func (g *DimensionGuard) Dimensions() int {
	return g.dimensions
}

// Close implements Client.
func (g *DimensionGuard) Close() error {
	return g.client.Close()
}
