package embedder

import (
	"context"
	"errors"
)

var (
	// ErrDimensionMismatch is returned when a provider yields vectors of the wrong length
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// ErrNoEmbeddings is returned when a provider returns fewer vectors than inputs
	ErrNoEmbeddings = errors.New("no embeddings returned")
)

// Client defines the interface for embedding providers.
type Client interface {
	// Embed generates embeddings for the given texts, one per input in order.
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// EmbedSingle generates an embedding for a single text.
	EmbedSingle(ctx context.Context, text string) ([]float32, error)

	// Dimensions returns the number of dimensions in the embeddings.
	Dimensions() int

	// Close cleans up any resources.
	Close() error
}

// Config holds configuration shared by embedding clients.
type Config struct {
	Model      string `json:"model"`
	BaseURL    string `json:"base_url,omitempty"`
	Dimensions int    `json:"dimensions,omitempty"`
	BatchSize  int    `json:"batch_size,omitempty"`
}

func embedSingle(ctx context.Context, c Client, text string) ([]float32, error) {
	embeddings, err := c.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(embeddings) == 0 {
		return nil, ErrNoEmbeddings
	}
	return embeddings[0], nil
}
