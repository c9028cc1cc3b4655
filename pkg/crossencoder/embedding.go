package crossencoder

import (
	"context"
	"fmt"

	"github.com/soundprediction/chronograph/pkg/embedder"
	"github.com/soundprediction/chronograph/pkg/utils"
)

// EmbeddingRerankerClient scores passages by the cosine similarity of their
// embeddings to the query embedding. It is a bi-encoder standing in for a
// cross-encoder when no reranker model is available.
type EmbeddingRerankerClient struct {
	embedder embedder.Client
	config   Config
}

// NewEmbeddingRerankerClient creates a new embedding-based reranker client
func NewEmbeddingRerankerClient(embedderClient embedder.Client, config Config) *EmbeddingRerankerClient {
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultConfig(ProviderEmbedding).BatchSize
	}
	return &EmbeddingRerankerClient{
		embedder: embedderClient,
		config:   config,
	}
}

// Rank ranks the given passages based on their relevance to the query using embeddings
func (c *EmbeddingRerankerClient) Rank(ctx context.Context, query string, passages []string) ([]RankedPassage, error) {
	if len(passages) == 0 {
		return []RankedPassage{}, nil
	}

	queryEmbedding, err := c.embedder.EmbedSingle(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to create query embedding: %w", err)
	}
	if len(queryEmbedding) == 0 {
		return nil, fmt.Errorf("query embedding is empty")
	}

	ranked := make([]RankedPassage, 0, len(passages))
	for start := 0; start < len(passages); start += c.config.BatchSize {
		end := min(start+c.config.BatchSize, len(passages))
		vecs, err := c.embedder.Embed(ctx, passages[start:end])
		if err != nil {
			return nil, fmt.Errorf("failed to embed passages %d-%d: %w", start, end-1, err)
		}
		if len(vecs) != end-start {
			return nil, embedder.ErrNoEmbeddings
		}
		for i, v := range vecs {
			ranked = append(ranked, RankedPassage{
				Passage: passages[start+i],
				Score:   utils.CosineSimilarity(queryEmbedding, v),
				Index:   start + i,
			})
		}
	}

	sortRanked(ranked)
	return ranked, nil
}

// Close is a no-op. The embedder belongs to the caller.
func (c *EmbeddingRerankerClient) Close() error {
	return nil
}
