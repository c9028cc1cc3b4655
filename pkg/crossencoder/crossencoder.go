/*
Package crossencoder scores passages against a query, for reranking search
results.

Two providers are available:
  - embedeverything runs a local cross-encoder model (for example
    BAAI/bge-reranker-base) through go-embedeverything.
  - embedding scores each passage by the cosine similarity of its embedding
    to the query embedding.

Usage:

	ce, err := crossencoder.NewClient(crossencoder.ClientConfig{
		Provider: crossencoder.ProviderEmbedEverything,
		Config:   crossencoder.DefaultConfig(crossencoder.ProviderEmbedEverything),
	})
	ranked, err := ce.Rank(ctx, "where does alice work", passages)
*/
package crossencoder

import (
	"context"
	"fmt"
	"sort"

	"github.com/soundprediction/chronograph/pkg/embedder"
)

// Provider represents the type of cross-encoder provider
type Provider string

const (
	// ProviderEmbedEverything uses go-embedeverything for local reranking
	ProviderEmbedEverything Provider = "embedeverything"

	// ProviderEmbedding uses embedding-based similarity for reranking
	ProviderEmbedding Provider = "embedding"
)

// RankedPassage is one scored passage. Index is its position in the input.
type RankedPassage struct {
	Passage string  `json:"passage"`
	Score   float64 `json:"score"`
	Index   int     `json:"index"`
}

// Client ranks passages by relevance to a query, most relevant first.
// Every input passage appears exactly once in the output.
type Client interface {
	Rank(ctx context.Context, query string, passages []string) ([]RankedPassage, error)
	Close() error
}

// Config holds settings shared by providers.
type Config struct {
	Model     string `json:"model,omitempty"`
	BatchSize int    `json:"batch_size,omitempty"`
}

// ClientConfig holds configuration for creating cross-encoder clients
type ClientConfig struct {
	Provider       Provider        `json:"provider"`
	Config         Config          `json:"config"`
	EmbedderClient embedder.Client `json:"-"` // Required for embedding provider
}

// NewClient creates a new cross-encoder client based on the provider type
func NewClient(clientConfig ClientConfig) (Client, error) {
	switch clientConfig.Provider {
	case ProviderEmbedEverything:
		cfg := clientConfig.Config
		if cfg.Model == "" {
			cfg.Model = DefaultConfig(ProviderEmbedEverything).Model
		}
		return NewEmbedEverythingClient(cfg)

	case ProviderEmbedding:
		if clientConfig.EmbedderClient == nil {
			return nil, fmt.Errorf("embedder client is required for embedding provider")
		}
		return NewEmbeddingRerankerClient(clientConfig.EmbedderClient, clientConfig.Config), nil

	default:
		return nil, fmt.Errorf("unsupported cross-encoder provider: %s", clientConfig.Provider)
	}
}

// DefaultConfig returns a default configuration for the given provider
func DefaultConfig(provider Provider) Config {
	switch provider {
	case ProviderEmbedEverything:
		return Config{
			Model:     "BAAI/bge-reranker-base",
			BatchSize: 100,
		}
	case ProviderEmbedding:
		return Config{
			BatchSize: 50,
		}
	default:
		return Config{}
	}
}

// sortRanked orders by score, highest first, keeping input order on ties.
func sortRanked(ranked []RankedPassage) {
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		return ranked[i].Index < ranked[j].Index
	})
}
