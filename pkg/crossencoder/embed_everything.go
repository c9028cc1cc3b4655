package crossencoder

import (
	"context"
	"fmt"
	"sync"

	"github.com/soundprediction/go-embedeverything/pkg/embedder"
)

// EmbedEverythingClient implements the Client interface for EmbedEverything reranking.
type EmbedEverythingClient struct {
	mu       sync.Mutex
	reranker *embedder.Reranker
	config   Config
}

// NewEmbedEverythingClient loads the reranker model named by config.Model.
func NewEmbedEverythingClient(config Config) (*EmbedEverythingClient, error) {
	reranker, err := embedder.NewReranker(config.Model)
	if err != nil {
		return nil, fmt.Errorf("failed to create reranker: %w", err)
	}

	return &EmbedEverythingClient{
		reranker: reranker,
		config:   config,
	}, nil
}

// Rank ranks the given passages based on their relevance to the query.
func (e *EmbedEverythingClient) Rank(ctx context.Context, query string, passages []string) ([]RankedPassage, error) {
	if len(passages) == 0 {
		return []RankedPassage{}, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// go-embedeverything does not support context yet
	e.mu.Lock()
	results, err := e.reranker.Rerank(query, passages)
	e.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("failed to rerank passages: %w", err)
	}

	scores := make([]float64, len(results))
	texts := make([]string, len(results))
	for i, r := range results {
		scores[i] = float64(r.Score)
		texts[i] = r.Text
	}
	return matchScores(passages, texts, scores), nil
}

// Close cleans up any resources.
func (e *EmbedEverythingClient) Close() error {
	e.reranker.Close()
	return nil
}

// matchScores maps scored texts back onto input positions. Duplicate
// passages are matched in order; passages the model did not return score
// zero.
func matchScores(passages, texts []string, scores []float64) []RankedPassage {
	positions := make(map[string][]int, len(passages))
	for i, p := range passages {
		positions[p] = append(positions[p], i)
	}

	ranked := make([]RankedPassage, 0, len(passages))
	seen := make([]bool, len(passages))
	for i, text := range texts {
		idx := positions[text]
		if len(idx) == 0 {
			continue
		}
		positions[text] = idx[1:]
		seen[idx[0]] = true
		ranked = append(ranked, RankedPassage{Passage: text, Score: scores[i], Index: idx[0]})
	}
	for i, ok := range seen {
		if !ok {
			ranked = append(ranked, RankedPassage{Passage: passages[i], Index: i})
		}
	}
	sortRanked(ranked)
	return ranked
}
