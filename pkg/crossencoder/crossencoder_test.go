package crossencoder

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// wordEmbedder embeds a text as the presence of each of its words.
type wordEmbedder struct {
	words []string
	calls int
	err   error
}

func (w *wordEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	w.calls++
	if w.err != nil {
		return nil, w.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v := make([]float32, len(w.words))
		for j, word := range w.words {
			if strings.Contains(strings.ToLower(t), word) {
				v[j] = 1
			}
		}
		out[i] = v
	}
	return out, nil
}

func (w *wordEmbedder) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	v, err := w.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return v[0], nil
}

func (w *wordEmbedder) Dimensions() int { return len(w.words) }
func (w *wordEmbedder) Close() error    { return nil }

func TestEmbeddingReranker(t *testing.T) {
	emb := &wordEmbedder{words: []string{"alice", "acme"}}
	c := NewEmbeddingRerankerClient(emb, Config{BatchSize: 2})

	ranked, err := c.Rank(context.Background(), "Alice acme", []string{"Bob", "Acme Corp", "Alice at Acme"})
	require.NoError(t, err)
	require.Len(t, ranked, 3)

	assert.Equal(t, "Alice at Acme", ranked[0].Passage)
	assert.Equal(t, 2, ranked[0].Index)
	assert.InDelta(t, 1.0, ranked[0].Score, 1e-9)
	assert.Equal(t, 1, ranked[1].Index)
	assert.Equal(t, 0, ranked[2].Index)
	assert.Zero(t, ranked[2].Score)

	// one query embedding plus two passage batches
	assert.Equal(t, 3, emb.calls)
}

func TestEmbeddingRerankerErrors(t *testing.T) {
	c := NewEmbeddingRerankerClient(&wordEmbedder{words: []string{"a"}, err: errors.New("down")}, Config{})
	_, err := c.Rank(context.Background(), "q", []string{"a"})
	assert.ErrorContains(t, err, "query embedding")

	ranked, err := c.Rank(context.Background(), "q", nil)
	require.NoError(t, err)
	assert.Empty(t, ranked)
}

func TestMatchScores(t *testing.T) {
	passages := []string{"x", "y", "x", "z"}
	// the model returns texts sorted by score and omits "z"
	ranked := matchScores(passages, []string{"x", "y", "x"}, []float64{0.9, 0.5, 0.1})

	require.Len(t, ranked, 4)
	assert.Equal(t, []int{0, 1, 2, 3}, indexes(ranked))
	assert.Equal(t, 0.9, ranked[0].Score)
	assert.Equal(t, 0.1, ranked[2].Score)
	assert.Zero(t, ranked[3].Score)

	ranked = matchScores([]string{"a", "b"}, []string{"b", "a", "ghost"}, []float64{0.7, 0.2, 1.0})
	assert.Equal(t, []int{1, 0}, indexes(ranked))
}

func TestNewClient(t *testing.T) {
	_, err := NewClient(ClientConfig{Provider: ProviderEmbedding})
	assert.ErrorContains(t, err, "embedder client is required")

	_, err = NewClient(ClientConfig{Provider: "openai"})
	assert.ErrorContains(t, err, "unsupported cross-encoder provider")

	c, err := NewClient(ClientConfig{Provider: ProviderEmbedding, EmbedderClient: &wordEmbedder{}})
	require.NoError(t, err)
	assert.IsType(t, &EmbeddingRerankerClient{}, c)
	assert.Equal(t, "BAAI/bge-reranker-base", DefaultConfig(ProviderEmbedEverything).Model)
}

func indexes(ranked []RankedPassage) []int {
	out := make([]int, len(ranked))
	for i, r := range ranked {
		out[i] = r.Index
	}
	return out
}
