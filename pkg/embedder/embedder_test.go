package embedder_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/soundprediction/chronograph/pkg/embedder"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeEmbedder maps each text to a vector derived from its length.
type fakeEmbedder struct {
	dims   int
	calls  int
	inputs [][]string
	err    error
}

func (f *fakeEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	f.calls++
	f.inputs = append(f.inputs, texts)
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v := make([]float32, f.dims)
		v[0] = float32(len(t))
		out[i] = v
	}
	return out, nil
}

func (f *fakeEmbedder) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	v, err := f.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return v[0], nil
}

func (f *fakeEmbedder) Dimensions() int { return f.dims }
func (f *fakeEmbedder) Close() error    { return nil }

func TestEmbedderInterface(t *testing.T) {
	var _ embedder.Client = (*embedder.OpenAIEmbedder)(nil)
	var _ embedder.Client = (*embedder.EmbedEverythingClient)(nil)
	var _ embedder.Client = (*embedder.CachedClient)(nil)
	var _ embedder.Client = (*embedder.DimensionGuard)(nil)
}

func TestEmbedderConfig(t *testing.T) {
	tests := []struct {
		name         string
		config       embedder.Config
		expectedDims int
	}{
		{"default config", embedder.Config{}, 1536},
		{"ada", embedder.Config{Model: "text-embedding-ada-002"}, 1536},
		{"large model", embedder.Config{Model: "text-embedding-3-large"}, 3072},
		{"custom dimensions", embedder.Config{Model: "custom-model", Dimensions: 512}, 512},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := embedder.NewOpenAIEmbedder("test-key", tt.config)
			assert.Equal(t, tt.expectedDims, client.Dimensions())
		})
	}
}

func TestOpenAIEmbedderBatches(t *testing.T) {
	var batches []int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/embeddings", r.URL.Path)
		raw, _ := io.ReadAll(r.Body)
		var req struct {
			Input []string `json:"input"`
		}
		assert.NoError(t, json.Unmarshal(raw, &req))
		batches = append(batches, len(req.Input))

		type datum struct {
			Object    string    `json:"object"`
			Index     int       `json:"index"`
			Embedding []float32 `json:"embedding"`
		}
		data := make([]datum, len(req.Input))
		// answer in reverse to check the client reorders by index
		for i := range req.Input {
			j := len(req.Input) - 1 - i
			data[i] = datum{Object: "embedding", Index: j, Embedding: []float32{float32(len(req.Input[j])), 0}}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"object": "list", "data": data, "model": "m"})
	}))
	defer srv.Close()

	client := embedder.NewOpenAIEmbedder("key", embedder.Config{BaseURL: srv.URL, Dimensions: 2, BatchSize: 2})
	vectors, err := client.Embed(context.Background(), []string{"a", "bb", "ccc"})
	require.NoError(t, err)

	assert.Equal(t, []int{2, 1}, batches)
	require.Len(t, vectors, 3)
	assert.Equal(t, float32(1), vectors[0][0])
	assert.Equal(t, float32(2), vectors[1][0])
	assert.Equal(t, float32(3), vectors[2][0])
}

func TestCachedClient(t *testing.T) {
	fake := &fakeEmbedder{dims: 3}
	cached, err := embedder.NewCachedClient(fake, 8)
	require.NoError(t, err)

	first, err := cached.Embed(context.Background(), []string{"Alice", "Acme", "Alice"})
	require.NoError(t, err)
	require.Len(t, first, 3)
	assert.Equal(t, []string{"Alice", "Acme"}, fake.inputs[0], "duplicates embed once")
	assert.Equal(t, first[0], first[2])

	second, err := cached.Embed(context.Background(), []string{"Acme", "Globex"})
	require.NoError(t, err)
	assert.Equal(t, first[1], second[0])
	assert.Equal(t, []string{"Globex"}, fake.inputs[1], "only misses reach the provider")

	_, err = cached.EmbedSingle(context.Background(), "Alice")
	require.NoError(t, err)
	assert.Equal(t, 2, fake.calls)
	assert.Equal(t, 3, cached.Len())
}

func TestCachedClientDoesNotCacheFailures(t *testing.T) {
	fake := &fakeEmbedder{dims: 3, err: errors.New("503 unavailable")}
	cached, err := embedder.NewCachedClient(fake, 8)
	require.NoError(t, err)

	_, err = cached.Embed(context.Background(), []string{"Alice"})
	require.Error(t, err)
	assert.Equal(t, 0, cached.Len())
}

func TestDimensionGuard(t *testing.T) {
	guard := embedder.NewDimensionGuard(&fakeEmbedder{dims: 4}, 4)
	v, err := guard.EmbedSingle(context.Background(), "Alice")
	require.NoError(t, err)
	assert.Len(t, v, 4)

	strict := embedder.NewDimensionGuard(&fakeEmbedder{dims: 4}, 8)
	_, err = strict.Embed(context.Background(), []string{"Alice"})
	assert.ErrorIs(t, err, embedder.ErrDimensionMismatch)

	assert.NoError(t, strict.Check(nil))
	assert.Equal(t, 4, embedder.NewDimensionGuard(&fakeEmbedder{dims: 4}, 0).Dimensions())
}
