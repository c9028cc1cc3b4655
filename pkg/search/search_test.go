package search

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soundprediction/chronograph/pkg/driver"
	"github.com/soundprediction/chronograph/pkg/types"
)

const testGroup = "test"

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func node(id string, created time.Time) *types.EntityNode {
	return &types.EntityNode{Uuid: id, Name: id, GroupID: testGroup, Labels: []string{"Entity"}, CreatedAt: created}
}

func edge(id, src, dst string) *types.EntityEdge {
	return &types.EntityEdge{Uuid: id, GroupID: testGroup, SourceNodeID: src, TargetNodeID: dst, Name: "KNOWS", Fact: id, CreatedAt: epoch}
}

func nodeItem(id string, score float64) types.ScoredItem {
	return types.ScoredItem{Kind: types.KindNode, Node: node(id, epoch), Score: score}
}

func ids(results []types.SearchResult) []string {
	out := make([]string, len(results))
	for i, r := range results {
		out[i] = r.ID
	}
	return out
}

// fakeStore serves canned channel results.
type fakeStore struct {
	vector   func(ctx context.Context) ([]types.ScoredItem, error)
	keyword  func(ctx context.Context) ([]types.ScoredItem, error)
	traverse func(ctx context.Context, seeds []string, hops int) ([]types.TraversalHit, error)

	mu    sync.Mutex
	seeds [][]string
}

func (f *fakeStore) VectorSearch(ctx context.Context, embedding []float32, k int, filters *types.SearchFilters) ([]types.ScoredItem, error) {
	if f.vector == nil {
		return nil, nil
	}
	return f.vector(ctx)
}

func (f *fakeStore) KeywordSearch(ctx context.Context, text string, k int, filters *types.SearchFilters) ([]types.ScoredItem, error) {
	if f.keyword == nil {
		return nil, nil
	}
	return f.keyword(ctx)
}

func (f *fakeStore) Traverse(ctx context.Context, seedIDs []string, maxHops int, filters *types.SearchFilters) ([]types.TraversalHit, error) {
	f.mu.Lock()
	f.seeds = append(f.seeds, seedIDs)
	f.mu.Unlock()
	if f.traverse == nil {
		return nil, nil
	}
	return f.traverse(ctx, seedIDs, maxHops)
}

func items(list ...types.ScoredItem) func(context.Context) ([]types.ScoredItem, error) {
	return func(context.Context) ([]types.ScoredItem, error) { return list, nil }
}

func failing(err error) func(context.Context) ([]types.ScoredItem, error) {
	return func(context.Context) ([]types.ScoredItem, error) { return nil, err }
}

func blocking(ctx context.Context) ([]types.ScoredItem, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

// fakeEmbedder maps known texts to vectors and everything else to a fixed
// vector.
type fakeEmbedder struct {
	vectors map[string][]float32
	err     error
}

func (f *fakeEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := f.EmbedSingle(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (f *fakeEmbedder) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	if v, ok := f.vectors[text]; ok {
		return v, nil
	}
	return []float32{1, 0, 0}, nil
}

func (f *fakeEmbedder) Dimensions() int { return 3 }
func (f *fakeEmbedder) Close() error    { return nil }

func newTestSearcher(store Store) *Searcher {
	return NewSearcher(store, &fakeEmbedder{}, Options{ChannelTimeout: 100 * time.Millisecond})
}

func TestFuse(t *testing.T) {
	t.Run("agreement beats a single channel", func(t *testing.T) {
		got := Fuse(map[types.Channel][]types.ScoredItem{
			types.ChannelEmbedding: {nodeItem("a", 0.9), nodeItem("b", 0.8)},
			types.ChannelKeyword:   {nodeItem("b", 3), nodeItem("c", 2)},
		}, 60)
		require.Equal(t, []string{"b", "a", "c"}, ids(got))
		assert.InDelta(t, 1.0/62+1.0/61, got[0].Score, 1e-12)
		assert.Equal(t, []types.Channel{types.ChannelEmbedding, types.ChannelKeyword}, got[0].Channels)
		assert.Equal(t, []types.Channel{types.ChannelKeyword}, got[2].Channels)
	})

	t.Run("score grows with rank and channel count", func(t *testing.T) {
		lists := map[types.Channel][]types.ScoredItem{
			types.ChannelEmbedding: {nodeItem("x", 1), nodeItem("y", 0.5), nodeItem("z", 0.1)},
		}
		got := Fuse(lists, 60)
		for i := 1; i < len(got); i++ {
			assert.Greater(t, got[i-1].Score, got[i].Score)
		}

		lists[types.ChannelGraph] = []types.ScoredItem{nodeItem("z", 1)}
		again := Fuse(lists, 60)
		var z float64
		for _, r := range again {
			if r.ID == "z" {
				z = r.Score
			}
		}
		assert.Greater(t, z, got[2].Score)
	})

	t.Run("ties break on normalized channel score", func(t *testing.T) {
		got := Fuse(map[types.Channel][]types.ScoredItem{
			types.ChannelEmbedding: {nodeItem("x", 1.0), nodeItem("a", 0.95)},
			types.ChannelKeyword:   {nodeItem("y", 10), nodeItem("b", 5)},
		}, 60)
		assert.Equal(t, []string{"x", "y", "a", "b"}, ids(got))
	})

	t.Run("ties break on newer creation time then id", func(t *testing.T) {
		older := types.ScoredItem{Kind: types.KindNode, Node: node("a", epoch), Score: 1}
		newer := types.ScoredItem{Kind: types.KindNode, Node: node("b", epoch.Add(time.Hour)), Score: 1}
		same := types.ScoredItem{Kind: types.KindNode, Node: node("c", epoch), Score: 1}
		got := Fuse(map[types.Channel][]types.ScoredItem{
			types.ChannelEmbedding: {older},
			types.ChannelKeyword:   {same},
			types.ChannelGraph:     {newer},
		}, 60)
		assert.Equal(t, []string{"b", "a", "c"}, ids(got))
	})

	t.Run("nodes and edges share one ranking", func(t *testing.T) {
		got := Fuse(map[types.Channel][]types.ScoredItem{
			types.ChannelKeyword: {
				{Kind: types.KindEdge, Edge: edge("e1", "a", "b"), Score: 2},
				nodeItem("a", 1),
			},
		}, 0)
		require.Len(t, got, 2)
		assert.Equal(t, types.KindEdge, got[0].Kind)
		assert.NotNil(t, got[0].Edge)
		assert.InDelta(t, 1.0/61, got[0].Score, 1e-12)
	})
}

func TestSearchValidation(t *testing.T) {
	s := newTestSearcher(&fakeStore{})
	ctx := context.Background()

	cases := map[string]*types.SearchRequest{
		"nil":             nil,
		"no group":        {Query: "x"},
		"no query":        {GroupID: testGroup},
		"bad window":      {Query: "x", GroupID: testGroup, Window: types.Between(epoch.Add(time.Hour), epoch)},
		"bad kind":        {Query: "x", GroupID: testGroup, Kinds: []types.ItemKind{"community"}},
		"unknown rerank":  {Query: "x", GroupID: testGroup, Rerank: "nope"},
		"negative k":      {Query: "x", GroupID: testGroup, K: -1},
		"bad group chars": {Query: "x", GroupID: "a b"},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := s.Search(ctx, req)
			assert.ErrorIs(t, err, types.ErrValidation)
		})
	}
}

func TestSearchKeywordOnlyOverMemoryDriver(t *testing.T) {
	ctx := context.Background()
	d := driver.NewMemoryDriver()
	alice := node("alice", epoch)
	alice.Name = "Alice"
	acme := node("acme", epoch)
	acme.Name = "Acme Corp"
	require.NoError(t, d.UpsertNode(ctx, alice))
	require.NoError(t, d.UpsertNode(ctx, acme))
	works := edge("e-works", "alice", "acme")
	works.Name = "WORKS_AT"
	works.Fact = "Alice works at Acme Corp"
	require.NoError(t, d.UpsertEdge(ctx, works))
	require.NoError(t, d.UpsertNode(ctx, node("bob", epoch)))
	knows := edge("e-knows", "alice", "bob")
	knows.Fact = "Alice knows Bob"
	require.NoError(t, d.UpsertEdge(ctx, knows))

	s := NewSearcher(d, nil, Options{})
	res, err := s.Search(ctx, &types.SearchRequest{Query: "acme", GroupID: testGroup})
	require.NoError(t, err)
	assert.Empty(t, res.Warnings)
	require.NotEmpty(t, res.Results)
	got := ids(res.Results)
	assert.Contains(t, got, "acme")
	assert.Contains(t, got, "e-works")
	// bob and the edge to him are reached only by the graph channel, seeded
	// from the endpoints of the keyword hits.
	assert.Contains(t, got, "bob")
	assert.Contains(t, got, "e-knows")

	edgesOnly, err := s.Search(ctx, &types.SearchRequest{Query: "acme", GroupID: testGroup, Kinds: []types.ItemKind{types.KindEdge}})
	require.NoError(t, err)
	for _, r := range edgesOnly.Results {
		assert.Equal(t, types.KindEdge, r.Kind)
	}
}

func TestSearchTruncatesToK(t *testing.T) {
	store := &fakeStore{keyword: items(nodeItem("a", 3), nodeItem("b", 2), nodeItem("c", 1))}
	res, err := newTestSearcher(store).Search(context.Background(), &types.SearchRequest{Query: "q", GroupID: testGroup, K: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids(res.Results))
}

func TestSearchChannelFailures(t *testing.T) {
	ctx := context.Background()

	t.Run("timeout becomes a warning", func(t *testing.T) {
		store := &fakeStore{vector: blocking, keyword: items(nodeItem("a", 1))}
		start := time.Now()
		res, err := newTestSearcher(store).Search(ctx, &types.SearchRequest{Query: "q", GroupID: testGroup})
		require.NoError(t, err)
		assert.Less(t, time.Since(start), 2*time.Second)
		assert.Equal(t, []string{"a"}, ids(res.Results))
		require.Len(t, res.Warnings, 1)
		assert.Equal(t, "embedding_channel", res.Warnings[0].Stage)
		assert.Contains(t, res.Warnings[0].Message, "timed out")
	})

	t.Run("channel ignoring its context is abandoned", func(t *testing.T) {
		release := make(chan struct{})
		defer close(release)
		store := &fakeStore{
			vector:  items(nodeItem("a", 1)),
			keyword: func(context.Context) ([]types.ScoredItem, error) { <-release; return nil, nil },
		}
		res, err := newTestSearcher(store).Search(ctx, &types.SearchRequest{Query: "q", GroupID: testGroup})
		require.NoError(t, err)
		assert.Equal(t, []string{"a"}, ids(res.Results))
		require.Len(t, res.Warnings, 1)
		assert.Equal(t, "keyword_channel", res.Warnings[0].Stage)
	})

	t.Run("panic is recovered", func(t *testing.T) {
		store := &fakeStore{
			vector:  func(context.Context) ([]types.ScoredItem, error) { panic("boom") },
			keyword: items(nodeItem("a", 1)),
		}
		res, err := newTestSearcher(store).Search(ctx, &types.SearchRequest{Query: "q", GroupID: testGroup})
		require.NoError(t, err)
		assert.Equal(t, []string{"a"}, ids(res.Results))
		require.Len(t, res.Warnings, 1)
		assert.Contains(t, res.Warnings[0].Message, "boom")
	})

	t.Run("embedder failure", func(t *testing.T) {
		store := &fakeStore{keyword: items(nodeItem("a", 1))}
		s := NewSearcher(store, &fakeEmbedder{err: errors.New("embedder down")}, Options{})
		res, err := s.Search(ctx, &types.SearchRequest{Query: "q", GroupID: testGroup})
		require.NoError(t, err)
		require.Len(t, res.Warnings, 1)
		assert.Contains(t, res.Warnings[0].Message, "embedder down")
	})

	t.Run("all channels failing is an empty result", func(t *testing.T) {
		store := &fakeStore{vector: failing(errors.New("down")), keyword: failing(errors.New("down"))}
		res, err := newTestSearcher(store).Search(ctx, &types.SearchRequest{Query: "q", GroupID: testGroup})
		require.NoError(t, err)
		assert.Empty(t, res.Results)
		assert.NotNil(t, res.Results)
		assert.Len(t, res.Warnings, 2)
	})

	t.Run("graph failure with caller seeds", func(t *testing.T) {
		store := &fakeStore{traverse: func(context.Context, []string, int) ([]types.TraversalHit, error) {
			return nil, errors.New("traverse failed")
		}}
		res, err := newTestSearcher(store).Search(ctx, &types.SearchRequest{GroupID: testGroup, SeedIDs: []string{"a"}})
		require.NoError(t, err)
		assert.Empty(t, res.Results)
		require.Len(t, res.Warnings, 1)
		assert.Equal(t, "graph_channel", res.Warnings[0].Stage)
	})
}

func TestSearchCancellation(t *testing.T) {
	store := &fakeStore{vector: blocking, keyword: blocking}
	s := NewSearcher(store, &fakeEmbedder{}, Options{ChannelTimeout: 10 * time.Second})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	start := time.Now()
	res, err := s.Search(ctx, &types.SearchRequest{Query: "q", GroupID: testGroup})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, res)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestGraphChannel(t *testing.T) {
	ctx := context.Background()

	t.Run("caller seeds", func(t *testing.T) {
		store := &fakeStore{traverse: func(_ context.Context, seeds []string, hops int) ([]types.TraversalHit, error) {
			assert.Equal(t, 3, hops)
			return []types.TraversalHit{
				{Kind: types.KindNode, Node: node("far", epoch), Hops: 2},
				{Kind: types.KindNode, Node: node("near", epoch), Hops: 1},
				{Kind: types.KindNode, Node: node("seed", epoch), Hops: 1},
				{Kind: types.KindEdge, Edge: edge("e1", "seed", "near"), Hops: 1},
			}, nil
		}}
		s := newTestSearcher(store)
		res, err := s.Search(ctx, &types.SearchRequest{GroupID: testGroup, SeedIDs: []string{"seed"}, MaxHops: 3})
		require.NoError(t, err)
		assert.Equal(t, []string{"e1", "near", "far"}, ids(res.Results))
		for _, r := range res.Results {
			assert.Equal(t, []types.Channel{types.ChannelGraph}, r.Channels)
		}
		assert.Equal(t, [][]string{{"seed"}}, store.seeds)
	})

	t.Run("seeds fan in from the other channels", func(t *testing.T) {
		store := &fakeStore{
			vector: items(nodeItem("n1", 0.9)),
			keyword: items(
				types.ScoredItem{Kind: types.KindEdge, Edge: edge("e1", "n2", "n3"), Score: 4},
				nodeItem("n1", 2),
			),
		}
		s := NewSearcher(store, &fakeEmbedder{}, Options{GraphSeedCount: 2})
		_, err := s.Search(ctx, &types.SearchRequest{Query: "q", GroupID: testGroup})
		require.NoError(t, err)
		require.Len(t, store.seeds, 1)
		assert.Equal(t, []string{"n1", "n2"}, store.seeds[0])
	})

	t.Run("no seeds skips traversal", func(t *testing.T) {
		store := &fakeStore{}
		res, err := newTestSearcher(store).Search(ctx, &types.SearchRequest{Query: "q", GroupID: testGroup})
		require.NoError(t, err)
		assert.Empty(t, res.Results)
		assert.Empty(t, res.Warnings)
		assert.Empty(t, store.seeds)
	})
}

type stubReranker struct {
	fn func(results []types.SearchResult) ([]types.SearchResult, error)
}

func (s stubReranker) Rerank(ctx context.Context, query string, results []types.SearchResult) ([]types.SearchResult, error) {
	return s.fn(results)
}

func TestSearchRerank(t *testing.T) {
	ctx := context.Background()
	store := &fakeStore{keyword: items(nodeItem("a", 3), nodeItem("b", 2), nodeItem("c", 1))}
	s := newTestSearcher(store)

	s.RegisterReranker("reverse", stubReranker{fn: func(in []types.SearchResult) ([]types.SearchResult, error) {
		out := make([]types.SearchResult, len(in))
		for i := range in {
			out[len(in)-1-i] = in[i]
		}
		return out, nil
	}})
	s.RegisterReranker("broken", stubReranker{fn: func([]types.SearchResult) ([]types.SearchResult, error) {
		return nil, errors.New("reranker down")
	}})
	assert.Equal(t, []string{"broken", "reverse"}, s.Rerankers())

	res, err := s.Search(ctx, &types.SearchRequest{Query: "q", GroupID: testGroup, K: 2, Rerank: "reverse"})
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "b"}, ids(res.Results))

	res, err = s.Search(ctx, &types.SearchRequest{Query: "q", GroupID: testGroup, Rerank: "broken"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, ids(res.Results))
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, "rerank", res.Warnings[0].Stage)
}

func TestSpecializedSearches(t *testing.T) {
	ctx := context.Background()
	store := &fakeStore{keyword: items(
		types.ScoredItem{Kind: types.KindEdge, Edge: edge("e1", "a", "b"), Score: 2},
		nodeItem("a", 1),
	)}
	s := newTestSearcher(store)

	facts, warnings, err := s.SearchFacts(ctx, testGroup, "q", 5, nil)
	require.NoError(t, err)
	assert.Empty(t, warnings)
	require.Len(t, facts, 1)
	assert.Equal(t, "e1", facts[0].Uuid)

	entities, _, err := s.SearchEntities(ctx, testGroup, "q", 5)
	require.NoError(t, err)
	require.Len(t, entities, 1)
	assert.Equal(t, "a", entities[0].Uuid)
}
