package search

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soundprediction/chronograph/pkg/crossencoder"
	"github.com/soundprediction/chronograph/pkg/types"
)

// lengthEncoder scores longer passages higher and drops the ones listed in skip.
type lengthEncoder struct {
	skip map[string]bool
	err  error
}

func (e lengthEncoder) Rank(ctx context.Context, query string, passages []string) ([]crossencoder.RankedPassage, error) {
	if e.err != nil {
		return nil, e.err
	}
	var out []crossencoder.RankedPassage
	for i, p := range passages {
		if e.skip[p] {
			continue
		}
		out = append(out, crossencoder.RankedPassage{Passage: p, Score: float64(len(p)), Index: i})
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].Score > out[j-1].Score; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out, nil
}

func (lengthEncoder) Close() error { return nil }

func TestCrossEncoderReranker(t *testing.T) {
	ctx := context.Background()
	results := []types.SearchResult{
		{ID: "n1", Kind: types.KindNode, Node: node("ab", epoch)},
		{ID: "e1", Kind: types.KindEdge, Edge: &types.EntityEdge{Uuid: "e1", Fact: "Alice works at Acme"}},
		{ID: "n2", Kind: types.KindNode, Node: node("abcd", epoch)},
	}

	out, err := NewCrossEncoderReranker(lengthEncoder{}).Rerank(ctx, "q", results)
	require.NoError(t, err)
	assert.Equal(t, []string{"e1", "n2", "n1"}, ids(out))
	assert.Equal(t, float64(len("Alice works at Acme")), out[0].Score)

	// unscored results keep their order after the scored ones
	out, err = NewCrossEncoderReranker(lengthEncoder{skip: map[string]bool{"Alice works at Acme": true}}).Rerank(ctx, "q", results)
	require.NoError(t, err)
	assert.Equal(t, []string{"n2", "n1", "e1"}, ids(out))

	_, err = NewCrossEncoderReranker(lengthEncoder{err: errors.New("model down")}).Rerank(ctx, "q", results)
	assert.ErrorIs(t, err, types.ErrTransient)
}

func TestCrossEncoderRerankerThroughSearch(t *testing.T) {
	store := &fakeStore{keyword: items(nodeItem("a", 3), nodeItem("bbb", 2), nodeItem("cc", 1))}
	s := newTestSearcher(store)
	s.RegisterReranker(RerankerCrossEncoder, NewCrossEncoderReranker(lengthEncoder{}))

	res, err := s.Search(context.Background(), &types.SearchRequest{Query: "q", GroupID: testGroup, Rerank: RerankerCrossEncoder})
	require.NoError(t, err)
	assert.Equal(t, []string{"bbb", "cc", "a"}, ids(res.Results))
	assert.Empty(t, res.Warnings)
}
