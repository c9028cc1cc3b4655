package community

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

const group = "g1"

type fakeSummarizer struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeSummarizer) Chat(ctx context.Context, messages []types.Message) (*types.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &types.Response{Content: "  combined summary  "}, nil
}

func (f *fakeSummarizer) ChatWithStructuredOutput(ctx context.Context, messages []types.Message, schema any) (*types.Response, error) {
	return f.Chat(ctx, messages)
}

func (f *fakeSummarizer) Close() error { return nil }

func node(id, name string) *types.EntityNode {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return &types.EntityNode{Uuid: id, Name: name, GroupID: group, Labels: []string{types.DefaultEntityLabel}, CreatedAt: now, UpdatedAt: now}
}

func edge(id, src, dst string) *types.EntityEdge {
	return &types.EntityEdge{
		Uuid:         id,
		GroupID:      group,
		SourceNodeID: src,
		TargetNodeID: dst,
		Name:         "RELATES_TO",
		Fact:         src + " relates to " + dst,
		CreatedAt:    time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

// seedGraph stores two triangles, an isolated node and an expired bridge.
func seedGraph(t *testing.T) *driver.MemoryDriver {
	t.Helper()
	ctx := context.Background()
	d := driver.NewMemoryDriver()
	for _, n := range []*types.EntityNode{
		node("n-alice", "Alice"), node("n-bob", "Bob"), node("n-carol", "Carol"),
		node("n-dave", "Dave"), node("n-erin", "Erin"), node("n-frank", "Frank"),
		node("n-zed", "Zed"),
	} {
		require.NoError(t, d.UpsertNode(ctx, n))
	}

	expired := edge("e-bridge", "n-carol", "n-dave")
	expired.ExpiredAt = types.TimePtr(time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC))

	for _, e := range []*types.EntityEdge{
		edge("e1", "n-alice", "n-bob"),
		edge("e2", "n-bob", "n-alice"),
		edge("e3", "n-bob", "n-carol"),
		edge("e4", "n-alice", "n-carol"),
		edge("e5", "n-dave", "n-erin"),
		edge("e6", "n-erin", "n-frank"),
		edge("e7", "n-frank", "n-dave"),
		edge("e8", "n-zed", "n-zed"),
		expired,
	} {
		require.NoError(t, d.UpsertEdge(ctx, e))
	}
	return d
}

func TestLabelPropagation(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		assert.Nil(t, labelPropagation(nil))
	})

	t.Run("weighted pair converges", func(t *testing.T) {
		proj := buildProjection(
			[]*types.EntityNode{node("a", "A"), node("b", "B")},
			[]*types.EntityEdge{edge("1", "a", "b"), edge("2", "b", "a")},
		)
		assert.Equal(t, [][]string{{"a", "b"}}, labelPropagation(proj))
	})

	t.Run("singletons dropped", func(t *testing.T) {
		proj := buildProjection([]*types.EntityNode{node("a", "A"), node("b", "B")}, nil)
		assert.Empty(t, labelPropagation(proj))
	})
}

func TestBuildProjection(t *testing.T) {
	proj := buildProjection(
		[]*types.EntityNode{node("a", "A"), node("b", "B")},
		[]*types.EntityEdge{edge("1", "a", "b"), edge("2", "b", "a"), edge("3", "a", "a"), edge("4", "a", "ghost")},
	)
	assert.Equal(t, []types.Neighbor{{NodeUUID: "b", EdgeCount: 2}}, proj["a"])
	assert.Equal(t, 2, proj.degree("b"))
}

func TestGetCommunityClusters(t *testing.T) {
	b := NewBuilder(seedGraph(t), nil)

	clusters, err := b.GetCommunityClusters(context.Background(), group)
	require.NoError(t, err)
	require.Len(t, clusters, 2)

	var names [][]string
	for _, c := range clusters {
		var n []string
		for _, m := range c {
			n = append(n, m.Name)
		}
		names = append(names, n)
	}
	assert.Equal(t, [][]string{{"Alice", "Bob", "Carol"}, {"Dave", "Erin", "Frank"}}, names)
}

func TestBuildCommunities(t *testing.T) {
	ctx := context.Background()

	t.Run("without summarizer", func(t *testing.T) {
		d := seedGraph(t)
		res, err := NewBuilder(d, nil).BuildCommunities(ctx, group)
		require.NoError(t, err)
		require.Len(t, res.Communities, 2)
		assert.Empty(t, res.Warnings)

		first := res.Communities[0]
		assert.Equal(t, "Alice, Bob, Carol", first.Name)
		assert.Equal(t, "Members: Alice, Bob, Carol", first.Summary)
		assert.Equal(t, []string{"n-alice", "n-bob", "n-carol"}, first.MemberIDs)
		assert.NotEmpty(t, first.Uuid)

		stored, err := d.GetCommunities(ctx, group)
		require.NoError(t, err)
		assert.Len(t, stored, 2)

		edges, err := d.ListEdges(ctx, group, nil)
		require.NoError(t, err)
		assert.Len(t, edges, 8, "the pass must not write edges")
	})

	t.Run("with summarizer", func(t *testing.T) {
		s := &fakeSummarizer{}
		res, err := NewBuilder(seedGraph(t), s).BuildCommunities(ctx, group)
		require.NoError(t, err)
		for _, c := range res.Communities {
			assert.Equal(t, "combined summary", c.Summary)
		}
		// three members fold in two calls per community
		assert.Equal(t, 4, s.calls)
	})

	t.Run("summarizer failure falls back", func(t *testing.T) {
		s := &fakeSummarizer{err: errors.New("boom")}
		res, err := NewBuilder(seedGraph(t), s).BuildCommunities(ctx, group)
		require.NoError(t, err)
		require.Len(t, res.Warnings, 2)
		assert.Equal(t, "community_summary", res.Warnings[0].Stage)
		assert.Equal(t, types.KindTransient, res.Warnings[0].Kind)
		assert.Equal(t, "Members: Dave, Erin, Frank", res.Communities[1].Summary)
	})

	t.Run("replaces previous communities", func(t *testing.T) {
		d := seedGraph(t)
		require.NoError(t, d.ReplaceCommunities(ctx, group, []*types.CommunityNode{{Uuid: "old", GroupID: group, Name: "old", MemberIDs: []string{"n-zed"}}}))
		_, err := NewBuilder(d, nil).BuildCommunities(ctx, group)
		require.NoError(t, err)

		stored, err := d.GetCommunities(ctx, group)
		require.NoError(t, err)
		for _, c := range stored {
			assert.NotEqual(t, "old", c.Uuid)
		}
	})

	t.Run("empty partition", func(t *testing.T) {
		res, err := NewBuilder(driver.NewMemoryDriver(), nil).BuildCommunities(ctx, group)
		require.NoError(t, err)
		assert.Empty(t, res.Communities)
	})

	t.Run("invalid group", func(t *testing.T) {
		_, err := NewBuilder(driver.NewMemoryDriver(), nil).BuildCommunities(ctx, "")
		assert.ErrorIs(t, err, types.ErrValidation)

		_, err = NewBuilder(driver.NewMemoryDriver(), nil).BuildCommunities(ctx, "bad group!")
		assert.ErrorIs(t, err, types.ErrValidation)
	})
}

func TestUpdateCommunity(t *testing.T) {
	ctx := context.Background()
	d := seedGraph(t)
	b := NewBuilder(d, nil)
	res, err := b.BuildCommunities(ctx, group)
	require.NoError(t, err)

	require.NoError(t, d.UpsertNode(ctx, node("n-gina", "Gina")))
	require.NoError(t, d.UpsertEdge(ctx, edge("e9", "n-gina", "n-dave")))

	det, err := b.DetermineEntityCommunity(ctx, group, "n-gina")
	require.NoError(t, err)
	require.NotNil(t, det.Community)
	assert.True(t, det.IsNew)
	assert.Equal(t, res.Communities[1].Uuid, det.Community.Uuid)

	updated, err := b.UpdateCommunity(ctx, group, "n-gina")
	require.NoError(t, err)
	assert.Contains(t, updated.MemberIDs, "n-gina")

	det, err = b.DetermineEntityCommunity(ctx, group, "n-gina")
	require.NoError(t, err)
	assert.False(t, det.IsNew)

	lonely, err := b.UpdateCommunity(ctx, group, "n-zed")
	require.NoError(t, err)
	assert.Nil(t, lonely)
}
