package maintenance

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soundprediction/chronograph/pkg/driver"
	"github.com/soundprediction/chronograph/pkg/types"
)

func TestResolveExtractedNodesCreatesAndMerges(t *testing.T) {
	ctx := context.Background()
	d := driver.NewMemoryDriver()
	acme := newNode("node-acme", "Acme Corp", "Organization")
	acme.Summary = "Maker of anvils."
	acme.Attributes = map[string]interface{}{"founded": 1949, "hq": "Phoenix"}
	seedNodes(d, acme)

	ops := NewNodeOperations(d, nil, nil)
	ops.Now = func() time.Time { return date(2024, 6, 10) }
	ep := newEpisode("ep-1", date(2024, 6, 10))

	res, err := ops.ResolveExtractedNodes(ctx, testGroup, ep, []types.CandidateEntity{
		{Name: "Acme Corp", Labels: []string{"Company"}, Context: "Acme hired Alice.", Attributes: map[string]interface{}{"hq": "Tucson"}},
		{Name: "Alice", Labels: []string{"Person"}},
		{Name: "acme   corp", Context: "Maker of anvils."},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"node-acme"}, res.MergedIDs)
	require.Len(t, res.CreatedIDs, 1)
	assert.False(t, res.Partial)
	assert.Empty(t, res.Warnings)

	id, ok := res.NodeID("ACME CORP")
	require.True(t, ok)
	assert.Equal(t, "node-acme", id)
	aliceID, ok := res.NodeID("alice")
	require.True(t, ok)
	assert.Equal(t, res.CreatedIDs[0], aliceID)

	require.Len(t, res.Nodes, 2)
	merged := res.Nodes[0]
	assert.Equal(t, "node-acme", merged.Uuid)
	assert.ElementsMatch(t, []string{"Organization", "Company"}, merged.Labels)
	assert.Equal(t, "Tucson", merged.Attributes["hq"])
	assert.Equal(t, 1949, merged.Attributes["founded"])
	assert.Equal(t, "Maker of anvils.\nAcme hired Alice.", merged.Summary)
	assert.Equal(t, []string{"ep-1"}, merged.EpisodeIDs)
	assert.Equal(t, date(2024, 6, 10), merged.UpdatedAt)

	alice := res.Nodes[1]
	assert.Equal(t, "Alice", alice.Name)
	assert.Equal(t, []string{"Person"}, alice.Labels)
	assert.Equal(t, testGroup, alice.GroupID)
	assert.Equal(t, []string{"ep-1"}, alice.EpisodeIDs)

	// The store copy is untouched until commit.
	stored, err := d.GetNodesByIDs(ctx, testGroup, []string{"node-acme"})
	require.NoError(t, err)
	assert.Equal(t, "Phoenix", stored[0].Attributes["hq"])
}

func TestResolveExtractedNodesDefaultLabel(t *testing.T) {
	ops := NewNodeOperations(driver.NewMemoryDriver(), nil, nil)
	res, err := ops.ResolveExtractedNodes(context.Background(), testGroup, newEpisode("ep", date(2024, 1, 1)),
		[]types.CandidateEntity{{Name: "Widget"}})
	require.NoError(t, err)
	require.Len(t, res.Nodes, 1)
	assert.Equal(t, []string{types.DefaultEntityLabel}, res.Nodes[0].Labels)
}

func TestResolveExtractedNodesEmbeddingMatch(t *testing.T) {
	ctx := context.Background()
	d := driver.NewMemoryDriver()
	acme := newNode("node-acme", "Acme Corp")
	acme.NameEmbedding = []float32{1, 0, 0}
	seedNodes(d, acme)

	t.Run("strong cosine merges", func(t *testing.T) {
		emb := &fakeEmbedder{vectors: map[string][]float32{"ACME Corporation": {0.99, 0.05, 0}}}
		ops := NewNodeOperations(d, &fakeExtractor{}, emb)

		res, err := ops.ResolveExtractedNodes(ctx, testGroup, newEpisode("ep", date(2024, 1, 1)),
			[]types.CandidateEntity{{Name: "ACME Corporation"}})
		require.NoError(t, err)
		assert.Equal(t, []string{"node-acme"}, res.MergedIDs)
		assert.Empty(t, res.CreatedIDs)
	})

	t.Run("plausible cosine asks the collaborator", func(t *testing.T) {
		emb := &fakeEmbedder{vectors: map[string][]float32{"Acme Holdings": {0.85, 0.5, 0.1}}}
		ext := &fakeExtractor{disambiguate: func(req *types.EntityDisambiguation) (*types.EntityDecision, error) {
			return &types.EntityDecision{Verdict: types.VerdictNew}, nil
		}}
		ops := NewNodeOperations(d, ext, emb)

		res, err := ops.ResolveExtractedNodes(ctx, testGroup, newEpisode("ep", date(2024, 1, 1)),
			[]types.CandidateEntity{{Name: "Acme Holdings"}})
		require.NoError(t, err)
		require.Len(t, ext.disambiguateCalls, 1)
		require.Len(t, ext.disambiguateCalls[0].Existing, 1)
		assert.Equal(t, "node-acme", ext.disambiguateCalls[0].Existing[0].Uuid)
		assert.Len(t, res.CreatedIDs, 1)
		assert.Empty(t, res.MergedIDs)
	})

	t.Run("dissimilar vector is no candidate", func(t *testing.T) {
		emb := &fakeEmbedder{vectors: map[string][]float32{"Zeta": {0, 1, 0}}}
		ext := &fakeExtractor{}
		ops := NewNodeOperations(d, ext, emb)

		res, err := ops.ResolveExtractedNodes(ctx, testGroup, newEpisode("ep", date(2024, 1, 1)),
			[]types.CandidateEntity{{Name: "Zeta"}})
		require.NoError(t, err)
		assert.Empty(t, ext.disambiguateCalls)
		assert.Len(t, res.CreatedIDs, 1)
	})

	t.Run("embedder failure falls back to names", func(t *testing.T) {
		emb := &fakeEmbedder{err: errors.New("provider down")}
		ops := NewNodeOperations(d, nil, emb)

		res, err := ops.ResolveExtractedNodes(ctx, testGroup, newEpisode("ep", date(2024, 1, 1)),
			[]types.CandidateEntity{{Name: "Acme Corp"}})
		require.NoError(t, err)
		assert.Equal(t, []string{"node-acme"}, res.MergedIDs)
		require.Len(t, res.Warnings, 1)
		assert.Equal(t, types.KindTransient, res.Warnings[0].Kind)
	})
}

func TestResolveExtractedNodesDisambiguation(t *testing.T) {
	person := newNode("node-b", "Jordan", "Person")
	country := newNode("node-a", "Jordan", "Country")

	tests := []struct {
		name        string
		extractor   *fakeExtractor
		wantMerged  []string
		wantCreated int
		wantKind    types.ErrorKind
		wantPartial bool
		wantDupOf   []string
	}{
		{
			name: "match merges into the chosen node",
			extractor: &fakeExtractor{disambiguate: func(*types.EntityDisambiguation) (*types.EntityDecision, error) {
				return &types.EntityDecision{Verdict: types.VerdictMatch, MatchID: "node-b"}, nil
			}},
			wantMerged: []string{"node-b"},
		},
		{
			name: "new creates a node",
			extractor: &fakeExtractor{disambiguate: func(*types.EntityDisambiguation) (*types.EntityDecision, error) {
				return &types.EntityDecision{Verdict: types.VerdictNew}, nil
			}},
			wantCreated: 1,
		},
		{
			name: "ambiguous creates a flagged node",
			extractor: &fakeExtractor{disambiguate: func(*types.EntityDisambiguation) (*types.EntityDecision, error) {
				return &types.EntityDecision{Verdict: types.VerdictAmbiguous}, nil
			}},
			wantCreated: 1,
			wantKind:    types.KindConflict,
			wantDupOf:   []string{"node-a", "node-b"},
		},
		{
			name: "unknown match id is treated as ambiguous",
			extractor: &fakeExtractor{disambiguate: func(*types.EntityDisambiguation) (*types.EntityDecision, error) {
				return &types.EntityDecision{Verdict: types.VerdictMatch, MatchID: "node-zzz"}, nil
			}},
			wantCreated: 1,
			wantKind:    types.KindConflict,
			wantDupOf:   []string{"node-a", "node-b"},
		},
		{
			name: "collaborator error skips the candidate",
			extractor: &fakeExtractor{disambiguate: func(*types.EntityDisambiguation) (*types.EntityDecision, error) {
				return nil, errors.New("timeout")
			}},
			wantKind:    types.KindTransient,
			wantPartial: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := driver.NewMemoryDriver()
			seedNodes(d, person, country)
			ops := NewNodeOperations(d, tt.extractor, nil)

			res, err := ops.ResolveExtractedNodes(context.Background(), testGroup, newEpisode("ep", date(2024, 1, 1)),
				[]types.CandidateEntity{{Name: "Jordan", Context: "Jordan scored twice."}})
			require.NoError(t, err)

			require.Len(t, tt.extractor.disambiguateCalls, 1)
			existing := tt.extractor.disambiguateCalls[0].Existing
			require.Len(t, existing, 2)
			// Equal scores order by id.
			assert.Equal(t, "node-a", existing[0].Uuid)
			assert.Equal(t, "node-b", existing[1].Uuid)

			assert.Equal(t, tt.wantMerged, nilIfEmpty(res.MergedIDs))
			assert.Len(t, res.CreatedIDs, tt.wantCreated)
			assert.Equal(t, tt.wantPartial, res.Partial)
			if tt.wantKind != "" {
				require.Len(t, res.Warnings, 1)
				assert.Equal(t, tt.wantKind, res.Warnings[0].Kind)
				assert.Equal(t, "Jordan", res.Warnings[0].Candidate)
			} else {
				assert.Empty(t, res.Warnings)
			}
			if tt.wantDupOf != nil {
				assert.Equal(t, tt.wantDupOf, res.Nodes[0].PotentialDuplicateOf)
			}
			_, resolved := res.NodeID("Jordan")
			assert.Equal(t, !tt.wantPartial, resolved)
		})
	}
}

func TestResolveExtractedNodesWithoutExtractorSkipsAmbiguous(t *testing.T) {
	d := driver.NewMemoryDriver()
	seedNodes(d, newNode("node-a", "Jordan", "Country"), newNode("node-b", "Jordan", "Person"))
	ops := NewNodeOperations(d, nil, nil)

	res, err := ops.ResolveExtractedNodes(context.Background(), testGroup, newEpisode("ep", date(2024, 1, 1)),
		[]types.CandidateEntity{{Name: "Jordan"}, {Name: "Amman"}})
	require.NoError(t, err)
	assert.True(t, res.Partial)
	assert.Len(t, res.CreatedIDs, 1)
	_, ok := res.NodeID("Amman")
	assert.True(t, ok)
}

func TestResolveExtractedNodesIsDeterministic(t *testing.T) {
	d := driver.NewMemoryDriver()
	seedNodes(d, newNode("node-a", "Jordan", "Country"), newNode("node-b", "Jordan", "Person"))
	ext := &fakeExtractor{disambiguate: func(req *types.EntityDisambiguation) (*types.EntityDecision, error) {
		// Always pick the first offered candidate.
		return &types.EntityDecision{Verdict: types.VerdictMatch, MatchID: req.Existing[0].Uuid}, nil
	}}
	ops := NewNodeOperations(d, ext, nil)

	var ids []string
	for i := 0; i < 3; i++ {
		res, err := ops.ResolveExtractedNodes(context.Background(), testGroup, newEpisode("ep", date(2024, 1, 1)),
			[]types.CandidateEntity{{Name: "Jordan"}})
		require.NoError(t, err)
		id, _ := res.NodeID("Jordan")
		ids = append(ids, id)
	}
	assert.Equal(t, []string{"node-a", "node-a", "node-a"}, ids)
}

func TestResolveExtractedNodesCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ops := NewNodeOperations(driver.NewMemoryDriver(), nil, nil)
	_, err := ops.ResolveExtractedNodes(ctx, testGroup, newEpisode("ep", date(2024, 1, 1)),
		[]types.CandidateEntity{{Name: "Alice"}})
	assert.ErrorIs(t, err, context.Canceled)
}

func nilIfEmpty(s []string) []string {
	if len(s) == 0 {
		return nil
	}
	return s
}
