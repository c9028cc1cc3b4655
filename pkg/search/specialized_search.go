package search

import (
	"context"

	"github.com/soundprediction/chronograph/pkg/types"
)

// SearchFacts returns the edges best matching query within window, most
// relevant first. A nil window searches the current view.
func (s *Searcher) SearchFacts(ctx context.Context, groupID, query string, k int, window *types.TimeWindow) ([]*types.EntityEdge, []types.Warning, error) {
	res, err := s.Search(ctx, &types.SearchRequest{
		Query:   query,
		GroupID: groupID,
		K:       k,
		Window:  window,
		Kinds:   []types.ItemKind{types.KindEdge},
	})
	if err != nil {
		return nil, nil, err
	}
	return res.Edges(), res.Warnings, nil
}

// SearchEntities returns the entities best matching query, restricted to
// labels when any are given.
func (s *Searcher) SearchEntities(ctx context.Context, groupID, query string, k int, labels ...string) ([]*types.EntityNode, []types.Warning, error) {
	res, err := s.Search(ctx, &types.SearchRequest{
		Query:        query,
		GroupID:      groupID,
		K:            k,
		EntityLabels: labels,
		Kinds:        []types.ItemKind{types.KindNode},
	})
	if err != nil {
		return nil, nil, err
	}
	return res.Nodes(), res.Warnings, nil
}

// Neighborhood returns what lies within maxHops of the seeds, nearer first.
// Only the graph channel runs.
func (s *Searcher) Neighborhood(ctx context.Context, groupID string, seedIDs []string, maxHops, k int, window *types.TimeWindow) (*types.SearchResults, error) {
	return s.Search(ctx, &types.SearchRequest{
		GroupID: groupID,
		K:       k,
		SeedIDs: seedIDs,
		MaxHops: maxHops,
		Window:  window,
	})
}
