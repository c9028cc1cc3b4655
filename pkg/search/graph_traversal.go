package search

import (
	"context"
	"sort"

	"github.com/soundprediction/chronograph/pkg/types"
)

// graphChannel walks out from the seeds. A hit first reached at hop h
// scores 1/h.
func (s *Searcher) graphChannel(ctx context.Context, plan *searchPlan, seeds []string) ([]types.ScoredItem, error) {
	hits, err := s.store.Traverse(ctx, seeds, plan.maxHops, plan.filters)
	if err != nil {
		return nil, err
	}

	isSeed := make(map[string]bool, len(seeds))
	for _, id := range seeds {
		isSeed[id] = true
	}

	items := make([]types.ScoredItem, 0, len(hits))
	for _, h := range hits {
		if h.Hops <= 0 {
			continue
		}
		item := types.ScoredItem{Kind: h.Kind, Node: h.Node, Edge: h.Edge, Score: 1 / float64(h.Hops)}
		if item.Kind == types.KindNode && (item.Node == nil || isSeed[item.Node.Uuid]) {
			continue
		}
		if item.Kind == types.KindEdge && item.Edge == nil {
			continue
		}
		items = append(items, item)
	}

	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Score != items[j].Score {
			return items[i].Score > items[j].Score
		}
		return items[i].ID() < items[j].ID()
	})
	if len(items) > plan.channelLimit {
		items = items[:plan.channelLimit]
	}
	return items, nil
}

// fanInSeeds picks graph seeds from the other channels: the fused order of
// their hits, taking node ids directly and both endpoints of edges, up to
// limit distinct ids.
func fanInSeeds(lists map[types.Channel][]types.ScoredItem, rankConstant, limit int) []string {
	others := make(map[types.Channel][]types.ScoredItem, 2)
	for _, ch := range []types.Channel{types.ChannelEmbedding, types.ChannelKeyword} {
		if len(lists[ch]) > 0 {
			others[ch] = lists[ch]
		}
	}
	if len(others) == 0 || limit <= 0 {
		return nil
	}

	seen := make(map[string]bool)
	var seeds []string
	add := func(id string) bool {
		if id == "" || seen[id] {
			return false
		}
		seen[id] = true
		seeds = append(seeds, id)
		return len(seeds) >= limit
	}

	for _, r := range Fuse(others, rankConstant) {
		switch r.Kind {
		case types.KindNode:
			if add(r.ID) {
				return seeds
			}
		case types.KindEdge:
			if r.Edge == nil {
				continue
			}
			if add(r.Edge.SourceNodeID) || add(r.Edge.TargetNodeID) {
				return seeds
			}
		}
	}
	return seeds
}
