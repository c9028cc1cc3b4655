package community

import (
	"context"
	"fmt"
	"sort"

	"github.com/soundprediction/chronograph/pkg/types"
)

// DetermineEntityCommunityResult represents the community an entity belongs to.
type DetermineEntityCommunityResult struct {
	Community *types.CommunityNode
	IsNew     bool
}

// DetermineEntityCommunity returns the stored community containing the
// entity or, failing that, the community most of its current neighbors
// belong to, weighted by edge count. Community is nil when neither exists.
func (b *Builder) DetermineEntityCommunity(ctx context.Context, groupID, entityID string) (*DetermineEntityCommunityResult, error) {
	communities, err := b.store.GetCommunities(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to load communities: %w", err)
	}

	memberOf := make(map[string]*types.CommunityNode)
	for _, c := range communities {
		for _, id := range c.MemberIDs {
			memberOf[id] = c
		}
	}
	if c, ok := memberOf[entityID]; ok {
		return &DetermineEntityCommunityResult{Community: c}, nil
	}

	edges, err := b.store.ListEdges(ctx, groupID, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to list edges: %w", err)
	}
	weight := make(map[string]int)
	for _, e := range edges {
		var other string
		switch entityID {
		case e.SourceNodeID:
			other = e.TargetNodeID
		case e.TargetNodeID:
			other = e.SourceNodeID
		default:
			continue
		}
		if c, ok := memberOf[other]; ok {
			weight[c.Uuid]++
		}
	}
	if len(weight) == 0 {
		return &DetermineEntityCommunityResult{}, nil
	}

	ids := make([]string, 0, len(weight))
	for id := range weight {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		if weight[ids[i]] != weight[ids[j]] {
			return weight[ids[i]] > weight[ids[j]]
		}
		return ids[i] < ids[j]
	})
	for _, c := range communities {
		if c.Uuid == ids[0] {
			return &DetermineEntityCommunityResult{Community: c, IsNew: true}, nil
		}
	}
	return &DetermineEntityCommunityResult{}, nil
}

// UpdateCommunity adds the entity to the community of its neighbors without
// rerunning the full pass. It returns the community the entity belongs to,
// or nil when it has none.
func (b *Builder) UpdateCommunity(ctx context.Context, groupID, entityID string) (*types.CommunityNode, error) {
	result, err := b.DetermineEntityCommunity(ctx, groupID, entityID)
	if err != nil {
		return nil, fmt.Errorf("failed to determine entity community: %w", err)
	}
	if result.Community == nil || !result.IsNew {
		return result.Community, nil
	}

	communities, err := b.store.GetCommunities(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to load communities: %w", err)
	}
	var updated *types.CommunityNode
	for _, c := range communities {
		if c.Uuid != result.Community.Uuid {
			continue
		}
		c.MemberIDs = append(c.MemberIDs, entityID)
		sort.Strings(c.MemberIDs)
		updated = c
	}
	if updated == nil {
		return nil, fmt.Errorf("community %s disappeared during update", result.Community.Uuid)
	}

	if err := b.store.ReplaceCommunities(ctx, groupID, communities); err != nil {
		return nil, fmt.Errorf("failed to save updated community: %w", err)
	}
	b.logger.Debug("entity joined community", "group_id", groupID, "candidate", entityID, "community", updated.Name)
	return updated, nil
}
