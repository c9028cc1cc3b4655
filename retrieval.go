package chronograph

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/soundprediction/chronograph/pkg/community"
	"github.com/soundprediction/chronograph/pkg/driver"
	"github.com/soundprediction/chronograph/pkg/export"
	"github.com/soundprediction/chronograph/pkg/metrics"
	"github.com/soundprediction/chronograph/pkg/types"
	"github.com/soundprediction/chronograph/pkg/utils/maintenance"
)

// Search runs the hybrid search engine. A nil window in the request searches
// the current view of the graph.
func (c *Client) Search(ctx context.Context, req *types.SearchRequest) (*types.SearchResults, error) {
	return c.searcher.Search(ctx, req)
}

// SearchFacts returns the edges best matching query within window.
func (c *Client) SearchFacts(ctx context.Context, groupID, query string, k int, window *types.TimeWindow) ([]*types.EntityEdge, []types.Warning, error) {
	return c.searcher.SearchFacts(ctx, groupID, query, k, window)
}

// SearchEntities returns the entities best matching query.
func (c *Client) SearchEntities(ctx context.Context, groupID, query string, k int, labels ...string) ([]*types.EntityNode, []types.Warning, error) {
	return c.searcher.SearchEntities(ctx, groupID, query, k, labels...)
}

// Neighborhood returns the nodes and edges within maxHops of the seeds.
func (c *Client) Neighborhood(ctx context.Context, groupID string, seedIDs []string, maxHops, k int, window *types.TimeWindow) (*types.SearchResults, error) {
	return c.searcher.Neighborhood(ctx, groupID, seedIDs, maxHops, k, window)
}

// GetEpisode retrieves a stored episode.
func (c *Client) GetEpisode(ctx context.Context, groupID, episodeID string) (*types.EpisodicNode, error) {
	ep, err := c.driver.GetEpisode(ctx, groupID, episodeID)
	if err != nil {
		if errors.Is(err, driver.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrEpisodeNotFound, episodeID)
		}
		return nil, fmt.Errorf("failed to get episode: %w", err)
	}
	return ep, nil
}

// GetEpisodes returns up to limit of the most recent episodes of a group,
// oldest first.
func (c *Client) GetEpisodes(ctx context.Context, groupID string, limit int) ([]*types.EpisodicNode, error) {
	if groupID == "" {
		return nil, types.NewValidationError("get_episodes", types.ErrEmptyGroupID)
	}
	episodes, err := c.driver.GetRecentEpisodes(ctx, groupID, c.now(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get episodes: %w", err)
	}
	return episodes, nil
}

// GetNodesAndEdgesByEpisode returns the entities and edges an episode created
// or touched, as currently stored.
func (c *Client) GetNodesAndEdgesByEpisode(ctx context.Context, groupID, episodeID string) ([]*types.EntityNode, []*types.EntityEdge, error) {
	ep, err := c.GetEpisode(ctx, groupID, episodeID)
	if err != nil {
		return nil, nil, err
	}

	nodes, err := c.driver.GetNodesByIDs(ctx, groupID, ep.EntityIDs())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get episode nodes: %w", err)
	}

	edgeIDs := make([]string, 0, len(ep.CreatedEdgeIDs)+len(ep.MergedEdgeIDs)+len(ep.InvalidatedEdgeIDs))
	edgeIDs = append(edgeIDs, ep.CreatedEdgeIDs...)
	edgeIDs = append(edgeIDs, ep.MergedEdgeIDs...)
	edgeIDs = append(edgeIDs, ep.InvalidatedEdgeIDs...)
	edges, err := c.driver.GetEdgesByIDs(ctx, groupID, edgeIDs)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get episode edges: %w", err)
	}
	return nodes, edges, nil
}

// BuildCommunities recomputes the communities of a group.
func (c *Client) BuildCommunities(ctx context.Context, groupID string) (*community.BuildCommunitiesResult, error) {
	start := time.Now()
	res, err := c.community.BuildCommunities(ctx, groupID)
	if err != nil {
		c.metrics.RecordOperation(ctx, metrics.OpCommunities, metrics.StatusError, time.Since(start))
		c.metrics.RecordError(ctx, metrics.OpCommunities, types.KindOf(err))
		return nil, err
	}
	status := metrics.StatusSuccess
	if len(res.Warnings) > 0 {
		status = metrics.StatusPartial
	}
	c.metrics.RecordOperation(ctx, metrics.OpCommunities, status, time.Since(start))
	return res, nil
}

// UpdateCommunity adds an entity to the community most of its neighbors
// belong to, without recomputing the partition.
func (c *Client) UpdateCommunity(ctx context.Context, groupID, entityID string) (*types.CommunityNode, error) {
	return c.community.UpdateCommunity(ctx, groupID, entityID)
}

// GetCommunities returns the stored communities of a group.
func (c *Client) GetCommunities(ctx context.Context, groupID string) ([]*types.CommunityNode, error) {
	return c.driver.GetCommunities(ctx, groupID)
}

// ExportPartition writes a group's graph to parquet files under baseDir.
func (c *Client) ExportPartition(ctx context.Context, baseDir, groupID string, opts export.Options) (*export.Summary, error) {
	w, err := export.NewParquetWriter(c.driver, baseDir, c.logger)
	if err != nil {
		return nil, err
	}
	return w.WritePartition(ctx, groupID, opts)
}

// GetStats returns counts over a group's graph.
func (c *Client) GetStats(ctx context.Context, groupID string) (*maintenance.GraphStatistics, error) {
	return c.maintenance.GetGraphStatistics(ctx, groupID)
}

// ValidateGraph reports dangling references and broken intervals in a group.
func (c *Client) ValidateGraph(ctx context.Context, groupID string) ([]string, error) {
	return c.maintenance.ValidateGraphIntegrity(ctx, groupID)
}
