package maintenance

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/soundprediction/chronograph/pkg/driver"
	"github.com/soundprediction/chronograph/pkg/types"
)

// endOfTime bounds the range window used to read every edge of a partition.
var endOfTime = time.Date(9999, 12, 31, 0, 0, 0, 0, time.UTC)

// AllTime returns a window admitting every edge, invalidated or not.
func AllTime() *types.TimeWindow {
	return types.Between(time.Time{}, endOfTime)
}

// MaintenanceUtils provides read-only diagnostics over a partition.
type MaintenanceUtils struct {
	driver driver.GraphDriver
	logger *slog.Logger
}

// NewMaintenanceUtils creates a new MaintenanceUtils instance
func NewMaintenanceUtils(driver driver.GraphDriver) *MaintenanceUtils {
	return &MaintenanceUtils{
		driver: driver,
		logger: slog.Default(),
	}
}

// SetLogger sets a custom logger for the MaintenanceUtils
func (mu *MaintenanceUtils) SetLogger(logger *slog.Logger) {
	if logger != nil {
		mu.logger = logger
	}
}

// GetEntitiesAndEdges retrieves all entities and every edge, current or not,
// for a given group ID
func (mu *MaintenanceUtils) GetEntitiesAndEdges(ctx context.Context, groupID string) ([]*types.EntityNode, []*types.EntityEdge, error) {
	nodes, err := mu.driver.ListNodes(ctx, groupID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to retrieve entities: %w", err)
	}
	edges, err := mu.driver.ListEdges(ctx, groupID, AllTime())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to retrieve edges: %w", err)
	}
	return nodes, edges, nil
}

// GraphStatistics holds statistics about the graph
type GraphStatistics struct {
	GroupID              string         `json:"group_id"`
	NodeCount            int            `json:"node_count"`
	EdgeCount            int            `json:"edge_count"`
	CurrentEdgeCount     int            `json:"current_edge_count"`
	InvalidatedEdgeCount int            `json:"invalidated_edge_count"`
	EpisodeCount         int            `json:"episode_count"`
	CommunityCount       int            `json:"community_count"`
	NodesByLabel         map[string]int `json:"nodes_by_label"`
	EdgesByRelation      map[string]int `json:"edges_by_relation"`
	LastUpdated          time.Time      `json:"last_updated"`
}

// GetGraphStatistics returns basic statistics about the graph
func (mu *MaintenanceUtils) GetGraphStatistics(ctx context.Context, groupID string) (*GraphStatistics, error) {
	nodes, edges, err := mu.GetEntitiesAndEdges(ctx, groupID)
	if err != nil {
		return nil, err
	}
	episodes, err := mu.driver.GetRecentEpisodes(ctx, groupID, endOfTime, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve episodes: %w", err)
	}
	communities, err := mu.driver.GetCommunities(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve communities: %w", err)
	}

	stats := &GraphStatistics{
		GroupID:         groupID,
		NodeCount:       len(nodes),
		EdgeCount:       len(edges),
		EpisodeCount:    len(episodes),
		CommunityCount:  len(communities),
		NodesByLabel:    make(map[string]int),
		EdgesByRelation: make(map[string]int),
	}
	for _, n := range nodes {
		for _, l := range n.Labels {
			stats.NodesByLabel[l]++
		}
		if n.UpdatedAt.After(stats.LastUpdated) {
			stats.LastUpdated = n.UpdatedAt
		}
	}
	for _, e := range edges {
		stats.EdgesByRelation[e.Name]++
		if e.IsCurrent() {
			stats.CurrentEdgeCount++
		} else {
			stats.InvalidatedEdgeCount++
		}
		last := e.CreatedAt
		if e.ExpiredAt != nil && e.ExpiredAt.After(last) {
			last = *e.ExpiredAt
		}
		if last.After(stats.LastUpdated) {
			stats.LastUpdated = last
		}
	}
	return stats, nil
}

// ValidateGraphIntegrity checks that every edge has both endpoints, a well
// formed validity interval, and that no pair holds two current edges with the
// same relation.
func (mu *MaintenanceUtils) ValidateGraphIntegrity(ctx context.Context, groupID string) ([]string, error) {
	nodes, edges, err := mu.GetEntitiesAndEdges(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to get nodes and edges: %w", err)
	}

	var issues []string
	nodeExists := make(map[string]bool, len(nodes))
	for _, node := range nodes {
		nodeExists[node.Uuid] = true
	}

	currentByKey := make(map[string][]string)
	for _, edge := range edges {
		if !nodeExists[edge.SourceNodeID] {
			issues = append(issues, fmt.Sprintf("Edge %s references non-existent source node %s", edge.Uuid, edge.SourceNodeID))
		}
		if !nodeExists[edge.TargetNodeID] {
			issues = append(issues, fmt.Sprintf("Edge %s references non-existent target node %s", edge.Uuid, edge.TargetNodeID))
		}
		if edge.ValidAt != nil && edge.InvalidAt != nil && edge.ValidAt.After(*edge.InvalidAt) {
			issues = append(issues, fmt.Sprintf("Edge %s has valid_at after invalid_at", edge.Uuid))
		}
		if edge.IsCurrent() {
			key := pairKey(edge.SourceNodeID, edge.TargetNodeID) + ":" + edge.Name
			currentByKey[key] = append(currentByKey[key], edge.Uuid)
		}
	}

	keys := make([]string, 0, len(currentByKey))
	for k := range currentByKey {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if ids := currentByKey[k]; len(ids) > 1 {
			sort.Strings(ids)
			issues = append(issues, fmt.Sprintf("Pair %s has %d current edges: %v", k, len(ids), ids))
		}
	}

	if len(issues) > 0 {
		mu.logger.Warn("graph integrity issues found", "group_id", groupID, "issues", len(issues))
	}
	return issues, nil
}
