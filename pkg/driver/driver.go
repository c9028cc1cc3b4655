package driver

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/soundprediction/chronograph/pkg/types"
)

// GraphProvider represents the type of graph database provider
type GraphProvider string

const (
	GraphProviderMemory GraphProvider = "memory"
	GraphProviderSQLite GraphProvider = "sqlite"
	GraphProviderNeo4j  GraphProvider = "neo4j"
)

var (
	// ErrNotFound is returned by single-item lookups that match nothing.
	ErrNotFound = errors.New("not found")
	// ErrEmptyBatch is returned when a batch carries nothing to write.
	ErrEmptyBatch = errors.New("batch is empty")
)

// Batch is the unit of an episode commit.
type Batch struct {
	Nodes   []*types.EntityNode
	Edges   []*types.EntityEdge
	Episode *types.EpisodicNode
}

// Validate checks every item of the batch before anything is written.
func (b *Batch) Validate() error {
	if b == nil || (len(b.Nodes) == 0 && len(b.Edges) == 0 && b.Episode == nil) {
		return ErrEmptyBatch
	}
	for _, n := range b.Nodes {
		if err := n.Validate(); err != nil {
			return fmt.Errorf("node %q: %w", n.Uuid, err)
		}
	}
	for _, e := range b.Edges {
		if err := e.Validate(); err != nil {
			return fmt.Errorf("edge %q: %w", e.Uuid, err)
		}
	}
	if b.Episode != nil {
		if err := b.Episode.Validate(); err != nil {
			return fmt.Errorf("episode %q: %w", b.Episode.Uuid, err)
		}
	}
	return nil
}

// rankScored orders items by score desc, then id asc, and truncates to k.
func rankScored(items []types.ScoredItem, k int) []types.ScoredItem {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Score != items[j].Score {
			return items[i].Score > items[j].Score
		}
		return items[i].ID() < items[j].ID()
	})
	if k > 0 && len(items) > k {
		items = items[:k]
	}
	return items
}

// admitEdge applies every edge filter, loading endpoints only when a label
// filter needs them.
func admitEdge(f *types.SearchFilters, e *types.EntityEdge, node func(id string) *types.EntityNode) bool {
	if !f.AdmitsEdge(e) {
		return false
	}
	if f == nil || len(f.EntityLabels) == 0 {
		return true
	}
	return f.AdmitsEdgeEndpoints(node(e.SourceNodeID), node(e.TargetNodeID))
}

// edgeExpander returns the edges touching any of the frontier nodes.
type edgeExpander func(ctx context.Context, groupID string, frontier []string) ([]*types.EntityEdge, error)

// nodeLoader returns the nodes with the given ids.
type nodeLoader func(ctx context.Context, groupID string, ids []string) ([]*types.EntityNode, error)

// traverse is the breadth-first walk shared by the drivers. A node first
// reached at hop h and an edge first crossed while expanding hop h-1 both
// report Hops == h.
func traverse(ctx context.Context, seedIDs []string, maxHops int, filters *types.SearchFilters, expand edgeExpander, load nodeLoader) ([]types.TraversalHit, error) {
	if len(seedIDs) == 0 || maxHops <= 0 {
		return nil, nil
	}
	groupID := ""
	if filters != nil {
		groupID = filters.GroupID
	}

	visited := make(map[string]bool, len(seedIDs))
	frontier := make([]string, 0, len(seedIDs))
	for _, id := range seedIDs {
		if !visited[id] {
			visited[id] = true
			frontier = append(frontier, id)
		}
	}
	seenEdges := make(map[string]bool)
	nodeCache := make(map[string]*types.EntityNode)

	var hits []types.TraversalHit
	for hop := 1; hop <= maxHops && len(frontier) > 0; hop++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		edges, err := expand(ctx, groupID, frontier)
		if err != nil {
			return nil, err
		}
		sort.Slice(edges, func(i, j int) bool { return edges[i].Uuid < edges[j].Uuid })

		inFrontier := make(map[string]bool, len(frontier))
		for _, id := range frontier {
			inFrontier[id] = true
		}

		var admitted []*types.EntityEdge
		var endpointIDs []string
		for _, e := range edges {
			if seenEdges[e.Uuid] || !filters.AdmitsEdge(e) {
				continue
			}
			if !inFrontier[e.SourceNodeID] && !inFrontier[e.TargetNodeID] {
				continue
			}
			seenEdges[e.Uuid] = true
			admitted = append(admitted, e)
			for _, id := range []string{e.SourceNodeID, e.TargetNodeID} {
				if _, ok := nodeCache[id]; !ok {
					endpointIDs = append(endpointIDs, id)
					nodeCache[id] = nil
				}
			}
		}

		if len(endpointIDs) > 0 {
			nodes, err := load(ctx, groupID, endpointIDs)
			if err != nil {
				return nil, err
			}
			for _, n := range nodes {
				nodeCache[n.Uuid] = n
			}
		}

		var next []string
		for _, e := range admitted {
			if filters.WantsEdges() && filters.AdmitsEdgeEndpoints(nodeCache[e.SourceNodeID], nodeCache[e.TargetNodeID]) {
				hits = append(hits, types.TraversalHit{Kind: types.KindEdge, Edge: e, Hops: hop})
			}
			for _, id := range []string{e.SourceNodeID, e.TargetNodeID} {
				if visited[id] {
					continue
				}
				visited[id] = true
				next = append(next, id)
				n := nodeCache[id]
				if n != nil && filters.WantsNodes() && filters.AdmitsNode(n) {
					hits = append(hits, types.TraversalHit{Kind: types.KindNode, Node: n, Hops: hop})
				}
			}
		}
		frontier = next
	}
	return hits, nil
}
