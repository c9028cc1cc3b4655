package driver

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/soundprediction/chronograph/pkg/types"
	"github.com/soundprediction/chronograph/pkg/utils"
)

// MemoryDriver keeps the whole graph in process memory. Values are cloned on
// the way in and out, so callers never share state with the store.
type MemoryDriver struct {
	mu          sync.RWMutex
	nodes       map[string]*types.EntityNode
	edges       map[string]*types.EntityEdge
	episodes    map[string]*types.EpisodicNode
	communities map[string][]*types.CommunityNode
}

// NewMemoryDriver creates an empty in-memory store.
func NewMemoryDriver() *MemoryDriver {
	return &MemoryDriver{
		nodes:       make(map[string]*types.EntityNode),
		edges:       make(map[string]*types.EntityEdge),
		episodes:    make(map[string]*types.EpisodicNode),
		communities: make(map[string][]*types.CommunityNode),
	}
}

func (m *MemoryDriver) Provider() GraphProvider { return GraphProviderMemory }

func (m *MemoryDriver) Close() error { return nil }

func (m *MemoryDriver) UpsertNode(ctx context.Context, node *types.EntityNode) error {
	if err := node.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nodes[node.Uuid] = node.Clone()
	return nil
}

func (m *MemoryDriver) GetNodesByIDs(ctx context.Context, groupID string, ids []string) ([]*types.EntityNode, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.nodesByIDs(groupID, ids), nil
}

func (m *MemoryDriver) nodesByIDs(groupID string, ids []string) []*types.EntityNode {
	out := make([]*types.EntityNode, 0, len(ids))
	for _, id := range utils.UniqueStrings(ids) {
		if n, ok := m.nodes[id]; ok && (groupID == "" || n.GroupID == groupID) {
			out = append(out, n.Clone())
		}
	}
	return out
}

func (m *MemoryDriver) FindNodesByName(ctx context.Context, groupID, name string, limit int) ([]*types.EntityNode, error) {
	want := utils.NormalizeStringExact(name)
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*types.EntityNode
	for _, n := range m.nodes {
		if n.GroupID == groupID && utils.NormalizeStringExact(n.Name) == want {
			out = append(out, n.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Uuid < out[j].Uuid })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryDriver) ListNodes(ctx context.Context, groupID string) ([]*types.EntityNode, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*types.EntityNode
	for _, n := range m.nodes {
		if n.GroupID == groupID {
			out = append(out, n.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Uuid < out[j].Uuid })
	return out, nil
}

func (m *MemoryDriver) UpsertEdge(ctx context.Context, edge *types.EntityEdge) error {
	if err := edge.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.edges[edge.Uuid] = edge.Clone()
	return nil
}

func (m *MemoryDriver) GetEdgesByIDs(ctx context.Context, groupID string, ids []string) ([]*types.EntityEdge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*types.EntityEdge, 0, len(ids))
	for _, id := range utils.UniqueStrings(ids) {
		if e, ok := m.edges[id]; ok && e.GroupID == groupID {
			out = append(out, e.Clone())
		}
	}
	return out, nil
}

func (m *MemoryDriver) GetEdgesBetween(ctx context.Context, groupID, a, b string, window *types.TimeWindow) ([]*types.EntityEdge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*types.EntityEdge
	for _, e := range m.edges {
		if e.GroupID == groupID && e.Connects(a, b) && window.Admits(e) {
			out = append(out, e.Clone())
		}
	}
	sortEdges(out)
	return out, nil
}

func (m *MemoryDriver) ListEdges(ctx context.Context, groupID string, window *types.TimeWindow) ([]*types.EntityEdge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*types.EntityEdge
	for _, e := range m.edges {
		if e.GroupID == groupID && window.Admits(e) {
			out = append(out, e.Clone())
		}
	}
	sortEdges(out)
	return out, nil
}

func (m *MemoryDriver) UpsertEpisode(ctx context.Context, episode *types.EpisodicNode) error {
	if err := episode.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.episodes[episode.Uuid] = cloneEpisode(episode)
	return nil
}

func (m *MemoryDriver) GetEpisode(ctx context.Context, groupID, uuid string) (*types.EpisodicNode, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ep, ok := m.episodes[uuid]
	if !ok || ep.GroupID != groupID {
		return nil, ErrNotFound
	}
	return cloneEpisode(ep), nil
}

func (m *MemoryDriver) GetEpisodeByHash(ctx context.Context, groupID, hash string) (*types.EpisodicNode, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, ep := range m.episodes {
		if ep.GroupID == groupID && ep.ContentHash == hash {
			return cloneEpisode(ep), nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryDriver) GetRecentEpisodes(ctx context.Context, groupID string, before time.Time, limit int) ([]*types.EpisodicNode, error) {
	m.mu.RLock()
	var out []*types.EpisodicNode
	for _, ep := range m.episodes {
		if ep.GroupID == groupID && !ep.ReferenceTime.After(before) {
			out = append(out, cloneEpisode(ep))
		}
	}
	m.mu.RUnlock()
	return recentEpisodes(out, limit), nil
}

func (m *MemoryDriver) VectorSearch(ctx context.Context, embedding []float32, k int, filters *types.SearchFilters) ([]types.ScoredItem, error) {
	if len(embedding) == 0 {
		return nil, nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var items []types.ScoredItem
	if filters.WantsNodes() {
		for _, n := range m.nodes {
			if len(n.NameEmbedding) == 0 || !filters.AdmitsNode(n) {
				continue
			}
			items = append(items, types.ScoredItem{
				Kind:  types.KindNode,
				Node:  n.Clone(),
				Score: utils.CosineSimilarity(embedding, n.NameEmbedding),
			})
		}
	}
	if filters.WantsEdges() {
		for _, e := range m.edges {
			if len(e.FactEmbedding) == 0 || !admitEdge(filters, e, m.node) {
				continue
			}
			items = append(items, types.ScoredItem{
				Kind:  types.KindEdge,
				Edge:  e.Clone(),
				Score: utils.CosineSimilarity(embedding, e.FactEmbedding),
			})
		}
	}
	return rankScored(items, k), nil
}

func (m *MemoryDriver) KeywordSearch(ctx context.Context, text string, k int, filters *types.SearchFilters) ([]types.ScoredItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	byID := make(map[string]types.ScoredItem)
	nodeIndex := utils.NewBM25Index()
	if filters.WantsNodes() {
		for _, n := range m.nodes {
			if filters.AdmitsNode(n) {
				nodeIndex.Add(n.Uuid, n.Name+" "+n.Summary)
				byID[n.Uuid] = types.ScoredItem{Kind: types.KindNode, Node: n}
			}
		}
	}
	edgeIndex := utils.NewBM25Index()
	if filters.WantsEdges() {
		for _, e := range m.edges {
			if admitEdge(filters, e, m.node) {
				edgeIndex.Add(e.Uuid, e.Name+" "+e.Fact)
				byID[e.Uuid] = types.ScoredItem{Kind: types.KindEdge, Edge: e}
			}
		}
	}

	var items []types.ScoredItem
	for _, ix := range []*utils.BM25Index{nodeIndex, edgeIndex} {
		for id, score := range ix.Score(text) {
			item := byID[id]
			item.Score = score
			item.Node = item.Node.Clone()
			item.Edge = item.Edge.Clone()
			items = append(items, item)
		}
	}
	return rankScored(items, k), nil
}

func (m *MemoryDriver) Traverse(ctx context.Context, seedIDs []string, maxHops int, filters *types.SearchFilters) ([]types.TraversalHit, error) {
	expand := func(ctx context.Context, groupID string, frontier []string) ([]*types.EntityEdge, error) {
		in := make(map[string]bool, len(frontier))
		for _, id := range frontier {
			in[id] = true
		}
		m.mu.RLock()
		defer m.mu.RUnlock()
		var out []*types.EntityEdge
		for _, e := range m.edges {
			if groupID != "" && e.GroupID != groupID {
				continue
			}
			if in[e.SourceNodeID] || in[e.TargetNodeID] {
				out = append(out, e.Clone())
			}
		}
		return out, nil
	}
	load := func(ctx context.Context, groupID string, ids []string) ([]*types.EntityNode, error) {
		m.mu.RLock()
		defer m.mu.RUnlock()
		return m.nodesByIDs(groupID, ids), nil
	}
	return traverse(ctx, seedIDs, maxHops, filters, expand, load)
}

func (m *MemoryDriver) ReplaceCommunities(ctx context.Context, groupID string, communities []*types.CommunityNode) error {
	cp := make([]*types.CommunityNode, len(communities))
	for i, c := range communities {
		cc := *c
		cc.MemberIDs = append([]string(nil), c.MemberIDs...)
		cp[i] = &cc
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.communities[groupID] = cp
	return nil
}

func (m *MemoryDriver) GetCommunities(ctx context.Context, groupID string) ([]*types.CommunityNode, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*types.CommunityNode, 0, len(m.communities[groupID]))
	for _, c := range m.communities[groupID] {
		cc := *c
		cc.MemberIDs = append([]string(nil), c.MemberIDs...)
		out = append(out, &cc)
	}
	return out, nil
}

func (m *MemoryDriver) WriteBatch(ctx context.Context, batch *Batch) error {
	if err := batch.Validate(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, n := range batch.Nodes {
		m.nodes[n.Uuid] = n.Clone()
	}
	for _, e := range batch.Edges {
		m.edges[e.Uuid] = e.Clone()
	}
	if batch.Episode != nil {
		m.episodes[batch.Episode.Uuid] = cloneEpisode(batch.Episode)
	}
	return nil
}

// node must be called with m.mu held.
func (m *MemoryDriver) node(id string) *types.EntityNode {
	return m.nodes[id]
}

func sortEdges(edges []*types.EntityEdge) {
	sort.Slice(edges, func(i, j int) bool {
		if !edges[i].CreatedAt.Equal(edges[j].CreatedAt) {
			return edges[i].CreatedAt.Before(edges[j].CreatedAt)
		}
		return edges[i].Uuid < edges[j].Uuid
	})
}

// recentEpisodes keeps the limit newest episodes and returns them oldest first.
func recentEpisodes(eps []*types.EpisodicNode, limit int) []*types.EpisodicNode {
	sort.Slice(eps, func(i, j int) bool {
		if !eps[i].ReferenceTime.Equal(eps[j].ReferenceTime) {
			return eps[i].ReferenceTime.After(eps[j].ReferenceTime)
		}
		return eps[i].Uuid > eps[j].Uuid
	})
	if limit > 0 && len(eps) > limit {
		eps = eps[:limit]
	}
	for i, j := 0, len(eps)-1; i < j; i, j = i+1, j-1 {
		eps[i], eps[j] = eps[j], eps[i]
	}
	return eps
}

func cloneEpisode(ep *types.EpisodicNode) *types.EpisodicNode {
	c := *ep
	c.CreatedEntityIDs = append([]string(nil), ep.CreatedEntityIDs...)
	c.MergedEntityIDs = append([]string(nil), ep.MergedEntityIDs...)
	c.CreatedEdgeIDs = append([]string(nil), ep.CreatedEdgeIDs...)
	c.MergedEdgeIDs = append([]string(nil), ep.MergedEdgeIDs...)
	c.InvalidatedEdgeIDs = append([]string(nil), ep.InvalidatedEdgeIDs...)
	c.Warnings = append([]types.Warning(nil), ep.Warnings...)
	return &c
}

var _ GraphDriver = (*MemoryDriver)(nil)
