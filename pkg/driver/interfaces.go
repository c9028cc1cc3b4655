package driver

import (
	"context"
	"time"

	"github.com/soundprediction/chronograph/pkg/types"
)

// The store contract is split into focused interfaces. GraphDriver composes
// them; consumers should depend on the smallest one they need.

// NodeStore manages entity nodes.
type NodeStore interface {
	// UpsertNode creates or replaces a node.
	UpsertNode(ctx context.Context, node *types.EntityNode) error

	// GetNodesByIDs returns the nodes of the partition with the given ids.
	// Unknown ids are skipped.
	GetNodesByIDs(ctx context.Context, groupID string, ids []string) ([]*types.EntityNode, error)

	// FindNodesByName returns nodes whose normalized name equals the
	// normalized form of name, ordered by uuid.
	FindNodesByName(ctx context.Context, groupID, name string, limit int) ([]*types.EntityNode, error)

	// ListNodes returns every node of the partition.
	ListNodes(ctx context.Context, groupID string) ([]*types.EntityNode, error)
}

// EdgeStore manages entity edges.
type EdgeStore interface {
	// UpsertEdge creates or replaces an edge.
	UpsertEdge(ctx context.Context, edge *types.EntityEdge) error

	// GetEdgesByIDs returns the edges of the partition with the given ids.
	GetEdgesByIDs(ctx context.Context, groupID string, ids []string) ([]*types.EntityEdge, error)

	// GetEdgesBetween returns edges joining a and b in either direction that
	// pass the window. A nil window selects current edges.
	GetEdgesBetween(ctx context.Context, groupID, a, b string, window *types.TimeWindow) ([]*types.EntityEdge, error)

	// ListEdges returns the partition's edges passing the window.
	ListEdges(ctx context.Context, groupID string, window *types.TimeWindow) ([]*types.EntityEdge, error)
}

// EpisodeStore manages episodes.
type EpisodeStore interface {
	UpsertEpisode(ctx context.Context, episode *types.EpisodicNode) error

	// GetEpisode returns ErrNotFound when the episode does not exist.
	GetEpisode(ctx context.Context, groupID, uuid string) (*types.EpisodicNode, error)

	// GetEpisodeByHash returns ErrNotFound when no episode of the partition has
	// the content hash.
	GetEpisodeByHash(ctx context.Context, groupID, hash string) (*types.EpisodicNode, error)

	// GetRecentEpisodes returns up to limit episodes with a reference time at
	// or before the given instant, oldest first. A non-positive limit returns
	// them all.
	GetRecentEpisodes(ctx context.Context, groupID string, before time.Time, limit int) ([]*types.EpisodicNode, error)
}

// GraphSearcher provides the ranked lookups behind the search channels.
type GraphSearcher interface {
	// VectorSearch ranks nodes by name embedding and edges by fact embedding
	// using cosine similarity. Items without an embedding are skipped.
	VectorSearch(ctx context.Context, embedding []float32, k int, filters *types.SearchFilters) ([]types.ScoredItem, error)

	// KeywordSearch ranks nodes by name and summary and edges by relation and
	// fact using BM25. Items matching no query term are skipped.
	KeywordSearch(ctx context.Context, text string, k int, filters *types.SearchFilters) ([]types.ScoredItem, error)
}

// GraphTraversal walks the graph outward from seed nodes.
type GraphTraversal interface {
	// Traverse runs a breadth-first walk of up to maxHops over edges admitted
	// by the filters. Seeds are not returned.
	Traverse(ctx context.Context, seedIDs []string, maxHops int, filters *types.SearchFilters) ([]types.TraversalHit, error)
}

// CommunityStore manages derived communities.
type CommunityStore interface {
	// ReplaceCommunities drops the partition's communities and stores the
	// given ones.
	ReplaceCommunities(ctx context.Context, groupID string, communities []*types.CommunityNode) error

	GetCommunities(ctx context.Context, groupID string) ([]*types.CommunityNode, error)
}

// BatchWriter persists a Batch atomically.
type BatchWriter interface {
	// WriteBatch stores every node, edge and the episode of the batch, or
	// nothing at all.
	WriteBatch(ctx context.Context, batch *Batch) error
}

// GraphDriver is the full store contract.
type GraphDriver interface {
	NodeStore
	EdgeStore
	EpisodeStore
	GraphSearcher
	GraphTraversal
	CommunityStore
	BatchWriter

	// Provider returns the backing database.
	Provider() GraphProvider

	// Close releases all resources held by the driver.
	Close() error
}
