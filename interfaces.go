package chronograph

import (
	"context"

	"github.com/soundprediction/chronograph/pkg/checkpoint"
	"github.com/soundprediction/chronograph/pkg/community"
	"github.com/soundprediction/chronograph/pkg/export"
	"github.com/soundprediction/chronograph/pkg/types"
	"github.com/soundprediction/chronograph/pkg/utils/maintenance"
)

// Consumers should depend on the smallest interface that meets their needs.
// Chronograph composes all of them.

// EpisodeManager ingests and reads episodes.
type EpisodeManager interface {
	// AddEpisode ingests one episode.
	AddEpisode(ctx context.Context, req *types.AddEpisodeRequest) (*types.AddEpisodeResult, error)

	// AddEpisodes ingests episodes concurrently; outcomes are index aligned
	// with reqs.
	AddEpisodes(ctx context.Context, reqs []*types.AddEpisodeRequest) []EpisodeOutcome

	// GetEpisode returns ErrEpisodeNotFound for an unknown episode.
	GetEpisode(ctx context.Context, groupID, episodeID string) (*types.EpisodicNode, error)

	GetEpisodes(ctx context.Context, groupID string, limit int) ([]*types.EpisodicNode, error)

	GetNodesAndEdgesByEpisode(ctx context.Context, groupID, episodeID string) ([]*types.EntityNode, []*types.EntityEdge, error)
}

// GraphQuerier provides read-only search over the graph.
type GraphQuerier interface {
	Search(ctx context.Context, req *types.SearchRequest) (*types.SearchResults, error)
	SearchFacts(ctx context.Context, groupID, query string, k int, window *types.TimeWindow) ([]*types.EntityEdge, []types.Warning, error)
	SearchEntities(ctx context.Context, groupID, query string, k int, labels ...string) ([]*types.EntityNode, []types.Warning, error)
	Neighborhood(ctx context.Context, groupID string, seedIDs []string, maxHops, k int, window *types.TimeWindow) (*types.SearchResults, error)
}

// CommunityManager runs the community pass.
type CommunityManager interface {
	BuildCommunities(ctx context.Context, groupID string) (*community.BuildCommunitiesResult, error)
	UpdateCommunity(ctx context.Context, groupID, entityID string) (*types.CommunityNode, error)
	GetCommunities(ctx context.Context, groupID string) ([]*types.CommunityNode, error)
}

// GraphAdmin provides maintenance and export operations.
type GraphAdmin interface {
	GetStats(ctx context.Context, groupID string) (*maintenance.GraphStatistics, error)
	ValidateGraph(ctx context.Context, groupID string) ([]string, error)
	ExportPartition(ctx context.Context, baseDir, groupID string, opts export.Options) (*export.Summary, error)
	FailedEpisodes(ctx context.Context) ([]*checkpoint.EpisodeCheckpoint, error)
	Checkpoints() *checkpoint.Manager

	// Close releases the checkpoint store and the driver.
	Close() error
}

// Chronograph is the full client surface.
type Chronograph interface {
	EpisodeManager
	GraphQuerier
	CommunityManager
	GraphAdmin
}

var _ Chronograph = (*Client)(nil)
