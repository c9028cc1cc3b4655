package export

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/soundprediction/chronograph/pkg/types"
	"github.com/soundprediction/chronograph/pkg/utils"
)

// File names written under each partition directory.
const (
	EpisodesFile    = "episodes.parquet"
	EntitiesFile    = "entity_nodes.parquet"
	EdgesFile       = "entity_edges.parquet"
	CommunitiesFile = "communities.parquet"
)

var endOfTime = time.Date(9999, 12, 31, 0, 0, 0, 0, time.UTC)

// Store is the part of the graph store an export reads.
type Store interface {
	ListNodes(ctx context.Context, groupID string) ([]*types.EntityNode, error)
	ListEdges(ctx context.Context, groupID string, window *types.TimeWindow) ([]*types.EntityEdge, error)
	GetRecentEpisodes(ctx context.Context, groupID string, before time.Time, limit int) ([]*types.EpisodicNode, error)
	GetCommunities(ctx context.Context, groupID string) ([]*types.CommunityNode, error)
}

// Options control what an export contains.
type Options struct {
	// History includes invalidated and expired edges. Without it only the
	// current view is written.
	History bool
}

// Summary counts the rows written by an export.
type Summary struct {
	GroupID     string `json:"group_id"`
	Dir         string `json:"dir"`
	Episodes    int    `json:"episodes"`
	Entities    int    `json:"entities"`
	Edges       int    `json:"edges"`
	Communities int    `json:"communities"`
}

// ParquetEpisode represents the schema for an episode in Parquet
type ParquetEpisode struct {
	ID                 string     `parquet:"id"`
	Name               string     `parquet:"name"`
	Content            string     `parquet:"content"`
	ContentHash        string     `parquet:"content_hash"`
	Source             string     `parquet:"source"`
	SourceDescription  string     `parquet:"source_description"`
	ReferenceTime      *time.Time `parquet:"reference_time"`
	GroupID            string     `parquet:"group_id"`
	CreatedAt          *time.Time `parquet:"created_at"`
	EntityIDs          []string   `parquet:"entity_ids,list"`
	CreatedEdgeIDs     []string   `parquet:"created_edge_ids,list"`
	InvalidatedEdgeIDs []string   `parquet:"invalidated_edge_ids,list"`
	Partial            bool       `parquet:"partial"`
	Warnings           string     `parquet:"warnings"` // JSON string
}

// ParquetEntityNode represents the schema for an entity node in Parquet
type ParquetEntityNode struct {
	ID            string     `parquet:"id"`
	Name          string     `parquet:"name"`
	Labels        []string   `parquet:"labels,list"`
	GroupID       string     `parquet:"group_id"`
	Summary       string     `parquet:"summary"`
	CreatedAt     *time.Time `parquet:"created_at"`
	UpdatedAt     *time.Time `parquet:"updated_at"`
	NameEmbedding []float32  `parquet:"name_embedding,list"`
	EpisodeIDs    []string   `parquet:"episode_ids,list"`
	Attributes    string     `parquet:"attributes"` // JSON string
}

// ParquetEntityEdge represents the schema for an entity edge in Parquet
type ParquetEntityEdge struct {
	ID            string     `parquet:"id"`
	SourceID      string     `parquet:"source_id"`
	TargetID      string     `parquet:"target_id"`
	Name          string     `parquet:"name"`
	Fact          string     `parquet:"fact"`
	GroupID       string     `parquet:"group_id"`
	ValidAt       *time.Time `parquet:"valid_at"`
	InvalidAt     *time.Time `parquet:"invalid_at"`
	CreatedAt     *time.Time `parquet:"created_at"`
	ExpiredAt     *time.Time `parquet:"expired_at"`
	FactEmbedding []float32  `parquet:"fact_embedding,list"`
	Episodes      []string   `parquet:"episodes,list"`
	Attributes    string     `parquet:"attributes"` // JSON string
}

// ParquetCommunity represents the schema for a community in Parquet
type ParquetCommunity struct {
	ID        string     `parquet:"id"`
	Name      string     `parquet:"name"`
	Summary   string     `parquet:"summary"`
	GroupID   string     `parquet:"group_id"`
	MemberIDs []string   `parquet:"member_ids,list"`
	CreatedAt *time.Time `parquet:"created_at"`
}

// ParquetWriter writes partitions of the graph to Parquet files, one
// directory per partition.
type ParquetWriter struct {
	store   Store
	baseDir string
	logger  *slog.Logger
}

// NewParquetWriter creates a writer rooted at baseDir.
func NewParquetWriter(store Store, baseDir string, logger *slog.Logger) (*ParquetWriter, error) {
	if baseDir == "" {
		return nil, fmt.Errorf("export directory is required")
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directory %s: %w", baseDir, err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ParquetWriter{store: store, baseDir: baseDir, logger: logger}, nil
}

// Dir returns the directory a partition is written to.
func (w *ParquetWriter) Dir(groupID string) string {
	return filepath.Join(w.baseDir, groupID)
}

// WritePartition snapshots a partition into its directory, replacing any
// earlier export of it. Empty tables still produce a file.
func (w *ParquetWriter) WritePartition(ctx context.Context, groupID string, opts Options) (*Summary, error) {
	if groupID == "" {
		return nil, types.NewValidationError("export", types.ErrEmptyGroupID)
	}
	if err := utils.ValidateGroupID(groupID); err != nil {
		return nil, types.NewValidationError("export", err)
	}
	if groupID == "." || groupID == ".." {
		return nil, types.NewValidationError("export", fmt.Errorf("group id %q cannot name a directory", groupID))
	}

	dir := w.Dir(groupID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	summary := &Summary{GroupID: groupID, Dir: dir}

	episodes, err := w.store.GetRecentEpisodes(ctx, groupID, endOfTime, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to list episodes: %w", err)
	}
	if summary.Episodes, err = w.writeEpisodes(dir, episodes); err != nil {
		return nil, err
	}

	nodes, err := w.store.ListNodes(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to list nodes: %w", err)
	}
	if summary.Entities, err = w.writeEntityNodes(dir, nodes); err != nil {
		return nil, err
	}

	var window *types.TimeWindow
	if opts.History {
		window = types.Between(time.Time{}, endOfTime)
	}
	edges, err := w.store.ListEdges(ctx, groupID, window)
	if err != nil {
		return nil, fmt.Errorf("failed to list edges: %w", err)
	}
	if summary.Edges, err = w.writeEntityEdges(dir, edges); err != nil {
		return nil, err
	}

	communities, err := w.store.GetCommunities(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to list communities: %w", err)
	}
	if summary.Communities, err = w.writeCommunities(dir, communities); err != nil {
		return nil, err
	}

	w.logger.Info("exported partition",
		"group_id", groupID,
		"dir", dir,
		"episodes", summary.Episodes,
		"entities", summary.Entities,
		"edges", summary.Edges,
		"communities", summary.Communities)
	return summary, nil
}

func (w *ParquetWriter) writeEpisodes(dir string, episodes []*types.EpisodicNode) (int, error) {
	rows := make([]ParquetEpisode, 0, len(episodes))
	for _, ep := range episodes {
		warnings, err := json.Marshal(ep.Warnings)
		if err != nil {
			return 0, fmt.Errorf("failed to marshal warnings: %w", err)
		}
		rows = append(rows, ParquetEpisode{
			ID:                 ep.Uuid,
			Name:               ep.Name,
			Content:            ep.Content,
			ContentHash:        ep.ContentHash,
			Source:             ep.Source,
			SourceDescription:  ep.SourceDescription,
			ReferenceTime:      timePtr(ep.ReferenceTime),
			GroupID:            ep.GroupID,
			CreatedAt:          timePtr(ep.CreatedAt),
			EntityIDs:          ep.EntityIDs(),
			CreatedEdgeIDs:     ep.CreatedEdgeIDs,
			InvalidatedEdgeIDs: ep.InvalidatedEdgeIDs,
			Partial:            ep.Partial,
			Warnings:           string(warnings),
		})
	}
	return len(rows), writeFile(filepath.Join(dir, EpisodesFile), rows)
}

func (w *ParquetWriter) writeEntityNodes(dir string, nodes []*types.EntityNode) (int, error) {
	rows := make([]ParquetEntityNode, 0, len(nodes))
	for _, node := range nodes {
		attrs, err := json.Marshal(node.Attributes)
		if err != nil {
			return 0, fmt.Errorf("failed to marshal attributes: %w", err)
		}
		rows = append(rows, ParquetEntityNode{
			ID:            node.Uuid,
			Name:          node.Name,
			Labels:        node.Labels,
			GroupID:       node.GroupID,
			Summary:       node.Summary,
			CreatedAt:     timePtr(node.CreatedAt),
			UpdatedAt:     timePtr(node.UpdatedAt),
			NameEmbedding: node.NameEmbedding,
			EpisodeIDs:    node.EpisodeIDs,
			Attributes:    string(attrs),
		})
	}
	return len(rows), writeFile(filepath.Join(dir, EntitiesFile), rows)
}

func (w *ParquetWriter) writeEntityEdges(dir string, edges []*types.EntityEdge) (int, error) {
	rows := make([]ParquetEntityEdge, 0, len(edges))
	for _, edge := range edges {
		attrs, err := json.Marshal(edge.Attributes)
		if err != nil {
			return 0, fmt.Errorf("failed to marshal attributes: %w", err)
		}
		rows = append(rows, ParquetEntityEdge{
			ID:            edge.Uuid,
			SourceID:      edge.SourceNodeID,
			TargetID:      edge.TargetNodeID,
			Name:          edge.Name,
			Fact:          edge.Fact,
			GroupID:       edge.GroupID,
			ValidAt:       edge.ValidAt,
			InvalidAt:     edge.InvalidAt,
			CreatedAt:     timePtr(edge.CreatedAt),
			ExpiredAt:     edge.ExpiredAt,
			FactEmbedding: edge.FactEmbedding,
			Episodes:      edge.Episodes,
			Attributes:    string(attrs),
		})
	}
	return len(rows), writeFile(filepath.Join(dir, EdgesFile), rows)
}

func (w *ParquetWriter) writeCommunities(dir string, communities []*types.CommunityNode) (int, error) {
	rows := make([]ParquetCommunity, 0, len(communities))
	for _, c := range communities {
		rows = append(rows, ParquetCommunity{
			ID:        c.Uuid,
			Name:      c.Name,
			Summary:   c.Summary,
			GroupID:   c.GroupID,
			MemberIDs: c.MemberIDs,
			CreatedAt: timePtr(c.CreatedAt),
		})
	}
	return len(rows), writeFile(filepath.Join(dir, CommunitiesFile), rows)
}

// writeFile writes rows to a temporary file and renames it over path.
func writeFile[T any](path string, rows []T) error {
	tmp := path + ".tmp"
	if err := parquet.WriteFile(tmp, rows); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to move %s into place: %w", filepath.Base(path), err)
	}
	return nil
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	u := t.UTC()
	return &u
}

// ReadFile reads every row of a Parquet file written by ParquetWriter.
func ReadFile[T any](path string) ([]T, error) {
	rows, err := parquet.ReadFile[T](path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", filepath.Base(path), err)
	}
	return rows, nil
}
