package types

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// PipelineState is the state of one episode in the ingestion pipeline.
type PipelineState string

const (
	StateReceived         PipelineState = "received"
	StateExtracted        PipelineState = "extracted"
	StateEntitiesResolved PipelineState = "entities_resolved"
	StateEdgesResolved    PipelineState = "edges_resolved"
	StateCommitted        PipelineState = "committed"
	StateFailed           PipelineState = "failed"
)

var pipelineSuccessor = map[PipelineState]PipelineState{
	StateReceived:         StateExtracted,
	StateExtracted:        StateEntitiesResolved,
	StateEntitiesResolved: StateEdgesResolved,
	StateEdgesResolved:    StateCommitted,
}

// IsTerminal reports whether no further transition is possible.
func (s PipelineState) IsTerminal() bool {
	return s == StateCommitted || s == StateFailed
}

// ValidTransition reports whether the pipeline may move from one state to
// another. Every non-terminal state may fail.
func ValidTransition(from, to PipelineState) bool {
	if from.IsTerminal() {
		return false
	}
	if to == StateFailed {
		return true
	}
	return pipelineSuccessor[from] == to
}

// AddEpisodeRequest is the input of the ingestion pipeline.
type AddEpisodeRequest struct {
	Name              string            `json:"name,omitempty"`
	Content           string            `json:"content"`
	ReferenceTime     time.Time         `json:"reference_time"`
	GroupID           string            `json:"group_id"`
	Source            string            `json:"source,omitempty"`
	SourceDescription string            `json:"source_description,omitempty"`
	Schema            *ExtractionSchema `json:"schema,omitempty"`
}

// Validate checks the request shape.
func (r *AddEpisodeRequest) Validate() error {
	if r.Content == "" {
		return ErrEmptyContent
	}
	if r.GroupID == "" {
		return ErrEmptyGroupID
	}
	return nil
}

// ContentHash returns the idempotency hash of the episode content.
func ContentHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// AddEpisodeResult reports what ingesting one episode produced.
type AddEpisodeResult struct {
	EpisodeID          string        `json:"episode_id"`
	State              PipelineState `json:"state"`
	CreatedEntityIDs   []string      `json:"created_entity_ids"`
	MergedEntityIDs    []string      `json:"merged_entity_ids"`
	CreatedEdgeIDs     []string      `json:"created_edge_ids"`
	MergedEdgeIDs      []string      `json:"merged_edge_ids"`
	InvalidatedEdgeIDs []string      `json:"invalidated_edge_ids"`
	Warnings           []Warning     `json:"warnings,omitempty"`

	// Partial is set when some candidates were skipped.
	Partial bool `json:"partial"`
	// Reused is set when an identical episode had already been ingested and
	// its stored result was returned.
	Reused bool `json:"reused"`
}

// ResultFromEpisode rebuilds the result stored on a committed episode.
func ResultFromEpisode(ep *EpisodicNode) *AddEpisodeResult {
	return &AddEpisodeResult{
		EpisodeID:          ep.Uuid,
		State:              StateCommitted,
		CreatedEntityIDs:   ep.CreatedEntityIDs,
		MergedEntityIDs:    ep.MergedEntityIDs,
		CreatedEdgeIDs:     ep.CreatedEdgeIDs,
		MergedEdgeIDs:      ep.MergedEdgeIDs,
		InvalidatedEdgeIDs: ep.InvalidatedEdgeIDs,
		Warnings:           ep.Warnings,
		Partial:            ep.Partial,
	}
}
