package dto

import (
	"time"

	"github.com/soundprediction/chronograph/pkg/types"
)

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string          `json:"error"`
	Message string          `json:"message,omitempty"`
	Kind    types.ErrorKind `json:"kind,omitempty"`
}

// FactResult represents a fact result from the knowledge graph
type FactResult struct {
	UUID         string     `json:"uuid"`
	Fact         string     `json:"fact"`
	SourceID     string     `json:"source_id"`
	TargetID     string     `json:"target_id"`
	RelationType string     `json:"relation_type"`
	ValidAt      *time.Time `json:"valid_at,omitempty"`
	InvalidAt    *time.Time `json:"invalid_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	ExpiredAt    *time.Time `json:"expired_at,omitempty"`
	Episodes     []string   `json:"episodes,omitempty"`
}

// NewFactResult converts an edge.
func NewFactResult(e *types.EntityEdge) FactResult {
	return FactResult{
		UUID:         e.Uuid,
		Fact:         e.Fact,
		SourceID:     e.SourceNodeID,
		TargetID:     e.TargetNodeID,
		RelationType: e.Name,
		ValidAt:      e.ValidAt,
		InvalidAt:    e.InvalidAt,
		CreatedAt:    e.CreatedAt,
		ExpiredAt:    e.ExpiredAt,
		Episodes:     e.Episodes,
	}
}
