package dto

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/soundprediction/chronograph/pkg/types"
)

// Validation errors
var (
	ErrEmptyGroupID   = errors.New("group_id cannot be empty")
	ErrEmptyContent   = errors.New("content cannot be empty")
	ErrEmptyEpisodes  = errors.New("episodes cannot be empty")
	ErrGroupIDTooLong = errors.New("group_id exceeds maximum length (256)")
	ErrNameTooLong    = errors.New("name exceeds maximum length (1024)")
	ErrContentTooLong = errors.New("content exceeds maximum length (1MB)")
	ErrTooManyEpisode = errors.New("episodes count exceeds maximum (1000)")
)

// MaxFieldLengths defines maximum lengths for fields to prevent abuse
const (
	MaxGroupIDLength = 256
	MaxNameLength    = 1024
	MaxContentLength = 1024 * 1024 // 1MB
	MaxEpisodesCount = 1000
)

// AddEpisodeRequest is the body of POST /api/v1/episodes.
type AddEpisodeRequest struct {
	GroupID           string                  `json:"group_id"`
	Name              string                  `json:"name,omitempty"`
	Content           string                  `json:"content"`
	ReferenceTime     *time.Time              `json:"reference_time,omitempty"`
	Source            string                  `json:"source,omitempty"`
	SourceDescription string                  `json:"source_description,omitempty"`
	Schema            *types.ExtractionSchema `json:"schema,omitempty"`
}

// Validate performs validation on AddEpisodeRequest
func (r *AddEpisodeRequest) Validate() error {
	if strings.TrimSpace(r.GroupID) == "" {
		return ErrEmptyGroupID
	}
	if len(r.GroupID) > MaxGroupIDLength {
		return ErrGroupIDTooLong
	}
	if strings.TrimSpace(r.Content) == "" {
		return ErrEmptyContent
	}
	if len(r.Content) > MaxContentLength {
		return ErrContentTooLong
	}
	if len(r.Name) > MaxNameLength {
		return ErrNameTooLong
	}
	return nil
}

// ToRequest converts the body into a pipeline request. A missing reference
// time uses now.
func (r *AddEpisodeRequest) ToRequest(now time.Time) *types.AddEpisodeRequest {
	ref := now
	if r.ReferenceTime != nil {
		ref = *r.ReferenceTime
	}
	return &types.AddEpisodeRequest{
		Name:              r.Name,
		Content:           r.Content,
		ReferenceTime:     ref,
		GroupID:           r.GroupID,
		Source:            r.Source,
		SourceDescription: r.SourceDescription,
		Schema:            r.Schema,
	}
}

// AddEpisodesRequest is the body of POST /api/v1/episodes/bulk.
type AddEpisodesRequest struct {
	Episodes []AddEpisodeRequest `json:"episodes"`
}

// Validate performs validation on AddEpisodesRequest
func (r *AddEpisodesRequest) Validate() error {
	if len(r.Episodes) == 0 {
		return ErrEmptyEpisodes
	}
	if len(r.Episodes) > MaxEpisodesCount {
		return ErrTooManyEpisode
	}
	for i := range r.Episodes {
		if err := r.Episodes[i].Validate(); err != nil {
			return fmt.Errorf("episode %d: %w", i, err)
		}
	}
	return nil
}

// BulkItem is the outcome of one episode of a bulk request.
type BulkItem struct {
	Result *types.AddEpisodeResult `json:"result,omitempty"`
	Error  string                  `json:"error,omitempty"`
	Kind   types.ErrorKind         `json:"kind,omitempty"`
}

// AddEpisodesResponse is index aligned with the request's episodes.
type AddEpisodesResponse struct {
	Results []BulkItem `json:"results"`
	Failed  int        `json:"failed"`
}
