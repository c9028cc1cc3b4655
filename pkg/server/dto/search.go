package dto

import (
	"errors"
	"time"

	"github.com/soundprediction/chronograph/pkg/types"
)

// Response formats of the search endpoint.
const (
	FormatJSON    = "json"
	FormatContext = "context"
)

var (
	ErrConflictingWindow = errors.New("as_of cannot be combined with start or end")
	ErrPartialRange      = errors.New("start and end must be given together")
	ErrUnknownFormat     = errors.New("format must be json or context")
)

// SearchQuery is the body of POST /api/v1/search. AsOf selects facts valid at
// one instant; Start and End select facts valid at any point of a range.
// Without either the current view is searched.
type SearchQuery struct {
	GroupID      string           `json:"group_id"`
	Query        string           `json:"query"`
	K            int              `json:"k,omitempty"`
	EntityLabels []string         `json:"entity_labels,omitempty"`
	Kinds        []types.ItemKind `json:"kinds,omitempty"`
	AsOf         *time.Time       `json:"as_of,omitempty"`
	Start        *time.Time       `json:"start,omitempty"`
	End          *time.Time       `json:"end,omitempty"`
	SystemTime   *time.Time       `json:"system_time,omitempty"`
	SeedIDs      []string         `json:"seed_ids,omitempty"`
	MaxHops      int              `json:"max_hops,omitempty"`
	Rerank       string           `json:"rerank,omitempty"`
	Format       string           `json:"format,omitempty"`
}

// ToRequest converts the body into a search request.
func (q *SearchQuery) ToRequest() (*types.SearchRequest, error) {
	switch q.Format {
	case "", FormatJSON, FormatContext:
	default:
		return nil, ErrUnknownFormat
	}

	var window *types.TimeWindow
	switch {
	case q.AsOf != nil && (q.Start != nil || q.End != nil):
		return nil, ErrConflictingWindow
	case q.AsOf != nil:
		window = types.AsOf(*q.AsOf)
	case q.Start != nil && q.End != nil:
		window = types.Between(*q.Start, *q.End)
	case q.Start != nil || q.End != nil:
		return nil, ErrPartialRange
	}

	return &types.SearchRequest{
		Query:        q.Query,
		GroupID:      q.GroupID,
		K:            q.K,
		EntityLabels: q.EntityLabels,
		Window:       window,
		SystemTime:   q.SystemTime,
		Kinds:        q.Kinds,
		SeedIDs:      q.SeedIDs,
		MaxHops:      q.MaxHops,
		Rerank:       q.Rerank,
	}, nil
}

// SearchResponse wraps the fused results. Facts repeats the edge results in
// a flat form.
type SearchResponse struct {
	Results  []types.SearchResult `json:"results"`
	Facts    []FactResult         `json:"facts"`
	Warnings []types.Warning      `json:"warnings,omitempty"`
	Total    int                  `json:"total"`
}

// NewSearchResponse converts search results.
func NewSearchResponse(res *types.SearchResults) SearchResponse {
	out := SearchResponse{
		Results:  res.Results,
		Facts:    make([]FactResult, 0),
		Warnings: res.Warnings,
		Total:    len(res.Results),
	}
	if out.Results == nil {
		out.Results = []types.SearchResult{}
	}
	for _, e := range res.Edges() {
		out.Facts = append(out.Facts, NewFactResult(e))
	}
	return out
}

// ContextResponse carries search results rendered for a language model
// prompt.
type ContextResponse struct {
	Context  string          `json:"context"`
	Warnings []types.Warning `json:"warnings,omitempty"`
}
