package types

import (
	"errors"
	"strings"
	"time"
)

var (
	ErrEmptyQuery = errors.New("query text or seed ids are required")
)

// Channel names a retrieval channel of the hybrid search.
type Channel string

const (
	ChannelEmbedding Channel = "embedding"
	ChannelKeyword   Channel = "keyword"
	ChannelGraph     Channel = "graph"
)

// ScoredItem is one node or edge returned by a store search, with its
// channel-local score.
type ScoredItem struct {
	Kind  ItemKind    `json:"kind"`
	Node  *EntityNode `json:"node,omitempty"`
	Edge  *EntityEdge `json:"edge,omitempty"`
	Score float64     `json:"score"`
}

// ID returns the identifier of the wrapped node or edge.
func (s ScoredItem) ID() string {
	if s.Kind == KindEdge && s.Edge != nil {
		return s.Edge.Uuid
	}
	if s.Node != nil {
		return s.Node.Uuid
	}
	return ""
}

// CreatedAt returns the creation time of the wrapped node or edge.
func (s ScoredItem) CreatedAt() time.Time {
	if s.Kind == KindEdge && s.Edge != nil {
		return s.Edge.CreatedAt
	}
	if s.Node != nil {
		return s.Node.CreatedAt
	}
	return time.Time{}
}

// TraversalHit is a node or edge reached by graph traversal and the hop count
// at which it was first reached.
type TraversalHit struct {
	Kind ItemKind    `json:"kind"`
	Node *EntityNode `json:"node,omitempty"`
	Edge *EntityEdge `json:"edge,omitempty"`
	Hops int         `json:"hops"`
}

// SearchRequest is the input to the hybrid search engine.
type SearchRequest struct {
	Query        string      `json:"query"`
	GroupID      string      `json:"group_id"`
	K            int         `json:"k,omitempty"`
	EntityLabels []string    `json:"entity_labels,omitempty"`
	Window       *TimeWindow `json:"window,omitempty"`
	SystemTime   *time.Time  `json:"system_time,omitempty"`
	Kinds        []ItemKind  `json:"kinds,omitempty"`
	SeedIDs      []string    `json:"seed_ids,omitempty"`
	MaxHops      int         `json:"max_hops,omitempty"`
	Rerank       string      `json:"rerank,omitempty"`
}

// Validate checks the request shape.
func (r *SearchRequest) Validate() error {
	if r.GroupID == "" {
		return ErrEmptyGroupID
	}
	if strings.TrimSpace(r.Query) == "" && len(r.SeedIDs) == 0 {
		return ErrEmptyQuery
	}
	if r.K < 0 {
		return ErrInvalidLimit
	}
	return r.Window.Validate()
}

// Filters returns the store filters described by the request.
func (r *SearchRequest) Filters() *SearchFilters {
	return &SearchFilters{
		GroupID:      r.GroupID,
		EntityLabels: r.EntityLabels,
		Window:       r.Window,
		SystemTime:   r.SystemTime,
		Kinds:        r.Kinds,
	}
}

// SearchResult is one fused result.
type SearchResult struct {
	ID       string      `json:"id"`
	Kind     ItemKind    `json:"kind"`
	Score    float64     `json:"score"`
	Channels []Channel   `json:"channels"`
	Node     *EntityNode `json:"node,omitempty"`
	Edge     *EntityEdge `json:"edge,omitempty"`
}

// SearchResults is the response of the hybrid search engine.
type SearchResults struct {
	Results  []SearchResult `json:"results"`
	Warnings []Warning      `json:"warnings,omitempty"`
}

// Nodes returns the node results in rank order.
func (r *SearchResults) Nodes() []*EntityNode {
	var nodes []*EntityNode
	for _, res := range r.Results {
		if res.Kind == KindNode {
			nodes = append(nodes, res.Node)
		}
	}
	return nodes
}

// Edges returns the edge results in rank order.
func (r *SearchResults) Edges() []*EntityEdge {
	var edges []*EntityEdge
	for _, res := range r.Results {
		if res.Kind == KindEdge {
			edges = append(edges, res.Edge)
		}
	}
	return edges
}
