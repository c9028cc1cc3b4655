package types

import (
	"errors"
	"time"
)

// Validation errors
var (
	ErrEmptyName       = errors.New("name cannot be empty")
	ErrEmptyGroupID    = errors.New("group_id cannot be empty")
	ErrEmptyUUID       = errors.New("uuid cannot be empty")
	ErrEmptyContent    = errors.New("content cannot be empty")
	ErrEmptyRelation   = errors.New("relation cannot be empty")
	ErrMissingEndpoint = errors.New("edge requires both source and target node ids")
	ErrInvalidInterval = errors.New("valid_at must not be after invalid_at")
	ErrInvalidLimit    = errors.New("limit must be positive")
)

// DefaultEntityLabel is applied to entities extracted without a type label.
const DefaultEntityLabel = "Entity"

// EntityNode is a real-world thing mentioned by one or more episodes.
type EntityNode struct {
	Uuid          string                 `json:"uuid"`
	Name          string                 `json:"name"`
	Labels        []string               `json:"labels"`
	Summary       string                 `json:"summary,omitempty"`
	NameEmbedding []float32              `json:"name_embedding,omitempty"`
	Attributes    map[string]interface{} `json:"attributes,omitempty"`
	GroupID       string                 `json:"group_id"`
	CreatedAt     time.Time              `json:"created_at"`
	UpdatedAt     time.Time              `json:"updated_at"`

	// EpisodeIDs are the episodes that mentioned this entity.
	EpisodeIDs []string `json:"episode_ids,omitempty"`

	// PotentialDuplicateOf lists nodes this one could not be told apart from
	// when it was created. Empty for nodes created without a conflict.
	PotentialDuplicateOf []string `json:"potential_duplicate_of,omitempty"`
}

// Validate checks if the EntityNode has all required fields set.
func (n *EntityNode) Validate() error {
	if n.Uuid == "" {
		return ErrEmptyUUID
	}
	if n.Name == "" {
		return ErrEmptyName
	}
	if n.GroupID == "" {
		return ErrEmptyGroupID
	}
	return nil
}

// HasLabel reports whether the node carries any of the given labels.
func (n *EntityNode) HasLabel(labels ...string) bool {
	for _, want := range labels {
		for _, have := range n.Labels {
			if have == want {
				return true
			}
		}
	}
	return false
}

// Clone returns a deep copy of the node.
func (n *EntityNode) Clone() *EntityNode {
	if n == nil {
		return nil
	}
	c := *n
	c.Labels = append([]string(nil), n.Labels...)
	c.NameEmbedding = append([]float32(nil), n.NameEmbedding...)
	c.EpisodeIDs = append([]string(nil), n.EpisodeIDs...)
	c.PotentialDuplicateOf = append([]string(nil), n.PotentialDuplicateOf...)
	if n.Attributes != nil {
		c.Attributes = make(map[string]interface{}, len(n.Attributes))
		for k, v := range n.Attributes {
			c.Attributes[k] = v
		}
	}
	return &c
}

// EntityEdge is a fact asserted between two entities. Apart from the
// invalidation timestamps and the provenance list it never changes after
// creation.
type EntityEdge struct {
	Uuid          string    `json:"uuid"`
	GroupID       string    `json:"group_id"`
	SourceNodeID  string    `json:"source_node_uuid"`
	TargetNodeID  string    `json:"target_node_uuid"`
	Name          string    `json:"name"`
	Fact          string    `json:"fact"`
	FactEmbedding []float32 `json:"fact_embedding,omitempty"`

	// Event time.
	ValidAt   *time.Time `json:"valid_at,omitempty"`
	InvalidAt *time.Time `json:"invalid_at,omitempty"`

	// System time.
	CreatedAt time.Time  `json:"created_at"`
	ExpiredAt *time.Time `json:"expired_at,omitempty"`

	Episodes   []string               `json:"episodes,omitempty"`
	Attributes map[string]interface{} `json:"attributes,omitempty"`
}

// Validate checks required fields and the validity interval.
func (e *EntityEdge) Validate() error {
	if e.Uuid == "" {
		return ErrEmptyUUID
	}
	if e.GroupID == "" {
		return ErrEmptyGroupID
	}
	if e.SourceNodeID == "" || e.TargetNodeID == "" {
		return ErrMissingEndpoint
	}
	if e.Name == "" {
		return ErrEmptyRelation
	}
	if e.ValidAt != nil && e.InvalidAt != nil && e.ValidAt.After(*e.InvalidAt) {
		return ErrInvalidInterval
	}
	return nil
}

// IsCurrent reports whether the edge has been neither invalidated nor expired.
func (e *EntityEdge) IsCurrent() bool {
	return e.InvalidAt == nil && e.ExpiredAt == nil
}

// Connects reports whether the edge joins a and b in either direction.
func (e *EntityEdge) Connects(a, b string) bool {
	return (e.SourceNodeID == a && e.TargetNodeID == b) ||
		(e.SourceNodeID == b && e.TargetNodeID == a)
}

// Invalidate closes the edge's validity interval at invalidAt and records the
// system time at which that happened.
func (e *EntityEdge) Invalidate(invalidAt, expiredAt time.Time) error {
	if e.ValidAt != nil && invalidAt.Before(*e.ValidAt) {
		return ErrInvalidInterval
	}
	inv := invalidAt.UTC()
	exp := expiredAt.UTC()
	e.InvalidAt = &inv
	e.ExpiredAt = &exp
	return nil
}

// AddEpisode appends an episode id to the provenance list if absent.
func (e *EntityEdge) AddEpisode(episodeID string) bool {
	for _, id := range e.Episodes {
		if id == episodeID {
			return false
		}
	}
	e.Episodes = append(e.Episodes, episodeID)
	return true
}

// Clone returns a deep copy of the edge.
func (e *EntityEdge) Clone() *EntityEdge {
	if e == nil {
		return nil
	}
	c := *e
	c.FactEmbedding = append([]float32(nil), e.FactEmbedding...)
	c.Episodes = append([]string(nil), e.Episodes...)
	c.ValidAt = cloneTime(e.ValidAt)
	c.InvalidAt = cloneTime(e.InvalidAt)
	c.ExpiredAt = cloneTime(e.ExpiredAt)
	if e.Attributes != nil {
		c.Attributes = make(map[string]interface{}, len(e.Attributes))
		for k, v := range e.Attributes {
			c.Attributes[k] = v
		}
	}
	return &c
}

// EpisodicNode is one ingested unit of text together with the result of
// ingesting it. It is written once, at commit.
type EpisodicNode struct {
	Uuid              string    `json:"uuid"`
	Name              string    `json:"name"`
	Content           string    `json:"content"`
	ContentHash       string    `json:"content_hash"`
	Source            string    `json:"source,omitempty"`
	SourceDescription string    `json:"source_description,omitempty"`
	ReferenceTime     time.Time `json:"reference_time"`
	GroupID           string    `json:"group_id"`
	CreatedAt         time.Time `json:"created_at"`

	CreatedEntityIDs   []string  `json:"created_entity_ids,omitempty"`
	MergedEntityIDs    []string  `json:"merged_entity_ids,omitempty"`
	CreatedEdgeIDs     []string  `json:"created_edge_ids,omitempty"`
	MergedEdgeIDs      []string  `json:"merged_edge_ids,omitempty"`
	InvalidatedEdgeIDs []string  `json:"invalidated_edge_ids,omitempty"`
	Warnings           []Warning `json:"warnings,omitempty"`
	Partial            bool      `json:"partial,omitempty"`
}

// EntityIDs returns the created and merged entity ids.
func (e *EpisodicNode) EntityIDs() []string {
	ids := make([]string, 0, len(e.CreatedEntityIDs)+len(e.MergedEntityIDs))
	ids = append(ids, e.CreatedEntityIDs...)
	return append(ids, e.MergedEntityIDs...)
}

// Validate checks if the EpisodicNode has all required fields set.
func (e *EpisodicNode) Validate() error {
	if e.Uuid == "" {
		return ErrEmptyUUID
	}
	if e.Content == "" {
		return ErrEmptyContent
	}
	if e.GroupID == "" {
		return ErrEmptyGroupID
	}
	return nil
}

// CommunityNode groups densely connected entities of one partition.
type CommunityNode struct {
	Uuid      string    `json:"uuid"`
	GroupID   string    `json:"group_id"`
	Name      string    `json:"name"`
	Summary   string    `json:"summary,omitempty"`
	MemberIDs []string  `json:"member_ids"`
	CreatedAt time.Time `json:"created_at"`
}

// Neighbor is an adjacent entity with the number of current edges joining it.
type Neighbor struct {
	NodeUUID  string `json:"node_uuid"`
	EdgeCount int    `json:"edge_count"`
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

// TimePtr returns a pointer to a UTC copy of t.
func TimePtr(t time.Time) *time.Time {
	u := t.UTC()
	return &u
}
