package types

import (
	"fmt"
	"time"
)

// CandidateEntity is an entity proposed by the extraction collaborator.
// Identity is never taken from it; the entity resolver decides.
type CandidateEntity struct {
	Name       string                 `json:"name"`
	Labels     []string               `json:"labels,omitempty"`
	Context    string                 `json:"context,omitempty"`
	Attributes map[string]interface{} `json:"attributes,omitempty"`
}

// CandidateEdge is a fact proposed by the extraction collaborator. Times are
// kept as the collaborator stated them and parsed during edge resolution.
type CandidateEdge struct {
	SourceName string `json:"source"`
	TargetName string `json:"target"`
	Relation   string `json:"relation"`
	Fact       string `json:"fact"`
	EventTime  string `json:"event_time,omitempty"`
	EndTime    string `json:"end_time,omitempty"`
}

// FieldKind is the type of a user-defined attribute.
type FieldKind string

const (
	FieldString FieldKind = "string"
	FieldNumber FieldKind = "number"
	FieldBool   FieldKind = "bool"
	FieldList   FieldKind = "list"
)

// EntityTypeSchema declares the typed attributes of one entity label.
type EntityTypeSchema struct {
	Description string               `json:"description,omitempty" yaml:"description"`
	Fields      map[string]FieldKind `json:"fields,omitempty" yaml:"fields"`
}

// ExtractionSchema is the target shape handed to the extraction collaborator.
// Entity types are optional; without them any label is accepted and
// attributes pass through unchecked.
type ExtractionSchema struct {
	EntityTypes map[string]EntityTypeSchema `json:"entity_types,omitempty" yaml:"entity_types"`
}

// ValidateAttributes checks a candidate's attributes against the schema of its
// labels. It returns the accepted attributes and one message per rejected field.
func (s *ExtractionSchema) ValidateAttributes(labels []string, attrs map[string]interface{}) (map[string]interface{}, []string) {
	if s == nil || len(s.EntityTypes) == 0 || len(attrs) == 0 {
		return attrs, nil
	}

	fields := make(map[string]FieldKind)
	for _, label := range labels {
		if et, ok := s.EntityTypes[label]; ok {
			for name, kind := range et.Fields {
				fields[name] = kind
			}
		}
	}
	if len(fields) == 0 {
		return attrs, nil
	}

	accepted := make(map[string]interface{}, len(attrs))
	var rejected []string
	for key, value := range attrs {
		kind, ok := fields[key]
		if !ok {
			rejected = append(rejected, fmt.Sprintf("attribute %q is not declared for labels %v", key, labels))
			continue
		}
		if !kind.accepts(value) {
			rejected = append(rejected, fmt.Sprintf("attribute %q expects %s, got %T", key, kind, value))
			continue
		}
		accepted[key] = value
	}
	return accepted, rejected
}

func (k FieldKind) accepts(v interface{}) bool {
	switch k {
	case FieldString:
		_, ok := v.(string)
		return ok
	case FieldNumber:
		switch v.(type) {
		case int, int32, int64, float32, float64:
			return true
		}
		return false
	case FieldBool:
		_, ok := v.(bool)
		return ok
	case FieldList:
		switch v.(type) {
		case []interface{}, []string:
			return true
		}
		return false
	}
	return false
}

// ExtractionRequest is the input to the extraction collaborator.
type ExtractionRequest struct {
	Content          string            `json:"content"`
	ReferenceTime    time.Time         `json:"reference_time"`
	GroupID          string            `json:"group_id"`
	PreviousEpisodes []*EpisodicNode   `json:"previous_episodes,omitempty"`
	Schema           *ExtractionSchema `json:"schema,omitempty"`
}

// Extraction is the structured output of the extraction collaborator.
type Extraction struct {
	Entities []CandidateEntity `json:"entities"`
	Edges    []CandidateEdge   `json:"edges"`
	Warnings []Warning         `json:"-"`
	// Partial is set when part of the episode could not be extracted.
	Partial bool `json:"-"`
}

// EntityDisambiguation asks the collaborator which existing node, if any, a
// candidate refers to.
type EntityDisambiguation struct {
	Candidate CandidateEntity `json:"candidate"`
	Existing  []*EntityNode   `json:"existing"`
	Episode   string          `json:"episode,omitempty"`
}

// EntityVerdict is the outcome of a disambiguation.
type EntityVerdict string

const (
	VerdictMatch     EntityVerdict = "match"
	VerdictNew       EntityVerdict = "new"
	VerdictAmbiguous EntityVerdict = "ambiguous"
)

// EntityDecision is the collaborator's answer to an EntityDisambiguation.
// MatchID is set only for VerdictMatch.
type EntityDecision struct {
	Verdict EntityVerdict `json:"verdict"`
	MatchID string        `json:"match_id,omitempty"`
}

// EdgeRelation classifies a candidate fact against an existing edge.
type EdgeRelation string

const (
	RelationDuplicate     EdgeRelation = "duplicate"
	RelationContradicting EdgeRelation = "contradicting"
	RelationUnrelated     EdgeRelation = "unrelated"
)

// EdgeClassification asks the collaborator how a candidate fact relates to
// existing edges between the same entities.
type EdgeClassification struct {
	Candidate CandidateEdge `json:"candidate"`
	Existing  []*EntityEdge `json:"existing"`
}

// EdgeDecision maps existing edge ids to their relation with the candidate.
// Edges missing from the map are unrelated.
type EdgeDecision struct {
	Relations map[string]EdgeRelation `json:"relations"`
}
