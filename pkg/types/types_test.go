package types

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func date(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestEntityNodeValidation(t *testing.T) {
	tests := []struct {
		name    string
		node    EntityNode
		wantErr error
	}{
		{
			name:    "valid node",
			node:    EntityNode{Uuid: "n1", Name: "Alice", GroupID: "g1"},
			wantErr: nil,
		},
		{
			name:    "empty uuid",
			node:    EntityNode{Name: "Alice", GroupID: "g1"},
			wantErr: ErrEmptyUUID,
		},
		{
			name:    "empty name",
			node:    EntityNode{Uuid: "n1", GroupID: "g1"},
			wantErr: ErrEmptyName,
		},
		{
			name:    "empty group_id",
			node:    EntityNode{Uuid: "n1", Name: "Alice"},
			wantErr: ErrEmptyGroupID,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantErr, tt.node.Validate())
		})
	}
}

func TestEntityEdgeValidation(t *testing.T) {
	valid := EntityEdge{Uuid: "e1", GroupID: "g1", SourceNodeID: "a", TargetNodeID: "b", Name: "WORKS_AT"}

	tests := []struct {
		name    string
		mutate  func(e *EntityEdge)
		wantErr error
	}{
		{"valid edge", func(e *EntityEdge) {}, nil},
		{"missing target", func(e *EntityEdge) { e.TargetNodeID = "" }, ErrMissingEndpoint},
		{"missing relation", func(e *EntityEdge) { e.Name = "" }, ErrEmptyRelation},
		{"inverted interval", func(e *EntityEdge) {
			e.ValidAt = TimePtr(date("2024-01-01"))
			e.InvalidAt = TimePtr(date("2023-01-01"))
		}, ErrInvalidInterval},
		{"equal bounds", func(e *EntityEdge) {
			e.ValidAt = TimePtr(date("2024-01-01"))
			e.InvalidAt = TimePtr(date("2024-01-01"))
		}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := valid
			tt.mutate(&e)
			assert.Equal(t, tt.wantErr, e.Validate())
		})
	}
}

func TestEntityEdgeInvalidate(t *testing.T) {
	t.Run("sets both bounds", func(t *testing.T) {
		e := &EntityEdge{ValidAt: TimePtr(date("2023-01-01"))}
		now := time.Now()

		require.NoError(t, e.Invalidate(date("2024-06-01"), now))
		require.NotNil(t, e.InvalidAt)
		require.NotNil(t, e.ExpiredAt)
		assert.True(t, e.InvalidAt.Equal(date("2024-06-01")))
		assert.True(t, e.ExpiredAt.Equal(now))
		assert.False(t, e.IsCurrent())
	})

	t.Run("refuses to end before it began", func(t *testing.T) {
		e := &EntityEdge{ValidAt: TimePtr(date("2023-01-01"))}
		assert.ErrorIs(t, e.Invalidate(date("2022-01-01"), time.Now()), ErrInvalidInterval)
		assert.True(t, e.IsCurrent())
	})
}

func TestEntityEdgeProvenance(t *testing.T) {
	e := &EntityEdge{Episodes: []string{"ep1"}}
	assert.False(t, e.AddEpisode("ep1"))
	assert.True(t, e.AddEpisode("ep2"))
	assert.Equal(t, []string{"ep1", "ep2"}, e.Episodes)

	c := e.Clone()
	c.AddEpisode("ep3")
	assert.Len(t, e.Episodes, 2, "clone must not share the provenance slice")
}

func TestTimeWindowAdmits(t *testing.T) {
	joined := date("2023-01-01")
	left := date("2024-06-01")

	closed := &EntityEdge{ValidAt: &joined, InvalidAt: &left, ExpiredAt: TimePtr(left)}
	open := &EntityEdge{ValidAt: &joined}
	timeless := &EntityEdge{}

	tests := []struct {
		name   string
		window *TimeWindow
		edge   *EntityEdge
		want   bool
	}{
		{"as-of inside interval", AsOf(date("2023-06-01")), closed, true},
		{"as-of at valid_at", AsOf(joined), closed, true},
		{"as-of at invalid_at", AsOf(left), closed, false},
		{"as-of after invalid_at", AsOf(date("2024-07-01")), closed, false},
		{"as-of before valid_at", AsOf(date("2022-12-31")), closed, false},
		{"as-of open edge", AsOf(date("2030-01-01")), open, true},
		{"as-of timeless edge", AsOf(date("1990-01-01")), timeless, true},
		{"range covering interval", Between(date("2023-01-01"), date("2024-12-31")), closed, true},
		{"range overlapping start", Between(date("2022-01-01"), date("2023-01-01")), closed, true},
		{"range ending before", Between(date("2021-01-01"), date("2022-12-31")), closed, false},
		{"range starting at invalid_at", Between(left, date("2025-01-01")), closed, false},
		{"range after open edge start", Between(date("2025-01-01"), date("2026-01-01")), open, true},
		{"current view rejects invalidated", nil, closed, false},
		{"current view accepts open", nil, open, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.window.Admits(tt.edge))
		})
	}
}

func TestSearchFiltersSystemTime(t *testing.T) {
	created := date("2024-01-01")
	expired := date("2024-06-01")
	e := &EntityEdge{
		GroupID:   "g1",
		CreatedAt: created,
		InvalidAt: TimePtr(expired),
		ExpiredAt: TimePtr(expired),
	}

	before := date("2023-06-01")
	during := date("2024-03-01")
	after := date("2024-07-01")

	assert.False(t, (&SearchFilters{SystemTime: &before}).AdmitsEdge(e), "not yet known")
	assert.True(t, (&SearchFilters{SystemTime: &during}).AdmitsEdge(e), "current at that system time")
	assert.False(t, (&SearchFilters{SystemTime: &after}).AdmitsEdge(e), "already expired")
	assert.False(t, (&SearchFilters{GroupID: "other"}).AdmitsEdge(e))
}

func TestSearchFiltersLabels(t *testing.T) {
	person := &EntityNode{GroupID: "g1", Labels: []string{"Person"}}
	org := &EntityNode{GroupID: "g1", Labels: []string{"Organization"}}
	f := &SearchFilters{GroupID: "g1", EntityLabels: []string{"Person"}}

	assert.True(t, f.AdmitsNode(person))
	assert.False(t, f.AdmitsNode(org))
	assert.True(t, f.AdmitsEdgeEndpoints(org, person))
	assert.False(t, f.AdmitsEdgeEndpoints(org, nil))
	assert.True(t, (*SearchFilters)(nil).AdmitsEdgeEndpoints(nil, nil))
}

func TestSearchFiltersKinds(t *testing.T) {
	f := &SearchFilters{Kinds: []ItemKind{KindEdge}}
	assert.False(t, f.WantsNodes())
	assert.True(t, f.WantsEdges())
	assert.True(t, (&SearchFilters{}).WantsNodes())
}

func TestValidTransition(t *testing.T) {
	assert.True(t, ValidTransition(StateReceived, StateExtracted))
	assert.True(t, ValidTransition(StateEdgesResolved, StateCommitted))
	assert.True(t, ValidTransition(StateExtracted, StateFailed))
	assert.False(t, ValidTransition(StateReceived, StateEntitiesResolved))
	assert.False(t, ValidTransition(StateCommitted, StateFailed))
	assert.False(t, ValidTransition(StateFailed, StateReceived))
}

func TestErrorKinds(t *testing.T) {
	base := errors.New("connection refused")
	err := fmt.Errorf("commit episode: %w", NewFatalError("write_batch", base))

	assert.ErrorIs(t, err, ErrFatal)
	assert.ErrorIs(t, err, base)
	assert.NotErrorIs(t, err, ErrTransient)
	assert.Equal(t, KindFatal, KindOf(err))
	assert.Equal(t, KindTransient, KindOf(base))
}

func TestExtractionSchemaValidateAttributes(t *testing.T) {
	schema := &ExtractionSchema{EntityTypes: map[string]EntityTypeSchema{
		"Person": {Fields: map[string]FieldKind{"age": FieldNumber, "title": FieldString}},
	}}

	accepted, rejected := schema.ValidateAttributes([]string{"Person"}, map[string]interface{}{
		"age":   float64(41),
		"title": 7,
		"shoe":  "42",
	})

	assert.Equal(t, map[string]interface{}{"age": float64(41)}, accepted)
	assert.Len(t, rejected, 2)

	passthrough, none := schema.ValidateAttributes([]string{"Organization"}, map[string]interface{}{"x": 1})
	assert.Equal(t, map[string]interface{}{"x": 1}, passthrough)
	assert.Empty(t, none)
}

func TestSearchRequestValidate(t *testing.T) {
	assert.ErrorIs(t, (&SearchRequest{Query: "x"}).Validate(), ErrEmptyGroupID)
	assert.ErrorIs(t, (&SearchRequest{GroupID: "g"}).Validate(), ErrEmptyQuery)
	assert.NoError(t, (&SearchRequest{GroupID: "g", SeedIDs: []string{"n1"}}).Validate())
	assert.ErrorIs(t, (&SearchRequest{GroupID: "g", Query: "x", Window: Between(date("2024-01-01"), date("2023-01-01"))}).Validate(), ErrInvalidWindow)
}
