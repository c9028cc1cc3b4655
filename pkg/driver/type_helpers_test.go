package driver

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j/db"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/dbtype"
	"github.com/soundprediction/chronograph/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTypeConversionError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		err      *TypeConversionError
		expected string
	}{
		{
			name:     "with field",
			err:      &TypeConversionError{Expected: "string", Actual: "int64", Field: "uuid"},
			expected: `type conversion error for field "uuid": expected string, got int64`,
		},
		{
			name:     "without field",
			err:      &TypeConversionError{Expected: "dbtype.Node", Actual: "<nil>"},
			expected: "type conversion error: expected dbtype.Node, got <nil>",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expected, tt.err.Error())
		})
	}
}

func TestConversions(t *testing.T) {
	s, ok := AsString("x")
	assert.True(t, ok)
	assert.Equal(t, "x", s)
	_, ok = AsString(nil)
	assert.False(t, ok)

	f, ok := AsFloat64(int64(3))
	assert.True(t, ok)
	assert.Equal(t, 3.0, f)

	_, err := MustString(42, "name")
	var convErr *TypeConversionError
	assert.ErrorAs(t, err, &convErr)

	_, err = MustRecordSlice("nope", "records")
	assert.Error(t, err)

	assert.Equal(t, []string{"a", "b"}, stringList([]any{"a", 1, "b"}))
	assert.Nil(t, stringList(nil))
}

func TestEntityPropertiesRoundTrip(t *testing.T) {
	created := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	in := &types.EntityNode{
		Uuid:          "n1",
		GroupID:       "g1",
		Name:          "Acme Corp",
		Labels:        []string{"Organization"},
		Summary:       "A company.",
		NameEmbedding: []float32{0.5, 0.25},
		Attributes:    map[string]interface{}{"industry": "widgets"},
		CreatedAt:     created,
		UpdatedAt:     created,
		EpisodeIDs:    []string{"ep1"},
	}

	props, err := entityToProperties(in)
	require.NoError(t, err)
	assert.Equal(t, "acme corp", props["name_norm"])

	out, err := entityFromDBNode(dbtype.Node{Props: props})
	require.NoError(t, err)
	assert.Equal(t, in.Name, out.Name)
	assert.Equal(t, in.Labels, out.Labels)
	assert.Equal(t, in.NameEmbedding, out.NameEmbedding)
	assert.Equal(t, "widgets", out.Attributes["industry"])
	assert.True(t, out.CreatedAt.Equal(created))
}

func TestEdgeFromRecord(t *testing.T) {
	valid := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	in := &types.EntityEdge{
		Uuid:         "e1",
		GroupID:      "g1",
		SourceNodeID: "alice",
		TargetNodeID: "acme",
		Name:         "WORKS_AT",
		Fact:         "Alice works at Acme",
		ValidAt:      &valid,
		CreatedAt:    valid,
		Episodes:     []string{"ep1"},
	}

	props, err := edgeToProperties(in)
	require.NoError(t, err)
	record := &db.Record{
		Keys:   []string{"r", "source", "target"},
		Values: []any{dbtype.Relationship{Props: props}, "alice", "acme"},
	}
	out, err := edgeFromRecord(record)
	require.NoError(t, err)
	assert.Equal(t, "alice", out.SourceNodeID)
	assert.Equal(t, "acme", out.TargetNodeID)
	require.NotNil(t, out.ValidAt)
	assert.True(t, out.ValidAt.Equal(valid))
	assert.Nil(t, out.InvalidAt)
	assert.True(t, out.IsCurrent())
}

func TestPropertiesRejectUnencodableValues(t *testing.T) {
	nan := map[string]interface{}{"score": math.NaN()}

	tests := []struct {
		name   string
		encode func() error
	}{
		{name: "entity", encode: func() error {
			_, err := entityToProperties(&types.EntityNode{Uuid: "acme", Attributes: nan})
			return err
		}},
		{name: "edge", encode: func() error {
			_, err := edgeParams(&types.EntityEdge{Uuid: "e1", Attributes: nan})
			return err
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.encode()
			var unsupported *json.UnsupportedValueError
			require.ErrorAs(t, err, &unsupported)
			assert.ErrorContains(t, err, "encode attributes")
		})
	}

	props, err := entityToProperties(&types.EntityNode{Uuid: "acme"})
	require.NoError(t, err)
	assert.Equal(t, "", props["attributes"], "nil values are stored empty")
}
