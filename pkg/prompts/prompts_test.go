package prompts

import (
	"testing"

	"github.com/soundprediction/chronograph/pkg/nlp"
	"github.com/soundprediction/chronograph/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLibraryPrompts(t *testing.T) {
	lib := NewLibrary()

	tests := []struct {
		name    string
		prompt  PromptVersion
		context map[string]interface{}
		want    []string
	}{
		{
			name:   "extract nodes",
			prompt: lib.ExtractNodes(),
			context: map[string]interface{}{
				"episode_content":   "Alice joined Acme Corp in January.",
				"reference_time":    "2024-02-01T00:00:00Z",
				"previous_episodes": []string{"Bob founded Acme Corp."},
				"entity_types": map[string]types.EntityTypeSchema{
					"Person": {Description: "a human", Fields: map[string]types.FieldKind{"title": types.FieldString}},
				},
			},
			want: []string{"Alice joined Acme Corp", "Bob founded Acme Corp.", "Person", `"entities"`},
		},
		{
			name:   "extract edges",
			prompt: lib.ExtractEdges(),
			context: map[string]interface{}{
				"episode_content": "Alice left Acme.",
				"reference_time":  "2024-06-01T00:00:00Z",
				"entities":        []string{"Alice", "Acme"},
			},
			want: []string{"- Alice", "- Acme", "2024-06-01T00:00:00Z", `"facts"`},
		},
		{
			name:   "dedupe node",
			prompt: lib.DedupeNode(),
			context: map[string]interface{}{
				"episode_content": "Acme Corporation hired Alice.",
				"candidate":       map[string]interface{}{"name": "Acme Corporation"},
				"existing_nodes":  []map[string]interface{}{{"id": "n-1", "name": "Acme Corp", "summary": "Widget maker"}},
			},
			want: []string{"Acme Corporation", "n-1", "Widget maker", `"verdict"`},
		},
		{
			name:   "dedupe edges",
			prompt: lib.DedupeEdges(),
			context: map[string]interface{}{
				"new_edge":       map[string]interface{}{"relation": "CEO_OF", "fact": "Carol is CEO of Acme"},
				"existing_edges": []map[string]interface{}{{"id": "e-1", "relation": "CEO_OF", "fact": "Dan is CEO of Acme"}},
			},
			want: []string{"Carol is CEO of Acme", "e-1", "contradicted_facts"},
		},
		{
			name:   "rerank",
			prompt: lib.Rerank(),
			context: map[string]interface{}{
				"query": "where does Alice work",
				"items": []RerankItem{{ID: "e-1", Text: "Alice works at Acme"}},
			},
			want: []string{"where does Alice work", "e-1", "Alice works at Acme", `"scores"`},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msgs, err := tt.prompt.Call(tt.context)
			require.NoError(t, err)
			require.Len(t, msgs, 2)
			assert.Equal(t, nlp.RoleSystem, msgs[0].Role)
			assert.Contains(t, msgs[0].Content, "Do not escape unicode characters.")
			assert.Equal(t, nlp.RoleUser, msgs[1].Role)
			for _, w := range tt.want {
				assert.Contains(t, msgs[1].Content, w)
			}
		})
	}
}

func TestToPromptYAML(t *testing.T) {
	out, err := ToPromptYAML(map[string]interface{}{"entities": []string{"Zoë", "Acme"}})
	require.NoError(t, err)
	assert.Equal(t, "entities:\n  - Zoë\n  - Acme\n", out)
}

func TestToPromptJSON(t *testing.T) {
	out, err := ToPromptJSON(map[string]int{"a": 1}, 0)
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, out)

	out, err = ToPromptJSON(map[string]int{"a": 1}, 2)
	require.NoError(t, err)
	assert.Equal(t, "{\n  \"a\": 1\n}", out)
}
