package prompts

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/soundprediction/chronograph/pkg/nlp"
	"github.com/soundprediction/chronograph/pkg/types"
)

// PromptFunction builds the messages for one prompt from a context map.
type PromptFunction func(context map[string]interface{}) ([]types.Message, error)

// PromptVersion is a callable prompt.
type PromptVersion interface {
	Call(context map[string]interface{}) ([]types.Message, error)
}

// ExtractedEntity represents an entity extracted from content
type ExtractedEntity struct {
	Name       string                 `json:"name" yaml:"name"`
	Labels     []string               `json:"labels,omitempty" yaml:"labels,omitempty"`
	Context    string                 `json:"context,omitempty" yaml:"context,omitempty"`
	Attributes map[string]interface{} `json:"attributes,omitempty" yaml:"attributes,omitempty"`
}

// ExtractedEntities represents a list of extracted entities
type ExtractedEntities struct {
	ExtractedEntities []ExtractedEntity `json:"entities"`
}

// ExtractedEdge is one fact as the model states it. Times are free text.
type ExtractedEdge struct {
	Source    string `json:"source"`
	Target    string `json:"target"`
	Relation  string `json:"relation"`
	Fact      string `json:"fact"`
	ValidAt   string `json:"valid_at,omitempty"`
	InvalidAt string `json:"invalid_at,omitempty"`
}

// ExtractedEdges represents a list of extracted edges
type ExtractedEdges struct {
	Edges []ExtractedEdge `json:"facts"`
}

// NodeResolution is the model's answer to a disambiguation prompt.
type NodeResolution struct {
	Verdict string `json:"verdict"`
	MatchID string `json:"match_id,omitempty"`
}

// EdgeDuplicate represents edge duplicate detection result
type EdgeDuplicate struct {
	DuplicateFacts    []string `json:"duplicate_facts"`
	ContradictedFacts []string `json:"contradicted_facts"`
}

// promptVersionImpl implements PromptVersion.
type promptVersionImpl struct {
	fn PromptFunction
}

// Call executes the prompt function with the given context.
func (p *promptVersionImpl) Call(context map[string]interface{}) ([]types.Message, error) {
	messages, err := p.fn(context)
	if err != nil {
		return nil, err
	}

	// Add unicode preservation instruction to system messages
	for i, msg := range messages {
		if msg.Role == nlp.RoleSystem {
			messages[i].Content += "\nDo not escape unicode characters.\n"
		}
	}

	return messages, nil
}

// NewPromptVersion creates a new PromptVersion from a function.
func NewPromptVersion(fn PromptFunction) PromptVersion {
	return &promptVersionImpl{fn: fn}
}

// ToPromptJSON serializes data to JSON for use in prompts.
func ToPromptJSON(data interface{}, indent int) (string, error) {
	var b []byte
	var err error

	if indent > 0 {
		b, err = json.MarshalIndent(data, "", fmt.Sprintf("%*s", indent, ""))
	} else {
		b, err = json.Marshal(data)
	}
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ToPromptYAML serializes data to YAML for use in prompts.
func ToPromptYAML(data interface{}) (string, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(data); err != nil {
		return "", err
	}
	if err := enc.Close(); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// logPrompts logs system and user prompts at debug level when
// DEBUG_LLM_PROMPTS=true.
func logPrompts(logger *slog.Logger, name, sysPrompt, userPrompt string) {
	if os.Getenv("DEBUG_LLM_PROMPTS") != "true" {
		return
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger.Debug("generated prompt", "prompt", name, "system", sysPrompt, "user", userPrompt)
}

// LogResponses logs a raw model response when DEBUG_LLM_PROMPTS=true.
func LogResponses(logger *slog.Logger, response types.Response) {
	if os.Getenv("DEBUG_LLM_PROMPTS") != "true" {
		return
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger.Debug("llm response", "model", response.Model, "content", response.Content)
}

func contextString(context map[string]interface{}, key string) string {
	if v, ok := context[key].(string); ok {
		return v
	}
	return ""
}

func contextLogger(context map[string]interface{}) *slog.Logger {
	if l, ok := context["logger"].(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}
