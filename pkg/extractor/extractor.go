package extractor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/kaptinlin/jsonrepair"
	"github.com/soundprediction/chronograph/pkg/types"
)

// ErrSchemaMismatch is returned when model output cannot be read as the
// expected shape.
var ErrSchemaMismatch = errors.New("extractor output does not match the expected schema")

// Extractor turns text into candidate entities and facts, and answers the
// resolvers' disambiguation questions.
type Extractor interface {
	Extract(ctx context.Context, req *types.ExtractionRequest) (*types.Extraction, error)
	DisambiguateEntity(ctx context.Context, req *types.EntityDisambiguation) (*types.EntityDecision, error)
	ClassifyEdge(ctx context.Context, req *types.EdgeClassification) (*types.EdgeDecision, error)
}

var (
	thinkTagRe  = regexp.MustCompile(`(?s)<think>.*?</think>`)
	codeFenceRe = regexp.MustCompile("(?s)^```(?:json)?\\s*(.*?)\\s*```$")
)

func cleanResponse(content string) string {
	content = strings.TrimSpace(thinkTagRe.ReplaceAllString(content, ""))
	if m := codeFenceRe.FindStringSubmatch(content); m != nil {
		content = m[1]
	}
	return content
}

// decodeObject repairs content and requires it to be a JSON object.
func decodeObject(op, content string) (map[string]json.RawMessage, error) {
	cleaned := cleanResponse(content)
	if repaired, err := jsonrepair.JSONRepair(cleaned); err == nil {
		cleaned = repaired
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(cleaned), &obj); err != nil || obj == nil {
		return nil, types.NewValidationError(op, fmt.Errorf("%w: not a JSON object", ErrSchemaMismatch))
	}
	return obj, nil
}

// decodeField decodes obj[key] into out. A missing key is a mismatch unless
// optional is set.
func decodeField(op string, obj map[string]json.RawMessage, key string, out interface{}, optional bool) error {
	raw, ok := obj[key]
	if !ok || string(raw) == "null" {
		if optional {
			return nil
		}
		return types.NewValidationError(op, fmt.Errorf("%w: missing %q", ErrSchemaMismatch, key))
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return types.NewValidationError(op, fmt.Errorf("%w: field %q: %v", ErrSchemaMismatch, key, err))
	}
	return nil
}
