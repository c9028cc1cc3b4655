package search

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/soundprediction/chronograph/pkg/types"
)

// SearchResultsToContextString renders results as a block of facts and
// entities ready to be placed in a language model prompt.
func SearchResultsToContextString(results *types.SearchResults, ensureASCII bool) (string, error) {
	facts := []map[string]interface{}{}
	entities := []map[string]interface{}{}
	for _, r := range results.Results {
		switch {
		case r.Kind == types.KindEdge && r.Edge != nil:
			validAt := ""
			if r.Edge.ValidAt != nil {
				validAt = r.Edge.ValidAt.Format(time.RFC3339)
			}
			invalidAt := "Present"
			if r.Edge.InvalidAt != nil {
				invalidAt = r.Edge.InvalidAt.Format(time.RFC3339)
			}
			facts = append(facts, map[string]interface{}{
				"fact":       r.Edge.Fact,
				"valid_at":   validAt,
				"invalid_at": invalidAt,
			})
		case r.Kind == types.KindNode && r.Node != nil:
			entities = append(entities, map[string]interface{}{
				"entity_name": r.Node.Name,
				"summary":     r.Node.Summary,
			})
		}
	}

	factJSON, err := toPromptJSON(facts, ensureASCII, 4)
	if err != nil {
		return "", fmt.Errorf("failed to marshal fact JSON: %w", err)
	}
	entityJSON, err := toPromptJSON(entities, ensureASCII, 4)
	if err != nil {
		return "", fmt.Errorf("failed to marshal entity JSON: %w", err)
	}

	return fmt.Sprintf(`FACTS and ENTITIES represent relevant context to the current conversation.

These are the most relevant facts and their valid and invalid dates. Facts are considered valid
between their valid_at and invalid_at dates. Facts with an invalid_at date of "Present" are considered valid.
<FACTS>
%s
</FACTS>
<ENTITIES>
%s
</ENTITIES>`, factJSON, entityJSON), nil
}

// toPromptJSON marshals data with each line indented by indent spaces.
func toPromptJSON(data interface{}, ensureASCII bool, indent int) (string, error) {
	raw, err := json.MarshalIndent(data, "", "    ")
	if err != nil {
		return "", err
	}
	text := string(raw)
	if ensureASCII {
		var b strings.Builder
		for _, r := range text {
			if r > 127 {
				fmt.Fprintf(&b, "\\u%04x", r)
			} else {
				b.WriteRune(r)
			}
		}
		text = b.String()
	}

	pad := strings.Repeat(" ", indent)
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		if strings.TrimSpace(line) != "" {
			lines[i] = pad + line
		}
	}
	return strings.Join(lines, "\n"), nil
}
