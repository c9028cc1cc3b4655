package prompts

import (
	"fmt"

	"github.com/soundprediction/chronograph/pkg/nlp"
	"github.com/soundprediction/chronograph/pkg/types"
)

// resolveEdgePrompt classifies existing facts as duplicated or contradicted by a new fact.
func resolveEdgePrompt(context map[string]interface{}) ([]types.Message, error) {
	sysPrompt := `You are a helpful assistant that de-duplicates facts from fact lists and determines which existing facts are contradicted by the new fact.`

	serialized, err := ToPromptYAML(map[string]interface{}{
		"new_fact":       context["new_edge"],
		"existing_facts": context["existing_edges"],
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal context data: %w", err)
	}

	userPrompt := fmt.Sprintf(`<FACTS>
%s
</FACTS>

Compare new_fact with each of existing_facts.

1. A fact is a duplicate if it states the same information as new_fact, even in other words.
2. A fact is contradicted if new_fact means it no longer holds, for example because the
   relationship ended or was replaced.
3. Facts that are neither are unrelated; leave them out.

Respond with JSON listing ids from existing_facts:
{"duplicate_facts": ["<id>"], "contradicted_facts": ["<id>"]}`, serialized)

	logPrompts(contextLogger(context), "dedupe_edges", sysPrompt, userPrompt)
	return []types.Message{
		nlp.NewSystemMessage(sysPrompt),
		nlp.NewUserMessage(userPrompt),
	}, nil
}
