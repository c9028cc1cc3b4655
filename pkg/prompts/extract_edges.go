package prompts

import (
	"fmt"

	"github.com/soundprediction/chronograph/pkg/nlp"
	"github.com/soundprediction/chronograph/pkg/types"
)

// extractEdgesPrompt extracts facts between already extracted entities.
func extractEdgesPrompt(context map[string]interface{}) ([]types.Message, error) {
	sysPrompt := `You are an expert fact extractor that extracts fact triples from text.
Each fact connects two of the given entities with a relation type in SCREAMING_SNAKE_CASE.`

	serialized, err := ToPromptYAML(map[string]interface{}{
		"entities":          context["entities"],
		"previous_episodes": context["previous_episodes"],
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal context data: %w", err)
	}

	userPrompt := fmt.Sprintf(`<CONTEXT>
%s
</CONTEXT>

<REFERENCE TIME>
%s
</REFERENCE TIME>

<CURRENT EPISODE>
%s
</CURRENT EPISODE>

Extract every fact in CURRENT EPISODE that connects two distinct entities from the entity list.

Guidelines:
1. "source" and "target" must be names copied exactly from the entity list.
2. "relation" is a short SCREAMING_SNAKE_CASE verb phrase such as WORKS_AT or LEFT.
3. "fact" restates the fact in one sentence, including relevant details.
4. "valid_at" is when the fact started to hold, if the text says so. Resolve relative
   expressions ("last year", "two weeks ago") against REFERENCE TIME. Use ISO 8601.
5. "invalid_at" is when the fact stopped holding, if the text says so.
6. Leave times empty when the text does not state them. Do not guess.

Respond with JSON:
{"facts": [{"source": "Alice", "target": "Acme", "relation": "WORKS_AT", "fact": "Alice works at Acme.", "valid_at": "2023-01-01", "invalid_at": ""}]}`,
		serialized, contextString(context, "reference_time"), contextString(context, "episode_content"))

	logPrompts(contextLogger(context), "extract_edges", sysPrompt, userPrompt)
	return []types.Message{
		nlp.NewSystemMessage(sysPrompt),
		nlp.NewUserMessage(userPrompt),
	}, nil
}
