package prompts

import (
	"fmt"

	"github.com/soundprediction/chronograph/pkg/nlp"
	"github.com/soundprediction/chronograph/pkg/types"
)

// extractNodesPrompt extracts entity nodes from an episode.
func extractNodesPrompt(context map[string]interface{}) ([]types.Message, error) {
	sysPrompt := `You are an AI assistant that extracts entity nodes from text.
Extract the significant people, organizations, places, products and concepts the text mentions.
Never extract dates, times or the relationships themselves as entities.`

	serialized, err := ToPromptYAML(map[string]interface{}{
		"entity_types":      context["entity_types"],
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

Extract the entities mentioned in CURRENT EPISODE. PREVIOUS EPISODES are context only;
do not extract entities that appear only there.

Guidelines:
1. Use the most complete name the text gives for each entity.
2. Choose labels from ENTITY TYPES when they are given; otherwise use a short PascalCase label.
3. "context" is one sentence from CURRENT EPISODE describing the entity.
4. "attributes" holds only the fields declared for the chosen labels.

Respond with JSON:
{"entities": [{"name": "Alice", "labels": ["Person"], "context": "Alice is an engineer.", "attributes": {}}]}`,
		serialized, contextString(context, "reference_time"), contextString(context, "episode_content"))

	logPrompts(contextLogger(context), "extract_nodes", sysPrompt, userPrompt)
	return []types.Message{
		nlp.NewSystemMessage(sysPrompt),
		nlp.NewUserMessage(userPrompt),
	}, nil
}
