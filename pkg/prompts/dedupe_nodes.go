package prompts

import (
	"fmt"

	"github.com/soundprediction/chronograph/pkg/nlp"
	"github.com/soundprediction/chronograph/pkg/types"
)

// nodePrompt determines whether a new entity is one of the existing entities.
func nodePrompt(context map[string]interface{}) ([]types.Message, error) {
	sysPrompt := `You are a helpful assistant that determines whether or not a NEW ENTITY is a duplicate of any EXISTING ENTITIES.`

	serialized, err := ToPromptYAML(map[string]interface{}{
		"new_entity":        context["candidate"],
		"existing_entities": context["existing_nodes"],
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal context data: %w", err)
	}

	userPrompt := fmt.Sprintf(`<CURRENT EPISODE>
%s
</CURRENT EPISODE>

<ENTITIES>
%s
</ENTITIES>

Decide whether new_entity refers to the same real-world object as one of existing_entities.

- Answer "match" with its "match_id" only if the names and summaries clearly describe the same object.
- Answer "new" if it is clearly a different object from all of them.
- Answer "ambiguous" if the text does not let you tell.

Respond with JSON:
{"verdict": "match", "match_id": "<id of the existing entity>"}`,
		contextString(context, "episode_content"), serialized)

	logPrompts(contextLogger(context), "dedupe_node", sysPrompt, userPrompt)
	return []types.Message{
		nlp.NewSystemMessage(sysPrompt),
		nlp.NewUserMessage(userPrompt),
	}, nil
}
