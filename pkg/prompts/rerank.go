package prompts

import (
	"fmt"

	"github.com/soundprediction/chronograph/pkg/nlp"
	"github.com/soundprediction/chronograph/pkg/types"
)

// RerankItem is one passage offered to the rerank prompt.
type RerankItem struct {
	ID   string `json:"id" yaml:"id"`
	Text string `json:"text" yaml:"text"`
}

// RerankScores is the model's answer to the rerank prompt.
type RerankScores struct {
	Scores []RerankScore `json:"scores"`
}

// RerankScore is the relevance of one passage, from 0 to 1.
type RerankScore struct {
	ID    string  `json:"id"`
	Score float64 `json:"score"`
}

// rerankPrompt scores passages by relevance to a query.
func rerankPrompt(context map[string]interface{}) ([]types.Message, error) {
	sysPrompt := `You are a relevance scoring system. Score how relevant each passage is to the given query.`

	serialized, err := ToPromptYAML(context["items"])
	if err != nil {
		return nil, fmt.Errorf("failed to marshal context data: %w", err)
	}

	userPrompt := fmt.Sprintf(`<QUERY>
%s
</QUERY>

<PASSAGES>
%s
</PASSAGES>

Score every passage from 0.0 (unrelated) to 1.0 (directly answers the query).
Consider semantic relevance and topical alignment, not wording overlap.

Respond with JSON:
{"scores": [{"id": "<passage id>", "score": 0.9}]}`,
		contextString(context, "query"), serialized)

	logPrompts(contextLogger(context), "rerank", sysPrompt, userPrompt)
	return []types.Message{
		nlp.NewSystemMessage(sysPrompt),
		nlp.NewUserMessage(userPrompt),
	}, nil
}
