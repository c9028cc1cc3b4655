package nlp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/soundprediction/chronograph/pkg/types"
)

const (
	// compatibleModel is used against a custom base URL when no model is set.
	compatibleModel = "gpt-3.5-turbo"
	// placeholderKey satisfies the SDK for local servers that need no key.
	placeholderKey = "none"
	jsonOnlySuffix = "\n\nPlease respond with valid JSON only."
)

// OpenAIClient talks to the OpenAI chat completions API or to any server
// exposing the same API at Config.BaseURL.
type OpenAIClient struct {
	client     *openai.Client
	config     Config
	compatible bool
}

// NewOpenAIClient creates a client. A BaseURL without an API path gets /v1
// appended.
func NewOpenAIClient(apiKey string, config Config) (*OpenAIClient, error) {
	c := &OpenAIClient{config: config, compatible: config.BaseURL != ""}

	if !c.compatible {
		c.client = openai.NewClient(apiKey)
		if c.config.Model == "" {
			c.config.Model = openai.GPT4o
		}
		return c, nil
	}

	base, err := apiBaseURL(config.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	if apiKey == "" {
		apiKey = placeholderKey
	}
	sdkConfig := openai.DefaultConfig(apiKey)
	sdkConfig.BaseURL = base
	c.client = openai.NewClientWithConfig(sdkConfig)
	if c.config.Model == "" {
		c.config.Model = compatibleModel
	}
	return c, nil
}

func (c *OpenAIClient) Chat(ctx context.Context, messages []types.Message) (*types.Response, error) {
	return c.complete(ctx, c.request(messages, false))
}

// ChatWithStructuredOutput asks for a JSON object. The schema is described in
// the prompt; the API only enforces JSON syntax.
func (c *OpenAIClient) ChatWithStructuredOutput(ctx context.Context, messages []types.Message, schema any) (*types.Response, error) {
	return c.complete(ctx, c.request(messages, true))
}

func (c *OpenAIClient) Close() error {
	return nil
}

func (c *OpenAIClient) request(messages []types.Message, jsonOutput bool) openai.ChatCompletionRequest {
	req := openai.ChatCompletionRequest{
		Model:    c.config.Model,
		Messages: make([]openai.ChatCompletionMessage, len(messages)),
		Stop:     c.config.Stop,
	}
	for i, m := range messages {
		req.Messages[i] = openai.ChatCompletionMessage{Role: string(m.Role), Content: m.Content}
	}
	if t := c.config.Temperature; t != nil {
		req.Temperature = *t
	}
	if n := c.config.MaxTokens; n != nil {
		req.MaxTokens = *n
	}
	if p := c.config.TopP; p != nil {
		req.TopP = *p
	}

	if !jsonOutput {
		return req
	}
	req.ResponseFormat = &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject}
	// Compatible servers often ignore response_format.
	if n := len(req.Messages); c.compatible && n > 0 && req.Messages[n-1].Role == string(RoleUser) {
		req.Messages[n-1].Content += jsonOnlySuffix
	}
	return req
}

func (c *OpenAIClient) complete(ctx context.Context, req openai.ChatCompletionRequest) (*types.Response, error) {
	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("chat completion (%s): %w", req.Model, asRateLimit(err))
	}
	if len(resp.Choices) == 0 {
		return nil, NewEmptyResponseError("no choices returned")
	}

	choice := resp.Choices[0]
	switch {
	case choice.FinishReason == openai.FinishReasonContentFilter:
		return nil, NewRefusalError("response blocked by content filter")
	case choice.Message.Refusal != "":
		return nil, NewRefusalError("model refused: " + choice.Message.Refusal)
	case choice.Message.Content == "":
		return nil, NewEmptyResponseError("empty message content")
	}

	out := &types.Response{
		Content:      choice.Message.Content,
		FinishReason: string(choice.FinishReason),
		Model:        resp.Model,
	}
	// Some compatible servers report no usage.
	if u := resp.Usage; u.TotalTokens > 0 {
		out.TokensUsed = &types.TokenUsage{
			PromptTokens:     u.PromptTokens,
			CompletionTokens: u.CompletionTokens,
			TotalTokens:      u.TotalTokens,
		}
	}
	return out, nil
}

// asRateLimit wraps a 429 from the SDK in a rate limit ProviderError.
func asRateLimit(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("%w: %w", NewRateLimitError(apiErr.Message), err)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("%w: %w", NewRateLimitError(), err)
	}
	return err
}

// apiBaseURL checks that raw is an http(s) URL and appends /v1 unless it
// already ends in an API path.
func apiBaseURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("scheme must be http or https, got %q", u.Scheme)
	}
	base := strings.TrimRight(raw, "/")
	if strings.HasSuffix(base, "/v1") || strings.HasSuffix(base, "/api") {
		return base, nil
	}
	return base + "/v1", nil
}
