// Package nlp provides the LLM transport used by the extractor.
//
// Client is the chat interface. OpenAIClient talks to OpenAI or any
// OpenAI-compatible endpoint (Ollama, vLLM) through BaseURL.
//
// # Client Wrappers
//
//   - RetryClient: retry with exponential backoff on rate limits, 5xx and timeouts
//   - CircuitBreakerClient: stops calling a failing upstream and raises an alert
//   - TokenTrackingClient: forwards token usage to a UsageRecorder
//
// # Usage
//
//	base, err := nlp.NewOpenAIClient(apiKey, nlp.Config{Model: "gpt-4o-mini"})
//	client := nlp.NewCircuitBreakerClient(
//		nlp.NewRetryClient(base, nlp.DefaultBackoff()),
//		cfg.CircuitBreaker, alerter, "extractor", logger)
//	resp, err := client.ChatWithStructuredOutput(ctx, messages, schema)
//
// # Error Handling
//
// A call that reaches the provider but yields no usable answer fails with a
// ProviderError whose Reason matches ErrRateLimit, ErrRefusal,
// ErrEmptyResponse or ErrInvalidModel under errors.Is. ErrCircuitOpen is
// returned while a breaker refuses calls.
//
// IsRetryable reports whether an error is worth another attempt and ErrorKind
// maps it onto the pipeline error kinds.
package nlp
