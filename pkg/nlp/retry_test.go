package nlp

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soundprediction/chronograph/pkg/types"
	"github.com/soundprediction/chronograph/pkg/utils"
)

// flakyClient fails its first failures calls with err, then answers with
// resp or a fixed success message.
type flakyClient struct {
	mu       sync.Mutex
	calls    int
	failures int
	err      error
	resp     *types.Response
}

func (f *flakyClient) answer(content string) (*types.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failures {
		return nil, f.err
	}
	if f.resp != nil {
		return f.resp, nil
	}
	return &types.Response{Content: content}, nil
}

func (f *flakyClient) Chat(ctx context.Context, messages []types.Message) (*types.Response, error) {
	return f.answer("success")
}

func (f *flakyClient) ChatWithStructuredOutput(ctx context.Context, messages []types.Message, schema any) (*types.Response, error) {
	return f.answer(`{"status": "success"}`)
}

func (f *flakyClient) Close() error { return nil }

func (f *flakyClient) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func fastBackoff() utils.Backoff {
	return utils.Backoff{
		MaxRetries:   3,
		InitialDelay: 5 * time.Millisecond,
		MaxDelay:     20 * time.Millisecond,
		Multiplier:   2.0,
	}
}

var userPrompt = []types.Message{{Role: RoleUser, Content: "who works at Acme?"}}

func TestRetryClient(t *testing.T) {
	tests := []struct {
		name      string
		failures  int
		err       error
		wantErr   bool
		wantCalls int
	}{
		{name: "first attempt succeeds", wantCalls: 1},
		{name: "server errors are retried", failures: 2, err: errors.New("500 internal server error"), wantCalls: 3},
		{name: "rate limits are retried", failures: 2, err: NewRateLimitError("slow down"), wantCalls: 3},
		{name: "gives up after max retries", failures: 10, err: errors.New("503 service unavailable"), wantErr: true, wantCalls: 4},
		{name: "client errors are not retried", failures: 10, err: errors.New("400 bad request"), wantErr: true, wantCalls: 1},
		{name: "refusals are not retried", failures: 10, err: NewRefusalError("no"), wantErr: true, wantCalls: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			base := &flakyClient{failures: tt.failures, err: tt.err}
			client := NewRetryClient(base, fastBackoff())

			resp, err := client.Chat(context.Background(), userPrompt)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, tt.err)
			} else {
				require.NoError(t, err)
				assert.Equal(t, "success", resp.Content)
			}
			assert.Equal(t, tt.wantCalls, base.callCount())
		})
	}
}

func TestRetryClientStructuredOutput(t *testing.T) {
	base := &flakyClient{failures: 1, err: errors.New("502 bad gateway")}
	client := NewRetryClient(base, fastBackoff())

	resp, err := client.ChatWithStructuredOutput(context.Background(), userPrompt, map[string]any{"type": "object"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"status": "success"}`, resp.Content)
	assert.Equal(t, 2, base.callCount())
}

func TestRetryClientWaitsBetweenAttempts(t *testing.T) {
	base := &flakyClient{failures: 2, err: errors.New("connection reset by peer")}
	client := NewRetryClient(base, fastBackoff())

	start := time.Now()
	_, err := client.Chat(context.Background(), userPrompt)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 15*time.Millisecond, "5ms then 10ms")
}

func TestRetryClientStopsOnCancel(t *testing.T) {
	base := &flakyClient{failures: 10, err: errors.New("504 gateway timeout")}
	client := NewRetryClient(base, utils.Backoff{
		MaxRetries:   5,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := client.Chat(ctx, userPrompt)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, base.callCount())
}

func TestNewRetryClientDefaults(t *testing.T) {
	client := NewRetryClient(&flakyClient{}, utils.Backoff{})
	assert.Equal(t, DefaultBackoff(), client.backoff)

	disabled := NewRetryClient(&flakyClient{}, utils.Backoff{MaxRetries: -1})
	assert.Zero(t, disabled.backoff.MaxRetries)

	def := DefaultBackoff()
	assert.Equal(t, time.Second, def.Delay(1))
	assert.Equal(t, 8*time.Second, def.Delay(4))
	assert.Equal(t, time.Minute, def.Delay(10))
}

// statusError carries an HTTP status like the provider SDK errors.
type statusError struct {
	code int
}

func (e statusError) Error() string       { return fmt.Sprintf("request failed with status %d", e.code) }
func (e statusError) HTTPStatusCode() int { return e.code }

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		retryable bool
	}{
		{"nil", nil, false},
		{"500 message", errors.New("500 internal server error"), true},
		{"502 message", errors.New("502 bad gateway"), true},
		{"504 message", errors.New("504 gateway timeout"), true},
		{"timeout message", errors.New("connection timeout"), true},
		{"rate limit message", errors.New("rate limit exceeded"), true},
		{"429 message", errors.New("429 too many requests"), true},
		{"connection reset", errors.New("connection reset by peer"), true},
		{"400 message", errors.New("400 bad request"), false},
		{"401 message", errors.New("401 unauthorized"), false},
		{"404 message", errors.New("404 not found"), false},
		{"rate limit type", NewRateLimitError(), true},
		{"refusal type", NewRefusalError("refused"), false},
		{"open circuit", fmt.Errorf("extractor: %w", ErrCircuitOpen), true},
		{"deadline", fmt.Errorf("chat: %w", context.DeadlineExceeded), true},
		{"status 503", fmt.Errorf("wrapped: %w", statusError{503}), true},
		{"status 429", fmt.Errorf("wrapped: %w", statusError{429}), true},
		{"status 400", fmt.Errorf("wrapped: %w", statusError{400}), false},
		{"status 403", fmt.Errorf("wrapped: %w", statusError{403}), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.retryable, IsRetryable(tt.err))
		})
	}
}
