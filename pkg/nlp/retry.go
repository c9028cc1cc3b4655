package nlp

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/soundprediction/chronograph/pkg/types"
	"github.com/soundprediction/chronograph/pkg/utils"
)

// DefaultBackoff is the retry schedule for model calls: three retries
// starting at one second, doubling up to a minute.
func DefaultBackoff() utils.Backoff {
	return utils.Backoff{
		MaxRetries:   3,
		InitialDelay: time.Second,
		MaxDelay:     time.Minute,
		Multiplier:   2.0,
	}
}

// RetryClient retries calls that fail with a retryable error (see
// IsRetryable). Other errors are returned after the first attempt.
type RetryClient struct {
	client  Client
	backoff utils.Backoff
	logger  *slog.Logger
}

// NewRetryClient wraps client. Zero fields of backoff take their value from
// DefaultBackoff; a negative MaxRetries disables retries.
func NewRetryClient(client Client, backoff utils.Backoff) *RetryClient {
	def := DefaultBackoff()
	if backoff.MaxRetries < 0 {
		backoff.MaxRetries = 0
	} else if backoff.MaxRetries == 0 {
		backoff.MaxRetries = def.MaxRetries
	}
	if backoff.InitialDelay <= 0 {
		backoff.InitialDelay = def.InitialDelay
	}
	if backoff.MaxDelay <= 0 {
		backoff.MaxDelay = def.MaxDelay
	}
	if backoff.Multiplier <= 0 {
		backoff.Multiplier = def.Multiplier
	}
	return &RetryClient{
		client:  client,
		backoff: backoff,
		logger:  slog.Default(),
	}
}

// WithLogger sets the logger used to report retry attempts.
func (r *RetryClient) WithLogger(logger *slog.Logger) *RetryClient {
	if logger != nil {
		r.logger = logger
	}
	return r
}

func (r *RetryClient) Chat(ctx context.Context, messages []types.Message) (*types.Response, error) {
	return r.do(ctx, "chat", func(ctx context.Context) (*types.Response, error) {
		return r.client.Chat(ctx, messages)
	})
}

func (r *RetryClient) ChatWithStructuredOutput(ctx context.Context, messages []types.Message, schema any) (*types.Response, error) {
	return r.do(ctx, "structured_chat", func(ctx context.Context) (*types.Response, error) {
		return r.client.ChatWithStructuredOutput(ctx, messages, schema)
	})
}

func (r *RetryClient) do(ctx context.Context, op string, call func(context.Context) (*types.Response, error)) (*types.Response, error) {
	var (
		resp    *types.Response
		attempt int
	)
	err := utils.Retry(ctx, r.backoff, IsRetryable, func(ctx context.Context) error {
		attempt++
		var err error
		resp, err = call(ctx)
		if err != nil && attempt <= r.backoff.MaxRetries && IsRetryable(err) {
			r.logger.Debug("retrying llm call", "op", op, "attempt", attempt, "delay", r.backoff.Delay(attempt), "error", err)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (r *RetryClient) Close() error {
	return r.client.Close()
}

// httpStatusError is implemented by transport errors that carry a status code.
type httpStatusError interface {
	HTTPStatusCode() int
}

var retryablePatterns = []string{
	"500", "internal server error",
	"502", "bad gateway",
	"503", "service unavailable",
	"504", "gateway timeout",
	"timeout",
	"connection reset",
	"connection refused",
	"temporary failure",
	"rate limit",
	"too many requests",
	"429",
}

// IsRetryable reports whether err is worth retrying: rate limits, an open
// circuit, server errors, timeouts and dropped connections.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, ErrRateLimit) || errors.Is(err, ErrCircuitOpen) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var httpErr httpStatusError
	if errors.As(err, &httpErr) {
		code := httpErr.HTTPStatusCode()
		return code >= http.StatusInternalServerError || code == http.StatusTooManyRequests
	}

	msg := strings.ToLower(err.Error())
	for _, pattern := range retryablePatterns {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}
