package nlp_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/soundprediction/chronograph/pkg/nlp"
	"github.com/soundprediction/chronograph/pkg/types"
	"github.com/stretchr/testify/assert"
)

func TestProviderErrorMessages(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"rate limit default", nlp.NewRateLimitError(), "rate limit exceeded"},
		{"rate limit message", nlp.NewRateLimitError("slow down"), "rate limit exceeded: slow down"},
		{"refusal", nlp.NewRefusalError("content filter"), "model refused the prompt: content filter"},
		{"empty response", nlp.NewEmptyResponseError("no choices returned"), "model returned an empty response: no choices returned"},
		{"invalid model", nlp.NewInvalidModelError("gpt-0"), "invalid model: gpt-0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.EqualError(t, tt.err, tt.want)
		})
	}
}

func TestProviderErrorMatching(t *testing.T) {
	wrapped := fmt.Errorf("extract episode: %w", nlp.NewRateLimitError("slow down"))

	assert.ErrorIs(t, wrapped, nlp.ErrRateLimit)
	assert.ErrorIs(t, wrapped, &nlp.ProviderError{Reason: nlp.ReasonRateLimit})
	assert.ErrorIs(t, wrapped, &nlp.ProviderError{})
	assert.NotErrorIs(t, wrapped, nlp.ErrRefusal)
	assert.NotErrorIs(t, wrapped, &nlp.ProviderError{Reason: nlp.ReasonRefusal})

	var perr *nlp.ProviderError
	assert.ErrorAs(t, wrapped, &perr)
	assert.Equal(t, nlp.ReasonRateLimit, perr.Reason)

	assert.True(t, nlp.IsRetryable(wrapped))
	assert.False(t, nlp.IsRetryable(nlp.NewRefusalError("no")))
	assert.False(t, nlp.IsRetryable(nlp.NewInvalidModelError("gpt-0")))
}

func TestErrorKind(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want types.ErrorKind
	}{
		{"nil", nil, ""},
		{"rate limit", nlp.NewRateLimitError(), types.KindTransient},
		{"empty response", fmt.Errorf("chat: %w", nlp.NewEmptyResponseError("empty message content")), types.KindTransient},
		{"refusal", fmt.Errorf("chat: %w", nlp.NewRefusalError("no")), types.KindValidation},
		{"refusal sentinel", fmt.Errorf("chat: %w", nlp.ErrRefusal), types.KindValidation},
		{"invalid model", nlp.NewInvalidModelError("gpt-0"), types.KindFatal},
		{"open circuit", fmt.Errorf("nlp: %w", nlp.ErrCircuitOpen), types.KindTransient},
		{"network", errors.New("connection reset by peer"), types.KindTransient},
		{"deadline", context.DeadlineExceeded, types.KindTransient},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, nlp.ErrorKind(tt.err))
		})
	}
}
