package nlp

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/parquet-go/parquet-go"
	"github.com/soundprediction/chronograph/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type usageSink struct {
	models []string
	total  int
	err    error
}

func (s *usageSink) AddUsage(ctx context.Context, usage *types.TokenUsage, model string) error {
	s.models = append(s.models, model)
	s.total += usage.TotalTokens
	return s.err
}

func TestTokenTrackingClient_RecordsUsage(t *testing.T) {
	mock := &flakyClient{resp: &types.Response{
		Content:    "ok",
		TokensUsed: &types.TokenUsage{PromptTokens: 7, CompletionTokens: 3, TotalTokens: 10},
	}}
	sink := &usageSink{}
	client := NewTokenTrackingClient(mock, sink, nil)

	_, err := client.Chat(context.Background(), []types.Message{NewUserMessage("hi")})
	require.NoError(t, err)
	assert.Equal(t, []string{"unknown"}, sink.models)
	assert.Equal(t, 10, sink.total)
}

func TestTokenTrackingClient_RecorderFailureIsNotFatal(t *testing.T) {
	mock := &flakyClient{resp: &types.Response{
		Content:    "ok",
		Model:      "gpt-test",
		TokensUsed: &types.TokenUsage{TotalTokens: 1},
	}}
	client := NewTokenTrackingClient(mock, &usageSink{err: errors.New("disk full")}, nil)

	resp, err := client.Chat(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content)
}

func TestParquetTokenTracker_FlushesBatches(t *testing.T) {
	dir := t.TempDir()
	tracker, err := NewTokenTracker(dir, 2)
	require.NoError(t, err)

	ctx := context.WithValue(context.Background(), types.ContextKeyRequestID, "req-1")
	usage := &types.TokenUsage{PromptTokens: 1, CompletionTokens: 1, TotalTokens: 2}
	require.NoError(t, tracker.AddUsage(ctx, usage, "gpt-test"))
	require.NoError(t, tracker.AddUsage(ctx, usage, "gpt-test"))
	require.NoError(t, tracker.AddUsage(ctx, usage, "gpt-test"))
	require.NoError(t, tracker.Flush())

	files, err := filepath.Glob(filepath.Join(dir, "token_usage_*.parquet"))
	require.NoError(t, err)
	require.Len(t, files, 2)

	var rows int
	for _, f := range files {
		records, err := parquet.ReadFile[TokenUsageRecord](f)
		require.NoError(t, err)
		for _, r := range records {
			assert.Equal(t, "req-1", r.RequestID)
		}
		rows += len(records)
	}
	assert.Equal(t, 3, rows)

	_, err = os.Stat(dir)
	assert.NoError(t, err)
}
