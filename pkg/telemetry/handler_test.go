package telemetry

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soundprediction/chronograph/pkg/types"
)

func archived(t *testing.T, dir string) []LogRecord {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var out []LogRecord
	for _, e := range entries {
		recs, err := ReadLogFile(filepath.Join(dir, e.Name()))
		require.NoError(t, err)
		out = append(out, recs...)
	}
	return out
}

func TestParquetHandler(t *testing.T) {
	dir := t.TempDir()
	var text bytes.Buffer
	h, err := NewParquetHandler(slog.NewTextHandler(&text, nil), dir, 2)
	require.NoError(t, err)

	logger := slog.New(h).With("group_id", "g1")
	ctx := context.WithValue(context.Background(), types.ContextKeyRequestSource, "http")

	logger.InfoContext(ctx, "not archived")
	logger.ErrorContext(ctx, "commit failed", "episode_id", "ep-1", "error", errors.New("boom"))
	assert.Empty(t, archived(t, dir), "below the batch size nothing is written")

	logger.WithGroup("search").Error("channel failed", "channel", "keyword")

	recs := archived(t, dir)
	require.Len(t, recs, 2)
	assert.Equal(t, "commit failed", recs[0].Message)
	assert.Equal(t, "ERROR", recs[0].Level)
	assert.Equal(t, "g1", recs[0].GroupID)
	assert.Equal(t, "ep-1", recs[0].EpisodeID)
	assert.Equal(t, "http", recs[0].RequestSource)
	assert.Contains(t, recs[0].Attributes, `"error":"boom"`)
	assert.NotEmpty(t, recs[0].ID)
	assert.Contains(t, recs[1].Attributes, `"search.channel":"keyword"`)

	assert.Contains(t, text.String(), "not archived")
	assert.Contains(t, text.String(), "commit failed")
}

func TestParquetHandlerFlushOnClose(t *testing.T) {
	dir := t.TempDir()
	h, err := NewParquetHandler(slog.NewTextHandler(&bytes.Buffer{}, nil), dir, 0)
	require.NoError(t, err)

	slog.New(h).Error("one")
	assert.Empty(t, archived(t, dir))

	require.NoError(t, h.Close())
	assert.Len(t, archived(t, dir), 1)

	require.NoError(t, h.Close())
	assert.Len(t, archived(t, dir), 1)
}

func TestSQLHandler(t *testing.T) {
	db, err := OpenSQLite(filepath.Join(t.TempDir(), "telemetry.db"))
	require.NoError(t, err)
	defer db.Close()

	h, err := NewSQLHandler(slog.NewTextHandler(&bytes.Buffer{}, nil), db)
	require.NoError(t, err)

	ctx := context.WithValue(context.Background(), types.ContextKeyRequestID, "req-7")
	logger := slog.New(h)
	logger.WarnContext(ctx, "ignored")
	logger.With("group_id", "g1").ErrorContext(ctx, "stored", "episode_id", "ep-2")

	var count int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM telemetry_logs`).Scan(&count))
	assert.Equal(t, 1, count)

	var msg, reqID, group, episode string
	require.NoError(t, db.QueryRow(`SELECT message, request_id, group_id, episode_id FROM telemetry_logs`).Scan(&msg, &reqID, &group, &episode))
	assert.Equal(t, "stored", msg)
	assert.Equal(t, "req-7", reqID)
	assert.Equal(t, "g1", group)
	assert.Equal(t, "ep-2", episode)
}
