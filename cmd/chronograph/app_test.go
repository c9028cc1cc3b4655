package chronograph

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soundprediction/chronograph/pkg/config"
	"github.com/soundprediction/chronograph/pkg/driver"
	"github.com/soundprediction/chronograph/pkg/server/dto"
	"github.com/soundprediction/chronograph/pkg/types"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		Log:        config.LogConfig{Level: "debug", Format: "json"},
		Database:   config.DatabaseConfig{Driver: "memory"},
		NLP:        config.NLPConfig{Provider: "openai", Model: "gpt-4o-mini", MaxTokens: 512, MaxRetries: 1},
		Embedding:  config.EmbeddingConfig{Provider: "none"},
		Lock:       config.LockConfig{Backend: "local"},
		Checkpoint: config.CheckpointConfig{InMemory: true},
		Metrics:    config.MetricsConfig{Enabled: true, Namespace: "cli_test"},
		Telemetry: config.TelemetryConfig{
			Enabled:     true,
			ParquetPath: filepath.Join(dir, "telemetry"),
			SQLPath:     filepath.Join(dir, "telemetry.db"),
			BatchSize:   10,
		},
	}
}

func TestNewAppFromConfig(t *testing.T) {
	a, err := newAppFromConfig(testConfig(t))
	require.NoError(t, err)

	assert.NotNil(t, a.client)
	require.NotNil(t, a.metrics)
	assert.NotNil(t, a.metrics.Registry())

	// graph reads work without calling the model
	eps, err := a.client.GetEpisodes(context.Background(), "g1", 5)
	require.NoError(t, err)
	assert.Empty(t, eps)

	assert.NoError(t, a.Close())
}

func TestNewAppRejectsUnknownSettings(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"log format", func(c *config.Config) { c.Log.Format = "xml" }},
		{"nlp provider", func(c *config.Config) { c.NLP.Provider = "carrier-pigeon" }},
		{"embedding provider", func(c *config.Config) { c.Embedding.Provider = "abacus" }},
		{"database driver", func(c *config.Config) { c.Database.Driver = "punchcards" }},
		{"lock backend", func(c *config.Config) { c.Lock.Backend = "zookeeper" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			tt.mutate(cfg)
			_, err := newAppFromConfig(cfg)
			assert.Error(t, err)
		})
	}
}

func TestNewDriver(t *testing.T) {
	d, err := newDriver(config.DatabaseConfig{Driver: "memory"})
	require.NoError(t, err)
	assert.IsType(t, &driver.MemoryDriver{}, d)

	d, err = newDriver(config.DatabaseConfig{Driver: "sqlite", URI: filepath.Join(t.TempDir(), "graph.db")})
	require.NoError(t, err)
	assert.NoError(t, d.Close())

	_, err = newDriver(config.DatabaseConfig{Driver: "falkordb"})
	assert.ErrorContains(t, err, "unsupported database driver")
}

type countingRecorder struct {
	calls int
	err   error
}

func (r *countingRecorder) AddUsage(ctx context.Context, usage *types.TokenUsage, model string) error {
	r.calls++
	return r.err
}

func TestUsageRecordersFanOut(t *testing.T) {
	boom := errors.New("boom")
	a, b := &countingRecorder{}, &countingRecorder{err: boom}

	err := usageRecorders{a, b}.AddUsage(context.Background(), &types.TokenUsage{TotalTokens: 10}, "m")
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, a.calls)
	assert.Equal(t, 1, b.calls)
}

func TestReadEpisodeLines(t *testing.T) {
	ingestGroup = "fallback"
	defer func() { ingestGroup = "" }()

	in := strings.Join([]string{
		`{"group_id":"g1","name":"first","content":"Alice joined Acme.","reference_time":"2023-01-15T00:00:00Z"}`,
		``,
		`{"content":"Bob joined Acme."}`,
	}, "\n")

	reqs, err := readEpisodeLines(strings.NewReader(in))
	require.NoError(t, err)
	require.Len(t, reqs, 2)
	assert.Equal(t, "g1", reqs[0].GroupID)
	assert.Equal(t, 2023, reqs[0].ReferenceTime.Year())
	assert.Equal(t, "fallback", reqs[1].GroupID)
	assert.False(t, reqs[1].ReferenceTime.IsZero())

	_, err = readEpisodeLines(strings.NewReader(`{"group_id":"g1"}`))
	assert.ErrorIs(t, err, dto.ErrEmptyContent)

	_, err = readEpisodeLines(strings.NewReader("not json"))
	assert.ErrorContains(t, err, "line 1")

	_, err = readEpisodeLines(strings.NewReader("\n"))
	assert.ErrorIs(t, err, dto.ErrEmptyEpisodes)
}

func TestParseTimeFlag(t *testing.T) {
	got, err := parseTimeFlag("as-of", "")
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = parseTimeFlag("as-of", "2024-06-01T00:00:00Z")
	require.NoError(t, err)
	assert.Equal(t, 2024, got.Year())

	_, err = parseTimeFlag("as-of", "yesterday")
	assert.ErrorContains(t, err, "--as-of")
}

func TestCheckpointsStatsCommand(t *testing.T) {
	viper.Set("checkpoint.in_memory", false)
	viper.Set("checkpoint.path", filepath.Join(t.TempDir(), "checkpoints"))
	defer viper.Reset()

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"checkpoints", "stats"})
	defer rootCmd.SetArgs(nil)

	require.NoError(t, rootCmd.Execute())

	var stats map[string]any
	require.NoError(t, json.Unmarshal(out.Bytes(), &stats))
	assert.EqualValues(t, 0, stats["Total"])
}
