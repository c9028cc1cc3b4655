package chronograph

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	core "github.com/soundprediction/chronograph"
	"github.com/soundprediction/chronograph/pkg/alert"
	"github.com/soundprediction/chronograph/pkg/config"
	"github.com/soundprediction/chronograph/pkg/crossencoder"
	"github.com/soundprediction/chronograph/pkg/driver"
	"github.com/soundprediction/chronograph/pkg/embedder"
	"github.com/soundprediction/chronograph/pkg/extractor"
	"github.com/soundprediction/chronograph/pkg/logger"
	"github.com/soundprediction/chronograph/pkg/metrics"
	"github.com/soundprediction/chronograph/pkg/nlp"
	"github.com/soundprediction/chronograph/pkg/telemetry"
	"github.com/soundprediction/chronograph/pkg/types"
)

// app holds everything a command needs, built from configuration.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	client  *core.Client
	metrics *metrics.Prometheus
	alerter alert.Alerter
	closers []func() error
}

// newApp loads configuration and builds a client with its collaborators.
func newApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return newAppFromConfig(cfg)
}

func newAppFromConfig(cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg}

	log, err := a.newLogger()
	if err != nil {
		return nil, err
	}
	a.logger = log

	var settings *core.Config
	ok := false
	defer func() {
		if ok {
			return
		}
		if a.client == nil && settings != nil {
			settings.Checkpoints.Store().Close()
		}
		a.Close()
	}()

	settings, err = core.ConfigFromSettings(cfg, log)
	if err != nil {
		return nil, err
	}
	if p, isProm := settings.Metrics.(*metrics.Prometheus); isProm {
		a.metrics = p
	}
	a.alerter = settings.Alerter
	if settings.CrossEncoder != nil {
		a.closers = append(a.closers, settings.CrossEncoder.Close)
	}

	nlpClient, err := a.newNLPClient()
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, nlpClient.Close)
	settings.Summarizer = nlpClient

	emb, err := a.newEmbedder()
	if err != nil {
		return nil, err
	}
	if emb != nil {
		a.closers = append(a.closers, emb.Close)
		if cfg.Search.CrossEncoderProvider == string(crossencoder.ProviderEmbedding) {
			settings.CrossEncoder = crossencoder.NewEmbeddingRerankerClient(emb, crossencoder.DefaultConfig(crossencoder.ProviderEmbedding))
		}
	}

	graphDriver, err := newDriver(cfg.Database)
	if err != nil {
		return nil, err
	}

	client, err := core.NewClient(graphDriver, extractor.NewLLMExtractor(nlpClient, log), emb, settings, log)
	if err != nil {
		graphDriver.Close()
		return nil, fmt.Errorf("failed to create client: %w", err)
	}
	a.client = client

	log.Info("chronograph initialized",
		"driver", cfg.Database.Driver,
		"nlp_model", cfg.NLP.Model,
		"embedding_provider", cfg.Embedding.Provider)
	ok = true
	return a, nil
}

// Close releases the client and then every other resource in reverse order
// of creation.
func (a *app) Close() error {
	var errs []error
	if a.client != nil {
		errs = append(errs, a.client.Close())
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	return errors.Join(errs...)
}

// newLogger builds the text or JSON handler, wrapped with the telemetry
// handlers when telemetry is enabled.
func (a *app) newLogger() (*slog.Logger, error) {
	opts := &slog.HandlerOptions{Level: logger.ParseLevel(a.cfg.Log.Level)}

	var handler slog.Handler
	switch a.cfg.Log.Format {
	case "json":
		handler = slog.NewJSONHandler(os.Stderr, opts)
	case "", "text":
		handler = logger.NewColorHandler(os.Stderr, opts)
	default:
		return nil, fmt.Errorf("unsupported log format: %s", a.cfg.Log.Format)
	}

	if !a.cfg.Telemetry.Enabled {
		return slog.New(handler), nil
	}

	if a.cfg.Telemetry.SQLPath != "" {
		db, err := telemetry.OpenSQLite(a.cfg.Telemetry.SQLPath)
		if err != nil {
			return nil, err
		}
		sqlHandler, err := telemetry.NewSQLHandler(handler, db)
		if err != nil {
			db.Close()
			return nil, err
		}
		a.closers = append(a.closers, db.Close)
		handler = sqlHandler
	}

	if a.cfg.Telemetry.ParquetPath != "" {
		parquetHandler, err := telemetry.NewParquetHandler(handler, a.cfg.Telemetry.ParquetPath, a.cfg.Telemetry.BatchSize)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, parquetHandler.Close)
		handler = parquetHandler
	}
	return slog.New(handler), nil
}

// newNLPClient builds the model client and wraps it with retries, the
// circuit breaker and token accounting.
func (a *app) newNLPClient() (nlp.Client, error) {
	cfg := a.cfg.NLP
	var base nlp.Client
	switch cfg.Provider {
	case "openai", "":
		temperature := cfg.Temperature
		maxTokens := cfg.MaxTokens
		c, err := nlp.NewOpenAIClient(cfg.APIKey, nlp.Config{
			Model:       cfg.Model,
			Temperature: &temperature,
			MaxTokens:   &maxTokens,
			BaseURL:     cfg.BaseURL,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create NLP client: %w", err)
		}
		base = c
	default:
		return nil, fmt.Errorf("unsupported NLP provider: %s", cfg.Provider)
	}

	backoff := nlp.DefaultBackoff()
	if cfg.MaxRetries > 0 {
		backoff.MaxRetries = cfg.MaxRetries
	}
	client := nlp.Client(nlp.NewRetryClient(base, backoff))

	if a.cfg.CircuitBreaker.Enabled {
		client = nlp.NewCircuitBreakerClient(client, a.cfg.CircuitBreaker, a.alerter, "nlp", a.logger)
	}

	var recorders usageRecorders
	if a.metrics != nil {
		recorders = append(recorders, a.metrics)
	}
	if a.cfg.Telemetry.Enabled && a.cfg.Telemetry.ParquetPath != "" {
		tracker, err := nlp.NewTokenTracker(a.cfg.Telemetry.ParquetPath, a.cfg.Telemetry.BatchSize)
		if err != nil {
			a.logger.Warn("token tracking disabled", "error", err)
		} else {
			recorders = append(recorders, tracker)
			a.closers = append(a.closers, tracker.Flush)
		}
	}
	if len(recorders) > 0 {
		client = nlp.NewTokenTrackingClient(client, recorders, a.logger)
	}
	return client, nil
}

// newEmbedder returns nil when embeddings are disabled, which turns off the
// vector search channel.
func (a *app) newEmbedder() (embedder.Client, error) {
	cfg := a.cfg.Embedding
	ecfg := embedder.Config{
		Model:      cfg.Model,
		BaseURL:    cfg.BaseURL,
		Dimensions: cfg.Dimensions,
	}

	var client embedder.Client
	switch cfg.Provider {
	case "", "none":
		return nil, nil
	case "openai":
		client = embedder.NewOpenAIEmbedder(cfg.APIKey, ecfg)
	case "embedeverything":
		c, err := embedder.NewEmbedEverythingClient(ecfg)
		if err != nil {
			return nil, err
		}
		client = c
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s", cfg.Provider)
	}

	if cfg.Dimensions > 0 {
		client = embedder.NewDimensionGuard(client, cfg.Dimensions)
	}
	if cfg.CacheSize > 0 {
		cached, err := embedder.NewCachedClient(client, cfg.CacheSize)
		if err != nil {
			client.Close()
			return nil, fmt.Errorf("failed to create embedding cache: %w", err)
		}
		client = cached
	}
	return client, nil
}

func newDriver(cfg config.DatabaseConfig) (driver.GraphDriver, error) {
	switch cfg.Driver {
	case "memory":
		return driver.NewMemoryDriver(), nil
	case "sqlite", "":
		d, err := driver.NewSQLiteDriver(cfg.URI)
		if err != nil {
			return nil, fmt.Errorf("failed to create sqlite driver: %w", err)
		}
		return d, nil
	case "neo4j":
		d, err := driver.NewNeo4jDriver(cfg.URI, cfg.Username, cfg.Password, cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to create neo4j driver: %w", err)
		}
		return d, nil
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}
}

// usageRecorders fans token usage out to several recorders.
type usageRecorders []nlp.UsageRecorder

func (r usageRecorders) AddUsage(ctx context.Context, usage *types.TokenUsage, model string) error {
	var errs []error
	for _, rec := range r {
		errs = append(errs, rec.AddUsage(ctx, usage, model))
	}
	return errors.Join(errs...)
}
