package chronograph

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/soundprediction/chronograph/pkg/alert"
	"github.com/soundprediction/chronograph/pkg/checkpoint"
	"github.com/soundprediction/chronograph/pkg/community"
	"github.com/soundprediction/chronograph/pkg/config"
	"github.com/soundprediction/chronograph/pkg/crossencoder"
	"github.com/soundprediction/chronograph/pkg/driver"
	"github.com/soundprediction/chronograph/pkg/embedder"
	"github.com/soundprediction/chronograph/pkg/extractor"
	"github.com/soundprediction/chronograph/pkg/lock"
	"github.com/soundprediction/chronograph/pkg/metrics"
	"github.com/soundprediction/chronograph/pkg/nlp"
	"github.com/soundprediction/chronograph/pkg/search"
	"github.com/soundprediction/chronograph/pkg/utils"
	"github.com/soundprediction/chronograph/pkg/utils/maintenance"
)

var (
	// ErrEpisodeNotFound is returned when an episode does not exist.
	ErrEpisodeNotFound = errors.New("episode not found")
	// ErrNoExtractor is returned by NewClient without an extractor.
	ErrNoExtractor = errors.New("an extractor is required")
	// ErrNoDriver is returned by NewClient without a driver.
	ErrNoDriver = errors.New("a graph driver is required")
)

// Default ingestion settings.
const (
	DefaultPreviousEpisodes = 5
	DefaultMaxConcurrency   = 4
)

// Config holds the tunables and optional collaborators of a Client. Zero
// values select defaults.
type Config struct {
	Search     search.Options
	Ingestion  config.IngestionConfig
	Resolution config.ResolutionConfig

	// Policy drives edge contradiction decisions. Defaults to
	// maintenance.DefaultRelationPolicy.
	Policy *maintenance.RelationPolicy

	// Locker serializes concurrent episodes. Defaults to an in-process
	// locker.
	Locker lock.Locker

	// Checkpoints records pipeline states. Defaults to an in-memory store.
	Checkpoints *checkpoint.Manager

	Metrics metrics.Collector

	// Alerter is told about commits that fail for good. Defaults to
	// alert.NoOpAlerter.
	Alerter alert.Alerter

	// Summarizer backs the LLM reranker and community summaries. Optional.
	Summarizer nlp.Client

	// CrossEncoder backs the cross_encoder reranker. Optional; the caller
	// closes it.
	CrossEncoder crossencoder.Client

	// Now supplies the system time. Defaults to time.Now.
	Now func() time.Time
}

// ConfigFromSettings builds a Config from loaded settings. The checkpoint
// store it opens is closed by Client.Close.
func ConfigFromSettings(cfg *config.Config, logger *slog.Logger) (*Config, error) {
	if logger == nil {
		logger = slog.Default()
	}
	out := &Config{
		Search:     search.OptionsFromConfig(cfg.Search),
		Ingestion:  cfg.Ingestion,
		Resolution: cfg.Resolution,
	}

	if cfg.Policy.Path != "" {
		policy, err := maintenance.LoadRelationPolicy(cfg.Policy.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to load relation policy: %w", err)
		}
		out.Policy = policy
	}

	locker, err := lock.New(cfg.Lock, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create locker: %w", err)
	}
	out.Locker = locker

	store, err := checkpoint.New(cfg.Checkpoint, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open checkpoint store: %w", err)
	}
	out.Checkpoints = checkpoint.NewManager(store, logger)

	if cfg.Metrics.Enabled {
		out.Metrics = metrics.NewPrometheus(cfg.Metrics.Namespace)
	}
	if cfg.Alert.Enabled {
		out.Alerter = alert.NewEmailAlerter(cfg.Alert)
	}

	// The embedding provider needs the embedder and is built by the caller.
	if cfg.Search.CrossEncoderProvider == string(crossencoder.ProviderEmbedEverything) {
		ce, err := crossencoder.NewClient(crossencoder.ClientConfig{
			Provider: crossencoder.ProviderEmbedEverything,
			Config:   crossencoder.Config{Model: cfg.Search.CrossEncoderModel},
		})
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("failed to create cross-encoder: %w", err)
		}
		out.CrossEncoder = ce
	}
	return out, nil
}

// Client is the entry point to a bi-temporal knowledge graph. It is safe for
// concurrent use.
type Client struct {
	driver    driver.GraphDriver
	extractor extractor.Extractor
	embedder  embedder.Client

	nodeOps     *maintenance.NodeOperations
	edgeOps     *maintenance.EdgeOperations
	maintenance *maintenance.MaintenanceUtils
	searcher    *search.Searcher
	community   *community.Builder

	locker      lock.Locker
	checkpoints *checkpoint.Manager
	metrics     metrics.Collector
	alerter     alert.Alerter

	config *Config
	logger *slog.Logger
}

// NewClient creates a new client. The embedder may be nil, which disables
// embedding matches and the embedding search channel.
func NewClient(d driver.GraphDriver, ext extractor.Extractor, emb embedder.Client, cfg *Config, logger *slog.Logger) (*Client, error) {
	if d == nil {
		return nil, ErrNoDriver
	}
	if ext == nil {
		return nil, ErrNoExtractor
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Ingestion.PreviousEpisodes == 0 {
		cfg.Ingestion.PreviousEpisodes = DefaultPreviousEpisodes
	}
	if cfg.Ingestion.MaxConcurrency <= 0 {
		cfg.Ingestion.MaxConcurrency = DefaultMaxConcurrency
	}
	if cfg.Locker == nil {
		cfg.Locker = lock.NewLocalLocker()
	}
	if cfg.Checkpoints == nil {
		cfg.Checkpoints = checkpoint.NewManager(checkpoint.NewMemoryStore(), logger)
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.Noop{}
	}
	if cfg.Alerter == nil {
		cfg.Alerter = alert.NoOpAlerter{}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	nodeOps := maintenance.NewNodeOperations(d, ext, emb)
	nodeOps.SetLogger(logger)
	nodeOps.Now = cfg.Now
	if r := cfg.Resolution; r.MaxCandidates > 0 {
		nodeOps.MaxCandidates = r.MaxCandidates
	}
	if r := cfg.Resolution; r.PlausibleSimilarity > 0 {
		nodeOps.SimilarityThreshold = r.PlausibleSimilarity
	}
	if r := cfg.Resolution; r.StrongSimilarity > 0 {
		nodeOps.StrongSimilarityThreshold = r.StrongSimilarity
	}
	if r := cfg.Resolution; r.FuzzyThreshold > 0 {
		nodeOps.FuzzyThreshold = r.FuzzyThreshold
	}

	edgeOps := maintenance.NewEdgeOperations(d, ext, emb, cfg.Policy)
	edgeOps.SetLogger(logger)

	mu := maintenance.NewMaintenanceUtils(d)
	mu.SetLogger(logger)

	searcher := search.NewSearcher(d, emb, cfg.Search)
	searcher.SetLogger(logger)
	searcher.SetMetrics(cfg.Metrics)
	if emb != nil {
		searcher.RegisterReranker(search.RerankerMMR, search.NewMMRReranker(emb))
	}
	if cfg.Summarizer != nil {
		searcher.RegisterReranker(search.RerankerLLM, search.NewLLMReranker(cfg.Summarizer, logger))
	}
	if cfg.CrossEncoder != nil {
		searcher.RegisterReranker(search.RerankerCrossEncoder, search.NewCrossEncoderReranker(cfg.CrossEncoder))
	}

	builder := community.NewBuilder(d, cfg.Summarizer)
	builder.SetLogger(logger)

	return &Client{
		driver:      d,
		extractor:   ext,
		embedder:    emb,
		nodeOps:     nodeOps,
		edgeOps:     edgeOps,
		maintenance: mu,
		searcher:    searcher,
		community:   builder,
		locker:      cfg.Locker,
		checkpoints: cfg.Checkpoints,
		metrics:     cfg.Metrics,
		alerter:     cfg.Alerter,
		config:      cfg,
		logger:      logger,
	}, nil
}

// GetDriver returns the underlying graph driver
func (c *Client) GetDriver() driver.GraphDriver {
	return c.driver
}

// GetEmbedder returns the embedder client
func (c *Client) GetEmbedder() embedder.Client {
	return c.embedder
}

// Searcher returns the hybrid search engine.
func (c *Client) Searcher() *search.Searcher {
	return c.searcher
}

// Checkpoints returns the pipeline state manager.
func (c *Client) Checkpoints() *checkpoint.Manager {
	return c.checkpoints
}

// Metrics returns the metrics collector.
func (c *Client) Metrics() metrics.Collector {
	return c.metrics
}

func (c *Client) now() time.Time {
	return c.config.Now().UTC()
}

// Close releases the checkpoint store and the driver.
func (c *Client) Close() error {
	var errs []error
	if err := c.checkpoints.Store().Close(); err != nil {
		errs = append(errs, fmt.Errorf("close checkpoints: %w", err))
	}
	if err := c.driver.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close driver: %w", err))
	}
	return errors.Join(errs...)
}

func (c *Client) commitBackoff() utils.Backoff {
	b := utils.DefaultBackoff()
	if c.config.Ingestion.CommitRetries > 0 {
		b.MaxRetries = c.config.Ingestion.CommitRetries
	}
	if c.config.Ingestion.CommitInitialWait > 0 {
		b.InitialDelay = c.config.Ingestion.CommitInitialWait
	}
	if c.config.Ingestion.CommitMaxWait > 0 {
		b.MaxDelay = c.config.Ingestion.CommitMaxWait
	}
	return b
}
