package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/soundprediction/chronograph/pkg/config"
	"github.com/soundprediction/chronograph/pkg/driver"
	"github.com/soundprediction/chronograph/pkg/embedder"
	"github.com/soundprediction/chronograph/pkg/metrics"
	"github.com/soundprediction/chronograph/pkg/types"
)

const (
	DefaultK              = 10
	DefaultMaxHops        = 2
	DefaultChannelTimeout = 2 * time.Second
	DefaultRankConstant   = 60
	DefaultGraphSeedCount = 5

	// channelDepth multiplies K to size each channel's candidate list.
	channelDepth = 3
	// rerankDepth multiplies K to size the fused list handed to a reranker.
	rerankDepth = 2
)

// ErrUnknownReranker is returned for a request naming an unregistered reranker.
var ErrUnknownReranker = errors.New("unknown reranker")

// Store is the part of the graph driver the searcher reads.
type Store interface {
	driver.GraphSearcher
	driver.GraphTraversal
}

// Options tune the searcher. Zero fields take the package defaults.
type Options struct {
	DefaultK       int
	MaxHops        int
	ChannelTimeout time.Duration
	RankConstant   int
	GraphSeedCount int
}

// OptionsFromConfig reads the search section of the configuration.
func OptionsFromConfig(cfg config.SearchConfig) Options {
	return Options{
		DefaultK:       cfg.DefaultK,
		MaxHops:        cfg.MaxHops,
		ChannelTimeout: cfg.ChannelTimeout,
		RankConstant:   cfg.RankConstant,
		GraphSeedCount: cfg.GraphSeedCount,
	}
}

func (o Options) withDefaults() Options {
	if o.DefaultK <= 0 {
		o.DefaultK = DefaultK
	}
	if o.MaxHops <= 0 {
		o.MaxHops = DefaultMaxHops
	}
	if o.ChannelTimeout <= 0 {
		o.ChannelTimeout = DefaultChannelTimeout
	}
	if o.RankConstant <= 0 {
		o.RankConstant = DefaultRankConstant
	}
	if o.GraphSeedCount <= 0 {
		o.GraphSeedCount = DefaultGraphSeedCount
	}
	return o
}

// Searcher runs the embedding, keyword and graph channels concurrently and
// fuses their rankings.
type Searcher struct {
	store     Store
	embedder  embedder.Client
	opts      Options
	logger    *slog.Logger
	metrics   metrics.Collector
	rerankers map[string]Reranker
}

// NewSearcher creates a searcher. A nil embedder disables the embedding
// channel.
func NewSearcher(store Store, embedder embedder.Client, opts Options) *Searcher {
	return &Searcher{
		store:     store,
		embedder:  embedder,
		opts:      opts.withDefaults(),
		logger:    slog.Default(),
		metrics:   metrics.Noop{},
		rerankers: make(map[string]Reranker),
	}
}

// SetLogger sets the logger.
func (s *Searcher) SetLogger(logger *slog.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// SetMetrics sets the metrics collector.
func (s *Searcher) SetMetrics(m metrics.Collector) {
	if m != nil {
		s.metrics = m
	}
}

// RegisterReranker makes r available to requests under name. Not safe to
// call concurrently with Search.
func (s *Searcher) RegisterReranker(name string, r Reranker) {
	s.rerankers[name] = r
}

// Rerankers returns the registered reranker names.
func (s *Searcher) Rerankers() []string {
	names := make([]string, 0, len(s.rerankers))
	for name := range s.rerankers {
		names = append(names, name)
	}
	return sortedStrings(names)
}

// Search answers a hybrid query. Channel failures become warnings; only
// invalid requests and cancellation of ctx are errors.
func (s *Searcher) Search(ctx context.Context, req *types.SearchRequest) (*types.SearchResults, error) {
	start := time.Now()
	plan, err := s.plan(req)
	if err != nil {
		s.metrics.RecordError(ctx, metrics.OpSearch, types.KindValidation)
		return nil, types.NewValidationError("search", err)
	}

	var (
		mu       sync.Mutex
		lists    = make(map[types.Channel][]types.ScoredItem, 3)
		warnings []types.Warning
	)
	record := func(ch types.Channel, items []types.ScoredItem, w *types.Warning) {
		mu.Lock()
		defer mu.Unlock()
		lists[ch] = items
		if w != nil {
			warnings = append(warnings, *w)
		}
	}
	snapshot := func() map[types.Channel][]types.ScoredItem {
		mu.Lock()
		defer mu.Unlock()
		out := make(map[types.Channel][]types.ScoredItem, len(lists))
		for ch, items := range lists {
			out[ch] = items
		}
		return out
	}

	embedDone := make(chan struct{})
	keywordDone := make(chan struct{})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(embedDone)
		if !plan.embedding {
			return nil
		}
		items, w := s.runChannel(gctx, types.ChannelEmbedding, func(ctx context.Context) ([]types.ScoredItem, error) {
			return s.embeddingChannel(ctx, plan)
		})
		record(types.ChannelEmbedding, items, w)
		return nil
	})
	g.Go(func() error {
		defer close(keywordDone)
		if !plan.keyword {
			return nil
		}
		items, w := s.runChannel(gctx, types.ChannelKeyword, func(ctx context.Context) ([]types.ScoredItem, error) {
			return s.store.KeywordSearch(ctx, plan.query, plan.channelLimit, plan.filters)
		})
		record(types.ChannelKeyword, items, w)
		return nil
	})
	g.Go(func() error {
		seeds := plan.seedIDs
		if len(seeds) == 0 {
			for _, done := range []chan struct{}{embedDone, keywordDone} {
				select {
				case <-done:
				case <-gctx.Done():
					return nil
				}
			}
			seeds = fanInSeeds(snapshot(), s.opts.RankConstant, s.opts.GraphSeedCount)
		}
		if len(seeds) == 0 {
			return nil
		}
		items, w := s.runChannel(gctx, types.ChannelGraph, func(ctx context.Context) ([]types.ScoredItem, error) {
			return s.graphChannel(ctx, plan, seeds)
		})
		record(types.ChannelGraph, items, w)
		return nil
	})
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		s.metrics.RecordOperation(ctx, metrics.OpSearch, metrics.StatusError, time.Since(start))
		return nil, err
	}

	fused := Fuse(snapshot(), s.opts.RankConstant)
	results := &types.SearchResults{Results: fused, Warnings: warnings}

	if plan.reranker != nil {
		results.Results = s.rerank(ctx, plan, results)
	}
	if len(results.Results) > plan.k {
		results.Results = results.Results[:plan.k]
	}
	if results.Results == nil {
		results.Results = []types.SearchResult{}
	}

	status := metrics.StatusSuccess
	if len(warnings) > 0 {
		status = metrics.StatusPartial
	}
	s.metrics.RecordOperation(ctx, metrics.OpSearch, status, time.Since(start))
	s.logger.Debug("search completed",
		"group_id", plan.groupID,
		"results", len(results.Results),
		"warnings", len(results.Warnings),
		"duration", time.Since(start))
	return results, nil
}

func (s *Searcher) embeddingChannel(ctx context.Context, plan *searchPlan) ([]types.ScoredItem, error) {
	vec, err := s.embedder.EmbedSingle(ctx, plan.query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	return s.store.VectorSearch(ctx, vec, plan.channelLimit, plan.filters)
}

func (s *Searcher) rerank(ctx context.Context, plan *searchPlan, results *types.SearchResults) []types.SearchResult {
	depth := plan.k * rerankDepth
	head := results.Results
	if len(head) > depth {
		head = head[:depth]
	}
	if len(head) == 0 {
		return results.Results
	}

	start := time.Now()
	reranked, err := plan.reranker.Rerank(ctx, plan.query, append([]types.SearchResult(nil), head...))
	s.metrics.RecordStage(ctx, metrics.OpSearch, "rerank", time.Since(start))
	if err != nil {
		s.logger.Warn("reranker failed, keeping fused order", "reranker", plan.rerankName, "error", err)
		results.Warnings = append(results.Warnings, types.Warning{
			Kind:    types.KindOf(err),
			Stage:   "rerank",
			Message: fmt.Sprintf("%s: %v", plan.rerankName, err),
		})
		return results.Results
	}
	return reranked
}
