package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/kaptinlin/jsonrepair"

	"github.com/soundprediction/chronograph/pkg/crossencoder"
	"github.com/soundprediction/chronograph/pkg/embedder"
	"github.com/soundprediction/chronograph/pkg/nlp"
	"github.com/soundprediction/chronograph/pkg/prompts"
	"github.com/soundprediction/chronograph/pkg/types"
	"github.com/soundprediction/chronograph/pkg/utils"
)

// Registered reranker names.
const (
	RerankerMMR          = "mmr"
	RerankerLLM          = "llm"
	RerankerCrossEncoder = "cross_encoder"
)

const (
	DefaultMMRLambda = 0.5
	scoreEpsilon     = 1e-12
)

var channelOrder = []types.Channel{types.ChannelEmbedding, types.ChannelKeyword, types.ChannelGraph}

type fusedItem struct {
	item     types.ScoredItem
	score    float64
	maxNorm  float64
	channels []types.Channel
}

// Fuse merges ranked channel lists with reciprocal rank fusion. An item
// scores the sum over channels of 1/(rank+rankConstant) with 1-based ranks.
// Ties break on the best normalized channel score, then the newer creation
// time, then the lexically smaller ID.
func Fuse(lists map[types.Channel][]types.ScoredItem, rankConstant int) []types.SearchResult {
	if rankConstant <= 0 {
		rankConstant = DefaultRankConstant
	}

	byID := make(map[string]*fusedItem)
	var order []string
	for _, ch := range channelOrder {
		items := lists[ch]
		norms := normalizedScores(items)
		for i, it := range items {
			id := it.ID()
			if id == "" {
				continue
			}
			f, ok := byID[id]
			if !ok {
				f = &fusedItem{item: it}
				byID[id] = f
				order = append(order, id)
			} else if containsChannel(f.channels, ch) {
				// Only the best rank of an item within one channel counts.
				continue
			}
			f.score += 1 / float64(i+1+rankConstant)
			f.maxNorm = math.Max(f.maxNorm, norms[i])
			f.channels = append(f.channels, ch)
		}
	}

	fused := make([]*fusedItem, 0, len(order))
	for _, id := range order {
		fused = append(fused, byID[id])
	}
	sort.SliceStable(fused, func(i, j int) bool {
		a, b := fused[i], fused[j]
		if math.Abs(a.score-b.score) > scoreEpsilon {
			return a.score > b.score
		}
		if math.Abs(a.maxNorm-b.maxNorm) > scoreEpsilon {
			return a.maxNorm > b.maxNorm
		}
		ta, tb := a.item.CreatedAt(), b.item.CreatedAt()
		if !ta.Equal(tb) {
			return ta.After(tb)
		}
		return a.item.ID() < b.item.ID()
	})

	out := make([]types.SearchResult, len(fused))
	for i, f := range fused {
		out[i] = types.SearchResult{
			ID:       f.item.ID(),
			Kind:     f.item.Kind,
			Score:    f.score,
			Channels: f.channels,
			Node:     f.item.Node,
			Edge:     f.item.Edge,
		}
	}
	return out
}

func containsChannel(chs []types.Channel, ch types.Channel) bool {
	for _, c := range chs {
		if c == ch {
			return true
		}
	}
	return false
}

// Reranker reorders the head of a fused result list. It may drop items but
// must not invent any.
type Reranker interface {
	Rerank(ctx context.Context, query string, results []types.SearchResult) ([]types.SearchResult, error)
}

// MMRReranker trades relevance against diversity using maximal marginal
// relevance over node name and edge fact embeddings. Results without an
// embedding keep their fused order after the reranked ones.
type MMRReranker struct {
	embedder embedder.Client
	Lambda   float64
}

// NewMMRReranker creates an MMR reranker with the default lambda.
func NewMMRReranker(e embedder.Client) *MMRReranker {
	return &MMRReranker{embedder: e, Lambda: DefaultMMRLambda}
}

// Rerank implements Reranker.
func (r *MMRReranker) Rerank(ctx context.Context, query string, results []types.SearchResult) ([]types.SearchResult, error) {
	if r.embedder == nil {
		return nil, errors.New("mmr reranker: no embedder")
	}
	queryVec, err := r.embedder.EmbedSingle(ctx, query)
	if err != nil {
		return nil, types.NewTransientError("mmr_rerank", fmt.Errorf("embed query: %w", err))
	}

	var withVec, without []types.SearchResult
	var vectors [][]float32
	for _, res := range results {
		if v := resultEmbedding(res); len(v) > 0 {
			withVec = append(withVec, res)
			vectors = append(vectors, v)
		} else {
			without = append(without, res)
		}
	}

	order, scores := MaximalMarginalRelevance(queryVec, vectors, r.Lambda)
	out := make([]types.SearchResult, 0, len(results))
	for i, idx := range order {
		res := withVec[idx]
		res.Score = scores[i]
		out = append(out, res)
	}
	return append(out, without...), nil
}

func resultEmbedding(res types.SearchResult) []float32 {
	if res.Kind == types.KindEdge && res.Edge != nil {
		return res.Edge.FactEmbedding
	}
	if res.Node != nil {
		return res.Node.NameEmbedding
	}
	return nil
}

// MaximalMarginalRelevance greedily selects candidates, each time taking the
// one maximizing lambda*sim(query, c) - (1-lambda)*max sim(c, selected). It
// returns candidate indexes in selection order and their marginal scores.
// Ties go to the lower index.
func MaximalMarginalRelevance(query []float32, candidates [][]float32, lambda float64) ([]int, []float64) {
	if lambda <= 0 || lambda > 1 {
		lambda = DefaultMMRLambda
	}
	n := len(candidates)
	relevance := make([]float64, n)
	for i, c := range candidates {
		relevance[i] = utils.CosineSimilarity(query, c)
	}

	selected := make([]bool, n)
	maxSim := make([]float64, n)
	order := make([]int, 0, n)
	scores := make([]float64, 0, n)
	for len(order) < n {
		best, bestScore := -1, math.Inf(-1)
		for i := 0; i < n; i++ {
			if selected[i] {
				continue
			}
			mmr := lambda * relevance[i]
			if len(order) > 0 {
				mmr -= (1 - lambda) * maxSim[i]
			}
			if mmr > bestScore+scoreEpsilon {
				best, bestScore = i, mmr
			}
		}
		selected[best] = true
		order = append(order, best)
		scores = append(scores, bestScore)
		for i := 0; i < n; i++ {
			if selected[i] {
				continue
			}
			sim := utils.CosineSimilarity(candidates[i], candidates[best])
			if len(order) == 1 || sim > maxSim[i] {
				maxSim[i] = sim
			}
		}
	}
	return order, scores
}

var jsonFence = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)```")

// LLMReranker asks a language model to score each result's relevance.
// Results the model does not score keep their fused order after the scored
// ones.
type LLMReranker struct {
	client  nlp.Client
	prompts prompts.Library
	logger  *slog.Logger
}

// NewLLMReranker creates an LLM reranker.
func NewLLMReranker(client nlp.Client, logger *slog.Logger) *LLMReranker {
	if logger == nil {
		logger = slog.Default()
	}
	return &LLMReranker{client: client, prompts: prompts.NewLibrary(), logger: logger}
}

// Rerank implements Reranker.
func (r *LLMReranker) Rerank(ctx context.Context, query string, results []types.SearchResult) ([]types.SearchResult, error) {
	if r.client == nil {
		return nil, errors.New("llm reranker: no client")
	}
	items := make([]prompts.RerankItem, len(results))
	for i, res := range results {
		items[i] = prompts.RerankItem{ID: res.ID, Text: resultText(res)}
	}
	msgs, err := r.prompts.Rerank().Call(map[string]interface{}{
		"query":  query,
		"items":  items,
		"logger": r.logger,
	})
	if err != nil {
		return nil, err
	}
	resp, err := r.client.Chat(ctx, msgs)
	if err != nil {
		return nil, types.NewTransientError("llm_rerank", err)
	}

	scores, err := parseRerankScores(resp.Content)
	if err != nil {
		return nil, types.NewValidationError("llm_rerank", err)
	}

	type scored struct {
		res   types.SearchResult
		score float64
		ok    bool
	}
	ranked := make([]scored, len(results))
	for i, res := range results {
		s, ok := scores[res.ID]
		ranked[i] = scored{res: res, score: s, ok: ok}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].ok != ranked[j].ok {
			return ranked[i].ok
		}
		return ranked[i].score > ranked[j].score
	})

	out := make([]types.SearchResult, len(ranked))
	for i, s := range ranked {
		out[i] = s.res
		if s.ok {
			out[i].Score = s.score
		}
	}
	return out, nil
}

// CrossEncoderReranker reorders results by a cross-encoder's relevance
// scores for each result's text.
type CrossEncoderReranker struct {
	client crossencoder.Client
}

// NewCrossEncoderReranker creates a reranker over client.
func NewCrossEncoderReranker(client crossencoder.Client) *CrossEncoderReranker {
	return &CrossEncoderReranker{client: client}
}

// Rerank implements Reranker.
func (r *CrossEncoderReranker) Rerank(ctx context.Context, query string, results []types.SearchResult) ([]types.SearchResult, error) {
	passages := make([]string, len(results))
	for i, res := range results {
		passages[i] = resultText(res)
	}
	ranked, err := r.client.Rank(ctx, query, passages)
	if err != nil {
		return nil, types.NewTransientError("cross_encoder_rerank", err)
	}

	out := make([]types.SearchResult, 0, len(results))
	used := make([]bool, len(results))
	for _, rp := range ranked {
		if rp.Index < 0 || rp.Index >= len(results) || used[rp.Index] {
			continue
		}
		used[rp.Index] = true
		res := results[rp.Index]
		res.Score = rp.Score
		out = append(out, res)
	}
	for i, ok := range used {
		if !ok {
			out = append(out, results[i])
		}
	}
	return out, nil
}

func resultText(res types.SearchResult) string {
	if res.Kind == types.KindEdge && res.Edge != nil {
		return res.Edge.Fact
	}
	if res.Node != nil {
		if res.Node.Summary == "" {
			return res.Node.Name
		}
		return res.Node.Name + ": " + res.Node.Summary
	}
	return res.ID
}

func parseRerankScores(content string) (map[string]float64, error) {
	cleaned := strings.TrimSpace(content)
	if m := jsonFence.FindStringSubmatch(cleaned); m != nil {
		cleaned = strings.TrimSpace(m[1])
	}
	if repaired, err := jsonrepair.JSONRepair(cleaned); err == nil {
		cleaned = repaired
	}

	var parsed prompts.RerankScores
	if err := json.Unmarshal([]byte(cleaned), &parsed); err != nil {
		return nil, fmt.Errorf("rerank output: %w", err)
	}
	if len(parsed.Scores) == 0 {
		return nil, errors.New("rerank output has no scores")
	}
	out := make(map[string]float64, len(parsed.Scores))
	for _, s := range parsed.Scores {
		if s.ID == "" || math.IsNaN(s.Score) {
			continue
		}
		out[s.ID] = math.Max(0, math.Min(1, s.Score))
	}
	return out, nil
}
