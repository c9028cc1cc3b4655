package maintenance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/soundprediction/chronograph/pkg/driver"
	"github.com/soundprediction/chronograph/pkg/embedder"
	"github.com/soundprediction/chronograph/pkg/extractor"
	"github.com/soundprediction/chronograph/pkg/types"
	"github.com/soundprediction/chronograph/pkg/utils"
)

const (
	stageEntityResolution = "entity_resolution"
	stageEdgeResolution   = "edge_resolution"

	DefaultMaxCandidates             = 10
	DefaultSimilarityThreshold       = 0.80
	DefaultStrongSimilarityThreshold = 0.95
)

// errExtractorUnavailable stands in for a missing extraction collaborator.
var errExtractorUnavailable = errors.New("extractor not configured")

// NodeOperations resolves extracted entity candidates against the graph.
type NodeOperations struct {
	driver    driver.GraphDriver
	extractor extractor.Extractor
	embedder  embedder.Client
	logger    *slog.Logger

	// MaxCandidates bounds the existing nodes considered per candidate.
	MaxCandidates int
	// SimilarityThreshold is the cosine above which a vector hit is a
	// plausible candidate.
	SimilarityThreshold float64
	// StrongSimilarityThreshold is the cosine above which a candidate is a
	// strong match.
	StrongSimilarityThreshold float64
	// FuzzyThreshold is the shingle Jaccard similarity above which a name is
	// a strong match.
	FuzzyThreshold float64

	// Now supplies the system time. Defaults to time.Now.
	Now func() time.Time
}

// NewNodeOperations creates a new NodeOperations instance. The embedder may be
// nil, in which case only name matching is used.
func NewNodeOperations(driver driver.GraphDriver, extractor extractor.Extractor, embedder embedder.Client) *NodeOperations {
	return &NodeOperations{
		driver:                    driver,
		extractor:                 extractor,
		embedder:                  embedder,
		logger:                    slog.Default(),
		MaxCandidates:             DefaultMaxCandidates,
		SimilarityThreshold:       DefaultSimilarityThreshold,
		StrongSimilarityThreshold: DefaultStrongSimilarityThreshold,
		FuzzyThreshold:            utils.FuzzyJaccardThreshold,
	}
}

func (no *NodeOperations) candidateIndex(nodes []*types.EntityNode) *utils.CandidateIndex {
	idx := utils.BuildCandidateIndex(nodes)
	if no.FuzzyThreshold > 0 {
		idx.Threshold = no.FuzzyThreshold
	}
	return idx
}

// SetLogger sets a custom logger for the NodeOperations
func (no *NodeOperations) SetLogger(logger *slog.Logger) {
	if logger != nil {
		no.logger = logger
	}
}

func (no *NodeOperations) now() time.Time {
	if no.Now != nil {
		return no.Now().UTC()
	}
	return time.Now().UTC()
}

// NodeResolution is the outcome of resolving one episode's entities.
type NodeResolution struct {
	// Nodes holds every created or merged node in first-touched order.
	Nodes []*types.EntityNode
	// IDsByName maps each resolved candidate's normalized name to its node.
	IDsByName  map[string]string
	CreatedIDs []string
	MergedIDs  []string
	Warnings   []types.Warning
	// Partial is set when a candidate was skipped.
	Partial bool
}

// NodeID returns the node a candidate name resolved to.
func (r *NodeResolution) NodeID(name string) (string, bool) {
	id, ok := r.IDsByName[utils.NormalizeStringExact(name)]
	return id, ok
}

// matchCandidate is an existing node considered for one candidate.
type matchCandidate struct {
	node   *types.EntityNode
	score  float64
	strong bool
}

// resolveState is the working set of one ResolveExtractedNodes call.
type resolveState struct {
	groupID string
	episode *types.EpisodicNode
	now     time.Time

	res     *NodeResolution
	touched map[string]*types.EntityNode
	created map[string]bool
	merged  map[string]bool
	// local indexes nodes created during this call, which the store does not
	// know of yet.
	local *utils.CandidateIndex
}

// ResolveExtractedNodes decides for each candidate, in extraction order,
// whether it is an existing node or a new one. Candidates sharing a
// normalized name resolve to the same node. Store failures are returned;
// collaborator failures skip the candidate with a warning.
func (no *NodeOperations) ResolveExtractedNodes(ctx context.Context, groupID string, episode *types.EpisodicNode, candidates []types.CandidateEntity) (*NodeResolution, error) {
	start := time.Now()
	st := &resolveState{
		groupID: groupID,
		episode: episode,
		now:     no.now(),
		res:     &NodeResolution{IDsByName: make(map[string]string)},
		touched: make(map[string]*types.EntityNode),
		created: make(map[string]bool),
		merged:  make(map[string]bool),
		local:   no.candidateIndex(nil),
	}

	embeddings, err := no.embedNames(ctx, candidates, st.res)
	if err != nil {
		return nil, err
	}

	for _, cand := range candidates {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		norm := utils.NormalizeStringExact(cand.Name)
		if norm == "" {
			st.res.Warnings = append(st.res.Warnings, types.Warning{
				Kind:    types.KindValidation,
				Stage:   stageEntityResolution,
				Message: "entity with empty name skipped",
			})
			continue
		}
		if id, ok := st.res.IDsByName[norm]; ok {
			mergeCandidate(st.touched[id], cand, nil, episode, st.now)
			continue
		}

		emb := embeddings[norm]
		pool, err := no.gatherCandidates(ctx, st, cand, emb)
		if err != nil {
			return nil, err
		}

		if err := no.decide(ctx, st, cand, emb, pool); err != nil {
			return nil, err
		}
	}

	no.logger.Debug("resolved extracted nodes",
		"group_id", groupID,
		"episode_id", episodeID(episode),
		"candidates", len(candidates),
		"created", len(st.res.CreatedIDs),
		"merged", len(st.res.MergedIDs),
		"duration", time.Since(start))

	return st.res, nil
}

// decide applies the resolution rules to one candidate and records the result.
func (no *NodeOperations) decide(ctx context.Context, st *resolveState, cand types.CandidateEntity, emb []float32, pool []matchCandidate) error {
	if len(pool) == 0 {
		no.create(st, cand, emb, nil)
		return nil
	}

	var strong []matchCandidate
	for _, m := range pool {
		if m.strong {
			strong = append(strong, m)
		}
	}
	if len(strong) == 1 {
		no.merge(st, strong[0].node, cand, emb)
		return nil
	}

	existing := make([]*types.EntityNode, len(pool))
	for i, m := range pool {
		existing[i] = m.node
	}

	decision, err := no.disambiguate(ctx, st, cand, existing)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		no.logger.Warn("entity disambiguation failed, skipping candidate",
			"group_id", st.groupID,
			"candidate", cand.Name,
			"error", err)
		st.res.Warnings = append(st.res.Warnings, types.Warning{
			Kind:      types.KindTransient,
			Stage:     stageEntityResolution,
			Candidate: cand.Name,
			Message:   fmt.Sprintf("disambiguation unavailable: %v", err),
		})
		st.res.Partial = true
		return nil
	}

	switch decision.Verdict {
	case types.VerdictMatch:
		for _, n := range existing {
			if n.Uuid == decision.MatchID {
				no.merge(st, n, cand, emb)
				return nil
			}
		}
		// An id outside the candidate set is no answer at all.
		fallthrough
	case types.VerdictAmbiguous:
		ids := make([]string, len(existing))
		for i, n := range existing {
			ids[i] = n.Uuid
		}
		node := no.create(st, cand, emb, ids)
		st.res.Warnings = append(st.res.Warnings, types.Warning{
			Kind:      types.KindConflict,
			Stage:     stageEntityResolution,
			Candidate: cand.Name,
			Message:   fmt.Sprintf("created %s as a potential duplicate of %s", node.Uuid, strings.Join(ids, ", ")),
		})
	default:
		no.create(st, cand, emb, nil)
	}
	return nil
}

func (no *NodeOperations) disambiguate(ctx context.Context, st *resolveState, cand types.CandidateEntity, existing []*types.EntityNode) (*types.EntityDecision, error) {
	if no.extractor == nil {
		return nil, errExtractorUnavailable
	}
	req := &types.EntityDisambiguation{
		Candidate: cand,
		Existing:  existing,
	}
	if st.episode != nil {
		req.Episode = st.episode.Content
	}
	decision, err := no.extractor.DisambiguateEntity(ctx, req)
	if err != nil {
		return nil, err
	}
	if decision == nil {
		return nil, fmt.Errorf("empty disambiguation decision")
	}
	return decision, nil
}

// gatherCandidates collects existing nodes for a candidate from the store and
// from nodes created earlier in the episode, scored and ordered by score desc
// then uuid asc.
func (no *NodeOperations) gatherCandidates(ctx context.Context, st *resolveState, cand types.CandidateEntity, emb []float32) ([]matchCandidate, error) {
	limit := no.MaxCandidates
	if limit <= 0 {
		limit = DefaultMaxCandidates
	}

	pool := make(map[string]*types.EntityNode)
	addPool := func(n *types.EntityNode) {
		if n == nil {
			return
		}
		if cur, ok := st.touched[n.Uuid]; ok {
			n = cur
		}
		pool[n.Uuid] = n
	}

	byName, err := no.driver.FindNodesByName(ctx, st.groupID, cand.Name, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to find nodes by name: %w", err)
	}
	for _, n := range byName {
		addPool(n)
	}

	if len(emb) > 0 {
		filters := &types.SearchFilters{GroupID: st.groupID, Kinds: []types.ItemKind{types.KindNode}}
		hits, err := no.driver.VectorSearch(ctx, emb, limit, filters)
		if err != nil {
			return nil, fmt.Errorf("failed to search similar nodes: %w", err)
		}
		for _, hit := range hits {
			if hit.Node != nil && hit.Score >= no.SimilarityThreshold {
				addPool(hit.Node)
			}
		}
	}

	// Nodes created earlier in this episode.
	for _, fm := range st.local.FuzzyMatches(cand.Name) {
		addPool(fm.Node)
	}
	if len(emb) > 0 {
		for id := range st.created {
			n := st.touched[id]
			if len(n.NameEmbedding) > 0 && utils.CosineSimilarity(emb, n.NameEmbedding) >= no.SimilarityThreshold {
				addPool(n)
			}
		}
	}

	nodes := make([]*types.EntityNode, 0, len(pool))
	for _, n := range pool {
		nodes = append(nodes, n)
	}
	idx := no.candidateIndex(nodes)
	exact := make(map[string]bool)
	for _, n := range idx.ExactMatches(cand.Name) {
		exact[n.Uuid] = true
	}
	fuzzy := make(map[string]float64)
	for _, fm := range idx.FuzzyMatches(cand.Name) {
		fuzzy[fm.Node.Uuid] = fm.Jaccard
	}

	out := make([]matchCandidate, 0, len(nodes))
	for _, n := range nodes {
		m := matchCandidate{node: n}
		if exact[n.Uuid] {
			m.score = 1
			m.strong = true
		}
		if j, ok := fuzzy[n.Uuid]; ok {
			m.strong = true
			if j > m.score {
				m.score = j
			}
		}
		if len(emb) > 0 && len(n.NameEmbedding) > 0 {
			cos := utils.CosineSimilarity(emb, n.NameEmbedding)
			if cos >= no.StrongSimilarityThreshold {
				m.strong = true
			}
			if cos > m.score {
				m.score = cos
			}
		}
		out = append(out, m)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].score != out[j].score {
			return out[i].score > out[j].score
		}
		return out[i].node.Uuid < out[j].node.Uuid
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// create adds a new node for the candidate to the working set.
func (no *NodeOperations) create(st *resolveState, cand types.CandidateEntity, emb []float32, duplicates []string) *types.EntityNode {
	labels := utils.UniqueStrings(cand.Labels)
	if len(labels) == 0 {
		labels = []string{types.DefaultEntityLabel}
	}
	node := &types.EntityNode{
		Uuid:                 utils.GenerateUUID(),
		Name:                 strings.TrimSpace(cand.Name),
		Labels:               labels,
		Summary:              strings.TrimSpace(cand.Context),
		NameEmbedding:        emb,
		Attributes:           copyAttributes(cand.Attributes),
		GroupID:              st.groupID,
		CreatedAt:            st.now,
		UpdatedAt:            st.now,
		PotentialDuplicateOf: duplicates,
	}
	if st.episode != nil {
		node.EpisodeIDs = []string{st.episode.Uuid}
	}

	st.touched[node.Uuid] = node
	st.created[node.Uuid] = true
	st.local.Add(node)
	st.res.Nodes = append(st.res.Nodes, node)
	st.res.CreatedIDs = append(st.res.CreatedIDs, node.Uuid)
	st.res.IDsByName[utils.NormalizeStringExact(cand.Name)] = node.Uuid
	return node
}

// merge folds the candidate into an existing node of the working set.
func (no *NodeOperations) merge(st *resolveState, existing *types.EntityNode, cand types.CandidateEntity, emb []float32) {
	node, ok := st.touched[existing.Uuid]
	if !ok {
		node = existing.Clone()
		st.touched[node.Uuid] = node
		st.res.Nodes = append(st.res.Nodes, node)
	}
	mergeCandidate(node, cand, emb, st.episode, st.now)

	if !st.created[node.Uuid] && !st.merged[node.Uuid] {
		st.merged[node.Uuid] = true
		st.res.MergedIDs = append(st.res.MergedIDs, node.Uuid)
	}
	st.res.IDsByName[utils.NormalizeStringExact(cand.Name)] = node.Uuid
}

// mergeCandidate unions the candidate's attributes and labels into node, with
// the candidate's attribute values winning, and records the context as
// summary evidence.
func mergeCandidate(node *types.EntityNode, cand types.CandidateEntity, emb []float32, episode *types.EpisodicNode, now time.Time) {
	if node == nil {
		return
	}
	if len(cand.Attributes) > 0 {
		if node.Attributes == nil {
			node.Attributes = make(map[string]interface{}, len(cand.Attributes))
		}
		for k, v := range cand.Attributes {
			node.Attributes[k] = v
		}
	}

	labels := append(append([]string(nil), node.Labels...), cand.Labels...)
	node.Labels = utils.UniqueStrings(labels)
	if len(node.Labels) > 1 {
		// The default label only stands in for a missing type.
		filtered := node.Labels[:0]
		for _, l := range node.Labels {
			if l != types.DefaultEntityLabel {
				filtered = append(filtered, l)
			}
		}
		node.Labels = filtered
	}

	if ctxText := strings.TrimSpace(cand.Context); ctxText != "" && !strings.Contains(node.Summary, ctxText) {
		if node.Summary == "" {
			node.Summary = ctxText
		} else {
			node.Summary = node.Summary + "\n" + ctxText
		}
	}

	if len(node.NameEmbedding) == 0 && len(emb) > 0 {
		node.NameEmbedding = emb
	}
	if episode != nil {
		node.EpisodeIDs = utils.UniqueStrings(append(node.EpisodeIDs, episode.Uuid))
	}
	node.UpdatedAt = now
}

// embedNames embeds each distinct candidate name once. Provider failures
// degrade to name-only matching with a warning.
func (no *NodeOperations) embedNames(ctx context.Context, candidates []types.CandidateEntity, res *NodeResolution) (map[string][]float32, error) {
	out := make(map[string][]float32)
	if no.embedder == nil {
		return out, nil
	}

	var (
		keys  []string
		texts []string
	)
	for _, c := range candidates {
		norm := utils.NormalizeStringExact(c.Name)
		if norm == "" {
			continue
		}
		if _, ok := out[norm]; ok {
			continue
		}
		out[norm] = nil
		keys = append(keys, norm)
		texts = append(texts, strings.TrimSpace(c.Name))
	}
	if len(texts) == 0 {
		return out, nil
	}

	vectors, err := no.embedder.Embed(ctx, texts)
	if err == nil && len(vectors) != len(texts) {
		err = fmt.Errorf("%w: got %d for %d names", embedder.ErrNoEmbeddings, len(vectors), len(texts))
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		no.logger.Warn("name embedding failed, resolving by name only", "error", err)
		res.Warnings = append(res.Warnings, types.Warning{
			Kind:    types.KindTransient,
			Stage:   stageEntityResolution,
			Message: fmt.Sprintf("name embeddings unavailable: %v", err),
		})
		return out, nil
	}
	for i, key := range keys {
		out[key] = vectors[i]
	}
	return out, nil
}

func copyAttributes(in map[string]interface{}) map[string]interface{} {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]interface{}, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func episodeID(ep *types.EpisodicNode) string {
	if ep == nil {
		return ""
	}
	return ep.Uuid
}
