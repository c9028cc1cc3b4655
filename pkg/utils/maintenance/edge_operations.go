package maintenance

import (
	"context"
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

// DefaultDuplicateSimilarityThreshold is the fact-embedding cosine at which two
// facts with the same label are the same fact.
const DefaultDuplicateSimilarityThreshold = 0.95

// EdgeOperations resolves extracted facts against the current edges between
// the same entities and closes the facts they supersede.
type EdgeOperations struct {
	driver    driver.GraphDriver
	extractor extractor.Extractor
	embedder  embedder.Client
	policy    *RelationPolicy
	logger    *slog.Logger

	DuplicateSimilarityThreshold float64
}

// NewEdgeOperations creates a new EdgeOperations instance. A nil policy uses
// DefaultRelationPolicy; a nil embedder disables fact embeddings.
func NewEdgeOperations(driver driver.GraphDriver, extractor extractor.Extractor, embedder embedder.Client, policy *RelationPolicy) *EdgeOperations {
	if policy == nil {
		policy = DefaultRelationPolicy()
	}
	return &EdgeOperations{
		driver:                       driver,
		extractor:                    extractor,
		embedder:                     embedder,
		policy:                       policy,
		logger:                       slog.Default(),
		DuplicateSimilarityThreshold: DefaultDuplicateSimilarityThreshold,
	}
}

// SetLogger sets a custom logger for the EdgeOperations
func (eo *EdgeOperations) SetLogger(logger *slog.Logger) {
	if logger != nil {
		eo.logger = logger
	}
}

// Policy returns the relation policy in use.
func (eo *EdgeOperations) Policy() *RelationPolicy {
	return eo.policy
}

// EdgeResolution is the outcome of resolving one episode's facts.
type EdgeResolution struct {
	// Edges holds every created or modified edge in first-touched order.
	Edges []*types.EntityEdge
	// CreatedIDs lists new edges, including ones created already closed.
	CreatedIDs []string
	// MergedIDs lists existing edges that gained this episode as provenance.
	MergedIDs []string
	// InvalidatedIDs lists previously stored edges closed by this episode.
	InvalidatedIDs []string
	Warnings       []types.Warning
	// Partial is set when a candidate was skipped.
	Partial bool
}

// edgeOutcome is the relation of one existing edge to a candidate.
type edgeOutcome struct {
	edge     *types.EntityEdge
	relation types.EdgeRelation
	// endsOnly marks contradictions that close the edge without asserting a
	// replacement fact.
	endsOnly bool
}

type edgeState struct {
	groupID   string
	episode   *types.EpisodicNode
	now       time.Time
	reference time.Time

	res *EdgeResolution
	// current holds the working set of current edges per unordered pair.
	current     map[string][]*types.EntityEdge
	touched     map[string]*types.EntityEdge
	created     map[string]bool
	merged      map[string]bool
	invalidated map[string]bool
	nodeIDs     map[string]string
}

func (st *edgeState) nodeID(name string) (string, bool) {
	id, ok := st.nodeIDs[utils.NormalizeStringExact(name)]
	return id, ok && id != ""
}

// ResolveExtractedEdges processes candidates in extraction order. Each
// candidate sees the creations and invalidations of the ones before it.
// nodeIDsByName maps normalized entity names to resolved node ids.
func (eo *EdgeOperations) ResolveExtractedEdges(ctx context.Context, groupID string, episode *types.EpisodicNode, candidates []types.CandidateEdge, nodeIDsByName map[string]string, now time.Time) (*EdgeResolution, error) {
	start := time.Now()
	st := &edgeState{
		groupID:     groupID,
		episode:     episode,
		now:         now.UTC(),
		reference:   now.UTC(),
		res:         &EdgeResolution{},
		current:     make(map[string][]*types.EntityEdge),
		touched:     make(map[string]*types.EntityEdge),
		created:     make(map[string]bool),
		merged:      make(map[string]bool),
		invalidated: make(map[string]bool),
		nodeIDs:     nodeIDsByName,
	}
	if episode != nil && !episode.ReferenceTime.IsZero() {
		st.reference = episode.ReferenceTime.UTC()
	}

	embeddings, err := eo.embedFacts(ctx, candidates, st.res)
	if err != nil {
		return nil, err
	}

	for i, cand := range candidates {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := eo.resolveOne(ctx, st, cand, embeddings[i]); err != nil {
			return nil, err
		}
	}

	eo.logger.Debug("resolved extracted edges",
		"group_id", groupID,
		"episode_id", episodeID(episode),
		"candidates", len(candidates),
		"created", len(st.res.CreatedIDs),
		"merged", len(st.res.MergedIDs),
		"invalidated", len(st.res.InvalidatedIDs),
		"duration", time.Since(start))

	return st.res, nil
}

func (eo *EdgeOperations) resolveOne(ctx context.Context, st *edgeState, cand types.CandidateEdge, emb []float32) error {
	label := candidateLabel(cand)
	skip := func(msg string) {
		st.res.Warnings = append(st.res.Warnings, types.Warning{
			Kind:      types.KindValidation,
			Stage:     stageEdgeResolution,
			Candidate: label,
			Message:   msg,
		})
		st.res.Partial = true
	}

	relation := normalizeLabel(cand.Relation)
	if relation == "" {
		skip("relation is empty")
		return nil
	}
	sourceID, ok := st.nodeID(cand.SourceName)
	if !ok {
		skip(fmt.Sprintf("source entity %q was not resolved", cand.SourceName))
		return nil
	}
	targetID, ok := st.nodeID(cand.TargetName)
	if !ok {
		skip(fmt.Sprintf("target entity %q was not resolved", cand.TargetName))
		return nil
	}
	if sourceID == targetID {
		skip("self-loop")
		return nil
	}

	times, warnings := parseCandidateTimes(cand, st.reference)
	st.res.Warnings = append(st.res.Warnings, warnings...)

	existing, err := eo.loadPair(ctx, st, sourceID, targetID)
	if err != nil {
		return err
	}
	outcomes, err := eo.classify(ctx, st, cand, sourceID, relation, times, emb, existing)
	if err != nil {
		return err
	}

	for _, o := range outcomes {
		if o.relation != types.RelationDuplicate {
			continue
		}
		dup := o.edge
		st.touch(dup)
		if dup.AddEpisode(episodeID(st.episode)) && !st.created[dup.Uuid] && !st.merged[dup.Uuid] {
			st.merged[dup.Uuid] = true
			st.res.MergedIDs = append(st.res.MergedIDs, dup.Uuid)
		}
		return nil
	}

	// A rejected candidate leaves prior edges untouched.
	invalidAt := times.invalidationTime()
	var (
		closedAt *time.Time
		endsOnly bool
		ended    []*types.EntityEdge
	)
	for _, o := range outcomes {
		if o.relation != types.RelationContradicting {
			continue
		}
		endsOnly = endsOnly || o.endsOnly
		prior := o.edge
		if prior.ValidAt != nil && invalidAt.Before(*prior.ValidAt) {
			// Older news: the prior fact stands and the new one ended when
			// it began.
			if closedAt == nil || prior.ValidAt.Before(*closedAt) {
				closedAt = types.TimePtr(*prior.ValidAt)
			}
			continue
		}
		ended = append(ended, prior)
	}

	if endsOnly {
		if closedAt != nil {
			st.res.Warnings = append(st.res.Warnings, types.Warning{
				Kind:      types.KindValidation,
				Stage:     stageEdgeResolution,
				Candidate: label,
				Message:   "end time precedes the start of the fact it ends; left in place",
			})
		}
		return eo.invalidateAll(st, ended, invalidAt, label)
	}

	edge := &types.EntityEdge{
		Uuid:          utils.GenerateUUID(),
		GroupID:       st.groupID,
		SourceNodeID:  sourceID,
		TargetNodeID:  targetID,
		Name:          relation,
		Fact:          strings.TrimSpace(cand.Fact),
		FactEmbedding: emb,
		CreatedAt:     st.now,
	}
	if st.episode != nil {
		edge.Episodes = []string{st.episode.Uuid}
	}
	switch {
	case times.event != nil:
		edge.ValidAt = types.TimePtr(*times.event)
	case strings.TrimSpace(cand.EventTime) == "" && !times.endAssertion:
		edge.ValidAt = types.TimePtr(st.reference)
	}
	if times.end != nil {
		edge.InvalidAt = types.TimePtr(*times.end)
	}
	if closedAt != nil && (edge.InvalidAt == nil || closedAt.Before(*edge.InvalidAt)) {
		edge.InvalidAt = closedAt
	}
	if edge.InvalidAt != nil {
		edge.ExpiredAt = types.TimePtr(st.now)
	}
	if err := edge.Validate(); err != nil {
		skip(fmt.Sprintf("invalid fact: %v", err))
		return nil
	}

	if err := eo.invalidateAll(st, ended, invalidAt, label); err != nil {
		return err
	}
	st.touch(edge)
	st.created[edge.Uuid] = true
	st.res.CreatedIDs = append(st.res.CreatedIDs, edge.Uuid)
	if edge.IsCurrent() {
		key := pairKey(sourceID, targetID)
		st.current[key] = append(st.current[key], edge)
	}
	return nil
}

// invalidateAll closes each edge at invalidAt and drops it from the working
// set.
func (eo *EdgeOperations) invalidateAll(st *edgeState, edges []*types.EntityEdge, invalidAt time.Time, label string) error {
	for _, prior := range edges {
		if err := prior.Invalidate(invalidAt, st.now); err != nil {
			return fmt.Errorf("failed to invalidate edge %s: %w", prior.Uuid, err)
		}
		st.touch(prior)
		st.dropCurrent(prior)
		if !st.created[prior.Uuid] && !st.invalidated[prior.Uuid] {
			st.invalidated[prior.Uuid] = true
			st.res.InvalidatedIDs = append(st.res.InvalidatedIDs, prior.Uuid)
		}
		eo.logger.Debug("invalidated edge",
			"group_id", st.groupID,
			"edge_id", prior.Uuid,
			"relation", prior.Name,
			"invalid_at", invalidAt,
			"candidate", label)
	}
	return nil
}

// classify relates every current edge of the pair to the candidate. Rules
// that need no judgement are applied first; the rest go to the collaborator
// in one call. A reversed edge with the same label is only merged when the
// fact matches; it is never superseded or ended by the label alone.
func (eo *EdgeOperations) classify(ctx context.Context, st *edgeState, cand types.CandidateEdge, sourceID, relation string, times candidateTimes, emb []float32, existing []*types.EntityEdge) ([]edgeOutcome, error) {
	outcomes := make([]edgeOutcome, 0, len(existing))
	var pending []*types.EntityEdge
	fact := normalizeFact(cand.Fact)

	for _, e := range existing {
		sameLabel := normalizeLabel(e.Name) == relation
		forward := sameLabel && e.SourceNodeID == sourceID
		switch {
		case forward && times.endAssertion:
			outcomes = append(outcomes, edgeOutcome{edge: e, relation: types.RelationContradicting, endsOnly: true})
		case sameLabel && eo.isDuplicateFact(fact, emb, e):
			outcomes = append(outcomes, edgeOutcome{edge: e, relation: types.RelationDuplicate})
		case eo.policy.Terminates(relation, e.Name):
			outcomes = append(outcomes, edgeOutcome{edge: e, relation: types.RelationContradicting, endsOnly: true})
		case forward:
			outcomes = append(outcomes, edgeOutcome{edge: e, relation: types.RelationContradicting})
		case eo.policy.Coexists(relation, e.Name):
			outcomes = append(outcomes, edgeOutcome{edge: e, relation: types.RelationUnrelated})
		default:
			pending = append(pending, e)
		}
	}
	if len(pending) == 0 {
		return outcomes, nil
	}

	decision, err := eo.classifyWithExtractor(ctx, cand, pending)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		eo.logger.Warn("edge classification unavailable, keeping existing facts",
			"group_id", st.groupID,
			"candidate", candidateLabel(cand),
			"error", err)
		st.res.Warnings = append(st.res.Warnings, types.Warning{
			Kind:      types.KindTransient,
			Stage:     stageEdgeResolution,
			Candidate: candidateLabel(cand),
			Message:   fmt.Sprintf("edge classification unavailable: %v", err),
		})
		for _, e := range pending {
			outcomes = append(outcomes, edgeOutcome{edge: e, relation: types.RelationUnrelated})
		}
		return outcomes, nil
	}

	for _, e := range pending {
		rel := decision.Relations[e.Uuid]
		switch rel {
		case types.RelationDuplicate, types.RelationContradicting:
		default:
			rel = types.RelationUnrelated
		}
		outcomes = append(outcomes, edgeOutcome{edge: e, relation: rel})
	}
	return outcomes, nil
}

func (eo *EdgeOperations) classifyWithExtractor(ctx context.Context, cand types.CandidateEdge, pending []*types.EntityEdge) (*types.EdgeDecision, error) {
	if eo.extractor == nil {
		return nil, errExtractorUnavailable
	}
	decision, err := eo.extractor.ClassifyEdge(ctx, &types.EdgeClassification{
		Candidate: cand,
		Existing:  pending,
	})
	if err != nil {
		return nil, err
	}
	if decision == nil {
		return &types.EdgeDecision{}, nil
	}
	return decision, nil
}

func (eo *EdgeOperations) isDuplicateFact(fact string, emb []float32, e *types.EntityEdge) bool {
	if fact != "" && fact == normalizeFact(e.Fact) {
		return true
	}
	if len(emb) == 0 || len(e.FactEmbedding) == 0 {
		return false
	}
	threshold := eo.DuplicateSimilarityThreshold
	if threshold <= 0 {
		threshold = DefaultDuplicateSimilarityThreshold
	}
	return utils.CosineSimilarity(emb, e.FactEmbedding) >= threshold
}

func pairKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + ":" + b
}

// loadPair returns the working set of current edges between a and b.
func (eo *EdgeOperations) loadPair(ctx context.Context, st *edgeState, a, b string) ([]*types.EntityEdge, error) {
	key := pairKey(a, b)
	if edges, ok := st.current[key]; ok {
		return edges, nil
	}
	stored, err := eo.driver.GetEdgesBetween(ctx, st.groupID, a, b, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get edges between %s and %s: %w", a, b, err)
	}
	edges := make([]*types.EntityEdge, 0, len(stored))
	for _, e := range stored {
		if cur, ok := st.touched[e.Uuid]; ok {
			if cur.IsCurrent() {
				edges = append(edges, cur)
			}
			continue
		}
		edges = append(edges, e.Clone())
	}
	sort.Slice(edges, func(i, j int) bool {
		if !edges[i].CreatedAt.Equal(edges[j].CreatedAt) {
			return edges[i].CreatedAt.Before(edges[j].CreatedAt)
		}
		return edges[i].Uuid < edges[j].Uuid
	})
	st.current[key] = edges
	return edges, nil
}

func (st *edgeState) touch(e *types.EntityEdge) {
	if _, ok := st.touched[e.Uuid]; ok {
		return
	}
	st.touched[e.Uuid] = e
	st.res.Edges = append(st.res.Edges, e)
}

func (st *edgeState) dropCurrent(e *types.EntityEdge) {
	key := pairKey(e.SourceNodeID, e.TargetNodeID)
	edges := st.current[key]
	for i, have := range edges {
		if have.Uuid == e.Uuid {
			st.current[key] = append(edges[:i:i], edges[i+1:]...)
			return
		}
	}
}

// embedFacts embeds every candidate fact in one call. The result is indexed
// like candidates; failures leave it empty with a warning.
func (eo *EdgeOperations) embedFacts(ctx context.Context, candidates []types.CandidateEdge, res *EdgeResolution) ([][]float32, error) {
	out := make([][]float32, len(candidates))
	if eo.embedder == nil {
		return out, nil
	}

	var (
		idx   []int
		texts []string
	)
	for i, c := range candidates {
		if fact := strings.TrimSpace(c.Fact); fact != "" {
			idx = append(idx, i)
			texts = append(texts, fact)
		}
	}
	if len(texts) == 0 {
		return out, nil
	}

	vectors, err := eo.embedder.Embed(ctx, texts)
	if err == nil && len(vectors) != len(texts) {
		err = fmt.Errorf("%w: got %d for %d facts", embedder.ErrNoEmbeddings, len(vectors), len(texts))
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		eo.logger.Warn("fact embedding failed, deduplicating by text only", "error", err)
		res.Warnings = append(res.Warnings, types.Warning{
			Kind:    types.KindTransient,
			Stage:   stageEdgeResolution,
			Message: fmt.Sprintf("fact embeddings unavailable: %v", err),
		})
		return out, nil
	}
	for j, i := range idx {
		out[i] = vectors[j]
	}
	return out, nil
}

func normalizeFact(fact string) string {
	return strings.TrimRight(utils.NormalizeStringExact(fact), ".!")
}
