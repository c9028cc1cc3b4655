package extractor

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/soundprediction/chronograph/pkg/nlp"
	"github.com/soundprediction/chronograph/pkg/prompts"
	"github.com/soundprediction/chronograph/pkg/types"
	"github.com/soundprediction/chronograph/pkg/utils"
)

const warningStage = "extraction"

// LLMExtractor implements Extractor with structured chat completions.
type LLMExtractor struct {
	client  nlp.Client
	prompts prompts.Library
	logger  *slog.Logger
}

// NewLLMExtractor creates an extractor over client. A nil logger uses slog.Default().
func NewLLMExtractor(client nlp.Client, logger *slog.Logger) *LLMExtractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &LLMExtractor{
		client:  client,
		prompts: prompts.NewLibrary(),
		logger:  logger,
	}
}

func (e *LLMExtractor) call(ctx context.Context, op string, prompt prompts.PromptVersion, promptCtx map[string]interface{}) (string, error) {
	promptCtx["logger"] = e.logger
	messages, err := prompt.Call(promptCtx)
	if err != nil {
		return "", types.NewValidationError(op, err)
	}
	resp, err := e.client.ChatWithStructuredOutput(ctx, messages, nil)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", &types.Error{Kind: nlp.ErrorKind(err), Op: op, Err: err}
	}
	prompts.LogResponses(e.logger, *resp)
	return resp.Content, nil
}

// Extract runs entity extraction, then fact extraction over the extracted
// entity names.
func (e *LLMExtractor) Extract(ctx context.Context, req *types.ExtractionRequest) (*types.Extraction, error) {
	if strings.TrimSpace(req.Content) == "" {
		return nil, types.NewValidationError("extract", types.ErrEmptyContent)
	}

	previous := make([]string, 0, len(req.PreviousEpisodes))
	for _, ep := range req.PreviousEpisodes {
		previous = append(previous, ep.Content)
	}
	var entityTypes interface{}
	if req.Schema != nil && len(req.Schema.EntityTypes) > 0 {
		entityTypes = req.Schema.EntityTypes
	}
	refTime := req.ReferenceTime.UTC().Format(time.RFC3339)

	content, err := e.call(ctx, "extract_nodes", e.prompts.ExtractNodes(), map[string]interface{}{
		"episode_content":   req.Content,
		"reference_time":    refTime,
		"previous_episodes": previous,
		"entity_types":      entityTypes,
	})
	if err != nil {
		return nil, err
	}
	obj, err := decodeObject("extract_nodes", content)
	if err != nil {
		return nil, err
	}
	var extracted []prompts.ExtractedEntity
	if err := decodeField("extract_nodes", obj, "entities", &extracted, false); err != nil {
		return nil, err
	}

	out := &types.Extraction{}
	names := make([]string, 0, len(extracted))
	for _, ent := range extracted {
		name := strings.TrimSpace(ent.Name)
		if name == "" {
			out.Warnings = append(out.Warnings, types.Warning{
				Kind: types.KindValidation, Stage: warningStage,
				Message: "dropped entity with empty name",
			})
			continue
		}
		labels := utils.UniqueStrings(ent.Labels)
		attrs, rejected := req.Schema.ValidateAttributes(labels, ent.Attributes)
		for _, msg := range rejected {
			out.Warnings = append(out.Warnings, types.Warning{
				Kind: types.KindValidation, Stage: warningStage, Candidate: name, Message: msg,
			})
		}
		out.Entities = append(out.Entities, types.CandidateEntity{
			Name:       name,
			Labels:     labels,
			Context:    strings.TrimSpace(ent.Context),
			Attributes: attrs,
		})
		names = append(names, name)
	}
	if len(out.Entities) < 2 {
		return out, nil
	}

	facts, err := e.extractFacts(ctx, req.Content, refTime, previous, names)
	if err != nil {
		if types.KindOf(err) != types.KindValidation {
			return nil, err
		}
		// Keep the entities; the facts of this episode are lost.
		e.logger.Warn("fact extraction unreadable, keeping entities", "group_id", req.GroupID, "error", err)
		out.Warnings = append(out.Warnings, types.Warning{
			Kind: types.KindValidation, Stage: warningStage,
			Message: fmt.Sprintf("facts dropped: %v", err),
		})
		out.Partial = true
		return out, nil
	}

	for _, f := range facts {
		edge := types.CandidateEdge{
			SourceName: strings.TrimSpace(f.Source),
			TargetName: strings.TrimSpace(f.Target),
			Relation:   normalizeRelation(f.Relation),
			Fact:       strings.TrimSpace(f.Fact),
			EventTime:  strings.TrimSpace(f.ValidAt),
			EndTime:    strings.TrimSpace(f.InvalidAt),
		}
		if edge.SourceName == "" || edge.TargetName == "" || edge.Relation == "" {
			out.Warnings = append(out.Warnings, types.Warning{
				Kind: types.KindValidation, Stage: warningStage, Candidate: edge.Fact,
				Message: "dropped fact with empty source, target or relation",
			})
			continue
		}
		out.Edges = append(out.Edges, edge)
	}

	e.logger.Debug("extracted episode", "group_id", req.GroupID, "entities", len(out.Entities), "edges", len(out.Edges), "warnings", len(out.Warnings))
	return out, nil
}

// extractFacts asks the model for the facts between the named entities.
func (e *LLMExtractor) extractFacts(ctx context.Context, content, refTime string, previous, names []string) ([]prompts.ExtractedEdge, error) {
	resp, err := e.call(ctx, "extract_edges", e.prompts.ExtractEdges(), map[string]interface{}{
		"episode_content":   content,
		"reference_time":    refTime,
		"previous_episodes": previous,
		"entities":          utils.UniqueStrings(names),
	})
	if err != nil {
		return nil, err
	}
	obj, err := decodeObject("extract_edges", resp)
	if err != nil {
		return nil, err
	}
	var facts []prompts.ExtractedEdge
	if err := decodeField("extract_edges", obj, "facts", &facts, false); err != nil {
		return nil, err
	}
	return facts, nil
}

// normalizeRelation upper-cases a relation label and joins words with underscores.
func normalizeRelation(rel string) string {
	fields := strings.FieldsFunc(strings.ToUpper(strings.TrimSpace(rel)), func(r rune) bool {
		return r == ' ' || r == '-' || r == '_'
	})
	return strings.Join(fields, "_")
}

// DisambiguateEntity asks the model whether the candidate is one of the existing nodes.
func (e *LLMExtractor) DisambiguateEntity(ctx context.Context, req *types.EntityDisambiguation) (*types.EntityDecision, error) {
	existing := make([]map[string]interface{}, 0, len(req.Existing))
	known := make(map[string]struct{}, len(req.Existing))
	for _, n := range req.Existing {
		existing = append(existing, map[string]interface{}{
			"id":      n.Uuid,
			"name":    n.Name,
			"labels":  n.Labels,
			"summary": n.Summary,
		})
		known[n.Uuid] = struct{}{}
	}

	content, err := e.call(ctx, "disambiguate_entity", e.prompts.DedupeNode(), map[string]interface{}{
		"episode_content": req.Episode,
		"candidate": map[string]interface{}{
			"name":    req.Candidate.Name,
			"labels":  req.Candidate.Labels,
			"context": req.Candidate.Context,
		},
		"existing_nodes": existing,
	})
	if err != nil {
		return nil, err
	}
	obj, err := decodeObject("disambiguate_entity", content)
	if err != nil {
		return nil, err
	}
	var res prompts.NodeResolution
	if err := decodeField("disambiguate_entity", obj, "verdict", &res.Verdict, false); err != nil {
		return nil, err
	}
	if err := decodeField("disambiguate_entity", obj, "match_id", &res.MatchID, true); err != nil {
		return nil, err
	}

	switch types.EntityVerdict(strings.ToLower(res.Verdict)) {
	case types.VerdictMatch:
		if _, ok := known[res.MatchID]; !ok {
			return nil, types.NewValidationError("disambiguate_entity",
				fmt.Errorf("%w: match_id %q is not a candidate", ErrSchemaMismatch, res.MatchID))
		}
		return &types.EntityDecision{Verdict: types.VerdictMatch, MatchID: res.MatchID}, nil
	case types.VerdictNew:
		return &types.EntityDecision{Verdict: types.VerdictNew}, nil
	case types.VerdictAmbiguous:
		return &types.EntityDecision{Verdict: types.VerdictAmbiguous}, nil
	default:
		return nil, types.NewValidationError("disambiguate_entity",
			fmt.Errorf("%w: unknown verdict %q", ErrSchemaMismatch, res.Verdict))
	}
}

// ClassifyEdge asks the model which existing facts the candidate duplicates
// or contradicts. Ids the model invents are ignored.
func (e *LLMExtractor) ClassifyEdge(ctx context.Context, req *types.EdgeClassification) (*types.EdgeDecision, error) {
	existing := make([]map[string]interface{}, 0, len(req.Existing))
	known := make(map[string]struct{}, len(req.Existing))
	for _, edge := range req.Existing {
		m := map[string]interface{}{
			"id":       edge.Uuid,
			"relation": edge.Name,
			"fact":     edge.Fact,
		}
		if edge.ValidAt != nil {
			m["valid_at"] = edge.ValidAt.UTC().Format(time.RFC3339)
		}
		existing = append(existing, m)
		known[edge.Uuid] = struct{}{}
	}

	content, err := e.call(ctx, "classify_edge", e.prompts.DedupeEdges(), map[string]interface{}{
		"new_edge": map[string]interface{}{
			"source":   req.Candidate.SourceName,
			"target":   req.Candidate.TargetName,
			"relation": req.Candidate.Relation,
			"fact":     req.Candidate.Fact,
		},
		"existing_edges": existing,
	})
	if err != nil {
		return nil, err
	}
	obj, err := decodeObject("classify_edge", content)
	if err != nil {
		return nil, err
	}
	var res prompts.EdgeDuplicate
	if err := decodeField("classify_edge", obj, "duplicate_facts", &res.DuplicateFacts, true); err != nil {
		return nil, err
	}
	if err := decodeField("classify_edge", obj, "contradicted_facts", &res.ContradictedFacts, true); err != nil {
		return nil, err
	}

	decision := &types.EdgeDecision{Relations: make(map[string]types.EdgeRelation)}
	for _, id := range res.ContradictedFacts {
		if _, ok := known[id]; ok {
			decision.Relations[id] = types.RelationContradicting
		}
	}
	// duplicate wins when the model lists an id twice
	for _, id := range res.DuplicateFacts {
		if _, ok := known[id]; ok {
			decision.Relations[id] = types.RelationDuplicate
		}
	}
	return decision, nil
}

var _ Extractor = (*LLMExtractor)(nil)
