package chronograph

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/soundprediction/chronograph/pkg/alert"
	"github.com/soundprediction/chronograph/pkg/checkpoint"
	"github.com/soundprediction/chronograph/pkg/driver"
	"github.com/soundprediction/chronograph/pkg/lock"
	"github.com/soundprediction/chronograph/pkg/metrics"
	"github.com/soundprediction/chronograph/pkg/types"
	"github.com/soundprediction/chronograph/pkg/utils"
	"github.com/soundprediction/chronograph/pkg/utils/maintenance"
)

// Pipeline stage names used for metrics.
const (
	stageLock     = "lock"
	stageExtract  = "extract"
	stageEntities = "resolve_entities"
	stageEdges    = "resolve_edges"
	stageCommit   = "commit"
)

// defaultEpisodeName names episodes submitted without a name.
const defaultEpisodeName = "episode"

// episodeRun carries the working state of one AddEpisode call.
type episodeRun struct {
	req     *types.AddEpisodeRequest
	hash    string
	cp      *checkpoint.EpisodeCheckpoint
	unlocks []lock.Unlock
	started time.Time
}

func (r *episodeRun) hold(u lock.Unlock) {
	r.unlocks = append(r.unlocks, u)
}

func (r *episodeRun) release() {
	for i := len(r.unlocks) - 1; i >= 0; i-- {
		r.unlocks[i]()
	}
	r.unlocks = nil
}

// AddEpisode ingests one episode: it extracts candidates, resolves them
// against the partition and commits the episode with its nodes and edges as
// one batch.
//
// An episode whose content was already ingested into the same group returns
// the stored result with Reused set. On failure the returned result carries
// the episode ID and the failed state alongside the error.
func (c *Client) AddEpisode(ctx context.Context, req *types.AddEpisodeRequest) (*types.AddEpisodeResult, error) {
	if req == nil {
		req = &types.AddEpisodeRequest{}
	}
	run := &episodeRun{
		req:     req,
		hash:    types.ContentHash(req.Content),
		started: time.Now(),
	}
	defer run.release()

	episodeID := utils.GenerateUUID()
	logger := c.logger.With("episode_id", episodeID, "group_id", req.GroupID)

	cp, err := c.checkpoints.Begin(ctx, episodeID, req.GroupID, run.hash)
	if err != nil {
		err = types.NewTransientError("checkpoint", err)
		c.recordIngest(ctx, run, metrics.StatusError, err)
		return nil, err
	}
	run.cp = cp

	result, err := c.runEpisode(ctx, run, episodeID)
	if err != nil {
		if ferr := c.checkpoints.Fail(ctx, run.cp, err); ferr != nil {
			logger.Error("failed to record episode failure", "error", ferr)
		}
		c.recordIngest(ctx, run, metrics.StatusError, err)
		return &types.AddEpisodeResult{EpisodeID: episodeID, State: types.StateFailed}, err
	}

	switch {
	case result.Reused:
		// The stored episode is the record; the checkpoint of this attempt
		// carries nothing.
		if derr := c.checkpoints.Store().Delete(ctx, episodeID); derr != nil {
			logger.Warn("failed to delete checkpoint of reused episode", "error", derr)
		}
		c.recordIngest(ctx, run, metrics.StatusReused, nil)
		logger.Info("episode already ingested", "existing_episode_id", result.EpisodeID)
	case result.Partial:
		c.recordIngest(ctx, run, metrics.StatusPartial, nil)
	default:
		c.recordIngest(ctx, run, metrics.StatusSuccess, nil)
	}
	return result, nil
}

// runEpisode drives the state machine from received to committed. Locks taken
// here are released by the caller.
func (c *Client) runEpisode(ctx context.Context, run *episodeRun, episodeID string) (*types.AddEpisodeResult, error) {
	req := run.req
	logger := c.logger.With("episode_id", episodeID, "group_id", req.GroupID)

	if err := req.Validate(); err != nil {
		return nil, types.NewValidationError("add_episode", err)
	}
	if err := utils.ValidateGroupID(req.GroupID); err != nil {
		return nil, types.NewValidationError("add_episode", err)
	}

	now := c.now()
	refTime := req.ReferenceTime.UTC()
	if req.ReferenceTime.IsZero() {
		refTime = now
	}

	// Idempotency: one episode per content hash and group.
	stageStart := time.Now()
	unlock, err := c.locker.Lock(ctx, lock.EpisodeKey(req.GroupID, run.hash))
	if err != nil {
		return nil, types.NewTransientError("lock_episode", err)
	}
	run.hold(unlock)
	c.metrics.RecordStage(ctx, metrics.OpIngest, stageLock, time.Since(stageStart))

	existing, err := c.driver.GetEpisodeByHash(ctx, req.GroupID, run.hash)
	switch {
	case err == nil:
		result := types.ResultFromEpisode(existing)
		result.Reused = true
		return result, nil
	case !errors.Is(err, driver.ErrNotFound):
		return nil, types.NewTransientError("get_episode_by_hash", err)
	}

	// Extraction.
	stageStart = time.Now()
	var previous []*types.EpisodicNode
	if n := c.config.Ingestion.PreviousEpisodes; n > 0 {
		previous, err = c.driver.GetRecentEpisodes(ctx, req.GroupID, refTime, n)
		if err != nil {
			return nil, types.NewTransientError("get_recent_episodes", err)
		}
	}
	extraction, err := c.extract(ctx, &types.ExtractionRequest{
		Content:          req.Content,
		ReferenceTime:    refTime,
		GroupID:          req.GroupID,
		PreviousEpisodes: previous,
		Schema:           req.Schema,
	})
	if err != nil {
		return nil, classify("extract", err)
	}
	c.metrics.RecordStage(ctx, metrics.OpIngest, stageExtract, time.Since(stageStart))
	if err := c.checkpoints.Advance(ctx, run.cp, types.StateExtracted); err != nil {
		return nil, types.NewTransientError("checkpoint", err)
	}
	logger.Debug("episode extracted", "entities", len(extraction.Entities), "edges", len(extraction.Edges))

	name := req.Name
	if name == "" {
		name = defaultEpisodeName
	}
	episode := &types.EpisodicNode{
		Uuid:              episodeID,
		Name:              name,
		Content:           req.Content,
		ContentHash:       run.hash,
		Source:            req.Source,
		SourceDescription: req.SourceDescription,
		ReferenceTime:     refTime,
		GroupID:           req.GroupID,
		CreatedAt:         now,
	}
	warnings := append([]types.Warning(nil), extraction.Warnings...)

	// Entity resolution.
	stageStart = time.Now()
	entityKeys := make([]string, 0, len(extraction.Entities))
	for _, cand := range extraction.Entities {
		entityKeys = append(entityKeys, lock.EntityKey(req.GroupID, cand.Name))
	}
	if len(entityKeys) > 0 {
		unlock, err := c.locker.Lock(ctx, entityKeys...)
		if err != nil {
			return nil, types.NewTransientError("lock_entities", err)
		}
		run.hold(unlock)
	}
	nodes, err := c.nodeOps.ResolveExtractedNodes(ctx, req.GroupID, episode, extraction.Entities)
	if err != nil {
		return nil, classify("resolve_entities", err)
	}
	warnings = append(warnings, nodes.Warnings...)
	c.metrics.RecordStage(ctx, metrics.OpIngest, stageEntities, time.Since(stageStart))
	if err := c.checkpoints.Advance(ctx, run.cp, types.StateEntitiesResolved); err != nil {
		return nil, types.NewTransientError("checkpoint", err)
	}

	// Edge resolution.
	stageStart = time.Now()
	if keys := edgeKeys(req.GroupID, extraction.Edges, nodes); len(keys) > 0 {
		unlock, err := c.locker.Lock(ctx, keys...)
		if err != nil {
			return nil, types.NewTransientError("lock_edges", err)
		}
		run.hold(unlock)
	}
	edges, err := c.edgeOps.ResolveExtractedEdges(ctx, req.GroupID, episode, extraction.Edges, nodes.IDsByName, now)
	if err != nil {
		return nil, classify("resolve_edges", err)
	}
	warnings = append(warnings, edges.Warnings...)
	c.metrics.RecordStage(ctx, metrics.OpIngest, stageEdges, time.Since(stageStart))
	if err := c.checkpoints.Advance(ctx, run.cp, types.StateEdgesResolved); err != nil {
		return nil, types.NewTransientError("checkpoint", err)
	}

	// Commit.
	episode.CreatedEntityIDs = nodes.CreatedIDs
	episode.MergedEntityIDs = nodes.MergedIDs
	episode.CreatedEdgeIDs = edges.CreatedIDs
	episode.MergedEdgeIDs = edges.MergedIDs
	episode.InvalidatedEdgeIDs = edges.InvalidatedIDs
	episode.Warnings = warnings
	episode.Partial = extraction.Partial || nodes.Partial || edges.Partial

	stageStart = time.Now()
	if err := c.commit(ctx, &driver.Batch{Nodes: nodes.Nodes, Edges: edges.Edges, Episode: episode}); err != nil {
		return nil, err
	}
	c.metrics.RecordStage(ctx, metrics.OpIngest, stageCommit, time.Since(stageStart))

	if err := c.checkpoints.Advance(ctx, run.cp, types.StateCommitted); err != nil {
		// The batch is durable; the episode counts as committed.
		logger.Error("failed to record committed state", "error", err)
	}

	result := types.ResultFromEpisode(episode)
	logger.Info("episode committed",
		"entities_created", len(result.CreatedEntityIDs),
		"entities_merged", len(result.MergedEntityIDs),
		"edges_created", len(result.CreatedEdgeIDs),
		"edges_merged", len(result.MergedEdgeIDs),
		"edges_invalidated", len(result.InvalidatedEdgeIDs),
		"warnings", len(result.Warnings),
		"partial", result.Partial)
	return result, nil
}

// commit writes the batch, retrying store failures with backoff. A batch the
// store rejects as malformed is not retried.
func (c *Client) commit(ctx context.Context, batch *driver.Batch) error {
	if err := batch.Validate(); err != nil {
		return types.NewValidationError("commit", err)
	}
	err := utils.Retry(ctx, c.commitBackoff(), func(err error) bool {
		return !errors.Is(err, types.ErrValidation) && ctx.Err() == nil
	}, func(ctx context.Context) error {
		if err := c.driver.WriteBatch(ctx, batch); err != nil {
			c.logger.Warn("commit attempt failed", "episode_id", batch.Episode.Uuid, "error", err)
			return err
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, types.ErrValidation) {
			return err
		}
		ferr := types.NewFatalError("commit", err)
		if ctx.Err() == nil {
			c.alertCommit(ctx, batch.Episode, ferr)
		}
		return ferr
	}
	return nil
}

// alertCommit reports a commit that exhausted its retries.
func (c *Client) alertCommit(ctx context.Context, episode *types.EpisodicNode, err *types.Error) {
	ev := alert.Event{
		Severity:  alert.SeverityCritical,
		Source:    alert.SourceCommit,
		Name:      err.Op,
		GroupID:   episode.GroupID,
		EpisodeID: episode.Uuid,
		Kind:      err.Kind,
		Err:       err.Err,
		At:        c.config.Now(),
	}
	if aerr := c.alerter.Alert(ctx, ev); aerr != nil {
		c.logger.Error("failed to send commit alert", "group_id", episode.GroupID, "episode_id", episode.Uuid, "error", aerr)
	}
}

// edgeKeys returns the lock keys of every entity pair the candidates connect.
// Candidates with an unresolved endpoint are skipped by edge resolution and
// need no lock.
func edgeKeys(groupID string, candidates []types.CandidateEdge, nodes *maintenance.NodeResolution) []string {
	keys := make([]string, 0, len(candidates))
	for _, cand := range candidates {
		a, okA := nodes.NodeID(cand.SourceName)
		b, okB := nodes.NodeID(cand.TargetName)
		if !okA || !okB {
			continue
		}
		keys = append(keys, lock.EdgeKey(groupID, a, b))
	}
	return keys
}

// classify keeps the kind of a typed error and reports anything else as
// transient.
func classify(op string, err error) error {
	var typed *types.Error
	if errors.As(err, &typed) {
		return err
	}
	var panicked *utils.PanicError
	if errors.As(err, &panicked) {
		return types.NewFatalError(op, err)
	}
	return types.NewTransientError(op, err)
}

// extract runs the extractor, turning a panic into an error.
func (c *Client) extract(ctx context.Context, req *types.ExtractionRequest) (res *types.Extraction, err error) {
	defer utils.RecoverAsError(&err)
	return c.extractor.Extract(ctx, req)
}

func (c *Client) recordIngest(ctx context.Context, run *episodeRun, status string, err error) {
	c.metrics.RecordOperation(ctx, metrics.OpIngest, status, time.Since(run.started))
	if err != nil {
		c.metrics.RecordError(ctx, metrics.OpIngest, types.KindOf(err))
	}
}

// EpisodeOutcome is the result of one episode of a bulk ingestion.
type EpisodeOutcome struct {
	Result *types.AddEpisodeResult
	Err    error
}

// AddEpisodes ingests episodes concurrently, at most
// ingestion.max_concurrency at a time. Outcomes are index aligned with reqs.
func (c *Client) AddEpisodes(ctx context.Context, reqs []*types.AddEpisodeRequest) []EpisodeOutcome {
	pool := utils.NewWorkerPool(c.config.Ingestion.MaxConcurrency, func(ctx context.Context, req *types.AddEpisodeRequest) (*types.AddEpisodeResult, error) {
		return c.AddEpisode(ctx, req)
	})
	results, errs := pool.ProcessItems(ctx, reqs)

	outcomes := make([]EpisodeOutcome, len(reqs))
	failed := 0
	for i := range reqs {
		outcomes[i] = EpisodeOutcome{Result: results[i], Err: errs[i]}
		if errs[i] != nil {
			failed++
		}
	}
	c.logger.Info("bulk ingestion finished", "episodes", len(reqs), "failed", failed)
	return outcomes
}

// FailedEpisodes returns the checkpoints of episodes that ended in failed.
func (c *Client) FailedEpisodes(ctx context.Context) ([]*checkpoint.EpisodeCheckpoint, error) {
	cps, err := c.checkpoints.List(ctx, types.StateFailed)
	if err != nil {
		return nil, fmt.Errorf("failed to list checkpoints: %w", err)
	}
	return cps, nil
}
