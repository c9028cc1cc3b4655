package checkpoint

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/soundprediction/chronograph/pkg/types"
)

var stateOrder = []types.PipelineState{
	types.StateReceived,
	types.StateExtracted,
	types.StateEntitiesResolved,
	types.StateEdgesResolved,
	types.StateCommitted,
}

// NewCheckpoint creates a checkpoint in the received state.
func NewCheckpoint(episodeID, groupID, contentHash string, now time.Time) *EpisodeCheckpoint {
	return &EpisodeCheckpoint{
		EpisodeID:     episodeID,
		GroupID:       groupID,
		ContentHash:   contentHash,
		State:         types.StateReceived,
		CreatedAt:     now,
		LastUpdatedAt: now,
	}
}

// Advance moves the checkpoint to state to, recording the transition.
func (c *EpisodeCheckpoint) Advance(to types.PipelineState, now time.Time) error {
	if !types.ValidTransition(c.State, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, c.State, to)
	}
	c.History = append(c.History, Transition{From: c.State, To: to, At: now})
	c.State = to
	c.LastUpdatedAt = now
	return nil
}

// Fail moves the checkpoint to failed and records err and its kind.
func (c *EpisodeCheckpoint) Fail(err error, now time.Time) error {
	if !types.ValidTransition(c.State, types.StateFailed) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, c.State, types.StateFailed)
	}
	msg := ""
	if err != nil {
		msg = err.Error()
		c.ErrorKind = types.KindOf(err)
	}
	c.History = append(c.History, Transition{From: c.State, To: types.StateFailed, At: now, Error: msg})
	c.State = types.StateFailed
	c.LastUpdatedAt = now
	c.AttemptCount++
	c.LastError = msg
	return nil
}

// GetProgress returns a human-readable progress description.
func (c *EpisodeCheckpoint) GetProgress() string {
	if c.State == types.StateFailed {
		return fmt.Sprintf("failed (%s)", c.lastGoodState())
	}
	for i, s := range stateOrder {
		if s == c.State {
			pct := float64(i) / float64(len(stateOrder)-1) * 100
			return fmt.Sprintf("%.0f%% (%s)", pct, c.State)
		}
	}
	return "unknown state"
}

func (c *EpisodeCheckpoint) lastGoodState() types.PipelineState {
	for i := len(c.History) - 1; i >= 0; i-- {
		if c.History[i].To == types.StateFailed {
			return c.History[i].From
		}
	}
	return types.StateReceived
}

// Summary provides a human-readable summary of the checkpoint.
func (c *EpisodeCheckpoint) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Episode: %s\n", c.EpisodeID)
	fmt.Fprintf(&b, "Group: %s\n", c.GroupID)
	fmt.Fprintf(&b, "Progress: %s\n", c.GetProgress())
	fmt.Fprintf(&b, "Created: %s\n", c.CreatedAt.Format(time.RFC3339))
	fmt.Fprintf(&b, "Last Updated: %s\n", c.LastUpdatedAt.Format(time.RFC3339))
	fmt.Fprintf(&b, "Attempts: %d\n", c.AttemptCount)
	if c.LastError != "" {
		fmt.Fprintf(&b, "Last Error: [%s] %s\n", c.ErrorKind, c.LastError)
	}
	return b.String()
}

// Manager records pipeline transitions in a Store.
type Manager struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

// NewManager wraps store. A nil logger uses slog.Default().
func NewManager(store Store, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{store: store, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

// Store returns the underlying store.
func (m *Manager) Store() Store {
	return m.store
}

// Begin creates and saves a received checkpoint for an episode.
func (m *Manager) Begin(ctx context.Context, episodeID, groupID, contentHash string) (*EpisodeCheckpoint, error) {
	cp := NewCheckpoint(episodeID, groupID, contentHash, m.now())
	if err := m.store.Save(ctx, cp); err != nil {
		return nil, fmt.Errorf("failed to save checkpoint: %w", err)
	}
	m.logger.Debug("pipeline state", "episode_id", episodeID, "group_id", groupID, "state", cp.State)
	return cp, nil
}

// Advance moves cp to state to and saves it.
func (m *Manager) Advance(ctx context.Context, cp *EpisodeCheckpoint, to types.PipelineState) error {
	from := cp.State
	if err := cp.Advance(to, m.now()); err != nil {
		return err
	}
	if err := m.store.Save(ctx, cp); err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	m.logger.Debug("pipeline state", "episode_id", cp.EpisodeID, "group_id", cp.GroupID, "from", from, "state", to)
	return nil
}

// Fail moves cp to failed and saves it. The checkpoint is saved with a fresh
// context so a cancelled ingestion still records its failure.
func (m *Manager) Fail(ctx context.Context, cp *EpisodeCheckpoint, cause error) error {
	from := cp.State
	if err := cp.Fail(cause, m.now()); err != nil {
		return err
	}
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := m.store.Save(saveCtx, cp); err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	m.logger.Warn("pipeline failed",
		"episode_id", cp.EpisodeID,
		"group_id", cp.GroupID,
		"from", from,
		"kind", cp.ErrorKind,
		"error", cp.LastError)
	return nil
}

// Load returns the checkpoint of an episode, or nil.
func (m *Manager) Load(ctx context.Context, episodeID string) (*EpisodeCheckpoint, error) {
	return m.store.Load(ctx, episodeID)
}

// List returns every checkpoint, optionally restricted to one state.
func (m *Manager) List(ctx context.Context, state types.PipelineState) ([]*EpisodeCheckpoint, error) {
	all, err := m.store.List(ctx)
	if err != nil {
		return nil, err
	}
	if state == "" {
		return all, nil
	}
	var out []*EpisodeCheckpoint
	for _, cp := range all {
		if cp.State == state {
			out = append(out, cp)
		}
	}
	return out, nil
}

// FindStalled returns non-terminal checkpoints not updated within d.
func (m *Manager) FindStalled(ctx context.Context, d time.Duration) ([]*EpisodeCheckpoint, error) {
	all, err := m.store.List(ctx)
	if err != nil {
		return nil, err
	}
	cutoff := m.now().Add(-d)
	var stalled []*EpisodeCheckpoint
	for _, cp := range all {
		if !cp.State.IsTerminal() && cp.LastUpdatedAt.Before(cutoff) {
			stalled = append(stalled, cp)
		}
	}
	return stalled, nil
}

// CleanOld removes terminal checkpoints last updated before maxAge ago.
func (m *Manager) CleanOld(ctx context.Context, maxAge time.Duration) (int, error) {
	all, err := m.store.List(ctx)
	if err != nil {
		return 0, err
	}
	cutoff := m.now().Add(-maxAge)
	removed := 0
	for _, cp := range all {
		if !cp.State.IsTerminal() || !cp.LastUpdatedAt.Before(cutoff) {
			continue
		}
		if err := m.store.Delete(ctx, cp.EpisodeID); err != nil {
			m.logger.Warn("failed to delete checkpoint", "episode_id", cp.EpisodeID, "error", err)
			continue
		}
		removed++
	}
	return removed, nil
}

// Statistics counts checkpoints by state.
type Statistics struct {
	Total     int
	Committed int
	Failed    int
	Running   int
	Stalled   int
	ByState   map[types.PipelineState]int
	ByKind    map[types.ErrorKind]int
}

// GetStatistics summarises the store. Running checkpoints idle for longer
// than stalledAfter count as stalled.
func (m *Manager) GetStatistics(ctx context.Context, stalledAfter time.Duration) (*Statistics, error) {
	all, err := m.store.List(ctx)
	if err != nil {
		return nil, err
	}
	stats := &Statistics{
		Total:   len(all),
		ByState: make(map[types.PipelineState]int),
		ByKind:  make(map[types.ErrorKind]int),
	}
	cutoff := m.now().Add(-stalledAfter)
	for _, cp := range all {
		stats.ByState[cp.State]++
		switch {
		case cp.State == types.StateCommitted:
			stats.Committed++
		case cp.State == types.StateFailed:
			stats.Failed++
			stats.ByKind[cp.ErrorKind]++
		case cp.LastUpdatedAt.Before(cutoff):
			stats.Stalled++
		default:
			stats.Running++
		}
	}
	return stats, nil
}
