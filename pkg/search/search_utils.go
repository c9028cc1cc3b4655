package search

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/soundprediction/chronograph/pkg/metrics"
	"github.com/soundprediction/chronograph/pkg/types"
	"github.com/soundprediction/chronograph/pkg/utils"
)

// Channel outcomes reported to metrics.
const (
	outcomeOK        = "ok"
	outcomeError     = "error"
	outcomeTimeout   = "timeout"
	outcomeCancelled = "cancelled"
)

type channelResult struct {
	items []types.ScoredItem
	err   error
}

// runChannel runs fn under the channel timeout. The call is abandoned when
// the timeout fires even if fn ignores its context. Errors, timeouts and
// panics yield no items and a warning.
func (s *Searcher) runChannel(ctx context.Context, ch types.Channel, fn func(ctx context.Context) ([]types.ScoredItem, error)) ([]types.ScoredItem, *types.Warning) {
	start := time.Now()
	cctx, cancel := context.WithTimeout(ctx, s.opts.ChannelTimeout)
	defer cancel()

	done := make(chan channelResult, 1)
	utils.SafeGo(func() {
		items, err := fn(cctx)
		done <- channelResult{items: items, err: err}
	}, func(err error) {
		done <- channelResult{err: err}
	})

	var res channelResult
	select {
	case res = <-done:
	case <-cctx.Done():
		res = channelResult{err: cctx.Err()}
	}
	s.metrics.RecordStage(ctx, metrics.OpSearch, string(ch), time.Since(start))

	if ctx.Err() != nil {
		s.metrics.RecordChannel(ctx, ch, outcomeCancelled)
		return nil, nil
	}
	if res.err == nil {
		s.metrics.RecordChannel(ctx, ch, outcomeOK)
		return res.items, nil
	}

	outcome := outcomeError
	msg := res.err.Error()
	if errors.Is(res.err, context.DeadlineExceeded) {
		outcome = outcomeTimeout
		msg = fmt.Sprintf("timed out after %s", s.opts.ChannelTimeout)
	}
	s.metrics.RecordChannel(ctx, ch, outcome)
	s.logger.Warn("search channel failed", "channel", ch, "outcome", outcome, "error", res.err)
	return nil, &types.Warning{
		Kind:    types.KindTransient,
		Stage:   string(ch) + "_channel",
		Message: msg,
	}
}

// normalizedScores divides each score of a ranked list by the list's top
// score. A list whose top score is not positive normalizes to zeros.
func normalizedScores(items []types.ScoredItem) []float64 {
	out := make([]float64, len(items))
	if len(items) == 0 {
		return out
	}
	top := items[0].Score
	for _, it := range items[1:] {
		if it.Score > top {
			top = it.Score
		}
	}
	if top <= 0 {
		return out
	}
	for i, it := range items {
		out[i] = it.Score / top
	}
	return out
}
