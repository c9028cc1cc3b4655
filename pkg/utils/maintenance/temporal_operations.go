package maintenance

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/soundprediction/chronograph/pkg/types"
)

// ErrUnparseableTime is returned by ParseEventTime for text in none of the
// accepted layouts.
var ErrUnparseableTime = errors.New("unparseable event time")

// eventTimeLayouts are tried in order. Layouts without a zone are read as UTC
// and partial dates resolve to their earliest instant.
var eventTimeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"2006-01",
	"2006",
	"January 2, 2006",
	"Jan 2, 2006",
	"January 2006",
	"Jan 2006",
}

// ParseEventTime parses a time stated by the extraction collaborator. Empty
// input yields nil and no error.
func ParseEventTime(s string) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	for _, layout := range eventTimeLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return types.TimePtr(t), nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrUnparseableTime, s)
}

// candidateTimes holds the parsed times of one candidate edge.
type candidateTimes struct {
	// event is the parsed event time, nil when absent or unparseable.
	event *time.Time
	// end is the parsed end time, nil when absent or unparseable.
	end *time.Time
	// effective is event, falling back to the episode reference time.
	effective time.Time
	// endAssertion is set when the candidate only states that something ended.
	endAssertion bool
}

// parseCandidateTimes parses a candidate's times, returning a warning for each
// value that could not be read.
func parseCandidateTimes(c types.CandidateEdge, reference time.Time) (candidateTimes, []types.Warning) {
	var (
		ct       candidateTimes
		warnings []types.Warning
	)
	label := candidateLabel(c)

	event, err := ParseEventTime(c.EventTime)
	if err != nil {
		warnings = append(warnings, types.Warning{
			Kind:      types.KindValidation,
			Stage:     stageEdgeResolution,
			Candidate: label,
			Message:   fmt.Sprintf("event time: %v", err),
		})
	}
	end, err := ParseEventTime(c.EndTime)
	if err != nil {
		warnings = append(warnings, types.Warning{
			Kind:      types.KindValidation,
			Stage:     stageEdgeResolution,
			Candidate: label,
			Message:   fmt.Sprintf("end time: %v", err),
		})
	}

	ct.event = event
	ct.end = end
	ct.effective = reference.UTC()
	if event != nil {
		ct.effective = *event
	}
	ct.endAssertion = end != nil && strings.TrimSpace(c.EventTime) == ""
	return ct, warnings
}

// invalidationTime is the instant at which a contradicted edge stops holding.
func (ct candidateTimes) invalidationTime() time.Time {
	if ct.end != nil && (ct.endAssertion || ct.event == nil) {
		return *ct.end
	}
	return ct.effective
}

// ActiveAt reports whether the edge held at t in event time.
func ActiveAt(edge *types.EntityEdge, t time.Time) bool {
	return types.AsOf(t).Admits(edge)
}

// Lifespan returns how long the edge held. Open-ended intervals return false.
func Lifespan(edge *types.EntityEdge) (time.Duration, bool) {
	if edge.ValidAt == nil || edge.InvalidAt == nil {
		return 0, false
	}
	return edge.InvalidAt.Sub(*edge.ValidAt), true
}

func candidateLabel(c types.CandidateEdge) string {
	return fmt.Sprintf("%s -%s-> %s", c.SourceName, c.Relation, c.TargetName)
}
