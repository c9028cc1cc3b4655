package types

import (
	"errors"
	"time"
)

// TimeWindowMode selects how an edge's validity interval is matched.
type TimeWindowMode string

const (
	// TimeWindowAsOf admits edges valid at a single instant of event time.
	TimeWindowAsOf TimeWindowMode = "as_of"
	// TimeWindowRange admits edges whose validity interval intersects a range,
	// including edges that have since been invalidated.
	TimeWindowRange TimeWindowMode = "range"
)

var (
	ErrInvalidWindowMode = errors.New("time window mode must be as_of or range")
	ErrInvalidWindow     = errors.New("time window start must not be after end")
)

// TimeWindow is an event-time filter over edges. A nil *TimeWindow selects the
// current view: edges that are neither invalidated nor expired.
type TimeWindow struct {
	Mode  TimeWindowMode `json:"mode"`
	At    time.Time      `json:"at,omitempty"`
	Start time.Time      `json:"start,omitempty"`
	End   time.Time      `json:"end,omitempty"`
}

// AsOf returns a window admitting edges valid at t.
func AsOf(t time.Time) *TimeWindow {
	return &TimeWindow{Mode: TimeWindowAsOf, At: t.UTC()}
}

// Between returns a window admitting edges valid at any point of [start, end].
func Between(start, end time.Time) *TimeWindow {
	return &TimeWindow{Mode: TimeWindowRange, Start: start.UTC(), End: end.UTC()}
}

func (w *TimeWindow) Validate() error {
	if w == nil {
		return nil
	}
	switch w.Mode {
	case TimeWindowAsOf:
		return nil
	case TimeWindowRange:
		if w.Start.After(w.End) {
			return ErrInvalidWindow
		}
		return nil
	default:
		return ErrInvalidWindowMode
	}
}

// Admits reports whether the edge passes the window. Validity intervals are
// half-open: [valid_at, invalid_at). A nil valid_at extends to the past and a
// nil invalid_at to the future.
func (w *TimeWindow) Admits(e *EntityEdge) bool {
	if w == nil {
		return e.IsCurrent()
	}
	switch w.Mode {
	case TimeWindowAsOf:
		if e.ValidAt != nil && e.ValidAt.After(w.At) {
			return false
		}
		if e.InvalidAt != nil && !e.InvalidAt.After(w.At) {
			return false
		}
		return true
	case TimeWindowRange:
		if e.ValidAt != nil && e.ValidAt.After(w.End) {
			return false
		}
		if e.InvalidAt != nil && !e.InvalidAt.After(w.Start) {
			return false
		}
		return true
	}
	return false
}

// ItemKind distinguishes node and edge results.
type ItemKind string

const (
	KindNode ItemKind = "node"
	KindEdge ItemKind = "edge"
)

// SearchFilters constrain store searches and traversals.
type SearchFilters struct {
	GroupID string `json:"group_id"`

	// EntityLabels admits nodes carrying any of the labels and edges with
	// an endpoint carrying one.
	EntityLabels []string `json:"entity_labels,omitempty"`

	Window *TimeWindow `json:"window,omitempty"`

	// SystemTime, when set, restricts edges to those the system knew of and
	// had not expired at that instant.
	SystemTime *time.Time `json:"system_time,omitempty"`

	// Kinds restricts results to nodes or edges. Empty means both.
	Kinds []ItemKind `json:"kinds,omitempty"`
}

// WantsNodes reports whether node results are requested.
func (f *SearchFilters) WantsNodes() bool {
	return f == nil || wantsKind(f.Kinds, KindNode)
}

// WantsEdges reports whether edge results are requested.
func (f *SearchFilters) WantsEdges() bool {
	return f == nil || wantsKind(f.Kinds, KindEdge)
}

func wantsKind(kinds []ItemKind, k ItemKind) bool {
	if len(kinds) == 0 {
		return true
	}
	for _, have := range kinds {
		if have == k {
			return true
		}
	}
	return false
}

// AdmitsNode applies the partition and label filters to a node.
func (f *SearchFilters) AdmitsNode(n *EntityNode) bool {
	if f == nil {
		return true
	}
	if f.GroupID != "" && n.GroupID != f.GroupID {
		return false
	}
	if len(f.EntityLabels) > 0 && !n.HasLabel(f.EntityLabels...) {
		return false
	}
	return true
}

// AdmitsEdge applies the partition, event-time and system-time filters to an
// edge. Label filtering needs the endpoints, see AdmitsEdgeEndpoints.
func (f *SearchFilters) AdmitsEdge(e *EntityEdge) bool {
	var window *TimeWindow
	if f != nil {
		if f.GroupID != "" && e.GroupID != f.GroupID {
			return false
		}
		window = f.Window
		if f.SystemTime != nil {
			if e.CreatedAt.After(*f.SystemTime) {
				return false
			}
			if e.ExpiredAt != nil && !e.ExpiredAt.After(*f.SystemTime) {
				return false
			}
			// A system-time view without an event window shows what was
			// current then, which the expiry check above already decided.
			if window == nil {
				return true
			}
		}
	}
	return window.Admits(e)
}

// AdmitsEdgeEndpoints applies the label filter to an edge's endpoints.
// Missing endpoints fail the filter when labels are requested.
func (f *SearchFilters) AdmitsEdgeEndpoints(source, target *EntityNode) bool {
	if f == nil || len(f.EntityLabels) == 0 {
		return true
	}
	return (source != nil && source.HasLabel(f.EntityLabels...)) ||
		(target != nil && target.HasLabel(f.EntityLabels...))
}
