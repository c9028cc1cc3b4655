// Package types defines the core data types of the chronograph knowledge graph.
//
// The graph is bi-temporal. Every fact records two kinds of time:
//   - Event time (ValidAt, InvalidAt): when the fact held in the world.
//   - System time (CreatedAt, ExpiredAt): when the graph learned it and when
//     the graph stopped treating it as current.
//
// The main types are:
//   - EntityNode: a real-world thing, scoped to a partition (GroupID)
//   - EntityEdge: a fact between two entities, append-only except for invalidation
//   - EpisodicNode: one ingested unit of text and the result of ingesting it
//   - CommunityNode: a derived cluster of densely connected entities
//
// # Time windows
//
// TimeWindow filters edges by event time:
//
//	types.AsOf(t)              // valid at t: valid_at <= t < invalid_at
//	types.Between(t1, t2)      // interval intersects [t1, t2], invalidated edges included
//	(*types.TimeWindow)(nil)   // current facts only
//
// # Errors
//
// Errors are classified as transient, validation, conflict or fatal. Use
// errors.Is with ErrTransient, ErrValidation, ErrConflict or ErrFatal to test the
// class of a wrapped error. Non-fatal problems are reported as Warning values
// alongside results.
package types
