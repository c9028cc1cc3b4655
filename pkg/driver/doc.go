// Package driver implements the graph store behind chronograph.
//
// The contract is GraphDriver, composed from focused interfaces (NodeStore,
// EdgeStore, EpisodeStore, GraphSearcher, GraphTraversal, CommunityStore and
// BatchWriter). Three implementations are provided:
//   - MemoryDriver: process memory, for tests and ephemeral use
//   - SQLiteDriver: a single SQLite file with FTS5 keyword indexes
//   - Neo4jDriver: a Neo4j database with fulltext indexes
//
// Every implementation applies the shared filter semantics of
// types.SearchFilters and types.TimeWindow, so results do not depend on the
// backend. WriteBatch is the only multi-item write and is atomic.
//
// All implementations are safe for concurrent use.
package driver
