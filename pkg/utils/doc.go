// Package utils provides helpers shared by the chronograph packages.
//
// It contains:
//   - Name normalization and MinHash/LSH candidate lookup for entity
//     deduplication (dedup_helpers.go)
//   - Vector similarity and embedding encoding (vector.go)
//   - An in-memory BM25 keyword index (bm25.go)
//   - Bounded worker pools and batching (concurrent.go)
//   - Exponential backoff retries (retry.go)
//   - Panic recovery for goroutines (recovery.go)
package utils
