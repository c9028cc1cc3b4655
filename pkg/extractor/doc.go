// Package extractor defines the extraction collaborator and an LLM-backed
// implementation.
//
// The extractor proposes candidates; it never assigns identity. Entity and
// edge resolution decide what a candidate refers to and may call back into
// DisambiguateEntity and ClassifyEdge when their own rules cannot decide.
//
// Model output is repaired with jsonrepair before decoding. Output that still
// does not have the expected shape fails with ErrSchemaMismatch wrapped in a
// validation error. Individual bad candidates are dropped with a warning.
package extractor
