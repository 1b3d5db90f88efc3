// Package dag tracks content-hashed nodes across runs. It derives the
// dependency graph from captured dependency hashes, classifies every node as
// new, updated, deleted or invalidated, and renders the result as a nested job
// flow for a queue runtime.
//
// Content access, hash computation and persistence belong to a Backend; see
// packages prompt and artifact.
package dag
