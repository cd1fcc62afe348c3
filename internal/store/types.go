// Package store manages the persisted ledger cache document.
//
// # Document Structure
//
// Each cache slot holds one JSON document:
//
//	{
//	  "meta":   { "year": 2025, "version": 1 },
//	  "daily":  { "2025-01-01": { "ledger_index": 93236512, "close_time": "2025-01-01T00:00:01Z" }, ... },
//	  "hourly": { "2025-01-01T00:00:00Z": { "ledger_index": 93236513, "close_time": "2025-01-01T00:00:02Z" }, ... }
//	}
//
// daily entries are rough anchors: guaranteed to fall somewhere within their
// day, not necessarily at its end. hourly entries are refined anchors: the
// smallest index whose close time is at or after the hour boundary.
//
// # Lifecycle
//
// Documents are created empty on first access, populated incrementally
// across independent runs, and never delete or overwrite an anchor: once
// written, an anchor is ground truth and is skipped by later runs.
//
// # Legacy Format
//
// Early cache files were a flat mapping of YYYY-MM-DD keys directly to
// anchors, with no meta/daily/hourly wrapper. Load accepts that shape and
// migrates it into daily; non-date keys are dropped silently.
package store

import (
	"context"
	"errors"

	"github.com/xrpldata/ledgercache/internal/xrpl"
)

// ErrNotFound is returned by Backend.Get when the slot does not exist.
// Load treats it as a normal case and returns a fresh empty document.
var ErrNotFound = errors.New("cache slot not found")

// Backend is the blob storage interface behind the cache store.
// Implementations: R2Backend (Cloudflare R2), FilesystemBackend (local
// directory), MemoryBackend (tests).
type Backend interface {
	// Get returns the raw bytes at key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Put writes data at key, fully overwriting any prior content.
	Put(ctx context.Context, key string, data []byte) error
}

// Meta describes the document itself.
type Meta struct {
	// Year is informational, inferred from the cache key's basename
	// (ledger_cache_2025.json -> 2025) or a caller hint; 0 when unknown.
	Year int `json:"year"`

	// Version tags the format lineage: 1 for binary-search documents,
	// 2 for Clio-generated ones.
	Version int `json:"version"`
}

// Document is the in-memory form of one cache slot.
type Document struct {
	Meta   Meta                   `json:"meta"`
	Daily  map[string]xrpl.Anchor `json:"daily"`
	Hourly map[string]xrpl.Anchor `json:"hourly"`
}
