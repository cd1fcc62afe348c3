// Package xrpl provides the JSON-RPC client and types for talking to an
// XRPL node (rippled or Clio).
package xrpl

import (
	"context"
	"errors"
	"time"
)

// Anchor is a verified (ledger index, close time) pair: the unit of memoized
// knowledge about the ledger sequence. Immutable once recorded.
type Anchor struct {
	LedgerIndex int64     `json:"ledger_index"`
	CloseTime   time.Time `json:"close_time"`
}

// Source is the point-query surface every XRPL node exposes: the latest
// validated ledger and any ledger by index. These two primitives are all the
// search algorithms need.
type Source interface {
	// Latest returns the most recent validated ledger.
	Latest(ctx context.Context) (Anchor, error)

	// ByIndex returns the ledger at the given index.
	ByIndex(ctx context.Context, index int64) (Anchor, error)
}

// TimeSource is the optional fast-path capability Clio servers expose:
// resolving a ledger index directly from an absolute timestamp. When the
// configured endpoint supports it, a single call replaces an entire search.
type TimeSource interface {
	// ByTime returns the ledger for the given instant, or ErrLedgerNotFound
	// when no ledger exists there yet. ErrLedgerNotFound is a normal
	// outcome, not a failure.
	ByTime(ctx context.Context, t time.Time) (Anchor, error)
}

// ErrLedgerNotFound is returned by ByTime when the server has no ledger for
// the requested instant (typically because it is in the future).
var ErrLedgerNotFound = errors.New("no ledger at the requested time")
