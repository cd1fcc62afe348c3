// Package core provides shared constants and helpers for the ledger cache.
package core

import "time"

// XRPL network constants
const (
	// GenesisIndex is the first ledger index the network can report.
	// Earlier history was lost in the early days of the network; every
	// search is clamped so it never asks for anything below this.
	GenesisIndex int64 = 32570

	// RippleEpoch is the offset (in seconds) between the Ripple epoch
	// (2000-01-01T00:00:00Z) and the Unix epoch.
	RippleEpoch int64 = 946684800
)

// Default endpoints
const (
	DefaultRPCURL  = "https://xrplcluster.com/"
	DefaultClioURL = "https://s1.ripple.com:51234/"
)

// Search tuning
const (
	// SecondsPerLedger is the assumed close cadence used for index
	// extrapolation. The network closes a ledger roughly every 4 seconds.
	SecondsPerLedger = 4

	// RoughTolerance is how close an estimated anchor's close time must be
	// to the target before the iterative search accepts it.
	RoughTolerance = time.Hour

	// RoughMaxIter caps the estimate-and-correct loop.
	RoughMaxIter = 5

	// DayScanMaxIter caps the day-scoped bisection loop.
	DayScanMaxIter = 40

	// NextDaySlack is added to a day's rough index when the following
	// day's anchor is not known yet. The bisection clamps its upper bound
	// to the latest validated ledger anyway, so the slack only needs to be
	// comfortably more than a day's worth of ledgers.
	NextDaySlack int64 = 200_000
)

// Cache document format versions
const (
	FormatVersion     = 1 // filled by the binary-search passes
	ClioFormatVersion = 2 // filled by the Clio ledger_index fast path
)

// Key formats
const (
	DateKeyFmt = "2006-01-02"
	HourKeyFmt = "2006-01-02T15:04:05Z"
)

// Version is the current CLI version.
const Version = "0.3.0"
