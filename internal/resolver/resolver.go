// Package resolver turns a target instant into a ledger anchor using only
// the point queries an XRPL node offers: ledger by index and latest
// validated ledger.
//
// Two strategies are provided:
//
//   - Estimate: iterative estimate-and-correct, used when no tight index
//     bracket is known. Produces a rough anchor, accurate to within
//     core.RoughTolerance.
//   - FindAtOrAfter: bracketed binary search, used for refinement. Produces
//     the smallest index whose close time is at or after the target.
//
// Both are read-only against the source; the only side effect is waiting on
// the rate limiter between round-trips.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/xrpldata/ledgercache/internal/core"
	"github.com/xrpldata/ledgercache/internal/xrpl"
)

// ErrFutureLedger means the target instant is beyond the latest validated
// ledger's close time: the ledger for it simply does not exist yet. This is
// an expected outcome, and callers stop processing later targets for the
// run when they see it.
var ErrFutureLedger = errors.New("target instant is beyond the latest validated ledger")

// BracketError means the supplied index bounds do not actually contain the
// target instant. It signals an inconsistency in the caller's assumptions
// (for example rough daily anchors that violate day ordering) and is
// surfaced per slot rather than worked around.
type BracketError struct {
	Target time.Time
	Lo     xrpl.Anchor
	Hi     xrpl.Anchor
}

func (e *BracketError) Error() string {
	return fmt.Sprintf("target %s is not bracketed by lo(%d, %s) and hi(%d, %s)",
		e.Target.Format(time.RFC3339),
		e.Lo.LedgerIndex, e.Lo.CloseTime.Format(time.RFC3339),
		e.Hi.LedgerIndex, e.Hi.CloseTime.Format(time.RFC3339))
}

// InvariantError means a search converged to a logically impossible state.
// It indicates a bug or a source inconsistency and is never silently
// corrected.
type InvariantError struct {
	Msg string
}

func (e *InvariantError) Error() string {
	return "search invariant violated: " + e.Msg
}

// Resolver runs the search strategies against an injected source handle.
type Resolver struct {
	src     xrpl.Source
	limiter *rate.Limiter
	verbose bool
}

// New creates a resolver. queryRate limits source round-trips in queries per
// second; zero or negative means unlimited.
func New(src xrpl.Source, queryRate float64, verbose bool) *Resolver {
	var limiter *rate.Limiter
	if queryRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(queryRate), 1)
	}
	return &Resolver{src: src, limiter: limiter, verbose: verbose}
}

// log writes a debug message if verbose mode is enabled.
func (r *Resolver) log(msg string) {
	core.Eprint("[Resolver] "+msg, r.verbose)
}

// wait blocks until the rate limiter admits another source round-trip.
func (r *Resolver) wait(ctx context.Context) error {
	if r.limiter == nil {
		return nil
	}
	return r.limiter.Wait(ctx)
}

func (r *Resolver) latest(ctx context.Context) (xrpl.Anchor, error) {
	if err := r.wait(ctx); err != nil {
		return xrpl.Anchor{}, err
	}
	return r.src.Latest(ctx)
}

func (r *Resolver) byIndex(ctx context.Context, index int64) (xrpl.Anchor, error) {
	if err := r.wait(ctx); err != nil {
		return xrpl.Anchor{}, err
	}
	return r.src.ByIndex(ctx, index)
}

// Estimate resolves a rough anchor near target by extrapolating from the
// latest validated ledger at the assumed close cadence and correcting up to
// core.RoughMaxIter times. If the iteration cap runs out before the anchor
// is within core.RoughTolerance of the target, the last-tried anchor is
// returned anyway: rough resolution does not require exactness.
//
// Returns ErrFutureLedger when target is past the latest close time.
func (r *Resolver) Estimate(ctx context.Context, target time.Time) (xrpl.Anchor, error) {
	latest, err := r.latest(ctx)
	if err != nil {
		return xrpl.Anchor{}, err
	}
	if target.After(latest.CloseTime) {
		return xrpl.Anchor{}, fmt.Errorf("%w: target %s > latest close %s",
			ErrFutureLedger, target.Format(time.RFC3339), latest.CloseTime.Format(time.RFC3339))
	}

	guess := latest.LedgerIndex - int64(latest.CloseTime.Sub(target).Seconds())/core.SecondsPerLedger
	if guess < core.GenesisIndex {
		guess = core.GenesisIndex
	}

	var anchor xrpl.Anchor
	for i := 0; i < core.RoughMaxIter; i++ {
		anchor, err = r.byIndex(ctx, guess)
		if err != nil {
			return xrpl.Anchor{}, err
		}

		diff := anchor.CloseTime.Sub(target)
		r.log(fmt.Sprintf("iter %d: ledger=%d close=%s diff=%.2fh",
			i+1, guess, anchor.CloseTime.Format(time.RFC3339), diff.Hours()))

		if diff.Abs() < core.RoughTolerance {
			return anchor, nil
		}

		guess -= int64(diff.Seconds()) / core.SecondsPerLedger
		if guess < core.GenesisIndex {
			guess = core.GenesisIndex
		}
	}

	return anchor, nil
}

// FindAtOrAfter resolves the smallest ledger index whose close time is at or
// after target, searching within [lo, hi]. The bounds are clamped to
// [genesis, latest] before use, and both endpoints are verified to actually
// bracket the target; bounds that do not produce a *BracketError.
//
// Returns ErrFutureLedger when target is past the latest close time.
func (r *Resolver) FindAtOrAfter(ctx context.Context, target time.Time, lo, hi int64) (xrpl.Anchor, error) {
	latest, err := r.latest(ctx)
	if err != nil {
		return xrpl.Anchor{}, err
	}
	if target.After(latest.CloseTime) {
		return xrpl.Anchor{}, fmt.Errorf("%w: target %s > latest close %s",
			ErrFutureLedger, target.Format(time.RFC3339), latest.CloseTime.Format(time.RFC3339))
	}

	if lo < core.GenesisIndex {
		lo = core.GenesisIndex
	}
	if hi > latest.LedgerIndex {
		hi = latest.LedgerIndex
	}

	loAnchor, err := r.byIndex(ctx, lo)
	if err != nil {
		return xrpl.Anchor{}, err
	}
	hiAnchor, err := r.byIndex(ctx, hi)
	if err != nil {
		return xrpl.Anchor{}, err
	}
	r.log(fmt.Sprintf("init: lo=%d (%s) hi=%d (%s)",
		lo, loAnchor.CloseTime.Format(time.RFC3339), hi, hiAnchor.CloseTime.Format(time.RFC3339)))

	if target.Before(loAnchor.CloseTime) || target.After(hiAnchor.CloseTime) {
		return xrpl.Anchor{}, &BracketError{Target: target, Lo: loAnchor, Hi: hiAnchor}
	}

	// closest is tracked for diagnostics only; the answer is always the
	// converged hi anchor.
	closest := loAnchor
	iter := 0

	for lo+1 < hi {
		mid := (lo + hi) / 2
		midAnchor, err := r.byIndex(ctx, mid)
		if err != nil {
			return xrpl.Anchor{}, err
		}

		iter++
		r.log(fmt.Sprintf("iter %d: ledger=%d close=%s diff=%.1fs",
			iter, mid, midAnchor.CloseTime.Format(time.RFC3339), midAnchor.CloseTime.Sub(target).Seconds()))

		if midAnchor.CloseTime.Sub(target).Abs() < closest.CloseTime.Sub(target).Abs() {
			closest = midAnchor
		}

		if !midAnchor.CloseTime.Before(target) {
			hi, hiAnchor = mid, midAnchor
		} else {
			lo = mid
		}
	}

	if hiAnchor.CloseTime.Before(target) {
		return xrpl.Anchor{}, &InvariantError{Msg: fmt.Sprintf(
			"converged with hi close %s before target %s (closest seen: ledger %d)",
			hiAnchor.CloseTime.Format(time.RFC3339), target.Format(time.RFC3339), closest.LedgerIndex)}
	}

	r.log(fmt.Sprintf("result: ledger=%d close=%s diff=%.1fs",
		hiAnchor.LedgerIndex, hiAnchor.CloseTime.Format(time.RFC3339), hiAnchor.CloseTime.Sub(target).Seconds()))
	return hiAnchor, nil
}

// FindDay resolves an anchor whose calendar date matches target's, using a
// bisection over [genesis, latest] that stops the moment the midpoint lands
// on the right date. Day-level granularity only: the result can be anywhere
// within the day. When the range exhausts without an exact date match the
// closest-seen anchor is returned, and targets at or before the genesis
// close time resolve to the genesis anchor itself.
//
// Returns ErrFutureLedger when target is past the latest close time.
func (r *Resolver) FindDay(ctx context.Context, target time.Time) (xrpl.Anchor, error) {
	latest, err := r.latest(ctx)
	if err != nil {
		return xrpl.Anchor{}, err
	}
	if target.After(latest.CloseTime) {
		return xrpl.Anchor{}, fmt.Errorf("%w: target %s > latest close %s",
			ErrFutureLedger, target.Format(time.RFC3339), latest.CloseTime.Format(time.RFC3339))
	}

	genesis, err := r.byIndex(ctx, core.GenesisIndex)
	if err != nil {
		return xrpl.Anchor{}, err
	}
	if !target.After(genesis.CloseTime) {
		return genesis, nil
	}

	lo, hi := genesis.LedgerIndex, latest.LedgerIndex
	best := genesis

	for i := 0; i < core.DayScanMaxIter && lo <= hi; i++ {
		mid := (lo + hi) / 2
		midAnchor, err := r.byIndex(ctx, mid)
		if err != nil {
			return xrpl.Anchor{}, err
		}

		r.log(fmt.Sprintf("iter %d: ledger=%d close=%s", i+1, mid, midAnchor.CloseTime.Format(time.RFC3339)))

		if midAnchor.CloseTime.Sub(target).Abs() < best.CloseTime.Sub(target).Abs() {
			best = midAnchor
		}

		if core.SameDate(midAnchor.CloseTime, target) {
			return midAnchor, nil
		}

		if midAnchor.CloseTime.Before(target) {
			lo = mid + 1
		} else {
			hi = mid - 1
		}
	}

	return best, nil
}
