// Package builder drives the resolver over date and hour ranges, filling the
// missing slots of a cache document and persisting it when anything was
// added.
//
// # Passes
//
// Rough fills one daily anchor per calendar day by iterative estimation.
// Refine fills one hourly anchor per hour by bracketed binary search, using
// neighboring daily anchors as the bracket. Hourly fills hourly anchors
// directly through the Clio ledger_index fast path, no search needed.
//
// All passes skip slots that already exist (anchors are ground truth once
// written) and persist at most once per run, only when at least one anchor
// was added. A run interrupted mid-range therefore loses only its unsaved
// additions, and the next run re-skips everything persisted and re-attempts
// the rest.
package builder

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/xrpldata/ledgercache/internal/core"
	"github.com/xrpldata/ledgercache/internal/resolver"
	"github.com/xrpldata/ledgercache/internal/store"
	"github.com/xrpldata/ledgercache/internal/xrpl"
)

// Stats reports what a pass did. A run always reports counts, so a failed
// or interrupted run is visibly resumable.
type Stats struct {
	Processed int // slots examined
	Added     int // anchors written
	Skipped   int // slots that already had an anchor
	Failed    int // slots left unfilled by per-slot failures
}

// Builder fills one cache slot using a resolver and a ledger source.
type Builder struct {
	backend store.Backend
	key     string
	source  xrpl.Source
	res     *resolver.Resolver
	verbose bool
	quiet   bool

	// SaveDaily makes Refine persist at each calendar-day boundary instead
	// of only at the end of the run, bounding data loss on very long runs.
	SaveDaily bool

	// Limiter, when set, paces the direct ByTime calls of the Clio pass.
	// The search passes are paced by the resolver's own limiter.
	Limiter *rate.Limiter
}

// New creates a builder for the given cache slot.
func New(backend store.Backend, key string, source xrpl.Source, res *resolver.Resolver, verbose, quiet bool) *Builder {
	return &Builder{
		backend: backend,
		key:     key,
		source:  source,
		res:     res,
		verbose: verbose,
		quiet:   quiet,
	}
}

func (b *Builder) progress(msg string) {
	core.ProgressPrint(msg, b.quiet)
}

// Rough fills missing daily anchors for every calendar day in [start, end],
// resolving each day's midnight UTC by iterative estimation.
//
// A FutureLedger outcome stops the entire remaining range: all later days
// are necessarily future too. Any other per-day failure is logged and the
// day left for a later run. The document is saved once, only if at least
// one day was added.
func (b *Builder) Rough(ctx context.Context, start, end time.Time) (*Stats, error) {
	doc, err := store.Load(ctx, b.backend, b.key, start)
	if err != nil {
		return nil, err
	}

	startDay := core.DateOnly(start)
	endDay := core.DateOnly(end)
	totalDays := int(endDay.Sub(startDay).Hours()/24) + 1
	stats := &Stats{}

	b.progress(fmt.Sprintf("Filling daily %s..%s in %s", core.FormatDate(startDay), core.FormatDate(endDay), b.key))

	for cur := startDay; !cur.After(endDay); cur = cur.AddDate(0, 0, 1) {
		stats.Processed++
		dateKey := core.FormatDate(cur)

		if _, ok := doc.Daily[dateKey]; ok {
			b.progress(fmt.Sprintf("[%d/%d] %s: daily exists, skipping", stats.Processed, totalDays, dateKey))
			stats.Skipped++
			continue
		}

		anchor, err := b.res.Estimate(ctx, cur)
		if err != nil {
			if errors.Is(err, resolver.ErrFutureLedger) {
				// Every remaining day is future too; stop the range.
				b.progress(fmt.Sprintf("[%d/%d] %s: future, stopping", stats.Processed, totalDays, dateKey))
				break
			}
			if ctx.Err() != nil {
				return stats, ctx.Err()
			}
			b.progress(fmt.Sprintf("[%d/%d] %s: failed: %v", stats.Processed, totalDays, dateKey, err))
			stats.Failed++
			continue
		}

		doc.Daily[dateKey] = anchor
		stats.Added++
		b.progress(fmt.Sprintf("[%d/%d] %s: added ledger=%d close=%s",
			stats.Processed, totalDays, dateKey, anchor.LedgerIndex, anchor.CloseTime.Format(time.RFC3339)))
	}

	b.progress(fmt.Sprintf("Daily pass done: %d processed, %d added, %d skipped, %d failed",
		stats.Processed, stats.Added, stats.Skipped, stats.Failed))

	if stats.Added > 0 {
		if err := store.Save(ctx, b.backend, b.key, doc); err != nil {
			return stats, err
		}
	} else {
		b.progress("No changes; skipping save")
	}
	return stats, nil
}

// Refine fills missing hourly anchors for every hour in [start, end] by
// bracketed binary search.
//
// The bracket for each day is [previous day's daily index (or genesis),
// next day's daily index (or this day's daily index plus slack)]. A day
// with no daily anchor at all has no bracket, so all of its hours are
// skipped: the refine pass depends on the rough pass having covered the
// day. Within a run, the lower bound is further narrowed by the last
// resolved hourly index, which encodes the monotonicity of the sequence
// directly into the search bounds.
func (b *Builder) Refine(ctx context.Context, start, end time.Time) (*Stats, error) {
	doc, err := store.Load(ctx, b.backend, b.key, start)
	if err != nil {
		return nil, err
	}

	totalHours := int(end.Sub(start).Hours()) + 1
	stats := &Stats{}

	b.progress(fmt.Sprintf("Filling hourly %s..%s in %s",
		start.Format(time.RFC3339), end.Format(time.RFC3339), b.key))

	var dayLo, dayHi int64
	haveBracket := false
	var lastHourly int64 // running low-water mark; 0 = none yet
	var prevDate time.Time
	addedSinceSave := 0

	for cur := start.UTC().Truncate(time.Hour); !cur.After(end); cur = cur.Add(time.Hour) {
		stats.Processed++
		curDate := core.DateOnly(cur)
		dateKey := core.FormatDate(cur)

		if prevDate.IsZero() || !curDate.Equal(prevDate) {
			if b.SaveDaily && addedSinceSave > 0 {
				if err := store.Save(ctx, b.backend, b.key, doc); err != nil {
					return stats, err
				}
				addedSinceSave = 0
			}
			prevDate = curDate

			today, ok := doc.Daily[dateKey]
			if !ok {
				b.progress(fmt.Sprintf("%s: no daily anchor, skipping the whole day", dateKey))
				haveBracket = false
				// Jump to the next day's midnight; the loop adds the hour.
				cur = core.NextMidnight(cur).Add(-time.Hour)
				continue
			}

			prevEntry, havePrev := doc.Daily[core.FormatDate(curDate.AddDate(0, 0, -1))]
			nextEntry, haveNext := doc.Daily[core.FormatDate(curDate.AddDate(0, 0, 1))]

			if havePrev {
				dayLo = prevEntry.LedgerIndex
			} else {
				dayLo = core.GenesisIndex
			}
			if haveNext {
				dayHi = nextEntry.LedgerIndex
			} else {
				// No anchor for tomorrow yet; overshoot and let the search
				// clamp to the latest validated ledger.
				dayHi = today.LedgerIndex + core.NextDaySlack
			}
			haveBracket = true
			b.progress(fmt.Sprintf("%s: bracket lo=%d hi=%d", dateKey, dayLo, dayHi))
		}

		hourKey := core.FormatHour(cur)

		if existing, ok := doc.Hourly[hourKey]; ok {
			// Known anchors still advance the low-water mark.
			if existing.LedgerIndex > lastHourly {
				lastHourly = existing.LedgerIndex
			}
			b.progress(fmt.Sprintf("[%d/%d] %s: hourly exists, skipping", stats.Processed, totalHours, hourKey))
			stats.Skipped++
			continue
		}

		if !haveBracket {
			continue
		}

		lo := dayLo
		if lastHourly > lo {
			lo = lastHourly
		}

		anchor, err := b.res.FindAtOrAfter(ctx, cur, lo, dayHi)
		if err != nil {
			if errors.Is(err, resolver.ErrFutureLedger) {
				b.progress(fmt.Sprintf("[%d/%d] %s: future, stopping", stats.Processed, totalHours, hourKey))
				break
			}
			var invariantErr *resolver.InvariantError
			if errors.As(err, &invariantErr) {
				// Logic or source corruption; never masked.
				return stats, err
			}
			if ctx.Err() != nil {
				return stats, ctx.Err()
			}
			b.progress(fmt.Sprintf("[%d/%d] %s: failed: %v", stats.Processed, totalHours, hourKey, err))
			stats.Failed++
			continue
		}

		doc.Hourly[hourKey] = anchor
		stats.Added++
		addedSinceSave++
		lastHourly = anchor.LedgerIndex
		b.progress(fmt.Sprintf("[%d/%d] %s: added ledger=%d close=%s",
			stats.Processed, totalHours, hourKey, anchor.LedgerIndex, anchor.CloseTime.Format(time.RFC3339)))
	}

	b.progress(fmt.Sprintf("Hourly pass done: %d processed, %d added, %d skipped, %d failed",
		stats.Processed, stats.Added, stats.Skipped, stats.Failed))

	if stats.Added > 0 {
		if err := store.Save(ctx, b.backend, b.key, doc); err != nil {
			return stats, err
		}
	} else {
		b.progress("No changes; skipping save")
	}
	return stats, nil
}

// Hourly fills missing hourly anchors for every hour in [start, end] through
// the Clio ledger_index fast path: one call per hour, no search. The source
// must implement xrpl.TimeSource. The end of the range is clamped to the
// current time, and an ErrLedgerNotFound answer stops the remaining range
// exactly like a future target does in the search passes.
func (b *Builder) Hourly(ctx context.Context, start, end time.Time) (*Stats, error) {
	ts, ok := b.source.(xrpl.TimeSource)
	if !ok {
		return nil, fmt.Errorf("source does not support timestamp resolution; use the refine pass instead")
	}

	doc, err := store.Load(ctx, b.backend, b.key, start)
	if err != nil {
		return nil, err
	}
	if len(doc.Daily) == 0 && len(doc.Hourly) == 0 {
		doc.Meta.Version = core.ClioFormatVersion
	}

	now := time.Now().UTC()
	if end.After(now) {
		b.progress(fmt.Sprintf("End %s is in the future; clamping to %s",
			end.Format(time.RFC3339), now.Format(time.RFC3339)))
		end = now
	}
	if start.After(end) {
		b.progress("Nothing to process (start is in the future)")
		return &Stats{}, nil
	}

	totalHours := int(end.Sub(start).Hours()) + 1
	stats := &Stats{}

	b.progress(fmt.Sprintf("Generating hourly %s..%s in %s via ledger_index",
		start.Format(time.RFC3339), end.Format(time.RFC3339), b.key))

	for cur := start.UTC().Truncate(time.Hour); !cur.After(end); cur = cur.Add(time.Hour) {
		stats.Processed++
		hourKey := core.FormatHour(cur)

		if _, ok := doc.Hourly[hourKey]; ok {
			b.progress(fmt.Sprintf("[%d/%d] %s: hourly exists, skipping", stats.Processed, totalHours, hourKey))
			stats.Skipped++
			continue
		}

		if b.Limiter != nil {
			if err := b.Limiter.Wait(ctx); err != nil {
				return stats, err
			}
		}

		anchor, err := ts.ByTime(ctx, cur)
		if err != nil {
			if errors.Is(err, xrpl.ErrLedgerNotFound) {
				b.progress(fmt.Sprintf("[%d/%d] %s: no ledger yet, stopping", stats.Processed, totalHours, hourKey))
				break
			}
			if ctx.Err() != nil {
				return stats, ctx.Err()
			}
			b.progress(fmt.Sprintf("[%d/%d] %s: failed: %v", stats.Processed, totalHours, hourKey, err))
			stats.Failed++
			continue
		}

		doc.Hourly[hourKey] = anchor
		stats.Added++
		b.progress(fmt.Sprintf("[%d/%d] %s: added ledger=%d close=%s",
			stats.Processed, totalHours, hourKey, anchor.LedgerIndex, anchor.CloseTime.Format(time.RFC3339)))
	}

	b.progress(fmt.Sprintf("Clio pass done: %d processed, %d added, %d skipped, %d failed",
		stats.Processed, stats.Added, stats.Skipped, stats.Failed))

	if stats.Added > 0 {
		if err := store.Save(ctx, b.backend, b.key, doc); err != nil {
			return stats, err
		}
	} else {
		b.progress("No changes; skipping save")
	}
	return stats, nil
}
