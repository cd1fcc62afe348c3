package builder

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xrpldata/ledgercache/internal/core"
	"github.com/xrpldata/ledgercache/internal/resolver"
	"github.com/xrpldata/ledgercache/internal/store"
	"github.com/xrpldata/ledgercache/internal/xrpl"
)

const testKey = "ledger_cache_2025.json"

// hourlyChain builds a ledger with an exact 4 s/ledger cadence: one seeded
// anchor per hour, 900 indexes apart, starting at baseIdx/t0, plus the
// genesis anchor far in the past so lower-bound clamping has something to
// land on.
func hourlyChain(t0 time.Time, baseIdx int64, hours int) *xrpl.ScriptedLedger {
	s := xrpl.NewScriptedLedger(
		xrpl.Anchor{LedgerIndex: core.GenesisIndex, CloseTime: time.Date(2013, 1, 1, 0, 0, 0, 0, time.UTC)},
	)
	for k := 0; k <= hours; k++ {
		s.Seed(xrpl.Anchor{
			LedgerIndex: baseIdx + int64(k)*900,
			CloseTime:   t0.Add(time.Duration(k) * time.Hour),
		})
	}
	return s
}

func newTestBuilder(backend store.Backend, src xrpl.Source) *Builder {
	return New(backend, testKey, src, resolver.New(src, 0, false), false, true)
}

func day(d int) time.Time {
	return time.Date(2025, 1, d, 0, 0, 0, 0, time.UTC)
}

func mustLoad(t *testing.T, backend store.Backend) *store.Document {
	t.Helper()
	doc, err := store.Load(context.Background(), backend, testKey, time.Time{})
	require.NoError(t, err)
	return doc
}

func TestRoughFillsMissingDays(t *testing.T) {
	// Chain spans Jan 1 through Jan 4 midnight (latest).
	ledger := hourlyChain(day(1), 1_000_000, 72)
	backend := store.NewMemoryBackend()
	b := newTestBuilder(backend, ledger)

	stats, err := b.Rough(context.Background(), day(1), day(3))
	require.NoError(t, err)

	assert.Equal(t, 3, stats.Processed)
	assert.Equal(t, 3, stats.Added)
	assert.Equal(t, 0, stats.Skipped)
	assert.Equal(t, 1, backend.Puts)

	doc := mustLoad(t, backend)
	assert.Len(t, doc.Daily, 3)
	assert.Equal(t, 2025, doc.Meta.Year)

	// Each rough anchor lands within tolerance of its day's midnight.
	for _, d := range []int{1, 2, 3} {
		anchor, ok := doc.Daily[core.FormatDate(day(d))]
		require.True(t, ok)
		assert.Less(t, anchor.CloseTime.Sub(day(d)).Abs(), core.RoughTolerance)
	}
}

func TestRoughStopsAtFuture(t *testing.T) {
	// Latest is Jan 4 midnight; Jan 5 and beyond do not exist yet.
	ledger := hourlyChain(day(1), 1_000_000, 72)
	backend := store.NewMemoryBackend()
	b := newTestBuilder(backend, ledger)

	stats, err := b.Rough(context.Background(), day(1), day(10))
	require.NoError(t, err)

	assert.Equal(t, 4, stats.Added) // Jan 1-4
	doc := mustLoad(t, backend)
	assert.NotContains(t, doc.Daily, core.FormatDate(day(5)))
}

func TestRoughIdempotence(t *testing.T) {
	ledger := hourlyChain(day(1), 1_000_000, 72)
	backend := store.NewMemoryBackend()
	b := newTestBuilder(backend, ledger)

	_, err := b.Rough(context.Background(), day(1), day(3))
	require.NoError(t, err)
	first, err := backend.Get(context.Background(), testKey)
	require.NoError(t, err)

	stats, err := b.Rough(context.Background(), day(1), day(3))
	require.NoError(t, err)

	assert.Equal(t, 0, stats.Added)
	assert.Equal(t, 3, stats.Skipped)
	// Unchanged run performs no write.
	assert.Equal(t, 1, backend.Puts)
	second, err := backend.Get(context.Background(), testKey)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestRoughContinuesPastTransientFailures(t *testing.T) {
	ledger := hourlyChain(day(1), 1_000_000, 72)
	backend := store.NewMemoryBackend()
	b := newTestBuilder(backend, ledger)

	// First run fills Jan 1; fail the source, then run Jan 1-2: Jan 1 is
	// skipped from cache, Jan 2 fails but the run itself succeeds.
	_, err := b.Rough(context.Background(), day(1), day(1))
	require.NoError(t, err)

	ledger.Fail = assert.AnError
	stats, err := b.Rough(context.Background(), day(1), day(2))
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Skipped)
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, 0, stats.Added)
}

func TestRefineFillsHours(t *testing.T) {
	ledger := hourlyChain(day(1), 1_000_000, 72)
	backend := store.NewMemoryBackend()
	b := newTestBuilder(backend, ledger)

	_, err := b.Rough(context.Background(), day(1), day(4))
	require.NoError(t, err)

	stats, err := b.Refine(context.Background(), day(1), day(2).Add(23*time.Hour))
	require.NoError(t, err)

	assert.Equal(t, 48, stats.Processed)
	assert.Equal(t, 48, stats.Added)
	assert.Equal(t, 0, stats.Failed)

	doc := mustLoad(t, backend)
	require.Len(t, doc.Hourly, 48)

	// Refined anchors are exact: the smallest index whose close time is at
	// or after the hour boundary, which on this chain is the boundary
	// ledger itself.
	for k := 0; k < 48; k++ {
		hour := day(1).Add(time.Duration(k) * time.Hour)
		anchor, ok := doc.Hourly[core.FormatHour(hour)]
		require.True(t, ok, "missing hour %s", core.FormatHour(hour))
		assert.Equal(t, hour, anchor.CloseTime)
		assert.Equal(t, 1_000_000+int64(k)*900, anchor.LedgerIndex)
	}
}

func TestRefineMonotonicity(t *testing.T) {
	ledger := hourlyChain(day(1), 1_000_000, 72)
	backend := store.NewMemoryBackend()
	b := newTestBuilder(backend, ledger)

	_, err := b.Rough(context.Background(), day(1), day(4))
	require.NoError(t, err)
	_, err = b.Refine(context.Background(), day(1), day(3))
	require.NoError(t, err)

	doc := mustLoad(t, backend)

	var anchors []xrpl.Anchor
	for _, a := range doc.Daily {
		anchors = append(anchors, a)
	}
	for _, a := range doc.Hourly {
		anchors = append(anchors, a)
	}
	for _, lo := range anchors {
		for _, hi := range anchors {
			if lo.LedgerIndex < hi.LedgerIndex {
				assert.False(t, lo.CloseTime.After(hi.CloseTime),
					"anchor %d@%s after %d@%s", lo.LedgerIndex, lo.CloseTime, hi.LedgerIndex, hi.CloseTime)
			}
		}
	}
}

func TestRefineBracketCorrectness(t *testing.T) {
	ledger := hourlyChain(day(1), 1_000_000, 72)
	backend := store.NewMemoryBackend()
	b := newTestBuilder(backend, ledger)

	_, err := b.Rough(context.Background(), day(1), day(4))
	require.NoError(t, err)
	_, err = b.Refine(context.Background(), day(2), day(2).Add(23*time.Hour))
	require.NoError(t, err)

	doc := mustLoad(t, backend)
	prev := doc.Daily[core.FormatDate(day(1))]
	next := doc.Daily[core.FormatDate(day(3))]

	for k := 0; k < 24; k++ {
		hourKey := core.FormatHour(day(2).Add(time.Duration(k) * time.Hour))
		anchor, ok := doc.Hourly[hourKey]
		require.True(t, ok)
		assert.GreaterOrEqual(t, anchor.LedgerIndex, prev.LedgerIndex, hourKey)
		assert.LessOrEqual(t, anchor.LedgerIndex, next.LedgerIndex, hourKey)
	}
}

func TestRefineSkipsDaysWithoutDailyAnchor(t *testing.T) {
	ledger := hourlyChain(day(1), 1_000_000, 72)
	backend := store.NewMemoryBackend()
	b := newTestBuilder(backend, ledger)

	// Rough covers Jan 1 and Jan 3 only; Jan 2 has no anchor.
	_, err := b.Rough(context.Background(), day(1), day(1))
	require.NoError(t, err)
	_, err = b.Rough(context.Background(), day(3), day(4))
	require.NoError(t, err)

	_, err = b.Refine(context.Background(), day(2), day(2).Add(23*time.Hour))
	require.NoError(t, err)

	doc := mustLoad(t, backend)
	for k := 0; k < 24; k++ {
		assert.NotContains(t, doc.Hourly, core.FormatHour(day(2).Add(time.Duration(k)*time.Hour)))
	}
}

func TestRefineSurfacesBracketErrorsPerHour(t *testing.T) {
	ledger := hourlyChain(day(1), 1_000_000, 72)
	backend := store.NewMemoryBackend()

	// Plant a daily anchor for Jan 2 that is far too low: every Jan 1 hour
	// after 00:00 then has an upper bound whose close time precedes the
	// target, which must surface as a per-hour bracket failure, not abort
	// the run.
	doc := store.NewDocument(testKey, time.Time{})
	doc.Daily[core.FormatDate(day(1))] = xrpl.Anchor{LedgerIndex: 1_000_000, CloseTime: day(1)}
	doc.Daily[core.FormatDate(day(2))] = xrpl.Anchor{LedgerIndex: 1_000_010, CloseTime: day(1).Add(time.Minute)}
	require.NoError(t, store.Save(context.Background(), backend, testKey, doc))

	b := newTestBuilder(backend, ledger)
	stats, err := b.Refine(context.Background(), day(1).Add(time.Hour), day(1).Add(3*time.Hour))
	require.NoError(t, err)

	assert.Equal(t, 3, stats.Processed)
	assert.Equal(t, 0, stats.Added)
	assert.Equal(t, 3, stats.Failed)
}

func TestRefineStopsAtFuture(t *testing.T) {
	// Chain ends at Jan 2 midnight (latest): refining through Jan 2 hits
	// the future during Jan 2's first post-latest hour and stops.
	ledger := hourlyChain(day(1), 1_000_000, 24)
	backend := store.NewMemoryBackend()
	b := newTestBuilder(backend, ledger)

	_, err := b.Rough(context.Background(), day(1), day(2))
	require.NoError(t, err)

	stats, err := b.Refine(context.Background(), day(1), day(2).Add(23*time.Hour))
	require.NoError(t, err)

	doc := mustLoad(t, backend)
	assert.Contains(t, doc.Hourly, core.FormatHour(day(2)))
	assert.NotContains(t, doc.Hourly, core.FormatHour(day(2).Add(time.Hour)))
	assert.Equal(t, 25, stats.Added)
}

func TestRefineUsesLowWaterMark(t *testing.T) {
	ledger := hourlyChain(day(1), 1_000_000, 72)
	backend := store.NewMemoryBackend()
	b := newTestBuilder(backend, ledger)

	_, err := b.Rough(context.Background(), day(1), day(4))
	require.NoError(t, err)

	// Seed the first hour's anchor so the run starts with a known resolved
	// index. Every later search must then keep its probes at or above it:
	// known anchors advance the low-water mark, and the mark narrows the
	// lower search bound.
	doc := mustLoad(t, backend)
	doc.Hourly[core.FormatHour(day(1))] = xrpl.Anchor{LedgerIndex: 1_000_000, CloseTime: day(1)}
	require.NoError(t, store.Save(context.Background(), backend, testKey, doc))

	ledger.Reset()
	stats, err := b.Refine(context.Background(), day(1), day(1).Add(23*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Skipped)
	assert.Equal(t, 23, stats.Added)

	for _, idx := range ledger.Queried {
		assert.GreaterOrEqual(t, idx, int64(1_000_000), "search probed below the running low-water mark")
	}
}

func TestRefineIdempotence(t *testing.T) {
	ledger := hourlyChain(day(1), 1_000_000, 72)
	backend := store.NewMemoryBackend()
	b := newTestBuilder(backend, ledger)

	_, err := b.Rough(context.Background(), day(1), day(4))
	require.NoError(t, err)
	_, err = b.Refine(context.Background(), day(1), day(2))
	require.NoError(t, err)
	putsAfterFirst := backend.Puts
	first, err := backend.Get(context.Background(), testKey)
	require.NoError(t, err)

	stats, err := b.Refine(context.Background(), day(1), day(2))
	require.NoError(t, err)

	assert.Equal(t, 0, stats.Added)
	assert.Equal(t, 25, stats.Skipped)
	assert.Equal(t, putsAfterFirst, backend.Puts)
	second, err := backend.Get(context.Background(), testKey)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestRefineSaveDaily(t *testing.T) {
	ledger := hourlyChain(day(1), 1_000_000, 72)
	backend := store.NewMemoryBackend()
	b := newTestBuilder(backend, ledger)

	_, err := b.Rough(context.Background(), day(1), day(4))
	require.NoError(t, err)
	putsAfterRough := backend.Puts

	b.SaveDaily = true
	_, err = b.Refine(context.Background(), day(1), day(3))
	require.NoError(t, err)

	// Two day boundaries crossed (Jan 2, Jan 3) plus the final save.
	assert.Equal(t, putsAfterRough+3, backend.Puts)
}

func TestHourlyClioPass(t *testing.T) {
	ledger := hourlyChain(day(1), 1_000_000, 48)
	backend := store.NewMemoryBackend()
	b := newTestBuilder(backend, ledger)

	stats, err := b.Hourly(context.Background(), day(1), day(1).Add(23*time.Hour))
	require.NoError(t, err)

	assert.Equal(t, 24, stats.Added)
	doc := mustLoad(t, backend)
	assert.Len(t, doc.Hourly, 24)
	// Fresh documents written by the Clio pass carry its format version.
	assert.Equal(t, core.ClioFormatVersion, doc.Meta.Version)

	for k := 0; k < 24; k++ {
		hour := day(1).Add(time.Duration(k) * time.Hour)
		anchor, ok := doc.Hourly[core.FormatHour(hour)]
		require.True(t, ok)
		// Clio reports the latest ledger closed at or before the instant.
		assert.Equal(t, hour, anchor.CloseTime)
	}
}

func TestHourlyStopsWhenNoLedgerYet(t *testing.T) {
	// Chain ends at Jan 2 midnight; everything past it reports
	// lgrNotFound and stops the range.
	ledger := hourlyChain(day(1), 1_000_000, 24)
	backend := store.NewMemoryBackend()
	b := newTestBuilder(backend, ledger)

	stats, err := b.Hourly(context.Background(), day(1), day(2).Add(12*time.Hour))
	require.NoError(t, err)

	assert.Equal(t, 25, stats.Added)
	doc := mustLoad(t, backend)
	assert.NotContains(t, doc.Hourly, core.FormatHour(day(2).Add(time.Hour)))
}

func TestHourlyRequiresTimeSource(t *testing.T) {
	backend := store.NewMemoryBackend()
	src := indexOnlySource{}
	b := New(backend, testKey, src, resolver.New(src, 0, false), false, true)

	_, err := b.Hourly(context.Background(), day(1), day(2))
	assert.Error(t, err)
}

// indexOnlySource implements Source but not TimeSource.
type indexOnlySource struct{}

func (indexOnlySource) Latest(ctx context.Context) (xrpl.Anchor, error) {
	return xrpl.Anchor{}, assert.AnError
}

func (indexOnlySource) ByIndex(ctx context.Context, index int64) (xrpl.Anchor, error) {
	return xrpl.Anchor{}, assert.AnError
}
