package xrpl

import (
	"context"
	"fmt"
	"sort"
	"time"
)

// ScriptedLedger is an in-memory simulation of an XRPL node for unit tests.
// It is seeded with (index, close time) anchors and answers point queries by
// treating the seeded anchors as a step function: the close time of any index
// is the close time of the greatest seeded anchor at or below it.
//
// The step-function model means a size-3 script can stand in for a dense
// range of ledgers, which is what bisection needs: every index between two
// seeded anchors reports the earlier anchor's close time, so "smallest index
// with close time >= target" lands exactly on a seeded index.
type ScriptedLedger struct {
	anchors []Anchor // sorted by LedgerIndex ascending

	// Queried records every index handed to ByIndex, for assertions on
	// search behavior (query counts, bracket adherence).
	Queried []int64

	// LatestCalls counts Latest invocations.
	LatestCalls int

	// Fail, when set, is returned by every query. Simulates a node outage.
	Fail error
}

// NewScriptedLedger creates a scripted ledger seeded with the given anchors.
func NewScriptedLedger(anchors ...Anchor) *ScriptedLedger {
	s := &ScriptedLedger{}
	s.Seed(anchors...)
	return s
}

// Seed adds anchors to the script, keeping them sorted by index.
func (s *ScriptedLedger) Seed(anchors ...Anchor) {
	s.anchors = append(s.anchors, anchors...)
	sort.Slice(s.anchors, func(i, j int) bool {
		return s.anchors[i].LedgerIndex < s.anchors[j].LedgerIndex
	})
}

// Reset clears recorded queries but keeps the script.
func (s *ScriptedLedger) Reset() {
	s.Queried = nil
	s.LatestCalls = 0
}

// Latest returns the newest seeded anchor.
func (s *ScriptedLedger) Latest(ctx context.Context) (Anchor, error) {
	s.LatestCalls++
	if s.Fail != nil {
		return Anchor{}, s.Fail
	}
	if len(s.anchors) == 0 {
		return Anchor{}, fmt.Errorf("scripted ledger is empty")
	}
	return s.anchors[len(s.anchors)-1], nil
}

// ByIndex returns the anchor for the given index under the step-function
// model. Indexes beyond the script's ends are errors, mirroring a node that
// has no such ledger.
func (s *ScriptedLedger) ByIndex(ctx context.Context, index int64) (Anchor, error) {
	s.Queried = append(s.Queried, index)
	if s.Fail != nil {
		return Anchor{}, s.Fail
	}
	if len(s.anchors) == 0 || index < s.anchors[0].LedgerIndex {
		return Anchor{}, &RPCError{Code: "lgrNotFound", Message: fmt.Sprintf("ledger %d not found", index)}
	}
	if index > s.anchors[len(s.anchors)-1].LedgerIndex {
		return Anchor{}, &RPCError{Code: "lgrNotFound", Message: fmt.Sprintf("ledger %d not found", index)}
	}

	// Greatest seeded anchor with LedgerIndex <= index.
	i := sort.Search(len(s.anchors), func(i int) bool {
		return s.anchors[i].LedgerIndex > index
	}) - 1
	return Anchor{LedgerIndex: index, CloseTime: s.anchors[i].CloseTime}, nil
}

// ByTime resolves the latest ledger closed at or before t, matching Clio's
// ledger_index semantics. Instants beyond the newest anchor (or before the
// oldest) report ErrLedgerNotFound.
func (s *ScriptedLedger) ByTime(ctx context.Context, t time.Time) (Anchor, error) {
	if s.Fail != nil {
		return Anchor{}, s.Fail
	}
	if len(s.anchors) == 0 {
		return Anchor{}, ErrLedgerNotFound
	}
	if t.After(s.anchors[len(s.anchors)-1].CloseTime) {
		return Anchor{}, ErrLedgerNotFound
	}

	i := sort.Search(len(s.anchors), func(i int) bool {
		return s.anchors[i].CloseTime.After(t)
	}) - 1
	if i < 0 {
		return Anchor{}, ErrLedgerNotFound
	}
	return s.anchors[i], nil
}
