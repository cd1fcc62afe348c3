package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/xrpldata/ledgercache/internal/core"
	"github.com/xrpldata/ledgercache/internal/xrpl"
)

var dateKeyRe = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// NewDocument creates an empty current-format document for the given key.
// Year is inferred from the key's basename; if that fails and hint is
// non-zero, the hint's year is used instead.
func NewDocument(key string, hint time.Time) *Document {
	year := core.InferYear(key)
	if year == 0 && !hint.IsZero() {
		year = hint.Year()
	}
	return &Document{
		Meta:   Meta{Year: year, Version: core.FormatVersion},
		Daily:  make(map[string]xrpl.Anchor),
		Hourly: make(map[string]xrpl.Anchor),
	}
}

// Load reads the document at key, normalizing whatever shape it finds into
// the current format.
//
//   - Missing slot: a fresh empty document. Never an error.
//   - Current format (top-level meta plus daily or hourly): accepted as-is,
//     with missing substructures defaulted to empty.
//   - Anything else: treated as the legacy flat format, whose YYYY-MM-DD
//     keys become daily entries and whose other keys are dropped.
//
// Backend errors other than ErrNotFound propagate.
func Load(ctx context.Context, backend Backend, key string, hint time.Time) (*Document, error) {
	data, err := backend.Get(ctx, key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return NewDocument(key, hint), nil
		}
		return nil, fmt.Errorf("failed to load cache %s: %w", key, err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse cache %s: %w", key, err)
	}

	_, hasMeta := raw["meta"]
	_, hasDaily := raw["daily"]
	_, hasHourly := raw["hourly"]

	if hasMeta && (hasDaily || hasHourly) {
		var doc Document
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("failed to parse cache %s: %w", key, err)
		}
		if doc.Daily == nil {
			doc.Daily = make(map[string]xrpl.Anchor)
		}
		if doc.Hourly == nil {
			doc.Hourly = make(map[string]xrpl.Anchor)
		}
		return &doc, nil
	}

	return migrateFlat(raw, key, hint), nil
}

// migrateFlat converts a legacy flat document into the current format.
// Keys that are not exact YYYY-MM-DD dates, and values that are not
// anchor-shaped, are dropped.
func migrateFlat(raw map[string]json.RawMessage, key string, hint time.Time) *Document {
	doc := NewDocument(key, hint)
	for k, v := range raw {
		if !dateKeyRe.MatchString(k) {
			continue
		}
		var anchor xrpl.Anchor
		if err := json.Unmarshal(v, &anchor); err != nil {
			continue
		}
		doc.Daily[k] = anchor
	}
	return doc
}

// Save writes the document back to its slot, fully overwriting prior
// content. Map keys marshal in ascending order, which for the fixed-width
// date and hour key formats is chronological order.
func Save(ctx context.Context, backend Backend, key string, doc *Document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode cache %s: %w", key, err)
	}
	if err := backend.Put(ctx, key, data); err != nil {
		return fmt.Errorf("failed to save cache %s: %w", key, err)
	}
	return nil
}
