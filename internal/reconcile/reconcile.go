// Package reconcile computes the minimal catalog change-set for freshly
// extracted metadata, honoring moderator locks.
package reconcile

import (
	"slices"

	"github.com/ficlib/archivist/internal/ingest"
)

// Placeholder values used on create so downstream renderers never see null.
const (
	PlaceholderTitle    = "Untitled"
	PlaceholderAuthor   = "Unknown Author"
	PlaceholderRating   = "Not Rated"
	PlaceholderLanguage = "Unknown"
)

type scalarField struct {
	name string
	meta func(ingest.Metadata) string
	cur  func(ingest.CatalogRecord) string
}

type listField struct {
	name string
	meta func(ingest.Metadata) []string
	cur  func(ingest.CatalogRecord) []string
}

type counterField struct {
	name string
	meta func(ingest.Metadata) int
	cur  func(ingest.CatalogRecord) int
}

var scalarFields = []scalarField{
	{"title", func(m ingest.Metadata) string { return m.Title }, func(r ingest.CatalogRecord) string { return r.Title }},
	{"summary", func(m ingest.Metadata) string { return m.Summary }, func(r ingest.CatalogRecord) string { return r.Summary }},
	{"rating", func(m ingest.Metadata) string { return m.Rating }, func(r ingest.CatalogRecord) string { return r.Rating }},
	{"language", func(m ingest.Metadata) string { return m.Language }, func(r ingest.CatalogRecord) string { return r.Language }},
	{"status", func(m ingest.Metadata) string { return m.Status }, func(r ingest.CatalogRecord) string { return r.Status }},
	{"published", func(m ingest.Metadata) string { return m.Published }, func(r ingest.CatalogRecord) string { return r.Published }},
	{"updated", func(m ingest.Metadata) string { return m.Updated }, func(r ingest.CatalogRecord) string { return r.Updated }},
}

var listFields = []listField{
	{"authors", func(m ingest.Metadata) []string { return m.Authors }, func(r ingest.CatalogRecord) []string { return r.Authors }},
	{"fandom_tags", func(m ingest.Metadata) []string { return m.FandomTags }, func(r ingest.CatalogRecord) []string { return r.FandomTags }},
	{"relationship_tags", func(m ingest.Metadata) []string { return m.RelationshipTags }, func(r ingest.CatalogRecord) []string { return r.RelationshipTags }},
	{"character_tags", func(m ingest.Metadata) []string { return m.CharacterTags }, func(r ingest.CatalogRecord) []string { return r.CharacterTags }},
	{"freeform_tags", func(m ingest.Metadata) []string { return m.FreeformTags }, func(r ingest.CatalogRecord) []string { return r.FreeformTags }},
	{"warning_tags", func(m ingest.Metadata) []string { return m.WarningTags }, func(r ingest.CatalogRecord) []string { return r.WarningTags }},
	{"category_tags", func(m ingest.Metadata) []string { return m.CategoryTags }, func(r ingest.CatalogRecord) []string { return r.CategoryTags }},
}

var counterFields = []counterField{
	{"word_count", func(m ingest.Metadata) int { return m.WordCount }, func(r ingest.CatalogRecord) int { return r.WordCount }},
	{"chapter_count", func(m ingest.Metadata) int { return m.ChapterCount }, func(r ingest.CatalogRecord) int { return r.ChapterCount }},
	{"kudos", func(m ingest.Metadata) int { return m.Kudos }, func(r ingest.CatalogRecord) int { return r.Kudos }},
	{"hits", func(m ingest.Metadata) int { return m.Hits }, func(r ingest.CatalogRecord) int { return r.Hits }},
	{"bookmarks", func(m ingest.Metadata) int { return m.Bookmarks }, func(r ingest.CatalogRecord) int { return r.Bookmarks }},
	{"comments", func(m ingest.Metadata) int { return m.Comments }, func(r ingest.CatalogRecord) int { return r.Comments }},
}

// Reconcile compares fresh metadata against the stored record and produces
// the minimal change-set. With no existing record it yields a full create
// payload with documented placeholders for missing scalars.
//
// Locks protect set values, not unset ones: a locked-but-empty field is still
// populated, because the intent is "don't clobber curated data", never
// "never populate". Counters are exempt from the global lock since they are
// not hand-curated, but an explicit per-field lock is always honored.
func Reconcile(existing *ingest.CatalogRecord, meta ingest.Metadata, locks ingest.LockState) ingest.ChangeSet {
	if existing == nil {
		return ingest.ChangeSet{Create: true, Record: buildRecord(meta)}
	}

	changes := ingest.ChangeSet{Fields: make(map[string]any)}

	for _, f := range scalarFields {
		fresh, stored := f.meta(meta), f.cur(*existing)
		if fresh == "" || fresh == stored {
			continue
		}
		if skipLocked(locks, f.name, stored != "", false) {
			continue
		}
		changes.Fields[f.name] = fresh
	}

	for _, f := range listFields {
		fresh, stored := f.meta(meta), f.cur(*existing)
		// Order-sensitive comparison: source ordering is provenance.
		if len(fresh) == 0 || slices.Equal(fresh, stored) {
			continue
		}
		if skipLocked(locks, f.name, len(stored) > 0, false) {
			continue
		}
		changes.Fields[f.name] = fresh
	}

	for _, f := range counterFields {
		fresh, stored := f.meta(meta), f.cur(*existing)
		if fresh == stored {
			continue
		}
		if skipLocked(locks, f.name, stored != 0, true) {
			continue
		}
		changes.Fields[f.name] = fresh
	}

	return changes
}

// skipLocked decides whether a lock blocks the write. Per-field locks and the
// global lock both protect only non-empty stored values; the global lock
// additionally ignores counters.
func skipLocked(locks ingest.LockState, name string, storedSet, counter bool) bool {
	if !storedSet {
		return false
	}
	if locks.FieldLocked(name) {
		return true
	}
	return locks.Global && !counter
}

// buildRecord assembles the full create payload, defaulting missing scalars
// to placeholders and lists to empty (never nil) slices.
func buildRecord(meta ingest.Metadata) ingest.CatalogRecord {
	rec := ingest.CatalogRecord{
		Identity:         meta.Identity,
		Title:            orDefault(meta.Title, PlaceholderTitle),
		Authors:          orList(meta.Authors),
		Summary:          meta.Summary,
		Rating:           orDefault(meta.Rating, PlaceholderRating),
		Language:         orDefault(meta.Language, PlaceholderLanguage),
		Status:           meta.Status,
		FandomTags:       orList(meta.FandomTags),
		RelationshipTags: orList(meta.RelationshipTags),
		CharacterTags:    orList(meta.CharacterTags),
		FreeformTags:     orList(meta.FreeformTags),
		WarningTags:      orList(meta.WarningTags),
		CategoryTags:     orList(meta.CategoryTags),
		WordCount:        meta.WordCount,
		ChapterCount:     meta.ChapterCount,
		Kudos:            meta.Kudos,
		Hits:             meta.Hits,
		Bookmarks:        meta.Bookmarks,
		Comments:         meta.Comments,
		Published:        meta.Published,
		Updated:          meta.Updated,
	}
	if len(rec.Authors) == 0 {
		rec.Authors = []string{PlaceholderAuthor}
	}
	return rec
}

func orDefault(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func orList(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}
