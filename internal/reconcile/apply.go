package reconcile

import "github.com/ficlib/archivist/internal/ingest"

// ApplyFields mutates a record in place with a change-set's field values.
// Stores use it so the field-name switch lives in one place.
func ApplyFields(rec *ingest.CatalogRecord, fields map[string]any) {
	for name, value := range fields {
		switch name {
		case "title":
			rec.Title = value.(string)
		case "summary":
			rec.Summary = value.(string)
		case "rating":
			rec.Rating = value.(string)
		case "language":
			rec.Language = value.(string)
		case "status":
			rec.Status = value.(string)
		case "published":
			rec.Published = value.(string)
		case "updated":
			rec.Updated = value.(string)
		case "authors":
			rec.Authors = value.([]string)
		case "fandom_tags":
			rec.FandomTags = value.([]string)
		case "relationship_tags":
			rec.RelationshipTags = value.([]string)
		case "character_tags":
			rec.CharacterTags = value.([]string)
		case "freeform_tags":
			rec.FreeformTags = value.([]string)
		case "warning_tags":
			rec.WarningTags = value.([]string)
		case "category_tags":
			rec.CategoryTags = value.([]string)
		case "word_count":
			rec.WordCount = value.(int)
		case "chapter_count":
			rec.ChapterCount = value.(int)
		case "kudos":
			rec.Kudos = value.(int)
		case "hits":
			rec.Hits = value.(int)
		case "bookmarks":
			rec.Bookmarks = value.(int)
		case "comments":
			rec.Comments = value.(int)
		}
	}
}
