// Package extract turns raw archive markup into structured metadata.
package extract

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/ficlib/archivist/internal/ingest"
)

// Extractor parses work and series pages for one archive site.
type Extractor struct {
	matcher *ingest.SiteMatcher
}

// New constructs an Extractor bound to the archive's site matcher.
func New(matcher *ingest.SiteMatcher) *Extractor {
	return &Extractor{matcher: matcher}
}

// Extract parses a work page into normalized metadata. It returns an error
// only when the page carries no recognizable work structure at all; missing
// individual fields degrade to zero values.
func (e *Extractor) Extract(page ingest.Page) (ingest.Metadata, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page.Body))
	if err != nil {
		return ingest.Metadata{}, fmt.Errorf("parse work page: %w", err)
	}

	kind, ref := e.matcher.Classify(page.URL)
	if kind != ingest.URLWork {
		return ingest.Metadata{}, fmt.Errorf("no work id in url %q", page.URL)
	}

	meta := ingest.Metadata{
		Identity: e.matcher.Identity(kind, ref),
		Links:    make(map[string][]ingest.TagLink),
	}

	meta.Title = strings.TrimSpace(doc.Find("h2.title").First().Text())
	meta.Authors = extractAuthors(doc)
	meta.Summary = extractSummary(doc)

	e.applyScalars(doc, &meta)

	for _, group := range tagGroups {
		links := resolveGroup(doc, group)
		if len(links) == 0 {
			continue
		}
		meta.Links[group.field] = links
		texts := make([]string, 0, len(links))
		for _, l := range links {
			texts = append(texts, l.Text)
		}
		assignGroup(&meta, group.field, texts)
	}

	if meta.Title == "" && len(meta.Links) == 0 {
		return ingest.Metadata{}, fmt.Errorf("page at %q has no work metadata", page.URL)
	}
	return meta, nil
}

// ExtractLinks exposes the text+slug pairs for a single tag group, running
// the same tiered fallback as Extract. Used by tests and by callers that only
// need canonical identifiers.
func (e *Extractor) ExtractLinks(page ingest.Page, field string) ([]ingest.TagLink, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page.Body))
	if err != nil {
		return nil, fmt.Errorf("parse work page: %w", err)
	}
	for _, group := range tagGroups {
		if group.field == field {
			return resolveGroup(doc, group), nil
		}
	}
	return nil, fmt.Errorf("unknown tag group %q", field)
}

// resolveGroup tries each strategy tier in order and keeps the first hit.
func resolveGroup(doc *goquery.Document, group tagGroup) []ingest.TagLink {
	for _, strategy := range group.strategies {
		if links, ok := strategy(doc); ok {
			return links
		}
	}
	return nil
}

func assignGroup(meta *ingest.Metadata, field string, texts []string) {
	switch field {
	case FieldFandomTags:
		meta.FandomTags = texts
	case FieldRelationshipTags:
		meta.RelationshipTags = texts
	case FieldCharacterTags:
		meta.CharacterTags = texts
	case FieldFreeformTags:
		meta.FreeformTags = texts
	case FieldWarningTags:
		meta.WarningTags = texts
	case FieldCategoryTags:
		meta.CategoryTags = texts
	}
}

// applyScalars walks every dt/dd label pair and maps recognized labels onto
// scalar metadata fields.
func (e *Extractor) applyScalars(doc *goquery.Document, meta *ingest.Metadata) {
	doc.Find("dt").Each(func(_ int, dt *goquery.Selection) {
		label := normalizeLabel(dt.Text())
		field, ok := scalarLabels[label]
		if !ok {
			return
		}
		value := strings.TrimSpace(dt.NextFiltered("dd").Text())
		if value == "" {
			return
		}
		switch field {
		case "rating":
			if meta.Rating == "" {
				meta.Rating = value
			}
		case "language":
			meta.Language = value
		case "status":
			meta.Status = value
		case "published":
			meta.Published = value
		case "updated":
			meta.Updated = value
		case "word_count":
			meta.WordCount = parseCount(value)
		case "chapter_count":
			meta.ChapterCount = parseChapters(value)
		case "kudos":
			meta.Kudos = parseCount(value)
		case "hits":
			meta.Hits = parseCount(value)
		case "bookmarks":
			meta.Bookmarks = parseCount(value)
		case "comments":
			meta.Comments = parseCount(value)
		}
	})
}

func extractAuthors(doc *goquery.Document) []string {
	var authors []string
	doc.Find("h3.byline a[rel=author], a[rel=author]").Each(func(_ int, a *goquery.Selection) {
		name := strings.TrimSpace(a.Text())
		if name == "" {
			return
		}
		for _, existing := range authors {
			if existing == name {
				return
			}
		}
		authors = append(authors, name)
	})
	if len(authors) > 0 {
		return authors
	}
	// Anonymous works render the byline without author anchors.
	byline := strings.TrimSpace(doc.Find("h3.byline").First().Text())
	if byline != "" {
		return []string{byline}
	}
	return nil
}

func extractSummary(doc *goquery.Document) string {
	summary := doc.Find("div.summary blockquote").First()
	if summary.Length() == 0 {
		summary = doc.Find("div.summary").First()
	}
	return strings.TrimSpace(summary.Text())
}

// parseCount strips digit grouping and parses a counter, returning 0 on any
// malformed value.
func parseCount(s string) int {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}

// parseChapters reads the published-chapter count from "3/10" or "3/?".
func parseChapters(s string) int {
	s = strings.TrimSpace(s)
	if idx := strings.Index(s, "/"); idx >= 0 {
		s = s[:idx]
	}
	return parseCount(s)
}
