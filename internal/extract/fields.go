package extract

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/ficlib/archivist/internal/ingest"
)

// Canonical field names for tag groups. These match the catalog column names
// used by the reconciler and lock state.
const (
	FieldFandomTags       = "fandom_tags"
	FieldRelationshipTags = "relationship_tags"
	FieldCharacterTags    = "character_tags"
	FieldFreeformTags     = "freeform_tags"
	FieldWarningTags      = "warning_tags"
	FieldCategoryTags     = "category_tags"
)

// linkStrategy locates the tag links for one group, or reports a miss. The
// strategies for a group are tried in order; the markup is not contractually
// stable, so later tiers trade precision for resilience.
type linkStrategy func(doc *goquery.Document) ([]ingest.TagLink, bool)

// tagGroup binds a canonical field name to its ordered fallback strategies.
type tagGroup struct {
	field      string
	strategies []linkStrategy
}

var tagGroups = []tagGroup{
	{FieldFandomTags, tieredStrategies("fandom", `(?i)^fandoms?\b`)},
	{FieldRelationshipTags, tieredStrategies("relationship", `(?i)^relationships?\b`)},
	{FieldCharacterTags, tieredStrategies("character", `(?i)^characters?\b`)},
	{FieldFreeformTags, tieredStrategies("freeform", `(?i)^(additional\s+tags|freeforms?)\b`)},
	{FieldWarningTags, tieredStrategies("warning", `(?i)^(archive\s+)?warnings?\b`)},
	{FieldCategoryTags, tieredStrategies("category", `(?i)^categor(y|ies)\b`)},
}

// tieredStrategies builds the three-tier fallback for a tag group:
// class-based structural selector, label-text adjacency, then a broad scan of
// tag anchors outside chapter navigation.
func tieredStrategies(class, labelPattern string) []linkStrategy {
	label := regexp.MustCompile(labelPattern)
	return []linkStrategy{
		func(doc *goquery.Document) ([]ingest.TagLink, bool) {
			return linksByClass(doc, class)
		},
		func(doc *goquery.Document) ([]ingest.TagLink, bool) {
			return linksByLabel(doc, label)
		},
		anyTagScan,
	}
}

// linksByClass reads tag anchors from the group's structural dd element.
func linksByClass(doc *goquery.Document, class string) ([]ingest.TagLink, bool) {
	sel := doc.Find("dd." + class + ".tags").Find("a.tag")
	if sel.Length() == 0 {
		return nil, false
	}
	return collectLinks(sel), true
}

// linksByLabel locates a dt whose text matches the group label and reads the
// adjacent dd's anchors.
func linksByLabel(doc *goquery.Document, label *regexp.Regexp) ([]ingest.TagLink, bool) {
	var out []ingest.TagLink
	doc.Find("dt").EachWithBreak(func(_ int, dt *goquery.Selection) bool {
		if !label.MatchString(normalizeLabel(dt.Text())) {
			return true
		}
		anchors := dt.NextFiltered("dd").Find("a")
		if anchors.Length() == 0 {
			return true
		}
		out = collectLinks(anchors)
		return false
	})
	return out, len(out) > 0
}

// anyTagScan is the last-resort tier: every tag anchor on the page that is
// not inside a chapter-navigation region. It cannot attribute links to a
// single group, which is acceptable as graceful degradation. It only fires
// when the definition-list structure is missing entirely; otherwise a group
// that is legitimately absent would swallow every tag on the page.
func anyTagScan(doc *goquery.Document) ([]ingest.TagLink, bool) {
	if doc.Find("dl dt").Length() > 0 {
		return nil, false
	}
	sel := doc.Find("a.tag").FilterFunction(func(_ int, s *goquery.Selection) bool {
		return s.Closest("#chapter_index, ol.chapter, .chapter.navigation").Length() == 0
	})
	if sel.Length() == 0 {
		return nil, false
	}
	return collectLinks(sel), true
}

func collectLinks(sel *goquery.Selection) []ingest.TagLink {
	var out []ingest.TagLink
	sel.Each(func(_ int, a *goquery.Selection) {
		text := strings.TrimSpace(a.Text())
		if text == "" {
			return
		}
		href, _ := a.Attr("href")
		out = append(out, ingest.TagLink{Text: text, Slug: SlugFromHref(href)})
	})
	return out
}

// scalarLabels maps normalized dt label text to canonical scalar field names.
var scalarLabels = map[string]string{
	"rating":    "rating",
	"language":  "language",
	"status":    "status",
	"words":     "word_count",
	"chapters":  "chapter_count",
	"kudos":     "kudos",
	"hits":      "hits",
	"bookmarks": "bookmarks",
	"comments":  "comments",
	"published": "published",
	"updated":   "updated",
	"completed": "updated",
}

// normalizeLabel lowercases a dt label and strips the trailing colon.
func normalizeLabel(s string) string {
	s = strings.TrimSpace(strings.ToLower(s))
	return strings.TrimSuffix(s, ":")
}

// SlugFromHref extracts the canonical tag slug from a tag link href, e.g.
// "/tags/Jane%20Doe*s*John%20Roe/works" -> "Jane Doe/John Roe". The archive
// escapes slash, dot and ampersand inside tag path segments.
func SlugFromHref(href string) string {
	if href == "" {
		return ""
	}
	const marker = "/tags/"
	idx := strings.Index(href, marker)
	if idx < 0 {
		return ""
	}
	slug := href[idx+len(marker):]
	if cut := strings.Index(slug, "/"); cut >= 0 {
		slug = slug[:cut]
	}
	if decoded, err := url.PathUnescape(slug); err == nil {
		slug = decoded
	}
	replacer := strings.NewReplacer("*s*", "/", "*d*", ".", "*a*", "&", "*q*", "?", "*h*", "#")
	return replacer.Replace(slug)
}
