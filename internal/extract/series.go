package extract

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/ficlib/archivist/internal/ingest"
)

// ExtractSeries parses a series index page into its identity, title and the
// ordered list of member work URLs.
func (e *Extractor) ExtractSeries(page ingest.Page) (ingest.SeriesIndex, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page.Body))
	if err != nil {
		return ingest.SeriesIndex{}, fmt.Errorf("parse series page: %w", err)
	}

	kind, ref := e.matcher.Classify(page.URL)
	if kind != ingest.URLSeries {
		return ingest.SeriesIndex{}, fmt.Errorf("no series id in url %q", page.URL)
	}

	index := ingest.SeriesIndex{
		Identity: e.matcher.Identity(kind, ref),
		Title:    strings.TrimSpace(doc.Find("h2.heading").First().Text()),
	}

	seen := make(map[string]struct{})
	doc.Find("ul.series li h4.heading a, li.work h4.heading a, h4.heading a").Each(func(_ int, a *goquery.Selection) {
		href, ok := a.Attr("href")
		if !ok {
			return
		}
		full := absoluteWorkURL(page.URL, href)
		if full == "" {
			return
		}
		workKind, _ := e.matcher.Classify(full)
		if workKind != ingest.URLWork {
			return
		}
		if _, dup := seen[full]; dup {
			return
		}
		seen[full] = struct{}{}
		index.WorkURLs = append(index.WorkURLs, full)
	})

	return index, nil
}

// absoluteWorkURL resolves a relative work href against the series page URL.
func absoluteWorkURL(base, href string) string {
	if strings.HasPrefix(href, "http://") || strings.HasPrefix(href, "https://") {
		return href
	}
	if !strings.HasPrefix(href, "/") {
		return ""
	}
	idx := strings.Index(base, "://")
	if idx < 0 {
		return ""
	}
	hostEnd := strings.Index(base[idx+3:], "/")
	if hostEnd < 0 {
		return base + href
	}
	return base[:idx+3+hostEnd] + href
}
