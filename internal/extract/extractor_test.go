package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ficlib/archivist/internal/ingest"
)

func testMatcher() *ingest.SiteMatcher {
	return ingest.NewSiteMatcher("archive", []string{"archiveofourown.org"})
}

const workPage = `<!DOCTYPE html>
<html><body>
<div class="wrapper">
  <dl class="work meta group">
    <dt class="rating tags">Rating:</dt>
    <dd class="rating tags"><a class="tag" href="/tags/Teen%20And%20Up%20Audiences/works">Teen And Up Audiences</a></dd>
    <dt class="category tags">Category:</dt>
    <dd class="category tags"><ul><li><a class="tag" href="/tags/F*s*M/works">F/M</a></li></ul></dd>
    <dt class="fandom tags">Fandoms:</dt>
    <dd class="fandom tags"><ul>
      <li><a class="tag" href="/tags/Moonrise%20Kingdom/works">Moonrise Kingdom</a></li>
    </ul></dd>
    <dt class="relationship tags">Relationships:</dt>
    <dd class="relationship tags"><ul>
      <li><a class="tag" href="/tags/Jane%20Doe*s*John%20Roe/works">Jane Doe/John Roe</a></li>
    </ul></dd>
    <dt class="freeform tags">Additional Tags:</dt>
    <dd class="freeform tags"><ul>
      <li><a class="tag" href="/tags/Fluff/works">Fluff</a></li>
      <li><a class="tag" href="/tags/Slow%20Burn/works">Slow Burn</a></li>
    </ul></dd>
    <dt class="language">Language:</dt>
    <dd class="language">English</dd>
    <dt class="stats">Stats:</dt>
    <dd class="stats"><dl class="stats">
      <dt class="published">Published:</dt><dd class="published">2023-04-01</dd>
      <dt class="status">Updated:</dt><dd class="status">2023-06-15</dd>
      <dt class="words">Words:</dt><dd class="words">12,345</dd>
      <dt class="chapters">Chapters:</dt><dd class="chapters">3/10</dd>
      <dt class="comments">Comments:</dt><dd class="comments">42</dd>
      <dt class="kudos">Kudos:</dt><dd class="kudos">1,024</dd>
      <dt class="bookmarks">Bookmarks:</dt><dd class="bookmarks">77</dd>
      <dt class="hits">Hits:</dt><dd class="hits">9,001</dd>
    </dl></dd>
  </dl>
  <h2 class="title heading">The Lighthouse Keeper</h2>
  <h3 class="byline heading"><a rel="author" href="/users/seabird">seabird</a></h3>
  <div class="summary module"><blockquote class="userstuff">A storm rolls in.</blockquote></div>
</div>
</body></html>`

func TestExtractWorkPage(t *testing.T) {
	t.Parallel()

	e := New(testMatcher())
	meta, err := e.Extract(ingest.Page{
		URL:  "https://archiveofourown.org/works/123456",
		Body: []byte(workPage),
	})
	require.NoError(t, err)

	assert.Equal(t, ingest.Identity{Site: "archive", Kind: ingest.RefWork, Ref: "123456"}, meta.Identity)
	assert.Equal(t, "The Lighthouse Keeper", meta.Title)
	assert.Equal(t, []string{"seabird"}, meta.Authors)
	assert.Equal(t, "A storm rolls in.", meta.Summary)
	assert.Equal(t, "Teen And Up Audiences", meta.Rating)
	assert.Equal(t, "English", meta.Language)
	assert.Equal(t, "2023-04-01", meta.Published)
	assert.Equal(t, "2023-06-15", meta.Updated)
	assert.Equal(t, 12345, meta.WordCount)
	assert.Equal(t, 3, meta.ChapterCount)
	assert.Equal(t, 1024, meta.Kudos)
	assert.Equal(t, 9001, meta.Hits)
	assert.Equal(t, 77, meta.Bookmarks)
	assert.Equal(t, 42, meta.Comments)

	assert.Equal(t, []string{"Moonrise Kingdom"}, meta.FandomTags)
	assert.Equal(t, []string{"Jane Doe/John Roe"}, meta.RelationshipTags)
	assert.Equal(t, []string{"Fluff", "Slow Burn"}, meta.FreeformTags)
	assert.Equal(t, []string{"F/M"}, meta.CategoryTags)

	require.Len(t, meta.Links[FieldRelationshipTags], 1)
	assert.Equal(t, "Jane Doe/John Roe", meta.Links[FieldRelationshipTags][0].Slug)
}

// The structural class tier misses here: the dd elements carry no group
// classes, so extraction must fall back to label-text adjacency.
const labelOnlyPage = `<html><body>
<dl class="meta">
  <dt>Fandoms:</dt>
  <dd><a href="/tags/Moonrise%20Kingdom/works">Moonrise Kingdom</a></dd>
  <dt>Relationships:</dt>
  <dd><a href="/tags/Jane%20Doe*s*John%20Roe/works">Jane Doe/John Roe</a></dd>
</dl>
<h2 class="title heading">Fallback Work</h2>
</body></html>`

func TestExtractLabelFallback(t *testing.T) {
	t.Parallel()

	e := New(testMatcher())
	meta, err := e.Extract(ingest.Page{
		URL:  "https://archiveofourown.org/works/777",
		Body: []byte(labelOnlyPage),
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"Moonrise Kingdom"}, meta.FandomTags)
	assert.Equal(t, []string{"Jane Doe/John Roe"}, meta.RelationshipTags)
	assert.Equal(t, "Jane Doe/John Roe", meta.Links[FieldRelationshipTags][0].Slug)
}

// Neither class nor label structure survives; the broad scan picks up every
// tag anchor outside chapter navigation.
const degradedPage = `<html><body>
<div class="tags">
  <a class="tag" href="/tags/Moonrise%20Kingdom/works">Moonrise Kingdom</a>
  <a class="tag" href="/tags/Fluff/works">Fluff</a>
</div>
<ol class="chapter">
  <li><a class="tag" href="/tags/NotReal/works">Chapter Nav Tag</a></li>
</ol>
<h2 class="title heading">Degraded Work</h2>
</body></html>`

func TestExtractBroadScanExcludesChapterNav(t *testing.T) {
	t.Parallel()

	e := New(testMatcher())
	links, err := e.ExtractLinks(ingest.Page{
		URL:  "https://archiveofourown.org/works/888",
		Body: []byte(degradedPage),
	}, FieldFandomTags)
	require.NoError(t, err)

	texts := make([]string, 0, len(links))
	for _, l := range links {
		texts = append(texts, l.Text)
	}
	assert.Equal(t, []string{"Moonrise Kingdom", "Fluff"}, texts)
	assert.NotContains(t, texts, "Chapter Nav Tag")
}

func TestExtractRejectsNonWorkURL(t *testing.T) {
	t.Parallel()

	e := New(testMatcher())
	_, err := e.Extract(ingest.Page{
		URL:  "https://example.com/blog/post",
		Body: []byte(workPage),
	})
	require.Error(t, err)
}

func TestExtractEmptyPage(t *testing.T) {
	t.Parallel()

	e := New(testMatcher())
	_, err := e.Extract(ingest.Page{
		URL:  "https://archiveofourown.org/works/999",
		Body: []byte(`<html><body><p>Nothing here.</p></body></html>`),
	})
	require.Error(t, err)
}

func TestSlugFromHref(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		href string
		want string
	}{
		{"plain", "/tags/Fluff/works", "Fluff"},
		{"escaped space", "/tags/Slow%20Burn/works", "Slow Burn"},
		{"escaped slash", "/tags/Jane%20Doe*s*John%20Roe/works", "Jane Doe/John Roe"},
		{"escaped dot", "/tags/Dr*d*%20Roe/works", "Dr. Roe"},
		{"escaped ampersand", "/tags/Jane*a*John/works", "Jane&John"},
		{"not a tag href", "/users/seabird", ""},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, SlugFromHref(tt.href))
		})
	}
}

const seriesPage = `<html><body>
<h2 class="heading">Harbor Lights</h2>
<ul class="series work index group">
  <li class="work"><h4 class="heading"><a href="/works/111">First Light</a></h4></li>
  <li class="work"><h4 class="heading"><a href="/works/222">Second Watch</a></h4></li>
  <li class="work"><h4 class="heading"><a href="/works/111">First Light (dup)</a></h4></li>
</ul>
</body></html>`

func TestExtractSeries(t *testing.T) {
	t.Parallel()

	e := New(testMatcher())
	index, err := e.ExtractSeries(ingest.Page{
		URL:  "https://archiveofourown.org/series/4242",
		Body: []byte(seriesPage),
	})
	require.NoError(t, err)

	assert.Equal(t, ingest.Identity{Site: "archive", Kind: ingest.RefSeries, Ref: "4242"}, index.Identity)
	assert.Equal(t, "Harbor Lights", index.Title)
	assert.Equal(t, []string{
		"https://archiveofourown.org/works/111",
		"https://archiveofourown.org/works/222",
	}, index.WorkURLs)
}
