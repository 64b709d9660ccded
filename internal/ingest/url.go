package ingest

import (
	"net/url"
	"regexp"
	"strings"
)

// URLKind selects which processor a job's source URL is dispatched to.
type URLKind int

// URL kinds.
const (
	URLGeneric URLKind = iota
	URLWork
	URLSeries
)

var (
	workPathRe   = regexp.MustCompile(`/works/(\d+)`)
	seriesPathRe = regexp.MustCompile(`/series/(\d+)`)
)

// SiteMatcher is an explicit host registry for the rate-limited archive,
// replacing ad-hoc substring checks on URLs.
type SiteMatcher struct {
	site  string
	hosts map[string]struct{}
}

// NewSiteMatcher builds a matcher for the named site over its known hosts.
func NewSiteMatcher(site string, hosts []string) *SiteMatcher {
	m := &SiteMatcher{
		site:  site,
		hosts: make(map[string]struct{}, len(hosts)),
	}
	for _, h := range hosts {
		m.hosts[strings.ToLower(h)] = struct{}{}
	}
	return m
}

// Site returns the canonical site name used in catalog identities.
func (m *SiteMatcher) Site() string {
	return m.site
}

// Matches reports whether raw points at one of the registered archive hosts.
func (m *SiteMatcher) Matches(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	host = strings.TrimPrefix(host, "www.")
	_, ok := m.hosts[host]
	return ok
}

// Classify determines the processor kind and the numeric reference for an
// archive URL. Non-archive URLs are always URLGeneric.
func (m *SiteMatcher) Classify(raw string) (URLKind, string) {
	if !m.Matches(raw) {
		return URLGeneric, ""
	}
	// Series first: series pages can embed work links but never vice versa.
	if match := seriesPathRe.FindStringSubmatch(raw); match != nil {
		return URLSeries, match[1]
	}
	if match := workPathRe.FindStringSubmatch(raw); match != nil {
		return URLWork, match[1]
	}
	return URLGeneric, ""
}

// Identity builds the catalog identity for a classified reference.
func (m *SiteMatcher) Identity(kind URLKind, ref string) Identity {
	rk := RefWork
	if kind == URLSeries {
		rk = RefSeries
	}
	return Identity{Site: m.site, Kind: rk, Ref: ref}
}
