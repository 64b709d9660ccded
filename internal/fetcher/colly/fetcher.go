// Package collyfetcher implements the page fetcher using gocolly.
package collyfetcher

import (
	"bytes"
	"context"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/ficlib/archivist/internal/ingest"
)

// Config controls collector behavior.
type Config struct {
	UserAgent string
	Timeout   time.Duration
}

// Fetcher implements ingest.Fetcher using the Colly collector.
type Fetcher struct {
	cfg           Config
	baseCollector *colly.Collector
}

// New builds a Fetcher.
func New(cfg Config) *Fetcher {
	c := colly.NewCollector(colly.Async(false))
	c.WithTransport(newHTTPTransport())
	return &Fetcher{
		cfg:           cfg,
		baseCollector: c,
	}
}

// Fetch executes a single HTTP GET and classifies failures into the typed
// fetch-error kinds the pipeline branches on.
func (f *Fetcher) Fetch(ctx context.Context, url string) (ingest.Page, error) {
	collector := f.baseCollector.Clone()
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	timeout := f.cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	collector.SetRequestTimeout(timeout)

	var (
		page      ingest.Page
		errStatus int
		errBody   []byte
		fetchErr  error
	)
	collector.OnResponse(func(r *colly.Response) {
		page = ingest.Page{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Body:       append([]byte(nil), r.Body...),
		}
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil {
			errStatus = r.StatusCode
			errBody = append([]byte(nil), r.Body...)
		}
		fetchErr = err
	})

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return ingest.Page{}, &ingest.FetchError{Kind: ingest.FetchConnection, URL: url, Err: ctx.Err()}
	case err := <-done:
		if err == nil && fetchErr == nil {
			return page, nil
		}
		if fetchErr != nil {
			err = fetchErr
		}
		return ingest.Page{}, classify(url, errStatus, errBody, err)
	}
}

// classify maps an HTTP failure onto the pipeline's fetch-error taxonomy.
func classify(url string, status int, body []byte, err error) *ingest.FetchError {
	kind := ingest.FetchConnection
	switch {
	case status == http.StatusNotFound || status == http.StatusGone:
		kind = ingest.FetchNotFound
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		kind = ingest.FetchForbidden
		if protectionChallenge(body) {
			kind = ingest.FetchSiteProtection
		}
	case status == http.StatusTooManyRequests || status == http.StatusServiceUnavailable:
		kind = ingest.FetchSiteProtection
	}
	return &ingest.FetchError{Kind: kind, URL: url, Err: err}
}

// protectionChallenge spots interstitial challenge pages that arrive with a
// misleading status code.
func protectionChallenge(body []byte) bool {
	lowered := bytes.ToLower(body)
	for _, marker := range [][]byte{
		[]byte("just a moment"),
		[]byte("cf-challenge"),
		[]byte("checking your browser"),
	} {
		if bytes.Contains(lowered, marker) {
			return true
		}
	}
	return false
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
