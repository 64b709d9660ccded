package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/ficlib/archivist/internal/hash/sha256"
	"github.com/ficlib/archivist/internal/ingest"
	"github.com/ficlib/archivist/internal/reconcile"
)

// processWork ingests a single archive work: fetch, extract, snapshot,
// validate, reconcile.
func (w *Worker) processWork(ctx context.Context, url string) ingest.Outcome {
	page, outcome, ok := w.fetchPage(ctx, url)
	if !ok {
		return outcome
	}

	meta, err := w.extractor.Extract(page)
	if err != nil {
		return ingest.Integrity(fmt.Sprintf("fetched page has no addressable work metadata: %v", err), 1)
	}

	w.snapshot(ctx, meta.Identity, page)

	verdict, err := w.validator.Validate(ctx, meta.Identity, meta)
	if err != nil {
		return ingest.Integrity(fmt.Sprintf("curation check failed for %s: %v", meta.Identity.Key(), err), 1)
	}
	if !verdict.Valid {
		return ingest.Invalid(verdict.Reason, nil, 1)
	}

	if err := w.upsert(ctx, meta); err != nil {
		return ingest.Integrity(fmt.Sprintf("persist catalog record %s: %v", meta.Identity.Key(), err), 1)
	}
	return ingest.OK(ingest.Result{ID: meta.Identity.Key(), Type: "work"}, 1)
}

// processSeries fetches the series index, then ingests each member work with
// the archive's inter-request gap between fetches.
func (w *Worker) processSeries(ctx context.Context, job ingest.Job, ref string) ingest.Outcome {
	page, outcome, ok := w.fetchPage(ctx, job.SourceURL)
	if !ok {
		return outcome
	}

	index, err := w.extractor.ExtractSeries(page)
	if err != nil || index.Identity.Ref == "" {
		// Accepting a result with no addressable identity would corrupt the
		// catalog.
		return ingest.Integrity(fmt.Sprintf("series fetch yielded no series id for %s", job.SourceURL), 1)
	}
	if len(index.WorkURLs) == 0 {
		return ingest.Integrity(fmt.Sprintf("series %s lists no member works", index.Identity.Key()), 1)
	}

	fetches := 1
	ingested := 0
	var failures []ingest.WorkFailure
	anyInvalid := false
	var firstFetchKind ingest.FetchErrKind

	for _, workURL := range index.WorkURLs {
		if ctx.Err() != nil {
			break
		}
		w.pauser.Pause(ctx, w.sched.Interval())
		out := w.processWork(ctx, workURL)
		fetches += out.Fetches
		switch out.Kind {
		case ingest.OutcomeOK:
			ingested++
		case ingest.OutcomeInvalid:
			anyInvalid = true
			failures = append(failures, ingest.WorkFailure{URL: workURL, Reason: out.Reason})
		case ingest.OutcomeFetchFailed:
			if firstFetchKind == "" {
				firstFetchKind = out.FetchKind
			}
			failures = append(failures, ingest.WorkFailure{URL: workURL, Reason: fetchErrorMessage(out.FetchKind, out.Reason)})
		case ingest.OutcomeIntegrity:
			failures = append(failures, ingest.WorkFailure{URL: workURL, Reason: out.Reason})
		}
	}

	switch {
	case anyInvalid:
		reason := fmt.Sprintf("%d of %d series works failed curation", len(failures), len(index.WorkURLs))
		return ingest.Invalid(reason, failures, fetches)
	case ingested == 0 && firstFetchKind != "":
		return ingest.FetchFailed(firstFetchKind,
			fmt.Sprintf("no works in series %s could be fetched", index.Identity.Key()), fetches)
	case ingested == 0:
		return ingest.Integrity(fmt.Sprintf("no works in series %s could be ingested", index.Identity.Key()), fetches)
	}

	return ingest.OK(ingest.Result{
		ID:        index.Identity.Key(),
		Type:      "series",
		SeriesID:  ref,
		WorkCount: ingested,
		Failures:  failures,
	}, fetches)
}

// processGeneric handles URLs outside the rate-limited archive. External
// pages are not cataloged; the job just reports reachability and a title so
// the notifier has something to show. These fetches run under the per-host
// limiter, not the archive budget.
func (w *Worker) processGeneric(ctx context.Context, job ingest.Job) ingest.Outcome {
	if w.hosts != nil {
		if err := w.hosts.Wait(ctx, job.SourceURL); err != nil {
			return ingest.FetchFailed(ingest.FetchConnection, err.Error(), 0)
		}
	}
	page, outcome, ok := w.fetchPage(ctx, job.SourceURL)
	if !ok {
		outcome.Fetches = 0
		return outcome
	}
	return ingest.OK(ingest.Result{ID: pageTitle(page.Body, job.SourceURL), Type: "external"}, 0)
}

// fetchPage wraps Fetch with typed-error classification. The bool reports
// success; on failure the returned outcome is final.
func (w *Worker) fetchPage(ctx context.Context, url string) (ingest.Page, ingest.Outcome, bool) {
	page, err := w.fetcher.Fetch(ctx, url)
	if err == nil {
		return page, ingest.Outcome{}, true
	}
	var fe *ingest.FetchError
	if errors.As(err, &fe) {
		return ingest.Page{}, ingest.FetchFailed(fe.Kind, fe.Error(), 1), false
	}
	return ingest.Page{}, ingest.FetchFailed(ingest.FetchConnection, err.Error(), 1), false
}

// upsert reconciles fresh metadata against the stored record under the
// moderator locks in force and writes the minimal change.
func (w *Worker) upsert(ctx context.Context, meta ingest.Metadata) error {
	existing, found, err := w.catalog.Get(ctx, meta.Identity)
	if err != nil {
		return fmt.Errorf("load catalog record: %w", err)
	}
	locks, err := w.catalog.Locks(ctx, meta.Identity)
	if err != nil {
		return fmt.Errorf("load lock state: %w", err)
	}

	var existingPtr *ingest.CatalogRecord
	if found {
		existingPtr = &existing
	}
	changes := reconcile.Reconcile(existingPtr, meta, locks)
	if changes.Empty() {
		return nil
	}
	if changes.Create {
		rec := changes.Record
		now := w.clock.Now()
		rec.CreatedAt = now
		rec.UpdatedAt = now
		if err := w.catalog.Create(ctx, rec); err != nil {
			return fmt.Errorf("create catalog record: %w", err)
		}
		return nil
	}
	if err := w.catalog.Apply(ctx, meta.Identity, changes); err != nil {
		return fmt.Errorf("apply catalog changes: %w", err)
	}
	return nil
}

// snapshot archives the raw page for later moderation review. Best effort: a
// storage hiccup must not fail the job.
func (w *Worker) snapshot(ctx context.Context, id ingest.Identity, page ingest.Page) {
	if w.blobs == nil {
		return
	}
	digest, err := sha256.New().Hash(page.Body)
	if err != nil {
		w.logger.Warn("hash page snapshot failed", zap.Error(err))
		return
	}
	prefix := strings.Trim(w.cfg.SnapshotPrefix, "/")
	path := fmt.Sprintf("%s/%s/%s/%s.html", prefix, id.Kind, id.Ref, digest)
	if prefix == "" {
		path = fmt.Sprintf("%s/%s/%s.html", id.Kind, id.Ref, digest)
	}
	if _, err := w.blobs.Put(ctx, path, "text/html; charset=utf-8", page.Body); err != nil {
		w.logger.Warn("archive page snapshot failed",
			zap.String("identity", id.Key()),
			zap.Error(err),
		)
	}
}

// pageTitle pulls a displayable title out of an arbitrary external page,
// falling back to the URL.
func pageTitle(body []byte, url string) string {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return url
	}
	title := strings.TrimSpace(doc.Find("title").First().Text())
	if title == "" {
		return url
	}
	return title
}
