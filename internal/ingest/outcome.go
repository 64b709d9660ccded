package ingest

import "fmt"

// FetchErrKind classifies fetch failures so the worker can map each to a
// distinct job outcome.
type FetchErrKind string

// Fetch error kinds.
const (
	FetchNotFound       FetchErrKind = "not_found"
	FetchForbidden      FetchErrKind = "forbidden"
	FetchSiteProtection FetchErrKind = "site_protection"
	FetchConnection     FetchErrKind = "connection_error"
)

// FetchError is a typed fetch failure.
type FetchError struct {
	Kind FetchErrKind
	URL  string
	Err  error
}

func (e *FetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fetch %s: %s: %v", e.URL, e.Kind, e.Err)
	}
	return fmt.Sprintf("fetch %s: %s", e.URL, e.Kind)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// OutcomeKind tags the result of a per-job processor.
type OutcomeKind int

// Outcome kinds switched on by the worker loop.
const (
	OutcomeOK OutcomeKind = iota
	OutcomeFetchFailed
	OutcomeInvalid
	OutcomeIntegrity
)

// Outcome is the tagged result returned by a per-job processor. Exactly one
// shape is populated depending on Kind; errors never cross this boundary as
// panics or raw error values.
type Outcome struct {
	Kind OutcomeKind

	// Result is set when Kind is OutcomeOK.
	Result Result

	// FetchKind is set when Kind is OutcomeFetchFailed.
	FetchKind FetchErrKind

	// Reason carries the validation or integrity diagnostic.
	Reason string

	// Failures lists per-work validation failures for series batches.
	Failures []WorkFailure

	// Fetches is how many rate-scheduler slots the processor consumed.
	Fetches int
}

// OK builds a success outcome.
func OK(result Result, fetches int) Outcome {
	return Outcome{Kind: OutcomeOK, Result: result, Fetches: fetches}
}

// FetchFailed builds a typed fetch-failure outcome.
func FetchFailed(kind FetchErrKind, reason string, fetches int) Outcome {
	return Outcome{Kind: OutcomeFetchFailed, FetchKind: kind, Reason: reason, Fetches: fetches}
}

// Invalid builds a curation-failure outcome routed to needs-review.
func Invalid(reason string, failures []WorkFailure, fetches int) Outcome {
	return Outcome{Kind: OutcomeInvalid, Reason: reason, Failures: failures, Fetches: fetches}
}

// Integrity builds an outcome for a fetch that succeeded but yielded no
// addressable identity.
func Integrity(reason string, fetches int) Outcome {
	return Outcome{Kind: OutcomeIntegrity, Reason: reason, Fetches: fetches}
}
