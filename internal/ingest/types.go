// Package ingest defines core types shared across subsystems.
package ingest

import (
	"time"
)

// Status represents the lifecycle state of an ingestion job.
type Status string

// Job status values persisted in the job store.
const (
	StatusPending          Status = "pending"
	StatusProcessing       Status = "processing"
	StatusSeriesProcessing Status = "series-processing"
	StatusCompleted        Status = "completed"
	StatusSeriesCompleted  Status = "series-completed"
	StatusNeedsReview      Status = "needs-review"
	StatusFailed           Status = "failed"

	// Cooldown sentinels are paired records, not transitions of a real job.
	// The notifier drains them like any other terminal row.
	StatusCooldownStart Status = "cooldown-start"
	StatusCooldownEnd   Status = "cooldown-end"
)

// Terminal reports whether a status will never change again.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusSeriesCompleted, StatusNeedsReview, StatusFailed,
		StatusCooldownStart, StatusCooldownEnd:
		return true
	default:
		return false
	}
}

// BatchType distinguishes single-work jobs from series fan-outs.
type BatchType string

// Batch type values.
const (
	BatchSingle BatchType = "single"
	BatchSeries BatchType = "series"
	// BatchSystem marks sentinel rows emitted by the pipeline itself.
	BatchSystem BatchType = "system"
)

// Job represents the metadata persisted for each submitted ingestion request.
type Job struct {
	ID               string    `json:"id"`
	SourceURL        string    `json:"source_url"`
	BatchType        BatchType `json:"batch_type"`
	RequestedBy      string    `json:"requested_by"`
	SubmittedAt      time.Time `json:"submitted_at"`
	UpdatedAt        time.Time `json:"updated_at"`
	Status           Status    `json:"status"`
	Result           Result    `json:"result"`
	ErrorMessage     string    `json:"error_message,omitempty"`
	ValidationReason string    `json:"validation_reason,omitempty"`
	InstantCandidate bool      `json:"instant_candidate,omitempty"`
}

// Result is the small JSON blob recorded on a job as it progresses and
// finishes. The notifier reads it verbatim.
type Result struct {
	ID          string        `json:"id,omitempty"`
	Type        string        `json:"type,omitempty"`
	SeriesID    string        `json:"series_id,omitempty"`
	WorkCount   int           `json:"work_count,omitempty"`
	HeartbeatAt *time.Time    `json:"heartbeat_at,omitempty"`
	Stuck       bool          `json:"stuck,omitempty"`
	Failures    []WorkFailure `json:"failures,omitempty"`
}

// WorkFailure records one per-work validation failure inside a series batch.
type WorkFailure struct {
	URL    string `json:"url"`
	Reason string `json:"reason"`
}

// Subscriber attaches an interested user to a job so one underlying fetch can
// notify several requesters.
type Subscriber struct {
	JobID      string `json:"job_id"`
	UserID     string `json:"user_id"`
	ChannelRef string `json:"channel_ref,omitempty"`
	MessageRef string `json:"message_ref,omitempty"`
}

// RefKind distinguishes the two addressable archive object kinds.
type RefKind string

// Reference kinds.
const (
	RefWork   RefKind = "work"
	RefSeries RefKind = "series"
)

// Identity is the canonical catalog key: site plus numeric work/series id.
type Identity struct {
	Site string  `json:"site"`
	Kind RefKind `json:"kind"`
	Ref  string  `json:"ref"`
}

// Key renders the identity as a single stable string.
func (i Identity) Key() string {
	return i.Site + ":" + string(i.Kind) + ":" + i.Ref
}

// TagLink pairs a tag's display text with its canonical slug. Display text is
// a free rendering; the slug collapses historical synonyms.
type TagLink struct {
	Text string `json:"text"`
	Slug string `json:"slug"`
}

// Metadata is the normalized output of a single work extraction.
type Metadata struct {
	Identity Identity

	Title   string
	Authors []string
	Summary string

	Rating   string
	Language string
	Status   string

	FandomTags       []string
	RelationshipTags []string
	CharacterTags    []string
	FreeformTags     []string
	WarningTags      []string
	CategoryTags     []string

	// Links carries text+slug pairs per tag group, keyed by the canonical
	// field name, for slug-based policy matching.
	Links map[string][]TagLink

	WordCount    int
	ChapterCount int
	Kudos        int
	Hits         int
	Bookmarks    int
	Comments     int

	Published string
	Updated   string
}

// SeriesIndex is the normalized output of a series page extraction.
type SeriesIndex struct {
	Identity Identity
	Title    string
	WorkURLs []string
}

// CatalogRecord is the durable, identity-keyed entry produced by ingestion.
type CatalogRecord struct {
	Identity Identity `json:"identity"`

	Title   string   `json:"title"`
	Authors []string `json:"authors"`
	Summary string   `json:"summary"`

	Rating   string `json:"rating"`
	Language string `json:"language"`
	Status   string `json:"status"`

	FandomTags       []string `json:"fandom_tags"`
	RelationshipTags []string `json:"relationship_tags"`
	CharacterTags    []string `json:"character_tags"`
	FreeformTags     []string `json:"freeform_tags"`
	WarningTags      []string `json:"warning_tags"`
	CategoryTags     []string `json:"category_tags"`

	WordCount    int `json:"word_count"`
	ChapterCount int `json:"chapter_count"`
	Kudos        int `json:"kudos"`
	Hits         int `json:"hits"`
	Bookmarks    int `json:"bookmarks"`
	Comments     int `json:"comments"`

	Published string `json:"published"`
	Updated   string `json:"updated"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// LockState captures the moderator locks in force for one catalog identity.
type LockState struct {
	// Fields holds per-field locks keyed by canonical field name.
	Fields map[string]bool
	// Global protects every already-set curated field.
	Global bool
}

// FieldLocked reports whether a per-field lock exists for name.
func (l LockState) FieldLocked(name string) bool {
	return l.Fields[name]
}

// ChangeSet is the minimal field delta produced by reconciliation.
type ChangeSet struct {
	// Create indicates a full insert rather than an update.
	Create bool
	// Record is the full create payload when Create is set.
	Record CatalogRecord
	// Fields maps canonical field names to their new values for updates.
	Fields map[string]any
}

// Empty reports whether applying the change-set would write nothing.
func (c ChangeSet) Empty() bool {
	return !c.Create && len(c.Fields) == 0
}

// ValidationOutcome is the transient verdict of the curation policy.
type ValidationOutcome struct {
	Valid  bool
	Reason string
}
