// Package validate decides whether extracted tag data satisfies the
// community's curation policy.
package validate

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"go.uber.org/zap"

	"github.com/ficlib/archivist/internal/extract"
	"github.com/ficlib/archivist/internal/ingest"
)

// Policy captures the configurable curation rules.
type Policy struct {
	// AcceptedFandomSlugs are canonical tag slugs for the curated fandom.
	// Slug matching is preferred: one concept has many historical display
	// renderings, and the slug collapses them.
	AcceptedFandomSlugs []string
	// AcceptedFandomAliases are normalized display-text variants, used only
	// when structural link data was not extractable.
	AcceptedFandomAliases []string
	// RequiredPair names the two characters of the required pairing.
	RequiredPair [2]string
	// RequiredPairSlugs are canonical relationship slugs that count as the
	// required pairing outright.
	RequiredPairSlugs []string
	// Qualifiers overrides the default contextual qualifier token list.
	Qualifiers []string
	// AllowGeneral accepts content with no relationship tags at all. This is
	// a policy choice, kept configurable rather than hardcoded.
	AllowGeneral bool
}

// Validator applies the curation policy with a moderator override escape
// hatch.
type Validator struct {
	policy     Policy
	slugs      map[string]struct{}
	aliases    map[string]struct{}
	pairSlugs  map[string]struct{}
	qualifiers []string
	overrides  ingest.OverrideChecker
	logger     *zap.Logger
}

// New constructs a Validator. The override checker may be nil, in which case
// no escape hatch exists.
func New(policy Policy, overrides ingest.OverrideChecker, logger *zap.Logger) *Validator {
	if logger == nil {
		logger = zap.NewNop()
	}
	qualifiers := policy.Qualifiers
	if len(qualifiers) == 0 {
		qualifiers = defaultQualifiers
	}
	lowered := make([]string, len(qualifiers))
	for i, q := range qualifiers {
		lowered[i] = strings.ToLower(q)
	}
	v := &Validator{
		policy:     policy,
		slugs:      make(map[string]struct{}, len(policy.AcceptedFandomSlugs)),
		aliases:    make(map[string]struct{}, len(policy.AcceptedFandomAliases)),
		pairSlugs:  make(map[string]struct{}, len(policy.RequiredPairSlugs)),
		qualifiers: lowered,
		overrides:  overrides,
		logger:     logger,
	}
	for _, s := range policy.AcceptedFandomSlugs {
		v.slugs[strings.ToLower(s)] = struct{}{}
	}
	for _, a := range policy.AcceptedFandomAliases {
		v.aliases[normalizeAlias(a)] = struct{}{}
	}
	for _, s := range policy.RequiredPairSlugs {
		v.pairSlugs[strings.ToLower(s)] = struct{}{}
	}
	return v
}

// Validate applies the policy to one work's extracted tags. The moderator
// override is consulted before the rules and re-checked after a failure, so
// an override created while the work was being processed is never ignored.
func (v *Validator) Validate(
	ctx context.Context,
	id ingest.Identity,
	meta ingest.Metadata,
) (ingest.ValidationOutcome, error) {
	if active, err := v.overrideActive(ctx, id); err != nil {
		return ingest.ValidationOutcome{}, err
	} else if active {
		return ingest.ValidationOutcome{Valid: true}, nil
	}

	outcome := v.apply(meta)
	if outcome.Valid {
		return outcome, nil
	}

	// Re-check defensively: the override may have been created concurrently
	// with processing.
	if active, err := v.overrideActive(ctx, id); err != nil {
		return ingest.ValidationOutcome{}, err
	} else if active {
		v.logger.Info("validation override observed after failure",
			zap.String("identity", id.Key()),
			zap.String("reason", outcome.Reason),
		)
		return ingest.ValidationOutcome{Valid: true}, nil
	}
	return outcome, nil
}

func (v *Validator) overrideActive(ctx context.Context, id ingest.Identity) (bool, error) {
	if v.overrides == nil {
		return false, nil
	}
	active, err := v.overrides.OverrideActive(ctx, id)
	if err != nil {
		return false, fmt.Errorf("check validation override: %w", err)
	}
	return active, nil
}

// apply runs the pure policy rules with no override involvement.
func (v *Validator) apply(meta ingest.Metadata) ingest.ValidationOutcome {
	fandomOK := v.fandomAccepted(meta.FandomTags, meta.Links[extract.FieldFandomTags])
	pairPresent := v.pairingPresent(meta.RelationshipTags, meta.Links[extract.FieldRelationshipTags])

	if !fandomOK && !pairPresent {
		return ingest.ValidationOutcome{
			Reason: "work is not in an accepted fandom and does not tag the required pairing",
		}
	}

	for _, tag := range meta.RelationshipTags {
		if reason, bad := v.multiPartyViolation(tag); bad {
			return ingest.ValidationOutcome{Reason: reason}
		}
	}

	if len(meta.RelationshipTags) == 0 && !pairPresent {
		if v.policy.AllowGeneral {
			return ingest.ValidationOutcome{Valid: true}
		}
		return ingest.ValidationOutcome{Reason: "work has no relationship tags"}
	}

	return ingest.ValidationOutcome{Valid: true}
}

// fandomAccepted prefers canonical slug matching and falls back to
// normalized display-text aliases when no link data was extractable.
func (v *Validator) fandomAccepted(tags []string, links []ingest.TagLink) bool {
	if len(links) > 0 {
		for _, l := range links {
			if _, ok := v.slugs[strings.ToLower(l.Slug)]; ok {
				return true
			}
		}
		// Fall through: the links may carry synonyms whose slugs we do not
		// curate; the alias table still gets a chance below.
	}
	for _, tag := range tags {
		if _, ok := v.aliases[normalizeAlias(tag)]; ok {
			return true
		}
	}
	return false
}

// pairingPresent reports whether the required pairing is explicitly tagged.
func (v *Validator) pairingPresent(tags []string, links []ingest.TagLink) bool {
	for _, l := range links {
		if _, ok := v.pairSlugs[strings.ToLower(l.Slug)]; ok {
			return true
		}
	}
	for _, tag := range tags {
		if v.namesBoth(tag) && isRomantic(tag) {
			return true
		}
	}
	return false
}

// multiPartyViolation rejects a romantic tag that names the required pair
// plus any third party, unless a contextual qualifier relaxes it.
// Friendship-style tags (joined by "&") are always permitted.
func (v *Validator) multiPartyViolation(tag string) (string, bool) {
	if !isRomantic(tag) {
		return "", false
	}
	if !v.namesBoth(tag) {
		return "", false
	}
	if len(splitParticipants(tag)) <= 2 {
		return "", false
	}
	if v.hasQualifier(tag) {
		return "", false
	}
	return fmt.Sprintf("relationship tag %q adds a third party to the required pairing", tag), true
}

func (v *Validator) namesBoth(tag string) bool {
	lowered := strings.ToLower(tag)
	return strings.Contains(lowered, strings.ToLower(v.policy.RequiredPair[0])) &&
		strings.Contains(lowered, strings.ToLower(v.policy.RequiredPair[1]))
}

func (v *Validator) hasQualifier(tag string) bool {
	lowered := strings.ToLower(tag)
	for _, q := range v.qualifiers {
		if strings.Contains(lowered, q) {
			return true
		}
	}
	return false
}

// isRomantic distinguishes "/" pairings from "&" friendships.
func isRomantic(tag string) bool {
	return strings.Contains(tag, "/")
}

// splitParticipants breaks a romantic tag into its named parties, dropping a
// trailing parenthetical qualifier from each part.
func splitParticipants(tag string) []string {
	parts := strings.Split(tag, "/")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if idx := strings.Index(p, "("); idx >= 0 {
			p = p[:idx]
		}
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// normalizeAlias collapses a display text to letters and digits so that
// punctuation and casing variants compare equal.
func normalizeAlias(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}
