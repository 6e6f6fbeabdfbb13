package incident

import (
	"strings"
	"time"

	apperrors "github.com/tandemfamily/tandem/internal/platform/errors"
)

// Severity grades how serious a reported incident is.
type Severity string

const (
	// SeverityLow marks minor friction (a late pickup, a missed call).
	SeverityLow Severity = "low"
	// SeverityMedium marks repeated or escalating behavior.
	SeverityMedium Severity = "medium"
	// SeverityHigh marks behavior that affected a child's wellbeing.
	SeverityHigh Severity = "high"
	// SeverityCritical marks incidents that required outside intervention.
	SeverityCritical Severity = "critical"
)

// IsValid reports whether the severity is one of the known grades.
func (s Severity) IsValid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// Content holds the evidentiary fields of an incident as reported. Content is
// never mutated after the record is committed.
type Content struct {
	// Title is a short summary of what happened.
	Title string
	// Description is the reporter's full account.
	Description string
	// Severity grades the incident.
	Severity Severity
	// OccurredAt is when the incident happened, as reported.
	OccurredAt time.Time
	// Location is where the incident happened (optional).
	Location string
	// Witnesses lists people who can corroborate the account (optional).
	Witnesses []string
}

// Record is one committed entry in a family's incident ledger.
//
// Sequence, PreviousDigest, Digest, Signature, and CreatedAt are assigned by
// the write path; callers only provide Content and identity fields.
type Record struct {
	// ID uniquely identifies the record across all tenants.
	ID string
	// TenantID is the family whose ledger owns the record.
	TenantID string
	// Sequence is the record's position in the tenant chain (starts at 1).
	Sequence uint64
	// AuthorID is the user who reported the incident.
	AuthorID string

	Content

	// PreviousDigest is the digest of the preceding record, or the genesis
	// sentinel for the first record.
	PreviousDigest string
	// Digest chains the record's content to its predecessor.
	Digest string
	// Signature is the HMAC over Digest proving service provenance.
	Signature string
	// SignatureKeyID names the keyring entry that produced Signature.
	SignatureKeyID string
	// CreatedAt is the append timestamp assigned by the writer.
	CreatedAt time.Time
}

// NormalizeContent trims whitespace, drops empty witness entries, and
// validates the result. The returned content is what gets digested and
// persisted.
func NormalizeContent(c Content) (Content, error) {
	c.Title = strings.TrimSpace(c.Title)
	c.Description = strings.TrimSpace(c.Description)
	c.Location = strings.TrimSpace(c.Location)

	witnesses := make([]string, 0, len(c.Witnesses))
	for _, w := range c.Witnesses {
		w = strings.TrimSpace(w)
		if w != "" {
			witnesses = append(witnesses, w)
		}
	}
	c.Witnesses = witnesses

	if c.Title == "" {
		return Content{}, apperrors.New(apperrors.CodeIncidentTitleEmpty, "incident title is required")
	}
	if !c.Severity.IsValid() {
		return Content{}, apperrors.WithMetadata(apperrors.CodeIncidentInvalidSeverity,
			"incident severity is invalid", map[string]string{"severity": string(c.Severity)})
	}
	if c.OccurredAt.IsZero() {
		return Content{}, apperrors.New(apperrors.CodeIncidentOccurredAtZero, "incident occurred_at is required")
	}
	c.OccurredAt = c.OccurredAt.UTC().Truncate(time.Millisecond)

	return c, nil
}
