// Package export renders a tenant's verified ledger as a legal exhibit.
//
// The rendered document is fixed-layout plain text. Rendering is
// deterministic: identical ledger state and generation time always produce
// byte-identical output, so an exhibit can be regenerated and compared.
package export

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/tandemfamily/tandem/internal/ledger/verify"
	"github.com/tandemfamily/tandem/internal/platform/telemetry/metrics"
)

// shortDigestLen is how many leading hex characters of a digest are shown to
// human readers. The full digest follows for programmatic re-check.
const shortDigestLen = 16

// Exporter renders verification reports as documents.
type Exporter struct {
	verifier *verify.Verifier
	metrics  *metrics.LedgerMetrics
}

// Option configures exporter behavior.
type Option func(*Exporter)

// WithMetrics attaches export metrics.
func WithMetrics(m *metrics.LedgerMetrics) Option {
	return func(e *Exporter) {
		e.metrics = m
	}
}

// New builds an exporter over the provided verifier.
func New(verifier *verify.Verifier, opts ...Option) *Exporter {
	e := &Exporter{verifier: verifier}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// Export verifies the tenant's chain and renders the outcome as a document.
//
// An invalid chain still exports; the document is prominently marked as
// failing verification. Refusing to export would suppress evidence, which is
// worse than flagging it. generatedAt is stamped into the document header;
// callers pass a fixed time to reproduce an earlier exhibit byte for byte.
func (e *Exporter) Export(ctx context.Context, tenantID string, generatedAt time.Time) (string, error) {
	if e == nil || e.verifier == nil {
		return "", fmt.Errorf("exporter is not configured")
	}

	report, err := e.verifier.Verify(ctx, tenantID)
	if err != nil {
		return "", fmt.Errorf("verify chain: %w", err)
	}

	doc := Render(report, generatedAt)
	e.metrics.RecordExport()
	return doc, nil
}

// Render produces the document text for an existing report.
func Render(report verify.Report, generatedAt time.Time) string {
	var b strings.Builder

	b.WriteString("INCIDENT LEDGER EXPORT\n")
	b.WriteString("======================\n\n")
	fmt.Fprintf(&b, "Tenant:       %s\n", report.TenantID)
	fmt.Fprintf(&b, "Generated at: %s\n", generatedAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "Records:      %d\n\n", len(report.Records))

	if report.Valid() {
		b.WriteString("INTEGRITY: VERIFIED\n")
		b.WriteString("Every record digest was recomputed from stored content and every\n")
		b.WriteString("chain link was checked against its predecessor. No anomalies found.\n")
	} else {
		b.WriteString("*** INTEGRITY: FAILED VERIFICATION ***\n")
		fmt.Fprintf(&b, "The chain scan raised %d finding(s). This export is included for\n", len(report.Findings))
		b.WriteString("completeness; the records below must not be treated as trustworthy.\n\n")
		b.WriteString("Findings:\n")
		for _, f := range report.Findings {
			fmt.Fprintf(&b, "  - seq %d: %s (%s)\n", f.Sequence, f.Kind, f.Detail)
		}
	}
	b.WriteString("\n")

	for _, rec := range report.Records {
		fmt.Fprintf(&b, "--- Record %d ---\n", rec.Sequence)
		fmt.Fprintf(&b, "ID:          %s\n", rec.ID)
		fmt.Fprintf(&b, "Author:      %s\n", rec.AuthorID)
		fmt.Fprintf(&b, "Title:       %s\n", rec.Title)
		fmt.Fprintf(&b, "Severity:    %s\n", rec.Severity)
		fmt.Fprintf(&b, "Occurred at: %s\n", rec.OccurredAt.UTC().Format(time.RFC3339))
		fmt.Fprintf(&b, "Recorded at: %s\n", rec.CreatedAt.UTC().Format(time.RFC3339))
		if rec.Location != "" {
			fmt.Fprintf(&b, "Location:    %s\n", rec.Location)
		}
		if len(rec.Witnesses) > 0 {
			fmt.Fprintf(&b, "Witnesses:   %s\n", strings.Join(rec.Witnesses, "; "))
		}
		if rec.Description != "" {
			fmt.Fprintf(&b, "Description:\n%s\n", indent(rec.Description))
		}
		fmt.Fprintf(&b, "Digest:      %s (full: %s)\n", shortDigest(rec.Digest), rec.Digest)
		fmt.Fprintf(&b, "Previous:    %s (full: %s)\n", shortDigest(rec.PreviousDigest), rec.PreviousDigest)
		b.WriteString("\n")
	}

	b.WriteString("End of export.\n")
	return b.String()
}

func shortDigest(digest string) string {
	if len(digest) <= shortDigestLen {
		return digest
	}
	return digest[:shortDigestLen]
}

func indent(text string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = "  " + line
	}
	return strings.Join(lines, "\n")
}
