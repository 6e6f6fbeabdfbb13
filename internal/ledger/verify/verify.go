// Package verify re-derives the integrity of a tenant's incident chain.
//
// Verification is a read-only scan that recomputes every digest from stored
// content and checks each link against its predecessor. Anomalies are
// reported as findings, not errors: a tampered chain is a successful
// verification with a damning report. Only infrastructure faults (the scan
// itself failing) surface as errors.
package verify

import (
	"context"
	"fmt"
	"strings"

	"github.com/tandemfamily/tandem/internal/ledger/domain/incident"
	"github.com/tandemfamily/tandem/internal/ledger/storage"
	"github.com/tandemfamily/tandem/internal/ledger/storage/integrity"
	"github.com/tandemfamily/tandem/internal/platform/telemetry/metrics"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// FindingKind classifies one verification anomaly.
type FindingKind string

const (
	// FindingContentTampered means a record's stored digest does not match
	// the digest recomputed from its stored content.
	FindingContentTampered FindingKind = "CONTENT_TAMPERED"
	// FindingChainBroken means a record's previous digest does not match
	// the digest of the record before it.
	FindingChainBroken FindingKind = "CHAIN_BROKEN"
	// FindingSequenceGap means a sequence number is missing: a record was
	// deleted or never committed.
	FindingSequenceGap FindingKind = "SEQUENCE_GAP"
	// FindingSignatureInvalid means a record's provenance signature does
	// not verify against the service keyring.
	FindingSignatureInvalid FindingKind = "SIGNATURE_INVALID"
)

// Finding is one anomaly located at a specific chain position.
type Finding struct {
	Kind     FindingKind
	Sequence uint64
	Detail   string
}

// Report is the outcome of one full-chain scan.
//
// Report carries no timestamps: verifying the same stored state twice yields
// identical reports.
type Report struct {
	TenantID string
	Records  []incident.Record
	Findings []Finding
}

// Valid reports whether the scan raised no findings.
func (r Report) Valid() bool {
	return len(r.Findings) == 0
}

const scanPageSize = 200

// Verifier scans tenant chains for tampering.
type Verifier struct {
	store   storage.IncidentStore
	keyring *integrity.Keyring
	metrics *metrics.LedgerMetrics
	tracer  trace.Tracer
}

// Option configures verifier behavior.
type Option func(*Verifier)

// WithMetrics attaches verification metrics.
func WithMetrics(m *metrics.LedgerMetrics) Option {
	return func(v *Verifier) {
		v.metrics = m
	}
}

// New builds a verifier over the provided store. The keyring is used to
// check record provenance signatures; pass the same keyring the store signs
// with.
func New(store storage.IncidentStore, keyring *integrity.Keyring, opts ...Option) *Verifier {
	v := &Verifier{
		store:   store,
		keyring: keyring,
		tracer:  otel.Tracer("ledger/verify"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(v)
		}
	}
	return v
}

// Verify scans the tenant's whole chain and returns a report enumerating
// every anomaly. A broken link never aborts the scan; later findings are
// still collected so the report shows the full extent of the damage.
func (v *Verifier) Verify(ctx context.Context, tenantID string) (Report, error) {
	if v == nil || v.store == nil {
		return Report{}, fmt.Errorf("verifier is not configured")
	}
	if strings.TrimSpace(tenantID) == "" {
		return Report{}, fmt.Errorf("tenant id is required")
	}

	ctx, span := v.tracer.Start(ctx, "ledger.verify",
		trace.WithAttributes(attribute.String("tenant.id", tenantID)))
	defer span.End()

	report := Report{TenantID: tenantID}
	expectedPrevious := incident.DigestSentinel
	var lastSeq uint64

	for {
		page, err := v.store.ListIncidents(ctx, tenantID, lastSeq, scanPageSize)
		if err != nil {
			v.metrics.RecordVerification("error")
			return Report{}, fmt.Errorf("list incidents: %w", err)
		}
		if len(page) == 0 {
			break
		}
		for _, rec := range page {
			report.Records = append(report.Records, rec)
			report.Findings = append(report.Findings, v.checkRecord(rec, expectedPrevious, lastSeq)...)
			expectedPrevious = rec.Digest
			lastSeq = rec.Sequence
		}
	}

	outcome := "valid"
	if !report.Valid() {
		outcome = "invalid"
	}
	span.SetAttributes(
		attribute.Int("ledger.records", len(report.Records)),
		attribute.Int("ledger.findings", len(report.Findings)),
	)
	v.metrics.RecordVerification(outcome)
	return report, nil
}

// checkRecord evaluates one record against the running chain state. The
// expected previous digest is always taken from the STORED digest of the
// prior record, so a single mutated record yields exactly one tampered
// finding plus one broken link at its successor.
func (v *Verifier) checkRecord(rec incident.Record, expectedPrevious string, lastSeq uint64) []Finding {
	var findings []Finding

	if rec.Sequence != lastSeq+1 {
		findings = append(findings, Finding{
			Kind:     FindingSequenceGap,
			Sequence: rec.Sequence,
			Detail:   fmt.Sprintf("expected sequence %d, found %d", lastSeq+1, rec.Sequence),
		})
	}

	recomputed, err := incident.Digest(rec.PreviousDigest, rec)
	if err != nil || recomputed != rec.Digest {
		findings = append(findings, Finding{
			Kind:     FindingContentTampered,
			Sequence: rec.Sequence,
			Detail:   "stored digest does not match recomputed content digest",
		})
	}

	if rec.PreviousDigest != expectedPrevious {
		findings = append(findings, Finding{
			Kind:     FindingChainBroken,
			Sequence: rec.Sequence,
			Detail:   "previous digest does not match predecessor digest",
		})
	}

	if v.keyring != nil {
		if err := v.keyring.VerifyDigest(rec.TenantID, rec.Digest, rec.Signature, rec.SignatureKeyID); err != nil {
			findings = append(findings, Finding{
				Kind:     FindingSignatureInvalid,
				Sequence: rec.Sequence,
				Detail:   "record signature does not verify against the service keyring",
			})
		}
	}

	return findings
}
