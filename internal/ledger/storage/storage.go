// Package storage defines persistence contracts for the incident ledger.
package storage

import (
	"context"

	"github.com/tandemfamily/tandem/internal/ledger/domain/incident"
	apperrors "github.com/tandemfamily/tandem/internal/platform/errors"
)

// ErrNotFound indicates a requested persistence record is missing.
// Callers use this to differentiate between legitimate "no such entity" states
// and transport or data corruption failures.
var ErrNotFound = apperrors.New(apperrors.CodeNotFound, "record not found")

// ErrTipConflict indicates an append attempt lost the race for a tenant's
// chain tip: another writer committed first and the expected previous digest
// is no longer the tip. The conflict leaves no side effects; callers re-read
// the tip and retry.
var ErrTipConflict = apperrors.New(apperrors.CodeLedgerTipConflict, "ledger tip changed")

// IncidentStore owns the per-tenant append-only incident chains.
//
// Implementations must guarantee that for a given tenant at most one append
// succeeds per tip value, and that readers never observe a partially
// committed record.
type IncidentStore interface {
	// Tip returns the digest of the tenant's last committed record, or
	// incident.DigestSentinel when the tenant has no records yet.
	Tip(ctx context.Context, tenantID string) (string, error)

	// AppendIfTip atomically verifies that the tenant's tip still equals
	// expectedTip, assigns the next sequence number, persists the record,
	// and returns it. It fails with ErrTipConflict, without side effects,
	// when the tip has moved.
	AppendIfTip(ctx context.Context, expectedTip string, rec incident.Record) (incident.Record, error)

	// GetBySeq retrieves a specific record by sequence number.
	GetBySeq(ctx context.Context, tenantID string, seq uint64) (incident.Record, error)

	// ListIncidents returns records ordered by sequence ascending, starting
	// after afterSeq, up to limit records. Callers may restart iteration
	// from any point.
	ListIncidents(ctx context.Context, tenantID string, afterSeq uint64, limit int) ([]incident.Record, error)

	// LatestSeq returns the tenant's highest committed sequence number,
	// or zero for an empty chain.
	LatestSeq(ctx context.Context, tenantID string) (uint64, error)
}
