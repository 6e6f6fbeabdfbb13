package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tandemfamily/tandem/internal/ledger/domain/incident"
	"github.com/tandemfamily/tandem/internal/ledger/storage"
	apperrors "github.com/tandemfamily/tandem/internal/platform/errors"
	sqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

const incidentColumns = "id, tenant_id, sequence, author_id, title, description, severity, occurred_at, location, witnesses_json, previous_digest, digest, signature, signature_key_id, created_at"

// Tip returns the digest of the tenant's last committed record, or the
// genesis sentinel for an empty chain.
func (s *Store) Tip(ctx context.Context, tenantID string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if s == nil || s.sqlDB == nil {
		return "", fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(tenantID) == "" {
		return "", fmt.Errorf("tenant id is required")
	}

	var digest string
	err := s.sqlDB.QueryRowContext(ctx,
		"SELECT digest FROM incidents WHERE tenant_id = ? ORDER BY sequence DESC LIMIT 1",
		tenantID,
	).Scan(&digest)
	if errors.Is(err, sql.ErrNoRows) {
		return incident.DigestSentinel, nil
	}
	if err != nil {
		return "", fmt.Errorf("get tip: %w", err)
	}
	return digest, nil
}

// AppendIfTip atomically appends a record when the tenant's tip still equals
// expectedTip, and returns the record with sequence, signature, and key id set.
//
// The tip comparison runs inside the insert transaction, and the unique
// (tenant_id, previous_digest) index backs it up: two writers racing on the
// same tip cannot both commit even across processes. A lost race surfaces as
// storage.ErrTipConflict with no side effects.
func (s *Store) AppendIfTip(ctx context.Context, expectedTip string, rec incident.Record) (incident.Record, error) {
	if err := ctx.Err(); err != nil {
		return incident.Record{}, err
	}
	if s == nil || s.sqlDB == nil {
		return incident.Record{}, fmt.Errorf("storage is not configured")
	}
	if s.keyring == nil {
		return incident.Record{}, fmt.Errorf("ledger integrity keyring is required")
	}
	if strings.TrimSpace(rec.TenantID) == "" {
		return incident.Record{}, fmt.Errorf("tenant id is required")
	}
	if strings.TrimSpace(rec.ID) == "" {
		return incident.Record{}, fmt.Errorf("record id is required")
	}
	if strings.TrimSpace(expectedTip) == "" {
		return incident.Record{}, fmt.Errorf("expected tip is required")
	}
	if rec.PreviousDigest != expectedTip {
		return incident.Record{}, fmt.Errorf("record previous digest does not match expected tip")
	}
	if strings.TrimSpace(rec.Digest) == "" {
		return incident.Record{}, fmt.Errorf("record digest is required")
	}
	// The digest already covers CreatedAt, so a missing timestamp cannot be
	// repaired here without persisting a record that fails verification.
	if rec.CreatedAt.IsZero() {
		return incident.Record{}, fmt.Errorf("record created at is required")
	}

	witnesses, err := encodeWitnesses(rec.Witnesses)
	if err != nil {
		return incident.Record{}, fmt.Errorf("encode witnesses: %w", err)
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return incident.Record{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	tip := incident.DigestSentinel
	var latestSeq int64
	err = tx.QueryRowContext(ctx,
		"SELECT sequence, digest FROM incidents WHERE tenant_id = ? ORDER BY sequence DESC LIMIT 1",
		rec.TenantID,
	).Scan(&latestSeq, &tip)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		// A busy tip read means another writer holds the lock; surface it as
		// a lost race so the caller re-reads the tip and retries.
		if isSQLiteBusyError(err) {
			return incident.Record{}, storage.ErrTipConflict
		}
		return incident.Record{}, fmt.Errorf("load tip: %w", err)
	}
	if tip != expectedTip {
		return incident.Record{}, storage.ErrTipConflict
	}
	if latestSeq < 0 {
		return incident.Record{}, apperrors.WithMetadata(apperrors.CodeLedgerSequenceCorrupt,
			"stored ledger sequence is negative",
			map[string]string{"tenant_id": rec.TenantID})
	}
	rec.Sequence = uint64(latestSeq) + 1
	rec.CreatedAt = rec.CreatedAt.UTC().Truncate(time.Millisecond)

	signature, keyID, err := s.keyring.SignDigest(rec.TenantID, rec.Digest)
	if err != nil {
		return incident.Record{}, fmt.Errorf("sign digest: %w", err)
	}
	rec.Signature = signature
	rec.SignatureKeyID = keyID

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO incidents ("+incidentColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		rec.ID,
		rec.TenantID,
		int64(rec.Sequence),
		rec.AuthorID,
		rec.Title,
		rec.Description,
		string(rec.Severity),
		toMillis(rec.OccurredAt),
		rec.Location,
		witnesses,
		rec.PreviousDigest,
		rec.Digest,
		rec.Signature,
		rec.SignatureKeyID,
		toMillis(rec.CreatedAt),
	); err != nil {
		// Busy errors mean another writer holds the database lock; the
		// caller re-reads the tip and retries the same way it handles a
		// lost tip race.
		if isConstraintError(err) || isSQLiteBusyError(err) {
			return incident.Record{}, storage.ErrTipConflict
		}
		return incident.Record{}, fmt.Errorf("append incident: %w", err)
	}

	if err := tx.Commit(); err != nil {
		if isConstraintError(err) || isSQLiteBusyError(err) {
			return incident.Record{}, storage.ErrTipConflict
		}
		return incident.Record{}, fmt.Errorf("commit: %w", err)
	}

	return rec, nil
}

// GetBySeq retrieves a specific record by sequence number.
func (s *Store) GetBySeq(ctx context.Context, tenantID string, seq uint64) (incident.Record, error) {
	if err := ctx.Err(); err != nil {
		return incident.Record{}, err
	}
	if s == nil || s.sqlDB == nil {
		return incident.Record{}, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(tenantID) == "" {
		return incident.Record{}, fmt.Errorf("tenant id is required")
	}

	row := s.sqlDB.QueryRowContext(ctx,
		"SELECT "+incidentColumns+" FROM incidents WHERE tenant_id = ? AND sequence = ?",
		tenantID, int64(seq),
	)
	rec, err := scanIncident(row)
	if errors.Is(err, sql.ErrNoRows) {
		return incident.Record{}, storage.ErrNotFound
	}
	if err != nil {
		return incident.Record{}, fmt.Errorf("get incident by seq: %w", err)
	}
	return rec, nil
}

// ListIncidents returns records ordered by sequence ascending.
func (s *Store) ListIncidents(ctx context.Context, tenantID string, afterSeq uint64, limit int) ([]incident.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(tenantID) == "" {
		return nil, fmt.Errorf("tenant id is required")
	}
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be greater than zero")
	}

	rows, err := s.sqlDB.QueryContext(ctx,
		"SELECT "+incidentColumns+" FROM incidents WHERE tenant_id = ? AND sequence > ? ORDER BY sequence ASC LIMIT ?",
		tenantID, int64(afterSeq), int64(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("list incidents: %w", err)
	}
	defer rows.Close()

	records := make([]incident.Record, 0, limit)
	for rows.Next() {
		rec, err := scanIncident(rows)
		if err != nil {
			return nil, fmt.Errorf("scan incident: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate incidents: %w", err)
	}
	return records, nil
}

// LatestSeq returns the latest committed sequence number for a tenant.
func (s *Store) LatestSeq(ctx context.Context, tenantID string) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if s == nil || s.sqlDB == nil {
		return 0, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(tenantID) == "" {
		return 0, fmt.Errorf("tenant id is required")
	}

	var seq sql.NullInt64
	err := s.sqlDB.QueryRowContext(ctx,
		"SELECT MAX(sequence) FROM incidents WHERE tenant_id = ?",
		tenantID,
	).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("get latest seq: %w", err)
	}
	if !seq.Valid {
		return 0, nil
	}
	return uint64(seq.Int64), nil
}

// scanner covers *sql.Row and *sql.Rows for shared row mapping.
type scanner interface {
	Scan(dest ...any) error
}

func scanIncident(row scanner) (incident.Record, error) {
	var rec incident.Record
	var severity string
	var occurredAt, createdAt, seq int64
	var witnesses string
	if err := row.Scan(
		&rec.ID,
		&rec.TenantID,
		&seq,
		&rec.AuthorID,
		&rec.Title,
		&rec.Description,
		&severity,
		&occurredAt,
		&rec.Location,
		&witnesses,
		&rec.PreviousDigest,
		&rec.Digest,
		&rec.Signature,
		&rec.SignatureKeyID,
		&createdAt,
	); err != nil {
		return incident.Record{}, err
	}

	rec.Sequence = uint64(seq)
	rec.Severity = incident.Severity(severity)
	rec.OccurredAt = fromMillis(occurredAt)
	rec.CreatedAt = fromMillis(createdAt)

	decoded, err := decodeWitnesses(witnesses)
	if err != nil {
		return incident.Record{}, fmt.Errorf("decode witnesses: %w", err)
	}
	rec.Witnesses = decoded

	return rec, nil
}

func encodeWitnesses(witnesses []string) (string, error) {
	if witnesses == nil {
		witnesses = []string{}
	}
	data, err := json.Marshal(witnesses)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func decodeWitnesses(raw string) ([]string, error) {
	if strings.TrimSpace(raw) == "" {
		return []string{}, nil
	}
	var witnesses []string
	if err := json.Unmarshal([]byte(raw), &witnesses); err != nil {
		return nil, err
	}
	return witnesses, nil
}

func isConstraintError(err error) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	code := sqliteErr.Code()
	return code == sqlite3.SQLITE_CONSTRAINT || code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
}

func isSQLiteBusyError(err error) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	code := sqliteErr.Code()
	return code == sqlite3.SQLITE_BUSY || code == sqlite3.SQLITE_LOCKED
}
