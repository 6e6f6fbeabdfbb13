// Package writer orchestrates safe appends to a tenant's incident chain.
//
// Submission uses optimistic concurrency: the writer reads the chain tip,
// digests the candidate against it, and asks the store for an atomic
// compare-and-append. A lost race means another submission advanced the tip
// first; the writer re-reads the tip and re-chains onto it. At most one
// append wins per tip value, so the chain stays linear under contention.
package writer

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/tandemfamily/tandem/internal/ledger/domain/incident"
	"github.com/tandemfamily/tandem/internal/ledger/storage"
	apperrors "github.com/tandemfamily/tandem/internal/platform/errors"
	"github.com/tandemfamily/tandem/internal/platform/id"
	"github.com/tandemfamily/tandem/internal/platform/telemetry/metrics"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultMaxRetries = 5
	defaultBaseDelay  = 25 * time.Millisecond
	defaultMaxDelay   = time.Second
)

// ErrTooManyConflicts indicates a submission exhausted its retry budget
// under tip contention. The submission left no partial state; the caller can
// resubmit. This signals unusually high contention, not data corruption.
var ErrTooManyConflicts = apperrors.New(apperrors.CodeLedgerTooManyConflicts, "too many ledger tip conflicts")

// Writer appends incidents to tenant chains with conflict retry.
type Writer struct {
	store      storage.IncidentStore
	metrics    *metrics.LedgerMetrics
	tracer     trace.Tracer
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
	now        func() time.Time
}

// Option configures writer behavior.
type Option func(*Writer)

// WithMaxRetries overrides the retry budget for lost tip races.
func WithMaxRetries(n int) Option {
	return func(w *Writer) {
		if n > 0 {
			w.maxRetries = n
		}
	}
}

// WithBackoff overrides the conflict backoff window.
func WithBackoff(base, max time.Duration) Option {
	return func(w *Writer) {
		if base > 0 {
			w.baseDelay = base
		}
		if max > 0 {
			w.maxDelay = max
		}
	}
}

// WithMetrics attaches submission metrics.
func WithMetrics(m *metrics.LedgerMetrics) Option {
	return func(w *Writer) {
		w.metrics = m
	}
}

// withClock overrides the append timestamp source for tests.
func withClock(now func() time.Time) Option {
	return func(w *Writer) {
		if now != nil {
			w.now = now
		}
	}
}

// New builds a writer backed by the provided store.
func New(store storage.IncidentStore, opts ...Option) *Writer {
	w := &Writer{
		store:      store,
		tracer:     otel.Tracer("ledger/writer"),
		maxRetries: defaultMaxRetries,
		baseDelay:  defaultBaseDelay,
		maxDelay:   defaultMaxDelay,
		now:        time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(w)
		}
	}
	return w
}

// Submit validates and appends one incident to the tenant's chain, returning
// the committed record with sequence, digest, and signature assigned.
//
// Conflicts with concurrent submissions are retried with randomized
// exponential backoff up to the retry budget, then surface as
// ErrTooManyConflicts. Storage faults are not retried.
func (w *Writer) Submit(ctx context.Context, tenantID, authorID string, content incident.Content) (incident.Record, error) {
	if w == nil || w.store == nil {
		return incident.Record{}, fmt.Errorf("writer is not configured")
	}
	if strings.TrimSpace(tenantID) == "" {
		return incident.Record{}, apperrors.New(apperrors.CodeIncidentTenantEmpty, "tenant id is required")
	}
	if strings.TrimSpace(authorID) == "" {
		return incident.Record{}, apperrors.New(apperrors.CodeIncidentAuthorEmpty, "author id is required")
	}

	normalized, err := incident.NormalizeContent(content)
	if err != nil {
		return incident.Record{}, err
	}

	ctx, span := w.tracer.Start(ctx, "ledger.submit",
		trace.WithAttributes(attribute.String("tenant.id", tenantID)))
	defer span.End()

	recID, err := id.NewID()
	if err != nil {
		return incident.Record{}, fmt.Errorf("new record id: %w", err)
	}

	for attempt := 1; attempt <= w.maxRetries; attempt++ {
		tip, err := w.store.Tip(ctx, tenantID)
		if err != nil {
			w.metrics.RecordSubmission("error", attempt)
			return incident.Record{}, apperrors.Wrap(apperrors.CodeStorageFailure, "read chain tip", err)
		}

		rec := incident.Record{
			ID:             recID,
			TenantID:       tenantID,
			AuthorID:       authorID,
			Content:        normalized,
			PreviousDigest: tip,
			CreatedAt:      w.now().UTC().Truncate(time.Millisecond),
		}
		digest, err := incident.Digest(tip, rec)
		if err != nil {
			w.metrics.RecordSubmission("invalid", attempt)
			return incident.Record{}, err
		}
		rec.Digest = digest

		stored, err := w.store.AppendIfTip(ctx, tip, rec)
		if err == nil {
			span.SetAttributes(attribute.Int("ledger.attempts", attempt))
			w.metrics.RecordSubmission("success", attempt)
			return stored, nil
		}
		if !apperrors.IsCode(err, apperrors.CodeLedgerTipConflict) {
			w.metrics.RecordSubmission("error", attempt)
			return incident.Record{}, apperrors.Wrap(apperrors.CodeStorageFailure, "append incident", err)
		}

		w.metrics.RecordTipConflict()
		if attempt == w.maxRetries {
			break
		}
		if err := w.waitBeforeRetry(ctx, attempt); err != nil {
			w.metrics.RecordSubmission("canceled", attempt)
			return incident.Record{}, err
		}
	}

	w.metrics.RecordSubmission("exhausted", w.maxRetries)
	return incident.Record{}, ErrTooManyConflicts
}

// waitBeforeRetry sleeps for a jittered, exponentially growing delay, or
// returns early when the context ends.
func (w *Writer) waitBeforeRetry(ctx context.Context, attempt int) error {
	delay := w.baseDelay << (attempt - 1)
	if delay > w.maxDelay || delay <= 0 {
		delay = w.maxDelay
	}
	// Full jitter keeps concurrent losers from retrying in lockstep.
	delay = time.Duration(rand.Int64N(int64(delay)) + 1)

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
