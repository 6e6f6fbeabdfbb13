package writer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/tandemfamily/tandem/internal/ledger/domain/incident"
	"github.com/tandemfamily/tandem/internal/ledger/storage"
	apperrors "github.com/tandemfamily/tandem/internal/platform/errors"
)

// memStore is an in-memory IncidentStore with real compare-and-append
// semantics, so retry behavior can be exercised without SQLite.
type memStore struct {
	mu     sync.Mutex
	chains map[string][]incident.Record

	tipErr    error
	appendErr error
	// conflictsBeforeSuccess forces this many synthetic tip conflicts
	// before appends go through.
	conflictsBeforeSuccess int
}

func newMemStore() *memStore {
	return &memStore{chains: map[string][]incident.Record{}}
}

func (m *memStore) Tip(ctx context.Context, tenantID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.tipErr != nil {
		return "", m.tipErr
	}
	chain := m.chains[tenantID]
	if len(chain) == 0 {
		return incident.DigestSentinel, nil
	}
	return chain[len(chain)-1].Digest, nil
}

func (m *memStore) AppendIfTip(ctx context.Context, expectedTip string, rec incident.Record) (incident.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.appendErr != nil {
		return incident.Record{}, m.appendErr
	}
	if m.conflictsBeforeSuccess > 0 {
		m.conflictsBeforeSuccess--
		return incident.Record{}, storage.ErrTipConflict
	}
	chain := m.chains[rec.TenantID]
	tip := incident.DigestSentinel
	if len(chain) > 0 {
		tip = chain[len(chain)-1].Digest
	}
	if tip != expectedTip {
		return incident.Record{}, storage.ErrTipConflict
	}
	rec.Sequence = uint64(len(chain)) + 1
	rec.Signature = "sig"
	rec.SignatureKeyID = "v1"
	m.chains[rec.TenantID] = append(chain, rec)
	return rec, nil
}

func (m *memStore) GetBySeq(ctx context.Context, tenantID string, seq uint64) (incident.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	chain := m.chains[tenantID]
	if seq == 0 || seq > uint64(len(chain)) {
		return incident.Record{}, storage.ErrNotFound
	}
	return chain[seq-1], nil
}

func (m *memStore) ListIncidents(ctx context.Context, tenantID string, afterSeq uint64, limit int) ([]incident.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	chain := m.chains[tenantID]
	var out []incident.Record
	for _, rec := range chain {
		if rec.Sequence > afterSeq && len(out) < limit {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (m *memStore) LatestSeq(ctx context.Context, tenantID string) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return uint64(len(m.chains[tenantID])), nil
}

func testContent() incident.Content {
	return incident.Content{
		Title:      "Late pickup",
		Severity:   incident.SeverityLow,
		OccurredAt: time.Date(2026, 3, 14, 15, 9, 26, 0, time.UTC),
	}
}

func fastWriter(store storage.IncidentStore, opts ...Option) *Writer {
	opts = append([]Option{WithBackoff(time.Millisecond, 5*time.Millisecond)}, opts...)
	return New(store, opts...)
}

func TestSubmitHappyPath(t *testing.T) {
	store := newMemStore()
	w := fastWriter(store)

	rec, err := w.Submit(context.Background(), "fam-1", "user-1", testContent())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if rec.Sequence != 1 {
		t.Fatalf("expected sequence 1, got %d", rec.Sequence)
	}
	if rec.PreviousDigest != incident.DigestSentinel {
		t.Fatalf("expected sentinel previous digest, got %s", rec.PreviousDigest)
	}
	if rec.Digest == "" || rec.ID == "" {
		t.Fatal("expected digest and id to be assigned")
	}
	if rec.CreatedAt.IsZero() {
		t.Fatal("expected created_at to be assigned")
	}
}

func TestSubmitChainsOntoTip(t *testing.T) {
	store := newMemStore()
	w := fastWriter(store)
	ctx := context.Background()

	first, err := w.Submit(ctx, "fam-1", "user-1", testContent())
	if err != nil {
		t.Fatalf("submit first: %v", err)
	}
	second, err := w.Submit(ctx, "fam-1", "user-2", testContent())
	if err != nil {
		t.Fatalf("submit second: %v", err)
	}
	if second.PreviousDigest != first.Digest {
		t.Fatal("expected second record to chain onto first digest")
	}
	if second.Sequence != 2 {
		t.Fatalf("expected sequence 2, got %d", second.Sequence)
	}
}

func TestSubmitValidation(t *testing.T) {
	store := newMemStore()
	w := fastWriter(store)
	ctx := context.Background()

	if _, err := w.Submit(ctx, "", "user-1", testContent()); !apperrors.IsCode(err, apperrors.CodeIncidentTenantEmpty) {
		t.Fatalf("expected tenant validation error, got %v", err)
	}
	if _, err := w.Submit(ctx, "fam-1", "", testContent()); !apperrors.IsCode(err, apperrors.CodeIncidentAuthorEmpty) {
		t.Fatalf("expected author validation error, got %v", err)
	}

	bad := testContent()
	bad.Title = "   "
	if _, err := w.Submit(ctx, "fam-1", "user-1", bad); !apperrors.IsCode(err, apperrors.CodeIncidentTitleEmpty) {
		t.Fatalf("expected title validation error, got %v", err)
	}

	latest, err := store.LatestSeq(ctx, "fam-1")
	if err != nil {
		t.Fatalf("latest seq: %v", err)
	}
	if latest != 0 {
		t.Fatalf("expected no appends from invalid submissions, got %d", latest)
	}
}

func TestSubmitRetriesAfterConflict(t *testing.T) {
	store := newMemStore()
	store.conflictsBeforeSuccess = 2
	w := fastWriter(store)

	rec, err := w.Submit(context.Background(), "fam-1", "user-1", testContent())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if rec.Sequence != 1 {
		t.Fatalf("expected sequence 1 after retries, got %d", rec.Sequence)
	}
}

func TestSubmitTooManyConflicts(t *testing.T) {
	store := newMemStore()
	store.conflictsBeforeSuccess = 100
	w := fastWriter(store, WithMaxRetries(3))

	_, err := w.Submit(context.Background(), "fam-1", "user-1", testContent())
	if !errors.Is(err, ErrTooManyConflicts) {
		t.Fatalf("expected ErrTooManyConflicts, got %v", err)
	}
}

func TestSubmitStorageFaultNotRetried(t *testing.T) {
	store := newMemStore()
	store.appendErr = errors.New("disk failure")
	w := fastWriter(store)

	_, err := w.Submit(context.Background(), "fam-1", "user-1", testContent())
	if !apperrors.IsCode(err, apperrors.CodeStorageFailure) {
		t.Fatalf("expected storage failure, got %v", err)
	}

	store.tipErr = errors.New("disk failure")
	if _, err := w.Submit(context.Background(), "fam-1", "user-1", testContent()); !apperrors.IsCode(err, apperrors.CodeStorageFailure) {
		t.Fatalf("expected storage failure from tip read, got %v", err)
	}
}

func TestSubmitContextCanceledDuringBackoff(t *testing.T) {
	store := newMemStore()
	store.conflictsBeforeSuccess = 100
	w := New(store, WithBackoff(time.Hour, time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := w.Submit(ctx, "fam-1", "user-1", testContent())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context cancellation, got %v", err)
	}
}

func TestSubmitConcurrentSameTenant(t *testing.T) {
	store := newMemStore()
	w := fastWriter(store)
	ctx := context.Background()

	const submitters = 2
	var wg sync.WaitGroup
	errs := make([]error, submitters)
	recs := make([]incident.Record, submitters)
	for i := range submitters {
		wg.Add(1)
		go func() {
			defer wg.Done()
			content := testContent()
			content.Description = "submission " + string(rune('A'+i))
			recs[i], errs[i] = w.Submit(ctx, "fam-1", "user-1", content)
		}()
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
	}
	seqs := map[uint64]bool{}
	for _, rec := range recs {
		seqs[rec.Sequence] = true
	}
	if !seqs[1] || !seqs[2] {
		t.Fatalf("expected sequences 1 and 2, got %v", seqs)
	}

	latest, err := store.LatestSeq(ctx, "fam-1")
	if err != nil {
		t.Fatalf("latest seq: %v", err)
	}
	if latest != 2 {
		t.Fatalf("expected chain length 2, got %d", latest)
	}
}

func TestSubmitFixedClock(t *testing.T) {
	store := newMemStore()
	fixed := time.Date(2026, 5, 1, 12, 0, 0, 123456789, time.UTC)
	w := fastWriter(store, withClock(func() time.Time { return fixed }))

	rec, err := w.Submit(context.Background(), "fam-1", "user-1", testContent())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	want := fixed.Truncate(time.Millisecond)
	if !rec.CreatedAt.Equal(want) {
		t.Fatalf("expected created_at %v, got %v", want, rec.CreatedAt)
	}
}
