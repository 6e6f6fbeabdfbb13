package export

import (
	"context"
	"database/sql"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/tandemfamily/tandem/internal/ledger/domain/incident"
	"github.com/tandemfamily/tandem/internal/ledger/storage/integrity"
	ledgersqlite "github.com/tandemfamily/tandem/internal/ledger/storage/sqlite"
	"github.com/tandemfamily/tandem/internal/ledger/verify"
	"github.com/tandemfamily/tandem/internal/ledger/writer"
	_ "modernc.org/sqlite"
)

type testLedger struct {
	store    *ledgersqlite.Store
	verifier *verify.Verifier
	writer   *writer.Writer
	dbPath   string
}

func newTestLedger(t *testing.T) *testLedger {
	t.Helper()
	keyring, err := integrity.NewKeyring(
		map[string][]byte{"test-key-1": []byte("0123456789abcdef0123456789abcdef")},
		"test-key-1",
	)
	if err != nil {
		t.Fatalf("create test keyring: %v", err)
	}

	path := filepath.Join(t.TempDir(), "ledger.sqlite")
	store, err := ledgersqlite.Open(path, keyring)
	if err != nil {
		t.Fatalf("open ledger store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Fatalf("close ledger store: %v", err)
		}
	})

	return &testLedger{
		store:    store,
		verifier: verify.New(store, keyring),
		writer:   writer.New(store, writer.WithBackoff(time.Millisecond, 5*time.Millisecond)),
		dbPath:   path,
	}
}

func (l *testLedger) submit(t *testing.T, tenantID, title string) incident.Record {
	t.Helper()
	rec, err := l.writer.Submit(context.Background(), tenantID, "user-1", incident.Content{
		Title:       title,
		Description: "Exchange happened an hour late.\nNo advance notice was given.",
		Severity:    incident.SeverityMedium,
		OccurredAt:  time.Date(2026, 3, 14, 15, 9, 26, 0, time.UTC),
		Location:    "school parking lot",
		Witnesses:   []string{"teacher on duty"},
	})
	if err != nil {
		t.Fatalf("submit %s: %v", title, err)
	}
	return rec
}

func (l *testLedger) tamper(t *testing.T, query string, args ...any) {
	t.Helper()
	db, err := sql.Open("sqlite", l.dbPath)
	if err != nil {
		t.Fatalf("open raw db: %v", err)
	}
	defer db.Close()
	if _, err := db.Exec(query, args...); err != nil {
		t.Fatalf("exec %q: %v", query, err)
	}
}

func TestExportValidChain(t *testing.T) {
	l := newTestLedger(t)
	rec := l.submit(t, "fam-1", "Late pickup")

	generatedAt := time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC)
	doc, err := New(l.verifier).Export(context.Background(), "fam-1", generatedAt)
	if err != nil {
		t.Fatalf("export: %v", err)
	}

	for _, want := range []string{
		"INTEGRITY: VERIFIED",
		"Tenant:       fam-1",
		"Generated at: 2026-08-31T10:00:00Z",
		"Title:       Late pickup",
		rec.Digest[:16],
		rec.Digest,
		"End of export.",
	} {
		if !strings.Contains(doc, want) {
			t.Fatalf("expected document to contain %q\n%s", want, doc)
		}
	}
	if strings.Contains(doc, "FAILED VERIFICATION") {
		t.Fatal("expected valid chain export to not be marked failing")
	}
}

func TestExportIsDeterministic(t *testing.T) {
	l := newTestLedger(t)
	l.submit(t, "fam-1", "Late pickup")
	l.submit(t, "fam-1", "Missed call")

	generatedAt := time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC)
	exporter := New(l.verifier)

	first, err := exporter.Export(context.Background(), "fam-1", generatedAt)
	if err != nil {
		t.Fatalf("first export: %v", err)
	}
	second, err := exporter.Export(context.Background(), "fam-1", generatedAt)
	if err != nil {
		t.Fatalf("second export: %v", err)
	}
	if first != second {
		t.Fatal("expected byte-identical exports for identical state and time")
	}
}

func TestExportTamperedChainStillExports(t *testing.T) {
	l := newTestLedger(t)
	l.submit(t, "fam-1", "Late pickup")
	l.submit(t, "fam-1", "Missed call")

	l.tamper(t, "UPDATE incidents SET description = 'rewritten' WHERE tenant_id = ? AND sequence = 1", "fam-1")

	doc, err := New(l.verifier).Export(context.Background(), "fam-1", time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("export: %v", err)
	}

	if !strings.Contains(doc, "*** INTEGRITY: FAILED VERIFICATION ***") {
		t.Fatalf("expected export to be marked as failing verification\n%s", doc)
	}
	if !strings.Contains(doc, "seq 1: CONTENT_TAMPERED") {
		t.Fatalf("expected finding listed in document\n%s", doc)
	}
	// Records still render; suppressing evidence is worse than flagging it.
	if !strings.Contains(doc, "--- Record 1 ---") || !strings.Contains(doc, "--- Record 2 ---") {
		t.Fatalf("expected all records rendered despite failed verification\n%s", doc)
	}
}

func TestExportEmptyChain(t *testing.T) {
	l := newTestLedger(t)

	doc, err := New(l.verifier).Export(context.Background(), "fam-1", time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if !strings.Contains(doc, "Records:      0") {
		t.Fatalf("expected empty record count\n%s", doc)
	}
	if !strings.Contains(doc, "INTEGRITY: VERIFIED") {
		t.Fatalf("expected empty chain to verify clean\n%s", doc)
	}
}

func TestRenderMultilineDescriptionIndented(t *testing.T) {
	l := newTestLedger(t)
	l.submit(t, "fam-1", "Late pickup")

	report, err := l.verifier.Verify(context.Background(), "fam-1")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	doc := Render(report, time.Unix(0, 0))
	if !strings.Contains(doc, "  Exchange happened an hour late.\n  No advance notice was given.") {
		t.Fatalf("expected indented multiline description\n%s", doc)
	}
}
