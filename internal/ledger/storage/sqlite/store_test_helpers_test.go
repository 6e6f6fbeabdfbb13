package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/tandemfamily/tandem/internal/ledger/domain/incident"
	"github.com/tandemfamily/tandem/internal/ledger/storage/integrity"
	"github.com/tandemfamily/tandem/internal/platform/id"
)

func testKeyring(t *testing.T) *integrity.Keyring {
	t.Helper()
	keyring, err := integrity.NewKeyring(
		map[string][]byte{"test-key-1": []byte("0123456789abcdef0123456789abcdef")},
		"test-key-1",
	)
	if err != nil {
		t.Fatalf("create test keyring: %v", err)
	}
	return keyring
}

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ledger.sqlite")
	store, err := Open(path, testKeyring(t))
	if err != nil {
		t.Fatalf("open ledger store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Fatalf("close ledger store: %v", err)
		}
	})
	return store
}

func testContent(title string) incident.Content {
	return incident.Content{
		Title:       title,
		Description: "Pickup was 45 minutes late without notice.",
		Severity:    incident.SeverityLow,
		OccurredAt:  time.Date(2026, 3, 14, 15, 9, 26, 0, time.UTC),
		Location:    "school parking lot",
		Witnesses:   []string{"teacher on duty"},
	}
}

// appendIncident runs the full tip-read, digest, append cycle a writer would.
func appendIncident(t *testing.T, store *Store, tenantID, authorID string, content incident.Content) incident.Record {
	t.Helper()
	ctx := context.Background()

	tip, err := store.Tip(ctx, tenantID)
	if err != nil {
		t.Fatalf("get tip: %v", err)
	}

	recID, err := id.NewID()
	if err != nil {
		t.Fatalf("new id: %v", err)
	}

	rec := incident.Record{
		ID:             recID,
		TenantID:       tenantID,
		AuthorID:       authorID,
		Content:        content,
		PreviousDigest: tip,
		CreatedAt:      time.Now().UTC().Truncate(time.Millisecond),
	}
	digest, err := incident.Digest(tip, rec)
	if err != nil {
		t.Fatalf("compute digest: %v", err)
	}
	rec.Digest = digest

	stored, err := store.AppendIfTip(ctx, tip, rec)
	if err != nil {
		t.Fatalf("append incident: %v", err)
	}
	return stored
}
