// ABOUTME: Tests for the artifact store: save/lookup round trips, index upserts,
// ABOUTME: eviction of rows whose files vanished, and latest-per-target queries.
package build

import (
	"os"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := OpenStore(t.TempDir())
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestStoreSaveAndLookup(t *testing.T) {
	store := newTestStore(t)

	ref, err := store.Save("widget-a", "fp1", []byte("bytes"))
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if ref.ContentHash == "" {
		t.Error("expected content hash")
	}
	if ref.SizeBytes != 5 {
		t.Errorf("expected size 5, got %d", ref.SizeBytes)
	}

	got, ok, err := store.Lookup("widget-a", "fp1")
	if err != nil || !ok {
		t.Fatalf("lookup: ok=%v err=%v", ok, err)
	}
	if got.ContentHash != ref.ContentHash || got.Path != ref.Path {
		t.Errorf("lookup mismatch: %+v vs %+v", got, ref)
	}

	if _, ok, err := store.Lookup("widget-a", "fp-other"); err != nil || ok {
		t.Errorf("expected miss for unknown fingerprint, ok=%v err=%v", ok, err)
	}
	if _, ok, err := store.Lookup("widget-b", "fp1"); err != nil || ok {
		t.Errorf("expected miss for unknown target, ok=%v err=%v", ok, err)
	}
}

func TestStoreSaveUpsertsSameFingerprint(t *testing.T) {
	store := newTestStore(t)

	if _, err := store.Save("widget-a", "fp1", []byte("v1")); err != nil {
		t.Fatalf("save v1: %v", err)
	}
	ref2, err := store.Save("widget-a", "fp1", []byte("v2"))
	if err != nil {
		t.Fatalf("save v2: %v", err)
	}

	got, ok, err := store.Lookup("widget-a", "fp1")
	if err != nil || !ok {
		t.Fatalf("lookup: ok=%v err=%v", ok, err)
	}
	if got.ContentHash != ref2.ContentHash {
		t.Error("expected upsert to replace the index row")
	}
}

func TestStoreLookupEvictsMissingFile(t *testing.T) {
	store := newTestStore(t)

	ref, err := store.Save("widget-a", "fp1", []byte("bytes"))
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := os.Remove(ref.Path); err != nil {
		t.Fatalf("removing artifact file: %v", err)
	}

	if _, ok, err := store.Lookup("widget-a", "fp1"); err != nil || ok {
		t.Errorf("expected miss after file removal, ok=%v err=%v", ok, err)
	}
}

func TestStoreLatestPerTarget(t *testing.T) {
	store := newTestStore(t)

	if _, err := store.Save("widget-a", "fp1", []byte("old")); err != nil {
		t.Fatalf("save: %v", err)
	}
	newer, err := store.Save("widget-a", "fp2", []byte("new"))
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := store.Save("widget-b", "fp1", []byte("b")); err != nil {
		t.Fatalf("save: %v", err)
	}

	latest, err := store.Latest()
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if len(latest) != 2 {
		t.Fatalf("expected 2 targets, got %d", len(latest))
	}
	if latest["widget-a"].Fingerprint != newer.Fingerprint {
		t.Errorf("expected newest artifact for widget-a, got %s", latest["widget-a"].Fingerprint)
	}
}
