package quota

import "testing"

func TestSQLiteStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store, err := OpenStore(dir)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer func() { _ = store.Close() }()

	if err := store.Save("2025-03-01", KindDownload, 42); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := store.Save("2025-03-01", KindUpload, 7); err != nil {
		t.Fatalf("save: %v", err)
	}
	// Second save for the same (day, kind) must overwrite, not accumulate.
	if err := store.Save("2025-03-01", KindDownload, 50); err != nil {
		t.Fatalf("overwrite: %v", err)
	}

	loaded, err := store.Load("2025-03-01")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded[KindDownload] != 50 || loaded[KindUpload] != 7 {
		t.Fatalf("loaded = %v, want download 50 upload 7", loaded)
	}
}

func TestSQLiteStoreUnknownDayIsEmpty(t *testing.T) {
	store, err := OpenStore(t.TempDir())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer func() { _ = store.Close() }()

	loaded, err := store.Load("1999-01-01")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(loaded) != 0 {
		t.Fatalf("expected empty usage, got %v", loaded)
	}
}

func TestSQLiteStoreSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	store, err := OpenStore(dir)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	if err := store.Save("2025-03-01", KindDownload, 123); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := OpenStore(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer func() { _ = reopened.Close() }()
	loaded, err := reopened.Load("2025-03-01")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded[KindDownload] != 123 {
		t.Fatalf("loaded = %v, want download 123", loaded)
	}
}
