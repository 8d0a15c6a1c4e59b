package storage

import (
	"os"
	"path/filepath"
	"testing"
)

func newTestStorage(t *testing.T) *Storage {
	t.Helper()
	store, err := New(&Config{DataDir: t.TempDir()})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestNew(t *testing.T) {
	tmpDir := t.TempDir()

	store, err := New(&Config{DataDir: tmpDir})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer store.Close()

	dbPath := filepath.Join(tmpDir, "ldsbridge.db")
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
	if store.Path() != dbPath {
		t.Errorf("Path() = %s, want %s", store.Path(), dbPath)
	}
	if store.DB() == nil {
		t.Error("DB() returned nil")
	}
}

func TestNewReopen(t *testing.T) {
	tmpDir := t.TempDir()

	store, err := New(&Config{DataDir: tmpDir})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := store.SaveSwap(createTestSwapRecord("flow-1")); err != nil {
		t.Fatalf("SaveSwap() error = %v", err)
	}
	store.Close()

	// Migrations must tolerate existing columns.
	store, err = New(&Config{DataDir: tmpDir})
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer store.Close()

	if _, err := store.GetSwap("flow-1"); err != nil {
		t.Errorf("GetSwap() after reopen error = %v", err)
	}
}

func TestExpandPath(t *testing.T) {
	home, _ := os.UserHomeDir()
	expanded := expandPath("~/.test")
	expected := filepath.Join(home, ".test")

	if expanded != expected {
		t.Errorf("expandPath(~/.test) = %s, want %s", expanded, expected)
	}
	if got := expandPath("/abs/path"); got != "/abs/path" {
		t.Errorf("expandPath(/abs/path) = %s", got)
	}
}

func TestSchemaHasNoSecretColumns(t *testing.T) {
	store := newTestStorage(t)

	rows, err := store.DB().Query("PRAGMA table_info(swaps)")
	if err != nil {
		t.Fatalf("table_info error = %v", err)
	}
	defer rows.Close()

	var columns int
	for rows.Next() {
		var (
			cid, notNull, pk int
			name, typ        string
			dflt             interface{}
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &dflt, &pk); err != nil {
			t.Fatalf("scan error = %v", err)
		}
		columns++
		switch name {
		case "preimage", "private_key", "secret", "key":
			t.Errorf("swaps table has secret column %q", name)
		}
	}
	if columns == 0 {
		t.Fatal("swaps table has no columns")
	}
}

func TestSettings(t *testing.T) {
	store := newTestStorage(t)

	if _, err := store.GetSetting("network"); err != ErrSettingNotFound {
		t.Errorf("GetSetting() missing error = %v, want ErrSettingNotFound", err)
	}

	if err := store.SetSetting("network", "regtest"); err != nil {
		t.Fatalf("SetSetting() error = %v", err)
	}
	if err := store.SetSetting("network", "mainnet"); err != nil {
		t.Fatalf("SetSetting() overwrite error = %v", err)
	}

	got, err := store.GetSetting("network")
	if err != nil {
		t.Fatalf("GetSetting() error = %v", err)
	}
	if got != "mainnet" {
		t.Errorf("GetSetting() = %s, want mainnet", got)
	}
}
