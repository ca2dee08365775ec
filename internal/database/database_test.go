package database

import (
	"errors"
	"path/filepath"
	"testing"
)

func TestOpen_FileCreatesDirectory(t *testing.T) {
	p := filepath.Join(t.TempDir(), "sub", "dir", "test.db")
	db, err := Open(p)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer Close(db)

	if !db.Migrator().HasTable(&Secret{}) {
		t.Error("secrets table missing")
	}
	if !db.Migrator().HasTable(&TransferRecord{}) {
		t.Error("transfer_records table missing")
	}
}

func TestSettings_RoundTrip(t *testing.T) {
	db, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer Close(db)

	if _, err := GetSetting(db, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetSetting(missing) err = %v, want ErrNotFound", err)
	}
	if err := SetSetting(db, "k", "v1"); err != nil {
		t.Fatal(err)
	}
	if err := SetSetting(db, "k", "v2"); err != nil {
		t.Fatal(err)
	}
	got, err := GetSetting(db, "k")
	if err != nil || got != "v2" {
		t.Fatalf("GetSetting = %q, %v", got, err)
	}
	if err := DeleteSetting(db, "k"); err != nil {
		t.Fatal(err)
	}
	if _, err := GetSetting(db, "k"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("after delete err = %v", err)
	}
}

func TestClose_Nil(t *testing.T) {
	if err := Close(nil); err != nil {
		t.Fatalf("Close(nil) = %v", err)
	}
}
