package storage

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type testRecord struct {
	ID   uint
	Name string
}

func TestOpen_Memory(t *testing.T) {
	db, err := Open(Config{}, &testRecord{})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer Close(db)

	if err := db.Create(&testRecord{Name: "a"}).Error; err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	var count int64
	db.Model(&testRecord{}).Count(&count)
	if count != 1 {
		t.Errorf("Expected 1 record, got %d", count)
	}
}

func TestOpen_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "journal.db")

	db, err := Open(Config{Path: path, LogMode: "warn"}, &testRecord{})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := Close(db); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	if _, err := os.Stat(path); err != nil {
		t.Errorf("Expected database file to exist: %v", err)
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}

	got := expandPath("~/data/journal.db")
	if !strings.HasPrefix(got, home) {
		t.Errorf("expandPath() = %s, want prefix %s", got, home)
	}
	if expandPath("/tmp/x.db") != "/tmp/x.db" {
		t.Error("expandPath() should not change absolute paths")
	}
}

func TestClose_Nil(t *testing.T) {
	if err := Close(nil); err != nil {
		t.Errorf("Close(nil) error = %v", err)
	}
}
