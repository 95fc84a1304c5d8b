package fsutil

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestLockAndWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "plan.json")

	if err := LockAndWrite(path, []byte("first")); err != nil {
		t.Fatalf("LockAndWrite: %v", err)
	}
	if err := LockAndWrite(path, []byte("second")); err != nil {
		t.Fatalf("LockAndWrite: %v", err)
	}

	data, err := LockAndRead(path)
	if err != nil {
		t.Fatalf("LockAndRead: %v", err)
	}
	if string(data) != "second" {
		t.Errorf("got %q, want second", data)
	}

	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if filepath.Ext(e.Name()) != ".json" && filepath.Ext(e.Name()) != ".lock" {
			t.Errorf("leftover file %s", e.Name())
		}
	}
}

func TestLockAndRead_Missing(t *testing.T) {
	_, err := LockAndRead(filepath.Join(t.TempDir(), "absent.json"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("err = %v, want ErrNotExist", err)
	}
}
