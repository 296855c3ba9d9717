package store

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestAcquireLockExclusive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl.lock")

	release, err := acquireLock(path, time.Second, time.Minute)
	if err != nil {
		t.Fatalf("acquireLock: %v", err)
	}

	// A second holder times out while the lock is fresh.
	_, err = acquireLock(path, 100*time.Millisecond, time.Minute)
	if !errors.Is(err, ErrStoreLocked) {
		t.Fatalf("second acquire err = %v, want ErrStoreLocked", err)
	}

	release()
	release2, err := acquireLock(path, time.Second, time.Minute)
	if err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
	release2()
}

func TestAcquireLockReclaimsStale(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl.lock")
	if err := os.WriteFile(path, []byte("99999\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	old := time.Now().Add(-time.Hour)
	if err := os.Chtimes(path, old, old); err != nil {
		t.Fatal(err)
	}

	release, err := acquireLock(path, time.Second, time.Minute)
	if err != nil {
		t.Fatalf("stale lock not reclaimed: %v", err)
	}
	release()
}
