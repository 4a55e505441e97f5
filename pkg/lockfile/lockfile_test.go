package lockfile

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestAcquireAndRelease(t *testing.T) {
	dir := t.TempDir()

	lock, err := Acquire(context.Background(), dir)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(dir, LockFileName)); err != nil {
		t.Fatalf("lock file missing while held: %v", err)
	}

	lock.Release()
	if _, err := os.Stat(filepath.Join(dir, LockFileName)); !os.IsNotExist(err) {
		t.Error("lock file survived Release")
	}

	// Double release is harmless.
	lock.Release()
}

func TestAcquireRefusesActiveLock(t *testing.T) {
	dir := t.TempDir()

	first, err := Acquire(context.Background(), dir)
	if err != nil {
		t.Fatal(err)
	}
	defer first.Release()

	_, err = Acquire(context.Background(), dir)
	if !errors.Is(err, ErrLocked) {
		t.Fatalf("second Acquire = %v, want ErrLocked", err)
	}
}

func TestAcquireTakesOverStaleLock(t *testing.T) {
	oldStale := staleTimeout
	staleTimeout = 50 * time.Millisecond
	defer func() { staleTimeout = oldStale }()

	dir := t.TempDir()
	first, err := Acquire(context.Background(), dir)
	if err != nil {
		t.Fatal(err)
	}
	// Simulate a crashed holder: the file stays, the heartbeat stops.
	first.cancel()
	time.Sleep(2 * staleTimeout)

	second, err := Acquire(context.Background(), dir)
	if err != nil {
		t.Fatalf("takeover failed: %v", err)
	}
	second.Release()
	first.held = false // the crashed holder never releases
}

func TestAcquireTreatsCorruptLockAsStale(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, LockFileName), []byte("not json"), 0644); err != nil {
		t.Fatal(err)
	}

	lock, err := Acquire(context.Background(), dir)
	if err != nil {
		t.Fatalf("Acquire over corrupt lock = %v, want success", err)
	}
	lock.Release()
}

func TestAcquireHonorsCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := Acquire(ctx, t.TempDir()); err == nil {
		t.Error("expected a context error")
	}
}
