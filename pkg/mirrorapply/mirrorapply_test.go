package mirrorapply

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/paulschiretz/pgl-mirror/pkg/pathdiff"
	"github.com/paulschiretz/pgl-mirror/pkg/runstate"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}

func TestApplyCopiesNewFiles(t *testing.T) {
	src := t.TempDir()
	dst := t.TempDir()
	srcPath := filepath.Join(src, "new.txt")
	dstPath := filepath.Join(dst, "new.txt")
	writeFile(t, srcPath, "fresh")

	mtime := time.Now().Add(-time.Hour).Truncate(time.Second)
	if err := os.Chtimes(srcPath, mtime, mtime); err != nil {
		t.Fatal(err)
	}

	tracker := runstate.NewTracker(nil)
	a := NewApplier(64*1024, tracker)
	plan := &pathdiff.Plan{New: []pathdiff.NewFile{{SrcPath: srcPath, DstPath: dstPath, Size: 5}}}

	failures, err := a.Apply(context.Background(), plan)
	if err != nil || failures != 0 {
		t.Fatalf("Apply() = (%d, %v), want (0, nil)", failures, err)
	}
	if got := readFile(t, dstPath); got != "fresh" {
		t.Errorf("destination content = %q, want %q", got, "fresh")
	}

	info, err := os.Stat(dstPath)
	if err != nil {
		t.Fatal(err)
	}
	if !info.ModTime().Truncate(time.Second).Equal(mtime) {
		t.Errorf("mtime = %v, want %v", info.ModTime(), mtime)
	}
	if info.Mode().Perm()&0200 == 0 {
		t.Error("copied file lost the user-write bit")
	}
	if got := tracker.Counters().Progress; got != 1 {
		t.Errorf("progress = %d, want 1", got)
	}
}

func TestApplyOverwritesChangedFiles(t *testing.T) {
	src := t.TempDir()
	dst := t.TempDir()
	srcPath := filepath.Join(src, "f.txt")
	dstPath := filepath.Join(dst, "f.txt")
	writeFile(t, srcPath, "version 2")
	writeFile(t, dstPath, "version 1")

	a := NewApplier(64*1024, nil)
	plan := &pathdiff.Plan{Changed: []pathdiff.ChangedFile{{
		SrcPath: srcPath, DstPath: dstPath, SrcSize: 9, DstSize: 9,
	}}}

	failures, err := a.Apply(context.Background(), plan)
	if err != nil || failures != 0 {
		t.Fatalf("Apply() = (%d, %v), want (0, nil)", failures, err)
	}
	if got := readFile(t, dstPath); got != "version 2" {
		t.Errorf("destination content = %q, want %q", got, "version 2")
	}
	// No temp files may survive a successful overwrite.
	entries, err := os.ReadDir(dst)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("destination holds %d entries, want 1", len(entries))
	}
}

func TestApplyDeletesBeforeCopies(t *testing.T) {
	src := t.TempDir()
	dst := t.TempDir()
	srcPath := filepath.Join(src, "new.txt")
	writeFile(t, srcPath, "incoming")
	stale := filepath.Join(dst, "stale.txt")
	writeFile(t, stale, "old")

	tracker := runstate.NewTracker(nil)
	a := NewApplier(64*1024, tracker)
	plan := &pathdiff.Plan{
		New:    []pathdiff.NewFile{{SrcPath: srcPath, DstPath: filepath.Join(dst, "new.txt"), Size: 8}},
		Delete: []pathdiff.DeleteTarget{{Path: stale, Size: 3, FileCount: 1}},
	}

	failures, err := a.Apply(context.Background(), plan)
	if err != nil || failures != 0 {
		t.Fatalf("Apply() = (%d, %v), want (0, nil)", failures, err)
	}
	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Error("stale file survived")
	}
	c := tracker.Counters()
	if c.Deleted != 1 || c.Progress != 2 {
		t.Errorf("counters = %+v, want deleted=1 progress=2", c)
	}
}

func TestApplyDeletesDirectoryRecursively(t *testing.T) {
	dst := t.TempDir()
	staleDir := filepath.Join(dst, "gone")
	writeFile(t, filepath.Join(staleDir, "a.txt"), "a")
	writeFile(t, filepath.Join(staleDir, "deep", "b.txt"), "b")

	tracker := runstate.NewTracker(nil)
	a := NewApplier(64*1024, tracker)
	plan := &pathdiff.Plan{Delete: []pathdiff.DeleteTarget{{
		Path: staleDir, IsDir: true, Size: 2, FileCount: 2,
	}}}

	failures, err := a.Apply(context.Background(), plan)
	if err != nil || failures != 0 {
		t.Fatalf("Apply() = (%d, %v), want (0, nil)", failures, err)
	}
	if _, err := os.Stat(staleDir); !os.IsNotExist(err) {
		t.Error("stale directory survived")
	}
	c := tracker.Counters()
	if c.Deleted != 2 || c.Progress != 2 {
		t.Errorf("counters = %+v, want deleted=2 progress=2", c)
	}
}

func TestApplyClearsReadOnlyOnDelete(t *testing.T) {
	dst := t.TempDir()
	stale := filepath.Join(dst, "locked.txt")
	writeFile(t, stale, "ro")
	if err := os.Chmod(stale, 0444); err != nil {
		t.Fatal(err)
	}

	a := NewApplier(64*1024, nil)
	plan := &pathdiff.Plan{Delete: []pathdiff.DeleteTarget{{Path: stale, Size: 2, FileCount: 1}}}

	failures, err := a.Apply(context.Background(), plan)
	if err != nil || failures != 0 {
		t.Fatalf("Apply() = (%d, %v), want (0, nil)", failures, err)
	}
	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Error("read-only file survived")
	}
}

func TestApplyToleratesMissingSource(t *testing.T) {
	src := t.TempDir()
	dst := t.TempDir()
	good := filepath.Join(src, "good.txt")
	writeFile(t, good, "ok")

	tracker := runstate.NewTracker(nil)
	a := NewApplier(64*1024, tracker)
	plan := &pathdiff.Plan{New: []pathdiff.NewFile{
		{SrcPath: filepath.Join(src, "vanished.txt"), DstPath: filepath.Join(dst, "vanished.txt"), Size: 1},
		{SrcPath: good, DstPath: filepath.Join(dst, "good.txt"), Size: 2},
	}}

	failures, err := a.Apply(context.Background(), plan)
	if err != nil {
		t.Fatal(err)
	}
	if failures != 1 {
		t.Errorf("failures = %d, want 1", failures)
	}
	// The failure must not stop the remaining copies.
	if got := readFile(t, filepath.Join(dst, "good.txt")); got != "ok" {
		t.Errorf("good file content = %q, want %q", got, "ok")
	}
	if got := tracker.Counters().Errors; got != 1 {
		t.Errorf("errors = %d, want 1", got)
	}
}

func TestApplyStopsOnCancelledContext(t *testing.T) {
	src := t.TempDir()
	dst := t.TempDir()
	srcPath := filepath.Join(src, "f.txt")
	writeFile(t, srcPath, "never copied")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	a := NewApplier(64*1024, nil)
	plan := &pathdiff.Plan{New: []pathdiff.NewFile{{
		SrcPath: srcPath, DstPath: filepath.Join(dst, "f.txt"), Size: 12,
	}}}

	_, err := a.Apply(ctx, plan)
	if err == nil {
		t.Fatal("expected a context error")
	}
	if _, statErr := os.Stat(filepath.Join(dst, "f.txt")); !os.IsNotExist(statErr) {
		t.Error("file was copied despite cancellation")
	}
}
