// Package mirrorapply executes a mirror plan against the destination tree:
// stale entries are deleted first, then new files copied, then changed files
// overwritten. Ordering matters — deletions free the space the space check
// already credited, so they must land before any copy.
//
// Every file operation is independent. A failure is logged, counted, and the
// run moves on; one unreadable file must not abort a multi-terabyte mirror.
package mirrorapply

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/paulschiretz/pgl-mirror/pkg/pathdiff"
	"github.com/paulschiretz/pgl-mirror/pkg/plog"
	"github.com/paulschiretz/pgl-mirror/pkg/pool"
	"github.com/paulschiretz/pgl-mirror/pkg/runstate"
	"github.com/paulschiretz/pgl-mirror/pkg/util"
)

// Applier executes plans. It is not safe for concurrent use; the engine runs
// one pair at a time.
type Applier struct {
	buffers *pool.FixedBufferPool
	tracker *runstate.Tracker
}

// NewApplier builds an applier copying with buffers of bufferSize bytes.
// A nil tracker is replaced with a silent one.
func NewApplier(bufferSize int64, tracker *runstate.Tracker) *Applier {
	if tracker == nil {
		tracker = runstate.NewTracker(nil)
	}
	return &Applier{
		buffers: pool.NewFixedBuffer(bufferSize),
		tracker: tracker,
	}
}

// Apply runs the plan's three phases in order. It returns the number of
// per-file failures, and a non-nil error only when the context was cancelled
// between file operations. Cancellation never interrupts a file mid-copy, so
// the destination holds no torn files afterwards.
func (a *Applier) Apply(ctx context.Context, plan *pathdiff.Plan) (int64, error) {
	var failures int64

	for _, target := range plan.Delete {
		if err := ctx.Err(); err != nil {
			return failures, err
		}
		failures += a.delete(ctx, target)
	}

	for _, f := range plan.New {
		if err := ctx.Err(); err != nil {
			return failures, err
		}
		a.setFileStatus("COPY", f.DstPath, f.Size)
		if err := a.copyFile(f.SrcPath, f.DstPath); err != nil {
			plog.Warn("Copy failed", "src", f.SrcPath, "dst", f.DstPath, "error", err)
			a.tracker.RecordError(fmt.Sprintf("copy %s: %v", f.SrcPath, err))
			failures++
		} else {
			plog.Notice("COPY", "path", f.DstPath, "size", util.ByteCountIEC(f.Size))
		}
		a.tracker.AddProgress(1)
	}

	for _, f := range plan.Changed {
		if err := ctx.Err(); err != nil {
			return failures, err
		}
		a.setFileStatus("OVERWRITE", f.DstPath, f.SrcSize)
		if err := a.copyFile(f.SrcPath, f.DstPath); err != nil {
			plog.Warn("Overwrite failed", "src", f.SrcPath, "dst", f.DstPath, "error", err)
			a.tracker.RecordError(fmt.Sprintf("overwrite %s: %v", f.SrcPath, err))
			failures++
		} else {
			plog.Notice("OVERWRITE", "path", f.DstPath, "size", util.ByteCountIEC(f.SrcSize))
		}
		a.tracker.AddProgress(1)
	}

	return failures, nil
}

func (a *Applier) setFileStatus(op, path string, size int64) {
	a.tracker.SetStatus(fmt.Sprintf("%s %s (%s)", op, filepath.Base(path), util.ByteCountIEC(size)))
}

// delete removes one target. Directory targets are cleared file by file so
// each removal advances the progress counter, then the empty skeleton goes.
func (a *Applier) delete(ctx context.Context, target pathdiff.DeleteTarget) int64 {
	if !target.IsDir {
		a.setFileStatus("DELETE", target.Path, target.Size)
		if err := removeFile(target.Path); err != nil {
			plog.Warn("Delete failed", "path", target.Path, "error", err)
			a.tracker.RecordError(fmt.Sprintf("delete %s: %v", target.Path, err))
			a.tracker.AddProgress(1)
			return 1
		}
		plog.Notice("DELETE", "path", target.Path, "size", util.ByteCountIEC(target.Size))
		a.tracker.AddDeleted(1)
		a.tracker.AddProgress(1)
		return 0
	}

	var failures int64
	walkErr := filepath.WalkDir(target.Path, func(path string, d os.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			plog.Warn("Delete scan failed", "path", path, "error", err)
			a.tracker.RecordError(fmt.Sprintf("delete %s: %v", path, err))
			failures++
			return nil
		}
		if d.IsDir() {
			return nil
		}
		var size int64
		if info, infoErr := d.Info(); infoErr == nil {
			size = info.Size()
		}
		a.setFileStatus("DELETE", path, size)
		if rmErr := removeFile(path); rmErr != nil {
			plog.Warn("Delete failed", "path", path, "error", rmErr)
			a.tracker.RecordError(fmt.Sprintf("delete %s: %v", path, rmErr))
			failures++
		} else {
			plog.Notice("DELETE", "path", path, "size", util.ByteCountIEC(size))
			a.tracker.AddDeleted(1)
		}
		a.tracker.AddProgress(1)
		return nil
	})
	if walkErr != nil && walkErr != context.Canceled && walkErr != context.DeadlineExceeded {
		plog.Warn("Delete walk aborted", "path", target.Path, "error", walkErr)
	}

	// Only when every file went can the directory skeleton follow.
	if failures == 0 && ctx.Err() == nil {
		if err := os.RemoveAll(target.Path); err != nil {
			plog.Warn("Could not remove stale directory", "path", target.Path, "error", err)
			a.tracker.RecordError(fmt.Sprintf("rmdir %s: %v", target.Path, err))
			failures++
		} else {
			plog.Notice("DELETE DIR", "path", target.Path)
		}
	}
	return failures
}

// removeFile deletes path, clearing a read-only bit once if the first attempt
// is refused. Mirrors of media libraries are full of read-only files.
func removeFile(path string) error {
	err := os.Remove(path)
	if err == nil || os.IsNotExist(err) {
		return nil
	}
	if info, statErr := os.Stat(path); statErr == nil {
		_ = os.Chmod(path, util.WithUserWritePermission(info.Mode().Perm()))
	}
	return os.Remove(path)
}

// copyFile copies src over dst via a temporary file in the destination
// directory, preserving the source's permission bits (user-write forced) and
// modification time. The rename at the end makes the overwrite effectively
// atomic; a failure at any earlier step leaves the previous destination file
// untouched.
func (a *Applier) copyFile(srcPath, dstPath string) (err error) {
	src, err := os.Open(srcPath)
	if err != nil {
		return fmt.Errorf("could not open source: %w", err)
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return fmt.Errorf("could not stat source: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dstPath), ".mirror-*.tmp")
	if err != nil {
		return fmt.Errorf("could not create temp file: %w", err)
	}
	absTempPath := tmp.Name()
	defer func() {
		// Set to "" once the rename succeeded; anything else is a leftover.
		if absTempPath != "" {
			os.Remove(absTempPath)
		}
	}()

	// Preallocate so a full volume fails here, not halfway through the copy.
	if err := tmp.Truncate(info.Size()); err != nil {
		tmp.Close()
		return fmt.Errorf("could not preallocate %s: %w", util.ByteCountIEC(info.Size()), err)
	}

	buf := a.buffers.Get()
	_, err = io.CopyBuffer(tmp, src, *buf)
	a.buffers.Put(buf)
	if err != nil {
		tmp.Close()
		return fmt.Errorf("could not copy contents: %w", err)
	}

	if err := tmp.Chmod(util.WithUserWritePermission(info.Mode().Perm())); err != nil {
		tmp.Close()
		return fmt.Errorf("could not set permissions: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("could not finalize temp file: %w", err)
	}
	if err := os.Chtimes(absTempPath, time.Now(), info.ModTime()); err != nil {
		return fmt.Errorf("could not set modification time: %w", err)
	}

	// An overwritten destination may carry a read-only bit that blocks the
	// rename on some platforms.
	if dstInfo, statErr := os.Stat(dstPath); statErr == nil && dstInfo.Mode().Perm()&util.PermUserWrite == 0 {
		_ = os.Chmod(dstPath, util.WithUserWritePermission(dstInfo.Mode().Perm()))
	}
	if err := os.Rename(absTempPath, dstPath); err != nil {
		return fmt.Errorf("could not move file into place: %w", err)
	}
	absTempPath = ""
	return nil
}
