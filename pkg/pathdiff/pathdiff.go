// Package pathdiff walks a source and a destination tree in lockstep and
// produces the mirror plan: which files are new, which changed, and which
// destination entries have to go. The walk already creates the destination
// directory skeleton so the apply phase only ever touches files.
package pathdiff

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/paulschiretz/pgl-mirror/pkg/plog"
	"github.com/paulschiretz/pgl-mirror/pkg/pool"
	"github.com/paulschiretz/pgl-mirror/pkg/rules"
	"github.com/paulschiretz/pgl-mirror/pkg/runstate"
	"github.com/paulschiretz/pgl-mirror/pkg/util"
)

// ErrWalkFatal wraps failures that abort the whole preparation phase, such as
// an unreadable directory listing. Per-file problems are logged and counted
// instead.
var ErrWalkFatal = errors.New("fatal error while scanning trees")

// NewFile is a source file with no destination counterpart.
type NewFile struct {
	SrcPath string
	DstPath string
	Size    int64
}

// ChangedFile is a pair whose contents (or large-file metadata) differ.
type ChangedFile struct {
	SrcPath string
	DstPath string
	SrcSize int64
	DstSize int64
}

// DeleteTarget is a destination entry with no source counterpart. Directory
// targets carry the recursive size and file count of their subtree.
type DeleteTarget struct {
	Path      string
	IsDir     bool
	Size      int64
	FileCount int64
}

// Plan is the complete work list for one input/output pair.
type Plan struct {
	New     []NewFile
	Changed []ChangedFile
	Delete  []DeleteTarget
}

// TotalOperations counts the units of apply work: one per new or changed
// file, one per file inside every delete target.
func (p *Plan) TotalOperations() int64 {
	total := int64(len(p.New) + len(p.Changed))
	for _, d := range p.Delete {
		total += d.FileCount
	}
	return total
}

// NewBytes sums the sizes of all new files.
func (p *Plan) NewBytes() int64 {
	var n int64
	for _, f := range p.New {
		n += f.Size
	}
	return n
}

// DeletedBytes sums the sizes reclaimed by all delete targets.
func (p *Plan) DeletedBytes() int64 {
	var n int64
	for _, d := range p.Delete {
		n += d.Size
	}
	return n
}

// NetDeltaBytes is the destination's size change once the plan is applied:
// positive when the destination grows.
func (p *Plan) NetDeltaBytes() int64 {
	n := p.NewBytes() - p.DeletedBytes()
	for _, c := range p.Changed {
		n += c.SrcSize - c.DstSize
	}
	return n
}

// Empty reports whether the plan contains no work at all.
func (p *Plan) Empty() bool {
	return len(p.New) == 0 && len(p.Changed) == 0 && len(p.Delete) == 0
}

// Classifier decides whether a source/destination file pair is equal.
type Classifier struct {
	// LargeFileThreshold is the size in bytes above which equality is decided
	// from metadata alone. Contents of large files are never opened.
	LargeFileThreshold int64
	// ModTimeWindow is the modification-time tolerance for the metadata
	// comparison. FAT volumes store timestamps with 2s granularity.
	ModTimeWindow time.Duration
	// Buffers supplies the read buffers for the byte-for-byte comparison.
	Buffers *pool.FixedBufferPool
}

// NewClassifier builds a classifier with the given threshold (bytes), time
// window and buffer size (bytes).
func NewClassifier(largeFileThreshold int64, modTimeWindow time.Duration, bufferSize int64) *Classifier {
	return &Classifier{
		LargeFileThreshold: largeFileThreshold,
		ModTimeWindow:      modTimeWindow,
		Buffers:            pool.NewFixedBuffer(bufferSize),
	}
}

// FilesEqual reports whether the two files hold the same content. Files above
// the large-file threshold are equal iff their sizes match and their
// modification times are within the configured window; their contents are
// never read. Smaller files take a size fast-path and then a buffered
// byte-for-byte comparison.
func (c *Classifier) FilesEqual(srcPath string, srcInfo os.FileInfo, dstPath string, dstInfo os.FileInfo) (bool, error) {
	if srcInfo.Size() > c.LargeFileThreshold || dstInfo.Size() > c.LargeFileThreshold {
		if srcInfo.Size() != dstInfo.Size() {
			return false, nil
		}
		delta := srcInfo.ModTime().Sub(dstInfo.ModTime())
		if delta < 0 {
			delta = -delta
		}
		return delta <= c.ModTimeWindow, nil
	}

	if srcInfo.Size() != dstInfo.Size() {
		return false, nil
	}
	return c.contentsEqual(srcPath, dstPath)
}

func (c *Classifier) contentsEqual(srcPath, dstPath string) (bool, error) {
	src, err := os.Open(srcPath)
	if err != nil {
		return false, fmt.Errorf("could not open %s for comparison: %w", srcPath, err)
	}
	defer src.Close()

	dst, err := os.Open(dstPath)
	if err != nil {
		return false, fmt.Errorf("could not open %s for comparison: %w", dstPath, err)
	}
	defer dst.Close()

	srcBuf := c.Buffers.Get()
	defer c.Buffers.Put(srcBuf)
	dstBuf := c.Buffers.Get()
	defer c.Buffers.Put(dstBuf)

	for {
		n1, err1 := io.ReadFull(src, *srcBuf)
		n2, err2 := io.ReadFull(dst, *dstBuf)
		if n1 != n2 {
			return false, nil
		}
		if !bytesEqual((*srcBuf)[:n1], (*dstBuf)[:n2]) {
			return false, nil
		}
		srcDone := err1 == io.EOF || err1 == io.ErrUnexpectedEOF
		dstDone := err2 == io.EOF || err2 == io.ErrUnexpectedEOF
		if srcDone && dstDone {
			return true, nil
		}
		if err1 != nil && !srcDone {
			return false, fmt.Errorf("read error comparing %s: %w", srcPath, err1)
		}
		if err2 != nil && !dstDone {
			return false, fmt.Errorf("read error comparing %s: %w", dstPath, err2)
		}
		if srcDone != dstDone {
			return false, nil
		}
	}
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Walker performs the lockstep scan of one input/output pair.
type Walker struct {
	classifier *Classifier
	tracker    *runstate.Tracker
	exclusions []rules.Exclusion
	// spared are file names never scheduled for deletion at the destination
	// root of this pair: the confirmation marker and the run lock. Same-named
	// files deeper in the tree are ordinary delete targets.
	spared []string
}

// NewWalker builds a walker. A nil tracker is replaced with a silent one.
func NewWalker(classifier *Classifier, tracker *runstate.Tracker, exclusions []rules.Exclusion, spared []string) *Walker {
	if tracker == nil {
		tracker = runstate.NewTracker(nil)
	}
	return &Walker{
		classifier: classifier,
		tracker:    tracker,
		exclusions: exclusions,
		spared:     spared,
	}
}

// Walk scans srcRoot against dstRoot and returns the mirror plan. A directory
// root is walked recursively with the destination skeleton created along the
// way, so a later apply only deals with files; a file root is classified
// directly against its name inside dstRoot. Unreadable listings are fatal; a
// directory that cannot be created in the destination loses only its own
// subtree and counts one error.
func (w *Walker) Walk(srcRoot, dstRoot string) (*Plan, error) {
	plan := &Plan{}
	if rules.ShouldExclude(w.exclusions, srcRoot, dstRoot) {
		plog.Debug("Excluded", "path", srcRoot)
		return plan, nil
	}
	info, err := os.Stat(srcRoot)
	if err != nil {
		return nil, fmt.Errorf("%w: could not access source %s: %v", ErrWalkFatal, srcRoot, err)
	}
	if !info.IsDir() {
		if err := w.walkFileRoot(srcRoot, info, dstRoot, plan); err != nil {
			return nil, err
		}
		return plan, nil
	}
	if err := w.walkDir(srcRoot, dstRoot, dstRoot, plan); err != nil {
		return nil, err
	}
	return plan, nil
}

// walkFileRoot handles a single-file input: the file is mirrored into the
// destination root under its own name.
func (w *Walker) walkFileRoot(srcPath string, srcInfo os.FileInfo, dstRoot string, plan *Plan) error {
	if err := w.ensureDstDir(filepath.Dir(srcPath), dstRoot); err != nil {
		plog.Warn("Could not create destination directory", "path", dstRoot, "error", err)
		w.tracker.RecordError(fmt.Sprintf("mkdir %s: %v", dstRoot, err))
		return nil
	}

	dstPath := filepath.Join(dstRoot, filepath.Base(srcPath))
	w.tracker.AddProcessed(1)
	w.tracker.AddBytes(srcInfo.Size())

	dstInfo, err := os.Stat(dstPath)
	if os.IsNotExist(err) {
		w.tracker.AddNew(1)
		w.tracker.AddMarked(1)
		plan.New = append(plan.New, NewFile{SrcPath: srcPath, DstPath: dstPath, Size: srcInfo.Size()})
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: could not access destination %s: %v", ErrWalkFatal, dstPath, err)
	}

	// A directory shadowing the file's destination name: clear it and copy
	// the file as brand new.
	if dstInfo.IsDir() {
		size, count, statsErr := subtreeStats(dstPath)
		if statsErr != nil {
			return fmt.Errorf("%w: could not scan stale destination directory %s: %v", ErrWalkFatal, dstPath, statsErr)
		}
		w.tracker.AddMarked(count)
		plan.Delete = append(plan.Delete, DeleteTarget{Path: dstPath, IsDir: true, Size: size, FileCount: count})
		w.tracker.AddNew(1)
		w.tracker.AddMarked(1)
		plan.New = append(plan.New, NewFile{SrcPath: srcPath, DstPath: dstPath, Size: srcInfo.Size()})
		return nil
	}

	equal, err := w.classifier.FilesEqual(srcPath, srcInfo, dstPath, dstInfo)
	if err != nil {
		plog.Warn("Comparison failed, scheduling overwrite", "path", srcPath, "error", err)
		w.tracker.RecordError(fmt.Sprintf("compare %s: %v", srcPath, err))
		equal = false
	}
	if equal {
		return nil
	}
	w.tracker.AddModified(1)
	w.tracker.AddMarked(1)
	plan.Changed = append(plan.Changed, ChangedFile{
		SrcPath: srcPath,
		DstPath: dstPath,
		SrcSize: srcInfo.Size(),
		DstSize: dstInfo.Size(),
	})
	return nil
}

func (w *Walker) walkDir(srcDir, dstDir, dstRoot string, plan *Plan) error {
	srcEntries, err := os.ReadDir(srcDir)
	if err != nil {
		return fmt.Errorf("%w: could not list source directory %s: %v", ErrWalkFatal, srcDir, err)
	}

	if err := w.ensureDstDir(srcDir, dstDir); err != nil {
		plog.Warn("Could not create destination directory, skipping subtree", "path", dstDir, "error", err)
		w.tracker.RecordError(fmt.Sprintf("mkdir %s: %v", dstDir, err))
		return nil
	}

	dstEntries, err := os.ReadDir(dstDir)
	if err != nil {
		return fmt.Errorf("%w: could not list destination directory %s: %v", ErrWalkFatal, dstDir, err)
	}

	// Excluded source entries are pruned before the merge. Their destination
	// counterparts then look destination-only and get scheduled for deletion,
	// which is what makes adding an exclusion retroactive.
	kept := srcEntries[:0]
	for _, e := range srcEntries {
		srcPath := filepath.Join(srcDir, e.Name())
		dstPath := filepath.Join(dstDir, e.Name())
		if rules.ShouldExclude(w.exclusions, srcPath, dstPath) {
			plog.Debug("Excluded", "path", srcPath)
			continue
		}
		kept = append(kept, e)
	}
	srcEntries = kept

	// ReadDir returns entries sorted by name, so a two-pointer merge visits
	// every name on either side exactly once.
	i, j := 0, 0
	for i < len(srcEntries) || j < len(dstEntries) {
		switch {
		case j >= len(dstEntries) || (i < len(srcEntries) && srcEntries[i].Name() < dstEntries[j].Name()):
			if err := w.handleSourceOnly(srcEntries[i], srcDir, dstDir, dstRoot, plan); err != nil {
				return err
			}
			i++
		case i >= len(srcEntries) || srcEntries[i].Name() > dstEntries[j].Name():
			if err := w.handleDestinationOnly(dstEntries[j], dstDir, dstRoot, plan); err != nil {
				return err
			}
			j++
		default:
			if err := w.handleBoth(srcEntries[i], dstEntries[j], srcDir, dstDir, dstRoot, plan); err != nil {
				return err
			}
			i++
			j++
		}
	}
	return nil
}

// ensureDstDir creates dstDir if missing, copying the source directory's
// permission bits with the user-write bit forced so later runs are never
// locked out of their own mirror.
func (w *Walker) ensureDstDir(srcDir, dstDir string) error {
	if _, err := os.Stat(dstDir); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return err
	}
	perm := util.UserWritableDirPerms
	if srcInfo, err := os.Stat(srcDir); err == nil {
		perm = util.WithUserWritePermission(srcInfo.Mode().Perm())
	}
	return os.MkdirAll(dstDir, perm)
}

func (w *Walker) handleSourceOnly(entry os.DirEntry, srcDir, dstDir, dstRoot string, plan *Plan) error {
	srcPath := filepath.Join(srcDir, entry.Name())
	dstPath := filepath.Join(dstDir, entry.Name())

	if entry.IsDir() {
		return w.walkDir(srcPath, dstPath, dstRoot, plan)
	}

	info, err := entry.Info()
	if err != nil {
		plog.Warn("Could not stat source file", "path", srcPath, "error", err)
		w.tracker.RecordError(fmt.Sprintf("stat %s: %v", srcPath, err))
		return nil
	}
	w.tracker.AddProcessed(1)
	w.tracker.AddBytes(info.Size())
	w.tracker.AddNew(1)
	w.tracker.AddMarked(1)
	plan.New = append(plan.New, NewFile{SrcPath: srcPath, DstPath: dstPath, Size: info.Size()})
	return nil
}

func (w *Walker) handleDestinationOnly(entry os.DirEntry, dstDir, dstRoot string, plan *Plan) error {
	dstPath := filepath.Join(dstDir, entry.Name())

	// The confirmation marker and the run's own lock file survive, at the
	// root and nowhere else.
	if dstDir == dstRoot && !entry.IsDir() && w.isSpared(entry.Name()) {
		return nil
	}

	if entry.IsDir() {
		size, count, err := subtreeStats(dstPath)
		if err != nil {
			return fmt.Errorf("%w: could not scan stale destination directory %s: %v", ErrWalkFatal, dstPath, err)
		}
		w.tracker.AddMarked(count)
		plan.Delete = append(plan.Delete, DeleteTarget{Path: dstPath, IsDir: true, Size: size, FileCount: count})
		return nil
	}

	info, err := entry.Info()
	if err != nil {
		plog.Warn("Could not stat stale destination file", "path", dstPath, "error", err)
		w.tracker.RecordError(fmt.Sprintf("stat %s: %v", dstPath, err))
		return nil
	}
	w.tracker.AddMarked(1)
	plan.Delete = append(plan.Delete, DeleteTarget{Path: dstPath, Size: info.Size(), FileCount: 1})
	return nil
}

func (w *Walker) handleBoth(srcEntry, dstEntry os.DirEntry, srcDir, dstDir, dstRoot string, plan *Plan) error {
	srcPath := filepath.Join(srcDir, srcEntry.Name())
	dstPath := filepath.Join(dstDir, dstEntry.Name())

	// A file shadowed by a directory (or the reverse) on the other side:
	// clear the destination entry and treat the source entry as brand new.
	if srcEntry.IsDir() != dstEntry.IsDir() {
		if err := w.handleDestinationOnly(dstEntry, dstDir, dstRoot, plan); err != nil {
			return err
		}
		return w.handleSourceOnly(srcEntry, srcDir, dstDir, dstRoot, plan)
	}

	if srcEntry.IsDir() {
		return w.walkDir(srcPath, dstPath, dstRoot, plan)
	}

	srcInfo, err := srcEntry.Info()
	if err != nil {
		plog.Warn("Could not stat source file", "path", srcPath, "error", err)
		w.tracker.RecordError(fmt.Sprintf("stat %s: %v", srcPath, err))
		return nil
	}
	dstInfo, err := dstEntry.Info()
	if err != nil {
		plog.Warn("Could not stat destination file", "path", dstPath, "error", err)
		w.tracker.RecordError(fmt.Sprintf("stat %s: %v", dstPath, err))
		return nil
	}

	w.tracker.AddProcessed(1)
	w.tracker.AddBytes(srcInfo.Size())

	equal, err := w.classifier.FilesEqual(srcPath, srcInfo, dstPath, dstInfo)
	if err != nil {
		// A pair we cannot compare is refreshed. Worst case is one
		// unnecessary copy; the alternative is silently keeping a
		// possibly stale mirror.
		plog.Warn("Comparison failed, scheduling overwrite", "path", srcPath, "error", err)
		w.tracker.RecordError(fmt.Sprintf("compare %s: %v", srcPath, err))
		equal = false
	}
	if equal {
		return nil
	}

	w.tracker.AddModified(1)
	w.tracker.AddMarked(1)
	plan.Changed = append(plan.Changed, ChangedFile{
		SrcPath: srcPath,
		DstPath: dstPath,
		SrcSize: srcInfo.Size(),
		DstSize: dstInfo.Size(),
	})
	return nil
}

func (w *Walker) isSpared(name string) bool {
	for _, s := range w.spared {
		if name == s {
			return true
		}
	}
	return false
}

// subtreeStats returns the total file size and file count under dir.
func subtreeStats(dir string) (size int64, count int64, err error) {
	err = filepath.WalkDir(dir, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			return nil
		}
		info, infoErr := d.Info()
		if infoErr != nil {
			return infoErr
		}
		size += info.Size()
		count++
		return nil
	})
	if err != nil {
		return 0, 0, err
	}
	return size, count, nil
}
