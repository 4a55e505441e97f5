// Package runlog keeps a per-run log file alongside the console output. The
// file receives everything down to the per-file operation level and is
// book-ended by begin/end banners, so a run can be audited long after the
// console scrolled away. Older run logs are compressed and eventually pruned.
package runlog

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/klauspost/pgzip"

	"github.com/paulschiretz/pgl-mirror/pkg/buildinfo"
	"github.com/paulschiretz/pgl-mirror/pkg/plog"
	"github.com/paulschiretz/pgl-mirror/pkg/util"
)

// LogsDirName is the directory holding run logs, next to the configs.
const LogsDirName = "logs"

const (
	logFilePrefix = "log_mirror_"
	logFileSuffix = ".txt"
	// timestampLayout sorts lexicographically, which the retention scan
	// relies on.
	timestampLayout = "2006-01-02_15-04-05"
)

// RunLog is an open per-run log file hooked into the global logger.
type RunLog struct {
	path   string
	file   *os.File
	detach func()
}

// Open creates a fresh run-log file under baseDir/logs and attaches it to the
// global logger at the Notice level, so per-file operation lines land in the
// file even when the console is quieter.
func Open(baseDir string) (*RunLog, error) {
	dir := filepath.Join(baseDir, LogsDirName)
	if err := os.MkdirAll(dir, util.UserWritableDirPerms); err != nil {
		return nil, fmt.Errorf("could not create logs directory %s: %w", dir, err)
	}

	path := filepath.Join(dir, logFilePrefix+time.Now().Format(timestampLayout)+logFileSuffix)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, util.UserWritableFilePerms)
	if err != nil {
		return nil, fmt.Errorf("could not create run log %s: %w", path, err)
	}

	fmt.Fprintf(f, "==== %s %s run started %s ====\n",
		buildinfo.Name, buildinfo.Version, time.Now().Format(time.RFC3339))

	handler := slog.NewTextHandler(f, &slog.HandlerOptions{Level: plog.LevelNotice})
	detach := plog.AttachHandler(handler)

	return &RunLog{path: path, file: f, detach: detach}, nil
}

// Path returns the location of the log file.
func (r *RunLog) Path() string {
	return r.path
}

// Close writes the end banner, detaches the file from the logger and closes
// it. Safe to call once per RunLog.
func (r *RunLog) Close() error {
	r.detach()
	fmt.Fprintf(r.file, "==== run ended %s ====\n", time.Now().Format(time.RFC3339))
	if err := r.file.Close(); err != nil {
		return fmt.Errorf("could not close run log %s: %w", r.path, err)
	}
	return nil
}

// Retention controls how many run logs survive and in what form.
type Retention struct {
	// KeepPlain run logs stay as plain text, newest first.
	KeepPlain int
	// KeepCompressed older logs are kept compressed; anything beyond is
	// deleted.
	KeepCompressed int
	Format         Format
}

// Apply enforces the retention policy on baseDir/logs: the newest KeepPlain
// text logs stay untouched, older text logs are compressed, and compressed
// logs beyond KeepCompressed are removed. The currently open log should be
// closed first.
func Apply(baseDir string, policy Retention) error {
	dir := filepath.Join(baseDir, LogsDirName)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("could not read logs directory %s: %w", dir, err)
	}

	var plain, compressed []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, logFilePrefix) {
			continue
		}
		switch {
		case strings.HasSuffix(name, logFileSuffix):
			plain = append(plain, name)
		case strings.HasSuffix(name, logFileSuffix+Gzip.Ext()),
			strings.HasSuffix(name, logFileSuffix+Zstd.Ext()):
			compressed = append(compressed, name)
		}
	}

	// Timestamped names sort chronologically; reverse for newest-first.
	sort.Sort(sort.Reverse(sort.StringSlice(plain)))
	sort.Sort(sort.Reverse(sort.StringSlice(compressed)))

	keepPlain := policy.KeepPlain
	if keepPlain < 0 {
		keepPlain = 0
	}
	for _, name := range plain[min(keepPlain, len(plain)):] {
		src := filepath.Join(dir, name)
		if err := compressFile(src, policy.Format); err != nil {
			plog.Warn("Could not compress run log", "path", src, "error", err)
			continue
		}
		compressed = append(compressed, name+policy.Format.Ext())
	}
	sort.Sort(sort.Reverse(sort.StringSlice(compressed)))

	keepCompressed := policy.KeepCompressed
	if keepCompressed < 0 {
		keepCompressed = 0
	}
	for _, name := range compressed[min(keepCompressed, len(compressed)):] {
		path := filepath.Join(dir, name)
		if err := os.Remove(path); err != nil {
			plog.Warn("Could not prune run log", "path", path, "error", err)
		} else {
			plog.Debug("Pruned run log", "path", path)
		}
	}
	return nil
}

// compressFile rewrites path as path+ext in the configured format and removes
// the original on success.
func compressFile(path string, format Format) error {
	src, err := os.Open(path)
	if err != nil {
		return err
	}
	defer src.Close()

	dstPath := path + format.Ext()
	dst, err := os.Create(dstPath)
	if err != nil {
		return err
	}

	var enc io.WriteCloser
	switch format {
	case Zstd:
		enc, err = zstd.NewWriter(dst)
	default:
		enc, err = pgzip.NewWriterLevel(dst, pgzip.DefaultCompression)
	}
	if err != nil {
		dst.Close()
		os.Remove(dstPath)
		return err
	}

	if _, err := io.Copy(enc, src); err != nil {
		enc.Close()
		dst.Close()
		os.Remove(dstPath)
		return err
	}
	if err := enc.Close(); err != nil {
		dst.Close()
		os.Remove(dstPath)
		return err
	}
	if err := dst.Close(); err != nil {
		os.Remove(dstPath)
		return err
	}
	return os.Remove(path)
}
