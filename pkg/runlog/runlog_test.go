package runlog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/paulschiretz/pgl-mirror/pkg/plog"
)

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{"gzip", Gzip, false},
		{"zstd", Zstd, false},
		{"lz4", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		got, err := ParseFormat(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseFormat(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParseFormat(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFormatExt(t *testing.T) {
	if Gzip.Ext() != ".gz" || Zstd.Ext() != ".zst" {
		t.Errorf("Ext() = %q/%q, want .gz/.zst", Gzip.Ext(), Zstd.Ext())
	}
}

func TestOpenWritesBannerAndCapturesLogs(t *testing.T) {
	base := t.TempDir()

	rl, err := Open(base)
	if err != nil {
		t.Fatal(err)
	}
	plog.Notice("COPY", "path", "/x/y.txt")
	if err := rl.Close(); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(rl.Path())
	if err != nil {
		t.Fatal(err)
	}
	content := string(data)
	if !strings.Contains(content, "run started") {
		t.Error("begin banner missing")
	}
	if !strings.Contains(content, "run ended") {
		t.Error("end banner missing")
	}
	if !strings.Contains(content, "/x/y.txt") {
		t.Error("notice-level record missing from run log")
	}
}

func TestCloseDetachesFromLogger(t *testing.T) {
	base := t.TempDir()
	rl, err := Open(base)
	if err != nil {
		t.Fatal(err)
	}
	if err := rl.Close(); err != nil {
		t.Fatal(err)
	}
	// Logging after Close must not land in (or reopen) the file.
	before, _ := os.ReadFile(rl.Path())
	plog.Info("after close")
	after, _ := os.ReadFile(rl.Path())
	if len(after) != len(before) {
		t.Error("log record written after Close")
	}
}

func fakeLog(t *testing.T, dir, stamp string) string {
	t.Helper()
	name := logFilePrefix + stamp + logFileSuffix
	if err := os.WriteFile(filepath.Join(dir, name), []byte("log data for "+stamp+"\n"), 0644); err != nil {
		t.Fatal(err)
	}
	return name
}

func TestRetention(t *testing.T) {
	base := t.TempDir()
	dir := filepath.Join(base, LogsDirName)
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}

	stamps := []string{
		"2026-01-01_10-00-00",
		"2026-01-02_10-00-00",
		"2026-01-03_10-00-00",
		"2026-01-04_10-00-00",
		"2026-01-05_10-00-00",
	}
	for _, s := range stamps {
		fakeLog(t, dir, s)
	}

	policy := Retention{KeepPlain: 2, KeepCompressed: 2, Format: Gzip}
	if err := Apply(base, policy); err != nil {
		t.Fatal(err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	var plain, compressed []string
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), logFileSuffix) {
			plain = append(plain, e.Name())
		} else if strings.HasSuffix(e.Name(), ".gz") {
			compressed = append(compressed, e.Name())
		}
	}

	if len(plain) != 2 {
		t.Errorf("plain logs = %v, want the 2 newest", plain)
	}
	for _, name := range plain {
		if !strings.Contains(name, "2026-01-04") && !strings.Contains(name, "2026-01-05") {
			t.Errorf("unexpected plain survivor %s", name)
		}
	}
	if len(compressed) != 2 {
		t.Errorf("compressed logs = %v, want 2", compressed)
	}
	for _, name := range compressed {
		if !strings.Contains(name, "2026-01-02") && !strings.Contains(name, "2026-01-03") {
			t.Errorf("unexpected compressed survivor %s", name)
		}
	}
}

func TestRetentionZstd(t *testing.T) {
	base := t.TempDir()
	dir := filepath.Join(base, LogsDirName)
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	fakeLog(t, dir, "2026-02-01_10-00-00")
	fakeLog(t, dir, "2026-02-02_10-00-00")

	policy := Retention{KeepPlain: 1, KeepCompressed: 5, Format: Zstd}
	if err := Apply(base, policy); err != nil {
		t.Fatal(err)
	}

	if _, err := os.Stat(filepath.Join(dir, logFilePrefix+"2026-02-01_10-00-00"+logFileSuffix+".zst")); err != nil {
		t.Errorf("zstd archive missing: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, logFilePrefix+"2026-02-01_10-00-00"+logFileSuffix)); !os.IsNotExist(err) {
		t.Error("compressed original not removed")
	}
}

func TestRetentionMissingLogsDir(t *testing.T) {
	if err := Apply(t.TempDir(), Retention{KeepPlain: 1, KeepCompressed: 1, Format: Gzip}); err != nil {
		t.Errorf("Apply() on missing dir = %v, want nil", err)
	}
}
