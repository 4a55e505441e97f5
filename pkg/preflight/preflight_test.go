package preflight

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

func TestCheckSourceAccessible(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "f.txt")
	if err := os.WriteFile(file, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		path    string
		wantErr string
	}{
		{"existing directory", dir, ""},
		// Single-file inputs are valid sources, mirrored under their own name.
		{"existing file", file, ""},
		{"missing path", filepath.Join(dir, "gone"), "does not exist"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckSourceAccessible(tt.path)
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("got %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("got %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestCheckTargetAccessible(t *testing.T) {
	base := t.TempDir()
	t.Setenv("HOME", base)

	existing := filepath.Join(base, "dst")
	if err := os.MkdirAll(existing, 0755); err != nil {
		t.Fatal(err)
	}
	if err := CheckTargetAccessible(existing); err != nil {
		t.Errorf("existing destination under home rejected: %v", err)
	}

	// A missing destination is fine as long as an accessible ancestor is on a
	// valid mount; the skeleton is created later.
	missing := filepath.Join(base, "not", "yet", "there")
	if err := CheckTargetAccessible(missing); err != nil {
		t.Errorf("missing destination with valid ancestor rejected: %v", err)
	}

	file := filepath.Join(base, "f.txt")
	if err := os.WriteFile(file, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := CheckTargetAccessible(file); err == nil {
		t.Error("file destination accepted")
	}
}

func TestCheckTargetAccessibleRejectsSystemDisk(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("system-disk detection is a unix check")
	}
	// Point HOME away so the home-directory allowance does not kick in.
	t.Setenv("HOME", t.TempDir())

	err := CheckTargetAccessible("/etc")
	if err == nil || !strings.Contains(err.Error(), "system disk") {
		t.Errorf("got %v, want the system-disk refusal", err)
	}
}

func TestCheckTargetWritable(t *testing.T) {
	base := t.TempDir()

	dst := filepath.Join(base, "fresh", "mirror")
	if err := CheckTargetWritable(dst); err != nil {
		t.Fatalf("writable destination rejected: %v", err)
	}
	if info, err := os.Stat(dst); err != nil || !info.IsDir() {
		t.Errorf("destination not created: %v", err)
	}
	entries, err := os.ReadDir(dst)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("write probe left debris: %v", entries)
	}
}

func TestCheckTargetWritableReadOnly(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("directory permissions are not enforced the same way on windows")
	}
	if os.Geteuid() == 0 {
		t.Skip("root ignores directory permissions")
	}
	base := t.TempDir()
	dst := filepath.Join(base, "ro")
	if err := os.Mkdir(dst, 0555); err != nil {
		t.Fatal(err)
	}
	if err := CheckTargetWritable(dst); err == nil {
		t.Error("read-only destination accepted")
	}
}

func TestDeepestExistingAncestor(t *testing.T) {
	base := t.TempDir()
	sub := filepath.Join(base, "a", "b")
	if err := os.MkdirAll(sub, 0755); err != nil {
		t.Fatal(err)
	}

	if got := deepestExistingAncestor(sub); got != sub {
		t.Errorf("existing path: got %q, want itself", got)
	}
	if got := deepestExistingAncestor(filepath.Join(sub, "c", "d")); got != sub {
		t.Errorf("missing path: got %q, want %q", got, sub)
	}
}
