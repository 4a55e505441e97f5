package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/paulschiretz/pgl-mirror/pkg/rules"
)

func mkdir(t *testing.T, path string) string {
	t.Helper()
	if err := os.MkdirAll(path, 0755); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestNewEntryRejectsMissingInput(t *testing.T) {
	cfg := Default()
	if _, err := cfg.NewEntry(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("expected an error for a non-existent input")
	}
}

func TestNewEntryRejectsDuplicateInput(t *testing.T) {
	base := t.TempDir()
	data := mkdir(t, filepath.Join(base, "data"))

	cfg := Default()
	if _, err := cfg.NewEntry(data); err != nil {
		t.Fatal(err)
	}
	_, err := cfg.NewEntry(data)
	if !errors.Is(err, ErrDuplicateInput) {
		t.Errorf("got %v, want ErrDuplicateInput", err)
	}
}

func TestCyclicEntryDetection(t *testing.T) {
	base := t.TempDir()
	data := mkdir(t, filepath.Join(base, "data"))
	backup := mkdir(t, filepath.Join(base, "backup"))

	cfg := Default()
	if _, err := cfg.NewEntry(data); err != nil {
		t.Fatal(err)
	}
	if err := cfg.AddOutput(0, filepath.Join(backup, "data")); err != nil {
		t.Fatal(err)
	}

	// The backup directory contains entry 0's destination; mirroring it
	// would grow during its own backup.
	_, err := cfg.NewEntry(backup)
	if !errors.Is(err, ErrCyclicEntry) {
		t.Errorf("NewEntry(%s) = %v, want ErrCyclicEntry", backup, err)
	}
}

func TestAddOutputRejectsOverlapWithOwnInput(t *testing.T) {
	base := t.TempDir()
	data := mkdir(t, filepath.Join(base, "data"))

	cfg := Default()
	if _, err := cfg.NewEntry(data); err != nil {
		t.Fatal(err)
	}
	tests := []string{
		filepath.Join(data, "mirror"), // inside the input
		data,                          // the input itself
		base,                          // ancestor of the input
	}
	for _, out := range tests {
		if err := cfg.AddOutput(0, out); !errors.Is(err, ErrCyclicEntry) {
			t.Errorf("AddOutput(%s) = %v, want ErrCyclicEntry", out, err)
		}
	}
}

func TestAddOutputRejectsDuplicates(t *testing.T) {
	base := t.TempDir()
	data := mkdir(t, filepath.Join(base, "data"))
	dst := filepath.Join(base, "dst")

	cfg := Default()
	if _, err := cfg.NewEntry(data); err != nil {
		t.Fatal(err)
	}
	if err := cfg.AddOutput(0, dst); err != nil {
		t.Fatal(err)
	}
	if err := cfg.AddOutput(0, dst); err == nil {
		t.Error("expected an error for a duplicate output")
	}
}

func TestValidate(t *testing.T) {
	base := t.TempDir()
	data := mkdir(t, filepath.Join(base, "data"))

	t.Run("no entries", func(t *testing.T) {
		if err := Default().Validate(); err == nil {
			t.Error("expected an error for an empty configuration")
		}
	})

	t.Run("entry without outputs", func(t *testing.T) {
		cfg := Default()
		if _, err := cfg.NewEntry(data); err != nil {
			t.Fatal(err)
		}
		if err := cfg.Validate(); err == nil {
			t.Error("expected an error for an entry without outputs")
		}
	})

	t.Run("valid configuration", func(t *testing.T) {
		cfg := Default()
		if _, err := cfg.NewEntry(data); err != nil {
			t.Fatal(err)
		}
		if err := cfg.AddOutput(0, filepath.Join(base, "dst")); err != nil {
			t.Fatal(err)
		}
		if err := cfg.Validate(); err != nil {
			t.Errorf("Validate() = %v, want nil", err)
		}
	})

	t.Run("unknown exclusion code", func(t *testing.T) {
		cfg := Default()
		if _, err := cfg.NewEntry(data); err != nil {
			t.Fatal(err)
		}
		if err := cfg.AddOutput(0, filepath.Join(base, "dst2")); err != nil {
			t.Fatal(err)
		}
		cfg.Entries[0].Exclusions = append(cfg.Entries[0].Exclusions, rules.Exclusion{Code: "regex", Data: ".*"})
		if err := cfg.Validate(); err == nil {
			t.Error("expected an error for an unknown exclusion code")
		}
	})
}

func TestAddExclusionValidatesCodes(t *testing.T) {
	base := t.TempDir()
	data := mkdir(t, filepath.Join(base, "data"))

	cfg := Default()
	if _, err := cfg.NewEntry(data); err != nil {
		t.Fatal(err)
	}
	if err := cfg.AddExclusion(0, rules.Exclusion{Code: "bogus"}); err == nil {
		t.Error("expected an error for an unknown exclusion code")
	}
	if err := cfg.AddExclusion(0, rules.Exclusion{
		Code:       "ext",
		Data:       ".iso",
		Limitation: &rules.Limitation{Code: "bogus"},
	}); err == nil {
		t.Error("expected an error for an unknown limitation code")
	}
	if err := cfg.AddExclusion(0, rules.Exclusion{Code: "ext", Data: ".iso"}); err != nil {
		t.Errorf("AddExclusion() = %v, want nil", err)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	base := t.TempDir()
	data := mkdir(t, filepath.Join(base, "data"))
	configsDir := filepath.Join(base, "configs")

	cfg := Default()
	if _, err := cfg.NewEntry(data); err != nil {
		t.Fatal(err)
	}
	if err := cfg.AddOutput(0, filepath.Join(base, "dst")); err != nil {
		t.Fatal(err)
	}
	if err := cfg.AddExclusion(0, rules.Exclusion{
		Code:       "ext",
		Data:       ".iso",
		Limitation: &rules.Limitation{Code: "sub", Data: data},
	}); err != nil {
		t.Fatal(err)
	}
	cfg.Run.BufferSizeKB = 512

	if err := Save(cfg, configsDir, "media"); err != nil {
		t.Fatal(err)
	}
	if !Exists(configsDir, "media") {
		t.Fatal("Exists() = false after Save")
	}

	loaded, err := Load(configsDir, "media")
	if err != nil {
		t.Fatal(err)
	}
	if len(loaded.Entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(loaded.Entries))
	}
	if loaded.Entries[0].Input != cfg.Entries[0].Input {
		t.Errorf("input = %q, want %q", loaded.Entries[0].Input, cfg.Entries[0].Input)
	}
	if loaded.Run.BufferSizeKB != 512 {
		t.Errorf("bufferSizeKB = %d, want 512", loaded.Run.BufferSizeKB)
	}
	if loaded.Run.ModTimeWindowSeconds != 2 {
		t.Errorf("modTimeWindowSeconds = %d, want the default 2", loaded.Run.ModTimeWindowSeconds)
	}
	lim := loaded.Entries[0].Exclusions[0].Limitation
	if lim == nil || lim.Code != "sub" {
		t.Errorf("limitation = %+v, want sub", lim)
	}

	names, err := SavedNames(configsDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(names) != 1 || names[0] != "media" {
		t.Errorf("SavedNames() = %v, want [media]", names)
	}
}

func TestSavedNamesMissingDir(t *testing.T) {
	names, err := SavedNames(filepath.Join(t.TempDir(), "nope"))
	if err != nil || names != nil {
		t.Errorf("SavedNames() = (%v, %v), want (nil, nil)", names, err)
	}
}

func TestApplyOverrides(t *testing.T) {
	cfg := Default()
	err := cfg.ApplyOverrides(map[string]any{
		"buffer-size-kb":  1024,
		"mod-time-window": 5,
		"log-level":       "debug",
		"config":          "ignored-cli-key",
	})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Run.BufferSizeKB != 1024 || cfg.Run.ModTimeWindowSeconds != 5 || cfg.Run.LogLevel != "debug" {
		t.Errorf("overrides not applied: %+v", cfg.Run)
	}

	if err := cfg.ApplyOverrides(map[string]any{"buffer-size-kb": "notanint"}); err == nil {
		t.Error("expected a type error")
	}
}
