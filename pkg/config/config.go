// Package config holds the mirror configuration model: the list of backup
// entries (one source, its destinations and exclusions) plus the global run
// settings, with JSON persistence for named configurations.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/paulschiretz/pgl-mirror/pkg/rules"
	"github.com/paulschiretz/pgl-mirror/pkg/util"
)

// ConfigFileSuffix is appended to a configuration name to form its file name.
const ConfigFileSuffix = ".mirror.json"

// DefaultConfigsDirName is the directory (relative to the working directory)
// where named configurations are stored.
const DefaultConfigsDirName = "configs"

// ErrCyclicEntry is returned when an input/output combination would make a
// source tree contain (or be contained by) one of the configured destinations,
// causing unbounded growth during its own backup.
var ErrCyclicEntry = errors.New("cyclic entry: input and output paths overlap")

// ErrDuplicateInput is returned when an input path is already configured.
var ErrDuplicateInput = errors.New("input path is already configured")

// Entry is one backup source: an input path, its ordered destination roots,
// and the exclusions applied while walking it.
type Entry struct {
	Input      string            `json:"input"`
	Outputs    []string          `json:"outputs"`
	Exclusions []rules.Exclusion `json:"exclusions,omitempty"`
}

// ShouldExclude reports whether path is excluded by this entry's rules.
// dstPath may be empty when no destination context exists.
func (e *Entry) ShouldExclude(path, dstPath string) bool {
	return rules.ShouldExclude(e.Exclusions, path, dstPath)
}

// HooksConfig lists shell commands executed around a full run.
// SECURITY: These commands are executed as provided. Ensure they are from a
// trusted source.
type HooksConfig struct {
	PreRun  []string `json:"preRun"`
	PostRun []string `json:"postRun"`
}

// LogRetentionConfig controls the per-run log files kept under logs/.
type LogRetentionConfig struct {
	// KeepPlain is the number of most recent runs kept as plain text.
	KeepPlain int `json:"keepPlain"`
	// KeepCompressed is the number of older runs kept in compressed form.
	KeepCompressed int `json:"keepCompressed"`
	// Format selects the compression used for archived logs: "gzip" or "zstd".
	Format string `json:"format"`
}

// RunConfig carries the global knobs of the mirror engine.
type RunConfig struct {
	// ModTimeWindowSeconds is the tolerance when comparing modification times
	// of large files. Handles FAT/NTFS timestamp rounding. Default is 2s.
	ModTimeWindowSeconds int `json:"modTimeWindowSeconds"`
	// LargeFileThresholdMB is the size above which file equality is decided
	// from size and modification time alone, never from contents.
	LargeFileThresholdMB int `json:"largeFileThresholdMB"`
	// BufferSizeKB is the I/O buffer size for content comparison and copies.
	BufferSizeKB int                `json:"bufferSizeKB"`
	LogLevel     string             `json:"logLevel"`
	Hooks        HooksConfig        `json:"hooks"`
	Logs         LogRetentionConfig `json:"logs"`
}

// Configuration is a full named setup: every entry plus the run settings.
type Configuration struct {
	Entries []Entry   `json:"entries"`
	Run     RunConfig `json:"run"`
}

// Default returns a configuration with no entries and the stock run settings.
func Default() *Configuration {
	return &Configuration{
		Run: RunConfig{
			ModTimeWindowSeconds: 2,
			LargeFileThresholdMB: 50,
			BufferSizeKB:         256,
			LogLevel:             "info",
			Logs: LogRetentionConfig{
				KeepPlain:      3,
				KeepCompressed: 10,
				Format:         "gzip",
			},
		},
	}
}

// overlaps reports whether either path contains the other.
func overlaps(a, b string) bool {
	return util.IsPathPrefix(a, b) || util.IsPathPrefix(b, a)
}

// validateAgainstEntries rejects an input/output pairing that overlaps any
// configured path. Every input is checked against every output (its own
// entry's and all others'): a destination inside a source grows that source
// during its own backup, and a source inside a destination gets clobbered by
// the mirror's deletion pass.
func (c *Configuration) validateAgainstEntries(input string, outputs []string) error {
	for _, out := range outputs {
		if overlaps(input, out) {
			return fmt.Errorf("%w: input %s and output %s", ErrCyclicEntry, input, out)
		}
	}
	for _, entry := range c.Entries {
		for _, out := range outputs {
			if overlaps(entry.Input, out) {
				return fmt.Errorf("%w: existing input %s and output %s", ErrCyclicEntry, entry.Input, out)
			}
		}
		for _, out := range entry.Outputs {
			if overlaps(input, out) {
				return fmt.Errorf("%w: input %s and existing output %s", ErrCyclicEntry, input, out)
			}
		}
	}
	return nil
}

// NewEntry appends a new entry for the given input path. The path must exist
// and must not duplicate or overlap an existing entry.
func (c *Configuration) NewEntry(input string) (*Entry, error) {
	absInput, err := util.ExpandedAbsPath(input)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(absInput); err != nil {
		return nil, fmt.Errorf("input path %s is not accessible: %w", absInput, err)
	}
	for _, entry := range c.Entries {
		if entry.Input == absInput {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateInput, absInput)
		}
	}
	if err := c.validateAgainstEntries(absInput, nil); err != nil {
		return nil, err
	}
	c.Entries = append(c.Entries, Entry{Input: absInput})
	return &c.Entries[len(c.Entries)-1], nil
}

// AddOutput appends a destination root to the entry at index i.
func (c *Configuration) AddOutput(i int, output string) error {
	if i < 0 || i >= len(c.Entries) {
		return fmt.Errorf("no entry at index %d", i)
	}
	absOutput, err := util.ExpandedAbsPath(output)
	if err != nil {
		return err
	}
	entry := &c.Entries[i]
	for _, out := range entry.Outputs {
		if out == absOutput {
			return fmt.Errorf("output %s is already configured for %s", absOutput, entry.Input)
		}
	}
	// The new output must not overlap any input in the configuration.
	for j := range c.Entries {
		if overlaps(c.Entries[j].Input, absOutput) {
			return fmt.Errorf("%w: input %s and output %s", ErrCyclicEntry, c.Entries[j].Input, absOutput)
		}
	}
	entry.Outputs = append(entry.Outputs, absOutput)
	return nil
}

// AddExclusion appends an exclusion rule to the entry at index i.
func (c *Configuration) AddExclusion(i int, excl rules.Exclusion) error {
	if i < 0 || i >= len(c.Entries) {
		return fmt.Errorf("no entry at index %d", i)
	}
	if !rules.IsValidExclusionCode(excl.Code) {
		return fmt.Errorf("unknown exclusion code %q", excl.Code)
	}
	if excl.Limitation != nil && !rules.IsValidLimitationCode(excl.Limitation.Code) {
		return fmt.Errorf("unknown limitation code %q", excl.Limitation.Code)
	}
	c.Entries[i].Exclusions = append(c.Entries[i].Exclusions, excl)
	return nil
}

// Validate checks the whole configuration before a run: at least one entry,
// every entry with at least one output, inputs accessible, no overlaps.
func (c *Configuration) Validate() error {
	if len(c.Entries) == 0 {
		return errors.New("configuration has no entries")
	}
	seen := make(map[string]struct{}, len(c.Entries))
	for _, entry := range c.Entries {
		if _, dup := seen[entry.Input]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicateInput, entry.Input)
		}
		seen[entry.Input] = struct{}{}

		if len(entry.Outputs) == 0 {
			return fmt.Errorf("entry %s has no outputs", entry.Input)
		}
		if _, err := os.Stat(entry.Input); err != nil {
			return fmt.Errorf("input path %s is not accessible: %w", entry.Input, err)
		}
		for _, excl := range entry.Exclusions {
			if !rules.IsValidExclusionCode(excl.Code) {
				return fmt.Errorf("entry %s has unknown exclusion code %q", entry.Input, excl.Code)
			}
			if excl.Limitation != nil && !rules.IsValidLimitationCode(excl.Limitation.Code) {
				return fmt.Errorf("entry %s has unknown limitation code %q", entry.Input, excl.Limitation.Code)
			}
		}
		// Overlap check against every other entry's outputs.
		for j := range c.Entries {
			for _, out := range c.Entries[j].Outputs {
				if overlaps(entry.Input, out) {
					return fmt.Errorf("%w: input %s and output %s", ErrCyclicEntry, entry.Input, out)
				}
			}
		}
	}
	if c.Run.BufferSizeKB <= 0 {
		return errors.New("bufferSizeKB must be positive")
	}
	if c.Run.LargeFileThresholdMB <= 0 {
		return errors.New("largeFileThresholdMB must be positive")
	}
	if c.Run.ModTimeWindowSeconds < 0 {
		return errors.New("modTimeWindowSeconds must not be negative")
	}
	return nil
}

// ApplyOverrides layers explicitly set flag values over the run settings.
// Unknown keys are ignored; they belong to the CLI layer, not the run.
func (c *Configuration) ApplyOverrides(flagMap map[string]any) error {
	for name, value := range flagMap {
		var ok bool
		switch name {
		case "log-level":
			c.Run.LogLevel, ok = value.(string)
		case "buffer-size-kb":
			c.Run.BufferSizeKB, ok = value.(int)
		case "mod-time-window":
			c.Run.ModTimeWindowSeconds, ok = value.(int)
		case "large-file-threshold-mb":
			c.Run.LargeFileThresholdMB, ok = value.(int)
		case "log-keep-plain":
			c.Run.Logs.KeepPlain, ok = value.(int)
		case "log-keep-compressed":
			c.Run.Logs.KeepCompressed, ok = value.(int)
		case "log-format":
			c.Run.Logs.Format, ok = value.(string)
		default:
			continue
		}
		if !ok {
			return fmt.Errorf("flag %s has unexpected type %T", name, value)
		}
	}
	return nil
}

// configFilePath builds the path of a named configuration inside dir.
func configFilePath(dir, name string) string {
	return filepath.Join(dir, name+ConfigFileSuffix)
}

// Exists reports whether a configuration with the given name is saved in dir.
func Exists(dir, name string) bool {
	_, err := os.Stat(configFilePath(dir, name))
	return err == nil
}

// Save writes the configuration under the given name, overwriting any
// previous file of the same name.
func Save(cfg *Configuration, dir, name string) error {
	if err := os.MkdirAll(dir, util.UserWritableDirPerms); err != nil {
		return fmt.Errorf("could not create configs directory %s: %w", dir, err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("could not marshal configuration: %w", err)
	}
	path := configFilePath(dir, name)
	if err := os.WriteFile(path, data, util.UserWritableFilePerms); err != nil {
		return fmt.Errorf("could not write configuration %s: %w", path, err)
	}
	return nil
}

// Load reads a named configuration from dir. Missing run settings are filled
// with defaults so older files keep working.
func Load(dir, name string) (*Configuration, error) {
	path := configFilePath(dir, name)
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("could not open configuration %s: %w", path, err)
	}
	defer f.Close()

	cfg := Default()
	decoder := json.NewDecoder(f)
	if err := decoder.Decode(cfg); err != nil {
		return nil, fmt.Errorf("could not parse configuration %s: %w. It may be corrupt", path, err)
	}
	return cfg, nil
}

// SavedNames lists the names of all configurations stored in dir, sorted.
func SavedNames(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("could not read configs directory %s: %w", dir, err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ConfigFileSuffix) {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), ConfigFileSuffix))
	}
	sort.Strings(names)
	return names, nil
}

// DisplayString renders the configuration for the show command.
func (c *Configuration) DisplayString() string {
	if len(c.Entries) == 0 {
		return "(no entries)"
	}
	var b strings.Builder
	for i, entry := range c.Entries {
		fmt.Fprintf(&b, "%d: INPUT %s\n", i+1, entry.Input)
		for _, out := range entry.Outputs {
			fmt.Fprintf(&b, "   DESTINATION %s\n", out)
		}
		for _, excl := range entry.Exclusions {
			fmt.Fprintf(&b, "   EXCLUSION %s\n", rules.Describe(excl))
		}
	}
	return strings.TrimRight(b.String(), "\n")
}
