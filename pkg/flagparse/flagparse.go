// Package flagparse turns os.Args into a subcommand plus a map of the flags
// the user actually set. Only explicitly set flags end up in the map, so the
// caller can layer them over the saved configuration without clobbering file
// values with flag defaults.
package flagparse

import (
	"flag"
	"fmt"
	"strings"

	"github.com/paulschiretz/pgl-mirror/pkg/buildinfo"
)

// cliFlags holds pointers to all possible command-line flags. Fields are
// pointers so "not registered for this command" (nil) is distinguishable from
// "registered but left at default".
type cliFlags struct {
	// Global
	LogLevel *string
	Quiet    *bool

	// Shared: commands operating on a named configuration
	ConfigName *string
	ConfigsDir *string

	// Backup overrides
	BufferSizeKB  *int
	ModTimeWindow *int
	LargeFileMB   *int
	LogKeepPlain  *int
	LogKeepComp   *int
	LogFormat     *string

	// Init specific
	Input   *string
	Outputs *string
	Force   *bool
}

func registerGlobalFlags(fs *flag.FlagSet, f *cliFlags) {
	f.LogLevel = fs.String("log-level", "info", "Set the logging level: 'debug', 'notice', 'info', 'warn', 'error'.")
	f.Quiet = fs.Bool("quiet", false, "Suppress informational console output.")
}

func registerConfigFlags(fs *flag.FlagSet, f *cliFlags) {
	f.ConfigName = fs.String("config", "default", "Name of the saved configuration to use.")
	f.ConfigsDir = fs.String("configs-dir", "configs", "Directory holding saved configurations.")
}

func registerBackupFlags(fs *flag.FlagSet, f *cliFlags) {
	registerConfigFlags(fs, f)
	f.BufferSizeKB = fs.Int("buffer-size-kb", 0, "Size of the I/O buffer in kilobytes for comparisons and copies.")
	f.ModTimeWindow = fs.Int("mod-time-window", 0, "Time window in seconds to consider large-file modification times equal.")
	f.LargeFileMB = fs.Int("large-file-threshold-mb", 0, "File size in megabytes above which contents are never compared.")
	f.LogKeepPlain = fs.Int("log-keep-plain", 0, "Number of recent run logs kept as plain text.")
	f.LogKeepComp = fs.Int("log-keep-compressed", 0, "Number of older run logs kept compressed.")
	f.LogFormat = fs.String("log-format", "", "Compression for archived run logs: 'gzip' or 'zstd'.")
}

func registerInitFlags(fs *flag.FlagSet, f *cliFlags) {
	registerConfigFlags(fs, f)
	f.Input = fs.String("input", "", "Source directory for the first entry.")
	f.Outputs = fs.String("outputs", "", "Comma-separated destination roots for the first entry.")
	f.Force = fs.Bool("force", false, "Overwrite an existing configuration of the same name.")
}

// Parse parses the provided arguments (usually os.Args[1:]) and returns the
// command plus a map of the explicitly set flag values.
func Parse(args []string) (Command, map[string]any, error) {
	if len(args) == 0 {
		printTopLevelUsage()
		return None, nil, nil
	}

	cmdStr := strings.ToLower(args[0])
	if cmdStr == "help" || cmdStr == "-h" || cmdStr == "-help" || cmdStr == "--help" {
		printTopLevelUsage()
		return None, nil, nil
	}

	command, err := ParseCommand(cmdStr)
	if err != nil {
		return None, nil, err
	}

	f := &cliFlags{}
	fs := flag.NewFlagSet(command.String(), flag.ContinueOnError)

	switch command {
	case Backup:
		registerGlobalFlags(fs, f)
		registerBackupFlags(fs, f)
		fs.Usage = func() {
			printSubcommandUsage(command, "Mirror every configured input to its destinations.", fs)
		}
	case Show:
		registerGlobalFlags(fs, f)
		registerConfigFlags(fs, f)
		fs.Usage = func() {
			printSubcommandUsage(command, "Print a saved configuration.", fs)
		}
	case Init:
		registerGlobalFlags(fs, f)
		registerInitFlags(fs, f)
		fs.Usage = func() {
			printSubcommandUsage(command, "Create a new named configuration.", fs)
		}
	case Drives:
		registerGlobalFlags(fs, f)
		fs.Usage = func() {
			printSubcommandUsage(command, "List mounted volumes and their free space.", fs)
		}
	case Version:
		return command, map[string]any{}, nil
	}

	if err := fs.Parse(args[1:]); err != nil {
		return command, nil, err
	}
	return command, flagsToMap(fs, f), nil
}

// flagsToMap collects only the flags the user explicitly set.
func flagsToMap(fs *flag.FlagSet, f *cliFlags) map[string]any {
	usedFlags := make(map[string]bool)
	fs.Visit(func(fl *flag.Flag) { usedFlags[fl.Name] = true })

	flagMap := make(map[string]any)
	addIfUsed(flagMap, usedFlags, "log-level", f.LogLevel)
	addIfUsed(flagMap, usedFlags, "quiet", f.Quiet)
	addIfUsed(flagMap, usedFlags, "config", f.ConfigName)
	addIfUsed(flagMap, usedFlags, "configs-dir", f.ConfigsDir)
	addIfUsed(flagMap, usedFlags, "buffer-size-kb", f.BufferSizeKB)
	addIfUsed(flagMap, usedFlags, "mod-time-window", f.ModTimeWindow)
	addIfUsed(flagMap, usedFlags, "large-file-threshold-mb", f.LargeFileMB)
	addIfUsed(flagMap, usedFlags, "log-keep-plain", f.LogKeepPlain)
	addIfUsed(flagMap, usedFlags, "log-keep-compressed", f.LogKeepComp)
	addIfUsed(flagMap, usedFlags, "log-format", f.LogFormat)
	addIfUsed(flagMap, usedFlags, "input", f.Input)
	addIfUsed(flagMap, usedFlags, "outputs", f.Outputs)
	addIfUsed(flagMap, usedFlags, "force", f.Force)
	return flagMap
}

// addIfUsed dereferences the flag pointer into the map, but only when the
// flag was registered for this command and explicitly set by the user.
func addIfUsed[T any](flagMap map[string]any, usedFlags map[string]bool, name string, value *T) {
	if value == nil || !usedFlags[name] {
		return
	}
	flagMap[name] = *value
}

func printTopLevelUsage() {
	out := flag.CommandLine.Output()
	fmt.Fprintf(out, "Usage of %s (version %s):\n", buildinfo.Name, buildinfo.Version)
	fmt.Fprintf(out, "A mirror backup utility for external and network drives.\n\n")
	fmt.Fprintf(out, "Commands:\n")
	fmt.Fprintf(out, "  backup    Mirror every configured input to its destinations.\n")
	fmt.Fprintf(out, "  show      Print a saved configuration.\n")
	fmt.Fprintf(out, "  init      Create a new named configuration.\n")
	fmt.Fprintf(out, "  drives    List mounted volumes and their free space.\n")
	fmt.Fprintf(out, "  version   Print the application version.\n\n")
	fmt.Fprintf(out, "Run '%s <command> -h' for command-specific flags.\n", strings.ToLower(buildinfo.Name))
}

func printSubcommandUsage(command Command, description string, fs *flag.FlagSet) {
	out := fs.Output()
	fmt.Fprintf(out, "Usage: %s %s [flags]\n%s\n\nFlags:\n", strings.ToLower(buildinfo.Name), command, description)
	fs.PrintDefaults()
}
