package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/paulschiretz/pgl-mirror/pkg/buildinfo"
	"github.com/paulschiretz/pgl-mirror/pkg/config"
	"github.com/paulschiretz/pgl-mirror/pkg/flagparse"
	"github.com/paulschiretz/pgl-mirror/pkg/plog"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	command, flagMap, err := flagparse.Parse(args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	switch command {
	case flagparse.None:
		return 0
	case flagparse.Version:
		fmt.Printf("%s %s\n", buildinfo.Name, buildinfo.Version)
		return 0
	}

	if lvl, ok := flagMap["log-level"].(string); ok {
		plog.SetLevel(plog.LevelFromString(lvl))
	}
	if quiet, ok := flagMap["quiet"].(bool); ok {
		plog.SetQuiet(quiet)
	}

	// A first Ctrl+C cancels the run cooperatively; a second one kills us.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch command {
	case flagparse.Backup:
		return runBackup(ctx, flagMap)
	case flagparse.Show:
		return runShow(flagMap)
	case flagparse.Init:
		return runInit(flagMap)
	case flagparse.Drives:
		return runDrives()
	}
	return 0
}

// configSelection resolves the named configuration the flags point at.
func configSelection(flagMap map[string]any) (dir, name string) {
	dir = config.DefaultConfigsDirName
	name = "default"
	if d, ok := flagMap["configs-dir"].(string); ok {
		dir = d
	}
	if n, ok := flagMap["config"].(string); ok {
		name = n
	}
	return dir, name
}
