package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"github.com/paulschiretz/pgl-mirror/pkg/config"
	"github.com/paulschiretz/pgl-mirror/pkg/orchestrator"
	"github.com/paulschiretz/pgl-mirror/pkg/plog"
	"github.com/paulschiretz/pgl-mirror/pkg/runlog"
	"github.com/paulschiretz/pgl-mirror/pkg/runstate"
)

func runBackup(ctx context.Context, flagMap map[string]any) int {
	dir, name := configSelection(flagMap)

	cfg, err := config.Load(dir, name)
	if err != nil {
		plog.Error("Could not load configuration", "name", name, "error", err)
		return 1
	}
	if err := cfg.ApplyOverrides(flagMap); err != nil {
		plog.Error("Invalid flag override", "error", err)
		return 2
	}
	if _, ok := flagMap["log-level"]; !ok {
		plog.SetLevel(plog.LevelFromString(cfg.Run.LogLevel))
	}

	rl, err := runlog.Open(".")
	if err != nil {
		// The mirror matters more than its log file.
		plog.Warn("Could not open run log, continuing without it", "error", err)
		rl = nil
	}

	sink := runstate.NewChannelSink(256)
	orch := orchestrator.New(cfg, sink)

	// The engine and the progress renderer run side by side; the renderer
	// owns the terminal, the engine never blocks on it.
	renderCtx, stopRender := context.WithCancel(context.Background())
	g, runCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer stopRender()
		return orch.Run(runCtx)
	})
	g.Go(func() error {
		renderEvents(renderCtx, sink.C)
		return nil
	})
	runErr := g.Wait()

	if rl != nil {
		if err := rl.Close(); err != nil {
			plog.Warn("Could not close run log", "error", err)
		}
		applyLogRetention(cfg)
	}

	c := orch.Counters()
	plog.Info("Run summary",
		"state", orch.State().String(),
		"pairs", c.PairIndex,
		"errors", c.Errors)

	if runErr != nil {
		plog.Error("Mirror run failed", "error", runErr)
		return 1
	}
	if c.Errors > 0 {
		return 1
	}
	return 0
}

func applyLogRetention(cfg *config.Configuration) {
	format, err := runlog.ParseFormat(cfg.Run.Logs.Format)
	if err != nil {
		plog.Warn("Invalid run-log format, defaulting to gzip", "error", err)
		format = runlog.Gzip
	}
	policy := runlog.Retention{
		KeepPlain:      cfg.Run.Logs.KeepPlain,
		KeepCompressed: cfg.Run.Logs.KeepCompressed,
		Format:         format,
	}
	if err := runlog.Apply(".", policy); err != nil {
		plog.Warn("Run-log retention failed", "error", err)
	}
}

// renderEvents consumes progress events until the run ends. On a terminal it
// keeps a single status line in place; otherwise the structured log already
// tells the story and the events are simply drained.
func renderEvents(ctx context.Context, events <-chan runstate.Event) {
	interactive := term.IsTerminal(int(os.Stdout.Fd())) && !plog.IsQuiet()
	var lineWidth int
	defer func() {
		if interactive && lineWidth > 0 {
			fmt.Printf("\r%s\r", strings.Repeat(" ", lineWidth))
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case e := <-events:
			if !interactive {
				continue
			}
			c := e.Counters
			line := fmt.Sprintf("[pair %d] %s  %.0f%% (%d/%d, errors %d)",
				c.PairIndex, c.Status, c.ProgressPercent(), c.Progress, c.Marked, c.Errors)
			if pad := lineWidth - len(line); pad > 0 {
				line += strings.Repeat(" ", pad)
			}
			lineWidth = len(line)
			fmt.Printf("\r%s", line)
		}
	}
}
