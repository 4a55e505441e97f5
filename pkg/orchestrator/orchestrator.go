// Package orchestrator drives a full mirror run: every configured entry
// against every one of its destinations, strictly one pair at a time. Each
// pair goes through preflight, locking, tree scan, space check, apply and
// finalization; per-file trouble is counted and survived, while an
// infeasible space check stops the entire run before any further pair can
// make things worse.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/paulschiretz/pgl-mirror/pkg/config"
	"github.com/paulschiretz/pgl-mirror/pkg/hook"
	"github.com/paulschiretz/pgl-mirror/pkg/lockfile"
	"github.com/paulschiretz/pgl-mirror/pkg/marker"
	"github.com/paulschiretz/pgl-mirror/pkg/mirrorapply"
	"github.com/paulschiretz/pgl-mirror/pkg/pathdiff"
	"github.com/paulschiretz/pgl-mirror/pkg/plog"
	"github.com/paulschiretz/pgl-mirror/pkg/preflight"
	"github.com/paulschiretz/pgl-mirror/pkg/runstate"
	"github.com/paulschiretz/pgl-mirror/pkg/space"
	"github.com/paulschiretz/pgl-mirror/pkg/util"
)

// Orchestrator owns one run over a validated configuration.
type Orchestrator struct {
	cfg     *config.Configuration
	tracker *runstate.Tracker
	state   atomic.Int64
}

// New builds an orchestrator publishing progress to sink; a nil sink runs
// headless.
func New(cfg *config.Configuration, sink runstate.Sink) *Orchestrator {
	return &Orchestrator{
		cfg:     cfg,
		tracker: runstate.NewTracker(sink),
	}
}

// State returns the current phase; safe from other goroutines.
func (o *Orchestrator) State() State {
	return State(o.state.Load())
}

// Counters returns a snapshot of the current pair's counters.
func (o *Orchestrator) Counters() runstate.Counters {
	return o.tracker.Counters()
}

func (o *Orchestrator) setState(s State) {
	o.state.Store(int64(s))
	o.tracker.SetStatus(s.String())
}

// Run executes the full mirror run. It returns nil when every pair was
// processed (even with per-file errors, which are in the counters), and an
// error when the run was halted: cancellation, a fatal scan failure, or a
// destination volume that cannot hold its plan.
func (o *Orchestrator) Run(ctx context.Context) error {
	if err := o.cfg.Validate(); err != nil {
		o.setState(Errored)
		return fmt.Errorf("configuration rejected: %w", err)
	}

	if err := hook.RunAll(ctx, "pre-run", o.cfg.Run.Hooks.PreRun); err != nil {
		o.setState(Errored)
		return fmt.Errorf("pre-run hook failed: %w", err)
	}
	defer func() {
		if err := hook.RunAll(context.Background(), "post-run", o.cfg.Run.Hooks.PostRun); err != nil {
			plog.Warn("Post-run hook failed", "error", err)
		}
	}()

	bufferBytes := int64(o.cfg.Run.BufferSizeKB) * 1024
	classifier := pathdiff.NewClassifier(
		int64(o.cfg.Run.LargeFileThresholdMB)*1024*1024,
		time.Duration(o.cfg.Run.ModTimeWindowSeconds)*time.Second,
		bufferBytes,
	)
	applier := mirrorapply.NewApplier(bufferBytes, o.tracker)

	for _, entry := range o.cfg.Entries {
		for _, output := range entry.Outputs {
			if err := o.runPair(ctx, classifier, applier, entry, output); err != nil {
				o.setState(Errored)
				return err
			}
		}
	}

	o.setState(Done)
	plog.Info("Mirror run completed", "pairs", o.tracker.Counters().PairIndex)
	return nil
}

// runPair mirrors one input into one destination. A nil return means the run
// moves on to the next pair; skipped pairs (preflight refused, destination
// locked) count an error but do not halt the run.
func (o *Orchestrator) runPair(ctx context.Context, classifier *pathdiff.Classifier, applier *mirrorapply.Applier, entry config.Entry, output string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	o.tracker.ResetPair()
	o.tracker.NextPair()
	o.setState(Preparing)
	start := time.Now()

	plog.Info("Mirroring", "input", entry.Input, "output", output)

	if err := preflight.CheckSourceAccessible(entry.Input); err != nil {
		plog.Error("Skipping pair, input not usable", "input", entry.Input, "error", err)
		o.tracker.RecordError(err.Error())
		return nil
	}
	if err := preflight.CheckTargetAccessible(output); err != nil {
		plog.Error("Skipping pair, destination not usable", "output", output, "error", err)
		o.tracker.RecordError(err.Error())
		return nil
	}
	if err := preflight.CheckTargetWritable(output); err != nil {
		plog.Error("Skipping pair, destination not writable", "output", output, "error", err)
		o.tracker.RecordError(err.Error())
		return nil
	}

	lock, err := lockfile.Acquire(ctx, output)
	if err != nil {
		if errors.Is(err, lockfile.ErrLocked) {
			plog.Warn("Skipping pair, destination in use", "output", output, "details", err)
			o.tracker.RecordError(err.Error())
			return nil
		}
		return fmt.Errorf("could not lock destination %s: %w", output, err)
	}
	defer lock.Release()

	walker := pathdiff.NewWalker(classifier, o.tracker, entry.Exclusions,
		[]string{marker.FileName, lockfile.LockFileName})
	plan, err := walker.Walk(entry.Input, output)
	if err != nil {
		// A tree we cannot list is a tree we cannot mirror safely.
		return fmt.Errorf("preparation failed for %s: %w", entry.Input, err)
	}

	o.setState(SpaceChecking)
	report, err := space.Check(plan, output)
	if err != nil {
		return fmt.Errorf("space check failed for %s: %w", output, err)
	}
	plog.Debug("Space check",
		"volume", report.VolumePath,
		"free", util.ByteCountIEC(report.FreeBytes),
		"netDelta", util.ByteCountIEC(report.NetDeltaBytes),
		"remaining", util.ByteCountIEC(report.RemainingBytes))
	if spaceErr := report.Err(); spaceErr != nil {
		// Halts the whole run: later pairs on the same volume would only
		// dig the hole deeper.
		return spaceErr
	}

	o.setState(Applying)
	failures, err := applier.Apply(ctx, plan)
	if err != nil {
		return err
	}

	o.setState(Finalizing)
	if err := marker.Write(output, time.Now()); err != nil {
		plog.Warn("Could not write confirmation marker", "output", output, "error", err)
		o.tracker.RecordError(err.Error())
	}

	c := o.tracker.Counters()
	plog.Info("Pair completed",
		"input", entry.Input,
		"output", output,
		"elapsed", time.Since(start).Truncate(time.Millisecond).String(),
		"processed", c.Processed,
		"new", c.New,
		"modified", c.Modified,
		"deleted", c.Deleted,
		"errors", c.Errors,
		"netDelta", util.ByteCountIEC(plan.NetDeltaBytes()))
	if failures > 0 {
		plog.Warn("Pair finished with failures", "output", output, "failures", failures)
	}
	return nil
}
