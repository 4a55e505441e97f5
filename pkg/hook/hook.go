// Package hook runs the user's pre- and post-run shell commands.
// SECURITY: Commands are executed exactly as configured; they must come from
// a trusted configuration file.
package hook

import (
	"context"
	"fmt"
	"os"

	"github.com/paulschiretz/pgl-mirror/pkg/plog"
)

// RunAll executes the commands in order, piping their output through the
// process's stdout/stderr. The first failure stops the sequence; callers
// decide whether that is fatal (pre-run) or merely logged (post-run).
func RunAll(ctx context.Context, stage string, commands []string) error {
	for _, command := range commands {
		if err := ctx.Err(); err != nil {
			return err
		}
		plog.Info(fmt.Sprintf("Executing %s hook", stage), "command", command)

		cmd := shellCommand(ctx, command)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
		if err := cmd.Run(); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return fmt.Errorf("%s hook '%s' failed: %w", stage, command, err)
		}
	}
	return nil
}
