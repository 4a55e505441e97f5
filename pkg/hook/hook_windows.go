//go:build windows

package hook

import (
	"context"
	"os/exec"
)

// shellCommand wraps the command for cmd.exe.
func shellCommand(ctx context.Context, command string) *exec.Cmd {
	return exec.CommandContext(ctx, "cmd", "/C", command)
}
