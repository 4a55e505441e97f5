// Package marker writes the confirmation file that proves a destination root
// holds a completed mirror. The file name is reserved: the tree walk spares
// it from deletion, but only at the destination root itself.
package marker

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/paulschiretz/pgl-mirror/pkg/util"
)

// FileName is the reserved confirmation file name at each destination root.
const FileName = ".pgl-mirror.confirmation.txt"

// timeLayout is the human-readable timestamp format inside the marker.
const timeLayout = "2006-01-02 15:04:05 MST"

// Write stamps the destination root with the completion time of a successful
// mirror pass, replacing any previous marker.
func Write(dstRoot string, completedAt time.Time) error {
	path := filepath.Join(dstRoot, FileName)
	body := fmt.Sprintf("Mirror completed successfully at %s\n", completedAt.Format(timeLayout))
	if err := os.WriteFile(path, []byte(body), util.UserWritableFilePerms); err != nil {
		return fmt.Errorf("could not write confirmation marker %s: %w", path, err)
	}
	return nil
}

// Read returns the completion time recorded at dstRoot. A missing marker
// yields os.ErrNotExist via the wrapped error.
func Read(dstRoot string) (time.Time, error) {
	path := filepath.Join(dstRoot, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return time.Time{}, fmt.Errorf("could not read confirmation marker %s: %w", path, err)
	}
	line := strings.TrimSpace(string(data))
	const prefix = "Mirror completed successfully at "
	if !strings.HasPrefix(line, prefix) {
		return time.Time{}, fmt.Errorf("confirmation marker %s has unexpected contents", path)
	}
	ts, err := time.Parse(timeLayout, strings.TrimPrefix(line, prefix))
	if err != nil {
		return time.Time{}, fmt.Errorf("confirmation marker %s has an unreadable timestamp: %w", path, err)
	}
	return ts, nil
}
