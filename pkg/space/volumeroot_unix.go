//go:build unix

package space

import (
	"errors"
	"fmt"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// VolumeRoot resolves a path to the mount point of its filesystem by walking
// up until the device ID changes. Missing trailing components are skipped, so
// a destination that does not exist yet still resolves to its volume.
func VolumeRoot(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("could not resolve %s: %w", path, err)
	}

	current := abs
	var st unix.Stat_t
	for {
		err := unix.Stat(current, &st)
		if err == nil {
			break
		}
		if !errors.Is(err, unix.ENOENT) {
			return "", fmt.Errorf("could not stat %s: %w", current, err)
		}
		parent := filepath.Dir(current)
		if parent == current {
			return "", fmt.Errorf("no existing ancestor for %s", abs)
		}
		current = parent
	}

	dev := st.Dev
	for {
		parent := filepath.Dir(current)
		if parent == current {
			return current, nil
		}
		var pst unix.Stat_t
		if err := unix.Stat(parent, &pst); err != nil {
			return "", fmt.Errorf("could not stat %s: %w", parent, err)
		}
		if pst.Dev != dev {
			return current, nil
		}
		current = parent
	}
}
