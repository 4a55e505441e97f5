//go:build windows

package space

import (
	"fmt"
	"path/filepath"
)

// VolumeRoot resolves a path to its drive root, e.g. `D:\`.
func VolumeRoot(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("could not resolve %s: %w", path, err)
	}
	vol := filepath.VolumeName(abs)
	if vol == "" {
		return "", fmt.Errorf("no volume in path %s", abs)
	}
	return vol + string(filepath.Separator), nil
}
