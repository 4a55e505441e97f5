//go:build windows

package preflight

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// platformValidateMountPoint verifies the drive or share root of the path
// exists, e.g. `Z:\` for `Z:\mirror`. A missing root means the drive is not
// connected.
func platformValidateMountPoint(path string) error {
	volume := filepath.VolumeName(path)
	if volume == "" {
		return nil
	}
	root := volume
	if !strings.HasSuffix(root, string(filepath.Separator)) {
		root += string(filepath.Separator)
	}
	if _, err := os.Stat(filepath.Clean(root)); os.IsNotExist(err) {
		return fmt.Errorf("volume root %s does not exist; make sure the drive is connected", root)
	}
	return nil
}
