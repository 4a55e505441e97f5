// Package preflight validates an input/output pair before the mirror touches
// anything. The checks turn the usual cryptic filesystem errors into
// actionable messages, and catch the classic external-drive mistake: writing
// a full mirror into an unmounted "ghost" directory on the system disk.
package preflight

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/paulschiretz/pgl-mirror/pkg/util"
)

// CheckSourceAccessible verifies the input path exists. Both directory and
// single-file inputs are valid sources.
func CheckSourceAccessible(srcPath string) error {
	info, err := os.Stat(srcPath)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("input path %s does not exist", srcPath)
		}
		return fmt.Errorf("cannot access input path %s: %w", srcPath, err)
	}
	if !info.IsDir() && !info.Mode().IsRegular() {
		return fmt.Errorf("input path %s is neither a directory nor a regular file", srcPath)
	}
	return nil
}

// CheckTargetAccessible verifies the destination is usable: its volume is
// present, the path (or its deepest existing ancestor) is a real mount rather
// than a leftover directory on the system disk, and a missing destination has
// an accessible parent for the skeleton creation to build on.
func CheckTargetAccessible(dstPath string) error {
	info, err := os.Stat(dstPath)
	if os.IsNotExist(err) {
		ancestor := deepestExistingAncestor(dstPath)
		if ancestor == "" {
			return fmt.Errorf("no accessible ancestor for destination %s", dstPath)
		}
		if err := platformValidateMountPoint(ancestor); err != nil {
			return err
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("cannot access destination %s: %w", dstPath, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("destination %s exists but is not a directory", dstPath)
	}
	return platformValidateMountPoint(dstPath)
}

// CheckTargetWritable creates the destination root if needed and proves it is
// writable with a create/delete round trip.
func CheckTargetWritable(dstPath string) error {
	if err := os.MkdirAll(dstPath, util.UserWritableDirPerms); err != nil {
		return fmt.Errorf("could not create destination %s: %w", dstPath, err)
	}
	probe := filepath.Join(dstPath, ".pgl-mirror-writetest.tmp")
	f, err := os.Create(probe)
	if err != nil {
		return fmt.Errorf("destination %s is not writable: %w", dstPath, err)
	}
	f.Close()
	_ = os.Remove(probe)
	return nil
}

// deepestExistingAncestor walks up from path to the first directory that
// actually exists; empty when nothing up to the root is accessible.
func deepestExistingAncestor(path string) string {
	current := path
	for {
		if _, err := os.Stat(current); err == nil {
			return current
		}
		parent := filepath.Dir(current)
		if parent == current {
			return ""
		}
		current = parent
	}
}
