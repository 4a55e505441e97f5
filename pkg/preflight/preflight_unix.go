//go:build !windows

package preflight

import (
	"fmt"
	"os"
	"strings"

	"golang.org/x/sys/unix"
)

// platformValidateMountPoint rejects destinations that live on the root
// filesystem, which is the signature of an external drive that is not
// mounted: the mirror would silently fill the system disk instead.
// Paths under the user's home directory are allowed; mirroring into a local
// folder there is usually intentional.
func platformValidateMountPoint(path string) error {
	if home, err := os.UserHomeDir(); err == nil && home != "" && strings.HasPrefix(path, home) {
		return nil
	}

	deviceOf := func(p string) (uint64, error) {
		var st unix.Stat_t
		if err := unix.Stat(p, &st); err != nil {
			return 0, fmt.Errorf("could not stat %s: %w", p, err)
		}
		return uint64(st.Dev), nil
	}

	rootDev, err := deviceOf("/")
	if err != nil {
		return err
	}
	pathDev, err := deviceOf(path)
	if err != nil {
		return err
	}
	if pathDev == rootDev && path != "/" {
		return fmt.Errorf("destination %s is on the system disk; make sure the destination drive is mounted", path)
	}
	return nil
}
