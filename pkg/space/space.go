// Package space verifies that a mirror plan fits on the destination volume
// before anything is mutated, and provides the volume scan behind the drives
// command.
package space

import (
	"errors"
	"fmt"

	"github.com/shirou/gopsutil/v3/disk"

	"github.com/paulschiretz/pgl-mirror/pkg/pathdiff"
	"github.com/paulschiretz/pgl-mirror/pkg/util"
)

// ErrInsufficientSpace is returned when the destination volume cannot hold
// the planned mirror. It halts the whole run, not just the current pair.
var ErrInsufficientSpace = errors.New("insufficient space on destination volume")

// Report is the outcome of one feasibility check.
type Report struct {
	// Fits is true when the volume holds the plan with room to spare.
	Fits bool
	// FreeBytes is the volume's free space before the run.
	FreeBytes int64
	// RemainingBytes is the simulated free space after the full plan.
	RemainingBytes int64
	// NetDeltaBytes is the plan's size change on the destination.
	NetDeltaBytes int64
	// VolumePath is the mount point the numbers refer to.
	VolumePath string
}

// Err returns nil when the plan fits, otherwise an ErrInsufficientSpace
// wrapped with the volume and the shortfall.
func (r Report) Err() error {
	if r.Fits {
		return nil
	}
	shortfall := -r.RemainingBytes
	if shortfall < 0 {
		shortfall = 0
	}
	return fmt.Errorf("%w: %s is short %s (free %s, plan needs %s more)",
		ErrInsufficientSpace, r.VolumePath,
		util.ByteCountIEC(shortfall), util.ByteCountIEC(r.FreeBytes),
		util.ByteCountIEC(r.NetDeltaBytes))
}

// Check simulates the plan against the destination volume's free space.
// Deletions are credited first and new files debited in one step; changed
// files are then replayed one by one. The verdict depends only on the final
// balance, since later overwrites may shrink files and win space back.
func Check(plan *pathdiff.Plan, dstRoot string) (Report, error) {
	volume, err := VolumeRoot(dstRoot)
	if err != nil {
		return Report{}, fmt.Errorf("could not resolve volume of %s: %w", dstRoot, err)
	}
	usage, err := disk.Usage(volume)
	if err != nil {
		return Report{}, fmt.Errorf("could not read free space of %s: %w", volume, err)
	}
	return simulate(plan, volume, int64(usage.Free)), nil
}

// simulate is the pure accounting core, split out for tests.
func simulate(plan *pathdiff.Plan, volume string, freeBytes int64) Report {
	balance := freeBytes + plan.DeletedBytes() - plan.NewBytes()
	for _, c := range plan.Changed {
		balance -= c.SrcSize - c.DstSize
	}

	return Report{
		Fits:           balance > 0,
		FreeBytes:      freeBytes,
		RemainingBytes: balance,
		NetDeltaBytes:  plan.NetDeltaBytes(),
		VolumePath:     volume,
	}
}

// Volume describes one mounted filesystem for the drives command.
type Volume struct {
	Mountpoint string
	Device     string
	Fstype     string
	TotalBytes int64
	FreeBytes  int64
}

// ListVolumes enumerates the physical volumes currently mounted, with their
// free space. Volumes whose usage cannot be read are skipped.
func ListVolumes() ([]Volume, error) {
	partitions, err := disk.Partitions(false)
	if err != nil {
		return nil, fmt.Errorf("could not enumerate volumes: %w", err)
	}
	volumes := make([]Volume, 0, len(partitions))
	for _, p := range partitions {
		usage, err := disk.Usage(p.Mountpoint)
		if err != nil {
			continue
		}
		volumes = append(volumes, Volume{
			Mountpoint: p.Mountpoint,
			Device:     p.Device,
			Fstype:     p.Fstype,
			TotalBytes: int64(usage.Total),
			FreeBytes:  int64(usage.Free),
		})
	}
	return volumes, nil
}
