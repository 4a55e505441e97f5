package main

import (
	"fmt"

	"github.com/paulschiretz/pgl-mirror/pkg/plog"
	"github.com/paulschiretz/pgl-mirror/pkg/space"
	"github.com/paulschiretz/pgl-mirror/pkg/util"
)

func runDrives() int {
	volumes, err := space.ListVolumes()
	if err != nil {
		plog.Error("Could not list volumes", "error", err)
		return 1
	}
	if len(volumes) == 0 {
		fmt.Println("No mounted volumes found.")
		return 0
	}
	for _, v := range volumes {
		fmt.Printf("%-24s %-10s free %10s of %10s  (%s)\n",
			v.Mountpoint, v.Fstype,
			util.ByteCountIEC(v.FreeBytes), util.ByteCountIEC(v.TotalBytes),
			v.Device)
	}
	return 0
}
