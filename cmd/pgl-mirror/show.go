package main

import (
	"fmt"

	"github.com/paulschiretz/pgl-mirror/pkg/config"
	"github.com/paulschiretz/pgl-mirror/pkg/plog"
)

func runShow(flagMap map[string]any) int {
	dir, name := configSelection(flagMap)

	if !config.Exists(dir, name) {
		saved, err := config.SavedNames(dir)
		if err != nil {
			plog.Error("Could not list configurations", "dir", dir, "error", err)
			return 1
		}
		plog.Error("No such configuration", "name", name, "saved", saved)
		return 1
	}

	cfg, err := config.Load(dir, name)
	if err != nil {
		plog.Error("Could not load configuration", "name", name, "error", err)
		return 1
	}

	fmt.Printf("Configuration %q:\n%s\n", name, cfg.DisplayString())
	return 0
}
