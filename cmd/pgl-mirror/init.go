package main

import (
	"strings"

	"github.com/paulschiretz/pgl-mirror/pkg/config"
	"github.com/paulschiretz/pgl-mirror/pkg/plog"
)

func runInit(flagMap map[string]any) int {
	dir, name := configSelection(flagMap)

	force, _ := flagMap["force"].(bool)
	if config.Exists(dir, name) && !force {
		plog.Error("Configuration already exists, use -force to overwrite", "name", name)
		return 1
	}

	cfg := config.Default()

	if input, ok := flagMap["input"].(string); ok && input != "" {
		entryIdx := 0
		if _, err := cfg.NewEntry(input); err != nil {
			plog.Error("Could not add entry", "input", input, "error", err)
			return 1
		}
		if outputs, ok := flagMap["outputs"].(string); ok && outputs != "" {
			for _, out := range strings.Split(outputs, ",") {
				out = strings.TrimSpace(out)
				if out == "" {
					continue
				}
				if err := cfg.AddOutput(entryIdx, out); err != nil {
					plog.Error("Could not add output", "output", out, "error", err)
					return 1
				}
			}
		}
	}

	if err := config.Save(cfg, dir, name); err != nil {
		plog.Error("Could not save configuration", "name", name, "error", err)
		return 1
	}
	plog.Info("Configuration saved", "name", name, "dir", dir, "entries", len(cfg.Entries))
	return 0
}
