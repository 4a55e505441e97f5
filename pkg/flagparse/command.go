package flagparse

import (
	"fmt"

	"github.com/paulschiretz/pgl-mirror/pkg/util"
)

// Command defines the subcommand to execute.
type Command int

const (
	None Command = iota
	Backup
	Show
	Init
	Drives
	Version
)

var commandToString = map[Command]string{
	None:    "none",
	Backup:  "backup",
	Show:    "show",
	Init:    "init",
	Drives:  "drives",
	Version: "version",
}

var stringToCommand map[string]Command

func init() {
	stringToCommand = util.InvertMap(commandToString)
}

func (c Command) String() string {
	if str, ok := commandToString[c]; ok {
		return str
	}
	return fmt.Sprintf("unknown_command(%d)", int(c))
}

func ParseCommand(s string) (Command, error) {
	if command, ok := stringToCommand[s]; ok {
		return command, nil
	}
	return None, fmt.Errorf("invalid command: %q. Must be 'backup', 'show', 'init', 'drives', or 'version'", s)
}
