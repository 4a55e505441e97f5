package orchestrator

import "fmt"

// State is the phase the orchestrator is currently in. Transitions are
// strictly sequential per pair: Preparing → SpaceChecking → Applying →
// Finalizing, with Done or Errored terminal for the whole run.
type State int

const (
	Idle State = iota
	Preparing
	SpaceChecking
	Applying
	Finalizing
	Done
	Errored
)

var stateToString = map[State]string{
	Idle:          "idle",
	Preparing:     "preparing",
	SpaceChecking: "space-checking",
	Applying:      "applying",
	Finalizing:    "finalizing",
	Done:          "done",
	Errored:       "errored",
}

func (s State) String() string {
	if str, ok := stateToString[s]; ok {
		return str
	}
	return fmt.Sprintf("unknown_state(%d)", int(s))
}
