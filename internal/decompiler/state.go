package decompiler

import "fmt"

// State is a controller lifecycle state.
type State int

const (
	StateIdle State = iota
	StateReading
	StateExtracting
	StateSplitting
	StateDone
	StateFailed
)

var stateNames = [...]string{"idle", "reading", "extracting", "splitting", "done", "failed"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool { return s == StateDone || s == StateFailed }

var transitions = map[State][]State{
	StateIdle:       {StateReading},
	StateReading:    {StateExtracting, StateFailed},
	StateExtracting: {StateSplitting, StateDone, StateFailed},
	StateSplitting:  {StateDone, StateFailed},
}

func allowed(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
