package component

// State is a runtime's lifecycle state.
type State int

const (
	StateUninitialized State = iota
	StateReady
	StateRunning
	StateStopping
	StateStopped
	StateFailed
)

var stateNames = [...]string{
	StateUninitialized: "uninitialized",
	StateReady:         "ready",
	StateRunning:       "running",
	StateStopping:      "stopping",
	StateStopped:       "stopped",
	StateFailed:        "failed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// canSend reports whether outbound traffic is allowed in s. A stopping
// runtime may still finish conversations it started.
func (s State) canSend() bool {
	return s == StateReady || s == StateRunning || s == StateStopping
}
