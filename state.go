package canapp

import "fmt"

// State is the lifecycle phase of an App.
type State int32

const (
	Idle State = iota
	Initializing
	Connecting
	Connected
	ConnectFailed
	Running
	Stopping
	Terminating
)

var stateNames = [...]string{
	Idle:          "idle",
	Initializing:  "initializing",
	Connecting:    "connecting",
	Connected:     "connected",
	ConnectFailed: "connect-failed",
	Running:       "running",
	Stopping:      "stopping",
	Terminating:   "terminating",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int32(s))
}
