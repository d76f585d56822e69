package link

import (
	"fmt"
	"time"
)

// State is the connection state of a Manager.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Weak
	Error
)

var stateNames = [...]string{
	Disconnected: "disconnected",
	Connecting:   "connecting",
	Connected:    "connected",
	Weak:         "weak",
	Error:        "error",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *State) UnmarshalText(b []byte) error {
	for i, n := range stateNames {
		if n == string(b) {
			*s = State(i)
			return nil
		}
	}
	return fmt.Errorf("link: unknown state %q", b)
}

// Status is the externally visible connection state.
type Status struct {
	State         State     `json:"state"`
	Target        string    `json:"target,omitempty"`
	Session       string    `json:"session,omitempty"`
	LastHeartbeat time.Time `json:"lastHeartbeat"`
	Messages      uint64    `json:"messages"`
	Protocol      int       `json:"protocol,omitempty"` // 1 or 2 once a frame was seen
	Error         string    `json:"error,omitempty"`
}
