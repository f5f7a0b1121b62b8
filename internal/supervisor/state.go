package supervisor

import "time"

// State is the supervisor's view of its child process.
type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateCrashed
	StateRestarting
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateCrashed:
		return "crashed"
	case StateRestarting:
		return "restarting"
	default:
		return "unknown"
	}
}

// Snapshot is a point-in-time copy of the runtime state.
type Snapshot struct {
	State                State     `json:"state"`
	PID                  int       `json:"pid"`
	StartedAt            time.Time `json:"startedAt"`
	Restarts             int       `json:"restarts"`
	LastError            string    `json:"lastError,omitempty"`
	DroppedNotifications uint64    `json:"droppedNotifications"`
}

// MarshalJSON renders the state by name.
func (s State) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// LogLine is one captured line of child output.
type LogLine struct {
	Time   time.Time `json:"time"`
	Stream string    `json:"stream"` // "stdout" or "stderr"
	Text   string    `json:"text"`
}
