package conn

// State is the connection state of a Manager.
type State int32

const (
	// Disconnected means no session exists and auto-retry is not active,
	// either before the first attempt, after Close or after the retry budget
	// was exhausted.
	Disconnected State = iota
	// Connecting means a connection attempt is in flight.
	Connecting
	// Connected means the last probe succeeded.
	Connected
	// Degraded means a store is configured but unreachable; dependents fall
	// back to local behaviour.
	Degraded
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Degraded:
		return "degraded"
	}
	return "unknown"
}
