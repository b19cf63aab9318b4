// internal/browser/state.go
package browser

// State is the lifecycle position of a Session.
type State int

const (
	StateUninitialized State = iota
	StateInitializing
	StateReady
	StateBusy
	StateFailed
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateBusy:
		return "busy"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// live reports whether the state holds a usable browser process.
func (s State) live() bool {
	return s == StateReady || s == StateBusy
}
