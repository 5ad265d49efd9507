package chat

// State is a step of one request's lifecycle.
type State int

const (
	StateIdle State = iota
	StateBuilding
	StateSending
	StateStreaming
	StateCompleted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateBuilding:
		return "building"
	case StateSending:
		return "sending"
	case StateStreaming:
		return "streaming"
	case StateCompleted:
		return "completed"
	}
	return "unknown"
}
