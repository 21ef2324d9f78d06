package orchestrator

// State is the phase of the interaction cycle a session is in.
type State int

const (
	Idle State = iota
	Listening
	WakeDetected
	Capturing
	AwaitingAI
	Speaking
	ErrorRecovery
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Listening:
		return "listening"
	case WakeDetected:
		return "wake_detected"
	case Capturing:
		return "capturing"
	case AwaitingAI:
		return "awaiting_ai"
	case Speaking:
		return "speaking"
	case ErrorRecovery:
		return "error_recovery"
	default:
		return "unknown"
	}
}
