package injector

// State is a stage of a trial. A trial moves through the states in order;
// Teardown and Done are reached from any state.
type State int

const (
	StateIdle State = iota
	StateNodesStarting
	StateWarmup
	StateInjecting
	StateAwaitingDetection
	StateTeardown
	StateDone
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateNodesStarting:
		return "nodes_starting"
	case StateWarmup:
		return "warmup"
	case StateInjecting:
		return "injecting"
	case StateAwaitingDetection:
		return "awaiting_detection"
	case StateTeardown:
		return "teardown"
	case StateDone:
		return "done"
	default:
		return "unknown"
	}
}
