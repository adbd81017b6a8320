package control

// State is the scheduler state of the engine
type State int

const (
	// StateInitializing is set until the store is opened and reconciled
	StateInitializing State = iota
	// StateRunning is set between cycles before the first sleep and after RunCycle
	StateRunning
	// StateDraining is set while intake records are merged into the store
	StateDraining
	// StateEvaluating is set while eviction criteria run
	StateEvaluating
	// StateReclaiming is set while flagged objects are removed
	StateReclaiming
	// StateSleeping is set while waiting for the next cycle
	StateSleeping
	// StateStopped is set after Stop
	StateStopped
)

// String returns human readable form of the state
func (state State) String() string {
	switch state {
	case StateInitializing:
		return "initializing"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateEvaluating:
		return "evaluating"
	case StateReclaiming:
		return "reclaiming"
	case StateSleeping:
		return "sleeping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}
