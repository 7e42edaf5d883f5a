package transfer

import (
	"sync"
)

// State is a snapshot of some piece of the node at a given block height.
// Implementations must be mutated only inside a state transition function.
type State interface {
	StateInterface()
}

// StateChange is an input to a state transition function. State changes are
// the only way state is ever modified, which keeps the whole core
// replayable from the write-ahead log.
type StateChange interface {
	StateChangeInterface()
}

// Event is an output of a state transition function. Events describe work
// for the outside world, they never mutate state themselves.
type Event interface {
	EventInterface()
}

// TransitionResult pairs the state produced by a transition with the events
// it emitted.
type TransitionResult struct {
	NewState State
	Events   []Event
}

type StateTransitionCallback func(chainState State, stateChange StateChange) *TransitionResult

// StateManager owns the current state and applies state changes through a
// single transition function.
type StateManager struct {
	mutex           sync.Mutex
	CurrentState    State
	stateTransition StateTransitionCallback
}

func NewStateManager(stateTransition StateTransitionCallback, currentState State) *StateManager {
	return &StateManager{
		CurrentState:    currentState,
		stateTransition: stateTransition,
	}
}

// Dispatch applies one state change and returns the emitted events. The
// caller sees only the new state, never an intermediate one.
func (self *StateManager) Dispatch(stateChange StateChange) []Event {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	result := self.stateTransition(self.CurrentState, stateChange)
	self.CurrentState = result.NewState
	return result.Events
}

func (self *StateManager) GetCurrentState() State {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	return self.CurrentState
}
