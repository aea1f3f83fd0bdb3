package mqtt

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/looplab/fsm"
)

// Phase is the coarse connection phase of a BrokerLink.
type Phase string

const (
	PhaseDisconnected Phase = "disconnected"
	PhaseConnecting   Phase = "connecting"
	PhaseConnected    Phase = "connected"
	PhaseFailed       Phase = "failed"
)

const (
	eventDial      = "dial"
	eventEstablish = "establish"
	eventFail      = "fail"
	eventLose      = "lose"
	eventClose     = "close"
)

// ConnectionState is a point-in-time view of the link. Reason holds the last
// failure or loss reason and is empty after a successful handshake.
type ConnectionState struct {
	Phase  Phase     `json:"phase"`
	Reason string    `json:"reason,omitempty"`
	Since  time.Time `json:"since"`
}

// String renders the state the way it is shown to operators.
func (s ConnectionState) String() string {
	switch s.Phase {
	case PhaseConnected:
		return "Connected"
	case PhaseConnecting:
		return "Connecting"
	case PhaseFailed:
		if s.Reason != "" {
			return "Connection failed: " + s.Reason
		}
		return "Connection failed"
	default:
		if s.Reason != "" {
			return "Disconnected: " + s.Reason
		}
		return "Disconnected"
	}
}

// Retryable reports whether a new connection attempt is due.
func (s ConnectionState) Retryable() bool {
	return s.Phase == PhaseDisconnected || s.Phase == PhaseFailed
}

type stateMachine struct {
	mu       sync.RWMutex
	machine  *fsm.FSM
	reason   string
	since    time.Time
	onChange func(ConnectionState)
}

func newStateMachine(onChange func(ConnectionState)) *stateMachine {
	return &stateMachine{
		since:    time.Now(),
		onChange: onChange,
		machine: fsm.NewFSM(
			string(PhaseDisconnected),
			fsm.Events{
				{Name: eventDial, Src: []string{string(PhaseDisconnected), string(PhaseFailed)}, Dst: string(PhaseConnecting)},
				{Name: eventEstablish, Src: []string{string(PhaseConnecting)}, Dst: string(PhaseConnected)},
				{Name: eventFail, Src: []string{string(PhaseConnecting)}, Dst: string(PhaseFailed)},
				{Name: eventLose, Src: []string{string(PhaseConnected)}, Dst: string(PhaseDisconnected)},
				{Name: eventClose, Src: []string{string(PhaseConnecting), string(PhaseConnected), string(PhaseFailed)}, Dst: string(PhaseDisconnected)},
			},
			fsm.Callbacks{},
		),
	}
}

// fire applies event and records reason. Invalid transitions are returned
// unchanged so callers can decide whether they matter.
func (sm *stateMachine) fire(event, reason string) (ConnectionState, error) {
	sm.mu.Lock()
	if err := sm.machine.Event(context.Background(), event); err != nil {
		var noTransition fsm.NoTransitionError
		if !errors.As(err, &noTransition) {
			sm.mu.Unlock()
			return sm.current(), err
		}
	}
	sm.reason = reason
	sm.since = time.Now()
	state := sm.snapshot()
	sm.mu.Unlock()

	if sm.onChange != nil {
		sm.onChange(state)
	}
	return state, nil
}

func (sm *stateMachine) current() ConnectionState {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.snapshot()
}

func (sm *stateMachine) snapshot() ConnectionState {
	return ConnectionState{
		Phase:  Phase(sm.machine.Current()),
		Reason: sm.reason,
		Since:  sm.since,
	}
}
