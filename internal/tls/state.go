package tls

import (
	"context"
	"sync"
	"time"
)

// State is a trust bootstrap lifecycle state
type State int

const (
	StateNotStarted State = iota
	StateLoading
	StateMerged
	StateContextBuilt
	StateInstalled
	StateDegraded
)

func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not_started"
	case StateLoading:
		return "loading"
	case StateMerged:
		return "merged"
	case StateContextBuilt:
		return "context_built"
	case StateInstalled:
		return "installed"
	case StateDegraded:
		return "degraded"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition can happen from s.
func (s State) Terminal() bool {
	return s == StateInstalled || s == StateDegraded
}

// allowedTransitions lists the forward edges of the lifecycle. Degraded is
// reachable from every non-terminal state after loading has begun.
var allowedTransitions = map[State][]State{
	StateNotStarted:   {StateLoading},
	StateLoading:      {StateMerged, StateDegraded},
	StateMerged:       {StateContextBuilt, StateDegraded},
	StateContextBuilt: {StateInstalled, StateDegraded},
}

// CanTransition reports whether from -> to is a legal transition.
func CanTransition(from, to State) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// StateCallback is called when the bootstrap state changes
type StateCallback func(from, to State)

// StateTracker records the lifecycle of one bootstrap run
type StateTracker struct {
	mu        sync.RWMutex
	logger    *TrustLogger
	current   State
	changedAt time.Time
	history   []State
	callbacks []StateCallback
}

// NewStateTracker creates a tracker in StateNotStarted
func NewStateTracker(logger *TrustLogger) *StateTracker {
	if logger == nil {
		logger = NewTrustLogger(nil)
	}
	return &StateTracker{
		logger:    logger,
		current:   StateNotStarted,
		changedAt: time.Now(),
		history:   []State{StateNotStarted},
	}
}

// OnStateChange registers a callback for state transitions
func (t *StateTracker) OnStateChange(callback StateCallback) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.callbacks = append(t.callbacks, callback)
}

// Transition moves to the next state. Illegal transitions are ignored and
// reported as false.
func (t *StateTracker) Transition(ctx context.Context, to State) bool {
	t.mu.Lock()
	from := t.current
	if !CanTransition(from, to) {
		t.mu.Unlock()
		return false
	}
	t.current = to
	t.changedAt = time.Now()
	t.history = append(t.history, to)
	callbacks := make([]StateCallback, len(t.callbacks))
	copy(callbacks, t.callbacks)
	t.mu.Unlock()

	t.logger.LogStateChange(ctx, from, to)
	for _, callback := range callbacks {
		t.notify(ctx, callback, from, to)
	}
	return true
}

// notify runs one callback; a panicking callback is logged and skipped.
func (t *StateTracker) notify(ctx context.Context, callback StateCallback, from, to State) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.LogCallbackPanic(ctx, from, to, r)
		}
	}()
	callback(from, to)
}

// Current returns the current state
func (t *StateTracker) Current() State {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.current
}

// History returns every state visited, in order
func (t *StateTracker) History() []State {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]State(nil), t.history...)
}
