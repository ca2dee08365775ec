// state.go tracks the lifecycle state of each pooled connection key.
//
// A key moves through closed -> connecting -> alive -> closing -> closed, or
// to failed when a connect attempt gives up. Transitions are kept in a
// 50-entry ring buffer per key and fanned out to registered callbacks.

package sftpconn

import (
	"sync"
	"time"

	"github.com/gluk-w/claworc/sftpsync/internal/remote"
)

// State is the lifecycle state of a connection key.
type State int

const (
	StateClosed State = iota
	StateConnecting
	StateAlive
	StateClosing
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateConnecting:
		return "connecting"
	case StateAlive:
		return "alive"
	case StateClosing:
		return "closing"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// MarshalText renders the state by name in JSON status output.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

const transitionBufferSize = 50

// Transition records a single state change.
type Transition struct {
	From      State     `json:"from"`
	To        State     `json:"to"`
	Timestamp time.Time `json:"timestamp"`
	Reason    string    `json:"reason"`
}

// StateChangeCallback is invoked synchronously on every transition.
type StateChangeCallback func(key remote.Key, from, to State)

type stateEntry struct {
	current     State
	transitions [transitionBufferSize]Transition
	head        int
	count       int
}

func (e *stateEntry) record(t Transition) {
	e.transitions[e.head] = t
	e.head = (e.head + 1) % transitionBufferSize
	if e.count < transitionBufferSize {
		e.count++
	}
}

// history returns transitions oldest first.
func (e *stateEntry) history() []Transition {
	if e.count == 0 {
		return nil
	}
	out := make([]Transition, e.count)
	if e.count < transitionBufferSize {
		copy(out, e.transitions[:e.count])
	} else {
		n := copy(out, e.transitions[e.head:])
		copy(out[n:], e.transitions[:e.head])
	}
	return out
}

type stateTracker struct {
	mu        sync.RWMutex
	states    map[remote.Key]*stateEntry
	callbacks []StateChangeCallback
	now       func() time.Time
}

func newStateTracker(now func() time.Time) *stateTracker {
	return &stateTracker{states: make(map[remote.Key]*stateEntry), now: now}
}

// set moves key to state. Setting the current state again is a no-op.
func (st *stateTracker) set(key remote.Key, state State, reason string) {
	st.mu.Lock()
	entry, ok := st.states[key]
	if !ok {
		entry = &stateEntry{current: StateClosed}
		st.states[key] = entry
	}
	from := entry.current
	if from == state {
		st.mu.Unlock()
		return
	}
	entry.current = state
	entry.record(Transition{From: from, To: state, Timestamp: st.now(), Reason: reason})
	cbs := make([]StateChangeCallback, len(st.callbacks))
	copy(cbs, st.callbacks)
	st.mu.Unlock()

	for _, cb := range cbs {
		cb(key, from, state)
	}
}

func (st *stateTracker) get(key remote.Key) State {
	st.mu.RLock()
	defer st.mu.RUnlock()
	if entry, ok := st.states[key]; ok {
		return entry.current
	}
	return StateClosed
}

func (st *stateTracker) transitions(key remote.Key) []Transition {
	st.mu.RLock()
	defer st.mu.RUnlock()
	if entry, ok := st.states[key]; ok {
		return entry.history()
	}
	return nil
}

func (st *stateTracker) onChange(cb StateChangeCallback) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.callbacks = append(st.callbacks, cb)
}

// OnStateChange registers a callback for connection state transitions.
func (m *Manager) OnStateChange(cb StateChangeCallback) { m.states.onChange(cb) }

// State returns the current state of the connection for key.
func (m *Manager) State(key remote.Key) State { return m.states.get(key) }

// StateTransitions returns the recorded transitions for key, oldest first.
func (m *Manager) StateTransitions(key remote.Key) []Transition {
	return m.states.transitions(key)
}
