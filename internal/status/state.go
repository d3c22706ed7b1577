package status

import (
	"fmt"
	"slices"
	"sync"

	"github.com/matbrandao/chatsync/internal/bus"
)

// State represents an engine runtime state.
type State string

const (
	Booting      State = "BOOTING"
	Connecting   State = "CONNECTING"
	Syncing      State = "SYNCING" // bootstrap fetch in progress
	Ready        State = "READY"
	Reconnecting State = "RECONNECTING"
	Degraded     State = "DEGRADED" // stream up, write API failing
	Error        State = "ERROR"
)

// validTransitions defines allowed state transitions.
var validTransitions = map[State][]State{
	Booting:      {Connecting, Error},
	Connecting:   {Syncing, Reconnecting, Error},
	Syncing:      {Ready, Reconnecting, Degraded, Error},
	Ready:        {Reconnecting, Degraded, Error},
	Reconnecting: {Connecting, Syncing, Degraded, Error},
	Degraded:     {Ready, Reconnecting, Error},
	Error:        {Booting},
}

// Machine tracks and enforces engine runtime state transitions.
type Machine struct {
	mu      sync.RWMutex
	current State
	bus     *bus.Bus
}

// NewMachine creates a new state machine starting in Booting state.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{current: Booting, bus: b}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Transition attempts to move to a new state. Returns an error if the
// transition is invalid.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	allowed := validTransitions[m.current]
	if !slices.Contains(allowed, to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	from := m.current
	m.current = to
	if m.bus != nil {
		m.bus.Publish(bus.Now(bus.KindEngineStatus, StatusChange{From: from, To: to}))
	}
	return nil
}

// StatusChange is the payload for status change events.
type StatusChange struct {
	From State
	To   State
}
