// The session package tracks one participant's local view of its progress
// from the main menu through connecting, loading, and play.
package session

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// State is the participant-local session state.
type State int

const (
	MainMenu State = iota
	Idle
	Connecting
	InLobby
	Loading
	Playing
	Ending
)

func (s State) String() string {
	switch s {
	case MainMenu:
		return "MAIN_MENU"
	case Idle:
		return "IDLE"
	case Connecting:
		return "CONNECTING"
	case InLobby:
		return "IN_LOBBY"
	case Loading:
		return "LOADING"
	case Playing:
		return "PLAYING"
	case Ending:
		return "ENDING"
	}
	return "UNKNOWN"
}

// Subscriber receives the new state after each transition.
type Subscriber func(state State)

// Machine is the client-local session state machine. Local transport events
// drive the connection-phase transitions; the in-lobby/playing/ending states
// are only ever entered by applying a received authoritative broadcast.
type Machine struct {
	Logger *logrus.Logger

	mu          sync.Mutex
	state       State
	subscribers []Subscriber
}

func NewMachine(logger *logrus.Logger) *Machine {
	return &Machine{Logger: logger, state: MainMenu}
}

// OnStateChanged registers a subscriber notified once per state change.
func (m *Machine) OnStateChanged(s Subscriber) {
	m.mu.Lock()
	m.subscribers = append(m.subscribers, s)
	m.mu.Unlock()
}

// Current returns the current session state.
func (m *Machine) Current() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// BeginConnecting marks the user-initiated host/join action.
func (m *Machine) BeginConnecting() {
	m.transition(Connecting, MainMenu, Idle)
}

// ConnectionSucceeded reflects the transport reporting a successful
// connection; the participant moves on to loading the shared scene.
func (m *Machine) ConnectionSucceeded() {
	m.transition(Loading, Connecting)
}

// ConnectionFailed reflects the transport reporting a failed host/join
// attempt.
func (m *Machine) ConnectionFailed(reason string) {
	m.Logger.Warnf("connection failed: %s", reason)
	m.transition(Idle, Connecting)
}

// AuthorityLost reflects the transport losing its connection to the
// authority; valid from any state.
func (m *Machine) AuthorityLost() {
	m.set(Idle)
}

// ApplyGamePhase reflects a received authoritative phase broadcast. This is
// the only path by which a non-authority participant enters the in-lobby,
// playing, or ending states.
func (m *Machine) ApplyGamePhase(state State) {
	switch state {
	case InLobby, Playing, Ending:
	default:
		m.Logger.Warnf("ignoring non-authoritative phase value %v", state)
		return
	}
	m.set(state)
}

// transition moves to next if the current state is one of from; otherwise
// the request is logged and skipped.
func (m *Machine) transition(next State, from ...State) {
	m.mu.Lock()
	current := m.state
	m.mu.Unlock()

	for _, s := range from {
		if current == s {
			m.set(next)
			return
		}
	}
	m.Logger.Warnf("invalid session transition %v -> %v", current, next)
}

// set updates the state, skipping notification when the value is unchanged.
func (m *Machine) set(next State) {
	m.mu.Lock()
	if m.state == next {
		m.mu.Unlock()
		return
	}
	m.state = next
	subscribers := m.subscribers
	m.mu.Unlock()

	for _, s := range subscribers {
		s(next)
	}
}
