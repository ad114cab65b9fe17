package session

import (
	"testing"

	logrustest "github.com/sirupsen/logrus/hooks/test"
)

func testMachine() *Machine {
	logger, _ := logrustest.NewNullLogger()
	return NewMachine(logger)
}

func TestConnectionLifecycle(t *testing.T) {
	tests := []struct {
		name  string
		steps func(m *Machine)
		want  State
	}{
		{
			name:  "starts in the main menu",
			steps: func(m *Machine) {},
			want:  MainMenu,
		},
		{
			name: "host/join action begins connecting",
			steps: func(m *Machine) {
				m.BeginConnecting()
			},
			want: Connecting,
		},
		{
			name: "successful connection moves to loading",
			steps: func(m *Machine) {
				m.BeginConnecting()
				m.ConnectionSucceeded()
			},
			want: Loading,
		},
		{
			name: "failed connection returns to idle",
			steps: func(m *Machine) {
				m.BeginConnecting()
				m.ConnectionFailed("no route to host")
			},
			want: Idle,
		},
		{
			name: "reconnect is allowed from idle",
			steps: func(m *Machine) {
				m.BeginConnecting()
				m.ConnectionFailed("refused")
				m.BeginConnecting()
			},
			want: Connecting,
		},
		{
			name: "losing the authority is valid from any state",
			steps: func(m *Machine) {
				m.BeginConnecting()
				m.ConnectionSucceeded()
				m.ApplyGamePhase(Playing)
				m.AuthorityLost()
			},
			want: Idle,
		},
		{
			name: "success without connecting is ignored",
			steps: func(m *Machine) {
				m.ConnectionSucceeded()
			},
			want: MainMenu,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := testMachine()
			tt.steps(m)
			if got := m.Current(); got != tt.want {
				t.Errorf("Current() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestApplyGamePhase(t *testing.T) {
	tests := []struct {
		name  string
		state State
		want  State
	}{
		{
			name:  "in lobby",
			state: InLobby,
			want:  InLobby,
		},
		{
			name:  "playing",
			state: Playing,
			want:  Playing,
		},
		{
			name:  "ending",
			state: Ending,
			want:  Ending,
		},
		{
			name:  "non-authoritative value is ignored",
			state: Connecting,
			want:  Loading,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := testMachine()
			m.BeginConnecting()
			m.ConnectionSucceeded()

			m.ApplyGamePhase(tt.state)
			if got := m.Current(); got != tt.want {
				t.Errorf("Current() = %v, want %v", got, tt.want)
			}
		})
	}
}

// The lobby, playing, and ending states are only ever entered by applying a
// received authoritative broadcast; no local transition path leads there.
func TestNoLocalPathIntoAuthoritativeStates(t *testing.T) {
	m := testMachine()

	m.BeginConnecting()
	m.ConnectionSucceeded()
	m.BeginConnecting()
	m.ConnectionFailed("late failure")
	m.AuthorityLost()

	switch m.Current() {
	case InLobby, Playing, Ending:
		t.Errorf("entered authoritative state %v without a broadcast", m.Current())
	}
}

func TestSubscriberNotifiedOncePerChange(t *testing.T) {
	m := testMachine()

	var events []State
	m.OnStateChanged(func(state State) { events = append(events, state) })

	m.BeginConnecting()
	m.ConnectionSucceeded()
	m.ApplyGamePhase(Playing)
	// Re-applying the current state must not notify again.
	m.ApplyGamePhase(Playing)

	want := []State{Connecting, Loading, Playing}
	if len(events) != len(want) {
		t.Fatalf("expected %d notifications, got %v", len(want), events)
	}
	for i, state := range want {
		if events[i] != state {
			t.Errorf("event %d = %v, want %v", i, events[i], state)
		}
	}
}
