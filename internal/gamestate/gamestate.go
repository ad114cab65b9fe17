// The gamestate package holds the authority's source of truth for the match
// phase and keeps every connected participant's view of it in sync.
package gamestate

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/sverick/couchnet/internal/directory"
	"github.com/sverick/couchnet/internal/packets"
	"github.com/sverick/couchnet/internal/session"
)

// Phase is the authoritative match phase. The numeric values are what appear
// on the wire in SyncGameState packets.
type Phase uint32

const (
	Lobby   Phase = Phase(packets.GamePhaseLobby)
	Playing Phase = Phase(packets.GamePhasePlaying)
	Ending  Phase = Phase(packets.GamePhaseEnding)
)

func (p Phase) String() string {
	switch p {
	case Lobby:
		return "IN_LOBBY"
	case Playing:
		return "PLAYING"
	case Ending:
		return "ENDING"
	}
	return "UNKNOWN"
}

// SessionState returns the session state a participant enters when applying
// this phase.
func (p Phase) SessionState() session.State {
	switch p {
	case Playing:
		return session.Playing
	case Ending:
		return session.Ending
	default:
		return session.InLobby
	}
}

// Sender delivers packets to connected participants. Messages to one
// recipient are delivered reliably and in send order.
type Sender interface {
	SendTo(peerID uint32, packet interface{}) error
	Broadcast(packet interface{}) error
}

// Subscriber receives the new phase after each transition.
type Subscriber func(phase Phase)

// Machine is the authoritative game state machine. It exists only on the
// authority; every mutation is broadcast to all connected participants.
type Machine struct {
	Logger *logrus.Logger

	// Scene every participant is instructed to load when joining mid-session.
	Scene string

	// Connected reports whether the authority currently has an active
	// transport connection.
	Connected func() bool

	directory   *directory.Directory
	sender      Sender
	mu          sync.Mutex
	phase       Phase
	subscribers []Subscriber
}

func NewMachine(logger *logrus.Logger, dir *directory.Directory, sender Sender, scene string) *Machine {
	return &Machine{
		Logger:    logger,
		Scene:     scene,
		Connected: func() bool { return true },
		directory: dir,
		sender:    sender,
		phase:     Lobby,
	}
}

// OnPhaseChanged registers a subscriber notified once per phase change.
func (m *Machine) OnPhaseChanged(s Subscriber) {
	m.mu.Lock()
	m.subscribers = append(m.subscribers, s)
	m.mu.Unlock()
}

// Phase returns the current authoritative phase.
func (m *Machine) Phase() Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phase
}

// SetPhase updates the phase, notifies local subscribers, and broadcasts the
// new value to every connected participant. Setting the current phase is a
// no-op with no broadcast.
func (m *Machine) SetPhase(phase Phase) {
	m.mu.Lock()
	if m.phase == phase {
		m.mu.Unlock()
		return
	}
	m.phase = phase
	subscribers := m.subscribers
	m.mu.Unlock()

	for _, s := range subscribers {
		s(phase)
	}

	pkt := &packets.SyncGameState{
		Header: packets.Header{Type: packets.SyncGameStateType},
		State:  uint32(phase),
	}
	if err := m.sender.Broadcast(pkt); err != nil {
		m.Logger.Warnf("error broadcasting game state %v: %v", phase, err)
	}
}

// StartMatch transitions from the lobby into play. The transition is skipped
// with a warning unless the current phase is the lobby and the authority has
// an active connection.
func (m *Machine) StartMatch() {
	if current := m.Phase(); current != Lobby {
		m.Logger.Warnf("start match requested in phase %v, ignoring", current)
		return
	}
	if !m.Connected() {
		m.Logger.Warn("start match requested without an active connection, ignoring")
		return
	}

	if err := m.sender.Broadcast(&packets.StartMatch{
		Header: packets.Header{Type: packets.StartMatchType},
	}); err != nil {
		m.Logger.Warnf("error broadcasting match start: %v", err)
	}
	m.SetPhase(Playing)
}

// EndMatch transitions into the ending phase. No further transitions are
// modeled past this point.
func (m *Machine) EndMatch() {
	if current := m.Phase(); current != Playing {
		m.Logger.Warnf("end match requested in phase %v, ignoring", current)
		return
	}
	m.SetPhase(Ending)
}

// HandlePeerConnected brings a newly joined participant up to date. While a
// session is underway the participant is told to load the shared scene and
// receives the current phase point-to-point so it doesn't have to wait for
// the next broadcast.
func (m *Machine) HandlePeerConnected(id uint32) {
	phase := m.Phase()
	if phase != Lobby && phase != Playing {
		return
	}

	if _, ok := m.directory.Participant(id); !ok {
		m.Logger.Warnf("peer %d no longer connected, skipping scene sync", id)
		return
	}

	scenePkt := &packets.GotoScene{Header: packets.Header{Type: packets.GotoSceneType}}
	packets.CopyName(scenePkt.Scene[:], m.Scene)
	if err := m.sender.SendTo(id, scenePkt); err != nil {
		m.Logger.Warnf("error sending scene instruction to peer %d: %v", id, err)
		return
	}

	syncPkt := &packets.SyncGameState{
		Header: packets.Header{Type: packets.SyncGameStateType},
		State:  uint32(phase),
	}
	if err := m.sender.SendTo(id, syncPkt); err != nil {
		m.Logger.Warnf("error syncing game state to peer %d: %v", id, err)
	}
}
