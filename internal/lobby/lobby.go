// The lobby package implements the authority's server backend: it seats
// connecting participants, keeps the connection directory current, relays
// authoritative state, and feeds the spawn coordinator.
package lobby

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/sverick/couchnet/internal/core"
	"github.com/sverick/couchnet/internal/core/bytes"
	"github.com/sverick/couchnet/internal/core/client"
	"github.com/sverick/couchnet/internal/core/data"
	"github.com/sverick/couchnet/internal/directory"
	"github.com/sverick/couchnet/internal/gamestate"
	"github.com/sverick/couchnet/internal/packets"
	"github.com/sverick/couchnet/internal/session"
	"github.com/sverick/couchnet/internal/spawn"
	"github.com/sverick/couchnet/internal/world"
)

// Server is the LOBBY server implementation. It is the single authority for
// the session: every other participant connects to it, receives a peer id,
// and mirrors the directory, game phase, and player entities it replicates.
type Server struct {
	Name   string
	Config *core.Config
	Logger *logrus.Logger

	// Collaborators owned by the composition root.
	Directory *directory.Directory
	Session   *session.Machine
	World     *world.World
	Loader    *world.Loader

	// DB is optional; with no database configured nothing is persisted.
	DB *gorm.DB

	// Built during Init since both take this server as their packet sender.
	Game    *gamestate.Machine
	Spawner *spawn.Coordinator

	// Retained from Init; its cancellation marks the end of hosting.
	ctx context.Context

	mu         sync.Mutex
	nextPeerID uint32
	clients    map[uint32]*client.Client
}

func (s *Server) Identifier() string {
	return s.Name
}

// Init claims the authority's own seat in the directory and starts loading
// the shared scene locally; the authority is a full participant in the world
// it hosts.
func (s *Server) Init(ctx context.Context) error {
	s.ctx = ctx
	s.nextPeerID = directory.AuthorityID + 1
	s.clients = make(map[uint32]*client.Client)

	s.Game = gamestate.NewMachine(s.Logger, s.Directory, s, s.Config.LobbyServer.Scene)
	s.Game.Connected = s.hasConnection
	// The authority's own session tracks the phase it drives.
	s.Game.OnPhaseChanged(func(phase gamestate.Phase) {
		s.Session.ApplyGamePhase(phase.SessionState())
	})

	points := spawn.NewPoints(s.Config.LobbyServer.SpawnPoints)
	s.Spawner = spawn.NewCoordinator(s.Logger, s.Directory, s.World, points, s)
	s.Spawner.Connected = s.hasConnection

	s.Directory.RecordPeerConnected(directory.AuthorityID)
	if name := s.Config.LobbyServer.HostName; name != "" {
		s.Directory.SetDisplayName(directory.AuthorityID, directory.AuthorityID, name)
	}

	s.Session.BeginConnecting()
	s.Session.ConnectionSucceeded()

	s.Loader.OnSceneReady(func(name string) {
		s.World.SetScene(name)
		s.Session.ApplyGamePhase(s.Game.Phase().SessionState())
		s.Spawner.NotifyClientReady(directory.AuthorityID)
		s.settleWorld()
	})

	if err := s.Loader.LoadScene(s.Config.LobbyServer.Scene); err != nil {
		return fmt.Errorf("error loading scene %q: %w", s.Config.LobbyServer.Scene, err)
	}
	s.Loader.Complete()

	return nil
}

func (s *Server) SetUpClient(c *client.Client) {
	c.DebugTags["server_type"] = "lobby"
}

// Handshake assigns the connecting participant its peer id, records it in the
// directory, and brings it up to date on the session underway.
func (s *Server) Handshake(c *client.Client) error {
	s.mu.Lock()
	c.PeerID = s.nextPeerID
	s.nextPeerID++
	s.clients[c.PeerID] = c
	s.mu.Unlock()

	if err := c.Send(&packets.Welcome{
		Header: packets.Header{Type: packets.WelcomeType},
		PeerID: c.PeerID,
	}); err != nil {
		return err
	}

	s.Directory.RecordPeerConnected(c.PeerID)
	s.Game.HandlePeerConnected(c.PeerID)
	s.broadcastMemberUpdate()

	if s.DB != nil {
		participant, _ := s.Directory.Participant(c.PeerID)
		if _, err := data.RecordJoin(s.DB, c.PeerID, participant.Name, participant.Team); err != nil {
			s.Logger.Errorf("error recording join of peer %d: %v", c.PeerID, err)
		}
	}

	return nil
}

func (s *Server) Handle(_ context.Context, c *client.Client, pktData []byte) error {
	var header packets.Header
	bytes.StructFromBytes(pktData[:packets.HeaderSize], &header)

	switch header.Type {
	case packets.NotifyClientReadyType:
		s.Spawner.NotifyClientReady(c.PeerID)
		s.settleWorld()
	case packets.PlayerSpawnedAckType:
		var pkt packets.PlayerSpawnedAck
		bytes.StructFromBytes(pktData, &pkt)
		s.Spawner.RecordAck(c.PeerID, pkt.OwnerID)
	case packets.SetDisplayNameType:
		var pkt packets.SetDisplayName
		bytes.StructFromBytes(pktData, &pkt)
		s.handleSetDisplayName(c, &pkt)
	case packets.DisconnectType:
		// Just wait until we recv 0 from the client to disconnect.
		break
	default:
		s.Logger.Infof("received unknown packet %x from %s", header.Type, c.IPAddr())
	}

	return nil
}

// handleSetDisplayName applies a rename and, when permitted, propagates it to
// every participant.
func (s *Server) handleSetDisplayName(c *client.Client, pkt *packets.SetDisplayName) {
	name := string(bytes.StripPadding(pkt.Name[:]))
	if !s.Directory.SetDisplayName(c.PeerID, pkt.PeerID, name) {
		return
	}

	propagated := &packets.SetDisplayName{
		Header: packets.Header{Type: packets.SetDisplayNameType},
		PeerID: pkt.PeerID,
	}
	participant, _ := s.Directory.Participant(pkt.PeerID)
	packets.CopyName(propagated.Name[:], participant.Name)

	if err := s.Broadcast(propagated); err != nil {
		s.Logger.Warnf("error propagating rename of peer %d: %v", pkt.PeerID, err)
	}
}

// Disconnected drops the participant from the directory and the world and
// lets everyone else know.
func (s *Server) Disconnected(c *client.Client) {
	if c.PeerID == 0 {
		return
	}

	s.mu.Lock()
	delete(s.clients, c.PeerID)
	s.mu.Unlock()

	s.Directory.RecordPeerDisconnected(c.PeerID)
	s.World.Remove(c.PeerID)
	s.broadcastMemberUpdate()

	if s.DB != nil {
		if err := data.RecordLeave(s.DB, c.PeerID); err != nil {
			s.Logger.Errorf("error recording departure of peer %d: %v", c.PeerID, err)
		}
	}
}

// StartMatch asks the authoritative state machine to move from the lobby into
// play.
func (s *Server) StartMatch() {
	s.Game.StartMatch()
}

// EndMatch asks the authoritative state machine to wind the match down.
func (s *Server) EndMatch() {
	s.Game.EndMatch()
}

// SendTo delivers a packet to one connected participant. Sends addressed to
// the authority's own id are already reflected in local state and complete
// immediately.
func (s *Server) SendTo(peerID uint32, packet interface{}) error {
	if peerID == directory.AuthorityID {
		return nil
	}

	s.mu.Lock()
	c, ok := s.clients[peerID]
	s.mu.Unlock()

	if !ok {
		return fmt.Errorf("peer %d is not connected", peerID)
	}
	return c.Send(packet)
}

// Broadcast delivers a packet to every connected non-authority participant.
// Per-recipient failures are logged and don't stop the fanout.
func (s *Server) Broadcast(packet interface{}) error {
	s.mu.Lock()
	clients := make([]*client.Client, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	for _, c := range clients {
		if err := c.Send(packet); err != nil {
			s.Logger.Warnf("error broadcasting to peer %d: %v", c.PeerID, err)
		}
	}
	return nil
}

// settleWorld drives freshly spawned entities through their remaining
// initialization stages so the rest of the server only ever sees them live.
func (s *Server) settleWorld() {
	for !s.World.Initialized() {
		s.World.Step()
	}
}

// hasConnection reports whether the server is still hosting. The frontend's
// context is cancelled when it stops listening, so state changes and spawns
// are refused once the session is being torn down.
func (s *Server) hasConnection() bool {
	return s.ctx != nil && s.ctx.Err() == nil
}

// broadcastMemberUpdate sends the full directory to every participant so
// their mirrors stay in lockstep with the authority's view.
func (s *Server) broadcastMemberUpdate() {
	members := s.Directory.Members()

	pkt := &packets.MemberUpdate{
		Header:  packets.Header{Type: packets.MemberUpdateType},
		Members: make([]packets.Member, 0, len(members)),
	}
	for _, id := range members {
		participant, ok := s.Directory.Participant(id)
		if !ok {
			continue
		}
		member := packets.Member{ID: id, Team: int32(participant.Team)}
		packets.CopyName(member.Name[:], participant.Name)
		pkt.Members = append(pkt.Members, member)
	}
	pkt.Flags = uint32(len(pkt.Members))

	if err := s.Broadcast(pkt); err != nil {
		s.Logger.Warnf("error broadcasting member update: %v", err)
	}
}
