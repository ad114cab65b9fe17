// The replica package implements the non-authority participant's half of the
// session protocol: mirroring the directory, loading scenes on instruction,
// applying batched spawn instructions, and acknowledging each entity it
// instantiates.
package replica

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/sverick/couchnet/internal/core/bytes"
	"github.com/sverick/couchnet/internal/directory"
	"github.com/sverick/couchnet/internal/gamestate"
	"github.com/sverick/couchnet/internal/packets"
	"github.com/sverick/couchnet/internal/session"
	"github.com/sverick/couchnet/internal/world"
)

// Replica is one non-authority participant's local state. Everything in it is
// a read-only mirror updated solely by applying packets received from the
// authority; it never self-transitions into authoritative states.
type Replica struct {
	Logger *logrus.Logger

	Session   *session.Machine
	World     *world.World
	Loader    *world.Loader
	Directory *directory.Directory

	// Send delivers a packet to the authority.
	Send func(packet interface{}) error

	mu     sync.Mutex
	peerID uint32
}

func New(
	logger *logrus.Logger,
	sess *session.Machine,
	w *world.World,
	loader *world.Loader,
	dir *directory.Directory,
	send func(packet interface{}) error,
) *Replica {
	r := &Replica{
		Logger:    logger,
		Session:   sess,
		World:     w,
		Loader:    loader,
		Directory: dir,
		Send:      send,
	}

	// Once the instructed scene finishes loading, ask the authority for
	// inclusion in the match.
	loader.OnSceneReady(func(name string) {
		r.World.SetScene(name)
		if err := r.Send(&packets.NotifyClientReady{
			Header: packets.Header{Type: packets.NotifyClientReadyType},
		}); err != nil {
			r.Logger.Warnf("error notifying authority of scene readiness: %v", err)
		}
	})

	return r
}

// PeerID returns the id assigned by the authority, 0 before the welcome
// packet arrives.
func (r *Replica) PeerID() uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.peerID
}

// ConnectionSucceeded reflects the transport connecting to the authority.
func (r *Replica) ConnectionSucceeded() {
	r.Session.ConnectionSucceeded()
}

// ConnectionFailed reflects a failed host/join attempt.
func (r *Replica) ConnectionFailed(reason string) {
	r.Session.ConnectionFailed(reason)
}

// AuthorityLost reflects losing the connection to the authority: the session
// returns to idle and every mirrored structure is dropped.
func (r *Replica) AuthorityLost() {
	r.Session.AuthorityLost()
	r.Directory.Clear()
	r.World.Unload()
}

// HandlePacket applies one packet received from the authority.
func (r *Replica) HandlePacket(data []byte) error {
	if len(data) < packets.HeaderSize {
		return fmt.Errorf("short packet: %d bytes", len(data))
	}

	var header packets.Header
	bytes.StructFromBytes(data[:packets.HeaderSize], &header)

	switch header.Type {
	case packets.WelcomeType:
		var pkt packets.Welcome
		bytes.StructFromBytes(data, &pkt)
		r.mu.Lock()
		r.peerID = pkt.PeerID
		r.mu.Unlock()
	case packets.GotoSceneType:
		var pkt packets.GotoScene
		bytes.StructFromBytes(data, &pkt)
		r.handleGotoScene(string(bytes.StripPadding(pkt.Scene[:])))
	case packets.SyncGameStateType:
		var pkt packets.SyncGameState
		bytes.StructFromBytes(data, &pkt)
		r.Session.ApplyGamePhase(gamestate.Phase(pkt.State).SessionState())
	case packets.StartMatchType:
		// The phase change itself arrives in the SyncGameState broadcast
		// that follows; this packet is informational.
		r.Logger.Info("authority started the match")
	case packets.SpawnPlayersType:
		r.handleSpawnPlayers(data, header)
	case packets.MemberUpdateType:
		r.handleMemberUpdate(data, header)
	case packets.SetDisplayNameType:
		var pkt packets.SetDisplayName
		bytes.StructFromBytes(data, &pkt)
		r.Directory.SetDisplayName(directory.AuthorityID, pkt.PeerID, string(bytes.StripPadding(pkt.Name[:])))
	case packets.DisconnectType:
		break
	default:
		r.Logger.Warnf("received unknown packet %x from authority", header.Type)
	}

	return nil
}

func (r *Replica) handleGotoScene(name string) {
	if err := r.Loader.LoadScene(name); err != nil {
		r.Logger.Warnf("scene instruction dropped: %v", err)
	}
}

// handleSpawnPlayers applies a batched create-or-reposition instruction and
// acknowledges each entity once it has finished initializing. Acking an
// entity that is still mid-setup would tell the authority it is live before
// it can be positioned.
func (r *Replica) handleSpawnPlayers(data []byte, header packets.Header) {
	pkt := packets.SpawnPlayers{Entries: make([]packets.SpawnEntry, header.Flags)}
	bytes.StructFromBytes(data[:packets.HeaderSize+spawnEntrySize*int(header.Flags)], &pkt)

	for _, entry := range pkt.Entries {
		r.World.SpawnOrMove(entry.OwnerID, world.Position{X: entry.X, Y: entry.Y, Z: entry.Z})
	}
	for !r.World.Initialized() {
		r.World.Step()
	}

	for _, entry := range pkt.Entries {
		if player, ok := r.World.Player(entry.OwnerID); !ok || player.Stage != world.Positioned {
			continue
		}

		if err := r.Send(&packets.PlayerSpawnedAck{
			Header:  packets.Header{Type: packets.PlayerSpawnedAckType},
			OwnerID: entry.OwnerID,
		}); err != nil {
			r.Logger.Warnf("error acknowledging spawn of player %d: %v", entry.OwnerID, err)
		}
	}
}

// handleMemberUpdate replaces the directory mirror with the broadcast roster
// and prunes entities whose owners have departed.
func (r *Replica) handleMemberUpdate(data []byte, header packets.Header) {
	pkt := packets.MemberUpdate{Members: make([]packets.Member, header.Flags)}
	bytes.StructFromBytes(data[:packets.HeaderSize+memberSize*int(header.Flags)], &pkt)

	members := make([]uint32, 0, len(pkt.Members))
	for _, member := range pkt.Members {
		members = append(members, member.ID)

		r.Directory.RecordPeerConnected(member.ID)
		if name := string(bytes.StripPadding(member.Name[:])); name != "" {
			r.Directory.SetDisplayName(directory.AuthorityID, member.ID, name)
		}
		r.Directory.SetTeam(directory.AuthorityID, member.ID, int(member.Team))
	}

	for _, id := range r.Directory.Members() {
		if !contains(members, id) {
			r.Directory.RecordPeerDisconnected(id)
		}
	}

	r.World.RemoveAbsent(members)
}

const (
	spawnEntrySize = 16
	memberSize     = 32
)

func contains(ids []uint32, id uint32) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
