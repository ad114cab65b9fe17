// Packets exchanged between the authority and its connected participants.
//
// Every packet starts with a Header whose Size field is patched in by the
// client transmission layer. Variable-length packets carry their element
// count in the header's Flags field so receivers can size the slice before
// decoding.
package packets

const HeaderSize = 0x08

// Header precedes every packet sent in either direction.
type Header struct {
	Size  uint16
	Type  uint16
	Flags uint32
}

// Packet types.
const (
	DisconnectType        = 0x05
	WelcomeType           = 0x01
	GotoSceneType         = 0x10
	SyncGameStateType     = 0x11
	StartMatchType        = 0x12
	SpawnPlayersType      = 0x20
	PlayerSpawnedAckType  = 0x21
	NotifyClientReadyType = 0x22
	SetDisplayNameType    = 0x30
	MemberUpdateType      = 0x31
)

// Authoritative game phases as they appear on the wire.
const (
	GamePhaseLobby uint32 = iota
	GamePhasePlaying
	GamePhaseEnding
)

const (
	SceneNameLength   = 0x20
	DisplayNameLength = 0x18
)

// Welcome is the first packet sent to a connecting participant and assigns
// its peer id for the lifetime of the connection.
type Welcome struct {
	Header
	PeerID uint32
}

// GotoScene instructs the receiving participant to load the named scene.
type GotoScene struct {
	Header
	Scene [SceneNameLength]byte
}

// SyncGameState carries the authority's current game phase.
type SyncGameState struct {
	Header
	State uint32
}

// StartMatch tells every participant to transition from the lobby into play.
type StartMatch struct {
	Header
}

// SpawnEntry is one create-or-reposition instruction for a player entity.
type SpawnEntry struct {
	OwnerID uint32
	X       float32
	Y       float32
	Z       float32
}

// SpawnPlayers is the batched replication instruction sent by the authority.
// Flags holds the number of entries.
type SpawnPlayers struct {
	Header
	Entries []SpawnEntry
}

// PlayerSpawnedAck confirms that the sending participant has instantiated
// the entity owned by OwnerID in its local world.
type PlayerSpawnedAck struct {
	Header
	OwnerID uint32
}

// NotifyClientReady signals that the sender has finished loading the shared
// scene and wants to be included in the match.
type NotifyClientReady struct {
	Header
}

// SetDisplayName renames the participant identified by PeerID. Sent by a
// participant for its own entry and rebroadcast by the authority.
type SetDisplayName struct {
	Header
	PeerID uint32
	Name   [DisplayNameLength]byte
}

// Member is one directory entry as it appears in a MemberUpdate.
type Member struct {
	ID   uint32
	Team int32
	Name [DisplayNameLength]byte
}

// MemberUpdate is the authority's broadcast of the full connection directory.
// Flags holds the number of members.
type MemberUpdate struct {
	Header
	Members []Member
}

// CopyName writes name into dst, truncating to fit and leaving the remainder
// zero-padded.
func CopyName(dst []byte, name string) {
	n := copy(dst, name)
	for i := n; i < len(dst); i++ {
		dst[i] = 0
	}
}
