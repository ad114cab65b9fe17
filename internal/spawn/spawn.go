// The spawn package implements the authoritative process that instantiates
// player entities, assigns ownership, replicates spawn instructions to every
// participant, and tracks acknowledgments for late joiners.
package spawn

import (
	"strconv"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"

	"github.com/sverick/couchnet/internal/directory"
	"github.com/sverick/couchnet/internal/packets"
	"github.com/sverick/couchnet/internal/world"
)

// Entry is one participant/position pair to spawn or reposition.
type Entry struct {
	OwnerID  uint32
	Position world.Position
}

// Sender delivers packets to connected participants. Messages to one
// recipient are delivered reliably and in send order.
type Sender interface {
	SendTo(peerID uint32, packet interface{}) error
	Broadcast(packet interface{}) error
}

// Acknowledgment sets for abandoned late joins expire rather than leak.
const ackSetTTL = 2 * time.Minute

// Coordinator ensures every participant's local world contains exactly one
// player entity per connected participant with an authority-assigned starting
// position, regardless of join order or timing. All entity creation is
// idempotent by owner id, so overlapping signals and duplicate deliveries
// converge on the same entity set.
type Coordinator struct {
	Logger *logrus.Logger

	// Authority reports whether this participant may issue spawns.
	Authority bool
	// Connected reports whether an active transport connection exists.
	Connected func() bool

	directory *directory.Directory
	world     *world.World
	points    PointSource
	sender    Sender

	// Per-late-joiner acknowledgment bookkeeping, keyed by target peer id.
	// Purely observational; nothing gates on it.
	acks *gocache.Cache
}

func NewCoordinator(
	logger *logrus.Logger,
	dir *directory.Directory,
	w *world.World,
	points PointSource,
	sender Sender,
) *Coordinator {
	return &Coordinator{
		Logger:    logger,
		Authority: true,
		Connected: func() bool { return true },
		directory: dir,
		world:     w,
		points:    points,
		sender:    sender,
		acks:      gocache.New(ackSetTTL, time.Minute),
	}
}

// SpawnPlayers creates or repositions the entities in entries in the
// authority's own world and sends one batched replication instruction to each
// target. A nil target list means every currently connected non-authority
// participant; a non-nil list is resolved against the directory and any
// departed targets are dropped. trackAck initializes acknowledgment
// bookkeeping for the (single) target.
func (c *Coordinator) SpawnPlayers(entries []Entry, targets []uint32, trackAck bool) {
	if !c.Authority {
		c.Logger.Warn("spawn requested by non-authority, ignoring")
		return
	}
	if !c.Connected() {
		c.Logger.Warn("spawn requested without an active connection, ignoring")
		return
	}
	if len(entries) == 0 {
		return
	}

	// The authority participates in the shared world too; its local replica
	// is updated immediately rather than round-tripping an instruction.
	for _, entry := range entries {
		c.world.SpawnOrMove(entry.OwnerID, entry.Position)
	}

	pkt := buildSpawnPacket(entries)

	if targets == nil {
		if err := c.sender.Broadcast(pkt); err != nil {
			c.Logger.Warnf("error broadcasting spawn instruction: %v", err)
		}
		return
	}

	if trackAck && len(targets) != 1 {
		c.Logger.Warnf("acknowledgment tracking requires exactly one target, got %d", len(targets))
		trackAck = false
	}

	for _, target := range targets {
		if _, ok := c.directory.Participant(target); !ok {
			c.Logger.Warnf("spawn target %d no longer connected, dropping instruction", target)
			continue
		}

		if trackAck {
			c.initAckSet(target)
		}

		if err := c.sender.SendTo(target, pkt); err != nil {
			c.Logger.Warnf("error sending spawn instruction to peer %d: %v", target, err)
		}
	}
}

// NotifyClientReady runs the late-join sequence for a participant that has
// finished loading the shared scene: its entity is spawned and replicated to
// every other connected participant, then the full existing roster is
// replicated to the newcomer with acknowledgment tracking. The two
// instructions are independently ordered per recipient and every creation is
// idempotent, so convergence doesn't depend on relative arrival order.
func (c *Coordinator) NotifyClientReady(id uint32) {
	if !c.Authority {
		c.Logger.Warn("late join requested of non-authority, ignoring")
		return
	}
	if !c.Connected() {
		c.Logger.Warn("late join requested without an active connection, ignoring")
		return
	}

	position := c.PositionFor(id)

	// Everyone already here, minus the newcomer itself. The slice stays
	// non-nil so a lone joiner still gets its entity spawned locally without
	// triggering the broadcast path.
	others := make([]uint32, 0)
	for _, member := range c.directory.Members() {
		if member != id && member != directory.AuthorityID {
			others = append(others, member)
		}
	}

	// The newcomer's entity, to everyone already here.
	c.SpawnPlayers([]Entry{{OwnerID: id, Position: position}}, others, false)

	// The full roster, including the newcomer's own entity, to the newcomer.
	players := c.world.Players()
	roster := make([]Entry, 0, len(players))
	for _, p := range players {
		roster = append(roster, Entry{OwnerID: p.OwnerID, Position: p.Position})
	}
	c.SpawnPlayers(roster, []uint32{id}, true)
}

// PositionFor returns the spawn position assigned to the peer: the spawn
// point at index id-1, wrapping modulo the defined point count. With no
// points defined the world origin is used.
func (c *Coordinator) PositionFor(id uint32) world.Position {
	if c.points.Count() == 0 {
		c.Logger.Warn("no spawn points defined, defaulting to world origin")
		return world.Position{}
	}
	return c.points.SpawnPoint(int(id) - 1)
}

// RecordAck marks the entity owned by ownerID as replicated on the target
// participant, if an acknowledgment set was initialized for it.
func (c *Coordinator) RecordAck(target, ownerID uint32) {
	set, ok := c.acks.Get(ackKey(target))
	if !ok {
		return
	}
	set.(map[uint32]bool)[ownerID] = true
	c.Logger.Debugf("peer %d acknowledged spawn of player %d", target, ownerID)
}

// AckSet returns a copy of the acknowledgment set for the target, if one is
// being tracked.
func (c *Coordinator) AckSet(target uint32) (map[uint32]bool, bool) {
	set, ok := c.acks.Get(ackKey(target))
	if !ok {
		return nil, false
	}

	snapshot := make(map[uint32]bool)
	for owner, acked := range set.(map[uint32]bool) {
		snapshot[owner] = acked
	}
	return snapshot, true
}

func (c *Coordinator) initAckSet(target uint32) {
	c.acks.Set(ackKey(target), make(map[uint32]bool), ackSetTTL)
}

func ackKey(target uint32) string {
	return strconv.FormatUint(uint64(target), 10)
}

func buildSpawnPacket(entries []Entry) *packets.SpawnPlayers {
	pkt := &packets.SpawnPlayers{
		Header:  packets.Header{Type: packets.SpawnPlayersType, Flags: uint32(len(entries))},
		Entries: make([]packets.SpawnEntry, 0, len(entries)),
	}
	for _, entry := range entries {
		pkt.Entries = append(pkt.Entries, packets.SpawnEntry{
			OwnerID: entry.OwnerID,
			X:       entry.Position.X,
			Y:       entry.Position.Y,
			Z:       entry.Position.Z,
		})
	}
	return pkt
}
