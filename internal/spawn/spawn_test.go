package spawn

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	logrustest "github.com/sirupsen/logrus/hooks/test"

	"github.com/sverick/couchnet/internal/core"
	"github.com/sverick/couchnet/internal/directory"
	"github.com/sverick/couchnet/internal/packets"
	"github.com/sverick/couchnet/internal/world"
)

type sentPacket struct {
	peerID uint32
	packet interface{}
}

// fakeSender records every delivery instead of writing to a connection.
type fakeSender struct {
	sends      []sentPacket
	broadcasts []interface{}
}

func (f *fakeSender) SendTo(peerID uint32, packet interface{}) error {
	f.sends = append(f.sends, sentPacket{peerID: peerID, packet: packet})
	return nil
}

func (f *fakeSender) Broadcast(packet interface{}) error {
	f.broadcasts = append(f.broadcasts, packet)
	return nil
}

type testFixture struct {
	coordinator *Coordinator
	directory   *directory.Directory
	world       *world.World
	sender      *fakeSender
}

func setUpCoordinator(t *testing.T, points []core.SpawnPoint) *testFixture {
	t.Helper()
	logger, _ := logrustest.NewNullLogger()
	dir := directory.New(logger)
	w := world.New(logger)
	sender := &fakeSender{}
	return &testFixture{
		coordinator: NewCoordinator(logger, dir, w, NewPoints(points), sender),
		directory:   dir,
		world:       w,
		sender:      sender,
	}
}

var testPoints = []core.SpawnPoint{
	{X: 0, Y: 2, Z: 0},
	{X: 4, Y: 2, Z: 0},
	{X: -4, Y: 2, Z: 0},
}

func TestSpawnPlayersBroadcast(t *testing.T) {
	f := setUpCoordinator(t, testPoints)

	entries := []Entry{
		{OwnerID: 2, Position: world.Position{X: 4, Y: 2}},
		{OwnerID: 3, Position: world.Position{X: -4, Y: 2}},
	}
	f.coordinator.SpawnPlayers(entries, nil, false)

	// The authority's own world reflects the spawn immediately.
	if len(f.world.Players()) != 2 {
		t.Fatalf("expected 2 local entities, got %d", len(f.world.Players()))
	}

	if len(f.sender.broadcasts) != 1 {
		t.Fatalf("expected 1 broadcast, got %d", len(f.sender.broadcasts))
	}
	pkt := f.sender.broadcasts[0].(*packets.SpawnPlayers)
	if pkt.Flags != 2 || len(pkt.Entries) != 2 {
		t.Errorf("broadcast carried %d entries with flags %d, want 2", len(pkt.Entries), pkt.Flags)
	}
}

func TestSpawnPlayersIsIdempotent(t *testing.T) {
	f := setUpCoordinator(t, testPoints)

	entries := []Entry{{OwnerID: 2, Position: world.Position{X: 4, Y: 2}}}
	f.coordinator.SpawnPlayers(entries, nil, false)
	f.coordinator.SpawnPlayers(entries, nil, false)

	if len(f.world.Players()) != 1 {
		t.Errorf("expected exactly one entity after duplicate spawns, got %d", len(f.world.Players()))
	}
}

func TestSpawnPlayersDropsDepartedTargets(t *testing.T) {
	f := setUpCoordinator(t, testPoints)
	f.directory.RecordPeerConnected(2)

	entries := []Entry{{OwnerID: 4, Position: world.Position{}}}
	// Peer 3 disconnected between being listed and the send.
	f.coordinator.SpawnPlayers(entries, []uint32{2, 3}, false)

	if len(f.sender.sends) != 1 {
		t.Fatalf("expected 1 send, got %d", len(f.sender.sends))
	}
	if f.sender.sends[0].peerID != 2 {
		t.Errorf("send addressed to peer %d, want 2", f.sender.sends[0].peerID)
	}

	// The local spawn still happened.
	if _, ok := f.world.Player(4); !ok {
		t.Error("expected the entity to exist locally despite the departed target")
	}
}

func TestSpawnPlayersRefusals(t *testing.T) {
	tests := []struct {
		name  string
		setup func(f *testFixture)
	}{
		{
			name: "non-authority",
			setup: func(f *testFixture) {
				f.coordinator.Authority = false
			},
		},
		{
			name: "no active connection",
			setup: func(f *testFixture) {
				f.coordinator.Connected = func() bool { return false }
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setUpCoordinator(t, testPoints)
			tt.setup(f)

			f.coordinator.SpawnPlayers([]Entry{{OwnerID: 2}}, nil, false)

			if len(f.world.Players()) != 0 {
				t.Error("expected no local entities")
			}
			if len(f.sender.broadcasts) != 0 {
				t.Error("expected no broadcasts")
			}
		})
	}
}

func TestSpawnPlayersEmptyEntries(t *testing.T) {
	f := setUpCoordinator(t, testPoints)

	f.coordinator.SpawnPlayers(nil, nil, false)

	if len(f.sender.broadcasts) != 0 {
		t.Errorf("expected no broadcasts for an empty batch, got %d", len(f.sender.broadcasts))
	}
}

func TestNotifyClientReady(t *testing.T) {
	f := setUpCoordinator(t, testPoints)
	f.directory.RecordPeerConnected(directory.AuthorityID)
	f.directory.RecordPeerConnected(2)
	f.directory.RecordPeerConnected(3)

	// The authority and peer 2 already have entities in the world.
	f.world.SpawnOrMove(directory.AuthorityID, world.Position{X: 0, Y: 2})
	f.world.SpawnOrMove(2, world.Position{X: 4, Y: 2})

	f.coordinator.NotifyClientReady(3)

	// Peer 3's entity was created at its assigned spawn point.
	player, ok := f.world.Player(3)
	if !ok {
		t.Fatal("expected an entity for the late joiner")
	}
	if diff := cmp.Diff(world.Position{X: -4, Y: 2}, player.Position); diff != "" {
		t.Errorf("late joiner position did not match expected; diff:\n%s", diff)
	}

	// One instruction to peer 2 for the newcomer, one to peer 3 for the roster.
	if len(f.sender.sends) != 2 {
		t.Fatalf("expected 2 sends, got %d", len(f.sender.sends))
	}

	newcomerPkt := f.sender.sends[0]
	if newcomerPkt.peerID != 2 {
		t.Errorf("newcomer instruction addressed to peer %d, want 2", newcomerPkt.peerID)
	}
	if entries := newcomerPkt.packet.(*packets.SpawnPlayers).Entries; len(entries) != 1 || entries[0].OwnerID != 3 {
		t.Errorf("newcomer instruction entries = %v, want one entry for owner 3", entries)
	}

	// The roster is a single batched instruction carrying every entity,
	// including the newcomer's own.
	rosterPkt := f.sender.sends[1]
	if rosterPkt.peerID != 3 {
		t.Errorf("roster instruction addressed to peer %d, want 3", rosterPkt.peerID)
	}
	roster := rosterPkt.packet.(*packets.SpawnPlayers)
	if len(roster.Entries) != 3 || roster.Flags != 3 {
		t.Fatalf("roster carried %d entries with flags %d, want 3", len(roster.Entries), roster.Flags)
	}

	// Acknowledgment bookkeeping was initialized for the newcomer only.
	if _, ok := f.coordinator.AckSet(3); !ok {
		t.Error("expected an acknowledgment set for the late joiner")
	}
	if _, ok := f.coordinator.AckSet(2); ok {
		t.Error("did not expect an acknowledgment set for peer 2")
	}
}

func TestNotifyClientReadyLoneJoiner(t *testing.T) {
	f := setUpCoordinator(t, testPoints)
	f.directory.RecordPeerConnected(directory.AuthorityID)
	f.directory.RecordPeerConnected(2)

	f.coordinator.NotifyClientReady(2)

	// With nobody else present there must be no broadcast; the only send is
	// the roster to the newcomer itself.
	if len(f.sender.broadcasts) != 0 {
		t.Errorf("expected no broadcasts, got %d", len(f.sender.broadcasts))
	}
	if len(f.sender.sends) != 1 || f.sender.sends[0].peerID != 2 {
		t.Fatalf("expected a single roster send to peer 2, got %v", f.sender.sends)
	}
	if _, ok := f.world.Player(2); !ok {
		t.Error("expected the lone joiner's entity to exist locally")
	}
}

// Two participants joining close together converge on the same entity set no
// matter which order the coordinator processes them in.
func TestNotifyClientReadyConverges(t *testing.T) {
	runSequence := func(t *testing.T, order []uint32) []world.PlayerEntity {
		f := setUpCoordinator(t, testPoints)
		f.directory.RecordPeerConnected(directory.AuthorityID)
		f.directory.RecordPeerConnected(2)
		f.directory.RecordPeerConnected(3)

		for _, id := range order {
			f.coordinator.NotifyClientReady(id)
		}
		return f.world.Players()
	}

	forward := runSequence(t, []uint32{2, 3})
	reverse := runSequence(t, []uint32{3, 2})

	if diff := cmp.Diff(forward, reverse); diff != "" {
		t.Errorf("entity sets diverged across join orders; diff:\n%s", diff)
	}
	if len(forward) != 2 {
		t.Errorf("expected 2 entities, got %d", len(forward))
	}
}

func TestPositionFor(t *testing.T) {
	tests := []struct {
		name   string
		points []core.SpawnPoint
		id     uint32
		want   world.Position
	}{
		{
			name:   "first peer gets the first point",
			points: testPoints,
			id:     1,
			want:   world.Position{X: 0, Y: 2, Z: 0},
		},
		{
			name:   "third peer gets the third point",
			points: testPoints,
			id:     3,
			want:   world.Position{X: -4, Y: 2, Z: 0},
		},
		{
			name:   "wraps past the defined points",
			points: testPoints,
			id:     4,
			want:   world.Position{X: 0, Y: 2, Z: 0},
		},
		{
			name:   "single point serves every peer",
			points: []core.SpawnPoint{{X: 0, Y: 2, Z: 0}},
			id:     7,
			want:   world.Position{X: 0, Y: 2, Z: 0},
		},
		{
			name:   "no points defined falls back to the origin",
			points: nil,
			id:     2,
			want:   world.Position{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setUpCoordinator(t, tt.points)
			if got := f.coordinator.PositionFor(tt.id); got != tt.want {
				t.Errorf("PositionFor(%d) = %v, want %v", tt.id, got, tt.want)
			}
		})
	}
}

// A single spawn point means every participant starts at the same position,
// but each still gets its own entity.
func TestSharedSpawnPointKeepsEntitiesDistinct(t *testing.T) {
	f := setUpCoordinator(t, []core.SpawnPoint{{X: 0, Y: 2, Z: 0}})
	f.directory.RecordPeerConnected(directory.AuthorityID)
	f.directory.RecordPeerConnected(2)
	f.directory.RecordPeerConnected(3)

	f.coordinator.NotifyClientReady(2)
	f.coordinator.NotifyClientReady(3)

	players := f.world.Players()
	if len(players) != 2 {
		t.Fatalf("expected 2 entities, got %d", len(players))
	}
	for _, p := range players {
		if (p.Position != world.Position{X: 0, Y: 2, Z: 0}) {
			t.Errorf("entity %d at %v, want the shared point", p.OwnerID, p.Position)
		}
	}
}

func TestAckTracking(t *testing.T) {
	f := setUpCoordinator(t, testPoints)
	f.directory.RecordPeerConnected(2)

	entries := []Entry{
		{OwnerID: 2, Position: world.Position{X: 4, Y: 2}},
		{OwnerID: 3, Position: world.Position{X: -4, Y: 2}},
	}
	f.coordinator.SpawnPlayers(entries, []uint32{2}, true)

	set, ok := f.coordinator.AckSet(2)
	if !ok {
		t.Fatal("expected an acknowledgment set for the target")
	}
	if len(set) != 0 {
		t.Fatalf("expected an empty set before any acks, got %v", set)
	}

	f.coordinator.RecordAck(2, 3)
	// Acks for untracked targets are dropped.
	f.coordinator.RecordAck(9, 3)

	set, _ = f.coordinator.AckSet(2)
	if !set[3] {
		t.Error("expected owner 3 to be acknowledged")
	}
	if set[2] {
		t.Error("did not expect owner 2 to be acknowledged")
	}
}

func TestAckTrackingRequiresSingleTarget(t *testing.T) {
	f := setUpCoordinator(t, testPoints)
	f.directory.RecordPeerConnected(2)
	f.directory.RecordPeerConnected(3)

	entries := []Entry{{OwnerID: 4, Position: world.Position{}}}
	f.coordinator.SpawnPlayers(entries, []uint32{2, 3}, true)

	// Tracking is disabled rather than guessing which target to track.
	if _, ok := f.coordinator.AckSet(2); ok {
		t.Error("did not expect an acknowledgment set for peer 2")
	}
	if _, ok := f.coordinator.AckSet(3); ok {
		t.Error("did not expect an acknowledgment set for peer 3")
	}
	// The sends themselves still go out.
	if len(f.sender.sends) != 2 {
		t.Errorf("expected 2 sends, got %d", len(f.sender.sends))
	}
}

func TestAckSetReturnsCopy(t *testing.T) {
	f := setUpCoordinator(t, testPoints)
	f.directory.RecordPeerConnected(2)

	f.coordinator.SpawnPlayers([]Entry{{OwnerID: 3}}, []uint32{2}, true)

	set, _ := f.coordinator.AckSet(2)
	set[3] = true

	unchanged, _ := f.coordinator.AckSet(2)
	if unchanged[3] {
		t.Error("expected the returned set to be a copy")
	}
}
