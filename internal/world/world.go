// The world package holds one participant's local copy of the shared scene:
// which scene is loaded and the player entity replicated for each participant.
package world

import (
	"sort"
	"sync"

	"github.com/sirupsen/logrus"
)

// Position is a world-space position.
type Position struct {
	X float32
	Y float32
	Z float32
}

// Stage tracks a freshly instantiated entity's progress through its own
// initialization. Entities advance one stage per Step call, standing in for
// the frame boundaries a live scene tree would impose.
type Stage int

const (
	// Created entities exist in the registry but haven't initialized yet.
	Created Stage = iota
	// AwaitingReady entities have had one step to run their setup.
	AwaitingReady
	// Positioned entities are fully initialized at their assigned position.
	Positioned
)

// PlayerEntity is the replicated avatar for one participant. The owner id is
// immutable after creation; the position is authority-assigned and then owned
// by the controlling participant.
type PlayerEntity struct {
	OwnerID  uint32
	Position Position
	Stage    Stage
}

// World is the local container for the loaded scene and its player entities.
// Lookups are by owner id so replication never depends on scene tree naming.
type World struct {
	Logger *logrus.Logger

	mu      sync.RWMutex
	scene   string
	players map[uint32]*PlayerEntity
}

func New(logger *logrus.Logger) *World {
	return &World{
		Logger:  logger,
		players: make(map[uint32]*PlayerEntity),
	}
}

// SetScene marks the named scene as the loaded scene.
func (w *World) SetScene(name string) {
	w.mu.Lock()
	w.scene = name
	w.mu.Unlock()
}

// Scene returns the currently loaded scene name, empty if none.
func (w *World) Scene() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.scene
}

// SpawnOrMove creates the player entity for owner at pos, or repositions the
// existing one. Safe to invoke repeatedly for the same owner: at most one
// entity ever exists per id. Returns true when a new entity was created.
func (w *World) SpawnOrMove(owner uint32, pos Position) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if player, ok := w.players[owner]; ok {
		player.Position = pos
		return false
	}

	w.players[owner] = &PlayerEntity{OwnerID: owner, Position: pos}
	return true
}

// Remove destroys the entity owned by the participant, if present.
func (w *World) Remove(owner uint32) {
	w.mu.Lock()
	delete(w.players, owner)
	w.mu.Unlock()
}

// RemoveAbsent destroys every entity whose owner isn't in the members list,
// used when a directory update reveals departed participants.
func (w *World) RemoveAbsent(members []uint32) {
	present := make(map[uint32]bool, len(members))
	for _, id := range members {
		present[id] = true
	}

	w.mu.Lock()
	for owner := range w.players {
		if !present[owner] {
			delete(w.players, owner)
		}
	}
	w.mu.Unlock()
}

// Unload clears the scene and destroys every player entity.
func (w *World) Unload() {
	w.mu.Lock()
	w.scene = ""
	w.players = make(map[uint32]*PlayerEntity)
	w.mu.Unlock()
}

// Player returns a copy of the entity owned by the participant, if present.
func (w *World) Player(owner uint32) (PlayerEntity, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	player, ok := w.players[owner]
	if !ok {
		return PlayerEntity{}, false
	}
	return *player, true
}

// Players returns a snapshot of every player entity, ordered by owner id.
func (w *World) Players() []PlayerEntity {
	w.mu.RLock()
	players := make([]PlayerEntity, 0, len(w.players))
	for _, p := range w.players {
		players = append(players, *p)
	}
	w.mu.RUnlock()

	sort.Slice(players, func(i, j int) bool { return players[i].OwnerID < players[j].OwnerID })
	return players
}

// Step advances every entity's initialization by one stage. Tests and the
// server loop drive this explicitly instead of waiting on a frame clock.
func (w *World) Step() {
	w.mu.Lock()
	for _, p := range w.players {
		switch p.Stage {
		case Created:
			p.Stage = AwaitingReady
		case AwaitingReady:
			p.Stage = Positioned
		}
	}
	w.mu.Unlock()
}

// Initialized reports whether every entity has finished its startup stages.
func (w *World) Initialized() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()

	for _, p := range w.players {
		if p.Stage != Positioned {
			return false
		}
	}
	return true
}
