// The directory package owns the authoritative view of which participants
// are currently connected and the metadata shown for each of them.
package directory

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/text/unicode/norm"
)

// AuthorityID is the peer id reserved for the hosting participant.
const AuthorityID uint32 = 1

// Participant is one connected instance of the game.
type Participant struct {
	ID   uint32
	Name string
	Team int
}

// Subscriber receives a snapshot of the connected peer ids after a change.
type Subscriber func(members []uint32)

// Directory maps peer ids to participant metadata. Entries are added and
// removed synchronously with transport connect/disconnect events so the key
// set always matches the set of live connections.
type Directory struct {
	Logger *logrus.Logger

	mu                sync.RWMutex
	participants      map[uint32]*Participant
	directoryChanged  []Subscriber
	membershipChanged []Subscriber
}

func New(logger *logrus.Logger) *Directory {
	return &Directory{
		Logger:       logger,
		participants: make(map[uint32]*Participant),
	}
}

// OnDirectoryChanged registers a subscriber invoked whenever any directory
// entry is added, removed, or renamed.
func (d *Directory) OnDirectoryChanged(s Subscriber) {
	d.mu.Lock()
	d.directoryChanged = append(d.directoryChanged, s)
	d.mu.Unlock()
}

// OnMembershipChanged registers a subscriber invoked whenever the set of
// connected participants shrinks or is cleared.
func (d *Directory) OnMembershipChanged(s Subscriber) {
	d.mu.Lock()
	d.membershipChanged = append(d.membershipChanged, s)
	d.mu.Unlock()
}

// RecordPeerConnected inserts an entry for the peer with a default display
// name derived from its id. Idempotent: reconnecting an already-known id
// leaves its metadata untouched.
func (d *Directory) RecordPeerConnected(id uint32) {
	d.mu.Lock()
	if _, ok := d.participants[id]; !ok {
		d.participants[id] = &Participant{
			ID:   id,
			Name: fmt.Sprintf("Player %d", id),
		}
	}
	d.mu.Unlock()

	d.notifyDirectoryChanged()
}

// RecordPeerDisconnected removes the entry for the peer if present. Idempotent.
func (d *Directory) RecordPeerDisconnected(id uint32) {
	d.mu.Lock()
	delete(d.participants, id)
	d.mu.Unlock()

	d.notifyDirectoryChanged()
	d.notifyMembershipChanged()
}

// SetDisplayName renames the target participant. Only the authority or the
// participant itself may rename an entry; anything else is logged and skipped.
// Renaming an absent id is a no-op.
func (d *Directory) SetDisplayName(callerID, id uint32, name string) bool {
	if callerID != AuthorityID && callerID != id {
		d.Logger.Warnf("peer %d denied rename of peer %d", callerID, id)
		return false
	}

	name = normalizeName(name)
	if name == "" {
		d.Logger.Warnf("peer %d submitted an empty display name", callerID)
		return false
	}

	d.mu.Lock()
	participant, ok := d.participants[id]
	if ok {
		participant.Name = name
	}
	d.mu.Unlock()

	if !ok {
		return false
	}

	d.notifyDirectoryChanged()
	return true
}

// SetTeam reassigns the target participant's team under the same permission
// rule as SetDisplayName.
func (d *Directory) SetTeam(callerID, id uint32, team int) bool {
	if callerID != AuthorityID && callerID != id {
		d.Logger.Warnf("peer %d denied team change of peer %d", callerID, id)
		return false
	}

	d.mu.Lock()
	participant, ok := d.participants[id]
	if ok {
		participant.Team = team
	}
	d.mu.Unlock()

	if !ok {
		return false
	}

	d.notifyDirectoryChanged()
	return true
}

// Clear empties the directory, used when the local connection is lost
// entirely. Both notifications fire even if the directory was already empty
// since consumers depend on them for refreshes.
func (d *Directory) Clear() {
	d.mu.Lock()
	d.participants = make(map[uint32]*Participant)
	d.mu.Unlock()

	d.notifyDirectoryChanged()
	d.notifyMembershipChanged()
}

// Members returns a sorted snapshot of the connected peer ids. The returned
// slice is the caller's to mutate.
func (d *Directory) Members() []uint32 {
	d.mu.RLock()
	members := make([]uint32, 0, len(d.participants))
	for id := range d.participants {
		members = append(members, id)
	}
	d.mu.RUnlock()

	sort.Slice(members, func(i, j int) bool { return members[i] < members[j] })
	return members
}

// Participant returns a copy of the entry for the peer, if present.
func (d *Directory) Participant(id uint32) (Participant, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	participant, ok := d.participants[id]
	if !ok {
		return Participant{}, false
	}
	return *participant, true
}

// Len returns the number of connected participants.
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.participants)
}

func (d *Directory) notifyDirectoryChanged() {
	members := d.Members()
	d.mu.RLock()
	subscribers := d.directoryChanged
	d.mu.RUnlock()

	for _, s := range subscribers {
		s(members)
	}
}

func (d *Directory) notifyMembershipChanged() {
	members := d.Members()
	d.mu.RLock()
	subscribers := d.membershipChanged
	d.mu.RUnlock()

	for _, s := range subscribers {
		s(members)
	}
}

// normalizeName trims whitespace and applies NFC normalization so names
// compare consistently regardless of how the client composed them.
func normalizeName(name string) string {
	return norm.NFC.String(strings.TrimSpace(name))
}
