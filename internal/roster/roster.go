// Package roster tracks which users are connected to the room.
//
// A user may hold several connections at once; the user stays on the roster
// until the last one closes.
package roster

import (
	"sort"
	"sync"

	"github.com/music-chat-room/pkg/protocol"
)

type member struct {
	username string
	conns    int
	seq      uint64
}

type Roster struct {
	mu      sync.RWMutex
	members map[uint64]*member
	nextSeq uint64
}

func New() *Roster {
	return &Roster{members: make(map[uint64]*member)}
}

// Join records one more connection for the user. first reports whether the
// user was absent before.
func (r *Roster) Join(userID uint64, username string) (snapshot []protocol.OnlineUser, first bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.members[userID]
	if !ok {
		r.nextSeq++
		m = &member{username: username, seq: r.nextSeq}
		r.members[userID] = m
	}
	m.conns++

	return r.snapshotLocked(), !ok
}

// Leave drops one connection for the user. last reports whether the user is
// now off the roster.
func (r *Roster) Leave(userID uint64) (snapshot []protocol.OnlineUser, last bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.members[userID]
	if !ok {
		return r.snapshotLocked(), false
	}
	m.conns--
	if m.conns <= 0 {
		delete(r.members, userID)
		last = true
	}

	return r.snapshotLocked(), last
}

// Snapshot returns the members in join order.
func (r *Roster) Snapshot() []protocol.OnlineUser {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshotLocked()
}

func (r *Roster) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members)
}

func (r *Roster) snapshotLocked() []protocol.OnlineUser {
	type row struct {
		seq  uint64
		user protocol.OnlineUser
	}
	rows := make([]row, 0, len(r.members))
	for id, m := range r.members {
		rows = append(rows, row{m.seq, protocol.OnlineUser{UserID: id, Username: m.username}})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].seq < rows[j].seq })

	users := make([]protocol.OnlineUser, len(rows))
	for i, r := range rows {
		users[i] = r.user
	}
	return users
}
