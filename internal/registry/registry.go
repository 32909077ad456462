// Package registry implements the connection registry: per-room fan-out of
// state/control frames to connected sessions, indexed by room and player
// so a room closing doesn't require scanning every connection on the node.
// The broadcast pattern — snapshot targets under a read lock, release the
// lock, then do blocking I/O outside it, using a sync.Pool to reuse the
// target slice across calls — is carried over directly from the reference
// server's Room.Broadcast.
package registry

import (
	"log/slog"
	"sync"

	"gamecore/internal/transport"
	"gamecore/internal/wire"
)

type entry struct {
	playerID string
	session  transport.Session
}

// Registry indexes live sessions by room ID, shard-striped by room so
// concurrent rooms don't contend on one lock.
type Registry struct {
	shards []*shard
	log    *slog.Logger
}

type shard struct {
	mu    sync.RWMutex
	rooms map[string]map[string]*entry // roomID -> playerID -> entry
}

const shardCount = 16

// New builds an empty Registry.
func New(log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	shards := make([]*shard, shardCount)
	for i := range shards {
		shards[i] = &shard{rooms: make(map[string]map[string]*entry)}
	}
	return &Registry{shards: shards, log: log}
}

func (r *Registry) shardFor(roomID string) *shard {
	var h uint32
	for i := 0; i < len(roomID); i++ {
		h = h*31 + uint32(roomID[i])
	}
	return r.shards[h%shardCount]
}

// Bind registers sess under roomID/playerID, replacing any prior session
// for the same player (a reconnect).
func (r *Registry) Bind(roomID, playerID string, sess transport.Session) {
	s := r.shardFor(roomID)
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.rooms[roomID]
	if !ok {
		m = make(map[string]*entry)
		s.rooms[roomID] = m
	}
	m[playerID] = &entry{playerID: playerID, session: sess}
}

// Unbind removes a player's session from a room. Returns false if it wasn't
// registered.
func (r *Registry) Unbind(roomID, playerID string) bool {
	s := r.shardFor(roomID)
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.rooms[roomID]
	if !ok {
		return false
	}
	if _, ok := m[playerID]; !ok {
		return false
	}
	delete(m, playerID)
	if len(m) == 0 {
		delete(s.rooms, roomID)
	}
	return true
}

// Unicast delivers a control Frame to exactly one player in a room.
func (r *Registry) Unicast(roomID, playerID string, f wire.Frame) error {
	s := r.shardFor(roomID)
	s.mu.RLock()
	var sess transport.Session
	if m, ok := s.rooms[roomID]; ok {
		if e, ok := m[playerID]; ok {
			sess = e.session
		}
	}
	s.mu.RUnlock()
	if sess == nil {
		return nil
	}
	return sess.SendControl(f)
}

var targetPool = sync.Pool{
	New: func() any {
		s := make([]transport.Session, 0, 16)
		return &s
	},
}

// BroadcastState fans a state Frame out to every session in roomID except
// excludePlayerID (pass "" to exclude no one). Targets are snapshotted
// under the shard's read lock and released before any blocking send.
func (r *Registry) BroadcastState(roomID, excludePlayerID string, f wire.Frame) {
	s := r.shardFor(roomID)
	s.mu.RLock()
	m := s.rooms[roomID]
	sp := targetPool.Get().(*[]transport.Session)
	targets := (*sp)[:0]
	for pid, e := range m {
		if pid == excludePlayerID {
			continue
		}
		targets = append(targets, e.session)
	}
	s.mu.RUnlock()

	for _, sess := range targets {
		if err := sess.SendState(f); err != nil {
			r.log.Debug("state send failed", "room", roomID, "player", sess.PlayerID(), "err", err)
		}
	}

	*sp = targets
	targetPool.Put(sp)
}

// BroadcastControl fans a control Frame out to every session in roomID
// except excludePlayerID.
func (r *Registry) BroadcastControl(roomID, excludePlayerID string, f wire.Frame) {
	s := r.shardFor(roomID)
	s.mu.RLock()
	m := s.rooms[roomID]
	sp := targetPool.Get().(*[]transport.Session)
	targets := (*sp)[:0]
	for pid, e := range m {
		if pid == excludePlayerID {
			continue
		}
		targets = append(targets, e.session)
	}
	s.mu.RUnlock()

	for _, sess := range targets {
		if err := sess.SendControl(f); err != nil {
			r.log.Debug("control send failed", "room", roomID, "player", sess.PlayerID(), "err", err)
		}
	}

	*sp = targets
	targetPool.Put(sp)
}

// RoomSize reports how many sessions are currently bound to a room.
func (r *Registry) RoomSize(roomID string) int {
	s := r.shardFor(roomID)
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rooms[roomID])
}

// CloseRoom closes every session bound to roomID and drops the room from
// the index, used when a room transitions to Closed.
func (r *Registry) CloseRoom(roomID string) {
	s := r.shardFor(roomID)
	s.mu.Lock()
	m := s.rooms[roomID]
	delete(s.rooms, roomID)
	s.mu.Unlock()

	for _, e := range m {
		_ = e.session.Close()
	}
}
