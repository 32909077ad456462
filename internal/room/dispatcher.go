package room

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"gamecore/internal/core"
)

// Dispatcher owns the node's active room set and implements matchmaking
// (assign a player to a room) plus lifecycle sweeping (close idle/finished
// rooms). The "first room with space, else create one" selection is
// grounded in the reference racing server's Matchmaker.FindRoom; this
// rewrite breaks the space tie by earliest CreatedAt (FindRoom's plain map
// iteration is non-deterministic, which SPEC_FULL.md's determinism
// requirements don't allow here).
type Dispatcher struct {
	mu    sync.RWMutex
	rooms map[string]*Room

	minPlayers, maxPlayers int
	log                    *slog.Logger
}

func NewDispatcher(minPlayers, maxPlayers int, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{
		rooms:      make(map[string]*Room),
		minPlayers: minPlayers,
		maxPlayers: maxPlayers,
		log:        log,
	}
}

// CreateRoom creates and registers a new room in StateWaiting.
func (d *Dispatcher) CreateRoom(name, mode string) *Room {
	r := New(name, mode, d.minPlayers, d.maxPlayers, d.log)
	d.mu.Lock()
	d.rooms[r.ID()] = r
	d.mu.Unlock()
	d.log.Info("room created", "room", r.ID(), "mode", mode)
	return r
}

// Get returns a room by ID, or nil.
func (d *Dispatcher) Get(id string) *Room {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.rooms[id]
}

// List returns every non-Closed room, sorted by CreatedAt then ID for a
// deterministic /rooms/list response.
func (d *Dispatcher) List() []*Room {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]*Room, 0, len(d.rooms))
	for _, r := range d.rooms {
		if r.State() != StateClosed {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		ci, cj := out[i].CreatedAt(), out[j].CreatedAt()
		if ci.Equal(cj) {
			return out[i].ID() < out[j].ID()
		}
		return ci.Before(cj)
	})
	return out
}

// Assign implements /rooms/assign: the fewest-members/earliest-created room
// with space, or a freshly created one if none qualifies. Scoped to this
// node's active room set only.
func (d *Dispatcher) Assign(mode string) *Room {
	d.mu.RLock()
	var best *Room
	for _, r := range d.rooms {
		if r.Mode() != mode || !r.HasSpace() {
			continue
		}
		if best == nil || isBetterCandidate(r, best) {
			best = r
		}
	}
	d.mu.RUnlock()

	if best != nil {
		return best
	}
	return d.CreateRoom("", mode)
}

func isBetterCandidate(r, best *Room) bool {
	rc, bc := r.PlayerCount(), best.PlayerCount()
	if rc != bc {
		return rc < bc
	}
	ra, ba := r.CreatedAt(), best.CreatedAt()
	if ra.Equal(ba) {
		return r.ID() < best.ID()
	}
	return ra.Before(ba)
}

// Remove drops a room from the active set entirely (used once a Closed
// room's terminal state has been persisted and it no longer needs to be
// addressable).
func (d *Dispatcher) Remove(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.rooms, id)
}

// SweepIdle closes rooms that have sat empty for longer than ttl, returning
// the IDs closed so a caller can persist a MatchResult or log the event.
func (d *Dispatcher) SweepIdle(ttl time.Duration) []string {
	d.mu.RLock()
	candidates := make([]*Room, 0, len(d.rooms))
	for _, r := range d.rooms {
		candidates = append(candidates, r)
	}
	d.mu.RUnlock()

	var closed []string
	for _, r := range candidates {
		if r.State() == StateClosed {
			continue
		}
		if r.PlayerCount() == 0 && r.IdleFor() >= ttl {
			r.Close()
			closed = append(closed, r.ID())
			d.log.Info("room closed for idleness", "room", r.ID())
		}
	}
	return closed
}

// RoomNotFoundErr is a convenience constructor for HTTP handlers.
func RoomNotFoundErr(id string) error {
	return core.New(core.KindRoomNotFound, "room "+id+" not found")
}
