// Package engine ties the room dispatcher, the connection registry, and a
// per-room simulation together: it is the glue the transport accept loops in
// cmd/gameserver hand a freshly-authenticated Session to. One Engine serves
// every room on the node; a *sim.Sim is created lazily the first time a
// room gets a player and torn down once the room empties out, the same
// lazy-per-room-goroutine shape as the reference server's per-Room
// broadcast loop, just keyed by room ID instead of a single global room.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"gamecore/internal/core"
	"gamecore/internal/metrics"
	"gamecore/internal/registry"
	"gamecore/internal/room"
	"gamecore/internal/sim"
	"gamecore/internal/store"
	"gamecore/internal/transport"
	"gamecore/internal/wire"
)

// Config carries the simulation tuning knobs a room's Sim is built with.
type Config struct {
	TickRate       int
	SnapshotRate   int
	KeyframeEvery  int
	InputRateLimit float64

	MaxFramesPerCycle int
	MinFrameTimeMs    int
	MaxInputGap       uint32
}

// Engine owns the lazily-created per-room simulations and wires accepted
// Sessions into room membership, simulation entities, and state broadcast.
type Engine struct {
	dispatcher *room.Dispatcher
	registry   *registry.Registry
	store      *store.Store
	metrics    *metrics.Metrics
	cfg        Config
	log        *slog.Logger

	mu   sync.Mutex
	sims map[string]*roomSim
}

// roomSim is one room's live simulation plus the bookkeeping needed to
// persist a MatchResult once the room empties out.
type roomSim struct {
	sim       *sim.Sim
	cancel    context.CancelFunc
	startedAt time.Time

	mu     sync.Mutex
	scores map[string]float64
}

func New(d *room.Dispatcher, reg *registry.Registry, st *store.Store, m *metrics.Metrics, cfg Config, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		dispatcher: d,
		registry:   reg,
		store:      st,
		metrics:    m,
		cfg:        cfg,
		log:        log,
		sims:       make(map[string]*roomSim),
	}
}

// HandleSession drives one connected player's session from join to
// disconnect: the session's PlayerID must already be bound (see DESIGN.md's
// decided open question on authentication timing) before this is called.
// It blocks until the session's Recv loop ends, so callers run it in its
// own goroutine per accepted connection.
func (e *Engine) HandleSession(sess transport.Session) {
	playerID := sess.PlayerID()
	defer sess.Close()

	if e.metrics != nil {
		e.metrics.TransportKind.WithLabelValues(sess.Kind()).Inc()
	}

	// Acknowledge the bound identity so the client can confirm its
	// connection authenticated before it sends JoinRoom.
	_ = sess.SendControl(wire.Frame{
		Channel: wire.ChannelControl,
		Payload: wire.AuthToken{Token: playerID},
	})

	ctx := sess.Context()
	first, err := sess.Recv(ctx)
	if err != nil {
		e.log.Debug("session closed before join", "player", playerID, "err", err)
		return
	}
	join, ok := first.Payload.(wire.JoinRoom)
	if !ok {
		e.log.Warn("first control message was not JoinRoom", "player", playerID, "type", fmt.Sprintf("%T", first.Payload))
		return
	}

	r := e.dispatcher.Get(join.RoomID)
	if r == nil {
		e.log.Warn("join to unknown room", "player", playerID, "room", join.RoomID)
		return
	}
	if err := r.Join(playerID); err != nil {
		e.log.Warn("join room rejected", "player", playerID, "room", r.ID(), "err", err)
		return
	}

	e.registry.Bind(r.ID(), playerID, sess)
	if e.metrics != nil {
		e.metrics.PlayersConnected.Inc()
	}

	rs := e.ensureSim(r)
	rs.sim.AddEntity(&sim.EntityState{ID: playerID, Scale: 1, Mass: 1, Friction: 0.15, Health: 100})
	e.maybeStart(r)

	defer func() {
		if es, ok := rs.sim.EntitySnapshot(playerID); ok {
			rs.mu.Lock()
			rs.scores[playerID] = float64(es.Health)
			rs.mu.Unlock()
		}
		rs.sim.RemoveEntity(playerID)
		e.registry.Unbind(r.ID(), playerID)
		if e.metrics != nil {
			e.metrics.PlayersConnected.Dec()
		}

		newHost, changed := r.Leave(playerID)
		if changed {
			e.log.Info("host migrated", "room", r.ID(), "player", playerID, "new_host", newHost)
		}
		if r.State() == room.StateFinished {
			e.finishRoom(r, rs)
		}
	}()

	for {
		f, err := sess.Recv(ctx)
		if err != nil {
			return
		}
		switch m := f.Payload.(type) {
		case wire.Input:
			if m.Payload.PlayerID != "" && m.Payload.PlayerID != playerID {
				e.countRejectedInput(core.New(core.KindInvalidPlayerID, "input names a different player"))
				continue
			}
			in := sim.PlayerInput{
				PlayerID:    playerID,
				Seq:         m.Seq,
				Movement:    m.Payload.Movement,
				TimestampMs: m.Payload.TimestampMs,
			}
			if err := rs.sim.QueueInput(in); err != nil {
				e.countRejectedInput(err)
				continue
			}
			if e.metrics != nil {
				e.metrics.InputsAccepted.Inc()
			}
		case wire.Ping:
			_ = sess.SendControl(wire.Frame{Channel: wire.ChannelControl, Payload: wire.Pong{Nonce: m.Nonce}})
		case wire.LeaveRoom:
			return
		default:
			e.log.Debug("ignoring control message", "player", playerID, "type", fmt.Sprintf("%T", m))
		}
	}
}

func (e *Engine) countRejectedInput(err error) {
	if e.metrics == nil {
		return
	}
	var ce *core.Error
	kind := core.KindUnknown.String()
	if errors.As(err, &ce) {
		kind = ce.Kind.String()
	}
	e.metrics.InputsRejected.WithLabelValues(kind).Inc()
}

// ensureSim returns the room's Sim, creating and starting it (along with its
// snapshot-forwarding goroutine) on first use.
func (e *Engine) ensureSim(r *room.Room) *roomSim {
	e.mu.Lock()
	defer e.mu.Unlock()
	if rs, ok := e.sims[r.ID()]; ok {
		return rs
	}

	simCfg := sim.Config{
		TickRate:          e.cfg.TickRate,
		SnapshotRate:      e.cfg.SnapshotRate,
		KeyframeEvery:     e.cfg.KeyframeEvery,
		InputPerSec:       e.cfg.InputRateLimit,
		InputBurst:        int(e.cfg.InputRateLimit),
		MaxFramesPerCycle: e.cfg.MaxFramesPerCycle,
		MinFrameTimeMs:    e.cfg.MinFrameTimeMs,
		MaxInputGap:       e.cfg.MaxInputGap,
	}
	s := sim.New(simCfg, stepEntity, e.log)
	ctx, cancel := context.WithCancel(context.Background())
	rs := &roomSim{sim: s, cancel: cancel, startedAt: time.Now(), scores: make(map[string]float64)}
	e.sims[r.ID()] = rs

	go s.Run(ctx)
	go e.forward(ctx, r, s)

	if e.metrics != nil {
		e.metrics.RoomsActive.Inc()
	}
	return rs
}

// forward copies every emitted snapshot/delta out to the room's connected
// sessions until ctx is canceled (the room finished and its Sim was torn
// down).
func (e *Engine) forward(ctx context.Context, r *room.Room, s *sim.Sim) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-s.Snapshots:
			if !ok {
				return
			}
			f := wire.Frame{
				Channel:     wire.ChannelState,
				Sequence:    uint32(s.Tick()),
				TimestampMs: uint64(time.Now().UnixMilli()),
				Payload:     msg,
			}
			e.registry.BroadcastState(r.ID(), "", f)
			if e.metrics != nil {
				e.metrics.TicksRun.Inc()
			}
		}
	}
}

// maybeStart drives the room's auto-start policy: this single-node engine
// has no separate host-issued "start_game" control message, so it stands in
// for the host by requesting the Waiting -> Starting transition itself as
// soon as the room has enough players, then immediately confirming
// Starting -> InProgress.
func (e *Engine) maybeStart(r *room.Room) {
	switch r.State() {
	case room.StateWaiting:
		if err := r.RequestStart(r.HostID()); err != nil {
			e.log.Debug("room not ready to start yet", "room", r.ID(), "err", err)
			return
		}
		fallthrough
	case room.StateStarting:
		if err := r.Start(); err != nil {
			e.log.Debug("room not ready to start yet", "room", r.ID(), "err", err)
			return
		}
		e.log.Info("room started", "room", r.ID(), "mode", r.Mode())
	}
}

// finishRoom persists the match result and archives the room once its last
// player has left, then removes it from the dispatcher's active set (S8: a
// persisted match result survives the room itself).
func (e *Engine) finishRoom(r *room.Room, rs *roomSim) {
	e.mu.Lock()
	delete(e.sims, r.ID())
	e.mu.Unlock()
	rs.cancel()

	if e.store != nil {
		rs.mu.Lock()
		participants := make([]store.ParticipantResult, 0, len(rs.scores))
		for pid, score := range rs.scores {
			participants = append(participants, store.ParticipantResult{PlayerID: pid, PlayerName: pid, Score: score})
		}
		rs.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		mr := store.MatchResult{
			MatchID:      uuid.NewString(),
			RoomID:       r.ID(),
			Mode:         r.Mode(),
			StartedAt:    rs.startedAt.Unix(),
			EndedAt:      time.Now().Unix(),
			Participants: participants,
		}
		if err := e.store.InsertMatch(ctx, mr); err != nil {
			e.log.Error("persist match result", "room", r.ID(), "err", err)
		}
		archived := store.ArchivedRoom{
			ID:         r.ID(),
			Name:       r.Name(),
			Mode:       r.Mode(),
			HostID:     r.HostID(),
			CreatedAt:  r.CreatedAt().Unix(),
			FinalState: store.MarshalFinalState(participants),
		}
		if err := e.store.ArchiveRoom(ctx, archived); err != nil {
			e.log.Error("archive room", "room", r.ID(), "err", err)
		}
		cancel()
	}

	r.Close()
	e.registry.CloseRoom(r.ID())
	e.dispatcher.Remove(r.ID())
	if e.metrics != nil {
		e.metrics.RoomsActive.Dec()
		e.metrics.RoomsClosed.Inc()
	}
	e.log.Info("room finished and archived", "room", r.ID())
}

// SweepIdle closes rooms that have sat empty past ttl and counts and logs
// each one; it does not archive them or write a match result. Callers run
// this on a periodic ticker (see cmd/gameserver).
func (e *Engine) SweepIdle(ttl time.Duration) {
	for _, id := range e.dispatcher.SweepIdle(ttl) {
		if e.metrics != nil {
			e.metrics.RoomsClosed.Inc()
		}
		e.log.Info("idle room swept", "room", id)
	}
}

// stepEntity is the default game rule: accumulate queued movement into
// velocity, integrate position, and apply linear friction decay. It is
// intentionally generic — SPEC_FULL.md's simulation core takes the concrete
// rules as a caller-supplied StepFunc, and no specific game's physics are in
// scope here.
func stepEntity(state *sim.EntityState, inputs []sim.PlayerInput, dt float64) {
	for _, in := range inputs {
		state.Vel[0] += in.Movement[0]
		state.Vel[1] += in.Movement[1]
		state.Vel[2] += in.Movement[2]
	}
	for i := range state.Pos {
		state.Pos[i] += state.Vel[i] * float32(dt)
	}
	decay := float32(1)
	if state.Friction > 0 && state.Friction < 1 {
		decay = 1 - state.Friction
	}
	for i := range state.Vel {
		state.Vel[i] *= decay
	}
}
