// Package sim implements the fixed-timestep simulation core: a dual-rate
// tick loop (physics ticks on a fixed-duration accumulator, state emission
// at SnapshotRate), deterministic per-tick iteration order, input intake
// with rate limiting and sequence discipline, and keyframe/delta snapshot
// production. The dual-ticker loop shape is grounded in the reference
// racing server's Room.gameLoop (physics at one rate, broadcast at
// another, via two independent time.Tickers selected in one goroutine);
// the accumulator itself replaces that loop's wall-clock delta, since
// physics here must be reproducible given the same input sequence.
package sim

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"gamecore/internal/core"
	"gamecore/internal/quantize"
	"gamecore/internal/wire"
)

// EntityState is the authoritative per-entity simulation state. Mirrors the
// wire-level EntitySnapshot shape so producing a snapshot is a direct
// per-field translation, not a remodeling step.
type EntityState struct {
	ID       string
	Pos      [3]float32
	Vel      [3]float32
	Rot      float32
	AngVel   [3]float32
	Scale    float32
	Mass     float32
	Friction float32
	Health   int8
	Metadata []byte
}

// PlayerInput is one accepted input sample for a tick.
type PlayerInput struct {
	PlayerID    string
	Seq         uint32
	Movement    [3]float32
	TimestampMs uint64
}

// StepFunc advances one entity by dt seconds given the inputs queued for it
// this tick. It is supplied by the caller (the concrete game rules live
// outside this package) so sim stays a generic driver.
type StepFunc func(state *EntityState, inputs []PlayerInput, dt float64)

// Config controls tick/broadcast cadence, keyframe spacing, and the
// fixed-timestep catch-up and input-sequence bounds.
type Config struct {
	TickRate      int // physics ticks per second
	SnapshotRate  int // state emissions per second
	KeyframeEvery int // ticks between full snapshots (deltas in between)
	InputPerSec   float64
	InputBurst    int
	// MaxFramesPerCycle bounds how many fixed physics steps one scheduler
	// wakeup may run to catch up after a stall, so a long pause can't spiral
	// into running an unbounded number of steps back to back.
	MaxFramesPerCycle int
	// MinFrameTimeMs is the accumulator loop's polling interval: how often
	// it wakes to check whether a fixed-size physics step is due.
	MinFrameTimeMs int
	// MaxInputGap bounds how far an input's sequence number may jump ahead
	// of the last one accepted from that player before it is rejected as
	// SequenceTooOld, rather than silently queued under an arbitrary gap.
	MaxInputGap uint32
}

// Input validation bounds. These are fixed protocol constants, not
// per-deployment flags: movement magnitude and timestamp drift describe
// what a legitimate client can possibly send, not a tunable server policy,
// so they stay consts here rather than config.Config fields (see
// DESIGN.md).
const (
	maxMovementMagnitude = 100.0 // units/sec; larger is not physically reachable by legitimate input
	maxTimestampDriftMs  = 5000  // how far a client clock may lead or lag the server's
	maxPlayerIDLen       = 50
)

// Sim drives a single room's simulation loop. It owns no transport; callers
// feed inputs in via QueueInput and drain output via the Snapshots channel.
type Sim struct {
	cfg  Config
	log  *slog.Logger
	step StepFunc

	mu       sync.Mutex
	entities map[string]*EntityState
	limiters map[string]*rate.Limiter
	inbox    map[string][]PlayerInput
	lastSeq  map[string]uint32

	tick         uint64
	lastKeyframe uint64

	Snapshots chan wire.StateMessage
}

// New constructs a Sim. log may be nil, in which case slog.Default() is
// used — matching the rest of this codebase's structured-logging packages.
func New(cfg Config, step StepFunc, log *slog.Logger) *Sim {
	if cfg.TickRate <= 0 {
		cfg.TickRate = 30
	}
	if cfg.SnapshotRate <= 0 {
		cfg.SnapshotRate = cfg.TickRate
	}
	if cfg.KeyframeEvery <= 0 {
		cfg.KeyframeEvery = cfg.TickRate
	}
	if cfg.MaxFramesPerCycle <= 0 {
		cfg.MaxFramesPerCycle = 5
	}
	if cfg.MinFrameTimeMs <= 0 {
		cfg.MinFrameTimeMs = 1
	}
	if cfg.MaxInputGap == 0 {
		cfg.MaxInputGap = 1024
	}
	if log == nil {
		log = slog.Default()
	}
	return &Sim{
		cfg:       cfg,
		log:       log,
		step:      step,
		entities:  make(map[string]*EntityState),
		limiters:  make(map[string]*rate.Limiter),
		inbox:     make(map[string][]PlayerInput),
		lastSeq:   make(map[string]uint32),
		Snapshots: make(chan wire.StateMessage, 8),
	}
}

// AddEntity registers (or replaces) the authoritative state for one entity,
// typically called when a player joins the room.
func (s *Sim) AddEntity(e *EntityState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entities[e.ID] = e
	if _, ok := s.limiters[e.ID]; !ok {
		burst := s.cfg.InputBurst
		if burst <= 0 {
			burst = int(s.cfg.InputPerSec)
			if burst <= 0 {
				burst = 1
			}
		}
		s.limiters[e.ID] = rate.NewLimiter(rate.Limit(s.cfg.InputPerSec), burst)
	}
}

// RemoveEntity drops an entity from the simulation, e.g. on player leave.
func (s *Sim) RemoveEntity(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entities, id)
	delete(s.limiters, id)
	delete(s.inbox, id)
	delete(s.lastSeq, id)
}

// validPlayerID reports whether id is a well-formed player identifier: ASCII
// word characters, hyphens, and underscores only, non-empty, and bounded in
// length so it can't be used to smuggle oversized or control-character data
// through input processing.
func validPlayerID(id string) bool {
	if id == "" || len(id) > maxPlayerIDLen {
		return false
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			return false
		}
	}
	return true
}

// movementMagnitude returns the Euclidean norm of a movement vector.
func movementMagnitude(v [3]float32) float64 {
	x, y, z := float64(v[0]), float64(v[1]), float64(v[2])
	return math.Sqrt(x*x + y*y + z*z)
}

// QueueInput validates and enqueues one input sample for the next tick.
// Movement must be finite and within a physically plausible magnitude, the
// player ID must be well-formed, the timestamp must not be wildly out of
// step with server time, the per-player rate limiter (golang.org/x/time/rate,
// resolving the throttling open question) must have a token available, and
// the sequence number must strictly increase within the configured gap
// bound; violations return a tagged *core.Error instead of being silently
// dropped, so callers can decide whether to disconnect a repeat offender.
func (s *Sim) QueueInput(in PlayerInput) error {
	if !validPlayerID(in.PlayerID) {
		return core.New(core.KindInvalidPlayerID, "malformed player id")
	}
	if !quantize.Finite(in.Movement) {
		return core.New(core.KindInvalidMovement, "movement component is NaN or Inf")
	}
	if movementMagnitude(in.Movement) > maxMovementMagnitude {
		return core.New(core.KindInvalidMovement, "movement magnitude exceeds bound")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entities[in.PlayerID]; !ok {
		return core.New(core.KindInvalidPlayerID, "input for unknown entity")
	}

	now := uint64(time.Now().UnixMilli())
	var drift uint64
	if in.TimestampMs > now {
		drift = in.TimestampMs - now
	} else {
		drift = now - in.TimestampMs
	}
	if drift > maxTimestampDriftMs {
		return core.New(core.KindInvalidTimestamp, "input timestamp drift too large")
	}

	limiter, ok := s.limiters[in.PlayerID]
	if !ok || !limiter.Allow() {
		return core.New(core.KindRateLimitExceeded, "input rate limit exceeded")
	}

	if last, seen := s.lastSeq[in.PlayerID]; seen {
		if in.Seq == last {
			return core.New(core.KindSequenceDuplicate, "duplicate input sequence")
		}
		if wire.IsStale(last, in.Seq) {
			return core.New(core.KindSequenceTooOld, "input sequence older than last accepted")
		}
		if wire.SeqDistance(last, in.Seq) > s.cfg.MaxInputGap {
			return core.New(core.KindSequenceTooOld, "input sequence gap exceeds bound")
		}
	}
	s.lastSeq[in.PlayerID] = in.Seq

	s.inbox[in.PlayerID] = append(s.inbox[in.PlayerID], in)
	return nil
}

// Run drives the fixed-timestep physics loop and the state-emission ticker
// until ctx is canceled. Physics never reads wall-clock delta directly: a
// frameTicker wakes every cfg.MinFrameTimeMs to check an accumulator against
// the fixed tickDuration (cfg.TickRate), running as many whole fixedDt steps
// as are due — capped at cfg.MaxFramesPerCycle so a scheduling stall can't
// spiral into an unbounded catch-up burst. Each step therefore always
// advances by the same fixedDt, so identical input sequences produce
// identical output regardless of real-world scheduling jitter. State
// emission still runs on its own ticker at cfg.SnapshotRate, the same
// independent-ticker-in-one-select shape as the reference gameLoop.
func (s *Sim) Run(ctx context.Context) {
	tickDuration := time.Second / time.Duration(s.cfg.TickRate)
	fixedDt := tickDuration.Seconds()

	frameTicker := time.NewTicker(time.Duration(s.cfg.MinFrameTimeMs) * time.Millisecond)
	snapshotTicker := time.NewTicker(time.Second / time.Duration(s.cfg.SnapshotRate))
	defer frameTicker.Stop()
	defer snapshotTicker.Stop()

	var accumulator time.Duration
	last := time.Now()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-frameTicker.C:
			accumulator += now.Sub(last)
			last = now

			frames := 0
			for accumulator >= tickDuration && frames < s.cfg.MaxFramesPerCycle {
				s.stepOnce(fixedDt)
				accumulator -= tickDuration
				frames++
			}
			if frames == s.cfg.MaxFramesPerCycle && accumulator >= tickDuration {
				// Can't catch up this wakeup; drop the remainder rather than
				// let the backlog grow without bound.
				accumulator = 0
			}
		case <-snapshotTicker.C:
			s.emit()
		}
	}
}

// stepOnce advances every entity by dt, panics inside an individual step
// recovered so one bad entity can't kill the whole room's tick goroutine —
// generalized from the reference server's recover-middleware idiom.
func (s *Sim) stepOnce(dt float64) {
	s.mu.Lock()
	ids := make([]string, 0, len(s.entities))
	for id := range s.entities {
		ids = append(ids, id)
	}
	// Map iteration order is randomized in Go; sorting keys makes the
	// per-tick update order deterministic regardless of that.
	sort.Strings(ids)

	type work struct {
		state  *EntityState
		inputs []PlayerInput
	}
	items := make([]work, 0, len(ids))
	for _, id := range ids {
		inputs := s.inbox[id]
		sort.Slice(inputs, func(i, j int) bool { return inputs[i].Seq < inputs[j].Seq })
		items = append(items, work{state: s.entities[id], inputs: inputs})
		delete(s.inbox, id)
	}
	s.mu.Unlock()

	for _, w := range items {
		s.safeStep(w.state, w.inputs, dt)
	}

	s.mu.Lock()
	s.tick++
	s.mu.Unlock()
}

func (s *Sim) safeStep(state *EntityState, inputs []PlayerInput, dt float64) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("panic recovered in entity step", "entity", state.ID, "panic", r)
		}
	}()
	s.step(state, inputs, dt)
}

// emit produces a Snapshot every cfg.KeyframeEvery ticks and a Delta
// otherwise, matching the keyframe/delta policy grounded in the reference
// server's keyframeInterval/lastKeyframeSeq bookkeeping.
func (s *Sim) emit() {
	s.mu.Lock()
	tick := s.tick
	ids := make([]string, 0, len(s.entities))
	for id := range s.entities {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	keyframe := tick-s.lastKeyframe >= uint64(s.cfg.KeyframeEvery) || s.lastKeyframe == 0
	if keyframe {
		s.lastKeyframe = tick
	}

	entities := make([]*EntityState, 0, len(ids))
	for _, id := range ids {
		entities = append(entities, s.entities[id])
	}
	s.mu.Unlock()

	var msg wire.StateMessage
	if keyframe {
		msg = snapshotFromEntities(tick, entities)
	} else {
		msg = deltaFromEntities(tick, entities)
	}

	select {
	case s.Snapshots <- msg:
	default:
		s.log.Warn("snapshot channel full, dropping frame", "tick", tick)
	}
}

// EntitySnapshot returns a copy of one entity's current state, used by
// callers that need a final score/position when a player leaves (e.g. to
// build a persisted match result) without reaching into sim internals.
func (s *Sim) EntitySnapshot(id string) (EntityState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entities[id]
	if !ok {
		return EntityState{}, false
	}
	return *e, true
}

// Tick returns the current simulation tick counter.
func (s *Sim) Tick() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tick
}
