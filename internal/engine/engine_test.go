package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"gamecore/internal/metrics"
	"gamecore/internal/registry"
	"gamecore/internal/room"
	"gamecore/internal/store"
	"gamecore/internal/wire"

	"github.com/prometheus/client_golang/prometheus"
)

// fakeSession is an in-memory transport.Session for driving Engine without
// any real network I/O, in the same spirit as the reference server's own
// test doubles for its Room broadcast tests.
type fakeSession struct {
	playerID string
	ctx      context.Context
	cancel   context.CancelFunc

	inbox chan wire.Frame

	mu      sync.Mutex
	control []wire.Frame
	state   []wire.Frame
	closed  bool
}

func newFakeSession(playerID string) *fakeSession {
	ctx, cancel := context.WithCancel(context.Background())
	return &fakeSession{
		playerID: playerID,
		ctx:      ctx,
		cancel:   cancel,
		inbox:    make(chan wire.Frame, 16),
	}
}

func (f *fakeSession) PlayerID() string { return f.playerID }

func (f *fakeSession) SendControl(fr wire.Frame) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.control = append(f.control, fr)
	return nil
}

func (f *fakeSession) SendState(fr wire.Frame) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = append(f.state, fr)
	return nil
}

func (f *fakeSession) Recv(ctx context.Context) (wire.Frame, error) {
	select {
	case fr, ok := <-f.inbox:
		if !ok {
			return wire.Frame{}, context.Canceled
		}
		return fr, nil
	case <-ctx.Done():
		return wire.Frame{}, ctx.Err()
	}
}

func (f *fakeSession) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.inbox)
	}
	f.cancel()
	return nil
}

func (f *fakeSession) Context() context.Context { return f.ctx }
func (f *fakeSession) Kind() string             { return "fake" }

func (f *fakeSession) send(msg wire.ControlMessage) {
	f.inbox <- wire.Frame{Channel: wire.ChannelControl, Payload: msg}
}

func newTestEngine(t *testing.T) (*Engine, *room.Dispatcher) {
	t.Helper()
	st, err := store.Open(context.Background(), ":memory:", nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	d := room.NewDispatcher(1, 4, nil)
	reg := registry.New(nil)
	m := metrics.New(prometheus.NewRegistry())
	e := New(d, reg, st, m, Config{TickRate: 30, SnapshotRate: 15, KeyframeEvery: 30, InputRateLimit: 20}, nil)
	return e, d
}

func TestHandleSessionJoinAndLeaveArchivesMatch(t *testing.T) {
	e, d := newTestEngine(t)
	r := d.CreateRoom("arena", "deathmatch")

	sess := newFakeSession("p1")
	sess.send(wire.JoinRoom{RoomID: r.ID()})

	done := make(chan struct{})
	go func() {
		e.HandleSession(sess)
		close(done)
	}()

	// Give HandleSession a moment to process the join before disconnecting.
	deadline := time.Now().Add(time.Second)
	for r.PlayerCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if r.PlayerCount() != 1 {
		t.Fatalf("room player count = %d, want 1", r.PlayerCount())
	}

	sess.Close()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("HandleSession did not return after session close")
	}

	if got := d.Get(r.ID()); got != nil {
		t.Errorf("room %s still in dispatcher after last player left", r.ID())
	}

	ctx := context.Background()
	matches, err := e.store.ListMatches(ctx, r.ID(), 10)
	if err != nil {
		t.Fatalf("ListMatches: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("len(matches) = %d, want 1", len(matches))
	}
	if matches[0].RoomID != r.ID() {
		t.Errorf("archived match room = %q, want %q", matches[0].RoomID, r.ID())
	}
}

func TestHandleSessionRejectsUnknownRoom(t *testing.T) {
	e, _ := newTestEngine(t)
	sess := newFakeSession("p1")
	sess.send(wire.JoinRoom{RoomID: "does-not-exist"})

	done := make(chan struct{})
	go func() {
		e.HandleSession(sess)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("HandleSession should return promptly on unknown room")
	}
}

func TestHandleSessionSendsAuthToken(t *testing.T) {
	e, d := newTestEngine(t)
	r := d.CreateRoom("arena", "deathmatch")

	sess := newFakeSession("p1")
	sess.send(wire.JoinRoom{RoomID: r.ID()})

	done := make(chan struct{})
	go func() {
		e.HandleSession(sess)
		close(done)
	}()
	time.Sleep(10 * time.Millisecond)
	sess.Close()
	<-done

	sess.mu.Lock()
	defer sess.mu.Unlock()
	if len(sess.control) == 0 {
		t.Fatal("expected at least one control frame sent to session")
	}
	tok, ok := sess.control[0].Payload.(wire.AuthToken)
	if !ok {
		t.Fatalf("first control frame payload = %T, want wire.AuthToken", sess.control[0].Payload)
	}
	if tok.Token != "p1" {
		t.Errorf("AuthToken.Token = %q, want p1", tok.Token)
	}
}
