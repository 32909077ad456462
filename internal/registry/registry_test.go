package registry

import (
	"context"
	"testing"

	"gamecore/internal/wire"
)

type fakeSession struct {
	playerID string
	control  []wire.Frame
	state    []wire.Frame
	closed   bool
}

func (f *fakeSession) PlayerID() string { return f.playerID }
func (f *fakeSession) SendControl(fr wire.Frame) error {
	f.control = append(f.control, fr)
	return nil
}
func (f *fakeSession) SendState(fr wire.Frame) error {
	f.state = append(f.state, fr)
	return nil
}
func (f *fakeSession) Recv(ctx context.Context) (wire.Frame, error) { return wire.Frame{}, nil }
func (f *fakeSession) Close() error                                 { f.closed = true; return nil }
func (f *fakeSession) Context() context.Context                     { return context.Background() }
func (f *fakeSession) Kind() string                                 { return "fake" }

func TestBindUnicastBroadcast(t *testing.T) {
	r := New(nil)
	a := &fakeSession{playerID: "a"}
	b := &fakeSession{playerID: "b"}
	r.Bind("room1", "a", a)
	r.Bind("room1", "b", b)

	if err := r.Unicast("room1", "b", wire.Frame{Sequence: 1}); err != nil {
		t.Fatalf("unicast error: %v", err)
	}
	if len(b.control) != 1 || len(a.control) != 0 {
		t.Fatalf("unicast should only reach target: a=%d b=%d", len(a.control), len(b.control))
	}

	r.BroadcastState("room1", "a", wire.Frame{Sequence: 2})
	if len(a.state) != 0 || len(b.state) != 1 {
		t.Fatalf("broadcast should exclude sender: a=%d b=%d", len(a.state), len(b.state))
	}
}

func TestUnbindRemovesTarget(t *testing.T) {
	r := New(nil)
	a := &fakeSession{playerID: "a"}
	r.Bind("room1", "a", a)
	if !r.Unbind("room1", "a") {
		t.Fatal("expected unbind to succeed")
	}
	if r.RoomSize("room1") != 0 {
		t.Fatalf("expected empty room after unbind, got %d", r.RoomSize("room1"))
	}
}

func TestCloseRoomClosesSessions(t *testing.T) {
	r := New(nil)
	a := &fakeSession{playerID: "a"}
	r.Bind("room1", "a", a)
	r.CloseRoom("room1")
	if !a.closed {
		t.Fatal("expected session to be closed")
	}
	if r.RoomSize("room1") != 0 {
		t.Fatal("expected room to be gone from the index")
	}
}
