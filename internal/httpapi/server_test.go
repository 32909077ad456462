package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"gamecore/internal/room"
	"gamecore/internal/store"

	"github.com/prometheus/client_golang/prometheus"
)

func newTestServer(t *testing.T) (*Server, *room.Dispatcher) {
	t.Helper()
	st, err := store.Open(context.Background(), ":memory:", nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	d := room.NewDispatcher(1, 4, nil)
	s := New(d, st, nil, prometheus.NewRegistry(), nil)
	return s, d
}

func TestHealthz(t *testing.T) {
	s, _ := newTestServer(t)
	ts := httptest.NewServer(s.Echo())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}

func TestCreateAndJoinRoom(t *testing.T) {
	s, _ := newTestServer(t)
	ts := httptest.NewServer(s.Echo())
	defer ts.Close()

	createBody := `{"name":"Arena","host_id":"p1","host_name":"Host","settings":{"mode":"ffa"}}`
	resp, err := http.Post(ts.URL+"/rooms/create", "application/json", bytes.NewBufferString(createBody))
	if err != nil {
		t.Fatalf("POST /rooms/create: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}
	var created roomResponse
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created.HostID != "p1" || created.PlayerCount != 1 {
		t.Fatalf("unexpected created room: %+v", created)
	}

	joinBody := `{"room_id":"` + created.RoomID + `","player_id":"p2","player_name":"Bob"}`
	joinResp, err := http.Post(ts.URL+"/rooms/join", "application/json", bytes.NewBufferString(joinBody))
	if err != nil {
		t.Fatalf("POST /rooms/join: %v", err)
	}
	defer joinResp.Body.Close()
	if joinResp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", joinResp.StatusCode)
	}
	var joined roomResponse
	if err := json.NewDecoder(joinResp.Body).Decode(&joined); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if joined.PlayerCount != 2 {
		t.Fatalf("expected 2 players, got %d", joined.PlayerCount)
	}
}

func TestJoinUnknownRoomReturns404(t *testing.T) {
	s, _ := newTestServer(t)
	ts := httptest.NewServer(s.Echo())
	defer ts.Close()

	joinBody := `{"room_id":"nope","player_id":"p1"}`
	resp, err := http.Post(ts.URL+"/rooms/join", "application/json", bytes.NewBufferString(joinBody))
	if err != nil {
		t.Fatalf("POST /rooms/join: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestAssignRoomCreatesWhenNoneAvailable(t *testing.T) {
	s, _ := newTestServer(t)
	ts := httptest.NewServer(s.Echo())
	defer ts.Close()

	body := `{"player_id":"p1","game_mode":"ffa"}`
	resp, err := http.Post(ts.URL+"/rooms/assign", "application/json", bytes.NewBufferString(body))
	if err != nil {
		t.Fatalf("POST /rooms/assign: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}

func TestListRoomsFiltersByMode(t *testing.T) {
	s, d := newTestServer(t)
	ts := httptest.NewServer(s.Echo())
	defer ts.Close()

	a := d.CreateRoom("A", "ffa")
	a.Join("p1")
	b := d.CreateRoom("B", "ctf")
	b.Join("p2")

	resp, err := http.Get(ts.URL + "/rooms/list?game_mode=ctf")
	if err != nil {
		t.Fatalf("GET /rooms/list: %v", err)
	}
	defer resp.Body.Close()
	var rooms []roomResponse
	if err := json.NewDecoder(resp.Body).Decode(&rooms); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(rooms) != 1 || rooms[0].RoomID != b.ID() {
		t.Fatalf("expected only room B, got %+v", rooms)
	}
}
