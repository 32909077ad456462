package transport

import (
	"context"
	"sync"

	"github.com/gorilla/websocket"

	"gamecore/internal/compress"
	"gamecore/internal/core"
	"gamecore/internal/wire"
)

// wsSession is the WebSocket fallback: both logical channels share one
// reliable ordered stream, so every Frame — control or state — travels as
// one binary WebSocket message. This gives strictly stronger ordering than
// the primary transport (decided open question 1: left as-is, a free
// upgrade on the fallback path).
type wsSession struct {
	playerID string
	conn     *websocket.Conn
	cfg      compress.Config

	ctx    context.Context
	cancel context.CancelFunc

	writeMu sync.Mutex
}

// NewWebSocketSession wraps an already-upgraded *websocket.Conn. playerID
// must already be authenticated by the caller.
func NewWebSocketSession(ctx context.Context, playerID string, conn *websocket.Conn, cfg compress.Config) Session {
	ctx, cancel := context.WithCancel(ctx)
	return &wsSession{playerID: playerID, conn: conn, cfg: cfg, ctx: ctx, cancel: cancel}
}

func (s *wsSession) PlayerID() string      { return s.playerID }
func (s *wsSession) Context() context.Context { return s.ctx }
func (s *wsSession) Kind() string          { return "websocket" }

func (s *wsSession) send(f wire.Frame) error {
	data, err := wire.EncodeEnvelope(f, s.cfg)
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(websocket.BinaryMessage, data)
}

// SendControl and SendState both write to the same stream on the fallback
// path; the Channel byte inside the encoded Frame is what lets the peer
// demultiplex them back into two logical channels.
func (s *wsSession) SendControl(f wire.Frame) error { return s.send(f) }
func (s *wsSession) SendState(f wire.Frame) error    { return s.send(f) }

func (s *wsSession) Recv(ctx context.Context) (wire.Frame, error) {
	type result struct {
		f   wire.Frame
		err error
	}
	ch := make(chan result, 1)
	go func() {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			ch <- result{err: core.Wrap(core.KindConnectionClosed, "websocket read", err)}
			return
		}
		f, err := wire.DecodeEnvelope(data)
		ch <- result{f: f, err: err}
	}()
	select {
	case <-ctx.Done():
		return wire.Frame{}, ctx.Err()
	case r := <-ch:
		return r.f, r.err
	}
}

func (s *wsSession) Close() error {
	s.cancel()
	return s.conn.Close()
}
