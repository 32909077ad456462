package transport

import (
	"bufio"
	"context"
	"encoding/binary"
	"io"
	"sync"

	"github.com/quic-go/webtransport-go"

	"gamecore/internal/compress"
	"gamecore/internal/core"
	"gamecore/internal/wire"
)

// wtSession is the primary transport: a WebTransport session carrying one
// reliable bidirectional stream for the control channel and unreliable
// datagrams for the state channel, with the sender-side NACK cache and
// circuit breaker grounded in the reference server's voice-datagram relay
// (client.go: sendHealth, dgramCache).
type wtSession struct {
	playerID string
	sess     *webtransport.Session
	cfg      compress.Config

	ctx    context.Context
	cancel context.CancelFunc

	ctrlMu     sync.Mutex
	ctrlStream *webtransport.Stream
	ctrlReader *bufio.Reader

	health sendHealth
	cache  datagramCache
}

// NewWebTransportSession accepts the control stream on sess and returns a
// ready Session. The caller must have already authenticated playerID (e.g.
// via an AuthRequest/AuthToken exchange on the newly-opened stream) before
// calling this.
func NewWebTransportSession(ctx context.Context, playerID string, sess *webtransport.Session, cfg compress.Config) (Session, error) {
	ctx, cancel := context.WithCancel(ctx)
	stream, err := sess.AcceptStream(ctx)
	if err != nil {
		cancel()
		return nil, core.Wrap(core.KindConnectionClosed, "accept control stream", err)
	}
	return &wtSession{
		playerID:   playerID,
		sess:       sess,
		cfg:        cfg,
		ctx:        ctx,
		cancel:     cancel,
		ctrlStream: stream,
		ctrlReader: bufio.NewReader(stream),
	}, nil
}

func (s *wtSession) PlayerID() string         { return s.playerID }
func (s *wtSession) Context() context.Context { return s.ctx }
func (s *wtSession) Kind() string             { return "webtransport" }

// SendControl writes a length-prefixed Frame on the reliable stream: a
// uint32 length header followed by the envelope bytes, since a stream has
// no message boundaries of its own.
func (s *wtSession) SendControl(f wire.Frame) error {
	data, err := wire.EncodeEnvelope(f, s.cfg)
	if err != nil {
		return err
	}
	var hdr [4]byte
	binary.LittleEndian.PutUint32(hdr[:], uint32(len(data)))

	s.ctrlMu.Lock()
	defer s.ctrlMu.Unlock()
	if _, err := s.ctrlStream.Write(hdr[:]); err != nil {
		return core.Wrap(core.KindConnectionClosed, "write control header", err)
	}
	if _, err := s.ctrlStream.Write(data); err != nil {
		return core.Wrap(core.KindConnectionClosed, "write control body", err)
	}
	return nil
}

// SendState sends one datagram, applying the circuit breaker so a peer
// that's stopped acknowledging doesn't keep costing full encode+syscall
// effort every tick, and caching the encoded frame for NACK retransmission.
func (s *wtSession) SendState(f wire.Frame) error {
	if s.health.shouldSkip() {
		return nil
	}
	data, err := wire.EncodeEnvelope(f, s.cfg)
	if err != nil {
		return err
	}
	if err := s.sess.SendDatagram(data); err != nil {
		s.health.recordFailure()
		return core.Wrap(core.KindConnectionClosed, "send state datagram", err)
	}
	s.health.recordSuccess()
	s.cache.store(f.Sequence, data)
	return nil
}

// Recv reads the next length-prefixed Frame off the control stream only;
// state datagrams are read by RecvState instead, since they arrive on a
// different primitive (datagrams vs. a stream).
func (s *wtSession) Recv(ctx context.Context) (wire.Frame, error) {
	type result struct {
		f   wire.Frame
		err error
	}
	ch := make(chan result, 1)
	go func() {
		var hdr [4]byte
		if _, err := io.ReadFull(s.ctrlReader, hdr[:]); err != nil {
			ch <- result{err: core.Wrap(core.KindConnectionClosed, "read control header", err)}
			return
		}
		n := binary.LittleEndian.Uint32(hdr[:])
		body := make([]byte, n)
		if _, err := io.ReadFull(s.ctrlReader, body); err != nil {
			ch <- result{err: core.Wrap(core.KindConnectionClosed, "read control body", err)}
			return
		}
		f, err := wire.DecodeEnvelope(body)
		ch <- result{f: f, err: err}
	}()
	select {
	case <-ctx.Done():
		return wire.Frame{}, ctx.Err()
	case r := <-ch:
		return r.f, r.err
	}
}

// RecvState blocks for the next inbound state datagram, e.g. a player's
// Input sent on the unreliable channel, and returns it decoded. It does not
// interpret NACKs; ResendCached services those.
func (s *wtSession) RecvState(ctx context.Context) (wire.Frame, error) {
	data, err := s.sess.ReceiveDatagram(ctx)
	if err != nil {
		return wire.Frame{}, core.Wrap(core.KindConnectionClosed, "receive state datagram", err)
	}
	return wire.DecodeEnvelope(data)
}

// ResendCached services a NACK for this session's own previously-sent
// frames, trimmed to maxNACKSeqs.
func (s *wtSession) ResendCached(seqs []uint32) {
	for _, seq := range clampNACKSeqs(seqs) {
		if data := s.cache.get(seq); data != nil {
			_ = s.sess.SendDatagram(data)
		}
	}
}

func (s *wtSession) Close() error {
	s.cancel()
	return s.sess.CloseWithError(0, "bye")
}
