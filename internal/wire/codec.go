package wire

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"

	"gamecore/internal/compress"
	"gamecore/internal/core"
	"gamecore/internal/quantize"
)

// discriminant bytes for ControlMessage/StateMessage variants. Append new
// values to grow the union; never renumber — a renumbering desynchronizes
// any peer still running the previous build.
const (
	discPing = iota
	discPong
	discJoinRoom
	discLeaveRoom
	discInput
	discAuthRequest
	discAuthToken
	discOffer
	discAnswer
	discIceCandidate
)

const (
	discSnapshot = iota
	discDelta
	discEvent
)

// wireQuantVersion is the quantization scheme version stamped into every
// binary frame header. A receiver running a different Config.Version would
// decode positions/velocities against the wrong scale factors without ever
// erroring, so the version travels on the wire and mismatches are rejected
// outright rather than silently misinterpreted.
var wireQuantVersion = quantize.DefaultConfig().Version

// EncodeBinary serializes a Frame to the production binary layout:
// [channel:1][sequence:4][timestamp_ms:8][quant_version:1][category:1][discriminant:1][body...]
func EncodeBinary(f Frame) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(byte(f.Channel))
	writeU32(&buf, f.Sequence)
	writeU64(&buf, f.TimestampMs)
	buf.WriteByte(wireQuantVersion)

	switch p := f.Payload.(type) {
	case ControlMessage:
		buf.WriteByte(0)
		if err := encodeControl(&buf, p); err != nil {
			return nil, core.Wrap(core.KindEncodingFailure, "encode control payload", err)
		}
	case StateMessage:
		buf.WriteByte(1)
		if err := encodeState(&buf, p); err != nil {
			return nil, core.Wrap(core.KindEncodingFailure, "encode state payload", err)
		}
	default:
		return nil, core.New(core.KindEncodingFailure, "frame payload is neither ControlMessage nor StateMessage")
	}
	return buf.Bytes(), nil
}

// DecodeBinary reverses EncodeBinary. Unknown discriminants are rejected
// rather than ignored, per the tagged-variant design note.
func DecodeBinary(data []byte) (Frame, error) {
	r := bytes.NewReader(data)
	chByte, err := r.ReadByte()
	if err != nil {
		return Frame{}, core.Wrap(core.KindDecodingFailure, "read channel", err)
	}
	seq, err := readU32(r)
	if err != nil {
		return Frame{}, core.Wrap(core.KindDecodingFailure, "read sequence", err)
	}
	ts, err := readU64(r)
	if err != nil {
		return Frame{}, core.Wrap(core.KindDecodingFailure, "read timestamp", err)
	}
	version, err := r.ReadByte()
	if err != nil {
		return Frame{}, core.Wrap(core.KindDecodingFailure, "read quant version", err)
	}
	if version != wireQuantVersion {
		return Frame{}, core.New(core.KindUnsupported, fmt.Sprintf("unsupported quant version %d", version))
	}
	category, err := r.ReadByte()
	if err != nil {
		return Frame{}, core.Wrap(core.KindDecodingFailure, "read category", err)
	}

	var payload Payload
	switch category {
	case 0:
		payload, err = decodeControl(r)
	case 1:
		payload, err = decodeState(r)
	default:
		return Frame{}, core.New(core.KindDecodingFailure, fmt.Sprintf("unknown payload category %d", category))
	}
	if err != nil {
		return Frame{}, err
	}

	return Frame{
		Channel:     Channel(chByte),
		Sequence:    seq,
		TimestampMs: ts,
		Payload:     payload,
	}, nil
}

func encodeControl(buf *bytes.Buffer, msg ControlMessage) error {
	switch m := msg.(type) {
	case Ping:
		buf.WriteByte(discPing)
		writeU64(buf, m.Nonce)
	case Pong:
		buf.WriteByte(discPong)
		writeU64(buf, m.Nonce)
	case JoinRoom:
		buf.WriteByte(discJoinRoom)
		writeString(buf, m.RoomID)
		writeString(buf, m.ReconnectToken)
	case LeaveRoom:
		buf.WriteByte(discLeaveRoom)
	case Input:
		buf.WriteByte(discInput)
		writeU32(buf, m.Seq)
		writePlayerInput(buf, m.Payload)
	case AuthRequest:
		buf.WriteByte(discAuthRequest)
		writeString(buf, m.Credential)
	case AuthToken:
		buf.WriteByte(discAuthToken)
		writeString(buf, m.Token)
	case Offer:
		buf.WriteByte(discOffer)
		writeString(buf, m.RoomID)
		writeString(buf, m.PeerID)
		writeString(buf, m.Target)
		writeString(buf, m.SDP)
	case Answer:
		buf.WriteByte(discAnswer)
		writeString(buf, m.RoomID)
		writeString(buf, m.PeerID)
		writeString(buf, m.Target)
		writeString(buf, m.SDP)
	case IceCandidate:
		buf.WriteByte(discIceCandidate)
		writeString(buf, m.RoomID)
		writeString(buf, m.PeerID)
		writeString(buf, m.Target)
		writeString(buf, m.Candidate)
		writeString(buf, m.Mid)
		writeU16(buf, m.MLineIndex)
	default:
		return fmt.Errorf("unknown control message type %T", msg)
	}
	return nil
}

func decodeControl(r *bytes.Reader) (ControlMessage, error) {
	disc, err := r.ReadByte()
	if err != nil {
		return nil, core.Wrap(core.KindDecodingFailure, "read control discriminant", err)
	}
	switch disc {
	case discPing:
		n, err := readU64(r)
		return Ping{Nonce: n}, wrapDecode(err)
	case discPong:
		n, err := readU64(r)
		return Pong{Nonce: n}, wrapDecode(err)
	case discJoinRoom:
		roomID, err := readString(r)
		if err != nil {
			return nil, wrapDecode(err)
		}
		token, err := readString(r)
		return JoinRoom{RoomID: roomID, ReconnectToken: token}, wrapDecode(err)
	case discLeaveRoom:
		return LeaveRoom{}, nil
	case discInput:
		seq, err := readU32(r)
		if err != nil {
			return nil, wrapDecode(err)
		}
		pi, err := readPlayerInput(r)
		return Input{Seq: seq, Payload: pi}, wrapDecode(err)
	case discAuthRequest:
		cred, err := readString(r)
		return AuthRequest{Credential: cred}, wrapDecode(err)
	case discAuthToken:
		tok, err := readString(r)
		return AuthToken{Token: tok}, wrapDecode(err)
	case discOffer:
		roomID, err := readString(r)
		if err != nil {
			return nil, wrapDecode(err)
		}
		peerID, err := readString(r)
		if err != nil {
			return nil, wrapDecode(err)
		}
		target, err := readString(r)
		if err != nil {
			return nil, wrapDecode(err)
		}
		sdp, err := readString(r)
		return Offer{RoomID: roomID, PeerID: peerID, Target: target, SDP: sdp}, wrapDecode(err)
	case discAnswer:
		roomID, err := readString(r)
		if err != nil {
			return nil, wrapDecode(err)
		}
		peerID, err := readString(r)
		if err != nil {
			return nil, wrapDecode(err)
		}
		target, err := readString(r)
		if err != nil {
			return nil, wrapDecode(err)
		}
		sdp, err := readString(r)
		return Answer{RoomID: roomID, PeerID: peerID, Target: target, SDP: sdp}, wrapDecode(err)
	case discIceCandidate:
		roomID, err := readString(r)
		if err != nil {
			return nil, wrapDecode(err)
		}
		peerID, err := readString(r)
		if err != nil {
			return nil, wrapDecode(err)
		}
		target, err := readString(r)
		if err != nil {
			return nil, wrapDecode(err)
		}
		candidate, err := readString(r)
		if err != nil {
			return nil, wrapDecode(err)
		}
		mid, err := readString(r)
		if err != nil {
			return nil, wrapDecode(err)
		}
		mline, err := readU16(r)
		return IceCandidate{RoomID: roomID, PeerID: peerID, Target: target, Candidate: candidate, Mid: mid, MLineIndex: mline}, wrapDecode(err)
	default:
		return nil, core.New(core.KindDecodingFailure, fmt.Sprintf("unknown control discriminant %d", disc))
	}
}

func encodeState(buf *bytes.Buffer, msg StateMessage) error {
	switch m := msg.(type) {
	case Snapshot:
		buf.WriteByte(discSnapshot)
		writeU64(buf, m.Tick)
		writeU32(buf, uint32(len(m.Entities)))
		for _, e := range m.Entities {
			writeEntitySnapshot(buf, e)
		}
	case Delta:
		buf.WriteByte(discDelta)
		writeU64(buf, m.Tick)
		writeU32(buf, uint32(len(m.Changes)))
		for _, e := range m.Changes {
			writeEntityDelta(buf, e)
		}
	case Event:
		buf.WriteByte(discEvent)
		writeString(buf, m.Name)
		writeBytes(buf, m.Data)
	default:
		return fmt.Errorf("unknown state message type %T", msg)
	}
	return nil
}

func decodeState(r *bytes.Reader) (StateMessage, error) {
	disc, err := r.ReadByte()
	if err != nil {
		return nil, core.Wrap(core.KindDecodingFailure, "read state discriminant", err)
	}
	switch disc {
	case discSnapshot:
		tick, err := readU64(r)
		if err != nil {
			return nil, wrapDecode(err)
		}
		n, err := readU32(r)
		if err != nil {
			return nil, wrapDecode(err)
		}
		entities := make([]EntitySnapshot, 0, n)
		for i := uint32(0); i < n; i++ {
			e, err := readEntitySnapshot(r)
			if err != nil {
				return nil, wrapDecode(err)
			}
			entities = append(entities, e)
		}
		return Snapshot{Tick: tick, Entities: entities}, nil
	case discDelta:
		tick, err := readU64(r)
		if err != nil {
			return nil, wrapDecode(err)
		}
		n, err := readU32(r)
		if err != nil {
			return nil, wrapDecode(err)
		}
		changes := make([]EntityDelta, 0, n)
		for i := uint32(0); i < n; i++ {
			e, err := readEntityDelta(r)
			if err != nil {
				return nil, wrapDecode(err)
			}
			changes = append(changes, e)
		}
		return Delta{Tick: tick, Changes: changes}, nil
	case discEvent:
		name, err := readString(r)
		if err != nil {
			return nil, wrapDecode(err)
		}
		data, err := readBytes(r)
		return Event{Name: name, Data: data}, wrapDecode(err)
	default:
		return nil, core.New(core.KindDecodingFailure, fmt.Sprintf("unknown state discriminant %d", disc))
	}
}

// componentPresence bits, stored as a single byte before the component body.
const (
	presenceTransform = 1 << 0
	presencePhysics   = 1 << 1
	presenceHealth    = 1 << 2
	presenceMetadata  = 1 << 3
)

func writeComponents(buf *bytes.Buffer, c Components) {
	var presence byte
	if c.Transform != nil {
		presence |= presenceTransform
	}
	if c.Physics != nil {
		presence |= presencePhysics
	}
	if c.Health != nil {
		presence |= presenceHealth
	}
	if c.Metadata != nil {
		presence |= presenceMetadata
	}
	buf.WriteByte(presence)

	if c.Transform != nil {
		t := c.Transform
		writeI16(buf, t.Pos[0])
		writeI16(buf, t.Pos[1])
		writeI16(buf, t.Pos[2])
		buf.WriteByte(byte(t.Rot))
		buf.WriteByte(byte(t.Scale))
	}
	if c.Physics != nil {
		p := c.Physics
		writeI16(buf, p.Vel[0])
		writeI16(buf, p.Vel[1])
		writeI16(buf, p.Vel[2])
		writeI16(buf, p.AngVel[0])
		writeI16(buf, p.AngVel[1])
		writeI16(buf, p.AngVel[2])
		buf.WriteByte(byte(p.Mass))
		buf.WriteByte(byte(p.Friction))
	}
	if c.Health != nil {
		buf.WriteByte(byte(*c.Health))
	}
	if c.Metadata != nil {
		writeBytes(buf, c.Metadata)
	}
}

func readComponents(r *bytes.Reader) (Components, error) {
	presence, err := r.ReadByte()
	if err != nil {
		return Components{}, err
	}
	var c Components
	if presence&presenceTransform != 0 {
		x, err := readI16(r)
		if err != nil {
			return c, err
		}
		y, err := readI16(r)
		if err != nil {
			return c, err
		}
		z, err := readI16(r)
		if err != nil {
			return c, err
		}
		rot, err := r.ReadByte()
		if err != nil {
			return c, err
		}
		scale, err := r.ReadByte()
		if err != nil {
			return c, err
		}
		c.Transform = &quantize.Transform{Pos: [3]int16{x, y, z}, Rot: int8(rot), Scale: int8(scale)}
	}
	if presence&presencePhysics != 0 {
		vx, err := readI16(r)
		if err != nil {
			return c, err
		}
		vy, err := readI16(r)
		if err != nil {
			return c, err
		}
		vz, err := readI16(r)
		if err != nil {
			return c, err
		}
		avx, err := readI16(r)
		if err != nil {
			return c, err
		}
		avy, err := readI16(r)
		if err != nil {
			return c, err
		}
		avz, err := readI16(r)
		if err != nil {
			return c, err
		}
		mass, err := r.ReadByte()
		if err != nil {
			return c, err
		}
		friction, err := r.ReadByte()
		if err != nil {
			return c, err
		}
		c.Physics = &quantize.Physics{
			Vel:      [3]int16{vx, vy, vz},
			AngVel:   [3]int16{avx, avy, avz},
			Mass:     int8(mass),
			Friction: int8(friction),
		}
	}
	if presence&presenceHealth != 0 {
		h, err := r.ReadByte()
		if err != nil {
			return c, err
		}
		hv := int8(h)
		c.Health = &hv
	}
	if presence&presenceMetadata != 0 {
		m, err := readBytes(r)
		if err != nil {
			return c, err
		}
		c.Metadata = m
	}
	return c, nil
}

func writeEntitySnapshot(buf *bytes.Buffer, e EntitySnapshot) {
	writeString(buf, e.ID)
	writeComponents(buf, e.Components)
}

func readEntitySnapshot(r *bytes.Reader) (EntitySnapshot, error) {
	id, err := readString(r)
	if err != nil {
		return EntitySnapshot{}, err
	}
	c, err := readComponents(r)
	return EntitySnapshot{ID: id, Components: c}, err
}

func writeEntityDelta(buf *bytes.Buffer, e EntityDelta) {
	writeString(buf, e.ID)
	writeComponents(buf, e.Changes)
}

func readEntityDelta(r *bytes.Reader) (EntityDelta, error) {
	id, err := readString(r)
	if err != nil {
		return EntityDelta{}, err
	}
	c, err := readComponents(r)
	return EntityDelta{ID: id, Changes: c}, err
}

func writePlayerInput(buf *bytes.Buffer, p PlayerInput) {
	writeString(buf, p.PlayerID)
	writeU32(buf, p.InputSeq)
	buf.Write(float32ToBytes(p.Movement[0]))
	buf.Write(float32ToBytes(p.Movement[1]))
	buf.Write(float32ToBytes(p.Movement[2]))
	writeU64(buf, p.TimestampMs)
}

func readPlayerInput(r *bytes.Reader) (PlayerInput, error) {
	playerID, err := readString(r)
	if err != nil {
		return PlayerInput{}, err
	}
	seq, err := readU32(r)
	if err != nil {
		return PlayerInput{}, err
	}
	mx, err := readF32(r)
	if err != nil {
		return PlayerInput{}, err
	}
	my, err := readF32(r)
	if err != nil {
		return PlayerInput{}, err
	}
	mz, err := readF32(r)
	if err != nil {
		return PlayerInput{}, err
	}
	ts, err := readU64(r)
	if err != nil {
		return PlayerInput{}, err
	}
	return PlayerInput{PlayerID: playerID, InputSeq: seq, Movement: [3]float32{mx, my, mz}, TimestampMs: ts}, nil
}

// --- low-level primitive helpers -------------------------------------------------

func writeU16(buf *bytes.Buffer, v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	buf.Write(b[:])
}

func writeU32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func writeU64(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	buf.Write(b[:])
}

func writeI16(buf *bytes.Buffer, v int16) { writeU16(buf, uint16(v)) }

func float32ToBytes(f float32) []byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], math.Float32bits(f))
	return b[:]
}

func writeString(buf *bytes.Buffer, s string) {
	writeU16(buf, uint16(len(s)))
	buf.WriteString(s)
}

func writeBytes(buf *bytes.Buffer, b []byte) {
	writeU32(buf, uint32(len(b)))
	buf.Write(b)
}

func readU16(r *bytes.Reader) (uint16, error) {
	var b [2]byte
	if _, err := readFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b[:]), nil
}

func readU32(r *bytes.Reader) (uint32, error) {
	var b [4]byte
	if _, err := readFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}

func readU64(r *bytes.Reader) (uint64, error) {
	var b [8]byte
	if _, err := readFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b[:]), nil
}

func readI16(r *bytes.Reader) (int16, error) {
	v, err := readU16(r)
	return int16(v), err
}

func readF32(r *bytes.Reader) (float32, error) {
	v, err := readU32(r)
	if err != nil {
		return 0, err
	}
	return math.Float32frombits(v), nil
}

func readString(r *bytes.Reader) (string, error) {
	n, err := readU16(r)
	if err != nil {
		return "", err
	}
	b := make([]byte, n)
	if _, err := readFull(r, b); err != nil {
		return "", err
	}
	return string(b), nil
}

func readBytes(r *bytes.Reader) ([]byte, error) {
	n, err := readU32(r)
	if err != nil {
		return nil, err
	}
	// Bound the allocation by the remaining buffer so a corrupt length
	// prefix can't be used to exhaust memory before ReadFull fails.
	if int(n) > r.Len() {
		return nil, fmt.Errorf("length prefix %d exceeds remaining %d bytes", n, r.Len())
	}
	b := make([]byte, n)
	if _, err := readFull(r, b); err != nil {
		return nil, err
	}
	return b, nil
}

func readFull(r *bytes.Reader, b []byte) (int, error) {
	n := 0
	for n < len(b) {
		m, err := r.Read(b[n:])
		n += m
		if err != nil {
			return n, err
		}
		if m == 0 {
			return n, fmt.Errorf("short read")
		}
	}
	return n, nil
}

func wrapDecode(err error) error {
	if err == nil {
		return nil
	}
	return core.Wrap(core.KindDecodingFailure, "truncated or malformed field", err)
}

// --- envelope: algorithm byte + compressed body -----------------------------------

// EncodeEnvelope produces the production wire format: [algorithm:1][body].
func EncodeEnvelope(f Frame, cfg compress.Config) ([]byte, error) {
	body, err := EncodeBinary(f)
	if err != nil {
		return nil, err
	}
	compressed, err := compress.Compress(body, cfg)
	if err != nil {
		return nil, core.Wrap(core.KindEncodingFailure, "compress frame body", err)
	}
	out := make([]byte, 0, len(compressed.Bytes)+1)
	out = append(out, byte(compressed.Algorithm))
	out = append(out, compressed.Bytes...)
	return out, nil
}

// DecodeEnvelope reverses EncodeEnvelope. An unrecognized algorithm byte is
// Unsupported, not a silently misinterpreted payload.
func DecodeEnvelope(data []byte) (Frame, error) {
	if len(data) == 0 {
		return Frame{}, core.New(core.KindDecodingFailure, "empty envelope")
	}
	algo := compress.Algorithm(data[0])
	switch algo {
	case compress.AlgorithmNone, compress.AlgorithmLZ4, compress.AlgorithmZstd, compress.AlgorithmSnappy:
	default:
		return Frame{}, core.New(core.KindUnsupported, fmt.Sprintf("algorithm byte %d not supported", data[0]))
	}
	body, err := compress.Decompress(algo, data[1:])
	if err != nil {
		return Frame{}, core.Wrap(core.KindDecodingFailure, "decompress envelope body", err)
	}
	return DecodeBinary(body)
}

// --- text envelope (interop/testing only) -----------------------------------------

type textFrame struct {
	Channel     byte            `json:"channel"`
	Sequence    uint32          `json:"sequence"`
	TimestampMs uint64          `json:"timestamp_ms"`
	Category    string          `json:"category"` // "control" or "state"
	Type        string          `json:"type"`
	Body        json.RawMessage `json:"body"`
}

// EncodeText renders a Frame as self-describing JSON, for interop testing
// against non-binary clients. Not used in production hot paths.
func EncodeText(f Frame) ([]byte, error) {
	tf := textFrame{
		Channel:     byte(f.Channel),
		Sequence:    f.Sequence,
		TimestampMs: f.TimestampMs,
	}
	var (
		body []byte
		err  error
		typ  string
	)
	switch p := f.Payload.(type) {
	case ControlMessage:
		tf.Category = "control"
		typ, body, err = marshalControlJSON(p)
	case StateMessage:
		tf.Category = "state"
		typ, body, err = marshalStateJSON(p)
	default:
		return nil, core.New(core.KindEncodingFailure, "frame payload is neither ControlMessage nor StateMessage")
	}
	if err != nil {
		return nil, core.Wrap(core.KindEncodingFailure, "marshal text payload", err)
	}
	tf.Type = typ
	tf.Body = body
	return json.Marshal(tf)
}

// DecodeText reverses EncodeText.
func DecodeText(data []byte) (Frame, error) {
	var tf textFrame
	if err := json.Unmarshal(data, &tf); err != nil {
		return Frame{}, core.Wrap(core.KindDecodingFailure, "unmarshal text frame", err)
	}
	var (
		payload Payload
		err     error
	)
	switch tf.Category {
	case "control":
		payload, err = unmarshalControlJSON(tf.Type, tf.Body)
	case "state":
		payload, err = unmarshalStateJSON(tf.Type, tf.Body)
	default:
		return Frame{}, core.New(core.KindDecodingFailure, fmt.Sprintf("unknown category %q", tf.Category))
	}
	if err != nil {
		return Frame{}, err
	}
	return Frame{
		Channel:     Channel(tf.Channel),
		Sequence:    tf.Sequence,
		TimestampMs: tf.TimestampMs,
		Payload:     payload,
	}, nil
}
