// Package wire implements the Frame envelope: the tagged-union
// ControlMessage/StateMessage payloads, the quantized entity snapshot/delta
// codec, and length-prefixed binary framing with an optional compression
// header. This mirrors the reference server's own hand-rolled binary
// packing (little-endian header fields, length-prefixed sub-fields) rather than
// a schema compiler — there is no protobuf/gRPC anywhere in the corpus this
// was grown from, so none is introduced here either.
package wire

// Channel identifies which logical sub-channel a Frame travels on.
type Channel byte

const (
	ChannelControl Channel = 0
	ChannelState   Channel = 1
)

func (c Channel) String() string {
	if c == ChannelState {
		return "state"
	}
	return "control"
}

// Frame is the unit of transmission on either transport.
type Frame struct {
	Channel     Channel
	Sequence    uint32
	TimestampMs uint64
	Payload     Payload
}

// Payload is implemented by ControlMessage and StateMessage. It exists so
// Frame.Payload can hold either without an interface{} escape hatch at the
// call site; the wire discriminant byte is derived from the concrete type
// by the type switches in codec.go, not stored redundantly on the interface.
type Payload interface {
	isPayload()
}

// SeqDistance returns the forward modular distance from prev to cur over a
// uint32 sequence space, used by the staleness comparator: a distance
// greater than half the sequence space (1<<31) means cur is actually older
// than prev (it wrapped backwards), not newer.
func SeqDistance(prev, cur uint32) uint32 {
	return cur - prev // wraps correctly via unsigned arithmetic
}

// IsStale reports whether a frame with sequence cur should be treated as
// older than one already observed at prev, using half the sequence space as
// the wrap threshold (§4.1 staleness policy).
func IsStale(prev, cur uint32) bool {
	if prev == 0 && cur == 0 {
		return false
	}
	return SeqDistance(prev, cur) > 1<<31
}
