package wire

import "gamecore/internal/quantize"

// Components holds the optional quantized sub-components of an entity.
// Present fields are serialized; absent ones are omitted by a presence
// bitmask on the wire (see codec.go), so a Delta naturally omits unchanged
// sub-components without a separate "changed" list.
type Components struct {
	Transform *quantize.Transform
	Physics   *quantize.Physics
	Health    *int8
	// Metadata is an opaque passthrough record: unknown or forward-compatible
	// fields the encoder doesn't understand are carried as raw bytes
	// (JSON-encoded) rather than dropped, per the forward-compatibility
	// requirement in §4.5.2.
	Metadata []byte
}

// EntitySnapshot is the complete component record for one entity.
type EntitySnapshot struct {
	ID         string
	Components Components
}

// EntityDelta carries only the sub-components that changed since the
// baseline the receiver already holds.
type EntityDelta struct {
	ID      string
	Changes Components
}
