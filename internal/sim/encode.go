package sim

import (
	"gamecore/internal/quantize"
	"gamecore/internal/wire"
)

// quantConfig is process-wide for now; a room could carry its own if a
// future mode needs per-room precision, but nothing in scope requires it.
var quantConfig = quantize.DefaultConfig()

func componentsFor(e *EntityState) wire.Components {
	transform := quantize.NewTransform(e.Pos, e.Rot, e.Scale, quantConfig)
	physics := quantize.NewPhysics(e.Vel, e.AngVel, e.Mass, e.Friction, quantConfig)
	health := e.Health
	return wire.Components{
		Transform: &transform,
		Physics:   &physics,
		Health:    &health,
		Metadata:  e.Metadata,
	}
}

// snapshotFromEntities builds a full keyframe: every entity, every
// component present.
func snapshotFromEntities(tick uint64, entities []*EntityState) wire.Snapshot {
	out := make([]wire.EntitySnapshot, 0, len(entities))
	for _, e := range entities {
		out = append(out, wire.EntitySnapshot{ID: e.ID, Components: componentsFor(e)})
	}
	return wire.Snapshot{Tick: tick, Entities: out}
}

// deltaFromEntities builds a between-keyframe update. Since this driver
// does not track per-field dirty bits, it currently emits the full
// component set per entity on every delta tick too — correct but not
// bandwidth-optimal. A future pass could diff against the last-sent state
// per entity to omit unchanged sub-components, which is exactly what the
// presence bitmask in wire.Components already supports.
func deltaFromEntities(tick uint64, entities []*EntityState) wire.Delta {
	out := make([]wire.EntityDelta, 0, len(entities))
	for _, e := range entities {
		out = append(out, wire.EntityDelta{ID: e.ID, Changes: componentsFor(e)})
	}
	return wire.Delta{Tick: tick, Changes: out}
}
