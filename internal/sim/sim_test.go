package sim

import (
	"context"
	"testing"
	"time"

	"gamecore/internal/core"
	"gamecore/internal/wire"
)

func moveStep(state *EntityState, inputs []PlayerInput, dt float64) {
	for _, in := range inputs {
		state.Pos[0] += in.Movement[0] * float32(dt)
	}
}

func TestQueueInputRejectsUnknownEntity(t *testing.T) {
	s := New(Config{TickRate: 30, SnapshotRate: 10, KeyframeEvery: 5, InputPerSec: 60, InputBurst: 60}, moveStep, nil)
	err := s.QueueInput(PlayerInput{PlayerID: "ghost", Seq: 1, Movement: [3]float32{1, 0, 0}})
	if err == nil {
		t.Fatal("expected error for unknown entity")
	}
	ce, ok := err.(*core.Error)
	if !ok || ce.Kind != core.KindInvalidPlayerID {
		t.Fatalf("expected InvalidPlayerID, got %v", err)
	}
}

func TestQueueInputRejectsNaN(t *testing.T) {
	s := New(Config{TickRate: 30, SnapshotRate: 10, KeyframeEvery: 5, InputPerSec: 60, InputBurst: 60}, moveStep, nil)
	s.AddEntity(&EntityState{ID: "p1"})
	nan := float32(0)
	nan = nan / nan
	now := uint64(time.Now().UnixMilli())
	err := s.QueueInput(PlayerInput{PlayerID: "p1", Movement: [3]float32{nan, 0, 0}, TimestampMs: now})
	if err == nil {
		t.Fatal("expected error for NaN movement")
	}
	ce, ok := err.(*core.Error)
	if !ok || ce.Kind != core.KindInvalidMovement {
		t.Fatalf("expected InvalidMovement, got %v", err)
	}
}

func TestQueueInputRejectsOversizedMovement(t *testing.T) {
	s := New(Config{TickRate: 30, SnapshotRate: 10, KeyframeEvery: 5, InputPerSec: 60, InputBurst: 60}, moveStep, nil)
	s.AddEntity(&EntityState{ID: "p1"})
	now := uint64(time.Now().UnixMilli())
	err := s.QueueInput(PlayerInput{PlayerID: "p1", Movement: [3]float32{1000, 0, 0}, TimestampMs: now})
	if err == nil {
		t.Fatal("expected error for oversized movement")
	}
	ce, ok := err.(*core.Error)
	if !ok || ce.Kind != core.KindInvalidMovement {
		t.Fatalf("expected InvalidMovement, got %v", err)
	}
}

func TestQueueInputRejectsMalformedPlayerID(t *testing.T) {
	s := New(Config{TickRate: 30, SnapshotRate: 10, KeyframeEvery: 5, InputPerSec: 60, InputBurst: 60}, moveStep, nil)
	now := uint64(time.Now().UnixMilli())
	err := s.QueueInput(PlayerInput{PlayerID: "not a valid id!", Movement: [3]float32{1, 0, 0}, TimestampMs: now})
	if err == nil {
		t.Fatal("expected error for malformed player id")
	}
	ce, ok := err.(*core.Error)
	if !ok || ce.Kind != core.KindInvalidPlayerID {
		t.Fatalf("expected InvalidPlayerID, got %v", err)
	}
}

func TestQueueInputRejectsDriftedTimestamp(t *testing.T) {
	s := New(Config{TickRate: 30, SnapshotRate: 10, KeyframeEvery: 5, InputPerSec: 60, InputBurst: 60}, moveStep, nil)
	s.AddEntity(&EntityState{ID: "p1"})
	err := s.QueueInput(PlayerInput{PlayerID: "p1", Movement: [3]float32{1, 0, 0}, TimestampMs: 0})
	if err == nil {
		t.Fatal("expected error for drifted timestamp")
	}
	ce, ok := err.(*core.Error)
	if !ok || ce.Kind != core.KindInvalidTimestamp {
		t.Fatalf("expected InvalidTimestamp, got %v", err)
	}
}

func TestQueueInputSequenceDiscipline(t *testing.T) {
	s := New(Config{TickRate: 30, SnapshotRate: 10, KeyframeEvery: 5, InputPerSec: 1000, InputBurst: 1000}, moveStep, nil)
	s.AddEntity(&EntityState{ID: "p1"})
	now := uint64(time.Now().UnixMilli())

	if err := s.QueueInput(PlayerInput{PlayerID: "p1", Seq: 5, Movement: [3]float32{1, 0, 0}, TimestampMs: now}); err != nil {
		t.Fatalf("first input should be allowed: %v", err)
	}
	if err := s.QueueInput(PlayerInput{PlayerID: "p1", Seq: 5, Movement: [3]float32{1, 0, 0}, TimestampMs: now}); err == nil {
		t.Fatal("expected error for duplicate sequence")
	} else if ce, ok := err.(*core.Error); !ok || ce.Kind != core.KindSequenceDuplicate {
		t.Fatalf("expected SequenceDuplicate, got %v", err)
	}
	if err := s.QueueInput(PlayerInput{PlayerID: "p1", Seq: 4, Movement: [3]float32{1, 0, 0}, TimestampMs: now}); err == nil {
		t.Fatal("expected error for stale sequence")
	} else if ce, ok := err.(*core.Error); !ok || ce.Kind != core.KindSequenceTooOld {
		t.Fatalf("expected SequenceTooOld, got %v", err)
	}
	if err := s.QueueInput(PlayerInput{PlayerID: "p1", Seq: 6, Movement: [3]float32{1, 0, 0}, TimestampMs: now}); err != nil {
		t.Fatalf("next sequence should be allowed: %v", err)
	}
}

func TestQueueInputRateLimited(t *testing.T) {
	s := New(Config{TickRate: 30, SnapshotRate: 10, KeyframeEvery: 5, InputPerSec: 1, InputBurst: 1}, moveStep, nil)
	s.AddEntity(&EntityState{ID: "p1"})
	now := uint64(time.Now().UnixMilli())

	if err := s.QueueInput(PlayerInput{PlayerID: "p1", Seq: 1, Movement: [3]float32{1, 0, 0}, TimestampMs: now}); err != nil {
		t.Fatalf("first input should be allowed: %v", err)
	}
	err := s.QueueInput(PlayerInput{PlayerID: "p1", Seq: 2, Movement: [3]float32{1, 0, 0}, TimestampMs: now})
	if err == nil {
		t.Fatal("expected rate limit error on second immediate input")
	}
	ce, ok := err.(*core.Error)
	if !ok || ce.Kind != core.KindRateLimitExceeded {
		t.Fatalf("expected RateLimitExceeded, got %v", err)
	}
}

func TestRunProducesKeyframeThenDeltas(t *testing.T) {
	s := New(Config{TickRate: 200, SnapshotRate: 100, KeyframeEvery: 3, InputPerSec: 1000, InputBurst: 1000}, moveStep, nil)
	s.AddEntity(&EntityState{ID: "p1"})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	go s.Run(ctx)

	var sawSnapshot, sawDelta bool
	deadline := time.After(200 * time.Millisecond)
	for !sawSnapshot || !sawDelta {
		select {
		case msg := <-s.Snapshots:
			switch msg.(type) {
			case wire.Snapshot:
				sawSnapshot = true
			case wire.Delta:
				sawDelta = true
			}
		case <-deadline:
			t.Fatal("timed out waiting for both a snapshot and a delta")
		}
	}
}
