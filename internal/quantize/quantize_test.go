package quantize

import (
	"math"
	"testing"
)

func TestDefaultConfigFactors(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.PositionFactor != 0.01 || cfg.RotationFactor != 1.0 || cfg.ScaleFactor != 0.01 || cfg.VelocityFactor != 0.1 {
		t.Fatalf("unexpected default factors: %+v", cfg)
	}
	if cfg.Version != 1 {
		t.Fatalf("expected version 1, got %d", cfg.Version)
	}
}

func TestPositionRoundTripWithinTolerance(t *testing.T) {
	cfg := DefaultConfig()
	cases := [][3]float32{
		{0, 0, 0},
		{1.23, -4.56, 7.89},
		{-327.0, 327.0, 0.005},
	}
	for _, v := range cases {
		q := QuantizePos(v, cfg)
		back := DequantizePos(q, cfg)
		for i := range v {
			if diff := math.Abs(float64(back[i] - v[i])); diff > float64(cfg.PositionFactor) {
				t.Errorf("position[%d] round trip off by %v for input %v", i, diff, v)
			}
		}
	}
}

func TestQuantizeSaturatesInsteadOfWrapping(t *testing.T) {
	cfg := DefaultConfig()
	huge := [3]float32{1e9, -1e9, 0}
	q := QuantizePos(huge, cfg)
	if q[0] != math.MaxInt16 {
		t.Errorf("expected saturation at MaxInt16, got %d", q[0])
	}
	if q[1] != math.MinInt16 {
		t.Errorf("expected saturation at MinInt16, got %d", q[1])
	}
}

func TestQuantizeNaNBecomesZero(t *testing.T) {
	cfg := DefaultConfig()
	nan := float32(math.NaN())
	if got := QuantizeRot(nan, cfg); got != 0 {
		t.Fatalf("expected NaN rotation to quantize to 0, got %d", got)
	}
}

func TestFiniteRejectsNaNAndInf(t *testing.T) {
	if Finite([3]float32{0, float32(math.NaN()), 0}) {
		t.Fatal("expected Finite to reject NaN")
	}
	if Finite([3]float32{0, float32(math.Inf(1)), 0}) {
		t.Fatal("expected Finite to reject +Inf")
	}
	if !Finite([3]float32{1, 2, 3}) {
		t.Fatal("expected Finite to accept ordinary values")
	}
}

func TestPhysicsMassFrictionPacking(t *testing.T) {
	cfg := DefaultConfig()
	p := NewPhysics([3]float32{1, 0, 0}, [3]float32{0, 0, 0}, 1.25, 0.5, cfg)
	_, _, mass, friction := p.Dequantize(cfg)
	if diff := math.Abs(float64(mass - 1.25)); diff > 0.01 {
		t.Errorf("mass round trip off by %v", diff)
	}
	if diff := math.Abs(float64(friction - 0.5)); diff > 0.01 {
		t.Errorf("friction round trip off by %v", diff)
	}
}

func TestTransformRoundTrip(t *testing.T) {
	cfg := DefaultConfig()
	tr := NewTransform([3]float32{10, -20, 30}, 90, 1.25, cfg)
	pos, rot, scale := tr.Dequantize(cfg)
	if math.Abs(float64(pos[0]-10)) > 0.01 {
		t.Errorf("pos.x off: %v", pos[0])
	}
	if rot != 90 {
		t.Errorf("rot off: %v", rot)
	}
	if math.Abs(float64(scale-1.25)) > 0.01 {
		t.Errorf("scale off: %v", scale)
	}
}
