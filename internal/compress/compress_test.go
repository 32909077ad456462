package compress

import (
	"bytes"
	"strings"
	"testing"
)

func TestCompressBelowThresholdIsIdentity(t *testing.T) {
	cfg := DefaultConfig()
	data := []byte("short")
	out, err := Compress(data, cfg)
	if err != nil {
		t.Fatalf("Compress returned error: %v", err)
	}
	if out.Algorithm != AlgorithmNone {
		t.Fatalf("expected identity below threshold, got %v", out.Algorithm)
	}
	if !bytes.Equal(out.Bytes, data) {
		t.Fatalf("identity output should equal input")
	}
}

func TestCompressDecompressRoundTrip(t *testing.T) {
	payload := []byte(strings.Repeat("the quick brown fox jumps over the lazy dog ", 50))
	for _, algo := range []Algorithm{AlgorithmLZ4, AlgorithmZstd, AlgorithmSnappy} {
		cfg := Config{Algorithm: algo, Threshold: 0, MinRatio: 1.0}
		out, err := Compress(payload, cfg)
		if err != nil {
			t.Fatalf("[%v] Compress error: %v", algo, err)
		}
		back, err := Decompress(out.Algorithm, out.Bytes)
		if err != nil {
			t.Fatalf("[%v] Decompress error: %v", algo, err)
		}
		if !bytes.Equal(back, payload) {
			t.Fatalf("[%v] round trip mismatch", algo)
		}
	}
}

func TestCompressFallsBackWhenIneffective(t *testing.T) {
	// A MinRatio no codec can satisfy forces the ineffective-result fallback
	// path, even for this highly repetitive data.
	data := []byte(strings.Repeat("x", 300))
	cfg := Config{Algorithm: AlgorithmLZ4, Threshold: 10, MinRatio: 0.0001}
	out, err := Compress(data, cfg)
	if err != nil {
		t.Fatalf("Compress error: %v", err)
	}
	if out.Algorithm != AlgorithmNone {
		t.Fatalf("expected fallback to identity when ratio requirement can't be met, got %v", out.Algorithm)
	}
}

func TestDecompressUnknownAlgorithm(t *testing.T) {
	if _, err := Decompress(Algorithm(99), []byte("x")); err == nil {
		t.Fatal("expected error for unknown algorithm")
	}
}

func TestAdaptiveEscalatesWhenCompressingVeryWell(t *testing.T) {
	// Highly repetitive data compresses far below the 0.6 ratio floor even
	// under the cheap starting codec, which should trigger escalation to the
	// stronger "fast" config on the next sample-window boundary.
	start := Config{Algorithm: AlgorithmLZ4, Threshold: 0, MinRatio: 1.0}
	escalate := Config{Algorithm: AlgorithmZstd, Threshold: 0, MinRatio: 0.9}
	a := NewAdaptive(start, escalate, 4)

	payload := []byte(strings.Repeat("aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", 200))
	for i := 0; i < 4; i++ {
		if _, err := a.Compress(payload); err != nil {
			t.Fatalf("Compress error: %v", err)
		}
	}
	if a.Current().Algorithm != AlgorithmZstd {
		t.Fatalf("expected escalation to zstd after highly-compressible window, got %v", a.Current().Algorithm)
	}
}
