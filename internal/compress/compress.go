// Package compress implements the pluggable {none, lz4, zstd, snappy} wire
// compression codec. Each algorithm is assigned a stable wire byte so the
// decoder never has to guess; adding an algorithm means adding a byte value,
// never renumbering existing ones.
package compress

import (
	"bytes"
	"fmt"
	"io"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Algorithm is the wire byte prepended to a compressed payload.
type Algorithm byte

const (
	AlgorithmNone   Algorithm = 0
	AlgorithmLZ4    Algorithm = 1
	AlgorithmZstd   Algorithm = 2
	AlgorithmSnappy Algorithm = 3
)

func (a Algorithm) String() string {
	switch a {
	case AlgorithmNone:
		return "none"
	case AlgorithmLZ4:
		return "lz4"
	case AlgorithmZstd:
		return "zstd"
	case AlgorithmSnappy:
		return "snappy"
	default:
		return fmt.Sprintf("unknown(%d)", byte(a))
	}
}

// Config controls when compression is attempted and what "effective" means.
type Config struct {
	Algorithm Algorithm
	// Threshold is the minimum payload size, in bytes, below which Compress
	// always returns identity output regardless of Algorithm.
	Threshold int
	// MinRatio is the minimum compressed/original ratio considered
	// effective; a worse ratio falls back to identity (e.g. 0.9 means "must
	// shrink by at least 10% or it isn't worth it").
	MinRatio float64
}

func DefaultConfig() Config {
	return Config{Algorithm: AlgorithmLZ4, Threshold: 256, MinRatio: 0.9}
}

// ParseAlgorithm maps a configuration string ("none", "lz4", "zstd",
// "snappy") to its Algorithm value, for translating the -compression flag
// into a Config at startup.
func ParseAlgorithm(s string) (Algorithm, error) {
	switch s {
	case "none", "":
		return AlgorithmNone, nil
	case "lz4":
		return AlgorithmLZ4, nil
	case "zstd":
		return AlgorithmZstd, nil
	case "snappy":
		return AlgorithmSnappy, nil
	default:
		return AlgorithmNone, fmt.Errorf("unknown compression algorithm %q", s)
	}
}

// Data is the result of Compress: enough metadata to decide whether the
// compression was effective, plus the bytes actually placed on the wire.
type Data struct {
	Algorithm      Algorithm
	OriginalSize   int
	CompressedSize int
	Bytes          []byte
}

// Compress runs cfg.Algorithm over data unless data is too small or the
// codec produces a non-effective result, in which case it returns identity
// output. The returned Bytes never include the algorithm header byte —
// callers that serialize to the wire prepend it themselves (see
// internal/wire), keeping this package ignorant of frame layout.
func Compress(data []byte, cfg Config) (Data, error) {
	if len(data) < cfg.Threshold || cfg.Algorithm == AlgorithmNone {
		return Data{Algorithm: AlgorithmNone, OriginalSize: len(data), CompressedSize: len(data), Bytes: data}, nil
	}

	out, err := encode(cfg.Algorithm, data)
	if err != nil {
		return Data{Algorithm: AlgorithmNone, OriginalSize: len(data), CompressedSize: len(data), Bytes: data}, nil
	}

	ratio := 1.0
	if len(data) > 0 {
		ratio = float64(len(out)) / float64(len(data))
	}
	if ratio >= cfg.MinRatio {
		return Data{Algorithm: AlgorithmNone, OriginalSize: len(data), CompressedSize: len(data), Bytes: data}, nil
	}

	return Data{Algorithm: cfg.Algorithm, OriginalSize: len(data), CompressedSize: len(out), Bytes: out}, nil
}

// Decompress reverses Compress given the algorithm byte read off the wire.
// An unrecognized algorithm is reported as Unsupported by the caller (see
// internal/wire), not silently passed through.
func Decompress(algo Algorithm, data []byte) ([]byte, error) {
	switch algo {
	case AlgorithmNone:
		return data, nil
	case AlgorithmLZ4:
		var buf bytes.Buffer
		r := lz4.NewReader(bytes.NewReader(data))
		if _, err := io.Copy(&buf, r); err != nil {
			return nil, fmt.Errorf("lz4 decompress: %w", err)
		}
		return buf.Bytes(), nil
	case AlgorithmZstd:
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, fmt.Errorf("zstd reader: %w", err)
		}
		defer dec.Close()
		out, err := dec.DecodeAll(data, nil)
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}
		return out, nil
	case AlgorithmSnappy:
		out, err := snappy.Decode(nil, data)
		if err != nil {
			return nil, fmt.Errorf("snappy decompress: %w", err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unknown compression algorithm %d", byte(algo))
	}
}

func encode(algo Algorithm, data []byte) ([]byte, error) {
	switch algo {
	case AlgorithmLZ4:
		var buf bytes.Buffer
		w := lz4.NewWriter(&buf)
		if _, err := w.Write(data); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case AlgorithmZstd:
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return nil, err
		}
		defer enc.Close()
		return enc.EncodeAll(data, nil), nil
	case AlgorithmSnappy:
		return snappy.Encode(nil, data), nil
	default:
		return nil, fmt.Errorf("unknown compression algorithm %d", byte(algo))
	}
}
