package compress

import (
	"sync"
	"time"
)

// Adaptive recomputes the rolling compression ratio and mean encode time
// every sampleWindow calls, switching the active algorithm one-sidedly (the
// sender just starts announcing a different algorithm byte; no receiver
// renegotiation is required). Modeled on the reference server's per-client
// rolling failure counters (sendHealth) generalized from pass/fail to
// ratio/latency sampling.
type Adaptive struct {
	mu sync.Mutex

	cfg         Config
	fast        Config // escalation target when the rolling ratio is good (< 0.6) and encoding is quick
	sampleWindow int
	fastEncodeThreshold  time.Duration
	slowEncodeThreshold  time.Duration

	count       int
	ratioSum    float64
	encodeSum   time.Duration
}

// NewAdaptive builds a selector that starts at start and may switch to
// escalate (a higher-ratio codec, e.g. zstd) or to identity depending on the
// rolling stats.
func NewAdaptive(start, escalate Config, sampleWindow int) *Adaptive {
	if sampleWindow <= 0 {
		sampleWindow = 50
	}
	return &Adaptive{
		cfg:                 start,
		fast:                escalate,
		sampleWindow:        sampleWindow,
		fastEncodeThreshold: 200 * time.Microsecond,
		slowEncodeThreshold: 2 * time.Millisecond,
	}
}

// Current returns the config the next Compress call should use.
func (a *Adaptive) Current() Config {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cfg
}

// Compress runs Compress with the current config and folds the result into
// the rolling window, possibly switching the active algorithm for future
// calls.
func (a *Adaptive) Compress(data []byte) (Data, error) {
	cfg := a.Current()
	start := time.Now()
	out, err := Compress(data, cfg)
	elapsed := time.Since(start)
	if err != nil {
		return out, err
	}

	ratio := 1.0
	if out.OriginalSize > 0 {
		ratio = float64(out.CompressedSize) / float64(out.OriginalSize)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.count++
	a.ratioSum += ratio
	a.encodeSum += elapsed
	if a.count < a.sampleWindow {
		return out, nil
	}

	meanRatio := a.ratioSum / float64(a.count)
	meanEncode := a.encodeSum / time.Duration(a.count)
	a.count, a.ratioSum, a.encodeSum = 0, 0, 0

	switch {
	case meanRatio > 0.8 && meanEncode > a.fastEncodeThreshold:
		a.cfg.Algorithm = AlgorithmNone
	case meanRatio < 0.6 && meanEncode < a.slowEncodeThreshold:
		a.cfg = a.fast
	}

	return out, nil
}
