// Package config holds the server's startup configuration and the flag
// parsing that populates it, following the teacher's habit of a flat set of
// flag.* declarations in main() rather than a struct-tag-driven loader —
// nothing in this codebase's dependency tree pulls in viper, envconfig, or
// similar, so plain flag.FlagSet stays the idiom here too.
package config

import (
	"flag"
	"os"
	"time"
)

// Config is the full set of tunables a gameserver process accepts on the
// command line. Every field corresponds to one row of the configuration
// option table.
type Config struct {
	ListenAddr     string        // primary transport (QUIC/WebTransport) listen address
	FallbackAddr   string        // WebSocket fallback listen address
	APIAddr        string        // HTTP control surface listen address (empty disables it)
	TLSCertFile    string        // empty: mint a self-signed certificate at startup
	TLSKeyFile     string
	StorePath      string        // SQLite database path
	TickRate       int           // simulation ticks per second
	KeyframeEvery  int           // ticks between full snapshots; deltas in between
	SnapshotRate   int           // state messages sent to clients per second
	MaxRoomPlayers int
	MinRoomPlayers int
	RoomIdleTTL    time.Duration // how long an empty room lives before closing
	HeartbeatEvery time.Duration
	ShutdownGrace  time.Duration
	CertValidity   time.Duration
	InputRateLimit float64 // inputs/sec accepted per connection before throttling
	CompressionAlg string  // "none", "lz4", "zstd", "snappy", or "adaptive"

	CompressionThreshold int // payload size in bytes at or above which compression is attempted

	// MaxFramesPerCycle bounds how many fixed physics steps the simulation's
	// accumulator loop may run in one wakeup to catch up after a stall.
	MaxFramesPerCycle int
	// MinFrameTimeMs is the simulation accumulator's polling interval.
	MinFrameTimeMs int
	// MaxInputGap bounds how far an accepted input's sequence number may
	// jump ahead of the last one accepted from that player.
	MaxInputGap uint32
}

// Default returns the configuration a bare `gameserver` should run
// with, mirroring the teacher's flag defaults (":8443"-style addresses, a
// relative db path, second/millisecond-scale durations).
func Default() Config {
	return Config{
		ListenAddr:     ":7443",
		FallbackAddr:   ":7444",
		APIAddr:        ":7080",
		StorePath:      "gamecore.db",
		TickRate:       60,
		KeyframeEvery:  30,
		SnapshotRate:   20,
		MaxRoomPlayers: 16,
		MinRoomPlayers: 1,
		RoomIdleTTL:    5 * time.Minute,
		HeartbeatEvery: 30 * time.Second,
		ShutdownGrace:  5 * time.Second,
		CertValidity:   24 * time.Hour,
		InputRateLimit: 60,
		CompressionAlg: "lz4",

		CompressionThreshold: 256,
		MaxFramesPerCycle:    5,
		MinFrameTimeMs:       1,
		MaxInputGap:          1024,
	}
}

// Parse registers flags on fs against a copy of Default() and returns the
// populated Config after fs.Parse(args). Taking an explicit *flag.FlagSet
// (rather than the global flag.CommandLine) keeps this testable without
// colliding with package-level flag state across test runs.
func Parse(fs *flag.FlagSet, args []string) (Config, error) {
	cfg := Default()
	applyEnvOverrides(&cfg)

	fs.StringVar(&cfg.ListenAddr, "addr", cfg.ListenAddr, "primary transport (QUIC/WebTransport) listen address")
	fs.StringVar(&cfg.FallbackAddr, "fallback-addr", cfg.FallbackAddr, "WebSocket fallback listen address")
	fs.StringVar(&cfg.APIAddr, "api-addr", cfg.APIAddr, "HTTP control surface listen address (empty to disable)")
	fs.StringVar(&cfg.TLSCertFile, "tls-cert", cfg.TLSCertFile, "TLS certificate file (empty: self-signed at startup)")
	fs.StringVar(&cfg.TLSKeyFile, "tls-key", cfg.TLSKeyFile, "TLS key file (required if -tls-cert is set)")
	fs.StringVar(&cfg.StorePath, "db", cfg.StorePath, "SQLite database path")
	fs.IntVar(&cfg.TickRate, "tick-rate", cfg.TickRate, "simulation ticks per second")
	fs.IntVar(&cfg.KeyframeEvery, "keyframe-every", cfg.KeyframeEvery, "ticks between full snapshots")
	fs.IntVar(&cfg.SnapshotRate, "snapshot-rate", cfg.SnapshotRate, "state messages sent to clients per second")
	fs.IntVar(&cfg.MaxRoomPlayers, "max-room-players", cfg.MaxRoomPlayers, "maximum players per room")
	fs.IntVar(&cfg.MinRoomPlayers, "min-room-players", cfg.MinRoomPlayers, "minimum players required to start a room")
	fs.DurationVar(&cfg.RoomIdleTTL, "room-idle-ttl", cfg.RoomIdleTTL, "how long an empty room lives before closing")
	fs.DurationVar(&cfg.HeartbeatEvery, "heartbeat-interval", cfg.HeartbeatEvery, "idle-room sweep interval")
	fs.DurationVar(&cfg.ShutdownGrace, "shutdown-grace", cfg.ShutdownGrace, "grace period for in-flight rooms on shutdown")
	fs.DurationVar(&cfg.CertValidity, "cert-validity", cfg.CertValidity, "self-signed TLS certificate validity")
	fs.Float64Var(&cfg.InputRateLimit, "input-rate-limit", cfg.InputRateLimit, "inputs per second accepted per connection")
	fs.StringVar(&cfg.CompressionAlg, "compression", cfg.CompressionAlg, "none, lz4, zstd, snappy, or adaptive")
	fs.IntVar(&cfg.CompressionThreshold, "compression-threshold", cfg.CompressionThreshold, "payload size in bytes at or above which compression is attempted")
	fs.IntVar(&cfg.MaxFramesPerCycle, "max-frames-per-cycle", cfg.MaxFramesPerCycle, "max physics steps run per accumulator wakeup")
	fs.IntVar(&cfg.MinFrameTimeMs, "min-frame-time-ms", cfg.MinFrameTimeMs, "accumulator polling interval in milliseconds")
	maxInputGap := uint(cfg.MaxInputGap)
	fs.UintVar(&maxInputGap, "max-input-gap", maxInputGap, "max sequence gap accepted before an input is dropped as too old")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	cfg.MaxInputGap = uint32(maxInputGap)
	return cfg, nil
}

// applyEnvOverrides lets GAMESERVER_* environment variables set the flag
// defaults before registration, so an operator can configure a container
// without a command line while flags still take precedence when passed.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("GAMESERVER_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("GAMESERVER_FALLBACK_ADDR"); v != "" {
		cfg.FallbackAddr = v
	}
	if v := os.Getenv("GAMESERVER_API_ADDR"); v != "" {
		cfg.APIAddr = v
	}
	if v := os.Getenv("GAMESERVER_DB"); v != "" {
		cfg.StorePath = v
	}
	if v := os.Getenv("GAMESERVER_TLS_CERT"); v != "" {
		cfg.TLSCertFile = v
	}
	if v := os.Getenv("GAMESERVER_TLS_KEY"); v != "" {
		cfg.TLSKeyFile = v
	}
}
