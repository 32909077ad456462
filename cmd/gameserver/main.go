// Command gameserver is the process entrypoint: it parses configuration,
// opens the SQLite store, wires the room dispatcher/connection registry/
// simulation engine together, and runs the primary WebTransport listener
// alongside the WebSocket fallback and the HTTP control surface until an
// interrupt signal asks it to shut down. Flag parsing, TLS bring-up, and the
// signal-driven shutdown sequence follow the reference server's main.go/
// server.go shape; the WebTransport accept loop is new, since the reference
// never wired one up (see DESIGN.md).
package main

import (
	"context"
	"crypto/tls"
	"errors"
	"flag"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/quic-go/quic-go/http3"
	"github.com/quic-go/webtransport-go"

	"gamecore/internal/compress"
	"gamecore/internal/config"
	"gamecore/internal/engine"
	"gamecore/internal/httpapi"
	"gamecore/internal/metrics"
	"gamecore/internal/registry"
	"gamecore/internal/room"
	"gamecore/internal/store"
	"gamecore/internal/tlsutil"
	"gamecore/internal/transport"

	"github.com/gorilla/websocket"
)

func main() {
	fs := flag.NewFlagSet("gameserver", flag.ExitOnError)
	cfg, err := config.Parse(fs, os.Args[1:])
	if err != nil {
		log.Fatalf("[config] %v", err)
	}

	structuredLog := slog.New(slog.NewTextHandler(os.Stderr, nil))

	compressCfg, err := compressionConfig(cfg.CompressionAlg)
	if err != nil {
		log.Fatalf("[config] %v", err)
	}
	compressCfg.Threshold = cfg.CompressionThreshold

	st, err := store.Open(context.Background(), cfg.StorePath, structuredLog)
	if err != nil {
		log.Fatalf("[store] %v", err)
	}
	defer st.Close()

	m := metrics.New(prometheus.DefaultRegisterer)
	dispatcher := room.NewDispatcher(cfg.MinRoomPlayers, cfg.MaxRoomPlayers, structuredLog)
	connRegistry := registry.New(structuredLog)

	eng := engine.New(dispatcher, connRegistry, st, m, engine.Config{
		TickRate:          cfg.TickRate,
		SnapshotRate:      cfg.SnapshotRate,
		KeyframeEvery:     cfg.KeyframeEvery,
		InputRateLimit:    cfg.InputRateLimit,
		MaxFramesPerCycle: cfg.MaxFramesPerCycle,
		MinFrameTimeMs:    cfg.MinFrameTimeMs,
		MaxInputGap:       cfg.MaxInputGap,
	}, structuredLog)

	tlsHostname := ""
	if host, _, err := net.SplitHostPort(cfg.ListenAddr); err == nil && host != "" {
		tlsHostname = host
	}
	tlsConfig, fingerprint, err := tlsutil.LoadOrGenerate(cfg.TLSCertFile, cfg.TLSKeyFile, cfg.CertValidity, tlsHostname)
	if err != nil {
		log.Fatalf("[tls] %v", err)
	}
	log.Printf("[tls] certificate fingerprint: %s", fingerprint)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	go func() {
		<-sigCh
		log.Println("[server] shutting down...")
		cancel()
	}()

	// Periodically close rooms that have sat empty past the idle TTL.
	go func() {
		ticker := time.NewTicker(cfg.HeartbeatEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				eng.SweepIdle(cfg.RoomIdleTTL)
			}
		}
	}()

	if cfg.APIAddr != "" {
		api := httpapi.New(dispatcher, st, m, prometheus.DefaultGatherer, structuredLog)
		go func() {
			if err := api.Run(ctx, cfg.APIAddr); err != nil {
				log.Printf("[api] %v", err)
			}
		}()
		log.Printf("[api] listening on %s", cfg.APIAddr)
	}

	wtServer := newWebTransportServer(cfg.ListenAddr, tlsConfig, compressCfg, eng)
	go func() {
		log.Printf("[webtransport] listening on %s", cfg.ListenAddr)
		if err := wtServer.ListenAndServe(); err != nil && ctx.Err() == nil {
			log.Printf("[webtransport] %v", err)
		}
	}()
	go func() {
		<-ctx.Done()
		_ = wtServer.Close()
	}()

	wsServer := newWebSocketServer(cfg.FallbackAddr, tlsConfig, compressCfg, eng)
	log.Printf("[websocket] listening on %s", cfg.FallbackAddr)
	if err := runWebSocketServer(ctx, wsServer, cfg.ShutdownGrace); err != nil {
		log.Fatalf("[websocket] %v", err)
	}
}

// compressionConfig translates the -compression flag into a static
// compress.Config. "adaptive" is accepted by the flag (it selects the
// escalating compress.Adaptive wrapper at the wire-codec level) but the
// transport Session types hold one fixed Config per connection rather than
// an *Adaptive, so it resolves to compress.DefaultConfig() and no adaptive
// switching takes place.
func compressionConfig(alg string) (compress.Config, error) {
	if alg == "adaptive" {
		log.Printf("[config] compression=adaptive requested; using the fixed default configuration (per-session transport does not switch algorithms)")
		return compress.DefaultConfig(), nil
	}
	algo, err := compress.ParseAlgorithm(alg)
	if err != nil {
		return compress.Config{}, err
	}
	cfg := compress.DefaultConfig()
	cfg.Algorithm = algo
	return cfg, nil
}

// playerIDFromRequest extracts the identity to bind a Session to. Real
// deployments would validate a signed token here; this reference
// implementation treats the query parameter as already-authenticated,
// matching the decided open question that player_id is bound exactly once,
// at accept time, and never re-derived from client-supplied control
// messages afterward.
func playerIDFromRequest(r *http.Request) string {
	return r.URL.Query().Get("player_id")
}

func newWebSocketServer(addr string, tlsConfig *tls.Config, compressCfg compress.Config, eng *engine.Engine) *http.Server {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(_ *http.Request) bool { return true },
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		playerID := playerIDFromRequest(r)
		if playerID == "" {
			http.Error(w, "player_id is required", http.StatusBadRequest)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("[websocket] upgrade failed: %v", err)
			return
		}
		sess := transport.NewWebSocketSession(r.Context(), playerID, conn, compressCfg)
		go eng.HandleSession(sess)
	})
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		TLSConfig:         tlsConfig,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func runWebSocketServer(ctx context.Context, srv *http.Server, grace time.Duration) error {
	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), grace)
		defer cancel()
		if err := srv.Shutdown(shutCtx); err != nil {
			log.Printf("[websocket] shutdown: %v", err)
		}
	}()
	err := srv.ListenAndServeTLS("", "")
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func newWebTransportServer(addr string, tlsConfig *tls.Config, compressCfg compress.Config, eng *engine.Engine) *webtransport.Server {
	mux := http.NewServeMux()
	wts := &webtransport.Server{
		H3: http3.Server{
			Addr:      addr,
			TLSConfig: tlsConfig,
			Handler:   mux,
		},
		CheckOrigin: func(_ *http.Request) bool { return true },
	}
	mux.HandleFunc("/connect", func(w http.ResponseWriter, r *http.Request) {
		playerID := playerIDFromRequest(r)
		if playerID == "" {
			http.Error(w, "player_id is required", http.StatusBadRequest)
			return
		}
		sess, err := wts.Upgrade(w, r)
		if err != nil {
			log.Printf("[webtransport] upgrade failed: %v", err)
			return
		}
		transportSess, err := transport.NewWebTransportSession(r.Context(), playerID, sess, compressCfg)
		if err != nil {
			log.Printf("[webtransport] session setup failed: %v", err)
			return
		}
		go eng.HandleSession(transportSess)
	})
	return wts
}
