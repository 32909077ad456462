// Package httpapi implements the HTTP control surface: room create/join/
// assign/list, transport capability discovery, health/version, and metrics
// exposition. Echo route/middleware layout (logger + recover, typed JSON
// error handler) is carried over from the reference server's api.go.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"gamecore/internal/core"
	"gamecore/internal/metrics"
	"gamecore/internal/room"
	"gamecore/internal/store"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"log/slog"
)

// Version is the running build's version string, set at build time via
// -ldflags in the reference server's pattern.
var Version = "0.1.0-dev"

// Server is the Echo application backing the HTTP control surface.
type Server struct {
	echo       *echo.Echo
	dispatcher *room.Dispatcher
	store      *store.Store
	metrics    *metrics.Metrics
	log        *slog.Logger
}

// New constructs an Echo app exposing the room/matchmaking REST surface plus
// health, version, and metrics endpoints. reg is the Prometheus gatherer
// the /metrics handler exposes; pass prometheus.DefaultGatherer in
// production and a fresh prometheus.NewRegistry() in tests.
func New(dispatcher *room.Dispatcher, st *store.Store, m *metrics.Metrics, reg prometheus.Gatherer, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(requestLogger(log))
	e.HTTPErrorHandler = jsonErrorHandler(log)

	s := &Server{echo: e, dispatcher: dispatcher, store: st, metrics: m, log: log}
	s.registerRoutes(reg)
	return s
}

func requestLogger(log *slog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}
			log.Info("http request",
				"method", c.Request().Method,
				"path", c.Request().URL.Path,
				"status", c.Response().Status,
				"duration_ms", time.Since(start).Milliseconds(),
				"remote", c.RealIP(),
			)
			return nil
		}
	}
}

// jsonErrorHandler maps a core.Error's Kind to an HTTP status and ensures
// every error response has a consistent {"error": kind, "message": ...} body,
// replacing Echo's default handler which varies between text and JSON.
func jsonErrorHandler(log *slog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		kind := core.KindUnknown.String()
		msg := err.Error()

		var ce *core.Error
		if errors.As(err, &ce) {
			kind = ce.Kind.String()
			msg = ce.Message
			code = statusForKind(ce.Kind)
		} else if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			if m, ok := he.Message.(string); ok {
				msg = m
			}
		}

		if code >= 500 {
			log.Error("http handler error", "path", c.Request().URL.Path, "err", err)
		}

		if c.Response().Committed {
			return
		}
		if c.Request().Method == http.MethodHead {
			c.NoContent(code) //nolint:errcheck
			return
		}
		c.JSON(code, map[string]string{"error": kind, "message": msg}) //nolint:errcheck
	}
}

func statusForKind(k core.Kind) int {
	switch k {
	case core.KindRoomNotFound:
		return http.StatusNotFound
	case core.KindRoomFull, core.KindAlreadyInRoom, core.KindRoomNotAcceptingPlayers,
		core.KindNotEnoughPlayers, core.KindInvalidState, core.KindNotHost:
		return http.StatusConflict
	case core.KindInvalidPlayerID, core.KindInvalidMovement, core.KindInvalidTimestamp,
		core.KindSequenceDuplicate, core.KindSequenceTooOld:
		return http.StatusBadRequest
	case core.KindRateLimitExceeded:
		return http.StatusTooManyRequests
	case core.KindUnsupported:
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) registerRoutes(reg prometheus.Gatherer) {
	s.echo.POST("/rooms/create", s.handleCreateRoom)
	s.echo.POST("/rooms/join", s.handleJoinRoom)
	s.echo.POST("/rooms/assign", s.handleAssignRoom)
	s.echo.GET("/rooms/list", s.handleListRooms)
	s.echo.GET("/rooms/transports", s.handleTransports)
	s.echo.GET("/rooms/:id/matches", s.handleRoomMatches)
	s.echo.GET("/leaderboard", s.handleLeaderboard)
	s.echo.GET("/healthz", s.handleHealthz)
	s.echo.GET("/version", s.handleVersion)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))
}

// Echo exposes the underlying Echo instance for tests.
func (s *Server) Echo() *echo.Echo { return s.echo }

// Run starts Echo and blocks until ctx cancellation or startup failure.
func (s *Server) Run(ctx context.Context, addr string) error {
	errCh := make(chan error, 1)
	go func() {
		err := s.echo.Start(addr)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		s.log.Info("shutting down http control surface")
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.echo.Shutdown(shutCtx)
		return nil
	}
}

type createRoomRequest struct {
	Name     string `json:"name"`
	HostID   string `json:"host_id"`
	HostName string `json:"host_name"`
	Settings struct {
		Mode       string `json:"mode"`
		MinPlayers int    `json:"min_players"`
		MaxPlayers int    `json:"max_players"`
	} `json:"settings"`
}

type roomResponse struct {
	RoomID      string   `json:"room_id"`
	Name        string   `json:"name"`
	Mode        string   `json:"mode"`
	State       string   `json:"state"`
	HostID      string   `json:"host_id"`
	PlayerCount int      `json:"player_count"`
	Players     []string `json:"players"`
}

func roomToResponse(r *room.Room) roomResponse {
	return roomResponse{
		RoomID:      r.ID(),
		Name:        r.Name(),
		Mode:        r.Mode(),
		State:       r.State().String(),
		HostID:      r.HostID(),
		PlayerCount: r.PlayerCount(),
		Players:     r.Players(),
	}
}

func (s *Server) handleCreateRoom(c echo.Context) error {
	var req createRoomRequest
	if err := c.Bind(&req); err != nil {
		return core.Wrap(core.KindInvalidState, "malformed request body", err)
	}
	if req.HostID == "" {
		return core.New(core.KindInvalidPlayerID, "host_id is required")
	}

	r := s.dispatcher.CreateRoom(req.Name, req.Settings.Mode)
	if err := r.Join(req.HostID); err != nil {
		return err
	}
	if s.metrics != nil {
		s.metrics.RoomsCreated.Inc()
	}
	return c.JSON(http.StatusCreated, roomToResponse(r))
}

type joinRoomRequest struct {
	RoomID     string `json:"room_id"`
	PlayerID   string `json:"player_id"`
	PlayerName string `json:"player_name"`
}

func (s *Server) handleJoinRoom(c echo.Context) error {
	var req joinRoomRequest
	if err := c.Bind(&req); err != nil {
		return core.Wrap(core.KindInvalidState, "malformed request body", err)
	}
	if req.PlayerID == "" {
		return core.New(core.KindInvalidPlayerID, "player_id is required")
	}

	r := s.dispatcher.Get(req.RoomID)
	if r == nil {
		return room.RoomNotFoundErr(req.RoomID)
	}
	if err := r.Join(req.PlayerID); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, roomToResponse(r))
}

type assignRoomRequest struct {
	PlayerID string `json:"player_id"`
	GameMode string `json:"game_mode"`
}

func (s *Server) handleAssignRoom(c echo.Context) error {
	var req assignRoomRequest
	if err := c.Bind(&req); err != nil {
		return core.Wrap(core.KindInvalidState, "malformed request body", err)
	}
	if req.PlayerID == "" {
		return core.New(core.KindInvalidPlayerID, "player_id is required")
	}

	r := s.dispatcher.Assign(req.GameMode)
	if err := r.Join(req.PlayerID); err != nil {
		return err
	}
	if s.metrics != nil {
		s.metrics.RoomsCreated.Inc()
	}
	return c.JSON(http.StatusOK, roomToResponse(r))
}

func (s *Server) handleListRooms(c echo.Context) error {
	mode := c.QueryParam("game_mode")
	status := c.QueryParam("status")

	rooms := s.dispatcher.List()
	out := make([]roomResponse, 0, len(rooms))
	for _, r := range rooms {
		if mode != "" && r.Mode() != mode {
			continue
		}
		if status != "" && r.State().String() != status {
			continue
		}
		out = append(out, roomToResponse(r))
	}
	return c.JSON(http.StatusOK, out)
}

type transportsResponse struct {
	WebTransport bool `json:"webtransport"`
	WebSocket    bool `json:"websocket"`
}

func (s *Server) handleTransports(c echo.Context) error {
	return c.JSON(http.StatusOK, transportsResponse{WebTransport: true, WebSocket: true})
}

func (s *Server) handleRoomMatches(c echo.Context) error {
	id := c.Param("id")
	matches, err := s.store.ListMatches(c.Request().Context(), id, 50)
	if err != nil {
		return core.Wrap(core.KindUnknown, "list matches", err)
	}
	return c.JSON(http.StatusOK, matches)
}

func (s *Server) handleLeaderboard(c echo.Context) error {
	board, err := s.store.Leaderboard(c.Request().Context(), 100)
	if err != nil {
		return core.Wrap(core.KindUnknown, "leaderboard", err)
	}
	return c.JSON(http.StatusOK, board)
}

type healthResponse struct {
	Status      string `json:"status"`
	RoomsActive int    `json:"rooms_active"`
}

func (s *Server) handleHealthz(c echo.Context) error {
	return c.JSON(http.StatusOK, healthResponse{
		Status:      "ok",
		RoomsActive: len(s.dispatcher.List()),
	})
}

type versionResponse struct {
	Version string `json:"version"`
}

func (s *Server) handleVersion(c echo.Context) error {
	return c.JSON(http.StatusOK, versionResponse{Version: Version})
}
