// Package web serves the control API and the live event stream for one
// orchestrator.
package web

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gofiber/adaptor/v2"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/teslashibe/echospeak/pkg/conversation"
	"github.com/teslashibe/echospeak/pkg/hub"
	"github.com/teslashibe/echospeak/pkg/ledger"
	"github.com/teslashibe/echospeak/pkg/metrics"
	"github.com/teslashibe/echospeak/pkg/notify"
	"github.com/teslashibe/echospeak/pkg/orchestrator"
)

// Controller is the orchestrator surface the API drives.
type Controller interface {
	StartSession(ctx context.Context) (string, error)
	StartRecording() bool
	StopRecording() bool
	EndCall() error
	ResetFallback()
	SetUserName(name string)

	State() orchestrator.State
	Turns() []conversation.Turn
	ConversationID() string
	FallbackMode() bool
	IsSpeaking() bool
	UserName() string
}

// History answers usage questions. *ledger.Ledger implements it.
type History interface {
	Stats() ledger.Stats
	RecentTopics(userName string) []string
}

var (
	_ Controller = (*orchestrator.Orchestrator)(nil)
	_ History    = (*ledger.Ledger)(nil)
)

// Config wires the server to the rest of the app.
type Config struct {
	// Addr is the listen address (default ":8080").
	Addr string

	Controller    Controller
	History       History
	Hub           *hub.Hub
	Notifications *notify.Recorder

	// Optional.
	Metrics *metrics.Metrics
	Latency *metrics.Tracker
	Static  string

	Logger *slog.Logger
}

// Server is the control API server.
type Server struct {
	app    *fiber.App
	cfg    Config
	logger *slog.Logger
}

// NewServer builds the routes.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Controller == nil || cfg.History == nil || cfg.Hub == nil {
		return nil, errors.New("web: controller, history and hub are required")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	if cfg.Notifications == nil {
		cfg.Notifications = notify.NewRecorder(100)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	s := &Server{
		cfg:    cfg,
		logger: cfg.Logger.With("component", "web"),
	}

	app := fiber.New(fiber.Config{
		AppName:               "echospeak",
		DisableStartupMessage: true,
		ErrorHandler:          s.handleError,
	})

	app.Use(recover.New())
	app.Use(cors.New())

	if cfg.Static != "" {
		app.Static("/", cfg.Static)
	}

	api := app.Group("/api")
	api.Post("/session", s.handleStartSession)
	api.Post("/recording/start", s.handleStartRecording)
	api.Post("/recording/stop", s.handleStopRecording)
	api.Post("/call/end", s.handleEndCall)
	api.Post("/fallback/reset", s.handleResetFallback)
	api.Get("/status", s.handleStatus)
	api.Get("/conversation", s.handleConversation)
	api.Get("/notifications", s.handleNotifications)
	api.Get("/stats", s.handleStats)

	if cfg.Metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(cfg.Metrics.Handler()))
	}

	// WebSocket upgrade middleware
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/events", websocket.New(s.handleEventsWS))

	s.app = app
	return s, nil
}

// App exposes the fiber app, mainly for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// Run serves until ctx is done, then shuts down.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("control API listening", "addr", s.cfg.Addr)
		errCh <- s.app.Listen(s.cfg.Addr)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		if err := s.app.Shutdown(); err != nil {
			return err
		}
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}

func (s *Server) handleError(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
	}
	if code >= fiber.StatusInternalServerError {
		s.logger.Error("request failed", "path", c.Path(), "error", err)
	}
	return c.Status(code).JSON(fiber.Map{"error": err.Error()})
}
