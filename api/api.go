package api

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/engramhq/engram/pkg/dispatch"
	"github.com/engramhq/engram/pkg/scheduler"
	"github.com/engramhq/engram/pkg/storage"
)

// Server is the API server for managing recall items and triggering
// canonicalization.
type Server struct {
	config     Config
	storer     storage.Driver
	sched      *scheduler.Scheduler
	dispatcher dispatch.Dispatcher
	logger     *zap.Logger
	app        *fiber.App
}

// NewServer creates a new API server.
// The storer and dispatcher are injected to allow sharing with the worker
// side when everything runs in one process.
func NewServer(config Config, storer storage.Driver, sched *scheduler.Scheduler, dispatcher dispatch.Dispatcher, logger *zap.Logger) *Server {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})

	s := &Server{
		config:     config,
		storer:     storer,
		sched:      sched,
		dispatcher: dispatcher,
		logger:     logger,
		app:        app,
	}

	app.Get("/ping", s.handlePing)

	app.Post("/recall/items", s.handleCreateItem)
	app.Post("/recall/items/:id/review", s.handleSubmitReview)
	app.Get("/recall/due", s.handleDue)
	app.Get("/recall/implicit", s.handleImplicit)
	app.Get("/recall/stats", s.handleStats)

	app.Post("/recall/suggestions", s.handleCreateSuggestion)
	app.Post("/recall/suggestions/:id/accept", s.handleAcceptSuggestion)
	app.Post("/recall/suggestions/:id/dismiss", s.handleDismissSuggestion)

	app.Post("/canonicalize", s.handleCanonicalize)

	return s
}

// Run starts the API server on the configured address.
func (s *Server) Run() error {
	s.logger.Info("starting API server",
		zap.String("listen", s.config.ListenAddr),
	)
	return s.app.Listen(s.config.ListenAddr)
}

// Shutdown gracefully shuts down the API server.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}
