package api

import (
	"sync"
	"time"

	"github.com/gmsas95/pillpal/internal/adherence"
	"github.com/gmsas95/pillpal/internal/config"
	"github.com/gmsas95/pillpal/internal/ical"
	"github.com/gmsas95/pillpal/internal/intake"
	"github.com/gmsas95/pillpal/internal/interactions"
	"github.com/gmsas95/pillpal/internal/metrics"
	"github.com/gmsas95/pillpal/internal/reminder"
	"github.com/gmsas95/pillpal/internal/store"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// Deps are the core services the HTTP layer calls into
type Deps struct {
	Store     *store.Store
	Scheduler *reminder.Scheduler
	Intake    *intake.Log
	Adherence *adherence.Aggregator
	Checker   *interactions.Checker
	Feed      *ical.Feed
	Hub       *Hub
	Metrics   *metrics.Metrics
	Now       func() time.Time
}

// Server handles HTTP API and WebSocket
type Server struct {
	app        *fiber.App
	config     *config.Config
	store      *store.Store
	scheduler  *reminder.Scheduler
	intake     *intake.Log
	adherence  *adherence.Aggregator
	checker    *interactions.Checker
	feed       *ical.Feed
	hub        *Hub
	metrics    *metrics.Metrics
	logger     *zap.Logger
	now        func() time.Time
	defaultLoc *time.Location

	// last timezone recorded per patient id
	zones sync.Map
}

// New creates a new API server
func New(cfg *config.Config, deps Deps, logger *zap.Logger) *Server {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Hub == nil {
		deps.Hub = NewHub(deps.Metrics, logger)
	}

	loc, err := cfg.Location()
	if err != nil {
		logger.Warn("Invalid reminders timezone, using local time", zap.String("timezone", cfg.Reminders.Timezone), zap.Error(err))
		loc = time.Local
	}

	readTimeout := time.Duration(cfg.Server.ReadTimeout) * time.Second
	if readTimeout == 0 {
		readTimeout = 30 * time.Second
	}
	writeTimeout := time.Duration(cfg.Server.WriteTimeout) * time.Second
	if writeTimeout == 0 {
		writeTimeout = 30 * time.Second
	}

	s := &Server{
		config:     cfg,
		store:      deps.Store,
		scheduler:  deps.Scheduler,
		intake:     deps.Intake,
		adherence:  deps.Adherence,
		checker:    deps.Checker,
		feed:       deps.Feed,
		hub:        deps.Hub,
		metrics:    deps.Metrics,
		logger:     logger,
		now:        deps.Now,
		defaultLoc: loc,
	}

	s.app = fiber.New(fiber.Config{
		AppName:               "pillpal",
		ReadTimeout:           readTimeout,
		WriteTimeout:          writeTimeout,
		IdleTimeout:           120 * time.Second,
		ErrorHandler:          s.handleError,
		DisableStartupMessage: true,
	})

	s.setupRoutes()
	return s
}

// App exposes the fiber app, mainly for app.Test in tests
func (s *Server) App() *fiber.App {
	return s.app
}

// Hub returns the websocket delivery channel
func (s *Server) Hub() *Hub {
	return s.hub
}
