package api

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
)

func (s *Server) setupRoutes() {
	s.app.Use(recover.New())
	s.app.Use(logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))
	s.app.Use(cors.New(cors.Config{
		AllowOrigins: strings.Join(s.config.Security.AllowOrigins, ","),
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		AllowMethods: "GET, POST, PATCH, DELETE, OPTIONS",
	}))
	s.app.Use(s.metricsMiddleware())

	s.app.Get("/api/health", s.handleHealth)
	s.app.Get("/metrics", adaptor.HTTPHandler(s.metrics.Handler()))

	if s.config.Channels.WebSocket.Enabled {
		s.app.Use("/ws", s.websocketUpgrade())
		s.app.Get("/ws", websocket.New(s.hub.Serve))
	}

	api := s.app.Group("/api")
	protected := api.Use(s.authMiddleware())

	protected.Get("/medications", s.handleSearchMedications)
	protected.Post("/medications", s.handleCreateMedication)
	protected.Get("/medications/barcode/:code", s.handleBarcode)
	protected.Get("/medications/:id", s.handleGetMedication)

	protected.Get("/schedules", s.handleListSchedules)
	protected.Post("/schedules", s.handleCreateSchedule)
	protected.Get("/schedules/:id", s.handleGetSchedule)
	protected.Patch("/schedules/:id", s.handleUpdateSchedule)
	protected.Delete("/schedules/:id", s.handleDeleteSchedule)
	protected.Post("/schedules/:id/times", s.handleAddTime)
	protected.Delete("/schedules/:id/times/:timeId", s.handleDeleteTime)
	protected.Post("/schedules/:id/refill", s.handleRefill)
	protected.Post("/schedules/:id/as-needed", s.handleTakeAsNeeded)

	protected.Post("/doses/take", s.handleTake)
	protected.Post("/doses/skip", s.handleSkip)
	protected.Post("/doses/snooze", s.handleSnooze)
	protected.Get("/doses/today", s.handleToday)

	protected.Get("/adherence", s.handleAdherenceRange)
	protected.Get("/adherence/month", s.handleAdherenceMonth)

	protected.Post("/reminders/resync", s.handleResync)
	protected.Post("/reminders/reconcile", s.handleReconcile)

	protected.Post("/interactions/medications", s.handleMedicationInteraction)
	protected.Post("/interactions/food", s.handleFoodInteraction)

	protected.Get("/push-tokens", s.handleListPushTokens)
	protected.Post("/push-tokens", s.handleRegisterPushToken)
	protected.Delete("/push-tokens/:id", s.handleDeletePushToken)

	protected.Get("/calendar.ics", s.handleCalendar)
}

// Start starts the server
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Address, s.config.Server.Port)
	return s.app.Listen(addr)
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.hub.CloseAll()
	return s.app.ShutdownWithContext(ctx)
}
