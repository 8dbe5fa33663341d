package api

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	apperrors "github.com/gmsas95/pillpal/internal/errors"
	"github.com/gmsas95/pillpal/internal/metrics"
	"github.com/gmsas95/pillpal/internal/session"
	"github.com/gmsas95/pillpal/internal/store"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"
)

const writeWait = 10 * time.Second

type wsClient struct {
	conn      *websocket.Conn
	patientID string
	device    string
	mu        sync.Mutex
}

func (c *wsClient) write(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.conn.WriteJSON(v)
}

// Hub delivers fired reminders to connected devices. A device address is
// the push token it registered on the websocket channel.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*wsClient]struct{}
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewHub creates an empty hub
func NewHub(m *metrics.Metrics, logger *zap.Logger) *Hub {
	return &Hub{
		clients: make(map[string]map[*wsClient]struct{}),
		metrics: m,
		logger:  logger,
	}
}

// Channel implements notify.Sender
func (h *Hub) Channel() string {
	return store.ChannelWebSocket
}

// Send implements notify.Sender. It fails when the device has no open
// connection or every write failed.
func (h *Hub) Send(ctx context.Context, address string, text string) error {
	h.mu.RLock()
	targets := make([]*wsClient, 0, len(h.clients[address]))
	for c := range h.clients[address] {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	if len(targets) == 0 {
		return fmt.Errorf("device %s is not connected", address)
	}

	msg := fiber.Map{
		"type":    "reminder",
		"text":    text,
		"sent_at": time.Now().UTC(),
	}
	var errs []error
	for _, c := range targets {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := c.write(msg); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) == len(targets) {
		return errors.Join(errs...)
	}
	return nil
}

// Connected returns the number of open connections for a device
func (h *Hub) Connected(address string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[address])
}

func (h *Hub) register(c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[c.device] == nil {
		h.clients[c.device] = make(map[*wsClient]struct{})
	}
	h.clients[c.device][c] = struct{}{}
	h.metrics.IncrementActiveConnections()
}

func (h *Hub) unregister(c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if set, ok := h.clients[c.device]; ok {
		if _, ok := set[c]; ok {
			delete(set, c)
			h.metrics.DecrementActiveConnections()
		}
		if len(set) == 0 {
			delete(h.clients, c.device)
		}
	}
}

// CloseAll closes every open connection
func (h *Hub) CloseAll() {
	h.mu.RLock()
	var all []*wsClient
	for _, set := range h.clients {
		for c := range set {
			all = append(all, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range all {
		c.mu.Lock()
		_ = c.conn.Close()
		c.mu.Unlock()
	}
}

// Serve runs one device connection until it closes. Clients may send
// "ping" and receive {"type":"pong"}.
func (h *Hub) Serve(conn *websocket.Conn) {
	patient, _ := conn.Locals(patientKey).(session.Patient)
	c := &wsClient{
		conn:      conn,
		patientID: patient.ID,
		device:    conn.Query("device"),
	}

	h.register(c)
	defer func() {
		h.unregister(c)
		_ = conn.Close()
	}()

	h.logger.Info("Device connected",
		zap.String("patient", c.patientID),
		zap.String("device", c.device),
	)
	_ = c.write(fiber.Map{"type": "connected", "device": c.device})

	for {
		mt, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("WebSocket read error", zap.Error(err))
			}
			return
		}
		if mt == websocket.TextMessage && strings.TrimSpace(string(msg)) == "ping" {
			if err := c.write(fiber.Map{"type": "pong"}); err != nil {
				return
			}
		}
	}
}

// websocketUpgrade authenticates the upgrade request and registers the
// device address. Browsers cannot set headers on upgrades, so the token
// may also come from the token query parameter.
func (s *Server) websocketUpgrade() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !websocket.IsWebSocketUpgrade(c) {
			return fiber.ErrUpgradeRequired
		}

		raw := strings.TrimPrefix(c.Get("Authorization"), "Bearer ")
		if raw == "" {
			raw = c.Query("token")
		}
		if raw == "" {
			return apperrors.New(apperrors.ErrUnauthorized.Code, "missing token")
		}
		patient, err := s.parseToken(c.UserContext(), raw)
		if err != nil {
			return err
		}

		device := strings.TrimSpace(c.Query("device"))
		if device == "" {
			return apperrors.BadRequest("device query parameter is required")
		}
		err = s.store.RegisterPushToken(c.UserContext(), &store.PushToken{
			PatientID: patient.ID,
			Channel:   store.ChannelWebSocket,
			Token:     device,
			CreatedAt: time.Now(),
		})
		if err != nil {
			return err
		}

		c.Locals(patientKey, patient)
		return c.Next()
	}
}
