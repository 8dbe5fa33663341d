package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	apperrors "github.com/gmsas95/pillpal/internal/errors"
	"github.com/gmsas95/pillpal/internal/metrics"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// PendingStore persists armed triggers across restarts
type PendingStore interface {
	PutPending(id string, payload []byte) error
	DeletePending(id string) error
	ListPending() (map[string][]byte, error)
}

// Config holds local notifier configuration
type Config struct {
	DispatchInterval time.Duration // time between due checks
	MaxConcurrent    int           // concurrent deliveries per tick
	Now              func() time.Time
}

// LocalNotifier keeps armed triggers in process and fires them to a
// Dispatcher from a ticker loop
type LocalNotifier struct {
	config     Config
	dispatcher Dispatcher
	persist    PendingStore
	metrics    *metrics.Metrics
	logger     *zap.Logger

	mu      sync.Mutex
	pending map[string]*Pending

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
	runMu   sync.Mutex
}

// NewLocalNotifier creates a notifier. persist may be nil.
func NewLocalNotifier(config Config, dispatcher Dispatcher, persist PendingStore, m *metrics.Metrics, logger *zap.Logger) *LocalNotifier {
	if config.DispatchInterval <= 0 {
		config.DispatchInterval = 15 * time.Second
	}
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 4
	}
	if config.Now == nil {
		config.Now = time.Now
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &LocalNotifier{
		config:     config,
		dispatcher: dispatcher,
		persist:    persist,
		metrics:    m,
		logger:     logger,
		pending:    make(map[string]*Pending),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Load restores persisted triggers. Entries that cannot be decoded are
// dropped.
func (n *LocalNotifier) Load() error {
	if n.persist == nil {
		return nil
	}
	stored, err := n.persist.ListPending()
	if err != nil {
		return err
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	for id, data := range stored {
		var p Pending
		if err := json.Unmarshal(data, &p); err != nil {
			n.logger.Warn("Dropping unreadable pending trigger", zap.String("trigger_id", id), zap.Error(err))
			_ = n.persist.DeletePending(id)
			continue
		}
		n.pending[id] = &p
	}
	n.metrics.SetPendingTriggers(len(n.pending))
	n.logger.Info("Restored pending triggers", zap.Int("count", len(stored)))
	return nil
}

// Schedule implements Notifier
func (n *LocalNotifier) Schedule(ctx context.Context, notif Notification, t Trigger) (string, error) {
	if n.dispatcher == nil || !n.dispatcher.Available() {
		return "", apperrors.ErrPermissionDenied
	}
	if err := t.Validate(); err != nil {
		return "", apperrors.Wrap(err, apperrors.ErrTriggerFailed.Code, "invalid trigger")
	}

	fireAt, err := t.Next(n.config.Now())
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.ErrTriggerFailed.Code, "computing fire time")
	}
	if t.Kind == KindDelay {
		// a delay is relative to scheduling time, pin it
		t = At(fireAt)
	}

	p := &Pending{
		ID:           "trg_" + uuid.NewString(),
		Notification: notif,
		Trigger:      t,
		FireAt:       fireAt,
	}
	if err := n.save(p); err != nil {
		return "", apperrors.Wrap(err, apperrors.ErrTriggerFailed.Code, "persisting trigger")
	}

	n.mu.Lock()
	n.pending[p.ID] = p
	count := len(n.pending)
	n.mu.Unlock()
	n.metrics.SetPendingTriggers(count)

	n.logger.Debug("Trigger armed",
		zap.String("trigger_id", p.ID),
		zap.String("patient_id", notif.Payload.PatientID),
		zap.Time("fire_at", fireAt),
	)
	return p.ID, nil
}

// Cancel implements Notifier. Unknown ids are ignored.
func (n *LocalNotifier) Cancel(ctx context.Context, id string) error {
	n.mu.Lock()
	delete(n.pending, id)
	count := len(n.pending)
	n.mu.Unlock()
	n.metrics.SetPendingTriggers(count)

	if n.persist != nil {
		if err := n.persist.DeletePending(id); err != nil {
			return err
		}
	}
	return nil
}

// CancelAll implements Notifier
func (n *LocalNotifier) CancelAll(ctx context.Context) error {
	n.mu.Lock()
	ids := make([]string, 0, len(n.pending))
	for id := range n.pending {
		ids = append(ids, id)
	}
	n.pending = make(map[string]*Pending)
	n.mu.Unlock()
	n.metrics.SetPendingTriggers(0)

	if n.persist != nil {
		for _, id := range ids {
			if err := n.persist.DeletePending(id); err != nil {
				return err
			}
		}
	}
	return nil
}

// List implements Notifier, ordered by fire time
func (n *LocalNotifier) List(ctx context.Context) ([]Pending, error) {
	n.mu.Lock()
	out := make([]Pending, 0, len(n.pending))
	for _, p := range n.pending {
		out = append(out, *p)
	}
	n.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].FireAt.Equal(out[j].FireAt) {
			return out[i].FireAt.Before(out[j].FireAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// Start starts the dispatch loop
func (n *LocalNotifier) Start() error {
	n.runMu.Lock()
	defer n.runMu.Unlock()

	if n.running {
		return fmt.Errorf("notifier already running")
	}

	n.running = true
	n.wg.Add(1)
	go n.run()
	return nil
}

// Stop stops the dispatch loop
func (n *LocalNotifier) Stop() {
	n.runMu.Lock()
	if !n.running {
		n.runMu.Unlock()
		return
	}
	n.running = false
	n.runMu.Unlock()

	n.cancel()
	n.wg.Wait()
	n.logger.Info("Notifier stopped")
}

func (n *LocalNotifier) run() {
	defer n.wg.Done()

	ticker := time.NewTicker(n.config.DispatchInterval)
	defer ticker.Stop()

	n.Tick(n.ctx)

	for {
		select {
		case <-n.ctx.Done():
			return
		case <-ticker.C:
			n.Tick(n.ctx)
		}
	}
}

// Tick fires every trigger due at the current time and returns how many
// fired. Calendar triggers are re-armed at their next match.
func (n *LocalNotifier) Tick(ctx context.Context) int {
	now := n.config.Now()

	n.mu.Lock()
	var due []Pending
	for id, p := range n.pending {
		if p.FireAt.After(now) {
			continue
		}
		due = append(due, *p)
		if p.Trigger.Repeats() {
			next, err := p.Trigger.Next(now)
			if err == nil {
				p.FireAt = next
				continue
			}
		}
		delete(n.pending, id)
	}
	count := len(n.pending)
	n.mu.Unlock()

	if len(due) == 0 {
		return 0
	}
	n.metrics.SetPendingTriggers(count)

	sem := make(chan struct{}, n.config.MaxConcurrent)
	var wg sync.WaitGroup
	for _, p := range due {
		wg.Add(1)
		sem <- struct{}{}

		go func(p Pending) {
			defer wg.Done()
			defer func() { <-sem }()
			n.fire(ctx, p)
		}(p)
	}
	wg.Wait()
	return len(due)
}

func (n *LocalNotifier) fire(ctx context.Context, p Pending) {
	if p.Trigger.Repeats() {
		n.mu.Lock()
		current, ok := n.pending[p.ID]
		n.mu.Unlock()
		if ok {
			if err := n.save(current); err != nil {
				n.logger.Warn("Failed to persist re-armed trigger", zap.String("trigger_id", p.ID), zap.Error(err))
			}
		}
	} else if n.persist != nil {
		if err := n.persist.DeletePending(p.ID); err != nil {
			n.logger.Warn("Failed to delete fired trigger", zap.String("trigger_id", p.ID), zap.Error(err))
		}
	}

	if err := n.dispatcher.Deliver(ctx, p); err != nil {
		n.logger.Error("Reminder delivery failed",
			zap.String("trigger_id", p.ID),
			zap.String("patient_id", p.Notification.Payload.PatientID),
			zap.Error(err),
		)
		return
	}
	n.logger.Info("Reminder delivered",
		zap.String("trigger_id", p.ID),
		zap.String("patient_id", p.Notification.Payload.PatientID),
	)
}

func (n *LocalNotifier) save(p *Pending) error {
	if n.persist == nil {
		return nil
	}
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return n.persist.PutPending(p.ID, data)
}
