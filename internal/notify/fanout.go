package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gmsas95/pillpal/internal/metrics"
	"github.com/gmsas95/pillpal/internal/store"
	"go.uber.org/zap"
)

// Sender delivers reminder text to one address on one channel
type Sender interface {
	Channel() string
	Send(ctx context.Context, address string, text string) error
}

// TokenSource resolves a patient's delivery addresses
type TokenSource interface {
	ListPushTokens(ctx context.Context, patientID string) ([]store.PushToken, error)
}

// Fanout delivers a fired trigger to every registered address of the
// patient whose channel has a sender
type Fanout struct {
	tokens  TokenSource
	senders map[string]Sender
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewFanout creates a dispatcher over the given senders
func NewFanout(tokens TokenSource, m *metrics.Metrics, logger *zap.Logger, senders ...Sender) *Fanout {
	f := &Fanout{
		tokens:  tokens,
		senders: make(map[string]Sender),
		metrics: m,
		logger:  logger,
	}
	for _, s := range senders {
		if s != nil {
			f.senders[s.Channel()] = s
		}
	}
	return f
}

// Available implements Dispatcher
func (f *Fanout) Available() bool {
	return len(f.senders) > 0
}

// Channels lists the configured sender channels
func (f *Fanout) Channels() []string {
	out := make([]string, 0, len(f.senders))
	for name := range f.senders {
		out = append(out, name)
	}
	return out
}

// Deliver implements Dispatcher. It succeeds if at least one address
// received the reminder or the patient has no usable address.
func (f *Fanout) Deliver(ctx context.Context, p Pending) error {
	patientID := p.Notification.Payload.PatientID
	tokens, err := f.tokens.ListPushTokens(ctx, patientID)
	if err != nil {
		return fmt.Errorf("failed to resolve push tokens: %w", err)
	}

	text := FormatText(p.Notification)
	var errs []error
	delivered := 0
	for _, tok := range tokens {
		sender, ok := f.senders[tok.Channel]
		if !ok {
			continue
		}
		err := sender.Send(ctx, tok.Token, text)
		f.metrics.RecordDelivery(tok.Channel, err)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", tok.Channel, err))
			continue
		}
		delivered++
	}

	if delivered == 0 && len(errs) > 0 {
		return errors.Join(errs...)
	}
	if delivered == 0 {
		f.logger.Debug("No delivery address for patient", zap.String("patient_id", patientID))
	}
	return nil
}

// FormatText renders a notification as a single chat message
func FormatText(n Notification) string {
	var sb strings.Builder
	sb.WriteString("💊 ")
	sb.WriteString(n.Title)
	if n.Body != "" {
		sb.WriteString("\n")
		sb.WriteString(n.Body)
	}
	return sb.String()
}
