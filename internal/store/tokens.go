package store

import (
	"context"
	"strings"

	apperrors "github.com/gmsas95/pillpal/internal/errors"
	"gorm.io/gorm/clause"
)

// Delivery channels a push token can address
const (
	ChannelTelegram  = "telegram"
	ChannelDiscord   = "discord"
	ChannelWebSocket = "websocket"
)

// ValidChannel reports whether name is a known delivery channel
func ValidChannel(name string) bool {
	switch name {
	case ChannelTelegram, ChannelDiscord, ChannelWebSocket:
		return true
	}
	return false
}

// RegisterPushToken stores a delivery address; registering the same
// address twice is a no-op
func (s *Store) RegisterPushToken(ctx context.Context, tok *PushToken) error {
	tok.Channel = strings.ToLower(strings.TrimSpace(tok.Channel))
	tok.Token = strings.TrimSpace(tok.Token)
	if !ValidChannel(tok.Channel) {
		return apperrors.BadRequest("unknown channel %q", tok.Channel)
	}
	if tok.Token == "" {
		return apperrors.BadRequest("token is required")
	}

	err := s.conn(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(tok).Error
	if err != nil {
		return apperrors.Backend("registering push token", err)
	}
	return nil
}

// ListPushTokens returns all addresses of a patient
func (s *Store) ListPushTokens(ctx context.Context, patientID string) ([]PushToken, error) {
	var tokens []PushToken
	err := s.conn(ctx).Where("patient_id = ?", patientID).Order("channel, created_at").Find(&tokens).Error
	if err != nil {
		return nil, apperrors.Backend("listing push tokens", err)
	}
	return tokens, nil
}

// DeletePushToken removes one address of a patient
func (s *Store) DeletePushToken(ctx context.Context, patientID, id string) error {
	res := s.conn(ctx).Where("id = ? AND patient_id = ?", id, patientID).Delete(&PushToken{})
	if res.Error != nil {
		return apperrors.Backend("deleting push token", res.Error)
	}
	if res.RowsAffected == 0 {
		return apperrors.NotFound("push token")
	}
	return nil
}
