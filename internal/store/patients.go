package store

import (
	"context"
	"time"

	apperrors "github.com/gmsas95/pillpal/internal/errors"
	"gorm.io/gorm/clause"
)

// SavePatientTimezone upserts the timezone recorded for patientID
func (s *Store) SavePatientTimezone(ctx context.Context, patientID, tz string) error {
	profile := PatientProfile{ID: patientID, Timezone: tz, UpdatedAt: time.Now()}
	err := s.conn(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"timezone", "updated_at"}),
	}).Create(&profile).Error
	if err != nil {
		return apperrors.Backend("saving patient timezone", err)
	}
	return nil
}

// PatientTimezones maps patient ids to their recorded timezone names
func (s *Store) PatientTimezones(ctx context.Context) (map[string]string, error) {
	var profiles []PatientProfile
	if err := s.conn(ctx).Find(&profiles).Error; err != nil {
		return nil, apperrors.Backend("listing patient timezones", err)
	}
	out := make(map[string]string, len(profiles))
	for _, p := range profiles {
		if p.Timezone != "" {
			out[p.ID] = p.Timezone
		}
	}
	return out, nil
}
