package store

import (
	"context"
	"errors"
	"time"

	apperrors "github.com/gmsas95/pillpal/internal/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GetMedicationInteraction returns a cached drug-drug result or nil
func (s *Store) GetMedicationInteraction(ctx context.Context, pairKey string) (*MedicationInteraction, error) {
	var row MedicationInteraction
	err := s.conn(ctx).First(&row, "pair_key = ?", pairKey).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Backend("loading interaction", err)
	}
	return &row, nil
}

// SaveMedicationInteraction upserts a drug-drug result
func (s *Store) SaveMedicationInteraction(ctx context.Context, row *MedicationInteraction) error {
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now()
	}
	err := s.conn(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "pair_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"result", "created_at"}),
	}).Create(row).Error
	if err != nil {
		return apperrors.Backend("saving interaction", err)
	}
	return nil
}

// GetFoodInteraction returns a cached drug-food result or nil
func (s *Store) GetFoodInteraction(ctx context.Context, pairKey string) (*FoodInteraction, error) {
	var row FoodInteraction
	err := s.conn(ctx).First(&row, "pair_key = ?", pairKey).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Backend("loading food interaction", err)
	}
	return &row, nil
}

// SaveFoodInteraction upserts a drug-food result
func (s *Store) SaveFoodInteraction(ctx context.Context, row *FoodInteraction) error {
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now()
	}
	err := s.conn(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "pair_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"result", "created_at"}),
	}).Create(row).Error
	if err != nil {
		return apperrors.Backend("saving food interaction", err)
	}
	return nil
}
