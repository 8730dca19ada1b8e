// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file persists classification audit rows.
package repo

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/pesaflow/go-mpesa-backend/internal/domain"
)

// CreateClassificationLog inserts one audit row. The ID is assigned here
// when blank.
func CreateClassificationLog(ctx context.Context, db *gorm.DB, rec *domain.ClassificationLog) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	return db.WithContext(ctx).Create(rec).Error
}

// ListClassificationLogs returns the most recent audit rows, newest first,
// capped at limit. Exposed for offline quality monitoring tooling.
func ListClassificationLogs(ctx context.Context, db *gorm.DB, limit int) ([]domain.ClassificationLog, error) {
	var out []domain.ClassificationLog
	err := db.WithContext(ctx).
		Order("created_at desc").
		Limit(limit).
		Find(&out).Error
	return out, err
}
