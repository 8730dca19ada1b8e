// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the
// MobileClient model (device registry reads and sync bookkeeping).
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/pesaflow/go-mpesa-backend/internal/domain"
)

// GetClientByToken resolves a device credential to its registered client,
// or ErrNotFound. It does not filter on is_active; the caller distinguishes
// "unknown" from "deactivated".
func GetClientByToken(ctx context.Context, db *gorm.DB, token string) (*domain.MobileClient, error) {
	var c domain.MobileClient
	if err := db.WithContext(ctx).Where("token = ?", token).First(&c).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

// GetClient fetches a client by ID, or ErrNotFound.
func GetClient(ctx context.Context, db *gorm.DB, id string) (*domain.MobileClient, error) {
	var c domain.MobileClient
	if err := db.WithContext(ctx).Where("id = ?", id).First(&c).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

// CreateClient registers a device. Registration proper lives outside the
// core; this exists for bootstrap seeding and tests.
func CreateClient(ctx context.Context, db *gorm.DB, deviceID, token string) (*domain.MobileClient, error) {
	c := &domain.MobileClient{
		ID:       uuid.NewString(),
		DeviceID: deviceID,
		Token:    token,
		IsActive: true,
	}
	if err := db.WithContext(ctx).Create(c).Error; err != nil {
		return nil, err
	}
	return c, nil
}

// TouchLastSync records a successful processing pass for the client.
func TouchLastSync(ctx context.Context, db *gorm.DB, id string, at time.Time) error {
	return db.WithContext(ctx).
		Model(&domain.MobileClient{}).
		Where("id = ?", id).
		Update("last_sync_at", at).Error
}
