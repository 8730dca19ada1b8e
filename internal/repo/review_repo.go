// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the
// ReviewQueueItem model.
//
// Open-item uniqueness: SQLite (through GORM migrations) cannot express a
// partial unique index over (mpesa_id, reason) WHERE resolved_at IS NULL, so
// CreateReviewItemIfAbsent performs the existence check and the insert in
// one call; callers run it inside a transaction to keep the pair exact under
// concurrent scans.
package repo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/pesaflow/go-mpesa-backend/internal/domain"
)

// FirstOpenReview returns the open item for (mpesaID, reason), or ErrNotFound.
func FirstOpenReview(ctx context.Context, db *gorm.DB, mpesaID, reason string) (*domain.ReviewQueueItem, error) {
	var item domain.ReviewQueueItem
	err := db.WithContext(ctx).
		Where("mpesa_id = ? AND reason = ? AND resolved_at IS NULL", mpesaID, reason).
		First(&item).Error
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// CreateReviewItem inserts a review-queue item unconditionally. The ID is
// assigned here when blank.
func CreateReviewItem(ctx context.Context, db *gorm.DB, item *domain.ReviewQueueItem) error {
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	if item.Priority == "" {
		item.Priority = domain.PriorityNormal
	}
	return db.WithContext(ctx).Create(item).Error
}

// CreateReviewItemIfAbsent inserts item unless an open item already exists
// for the same (mpesa_id, reason). It returns the surviving item and whether
// a new row was created.
func CreateReviewItemIfAbsent(ctx context.Context, db *gorm.DB, item *domain.ReviewQueueItem) (*domain.ReviewQueueItem, bool, error) {
	existing, err := FirstOpenReview(ctx, db, item.MpesaID, item.Reason)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, err
	}
	if err := CreateReviewItem(ctx, db, item); err != nil {
		return nil, false, err
	}
	return item, true, nil
}

// GetReviewItem fetches a review-queue item by ID, or ErrNotFound.
func GetReviewItem(ctx context.Context, db *gorm.DB, id string) (*domain.ReviewQueueItem, error) {
	var item domain.ReviewQueueItem
	if err := db.WithContext(ctx).Where("id = ?", id).First(&item).Error; err != nil {
		return nil, err
	}
	return &item, nil
}

// ResolveReviewItem marks an open item resolved. Returns ErrNotFound when
// the item does not exist or is already resolved, making resolution
// race-safe: only one caller can win the UPDATE.
func ResolveReviewItem(ctx context.Context, db *gorm.DB, id, resolution, notes string, at time.Time) error {
	updates := map[string]any{
		"resolved_at": at,
		"resolution":  resolution,
	}
	if notes != "" {
		updates["notes"] = notes
	}
	res := db.WithContext(ctx).
		Model(&domain.ReviewQueueItem{}).
		Where("id = ? AND resolved_at IS NULL", id).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// CountOpenReviews returns the number of unresolved review-queue items.
func CountOpenReviews(ctx context.Context, db *gorm.DB) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Model(&domain.ReviewQueueItem{}).
		Where("resolved_at IS NULL").
		Count(&total).Error
	return total, err
}

// ListOpenReviewsPage returns a page of unresolved items, most urgent first
// (critical > high > normal > low), then oldest first within a priority.
func ListOpenReviewsPage(ctx context.Context, db *gorm.DB, offset, limit int) ([]domain.ReviewQueueItem, error) {
	var out []domain.ReviewQueueItem
	err := db.WithContext(ctx).
		Where("resolved_at IS NULL").
		Order("CASE priority WHEN 'critical' THEN 0 WHEN 'high' THEN 1 WHEN 'normal' THEN 2 ELSE 3 END").
		Order("created_at asc").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}
