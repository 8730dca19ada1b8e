// Package services – ReviewService
//
// This file implements the review-resolution state machine:
// open → resolved(accepted) or open → resolved(rejected). A resolved item is
// terminal. Resolution also transitions the owning transaction's status
// (cleaned on accept, rejected on reject) and applies any reviewer-supplied
// field corrections, all in one database transaction.
package services

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/pesaflow/go-mpesa-backend/internal/domain"
	"github.com/pesaflow/go-mpesa-backend/internal/repo"
)

// Review resolutions.
const (
	ResolutionAccepted = "accepted"
	ResolutionRejected = "rejected"
)

// ReviewService implements the use-cases around the manual review queue.
type ReviewService struct {
	// DB is the database handle used for all review operations.
	DB *gorm.DB
}

// Resolve closes a review item with the given resolution and returns the
// updated item and its owning transaction.
//
// Semantics:
//   - resolution must be "accepted" or "rejected"; otherwise
//     ErrInvalidResolution.
//   - A missing item yields ErrReviewNotFound; a resolved one
//     ErrAlreadyResolved (the state machine has no other transitions).
//   - "accepted" sets the owning transaction's status to cleaned;
//     "rejected" sets it to rejected.
//   - updates, when present, is a whitelisted set of transaction field
//     corrections applied in the same transaction.
func (s *ReviewService) Resolve(ctx context.Context, reviewID, resolution, notes string, updates map[string]any) (*domain.ReviewQueueItem, *domain.Transaction, error) {
	tr := otel.Tracer("services/ReviewService")
	ctx, span := tr.Start(ctx, "Resolve",
		trace.WithAttributes(
			attribute.String("review.id", reviewID),
			attribute.String("resolution", resolution),
		),
	)
	defer span.End()

	if resolution != ResolutionAccepted && resolution != ResolutionRejected {
		return nil, nil, ErrInvalidResolution
	}

	var (
		item *domain.ReviewQueueItem
		txn  *domain.Transaction
	)
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		item, err = repo.GetReviewItem(ctx, tx, reviewID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrReviewNotFound
			}
			return err
		}
		if !item.Open() {
			return ErrAlreadyResolved
		}

		now := time.Now().UTC()
		if err := repo.ResolveReviewItem(ctx, tx, reviewID, resolution, notes, now); err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				// Lost the race to another resolver between read and update.
				return ErrAlreadyResolved
			}
			return err
		}
		item.ResolvedAt = &now
		item.Resolution = resolution
		if notes != "" {
			item.Notes = notes
		}

		status := domain.StatusCleaned
		if resolution == ResolutionRejected {
			status = domain.StatusRejected
		}
		if err := repo.UpdateTransactionStatus(ctx, tx, item.MpesaID, status); err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrTransactionNotFound
			}
			return err
		}
		if len(updates) > 0 {
			if err := repo.UpdateTransactionFields(ctx, tx, item.MpesaID, updates); err != nil {
				return err
			}
		}

		txn, err = repo.GetTransaction(ctx, tx, item.MpesaID)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return item, txn, nil
}

// ListOpenPage returns a page of unresolved items, most urgent first, with
// the total open count for pagination.
func (s *ReviewService) ListOpenPage(ctx context.Context, page, pageSize int) ([]domain.ReviewQueueItem, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	total, err := repo.CountOpenReviews(ctx, s.DB)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.ReviewQueueItem{}, 0, nil
	}

	items, err := repo.ListOpenReviewsPage(ctx, s.DB, offset, pageSize)
	return items, total, err
}
