// Package services defines the business logic for transaction ingestion,
// fraud scanning, and review resolution. This file centralizes common
// service-level error values so they can be consistently returned by service
// methods and checked by callers.
//
// These errors are intended for internal use by the service layer;
// translation into user-facing messages or HTTP status codes is performed at
// the handler layer.
package services

import "errors"

var (
	// ErrDeviceNotFound indicates the presented device token does not
	// resolve to a registered mobile client.
	ErrDeviceNotFound = errors.New("device not found")

	// ErrDeviceInactive indicates the device is registered but has been
	// deactivated; its uploads are rejected.
	ErrDeviceInactive = errors.New("device is inactive")

	// ErrValidation wraps per-record input problems (missing required
	// fields). Batch processing records it per entry; single-record mode
	// rejects the whole request.
	ErrValidation = errors.New("invalid record")

	// ErrBatchTooLarge is returned when a batch exceeds the configured
	// record cap.
	ErrBatchTooLarge = errors.New("batch too large")

	// ErrReviewNotFound indicates the requested review-queue item does not
	// exist.
	ErrReviewNotFound = errors.New("review item not found")

	// ErrAlreadyResolved indicates the review-queue item is terminal; a
	// resolved item admits no further transitions.
	ErrAlreadyResolved = errors.New("review item already resolved")

	// ErrInvalidResolution is returned when a resolution is neither
	// "accepted" nor "rejected".
	ErrInvalidResolution = errors.New("resolution must be accepted or rejected")

	// ErrTransactionNotFound indicates the requested transaction does not
	// exist.
	ErrTransactionNotFound = errors.New("transaction not found")
)
