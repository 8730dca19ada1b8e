// Package handlers provides HTTP handler implementations for the public API.
// This file defines the Handlers aggregate and its constructor, which bundles
// the application services the endpoints delegate to.
package handlers

import (
	"github.com/pesaflow/go-mpesa-backend/internal/services"
)

// Handlers bundles the application services behind the HTTP endpoints.
type Handlers struct {
	ingestSvc *services.IngestService
	fraudSvc  *services.FraudService
	reviewSvc *services.ReviewService

	// fraudWindowHours is the default scan window when the trigger carries
	// no override.
	fraudWindowHours int
}

// New constructs the handler set.
func New(ingestSvc *services.IngestService, fraudSvc *services.FraudService, reviewSvc *services.ReviewService, fraudWindowHours int) *Handlers {
	if fraudWindowHours < 1 {
		fraudWindowHours = 24
	}
	return &Handlers{
		ingestSvc:        ingestSvc,
		fraudSvc:         fraudSvc,
		reviewSvc:        reviewSvc,
		fraudWindowHours: fraudWindowHours,
	}
}
