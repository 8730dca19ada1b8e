package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/pesaflow/go-mpesa-backend/internal/domain"
	"github.com/pesaflow/go-mpesa-backend/internal/services"
)

// ResolveReviewRequest is the JSON payload for a resolution decision.
type ResolveReviewRequest struct {
	// Resolution is the reviewer's verdict: accepted or rejected.
	Resolution string `json:"resolution" binding:"required" example:"accepted"`
	// Notes is the reviewer's optional free-form comment.
	Notes string `json:"notes,omitempty"`
	// Updates optionally corrects parsed fields on the transaction
	// (amount, balance, sender, recipient, transaction_type,
	// transaction_code). Unknown keys are ignored.
	Updates map[string]any `json:"updates,omitempty"`
}

// ResolveReviewResponse returns the resolved item and the updated transaction.
type ResolveReviewResponse struct {
	Review      *domain.ReviewQueueItem `json:"review"`
	Transaction *domain.Transaction     `json:"transaction"`
}

// ListReviewsResponse contains a page of open review items.
type ListReviewsResponse struct {
	Reviews    []domain.ReviewQueueItem `json:"reviews"`
	Pagination Pagination               `json:"pagination"`
}

// ResolveReview godoc
// @ID          resolveReview
// @Summary     Resolve an open review item
// @Description Applies a reviewer decision to an open item. Accepting marks the
// @Description underlying transaction cleaned; rejecting marks it rejected.
// @Description Optional field corrections are applied atomically with the
// @Description resolution. Resolved items are terminal.
// @Tags        Reviews
// @Accept      json
// @Produce     json
//
// @Param       id    path  string  true  "Review item ID"
// @Param       body  body  handlers.ResolveReviewRequest  true  "Resolution decision"
//
// @Success     200  {object}  handlers.ResolveReviewResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     404  {object}  handlers.ErrorResponse  "Review item not found"
// @Failure     409  {object}  handlers.ErrorResponse  "Item already resolved"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /reviews/{id}/resolve [post]
func (h *Handlers) ResolveReview(c *gin.Context) {
	ctx := c.Request.Context()

	reviewID := c.Param("id")
	if reviewID == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "review id is required")
		return
	}

	var req ResolveReviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "resolution is required")
		return
	}

	item, txn, err := h.reviewSvc.Resolve(ctx, reviewID, req.Resolution, req.Notes, req.Updates)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrReviewNotFound):
			fail(c, http.StatusNotFound, ErrCodeNotFound, "review item not found")
		case errors.Is(err, services.ErrAlreadyResolved):
			fail(c, http.StatusConflict, ErrCodeConflict, "review item already resolved")
		case errors.Is(err, services.ErrInvalidResolution), errors.Is(err, services.ErrValidation):
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
		default:
			fail(c, http.StatusInternalServerError, ErrCodeResolveFailed, err.Error())
		}
		return
	}

	ok(c, http.StatusOK, ResolveReviewResponse{Review: item, Transaction: txn})
}

// ListReviews godoc
// @ID          listReviews
// @Summary     List open review items
// @Description Returns open review items ordered by priority (critical first),
// @Description then oldest first within a priority.
// @Tags        Reviews
// @Produce     json
//
// @Param       page       query  int  false  "Page number"    minimum(1) default(1)
// @Param       page_size  query  int  false  "Items per page" minimum(1) maximum(100) default(20)
//
// @Success     200  {object}  handlers.ListReviewsResponse
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /reviews [get]
func (h *Handlers) ListReviews(c *gin.Context) {
	ctx := c.Request.Context()
	page, pageSize := clampPagination(c)

	items, total, err := h.reviewSvc.ListOpenPage(ctx, page, pageSize)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}

	ok(c, http.StatusOK, ListReviewsResponse{
		Reviews:    items,
		Pagination: paginate(page, pageSize, total),
	})
}
