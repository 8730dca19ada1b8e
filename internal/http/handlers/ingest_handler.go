// Transaction ingestion HTTP handlers.
//
// This file exposes REST endpoints for the ingestion gateway:
//   - POST /transactions        (single-record ingest)
//   - POST /transactions/batch  (batch ingest with per-record isolation)
//   - GET  /transactions        (paginated listing for the dashboard)
//
// Handlers are transport-thin:
//   - bind & validate JSON payloads
//   - read the authenticated client stashed by the DeviceAuth middleware
//   - delegate to IngestService and map sentinel errors to HTTP results
package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/pesaflow/go-mpesa-backend/internal/domain"
	"github.com/pesaflow/go-mpesa-backend/internal/http/middleware"
	"github.com/pesaflow/go-mpesa-backend/internal/services"
	"github.com/pesaflow/go-mpesa-backend/internal/utils"
)

//
// DTOs
//

// IngestRecordRequest is the JSON payload for one transaction record.
type IngestRecordRequest struct {
	// ClientTxID is the device-assigned idempotency key.
	ClientTxID string `json:"client_tx_id" binding:"required" example:"a3f1c9d2-0b1e-4b7f-9c3d-2f6a8e4b5c7d"`
	// RawMessage is the verbatim SMS notification text.
	RawMessage string `json:"raw_message" binding:"required" example:"QGH7X1KPLM Confirmed. Ksh1,200.00 sent to JANE DOE 0722000000 on 12/8/25 at 2:14 PM."`
	// TransactionTimestamp is when the event occurred on the device.
	TransactionTimestamp time.Time `json:"transaction_timestamp"`

	TransactionCode *string  `json:"transaction_code,omitempty" example:"QGH7X1KPLM"`
	Amount          *float64 `json:"amount,omitempty" example:"1200"`
	Balance         *float64 `json:"balance,omitempty" example:"8800.50"`
	Sender          string   `json:"sender,omitempty"`
	Recipient       string   `json:"recipient,omitempty"`
	TransactionType string   `json:"transaction_type,omitempty" example:"SendMoney"`
}

// toRecord converts the DTO to the service input.
func (r IngestRecordRequest) toRecord() services.IngestRecord {
	return services.IngestRecord{
		ClientTxID:      r.ClientTxID,
		RawMessage:      r.RawMessage,
		TransactionAt:   r.TransactionTimestamp,
		TransactionCode: r.TransactionCode,
		Amount:          r.Amount,
		Balance:         r.Balance,
		Sender:          r.Sender,
		Recipient:       r.Recipient,
		TransactionType: r.TransactionType,
	}
}

// IngestResponse is the envelope for a single-record ingest.
type IngestResponse struct {
	// Transaction is the stored row (the canonical existing row on a
	// duplicate hit).
	Transaction *domain.Transaction `json:"transaction"`
	// Duplicate marks a dedup hit.
	Duplicate bool `json:"duplicate"`
	// DuplicateOf references the original transaction when Duplicate is set.
	DuplicateOf string `json:"duplicate_of,omitempty"`
}

// BatchIngestRequest is the JSON payload for a batch upload.
type BatchIngestRequest struct {
	Records []IngestRecordRequest `json:"records" binding:"required,min=1"`
}

// ListTransactionsResponse contains a page of transactions and pagination
// metadata.
type ListTransactionsResponse struct {
	Transactions []domain.Transaction `json:"transactions"`
	Pagination   Pagination           `json:"pagination"`
}

//
// Handlers
//

// IngestTransaction godoc
// @ID          ingestTransaction
// @Summary     Ingest one transaction record
// @Description Runs the full pipeline for one record: dedup check, AI classification
// @Description (with deterministic fallback), confidence routing, and atomic insert.
// @Description A dedup hit returns the existing transaction with a duplicate indicator.
// @Tags        Transactions
// @Accept      json
// @Produce     json
//
// @Param       X-Device-Token  header  string  true  "Device credential"
// @Param       body            body    handlers.IngestRecordRequest  true  "Transaction record"
//
// @Success     201  {object}  handlers.IngestResponse  "Inserted"
// @Success     200  {object}  handlers.IngestResponse  "Duplicate of an existing transaction"
// @Failure     400  {object}  handlers.ErrorResponse   "Bad request"
// @Failure     401  {object}  handlers.ErrorResponse   "Unknown or inactive device"
// @Failure     500  {object}  handlers.ErrorResponse   "Internal error"
// @Router      /transactions [post]
func (h *Handlers) IngestTransaction(c *gin.Context) {
	ctx := c.Request.Context()

	client, okClient := middleware.ClientFrom(c)
	if !okClient {
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "device token required")
		return
	}

	var req IngestRecordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "client_tx_id and raw_message are required")
		return
	}

	res, err := h.ingestSvc.Ingest(ctx, client, req.toRecord())
	if err != nil {
		switch {
		case errors.Is(err, services.ErrValidation):
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
		default:
			fail(c, http.StatusInternalServerError, ErrCodeIngestFailed, err.Error())
		}
		return
	}

	if res.Duplicate {
		ok(c, http.StatusOK, IngestResponse{
			Transaction: res.Transaction,
			Duplicate:   true,
			DuplicateOf: res.Transaction.ID,
		})
		return
	}
	ok(c, http.StatusCreated, IngestResponse{Transaction: res.Transaction})
}

// IngestBatch godoc
// @ID          ingestBatch
// @Summary     Ingest a batch of transaction records
// @Description Processes records sequentially with per-record error isolation:
// @Description one failing record never blocks the rest. Always returns the
// @Description aggregate report, even when some records failed.
// @Tags        Transactions
// @Accept      json
// @Produce     json
//
// @Param       X-Device-Token  header  string  true  "Device credential"
// @Param       body            body    handlers.BatchIngestRequest  true  "Batch payload"
//
// @Success     200  {object}  services.BatchOutcome     "Aggregate report"
// @Failure     400  {object}  handlers.ErrorResponse    "Bad request"
// @Failure     401  {object}  handlers.ErrorResponse    "Unknown or inactive device"
// @Failure     500  {object}  handlers.ErrorResponse    "Internal error"
// @Router      /transactions/batch [post]
func (h *Handlers) IngestBatch(c *gin.Context) {
	ctx := c.Request.Context()

	client, okClient := middleware.ClientFrom(c)
	if !okClient {
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "device token required")
		return
	}

	var req BatchIngestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "records array is required")
		return
	}

	records := make([]services.IngestRecord, 0, len(req.Records))
	for _, r := range req.Records {
		records = append(records, r.toRecord())
	}

	outcome, err := h.ingestSvc.IngestBatch(ctx, client, records)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrBatchTooLarge):
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
		default:
			fail(c, http.StatusInternalServerError, ErrCodeIngestFailed, err.Error())
		}
		return
	}
	ok(c, http.StatusOK, outcome)
}

// ListTransactions godoc
// @ID          listTransactions
// @Summary     List stored transactions
// @Description Returns a paginated list of transactions, newest event first,
// @Description optionally filtered by status.
// @Tags        Transactions
// @Produce     json
//
// @Param       status     query  string  false "Status filter"  Enums(pending_upload, uploaded, pending_review, cleaned, duplicate, rejected)
// @Param       page       query  int     false "Page number"    minimum(1) default(1)
// @Param       page_size  query  int     false "Items per page" minimum(1) maximum(100) default(20)
//
// @Success     200  {object} handlers.ListTransactionsResponse
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /transactions [get]
func (h *Handlers) ListTransactions(c *gin.Context) {
	ctx := c.Request.Context()
	page, pageSize := clampPagination(c)
	status := c.Query("status")

	items, total, err := h.ingestSvc.ListTransactionsPage(ctx, status, page, pageSize)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}

	ok(c, http.StatusOK, ListTransactionsResponse{
		Transactions: items,
		Pagination:   paginate(page, pageSize, total),
	})
}

//
// Helpers
//

// clampPagination parses page/page_size from query parameters, applies sane
// defaults and caps, and returns the validated (page, pageSize).
func clampPagination(c *gin.Context) (page, pageSize int) {
	const (
		defaultPage     = 1
		defaultPageSize = 20
		maxPageSize     = 100
	)
	page = utils.AtoiDefault(c.Query("page"), defaultPage)
	if page < 1 {
		page = 1
	}
	pageSize = utils.AtoiDefault(c.Query("page_size"), defaultPageSize)
	if pageSize < 1 {
		pageSize = 1
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return
}

// paginate builds the standard page metadata.
func paginate(page, pageSize int, total int64) Pagination {
	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))
	return Pagination{
		Page:       page,
		PageSize:   pageSize,
		Total:      total,
		TotalPages: totalPages,
		HasNext:    page < totalPages,
	}
}
