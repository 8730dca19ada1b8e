// Package services – IngestService
//
// This file implements the ingestion gateway: the per-request orchestrator
// composing device authentication, duplicate detection, classification, and
// confidence routing into an atomic transaction-plus-queue insert. Batches
// are processed sequentially with per-record error isolation so one bad
// record never blocks the rest.
//
// Duplicate hardening: the gateway first runs the three-key read check, then
// inserts under the storage layer's unique indexes. A constraint violation
// on insert is treated as the authoritative duplicate signal and re-resolved
// to the canonical existing row, closing the check-then-insert race between
// concurrent identical submissions.
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gorm.io/gorm"

	"github.com/pesaflow/go-mpesa-backend/internal/classify"
	"github.com/pesaflow/go-mpesa-backend/internal/domain"
	"github.com/pesaflow/go-mpesa-backend/internal/repo"
	"github.com/pesaflow/go-mpesa-backend/internal/triage"
)

var (
	// ingestOutcomes counts processed records by outcome
	// ("inserted", "duplicate", "error").
	ingestOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "transactions_ingested_total",
			Help: "Total ingested transaction records by outcome.",
		},
		[]string{"outcome"},
	)
)

func init() {
	prometheus.MustRegister(ingestOutcomes)
}

// IngestService composes the core ingestion pipeline.
type IngestService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Classifier provides verdicts with fallback semantics.
	Classifier *classify.Service
	// MaxBatch caps the number of records accepted per batch request.
	MaxBatch int
}

// NewIngestService constructs an IngestService with a sane batch cap.
func NewIngestService(db *gorm.DB, cl *classify.Service) *IngestService {
	return &IngestService{DB: db, Classifier: cl, MaxBatch: 500}
}

// IngestRecord is the transport-agnostic input for one record.
type IngestRecord struct {
	ClientTxID      string
	RawMessage      string
	TransactionAt   time.Time
	TransactionCode *string
	Amount          *float64
	Balance         *float64
	Sender          string
	Recipient       string
	TransactionType string
}

// IngestResult is the outcome for one record.
type IngestResult struct {
	// Transaction is the stored row: the new insert, or the canonical
	// existing row when Duplicate is set.
	Transaction *domain.Transaction
	// Duplicate marks a dedup hit; no new row was created.
	Duplicate bool
}

// RecordError pairs a failed batch record with its error text.
type RecordError struct {
	ClientTxID string `json:"client_tx_id"`
	Error      string `json:"error"`
}

// BatchOutcome aggregates a batch run.
type BatchOutcome struct {
	Processed     int           `json:"processed"`
	Inserted      []string      `json:"inserted"`
	Duplicates    []string      `json:"duplicates"`
	PendingReview []string      `json:"pending_review"`
	Errors        []RecordError `json:"errors"`
}

// Authenticate resolves a device token to a known, active client.
func (s *IngestService) Authenticate(ctx context.Context, token string) (*domain.MobileClient, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrDeviceNotFound
	}
	client, err := repo.GetClientByToken(ctx, s.DB, token)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrDeviceNotFound
		}
		return nil, err
	}
	if !client.IsActive {
		return nil, ErrDeviceInactive
	}
	return client, nil
}

// Ingest processes one record for an authenticated client: dedup check,
// classification (with fallback), confidence routing, and an atomic insert
// of the transaction plus its queue entries. On success it bumps the
// client's last_sync_at.
func (s *IngestService) Ingest(ctx context.Context, client *domain.MobileClient, rec IngestRecord) (*IngestResult, error) {
	tr := otel.Tracer("services/IngestService")
	ctx, span := tr.Start(ctx, "Ingest",
		trace.WithAttributes(
			attribute.String("client.id", client.ID),
			attribute.String("client_tx_id", rec.ClientTxID),
		),
	)
	defer span.End()

	res, err := s.ingestOne(ctx, client, rec)
	if err != nil {
		ingestOutcomes.WithLabelValues("error").Inc()
		return nil, err
	}
	if res.Duplicate {
		ingestOutcomes.WithLabelValues("duplicate").Inc()
	} else {
		ingestOutcomes.WithLabelValues("inserted").Inc()
	}

	if err := repo.TouchLastSync(ctx, s.DB, client.ID, time.Now().UTC()); err != nil {
		log.Warn().Err(err).Str("client_id", client.ID).Msg("last_sync_at update failed")
	}
	return res, nil
}

// IngestBatch processes records sequentially with per-record error
// isolation. last_sync_at is bumped once at the end when at least one record
// was processed without error.
func (s *IngestService) IngestBatch(ctx context.Context, client *domain.MobileClient, records []IngestRecord) (*BatchOutcome, error) {
	tr := otel.Tracer("services/IngestService")
	ctx, span := tr.Start(ctx, "IngestBatch",
		trace.WithAttributes(
			attribute.String("client.id", client.ID),
			attribute.Int("records", len(records)),
		),
	)
	defer span.End()

	if s.MaxBatch > 0 && len(records) > s.MaxBatch {
		return nil, fmt.Errorf("%w: %d records (max %d)", ErrBatchTooLarge, len(records), s.MaxBatch)
	}

	out := &BatchOutcome{
		Inserted:      []string{},
		Duplicates:    []string{},
		PendingReview: []string{},
		Errors:        []RecordError{},
	}

	for _, rec := range records {
		res, err := s.ingestOne(ctx, client, rec)
		out.Processed++
		if err != nil {
			ingestOutcomes.WithLabelValues("error").Inc()
			log.Warn().
				Err(err).
				Str("client_id", client.ID).
				Str("client_tx_id", rec.ClientTxID).
				Msg("batch record failed")
			out.Errors = append(out.Errors, RecordError{ClientTxID: rec.ClientTxID, Error: err.Error()})
			continue
		}
		if res.Duplicate {
			ingestOutcomes.WithLabelValues("duplicate").Inc()
			out.Duplicates = append(out.Duplicates, rec.ClientTxID)
			continue
		}
		ingestOutcomes.WithLabelValues("inserted").Inc()
		out.Inserted = append(out.Inserted, res.Transaction.ID)
		if res.Transaction.Status == domain.StatusPendingReview {
			out.PendingReview = append(out.PendingReview, res.Transaction.ID)
		}
	}

	if len(out.Errors) < out.Processed {
		if err := repo.TouchLastSync(ctx, s.DB, client.ID, time.Now().UTC()); err != nil {
			log.Warn().Err(err).Str("client_id", client.ID).Msg("last_sync_at update failed")
		}
	}
	return out, nil
}

// ListTransactionsPage returns a page of stored transactions, newest event
// first, optionally filtered by status, with the matching total.
func (s *IngestService) ListTransactionsPage(ctx context.Context, status string, page, pageSize int) ([]domain.Transaction, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	total, err := repo.CountTransactions(ctx, s.DB, status)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.Transaction{}, 0, nil
	}

	items, err := repo.ListTransactionsPage(ctx, s.DB, status, offset, pageSize)
	return items, total, err
}

// ingestOne runs the pipeline for a single record.
func (s *IngestService) ingestOne(ctx context.Context, client *domain.MobileClient, rec IngestRecord) (*IngestResult, error) {
	rec = normalizeRecord(rec)
	if err := validateRecord(rec); err != nil {
		return nil, err
	}

	rawHash := repo.HashRawMessage(rec.RawMessage)

	// Read-side dedup check; cheap short-circuit for the common resend.
	if existing, err := repo.FindDuplicate(ctx, s.DB, client.ID, rec.ClientTxID, rawHash, rec.TransactionCode); err == nil {
		return &IngestResult{Transaction: existing, Duplicate: true}, nil
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	verdict, _ := s.Classifier.Classify(ctx, rec.ClientTxID, rec.RawMessage)

	// The provider's type wins unless it abstained.
	txType := rec.TransactionType
	if verdict.TransactionType != "" && verdict.TransactionType != domain.TypeUnknown {
		txType = verdict.TransactionType
	}
	if txType == "" {
		txType = domain.TypeUnknown
	}

	routed := triage.Route(verdict.Confidence, verdict.Flags)

	txn := &domain.Transaction{
		ClientID:        client.ID,
		ClientTxID:      rec.ClientTxID,
		TransactionCode: rec.TransactionCode,
		Amount:          rec.Amount,
		Balance:         rec.Balance,
		Sender:          rec.Sender,
		Recipient:       rec.Recipient,
		TransactionType: txType,
		RawMessage:      rec.RawMessage,
		RawHash:         rawHash,
		Status:          routed.Status,
		AIModel:         verdict.Model,
		AIPromptID:      verdict.PromptID,
		AIConfidence:    verdict.Confidence,
		AITags:          domain.EncodeList(verdict.Tags),
		AIFlags:         domain.EncodeList(verdict.Flags),
		AIExplanation:   verdict.Explanation,
		TransactionAt:   rec.TransactionAt,
	}

	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := repo.CreateTransaction(ctx, tx, txn); err != nil {
			return err
		}
		for _, entry := range routed.Entries {
			item := &domain.ReviewQueueItem{
				MpesaID:  txn.ID,
				Reason:   entry.Reason,
				Priority: entry.Priority,
				Notes:    entry.Notes,
			}
			if _, _, err := repo.CreateReviewItemIfAbsent(ctx, tx, item); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, repo.ErrDuplicate) {
			// Lost the insert race to a concurrent identical submission;
			// the constraint violation is the canonical duplicate signal.
			existing, ferr := repo.FindDuplicate(ctx, s.DB, client.ID, rec.ClientTxID, rawHash, rec.TransactionCode)
			if ferr != nil {
				return nil, ferr
			}
			return &IngestResult{Transaction: existing, Duplicate: true}, nil
		}
		return nil, err
	}

	return &IngestResult{Transaction: txn}, nil
}

// nameCaser normalizes counterparty names for display ("JOHN DOE" → "John Doe").
var nameCaser = cases.Title(language.English)

// normalizeRecord trims inputs, title-cases counterparty names, and defaults
// a missing event time to now.
func normalizeRecord(rec IngestRecord) IngestRecord {
	rec.ClientTxID = strings.TrimSpace(rec.ClientTxID)
	rec.RawMessage = strings.TrimSpace(rec.RawMessage)
	rec.TransactionType = strings.TrimSpace(rec.TransactionType)
	if rec.Sender != "" {
		rec.Sender = nameCaser.String(strings.ToLower(strings.TrimSpace(rec.Sender)))
	}
	if rec.Recipient != "" {
		rec.Recipient = nameCaser.String(strings.ToLower(strings.TrimSpace(rec.Recipient)))
	}
	if rec.TransactionCode != nil {
		code := strings.TrimSpace(*rec.TransactionCode)
		if code == "" {
			rec.TransactionCode = nil
		} else {
			rec.TransactionCode = &code
		}
	}
	if rec.TransactionAt.IsZero() {
		rec.TransactionAt = time.Now().UTC()
	}
	return rec
}

// validateRecord enforces the required per-record fields.
func validateRecord(rec IngestRecord) error {
	if rec.ClientTxID == "" {
		return fmt.Errorf("%w: client_tx_id is required", ErrValidation)
	}
	if rec.RawMessage == "" {
		return fmt.Errorf("%w: raw_message is required", ErrValidation)
	}
	if rec.Amount != nil && *rec.Amount < 0 {
		return fmt.Errorf("%w: amount must be >= 0", ErrValidation)
	}
	return nil
}
