// Package services – FraudService
//
// This file implements the scheduled fraud-anomaly scan. It re-examines a
// bounded recent window of stored transactions with rule-based heuristics,
// runs an AI pass over the most recent slice, merges the two anomaly sets,
// and writes review-queue entries idempotently: repeated scans over
// overlapping windows never produce a second open fraud_suspicion item for
// the same transaction. The scanner only ever adds queue entries and flags;
// it never mutates dedup state or transaction status.
package services

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/pesaflow/go-mpesa-backend/internal/classify"
	"github.com/pesaflow/go-mpesa-backend/internal/domain"
	"github.com/pesaflow/go-mpesa-backend/internal/repo"
	"github.com/pesaflow/go-mpesa-backend/internal/triage"
)

// Rule thresholds.
const (
	// HighAmountThreshold flags any single movement above this amount.
	HighAmountThreshold = 100000.0
	// RapidTxnCount flags a client exceeding this many transactions within
	// RapidTxnWindow.
	RapidTxnCount  = 5
	RapidTxnWindow = time.Hour
	// QuickWithdrawalAmount flags a withdrawal above this amount occurring
	// within QuickWithdrawalDelay after a deposit from the same client.
	QuickWithdrawalAmount = 50000.0
	QuickWithdrawalDelay  = 30 * time.Minute
	// Local-time hours considered unusual for legitimate activity.
	UnusualHourFrom = 1
	UnusualHourTo   = 5
)

// Rule flag names.
const (
	FlagRapidTransactions      = "rapid_transactions"
	FlagQuickDepositWithdrawal = "quick_deposit_withdrawal"
	FlagUnusualTime            = "unusual_time"
)

var (
	// fraudAnomalies counts anomalies found per source ("rule", "ai").
	fraudAnomalies = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fraud_anomalies_total",
			Help: "Total fraud-scan anomalies by source.",
		},
		[]string{"source"},
	)
)

func init() {
	prometheus.MustRegister(fraudAnomalies)
}

// Anomaly is one flagged transaction in a scan report.
type Anomaly struct {
	TransactionID string `json:"transaction_id"`
	Severity      string `json:"severity"`
	Explanation   string `json:"explanation"`
}

// FraudService runs the batch anomaly scan.
type FraudService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Classifier supplies the AI anomaly pass; nil disables it.
	Classifier *classify.Service
	// MaxRows caps the window row count.
	MaxRows int
	// AIBatchSize bounds how many recent transactions the AI pass sees.
	AIBatchSize int
}

// NewFraudService constructs a FraudService with the default caps.
func NewFraudService(db *gorm.DB, cl *classify.Service) *FraudService {
	return &FraudService{DB: db, Classifier: cl, MaxRows: 1000, AIBatchSize: 50}
}

// Scan evaluates all transactions with event time >= windowStart (capped at
// MaxRows) against the rule predicates, merges the AI pass, and records each
// final anomaly: an open fraud_suspicion review item (created only if none
// exists) and a fraud_suspected flag on the transaction (appended only if
// absent).
func (s *FraudService) Scan(ctx context.Context, windowStart time.Time) ([]Anomaly, error) {
	tr := otel.Tracer("services/FraudService")
	ctx, span := tr.Start(ctx, "Scan",
		trace.WithAttributes(attribute.String("window_start", windowStart.Format(time.RFC3339))),
	)
	defer span.End()

	txns, err := repo.ListTransactionsSince(ctx, s.DB, windowStart, s.MaxRows)
	if err != nil {
		return nil, fmt.Errorf("load scan window: %w", err)
	}
	if len(txns) == 0 {
		return []Anomaly{}, nil
	}

	flagged, err := s.applyRules(ctx, txns)
	if err != nil {
		return nil, err
	}

	anomalies := make([]Anomaly, 0, len(flagged))
	seen := make(map[string]struct{}, len(flagged))
	for _, txn := range txns {
		hit, ok := flagged[txn.ID]
		if !ok {
			continue
		}
		fraudAnomalies.WithLabelValues("rule").Inc()
		anomalies = append(anomalies, Anomaly{
			TransactionID: txn.ID,
			Severity:      hit.severity,
			Explanation:   "Triggered rules: " + strings.Join(hit.flags, ", "),
		})
		seen[txn.ID] = struct{}{}
	}

	// AI pass over the most recent slice; merged second so the rule pass
	// always wins on overlap.
	for _, a := range s.aiPass(ctx, txns, seen) {
		fraudAnomalies.WithLabelValues("ai").Inc()
		anomalies = append(anomalies, a)
		seen[a.TransactionID] = struct{}{}
	}

	for _, a := range anomalies {
		if err := s.record(ctx, a); err != nil {
			log.Error().Err(err).Str("transaction_id", a.TransactionID).Msg("record anomaly failed")
		}
	}

	log.Info().
		Time("window_start", windowStart).
		Int("scanned", len(txns)).
		Int("flagged", len(anomalies)).
		Msg("fraud scan complete")
	return anomalies, nil
}

// ruleHit accumulates the flags one transaction triggered and the highest
// severity among them.
type ruleHit struct {
	flags    []string
	severity string
}

func (h *ruleHit) add(flag, severity string) {
	h.flags = append(h.flags, flag)
	if severityRank(severity) > severityRank(h.severity) {
		h.severity = severity
	}
}

// applyRules evaluates the four rule predicates over the window.
func (s *FraudService) applyRules(ctx context.Context, txns []domain.Transaction) (map[string]*ruleHit, error) {
	hits := make(map[string]*ruleHit)
	hit := func(id string) *ruleHit {
		h, ok := hits[id]
		if !ok {
			h = &ruleHit{severity: domain.PriorityNormal}
			hits[id] = h
		}
		return h
	}

	// Window transactions per client, ordered by event time, for the
	// rapid-transactions back-fill.
	byClient := make(map[string][]domain.Transaction)
	for _, t := range txns {
		byClient[t.ClientID] = append(byClient[t.ClientID], t)
	}
	for _, list := range byClient {
		sort.Slice(list, func(i, j int) bool { return list[i].TransactionAt.Before(list[j].TransactionAt) })
	}

	rapidMarked := make(map[string]struct{})

	for _, t := range txns {
		// High single amount.
		if t.Amount != nil && *t.Amount > HighAmountThreshold {
			hit(t.ID).add(triage.FlagHighAmount, domain.PriorityHigh)
		}

		// Rapid transactions: exact trailing count via the store, so rows
		// preceding the scan window still contribute. A burst marks every
		// window transaction inside the trailing hour, not just the one
		// that tipped the count.
		count, err := repo.CountClientTransactionsBetween(ctx, s.DB, t.ClientID,
			t.TransactionAt.Add(-RapidTxnWindow), t.TransactionAt)
		if err != nil {
			return nil, fmt.Errorf("rapid-transactions count: %w", err)
		}
		if count > RapidTxnCount {
			for _, peer := range byClient[t.ClientID] {
				if _, done := rapidMarked[peer.ID]; done {
					continue
				}
				if peer.TransactionAt.After(t.TransactionAt) {
					break
				}
				if !peer.TransactionAt.Before(t.TransactionAt.Add(-RapidTxnWindow)) {
					hit(peer.ID).add(FlagRapidTransactions, domain.PriorityHigh)
					rapidMarked[peer.ID] = struct{}{}
				}
			}
		}

		// Large withdrawal shortly after a deposit.
		if t.TransactionType == domain.TypeWithdrawal && t.Amount != nil && *t.Amount > QuickWithdrawalAmount {
			deposited, err := repo.HasDepositBetween(ctx, s.DB, t.ClientID,
				t.TransactionAt.Add(-QuickWithdrawalDelay), t.TransactionAt)
			if err != nil {
				return nil, fmt.Errorf("quick-withdrawal lookup: %w", err)
			}
			if deposited {
				hit(t.ID).add(FlagQuickDepositWithdrawal, domain.PriorityCritical)
			}
		}

		// Small-hours activity marks the transaction without raising its
		// severity on its own.
		hour := t.TransactionAt.Local().Hour()
		if hour >= UnusualHourFrom && hour <= UnusualHourTo {
			hit(t.ID).add(FlagUnusualTime, domain.PriorityNormal)
		}
	}

	return hits, nil
}

// aiPass sends the most recent AIBatchSize window transactions to the
// provider and returns its anomalies, skipping any transaction the rule pass
// already reported. Provider failures contribute nothing; the rule pass
// stands on its own.
func (s *FraudService) aiPass(ctx context.Context, txns []domain.Transaction, seen map[string]struct{}) []Anomaly {
	if s.Classifier == nil {
		return nil
	}

	start := 0
	if s.AIBatchSize > 0 && len(txns) > s.AIBatchSize {
		start = len(txns) - s.AIBatchSize
	}
	batch := make([]classify.TransactionDigest, 0, len(txns)-start)
	valid := make(map[string]struct{}, len(txns)-start)
	for _, t := range txns[start:] {
		amount := 0.0
		if t.Amount != nil {
			amount = *t.Amount
		}
		batch = append(batch, classify.TransactionDigest{
			ID:              t.ID,
			ClientID:        t.ClientID,
			TransactionType: t.TransactionType,
			Amount:          amount,
			Hour:            t.TransactionAt.Local().Hour(),
		})
		valid[t.ID] = struct{}{}
	}

	found, err := s.Classifier.DetectAnomalies(ctx, batch)
	if err != nil {
		log.Warn().Err(err).Msg("ai anomaly pass failed; rule results stand")
		return nil
	}

	out := make([]Anomaly, 0, len(found))
	for _, a := range found {
		if _, dup := seen[a.TransactionID]; dup {
			continue
		}
		if _, ok := valid[a.TransactionID]; !ok {
			// The model sometimes invents identifiers; drop them.
			continue
		}
		out = append(out, Anomaly{
			TransactionID: a.TransactionID,
			Severity:      normalizeSeverity(a.Severity),
			Explanation:   a.Explanation,
		})
	}
	return out
}

// record persists one anomaly: an open fraud_suspicion item (if absent) and
// the fraud_suspected flag (if absent), in one transaction.
func (s *FraudService) record(ctx context.Context, a Anomaly) error {
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		item := &domain.ReviewQueueItem{
			MpesaID:  a.TransactionID,
			Reason:   domain.ReasonFraudSuspicion,
			Priority: a.Severity,
			Notes:    a.Explanation,
		}
		if _, _, err := repo.CreateReviewItemIfAbsent(ctx, tx, item); err != nil {
			return err
		}
		_, err := repo.AppendTransactionFlag(ctx, tx, a.TransactionID, triage.FlagFraudSuspected)
		return err
	})
}

// severityRank orders severities for max() merging.
func severityRank(s string) int {
	switch s {
	case domain.PriorityCritical:
		return 3
	case domain.PriorityHigh:
		return 2
	case domain.PriorityNormal:
		return 1
	case domain.PriorityLow:
		return 0
	default:
		return -1
	}
}

// normalizeSeverity clamps provider-reported severities to the known enum.
func normalizeSeverity(s string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case domain.PriorityCritical:
		return domain.PriorityCritical
	case domain.PriorityHigh:
		return domain.PriorityHigh
	case domain.PriorityLow:
		return domain.PriorityLow
	default:
		return domain.PriorityNormal
	}
}
