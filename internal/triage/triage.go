// Package triage maps a classification verdict to a transaction status and
// the review-queue entries it warrants. The rules are pure: no storage, no
// I/O, fully deterministic, so the ingestion gateway can persist the outcome
// atomically with the transaction insert.
package triage

import "github.com/pesaflow/go-mpesa-backend/internal/domain"

// Confidence thresholds for the low-confidence lane.
const (
	// CleanThreshold is the minimum confidence for a transaction to skip
	// human review entirely.
	CleanThreshold = 0.85
	// HighPriorityThreshold marks verdicts uncertain enough to jump the
	// normal review queue.
	HighPriorityThreshold = 0.5
)

// Flags that route a transaction into the fraud lane regardless of
// confidence.
const (
	FlagHighAmount     = "high_amount"
	FlagFraudSuspected = "fraud_suspected"
)

// QueueEntry describes one review-queue item to be created alongside the
// transaction. MpesaID is filled in by the caller once the transaction ID is
// known.
type QueueEntry struct {
	Reason   string
	Priority string
	Notes    string
}

// Outcome is the routing decision for one classified transaction.
type Outcome struct {
	Status  string
	Entries []QueueEntry
}

// Route applies the two independent triage lanes to a verdict:
//
//   - Low-confidence lane: confidence below CleanThreshold marks the
//     transaction pending_review with a "low_confidence" entry, high
//     priority when confidence is below HighPriorityThreshold.
//   - Fraud lane: a "high_amount" or "fraud_suspected" flag always adds a
//     critical "fraud_suspicion" entry.
//
// Both lanes may fire for the same transaction, yielding two open items.
func Route(confidence float64, flags []string) Outcome {
	out := Outcome{Status: domain.StatusCleaned}

	if confidence < CleanThreshold {
		out.Status = domain.StatusPendingReview
		priority := domain.PriorityNormal
		if confidence < HighPriorityThreshold {
			priority = domain.PriorityHigh
		}
		out.Entries = append(out.Entries, QueueEntry{
			Reason:   domain.ReasonLowConfidence,
			Priority: priority,
		})
	}

	if hasFraudFlag(flags) {
		out.Entries = append(out.Entries, QueueEntry{
			Reason:   domain.ReasonFraudSuspicion,
			Priority: domain.PriorityCritical,
		})
	}

	return out
}

// hasFraudFlag reports whether any flag routes into the fraud lane.
func hasFraudFlag(flags []string) bool {
	for _, f := range flags {
		if f == FlagHighAmount || f == FlagFraudSuspected {
			return true
		}
	}
	return false
}
