// Package classify sends raw M-PESA notification text to an external
// language-model provider and parses its structured verdict (transaction
// type, confidence, tags, flags, explanation). Providers sit behind the
// Classifier interface so the ingestion pipeline can be tested without
// network access; the Service wrapper adds the bounded timeout, the
// deterministic fallback, and per-attempt audit logging.
package classify

import "context"

// PromptID identifies the fixed system prompt version. Bump when the prompt
// text changes so audit rows stay comparable.
const PromptID = "mpesa-classify-v1"

// Fallback values used whenever the provider fails. Processing must never
// fail solely because the provider is unavailable.
const (
	FallbackConfidence  = 0.5
	FallbackExplanation = "Fallback parsing"
	FallbackModel       = "fallback"
)

// Result is the structured interpretation of one raw message.
type Result struct {
	Model           string
	PromptID        string
	TransactionType string
	Confidence      float64
	Tags            []string
	Flags           []string
	Explanation     string
}

// TransactionDigest is the compact view of a stored transaction handed to
// the provider during a fraud-scan anomaly pass.
type TransactionDigest struct {
	ID              string  `json:"transaction_id"`
	ClientID        string  `json:"client_id"`
	TransactionType string  `json:"transaction_type"`
	Amount          float64 `json:"amount"`
	Hour            int     `json:"hour"`
}

// Anomaly is one suspicious transaction reported by the provider.
type Anomaly struct {
	TransactionID string `json:"transaction_id"`
	Severity      string `json:"severity"`
	Explanation   string `json:"explanation"`
}

// Classifier is the capability interface for an external classification
// provider.
type Classifier interface {
	// Classify interprets one raw notification message.
	Classify(ctx context.Context, rawMessage string) (Result, error)

	// DetectAnomalies reviews a bounded batch of recent transactions and
	// reports the ones it finds suspicious.
	DetectAnomalies(ctx context.Context, batch []TransactionDigest) ([]Anomaly, error)
}

// Fallback returns the fixed low-confidence result used when the provider
// errors, times out, or returns something unparseable.
func Fallback() Result {
	return Result{
		Model:       FallbackModel,
		PromptID:    PromptID,
		Confidence:  FallbackConfidence,
		Tags:        []string{},
		Flags:       []string{},
		Explanation: FallbackExplanation,
	}
}
