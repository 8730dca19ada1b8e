package classify

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/pesaflow/go-mpesa-backend/internal/domain"
	"github.com/pesaflow/go-mpesa-backend/internal/repo"
)

var (
	// classifyAttempts counts classification attempts by outcome
	// ("ok", "fallback").
	classifyAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "classification_attempts_total",
			Help: "Total classification attempts by outcome.",
		},
		[]string{"outcome"},
	)

	// classifyLatency records provider round-trip time in seconds.
	classifyLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "classification_duration_seconds",
			Help:    "Duration of classification provider calls in seconds.",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(classifyAttempts, classifyLatency)
}

// Service wraps a provider-backed Classifier with the guarantees the
// ingestion pipeline relies on: a bounded per-call timeout, the fixed
// fallback on any failure, and an audit row per attempt.
//
// Classify never returns an error; a pipeline record must not fail solely
// because the provider is down.
type Service struct {
	// DB is used for audit rows only. When nil, attempts are logged but
	// not persisted (useful in tests).
	DB *gorm.DB
	// Provider is the external classifier. When nil every call falls back.
	Provider Classifier
	// Timeout bounds one provider call so a slow provider cannot stall a
	// whole batch. Zero means no additional bound beyond the transport's.
	Timeout time.Duration
}

// Classify interprets rawMessage, falling back to the deterministic default
// on any provider error, timeout, or malformed response. The returned bool
// reports whether the provider answered (false means fallback was used).
func (s *Service) Classify(ctx context.Context, clientTxID, rawMessage string) (Result, bool) {
	tr := otel.Tracer("classify/Service")
	ctx, span := tr.Start(ctx, "Classify",
		trace.WithAttributes(attribute.String("client_tx_id", clientTxID)),
	)
	defer span.End()

	if s.Provider == nil {
		s.audit(ctx, clientTxID, Fallback(), 0, errNoProvider)
		return Fallback(), false
	}

	if s.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}

	start := time.Now()
	res, err := s.Provider.Classify(ctx, rawMessage)
	elapsed := time.Since(start)
	classifyLatency.Observe(elapsed.Seconds())

	if err != nil {
		classifyAttempts.WithLabelValues("fallback").Inc()
		log.Warn().
			Err(err).
			Str("client_tx_id", clientTxID).
			Dur("elapsed", elapsed).
			Msg("classification failed; using fallback")
		s.audit(ctx, clientTxID, Fallback(), elapsed, err)
		return Fallback(), false
	}

	res = normalize(res)
	classifyAttempts.WithLabelValues("ok").Inc()
	s.audit(ctx, clientTxID, res, elapsed, nil)
	return res, true
}

// DetectAnomalies proxies the provider's batch pass with the same timeout
// bound. Unlike Classify there is no fallback: a failed anomaly pass simply
// contributes nothing to the scan.
func (s *Service) DetectAnomalies(ctx context.Context, batch []TransactionDigest) ([]Anomaly, error) {
	if s.Provider == nil || len(batch) == 0 {
		return nil, nil
	}
	if s.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}
	return s.Provider.DetectAnomalies(ctx, batch)
}

// audit persists one attempt for offline quality monitoring. Best effort:
// an audit failure is logged, never propagated.
func (s *Service) audit(ctx context.Context, clientTxID string, res Result, elapsed time.Duration, callErr error) {
	if s.DB == nil {
		return
	}
	errText := ""
	if callErr != nil {
		errText = callErr.Error()
	}
	rec := &domain.ClassificationLog{
		ClientTxID: clientTxID,
		Model:      res.Model,
		PromptID:   res.PromptID,
		ElapsedMs:  elapsed.Milliseconds(),
		Success:    callErr == nil,
		Error:      errText,
	}
	if err := repo.CreateClassificationLog(ctx, s.DB, rec); err != nil {
		log.Error().Err(err).Str("client_tx_id", clientTxID).Msg("classification audit write failed")
	}
}

// normalize clamps and tidies a provider verdict so downstream routing sees
// consistent values.
func normalize(res Result) Result {
	if res.Confidence < 0 {
		res.Confidence = 0
	}
	if res.Confidence > 1 {
		res.Confidence = 1
	}
	if res.Tags == nil {
		res.Tags = []string{}
	}
	if res.Flags == nil {
		res.Flags = []string{}
	}
	res.TransactionType = strings.TrimSpace(res.TransactionType)
	if res.PromptID == "" {
		res.PromptID = PromptID
	}
	return res
}

// errNoProvider marks audit rows written when no provider is configured.
var errNoProvider = errors.New("no classification provider configured")
