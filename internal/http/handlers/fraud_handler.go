package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/pesaflow/go-mpesa-backend/internal/utils"
)

// ScanResponse summarizes one fraud scan run.
type ScanResponse struct {
	// WindowStart is the inclusive lower bound of the scanned window.
	WindowStart time.Time `json:"window_start"`
	// Anomalies lists every transaction the scan flagged, deduplicated
	// across the rule and AI passes.
	Anomalies []AnomalyView `json:"anomalies"`
	Count     int           `json:"count"`
}

// AnomalyView is the wire shape of one flagged transaction.
type AnomalyView struct {
	TransactionID string `json:"transaction_id"`
	Severity      string `json:"severity"`
	Explanation   string `json:"explanation"`
}

// ScanFraud godoc
// @ID          scanFraud
// @Summary     Run a fraud scan over recent transactions
// @Description Applies the deterministic rule pass (high amount, rapid bursts,
// @Description deposit-then-withdrawal, unusual hours) and, when an AI provider
// @Description is configured, an AI anomaly pass over the scan window. Flagged
// @Description transactions gain open review items; rescans are idempotent.
// @Tags        Fraud
// @Produce     json
//
// @Param       hours  query  int  false  "Window size in hours looking back from now"  minimum(1) default(24)
//
// @Success     200  {object}  handlers.ScanResponse
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /fraud/scan [post]
func (h *Handlers) ScanFraud(c *gin.Context) {
	ctx := c.Request.Context()

	hours := utils.AtoiDefault(c.Query("hours"), h.fraudWindowHours)
	if hours < 1 {
		hours = h.fraudWindowHours
	}
	windowStart := time.Now().Add(-time.Duration(hours) * time.Hour)

	anomalies, err := h.fraudSvc.Scan(ctx, windowStart)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeScanFailed, err.Error())
		return
	}

	views := make([]AnomalyView, 0, len(anomalies))
	for _, a := range anomalies {
		views = append(views, AnomalyView{
			TransactionID: a.TransactionID,
			Severity:      a.Severity,
			Explanation:   a.Explanation,
		})
	}

	ok(c, http.StatusOK, ScanResponse{
		WindowStart: windowStart,
		Anomalies:   views,
		Count:       len(views),
	})
}
