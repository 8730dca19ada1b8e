package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_RouteTemplates_StatusLabels_AndPathFallback(t *testing.T) {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.Use(Metrics())

	// Parameterized route: the path label must be the template, never the
	// concrete transaction ID, or the label space explodes per row.
	r.GET("/transactions/:id", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"id": c.Param("id"), "status": "cleaned"})
	})

	// Status-only response keeps writer size at -1 so the size histogram
	// observation is skipped.
	r.POST("/reviews/:id/resolve", func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	// Baselines first; the registry is process-global and other tests feed it.
	baseTxn := testutil.ToFloat64(httpReqs.WithLabelValues("GET", "/transactions/:id", "200"))
	base404 := testutil.ToFloat64(httpReqs.WithLabelValues("GET", "/fraud/nope", "404"))

	// Two different IDs must land on the same template label.
	for _, id := range []string{"txn-a1", "txn-b2"} {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/transactions/"+id, nil)
		r.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("GET /transactions/%s -> %d", id, w.Code)
		}
	}

	// Unmatched route: no template exists, so the raw URL path is the label.
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/fraud/nope", nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("GET /fraud/nope -> %d", w.Code)
	}

	// Bodyless resolve exercises the size<0 skip branch.
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/reviews/rvw-1/resolve", nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusNoContent {
		t.Fatalf("POST resolve -> %d", w.Code)
	}

	gotTxn := testutil.ToFloat64(httpReqs.WithLabelValues("GET", "/transactions/:id", "200"))
	if gotTxn != baseTxn+2 {
		t.Fatalf("template counter = %v; want %v (both IDs share one label)", gotTxn, baseTxn+2)
	}

	got404 := testutil.ToFloat64(httpReqs.WithLabelValues("GET", "/fraud/nope", "404"))
	if got404 != base404+1 {
		t.Fatalf("404 fallback counter = %v; want %v", got404, base404+1)
	}

	// The gauge drains once handlers return.
	if inFlight := testutil.ToFloat64(httpInflight); inFlight != 0 {
		t.Fatalf("httpInflight = %v; want 0", inFlight)
	}
}
