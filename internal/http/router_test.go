package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/pesaflow/go-mpesa-backend/internal/config"
	"github.com/pesaflow/go-mpesa-backend/internal/domain"
	"github.com/pesaflow/go-mpesa-backend/internal/http/middleware"
	"github.com/pesaflow/go-mpesa-backend/internal/services"
)

// --- test DB helper (pure-Go sqlite, no CGO) ---
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:router_%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(
		&domain.MobileClient{},
		&domain.Transaction{},
		&domain.ReviewQueueItem{},
		&domain.ClassificationLog{},
	); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func seedClient(t *testing.T, db *gorm.DB, token string, active bool) *domain.MobileClient {
	t.Helper()
	mc := &domain.MobileClient{
		ID:       uuid.NewString(),
		DeviceID: "device-" + uuid.NewString(),
		Token:    token,
		IsActive: active,
	}
	if err := db.Create(mc).Error; err != nil {
		t.Fatalf("seed client: %v", err)
	}
	return mc
}

func baseCfg() config.Config {
	return config.Config{
		APIBasePath: "/api/v1",
		RateRPS:     100,
		RateBurst:   10,
		CORS:        config.CORSConfig{AllowedOrigins: nil}, // triggers AllowAllOrigins branch
		Security:    config.SecurityConfig{EnableHSTS: false, HSTSMaxAge: 0},
		OTEL:        config.OTELConfig{ServiceName: "test-svc"},
		Fraud:       config.FraudConfig{WindowHours: 24, MaxRows: 1000, AIBatchSize: 50},
		MaxBatch:    500,
	}
}

func TestRegisterRoutes_CORSAllowAll_Health_Metrics_Fallbacks(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	db := newTestDB(t)

	RegisterRoutes(r, db, nil, baseCfg())

	// /health works
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("GET /health = %d", w.Code)
	}
	// CORS (AllowAllOrigins) → header "*"
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("AllowAllOrigins expected '*', got %q", got)
	}

	// /metrics is wired
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/metrics", nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK || len(w.Body.Bytes()) == 0 {
		t.Fatalf("GET /metrics bad: code=%d len=%d", w.Code, w.Body.Len())
	}

	// NoRoute → 404
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/nope", nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("GET /nope expected 404, got %d", w.Code)
	}

	// NoMethod → 405 (DELETE /health)
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodDelete, "/health", nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("DELETE /health expected 405, got %d", w.Code)
	}
}

func TestRegisterRoutes_CORSWithOrigins_HeaderEcho(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	db := newTestDB(t)

	cfg := baseCfg()
	cfg.APIBasePath = "/api/v2"
	cfg.CORS = config.CORSConfig{AllowedOrigins: []string{"http://example.com"}}

	RegisterRoutes(r, db, nil, cfg)

	// Any request runs through CORS middleware; header should reflect origin.
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "http://example.com")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("GET /health = %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://example.com" {
		t.Fatalf("expected ACAO echo, got %q", got)
	}
}

func TestRegisterRoutes_IngestRequiresDeviceToken(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	db := newTestDB(t)
	RegisterRoutes(r, db, nil, baseCfg())

	body := `{"client_tx_id":"ctx-1","raw_message":"QX Confirmed. Ksh100.00 received"}`

	// No token → 401 before any body processing
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/transactions", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("no token expected 401, got %d", w.Code)
	}

	// Unknown token → 401
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/api/v1/transactions", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(middleware.HeaderDeviceToken, "no-such-token")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("unknown token expected 401, got %d", w.Code)
	}

	// Inactive device → 401
	seedClient(t, db, "tok-inactive", false)
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/api/v1/transactions", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(middleware.HeaderDeviceToken, "tok-inactive")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("inactive device expected 401, got %d", w.Code)
	}
}

func TestRegisterRoutes_IngestEndToEnd_InsertThenDuplicate(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	db := newTestDB(t)
	RegisterRoutes(r, db, nil, baseCfg()) // nil provider → fallback classification

	seedClient(t, db, "tok-live", true)

	body := `{"client_tx_id":"ctx-e2e-1","raw_message":"QGH7X1KPLM Confirmed. Ksh1,200.00 sent to JANE DOE"}`
	post := func() *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/v1/transactions", bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(middleware.HeaderDeviceToken, "tok-live")
		r.ServeHTTP(w, req)
		return w
	}

	// First upload inserts
	w := post()
	if w.Code != http.StatusCreated {
		t.Fatalf("first ingest expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var first struct {
		Transaction domain.Transaction `json:"transaction"`
		Duplicate   bool               `json:"duplicate"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &first); err != nil {
		t.Fatalf("decode first: %v", err)
	}
	if first.Duplicate || first.Transaction.ID == "" {
		t.Fatalf("unexpected first response: %+v", first)
	}

	// Replay of the same client_tx_id dedups, no second row
	w = post()
	if w.Code != http.StatusOK {
		t.Fatalf("replay expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var second struct {
		Duplicate   bool   `json:"duplicate"`
		DuplicateOf string `json:"duplicate_of"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &second); err != nil {
		t.Fatalf("decode replay: %v", err)
	}
	if !second.Duplicate || second.DuplicateOf != first.Transaction.ID {
		t.Fatalf("replay should reference original: %+v", second)
	}

	var n int64
	if err := db.Model(&domain.Transaction{}).Count(&n).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected exactly 1 stored transaction, got %d", n)
	}

	// Missing required fields → 400
	w = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/transactions", bytes.NewBufferString(`{"raw_message":"x"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(middleware.HeaderDeviceToken, "tok-live")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("missing client_tx_id expected 400, got %d", w.Code)
	}
}

func TestRegisterRoutes_OperatorSurface(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	db := newTestDB(t)
	RegisterRoutes(r, db, nil, baseCfg())

	// Listing endpoints are reachable without a device token.
	for _, path := range []string{"/api/v1/transactions", "/api/v1/reviews"} {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, path, nil)
		r.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("GET %s = %d", path, w.Code)
		}
	}

	// Fraud scan on an empty window succeeds with zero anomalies.
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/fraud/scan?hours=1", nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("POST /fraud/scan = %d: %s", w.Code, w.Body.String())
	}
	var scan struct {
		Count int `json:"count"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &scan); err != nil {
		t.Fatalf("decode scan: %v", err)
	}
	if scan.Count != 0 {
		t.Fatalf("empty window should flag nothing, got %d", scan.Count)
	}

	// Resolving an unknown review item → 404.
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/api/v1/reviews/nope/resolve",
		bytes.NewBufferString(`{"resolution":"accepted"}`))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("resolve unknown expected 404, got %d", w.Code)
	}
}

func Test_deviceLookup_Translation(t *testing.T) {
	db := newTestDB(t)
	svc := services.NewIngestService(db, nil)
	lookup := deviceLookup(svc)
	ctx := context.Background()

	active := seedClient(t, db, "tok-a", true)
	seedClient(t, db, "tok-b", false)

	got, err := lookup(ctx, "tok-a")
	if err != nil {
		t.Fatalf("active lookup: %v", err)
	}
	if got.ID != active.ID {
		t.Fatalf("resolved wrong client: %+v", got)
	}

	// Unknown and inactive both map to the middleware rejection sentinel.
	if _, err := lookup(ctx, "missing"); err != middleware.ErrDeviceRejected {
		t.Fatalf("unknown token: want ErrDeviceRejected, got %v", err)
	}
	if _, err := lookup(ctx, "tok-b"); err != middleware.ErrDeviceRejected {
		t.Fatalf("inactive device: want ErrDeviceRejected, got %v", err)
	}

	// Infrastructure failure passes through untranslated.
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db.DB(): %v", err)
	}
	_ = sqlDB.Close()
	if _, err := lookup(ctx, "tok-a"); err == nil || err == middleware.ErrDeviceRejected {
		t.Fatalf("closed db: want infrastructure error, got %v", err)
	}
}

func Test_limitBody_Middleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	// tiny cap to trigger MaxBytesReader
	r.Use(limitBody(10))
	r.POST("/echo", func(c *gin.Context) {
		_, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.String(http.StatusRequestEntityTooLarge, "too big")
			return
		}
		c.String(http.StatusOK, "ok")
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/echo", bytes.NewBufferString("0123456789AB")) // 12 bytes
	r.ServeHTTP(w, req)
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413 from limitBody, got %d", w.Code)
	}
}

func Test_groupWithPrefix(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()

	// "/" and "" should mount at root
	root1 := groupWithPrefix(r, "/")
	root1.GET("/one", func(c *gin.Context) { c.String(http.StatusOK, "one") })
	root2 := groupWithPrefix(r, "")
	root2.GET("/two", func(c *gin.Context) { c.String(http.StatusOK, "two") })

	// non-root prefix
	api := groupWithPrefix(r, "/api")
	api.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	for path, want := range map[string]string{"/one": "one", "/two": "two", "/api/ping": "pong"} {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, path, nil)
		r.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK || rec.Body.String() != want {
			t.Fatalf("GET %s got %d %q", path, rec.Code, rec.Body.String())
		}
	}
}

// Fraud scans are marked rate-exempt before the limiter runs, so a scheduler
// hammering the scan endpoint never starves ordinary clients of their bucket,
// and never gets throttled itself.
func TestRegisterRoutes_FraudScanBypassesRateLimit(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	db := newTestDB(t)

	cfg := baseCfg()
	cfg.RateRPS = 0.001 // effectively no refill within the test
	cfg.RateBurst = 2
	RegisterRoutes(r, db, nil, cfg)

	// Scan posts all succeed, well past the burst budget.
	for i := 0; i < 10; i++ {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/v1/fraud/scan?hours=1", nil)
		r.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("scan %d expected 200, got %d: %s", i, w.Code, w.Body.String())
		}
	}

	// The same caller is still subject to the limiter on other routes.
	last := 0
	for i := 0; i < 5; i++ {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/v1/transactions", nil)
		r.ServeHTTP(w, req)
		last = w.Code
	}
	if last != http.StatusTooManyRequests {
		t.Fatalf("listing should exhaust the bucket, last code %d", last)
	}
}

// Smoke test that a request traverses otel + ratelimit + security headers pipeline.
func TestPipeline_Smoke(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()

	cfg := baseCfg()
	cfg.Security = config.SecurityConfig{EnableHSTS: true, HSTSMaxAge: time.Hour} // only set on https
	db := newTestDB(t)
	RegisterRoutes(r, db, nil, cfg)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	// simulate https so HSTS could be eligible if middleware checks scheme
	req.URL.Scheme = "https"
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("pipeline GET /health = %d", w.Code)
	}
	// RequestID header should be present (from RequestID middleware)
	if rid := w.Header().Get("X-Request-ID"); rid == "" {
		t.Fatalf("expected X-Request-ID header to be set")
	}
}
