// Package httpapi wires the HTTP transport (Gin) to application services,
// middleware, and route handlers. It centralizes cross-cutting concerns such
// as tracing, correlation IDs, logging/redaction, panic recovery, metrics,
// CORS, security headers, device authentication, and rate limiting.
//
// Design goals:
//   - Put observability first (OTel + Prometheus)
//   - Safe-by-default middleware ordering (RequestID → logging → recovery)
//   - Deterministic, minimal router setup; all dependencies injected
//   - Production-ready CORS and security header posture
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	"github.com/pesaflow/go-mpesa-backend/internal/classify"
	"github.com/pesaflow/go-mpesa-backend/internal/config"
	"github.com/pesaflow/go-mpesa-backend/internal/domain"
	"github.com/pesaflow/go-mpesa-backend/internal/http/handlers"
	"github.com/pesaflow/go-mpesa-backend/internal/http/middleware"
	"github.com/pesaflow/go-mpesa-backend/internal/services"
)

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine. It configures observability (tracing, metrics), device
// authentication and rate limiting, CORS and security headers, health and
// metrics endpoints, and then mounts the versioned public API under /api/v*.
//
// The classification provider may be nil; the pipeline then runs entirely on
// deterministic fallback parsing.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. RedactingLogger: structured logs with credential scrubbing
//  4. Recovery: capture panics after logger
//  5. Body size limiter
//  6. Metrics
//  7. Rate limiter (per device/IP)
//  8. CORS and Security headers
//
// Device authentication is scoped to the ingestion endpoints only; triage and
// fraud routes are operator-facing and sit behind the deployment's perimeter.
func RegisterRoutes(r *gin.Engine, db *gorm.DB, provider classify.Classifier, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	// 1) Trace all HTTP requests
	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))

	// 2) Correlate requests and logs
	r.Use(middleware.RequestID())

	// 3) Structured logging; never log device credentials
	r.Use(middleware.RedactingLogger(middleware.RedactOptions{
		MaskHeaders: []string{
			middleware.HeaderDeviceToken,
		},
	}))

	// 4) Panic recovery to JSON 500 (with request id)
	r.Use(middleware.Recovery())

	// 5) Global body size limit (1 MiB covers the largest allowed batch)
	r.Use(limitBody(1 << 20))

	// 6) Prometheus metrics and /metrics endpoint
	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 7) Token-bucket rate limiter per device/IP. Scheduler-triggered fraud
	// scans are exempt so a scan never competes with device/IP buckets.
	scanPath := strings.TrimRight(cfg.APIBasePath, "/") + "/fraud/scan"
	r.Use(func(c *gin.Context) {
		if c.Request.Method == http.MethodPost && c.Request.URL.Path == scanPath {
			middleware.MarkRateBypass(c)
		}
		c.Next()
	})
	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByDeviceOrIP())
	r.Use(rl.Handler())

	// 8) CORS posture (safe defaults: allow all if none configured)
	if len(cfg.CORS.AllowedOrigins) == 0 {
		// Force ACAO: * even for requests without an Origin header (helps tests and simple health checks).
		r.Use(func(c *gin.Context) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowAllOrigins:  true,
			AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", middleware.HeaderDeviceToken},
			ExposeHeaders:    []string{"X-Request-ID", "Content-Length"},
			AllowCredentials: false, // must remain false with AllowAllOrigins
			MaxAge:           12 * time.Hour,
		}))
	} else {
		// Echo ACAO with the request Origin when it is in the allowlist (in addition to gin-contrib/cors).
		allowed := make(map[string]struct{}, len(cfg.CORS.AllowedOrigins))
		for _, o := range cfg.CORS.AllowedOrigins {
			allowed[o] = struct{}{}
		}
		r.Use(func(c *gin.Context) {
			if origin := c.GetHeader("Origin"); origin != "" {
				if _, ok := allowed[origin]; ok {
					h := c.Writer.Header()
					h.Set("Access-Control-Allow-Origin", origin)
					h.Add("Vary", "Origin")
				}
			}
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.CORS.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", middleware.HeaderDeviceToken},
			ExposeHeaders:    []string{"X-Request-ID", "Content-Length"},
			AllowCredentials: false,
			MaxAge:           12 * time.Hour,
		}))
	}

	// Security headers (HSTS only when enabled and request is HTTPS)
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		NoStore:      false,
		EnablePolicy: true,
	}))

	// Fallbacks
	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	// Liveness/health
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	// Swagger UI (spec registered by the generated docs package)
	if cfg.SwaggerEnabled {
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	// Dependency injection: services ← db/provider
	classifySvc := &classify.Service{
		DB:       db,
		Provider: provider,
		Timeout:  cfg.AI.Timeout,
	}
	ingestSvc := services.NewIngestService(db, classifySvc)
	if cfg.MaxBatch > 0 {
		ingestSvc.MaxBatch = cfg.MaxBatch
	}
	fraudSvc := &services.FraudService{
		DB:          db,
		Classifier:  classifySvc,
		MaxRows:     cfg.Fraud.MaxRows,
		AIBatchSize: cfg.Fraud.AIBatchSize,
	}
	reviewSvc := &services.ReviewService{DB: db}
	h := handlers.New(ingestSvc, fraudSvc, reviewSvc, cfg.Fraud.WindowHours)

	deviceAuth := middleware.DeviceAuth(deviceLookup(ingestSvc))

	// Public API
	apiBase := cfg.APIBasePath // e.g. "/api/v1"
	api := groupWithPrefix(r, apiBase)
	{
		// Ingestion (device-authenticated)
		ingest := api.Group("")
		ingest.Use(deviceAuth)
		ingest.POST("/transactions", h.IngestTransaction)
		ingest.POST("/transactions/batch", h.IngestBatch)

		// Dashboard / operator surface
		api.GET("/transactions", h.ListTransactions)
		api.GET("/reviews", h.ListReviews)
		api.POST("/reviews/:id/resolve", h.ResolveReview)
		api.POST("/fraud/scan", h.ScanFraud)
	}
}

// deviceLookup adapts IngestService.Authenticate to the middleware's
// DeviceLookup type, translating service sentinels into the middleware's
// rejection error so auth failures map to 401 rather than 500.
func deviceLookup(svc *services.IngestService) middleware.DeviceLookup {
	return func(ctx context.Context, token string) (*domain.MobileClient, error) {
		client, err := svc.Authenticate(ctx, token)
		if err != nil {
			if errors.Is(err, services.ErrDeviceNotFound) || errors.Is(err, services.ErrDeviceInactive) {
				return nil, middleware.ErrDeviceRejected
			}
			return nil, err
		}
		return client, nil
	}
}

// limitBody returns a Gin middleware that caps the request body size for all
// endpoints to maxBytes using http.MaxBytesReader. Requests exceeding the cap
// will cause downstream body reads to error.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}
