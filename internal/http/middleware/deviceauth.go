// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements device authentication for the ingestion endpoints.
// Mobile clients present a credential in the X-Device-Token header; the
// middleware resolves it once per request (not per batch record) through a
// narrow lookup function and stashes the resolved client in the context so
// handlers never touch the credential again.
//
// Design goals:
//   - Keep transport concerns (header validation, context stashing) here.
//   - Decouple persistence via the DeviceLookup function type.
//   - Reject before any request body is processed.
package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/pesaflow/go-mpesa-backend/internal/domain"
)

// HeaderDeviceToken is the request header carrying the device credential.
const HeaderDeviceToken = "X-Device-Token"

// Context keys used internally to stash the authenticated client.
const (
	ctxKeyClient   = "auth.client"
	ctxKeyDeviceID = "deviceID"
)

// ErrDeviceRejected is returned by DeviceLookup implementations when the
// token resolves to no usable client (unknown or deactivated). The
// middleware maps it to 401; any other error maps to 500.
var ErrDeviceRejected = errors.New("device rejected")

// DeviceLookup resolves a device token to its registered mobile client.
// Implementations should wrap ErrDeviceRejected for auth failures and return
// other errors only for lookup infrastructure failures.
type DeviceLookup func(ctx context.Context, token string) (*domain.MobileClient, error)

// ClientFrom returns the authenticated client stashed by DeviceAuth.
// The second return value indicates presence.
func ClientFrom(c *gin.Context) (*domain.MobileClient, bool) {
	v, ok := c.Get(ctxKeyClient)
	if !ok {
		return nil, false
	}
	client, ok := v.(*domain.MobileClient)
	return client, ok && client != nil
}

// DeviceAuth validates the X-Device-Token header and resolves it to a known,
// active client. On success it stashes the client (see ClientFrom) and the
// device ID (used by the rate limiter's key function), then proceeds.
//
// Failure modes:
//   - missing header, unknown token, or inactive device → 401 with the
//     standard error envelope; no body processing occurs.
//   - lookup infrastructure failure → 500.
func DeviceAuth(lookup DeviceLookup) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.GetHeader(HeaderDeviceToken)
		if token == "" {
			abortAuth(c, "device token required")
			return
		}

		client, err := lookup(c.Request.Context(), token)
		if err != nil {
			if errors.Is(err, ErrDeviceRejected) {
				abortAuth(c, "unknown or inactive device")
				return
			}
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"request_id": c.Writer.Header().Get("X-Request-ID"),
				"code":       "internal_error",
				"message":    "device lookup failed",
			})
			return
		}

		c.Set(ctxKeyClient, client)
		c.Set(ctxKeyDeviceID, client.DeviceID)
		c.Next()
	}
}

// abortAuth writes the standard 401 envelope.
func abortAuth(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"request_id": c.Writer.Header().Get("X-Request-ID"),
		"code":       "unauthorized",
		"message":    msg,
	})
}
