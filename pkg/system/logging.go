// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package system

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ReqLoggerKey is the context key used to store request-scoped logger in gin context.
const ReqLoggerKey = "reqLogger"

// Gin context keys set by the session and bearer middlewares.
const (
	SessionIDKey = "sessionID"
	SubjectKey   = "subject"
	EmailKey     = "email"
)

// GetReqLogger returns the request-scoped sugared logger from gin.Context if present,
// otherwise the fallback.
func GetReqLogger(c *gin.Context, fallback *zap.SugaredLogger) *zap.SugaredLogger {
	if c == nil {
		return fallback
	}
	if v, ok := c.Get(ReqLoggerKey); ok {
		if l, ok2 := v.(*zap.SugaredLogger); ok2 {
			return l
		}
	}
	return fallback
}

// EnrichReqLogger annotates the request-scoped logger with the browser session
// and the authenticated subject, when the gin context carries them.
func EnrichReqLogger(c *gin.Context, reqLogger *zap.SugaredLogger) *zap.SugaredLogger {
	if c == nil || reqLogger == nil {
		return reqLogger
	}
	for _, key := range []string{SessionIDKey, SubjectKey} {
		if v, ok := c.Get(key); ok {
			if s, ok2 := v.(string); ok2 && s != "" {
				reqLogger = reqLogger.With(key, s)
			}
		}
	}
	if v, ok := c.Get(EmailKey); ok {
		if email, ok2 := v.(string); ok2 && email != "" {
			// email is personal data, only at debug level
			reqLogger.Debugw("Request token email", "email", email)
		}
	}
	return reqLogger
}

// RequestLogger stores a request-scoped logger carrying method, path and
// client IP for the handlers further down the chain.
func RequestLogger(base *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		reqLogger := base.With("method", c.Request.Method, "path", c.Request.URL.Path, "clientIP", c.ClientIP())
		c.Set(ReqLoggerKey, reqLogger)
		c.Next()
	}
}
