// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package apiresponses

import (
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// APIError represents a standardized error response.
type APIError struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

// The responders abort the chain, so middlewares can use them as well.

func RespondNotFound(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusNotFound, APIError{
		Error: "not found",
		Code:  "NOT_FOUND",
	})
}

// RespondBadRequest answers a malformed request; message is shown to the
// caller.
func RespondBadRequest(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, APIError{
		Error: message,
		Code:  "BAD_REQUEST",
	})
}

func RespondRequestTooLarge(c *gin.Context, limit int64) {
	c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, APIError{
		Error:   "request body too large",
		Code:    "REQUEST_TOO_LARGE",
		Details: fmt.Sprintf("limit is %d bytes", limit),
	})
}

// RespondUnauthorized is used when the request carries no valid session or
// bearer token.
func RespondUnauthorized(c *gin.Context, message string) {
	if message == "" {
		message = "user not authenticated"
	}
	c.AbortWithStatusJSON(http.StatusUnauthorized, APIError{
		Error: message,
		Code:  "UNAUTHORIZED",
	})
}

// RespondTooManyRequests tells the client when to retry, in whole seconds.
func RespondTooManyRequests(c *gin.Context, retryAfter time.Duration) {
	c.Header("Retry-After", strconv.Itoa(int(math.Ceil(retryAfter.Seconds()))))
	c.AbortWithStatusJSON(http.StatusTooManyRequests, APIError{
		Error: "Rate limit exceeded, please try again later",
		Code:  "RATE_LIMITED",
	})
}

// RespondInternalError logs err and answers with a message naming only the
// failed operation.
func RespondInternalError(c *gin.Context, operation string, err error, log *zap.SugaredLogger) {
	if log != nil {
		log.Errorw(fmt.Sprintf("Failed to %s", operation), "error", err)
	}
	c.AbortWithStatusJSON(http.StatusInternalServerError, APIError{
		Error: fmt.Sprintf("failed to %s", operation),
		Code:  "INTERNAL_ERROR",
	})
}
