package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"healthdash/internal/googlefit"
	"healthdash/internal/service"
	"healthdash/internal/store"
)

// Error codes returned in the "error" field of JSON error bodies
const (
	codeNotConnected        = "not_connected"
	codeReauthorization     = "reauthorization_required"
	codeInvalidRequest      = "invalid_request"
	codeNotFound            = "not_found"
	codeProviderUnavailable = "provider_unavailable"
	codeInternal            = "internal_error"
)

// classify maps a service error to a status code and a public error code
func classify(err error) (int, string, string) {
	switch {
	case errors.Is(err, service.ErrNotConnected):
		return http.StatusConflict, codeNotConnected, "Google Fit account not connected"
	case errors.Is(err, googlefit.ErrReauthorizationRequired),
		errors.Is(err, googlefit.ErrUnauthenticated):
		return http.StatusUnauthorized, codeReauthorization, "Google Fit authorization expired, reconnect the account"
	case errors.Is(err, service.ErrInvalidDays):
		return http.StatusBadRequest, codeInvalidRequest, "days is out of range"
	case errors.Is(err, service.ErrInvalidState):
		return http.StatusBadRequest, codeInvalidRequest, "unknown authorization state"
	case errors.Is(err, store.ErrConnectionNotFound):
		return http.StatusNotFound, codeNotFound, "connection not found"
	case googlefit.IsProviderError(err):
		return http.StatusBadGateway, codeProviderUnavailable, "Google Fit is unavailable, try again later"
	default:
		return http.StatusInternalServerError, codeInternal, "internal error"
	}
}

// abortWithError writes the JSON error body for err. Internal details are
// logged but never returned.
func (h *Handlers) abortWithError(c *gin.Context, span trace.Span, err error) {
	status, code, message := classify(err)
	span.RecordError(err)
	span.SetStatus(codes.Error, code)

	if status >= http.StatusInternalServerError {
		h.logger.Error("Request failed", zap.String("path", c.Request.URL.Path), zap.Error(err))
	} else {
		h.logger.Warn("Request rejected", zap.String("path", c.Request.URL.Path), zap.String("code", code), zap.Error(err))
	}
	c.AbortWithStatusJSON(status, gin.H{"error": code, "message": message})
}

// abortInvalid rejects malformed caller input
func (h *Handlers) abortInvalid(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": codeInvalidRequest, "message": message})
}
