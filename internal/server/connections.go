package server

import (
	"net/http"
	"net/url"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

const (
	callbackFlag    = "google_fit"
	callbackSuccess = "success"
	callbackError   = "error"
)

// HandleGoogleFitAuth starts the OAuth2 flow and returns the consent URL.
func (h *Handlers) HandleGoogleFitAuth(c *gin.Context) {
	ctx, span := h.Tracer.Start(c.Request.Context(), "HandleGoogleFitAuth")
	defer span.End()

	userID, _ := GetUserFromContext(c)
	span.SetAttributes(attribute.Int64("user.id", userID))

	authz, err := h.connections.BeginAuthorization(ctx, userID)
	if err != nil {
		h.abortWithError(c, span, err)
		return
	}

	c.JSON(http.StatusOK, authz)
}

// HandleGoogleFitCallback completes the OAuth2 flow and redirects the
// browser to the connections page with a success or error flag.
func (h *Handlers) HandleGoogleFitCallback(c *gin.Context) {
	ctx, span := h.Tracer.Start(c.Request.Context(), "HandleGoogleFitCallback")
	defer span.End()

	if errMsg := c.Query("error"); errMsg != "" {
		h.logger.Warn("Google Fit OAuth callback returned an error", zap.String("error", errMsg))
		span.SetStatus(codes.Error, "consent denied")
		h.redirectToConnections(c, callbackError)
		return
	}

	state, code := c.Query("state"), c.Query("code")
	if state == "" || code == "" {
		h.logger.Warn("Callback missing state or code")
		span.SetStatus(codes.Error, "missing parameters")
		h.redirectToConnections(c, callbackError)
		return
	}

	conn, err := h.connections.CompleteAuthorization(ctx, state, code)
	if err != nil {
		h.logger.Warn("Failed to complete Google Fit authorization", zap.Error(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "authorization failed")
		h.redirectToConnections(c, callbackError)
		return
	}

	span.SetAttributes(attribute.Int64("connection.id", conn.ID))
	h.redirectToConnections(c, callbackSuccess)
}

func (h *Handlers) redirectToConnections(c *gin.Context, outcome string) {
	target, err := url.Parse(h.opts.ConnectionsPageURL)
	if err != nil {
		target = &url.URL{Path: "/connections"}
	}
	q := target.Query()
	q.Set(callbackFlag, outcome)
	target.RawQuery = q.Encode()
	c.Redirect(http.StatusFound, target.String())
}

// HandleListConnections lists the user's connections without tokens.
func (h *Handlers) HandleListConnections(c *gin.Context) {
	ctx, span := h.Tracer.Start(c.Request.Context(), "HandleListConnections")
	defer span.End()

	userID, _ := GetUserFromContext(c)
	infos, err := h.connections.List(ctx, userID)
	if err != nil {
		h.abortWithError(c, span, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"connections": infos})
}

// HandleDeleteConnection removes one of the user's connections.
func (h *Handlers) HandleDeleteConnection(c *gin.Context) {
	ctx, span := h.Tracer.Start(c.Request.Context(), "HandleDeleteConnection")
	defer span.End()

	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id < 1 {
		h.abortInvalid(c, "id must be a positive integer")
		return
	}
	span.SetAttributes(attribute.Int64("connection.id", id))

	userID, _ := GetUserFromContext(c)
	if err := h.connections.Delete(ctx, userID, id); err != nil {
		h.abortWithError(c, span, err)
		return
	}

	c.Status(http.StatusNoContent)
}
