package server

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
)

// HandleDashboard returns the dashboard snapshot for ?days=N, defaulting
// to the configured window.
func (h *Handlers) HandleDashboard(c *gin.Context) {
	ctx, span := h.Tracer.Start(c.Request.Context(), "HandleDashboard")
	defer span.End()

	days := h.opts.DefaultDays
	if raw := c.Query("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			h.abortInvalid(c, "days must be an integer")
			return
		}
		days = n
	}

	userID, _ := GetUserFromContext(c)
	span.SetAttributes(
		attribute.Int64("user.id", userID),
		attribute.Int("days", days),
	)

	snapshot, err := h.dashboard.BuildDashboard(ctx, userID, days)
	if err != nil {
		h.abortWithError(c, span, err)
		return
	}

	c.JSON(http.StatusOK, snapshot)
}
