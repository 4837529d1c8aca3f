package tui

import (
	"errors"
	"fmt"

	"healthdash/internal/googlefit"
	"healthdash/internal/service"
)

// FormatDistance formats kilometers
func FormatDistance(km float64) string {
	return fmt.Sprintf("%.2f km", km)
}

// FormatHours formats fractional hours as "7h 30m"
func FormatHours(hours float64) string {
	if hours <= 0 {
		return "-"
	}
	total := int(hours*60 + 0.5)
	return fmt.Sprintf("%dh %02dm", total/60, total%60)
}

// FormatOptional formats a value that may be absent
func FormatOptional(v *float64, format string) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf(format, *v)
}

// FormatChange formats a signed weight change
func FormatChange(v *float64) string {
	if v == nil {
		return ""
	}
	return fmt.Sprintf("%+.1f kg", *v)
}

// describeError turns connection-level failures into an actionable hint
func describeError(err error) string {
	switch {
	case errors.Is(err, service.ErrNotConnected):
		return "Google Fit is not connected. Authorize it through the web API first."
	case errors.Is(err, googlefit.ErrReauthorizationRequired), errors.Is(err, googlefit.ErrUnauthenticated):
		return "Google Fit authorization expired. Reconnect the account."
	case googlefit.IsProviderError(err):
		return fmt.Sprintf("Google Fit is unavailable (%v). Press 'r' to retry.", err)
	default:
		return err.Error()
	}
}
