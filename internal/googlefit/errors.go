package googlefit

import (
	"errors"
	"fmt"
)

var (
	// ErrUnauthenticated is returned when a connection has no access token
	ErrUnauthenticated = errors.New("not authenticated with Google Fit")
	// ErrReauthorizationRequired is returned when the token cannot be renewed
	ErrReauthorizationRequired = errors.New("authorization expired, re-authorization required")
	// ErrMalformedResponse is returned when a payload lacks required fields
	ErrMalformedResponse = errors.New("malformed Google Fit response")
)

// ProviderError is a transient failure talking to Google Fit: a non-2xx
// status or a transport error (StatusCode 0).
type ProviderError struct {
	StatusCode int
	Detail     string
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("Google Fit request failed: %s", e.Detail)
	}
	return fmt.Sprintf("Google Fit API error %d: %s", e.StatusCode, e.Detail)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// IsProviderError reports whether err is a transient provider failure
func IsProviderError(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe)
}
