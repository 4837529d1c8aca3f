package service

import "errors"

var (
	// ErrNotConnected is returned when the user has no active Google Fit connection
	ErrNotConnected = errors.New("Google Fit account not connected")
	// ErrInvalidDays is returned for a day count outside [1, max]
	ErrInvalidDays = errors.New("invalid day count")
	// ErrInvalidState is returned when a callback state matches no pending authorization
	ErrInvalidState = errors.New("unknown authorization state")
)
