package shared

import "fmt"

var (
	ErrNotImplemented = fmt.Errorf("not implemented")

	// Configuration errors
	ErrMissingConfig      = fmt.Errorf("configuration not found")
	ErrInvalidConfig      = fmt.Errorf("invalid configuration")
	ErrMissingCredentials = fmt.Errorf("missing credentials")

	// Authentication errors
	ErrAuthFailed       = fmt.Errorf("authentication failed")
	ErrNotAuthenticated = fmt.Errorf("not authenticated")
	ErrTimeout          = fmt.Errorf("operation timed out")

	// API and service errors
	ErrAPIRequest         = fmt.Errorf("API request failed")
	ErrServiceUnavailable = fmt.Errorf("service unavailable")

	// Catalog errors
	ErrTrackNotFound    = fmt.Errorf("track not found")
	ErrGenreNotFound    = fmt.Errorf("genre not found")
	ErrInvalidState     = fmt.Errorf("not in a valid state")
	ErrConflict         = fmt.Errorf("concurrent modification")
	ErrProgressNotFound = fmt.Errorf("session not found")

	// Queue errors
	ErrDispatch       = fmt.Errorf("dispatch failed")
	ErrJobNotFound    = fmt.Errorf("job not found")
	ErrBatchNotFound  = fmt.Errorf("batch not found")
	ErrBatchCancelled = fmt.Errorf("batch cancelled")
	ErrUnknownJobType = fmt.Errorf("unknown job type")

	// Input validation errors
	ErrInvalidInput    = fmt.Errorf("invalid input")
	ErrMissingArgument = fmt.Errorf("missing required argument")
	ErrInvalidArgument = fmt.Errorf("invalid argument")
)
