package entity

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across the provider clients and the assess service.
var (
	// ErrInvalidCredentials means a provider rejected our API key (401/403).
	// Fatal and user-actionable: surfaced once, never retried automatically.
	ErrInvalidCredentials = errors.New("invalid provider credentials")

	// ErrQuotaExceeded means the local rate limiter refused the call. Not a
	// transport failure: the caller treats it as "no data available now".
	ErrQuotaExceeded = errors.New("provider quota exceeded")

	// ErrNeverAnalysed means the scan provider reported that the domain has
	// never been analysed, so polling for a fresh report must stop.
	ErrNeverAnalysed = errors.New("domain never analysed by provider")
)

// StatusError is a non-2xx HTTP response from a provider. It survives the
// gateway's retry loop so callers can branch on the final status code.
type StatusError struct {
	Code int
	URL  string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("provider returned status %d for %s", e.Code, e.URL)
}

// ValidationError means the decoded provider response failed the caller's
// validation, e.g. a cache echoing back a record for a different key.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("provider response failed validation: %s", e.Reason)
}

// StatusCode extracts the HTTP status from err, or 0 when err is not a
// StatusError.
func StatusCode(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code
	}
	return 0
}
