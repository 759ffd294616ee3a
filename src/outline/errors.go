package outline

import (
	"errors"
	"fmt"
)

var (
	// ErrUpstreamUnavailable indicates a transport failure, timeout or 5xx from the server
	ErrUpstreamUnavailable = errors.New("outline server unavailable")

	// ErrVerificationFailed indicates a mutation could not be confirmed by a re-read
	ErrVerificationFailed = errors.New("outline change not verified")

	// ErrKeyNotFound indicates the server does not know the key
	ErrKeyNotFound = errors.New("access key not found")
)

// APIError is a non-2xx response that is not a server failure
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("outline API error (status %d): %s", e.Status, e.Body)
}

// VerificationError describes a traffic cap that did not read back as expected
type VerificationError struct {
	KeyID    string
	Expected int64
	Actual   int64
	Cause    error
}

func (e *VerificationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("verify traffic cap of key %s: %v", e.KeyID, e.Cause)
	}
	return fmt.Sprintf("traffic cap of key %s is %d bytes, expected %d", e.KeyID, e.Actual, e.Expected)
}

func (e *VerificationError) Unwrap() error { return ErrVerificationFailed }
