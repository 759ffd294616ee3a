package services

import (
	"errors"
	"fmt"

	"github.com/Vafelkin/outline-tg-bot/src/outline"
)

// Sentinel errors for explicit error handling.
// Callers distinguish failure modes with errors.Is.

var (
	// ErrUpstreamUnavailable indicates the Outline server could not be reached
	ErrUpstreamUnavailable = outline.ErrUpstreamUnavailable

	// ErrVerificationFailed indicates a remote change could not be confirmed
	ErrVerificationFailed = outline.ErrVerificationFailed

	// ErrQuotaExceeded indicates the actor already owns the maximum number of keys
	ErrQuotaExceeded = errors.New("key quota exceeded")

	// ErrInvalidInput indicates malformed or out-of-range human input
	ErrInvalidInput = errors.New("invalid input")

	// ErrInvalidDate indicates a date that does not match DD.MM.YYYY
	ErrInvalidDate = fmt.Errorf("%w: malformed date", ErrInvalidInput)

	// ErrDateInPast indicates a well-formed date that already passed
	ErrDateInPast = fmt.Errorf("%w: date in the past", ErrInvalidInput)

	// ErrInvalidLimit indicates a traffic limit that is not a positive number
	ErrInvalidLimit = fmt.Errorf("%w: traffic limit must be a positive number", ErrInvalidInput)

	// ErrInvalidName indicates an unusable key name
	ErrInvalidName = fmt.Errorf("%w: key name", ErrInvalidInput)

	// ErrKeyNotFound indicates the requested key does not exist locally or on the server
	ErrKeyNotFound = outline.ErrKeyNotFound

	// ErrActorNotFound indicates the actor does not exist
	ErrActorNotFound = errors.New("actor not found")

	// ErrUnauthorized indicates a failed tier or ownership check
	ErrUnauthorized = errors.New("unauthorized")

	// ErrActorBlocked indicates the actor was blocked by an administrator
	ErrActorBlocked = fmt.Errorf("%w: actor is blocked", ErrUnauthorized)

	// ErrOperationInProgress indicates a concurrent mutation by the same actor
	ErrOperationInProgress = errors.New("operation already in progress")

	// ErrInvalidCredentials indicates operator authentication failed
	ErrInvalidCredentials = errors.New("invalid credentials")
)
