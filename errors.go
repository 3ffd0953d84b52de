package credits

import (
	"errors"
	"fmt"
)

// Sentinel errors for common failure scenarios.
var (
	// General errors
	ErrInvalidInput = errors.New("credits: invalid input")

	// Balance errors
	ErrInsufficientCredits = errors.New("credits: insufficient credits")
	ErrOverflowLimit       = errors.New("credits: balance would exceed maximum representable value")

	// Scope errors
	ErrScopeNotFound      = errors.New("credits: scope not found")
	ErrAccountNotFound    = errors.New("credits: account not found")
	ErrAllocationNotFound = errors.New("credits: allocation not found")
	ErrPoolNotFound       = errors.New("credits: pool not found")
	ErrAccountDisabled    = errors.New("credits: account is disabled")
	ErrUnknownApplication = errors.New("credits: unknown application")

	// Idempotency errors
	ErrDuplicateOperation = errors.New("credits: operation id already applied with different arguments")

	// Store errors
	ErrConcurrencyConflict = errors.New("credits: concurrent update conflict")
	ErrStoreUnavailable    = errors.New("credits: store unavailable")
	ErrStoreClosed         = errors.New("credits: store is closed")
	ErrTransactionFailed   = errors.New("credits: transaction failed")
	ErrMigrationFailed     = errors.New("credits: migration failed")

	// Audit errors
	ErrReplayMismatch = errors.New("credits: transaction replay does not match live balance")
)

// ValidationError represents a validation failure with details.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("credits: validation failed for %s: %s", e.Field, e.Message)
}

// Unwrap lets errors.Is match ValidationError against ErrInvalidInput.
func (e ValidationError) Unwrap() error { return ErrInvalidInput }

// IsNotFound returns true if the error is a not found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrScopeNotFound) ||
		errors.Is(err, ErrAccountNotFound) ||
		errors.Is(err, ErrAllocationNotFound) ||
		errors.Is(err, ErrPoolNotFound) ||
		errors.Is(err, ErrUnknownApplication)
}

// IsInsufficient returns true if the error means the scope cannot fund the
// requested amount. Expected and recoverable: the caller decides whether to
// block or queue the triggering operation.
func IsInsufficient(err error) bool {
	return errors.Is(err, ErrInsufficientCredits)
}

// IsRetryable returns true if the operation may be retried with the same
// idempotency key. The engine never partially applies a mutation, so
// retrying after a conflict or an unavailable store is always safe.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrencyConflict) ||
		errors.Is(err, ErrStoreUnavailable) ||
		errors.Is(err, ErrTransactionFailed)
}

// IsFatal returns true if the request must not be retried: it indicates a
// caller bug or data corruption rather than a transient condition.
func IsFatal(err error) bool {
	return errors.Is(err, ErrOverflowLimit) ||
		errors.Is(err, ErrDuplicateOperation) ||
		errors.Is(err, ErrInvalidInput)
}
