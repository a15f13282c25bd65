package numbering

import "github.com/o2o/erpsync/internal/domain/shared"

var (
	// ErrStoreUnavailable is returned when the counter store cannot be reached or
	// rejects our credentials. Allocation is never retried automatically on it.
	ErrStoreUnavailable = shared.NewDomainError("STORE_UNAVAILABLE", "Invoice counter store is unavailable")

	// ErrAllocationFailed is returned when the increment still affects no row after
	// the counter row was ensured and the increment retried once.
	ErrAllocationFailed = shared.NewDomainError("ALLOCATION_FAILED", "Could not allocate an invoice number")

	// ErrInvalidInput is returned for an empty prefix or a malformed financial year.
	ErrInvalidInput = shared.ErrInvalidInput

	// ErrCounterNotFound is returned when a counter row has not been created yet.
	ErrCounterNotFound = shared.NewDomainError("NOT_FOUND", "Invoice counter not found")
)
