package domain

import "errors"

var (
	// Common domain errors
	ErrNotFound            = errors.New("entity not found")
	ErrAlreadyExists       = errors.New("entity already exists")
	ErrInvalidArgument     = errors.New("invalid argument")
	ErrInvalidAmount       = errors.New("amount must be greater than zero")
	ErrMissingPhone        = errors.New("phone number is required")
	ErrInvalidPhone        = errors.New("phone number is not a valid Kenyan MSISDN")
	ErrPushRejected        = errors.New("gateway rejected the push request")
	ErrNoActiveListing     = errors.New("no active listing for user")
	ErrAlreadyOnTier       = errors.New("listing already on the requested tier")
	ErrTerminalTransaction = errors.New("transaction already reached a terminal state")
	ErrRateLimited         = errors.New("too many payment attempts; try again shortly")

	// Errors surfaced by the storage layer.
	ErrOperationFailed    = errors.New("database operation failed")
	ErrReadDatabaseRow    = errors.New("failed to read database row")
	ErrInvalidExecContext = errors.New("invalid executor context")
)
