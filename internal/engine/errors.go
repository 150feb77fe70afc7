package engine

import "errors"

// Settlement failure taxonomy. Every operation fails with exactly one of
// these sentinels (possibly wrapped with context); handlers map them to
// stable HTTP error codes.
var (
	// ErrUnauthorized caller lacks the privilege the operation requires
	ErrUnauthorized = errors.New("unauthorized")

	// ErrUnsupportedToken token is not registered at order creation time
	ErrUnsupportedToken = errors.New("unsupported token")

	// ErrInvalidAmount order amount is zero or not a positive integer
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrInvalidAddress account or token identifier is not a valid address
	ErrInvalidAddress = errors.New("invalid address")

	// ErrFeeTooHigh requested fee is at or above the ceiling
	ErrFeeTooHigh = errors.New("fee too high")

	// ErrOrderNotFound no order exists with the given id
	ErrOrderNotFound = errors.New("order not found")

	// ErrInvalidState operation is not valid for the order's current state,
	// including reentrant or repeated settlement attempts
	ErrInvalidState = errors.New("invalid order state")

	// ErrTransferFailed an external fund movement did not succeed. When this
	// happens after the terminal-state commit the order stays terminal with
	// payout_status=failed; the payout is retried, never rolled back.
	ErrTransferFailed = errors.New("transfer failed")

	// ErrPayoutNotRetryable payout retry requested for an order that has no
	// failed payout to re-issue
	ErrPayoutNotRetryable = errors.New("payout not retryable")
)
