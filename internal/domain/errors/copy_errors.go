package errors

import "errors"

// Copy-trade engine error categories
var (
	// ErrSessionNotRunning indicates an operation requiring a running session
	ErrSessionNotRunning = errors.New("session not running")

	// ErrSessionStopped indicates the session is terminal and cannot transition
	ErrSessionStopped = errors.New("session stopped")

	// ErrDuplicateSourceTrade indicates a source trade was already mirrored
	ErrDuplicateSourceTrade = errors.New("duplicate source trade")

	// ErrInsufficientShares indicates a sell exceeding held shares
	ErrInsufficientShares = errors.New("insufficient shares")

	// ErrMaxLossBreached indicates the session loss circuit breaker tripped
	ErrMaxLossBreached = errors.New("max loss breached")

	// ErrSlippageExceeded indicates a fill outside the slippage tolerance
	ErrSlippageExceeded = errors.New("slippage exceeded")

	// ErrInvalidOrderState indicates a transition not allowed by the order
	// state machine, e.g. a fill reported for a non-submitted order. This
	// is a data-integrity fault: the mutation is refused, never corrected.
	ErrInvalidOrderState = errors.New("invalid order state")

	// ErrPositionResolved indicates a sell against a resolved market;
	// the only valid closing action is redemption
	ErrPositionResolved = errors.New("position resolved")
)

// InsufficientSharesError creates the integrity error for an oversell
func InsufficientSharesError(held, requested string) *DomainError {
	return &DomainError{
		Err:     ErrInsufficientShares,
		Code:    "INSUFFICIENT_SHARES",
		Message: "sell exceeds held shares",
		Details: map[string]interface{}{
			"held":      held,
			"requested": requested,
		},
	}
}

// InvalidOrderStateError creates the integrity error for a bad transition
func InvalidOrderStateError(current, attempted string) *DomainError {
	return &DomainError{
		Err:     ErrInvalidOrderState,
		Code:    "INVALID_ORDER_STATE",
		Message: "order state transition not allowed",
		Details: map[string]interface{}{
			"current":   current,
			"attempted": attempted,
		},
	}
}
