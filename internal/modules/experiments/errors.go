package experiments

import "errors"

// Operation failures are synchronous, non-retryable rejections with zero
// partial effect. Each failure cause is a distinct sentinel so API
// clients can branch on it; Code maps them to stable string identifiers.
var (
	// Role errors
	ErrRoleMismatch = errors.New("caller lacks required role")

	// Experiment state errors
	ErrNotFound            = errors.New("experiment not found")
	ErrMarketClosed        = errors.New("market closed")
	ErrMarketOpen          = errors.New("market still open")
	ErrResultAlreadySet    = errors.New("result already set")
	ErrResultNotSet        = errors.New("result not set")
	ErrWinningSideEmpty    = errors.New("winning side has no bets")
	ErrOutstandingBalances = errors.New("experiment has outstanding deposits or bets")

	// Bound errors
	ErrInvalidBounds  = errors.New("invalid cost bounds")
	ErrBelowMinimum   = errors.New("amount below minimum unit")
	ErrExceedsCap     = errors.New("deposit would exceed funding cap")
	ErrZeroBet        = errors.New("bet must back at least one side")
	ErrInvalidOutcome = errors.New("invalid outcome")
	ErrAmountOverflow = errors.New("amount overflows the ledger range")

	// Entitlement errors
	ErrGoalNotReached = errors.New("funding goal not reached")
	ErrNoWinningBet   = errors.New("no winning bet to claim")

	// Timing errors
	ErrTimeoutNotElapsed = errors.New("unbet timeout not yet elapsed")

	// Collaborator errors
	ErrTransferFailed = errors.New("asset transfer failed")
)

// Code returns the stable identifier for a known operation error, or
// "INTERNAL" for anything else.
func Code(err error) string {
	switch {
	case errors.Is(err, ErrRoleMismatch):
		return "ROLE_MISMATCH"
	case errors.Is(err, ErrNotFound):
		return "NOT_FOUND"
	case errors.Is(err, ErrMarketClosed):
		return "MARKET_CLOSED"
	case errors.Is(err, ErrMarketOpen):
		return "MARKET_OPEN"
	case errors.Is(err, ErrResultAlreadySet):
		return "RESULT_ALREADY_SET"
	case errors.Is(err, ErrResultNotSet):
		return "RESULT_NOT_SET"
	case errors.Is(err, ErrWinningSideEmpty):
		return "WINNING_SIDE_EMPTY"
	case errors.Is(err, ErrOutstandingBalances):
		return "OUTSTANDING_BALANCES"
	case errors.Is(err, ErrInvalidBounds):
		return "INVALID_BOUNDS"
	case errors.Is(err, ErrBelowMinimum):
		return "BELOW_MINIMUM"
	case errors.Is(err, ErrExceedsCap):
		return "EXCEEDS_CAP"
	case errors.Is(err, ErrZeroBet):
		return "ZERO_BET"
	case errors.Is(err, ErrInvalidOutcome):
		return "INVALID_OUTCOME"
	case errors.Is(err, ErrAmountOverflow):
		return "AMOUNT_OVERFLOW"
	case errors.Is(err, ErrGoalNotReached):
		return "GOAL_NOT_REACHED"
	case errors.Is(err, ErrNoWinningBet):
		return "NO_WINNING_BET"
	case errors.Is(err, ErrTimeoutNotElapsed):
		return "TIMEOUT_NOT_ELAPSED"
	case errors.Is(err, ErrTransferFailed):
		return "TRANSFER_FAILED"
	default:
		return "INTERNAL"
	}
}
