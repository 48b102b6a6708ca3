package portfolio

import "errors"

var (
	// ErrInsufficientFunds rejects an open whose cost exceeds the cash balance.
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrLimitExceeded rejects an open larger than the max position size fraction.
	ErrLimitExceeded = errors.New("position size limit exceeded")
	// ErrTradingSuspended rejects opens while the daily loss limit is breached.
	ErrTradingSuspended = errors.New("trading suspended until daily reset")
	// ErrPositionNotFound marks an unknown position id.
	ErrPositionNotFound = errors.New("position not found")
	// ErrPositionClosed rejects a second close of the same position.
	ErrPositionClosed = errors.New("position already closed")
	// ErrInvalidSpec rejects an open request with nonsensical parameters.
	ErrInvalidSpec = errors.New("invalid position spec")
)
