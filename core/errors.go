package core

import "errors"

// Configuration errors abort before any state is touched.
var (
	ErrMisconfiguredClient   = errors.New("misconfigured client")
	ErrBlockGasLimitExceeded = errors.New("tx has a higher gas limit than the block")
)

// Consensus validation errors. The transaction checkpoint is always reverted
// before one of these is returned.
var (
	ErrInvalidGasLimit    = errors.New("invalid gas limit")
	ErrInvalidGasPrice    = errors.New("invalid gas price")
	ErrInsufficientFunds  = errors.New("insufficient funds")
	ErrNonceTooLow        = errors.New("nonce too low")
	ErrNonceTooHigh       = errors.New("nonce too high")
	ErrInvalidTransaction = errors.New("invalid transaction")
	ErrEIPNotEnabled      = errors.New("eip not enabled")
	ErrInvalidParams      = errors.New("invalid params")
)

// ErrInternal marks a violated internal invariant. It is a programming
// defect, never a user error, and must not be retried.
var ErrInternal = errors.New("internal error")

var consensusErrors = []error{
	ErrInvalidGasLimit,
	ErrInvalidGasPrice,
	ErrInsufficientFunds,
	ErrNonceTooLow,
	ErrNonceTooHigh,
	ErrInvalidTransaction,
	ErrEIPNotEnabled,
	ErrInvalidParams,
}

// IsConsensusError reports whether err is a consensus validation failure.
func IsConsensusError(err error) bool {
	for _, target := range consensusErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// IsConfigError reports whether err is a configuration failure.
func IsConfigError(err error) bool {
	return errors.Is(err, ErrMisconfiguredClient) || errors.Is(err, ErrBlockGasLimitExceeded)
}
