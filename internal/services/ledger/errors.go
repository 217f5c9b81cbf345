package ledger

import "errors"

// Service errors
var (
	ErrInvalidAmount      = errors.New("invalid amount")
	ErrInsufficientFunds  = errors.New("insufficient funds")
	ErrInvalidState       = errors.New("invalid wallet state for operation")
	ErrDuplicateOperation = errors.New("operation already applied")
	ErrWalletNotFound     = errors.New("wallet not found")
	ErrWalletDeactivated  = errors.New("wallet is deactivated")
	ErrSameWallet         = errors.New("source and destination wallets are the same")
	ErrCurrencyMismatch   = errors.New("wallet currencies do not match")
	ErrMissingKey         = errors.New("idempotency key is required")
	// ErrIntegrityViolation means a balance invariant failed inside a
	// committed-state check. It is fatal for the operation and must surface
	// for operator intervention.
	ErrIntegrityViolation = errors.New("ledger integrity violation")
	ErrProviderFailed     = errors.New("payment provider call failed")
)
