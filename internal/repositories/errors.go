package repositories

import "errors"

var (
	ErrWalletNotFound      = errors.New("wallet not found")
	ErrTransactionNotFound = errors.New("wallet transaction not found")
	ErrProjectNotFound     = errors.New("project not found")
	ErrMilestoneNotFound   = errors.New("milestone not found")
	ErrDisputeNotFound     = errors.New("dispute not found")
	ErrStaleVersion        = errors.New("stale version")
)
