package ledger

import (
	"time"
)

// Balance is the committed view of one wallet's funds, all minor units.
type Balance struct {
	WalletID         uint   `json:"wallet_id"`
	Balance          int64  `json:"balance"`
	LockedBalance    int64  `json:"locked_balance"`
	AvailableBalance int64  `json:"available_balance"`
	Currency         string `json:"currency"`
}

// CreditRequest credits a wallet from outside the ledger (confirmed deposit,
// adjustment). Key must be unique per causing external event.
type CreditRequest struct {
	WalletID    uint
	Amount      int64
	Key         string
	Reason      string
	RelatedType string
	RelatedID   uint
}

// TransferRequest moves funds between two internal wallets atomically.
// FromLocked spends funds previously earmarked with Lock on the source
// wallet. Type defaults to a plain transfer.
type TransferRequest struct {
	FromWalletID uint
	ToWalletID   uint
	Amount       int64
	Key          string
	Type         string
	Reason       string
	RelatedType  string
	RelatedID    uint
	FromLocked   bool
}

// Config holds ledger configuration.
type Config struct {
	DefaultCurrency  string
	WithdrawalFeeBps int64
	PlatformUserID   uint
	PendingTxTimeout time.Duration
}

// MetricsCollector records ledger operation metrics.
type MetricsCollector interface {
	RecordOperation(operation string, duration time.Duration)
	RecordTransaction(txType string, amount int64)
	RecordError(operation, errType string)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
type NoopMetricsCollector struct{}

func (n *NoopMetricsCollector) RecordOperation(string, time.Duration) {}
func (n *NoopMetricsCollector) RecordTransaction(string, int64)       {}
func (n *NoopMetricsCollector) RecordError(string, string)            {}
