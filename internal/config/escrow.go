package config

import (
	"time"
)

// EscrowConfig is the single authoritative fee and timing configuration for
// the settlement engine. Fees are basis points (100 bps = 1%); there is no
// separate flat platform fee.
type EscrowConfig struct {
	// PayerFeeBps is charged on top of the funded amount at deposit time.
	PayerFeeBps int64
	// PayeeFeeBps is withheld from each milestone release.
	PayeeFeeBps int64
	// WithdrawalFeeBps is withheld from external withdrawals.
	WithdrawalFeeBps int64

	// AutoApproveGrace is the window after submission in which the payer can
	// review before the reconciler approves on their behalf.
	AutoApproveGrace time.Duration
	// DisputeStaleAfter is how long a dispute may sit in OPEN or
	// AUTOMATED_REVIEW before the reconciler escalates it to MEDIATION.
	DisputeStaleAfter time.Duration
	// PendingTxTimeout is how long a pending wallet transaction may wait on
	// the provider before the sweep queries for the definitive outcome.
	PendingTxTimeout time.Duration
	// SweepInterval is the reconciler tick period.
	SweepInterval time.Duration

	// RevisionLimit caps REVISION_REQUESTED -> IN_PROGRESS cycles per milestone.
	RevisionLimit int

	DefaultCurrency string
	// PlatformUserID owns the platform fee wallet and every escrow wallet.
	PlatformUserID uint
}

// LoadEscrowConfig reads the escrow configuration from the environment.
func LoadEscrowConfig() EscrowConfig {
	return EscrowConfig{
		PayerFeeBps:       int64(GetIntEnv("PAYER_FEE_BPS", 190)),
		PayeeFeeBps:       int64(GetIntEnv("PAYEE_FEE_BPS", 360)),
		WithdrawalFeeBps:  int64(GetIntEnv("WITHDRAWAL_FEE_BPS", 100)),
		AutoApproveGrace:  GetDurationEnv("AUTO_APPROVE_GRACE", 7*24*time.Hour),
		DisputeStaleAfter: GetDurationEnv("DISPUTE_STALE_AFTER", 72*time.Hour),
		PendingTxTimeout:  GetDurationEnv("PENDING_TX_TIMEOUT", 30*time.Minute),
		SweepInterval:     GetDurationEnv("SWEEP_INTERVAL", time.Minute),
		RevisionLimit:     GetIntEnv("REVISION_LIMIT", 3),
		DefaultCurrency:   GetEnv("DEFAULT_CURRENCY", "USD"),
		PlatformUserID:    uint(GetIntEnv("PLATFORM_USER_ID", 1)),
	}
}
