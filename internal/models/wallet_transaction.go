package models

import (
	"time"
)

// Wallet transaction types
const (
	TxTypeDeposit    = "deposit"
	TxTypeWithdrawal = "withdrawal"
	TxTypeTransfer   = "transfer"
	TxTypeLock       = "lock"
	TxTypeUnlock     = "unlock"
	TxTypeRefund     = "refund"
	TxTypeFee        = "fee"
)

// Wallet transaction statuses
const (
	TxStatusPending   = "pending"
	TxStatusCompleted = "completed"
	TxStatusFailed    = "failed"
)

// Reference entity kinds for RelatedType.
const (
	RefProject   = "project"
	RefMilestone = "milestone"
	RefDispute   = "dispute"
)

// WalletTransaction is an immutable record of one ledger movement. Amounts are
// integer minor units. A record never changes after reaching completed or
// failed; pending records transition exactly once. SourceWalletID is nil for
// external deposits, DestWalletID is nil for external withdrawals.
type WalletTransaction struct {
	ID             uint    `gorm:"primarykey" json:"id"`
	Type           string  `gorm:"not null;index" json:"type"`
	SourceWalletID *uint   `gorm:"index" json:"source_wallet_id,omitempty"`
	DestWalletID   *uint   `gorm:"index" json:"dest_wallet_id,omitempty"`
	Amount         int64   `gorm:"not null" json:"amount"`
	// FeeAmount is the platform's withheld share of Amount, settled when the
	// record completes. Typed so fee math never round-trips through jsonb.
	FeeAmount      int64   `gorm:"not null;default:0" json:"fee_amount,omitempty"`
	Currency       string  `gorm:"not null;default:'USD'" json:"currency"`
	Status         string  `gorm:"not null;default:'pending';index" json:"status"`
	IdempotencyKey *string `gorm:"uniqueIndex" json:"idempotency_key,omitempty"`
	ExternalRef    string  `gorm:"index" json:"external_ref,omitempty"` // provider intent/payout id
	RelatedType    string  `json:"related_type,omitempty"`
	RelatedID      uint    `json:"related_id,omitempty"`
	Description    string  `json:"description,omitempty"`
	Metadata       JSON    `gorm:"type:jsonb" json:"metadata,omitempty"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
