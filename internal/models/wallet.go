package models

import (
	"time"
)

// Wallet types
const (
	WalletTypeUser     = "user"
	WalletTypeEscrow   = "escrow"
	WalletTypePlatform = "platform"
)

// Wallet statuses
const (
	WalletStatusActive      = "active"
	WalletStatusDeactivated = "deactivated"
)

// Wallet is an internal ledger account. Balance and LockedBalance are integer
// minor currency units; LockedBalance never exceeds Balance. Wallets are never
// deleted, only deactivated.
type Wallet struct {
	ID            uint   `gorm:"primarykey" json:"id"`
	OwnerID       uint   `gorm:"index:idx_wallet_owner_type;not null" json:"owner_id"`
	Type          string `gorm:"index:idx_wallet_owner_type;not null;default:'user'" json:"type"`
	ProjectID     *uint  `gorm:"uniqueIndex" json:"project_id,omitempty"` // set for escrow wallets only
	Balance       int64  `gorm:"not null;default:0" json:"balance"`
	LockedBalance int64  `gorm:"not null;default:0" json:"locked_balance"`
	Currency      string `gorm:"not null;default:'USD'" json:"currency"`
	Status        string `gorm:"not null;default:'active'" json:"status"`
	Version       uint64 `gorm:"not null;default:0" json:"version"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Available returns the portion of the balance not earmarked by locks.
func (w *Wallet) Available() int64 {
	return w.Balance - w.LockedBalance
}
