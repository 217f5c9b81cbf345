package ledger

import (
	"context"

	"escra/internal/models"

	"gorm.io/gorm"
)

// Service defines the wallet ledger interface. No other component mutates
// balances.
type Service interface {
	// Wallet management
	CreateWallet(ctx context.Context, ownerID uint, walletType string, projectID *uint) (*models.Wallet, error)
	GetOrCreateUserWallet(ctx context.Context, ownerID uint) (*models.Wallet, error)
	GetPlatformWallet(ctx context.Context) (*models.Wallet, error)
	GetWallet(ctx context.Context, walletID uint) (*models.Wallet, error)
	GetBalance(ctx context.Context, walletID uint) (*Balance, error)
	ListTransactions(ctx context.Context, walletID uint, limit, offset int) ([]models.WalletTransaction, error)

	// Core ledger operations
	Credit(ctx context.Context, req CreditRequest) (*models.WalletTransaction, error)
	Lock(ctx context.Context, walletID uint, amount int64, reason string) error
	Unlock(ctx context.Context, walletID uint, amount int64) error
	Transfer(ctx context.Context, req TransferRequest) (*models.WalletTransaction, error)

	// External money movement
	InitiateDeposit(ctx context.Context, userID uint, amount int64) (*models.WalletTransaction, error)
	InitiateWithdrawal(ctx context.Context, userID uint, amount int64) (*models.WalletTransaction, error)
	CompleteExternal(ctx context.Context, externalRef string) (*models.WalletTransaction, error)
	FailExternal(ctx context.Context, externalRef string, providerReason string) (*models.WalletTransaction, error)

	// VerifyProjectEscrow re-derives a project's escrow totals from the
	// transaction log for the integrity check endpoint.
	VerifyProjectEscrow(ctx context.Context, projectID uint) (held, released int64, err error)

	// InTx returns a Service bound to an enclosing gorm transaction so state
	// machine transitions and ledger movements commit as one unit.
	InTx(tx *gorm.DB) Service
}
