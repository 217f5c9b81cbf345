package repositories

import (
	"time"

	"escra/internal/models"
)

// WalletRepository is the data access contract for wallets and their
// append-only transaction log. GetForUpdate is only meaningful inside
// ExecuteInTransaction; it takes the row-level exclusive lock that linearizes
// all mutations of a wallet.
type WalletRepository interface {
	Create(wallet *models.Wallet) error
	GetByID(id uint) (*models.Wallet, error)
	GetByOwner(ownerID uint, walletType string) (*models.Wallet, error)
	GetByProjectID(projectID uint) (*models.Wallet, error)
	GetForUpdate(id uint) (*models.Wallet, error)
	Update(wallet *models.Wallet) error

	CreateTransaction(tx *models.WalletTransaction) error
	UpdateTransaction(tx *models.WalletTransaction) error
	GetTransactionByID(id uint) (*models.WalletTransaction, error)
	GetTransactionByKey(key string) (*models.WalletTransaction, error)
	GetTransactionByExternalRef(ref string) (*models.WalletTransaction, error)
	ListTransactions(walletID uint, limit, offset int) ([]models.WalletTransaction, error)
	ListTransactionsByRelated(relatedType string, relatedID uint) ([]models.WalletTransaction, error)
	ListPendingOlderThan(cutoff time.Time) ([]models.WalletTransaction, error)

	ExecuteInTransaction(fn func(WalletRepository) error) error
}
