package repositories

import (
	"errors"
	"fmt"
	"time"

	"escra/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type walletRepository struct {
	db *gorm.DB
}

func NewWalletRepository(db *gorm.DB) WalletRepository {
	return &walletRepository{db: db}
}

func (r *walletRepository) Create(wallet *models.Wallet) error {
	if result := r.db.Create(wallet); result.Error != nil {
		return fmt.Errorf("failed to create wallet: %w", result.Error)
	}
	return nil
}

func (r *walletRepository) GetByID(id uint) (*models.Wallet, error) {
	var wallet models.Wallet
	if err := r.db.First(&wallet, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrWalletNotFound
		}
		return nil, fmt.Errorf("failed to get wallet: %w", err)
	}
	return &wallet, nil
}

func (r *walletRepository) GetByOwner(ownerID uint, walletType string) (*models.Wallet, error) {
	var wallet models.Wallet
	err := r.db.Where("owner_id = ? AND type = ?", ownerID, walletType).First(&wallet).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrWalletNotFound
		}
		return nil, fmt.Errorf("failed to get wallet: %w", err)
	}
	return &wallet, nil
}

func (r *walletRepository) GetByProjectID(projectID uint) (*models.Wallet, error) {
	var wallet models.Wallet
	err := r.db.Where("project_id = ?", projectID).First(&wallet).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrWalletNotFound
		}
		return nil, fmt.Errorf("failed to get escrow wallet: %w", err)
	}
	return &wallet, nil
}

// GetForUpdate takes a SELECT ... FOR UPDATE row lock. Callers locking two
// wallets must lock in ascending id order to avoid deadlock.
func (r *walletRepository) GetForUpdate(id uint) (*models.Wallet, error) {
	var wallet models.Wallet
	err := r.db.Clauses(clause.Locking{Strength: "UPDATE"}).First(&wallet, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrWalletNotFound
		}
		return nil, fmt.Errorf("failed to lock wallet: %w", err)
	}
	return &wallet, nil
}

// Update persists balance changes with an optimistic version guard on top of
// the row lock. A zero-row update means the caller held a stale snapshot.
func (r *walletRepository) Update(wallet *models.Wallet) error {
	result := r.db.Model(&models.Wallet{}).
		Where("id = ? AND version = ?", wallet.ID, wallet.Version).
		Updates(map[string]interface{}{
			"balance":        wallet.Balance,
			"locked_balance": wallet.LockedBalance,
			"status":         wallet.Status,
			"version":        wallet.Version + 1,
			"updated_at":     time.Now(),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to update wallet: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrStaleVersion
	}
	wallet.Version++
	return nil
}

func (r *walletRepository) CreateTransaction(tx *models.WalletTransaction) error {
	if result := r.db.Create(tx); result.Error != nil {
		return fmt.Errorf("failed to create wallet transaction: %w", result.Error)
	}
	return nil
}

// UpdateTransaction transitions a pending record. Completed and failed
// records are immutable.
func (r *walletRepository) UpdateTransaction(tx *models.WalletTransaction) error {
	result := r.db.Model(&models.WalletTransaction{}).
		Where("id = ? AND status = ?", tx.ID, models.TxStatusPending).
		Updates(map[string]interface{}{
			"status":     tx.Status,
			"metadata":   tx.Metadata,
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to update wallet transaction: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrStaleVersion
	}
	return nil
}

func (r *walletRepository) GetTransactionByID(id uint) (*models.WalletTransaction, error) {
	var tx models.WalletTransaction
	if err := r.db.First(&tx, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTransactionNotFound
		}
		return nil, fmt.Errorf("failed to get wallet transaction: %w", err)
	}
	return &tx, nil
}

func (r *walletRepository) GetTransactionByKey(key string) (*models.WalletTransaction, error) {
	var tx models.WalletTransaction
	if err := r.db.Where("idempotency_key = ?", key).First(&tx).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTransactionNotFound
		}
		return nil, fmt.Errorf("failed to get wallet transaction by key: %w", err)
	}
	return &tx, nil
}

func (r *walletRepository) GetTransactionByExternalRef(ref string) (*models.WalletTransaction, error) {
	var tx models.WalletTransaction
	if err := r.db.Where("external_ref = ?", ref).First(&tx).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTransactionNotFound
		}
		return nil, fmt.Errorf("failed to get wallet transaction by ref: %w", err)
	}
	return &tx, nil
}

func (r *walletRepository) ListTransactions(walletID uint, limit, offset int) ([]models.WalletTransaction, error) {
	var txs []models.WalletTransaction
	err := r.db.
		Where("source_wallet_id = ? OR dest_wallet_id = ?", walletID, walletID).
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&txs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list wallet transactions: %w", err)
	}
	return txs, nil
}

func (r *walletRepository) ListTransactionsByRelated(relatedType string, relatedID uint) ([]models.WalletTransaction, error) {
	var txs []models.WalletTransaction
	err := r.db.
		Where("related_type = ? AND related_id = ?", relatedType, relatedID).
		Order("created_at ASC").
		Find(&txs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list related wallet transactions: %w", err)
	}
	return txs, nil
}

func (r *walletRepository) ListPendingOlderThan(cutoff time.Time) ([]models.WalletTransaction, error) {
	var txs []models.WalletTransaction
	err := r.db.
		Where("status = ? AND created_at < ?", models.TxStatusPending, cutoff).
		Order("created_at ASC").
		Find(&txs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list pending wallet transactions: %w", err)
	}
	return txs, nil
}

func (r *walletRepository) ExecuteInTransaction(fn func(WalletRepository) error) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		return fn(&walletRepository{db: tx})
	})
}
