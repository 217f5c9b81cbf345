package ledger

import (
	"context"
	"errors"
	"fmt"
	"log"

	"escra/internal/models"
	"escra/internal/money"
	"escra/internal/repositories"
	"escra/internal/services/provider"

	"gorm.io/gorm"
)

// Cache is the read-path cache the ledger invalidates on writes.
type Cache interface {
	CacheWallet(ctx context.Context, wallet *models.Wallet) error
	GetWallet(ctx context.Context, walletID uint) (*models.Wallet, error)
	InvalidateWallet(ctx context.Context, walletID uint) error
}

type noopCache struct{}

func (noopCache) CacheWallet(context.Context, *models.Wallet) error         { return nil }
func (noopCache) GetWallet(context.Context, uint) (*models.Wallet, error)  { return nil, nil }
func (noopCache) InvalidateWallet(context.Context, uint) error             { return nil }

type service struct {
	repo     repositories.WalletRepository
	cache    Cache
	provider provider.Client
	config   Config
	metrics  MetricsCollector
}

// NewService creates a new ledger service.
func NewService(
	repo repositories.WalletRepository,
	cache Cache,
	providerClient provider.Client,
	config Config,
	metrics MetricsCollector,
) Service {
	if repo == nil {
		panic("repo is required")
	}
	if providerClient == nil {
		panic("provider client is required")
	}
	if cache == nil {
		cache = noopCache{}
	}
	if metrics == nil {
		metrics = &NoopMetricsCollector{}
	}
	if config.DefaultCurrency == "" {
		config.DefaultCurrency = "USD"
	}

	return &service{
		repo:     repo,
		cache:    cache,
		provider: providerClient,
		config:   config,
		metrics:  metrics,
	}
}

// InTx binds the service to an enclosing gorm transaction.
func (s *service) InTx(tx *gorm.DB) Service {
	clone := *s
	clone.repo = repositories.NewWalletRepository(tx)
	return &clone
}

func (s *service) CreateWallet(ctx context.Context, ownerID uint, walletType string, projectID *uint) (*models.Wallet, error) {
	wallet := &models.Wallet{
		OwnerID:   ownerID,
		Type:      walletType,
		ProjectID: projectID,
		Currency:  s.config.DefaultCurrency,
		Status:    models.WalletStatusActive,
	}
	if err := s.repo.Create(wallet); err != nil {
		return nil, fmt.Errorf("failed to create wallet: %w", err)
	}
	s.cache.CacheWallet(ctx, wallet)
	return wallet, nil
}

func (s *service) GetOrCreateUserWallet(ctx context.Context, ownerID uint) (*models.Wallet, error) {
	wallet, err := s.repo.GetByOwner(ownerID, models.WalletTypeUser)
	if err == nil {
		return wallet, nil
	}
	if !errors.Is(err, repositories.ErrWalletNotFound) {
		return nil, err
	}
	return s.CreateWallet(ctx, ownerID, models.WalletTypeUser, nil)
}

// GetPlatformWallet resolves the wallet that accrues platform fees, creating
// it on first use.
func (s *service) GetPlatformWallet(ctx context.Context) (*models.Wallet, error) {
	wallet, err := s.repo.GetByOwner(s.config.PlatformUserID, models.WalletTypePlatform)
	if err == nil {
		return wallet, nil
	}
	if !errors.Is(err, repositories.ErrWalletNotFound) {
		return nil, err
	}
	return s.CreateWallet(ctx, s.config.PlatformUserID, models.WalletTypePlatform, nil)
}

func (s *service) GetWallet(ctx context.Context, walletID uint) (*models.Wallet, error) {
	if wallet, err := s.cache.GetWallet(ctx, walletID); err == nil && wallet != nil {
		return wallet, nil
	}

	wallet, err := s.repo.GetByID(walletID)
	if err != nil {
		if errors.Is(err, repositories.ErrWalletNotFound) {
			return nil, ErrWalletNotFound
		}
		return nil, fmt.Errorf("failed to get wallet: %w", err)
	}

	s.cache.CacheWallet(ctx, wallet)
	return wallet, nil
}

// GetBalance always reads the committed database state, never the cache.
func (s *service) GetBalance(ctx context.Context, walletID uint) (*Balance, error) {
	wallet, err := s.repo.GetByID(walletID)
	if err != nil {
		if errors.Is(err, repositories.ErrWalletNotFound) {
			return nil, ErrWalletNotFound
		}
		return nil, fmt.Errorf("failed to get wallet: %w", err)
	}
	return &Balance{
		WalletID:         wallet.ID,
		Balance:          wallet.Balance,
		LockedBalance:    wallet.LockedBalance,
		AvailableBalance: wallet.Available(),
		Currency:         wallet.Currency,
	}, nil
}

func (s *service) ListTransactions(ctx context.Context, walletID uint, limit, offset int) ([]models.WalletTransaction, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return s.repo.ListTransactions(walletID, limit, offset)
}

// checkInvariants verifies 0 <= lockedBalance <= balance after a mutation.
// A failure here is never auto-corrected.
func (s *service) checkInvariants(wallet *models.Wallet) error {
	if wallet.LockedBalance < 0 || wallet.LockedBalance > wallet.Balance || wallet.Balance < 0 {
		log.Printf("SEVERE: wallet %d invariant violated: balance=%d locked=%d",
			wallet.ID, wallet.Balance, wallet.LockedBalance)
		return fmt.Errorf("%w: wallet %d balance=%d locked=%d",
			ErrIntegrityViolation, wallet.ID, wallet.Balance, wallet.LockedBalance)
	}
	return nil
}

// priorByKey resolves an idempotency replay to the previously committed record.
func (s *service) priorByKey(key string) (*models.WalletTransaction, error) {
	prior, err := s.repo.GetTransactionByKey(key)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve idempotency key %q: %w", key, err)
	}
	return prior, ErrDuplicateOperation
}

func (s *service) Credit(ctx context.Context, req CreditRequest) (*models.WalletTransaction, error) {
	if req.Amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if req.Key == "" {
		return nil, ErrMissingKey
	}

	var record *models.WalletTransaction
	err := s.repo.ExecuteInTransaction(func(tx repositories.WalletRepository) error {
		if prior, err := tx.GetTransactionByKey(req.Key); err == nil {
			record = prior
			return ErrDuplicateOperation
		}

		wallet, err := tx.GetForUpdate(req.WalletID)
		if err != nil {
			if errors.Is(err, repositories.ErrWalletNotFound) {
				return ErrWalletNotFound
			}
			return err
		}
		if wallet.Status != models.WalletStatusActive {
			return ErrWalletDeactivated
		}

		wallet.Balance += req.Amount
		if err := s.checkInvariants(wallet); err != nil {
			return err
		}
		if err := tx.Update(wallet); err != nil {
			return err
		}

		key := req.Key
		record = &models.WalletTransaction{
			Type:           models.TxTypeDeposit,
			DestWalletID:   &wallet.ID,
			Amount:         req.Amount,
			Currency:       wallet.Currency,
			Status:         models.TxStatusCompleted,
			IdempotencyKey: &key,
			RelatedType:    req.RelatedType,
			RelatedID:      req.RelatedID,
			Description:    req.Reason,
		}
		return tx.CreateTransaction(record)
	})

	if errors.Is(err, ErrDuplicateOperation) {
		return record, ErrDuplicateOperation
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		// Lost a key race to a concurrent replay; the winner's record stands.
		return s.priorByKey(req.Key)
	}
	if err != nil {
		s.metrics.RecordError("credit", err.Error())
		return nil, err
	}

	s.cache.InvalidateWallet(ctx, req.WalletID)
	s.metrics.RecordTransaction(models.TxTypeDeposit, req.Amount)
	return record, nil
}

func (s *service) Lock(ctx context.Context, walletID uint, amount int64, reason string) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}

	err := s.repo.ExecuteInTransaction(func(tx repositories.WalletRepository) error {
		wallet, err := tx.GetForUpdate(walletID)
		if err != nil {
			if errors.Is(err, repositories.ErrWalletNotFound) {
				return ErrWalletNotFound
			}
			return err
		}
		if wallet.Status != models.WalletStatusActive {
			return ErrWalletDeactivated
		}
		if wallet.Available() < amount {
			return ErrInsufficientFunds
		}

		wallet.LockedBalance += amount
		if err := s.checkInvariants(wallet); err != nil {
			return err
		}
		if err := tx.Update(wallet); err != nil {
			return err
		}

		return tx.CreateTransaction(&models.WalletTransaction{
			Type:           models.TxTypeLock,
			SourceWalletID: &wallet.ID,
			Amount:         amount,
			Currency:       wallet.Currency,
			Status:         models.TxStatusCompleted,
			Description:    reason,
		})
	})
	if err != nil {
		s.metrics.RecordError("lock", err.Error())
		return err
	}

	s.cache.InvalidateWallet(ctx, walletID)
	return nil
}

func (s *service) Unlock(ctx context.Context, walletID uint, amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}

	err := s.repo.ExecuteInTransaction(func(tx repositories.WalletRepository) error {
		wallet, err := tx.GetForUpdate(walletID)
		if err != nil {
			if errors.Is(err, repositories.ErrWalletNotFound) {
				return ErrWalletNotFound
			}
			return err
		}
		if wallet.LockedBalance < amount {
			return fmt.Errorf("%w: unlock of %d exceeds locked balance %d",
				ErrInvalidState, amount, wallet.LockedBalance)
		}

		wallet.LockedBalance -= amount
		if err := s.checkInvariants(wallet); err != nil {
			return err
		}
		if err := tx.Update(wallet); err != nil {
			return err
		}

		return tx.CreateTransaction(&models.WalletTransaction{
			Type:           models.TxTypeUnlock,
			SourceWalletID: &wallet.ID,
			Amount:         amount,
			Currency:       wallet.Currency,
			Status:         models.TxStatusCompleted,
		})
	})
	if err != nil {
		s.metrics.RecordError("unlock", err.Error())
		return err
	}

	s.cache.InvalidateWallet(ctx, walletID)
	return nil
}

func (s *service) Transfer(ctx context.Context, req TransferRequest) (*models.WalletTransaction, error) {
	if req.Amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if req.Key == "" {
		return nil, ErrMissingKey
	}
	if req.FromWalletID == req.ToWalletID {
		return nil, ErrSameWallet
	}
	txType := req.Type
	if txType == "" {
		txType = models.TxTypeTransfer
	}

	var record *models.WalletTransaction
	err := s.repo.ExecuteInTransaction(func(tx repositories.WalletRepository) error {
		if prior, err := tx.GetTransactionByKey(req.Key); err == nil {
			record = prior
			return ErrDuplicateOperation
		}

		from, to, err := lockPair(tx, req.FromWalletID, req.ToWalletID)
		if err != nil {
			return err
		}
		if from.Status != models.WalletStatusActive {
			return ErrWalletDeactivated
		}
		if from.Currency != to.Currency {
			return ErrCurrencyMismatch
		}

		if req.FromLocked {
			if from.LockedBalance < req.Amount {
				return ErrInsufficientFunds
			}
			from.LockedBalance -= req.Amount
		} else if from.Available() < req.Amount {
			return ErrInsufficientFunds
		}
		from.Balance -= req.Amount
		to.Balance += req.Amount

		if err := s.checkInvariants(from); err != nil {
			return err
		}
		if err := s.checkInvariants(to); err != nil {
			return err
		}
		if err := tx.Update(from); err != nil {
			return err
		}
		if err := tx.Update(to); err != nil {
			return err
		}

		key := req.Key
		record = &models.WalletTransaction{
			Type:           txType,
			SourceWalletID: &from.ID,
			DestWalletID:   &to.ID,
			Amount:         req.Amount,
			Currency:       from.Currency,
			Status:         models.TxStatusCompleted,
			IdempotencyKey: &key,
			RelatedType:    req.RelatedType,
			RelatedID:      req.RelatedID,
			Description:    req.Reason,
		}
		return tx.CreateTransaction(record)
	})

	if errors.Is(err, ErrDuplicateOperation) {
		return record, ErrDuplicateOperation
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return s.priorByKey(req.Key)
	}
	if err != nil {
		s.metrics.RecordError("transfer", err.Error())
		return nil, err
	}

	s.cache.InvalidateWallet(ctx, req.FromWalletID)
	s.cache.InvalidateWallet(ctx, req.ToWalletID)
	s.metrics.RecordTransaction(txType, req.Amount)
	return record, nil
}

// lockPair takes both wallet row locks in ascending id order.
func lockPair(tx repositories.WalletRepository, fromID, toID uint) (from, to *models.Wallet, err error) {
	firstID, secondID := fromID, toID
	if toID < fromID {
		firstID, secondID = toID, fromID
	}

	first, err := tx.GetForUpdate(firstID)
	if err != nil {
		return nil, nil, walletLookupErr(err)
	}
	second, err := tx.GetForUpdate(secondID)
	if err != nil {
		return nil, nil, walletLookupErr(err)
	}

	if first.ID == fromID {
		return first, second, nil
	}
	return second, first, nil
}

func walletLookupErr(err error) error {
	if errors.Is(err, repositories.ErrWalletNotFound) {
		return ErrWalletNotFound
	}
	return err
}

// VerifyProjectEscrow re-derives escrow totals from the committed transaction
// log: held is every completed movement into the escrow wallet, released is
// every completed movement out of it.
func (s *service) VerifyProjectEscrow(ctx context.Context, projectID uint) (held, released int64, err error) {
	escrow, err := s.repo.GetByProjectID(projectID)
	if err != nil {
		if errors.Is(err, repositories.ErrWalletNotFound) {
			return 0, 0, ErrWalletNotFound
		}
		return 0, 0, err
	}

	txs, err := s.repo.ListTransactions(escrow.ID, 10000, 0)
	if err != nil {
		return 0, 0, err
	}
	for _, t := range txs {
		if t.Status != models.TxStatusCompleted {
			continue
		}
		if t.DestWalletID != nil && *t.DestWalletID == escrow.ID {
			held += t.Amount
		}
		if t.SourceWalletID != nil && *t.SourceWalletID == escrow.ID {
			released += t.Amount
		}
	}
	return held, released, nil
}

// fee computes a ledger fee through the central rounding rule.
func (s *service) fee(amount, bps int64) (int64, error) {
	f, err := money.FeeBps(amount, bps)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidAmount, err)
	}
	return f, nil
}
