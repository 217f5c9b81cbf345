package ledger

import (
	"context"
	"fmt"
	"testing"
	"time"

	"escra/internal/models"
	"escra/internal/repositories"
	"escra/internal/services/provider"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// fakeWalletRepo is an in-memory WalletRepository with the same contract the
// gorm implementation provides: unique idempotency keys surface as
// gorm.ErrDuplicatedKey and transactions are append-only.
type fakeWalletRepo struct {
	wallets      map[uint]*models.Wallet
	txs          []*models.WalletTransaction
	nextWalletID uint
	nextTxID     uint
}

func newFakeWalletRepo() *fakeWalletRepo {
	return &fakeWalletRepo{wallets: map[uint]*models.Wallet{}, nextWalletID: 1, nextTxID: 1}
}

func (r *fakeWalletRepo) Create(w *models.Wallet) error {
	w.ID = r.nextWalletID
	r.nextWalletID++
	cp := *w
	r.wallets[w.ID] = &cp
	return nil
}

func (r *fakeWalletRepo) GetByID(id uint) (*models.Wallet, error) {
	w, ok := r.wallets[id]
	if !ok {
		return nil, repositories.ErrWalletNotFound
	}
	cp := *w
	return &cp, nil
}

func (r *fakeWalletRepo) GetByOwner(ownerID uint, walletType string) (*models.Wallet, error) {
	for _, w := range r.wallets {
		if w.OwnerID == ownerID && w.Type == walletType {
			cp := *w
			return &cp, nil
		}
	}
	return nil, repositories.ErrWalletNotFound
}

func (r *fakeWalletRepo) GetByProjectID(projectID uint) (*models.Wallet, error) {
	for _, w := range r.wallets {
		if w.ProjectID != nil && *w.ProjectID == projectID {
			cp := *w
			return &cp, nil
		}
	}
	return nil, repositories.ErrWalletNotFound
}

func (r *fakeWalletRepo) GetForUpdate(id uint) (*models.Wallet, error) {
	return r.GetByID(id)
}

func (r *fakeWalletRepo) Update(w *models.Wallet) error {
	if _, ok := r.wallets[w.ID]; !ok {
		return repositories.ErrWalletNotFound
	}
	cp := *w
	r.wallets[w.ID] = &cp
	return nil
}

func (r *fakeWalletRepo) CreateTransaction(tx *models.WalletTransaction) error {
	if tx.IdempotencyKey != nil {
		for _, existing := range r.txs {
			if existing.IdempotencyKey != nil && *existing.IdempotencyKey == *tx.IdempotencyKey {
				return gorm.ErrDuplicatedKey
			}
		}
	}
	tx.ID = r.nextTxID
	r.nextTxID++
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now()
	}
	cp := *tx
	r.txs = append(r.txs, &cp)
	return nil
}

func (r *fakeWalletRepo) UpdateTransaction(tx *models.WalletTransaction) error {
	for i, existing := range r.txs {
		if existing.ID == tx.ID {
			if existing.Status != models.TxStatusPending {
				return repositories.ErrStaleVersion
			}
			cp := *tx
			r.txs[i] = &cp
			return nil
		}
	}
	return repositories.ErrTransactionNotFound
}

func (r *fakeWalletRepo) GetTransactionByID(id uint) (*models.WalletTransaction, error) {
	for _, tx := range r.txs {
		if tx.ID == id {
			cp := *tx
			return &cp, nil
		}
	}
	return nil, repositories.ErrTransactionNotFound
}

func (r *fakeWalletRepo) GetTransactionByKey(key string) (*models.WalletTransaction, error) {
	for _, tx := range r.txs {
		if tx.IdempotencyKey != nil && *tx.IdempotencyKey == key {
			cp := *tx
			return &cp, nil
		}
	}
	return nil, repositories.ErrTransactionNotFound
}

func (r *fakeWalletRepo) GetTransactionByExternalRef(ref string) (*models.WalletTransaction, error) {
	for _, tx := range r.txs {
		if tx.ExternalRef == ref {
			cp := *tx
			return &cp, nil
		}
	}
	return nil, repositories.ErrTransactionNotFound
}

func (r *fakeWalletRepo) ListTransactions(walletID uint, limit, offset int) ([]models.WalletTransaction, error) {
	var out []models.WalletTransaction
	for _, tx := range r.txs {
		if (tx.SourceWalletID != nil && *tx.SourceWalletID == walletID) ||
			(tx.DestWalletID != nil && *tx.DestWalletID == walletID) {
			out = append(out, *tx)
		}
	}
	return out, nil
}

func (r *fakeWalletRepo) ListTransactionsByRelated(relatedType string, relatedID uint) ([]models.WalletTransaction, error) {
	var out []models.WalletTransaction
	for _, tx := range r.txs {
		if tx.RelatedType == relatedType && tx.RelatedID == relatedID {
			out = append(out, *tx)
		}
	}
	return out, nil
}

func (r *fakeWalletRepo) ListPendingOlderThan(cutoff time.Time) ([]models.WalletTransaction, error) {
	var out []models.WalletTransaction
	for _, tx := range r.txs {
		if tx.Status == models.TxStatusPending && tx.CreatedAt.Before(cutoff) {
			out = append(out, *tx)
		}
	}
	return out, nil
}

func (r *fakeWalletRepo) ExecuteInTransaction(fn func(repositories.WalletRepository) error) error {
	return fn(r)
}

// fakeProvider answers provider calls deterministically.
type fakeProvider struct {
	nextID    int
	failCalls bool
	intents   map[string]provider.IntentStatus
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{intents: map[string]provider.IntentStatus{}}
}

func (p *fakeProvider) CreateDeposit(_ context.Context, req provider.DepositRequest) (*provider.Intent, error) {
	if p.failCalls {
		return nil, fmt.Errorf("provider down")
	}
	p.nextID++
	id := fmt.Sprintf("pi_%d", p.nextID)
	p.intents[id] = provider.IntentPending
	return &provider.Intent{ID: id, Status: provider.IntentPending, Amount: req.Amount, Currency: req.Currency}, nil
}

func (p *fakeProvider) CreatePayout(_ context.Context, req provider.PayoutRequest) (*provider.Intent, error) {
	if p.failCalls {
		return nil, fmt.Errorf("provider down")
	}
	p.nextID++
	id := fmt.Sprintf("po_%d", p.nextID)
	p.intents[id] = provider.IntentPending
	return &provider.Intent{ID: id, Status: provider.IntentPending, Amount: req.Amount, Currency: req.Currency}, nil
}

func (p *fakeProvider) GetIntent(_ context.Context, id string) (*provider.Intent, error) {
	status, ok := p.intents[id]
	if !ok {
		return nil, fmt.Errorf("unknown intent %s", id)
	}
	return &provider.Intent{ID: id, Status: status}, nil
}

func newTestService(repo *fakeWalletRepo) Service {
	return NewService(repo, nil, newFakeProvider(), Config{
		DefaultCurrency:  "USD",
		WithdrawalFeeBps: 100,
		PlatformUserID:   999,
	}, nil)
}

func seedWallet(t *testing.T, repo *fakeWalletRepo, ownerID uint, balance int64) *models.Wallet {
	t.Helper()
	w := &models.Wallet{
		OwnerID:  ownerID,
		Type:     models.WalletTypeUser,
		Balance:  balance,
		Currency: "USD",
		Status:   models.WalletStatusActive,
	}
	require.NoError(t, repo.Create(w))
	return w
}

func TestCredit(t *testing.T) {
	ctx := context.Background()

	t.Run("credits the wallet once per key", func(t *testing.T) {
		repo := newFakeWalletRepo()
		svc := newTestService(repo)
		w := seedWallet(t, repo, 1, 0)

		record, err := svc.Credit(ctx, CreditRequest{WalletID: w.ID, Amount: 5000, Key: "dep:1"})
		require.NoError(t, err)
		assert.Equal(t, int64(5000), record.Amount)
		assert.Equal(t, models.TxStatusCompleted, record.Status)

		// Replay with the same key must not move money again.
		replay, err := svc.Credit(ctx, CreditRequest{WalletID: w.ID, Amount: 5000, Key: "dep:1"})
		assert.ErrorIs(t, err, ErrDuplicateOperation)
		assert.Equal(t, record.ID, replay.ID)

		current, err := repo.GetByID(w.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(5000), current.Balance)
	})

	t.Run("rejects non-positive amounts and missing keys", func(t *testing.T) {
		repo := newFakeWalletRepo()
		svc := newTestService(repo)
		w := seedWallet(t, repo, 1, 0)

		_, err := svc.Credit(ctx, CreditRequest{WalletID: w.ID, Amount: 0, Key: "k"})
		assert.ErrorIs(t, err, ErrInvalidAmount)
		_, err = svc.Credit(ctx, CreditRequest{WalletID: w.ID, Amount: -5, Key: "k"})
		assert.ErrorIs(t, err, ErrInvalidAmount)
		_, err = svc.Credit(ctx, CreditRequest{WalletID: w.ID, Amount: 100})
		assert.ErrorIs(t, err, ErrMissingKey)
	})

	t.Run("rejects deactivated wallets", func(t *testing.T) {
		repo := newFakeWalletRepo()
		svc := newTestService(repo)
		w := seedWallet(t, repo, 1, 0)
		w.Status = models.WalletStatusDeactivated
		require.NoError(t, repo.Update(w))

		_, err := svc.Credit(ctx, CreditRequest{WalletID: w.ID, Amount: 100, Key: "k"})
		assert.ErrorIs(t, err, ErrWalletDeactivated)
	})
}

func TestTransfer(t *testing.T) {
	ctx := context.Background()

	t.Run("moves funds and conserves the total", func(t *testing.T) {
		repo := newFakeWalletRepo()
		svc := newTestService(repo)
		a := seedWallet(t, repo, 1, 10000)
		b := seedWallet(t, repo, 2, 500)

		_, err := svc.Transfer(ctx, TransferRequest{FromWalletID: a.ID, ToWalletID: b.ID, Amount: 4000, Key: "t:1"})
		require.NoError(t, err)

		aNow, _ := repo.GetByID(a.ID)
		bNow, _ := repo.GetByID(b.ID)
		assert.Equal(t, int64(6000), aNow.Balance)
		assert.Equal(t, int64(4500), bNow.Balance)
		assert.Equal(t, int64(10500), aNow.Balance+bNow.Balance)
	})

	t.Run("replay with the same key moves funds exactly once", func(t *testing.T) {
		repo := newFakeWalletRepo()
		svc := newTestService(repo)
		a := seedWallet(t, repo, 1, 10000)
		b := seedWallet(t, repo, 2, 0)

		first, err := svc.Transfer(ctx, TransferRequest{FromWalletID: a.ID, ToWalletID: b.ID, Amount: 4000, Key: "t:1"})
		require.NoError(t, err)
		replay, err := svc.Transfer(ctx, TransferRequest{FromWalletID: a.ID, ToWalletID: b.ID, Amount: 4000, Key: "t:1"})
		assert.ErrorIs(t, err, ErrDuplicateOperation)
		assert.Equal(t, first.ID, replay.ID)

		aNow, _ := repo.GetByID(a.ID)
		bNow, _ := repo.GetByID(b.ID)
		assert.Equal(t, int64(6000), aNow.Balance)
		assert.Equal(t, int64(4000), bNow.Balance)
	})

	t.Run("insufficient available funds fail atomically", func(t *testing.T) {
		repo := newFakeWalletRepo()
		svc := newTestService(repo)
		a := seedWallet(t, repo, 1, 1000)
		b := seedWallet(t, repo, 2, 0)

		_, err := svc.Transfer(ctx, TransferRequest{FromWalletID: a.ID, ToWalletID: b.ID, Amount: 2000, Key: "t:1"})
		assert.ErrorIs(t, err, ErrInsufficientFunds)

		aNow, _ := repo.GetByID(a.ID)
		bNow, _ := repo.GetByID(b.ID)
		assert.Equal(t, int64(1000), aNow.Balance)
		assert.Equal(t, int64(0), bNow.Balance)
	})

	t.Run("locked funds do not count as available", func(t *testing.T) {
		repo := newFakeWalletRepo()
		svc := newTestService(repo)
		a := seedWallet(t, repo, 1, 1000)
		b := seedWallet(t, repo, 2, 0)
		require.NoError(t, svc.Lock(ctx, a.ID, 800, "hold"))

		_, err := svc.Transfer(ctx, TransferRequest{FromWalletID: a.ID, ToWalletID: b.ID, Amount: 500, Key: "t:1"})
		assert.ErrorIs(t, err, ErrInsufficientFunds)
	})

	t.Run("FromLocked spends the earmarked hold", func(t *testing.T) {
		repo := newFakeWalletRepo()
		svc := newTestService(repo)
		a := seedWallet(t, repo, 1, 1000)
		b := seedWallet(t, repo, 2, 0)
		require.NoError(t, svc.Lock(ctx, a.ID, 800, "hold"))

		_, err := svc.Transfer(ctx, TransferRequest{
			FromWalletID: a.ID, ToWalletID: b.ID, Amount: 800, Key: "t:1", FromLocked: true,
		})
		require.NoError(t, err)

		aNow, _ := repo.GetByID(a.ID)
		assert.Equal(t, int64(200), aNow.Balance)
		assert.Equal(t, int64(0), aNow.LockedBalance)
	})

	t.Run("rejects same wallet and currency mismatch", func(t *testing.T) {
		repo := newFakeWalletRepo()
		svc := newTestService(repo)
		a := seedWallet(t, repo, 1, 1000)
		b := seedWallet(t, repo, 2, 0)
		b.Currency = "EUR"
		require.NoError(t, repo.Update(b))

		_, err := svc.Transfer(ctx, TransferRequest{FromWalletID: a.ID, ToWalletID: a.ID, Amount: 100, Key: "t:1"})
		assert.ErrorIs(t, err, ErrSameWallet)
		_, err = svc.Transfer(ctx, TransferRequest{FromWalletID: a.ID, ToWalletID: b.ID, Amount: 100, Key: "t:2"})
		assert.ErrorIs(t, err, ErrCurrencyMismatch)
	})
}

func TestLockUnlock(t *testing.T) {
	ctx := context.Background()
	repo := newFakeWalletRepo()
	svc := newTestService(repo)
	w := seedWallet(t, repo, 1, 1000)

	require.NoError(t, svc.Lock(ctx, w.ID, 600, "hold"))
	assert.ErrorIs(t, svc.Lock(ctx, w.ID, 600, "hold"), ErrInsufficientFunds)

	assert.ErrorIs(t, svc.Unlock(ctx, w.ID, 700), ErrInvalidState)
	require.NoError(t, svc.Unlock(ctx, w.ID, 600))

	wNow, _ := repo.GetByID(w.ID)
	assert.Equal(t, int64(0), wNow.LockedBalance)
	assert.Equal(t, int64(1000), wNow.Balance)
}

func TestInitiateWithdrawal(t *testing.T) {
	ctx := context.Background()

	t.Run("holds the full amount and records a pending withdrawal", func(t *testing.T) {
		repo := newFakeWalletRepo()
		svc := newTestService(repo)
		w := seedWallet(t, repo, 1, 10000)

		record, err := svc.InitiateWithdrawal(ctx, 1, 10000)
		require.NoError(t, err)
		assert.Equal(t, models.TxStatusPending, record.Status)
		assert.Equal(t, int64(10000), record.Amount)
		// The withheld fee is carried as a typed column on the record.
		assert.Equal(t, int64(100), record.FeeAmount)

		wNow, _ := repo.GetByID(w.ID)
		assert.Equal(t, int64(10000), wNow.LockedBalance)
		assert.Equal(t, int64(10000), wNow.Balance)
	})

	t.Run("provider failure releases the hold", func(t *testing.T) {
		repo := newFakeWalletRepo()
		prov := newFakeProvider()
		prov.failCalls = true
		svc := NewService(repo, nil, prov, Config{DefaultCurrency: "USD", WithdrawalFeeBps: 100, PlatformUserID: 999}, nil)
		w := seedWallet(t, repo, 1, 10000)

		_, err := svc.InitiateWithdrawal(ctx, 1, 5000)
		assert.ErrorIs(t, err, ErrProviderFailed)

		wNow, _ := repo.GetByID(w.ID)
		assert.Equal(t, int64(0), wNow.LockedBalance)
		assert.Equal(t, int64(10000), wNow.Balance)
	})
}

func TestCompleteExternal(t *testing.T) {
	ctx := context.Background()

	t.Run("withdrawal completion debits, releases the hold and books the fee", func(t *testing.T) {
		repo := newFakeWalletRepo()
		svc := newTestService(repo)
		w := seedWallet(t, repo, 1, 10000)
		platform := &models.Wallet{OwnerID: 999, Type: models.WalletTypePlatform, Currency: "USD", Status: models.WalletStatusActive}
		require.NoError(t, repo.Create(platform))

		record, err := svc.InitiateWithdrawal(ctx, 1, 10000)
		require.NoError(t, err)

		done, err := svc.CompleteExternal(ctx, record.ExternalRef)
		require.NoError(t, err)
		assert.Equal(t, models.TxStatusCompleted, done.Status)

		wNow, _ := repo.GetByID(w.ID)
		assert.Equal(t, int64(0), wNow.Balance)
		assert.Equal(t, int64(0), wNow.LockedBalance)

		// 100 bps of 10000 is a 100 minor unit fee.
		pNow, _ := repo.GetByID(platform.ID)
		assert.Equal(t, int64(100), pNow.Balance)

		// Completing again applies nothing.
		_, err = svc.CompleteExternal(ctx, record.ExternalRef)
		assert.ErrorIs(t, err, ErrDuplicateOperation)
		wAgain, _ := repo.GetByID(w.ID)
		assert.Equal(t, int64(0), wAgain.Balance)
	})

	t.Run("deposit completion credits the wallet once", func(t *testing.T) {
		repo := newFakeWalletRepo()
		svc := newTestService(repo)
		w := seedWallet(t, repo, 1, 0)

		record, err := svc.InitiateDeposit(ctx, 1, 2500)
		require.NoError(t, err)

		_, err = svc.CompleteExternal(ctx, record.ExternalRef)
		require.NoError(t, err)
		_, err = svc.CompleteExternal(ctx, record.ExternalRef)
		assert.ErrorIs(t, err, ErrDuplicateOperation)

		wNow, _ := repo.GetByID(w.ID)
		assert.Equal(t, int64(2500), wNow.Balance)
	})
}

func TestFailExternal(t *testing.T) {
	ctx := context.Background()
	repo := newFakeWalletRepo()
	svc := newTestService(repo)
	w := seedWallet(t, repo, 1, 10000)

	record, err := svc.InitiateWithdrawal(ctx, 1, 4000)
	require.NoError(t, err)

	failed, err := svc.FailExternal(ctx, record.ExternalRef, "card declined")
	require.NoError(t, err)
	assert.Equal(t, models.TxStatusFailed, failed.Status)
	assert.Equal(t, "card declined", failed.Metadata["failure_reason"])

	wNow, _ := repo.GetByID(w.ID)
	assert.Equal(t, int64(10000), wNow.Balance)
	assert.Equal(t, int64(0), wNow.LockedBalance)
}

func TestVerifyProjectEscrow(t *testing.T) {
	ctx := context.Background()
	repo := newFakeWalletRepo()
	svc := newTestService(repo)
	payer := seedWallet(t, repo, 1, 20000)
	payee := seedWallet(t, repo, 2, 0)

	projectID := uint(7)
	escrow, err := svc.CreateWallet(ctx, 999, models.WalletTypeEscrow, &projectID)
	require.NoError(t, err)

	_, err = svc.Transfer(ctx, TransferRequest{FromWalletID: payer.ID, ToWalletID: escrow.ID, Amount: 10000, Key: "fund:7"})
	require.NoError(t, err)
	_, err = svc.Transfer(ctx, TransferRequest{FromWalletID: escrow.ID, ToWalletID: payee.ID, Amount: 4000, Key: "release:1"})
	require.NoError(t, err)

	held, released, err := svc.VerifyProjectEscrow(ctx, projectID)
	require.NoError(t, err)
	assert.Equal(t, int64(10000), held)
	assert.Equal(t, int64(4000), released)
}
