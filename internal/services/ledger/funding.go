package ledger

import (
	"context"
	"errors"
	"fmt"

	"escra/internal/models"
	"escra/internal/repositories"
	"escra/internal/services/provider"
)

// InitiateDeposit creates a provider payment intent and a pending deposit
// record keyed by the intent id. The wallet is only credited when the
// provider confirms the deposit through the reconciler.
func (s *service) InitiateDeposit(ctx context.Context, userID uint, amount int64) (*models.WalletTransaction, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	wallet, err := s.GetOrCreateUserWallet(ctx, userID)
	if err != nil {
		return nil, err
	}
	if wallet.Status != models.WalletStatusActive {
		return nil, ErrWalletDeactivated
	}

	intent, err := s.provider.CreateDeposit(ctx, provider.DepositRequest{
		Amount:   amount,
		Currency: wallet.Currency,
		UserID:   userID,
	})
	if err != nil {
		s.metrics.RecordError("deposit", err.Error())
		return nil, fmt.Errorf("%w: %v", ErrProviderFailed, err)
	}

	key := "deposit:" + intent.ID
	record := &models.WalletTransaction{
		Type:           models.TxTypeDeposit,
		DestWalletID:   &wallet.ID,
		Amount:         amount,
		Currency:       wallet.Currency,
		Status:         models.TxStatusPending,
		IdempotencyKey: &key,
		ExternalRef:    intent.ID,
		Description:    "external deposit",
	}
	if err := s.repo.CreateTransaction(record); err != nil {
		return nil, err
	}
	return record, nil
}

// InitiateWithdrawal earmarks the amount, asks the provider for a payout of
// the net (amount minus withdrawal fee) and records a pending withdrawal.
// The lock commits before the provider is called; no lock is held across the
// external call.
func (s *service) InitiateWithdrawal(ctx context.Context, userID uint, amount int64) (*models.WalletTransaction, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	wallet, err := s.GetOrCreateUserWallet(ctx, userID)
	if err != nil {
		return nil, err
	}

	fee, err := s.fee(amount, s.config.WithdrawalFeeBps)
	if err != nil {
		return nil, err
	}

	if err := s.Lock(ctx, wallet.ID, amount, "withdrawal hold"); err != nil {
		return nil, err
	}

	payout, err := s.provider.CreatePayout(ctx, provider.PayoutRequest{
		Amount:   amount - fee,
		Currency: wallet.Currency,
		UserID:   userID,
	})
	if err != nil {
		// Release the hold; nothing left the platform.
		if unlockErr := s.Unlock(ctx, wallet.ID, amount); unlockErr != nil {
			return nil, fmt.Errorf("%w: payout failed (%v) and hold release failed: %v",
				ErrIntegrityViolation, err, unlockErr)
		}
		s.metrics.RecordError("withdrawal", err.Error())
		return nil, fmt.Errorf("%w: %v", ErrProviderFailed, err)
	}

	key := "withdrawal:" + payout.ID
	record := &models.WalletTransaction{
		Type:           models.TxTypeWithdrawal,
		SourceWalletID: &wallet.ID,
		Amount:         amount,
		FeeAmount:      fee,
		Currency:       wallet.Currency,
		Status:         models.TxStatusPending,
		IdempotencyKey: &key,
		ExternalRef:    payout.ID,
		Description:    "external withdrawal",
	}
	if err := s.repo.CreateTransaction(record); err != nil {
		return nil, err
	}
	return record, nil
}

// CompleteExternal applies a provider success outcome to the matching pending
// record, exactly once. Replays return the record with ErrDuplicateOperation.
func (s *service) CompleteExternal(ctx context.Context, externalRef string) (*models.WalletTransaction, error) {
	record, err := s.repo.GetTransactionByExternalRef(externalRef)
	if err != nil {
		if errors.Is(err, repositories.ErrTransactionNotFound) {
			return nil, err
		}
		return nil, err
	}
	if record.Status != models.TxStatusPending {
		return record, ErrDuplicateOperation
	}

	var invalidate []uint
	err = s.repo.ExecuteInTransaction(func(tx repositories.WalletRepository) error {
		current, err := tx.GetTransactionByID(record.ID)
		if err != nil {
			return err
		}
		if current.Status != models.TxStatusPending {
			return ErrDuplicateOperation
		}

		switch current.Type {
		case models.TxTypeDeposit:
			wallet, err := tx.GetForUpdate(*current.DestWalletID)
			if err != nil {
				return err
			}
			wallet.Balance += current.Amount
			if err := s.checkInvariants(wallet); err != nil {
				return err
			}
			if err := tx.Update(wallet); err != nil {
				return err
			}
			invalidate = append(invalidate, wallet.ID)

		case models.TxTypeWithdrawal:
			wallet, err := tx.GetForUpdate(*current.SourceWalletID)
			if err != nil {
				return err
			}
			if wallet.LockedBalance < current.Amount {
				return fmt.Errorf("%w: withdrawal %d exceeds hold on wallet %d",
					ErrIntegrityViolation, current.Amount, wallet.ID)
			}
			wallet.Balance -= current.Amount
			wallet.LockedBalance -= current.Amount
			if err := s.checkInvariants(wallet); err != nil {
				return err
			}
			if err := tx.Update(wallet); err != nil {
				return err
			}
			invalidate = append(invalidate, wallet.ID)

			// The withheld fee stays on the platform's books.
			if fee := current.FeeAmount; fee > 0 {
				platform, err := tx.GetByOwner(s.config.PlatformUserID, models.WalletTypePlatform)
				if err != nil {
					return err
				}
				locked, err := tx.GetForUpdate(platform.ID)
				if err != nil {
					return err
				}
				locked.Balance += fee
				if err := tx.Update(locked); err != nil {
					return err
				}
				feeKey := "wfee:" + externalRef
				if err := tx.CreateTransaction(&models.WalletTransaction{
					Type:           models.TxTypeFee,
					DestWalletID:   &locked.ID,
					Amount:         fee,
					Currency:       locked.Currency,
					Status:         models.TxStatusCompleted,
					IdempotencyKey: &feeKey,
					Description:    "withdrawal fee",
				}); err != nil {
					return err
				}
				invalidate = append(invalidate, locked.ID)
			}

		default:
			return fmt.Errorf("%w: cannot complete transaction type %q", ErrInvalidState, current.Type)
		}

		current.Status = models.TxStatusCompleted
		record = current
		return tx.UpdateTransaction(current)
	})

	if errors.Is(err, ErrDuplicateOperation) || errors.Is(err, repositories.ErrStaleVersion) {
		return record, ErrDuplicateOperation
	}
	if err != nil {
		s.metrics.RecordError("complete_external", err.Error())
		return nil, err
	}

	for _, id := range invalidate {
		s.cache.InvalidateWallet(ctx, id)
	}
	s.metrics.RecordTransaction(record.Type, record.Amount)
	return record, nil
}

// FailExternal applies a provider failure outcome: the pending record is
// marked failed and any withdrawal hold is released. Deposits never touched
// the balance, so there is nothing to revert.
func (s *service) FailExternal(ctx context.Context, externalRef string, providerReason string) (*models.WalletTransaction, error) {
	record, err := s.repo.GetTransactionByExternalRef(externalRef)
	if err != nil {
		return nil, err
	}
	if record.Status != models.TxStatusPending {
		return record, ErrDuplicateOperation
	}

	var invalidate []uint
	err = s.repo.ExecuteInTransaction(func(tx repositories.WalletRepository) error {
		current, err := tx.GetTransactionByID(record.ID)
		if err != nil {
			return err
		}
		if current.Status != models.TxStatusPending {
			return ErrDuplicateOperation
		}

		if current.Type == models.TxTypeWithdrawal {
			wallet, err := tx.GetForUpdate(*current.SourceWalletID)
			if err != nil {
				return err
			}
			if wallet.LockedBalance < current.Amount {
				return fmt.Errorf("%w: failed withdrawal %d exceeds hold on wallet %d",
					ErrIntegrityViolation, current.Amount, wallet.ID)
			}
			wallet.LockedBalance -= current.Amount
			if err := s.checkInvariants(wallet); err != nil {
				return err
			}
			if err := tx.Update(wallet); err != nil {
				return err
			}
			invalidate = append(invalidate, wallet.ID)
		}

		current.Status = models.TxStatusFailed
		if current.Metadata == nil {
			current.Metadata = models.JSON{}
		}
		current.Metadata["failure_reason"] = providerReason
		record = current
		return tx.UpdateTransaction(current)
	})

	if errors.Is(err, ErrDuplicateOperation) || errors.Is(err, repositories.ErrStaleVersion) {
		return record, ErrDuplicateOperation
	}
	if err != nil {
		s.metrics.RecordError("fail_external", err.Error())
		return nil, err
	}

	for _, id := range invalidate {
		s.cache.InvalidateWallet(ctx, id)
	}
	return record, nil
}
