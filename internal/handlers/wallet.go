package handlers

import (
	"errors"

	"escra/internal/services/ledger"
	"escra/internal/utils"
	"escra/internal/validation"

	"github.com/gofiber/fiber/v2"
)

// WalletHandler exposes balances, the transaction log and external money
// movement. Amounts cross the wire as integer minor units; no floats.
type WalletHandler struct {
	ledger ledger.Service
}

func NewWalletHandler(led ledger.Service) *WalletHandler {
	return &WalletHandler{ledger: led}
}

func (h *WalletHandler) GetBalance(c *fiber.Ctx) error {
	claims, err := utils.GetUserClaims(c)
	if err != nil {
		return utils.Unauthorized(c, "invalid claims")
	}

	wallet, err := h.ledger.GetOrCreateUserWallet(c.Context(), claims.UserID)
	if err != nil {
		return utils.InternalError(c, "failed to get wallet")
	}
	balance, err := h.ledger.GetBalance(c.Context(), wallet.ID)
	if err != nil {
		return utils.InternalError(c, "failed to get balance")
	}
	return utils.Success(c, fiber.Map{"balance": balance})
}

func (h *WalletHandler) ListTransactions(c *fiber.Ctx) error {
	claims, err := utils.GetUserClaims(c)
	if err != nil {
		return utils.Unauthorized(c, "invalid claims")
	}

	limit := c.QueryInt("limit", 50)
	offset := c.QueryInt("offset", 0)

	wallet, err := h.ledger.GetOrCreateUserWallet(c.Context(), claims.UserID)
	if err != nil {
		return utils.InternalError(c, "failed to get wallet")
	}
	txs, err := h.ledger.ListTransactions(c.Context(), wallet.ID, limit, offset)
	if err != nil {
		return utils.InternalError(c, "failed to list transactions")
	}
	return utils.Success(c, fiber.Map{
		"transactions": txs,
		"limit":        limit,
		"offset":       offset,
	})
}

func (h *WalletHandler) Deposit(c *fiber.Ctx) error {
	claims, err := utils.GetUserClaims(c)
	if err != nil {
		return utils.Unauthorized(c, "invalid claims")
	}

	var input struct {
		Amount int64 `json:"amount" validate:"required,gt=0"`
	}
	if err := c.BodyParser(&input); err != nil {
		return utils.BadRequest(c, "invalid request format")
	}
	if err := validation.Struct(&input); err != nil {
		return utils.BadRequest(c, err.Error())
	}

	record, err := h.ledger.InitiateDeposit(c.Context(), claims.UserID, input.Amount)
	if err != nil {
		return walletError(c, err)
	}
	return utils.Created(c, fiber.Map{
		"transaction": record,
		"message":     "deposit pending provider confirmation",
	})
}

func (h *WalletHandler) Withdraw(c *fiber.Ctx) error {
	claims, err := utils.GetUserClaims(c)
	if err != nil {
		return utils.Unauthorized(c, "invalid claims")
	}

	var input struct {
		Amount int64 `json:"amount" validate:"required,gt=0"`
	}
	if err := c.BodyParser(&input); err != nil {
		return utils.BadRequest(c, "invalid request format")
	}
	if err := validation.Struct(&input); err != nil {
		return utils.BadRequest(c, err.Error())
	}

	record, err := h.ledger.InitiateWithdrawal(c.Context(), claims.UserID, input.Amount)
	if err != nil {
		return walletError(c, err)
	}
	return utils.Created(c, fiber.Map{
		"transaction": record,
		"message":     "withdrawal pending provider confirmation",
	})
}

func walletError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, ledger.ErrInvalidAmount):
		return utils.BadRequest(c, "amount must be a positive integer of minor units")
	case errors.Is(err, ledger.ErrInsufficientFunds):
		return utils.UnprocessableEntity(c, "insufficient available funds")
	case errors.Is(err, ledger.ErrWalletDeactivated):
		return utils.Forbidden(c, "wallet is deactivated")
	case errors.Is(err, ledger.ErrWalletNotFound):
		return utils.NotFound(c, "wallet not found")
	case errors.Is(err, ledger.ErrDuplicateOperation):
		return utils.Conflict(c, "operation already applied")
	case errors.Is(err, ledger.ErrProviderFailed):
		return utils.Respond(c, fiber.StatusBadGateway, fiber.Map{"error": "payment provider unavailable"})
	default:
		return utils.InternalError(c, "wallet operation failed")
	}
}
