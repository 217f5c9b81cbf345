package handlers

import (
	"errors"

	"escra/internal/models"
	"escra/internal/services/dispute"
	"escra/internal/utils"
	"escra/internal/validation"

	"github.com/gofiber/fiber/v2"
)

// DisputeHandler exposes the dispute workflow. Raising is open to the two
// project parties; escalation, assignment and resolution are mediator or
// admin operations enforced by route middleware.
type DisputeHandler struct {
	disputes dispute.Service
}

func NewDisputeHandler(disputes dispute.Service) *DisputeHandler {
	return &DisputeHandler{disputes: disputes}
}

func (h *DisputeHandler) Raise(c *fiber.Ctx) error {
	claims, err := utils.GetUserClaims(c)
	if err != nil {
		return utils.Unauthorized(c, "invalid claims")
	}

	var input dispute.RaiseInput
	if err := c.BodyParser(&input); err != nil {
		return utils.BadRequest(c, "invalid request format")
	}
	if err := validation.Struct(&input); err != nil {
		return utils.BadRequest(c, err.Error())
	}

	d, err := h.disputes.Raise(c.Context(), claims.UserID, input)
	if err != nil {
		return disputeError(c, err)
	}
	return utils.Created(c, fiber.Map{"dispute": d})
}

func (h *DisputeHandler) Get(c *fiber.Ctx) error {
	disputeID, err := c.ParamsInt("id")
	if err != nil || disputeID <= 0 {
		return utils.BadRequest(c, "invalid dispute id")
	}

	d, err := h.disputes.Get(c.Context(), uint(disputeID))
	if err != nil {
		return disputeError(c, err)
	}
	return utils.Success(c, fiber.Map{"dispute": d})
}

func (h *DisputeHandler) Escalate(c *fiber.Ctx) error {
	claims, err := utils.GetUserClaims(c)
	if err != nil {
		return utils.Unauthorized(c, "invalid claims")
	}
	disputeID, err := c.ParamsInt("id")
	if err != nil || disputeID <= 0 {
		return utils.BadRequest(c, "invalid dispute id")
	}

	var input struct {
		Stage string `json:"stage" validate:"required"`
	}
	if err := c.BodyParser(&input); err != nil {
		return utils.BadRequest(c, "invalid request format")
	}
	if err := validation.Struct(&input); err != nil {
		return utils.BadRequest(c, err.Error())
	}

	d, err := h.disputes.Escalate(c.Context(), claims.UserID, uint(disputeID), models.DisputeStatus(input.Stage))
	if err != nil {
		return disputeError(c, err)
	}
	return utils.Success(c, fiber.Map{"dispute": d})
}

func (h *DisputeHandler) Assign(c *fiber.Ctx) error {
	disputeID, err := c.ParamsInt("id")
	if err != nil || disputeID <= 0 {
		return utils.BadRequest(c, "invalid dispute id")
	}

	var input struct {
		AssigneeID uint `json:"assignee_id" validate:"required"`
	}
	if err := c.BodyParser(&input); err != nil {
		return utils.BadRequest(c, "invalid request format")
	}
	if err := validation.Struct(&input); err != nil {
		return utils.BadRequest(c, err.Error())
	}

	d, err := h.disputes.Assign(c.Context(), uint(disputeID), input.AssigneeID)
	if err != nil {
		return disputeError(c, err)
	}
	return utils.Success(c, fiber.Map{"dispute": d})
}

func (h *DisputeHandler) Resolve(c *fiber.Ctx) error {
	claims, err := utils.GetUserClaims(c)
	if err != nil {
		return utils.Unauthorized(c, "invalid claims")
	}
	disputeID, err := c.ParamsInt("id")
	if err != nil || disputeID <= 0 {
		return utils.BadRequest(c, "invalid dispute id")
	}

	var input dispute.ResolutionInput
	if err := c.BodyParser(&input); err != nil {
		return utils.BadRequest(c, "invalid request format")
	}
	input.DisputeID = uint(disputeID)
	if err := validation.Struct(&input); err != nil {
		return utils.BadRequest(c, err.Error())
	}

	d, err := h.disputes.Resolve(c.Context(), claims.UserID, input)
	if err != nil {
		return disputeError(c, err)
	}
	return utils.Success(c, fiber.Map{"dispute": d})
}

func disputeError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, dispute.ErrValidation):
		return utils.BadRequest(c, err.Error())
	case errors.Is(err, dispute.ErrDisputeNotFound),
		errors.Is(err, dispute.ErrMilestoneNotFound):
		return utils.NotFound(c, err.Error())
	case errors.Is(err, dispute.ErrDisputeAlreadyExists):
		return utils.Conflict(c, "milestone already has an open dispute")
	case errors.Is(err, dispute.ErrUnauthorized):
		return utils.Forbidden(c, "not permitted for this dispute")
	case errors.Is(err, dispute.ErrInvalidState),
		errors.Is(err, dispute.ErrInvalidEscalation):
		return utils.UnprocessableEntity(c, err.Error())
	case errors.Is(err, dispute.ErrResolutionMismatch):
		return utils.UnprocessableEntity(c, err.Error())
	default:
		return ledgerOrInternal(c, err)
	}
}
