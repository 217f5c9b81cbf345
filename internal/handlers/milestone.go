package handlers

import (
	"errors"

	"escra/internal/models"
	"escra/internal/services/ledger"
	"escra/internal/services/project"
	"escra/internal/utils"
	"escra/internal/validation"

	"github.com/gofiber/fiber/v2"
)

// MilestoneHandler exposes the milestone state machine to the payer and
// payee. Approval is the money-moving operation; everything else is state.
type MilestoneHandler struct {
	projects project.Service
}

func NewMilestoneHandler(projects project.Service) *MilestoneHandler {
	return &MilestoneHandler{projects: projects}
}

func (h *MilestoneHandler) Start(c *fiber.Ctx) error {
	claims, err := utils.GetUserClaims(c)
	if err != nil {
		return utils.Unauthorized(c, "invalid claims")
	}
	milestoneID, err := c.ParamsInt("id")
	if err != nil || milestoneID <= 0 {
		return utils.BadRequest(c, "invalid milestone id")
	}

	m, err := h.projects.StartMilestone(c.Context(), claims.UserID, uint(milestoneID))
	if err != nil {
		return projectError(c, err)
	}
	return utils.Success(c, fiber.Map{"milestone": m})
}

func (h *MilestoneHandler) Submit(c *fiber.Ctx) error {
	claims, err := utils.GetUserClaims(c)
	if err != nil {
		return utils.Unauthorized(c, "invalid claims")
	}
	milestoneID, err := c.ParamsInt("id")
	if err != nil || milestoneID <= 0 {
		return utils.BadRequest(c, "invalid milestone id")
	}

	var input struct {
		Deliverables    models.JSON `json:"deliverables"`
		ExpectedVersion uint64      `json:"expected_version"`
	}
	if err := c.BodyParser(&input); err != nil {
		return utils.BadRequest(c, "invalid request format")
	}

	m, err := h.projects.Submit(c.Context(), claims.UserID, project.SubmitInput{
		MilestoneID:     uint(milestoneID),
		Deliverables:    input.Deliverables,
		ExpectedVersion: input.ExpectedVersion,
	})
	if err != nil {
		return projectError(c, err)
	}
	return utils.Success(c, fiber.Map{"milestone": m})
}

func (h *MilestoneHandler) Approve(c *fiber.Ctx) error {
	claims, err := utils.GetUserClaims(c)
	if err != nil {
		return utils.Unauthorized(c, "invalid claims")
	}
	milestoneID, err := c.ParamsInt("id")
	if err != nil || milestoneID <= 0 {
		return utils.BadRequest(c, "invalid milestone id")
	}

	var input struct {
		ExpectedVersion uint64 `json:"expected_version"`
	}
	if err := c.BodyParser(&input); err != nil {
		return utils.BadRequest(c, "invalid request format")
	}

	m, err := h.projects.Approve(c.Context(), claims.UserID, uint(milestoneID), input.ExpectedVersion)
	if err != nil {
		return projectError(c, err)
	}
	return utils.Success(c, fiber.Map{
		"milestone": m,
		"message":   "milestone released",
	})
}

func (h *MilestoneHandler) RequestRevision(c *fiber.Ctx) error {
	claims, err := utils.GetUserClaims(c)
	if err != nil {
		return utils.Unauthorized(c, "invalid claims")
	}
	milestoneID, err := c.ParamsInt("id")
	if err != nil || milestoneID <= 0 {
		return utils.BadRequest(c, "invalid milestone id")
	}

	var input struct {
		Note            string `json:"note" validate:"required"`
		ExpectedVersion uint64 `json:"expected_version"`
	}
	if err := c.BodyParser(&input); err != nil {
		return utils.BadRequest(c, "invalid request format")
	}
	if err := validation.Struct(&input); err != nil {
		return utils.BadRequest(c, err.Error())
	}

	m, err := h.projects.RequestRevision(c.Context(), claims.UserID, uint(milestoneID), input.Note, input.ExpectedVersion)
	if err != nil {
		return projectError(c, err)
	}
	return utils.Success(c, fiber.Map{"milestone": m})
}

// ledgerOrInternal translates ledger sentinels that bubble through a state
// transition; anything unrecognized is a 500.
func ledgerOrInternal(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, ledger.ErrInsufficientFunds):
		return utils.UnprocessableEntity(c, "insufficient available funds")
	case errors.Is(err, ledger.ErrCurrencyMismatch):
		return utils.UnprocessableEntity(c, "currency mismatch")
	case errors.Is(err, ledger.ErrIntegrityViolation):
		return utils.InternalError(c, "ledger integrity violation, operators notified")
	default:
		return utils.InternalError(c, "operation failed")
	}
}
