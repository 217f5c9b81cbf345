package handlers

import (
	"errors"

	"escra/internal/services/project"
	"escra/internal/utils"
	"escra/internal/validation"

	"github.com/gofiber/fiber/v2"
)

// ProjectHandler exposes the project lifecycle: creation, invitation,
// funding, cancellation, archival and reads.
type ProjectHandler struct {
	projects project.Service
}

func NewProjectHandler(projects project.Service) *ProjectHandler {
	return &ProjectHandler{projects: projects}
}

func (h *ProjectHandler) Create(c *fiber.Ctx) error {
	claims, err := utils.GetUserClaims(c)
	if err != nil {
		return utils.Unauthorized(c, "invalid claims")
	}

	var input project.CreateInput
	if err := c.BodyParser(&input); err != nil {
		return utils.BadRequest(c, "invalid request format")
	}
	if err := validation.Struct(&input); err != nil {
		return utils.BadRequest(c, err.Error())
	}

	proj, err := h.projects.Create(c.Context(), claims.UserID, input)
	if err != nil {
		return projectError(c, err)
	}
	return utils.Created(c, fiber.Map{"project": proj})
}

func (h *ProjectHandler) AddMilestone(c *fiber.Ctx) error {
	claims, err := utils.GetUserClaims(c)
	if err != nil {
		return utils.Unauthorized(c, "invalid claims")
	}
	projectID, err := c.ParamsInt("id")
	if err != nil || projectID <= 0 {
		return utils.BadRequest(c, "invalid project id")
	}

	var input project.MilestoneInput
	if err := c.BodyParser(&input); err != nil {
		return utils.BadRequest(c, "invalid request format")
	}
	if err := validation.Struct(&input); err != nil {
		return utils.BadRequest(c, err.Error())
	}

	m, err := h.projects.AddMilestone(c.Context(), claims.UserID, uint(projectID), input)
	if err != nil {
		return projectError(c, err)
	}
	return utils.Created(c, fiber.Map{"milestone": m})
}

func (h *ProjectHandler) Get(c *fiber.Ctx) error {
	projectID, err := c.ParamsInt("id")
	if err != nil || projectID <= 0 {
		return utils.BadRequest(c, "invalid project id")
	}

	proj, err := h.projects.Get(c.Context(), uint(projectID))
	if err != nil {
		return projectError(c, err)
	}
	return utils.Success(c, fiber.Map{"project": proj})
}

func (h *ProjectHandler) Activity(c *fiber.Ctx) error {
	projectID, err := c.ParamsInt("id")
	if err != nil || projectID <= 0 {
		return utils.BadRequest(c, "invalid project id")
	}
	limit := c.QueryInt("limit", 50)
	offset := c.QueryInt("offset", 0)

	entries, err := h.projects.ListActivity(c.Context(), uint(projectID), limit, offset)
	if err != nil {
		return projectError(c, err)
	}
	return utils.Success(c, fiber.Map{"activity": entries})
}

func (h *ProjectHandler) Invite(c *fiber.Ctx) error {
	claims, err := utils.GetUserClaims(c)
	if err != nil {
		return utils.Unauthorized(c, "invalid claims")
	}
	projectID, err := c.ParamsInt("id")
	if err != nil || projectID <= 0 {
		return utils.BadRequest(c, "invalid project id")
	}

	var input struct {
		PayeeID uint `json:"payee_id" validate:"required"`
	}
	if err := c.BodyParser(&input); err != nil {
		return utils.BadRequest(c, "invalid request format")
	}
	if err := validation.Struct(&input); err != nil {
		return utils.BadRequest(c, err.Error())
	}

	proj, err := h.projects.SendInvitation(c.Context(), claims.UserID, uint(projectID), input.PayeeID)
	if err != nil {
		return projectError(c, err)
	}
	return utils.Success(c, fiber.Map{"project": proj})
}

func (h *ProjectHandler) Accept(c *fiber.Ctx) error {
	claims, err := utils.GetUserClaims(c)
	if err != nil {
		return utils.Unauthorized(c, "invalid claims")
	}
	projectID, err := c.ParamsInt("id")
	if err != nil || projectID <= 0 {
		return utils.BadRequest(c, "invalid project id")
	}

	proj, err := h.projects.AcceptInvitation(c.Context(), claims.UserID, uint(projectID))
	if err != nil {
		return projectError(c, err)
	}
	return utils.Success(c, fiber.Map{"project": proj})
}

func (h *ProjectHandler) Decline(c *fiber.Ctx) error {
	claims, err := utils.GetUserClaims(c)
	if err != nil {
		return utils.Unauthorized(c, "invalid claims")
	}
	projectID, err := c.ParamsInt("id")
	if err != nil || projectID <= 0 {
		return utils.BadRequest(c, "invalid project id")
	}

	proj, err := h.projects.DeclineInvitation(c.Context(), claims.UserID, uint(projectID))
	if err != nil {
		return projectError(c, err)
	}
	return utils.Success(c, fiber.Map{"project": proj})
}

func (h *ProjectHandler) Fund(c *fiber.Ctx) error {
	claims, err := utils.GetUserClaims(c)
	if err != nil {
		return utils.Unauthorized(c, "invalid claims")
	}
	projectID, err := c.ParamsInt("id")
	if err != nil || projectID <= 0 {
		return utils.BadRequest(c, "invalid project id")
	}

	proj, err := h.projects.Fund(c.Context(), claims.UserID, uint(projectID))
	if err != nil {
		return projectError(c, err)
	}
	return utils.Success(c, fiber.Map{
		"project": proj,
		"message": "escrow funded",
	})
}

func (h *ProjectHandler) Cancel(c *fiber.Ctx) error {
	claims, err := utils.GetUserClaims(c)
	if err != nil {
		return utils.Unauthorized(c, "invalid claims")
	}
	projectID, err := c.ParamsInt("id")
	if err != nil || projectID <= 0 {
		return utils.BadRequest(c, "invalid project id")
	}

	proj, err := h.projects.Cancel(c.Context(), claims.UserID, uint(projectID))
	if err != nil {
		return projectError(c, err)
	}
	return utils.Success(c, fiber.Map{"project": proj})
}

func (h *ProjectHandler) Archive(c *fiber.Ctx) error {
	claims, err := utils.GetUserClaims(c)
	if err != nil {
		return utils.Unauthorized(c, "invalid claims")
	}
	projectID, err := c.ParamsInt("id")
	if err != nil || projectID <= 0 {
		return utils.BadRequest(c, "invalid project id")
	}

	proj, err := h.projects.Archive(c.Context(), claims.UserID, uint(projectID))
	if err != nil {
		return projectError(c, err)
	}
	return utils.Success(c, fiber.Map{"project": proj})
}

// projectError maps service errors to HTTP responses. Ledger failures inside
// a transition surface as 502/422 through the wrapped sentinel checks.
func projectError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, project.ErrValidation),
		errors.Is(err, project.ErrBudgetMismatch):
		return utils.BadRequest(c, err.Error())
	case errors.Is(err, project.ErrUnauthorized):
		return utils.Forbidden(c, "not permitted for this project")
	case errors.Is(err, project.ErrProjectNotFound),
		errors.Is(err, project.ErrMilestoneNotFound):
		return utils.NotFound(c, err.Error())
	case errors.Is(err, project.ErrInvalidTransition):
		return utils.UnprocessableEntity(c, err.Error())
	case errors.Is(err, project.ErrDisputePending):
		return utils.Conflict(c, "an open dispute pre-empts this operation")
	case errors.Is(err, project.ErrConcurrentModification):
		return utils.Conflict(c, "state changed concurrently, reload and retry")
	case errors.Is(err, project.ErrRevisionLimitExceeded):
		return utils.UnprocessableEntity(c, "revision limit exceeded")
	case errors.Is(err, project.ErrIntegrityViolation):
		return utils.InternalError(c, "escrow integrity violation, operators notified")
	default:
		return ledgerOrInternal(c, err)
	}
}
