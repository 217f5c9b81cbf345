package handlers

import (
	"escra/internal/services/ledger"
	"escra/internal/services/project"
	"escra/internal/services/reconciler"
	"escra/internal/utils"

	"github.com/gofiber/fiber/v2"
)

// AdminHandler exposes operator tooling: escrow integrity verification and a
// manually triggered reconciler sweep. Routes are behind the admin role.
type AdminHandler struct {
	ledger     ledger.Service
	projects   project.Service
	reconciler reconciler.Service
}

func NewAdminHandler(led ledger.Service, projects project.Service, rec reconciler.Service) *AdminHandler {
	return &AdminHandler{ledger: led, projects: projects, reconciler: rec}
}

// VerifyProject re-derives a project's escrow totals from the transaction
// log and compares them against the cached summary. A mismatch is reported,
// never silently corrected.
func (h *AdminHandler) VerifyProject(c *fiber.Ctx) error {
	projectID, err := c.ParamsInt("id")
	if err != nil || projectID <= 0 {
		return utils.BadRequest(c, "invalid project id")
	}

	proj, err := h.projects.Get(c.Context(), uint(projectID))
	if err != nil {
		return projectError(c, err)
	}

	held, released, err := h.ledger.VerifyProjectEscrow(c.Context(), uint(projectID))
	if err != nil {
		return utils.InternalError(c, "failed to derive escrow totals")
	}

	consistent := held == proj.TotalHeld && released == proj.TotalReleased &&
		proj.TotalHeld == proj.TotalReleased+proj.Remaining

	return utils.Success(c, fiber.Map{
		"project_id": proj.ID,
		"consistent": consistent,
		"summary": fiber.Map{
			"total_held":     proj.TotalHeld,
			"total_released": proj.TotalReleased,
			"remaining":      proj.Remaining,
		},
		"derived": fiber.Map{
			"total_held":     held,
			"total_released": released,
		},
	})
}

// Sweep triggers one reconciler pass immediately.
func (h *AdminHandler) Sweep(c *fiber.Ctx) error {
	report := h.reconciler.SweepOnce(c.Context())
	return utils.Success(c, fiber.Map{"report": report})
}
