package utils

import (
	"escra/internal/models"

	"github.com/gofiber/fiber/v2"
)

// GetUserClaims pulls the validated JWT claims the auth middleware stored on
// the request context.
func GetUserClaims(c *fiber.Ctx) (*models.UserClaims, error) {
	claims, ok := c.Locals("claims").(*models.UserClaims)
	if !ok || claims == nil {
		return nil, fiber.ErrUnauthorized
	}
	return claims, nil
}
