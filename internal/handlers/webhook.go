package handlers

import (
	"log"

	"escra/internal/services/provider"
	"escra/internal/services/reconciler"
	"escra/internal/utils"

	"github.com/gofiber/fiber/v2"
)

// WebhookHandler receives provider callbacks. The signature is verified
// before anything is acted on; unverifiable payloads are rejected without
// touching state. Replays are harmless downstream.
type WebhookHandler struct {
	stripe     *provider.StripeClient
	reconciler reconciler.Service
}

func NewWebhookHandler(stripe *provider.StripeClient, rec reconciler.Service) *WebhookHandler {
	return &WebhookHandler{stripe: stripe, reconciler: rec}
}

func (h *WebhookHandler) HandleStripe(c *fiber.Ctx) error {
	event, err := h.stripe.ParseWebhook(c.Body(), c.Get("Stripe-Signature"))
	if err != nil {
		log.Printf("webhook signature rejected: %v", err)
		return utils.BadRequest(c, "invalid webhook payload")
	}
	if event == nil {
		// Verified but not a kind we act on.
		return utils.Success(c, fiber.Map{"received": true})
	}

	if err := h.reconciler.HandleProviderEvent(c.Context(), *event); err != nil {
		// A 5xx tells the provider to retry later.
		return utils.InternalError(c, "failed to apply provider event")
	}
	return utils.Success(c, fiber.Map{"received": true})
}
