package provider

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	stripe "github.com/stripe/stripe-go/v72"
	"github.com/stripe/stripe-go/v72/client"
	"github.com/stripe/stripe-go/v72/webhook"
)

// StripeClient implements Client against Stripe payment intents and payouts.
type StripeClient struct {
	api           *client.API
	webhookSecret string
}

func NewStripeClient(apiKey, webhookSecret string) *StripeClient {
	api := &client.API{}
	api.Init(apiKey, nil)
	return &StripeClient{api: api, webhookSecret: webhookSecret}
}

func (c *StripeClient) CreateDeposit(ctx context.Context, req DepositRequest) (*Intent, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(req.Amount),
		Currency: stripe.String(strings.ToLower(req.Currency)),
	}
	params.Context = ctx
	params.AddMetadata("user_id", strconv.FormatUint(uint64(req.UserID), 10))
	// Stripe dedupes retried requests carrying the same key.
	params.SetIdempotencyKey(uuid.NewString())

	pi, err := c.api.PaymentIntents.New(params)
	if err != nil {
		return nil, fmt.Errorf("stripe payment intent: %w", err)
	}
	return &Intent{
		ID:       pi.ID,
		Status:   paymentIntentStatus(pi.Status),
		Amount:   pi.Amount,
		Currency: strings.ToUpper(string(pi.Currency)),
	}, nil
}

func (c *StripeClient) CreatePayout(ctx context.Context, req PayoutRequest) (*Intent, error) {
	params := &stripe.PayoutParams{
		Amount:   stripe.Int64(req.Amount),
		Currency: stripe.String(strings.ToLower(req.Currency)),
	}
	params.Context = ctx
	params.AddMetadata("user_id", strconv.FormatUint(uint64(req.UserID), 10))
	params.SetIdempotencyKey(uuid.NewString())

	po, err := c.api.Payouts.New(params)
	if err != nil {
		return nil, fmt.Errorf("stripe payout: %w", err)
	}
	return &Intent{
		ID:       po.ID,
		Status:   payoutStatus(po.Status),
		Amount:   po.Amount,
		Currency: strings.ToUpper(string(po.Currency)),
	}, nil
}

func (c *StripeClient) GetIntent(ctx context.Context, id string) (*Intent, error) {
	if strings.HasPrefix(id, "po_") {
		po, err := c.api.Payouts.Get(id, &stripe.PayoutParams{Params: stripe.Params{Context: ctx}})
		if err != nil {
			return nil, fmt.Errorf("stripe payout lookup: %w", err)
		}
		return &Intent{
			ID:       po.ID,
			Status:   payoutStatus(po.Status),
			Amount:   po.Amount,
			Currency: strings.ToUpper(string(po.Currency)),
		}, nil
	}

	pi, err := c.api.PaymentIntents.Get(id, &stripe.PaymentIntentParams{Params: stripe.Params{Context: ctx}})
	if err != nil {
		return nil, fmt.Errorf("stripe payment intent lookup: %w", err)
	}
	return &Intent{
		ID:       pi.ID,
		Status:   paymentIntentStatus(pi.Status),
		Amount:   pi.Amount,
		Currency: strings.ToUpper(string(pi.Currency)),
	}, nil
}

// ParseWebhook verifies the callback signature and maps the Stripe event to
// the engine's event vocabulary. Unknown event types return nil.
func (c *StripeClient) ParseWebhook(payload []byte, signature string) (*Event, error) {
	ev, err := webhook.ConstructEvent(payload, signature, c.webhookSecret)
	if err != nil {
		return nil, fmt.Errorf("webhook signature verification failed: %w", err)
	}

	ref, _ := ev.Data.Object["id"].(string)
	out := &Event{ID: ev.ID, ExternalRef: ref}

	switch ev.Type {
	case "payment_intent.succeeded":
		out.Kind = EventDepositSucceeded
	case "payment_intent.payment_failed", "payment_intent.canceled":
		out.Kind = EventDepositFailed
		if msg, ok := ev.Data.Object["last_payment_error"].(map[string]interface{}); ok {
			out.Reason, _ = msg["message"].(string)
		}
	case "payout.paid":
		out.Kind = EventPayoutSucceeded
	case "payout.failed", "payout.canceled":
		out.Kind = EventPayoutFailed
		out.Reason, _ = ev.Data.Object["failure_message"].(string)
	default:
		return nil, nil
	}
	return out, nil
}

func paymentIntentStatus(s stripe.PaymentIntentStatus) IntentStatus {
	switch s {
	case stripe.PaymentIntentStatusSucceeded:
		return IntentSucceeded
	case stripe.PaymentIntentStatusCanceled:
		return IntentFailed
	default:
		return IntentPending
	}
}

func payoutStatus(s stripe.PayoutStatus) IntentStatus {
	switch s {
	case stripe.PayoutStatusPaid:
		return IntentSucceeded
	case stripe.PayoutStatusFailed, stripe.PayoutStatusCanceled:
		return IntentFailed
	default:
		return IntentPending
	}
}
