// Package provider abstracts the external payment provider that moves real
// money in and out of the platform's pooled account. The engine treats it as
// an exactly-once-eventually black box reconciled via idempotency keys; no
// caller may assume success or failure from the absence of a response.
package provider

import (
	"context"
)

// Intent statuses as seen by the engine.
type IntentStatus string

const (
	IntentPending   IntentStatus = "pending"
	IntentSucceeded IntentStatus = "succeeded"
	IntentFailed    IntentStatus = "failed"
)

// Intent is the provider-side handle for a deposit or payout.
type Intent struct {
	ID       string
	Status   IntentStatus
	Amount   int64
	Currency string
}

// DepositRequest asks the provider to collect funds from a user.
type DepositRequest struct {
	Amount   int64
	Currency string
	UserID   uint
}

// PayoutRequest asks the provider to pay funds out to a user.
type PayoutRequest struct {
	Amount   int64
	Currency string
	UserID   uint
}

// Event is an inbound provider callback, already signature-verified.
type Event struct {
	ID          string
	Kind        string // deposit.succeeded, deposit.failed, payout.succeeded, payout.failed
	ExternalRef string // the intent or payout id the event refers to
	Reason      string // failure detail, if any
}

// Event kinds.
const (
	EventDepositSucceeded = "deposit.succeeded"
	EventDepositFailed    = "deposit.failed"
	EventPayoutSucceeded  = "payout.succeeded"
	EventPayoutFailed     = "payout.failed"
)

// Client is the outbound provider port.
type Client interface {
	CreateDeposit(ctx context.Context, req DepositRequest) (*Intent, error)
	CreatePayout(ctx context.Context, req PayoutRequest) (*Intent, error)
	// GetIntent queries the definitive outcome of an earlier call; used by
	// the pending-transaction sweep when no callback arrived in time.
	GetIntent(ctx context.Context, id string) (*Intent, error)
}
