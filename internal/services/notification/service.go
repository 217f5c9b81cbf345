// Package notification dispatches domain events to interested collaborators
// (email, chat, analytics). Delivery failure never fails or rolls back a
// settlement operation; failures are logged and dropped.
package notification

import (
	"context"
	"log"

	"escra/internal/models"
)

// Domain event kinds.
const (
	EventFundsDeposited     = "FUNDS_DEPOSITED"
	EventFundsWithdrawn     = "FUNDS_WITHDRAWN"
	EventProjectFunded      = "PROJECT_FUNDED"
	EventMilestoneSubmitted = "MILESTONE_SUBMITTED"
	EventMilestoneApproved  = "MILESTONE_APPROVED"
	EventRevisionRequested  = "REVISION_REQUESTED"
	EventDisputeRaised      = "DISPUTE_RAISED"
	EventDisputeResolved    = "DISPUTE_RESOLVED"
	EventProjectCompleted   = "PROJECT_COMPLETED"
	EventProjectCancelled   = "PROJECT_CANCELLED"
)

// Event is one domain event emitted after a settlement operation commits.
type Event struct {
	Kind      string      `json:"kind"`
	ProjectID uint        `json:"project_id,omitempty"`
	ActorID   uint        `json:"actor_id"`
	Payload   models.JSON `json:"payload,omitempty"`
}

// Subscriber consumes domain events.
type Subscriber interface {
	Notify(ctx context.Context, event Event) error
}

// Dispatcher fans events out to subscribers.
type Dispatcher struct {
	subscribers []Subscriber
}

// NewDispatcher creates a new event dispatcher.
func NewDispatcher(subscribers ...Subscriber) *Dispatcher {
	return &Dispatcher{subscribers: subscribers}
}

// Subscribe registers an additional subscriber.
func (d *Dispatcher) Subscribe(s Subscriber) {
	d.subscribers = append(d.subscribers, s)
}

// Publish delivers the event to every subscriber. Errors are logged, never
// returned; settlement must not depend on notification delivery.
func (d *Dispatcher) Publish(ctx context.Context, event Event) {
	for _, s := range d.subscribers {
		if err := s.Notify(ctx, event); err != nil {
			log.Printf("notification delivery failed for %s (project %d): %v",
				event.Kind, event.ProjectID, err)
		}
	}
}

// LogSubscriber writes events to the application log; the default subscriber
// in development.
type LogSubscriber struct{}

func (LogSubscriber) Notify(_ context.Context, event Event) error {
	log.Printf("event %s project=%d actor=%d", event.Kind, event.ProjectID, event.ActorID)
	return nil
}
