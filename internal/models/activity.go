package models

import (
	"time"
)

// SystemActorID marks activity entries written by the reconciler rather than
// a user action.
const SystemActorID uint = 0

// Activity actions.
const (
	ActivityProjectCreated     = "project_created"
	ActivityInvitationSent     = "invitation_sent"
	ActivityInvitationAccepted = "invitation_accepted"
	ActivityProjectFunded      = "project_funded"
	ActivityMilestoneAdded     = "milestone_added"
	ActivityMilestoneStarted   = "milestone_started"
	ActivityMilestoneSubmitted = "milestone_submitted"
	ActivityMilestoneApproved  = "milestone_approved"
	ActivityRevisionRequested  = "revision_requested"
	ActivityDisputeRaised      = "dispute_raised"
	ActivityDisputeEscalated   = "dispute_escalated"
	ActivityDisputeResolved    = "dispute_resolved"
	ActivityProjectCompleted   = "project_completed"
	ActivityProjectCancelled   = "project_cancelled"
	ActivityProjectArchived    = "project_archived"
	ActivityDepositReverted    = "deposit_reverted"
)

// Activity is one entry of a project's append-only activity log. Entries are
// written in the same database transaction as the transition they describe
// and are never reordered or deleted.
type Activity struct {
	ID        uint   `gorm:"primarykey" json:"id"`
	ProjectID uint   `gorm:"index;not null" json:"project_id"`
	ActorID   uint   `gorm:"not null" json:"actor_id"` // SystemActorID for reconciler-initiated entries
	Action    string `gorm:"not null" json:"action"`
	Detail    string `json:"detail,omitempty"`
	Metadata  JSON   `gorm:"type:jsonb" json:"metadata,omitempty"`
	CreatedAt time.Time
}
