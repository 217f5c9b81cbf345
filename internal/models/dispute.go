package models

import (
	"time"
)

// DisputeStatus is the closed set of dispute workflow states. Escalation only
// moves forward; RESOLVED is terminal and the record is immutable after it.
type DisputeStatus string

const (
	DisputeOpen            DisputeStatus = "OPEN"
	DisputeAutomatedReview DisputeStatus = "AUTOMATED_REVIEW"
	DisputeMediation       DisputeStatus = "MEDIATION"
	DisputeArbitration     DisputeStatus = "ARBITRATION"
	DisputeResolved        DisputeStatus = "RESOLVED"
)

// Resolution decision kinds.
const (
	DecisionFullRelease = "full_release" // everything to the payee
	DecisionFullRefund  = "full_refund"  // everything to the payer
	DecisionSplit       = "split"
	DecisionMutual      = "mutual_agreement"
)

// Dispute is attached to exactly one (project, milestone) pair; at most one
// open dispute per milestone at a time. AmountToPayee + AmountToPayer must
// equal the milestone amount when resolved.
type Dispute struct {
	ID            uint          `gorm:"primarykey" json:"id"`
	ProjectID     uint          `gorm:"index;not null" json:"project_id"`
	MilestoneID   uint          `gorm:"index;not null" json:"milestone_id"`
	RaisedByID    uint          `gorm:"not null" json:"raised_by_id"`
	Reason        string        `gorm:"not null" json:"reason"`
	Evidence      JSON          `gorm:"type:jsonb" json:"evidence,omitempty"`
	Status        DisputeStatus `gorm:"not null;default:'OPEN';index" json:"status"`
	AssigneeID    *uint         `json:"assignee_id,omitempty"` // mediator or arbitrator
	DecisionKind  string        `json:"decision_kind,omitempty"`
	AmountToPayee int64         `json:"amount_to_payee"`
	AmountToPayer int64         `json:"amount_to_payer"`
	Reasoning     string        `json:"reasoning,omitempty"`
	// SuggestedResolution is advisory output of the automated pre-review; it
	// never moves funds or transitions state.
	SuggestedResolution JSON `gorm:"type:jsonb" json:"suggested_resolution,omitempty"`
	CreatedAt           time.Time
	UpdatedAt           time.Time
	ResolvedAt          *time.Time `json:"resolved_at,omitempty"`
}

// Open reports whether the dispute still pre-empts normal settlement.
func (d *Dispute) Open() bool {
	return d.Status != DisputeResolved
}
