package models

import (
	"time"
)

// MilestoneStatus is the closed set of milestone lifecycle states.
type MilestoneStatus string

const (
	MilestonePending           MilestoneStatus = "PENDING"
	MilestoneInProgress        MilestoneStatus = "IN_PROGRESS"
	MilestoneSubmitted         MilestoneStatus = "SUBMITTED"
	MilestoneApproved          MilestoneStatus = "APPROVED"
	MilestoneRevisionRequested MilestoneStatus = "REVISION_REQUESTED"
	MilestoneDisputed          MilestoneStatus = "DISPUTED"
	MilestoneRefunded          MilestoneStatus = "REFUNDED" // dispute resolved fully to the payer
)

// Settled reports whether the milestone's funds have left escrow.
func (s MilestoneStatus) Settled() bool {
	return s == MilestoneApproved || s == MilestoneRefunded
}

// Milestone is a payable unit inside a project. Amount is minor units and is
// owned by exactly one project; the sum of milestone amounts equals the
// project budget at activation. Version gates concurrent transitions.
type Milestone struct {
	ID                  uint            `gorm:"primarykey" json:"id"`
	ProjectID           uint            `gorm:"index;not null" json:"project_id"`
	Title               string          `gorm:"not null" json:"title"`
	Amount              int64           `gorm:"not null" json:"amount"`
	Status              MilestoneStatus `gorm:"not null;default:'PENDING';index" json:"status"`
	Deadline            *time.Time      `json:"deadline,omitempty"`
	SubmittedAt         *time.Time      `json:"submitted_at,omitempty"`
	AutoApproveDeadline *time.Time      `gorm:"index" json:"auto_approve_deadline,omitempty"`
	Deliverables        JSON            `gorm:"type:jsonb" json:"deliverables,omitempty"` // opaque references: id + uri
	RevisionCount       int             `gorm:"not null;default:0" json:"revision_count"`
	Version             uint64          `gorm:"not null;default:0" json:"version"`
	CreatedAt           time.Time
	UpdatedAt           time.Time
}
