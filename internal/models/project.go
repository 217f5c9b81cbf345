package models

import (
	"time"
)

// ProjectStatus is the closed set of project lifecycle states. Transitions
// outside the table in services/project are rejected at the boundary.
type ProjectStatus string

const (
	ProjectDraft             ProjectStatus = "DRAFT"
	ProjectPendingAcceptance ProjectStatus = "PENDING_ACCEPTANCE"
	ProjectAwaitingDeposit   ProjectStatus = "AWAITING_DEPOSIT"
	ProjectActive            ProjectStatus = "ACTIVE"
	ProjectCompleted         ProjectStatus = "COMPLETED"
	ProjectCancelled         ProjectStatus = "CANCELLED"
	ProjectDisputed          ProjectStatus = "DISPUTED"
	ProjectArchived          ProjectStatus = "ARCHIVED"
)

// Terminal reports whether no further work can happen on the project.
func (s ProjectStatus) Terminal() bool {
	return s == ProjectCompleted || s == ProjectCancelled || s == ProjectArchived
}

// Project is the unit of work. Escrow summary fields are derivable from the
// wallet transaction log but cached here for fast reads; the invariant
// TotalHeld == TotalReleased + Remaining holds at every commit.
type Project struct {
	ID             uint          `gorm:"primarykey" json:"id"`
	PayerID        uint          `gorm:"index;not null" json:"payer_id"`
	PayeeID        *uint         `gorm:"index" json:"payee_id,omitempty"` // nil until the invitation is accepted
	Title          string        `gorm:"not null" json:"title"`
	Description    string        `json:"description,omitempty"`
	TotalBudget    int64         `gorm:"not null" json:"total_budget"`
	Currency       string        `gorm:"not null;default:'USD'" json:"currency"`
	Status         ProjectStatus `gorm:"not null;default:'DRAFT';index" json:"status"`
	EscrowWalletID *uint         `json:"escrow_wallet_id,omitempty"`
	TotalHeld      int64         `gorm:"not null;default:0" json:"total_held"`
	TotalReleased  int64         `gorm:"not null;default:0" json:"total_released"`
	Remaining      int64         `gorm:"not null;default:0" json:"remaining"`
	Version        uint64        `gorm:"not null;default:0" json:"version"`
	Milestones     []Milestone   `gorm:"constraint:OnUpdate:CASCADE" json:"milestones,omitempty"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
	ArchivedAt     *time.Time `json:"archived_at,omitempty"`
}
