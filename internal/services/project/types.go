package project

import (
	"context"
	"time"

	"escra/internal/config"
	"escra/internal/models"
	"escra/internal/repositories"
	"escra/internal/services/ledger"

	"gorm.io/gorm"
)

// Clock supplies the current time; injectable so deadline behavior is
// deterministic under test.
type Clock interface {
	Now() time.Time
}

// SystemClock is the production clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

// Atomic runs fn with a transaction-scoped project repository, dispute
// repository and ledger so a state transition and its money movement commit
// as one unit or not at all.
type Atomic func(fn func(repo repositories.ProjectRepository, disputes repositories.DisputeRepository, led ledger.Service) error) error

// GormAtomic builds the production Atomic runner over a gorm database.
func GormAtomic(db *gorm.DB, led ledger.Service) Atomic {
	return func(fn func(repositories.ProjectRepository, repositories.DisputeRepository, ledger.Service) error) error {
		return db.Transaction(func(tx *gorm.DB) error {
			return fn(
				repositories.NewProjectRepository(tx),
				repositories.NewDisputeRepository(tx),
				led.InTx(tx),
			)
		})
	}
}

// MilestoneInput describes one milestone on project creation.
type MilestoneInput struct {
	Title    string     `json:"title" validate:"required"`
	Amount   int64      `json:"amount" validate:"required,gt=0"`
	Deadline *time.Time `json:"deadline,omitempty"`
}

// CreateInput describes a new draft project. The budget is the sum of the
// milestone amounts.
type CreateInput struct {
	Title       string           `json:"title" validate:"required"`
	Description string           `json:"description"`
	Currency    string           `json:"currency"`
	Milestones  []MilestoneInput `json:"milestones" validate:"required,min=1,dive"`
}

// SubmitInput carries a milestone submission.
type SubmitInput struct {
	MilestoneID     uint        `json:"milestone_id" validate:"required"`
	Deliverables    models.JSON `json:"deliverables"`
	ExpectedVersion uint64      `json:"expected_version"`
}

// Cache is the read-path cache for project snapshots.
type Cache interface {
	CacheProject(ctx context.Context, project *models.Project) error
	GetProject(ctx context.Context, projectID uint) (*models.Project, error)
	InvalidateProject(ctx context.Context, projectID uint) error
}

// Config re-exports the escrow configuration consumed by this package.
type Config = config.EscrowConfig
