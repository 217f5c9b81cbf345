package repositories

import (
	"time"

	"escra/internal/models"
)

// ProjectRepository is the data access contract for the project aggregate:
// projects, their milestones and the append-only activity log. GetForUpdate
// takes the project-level lock that serializes transitions touching the
// escrow summary or overall status.
type ProjectRepository interface {
	Create(project *models.Project) error
	GetByID(id uint) (*models.Project, error)
	GetForUpdate(id uint) (*models.Project, error)
	Update(project *models.Project) error
	ListArchivable(before time.Time) ([]models.Project, error)

	CreateMilestone(m *models.Milestone) error
	GetMilestone(id uint) (*models.Milestone, error)
	GetMilestoneForUpdate(id uint) (*models.Milestone, error)
	UpdateMilestone(m *models.Milestone) error
	ListMilestones(projectID uint) ([]models.Milestone, error)
	ListAutoApprovable(now time.Time) ([]models.Milestone, error)

	AppendActivity(a *models.Activity) error
	ListActivity(projectID uint, limit, offset int) ([]models.Activity, error)

	ExecuteInTransaction(fn func(ProjectRepository) error) error
}
