package repositories

import (
	"errors"
	"fmt"
	"time"

	"escra/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type projectRepository struct {
	db *gorm.DB
}

func NewProjectRepository(db *gorm.DB) ProjectRepository {
	return &projectRepository{db: db}
}

func (r *projectRepository) Create(project *models.Project) error {
	if result := r.db.Create(project); result.Error != nil {
		return fmt.Errorf("failed to create project: %w", result.Error)
	}
	return nil
}

func (r *projectRepository) GetByID(id uint) (*models.Project, error) {
	var project models.Project
	err := r.db.Preload("Milestones", func(db *gorm.DB) *gorm.DB {
		return db.Order("milestones.id ASC")
	}).First(&project, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrProjectNotFound
		}
		return nil, fmt.Errorf("failed to get project: %w", err)
	}
	return &project, nil
}

// GetForUpdate locks the project row. Milestones are loaded after the lock is
// held so the aggregate view is consistent for the rest of the transaction.
func (r *projectRepository) GetForUpdate(id uint) (*models.Project, error) {
	var project models.Project
	err := r.db.Clauses(clause.Locking{Strength: "UPDATE"}).First(&project, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrProjectNotFound
		}
		return nil, fmt.Errorf("failed to lock project: %w", err)
	}
	if err := r.db.Where("project_id = ?", id).Order("id ASC").Find(&project.Milestones).Error; err != nil {
		return nil, fmt.Errorf("failed to load milestones: %w", err)
	}
	return &project, nil
}

func (r *projectRepository) Update(project *models.Project) error {
	result := r.db.Model(&models.Project{}).
		Where("id = ? AND version = ?", project.ID, project.Version).
		Updates(map[string]interface{}{
			"payee_id":         project.PayeeID,
			"status":           project.Status,
			"escrow_wallet_id": project.EscrowWalletID,
			"total_held":       project.TotalHeld,
			"total_released":   project.TotalReleased,
			"remaining":        project.Remaining,
			"total_budget":     project.TotalBudget,
			"archived_at":      project.ArchivedAt,
			"version":          project.Version + 1,
			"updated_at":       time.Now(),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to update project: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrStaleVersion
	}
	project.Version++
	return nil
}

func (r *projectRepository) ListArchivable(before time.Time) ([]models.Project, error) {
	var projects []models.Project
	err := r.db.
		Where("status IN ? AND updated_at < ?",
			[]models.ProjectStatus{models.ProjectCompleted, models.ProjectCancelled}, before).
		Find(&projects).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list archivable projects: %w", err)
	}
	return projects, nil
}

func (r *projectRepository) CreateMilestone(m *models.Milestone) error {
	if result := r.db.Create(m); result.Error != nil {
		return fmt.Errorf("failed to create milestone: %w", result.Error)
	}
	return nil
}

func (r *projectRepository) GetMilestone(id uint) (*models.Milestone, error) {
	var m models.Milestone
	if err := r.db.First(&m, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrMilestoneNotFound
		}
		return nil, fmt.Errorf("failed to get milestone: %w", err)
	}
	return &m, nil
}

func (r *projectRepository) GetMilestoneForUpdate(id uint) (*models.Milestone, error) {
	var m models.Milestone
	err := r.db.Clauses(clause.Locking{Strength: "UPDATE"}).First(&m, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrMilestoneNotFound
		}
		return nil, fmt.Errorf("failed to lock milestone: %w", err)
	}
	return &m, nil
}

// UpdateMilestone guards on the milestone version; a zero-row update reports
// a stale snapshot and the caller surfaces ConcurrentModification.
func (r *projectRepository) UpdateMilestone(m *models.Milestone) error {
	result := r.db.Model(&models.Milestone{}).
		Where("id = ? AND version = ?", m.ID, m.Version).
		Updates(map[string]interface{}{
			"title":                 m.Title,
			"amount":                m.Amount,
			"status":                m.Status,
			"deadline":              m.Deadline,
			"submitted_at":          m.SubmittedAt,
			"auto_approve_deadline": m.AutoApproveDeadline,
			"deliverables":          m.Deliverables,
			"revision_count":        m.RevisionCount,
			"version":               m.Version + 1,
			"updated_at":            time.Now(),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to update milestone: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrStaleVersion
	}
	m.Version++
	return nil
}

func (r *projectRepository) ListMilestones(projectID uint) ([]models.Milestone, error) {
	var ms []models.Milestone
	if err := r.db.Where("project_id = ?", projectID).Order("id ASC").Find(&ms).Error; err != nil {
		return nil, fmt.Errorf("failed to list milestones: %w", err)
	}
	return ms, nil
}

func (r *projectRepository) ListAutoApprovable(now time.Time) ([]models.Milestone, error) {
	var ms []models.Milestone
	err := r.db.
		Where("status = ? AND auto_approve_deadline IS NOT NULL AND auto_approve_deadline <= ?",
			models.MilestoneSubmitted, now).
		Order("auto_approve_deadline ASC").
		Find(&ms).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list auto-approvable milestones: %w", err)
	}
	return ms, nil
}

func (r *projectRepository) AppendActivity(a *models.Activity) error {
	if result := r.db.Create(a); result.Error != nil {
		return fmt.Errorf("failed to append activity: %w", result.Error)
	}
	return nil
}

func (r *projectRepository) ListActivity(projectID uint, limit, offset int) ([]models.Activity, error) {
	var entries []models.Activity
	err := r.db.
		Where("project_id = ?", projectID).
		Order("id ASC").
		Limit(limit).
		Offset(offset).
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list activity: %w", err)
	}
	return entries, nil
}

func (r *projectRepository) ExecuteInTransaction(fn func(ProjectRepository) error) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		return fn(&projectRepository{db: tx})
	})
}
