package repositories

import (
	"errors"
	"fmt"
	"time"

	"escra/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DisputeRepository is the data access contract for dispute records.
type DisputeRepository interface {
	Create(d *models.Dispute) error
	GetByID(id uint) (*models.Dispute, error)
	GetForUpdate(id uint) (*models.Dispute, error)
	Update(d *models.Dispute) error
	OpenByMilestone(milestoneID uint) (*models.Dispute, error)
	ListStale(cutoff time.Time) ([]models.Dispute, error)
	ExecuteInTransaction(fn func(DisputeRepository) error) error
}

type disputeRepository struct {
	db *gorm.DB
}

func NewDisputeRepository(db *gorm.DB) DisputeRepository {
	return &disputeRepository{db: db}
}

func (r *disputeRepository) Create(d *models.Dispute) error {
	if result := r.db.Create(d); result.Error != nil {
		return fmt.Errorf("failed to create dispute: %w", result.Error)
	}
	return nil
}

func (r *disputeRepository) GetByID(id uint) (*models.Dispute, error) {
	var d models.Dispute
	if err := r.db.First(&d, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrDisputeNotFound
		}
		return nil, fmt.Errorf("failed to get dispute: %w", err)
	}
	return &d, nil
}

func (r *disputeRepository) GetForUpdate(id uint) (*models.Dispute, error) {
	var d models.Dispute
	err := r.db.Clauses(clause.Locking{Strength: "UPDATE"}).First(&d, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrDisputeNotFound
		}
		return nil, fmt.Errorf("failed to lock dispute: %w", err)
	}
	return &d, nil
}

func (r *disputeRepository) Update(d *models.Dispute) error {
	if result := r.db.Save(d); result.Error != nil {
		return fmt.Errorf("failed to update dispute: %w", result.Error)
	}
	return nil
}

// OpenByMilestone returns the single unresolved dispute for a milestone, or
// ErrDisputeNotFound if settlement may proceed normally.
func (r *disputeRepository) OpenByMilestone(milestoneID uint) (*models.Dispute, error) {
	var d models.Dispute
	err := r.db.
		Where("milestone_id = ? AND status <> ?", milestoneID, models.DisputeResolved).
		First(&d).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrDisputeNotFound
		}
		return nil, fmt.Errorf("failed to get open dispute: %w", err)
	}
	return &d, nil
}

func (r *disputeRepository) ListStale(cutoff time.Time) ([]models.Dispute, error) {
	var ds []models.Dispute
	err := r.db.
		Where("status IN ? AND created_at < ?",
			[]models.DisputeStatus{models.DisputeOpen, models.DisputeAutomatedReview}, cutoff).
		Order("created_at ASC").
		Find(&ds).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list stale disputes: %w", err)
	}
	return ds, nil
}

func (r *disputeRepository) ExecuteInTransaction(fn func(DisputeRepository) error) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		return fn(&disputeRepository{db: tx})
	})
}
