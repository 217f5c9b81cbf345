package project

import (
	"context"
	"errors"
	"fmt"

	"escra/internal/models"
	"escra/internal/money"
	"escra/internal/repositories"
	"escra/internal/services/ledger"
	"escra/internal/services/notification"
)

// Milestone operations. Every transition locks the project row first so the
// escrow summary and milestone states never race; the milestone row inside
// the aggregate is then safe to mutate.

func (s *service) StartMilestone(ctx context.Context, payeeID, milestoneID uint) (*models.Milestone, error) {
	var out *models.Milestone
	err := s.atomic(func(repo repositories.ProjectRepository, _ repositories.DisputeRepository, _ ledger.Service) error {
		proj, m, err := lockMilestone(repo, milestoneID)
		if err != nil {
			return err
		}
		if proj.PayeeID == nil || *proj.PayeeID != payeeID {
			return ErrUnauthorized
		}
		if proj.Status != models.ProjectActive {
			return fmt.Errorf("%w: project is %s", ErrInvalidTransition, proj.Status)
		}
		if err := TransitionMilestone(m, models.MilestoneInProgress); err != nil {
			return err
		}
		if err := repo.UpdateMilestone(m); err != nil {
			return staleToConcurrent(err)
		}
		out = m
		return repo.AppendActivity(&models.Activity{
			ProjectID: proj.ID,
			ActorID:   payeeID,
			Action:    models.ActivityMilestoneStarted,
			Metadata:  models.NewJSON(map[string]interface{}{"milestone_id": m.ID}),
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Submit moves a milestone to SUBMITTED and arms the auto-approve deadline.
// No money moves here.
func (s *service) Submit(ctx context.Context, payeeID uint, input SubmitInput) (*models.Milestone, error) {
	var (
		out       *models.Milestone
		projectID uint
	)
	err := s.atomic(func(repo repositories.ProjectRepository, _ repositories.DisputeRepository, _ ledger.Service) error {
		proj, m, err := lockMilestone(repo, input.MilestoneID)
		if err != nil {
			return err
		}
		if proj.PayeeID == nil || *proj.PayeeID != payeeID {
			return ErrUnauthorized
		}
		if proj.Status != models.ProjectActive {
			return fmt.Errorf("%w: project is %s", ErrInvalidTransition, proj.Status)
		}
		if err := guardVersion(m, input.ExpectedVersion); err != nil {
			return err
		}
		if err := TransitionMilestone(m, models.MilestoneSubmitted); err != nil {
			return err
		}
		now := s.clock.Now()
		deadline := now.Add(s.config.AutoApproveGrace)
		m.SubmittedAt = &now
		m.AutoApproveDeadline = &deadline
		if input.Deliverables != nil {
			m.Deliverables = input.Deliverables
		}
		if err := repo.UpdateMilestone(m); err != nil {
			return staleToConcurrent(err)
		}
		out, projectID = m, proj.ID
		return repo.AppendActivity(&models.Activity{
			ProjectID: proj.ID,
			ActorID:   payeeID,
			Action:    models.ActivityMilestoneSubmitted,
			Metadata:  models.NewJSON(map[string]interface{}{"milestone_id": m.ID}),
		})
	})
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx, projectID)
	s.events.Publish(ctx, notification.Event{
		Kind:      notification.EventMilestoneSubmitted,
		ProjectID: projectID,
		ActorID:   payeeID,
	})
	return out, nil
}

// Approve releases a submitted milestone: the payee's net payout and the
// platform's payee-side fee both leave the escrow wallet in the same
// transaction as the state change. An unresolved dispute on the milestone
// blocks approval, including the reconciler's deadline-driven one.
func (s *service) Approve(ctx context.Context, actorID, milestoneID uint, expectedVersion uint64) (*models.Milestone, error) {
	var (
		out       *models.Milestone
		projectID uint
		completed bool
	)
	err := s.atomic(func(repo repositories.ProjectRepository, disputes repositories.DisputeRepository, led ledger.Service) error {
		proj, m, err := lockMilestone(repo, milestoneID)
		if err != nil {
			return err
		}
		if actorID != models.SystemActorID && actorID != proj.PayerID {
			return ErrUnauthorized
		}
		if proj.Status != models.ProjectActive {
			return fmt.Errorf("%w: project is %s", ErrInvalidTransition, proj.Status)
		}
		if err := guardVersion(m, expectedVersion); err != nil {
			return err
		}
		if _, err := disputes.OpenByMilestone(m.ID); err == nil {
			return ErrDisputePending
		} else if !errors.Is(err, repositories.ErrDisputeNotFound) {
			return err
		}
		if err := TransitionMilestone(m, models.MilestoneApproved); err != nil {
			return err
		}
		if proj.EscrowWalletID == nil {
			return fmt.Errorf("%w: project %d has no escrow wallet", ErrIntegrityViolation, proj.ID)
		}

		net, payeeFee, err := money.Net(m.Amount, s.config.PayeeFeeBps)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrValidation, err)
		}
		if proj.PayeeID == nil {
			return fmt.Errorf("%w: project %d has no payee", ErrIntegrityViolation, proj.ID)
		}
		payeeWallet, err := led.GetOrCreateUserWallet(ctx, *proj.PayeeID)
		if err != nil {
			return err
		}
		if _, err := led.Transfer(ctx, ledger.TransferRequest{
			FromWalletID: *proj.EscrowWalletID,
			ToWalletID:   payeeWallet.ID,
			Amount:       net,
			Key:          fmt.Sprintf("release:%d", m.ID),
			Reason:       "milestone release",
			RelatedType:  models.RefMilestone,
			RelatedID:    m.ID,
		}); err != nil && !errors.Is(err, ledger.ErrDuplicateOperation) {
			return err
		}
		if payeeFee > 0 {
			if err := s.payPlatformFee(ctx, led, *proj.EscrowWalletID,
				payeeFee, fmt.Sprintf("release-fee:%d", m.ID), proj.ID); err != nil {
				return err
			}
		}

		proj.TotalReleased += m.Amount
		proj.Remaining -= m.Amount
		if err := checkEscrowInvariant(proj); err != nil {
			return err
		}
		if err := repo.UpdateMilestone(m); err != nil {
			return staleToConcurrent(err)
		}

		if next := Reevaluate(proj, reloadMilestones(proj, m)); next != proj.Status {
			if err := TransitionProject(proj, next); err != nil {
				return err
			}
			completed = next == models.ProjectCompleted
		}
		if err := repo.Update(proj); err != nil {
			return staleToConcurrent(err)
		}

		if err := repo.AppendActivity(&models.Activity{
			ProjectID: proj.ID,
			ActorID:   actorID,
			Action:    models.ActivityMilestoneApproved,
			Metadata: models.NewJSON(map[string]interface{}{
				"milestone_id": m.ID,
				"net":          net,
				"payee_fee":    payeeFee,
			}),
		}); err != nil {
			return err
		}
		if completed {
			if err := repo.AppendActivity(&models.Activity{
				ProjectID: proj.ID,
				ActorID:   models.SystemActorID,
				Action:    models.ActivityProjectCompleted,
			}); err != nil {
				return err
			}
		}
		out, projectID = m, proj.ID
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx, projectID)
	s.events.Publish(ctx, notification.Event{
		Kind:      notification.EventMilestoneApproved,
		ProjectID: projectID,
		ActorID:   actorID,
	})
	if completed {
		s.events.Publish(ctx, notification.Event{
			Kind:      notification.EventProjectCompleted,
			ProjectID: projectID,
			ActorID:   models.SystemActorID,
		})
	}
	return out, nil
}

// RequestRevision sends a submitted milestone back for rework. Past the
// revision limit the request is rejected and the milestone stays SUBMITTED
// with its auto-approve deadline still armed.
func (s *service) RequestRevision(ctx context.Context, payerID, milestoneID uint, note string, expectedVersion uint64) (*models.Milestone, error) {
	var (
		out       *models.Milestone
		projectID uint
	)
	err := s.atomic(func(repo repositories.ProjectRepository, _ repositories.DisputeRepository, _ ledger.Service) error {
		proj, m, err := lockMilestone(repo, milestoneID)
		if err != nil {
			return err
		}
		if proj.PayerID != payerID {
			return ErrUnauthorized
		}
		if proj.Status != models.ProjectActive {
			return fmt.Errorf("%w: project is %s", ErrInvalidTransition, proj.Status)
		}
		if err := guardVersion(m, expectedVersion); err != nil {
			return err
		}
		if m.Status != models.MilestoneSubmitted {
			return fmt.Errorf("%w: milestone is %s", ErrInvalidTransition, m.Status)
		}
		if m.RevisionCount >= s.config.RevisionLimit {
			return ErrRevisionLimitExceeded
		}
		if err := TransitionMilestone(m, models.MilestoneRevisionRequested); err != nil {
			return err
		}
		m.RevisionCount++
		m.AutoApproveDeadline = nil
		if err := repo.UpdateMilestone(m); err != nil {
			return staleToConcurrent(err)
		}
		out, projectID = m, proj.ID
		return repo.AppendActivity(&models.Activity{
			ProjectID: proj.ID,
			ActorID:   payerID,
			Action:    models.ActivityRevisionRequested,
			Detail:    note,
			Metadata:  models.NewJSON(map[string]interface{}{"milestone_id": m.ID, "revision": m.RevisionCount}),
		})
	})
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx, projectID)
	s.events.Publish(ctx, notification.Event{
		Kind:      notification.EventRevisionRequested,
		ProjectID: projectID,
		ActorID:   payerID,
	})
	return out, nil
}

// lockMilestone takes the project lock for the milestone's aggregate and
// returns the locked project together with the milestone row.
func lockMilestone(repo repositories.ProjectRepository, milestoneID uint) (*models.Project, *models.Milestone, error) {
	m, err := repo.GetMilestone(milestoneID)
	if err != nil {
		if errors.Is(err, repositories.ErrMilestoneNotFound) {
			return nil, nil, ErrMilestoneNotFound
		}
		return nil, nil, err
	}
	proj, err := lockProject(repo, m.ProjectID)
	if err != nil {
		return nil, nil, err
	}
	// Re-read under the project lock; the pre-lock copy may be stale.
	m, err = repo.GetMilestone(milestoneID)
	if err != nil {
		return nil, nil, err
	}
	return proj, m, nil
}

// guardVersion rejects writes based on a stale read when the caller supplied
// the version it saw. Zero means the caller did not ask for the check.
func guardVersion(m *models.Milestone, expected uint64) error {
	if expected != 0 && m.Version != expected {
		return ErrConcurrentModification
	}
	return nil
}

func staleToConcurrent(err error) error {
	if errors.Is(err, repositories.ErrStaleVersion) {
		return ErrConcurrentModification
	}
	return err
}

// reloadMilestones returns the project's milestone list with the in-memory
// copy of the one just transitioned substituted in.
func reloadMilestones(proj *models.Project, updated *models.Milestone) []models.Milestone {
	out := make([]models.Milestone, len(proj.Milestones))
	copy(out, proj.Milestones)
	for i := range out {
		if out[i].ID == updated.ID {
			out[i] = *updated
		}
	}
	return out
}
