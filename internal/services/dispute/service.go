// Package dispute runs the resolution workflow that pre-empts normal
// milestone settlement: raise, escalate, assign, and the final binding
// resolution that splits the disputed amount and releases the milestone.
package dispute

import (
	"context"
	"errors"
	"fmt"

	"escra/internal/models"
	"escra/internal/money"
	"escra/internal/repositories"
	"escra/internal/services/ledger"
	"escra/internal/services/notification"
	"escra/internal/services/project"
)

// RaiseInput opens a dispute on a milestone.
type RaiseInput struct {
	MilestoneID uint        `json:"milestone_id" validate:"required"`
	Reason      string      `json:"reason" validate:"required"`
	Evidence    models.JSON `json:"evidence,omitempty"`
}

// ResolutionInput is the binding decision of a mediator or arbitrator.
// AmountToPayee + AmountToPayer must equal the milestone amount exactly.
type ResolutionInput struct {
	DisputeID     uint   `json:"dispute_id" validate:"required"`
	Kind          string `json:"kind" validate:"required"`
	AmountToPayee int64  `json:"amount_to_payee" validate:"gte=0"`
	AmountToPayer int64  `json:"amount_to_payer" validate:"gte=0"`
	Reasoning     string `json:"reasoning"`
}

// Service is the dispute workflow interface.
type Service interface {
	Raise(ctx context.Context, actorID uint, input RaiseInput) (*models.Dispute, error)
	Get(ctx context.Context, disputeID uint) (*models.Dispute, error)
	Escalate(ctx context.Context, actorID, disputeID uint, to models.DisputeStatus) (*models.Dispute, error)
	Assign(ctx context.Context, disputeID, assigneeID uint) (*models.Dispute, error)
	Suggest(ctx context.Context, disputeID uint, suggestion models.JSON) (*models.Dispute, error)
	Resolve(ctx context.Context, actorID uint, input ResolutionInput) (*models.Dispute, error)
}

type service struct {
	atomic   project.Atomic
	disputes repositories.DisputeRepository
	events   *notification.Dispatcher
	clock    project.Clock
	config   project.Config
}

// NewService creates a new dispute service. It shares the project package's
// atomic runner so a resolution's state changes and ledger legs commit as one
// unit.
func NewService(
	atomic project.Atomic,
	disputes repositories.DisputeRepository,
	events *notification.Dispatcher,
	clock project.Clock,
	config project.Config,
) Service {
	if atomic == nil {
		panic("atomic runner is required")
	}
	if disputes == nil {
		panic("dispute repo is required")
	}
	if events == nil {
		events = notification.NewDispatcher()
	}
	if clock == nil {
		clock = project.SystemClock{}
	}
	return &service{
		atomic:   atomic,
		disputes: disputes,
		events:   events,
		clock:    clock,
		config:   config,
	}
}

// Raise opens a dispute on an in-progress or submitted milestone. The
// milestone and its project both move to DISPUTED and the auto-approve
// deadline is disarmed, all in one transaction.
func (s *service) Raise(ctx context.Context, actorID uint, input RaiseInput) (*models.Dispute, error) {
	if input.Reason == "" {
		return nil, fmt.Errorf("%w: a dispute needs a reason", ErrValidation)
	}

	var (
		out       *models.Dispute
		projectID uint
	)
	err := s.atomic(func(repo repositories.ProjectRepository, disputes repositories.DisputeRepository, _ ledger.Service) error {
		m, err := repo.GetMilestone(input.MilestoneID)
		if err != nil {
			if errors.Is(err, repositories.ErrMilestoneNotFound) {
				return ErrMilestoneNotFound
			}
			return err
		}
		proj, err := repo.GetForUpdate(m.ProjectID)
		if err != nil {
			return err
		}
		m, err = repo.GetMilestone(input.MilestoneID)
		if err != nil {
			return err
		}

		if actorID != proj.PayerID && (proj.PayeeID == nil || *proj.PayeeID != actorID) {
			return ErrUnauthorized
		}
		if _, err := disputes.OpenByMilestone(m.ID); err == nil {
			return ErrDisputeAlreadyExists
		} else if !errors.Is(err, repositories.ErrDisputeNotFound) {
			return err
		}

		if err := project.TransitionMilestone(m, models.MilestoneDisputed); err != nil {
			return fmt.Errorf("%w: milestone is %s", ErrInvalidState, m.Status)
		}
		m.AutoApproveDeadline = nil
		if err := repo.UpdateMilestone(m); err != nil {
			return err
		}
		if proj.Status != models.ProjectDisputed {
			if err := project.TransitionProject(proj, models.ProjectDisputed); err != nil {
				return err
			}
			if err := repo.Update(proj); err != nil {
				return err
			}
		}

		d := &models.Dispute{
			ProjectID:   proj.ID,
			MilestoneID: m.ID,
			RaisedByID:  actorID,
			Reason:      input.Reason,
			Evidence:    input.Evidence,
			Status:      models.DisputeOpen,
		}
		if err := disputes.Create(d); err != nil {
			return err
		}
		out, projectID = d, proj.ID
		return repo.AppendActivity(&models.Activity{
			ProjectID: proj.ID,
			ActorID:   actorID,
			Action:    models.ActivityDisputeRaised,
			Detail:    input.Reason,
			Metadata:  models.NewJSON(map[string]interface{}{"milestone_id": m.ID, "dispute_id": d.ID}),
		})
	})
	if err != nil {
		return nil, err
	}

	s.events.Publish(ctx, notification.Event{
		Kind:      notification.EventDisputeRaised,
		ProjectID: projectID,
		ActorID:   actorID,
	})
	return out, nil
}

func (s *service) Get(ctx context.Context, disputeID uint) (*models.Dispute, error) {
	d, err := s.disputes.GetByID(disputeID)
	if err != nil {
		if errors.Is(err, repositories.ErrDisputeNotFound) {
			return nil, ErrDisputeNotFound
		}
		return nil, err
	}
	return d, nil
}

// Escalate moves the dispute forward one or more stages. Backward movement
// and escalation of a resolved dispute are rejected.
func (s *service) Escalate(ctx context.Context, actorID, disputeID uint, to models.DisputeStatus) (*models.Dispute, error) {
	var out *models.Dispute
	err := s.atomic(func(repo repositories.ProjectRepository, disputes repositories.DisputeRepository, _ ledger.Service) error {
		d, err := disputes.GetForUpdate(disputeID)
		if err != nil {
			if errors.Is(err, repositories.ErrDisputeNotFound) {
				return ErrDisputeNotFound
			}
			return err
		}
		if !d.Open() {
			return fmt.Errorf("%w: dispute is resolved", ErrInvalidState)
		}
		if !canEscalate(d.Status, to) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidEscalation, d.Status, to)
		}
		d.Status = to
		if err := disputes.Update(d); err != nil {
			return err
		}
		out = d
		return repo.AppendActivity(&models.Activity{
			ProjectID: d.ProjectID,
			ActorID:   actorID,
			Action:    models.ActivityDisputeEscalated,
			Metadata:  models.NewJSON(map[string]interface{}{"dispute_id": d.ID, "stage": string(to)}),
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Assign attaches a mediator or arbitrator to an open dispute.
func (s *service) Assign(ctx context.Context, disputeID, assigneeID uint) (*models.Dispute, error) {
	var out *models.Dispute
	err := s.atomic(func(_ repositories.ProjectRepository, disputes repositories.DisputeRepository, _ ledger.Service) error {
		d, err := disputes.GetForUpdate(disputeID)
		if err != nil {
			if errors.Is(err, repositories.ErrDisputeNotFound) {
				return ErrDisputeNotFound
			}
			return err
		}
		if !d.Open() {
			return fmt.Errorf("%w: dispute is resolved", ErrInvalidState)
		}
		d.AssigneeID = &assigneeID
		if err := disputes.Update(d); err != nil {
			return err
		}
		out = d
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Suggest records the automated pre-review's advisory resolution. It never
// moves funds or transitions anything.
func (s *service) Suggest(ctx context.Context, disputeID uint, suggestion models.JSON) (*models.Dispute, error) {
	var out *models.Dispute
	err := s.atomic(func(_ repositories.ProjectRepository, disputes repositories.DisputeRepository, _ ledger.Service) error {
		d, err := disputes.GetForUpdate(disputeID)
		if err != nil {
			if errors.Is(err, repositories.ErrDisputeNotFound) {
				return ErrDisputeNotFound
			}
			return err
		}
		if !d.Open() {
			return fmt.Errorf("%w: dispute is resolved", ErrInvalidState)
		}
		d.SuggestedResolution = suggestion
		if err := disputes.Update(d); err != nil {
			return err
		}
		out = d
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Resolve applies a binding decision: the payee's share (net of the payee
// fee) and the payer's refund both leave escrow in one transaction with the
// milestone and project state changes. Resolving an already resolved dispute
// returns the recorded resolution and moves no money.
func (s *service) Resolve(ctx context.Context, actorID uint, input ResolutionInput) (*models.Dispute, error) {
	var (
		out       *models.Dispute
		projectID uint
		replay    bool
	)
	err := s.atomic(func(repo repositories.ProjectRepository, disputes repositories.DisputeRepository, led ledger.Service) error {
		d, err := disputes.GetForUpdate(input.DisputeID)
		if err != nil {
			if errors.Is(err, repositories.ErrDisputeNotFound) {
				return ErrDisputeNotFound
			}
			return err
		}
		if !d.Open() {
			out, replay = d, true
			return nil
		}

		proj, err := repo.GetForUpdate(d.ProjectID)
		if err != nil {
			return err
		}
		m, err := repo.GetMilestone(d.MilestoneID)
		if err != nil {
			return err
		}
		if m.Status != models.MilestoneDisputed {
			return fmt.Errorf("%w: milestone is %s", ErrInvalidState, m.Status)
		}
		if input.AmountToPayee < 0 || input.AmountToPayer < 0 ||
			input.AmountToPayee+input.AmountToPayer != m.Amount {
			return fmt.Errorf("%w: %d + %d != %d",
				ErrResolutionMismatch, input.AmountToPayee, input.AmountToPayer, m.Amount)
		}
		if proj.EscrowWalletID == nil {
			return fmt.Errorf("project %d has no escrow wallet", proj.ID)
		}

		if input.AmountToPayee > 0 {
			if proj.PayeeID == nil {
				return fmt.Errorf("project %d has no payee", proj.ID)
			}
			net, payeeFee, ferr := money.Net(input.AmountToPayee, s.config.PayeeFeeBps)
			if ferr != nil {
				return fmt.Errorf("%w: %v", ErrValidation, ferr)
			}
			payeeWallet, werr := led.GetOrCreateUserWallet(ctx, *proj.PayeeID)
			if werr != nil {
				return werr
			}
			if _, err := led.Transfer(ctx, ledger.TransferRequest{
				FromWalletID: *proj.EscrowWalletID,
				ToWalletID:   payeeWallet.ID,
				Amount:       net,
				Key:          fmt.Sprintf("dispute:%d:payee", d.ID),
				Reason:       "dispute resolution payout",
				RelatedType:  models.RefDispute,
				RelatedID:    d.ID,
			}); err != nil && !errors.Is(err, ledger.ErrDuplicateOperation) {
				return err
			}
			if payeeFee > 0 {
				platform, perr := led.GetPlatformWallet(ctx)
				if perr != nil {
					return perr
				}
				if _, err := led.Transfer(ctx, ledger.TransferRequest{
					FromWalletID: *proj.EscrowWalletID,
					ToWalletID:   platform.ID,
					Amount:       payeeFee,
					Key:          fmt.Sprintf("dispute-fee:%d", d.ID),
					Type:         models.TxTypeFee,
					Reason:       "platform fee",
					RelatedType:  models.RefDispute,
					RelatedID:    d.ID,
				}); err != nil && !errors.Is(err, ledger.ErrDuplicateOperation) {
					return err
				}
			}
		}
		if input.AmountToPayer > 0 {
			payerWallet, werr := led.GetOrCreateUserWallet(ctx, proj.PayerID)
			if werr != nil {
				return werr
			}
			if _, err := led.Transfer(ctx, ledger.TransferRequest{
				FromWalletID: *proj.EscrowWalletID,
				ToWalletID:   payerWallet.ID,
				Amount:       input.AmountToPayer,
				Key:          fmt.Sprintf("dispute:%d:payer", d.ID),
				Type:         models.TxTypeRefund,
				Reason:       "dispute resolution refund",
				RelatedType:  models.RefDispute,
				RelatedID:    d.ID,
			}); err != nil && !errors.Is(err, ledger.ErrDuplicateOperation) {
				return err
			}
		}

		final := models.MilestoneApproved
		if input.AmountToPayer == m.Amount {
			final = models.MilestoneRefunded
		}
		if err := project.TransitionMilestone(m, final); err != nil {
			return err
		}
		if err := repo.UpdateMilestone(m); err != nil {
			return err
		}

		proj.TotalReleased += m.Amount
		proj.Remaining -= m.Amount
		if proj.TotalHeld != proj.TotalReleased+proj.Remaining || proj.Remaining < 0 {
			return fmt.Errorf("%w: project %d held=%d released=%d remaining=%d",
				project.ErrIntegrityViolation, proj.ID, proj.TotalHeld, proj.TotalReleased, proj.Remaining)
		}

		milestones := proj.Milestones
		for i := range milestones {
			if milestones[i].ID == m.ID {
				milestones[i] = *m
			}
		}
		if next := project.Reevaluate(proj, milestones); next != proj.Status {
			if err := project.TransitionProject(proj, next); err != nil {
				return err
			}
		}
		if err := repo.Update(proj); err != nil {
			return err
		}

		now := s.clock.Now()
		d.Status = models.DisputeResolved
		d.DecisionKind = input.Kind
		d.AmountToPayee = input.AmountToPayee
		d.AmountToPayer = input.AmountToPayer
		d.Reasoning = input.Reasoning
		d.ResolvedAt = &now
		if err := disputes.Update(d); err != nil {
			return err
		}
		out, projectID = d, proj.ID
		return repo.AppendActivity(&models.Activity{
			ProjectID: proj.ID,
			ActorID:   actorID,
			Action:    models.ActivityDisputeResolved,
			Detail:    input.Reasoning,
			Metadata: models.NewJSON(map[string]interface{}{
				"dispute_id":      d.ID,
				"decision":        input.Kind,
				"amount_to_payee": input.AmountToPayee,
				"amount_to_payer": input.AmountToPayer,
			}),
		})
	})
	if err != nil {
		return nil, err
	}

	if !replay {
		s.events.Publish(ctx, notification.Event{
			Kind:      notification.EventDisputeResolved,
			ProjectID: projectID,
			ActorID:   actorID,
		})
	}
	return out, nil
}
