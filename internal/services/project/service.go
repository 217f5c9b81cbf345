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

// Service governs the project and milestone state machines. Every transition
// runs under the project-level lock so concurrent operations on the same
// aggregate are serialized; money only moves through the ledger.
type Service interface {
	Create(ctx context.Context, payerID uint, input CreateInput) (*models.Project, error)
	AddMilestone(ctx context.Context, payerID, projectID uint, input MilestoneInput) (*models.Milestone, error)
	Get(ctx context.Context, projectID uint) (*models.Project, error)
	ListActivity(ctx context.Context, projectID uint, limit, offset int) ([]models.Activity, error)

	SendInvitation(ctx context.Context, payerID, projectID, payeeID uint) (*models.Project, error)
	AcceptInvitation(ctx context.Context, payeeID, projectID uint) (*models.Project, error)
	DeclineInvitation(ctx context.Context, payeeID, projectID uint) (*models.Project, error)
	Fund(ctx context.Context, payerID, projectID uint) (*models.Project, error)
	Cancel(ctx context.Context, actorID, projectID uint) (*models.Project, error)
	Archive(ctx context.Context, actorID, projectID uint) (*models.Project, error)

	StartMilestone(ctx context.Context, payeeID, milestoneID uint) (*models.Milestone, error)
	Submit(ctx context.Context, payeeID uint, input SubmitInput) (*models.Milestone, error)
	Approve(ctx context.Context, actorID, milestoneID uint, expectedVersion uint64) (*models.Milestone, error)
	RequestRevision(ctx context.Context, payerID, milestoneID uint, note string, expectedVersion uint64) (*models.Milestone, error)
}

type service struct {
	atomic   Atomic
	repo     repositories.ProjectRepository
	disputes repositories.DisputeRepository
	events   *notification.Dispatcher
	cache    Cache
	clock    Clock
	config   Config
}

// NewService creates a new project service.
func NewService(
	atomic Atomic,
	repo repositories.ProjectRepository,
	disputes repositories.DisputeRepository,
	events *notification.Dispatcher,
	cache Cache,
	clock Clock,
	config Config,
) Service {
	if atomic == nil {
		panic("atomic runner is required")
	}
	if repo == nil {
		panic("repo is required")
	}
	if disputes == nil {
		panic("dispute repo is required")
	}
	if events == nil {
		events = notification.NewDispatcher()
	}
	if clock == nil {
		clock = SystemClock{}
	}

	return &service{
		atomic:   atomic,
		repo:     repo,
		disputes: disputes,
		events:   events,
		cache:    cache,
		clock:    clock,
		config:   config,
	}
}

// TransitionProject applies a table-checked project transition in place.
func TransitionProject(p *models.Project, to models.ProjectStatus) error {
	if !canProjectTransition(p.Status, to) {
		return fmt.Errorf("%w: project %s -> %s", ErrInvalidTransition, p.Status, to)
	}
	p.Status = to
	return nil
}

// TransitionMilestone applies a table-checked milestone transition in place.
func TransitionMilestone(m *models.Milestone, to models.MilestoneStatus) error {
	if !canMilestoneTransition(m.Status, to) {
		return fmt.Errorf("%w: milestone %s -> %s", ErrInvalidTransition, m.Status, to)
	}
	m.Status = to
	return nil
}

// Reevaluate computes the project status after a milestone settles: COMPLETED
// when every milestone has left escrow, back to ACTIVE when a dispute closed
// without finishing the project.
func Reevaluate(p *models.Project, milestones []models.Milestone) models.ProjectStatus {
	allSettled := true
	anyDisputed := false
	for _, m := range milestones {
		if !m.Status.Settled() {
			allSettled = false
		}
		if m.Status == models.MilestoneDisputed {
			anyDisputed = true
		}
	}
	switch {
	case allSettled:
		return models.ProjectCompleted
	case anyDisputed:
		return models.ProjectDisputed
	default:
		return models.ProjectActive
	}
}

func (s *service) Create(ctx context.Context, payerID uint, input CreateInput) (*models.Project, error) {
	if len(input.Milestones) == 0 {
		return nil, fmt.Errorf("%w: a project needs at least one milestone", ErrValidation)
	}
	currency := input.Currency
	if currency == "" {
		currency = s.config.DefaultCurrency
	}

	var budget int64
	for _, m := range input.Milestones {
		if m.Amount <= 0 {
			return nil, fmt.Errorf("%w: milestone amount must be positive", ErrValidation)
		}
		budget += m.Amount
	}

	proj := &models.Project{
		PayerID:     payerID,
		Title:       input.Title,
		Description: input.Description,
		TotalBudget: budget,
		Currency:    currency,
		Status:      models.ProjectDraft,
	}

	err := s.atomic(func(repo repositories.ProjectRepository, _ repositories.DisputeRepository, _ ledger.Service) error {
		if err := repo.Create(proj); err != nil {
			return err
		}
		for _, in := range input.Milestones {
			m := &models.Milestone{
				ProjectID: proj.ID,
				Title:     in.Title,
				Amount:    in.Amount,
				Deadline:  in.Deadline,
				Status:    models.MilestonePending,
			}
			if err := repo.CreateMilestone(m); err != nil {
				return err
			}
			proj.Milestones = append(proj.Milestones, *m)
		}
		return repo.AppendActivity(&models.Activity{
			ProjectID: proj.ID,
			ActorID:   payerID,
			Action:    models.ActivityProjectCreated,
		})
	})
	if err != nil {
		return nil, err
	}
	return proj, nil
}

// AddMilestone appends a milestone to a draft project and grows the budget to
// match. Once an invitation is out the milestone set is frozen.
func (s *service) AddMilestone(ctx context.Context, payerID, projectID uint, input MilestoneInput) (*models.Milestone, error) {
	if input.Amount <= 0 {
		return nil, fmt.Errorf("%w: milestone amount must be positive", ErrValidation)
	}

	var m *models.Milestone
	err := s.atomic(func(repo repositories.ProjectRepository, _ repositories.DisputeRepository, _ ledger.Service) error {
		proj, err := s.lockOwned(repo, projectID, payerID)
		if err != nil {
			return err
		}
		if proj.Status != models.ProjectDraft {
			return fmt.Errorf("%w: milestones can only be added while the project is %s, project is %s",
				ErrInvalidTransition, models.ProjectDraft, proj.Status)
		}
		m = &models.Milestone{
			ProjectID: proj.ID,
			Title:     input.Title,
			Amount:    input.Amount,
			Deadline:  input.Deadline,
			Status:    models.MilestonePending,
		}
		if err := repo.CreateMilestone(m); err != nil {
			return err
		}
		proj.TotalBudget += input.Amount
		if err := repo.Update(proj); err != nil {
			return err
		}
		return repo.AppendActivity(&models.Activity{
			ProjectID: proj.ID,
			ActorID:   payerID,
			Action:    models.ActivityMilestoneAdded,
			Metadata:  models.NewJSON(map[string]interface{}{"milestone_id": m.ID, "amount": m.Amount}),
		})
	})
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, projectID)
	return m, nil
}

func (s *service) Get(ctx context.Context, projectID uint) (*models.Project, error) {
	if s.cache != nil {
		if p, err := s.cache.GetProject(ctx, projectID); err == nil && p != nil {
			return p, nil
		}
	}
	proj, err := s.repo.GetByID(projectID)
	if err != nil {
		if errors.Is(err, repositories.ErrProjectNotFound) {
			return nil, ErrProjectNotFound
		}
		return nil, err
	}
	if s.cache != nil {
		s.cache.CacheProject(ctx, proj)
	}
	return proj, nil
}

func (s *service) ListActivity(ctx context.Context, projectID uint, limit, offset int) ([]models.Activity, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	return s.repo.ListActivity(projectID, limit, offset)
}

func (s *service) SendInvitation(ctx context.Context, payerID, projectID, payeeID uint) (*models.Project, error) {
	if payeeID == payerID {
		return nil, fmt.Errorf("%w: payer and payee must differ", ErrValidation)
	}

	var proj *models.Project
	err := s.atomic(func(repo repositories.ProjectRepository, _ repositories.DisputeRepository, _ ledger.Service) error {
		var err error
		proj, err = s.lockOwned(repo, projectID, payerID)
		if err != nil {
			return err
		}
		if err := s.checkBudget(proj); err != nil {
			return err
		}
		if err := TransitionProject(proj, models.ProjectPendingAcceptance); err != nil {
			return err
		}
		proj.PayeeID = &payeeID
		if err := repo.Update(proj); err != nil {
			return err
		}
		return repo.AppendActivity(&models.Activity{
			ProjectID: proj.ID,
			ActorID:   payerID,
			Action:    models.ActivityInvitationSent,
			Metadata:  models.NewJSON(map[string]interface{}{"payee_id": payeeID}),
		})
	})
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, projectID)
	return proj, nil
}

func (s *service) AcceptInvitation(ctx context.Context, payeeID, projectID uint) (*models.Project, error) {
	var proj *models.Project
	err := s.atomic(func(repo repositories.ProjectRepository, _ repositories.DisputeRepository, _ ledger.Service) error {
		var err error
		proj, err = lockProject(repo, projectID)
		if err != nil {
			return err
		}
		if proj.PayeeID == nil || *proj.PayeeID != payeeID {
			return ErrUnauthorized
		}
		if err := TransitionProject(proj, models.ProjectAwaitingDeposit); err != nil {
			return err
		}
		if err := repo.Update(proj); err != nil {
			return err
		}
		return repo.AppendActivity(&models.Activity{
			ProjectID: proj.ID,
			ActorID:   payeeID,
			Action:    models.ActivityInvitationAccepted,
		})
	})
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, projectID)
	return proj, nil
}

func (s *service) DeclineInvitation(ctx context.Context, payeeID, projectID uint) (*models.Project, error) {
	var proj *models.Project
	err := s.atomic(func(repo repositories.ProjectRepository, _ repositories.DisputeRepository, _ ledger.Service) error {
		var err error
		proj, err = lockProject(repo, projectID)
		if err != nil {
			return err
		}
		if proj.PayeeID == nil || *proj.PayeeID != payeeID {
			return ErrUnauthorized
		}
		if err := TransitionProject(proj, models.ProjectDraft); err != nil {
			return err
		}
		proj.PayeeID = nil
		return repo.Update(proj)
	})
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, projectID)
	return proj, nil
}

// Fund moves budget + payer fee out of the payer's wallet: the budget into
// the project's escrow wallet, the fee to the platform. On any ledger failure
// the whole transaction rolls back and the project stays AWAITING_DEPOSIT.
func (s *service) Fund(ctx context.Context, payerID, projectID uint) (*models.Project, error) {
	var proj *models.Project
	err := s.atomic(func(repo repositories.ProjectRepository, _ repositories.DisputeRepository, led ledger.Service) error {
		var err error
		proj, err = s.lockOwned(repo, projectID, payerID)
		if err != nil {
			return err
		}
		if proj.Status != models.ProjectAwaitingDeposit {
			return fmt.Errorf("%w: fund is only legal in %s, project is %s",
				ErrInvalidTransition, models.ProjectAwaitingDeposit, proj.Status)
		}
		if err := s.checkBudget(proj); err != nil {
			return err
		}

		amount := proj.TotalBudget
		_, payerFee, err := money.Gross(amount, s.config.PayerFeeBps)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrValidation, err)
		}

		payerWallet, err := led.GetOrCreateUserWallet(ctx, payerID)
		if err != nil {
			return err
		}
		escrowWallet, err := s.ensureEscrowWallet(ctx, led, proj)
		if err != nil {
			return err
		}
		if _, err := led.Transfer(ctx, ledger.TransferRequest{
			FromWalletID: payerWallet.ID,
			ToWalletID:   escrowWallet.ID,
			Amount:       amount,
			Key:          fmt.Sprintf("fund:%d", proj.ID),
			Reason:       "escrow funding",
			RelatedType:  models.RefProject,
			RelatedID:    proj.ID,
		}); err != nil && !errors.Is(err, ledger.ErrDuplicateOperation) {
			return err
		}
		if payerFee > 0 {
			if err := s.payPlatformFee(ctx, led, payerWallet.ID,
				payerFee, fmt.Sprintf("fund-fee:%d", proj.ID), proj.ID); err != nil {
				return err
			}
		}

		proj.TotalHeld = amount
		proj.TotalReleased = 0
		proj.Remaining = amount
		proj.EscrowWalletID = &escrowWallet.ID
		if err := TransitionProject(proj, models.ProjectActive); err != nil {
			return err
		}
		if err := repo.Update(proj); err != nil {
			return err
		}
		return repo.AppendActivity(&models.Activity{
			ProjectID: proj.ID,
			ActorID:   payerID,
			Action:    models.ActivityProjectFunded,
			Metadata:  models.NewJSON(map[string]interface{}{"amount": amount, "payer_fee": payerFee}),
		})
	})
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx, projectID)
	s.events.Publish(ctx, notification.Event{
		Kind:      notification.EventProjectFunded,
		ProjectID: projectID,
		ActorID:   payerID,
	})
	return proj, nil
}

// Cancel terminates a project. Before funding it is a pure state change; on a
// funded project with no unsettled submitted work the remaining escrow is
// refunded to the payer. A disputed project always has a disputed milestone,
// so it cannot be cancelled until every dispute resolves.
func (s *service) Cancel(ctx context.Context, actorID, projectID uint) (*models.Project, error) {
	var proj *models.Project
	err := s.atomic(func(repo repositories.ProjectRepository, disputes repositories.DisputeRepository, led ledger.Service) error {
		var err error
		proj, err = lockProject(repo, projectID)
		if err != nil {
			return err
		}
		if actorID != proj.PayerID && (proj.PayeeID == nil || *proj.PayeeID != actorID) {
			return ErrUnauthorized
		}

		if proj.Status == models.ProjectActive || proj.Status == models.ProjectDisputed {
			for _, m := range proj.Milestones {
				if m.Status == models.MilestoneSubmitted || m.Status == models.MilestoneDisputed {
					return fmt.Errorf("%w: submitted or disputed milestones must settle before cancellation",
						ErrInvalidTransition)
				}
			}
			if proj.Remaining > 0 {
				payerWallet, err := led.GetOrCreateUserWallet(ctx, proj.PayerID)
				if err != nil {
					return err
				}
				if _, err := led.Transfer(ctx, ledger.TransferRequest{
					FromWalletID: *proj.EscrowWalletID,
					ToWalletID:   payerWallet.ID,
					Amount:       proj.Remaining,
					Key:          fmt.Sprintf("cancel:%d", proj.ID),
					Type:         models.TxTypeRefund,
					Reason:       "cancellation refund",
					RelatedType:  models.RefProject,
					RelatedID:    proj.ID,
				}); err != nil && !errors.Is(err, ledger.ErrDuplicateOperation) {
					return err
				}
				proj.TotalReleased += proj.Remaining
				proj.Remaining = 0
				if err := checkEscrowInvariant(proj); err != nil {
					return err
				}
			}
		}

		if err := TransitionProject(proj, models.ProjectCancelled); err != nil {
			return err
		}
		if err := repo.Update(proj); err != nil {
			return err
		}
		return repo.AppendActivity(&models.Activity{
			ProjectID: proj.ID,
			ActorID:   actorID,
			Action:    models.ActivityProjectCancelled,
		})
	})
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx, projectID)
	s.events.Publish(ctx, notification.Event{
		Kind:      notification.EventProjectCancelled,
		ProjectID: projectID,
		ActorID:   actorID,
	})
	return proj, nil
}

func (s *service) Archive(ctx context.Context, actorID, projectID uint) (*models.Project, error) {
	var proj *models.Project
	err := s.atomic(func(repo repositories.ProjectRepository, _ repositories.DisputeRepository, _ ledger.Service) error {
		var err error
		proj, err = lockProject(repo, projectID)
		if err != nil {
			return err
		}
		if err := TransitionProject(proj, models.ProjectArchived); err != nil {
			return err
		}
		now := s.clock.Now()
		proj.ArchivedAt = &now
		if err := repo.Update(proj); err != nil {
			return err
		}
		return repo.AppendActivity(&models.Activity{
			ProjectID: proj.ID,
			ActorID:   actorID,
			Action:    models.ActivityProjectArchived,
		})
	})
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, projectID)
	return proj, nil
}

// Helpers

func lockProject(repo repositories.ProjectRepository, projectID uint) (*models.Project, error) {
	proj, err := repo.GetForUpdate(projectID)
	if err != nil {
		if errors.Is(err, repositories.ErrProjectNotFound) {
			return nil, ErrProjectNotFound
		}
		return nil, err
	}
	return proj, nil
}

func (s *service) lockOwned(repo repositories.ProjectRepository, projectID, payerID uint) (*models.Project, error) {
	proj, err := lockProject(repo, projectID)
	if err != nil {
		return nil, err
	}
	if proj.PayerID != payerID {
		return nil, ErrUnauthorized
	}
	return proj, nil
}

func (s *service) checkBudget(proj *models.Project) error {
	var sum int64
	for _, m := range proj.Milestones {
		sum += m.Amount
	}
	if sum != proj.TotalBudget {
		return fmt.Errorf("%w: milestones sum to %d, budget is %d", ErrBudgetMismatch, sum, proj.TotalBudget)
	}
	return nil
}

func (s *service) ensureEscrowWallet(ctx context.Context, led ledger.Service, proj *models.Project) (*models.Wallet, error) {
	if proj.EscrowWalletID != nil {
		return led.GetWallet(ctx, *proj.EscrowWalletID)
	}
	id := proj.ID
	return led.CreateWallet(ctx, s.config.PlatformUserID, models.WalletTypeEscrow, &id)
}

func (s *service) payPlatformFee(ctx context.Context, led ledger.Service, fromWalletID uint, fee int64, key string, projectID uint) error {
	platform, err := led.GetPlatformWallet(ctx)
	if err != nil {
		return err
	}
	_, err = led.Transfer(ctx, ledger.TransferRequest{
		FromWalletID: fromWalletID,
		ToWalletID:   platform.ID,
		Amount:       fee,
		Key:          key,
		Type:         models.TxTypeFee,
		Reason:       "platform fee",
		RelatedType:  models.RefProject,
		RelatedID:    projectID,
	})
	if err != nil && !errors.Is(err, ledger.ErrDuplicateOperation) {
		return err
	}
	return nil
}

// checkEscrowInvariant verifies totalHeld == totalReleased + remaining.
func checkEscrowInvariant(proj *models.Project) error {
	if proj.TotalHeld != proj.TotalReleased+proj.Remaining || proj.Remaining < 0 {
		return fmt.Errorf("%w: project %d held=%d released=%d remaining=%d",
			ErrIntegrityViolation, proj.ID, proj.TotalHeld, proj.TotalReleased, proj.Remaining)
	}
	return nil
}

func (s *service) invalidate(ctx context.Context, projectID uint) {
	if s.cache != nil {
		s.cache.InvalidateProject(ctx, projectID)
	}
}
