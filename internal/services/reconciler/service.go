// Package reconciler is the background settlement loop: it auto-approves
// milestones whose review window lapsed, escalates stale disputes, and
// resolves pending external transactions against the payment provider. Every
// sweep is idempotent; running it twice over the same state is a no-op the
// second time.
package reconciler

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"escra/internal/config"
	"escra/internal/models"
	"escra/internal/repositories"
	"escra/internal/services/dispute"
	"escra/internal/services/ledger"
	"escra/internal/services/notification"
	"escra/internal/services/project"
	"escra/internal/services/provider"
)

// Service is the reconciler's control surface.
type Service interface {
	Start()
	Stop()
	SweepOnce(ctx context.Context) SweepReport
	HandleProviderEvent(ctx context.Context, event provider.Event) error
}

// SweepReport summarizes one pass, for logs and the health endpoint.
type SweepReport struct {
	AutoApproved     int `json:"auto_approved"`
	SkippedDisputed  int `json:"skipped_disputed"`
	DisputesMoved    int `json:"disputes_moved"`
	PendingResolved  int `json:"pending_resolved"`
	PendingRemaining int `json:"pending_remaining"`
	Errors           int `json:"errors"`
}

type service struct {
	projects project.Service
	disputes dispute.Service

	projRepo   repositories.ProjectRepository
	dispRepo   repositories.DisputeRepository
	walletRepo repositories.WalletRepository

	ledger   ledger.Service
	provider provider.Client
	events   *notification.Dispatcher
	clock    project.Clock
	config   config.EscrowConfig

	mu      sync.Mutex
	stop    chan struct{}
	done    chan struct{}
	running bool
}

// NewService creates a new reconciler.
func NewService(
	projects project.Service,
	disputes dispute.Service,
	projRepo repositories.ProjectRepository,
	dispRepo repositories.DisputeRepository,
	walletRepo repositories.WalletRepository,
	led ledger.Service,
	prov provider.Client,
	events *notification.Dispatcher,
	clock project.Clock,
	cfg config.EscrowConfig,
) Service {
	if projects == nil || disputes == nil {
		panic("project and dispute services are required")
	}
	if projRepo == nil || dispRepo == nil || walletRepo == nil {
		panic("repositories are required")
	}
	if led == nil {
		panic("ledger is required")
	}
	if events == nil {
		events = notification.NewDispatcher()
	}
	if clock == nil {
		clock = project.SystemClock{}
	}
	return &service{
		projects:   projects,
		disputes:   disputes,
		projRepo:   projRepo,
		dispRepo:   dispRepo,
		walletRepo: walletRepo,
		ledger:     led,
		provider:   prov,
		events:     events,
		clock:      clock,
		config:     cfg,
	}
}

// Start launches the sweep loop. Safe to call once; Stop shuts it down.
func (s *service) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.stop = make(chan struct{})
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.config.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-s.stop:
				return
			case <-ticker.C:
				report := s.SweepOnce(context.Background())
				if report.AutoApproved+report.DisputesMoved+report.PendingResolved+report.Errors > 0 {
					log.Printf("reconciler sweep: approved=%d skipped=%d disputes=%d pending=%d errors=%d",
						report.AutoApproved, report.SkippedDisputed, report.DisputesMoved,
						report.PendingResolved, report.Errors)
				}
			}
		}
	}()
}

// Stop halts the loop and waits for an in-flight sweep to finish.
func (s *service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	close(s.stop)
	<-s.done
	s.running = false
}

// SweepOnce runs every sweep a single time and reports what happened.
func (s *service) SweepOnce(ctx context.Context) SweepReport {
	var report SweepReport
	s.sweepAutoApprove(ctx, &report)
	s.sweepStaleDisputes(ctx, &report)
	s.sweepPendingTransactions(ctx, &report)
	return report
}

// sweepAutoApprove releases every submitted milestone whose review window has
// lapsed. A milestone with an unresolved dispute is skipped; the dispute
// outcome decides its settlement.
func (s *service) sweepAutoApprove(ctx context.Context, report *SweepReport) {
	due, err := s.projRepo.ListAutoApprovable(s.clock.Now())
	if err != nil {
		log.Printf("reconciler: listing auto-approvable milestones: %v", err)
		report.Errors++
		return
	}
	for _, m := range due {
		_, err := s.projects.Approve(ctx, models.SystemActorID, m.ID, m.Version)
		switch {
		case err == nil:
			report.AutoApproved++
		case errors.Is(err, project.ErrDisputePending):
			log.Printf("reconciler: milestone %d past deadline but disputed, leaving to resolution", m.ID)
			report.SkippedDisputed++
		case errors.Is(err, project.ErrConcurrentModification),
			errors.Is(err, project.ErrInvalidTransition):
			// Someone settled it between the listing and the lock.
		default:
			log.Printf("reconciler: auto-approving milestone %d: %v", m.ID, err)
			report.Errors++
		}
	}
}

// sweepStaleDisputes hands disputes that sat untouched past the staleness
// window to human mediation. A stale OPEN dispute gets the automated
// pre-review's advisory suggestion written on the way; AUTOMATED_REVIEW is
// where a mediator parked it manually and escalates without one.
func (s *service) sweepStaleDisputes(ctx context.Context, report *SweepReport) {
	cutoff := s.clock.Now().Add(-s.config.DisputeStaleAfter)
	stale, err := s.dispRepo.ListStale(cutoff)
	if err != nil {
		log.Printf("reconciler: listing stale disputes: %v", err)
		report.Errors++
		return
	}
	for _, d := range stale {
		switch d.Status {
		case models.DisputeOpen, models.DisputeAutomatedReview:
			if d.Status == models.DisputeOpen {
				if suggestion := s.preReview(&d); suggestion != nil {
					if _, err := s.disputes.Suggest(ctx, d.ID, suggestion); err != nil {
						log.Printf("reconciler: recording pre-review for dispute %d: %v", d.ID, err)
					}
				}
			}
			if _, err := s.disputes.Escalate(ctx, models.SystemActorID, d.ID, models.DisputeMediation); err != nil {
				if !errors.Is(err, dispute.ErrInvalidState) && !errors.Is(err, dispute.ErrInvalidEscalation) {
					log.Printf("reconciler: escalating dispute %d: %v", d.ID, err)
					report.Errors++
				}
				continue
			}
			report.DisputesMoved++
		}
	}
}

// preReview produces the advisory suggestion written during automated review.
// It looks only at what is on file: deliverables argue for release, their
// absence for refund, a contested history for an even split. It never moves
// funds.
func (s *service) preReview(d *models.Dispute) models.JSON {
	m, err := s.projRepo.GetMilestone(d.MilestoneID)
	if err != nil {
		log.Printf("reconciler: pre-review of dispute %d: %v", d.ID, err)
		return nil
	}

	var decision string
	var toPayee, toPayer int64
	switch {
	case len(m.Deliverables) == 0:
		decision = models.DecisionFullRefund
		toPayer = m.Amount
	case m.RevisionCount >= s.config.RevisionLimit:
		decision = models.DecisionSplit
		toPayee = m.Amount / 2
		toPayer = m.Amount - toPayee
	default:
		decision = models.DecisionFullRelease
		toPayee = m.Amount
	}

	return models.NewJSON(map[string]interface{}{
		"decision":        decision,
		"amount_to_payee": toPayee,
		"amount_to_payer": toPayer,
		"generated_at":    s.clock.Now().Format(time.RFC3339),
	})
}

// sweepPendingTransactions asks the provider for the definitive outcome of
// every external transaction that has been pending longer than the timeout.
// Still-pending intents are left for the next pass.
func (s *service) sweepPendingTransactions(ctx context.Context, report *SweepReport) {
	if s.provider == nil {
		return
	}
	cutoff := s.clock.Now().Add(-s.config.PendingTxTimeout)
	pending, err := s.walletRepo.ListPendingOlderThan(cutoff)
	if err != nil {
		log.Printf("reconciler: listing pending transactions: %v", err)
		report.Errors++
		return
	}
	for _, tx := range pending {
		if tx.ExternalRef == "" {
			continue
		}
		intent, err := s.provider.GetIntent(ctx, tx.ExternalRef)
		if err != nil {
			log.Printf("reconciler: querying intent %s: %v", tx.ExternalRef, err)
			report.Errors++
			continue
		}
		switch intent.Status {
		case provider.IntentSucceeded:
			if err := s.applyOutcome(ctx, tx.ExternalRef, true, ""); err != nil {
				report.Errors++
			} else {
				report.PendingResolved++
			}
		case provider.IntentFailed:
			if err := s.applyOutcome(ctx, tx.ExternalRef, false, "provider reported failure"); err != nil {
				report.Errors++
			} else {
				report.PendingResolved++
			}
		default:
			report.PendingRemaining++
		}
	}
}

// HandleProviderEvent applies a verified provider callback. Replayed events
// are harmless; the pending-state check inside the ledger makes the outcome
// apply exactly once.
func (s *service) HandleProviderEvent(ctx context.Context, event provider.Event) error {
	switch event.Kind {
	case provider.EventDepositSucceeded, provider.EventPayoutSucceeded:
		return s.applyOutcome(ctx, event.ExternalRef, true, "")
	case provider.EventDepositFailed, provider.EventPayoutFailed:
		reason := event.Reason
		if reason == "" {
			reason = event.Kind
		}
		return s.applyOutcome(ctx, event.ExternalRef, false, reason)
	default:
		log.Printf("reconciler: ignoring provider event kind %q", event.Kind)
		return nil
	}
}

func (s *service) applyOutcome(ctx context.Context, externalRef string, success bool, reason string) error {
	var (
		record *models.WalletTransaction
		err    error
	)
	if success {
		record, err = s.ledger.CompleteExternal(ctx, externalRef)
	} else {
		record, err = s.ledger.FailExternal(ctx, externalRef, reason)
	}
	if errors.Is(err, ledger.ErrDuplicateOperation) {
		return nil
	}
	if errors.Is(err, repositories.ErrTransactionNotFound) {
		log.Printf("reconciler: no pending transaction for external ref %s", externalRef)
		return nil
	}
	if err != nil {
		log.Printf("reconciler: applying outcome for %s: %v", externalRef, err)
		return err
	}

	if success {
		kind := notification.EventFundsDeposited
		if record.Type == models.TxTypeWithdrawal {
			kind = notification.EventFundsWithdrawn
		}
		s.events.Publish(ctx, notification.Event{
			Kind:    kind,
			ActorID: models.SystemActorID,
			Payload: models.NewJSON(map[string]interface{}{
				"external_ref": externalRef,
				"amount":       record.Amount,
			}),
		})
	}
	return nil
}
