package reconciler

import (
	"context"
	"testing"
	"time"

	"escra/internal/config"
	"escra/internal/models"
	"escra/internal/repositories"
	"escra/internal/services/dispute"
	"escra/internal/services/ledger"
	"escra/internal/services/project"
	"escra/internal/services/provider"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

// stubProjects implements project.Service; only Approve matters to the sweep.
type stubProjects struct {
	project.Service
	approve  func(milestoneID uint, version uint64) error
	approved []uint
}

func (s *stubProjects) Approve(_ context.Context, actorID, milestoneID uint, expectedVersion uint64) (*models.Milestone, error) {
	if actorID != models.SystemActorID {
		panic("sweep must approve as the system actor")
	}
	if s.approve != nil {
		if err := s.approve(milestoneID, expectedVersion); err != nil {
			return nil, err
		}
	}
	s.approved = append(s.approved, milestoneID)
	return &models.Milestone{ID: milestoneID, Status: models.MilestoneApproved}, nil
}

// stubDisputes records escalations and suggestions.
type stubDisputes struct {
	dispute.Service
	stages      map[uint]models.DisputeStatus
	suggestions map[uint]models.JSON
}

func newStubDisputes() *stubDisputes {
	return &stubDisputes{stages: map[uint]models.DisputeStatus{}, suggestions: map[uint]models.JSON{}}
}

func (s *stubDisputes) Escalate(_ context.Context, _, disputeID uint, to models.DisputeStatus) (*models.Dispute, error) {
	s.stages[disputeID] = to
	return &models.Dispute{ID: disputeID, Status: to}, nil
}

func (s *stubDisputes) Suggest(_ context.Context, disputeID uint, suggestion models.JSON) (*models.Dispute, error) {
	s.suggestions[disputeID] = suggestion
	return &models.Dispute{ID: disputeID}, nil
}

// fakeProjectRepo backs the sweep's listings and the pre-review lookup.
type fakeProjectRepo struct {
	repositories.ProjectRepository
	milestones map[uint]*models.Milestone
	due        []uint
}

func newFakeProjectRepo() *fakeProjectRepo {
	return &fakeProjectRepo{milestones: map[uint]*models.Milestone{}}
}

func (r *fakeProjectRepo) GetMilestone(id uint) (*models.Milestone, error) {
	m, ok := r.milestones[id]
	if !ok {
		return nil, repositories.ErrMilestoneNotFound
	}
	cp := *m
	return &cp, nil
}

func (r *fakeProjectRepo) ListAutoApprovable(time.Time) ([]models.Milestone, error) {
	var out []models.Milestone
	for _, id := range r.due {
		out = append(out, *r.milestones[id])
	}
	return out, nil
}

func (r *fakeProjectRepo) settle(milestoneID uint) {
	kept := r.due[:0]
	for _, id := range r.due {
		if id != milestoneID {
			kept = append(kept, id)
		}
	}
	r.due = kept
}

type fakeDisputeRepo struct {
	repositories.DisputeRepository
	stale []models.Dispute
}

func (r *fakeDisputeRepo) ListStale(time.Time) ([]models.Dispute, error) {
	return append([]models.Dispute(nil), r.stale...), nil
}

type fakeWalletRepo struct {
	repositories.WalletRepository
	pending []models.WalletTransaction
}

func (r *fakeWalletRepo) ListPendingOlderThan(time.Time) ([]models.WalletTransaction, error) {
	return append([]models.WalletTransaction(nil), r.pending...), nil
}

type fakeProvider struct {
	intents map[string]provider.IntentStatus
	queries int
}

func (p *fakeProvider) CreateDeposit(context.Context, provider.DepositRequest) (*provider.Intent, error) {
	return nil, nil
}

func (p *fakeProvider) CreatePayout(context.Context, provider.PayoutRequest) (*provider.Intent, error) {
	return nil, nil
}

func (p *fakeProvider) GetIntent(_ context.Context, id string) (*provider.Intent, error) {
	p.queries++
	status, ok := p.intents[id]
	if !ok {
		return nil, assert.AnError
	}
	return &provider.Intent{ID: id, Status: status}, nil
}

// fakeLedger records external outcomes and replays duplicates, clearing the
// wallet repo's pending list the way the real ledger's status change would.
type fakeLedger struct {
	ledger.Service
	wallets   *fakeWalletRepo
	completed map[string]*models.WalletTransaction
	failed    map[string]string
}

func newFakeLedger(wallets *fakeWalletRepo) *fakeLedger {
	return &fakeLedger{wallets: wallets, completed: map[string]*models.WalletTransaction{}, failed: map[string]string{}}
}

func (l *fakeLedger) settle(ref string) (*models.WalletTransaction, error) {
	for i, tx := range l.wallets.pending {
		if tx.ExternalRef == ref {
			l.wallets.pending = append(l.wallets.pending[:i], l.wallets.pending[i+1:]...)
			cp := tx
			return &cp, nil
		}
	}
	return nil, repositories.ErrTransactionNotFound
}

func (l *fakeLedger) CompleteExternal(_ context.Context, externalRef string) (*models.WalletTransaction, error) {
	if prior, ok := l.completed[externalRef]; ok {
		return prior, ledger.ErrDuplicateOperation
	}
	tx, err := l.settle(externalRef)
	if err != nil {
		return nil, err
	}
	tx.Status = models.TxStatusCompleted
	l.completed[externalRef] = tx
	return tx, nil
}

func (l *fakeLedger) FailExternal(_ context.Context, externalRef, reason string) (*models.WalletTransaction, error) {
	if _, ok := l.failed[externalRef]; ok {
		return nil, ledger.ErrDuplicateOperation
	}
	tx, err := l.settle(externalRef)
	if err != nil {
		return nil, err
	}
	tx.Status = models.TxStatusFailed
	l.failed[externalRef] = reason
	return tx, nil
}

func (l *fakeLedger) InTx(*gorm.DB) ledger.Service { return l }

type env struct {
	projects *stubProjects
	disputes *stubDisputes
	projRepo *fakeProjectRepo
	dispRepo *fakeDisputeRepo
	wallets  *fakeWalletRepo
	led      *fakeLedger
	prov     *fakeProvider
	clock    *fakeClock
	svc      Service
}

func newEnv(t *testing.T) *env {
	t.Helper()
	e := &env{
		projects: &stubProjects{},
		disputes: newStubDisputes(),
		projRepo: newFakeProjectRepo(),
		dispRepo: &fakeDisputeRepo{},
		wallets:  &fakeWalletRepo{},
		prov:     &fakeProvider{intents: map[string]provider.IntentStatus{}},
		clock:    &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)},
	}
	e.led = newFakeLedger(e.wallets)
	cfg := config.EscrowConfig{
		RevisionLimit:     3,
		SweepInterval:     time.Minute,
		DisputeStaleAfter: 72 * time.Hour,
		PendingTxTimeout:  time.Hour,
	}
	e.svc = NewService(e.projects, e.disputes, e.projRepo, e.dispRepo, e.wallets, e.led, e.prov, nil, e.clock, cfg)
	return e
}

func (e *env) addDue(id uint, version uint64) {
	e.projRepo.milestones[id] = &models.Milestone{ID: id, Status: models.MilestoneSubmitted, Version: version}
	e.projRepo.due = append(e.projRepo.due, id)
}

func TestSweepAutoApprove(t *testing.T) {
	ctx := context.Background()

	t.Run("releases due milestones and is a no-op the second time", func(t *testing.T) {
		e := newEnv(t)
		e.addDue(1, 3)
		e.addDue(2, 1)
		e.projects.approve = func(milestoneID uint, _ uint64) error {
			e.projRepo.settle(milestoneID)
			return nil
		}

		report := e.svc.SweepOnce(ctx)
		assert.Equal(t, 2, report.AutoApproved)
		assert.Equal(t, []uint{1, 2}, e.projects.approved)

		report = e.svc.SweepOnce(ctx)
		assert.Equal(t, SweepReport{}, report)
		assert.Len(t, e.projects.approved, 2)
	})

	t.Run("a disputed milestone is left to its resolution", func(t *testing.T) {
		e := newEnv(t)
		e.addDue(1, 1)
		e.addDue(2, 1)
		e.projects.approve = func(milestoneID uint, _ uint64) error {
			if milestoneID == 1 {
				return project.ErrDisputePending
			}
			e.projRepo.settle(milestoneID)
			return nil
		}

		report := e.svc.SweepOnce(ctx)
		assert.Equal(t, 1, report.AutoApproved)
		assert.Equal(t, 1, report.SkippedDisputed)
		assert.Equal(t, []uint{2}, e.projects.approved)
	})

	t.Run("a milestone settled after the listing is skipped quietly", func(t *testing.T) {
		e := newEnv(t)
		e.addDue(1, 1)
		e.projects.approve = func(uint, uint64) error {
			return project.ErrConcurrentModification
		}

		report := e.svc.SweepOnce(ctx)
		assert.Equal(t, SweepReport{}, report)
	})
}

func TestSweepStaleDisputes(t *testing.T) {
	ctx := context.Background()

	t.Run("an open dispute is annotated and handed to mediation", func(t *testing.T) {
		e := newEnv(t)
		e.projRepo.milestones[7] = &models.Milestone{ID: 7, Amount: 6000, Status: models.MilestoneDisputed}
		e.dispRepo.stale = []models.Dispute{{ID: 1, MilestoneID: 7, Status: models.DisputeOpen}}

		report := e.svc.SweepOnce(ctx)
		assert.Equal(t, 1, report.DisputesMoved)
		assert.Equal(t, models.DisputeMediation, e.disputes.stages[1])

		suggestion := e.disputes.suggestions[1]
		require.NotNil(t, suggestion)
		// No deliverables on file argues for a refund.
		assert.Equal(t, models.DecisionFullRefund, suggestion["decision"])
		assert.Equal(t, int64(6000), suggestion["amount_to_payer"])
	})

	t.Run("pre-review splits a contested milestone", func(t *testing.T) {
		e := newEnv(t)
		e.projRepo.milestones[7] = &models.Milestone{
			ID: 7, Amount: 5001, Status: models.MilestoneDisputed,
			Deliverables:  models.NewJSON(map[string]interface{}{"url": "https://example.com/final.zip"}),
			RevisionCount: 3,
		}
		e.dispRepo.stale = []models.Dispute{{ID: 1, MilestoneID: 7, Status: models.DisputeOpen}}

		e.svc.SweepOnce(ctx)
		suggestion := e.disputes.suggestions[1]
		require.NotNil(t, suggestion)
		assert.Equal(t, models.DecisionSplit, suggestion["decision"])
		assert.Equal(t, int64(2500), suggestion["amount_to_payee"])
		assert.Equal(t, int64(2501), suggestion["amount_to_payer"])
	})

	t.Run("a stale automated review moves to mediation", func(t *testing.T) {
		e := newEnv(t)
		e.dispRepo.stale = []models.Dispute{{ID: 2, MilestoneID: 8, Status: models.DisputeAutomatedReview}}

		report := e.svc.SweepOnce(ctx)
		assert.Equal(t, 1, report.DisputesMoved)
		assert.Equal(t, models.DisputeMediation, e.disputes.stages[2])
		assert.Empty(t, e.disputes.suggestions)
	})
}

func TestSweepPendingTransactions(t *testing.T) {
	ctx := context.Background()

	e := newEnv(t)
	e.wallets.pending = []models.WalletTransaction{
		{ID: 1, ExternalRef: "pi_done", Type: models.TxTypeDeposit, Amount: 10000, Status: models.TxStatusPending},
		{ID: 2, ExternalRef: "po_dead", Type: models.TxTypeWithdrawal, Amount: 4000, Status: models.TxStatusPending},
		{ID: 3, ExternalRef: "pi_slow", Type: models.TxTypeDeposit, Amount: 2500, Status: models.TxStatusPending},
	}
	e.prov.intents["pi_done"] = provider.IntentSucceeded
	e.prov.intents["po_dead"] = provider.IntentFailed
	e.prov.intents["pi_slow"] = provider.IntentPending

	report := e.svc.SweepOnce(ctx)
	assert.Equal(t, 2, report.PendingResolved)
	assert.Equal(t, 1, report.PendingRemaining)
	assert.Contains(t, e.led.completed, "pi_done")
	assert.Equal(t, "provider reported failure", e.led.failed["po_dead"])

	// The still-pending intent is picked up again; the settled ones are not.
	queriesBefore := e.prov.queries
	report = e.svc.SweepOnce(ctx)
	assert.Equal(t, 0, report.PendingResolved)
	assert.Equal(t, 1, report.PendingRemaining)
	assert.Equal(t, queriesBefore+1, e.prov.queries)
}

func TestHandleProviderEvent(t *testing.T) {
	ctx := context.Background()

	t.Run("applies the outcome exactly once across replays", func(t *testing.T) {
		e := newEnv(t)
		e.wallets.pending = []models.WalletTransaction{
			{ID: 1, ExternalRef: "pi_1", Type: models.TxTypeDeposit, Amount: 10000, Status: models.TxStatusPending},
		}

		event := provider.Event{Kind: provider.EventDepositSucceeded, ExternalRef: "pi_1"}
		require.NoError(t, e.svc.HandleProviderEvent(ctx, event))
		require.NoError(t, e.svc.HandleProviderEvent(ctx, event))
		assert.Len(t, e.led.completed, 1)
	})

	t.Run("a failure event without detail records the event kind", func(t *testing.T) {
		e := newEnv(t)
		e.wallets.pending = []models.WalletTransaction{
			{ID: 1, ExternalRef: "po_1", Type: models.TxTypeWithdrawal, Amount: 4000, Status: models.TxStatusPending},
		}

		err := e.svc.HandleProviderEvent(ctx, provider.Event{Kind: provider.EventPayoutFailed, ExternalRef: "po_1"})
		require.NoError(t, err)
		assert.Equal(t, provider.EventPayoutFailed, e.led.failed["po_1"])
	})

	t.Run("an unknown event kind is ignored", func(t *testing.T) {
		e := newEnv(t)
		err := e.svc.HandleProviderEvent(ctx, provider.Event{Kind: "charge.refund.updated", ExternalRef: "re_1"})
		require.NoError(t, err)
		assert.Empty(t, e.led.completed)
		assert.Empty(t, e.led.failed)
	})

	t.Run("an event for an unknown ref is tolerated", func(t *testing.T) {
		e := newEnv(t)
		err := e.svc.HandleProviderEvent(ctx, provider.Event{Kind: provider.EventDepositSucceeded, ExternalRef: "pi_ghost"})
		require.NoError(t, err)
	})
}
