package dispute

import (
	"context"
	"sort"
	"testing"
	"time"

	"escra/internal/config"
	"escra/internal/models"
	"escra/internal/repositories"
	"escra/internal/services/ledger"
	"escra/internal/services/project"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

type fakeProjectRepo struct {
	projects   map[uint]*models.Project
	milestones map[uint]*models.Milestone
	activities []models.Activity
	nextID     uint
}

func newFakeProjectRepo() *fakeProjectRepo {
	return &fakeProjectRepo{projects: map[uint]*models.Project{}, milestones: map[uint]*models.Milestone{}, nextID: 1}
}

func (r *fakeProjectRepo) Create(p *models.Project) error {
	p.ID = r.nextID
	r.nextID++
	cp := *p
	cp.Milestones = nil
	r.projects[p.ID] = &cp
	return nil
}

func (r *fakeProjectRepo) GetByID(id uint) (*models.Project, error) {
	p, ok := r.projects[id]
	if !ok {
		return nil, repositories.ErrProjectNotFound
	}
	cp := *p
	for _, m := range r.milestones {
		if m.ProjectID == id {
			cp.Milestones = append(cp.Milestones, *m)
		}
	}
	sort.Slice(cp.Milestones, func(i, j int) bool { return cp.Milestones[i].ID < cp.Milestones[j].ID })
	return &cp, nil
}

func (r *fakeProjectRepo) GetForUpdate(id uint) (*models.Project, error) { return r.GetByID(id) }

func (r *fakeProjectRepo) Update(p *models.Project) error {
	stored, ok := r.projects[p.ID]
	if !ok {
		return repositories.ErrProjectNotFound
	}
	if stored.Version != p.Version {
		return repositories.ErrStaleVersion
	}
	cp := *p
	cp.Milestones = nil
	cp.Version++
	r.projects[p.ID] = &cp
	p.Version++
	return nil
}

func (r *fakeProjectRepo) ListArchivable(time.Time) ([]models.Project, error) { return nil, nil }

func (r *fakeProjectRepo) CreateMilestone(m *models.Milestone) error {
	m.ID = r.nextID
	r.nextID++
	cp := *m
	r.milestones[m.ID] = &cp
	return nil
}

func (r *fakeProjectRepo) GetMilestone(id uint) (*models.Milestone, error) {
	m, ok := r.milestones[id]
	if !ok {
		return nil, repositories.ErrMilestoneNotFound
	}
	cp := *m
	return &cp, nil
}

func (r *fakeProjectRepo) GetMilestoneForUpdate(id uint) (*models.Milestone, error) {
	return r.GetMilestone(id)
}

func (r *fakeProjectRepo) UpdateMilestone(m *models.Milestone) error {
	stored, ok := r.milestones[m.ID]
	if !ok {
		return repositories.ErrMilestoneNotFound
	}
	if stored.Version != m.Version {
		return repositories.ErrStaleVersion
	}
	cp := *m
	cp.Version++
	r.milestones[m.ID] = &cp
	m.Version++
	return nil
}

func (r *fakeProjectRepo) ListMilestones(projectID uint) ([]models.Milestone, error) {
	p, err := r.GetByID(projectID)
	if err != nil {
		return nil, err
	}
	return p.Milestones, nil
}

func (r *fakeProjectRepo) ListAutoApprovable(time.Time) ([]models.Milestone, error) { return nil, nil }

func (r *fakeProjectRepo) AppendActivity(a *models.Activity) error {
	r.activities = append(r.activities, *a)
	return nil
}

func (r *fakeProjectRepo) ListActivity(projectID uint, limit, offset int) ([]models.Activity, error) {
	var out []models.Activity
	for _, a := range r.activities {
		if a.ProjectID == projectID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (r *fakeProjectRepo) ExecuteInTransaction(fn func(repositories.ProjectRepository) error) error {
	return fn(r)
}

type fakeDisputeRepo struct {
	disputes map[uint]*models.Dispute
	nextID   uint
}

func newFakeDisputeRepo() *fakeDisputeRepo {
	return &fakeDisputeRepo{disputes: map[uint]*models.Dispute{}, nextID: 1}
}

func (r *fakeDisputeRepo) Create(d *models.Dispute) error {
	d.ID = r.nextID
	r.nextID++
	cp := *d
	r.disputes[d.ID] = &cp
	return nil
}

func (r *fakeDisputeRepo) GetByID(id uint) (*models.Dispute, error) {
	d, ok := r.disputes[id]
	if !ok {
		return nil, repositories.ErrDisputeNotFound
	}
	cp := *d
	return &cp, nil
}

func (r *fakeDisputeRepo) GetForUpdate(id uint) (*models.Dispute, error) { return r.GetByID(id) }

func (r *fakeDisputeRepo) Update(d *models.Dispute) error {
	if _, ok := r.disputes[d.ID]; !ok {
		return repositories.ErrDisputeNotFound
	}
	cp := *d
	r.disputes[d.ID] = &cp
	return nil
}

func (r *fakeDisputeRepo) OpenByMilestone(milestoneID uint) (*models.Dispute, error) {
	for _, d := range r.disputes {
		if d.MilestoneID == milestoneID && d.Status != models.DisputeResolved {
			cp := *d
			return &cp, nil
		}
	}
	return nil, repositories.ErrDisputeNotFound
}

func (r *fakeDisputeRepo) ListStale(cutoff time.Time) ([]models.Dispute, error) { return nil, nil }

func (r *fakeDisputeRepo) ExecuteInTransaction(fn func(repositories.DisputeRepository) error) error {
	return fn(r)
}

// fakeLedger tracks balances and idempotency keys; enough to verify a
// resolution's money movement.
type fakeLedger struct {
	wallets map[uint]*models.Wallet
	byKey   map[string]*models.WalletTransaction
	nextID  uint
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{wallets: map[uint]*models.Wallet{}, byKey: map[string]*models.WalletTransaction{}, nextID: 1}
}

func (l *fakeLedger) addWallet(ownerID uint, walletType string, balance int64) *models.Wallet {
	w := &models.Wallet{
		ID: l.nextID, OwnerID: ownerID, Type: walletType,
		Balance: balance, Currency: "USD", Status: models.WalletStatusActive,
	}
	l.nextID++
	l.wallets[w.ID] = w
	return w
}

func (l *fakeLedger) CreateWallet(_ context.Context, ownerID uint, walletType string, _ *uint) (*models.Wallet, error) {
	return l.addWallet(ownerID, walletType, 0), nil
}

func (l *fakeLedger) GetOrCreateUserWallet(_ context.Context, ownerID uint) (*models.Wallet, error) {
	for _, w := range l.wallets {
		if w.OwnerID == ownerID && w.Type == models.WalletTypeUser {
			return w, nil
		}
	}
	return l.addWallet(ownerID, models.WalletTypeUser, 0), nil
}

func (l *fakeLedger) GetPlatformWallet(_ context.Context) (*models.Wallet, error) {
	for _, w := range l.wallets {
		if w.Type == models.WalletTypePlatform {
			return w, nil
		}
	}
	return l.addWallet(999, models.WalletTypePlatform, 0), nil
}

func (l *fakeLedger) GetWallet(_ context.Context, walletID uint) (*models.Wallet, error) {
	w, ok := l.wallets[walletID]
	if !ok {
		return nil, ledger.ErrWalletNotFound
	}
	return w, nil
}

func (l *fakeLedger) GetBalance(context.Context, uint) (*ledger.Balance, error) { return nil, nil }
func (l *fakeLedger) ListTransactions(context.Context, uint, int, int) ([]models.WalletTransaction, error) {
	return nil, nil
}
func (l *fakeLedger) Credit(context.Context, ledger.CreditRequest) (*models.WalletTransaction, error) {
	return nil, nil
}
func (l *fakeLedger) Lock(context.Context, uint, int64, string) error { return nil }
func (l *fakeLedger) Unlock(context.Context, uint, int64) error       { return nil }

func (l *fakeLedger) Transfer(_ context.Context, req ledger.TransferRequest) (*models.WalletTransaction, error) {
	if prior, ok := l.byKey[req.Key]; ok {
		return prior, ledger.ErrDuplicateOperation
	}
	from, ok := l.wallets[req.FromWalletID]
	if !ok {
		return nil, ledger.ErrWalletNotFound
	}
	to, ok := l.wallets[req.ToWalletID]
	if !ok {
		return nil, ledger.ErrWalletNotFound
	}
	if from.Available() < req.Amount {
		return nil, ledger.ErrInsufficientFunds
	}
	from.Balance -= req.Amount
	to.Balance += req.Amount
	tx := &models.WalletTransaction{Amount: req.Amount, Status: models.TxStatusCompleted}
	l.byKey[req.Key] = tx
	return tx, nil
}

func (l *fakeLedger) InitiateDeposit(context.Context, uint, int64) (*models.WalletTransaction, error) {
	return nil, nil
}
func (l *fakeLedger) InitiateWithdrawal(context.Context, uint, int64) (*models.WalletTransaction, error) {
	return nil, nil
}
func (l *fakeLedger) CompleteExternal(context.Context, string) (*models.WalletTransaction, error) {
	return nil, nil
}
func (l *fakeLedger) FailExternal(context.Context, string, string) (*models.WalletTransaction, error) {
	return nil, nil
}
func (l *fakeLedger) VerifyProjectEscrow(context.Context, uint) (int64, int64, error) {
	return 0, 0, nil
}
func (l *fakeLedger) InTx(*gorm.DB) ledger.Service { return l }

type env struct {
	repo     *fakeProjectRepo
	disputes *fakeDisputeRepo
	led      *fakeLedger
	clock    *fakeClock
	svc      Service

	proj      *models.Project
	milestone *models.Milestone
	escrow    *models.Wallet
}

// newEnv seeds an active project with one submitted 6000 milestone backed by
// a funded escrow wallet.
func newEnv(t *testing.T) *env {
	t.Helper()
	repo := newFakeProjectRepo()
	disputes := newFakeDisputeRepo()
	led := newFakeLedger()
	clock := &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}

	escrow := led.addWallet(999, models.WalletTypeEscrow, 6000)

	payee := uint(2)
	deadline := clock.now.Add(24 * time.Hour)
	proj := &models.Project{
		PayerID:        1,
		PayeeID:        &payee,
		Title:          "site build",
		TotalBudget:    6000,
		Currency:       "USD",
		Status:         models.ProjectActive,
		EscrowWalletID: &escrow.ID,
		TotalHeld:      6000,
		Remaining:      6000,
	}
	require.NoError(t, repo.Create(proj))
	m := &models.Milestone{
		ProjectID:           proj.ID,
		Title:               "design",
		Amount:              6000,
		Status:              models.MilestoneSubmitted,
		AutoApproveDeadline: &deadline,
	}
	require.NoError(t, repo.CreateMilestone(m))

	atomic := func(fn func(repositories.ProjectRepository, repositories.DisputeRepository, ledger.Service) error) error {
		return fn(repo, disputes, led)
	}
	cfg := config.EscrowConfig{
		PayerFeeBps: 190, PayeeFeeBps: 360, RevisionLimit: 3,
		DefaultCurrency: "USD", PlatformUserID: 999,
	}
	svc := NewService(atomic, disputes, nil, clock, cfg)
	return &env{
		repo: repo, disputes: disputes, led: led, clock: clock, svc: svc,
		proj: proj, milestone: m, escrow: escrow,
	}
}

func TestRaise(t *testing.T) {
	ctx := context.Background()

	t.Run("moves milestone and project to disputed and disarms the deadline", func(t *testing.T) {
		e := newEnv(t)

		d, err := e.svc.Raise(ctx, 1, RaiseInput{MilestoneID: e.milestone.ID, Reason: "not as agreed"})
		require.NoError(t, err)
		assert.Equal(t, models.DisputeOpen, d.Status)
		assert.Equal(t, uint(1), d.RaisedByID)

		m, err := e.repo.GetMilestone(e.milestone.ID)
		require.NoError(t, err)
		assert.Equal(t, models.MilestoneDisputed, m.Status)
		assert.Nil(t, m.AutoApproveDeadline)

		p, err := e.repo.GetByID(e.proj.ID)
		require.NoError(t, err)
		assert.Equal(t, models.ProjectDisputed, p.Status)
	})

	t.Run("one open dispute per milestone", func(t *testing.T) {
		e := newEnv(t)
		_, err := e.svc.Raise(ctx, 1, RaiseInput{MilestoneID: e.milestone.ID, Reason: "first"})
		require.NoError(t, err)

		_, err = e.svc.Raise(ctx, 2, RaiseInput{MilestoneID: e.milestone.ID, Reason: "second"})
		assert.ErrorIs(t, err, ErrDisputeAlreadyExists)
	})

	t.Run("only the parties may raise", func(t *testing.T) {
		e := newEnv(t)
		_, err := e.svc.Raise(ctx, 42, RaiseInput{MilestoneID: e.milestone.ID, Reason: "nope"})
		assert.ErrorIs(t, err, ErrUnauthorized)
	})

	t.Run("a settled milestone cannot be disputed", func(t *testing.T) {
		e := newEnv(t)
		m, _ := e.repo.GetMilestone(e.milestone.ID)
		m.Status = models.MilestoneApproved
		require.NoError(t, e.repo.UpdateMilestone(m))

		_, err := e.svc.Raise(ctx, 1, RaiseInput{MilestoneID: e.milestone.ID, Reason: "late"})
		assert.ErrorIs(t, err, ErrInvalidState)
	})
}

func TestEscalate(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	d, err := e.svc.Raise(ctx, 1, RaiseInput{MilestoneID: e.milestone.ID, Reason: "not as agreed"})
	require.NoError(t, err)

	d, err = e.svc.Escalate(ctx, 5, d.ID, models.DisputeMediation)
	require.NoError(t, err)
	assert.Equal(t, models.DisputeMediation, d.Status)

	// Backward and sideways movement is rejected.
	_, err = e.svc.Escalate(ctx, 5, d.ID, models.DisputeOpen)
	assert.ErrorIs(t, err, ErrInvalidEscalation)
	_, err = e.svc.Escalate(ctx, 5, d.ID, models.DisputeResolved)
	assert.ErrorIs(t, err, ErrInvalidEscalation)

	_, err = e.svc.Escalate(ctx, 5, d.ID, models.DisputeArbitration)
	require.NoError(t, err)
}

func TestResolve(t *testing.T) {
	ctx := context.Background()

	t.Run("split pays the payee net of fee and refunds the payer", func(t *testing.T) {
		e := newEnv(t)
		d, err := e.svc.Raise(ctx, 1, RaiseInput{MilestoneID: e.milestone.ID, Reason: "partial delivery"})
		require.NoError(t, err)

		resolved, err := e.svc.Resolve(ctx, 7, ResolutionInput{
			DisputeID:     d.ID,
			Kind:          models.DecisionSplit,
			AmountToPayee: 4000,
			AmountToPayer: 2000,
			Reasoning:     "half the work was usable",
		})
		require.NoError(t, err)
		assert.Equal(t, models.DisputeResolved, resolved.Status)
		require.NotNil(t, resolved.ResolvedAt)

		// 360 bps of 4000 is 144.
		payee, _ := e.led.GetOrCreateUserWallet(ctx, 2)
		assert.Equal(t, int64(3856), payee.Balance)
		payer, _ := e.led.GetOrCreateUserWallet(ctx, 1)
		assert.Equal(t, int64(2000), payer.Balance)
		platform, _ := e.led.GetPlatformWallet(ctx)
		assert.Equal(t, int64(144), platform.Balance)
		assert.Equal(t, int64(0), e.escrow.Balance)

		m, err := e.repo.GetMilestone(e.milestone.ID)
		require.NoError(t, err)
		assert.Equal(t, models.MilestoneApproved, m.Status)

		p, err := e.repo.GetByID(e.proj.ID)
		require.NoError(t, err)
		assert.Equal(t, models.ProjectCompleted, p.Status)
		assert.Equal(t, int64(6000), p.TotalReleased)
	})

	t.Run("full refund marks the milestone refunded", func(t *testing.T) {
		e := newEnv(t)
		d, err := e.svc.Raise(ctx, 1, RaiseInput{MilestoneID: e.milestone.ID, Reason: "nothing delivered"})
		require.NoError(t, err)

		_, err = e.svc.Resolve(ctx, 7, ResolutionInput{
			DisputeID:     d.ID,
			Kind:          models.DecisionFullRefund,
			AmountToPayer: 6000,
		})
		require.NoError(t, err)

		m, err := e.repo.GetMilestone(e.milestone.ID)
		require.NoError(t, err)
		assert.Equal(t, models.MilestoneRefunded, m.Status)

		payer, _ := e.led.GetOrCreateUserWallet(ctx, 1)
		assert.Equal(t, int64(6000), payer.Balance)
	})

	t.Run("amounts must account for the milestone exactly", func(t *testing.T) {
		e := newEnv(t)
		d, err := e.svc.Raise(ctx, 1, RaiseInput{MilestoneID: e.milestone.ID, Reason: "partial"})
		require.NoError(t, err)

		_, err = e.svc.Resolve(ctx, 7, ResolutionInput{
			DisputeID:     d.ID,
			Kind:          models.DecisionSplit,
			AmountToPayee: 4000,
			AmountToPayer: 1000,
		})
		assert.ErrorIs(t, err, ErrResolutionMismatch)

		// Nothing moved.
		assert.Equal(t, int64(6000), e.escrow.Balance)
		m, _ := e.repo.GetMilestone(e.milestone.ID)
		assert.Equal(t, models.MilestoneDisputed, m.Status)
	})

	t.Run("a replayed resolution returns the recorded outcome and moves nothing", func(t *testing.T) {
		e := newEnv(t)
		d, err := e.svc.Raise(ctx, 1, RaiseInput{MilestoneID: e.milestone.ID, Reason: "partial"})
		require.NoError(t, err)

		_, err = e.svc.Resolve(ctx, 7, ResolutionInput{
			DisputeID:     d.ID,
			Kind:          models.DecisionSplit,
			AmountToPayee: 4000,
			AmountToPayer: 2000,
		})
		require.NoError(t, err)

		payeeBefore, _ := e.led.GetOrCreateUserWallet(ctx, 2)
		balanceBefore := payeeBefore.Balance

		replay, err := e.svc.Resolve(ctx, 7, ResolutionInput{
			DisputeID:     d.ID,
			Kind:          models.DecisionFullRelease,
			AmountToPayee: 6000,
		})
		require.NoError(t, err)
		assert.Equal(t, models.DisputeResolved, replay.Status)
		assert.Equal(t, models.DecisionSplit, replay.DecisionKind)
		assert.Equal(t, int64(4000), replay.AmountToPayee)

		payeeAfter, _ := e.led.GetOrCreateUserWallet(ctx, 2)
		assert.Equal(t, balanceBefore, payeeAfter.Balance)
	})
}

var _ project.Clock = (*fakeClock)(nil)
