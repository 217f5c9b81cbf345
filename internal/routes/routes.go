// Package routes defines the API routing configuration. It wires the
// repositories, services and handlers together and groups routes by the role
// allowed to call them.
package routes

import (
	"escra/internal/config"
	"escra/internal/handlers"
	"escra/internal/middleware"
	"escra/internal/repositories"
	"escra/internal/services/dispute"
	"escra/internal/services/ledger"
	"escra/internal/services/notification"
	"escra/internal/services/project"
	"escra/internal/services/provider"
	"escra/internal/services/reconciler"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

// Services bundles the wired service graph so main can manage the reconciler
// lifecycle alongside the HTTP server.
type Services struct {
	Ledger     ledger.Service
	Projects   project.Service
	Disputes   dispute.Service
	Reconciler reconciler.Service
}

// SetupRoutes configures all application routes and returns the service
// graph behind them.
func SetupRoutes(app *fiber.App, db *gorm.DB, escrowCfg config.EscrowConfig) *Services {
	walletRepo := repositories.NewWalletRepository(db)
	projectRepo := repositories.NewProjectRepository(db)
	disputeRepo := repositories.NewDisputeRepository(db)

	stripeClient := provider.NewStripeClient(
		config.GetEnv("STRIPE_SECRET_KEY", ""),
		config.GetEnv("STRIPE_WEBHOOK_SECRET", ""),
	)

	events := notification.NewDispatcher(notification.LogSubscriber{})
	clock := project.SystemClock{}

	ledgerService := ledger.NewService(
		walletRepo,
		repositories.CacheService,
		stripeClient,
		ledger.Config{
			DefaultCurrency:  escrowCfg.DefaultCurrency,
			WithdrawalFeeBps: escrowCfg.WithdrawalFeeBps,
			PlatformUserID:   escrowCfg.PlatformUserID,
			PendingTxTimeout: escrowCfg.PendingTxTimeout,
		},
		&ledger.NoopMetricsCollector{},
	)

	atomic := project.GormAtomic(db, ledgerService)

	projectService := project.NewService(
		atomic,
		projectRepo,
		disputeRepo,
		events,
		repositories.CacheService,
		clock,
		escrowCfg,
	)
	disputeService := dispute.NewService(atomic, disputeRepo, events, clock, escrowCfg)

	reconcilerService := reconciler.NewService(
		projectService,
		disputeService,
		projectRepo,
		disputeRepo,
		walletRepo,
		ledgerService,
		stripeClient,
		events,
		clock,
		escrowCfg,
	)

	walletHandler := handlers.NewWalletHandler(ledgerService)
	projectHandler := handlers.NewProjectHandler(projectService)
	milestoneHandler := handlers.NewMilestoneHandler(projectService)
	disputeHandler := handlers.NewDisputeHandler(disputeService)
	webhookHandler := handlers.NewWebhookHandler(stripeClient, reconcilerService)
	adminHandler := handlers.NewAdminHandler(ledgerService, projectService, reconcilerService)

	// Public routes
	app.Get("/health", handlers.HealthCheck)
	app.Post("/webhooks/stripe", webhookHandler.HandleStripe)

	api := app.Group("/api", middleware.Auth)

	// Wallet
	wallet := api.Group("/wallet")
	wallet.Get("/balance", walletHandler.GetBalance)
	wallet.Get("/transactions", walletHandler.ListTransactions)
	wallet.Post("/deposit", walletHandler.Deposit)
	wallet.Post("/withdraw", walletHandler.Withdraw)

	// Projects
	projects := api.Group("/projects")
	projects.Post("/", projectHandler.Create)
	projects.Get("/:id", projectHandler.Get)
	projects.Get("/:id/activity", projectHandler.Activity)
	projects.Post("/:id/milestones", projectHandler.AddMilestone)
	projects.Post("/:id/invite", projectHandler.Invite)
	projects.Post("/:id/accept", projectHandler.Accept)
	projects.Post("/:id/decline", projectHandler.Decline)
	projects.Post("/:id/fund", projectHandler.Fund)
	projects.Post("/:id/cancel", projectHandler.Cancel)
	projects.Post("/:id/archive", projectHandler.Archive)

	// Milestones
	milestones := api.Group("/milestones")
	milestones.Post("/:id/start", milestoneHandler.Start)
	milestones.Post("/:id/submit", milestoneHandler.Submit)
	milestones.Post("/:id/approve", milestoneHandler.Approve)
	milestones.Post("/:id/request-revision", milestoneHandler.RequestRevision)

	// Disputes
	disputes := api.Group("/disputes")
	disputes.Post("/", disputeHandler.Raise)
	disputes.Get("/:id", disputeHandler.Get)
	disputes.Post("/:id/escalate", middleware.MediatorOnly, disputeHandler.Escalate)
	disputes.Post("/:id/assign", middleware.AdminOnly, disputeHandler.Assign)
	disputes.Post("/:id/resolve", middleware.MediatorOnly, disputeHandler.Resolve)

	// Admin
	admin := api.Group("/admin", middleware.AdminOnly)
	admin.Get("/projects/:id/verify", adminHandler.VerifyProject)
	admin.Post("/reconciler/sweep", adminHandler.Sweep)

	return &Services{
		Ledger:     ledgerService,
		Projects:   projectService,
		Disputes:   disputeService,
		Reconciler: reconcilerService,
	}
}
