package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"delivery-backend/internal/admin"
	"delivery-backend/internal/audit"
	"delivery-backend/internal/auth"
	"delivery-backend/internal/backup"
	"delivery-backend/internal/config"
	"delivery-backend/internal/database"
	"delivery-backend/internal/health"
	"delivery-backend/internal/invoice"
	"delivery-backend/internal/logging"
	"delivery-backend/internal/metrics"
	"delivery-backend/internal/models"
	"delivery-backend/internal/odometer"
	"delivery-backend/internal/ratelimit"
	"delivery-backend/internal/records"
	"delivery-backend/internal/scheduler"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
)

func main() {
	cfg := config.Load()
	log := logging.New(cfg)

	db, err := database.Open(cfg, log)
	if err != nil {
		log.WithError(err).Fatal("database unavailable")
	}
	if err := database.Migrate(db, log); err != nil {
		log.WithError(err).Fatal("migration failed")
	}

	// ---- services ----
	authSvc := auth.NewService(auth.NewGormStore(db), auth.Options{
		CookieName:        cfg.SessionCookieName,
		SessionTTL:        cfg.SessionMaxAge,
		ResetTTL:          cfg.PasswordResetTTL,
		BcryptCost:        cfg.BcryptCost,
		MaxFailedAttempts: cfg.LoginMaxFailedAttempts,
		AttemptWindow:     cfg.LoginAttemptWindow,
	}, log)
	janitor := auth.NewSessionJanitor(authSvc, log)
	if cfg.BootstrapAdminEmail != "" {
		if _, err := authSvc.EnsureSuperAdmin(context.Background(), cfg.BootstrapAdminEmail, cfg.BootstrapAdminPassword); err != nil {
			log.WithError(err).Fatal("bootstrap super admin")
		}
	}

	imagesDir := filepath.Join(cfg.ImagesRoot, "images")
	recordSvc := records.NewService(records.NewGormStore(db), records.NewDiskFiles(cfg.ImagesRoot, cfg.MaxImageBytes), log, nil)
	odoSvc := odometer.NewService(odometer.NewGormStore(db), nil)
	invoiceSvc := invoice.NewService(invoice.NewGormStore(db), invoice.Pricing{
		PerDelivery:   cfg.PricePerDelivery,
		PerCollection: cfg.PricePerCollection,
		TaxRate:       cfg.TaxRate,
		DueDays:       cfg.InvoiceDueDays,
	}, invoice.Parties{
		Company: invoice.Party{Name: cfg.CompanyName, Address: cfg.CompanyAddress, VatNumber: cfg.CompanyVAT},
		Bank:    invoice.Bank{IBAN: cfg.CompanyIBAN},
	}, nil)
	invoiceHC := invoice.HandlerConfig{
		Signer:        invoice.NewShareSigner(cfg.JWTSecret, cfg.ShareLinkTTL, nil),
		PublicBaseURL: cfg.PublicBaseURL,
	}

	backupOpts := backup.Options{
		Dir:       cfg.BackupDir,
		ImagesDir: imagesDir,
		MaxCount:  cfg.BackupMaxCount,
		Dumper: backup.PgDumper{
			DatabaseURL: cfg.DatabaseURL,
			DumpPath:    cfg.PgDumpPath,
			RestorePath: cfg.PgRestorePath,
		},
		Fingerprint: func(ctx context.Context) (string, error) { return database.Fingerprint(ctx, db) },
		Log:         log.WithField("component", "backup"),
	}
	if cfg.MinioEndpoint != "" {
		mirror, err := backup.NewMinioMirror(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
		if err != nil {
			log.WithError(err).Warn("offsite backup mirror disabled")
		} else {
			backupOpts.Mirror = mirror
		}
	}
	backups := backup.NewManager(backupOpts)

	// ---- background jobs ----
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go janitor.Run(ctx)

	sched := scheduler.New(log.WithField("component", "scheduler"))
	if err := sched.Add("session-cleanup", cfg.SessionCleanupSchedule, janitor.Clean); err != nil {
		log.WithError(err).Fatal("invalid session cleanup schedule")
	}
	if err := sched.Add("backup", cfg.BackupSchedule, backups.RunScheduled); err != nil {
		log.WithError(err).Fatal("invalid backup schedule")
	}
	sched.AddDelayed("initial-backup", cfg.BackupInitialDelay, backups.RunScheduled)
	sched.Start()

	// ---- HTTP ----
	app := fiber.New(fiber.Config{
		ErrorHandler: logging.ErrorHandler(log),
		BodyLimit:    int(cfg.MaxImageBytes)*5 + 1<<20,
	})

	corsOrigins := strings.Split(cfg.CORSOrigins, ",")
	for i := range corsOrigins {
		corsOrigins[i] = strings.TrimSpace(corsOrigins[i])
	}
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins:     strings.Join(corsOrigins, ","),
		AllowHeaders:     "Origin, Content-Type, Accept",
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS",
		AllowCredentials: true,
	}))
	app.Use(metrics.Middleware())
	app.Use(logging.RequestLogger(log, auth.UserID))

	if cfg.RedisAddr != "" {
		limiter, err := ratelimit.NewFixedWindowLimiter(cfg.RedisAddr, cfg.RedisPassword, "delivery:auth", cfg.AuthRateLimit, cfg.AuthRateWindow)
		if err != nil {
			log.WithError(err).Fatal("rate limiter misconfigured")
		}
		defer limiter.Close()
		app.Use("/auth", ratelimit.Middleware(limiter, ratelimit.ByIP))
	}

	gateCfg := auth.DefaultGateConfig()
	gateCfg.PublicLookupTimeout = cfg.AuthPublicTimeout
	gateCfg.SecureCookie = cfg.IsProduction()
	gateCfg.CleanupProbability = cfg.SessionCleanupProbability
	gateCfg.Janitor = janitor
	gateCfg.Log = log
	app.Use(auth.Gate(authSvc, gateCfg))

	authHC := auth.HandlerConfig{
		SecureCookie:     cfg.IsProduction(),
		LoginPath:        gateCfg.LoginPath,
		LandingPath:      gateCfg.LandingPath,
		PublicBaseURL:    cfg.PublicBaseURL,
		ExposeResetLinks: !cfg.IsProduction(),
		Log:              log,
	}

	// Public
	app.Get("/", func(c *fiber.Ctx) error {
		if auth.CurrentUser(c) != nil {
			return c.Redirect(gateCfg.LandingPath, fiber.StatusSeeOther)
		}
		return c.Redirect(gateCfg.LoginPath, fiber.StatusSeeOther)
	})
	app.Get("/health", health.Handler(db, log))
	app.Get("/metrics", metrics.Handler())
	app.Get("/auth/login", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"authenticated": false, "login": "POST /auth/login"})
	})
	app.Post("/auth/login", auth.LoginHandler(authSvc, authHC))
	app.Post("/auth/register", auth.RegisterHandler(authSvc, authHC))
	app.Post("/auth/forgot", auth.ForgotPasswordHandler(authSvc, authHC))
	app.Get("/auth/reset/:token", auth.ResetTokenStatusHandler(authSvc))
	app.Post("/auth/reset/:token", auth.ResetPasswordHandler(authSvc, authHC))
	app.Get("/invoice/shared/:token", invoice.SharedHandler(invoiceSvc, invoiceHC))

	// Signed in
	app.Post("/auth/logout", auth.LogoutHandler(authSvc, authHC))
	app.Get("/dashboard", invoice.DashboardHandler(invoiceSvc, odoSvc))
	app.Static("/images", imagesDir, fiber.Static{Browse: false})

	api := app.Group("/api")
	api.Get("/me", auth.MeHandler())
	api.Get("/account/sessions", auth.ListSessionsHandler(authSvc))
	api.Post("/account/sessions/revoke", auth.RevokeSessionHandler(authSvc, authHC))
	api.Post("/account/sessions/revoke-all", auth.RevokeAllSessionsHandler(authSvc, authHC))

	api.Get("/records", records.ListHandler(recordSvc))
	api.Post("/records", records.CreateHandler(recordSvc))
	api.Get("/records/:id", records.GetHandler(recordSvc))
	api.Get("/records/:id/full", records.GetFullHandler(recordSvc))
	api.Put("/records/:id", records.UpdateHandler(recordSvc))
	api.Delete("/records/:id", records.DeleteHandler(recordSvc))
	api.Get("/vehicle-usage/:date", records.UsageByDateHandler(recordSvc))

	api.Get("/odometer", odometer.ReportHandler(odoSvc))

	api.Get("/invoice", invoice.GetHandler(invoiceSvc))
	api.Post("/invoice", invoice.PostHandler(invoiceSvc))
	api.Get("/invoice/summaries", invoice.SummariesHandler(invoiceSvc))
	api.Post("/invoice/share", invoice.ShareHandler(invoiceHC))
	api.Get("/analytics", invoice.AnalyticsHandler(invoiceSvc))

	api.Get("/backup", backup.ListHandler(backups))
	api.Post("/backup", backup.ActionHandler(backups))

	// Administration
	userHC := admin.UserHandlerConfig{Sessions: authSvc, BcryptCost: cfg.BcryptCost, Log: log}
	adminRoutes := api.Group("/admin", auth.RequireRoleAtLeast(models.RoleOrgAdmin))

	orgRoutes := adminRoutes.Group("/organizations", auth.RequireRole(models.RoleSuperAdmin))
	orgRoutes.Post("/", admin.CreateOrganizationHandler(db))
	orgRoutes.Get("/", admin.ListOrganizationsHandler(db))
	orgRoutes.Get("/:id", admin.GetOrganizationHandler(db))
	orgRoutes.Put("/:id", admin.UpdateOrganizationHandler(db))
	orgRoutes.Delete("/:id", admin.DeleteOrganizationHandler(db))

	adminRoutes.Post("/vehicles", admin.CreateVehicleHandler(db))
	adminRoutes.Get("/vehicles", admin.ListVehiclesHandler(db))
	adminRoutes.Put("/vehicles/:id", admin.UpdateVehicleHandler(db))
	adminRoutes.Delete("/vehicles/:id", admin.DeleteVehicleHandler(db))

	adminRoutes.Post("/clients", admin.CreateClientHandler(db))
	adminRoutes.Get("/clients", admin.ListClientsHandler(db))
	adminRoutes.Put("/clients/:id", admin.UpdateClientHandler(db))
	adminRoutes.Delete("/clients/:id", admin.DeleteClientHandler(db))

	adminRoutes.Get("/users", admin.ListUsersHandler(db))
	adminRoutes.Post("/users", admin.CreateUserHandler(db, userHC))
	adminRoutes.Put("/users/:id", admin.UpdateUserHandler(db, userHC))

	adminRoutes.Get("/audit-logs", audit.ListAuditLogsHandler(db))

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		<-ctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := app.ShutdownWithContext(shutdownCtx); err != nil {
			log.WithError(err).Warn("http shutdown")
		}
		if err := sched.Stop(shutdownCtx); err != nil {
			log.WithError(err).Warn("scheduler did not stop in time")
		}
	}()

	log.WithField("port", cfg.HTTPPort).Info("listening")
	if err := app.Listen(":" + cfg.HTTPPort); err != nil {
		log.WithError(err).Fatal("server stopped")
	}
	<-stopped
}
