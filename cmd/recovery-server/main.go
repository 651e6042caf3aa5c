package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/recoverly/recoverly/internal/config"
	"github.com/recoverly/recoverly/internal/domain/alert"
	"github.com/recoverly/recoverly/internal/domain/conversation"
	"github.com/recoverly/recoverly/internal/domain/patient"
	"github.com/recoverly/recoverly/internal/domain/task"
	"github.com/recoverly/recoverly/internal/platform/auth"
	"github.com/recoverly/recoverly/internal/platform/db"
	"github.com/recoverly/recoverly/internal/platform/middleware"
	"github.com/recoverly/recoverly/internal/platform/realtime"
	"github.com/recoverly/recoverly/internal/platform/responder"
)

// patientDirectory adapts the patient and task services to the
// responder-context lookup the dispatcher needs, avoiding a
// conversation -> patient import.
type patientDirectory struct {
	patients *patient.Service
	tasks    *task.Service
}

func (d *patientDirectory) Info(ctx context.Context, patientID uuid.UUID) (*conversation.PatientInfo, error) {
	p, err := d.patients.Get(ctx, patientID)
	if err != nil {
		return nil, err
	}
	day, err := d.patients.CurrentRecoveryDay(ctx, patientID)
	if err != nil {
		return nil, err
	}
	info := &conversation.PatientInfo{
		RecoveryDay: day,
		SurgeryType: p.SurgeryType,
	}
	if inProgress, _, err := d.tasks.List(ctx, patientID, task.StatusInProgress, 1, 0); err == nil && len(inProgress) > 0 {
		info.CurrentTask = inProgress[0].Title
	}
	return info, nil
}

// hubSource adapts *realtime.Hub to the realtime.Source interface via the
// hub's existing SubscribeTopic method.
type hubSource struct {
	hub *realtime.Hub
}

func (s *hubSource) Subscribe(ctx context.Context, topic string) (<-chan realtime.Event, func(), error) {
	return s.hub.SubscribeTopic(ctx, topic)
}

func main() {
	rootCmd := &cobra.Command{
		Use:   "recovery-server",
		Short: "Post-surgical recovery engagement API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(tenantCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, _ := cmd.Flags().GetString("schema")
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			fmt.Printf("Running migrations on schema: %s\n", schema)

			count, err := migrator.Up(ctx, schema)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("schema", "tenant_default", "Target schema for migrations")
	upCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, _ := cmd.Flags().GetString("schema")
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			statuses, err := migrator.Status(ctx, schema)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("Migration status for schema: %s\n", schema)
			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("schema", "tenant_default", "Target schema for migrations")
	statusCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(statusCmd)

	return cmd
}

func tenantCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tenant",
		Short: "Manage tenants",
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new tenant schema and run migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			name, _ := cmd.Flags().GetString("name")
			dir, _ := cmd.Flags().GetString("dir")
			if name == "" {
				return fmt.Errorf("--name is required")
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			fmt.Printf("Creating tenant schema: tenant_%s\n", name)
			if err := db.CreateTenantSchema(ctx, pool, name, dir); err != nil {
				return err
			}
			fmt.Println("Tenant created successfully.")
			return nil
		},
	}
	createCmd.Flags().String("name", "", "Tenant identifier (alphanumeric)")
	createCmd.Flags().String("dir", "./migrations", "Path to migrations directory")

	cmd.AddCommand(createCmd)
	return cmd
}

func runServer() error {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("ENV") == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(echomw.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.RequestTimeout(30 * time.Second))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID", "X-Tenant-ID"},
	}))

	// Auth middleware
	if cfg.IsDev() {
		e.Use(auth.DevAuthMiddleware())
	} else {
		e.Use(auth.JWTMiddleware([]byte(cfg.JWTSecret)))
	}

	// Tenant middleware
	e.Use(db.TenantMiddleware(pool, cfg.DefaultTenant))

	// API group
	apiV1 := e.Group("/api/v1")

	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}
	apiV1.Use(middleware.RateLimit(rateLimitCfg))

	// Health check
	e.GET("/health", db.HealthHandler(pool))

	// Realtime hub
	hub := realtime.NewHub(logger)
	wsHandler := realtime.NewHandler(hub)
	wsHandler.RegisterRoutes(apiV1)

	// Responder client
	var responderClient responder.Client
	switch cfg.ResponderProvider {
	case "webhook":
		if cfg.ResponderURL != "" {
			responderClient = responder.NewHTTPClient(cfg.ResponderURL, cfg.ResponderTimeoutDuration())
		} else {
			logger.Warn().Msg("RESPONDER_URL not set; canned replies only")
		}
	case "openai":
		responderClient = responder.NewOpenAIClient(cfg.OpenAIAPIKey, cfg.OpenAIModel)
	case "none":
		logger.Info().Msg("responder disabled; canned replies only")
	}

	// Patient domain
	patientRepo := patient.NewRepoPG(pool)
	patientSvc := patient.NewService(patientRepo)
	patientHandler := patient.NewHandler(patientSvc)
	patientHandler.RegisterRoutes(apiV1)

	// Alert domain
	alertRepo := alert.NewRepoPG(pool)
	alertSvc := alert.NewService(alertRepo, hub, logger)
	alertHandler := alert.NewHandler(alertSvc)
	alertHandler.RegisterRoutes(apiV1)

	// Conversation domain
	convRepo := conversation.NewConversationRepoPG(pool)
	msgRepo := conversation.NewMessageRepoPG(pool)
	convSvc := conversation.NewService(convRepo, msgRepo, hub, logger)

	// Task domain
	templateRepo := task.NewTemplateRepoPG(pool)
	patientTaskRepo := task.NewPatientTaskRepoPG(pool)
	taskSvc := task.NewService(templateRepo, patientTaskRepo, patientSvc, convSvc, hub, logger)
	taskHandler := task.NewHandler(taskSvc)
	taskHandler.RegisterRoutes(apiV1)

	// Dispatcher ties conversations, patients, tasks and alerts together.
	dispatcher := conversation.NewDispatcher(convSvc,
		&patientDirectory{patients: patientSvc, tasks: taskSvc},
		responderClient, alertSvc, logger,
		conversation.WithPainThreshold(cfg.PainThreshold),
		conversation.WithReplyTimeout(cfg.ResponderTimeoutDuration()))
	convHandler := conversation.NewHandler(convSvc, dispatcher, &hubSource{hub: hub}, logger)
	convHandler.RegisterRoutes(apiV1)

	// Overdue sweeper
	sweeper := task.NewSweeper(taskSvc, pool, cfg.OverdueSweepInterval(), logger)
	if err := sweeper.Start(); err != nil {
		logger.Fatal().Err(err).Msg("failed to start overdue sweeper")
	}
	defer sweeper.Stop()

	// Start server with graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("env", cfg.Env).Msg("server starting")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}
