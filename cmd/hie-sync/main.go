package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ehr/hie-sync/internal/config"
	"github.com/ehr/hie-sync/internal/domain/deadletter"
	"github.com/ehr/hie-sync/internal/domain/queue"
	"github.com/ehr/hie-sync/internal/domain/resolver"
	"github.com/ehr/hie-sync/internal/domain/source"
	"github.com/ehr/hie-sync/internal/domain/transmit"
	"github.com/ehr/hie-sync/internal/domain/watermark"
	"github.com/ehr/hie-sync/internal/pipeline"
	"github.com/ehr/hie-sync/internal/platform/db"
	"github.com/ehr/hie-sync/internal/platform/fhir"
	"github.com/ehr/hie-sync/internal/platform/mediator"
	"github.com/ehr/hie-sync/internal/platform/middleware"
	"github.com/ehr/hie-sync/internal/platform/telemetry"
)

// RegistryRouter splits the transmitter's traffic across the two registries
// behind the mediator: demographics go to the client registry channel,
// observations to the shared health record channel. It exists so the
// transmitter can stay ignorant of channel topology.
type RegistryRouter struct {
	mpi *mediator.Client
	shr *mediator.Client
}

func (r *RegistryRouter) CreatePatient(ctx context.Context, p *fhir.Patient) (string, error) {
	return r.mpi.CreatePatient(ctx, p)
}

func (r *RegistryRouter) UpsertObservation(ctx context.Context, o *fhir.Observation) error {
	return r.shr.UpsertObservation(ctx, o)
}

func main() {
	rootCmd := &cobra.Command{
		Use:   "hie-sync",
		Short: "EMR to HIE incremental sync engine",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(sweepCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the sync loops and the operator API",
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
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.DatabaseURL == "" {
				return fmt.Errorf("DATABASE_URL is required")
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			count, err := migrator.Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.DatabaseURL == "" {
				return fmt.Errorf("DATABASE_URL is required")
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			statuses, err := migrator.Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

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
	statusCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(statusCmd)

	return cmd
}

func sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run one queue sweep and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			a, err := buildApp(cfg, pool, logger)
			if err != nil {
				return err
			}
			return a.engine.Sweep(ctx)
		},
	}
}

func newLogger() zerolog.Logger {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("ENV") == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return logger
}

// app is the assembled pipeline plus the collaborators the operator API and
// startup checks need direct handles on.
type app struct {
	engine  *pipeline.Engine
	queue   queue.Repository
	sink    *deadletter.FileSink
	metrics *telemetry.Metrics
	mpi     *mediator.Client
}

// buildApp assembles the full pipeline from configuration.
func buildApp(cfg *config.Config, pool *pgxpool.Pool, logger zerolog.Logger) (*app, error) {
	mpi := mediator.NewClient(mediator.Config{
		BaseURL:  cfg.MediatorURL,
		Channel:  cfg.MPIChannel,
		Username: cfg.MediatorUser,
		Password: cfg.MediatorPassword,
		ClientID: cfg.MediatorClientID,
		Timeout:  cfg.HTTPTimeout,
	}, logger)
	shr := mediator.NewClient(mediator.Config{
		BaseURL:  cfg.MediatorURL,
		Channel:  cfg.SHRChannel,
		Username: cfg.MediatorUser,
		Password: cfg.MediatorPassword,
		ClientID: cfg.MediatorClientID,
		Timeout:  cfg.HTTPTimeout,
	}, logger)

	sink, err := deadletter.NewFileSink(cfg.DeadLetterDir, logger)
	if err != nil {
		return nil, err
	}

	metrics := telemetry.NewMetrics()
	router := &RegistryRouter{mpi: mpi, shr: shr}
	tx := transmit.New(router, metrics, logger)
	res := resolver.New(mpi, shr, logger)

	qRepo := queue.NewRepoPG(pool)
	engine := pipeline.NewEngine(
		pipeline.Config{
			PollInterval:       cfg.PollInterval,
			SweepInterval:      cfg.SweepInterval,
			BatchSize:          cfg.BatchSize,
			QueueTTL:           cfg.QueueTTL,
			ResolveConcurrency: cfg.ResolveConcurrency,
			SourceTag:          cfg.SourceTag,
		},
		source.NewPoller(pool),
		watermark.NewRepoPG(pool),
		qRepo,
		res,
		tx,
		sink,
		metrics,
		logger,
	)
	return &app{engine: engine, queue: qRepo, sink: sink, metrics: metrics, mpi: mpi}, nil
}

func runServer() error {
	logger := newLogger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	a, err := buildApp(cfg, pool, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build pipeline")
	}

	// The mediator being down at boot is survivable: the loops retry on
	// every tick. Log it so an operator knows the first batches will stall.
	pingCtx, pingCancel := context.WithTimeout(ctx, cfg.HTTPTimeout)
	if err := a.mpi.Ping(pingCtx); err != nil {
		logger.Warn().Err(err).Msg("mediator unreachable at startup")
	} else {
		logger.Info().Msg("mediator reachable")
	}
	pingCancel()

	go a.engine.Run(ctx)
	logger.Info().
		Dur("poll_interval", cfg.PollInterval).
		Dur("sweep_interval", cfg.SweepInterval).
		Int("batch_size", cfg.BatchSize).
		Msg("sync loops started")

	// Operator API
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": "0.1.0",
		})
	})
	e.GET("/health/db", func(c echo.Context) error {
		if err := pool.Ping(c.Request().Context()); err != nil {
			return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
		}
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/metrics", a.metrics.Handler())

	apiV1 := e.Group("/api/v1")
	queue.NewHandler(a.queue, a.engine).RegisterRoutes(apiV1)
	deadletter.NewHandler(a.sink).RegisterRoutes(apiV1)

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting operator api")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down")
	cancel() // stops the sync loops; an in-flight tick finishes first

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("stopped")
	return nil
}
