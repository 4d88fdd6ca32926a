package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ehr/cashier/internal/config"
	"github.com/ehr/cashier/internal/domain/billing"
	"github.com/ehr/cashier/internal/platform/cache"
	"github.com/ehr/cashier/internal/platform/db"
	"github.com/ehr/cashier/internal/platform/metrics"
	"github.com/ehr/cashier/internal/platform/middleware"
	"github.com/ehr/cashier/internal/platform/openmrs"
	"github.com/ehr/cashier/internal/platform/websocket"
	"github.com/ehr/cashier/migrations"
)

const version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "cashier-server",
		Short: "Billing gateway for OpenMRS cashier screens",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(billsCmd())
	rootCmd.AddCommand(reportCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(cfg *config.Config) zerolog.Logger {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if cfg.IsDev() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || cfg.LogLevel == "" {
		level = zerolog.InfoLevel
	}
	return logger.Level(level)
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the billing gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return runServer(cfg, newLogger(cfg))
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the response cache schema",
	}

	withMigrator := func(fn func(ctx context.Context, m *db.Migrator) error) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if cfg.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for migrations")
		}
		logger := newLogger(cfg)

		ctx := context.Background()
		pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns, logger)
		if err != nil {
			return err
		}
		defer pool.Close()
		return fn(ctx, db.NewMigrator(pool, migrations.FS, logger))
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(func(ctx context.Context, m *db.Migrator) error {
				count, err := m.Up(ctx)
				if err != nil {
					return fmt.Errorf("migration failed: %w", err)
				}
				fmt.Printf("Applied %d migration(s) successfully.\n", count)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(func(ctx context.Context, m *db.Migrator) error {
				statuses, err := m.Status(ctx)
				if err != nil {
					return fmt.Errorf("failed to get migration status: %w", err)
				}
				fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
				for _, s := range statuses {
					status, appliedAt := "pending", ""
					if s.Applied {
						status = "applied"
						if s.AppliedAt != nil {
							appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
						}
					}
					fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
				}
				return nil
			})
		},
	})

	return cmd
}

func billsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bills",
		Short: "List bills with derived status and totals",
		RunE: func(cmd *cobra.Command, args []string) error {
			patient, _ := cmd.Flags().GetString("patient")
			status, _ := cmd.Flags().GetString("status")

			svc, err := cliService()
			if err != nil {
				return err
			}
			bills, err := svc.ListBills(cmd.Context(), patient, billing.ListOptions{Status: billing.PaymentStatus(status)})
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "UUID\tDATE\tPATIENT\tSTATUS\tTOTAL\tTENDERED")
			for _, b := range bills {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%.2f\t%.2f\n",
					b.UUID, b.DateCreated, b.PatientName, b.Status, b.TotalAmount, b.TenderedAmount)
			}
			return w.Flush()
		},
	}
	cmd.Flags().String("patient", "", "Only bills of this patient uuid")
	cmd.Flags().String("status", "", "Only bills with this derived status (PAID or PENDING)")
	return cmd
}

func reportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Print the billing report for a date range",
		RunE: func(cmd *cobra.Command, args []string) error {
			startStr, _ := cmd.Flags().GetString("start")
			endStr, _ := cmd.Flags().GetString("end")

			start, err := time.ParseInLocation("2006-01-02", startStr, time.Local)
			if err != nil {
				return fmt.Errorf("--start: %w", err)
			}
			end, err := time.ParseInLocation("2006-01-02", endStr, time.Local)
			if err != nil {
				return fmt.Errorf("--end: %w", err)
			}
			_, end = billing.DayBounds(end)

			svc, err := cliService()
			if err != nil {
				return err
			}
			rows, err := svc.Report(cmd.Context(), start, end)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "DATE\tIDENTIFIER\tNAME\tBILLED ITEMS\tAMOUNT\tSTATUS\tMODE")
			for _, r := range rows {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
					r.Date, r.Identifier, r.Name, r.BilledItems, r.Amount, r.Status, r.Mode)
			}
			return w.Flush()
		},
	}
	today := time.Now().Format("2006-01-02")
	cmd.Flags().String("start", today, "First day (YYYY-MM-DD)")
	cmd.Flags().String("end", today, "Last day (YYYY-MM-DD)")
	return cmd
}

// cliService builds an uncached service for one-shot commands.
func cliService() (*billing.Service, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	client := openmrs.New(cfg.OpenMRSBaseURL,
		openmrs.WithHTTPClient(&http.Client{Timeout: cfg.BackendTimeout}),
		openmrs.WithCredentials(cfg.OpenMRSUsername, cfg.OpenMRSPassword),
		openmrs.WithLogger(newLogger(cfg)),
	)
	return billing.NewService(
		billing.NewRESTBillRepo(client),
		billing.NewRESTCatalogRepo(client),
		settingsFrom(cfg),
	), nil
}

func settingsFrom(cfg *config.Config) billing.Settings {
	return billing.Settings{
		CashPoint:          cfg.CashPointUUID,
		Cashier:            cfg.CashierUUID,
		PriceUUID:          cfg.PriceUUID,
		Currency:           cfg.DefaultCurrency,
		EnforceBillPayment: cfg.EnforceBillPayment,
	}
}

// app is a wired gateway. Background work stops when the context passed to
// newApp is cancelled; close releases the database pool.
type app struct {
	echo  *echo.Echo
	hub   *websocket.Hub
	svc   *billing.Service
	close func()
}

func newApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*app, error) {
	m := metrics.New()
	hub := websocket.NewHub(logger)

	var (
		store  cache.Store
		pool   *pgxpool.Pool
		pinger db.Pinger
	)
	if cfg.UsesPostgresCache() {
		var err error
		pool, err = db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns, logger)
		if err != nil {
			return nil, fmt.Errorf("connect to cache database: %w", err)
		}
		if _, err := db.NewMigrator(pool, migrations.FS, logger).Up(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("migrate cache database: %w", err)
		}
		pgStore := cache.NewPostgresStore(pool)
		go purgeExpired(ctx, pgStore, logger)
		store, pinger = pgStore, pool
		logger.Info().Msg("using postgres response cache")
	} else {
		memStore := cache.NewMemoryStore()
		memStore.StartCleanup(ctx, time.Minute)
		store = memStore
	}

	client := openmrs.New(cfg.OpenMRSBaseURL,
		openmrs.WithHTTPClient(&http.Client{Timeout: cfg.BackendTimeout}),
		openmrs.WithCredentials(cfg.OpenMRSUsername, cfg.OpenMRSPassword),
		openmrs.WithCache(store, cfg.CacheTTL),
		openmrs.WithMetrics(m),
		openmrs.WithLogger(logger),
		openmrs.WithInvalidationHook(hub.Invalidated),
	)

	svc := billing.NewService(
		billing.NewRESTBillRepo(client),
		billing.NewRESTCatalogRepo(client),
		settingsFrom(cfg),
		billing.WithPublisher(hub),
		billing.WithSearchDebounce(cfg.SearchDebounce),
	)
	go sweepCarts(ctx, svc.Carts(), logger)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.Recovery(logger, m.Panicked))
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{"Content-Type", middleware.RequestIDHeader, billing.SearchSessionHeader},
	}))
	e.Use(echomw.BodyLimit("1M"))
	e.Use(m.Middleware())

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]interface{}{
			"status":     "ok",
			"version":    version,
			"ws_clients": hub.ClientCount(),
			"carts":      svc.Carts().Len(),
		})
	})
	e.GET("/health/db", db.HealthHandler(pinger))
	e.GET("/metrics", m.Handler())
	websocket.NewHandler(hub).RegisterRoutes(e)

	apiV1 := e.Group("/api/v1")
	rateLimitCfg := middleware.DefaultRateLimitConfig()
	rateLimitCfg.RequestsPerSecond = cfg.RateLimitRPS
	rateLimitCfg.BurstSize = cfg.RateLimitBurst
	apiV1.Use(middleware.RateLimit(rateLimitCfg))
	etagCfg := middleware.DefaultETagConfig()
	etagCfg.SkipPrefixes = []string{"/api/v1/search/"}
	apiV1.Use(middleware.ETag(etagCfg))
	apiV1.Use(middleware.RequestTimeout(cfg.RequestTimeout))
	billing.NewHandler(svc).RegisterRoutes(apiV1)

	return &app{
		echo: e,
		hub:  hub,
		svc:  svc,
		close: func() {
			if pool != nil {
				pool.Close()
			}
		},
	}, nil
}

func purgeExpired(ctx context.Context, store *cache.PostgresStore, logger zerolog.Logger) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := store.PurgeExpired(ctx)
			if err != nil {
				logger.Error().Err(err).Msg("purge expired cache entries")
				continue
			}
			if n > 0 {
				logger.Debug().Int("entries", n).Msg("purged expired cache entries")
			}
		}
	}
}

func sweepCarts(ctx context.Context, carts *billing.CartStore, logger zerolog.Logger) {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := carts.Sweep(); n > 0 {
				logger.Info().Int("carts", n).Msg("dropped abandoned carts")
			}
		}
	}
}

func runServer(cfg *config.Config, logger zerolog.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("failed to start")
		return err
	}
	defer a.close()

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("backend", cfg.OpenMRSBaseURL).Msg("starting server")
		if err := a.echo.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := a.echo.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}
