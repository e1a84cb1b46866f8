package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/Checker-Finance/agent-connections/internal/access"
	"github.com/Checker-Finance/agent-connections/internal/api"
	"github.com/Checker-Finance/agent-connections/internal/connections"
	"github.com/Checker-Finance/agent-connections/internal/directory"
	"github.com/Checker-Finance/agent-connections/internal/events"
	"github.com/Checker-Finance/agent-connections/internal/jobs"
	"github.com/Checker-Finance/agent-connections/internal/legacy"
	internalsecrets "github.com/Checker-Finance/agent-connections/internal/secrets"
	"github.com/Checker-Finance/agent-connections/pkg/cache"
	"github.com/Checker-Finance/agent-connections/pkg/config"
	"github.com/Checker-Finance/agent-connections/pkg/logger"
	"github.com/Checker-Finance/agent-connections/pkg/model"
	"github.com/Checker-Finance/agent-connections/pkg/secrets"
	"github.com/Checker-Finance/agent-connections/pkg/utils"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Load configuration ---
	cfg := config.Load()

	logger.Init(cfg.ServiceName, cfg.Env, cfg.LogLevel)
	defer logger.Sync()
	logg := logger.S()
	logg.Info("starting [agent-connections]...")

	if err := cfg.Validate(); err != nil {
		logg.Fatalw("invalid configuration", "error", err)
	}

	// --- Secret backend ---
	backend, err := secrets.New(ctx, cfg, logg.Desugar())
	if err != nil {
		logg.Fatalw("failed to init secrets backend", "backend", cfg.SecretsBackend, "error", err)
	}
	logg.Infow("secrets backend ready",
		"backend", backend.Name(),
		"enabled", cfg.SecretsEnabled,
		"serialize_writes", cfg.SerializeWrites)

	store := internalsecrets.NewStore(backend, logger.Named("store"), cfg.SerializeWrites)

	// --- Legacy read fallback ---
	var legacyReader connections.LegacyReader
	if cfg.LegacyReadFallback {
		legacyReader = legacy.New(store, logger.Named("legacy"))
		logg.Info("legacy read fallback enabled")
	}

	// --- User directory (cached) ---
	var userDir directory.UserDirectory
	var pgDir *directory.Postgres
	if cfg.DirectoryDatabaseURL != "" {
		logg.Infow("user directory configured", "dsn", utils.MaskDSN(cfg.DirectoryDatabaseURL))
		pgDir, err = directory.NewPostgres(ctx, cfg.DirectoryDatabaseURL, cfg.DirectoryUsersQuery, directory.PoolConfig{
			MaxConns:        int32(cfg.PGMaxConns),
			MinConns:        int32(cfg.PGMinConns),
			MaxConnLifetime: cfg.PGMaxConnLifetime,
			MaxConnIdleTime: cfg.PGMaxConnIdleTime,
		}, logger.Named("directory"))
		if err != nil {
			logg.Fatalw("failed to init user directory", "error", err)
		}
		userDir = pgDir
	} else {
		logg.Warn("DIRECTORY_DATABASE_URL not set; listing users from the secret store")
		userDir = directory.NewStoreBacked(store)
	}
	dirCache := cache.New[[]model.User](cfg.DirectoryCacheTTL)
	stopCleaner := make(chan struct{})
	go dirCache.StartCleaner(cfg.CleanupFreq, stopCleaner)
	userDir = directory.NewCached(userDir, dirCache)

	// --- Change events ---
	pub, err := events.New(cfg, logger.Named("events"))
	if err != nil {
		logg.Fatalw("failed to init events publisher", "driver", cfg.EventsDriver, "error", err)
	}

	// --- Connection service ---
	gate := access.NewGate(cfg.AdminRole)
	svc := connections.NewService(store, connections.Options{
		Enabled:        cfg.SecretsEnabled,
		Gate:           gate,
		FilterCaseMode: cfg.FilterCaseMode,
		Legacy:         legacyReader,
		Directory:      userDir,
		Events:         pub,
	}, logger.Named("connections"))

	// --- Backend health monitor ---
	var monitor *jobs.Monitor
	if cfg.SecretsEnabled && cfg.HealthInterval > 0 {
		monitor = jobs.NewMonitor(logger.Named("health"), store, pub, cfg.HealthInterval)
		go monitor.Start(ctx)
	}

	// --- Fiber HTTP Server ---
	app := fiber.New(fiber.Config{
		ReadTimeout:  cfg.HTTPReadTimeout,
		WriteTimeout: cfg.HTTPWriteTimeout,
		IdleTimeout:  cfg.HTTPIdleTimeout,
		BodyLimit:    cfg.HTTPBodyLimit,
	})

	vaultChecker := func(ctx context.Context, opts secrets.VaultOptions) error {
		return secrets.CheckVaultConnection(ctx, opts, logger.Named("vault_test"))
	}
	api.RegisterRoutes(app, api.Options{
		Prefix:          cfg.APIPrefix,
		SigningSecret:   cfg.IdentitySigningSecret,
		RateLimitMax:    cfg.RateLimitMax,
		RateLimitWindow: cfg.RateLimitWindow,
	}, logger.Named("api"),
		api.NewConnectionsHandler(logger.Named("api"), svc),
		api.NewAdminHandler(logger.Named("admin"), gate, api.BackendInfoFromConfig(cfg), vaultChecker))

	if cfg.IdentitySigningSecret == "" {
		logg.Warn("IDENTITY_SIGNING_SECRET not set; identity headers are trusted as-is")
	}

	// Start HTTP server
	go func() {
		logg.Infof("HTTP API listening on :%d", cfg.Port)
		if err := app.Listen(fmt.Sprintf(":%d", cfg.Port)); err != nil {
			logg.Fatalw("fiber.listen_failed", "error", err)
		}
	}()

	logg.Infow("[agent-connections] running",
		"env", cfg.Env,
		"prefix", cfg.APIPrefix,
		"events", cfg.EventsDriver)

	<-ctx.Done()
	logg.Info("shutting down [agent-connections]...")

	close(stopCleaner)
	if monitor != nil {
		monitor.Stop()
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logg.Warnw("fiber.shutdown_failed", "error", err)
	}
	if err := pub.Close(); err != nil {
		logg.Warnw("events.close_failed", "error", err)
	}
	if pgDir != nil {
		pgDir.Close()
	}
	if closer, ok := backend.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			logg.Warnw("secrets.close_failed", "error", err)
		}
	}
}
