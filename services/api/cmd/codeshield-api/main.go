package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"codeshield/pkg/bus"
	"codeshield/pkg/config"
	"codeshield/pkg/db"
	gos3 "codeshield/pkg/s3"
	"codeshield/pkg/telemetry"
	"codeshield/services/api"
	"codeshield/services/archive"
	"codeshield/services/ledger"
	"codeshield/services/orchestrator"
	"codeshield/services/registry"
	"codeshield/services/rules"
	"codeshield/services/scanner"
	"codeshield/services/signer"
)

const serviceName = "codeshield-api"

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg(serviceName)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	_ = godotenv.Load()
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	cfg, err := config.Load(ctx)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	shutdownTelemetry, middleware, logger, err := telemetry.Init(ctx, serviceName, cfg.OTLPEndpoint)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	log.Logger = logger
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("shutdown telemetry")
		}
	}()

	checks := map[string]api.Check{}

	var store registry.Store
	if cfg.DatabaseURL != "" {
		pool, err := db.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("connect database: %w", err)
		}
		defer pool.Close()
		if err := db.Migrate(ctx, pool); err != nil {
			return fmt.Errorf("migrate database: %w", err)
		}
		pgStore, err := registry.NewPostgresStore(pool)
		if err != nil {
			return err
		}
		store = pgStore
		checks["database"] = db.Check(pool)
	}

	var counter scanner.Counter
	if cfg.RedisURL != "" {
		redisCounter, err := scanner.NewRedisCounter(ctx, cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer redisCounter.Close()
		counter = redisCounter
		checks["redis"] = func(ctx context.Context) error {
			_, err := redisCounter.Value(ctx)
			return err
		}
	}
	gate := scanner.NewGate(cfg.MaxConcurrency, counter)

	ledgerClient, err := openLedger(ctx, cfg)
	if err != nil {
		return fmt.Errorf("init ledger: %w", err)
	}
	ledgerClient = ledger.WithTimeout(ledgerClient, cfg.LedgerTimeout)

	var engine rules.Engine
	if cfg.RulesURL != "" {
		engine, err = rules.NewHTTPClient(cfg.RulesURL, cfg.RulesTimeout)
	} else {
		engine, err = rules.NewCELEngineFromFile(cfg.RulesFile)
	}
	if err != nil {
		return fmt.Errorf("init rules: %w", err)
	}

	adapters, err := scanner.NewAdapters(cfg.Analyzers)
	if err != nil {
		return fmt.Errorf("init analyzers: %w", err)
	}
	for _, ad := range adapters {
		if err := ad.CheckAvailable(ctx); err != nil {
			logger.Warn().Err(err).Str("tool", ad.Name()).Msg("analyzer unavailable, scans will record a tool error")
			continue
		}
		version, _ := ad.Version(ctx)
		logger.Info().Str("tool", ad.Name()).Str("version", version).Msg("analyzer ready")
	}
	analyzer := scanner.NewAnalyzer(adapters, cfg.ToolTimeout, logger)

	sig, err := signer.NewFromEnv()
	switch {
	case errors.Is(err, signer.ErrNotConfigured):
		sig = nil
		logger.Info().Msg("report signing disabled")
	case err != nil:
		return fmt.Errorf("init signer: %w", err)
	}

	var (
		reports  api.Reports
		archiver orchestrator.Archiver
	)
	if cfg.ArchiveEnabled() {
		client, err := gos3.New(ctx, gos3.Options{
			Endpoint:       cfg.S3Endpoint,
			AccessKey:      cfg.S3AccessKey,
			SecretKey:      cfg.S3SecretKey,
			Region:         cfg.S3Region,
			ForcePathStyle: cfg.S3ForcePathStyle,
			DisableTLS:     strings.HasPrefix(cfg.S3Endpoint, "http://"),
		})
		if err != nil {
			return fmt.Errorf("init s3 client: %w", err)
		}
		arch, err := archive.New(client, cfg.S3Bucket, cfg.ReportURLTTL)
		if err != nil {
			return fmt.Errorf("init archive: %w", err)
		}
		defer arch.Close()
		reports, archiver = arch, arch
	}

	var eventBus *bus.Bus
	if cfg.NATSURL != "" {
		eventBus, err = bus.New(cfg.NATSURL)
		if err != nil {
			return fmt.Errorf("connect nats: %w", err)
		}
		defer eventBus.Close()
		if err := eventBus.EnsureStream(orchestrator.StreamName, "codeshield.scans.>"); err != nil {
			return fmt.Errorf("ensure stream: %w", err)
		}
		checks["bus"] = func(context.Context) error {
			if !eventBus.Healthy() {
				return errors.New("nats disconnected")
			}
			return nil
		}
	}

	deps := orchestrator.Deps{
		Registry: registry.New(store),
		Gate:     gate,
		Analyzer: analyzer,
		Rules:    engine,
		Ledger:   ledgerClient,
		Signer:   sig,
		Archiver: archiver,
		Logger:   logger,
	}
	if eventBus != nil {
		deps.Events = eventBus
	}
	orch, err := orchestrator.New(deps, orchestrator.Options{
		MaxSourceBytes: cfg.MaxSourceBytes,
		TopFindings:    cfg.TopFindings,
		ModelVersion:   cfg.ModelVersion,
		RulesTimeout:   cfg.RulesTimeout,
		LedgerTimeout:  cfg.LedgerTimeout,
	})
	if err != nil {
		return fmt.Errorf("init orchestrator: %w", err)
	}
	if eventBus != nil {
		if err := orch.Start(ctx, eventBus); err != nil {
			return fmt.Errorf("start intake: %w", err)
		}
	}

	handlers, err := api.New(orch, ledgerClient, reports, api.Config{
		AllowedOrigins: cfg.AllowedOrigins,
		RateLimit:      cfg.RateLimit,
		MaxSourceBytes: cfg.MaxSourceBytes,
		ModelVersion:   cfg.ModelVersion,
		RequestTimeout: cfg.RequestTimeout,
		Checks:         checks,
	}, logger)
	if err != nil {
		return fmt.Errorf("init api: %w", err)
	}
	router, err := handlers.Routes()
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           middleware(router),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.Addr).Str("ledger", cfg.LedgerMode).Int("max_concurrency", gate.Max()).Msg("starting " + serviceName)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("shutdown server")
	}
	if err := orch.Close(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("drain scans")
	}
	return nil
}

func openLedger(ctx context.Context, cfg config.Config) (ledger.Client, error) {
	switch strings.ToLower(cfg.LedgerMode) {
	case config.LedgerEth:
		return ledger.DialEthLedger(ctx, cfg.EthRPCURL, cfg.EthPrivateKey, cfg.LedgerContract)
	case config.LedgerLocal:
		orm, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{})
		if err != nil {
			return nil, fmt.Errorf("open gorm: %w", err)
		}
		return ledger.NewLocalLedger(orm)
	default:
		return ledger.NewMemoryLedger(), nil
	}
}
