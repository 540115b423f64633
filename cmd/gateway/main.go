package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/plagtech/spraay-solana-gateway/internal/alert"
	"github.com/plagtech/spraay-solana-gateway/internal/api"
	"github.com/plagtech/spraay-solana-gateway/internal/chain/solana"
	"github.com/plagtech/spraay-solana-gateway/internal/chain/solana/rpc"
	"github.com/plagtech/spraay-solana-gateway/internal/circuitbreaker"
	"github.com/plagtech/spraay-solana-gateway/internal/config"
	"github.com/plagtech/spraay-solana-gateway/internal/pipeline"
	"github.com/plagtech/spraay-solana-gateway/internal/store"
	"github.com/plagtech/spraay-solana-gateway/internal/store/postgres"
	redispkg "github.com/plagtech/spraay-solana-gateway/internal/store/redis"
	"github.com/plagtech/spraay-solana-gateway/internal/tracing"
	"golang.org/x/sync/errgroup"
)

const serviceName = "spraay-solana-gateway"

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

const poolStatsInterval = 15 * time.Second

var (
	newRedisGuard  = func(url string) (guardCloser, error) { return redispkg.NewGuard(url) }
	newMemoryGuard = func() store.IdempotencyGuard { return redispkg.NewMemoryGuard() }
)

type guardCloser interface {
	store.IdempotencyGuard
	io.Closer
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Log.Level, os.Stdout)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("gateway exited with error", "error", err)
		os.Exit(1)
	}
	logger.Info("gateway shut down gracefully")
}

func newLogger(level string, w io.Writer) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl}))
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	treasury, err := solana.LoadTreasury(cfg.Treasury.PrivateKey.Reveal(), cfg.Treasury.Wallet)
	if err != nil {
		return fmt.Errorf("load treasury: %w", err)
	}

	logger.Info("starting gateway",
		"version", version,
		"network", cfg.Solana.Network,
		"rpc", cfg.Solana.RPCURL,
		"treasury", treasury,
		"max_recipients", cfg.Batch.MaxRecipients,
		"tokens", len(cfg.Tokens.Registry.Tokens()),
	)

	tracingEndpoint := ""
	if cfg.Tracing.Enabled {
		tracingEndpoint = cfg.Tracing.Endpoint
	}
	shutdownTracing, err := tracing.Init(ctx, tracing.Options{
		ServiceName: serviceName,
		Version:     version,
		Network:     string(cfg.Solana.Network),
		Endpoint:    tracingEndpoint,
		Insecure:    cfg.Tracing.Insecure,
		SampleRatio: cfg.Tracing.SampleRatio,
	})
	if err != nil {
		return fmt.Errorf("initialize tracing: %w", err)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Warn("tracing shutdown error", "error", err)
		}
	}()
	if cfg.Tracing.Enabled {
		logger.Info("tracing enabled", "endpoint", cfg.Tracing.Endpoint)
	}

	alerter := alert.FromURLs(cfg.Alert.SlackWebhookURL, cfg.Alert.WebhookURL, cfg.Alert.Cooldown, logger)

	// Built on first use.
	ledger := solana.NewLazyLedger(func() *solana.Ledger {
		client := rpc.NewClient(cfg.Solana.RPCURL, cfg.RPC.Timeout, logger)
		return solana.NewLedger(client, ledgerConfig(cfg, alerter), logger)
	})

	g, gCtx := errgroup.WithContext(ctx)

	batches, closeStore, err := openBatchStore(gCtx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	guard, closeGuard, err := openIdempotencyGuard(cfg, logger)
	if err != nil {
		return err
	}
	defer closeGuard()

	payouts, err := pipeline.New(pipelineConfig(cfg, alerter), ledger, treasury, batches, logger)
	if err != nil {
		return fmt.Errorf("build pipeline: %w", err)
	}

	srv := api.NewServer(payouts, api.Config{
		Network:        cfg.Solana.Network,
		Treasury:       treasury.PublicKey().String(),
		Version:        version,
		MaxBodyBytes:   cfg.Server.MaxBodyBytes,
		IdempotencyTTL: cfg.Redis.IdempotencyTTL,
		RateLimitRPS:   cfg.Server.RateLimitRPS,
		RateLimitBurst: cfg.Server.RateLimitBurst,
	}, logger,
		api.WithBatchRepository(batches),
		api.WithIdempotencyGuard(guard),
		api.WithMintResolver(cfg.Tokens.Registry),
		api.WithRPCState(func() circuitbreaker.State { return ledger.Ledger().BreakerState() }),
	)
	defer srv.Close()

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
	}

	g.Go(func() error {
		logger.Info("http server started", "port", cfg.Server.Port)
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()
		logger.Info("shutting down http server", "timeout", cfg.Server.ShutdownTimeout)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func ledgerConfig(cfg *config.Config, alerter alert.Alerter) solana.LedgerConfig {
	return solana.LedgerConfig{
		Network:                 cfg.Solana.Network,
		RateLimitRPS:            cfg.RPC.RateLimitRPS,
		RateLimitBurst:          cfg.RPC.RateLimitBurst,
		ReadRetries:             cfg.RPC.ReadRetries,
		ReadRetryBaseDelay:      cfg.RPC.ReadRetryBaseDelay,
		BreakerFailureThreshold: cfg.RPC.BreakerFailureThreshold,
		BreakerOpenTimeout:      cfg.RPC.BreakerOpenTimeout,
		MintCacheSize:           cfg.RPC.MintCacheSize,
		MintCacheTTL:            cfg.RPC.MintCacheTTL,
		Alerter:                 alerter,
	}
}

func pipelineConfig(cfg *config.Config, alerter alert.Alerter) pipeline.Config {
	return pipeline.Config{
		Network:       cfg.Solana.Network,
		MaxRecipients: cfg.Batch.MaxRecipients,
		Capacities: pipeline.Capacities{
			Native: cfg.Batch.MaxInstructionsNative,
			Token:  cfg.Batch.MaxInstructionsToken,
		},
		ResolveConcurrency:  cfg.Batch.ResolveConcurrency,
		ConfirmPollInterval: cfg.Batch.ConfirmPollInterval,
		ConfirmTimeout:      cfg.Batch.ConfirmTimeout,
		ServiceFeePercent:   cfg.Batch.ServiceFeePercent,
		Alerter:             alerter,
	}
}

// openBatchStore connects the audit ledger when DB_URL is set and falls
// back to discarding writes otherwise.
func openBatchStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (store.BatchRepository, func(), error) {
	if strings.TrimSpace(cfg.DB.URL) == "" {
		logger.Warn("DB_URL not set, batch audit ledger disabled")
		return store.NoopBatchRepository{}, func() {}, nil
	}

	db, err := postgres.New(postgres.Config{
		URL:             cfg.DB.URL,
		MaxOpenConns:    cfg.DB.MaxOpenConns,
		MaxIdleConns:    cfg.DB.MaxIdleConns,
		ConnMaxLifetime: cfg.DB.ConnMaxLifetime,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("connect database: %w", err)
	}
	if err := db.RunMigrations(cfg.DB.MigrationsDir); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("run migrations: %w", err)
	}
	logger.Info("connected to database", "migrations", cfg.DB.MigrationsDir)

	go db.ReportPoolStats(ctx, poolStatsInterval)

	return postgres.NewBatchRepo(db), func() {
		if err := db.Close(); err != nil {
			logger.Warn("database close error", "error", err)
		}
	}, nil
}

// openIdempotencyGuard uses redis when REDIS_URL is set. Without it keys are
// held in process memory and do not survive restarts.
func openIdempotencyGuard(cfg *config.Config, logger *slog.Logger) (store.IdempotencyGuard, func(), error) {
	url := strings.TrimSpace(cfg.Redis.URL)
	if url == "" {
		logger.Warn("REDIS_URL not set, idempotency keys kept in memory")
		return newMemoryGuard(), func() {}, nil
	}

	guard, err := newRedisGuard(url)
	if err != nil {
		return nil, nil, fmt.Errorf("connect redis: %w", err)
	}
	if guard == nil {
		return nil, nil, fmt.Errorf("connect redis: guard is nil")
	}
	logger.Info("redis idempotency guard enabled", "ttl", cfg.Redis.IdempotencyTTL)

	return guard, func() {
		if err := guard.Close(); err != nil {
			logger.Warn("redis close error", "error", err)
		}
	}, nil
}
