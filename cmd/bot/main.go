package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/sbenson/condorbot/internal/broker"
	"github.com/sbenson/condorbot/internal/config"
	"github.com/sbenson/condorbot/internal/executor"
	"github.com/sbenson/condorbot/internal/idempotency"
	"github.com/sbenson/condorbot/internal/retry"
	"github.com/sbenson/condorbot/internal/risk"
	"github.com/sbenson/condorbot/internal/storage"
)

const liveModeConfirmDelay = 10 * time.Second

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "config.yaml", "Path to configuration file")
	flag.Parse()

	// .env is optional; real deployments inject environment directly.
	_ = godotenv.Load()

	cfg, err := config.Load(configPath)
	if err != nil {
		boot := zerolog.New(os.Stderr).With().Timestamp().Logger()
		boot.Fatal().Err(err).Msg("failed to load config")
	}

	logger := newLogger(cfg.Environment.LogLevel)
	logger.Info().Str("mode", cfg.Environment.Mode).Int("bots", len(cfg.Bots)).Msg("starting condorbot")
	if !cfg.IsPaperTrading() {
		logger.Warn().Dur("delay", liveModeConfirmDelay).Msg("LIVE TRADING MODE, real money at risk; pausing to confirm")
		time.Sleep(liveModeConfirmDelay)
	}

	store, err := storage.Open(cfg.Storage.DSN, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open storage")
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn().Err(err).Msg("storage close failed")
		}
	}()

	var cache idempotency.Cache
	if cfg.Idempotency.RedisAddr != "" {
		cache = idempotency.NewRedisCache(redis.NewClient(&redis.Options{Addr: cfg.Idempotency.RedisAddr}), logger)
		logger.Info().Str("addr", cfg.Idempotency.RedisAddr).Msg("using redis idempotency cache")
	} else {
		cache = idempotency.NewMemoryCache()
	}
	idem := idempotency.NewManager(store, cache, cfg.IdempotencyTTL(), logger)

	tradier := broker.NewTradierClientWithBaseURL(
		cfg.Broker.APIKey,
		cfg.Broker.AccountID,
		cfg.IsPaperTrading(),
		cfg.Broker.APIEndpoint,
		logger,
	)
	brk := broker.NewCircuitBreakerBroker(tradier, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	balance, err := brk.GetAccountBalance(ctx)
	if err != nil {
		logger.Fatal().Err(err).Msg("broker connectivity check failed")
	}
	logger.Info().Float64("balance", balance).Msg("connected to broker")

	closer := retry.NewClient(brk, logger)
	exec := executor.New(brk, store, idem, closer, logger)
	sizer := risk.NewSizer(risk.SizerConfig{
		RiskPerTradePct: cfg.Risk.RiskPerTradePct,
		MaxContracts:    cfg.Risk.MaxContracts,
	})
	gate := risk.NewGate(risk.GateConfig{
		MaxPositionPct:   cfg.Risk.MaxPositionPct,
		MaxCorrelatedPct: cfg.Risk.MaxCorrelatedPct,
		Correlations:     cfg.Risk.Correlations,
	}, logger)

	scheduler := cron.New()
	for i := range cfg.Bots {
		botCfg := cfg.Bots[i]
		bot := newBot(botCfg, cfg, brk, store, idem, exec, sizer, gate, logger)
		if _, err := scheduler.AddFunc(botCfg.Schedule, func() { bot.RunCycle(ctx) }); err != nil {
			logger.Fatal().Err(err).Str("bot", botCfg.Name).Str("schedule", botCfg.Schedule).Msg("invalid cron schedule")
		}
		logger.Info().Str("bot", botCfg.Name).Str("symbol", botCfg.Symbol).Str("schedule", botCfg.Schedule).Msg("bot scheduled")
	}

	rec := newReconciler(brk, store, idem, logger)
	scheduler.Schedule(cron.Every(5*time.Minute), cron.FuncJob(func() { rec.Run(ctx) }))
	scheduler.Schedule(cron.Every(cfg.CleanupInterval()), cron.FuncJob(func() {
		if _, err := idem.CleanupExpired(ctx); err != nil {
			logger.Error().Err(err).Msg("idempotency cleanup failed")
		}
	}))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		scheduler.Start()
		// Resolve anything stranded by a previous crash before trading.
		rec.Run(gctx)
		<-gctx.Done()
		<-scheduler.Stop().Done()
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("shutdown with error")
	}
	logger.Info().Msg("condorbot stopped")
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
		Level(lvl).
		With().Timestamp().Logger()
}
