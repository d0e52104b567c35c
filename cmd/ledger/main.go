// Package main is the entry point for the UTI Coins ledger server.
package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"

	"uticoins/internal/auth"
	"uticoins/internal/bot"
	"uticoins/internal/cache"
	"uticoins/internal/config"
	"uticoins/internal/curve"
	"uticoins/internal/dailycode"
	"uticoins/internal/httpapi"
	"uticoins/internal/jobs"
	"uticoins/internal/logging"
	"uticoins/internal/metrics"
	"uticoins/internal/pkg/db"
	"uticoins/internal/pkg/lock"
	"uticoins/internal/repository"
	"uticoins/internal/service"
)

func main() {
	cfg, err := config.Load("config")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	closer, err := logging.Setup(cfg.Log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to set up logging")
	}
	defer closer.Close()

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	log.Info().
		Str("storage", cfg.Storage.Driver).
		Str("timezone", cfg.Code.Timezone).
		Int("rollover_hour", cfg.Code.RolloverHour).
		Msg("Starting UTI Coins ledger...")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, closeStore := openStore(ctx, cfg)
	defer closeStore()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewCollector(reg)

	loc := dailycode.LoadLocation(cfg.Code.Timezone)
	cal, err := dailycode.NewCalendar(loc, cfg.Code.RolloverHour, cfg.Code.ClaimWindow, cfg.Code.StreakWindow)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid code calendar")
	}
	rewardCurve, err := buildCurve(cfg.Reward)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid reward curve")
	}

	opts := []service.Option{
		service.WithMetrics(collector),
		service.WithLocks(lock.NewUserLock()),
		service.WithCodeDigits(cfg.Code.Digits),
	}
	if cfg.Redis.Addr != "" {
		client, err := cache.Connect(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to Redis")
		}
		defer client.Close()
		opts = append(opts, service.WithCache(cache.NewRedis(client, cfg.Redis.TTL)))
		log.Info().Str("addr", cfg.Redis.Addr).Msg("Claim cache enabled")
	}

	rewards := service.NewRewardService(store, cal, rewardCurve, opts...)
	accounts := service.NewAccountService(store)

	signer, err := auth.NewSigner(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.TokenTTL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create token signer")
	}

	limiter := httpapi.NewRateLimiter(cfg.Server.RateLimit, cfg.Server.RateBurst, 10*time.Minute)
	defer limiter.Stop()

	srv := &http.Server{
		Addr: cfg.Server.Addr,
		Handler: httpapi.NewRouter(&httpapi.Deps{
			Rewards:     rewards,
			Accounts:    accounts,
			Auth:        signer,
			Health:      store,
			RateLimiter: limiter,
			Metrics:     collector,
			Gatherer:    reg,
		}),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	var scheduler *jobs.Scheduler
	if cfg.Jobs.Enabled {
		scheduler, err = jobs.NewScheduler(ctx, rewards, jobs.Config{
			Location:      loc,
			RolloverSpec:  cfg.Jobs.RolloverSpec,
			PruneSpec:     cfg.Jobs.PruneSpec,
			RetentionDays: cfg.Jobs.RetentionDays,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create job scheduler")
		}
		scheduler.Start(ctx)
		log.Info().Int("jobs", scheduler.Entries()).Msg("Job scheduler started")
	}

	var telegramBot *bot.Bot
	if cfg.Bot.Token != "" {
		telegramBot, err = bot.New(&bot.Dependencies{Config: cfg, Rewards: rewards, Accounts: accounts})
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create bot")
		}
		go func() {
			log.Info().Msg("Bot is starting...")
			telegramBot.Start()
		}()
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("Received shutdown signal")
	case err := <-serveErr:
		if err != nil {
			log.Error().Err(err).Msg("HTTP server failed")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}
	if telegramBot != nil {
		telegramBot.Stop()
	}
	if scheduler != nil {
		scheduler.Stop()
	}
	log.Info().Msg("Ledger stopped gracefully")
}

// openStore returns the configured backend and its cleanup func.
func openStore(ctx context.Context, cfg *config.Config) (repository.Store, func()) {
	if cfg.Storage.Driver == config.StorageMemory {
		log.Warn().Msg("Using in-memory storage; balances are lost on restart")
		return repository.NewMemoryStore(), func() {}
	}

	if cfg.Database.AutoMigrate {
		log.Info().Msg("Running database migrations...")
		if err := db.RunMigrations(cfg.Database.DSN()); err != nil {
			log.Fatal().Err(err).Msg("Failed to run migrations")
		}
	}

	pool, err := db.NewPool(ctx, &cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	return repository.NewPostgresStore(pool), pool.Close
}

func buildCurve(rc config.RewardConfig) (*curve.Curve, error) {
	promos := make([]curve.Promotion, 0, len(rc.Promotions))
	for _, p := range rc.Promotions {
		promos = append(promos, curve.Promotion{
			Name:       p.Name,
			Start:      p.Start,
			End:        p.End,
			Multiplier: p.Multiplier,
		})
	}
	return curve.New(rc.Base, rc.Cap, rc.CycleLength, promos...)
}
