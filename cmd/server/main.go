package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"spacehire/internal/access"
	"spacehire/internal/api"
	"spacehire/internal/audit"
	"spacehire/internal/availability"
	"spacehire/internal/booking"
	"spacehire/internal/config"
	"spacehire/internal/database"
	"spacehire/internal/events"
	"spacehire/internal/ledger"
	"spacehire/internal/locker"
	"spacehire/internal/metrics"
	"spacehire/internal/notify"
	"spacehire/internal/payments"
	"spacehire/internal/sheets"
	"spacehire/internal/timechange"
	"spacehire/internal/worker"
)

func newLogger(cfg *config.Config) zerolog.Logger {
	var logger zerolog.Logger
	if strings.EqualFold(cfg.Log.Format, "json") {
		logger = zerolog.New(os.Stdout)
	} else {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	}
	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil || cfg.Log.Level == "" {
		level = zerolog.InfoLevel
	}
	return logger.Level(level).With().Timestamp().Logger()
}

func main() {
	cfg, err := config.Load(os.Getenv("SPACEHIRE_CONFIG_PATH"))
	if err != nil {
		boot := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
		boot.Fatal().Err(err).Msg("failed to load config")
	}
	logger := newLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.NewDB(cfg.Database.Path, database.Options{
		BusyTimeout:  cfg.BusyTimeout(),
		MaxOpenConns: cfg.Database.MaxOpenConns,
	}, &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("open database")
	}
	defer db.Close()

	var rdb *redis.Client
	if cfg.Redis.Address != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.Redis.Address, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer rdb.Close()
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			logger.Warn().Err(err).Msg("redis not reachable yet")
		}
		cancel()
	}

	// Events fan out to the log, Redis and Telegram.
	bus := events.NewEventBus(logger)
	bus.Subscribe(events.Wildcard, events.LogHandler(logger))
	if rdb != nil {
		bus.Subscribe(events.Wildcard, events.NewRedisPublisher(rdb, cfg.Redis.EventsChannel).Handler())
	}

	var notifier *notify.Notifier
	if cfg.Telegram.BotToken != "" {
		bot, err := tgbotapi.NewBotAPI(cfg.Telegram.BotToken)
		if err != nil {
			logger.Fatal().Err(err).Msg("create telegram bot")
		}
		bot.Debug = cfg.Telegram.Debug
		notifier = notify.NewNotifier(bot, db.Repo(), notify.Config{
			UserChats:  cfg.Telegram.UserChats,
			AdminChats: cfg.Telegram.AdminChats,
		}, logger)
		bus.Subscribe(events.Wildcard, notifier.Handler())
		logger.Info().Str("bot", bot.Self.UserName).Msg("telegram notifications enabled")
	}

	var proc payments.Processor
	if cfg.Processor.BaseURL != "" {
		proc = payments.NewHTTPClient(cfg.Processor.BaseURL, cfg.Processor.APIKey, cfg.ProcessorTimeout(),
			cfg.Processor.RatePerSecond, cfg.Processor.Burst)
	} else {
		logger.Warn().Msg("processor.base_url is empty, using the in-memory sandbox processor")
		proc = payments.NewSandbox()
	}

	locks := locker.Locker(locker.NewLocal())
	var cache *availability.Cache
	if rdb != nil {
		locks = locker.Chain{locker.NewLocal(), locker.NewRedis(rdb, cfg.LockTTL(), logger)}
		if cfg.CacheTTL() > 0 {
			cache = availability.NewCache(rdb, cfg.CacheTTL(), logger)
		}
	}
	index := availability.NewIndex(cache)

	spaces := &config.SpacesWatcher{
		Path:     cfg.SpacesConfigPath,
		Interval: 30 * time.Second,
		Logger:   logger.With().Str("component", "spaces").Logger(),
		Apply: func(ctx context.Context, sc *config.SpacesConfig) error {
			ids, err := db.SyncSpacesFromConfig(ctx, sc)
			if err != nil {
				return err
			}
			index.Invalidate(ctx, ids...)
			logger.Info().Int("spaces", len(ids)).Msg("spaces synced")
			return nil
		},
	}
	if err := spaces.Start(ctx); err != nil {
		logger.Warn().Err(err).Str("path", cfg.SpacesConfigPath).Msg("spaces config not loaded")
	}

	led := ledger.New(db, proc, ledger.Options{
		Fees: ledger.FeeSchedule{
			PlatformBps:       cfg.PlatformFeeBps(),
			DefaultTaxBps:     cfg.Fees.DefaultTaxBps,
			TaxByJurisdiction: cfg.Fees.TaxByJurisdiction,
		},
		ProcessorTimeout:  cfg.ProcessorTimeout(),
		MaxPayoutAttempts: cfg.PayoutMaxAttempts(),
		BatchSize:         cfg.PayoutBatchSize(),
	}, bus, logger)

	accessSvc := access.NewService(db.Repo(), logger)
	bookings := booking.NewService(db, locks, led, index, accessSvc, bus, booking.Options{
		MinAdvance:        cfg.BookingMinAdvance(),
		MaxAdvance:        cfg.BookingMaxAdvance(),
		PaymentPendingTTL: cfg.PaymentPendingTTL(),
		ReminderLead:      cfg.ReminderLead(),
		Currency:          cfg.Booking.Currency,
	}, logger)
	changes := timechange.NewService(db, locks, led, bus, logger)

	if cfg.Monitoring.PrometheusEnabled {
		metrics.Register()
	}

	var mirror worker.Mirror
	if cfg.Sheets.Enabled {
		client, err := sheets.NewClient(ctx, cfg.Sheets.CredentialsFile)
		if err != nil {
			logger.Error().Err(err).Msg("google sheets disabled")
		} else {
			mirror = sheets.NewMirror(client, db.Repo(), cfg.Sheets.SpreadsheetID, cfg.Sheets.SheetName, logger)
		}
	}

	w := worker.NewService(worker.Config{
		Interval:    cfg.WorkerInterval(),
		Concurrency: cfg.Booking.CompletionConcurrency,
	}, bookings, led, mirror, logger)
	w.Start(ctx)
	defer w.Stop()

	if cfg.Audit.Enabled {
		loc := time.UTC
		if cfg.Audit.Timezone != "" {
			if l, err := time.LoadLocation(cfg.Audit.Timezone); err == nil {
				loc = l
			} else {
				logger.Warn().Err(err).Msg("invalid audit timezone, using UTC")
			}
		}
		var sink audit.Notifier
		if notifier != nil {
			sink = notifier
		}
		auditSvc := audit.NewService(audit.Config{ExportOnStart: cfg.Audit.ExportOnStart, Location: loc},
			db.Repo(), db, sink, logger)
		auditSvc.Start()
		defer auditSvc.Stop()
	}

	backups := database.NewBackupService(db, database.BackupOptions{
		Enabled:       cfg.Backup.Enabled,
		Interval:      time.Duration(cfg.Backup.IntervalHours) * time.Hour,
		Dir:           cfg.Backup.Path,
		RetentionDays: cfg.Backup.RetentionDays,
	}, &logger)
	go backups.Start(ctx)

	checks := map[string]api.Check{"database": db.PingContext}
	if rdb != nil {
		checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	}

	var idem *api.Idempotency
	if rdb != nil {
		idem = api.NewIdempotency(rdb, 24*time.Hour, logger)
	}
	srv := api.NewServer(api.Config{
		AllowedOrigins:  cfg.Server.AllowedOrigins,
		WebhookSecret:   cfg.Auth.WebhookSecret,
		RateLimitPerSec: cfg.Server.RateLimitPerSec,
		RateLimitBurst:  cfg.Server.RateLimitBurst,
	}, api.Services{
		Bookings:    bookings,
		TimeChanges: changes,
		Ledger:      led,
		Access:      accessSvc,
	}, api.NewAuthenticator(cfg.Auth.JWTSecret), idem, checks, logger)
	if cfg.Auth.JWTSecret == "" {
		logger.Warn().Msg("auth.jwt_secret is empty, trusting X-User-ID headers")
	}

	if cfg.Server.GRPCPort > 0 {
		go startGRPCHealth(ctx, cfg.Server.GRPCPort, checks, &logger)
	}
	if cfg.Monitoring.PrometheusEnabled {
		if cfg.Monitoring.PrometheusPort == 0 {
			cfg.Monitoring.PrometheusPort = 9090
		}
		go startMetricsServer(ctx, cfg.Monitoring.PrometheusPort, &logger)
	}

	httpSrv := &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = httpSrv.Shutdown(shutdownCtx)
	}()

	logger.Info().Str("addr", cfg.Server.Address).Msg("spacehire started")
	if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error().Err(err).Msg("http server error")
	}
	logger.Info().Msg("shutting down")
}

// startGRPCHealth serves the standard gRPC health service for orchestrators,
// refreshed from the same checks as /readyz.
func startGRPCHealth(ctx context.Context, port int, checks map[string]api.Check, logger *zerolog.Logger) {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		logger.Error().Err(err).Int("port", port).Msg("grpc listen failed")
		return
	}
	gs := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(gs, hs)

	refresh := func() {
		status := healthpb.HealthCheckResponse_SERVING
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		for name, check := range checks {
			if err := check(pingCtx); err != nil {
				logger.Warn().Err(err).Str("check", name).Msg("not ready")
				status = healthpb.HealthCheckResponse_NOT_SERVING
			}
		}
		hs.SetServingStatus("", status)
	}
	refresh()

	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				hs.Shutdown()
				gs.GracefulStop()
				return
			case <-ticker.C:
				refresh()
			}
		}
	}()

	if err := gs.Serve(lis); err != nil {
		logger.Error().Err(err).Msg("grpc server error")
	}
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
