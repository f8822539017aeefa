package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/p-blackswan/idlewatch/internal/activity"
	"github.com/p-blackswan/idlewatch/internal/api"
	"github.com/p-blackswan/idlewatch/internal/audit"
	"github.com/p-blackswan/idlewatch/internal/bot"
	"github.com/p-blackswan/idlewatch/internal/config"
	"github.com/p-blackswan/idlewatch/internal/health"
	"github.com/p-blackswan/idlewatch/internal/metrics"
	"github.com/p-blackswan/idlewatch/internal/transport"
)

const defaultConfigPath = "config/bot_config.yaml"

func main() {
	// Bootstrap logger; rebuilt below once config is resolved.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	configPath := os.Getenv("BOT_CONFIG")
	if configPath == "" {
		configPath = defaultConfigPath
	}

	cfg, err := config.Resolve(configPath, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}

	logger = buildLogger(cfg)
	log.Logger = logger

	logger.Info().
		Str("phone", cfg.PhoneNumber()).
		Str("service", cfg.SignalService()).
		Int("admins", cfg.AdminCount()).
		Int("protected", cfg.ProtectedCount()).
		Int("threshold_days", cfg.ThresholdDays()).
		Bool("dry_run", cfg.DryRun()).
		Msg("starting idle user bot")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	m := metrics.New()

	store := activity.NewStore(cfg.ActivityFile(), m, logger)
	if err := store.Load(); err != nil {
		// Degrade to in-memory tracking rather than refusing to start.
		logger.Error().Err(err).Msg("could not read activity file - continuing in-memory")
	}

	var auditLog *audit.Log
	if al, err := audit.Open(cfg.AuditDB(), logger); err != nil {
		logger.Warn().Err(err).Msg("audit log unavailable (non-fatal)")
	} else {
		auditLog = al
		defer auditLog.Close()
	}

	checker := health.NewChecker(logger)
	checker.Register("activity_file", func(ctx context.Context) health.Status {
		if err := os.MkdirAll(filepath.Dir(cfg.ActivityFile()), 0o755); err != nil {
			return health.StatusDown
		}
		return health.StatusOK
	})
	if auditLog != nil {
		checker.Register("audit_db", func(ctx context.Context) health.Status {
			if err := auditLog.Ping(ctx); err != nil {
				return health.StatusDown
			}
			return health.StatusOK
		})
	}

	var wg sync.WaitGroup

	// Pick the transport: live Signal when the REST service has a
	// registered account, mock otherwise. The engine behaves identically
	// in both modes; only delivery differs.
	var tr transport.Transport
	var msgs <-chan transport.Message

	sig := transport.NewSignal(transport.SignalConfig{
		Service:     cfg.SignalService(),
		PhoneNumber: cfg.PhoneNumber(),
	}, logger)
	checker.Register("signal_service", func(ctx context.Context) health.Status {
		if _, err := sig.Registered(ctx); err != nil {
			return health.StatusDown
		}
		return health.StatusOK
	})

	probeCtx, probeCancel := context.WithTimeout(ctx, 5*time.Second)
	registered, probeErr := sig.Registered(probeCtx)
	probeCancel()

	if probeErr == nil && registered && cfg.PhoneNumber() != "" {
		logger.Info().Msg("Signal account registered - running in live mode")
		tr = sig
		msgs = sig.Messages()
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := sig.Run(ctx); err != nil && ctx.Err() == nil {
				logger.Error().Err(err).Msg("signal receive loop stopped")
			}
		}()
	} else {
		if probeErr != nil {
			logger.Warn().Err(probeErr).Msg("cannot reach Signal service")
		}
		logger.Info().Msg("running in mock mode - tracking engine live, no Signal delivery")
		mock := transport.NewMock()
		tr = mock
		msgs = mock.Messages()
	}

	dispatcher := bot.NewDispatcher(cfg, store, tr, auditLog, m, logger)

	// Strictly sequential dispatch: message N completes, including its
	// persistence write, before message N+1 starts.
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case msg := <-msgs:
				dispatcher.Dispatch(ctx, msg)
			}
		}
	}()

	apiServer := api.NewServer(cfg.HTTPAddr(), cfg, store, auditLog, checker, m, logger)
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := apiServer.Start(); err != nil {
			logger.Error().Err(err).Msg("ops API server error")
		}
	}()

	s := <-sigCh
	logger.Info().Str("signal", s.String()).Msg("shutting down gracefully")
	cancel()

	if err := apiServer.Shutdown(); err != nil {
		logger.Error().Err(err).Msg("ops API shutdown error")
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info().Msg("all goroutines stopped")
	case <-time.After(10 * time.Second):
		logger.Warn().Msg("forced shutdown after timeout")
	}

	logger.Info().Msg("idle user bot stopped")
}

func buildLogger(cfg *config.Config) zerolog.Logger {
	var out zerolog.LevelWriter = zerolog.MultiLevelWriter(os.Stdout)
	if cfg.LogFile() != "" {
		out = zerolog.MultiLevelWriter(os.Stdout, &lumberjack.Logger{
			Filename:   cfg.LogFile(),
			MaxSize:    50, // megabytes
			MaxBackups: 3,
			MaxAge:     28, // days
		})
	}

	logger := zerolog.New(out).With().Timestamp().Logger()
	if os.Getenv("ENVIRONMENT") == "development" {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	if level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel())); err == nil && cfg.LogLevel() != "" {
		zerolog.SetGlobalLevel(level)
	}
	return logger
}
