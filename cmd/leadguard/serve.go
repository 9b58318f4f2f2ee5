package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/hfi/leadguard/internal/audit"
	"github.com/hfi/leadguard/internal/config"
	"github.com/hfi/leadguard/internal/guard"
	"github.com/hfi/leadguard/internal/lead"
	"github.com/hfi/leadguard/internal/server"
	"github.com/hfi/leadguard/internal/storage"
	"github.com/hfi/leadguard/internal/token"
)

// newLogger builds the operational logger from the logging config
func newLogger(cfg config.LoggingConfig, out io.Writer) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	if cfg.Format == "text" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	return zerolog.New(out).Level(level).With().Timestamp().Str("service", "leadguard").Logger()
}

// newAuditor opens the audit logger. A disabled logger is still returned so
// a reload can switch it on.
func newAuditor(cfg config.AuditConfig) (*audit.Logger, error) {
	return audit.NewLogger(&audit.Config{
		Enabled:         cfg.Enabled,
		Level:           cfg.Level,
		Output:          cfg.Output,
		Format:          cfg.Format,
		IncludeClientIP: cfg.IncludeClientIP,
	})
}

// applyAuditConfig updates a running audit logger from reloaded settings
func applyAuditConfig(a *audit.Logger, cfg config.AuditConfig) {
	if cfg.Enabled {
		a.Enable()
	} else {
		a.Disable()
	}
	a.SetLevel(cfg.Level)
}

// reloadOnHangup re-reads the configuration on every signal from hup and
// applies the audit settings. Everything else needs a restart.
func reloadOnHangup(ctx context.Context, hup <-chan os.Signal, reload func() (*config.Config, error), auditor *audit.Logger, logger zerolog.Logger) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-hup:
			cfg, err := reload()
			if err != nil {
				logger.Warn().Err(err).Msg("config reload failed, keeping current settings")
				continue
			}
			applyAuditConfig(auditor, cfg.Logging.Audit)
			logger.Info().
				Bool("audit_enabled", cfg.Logging.Audit.Enabled).
				Str("audit_level", cfg.Logging.Audit.Level).
				Msg("configuration reloaded")
		}
	}
}

// serve runs the lead API, the management server and the sweeper until ctx
// is cancelled. When reload is set, SIGHUP re-reads the audit settings.
func serve(parent context.Context, cfg *config.Config, reload func() (*config.Config, error)) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := newLogger(cfg.Logging, os.Stderr)
	gin.SetMode(gin.ReleaseMode)

	auditor, err := newAuditor(cfg.Logging.Audit)
	if err != nil {
		return fmt.Errorf("failed to open audit log: %w", err)
	}
	defer auditor.Close()

	store, err := storage.Open(ctx, &cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to open key store: %w", err)
	}
	defer store.Close()

	if cfg.Storage.Type == "memory" {
		logger.Warn().Msg("memory key store protects this instance only; use redis or postgres when running more than one")
	}

	verifier, err := token.NewVerifier([]byte(cfg.Token.Secret), token.WithLeeway(cfg.Token.Leeway))
	if err != nil {
		return err
	}

	g := guard.New(store,
		guard.WithDefaultTTL(cfg.Guard.DefaultTTL),
		guard.WithTTLs(cfg.Guard.TTLs),
		guard.WithAuditor(auditor),
		guard.WithLogger(logger),
	)

	api := &http.Server{
		Addr: cfg.Server.Listen,
		Handler: lead.NewRouter(lead.RouterConfig{
			Verifier:       verifier,
			Guard:          g,
			Sink:           lead.NewLogSink(logger),
			Auditor:        auditor,
			Logger:         logger,
			AllowedOrigins: cfg.Server.AllowedOrigins,
			FailOpen:       cfg.Guard.FailOpen,
		}),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	sweeper := storage.NewSweeper(store, cfg.Guard.PurgeInterval,
		storage.WithSweepLogger(logger),
		storage.WithPurgeHook(auditor.LogKeysPurged),
	)

	grp, gctx := errgroup.WithContext(ctx)

	grp.Go(func() error {
		logger.Info().Str("addr", api.Addr).Str("storage", cfg.Storage.Type).Str("version", Version).Msg("lead API listening")
		if err := api.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("lead API: %w", err)
		}
		return nil
	})

	var mgmt *server.Server
	if cfg.Management.Enabled {
		mgmt = server.New(&server.Config{
			Addr:        cfg.Management.Addr,
			MetricsPath: cfg.Management.MetricsPath,
			HealthPath:  cfg.Management.HealthPath,
			ReadyPath:   cfg.Management.ReadyPath,
			LivePath:    cfg.Management.LivePath,
			Version:     Version,
		})
		mgmt.RegisterHealthCheck("keystore", g.Ping)

		grp.Go(func() error {
			logger.Info().Str("addr", mgmt.Addr()).Msg("management server listening")
			return mgmt.Start()
		})
	}

	grp.Go(func() error {
		return sweeper.Run(gctx)
	})

	if reload != nil {
		hup := make(chan os.Signal, 1)
		signal.Notify(hup, syscall.SIGHUP)
		defer signal.Stop(hup)

		grp.Go(func() error {
			return reloadOnHangup(gctx, hup, reload, auditor, logger)
		})
	}

	grp.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		var errs []error
		if err := api.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("lead API shutdown: %w", err))
		}
		if mgmt != nil {
			if err := mgmt.Stop(shutdownCtx); err != nil {
				errs = append(errs, fmt.Errorf("management shutdown: %w", err))
			}
		}
		return errors.Join(errs...)
	})

	return grp.Wait()
}
