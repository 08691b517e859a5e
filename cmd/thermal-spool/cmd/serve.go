package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/orrn/thermal-spool/internal/api"
	"github.com/orrn/thermal-spool/internal/api/handlers"
	"github.com/orrn/thermal-spool/internal/api/middleware"
	"github.com/orrn/thermal-spool/internal/archive"
	"github.com/orrn/thermal-spool/internal/config"
	"github.com/orrn/thermal-spool/internal/core"
	"github.com/orrn/thermal-spool/internal/db"
	"github.com/orrn/thermal-spool/internal/metrics"
	"github.com/orrn/thermal-spool/internal/webhook"
)

const httpShutdownTimeout = 10 * time.Second

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the print queue and its HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			log, err := newLogger(cfg)
			if err != nil {
				return err
			}
			defer log.Sync()

			return serve(cmd.Context(), cfg, log)
		},
	}
}

func serve(parent context.Context, cfg *config.Config, log *zap.Logger) (result error) {
	if parent == nil {
		parent = context.Background()
	}

	if err := db.Init(db.Config{Path: cfg.Database.Path}); err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("failed to close database: %w", err))
		}
	}()
	store := db.NewStore(db.GetDB())

	sender := webhook.NewWebhookSender(webhookTargets(cfg.Webhooks.Targets), webhook.WebhookConfig{
		RetryCount:  cfg.Webhooks.RetryCount,
		RetryDelay:  cfg.Webhooks.RetryDelay,
		Timeout:     cfg.Webhooks.Timeout,
		WorkerCount: cfg.Webhooks.WorkerCount,
		QueueSize:   cfg.Webhooks.QueueSize,
	}, log)
	sink := core.Sinks{metrics.NewSink(), sender}

	connOpts := connectionOptions(cfg)
	checker := core.NewReachabilityChecker(connOpts, nil, log.Named("probe"))
	pool := core.NewPrinterManager(store, checker, sink, core.PrinterManagerOptions{
		HealthCheckInterval: cfg.Printers.HealthCheckInterval,
	}, log.Named("pool"))

	seed, err := parseEndpoints(cfg.Printers.Endpoints)
	if err != nil {
		return err
	}

	queue := core.NewQueue(pool, newEncoder(cfg, log), core.NewConnectionManager(connOpts, log.Named("conn")), core.QueueOptions{
		Pacing:          cfg.Queue.Pacing,
		DefaultPacing:   cfg.Queue.DefaultPacing,
		SettleDelay:     cfg.Queue.SettleDelay,
		ListSettleDelay: cfg.Queue.ListSettleDelay,
		ErrorCooldown:   cfg.Queue.ErrorCooldown,
		ShutdownGrace:   cfg.Queue.ShutdownGrace,
		Recorder:        store,
		Sink:            sink,
	}, log.Named("queue"))
	metrics.SetQueueDepthSource(queue.Len)
	jobs := core.NewJobManager(queue, pool, cfg.Printers.DotWidth, log.Named("jobs"))

	var pruner *archive.Pruner
	if cfg.Database.LogRetentionDays > 0 {
		pruner, err = archive.NewPruner(store.Dispatches, archive.PrunerConfig{RetentionDays: cfg.Database.LogRetentionDays}, log.Named("pruner"))
		if err != nil {
			return err
		}
	}

	auth, err := middleware.NewAuthMiddleware(middleware.AuthConfig{
		APIKeyHash: cfg.Server.APIKeyHash,
		JWTSecret:  cfg.Server.JWTSecret,
		TokenTTL:   cfg.Server.TokenTTL,
	})
	if err != nil {
		return err
	}
	if !auth.Enabled() {
		log.Warn("api key not configured, http api is unauthenticated")
	}

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownCh := make(chan struct{})
	var shutdownOnce sync.Once
	requestShutdown := func() { shutdownOnce.Do(func() { close(shutdownCh) }) }

	router := api.NewRouter(api.RouterConfig{
		Logger:   log.Named("http"),
		Auth:     auth,
		Jobs:     handlers.NewJobHandler(jobs, queue, store.Dispatches, requestShutdown),
		Printers: handlers.NewPrinterHandler(pool),
		Metrics:  metrics.Handler(),
	})
	server := api.NewServer(api.ServerConfig{
		Port:         cfg.Server.Port,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}, router, log.Named("http"))

	sender.Start()
	// stored printers replace seeded entries with the same endpoint
	pool.Seed(seed)
	pool.Start()
	queue.Start()
	if pruner != nil {
		pruner.Start()
	}
	serverErr := server.Start()

	log.Info("thermal-spool started",
		zap.Int("port", cfg.Server.Port),
		zap.Int("printers", len(pool.ListPrinters())))

	var errs error
	select {
	case <-ctx.Done():
		log.Info("signal received, shutting down")
	case <-shutdownCh:
		log.Info("shutdown requested over http")
	case err := <-serverErr:
		if err != nil {
			errs = multierror.Append(errs, err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		errs = multierror.Append(errs, err)
	}
	if err := queue.Shutdown(); err != nil {
		errs = multierror.Append(errs, fmt.Errorf("print queue: %w", err))
	}
	if pruner != nil {
		pruner.Stop()
	}
	pool.Stop()
	sender.Stop()

	log.Info("thermal-spool stopped", zap.Int("unprinted", queue.Len()))
	return errs
}

func webhookTargets(in []config.WebhookTarget) []webhook.Target {
	out := make([]webhook.Target, 0, len(in))
	for _, t := range in {
		out = append(out, webhook.Target{URL: t.URL, Secret: t.Secret, Events: t.Events})
	}
	return out
}

func connectionOptions(cfg *config.Config) core.ConnectionOptions {
	return core.ConnectionOptions{
		ConnectTimeout: cfg.Printers.ConnectionTimeout,
		WriteTimeout:   cfg.Printers.WriteTimeout,
		BufferSize:     cfg.Printers.BufferSize,
	}
}

func newEncoder(cfg *config.Config, log *zap.Logger) *core.ESCPOSGenerator {
	return core.NewESCPOSGenerator(core.EncoderOptions{
		DotWidth:       cfg.Printers.DotWidth,
		MaxImageHeight: cfg.Printers.MaxImageHeight,
		QRMode:         core.QRMode(cfg.Printers.QRMode),
	}, log.Named("escpos"))
}

func parseEndpoints(in []string) ([]core.PrinterEndpoint, error) {
	out := make([]core.PrinterEndpoint, 0, len(in))
	for _, s := range in {
		ep, err := core.ParseEndpoint(s)
		if err != nil {
			return nil, err
		}
		out = append(out, ep)
	}
	return out, nil
}
