package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"imagebot/internal/adapter/repo"
	"imagebot/internal/admission"
	"imagebot/internal/http/handlers"
	httpapi "imagebot/internal/http/httpapi"
	"imagebot/internal/infra"
	"imagebot/internal/infra/credentials"
	"imagebot/internal/metrics"
	"imagebot/internal/orchestrator"
	"imagebot/internal/providers/bfl"
)

const admissionPruneInterval = 5 * time.Minute

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbpool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect database")
	}
	defer dbpool.Close()

	runner := infra.NewSQLRunner(dbpool, logger)
	tasks := repo.NewTaskRepository(runner)
	users := repo.NewUserRepository(runner)
	images := repo.NewImageRepository(runner)

	apiKey, keySource, err := credentials.Resolve(ctx, credentials.ProviderBFL, cfg.BFLAPIKey, credentials.NewStore(runner))
	if err != nil {
		logger.Warn().Err(err).Msg("failed to load bfl api key from store")
	}
	logger.Info().Str("source", string(keySource)).Msg("bfl api key resolved")
	client, err := bfl.NewClient(bfl.Options{
		APIKey:     apiKey,
		BaseURL:    cfg.BFLBaseURL,
		Model:      cfg.BFLModel,
		HTTPClient: &http.Client{Timeout: 60 * time.Second},
		Logger:     &logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure bfl client")
	}
	if !client.HasCredentials() {
		logger.Warn().Msg("bfl api key missing, every submission will fail")
	}

	m := metrics.New(true)
	gate := admission.New(admission.Config{
		MaxRequests:   cfg.MaxRequestsPerWindow,
		Window:        cfg.RateWindow,
		MaxActiveJobs: cfg.MaxConcurrentJobsPerUser,
	}, admission.WithMetrics(m), admission.WithLogger(logger))

	tracking, err := orchestrator.ParseTracking(cfg.HandleTracking)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid handle tracking mode")
	}
	orch, err := orchestrator.New(orchestrator.Options{
		Client:       client,
		Tasks:        tasks,
		Usage:        users,
		Images:       images,
		Slots:        gate,
		Logger:       logger,
		Metrics:      m,
		PollInterval: cfg.PollInterval,
		PollTimeout:  cfg.PollTimeout,
		FetchRetries: cfg.PollFetchRetries,
		Tracking:     tracking,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure orchestrator")
	}

	app := &handlers.App{
		Config:    cfg,
		Logger:    logger,
		Admission: gate,
		Jobs:      orch,
		Tasks:     tasks,
		Users:     users,
		Images:    images,
		Metrics:   m,
		Ping:      dbpool.Ping,
	}
	server := infra.NewHTTPServer(cfg, httpapi.NewRouter(app))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().Str("addr", server.Addr()).Str("model", client.Model()).Msg("API listening")
		// drained requests must not see the signal cancellation
		return server.Start(context.WithoutCancel(ctx))
	})
	g.Go(func() error {
		ticker := time.NewTicker(admissionPruneInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				if n := gate.Prune(); n > 0 {
					logger.Debug().Int("users", n).Msg("admission: pruned idle users")
				}
			}
		}
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("failed to shutdown server")
		}
		if err := orch.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Int("in_flight", orch.InFlight()).Msg("jobs still running at shutdown")
		}
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("http server failed")
		os.Exit(1)
	}
	logger.Info().Msg("server stopped")
}
