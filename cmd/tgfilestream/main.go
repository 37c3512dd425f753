package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"tg-filestream/internal/adapter/mongo"
	"tg-filestream/internal/adapter/telegram"
	"tg-filestream/internal/adapter/web"
	"tg-filestream/internal/config"
	"tg-filestream/internal/domain"
	"tg-filestream/internal/usecase"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log, err := cfg.BuildLogger()
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	log.Info("tg-filestream starting",
		zap.String("version", config.Version),
		zap.Int("identities", 1+len(cfg.AdditionalBotTokens)))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Persistence is optional: without a database the ledger stays
	// process-local and the user count reads as zero.
	var (
		ledgerStore domain.LedgerStore
		userStore   domain.UserStore
	)
	if cfg.DatabaseURL != "" {
		store, err := mongo.Connect(ctx, cfg.DatabaseURL, cfg.DatabaseName, log)
		if err != nil {
			return err
		}
		defer func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = store.Close(closeCtx)
		}()
		ledgerStore = store
		userStore = store
	} else {
		log.Warn("no database configured, bandwidth accounting is process-local")
	}

	gateways, err := startIdentities(ctx, cfg, log)
	if err != nil {
		return err
	}

	ledger := usecase.NewLedger(ledgerStore, cfg.MonthlyBandwidthCeiling, log)
	dispatcher := usecase.NewDispatcher(gateways,
		cfg.MaxConcurrentStreamsPerClient,
		cfg.LocatorCacheMaxEntries,
		cfg.LocatorNegativeCacheTTL)
	registry := usecase.NewRegistry(cfg.StaleStreamMaxAge, cfg.StreamCleanupInterval, log)
	service := usecase.NewService(
		dispatcher,
		usecase.NewFetcher(cfg.ChunkSize, ledger, log),
		registry,
		ledger,
		usecase.NewGates(cfg.LinkExpiry, ledger),
		usecase.NewLinkBuilder(cfg.BaseURL, cfg.VideoFrontendURL, cfg.ShortenThresholdBytes),
		userStore,
		log,
	)

	go registry.Run(ctx)
	ledgerDone := make(chan struct{})
	go func() {
		ledger.Run(ctx, cfg.LedgerFlushInterval)
		close(ledgerDone)
	}()

	server := web.New(cfg, log, service)
	if err := server.Run(ctx); err != nil {
		return err
	}
	// Wait for the ledger's final flush before the store is closed.
	<-ledgerDone

	log.Info("tg-filestream stopped")
	return nil
}

// startIdentities brings up the primary identity and the additional workers.
// The primary must come up; worker failures are logged and tolerated.
func startIdentities(ctx context.Context, cfg *config.Config, log *zap.Logger) ([]domain.MediaGateway, error) {
	opts := telegram.Options{
		AppID:           cfg.AppID,
		AppHash:         cfg.AppHash,
		SessionDir:      cfg.SessionDir,
		LogChannelID:    cfg.LogChannelID,
		ReadsPerSession: cfg.MaxSessionReadsInFlight,
		Logger:          log,
	}

	primary, err := telegram.NewClient("primary", cfg.BotToken, opts)
	if err != nil {
		return nil, err
	}
	if err := primary.Start(ctx); err != nil {
		return nil, err
	}

	workers := make([]domain.MediaGateway, len(cfg.AdditionalBotTokens))
	g, gctx := errgroup.WithContext(ctx)
	for i, token := range cfg.AdditionalBotTokens {
		id := fmt.Sprintf("worker-%d", i)
		g.Go(func() error {
			worker, err := telegram.NewClient(id, token, opts)
			if err != nil {
				log.Error("worker setup failed", zap.String("identity", id), zap.Error(err))
				return nil
			}
			if err := worker.Start(gctx); err != nil {
				log.Error("worker start failed", zap.String("identity", id), zap.Error(err))
				return nil
			}
			workers[i] = worker
			return nil
		})
	}
	_ = g.Wait()

	gateways := []domain.MediaGateway{primary}
	started := 0
	for _, w := range workers {
		if w != nil {
			gateways = append(gateways, w)
			started++
		}
	}
	log.Info("identities started",
		zap.Int("workers", started),
		zap.Int("configured_workers", len(cfg.AdditionalBotTokens)))
	return gateways, nil
}
