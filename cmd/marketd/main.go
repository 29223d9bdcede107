package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"marketstore/internal/broker"
	"marketstore/internal/cache"
	"marketstore/internal/cachesync"
	"marketstore/internal/config"
	"marketstore/internal/database"
	"marketstore/internal/economy"
	"marketstore/internal/events"
	"marketstore/internal/handler"
	"marketstore/internal/middleware"
	"marketstore/internal/migration"
	"marketstore/internal/notify"
	"marketstore/internal/repository"
	"marketstore/internal/router"
	"marketstore/internal/service"
	"marketstore/pkg/logger"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func main() {
	cfg := config.MustLoad()

	log := logger.New(cfg.App.Environment, cfg.App.Debug)
	defer log.Sync()

	log.Info("starting marketstore",
		zap.String("version", cfg.App.Version),
		zap.String("environment", cfg.App.Environment))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Store and schema
	store, engine, err := openStore(ctx, cfg, log)
	if err != nil {
		log.Fatal("failed to open store", zap.Error(err))
	}
	log.Info("store ready", zap.String("db_type", string(store.Type())), zap.Stringer("schema", engine.State()))

	retention, err := repository.ParseRetention(cfg.Retention.Cull)
	if err != nil {
		log.Fatal("invalid retention", zap.Error(err))
	}

	caches := cache.NewMarket()
	if err := service.WarmCaches(ctx, store, caches, log); err != nil {
		log.Fatal("failed to warm caches", zap.Error(err))
	}

	inbox := notify.NewInbox()
	ledger := economy.NewLedger(cfg.Market.DefaultCurrency, decimal.Zero)

	bus := events.NewBus(log)
	bus.Subscribe(events.EventTypeListingEnded, func(_ context.Context, e events.Event) error {
		if ended, ok := e.(events.ListingEnded); ok {
			log.Debug("listing ended",
				zap.Stringer("listing", ended.Listing.ID),
				zap.String("reason", string(ended.Reason)))
		}
		return nil
	})

	// Cache sync
	origin := cfg.App.ServerID
	if origin == "" {
		origin = uuid.NewString()
	}
	mode := cachesync.ModeLocal
	var b broker.Broker
	if cfg.Broker.Enabled {
		b, err = broker.New(ctx, broker.ConfigFrom(cfg.Broker, origin), log)
		if err != nil {
			log.Fatal("failed to connect broker", zap.String("type", cfg.Broker.Type), zap.Error(err))
		}
		mode = cachesync.ModeFederated
	}
	propagator, err := cachesync.New(mode, cachesync.Options{
		Caches:  caches,
		Store:   store,
		Players: inbox,
		Broker:  b,
		Origin:  origin,
		Log:     log,
	})
	if err != nil {
		log.Fatal("failed to set up cache sync", zap.Error(err))
	}
	if fed, ok := propagator.(*cachesync.Federated); ok {
		go func() {
			if err := fed.Run(ctx); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, broker.ErrClosed) {
				log.Error("cache sync stopped", zap.Error(err))
			}
		}()
	}
	log.Info("cache sync", zap.String("mode", string(mode)), zap.String("origin", origin))

	// Services
	history := service.NewTransactionLogger(store, log)
	listings := service.NewListingService(service.ListingDeps{
		Store:           store,
		Caches:          caches,
		Propagator:      propagator,
		Currency:        ledger,
		Players:         inbox,
		History:         history,
		Events:          bus,
		Messages:        cfg.Messages,
		DefaultCurrency: cfg.Market.DefaultCurrency,
		Log:             log,
	})

	culler := service.NewCullScheduler(store, listings, service.CullConfig{
		Retention: retention,
		Interval:  cfg.Retention.Interval,
	}, log)
	culler.Start()

	// HTTP
	r := router.New(router.Config{
		Handler:        handler.New(store, engine, cfg.App.Name, cfg.App.Version),
		ListingHandler: handler.NewListingHandler(listings, log),
		PlayerHandler:  handler.NewPlayerHandler(listings, history, inbox, ledger, log),
		AdminHandler:   handler.NewAdminHandler(store, caches, propagator, inbox, culler, log),
		AuthMiddleware: middleware.NewAuthMiddleware(middleware.AuthConfig{APIKeys: cfg.Auth.APIKeys}),
		Log:            log,
	})

	srv := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.Info("server listening", zap.String("addr", cfg.Server.Address()))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown error", zap.Error(err))
	}
	culler.Stop()
	if err := propagator.Close(); err != nil {
		log.Error("failed to close cache sync", zap.Error(err))
	}
	bus.Close()
	if err := store.Close(); err != nil {
		log.Error("failed to close store", zap.Error(err))
	}

	log.Info("server stopped")
}

// openStore connects the configured backend and brings its schema up.
func openStore(ctx context.Context, cfg *config.Config, log *zap.Logger) (repository.DataHandler, *migration.Engine, error) {
	opts, err := database.OptionsFromConfig(cfg.Database, cfg.Pool)
	if err != nil {
		return nil, nil, err
	}

	if opts.Type == database.Mongo {
		uri := opts.URI
		if uri == "" {
			port := opts.Port
			if port == 0 {
				port = 27017
			}
			uri = fmt.Sprintf("mongodb://%s:%d", opts.Host, port)
		}
		h, err := repository.NewMongoHandler(ctx, repository.MongoOptions{
			URI:               uri,
			Database:          cfg.Mongo.Database,
			MaxPoolSize:       opts.MaxPoolSize,
			MinIdle:           opts.MinIdle,
			MaxIdleTime:       opts.MaxLifetime,
			ConnectionTimeout: opts.ConnectionTimeout,
		}, log)
		if err != nil {
			return nil, nil, err
		}
		return h, migration.ReadyEngine(), nil
	}

	pool, err := database.Open(ctx, opts, log)
	if err != nil {
		return nil, nil, err
	}
	h := repository.NewSQLHandler(pool, log)

	engine := migration.NewEngine(h, migration.Options{DefaultCurrency: cfg.Market.DefaultCurrency}, log)
	start := time.Now()
	if err := engine.Run(ctx); err != nil {
		h.Close()
		return nil, nil, err
	}
	log.Info("schema up to date", zap.Duration("took", time.Since(start).Round(time.Millisecond)))
	return h, engine, nil
}

