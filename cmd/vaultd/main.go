// Command vaultd serves the vault registry over HTTP. State lives in memory
// and is checkpointed to postgres when a database is configured.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/R3E-Network/xvault/internal/checkpoint"
	"github.com/R3E-Network/xvault/internal/config"
	"github.com/R3E-Network/xvault/internal/events"
	"github.com/R3E-Network/xvault/internal/httpapi"
	"github.com/R3E-Network/xvault/internal/ledger"
	"github.com/R3E-Network/xvault/internal/logging"
	"github.com/R3E-Network/xvault/internal/metrics"
	"github.com/R3E-Network/xvault/internal/middleware"
	"github.com/R3E-Network/xvault/internal/storage"
	"github.com/R3E-Network/xvault/internal/storage/migrations"
	"github.com/R3E-Network/xvault/internal/storage/postgres"
	"github.com/R3E-Network/xvault/internal/vault"
)

var version = "dev"

func main() {
	envFile := flag.String("env", ".env", "Path to an optional .env file")
	presetsFile := flag.String("presets", "", "Vault presets YAML (overrides XVAULT_PRESETS_FILE)")
	showVersion := flag.Bool("version", false, "Print the version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		return
	}

	cfg, err := config.Load(*envFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "vaultd: %v\n", err)
		os.Exit(1)
	}
	if *presetsFile != "" {
		cfg.PresetsFile = *presetsFile
	}

	log := logging.New(cfg.Service, cfg.Log.Level, cfg.Log.Format)
	if err := run(cfg, log); err != nil {
		log.WithError(err).Fatal("vaultd stopped")
	}
}

func run(cfg *config.Config, log *logging.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	directory := ledger.NewDirectory()
	bank := ledger.NewBank()
	buffer := events.NewRingBuffer(cfg.EventBuffer)
	collector := metrics.NewCollector(metrics.DefaultNamespace)
	collector.Attach(buffer)

	registry, err := vault.NewRegistry(vault.Options{
		Owner:   cfg.Owner,
		Custody: cfg.Custody,
		Modules: directory,
		Bank:    bank,
		Logger:  log,
		Events:  buffer,
	})
	if err != nil {
		return err
	}

	var (
		checkpoints  storage.CheckpointStore
		archive      storage.EventStore
		checkpointer *checkpoint.Checkpointer
	)
	if cfg.Database.Enabled() {
		db, err := postgres.Open(ctx, cfg.Database.DSN, postgres.PoolConfig{
			MaxOpenConns:    cfg.Database.MaxOpenConns,
			MaxIdleConns:    cfg.Database.MaxIdleConns,
			ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		})
		if err != nil {
			return err
		}
		defer db.Close()
		if err := migrations.Apply(ctx, db.DB); err != nil {
			return err
		}

		store := postgres.New(db)
		checkpoints, archive = store, store

		sink := storage.NewEventSink(store, log, cfg.EventBuffer)
		unsubscribe := buffer.Subscribe(sink.Handle)
		defer func() {
			unsubscribe()
			closeCtx, closeCancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
			defer closeCancel()
			if err := sink.Close(closeCtx); err != nil {
				log.WithError(err).Warn("event archive did not drain")
			}
			if dropped := sink.Dropped(); dropped > 0 {
				log.WithField("dropped", dropped).Warn("events were not archived")
			}
		}()

		checkpointer, err = checkpoint.New(checkpoint.Options{
			Store:     store,
			Registry:  registry,
			Directory: directory,
			Bank:      bank,
			Logger:    log,
			Schedule:  cfg.Snapshot.Schedule,
			Keep:      cfg.Snapshot.Keep,
		})
		if err != nil {
			return err
		}
	}

	restored := false
	if checkpointer != nil {
		if restored, err = checkpointer.Restore(ctx); err != nil {
			return err
		}
	}
	if !restored && cfg.PresetsFile != "" {
		presets, err := config.LoadPresets(cfg.PresetsFile)
		if err != nil {
			return err
		}
		if err := applyPresets(ctx, registry, directory, presets, cfg.Owner, log); err != nil {
			return err
		}
	}
	if checkpointer != nil {
		if _, _, err := checkpointer.Capture(ctx); err != nil {
			return err
		}
		if err := checkpointer.Start(ctx); err != nil {
			return err
		}
	}

	key, err := authKey(cfg.Auth)
	if err != nil {
		return err
	}
	handler := buildHandler(ctx, cfg, log, key, collector, httpapi.New(httpapi.Options{
		Registry:    registry,
		Directory:   directory,
		Bank:        bank,
		Events:      buffer,
		Metrics:     collector,
		Archive:     archive,
		Checkpoints: checkpoints,
		Logger:      log,
		Version:     version,
	}))

	server := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           handler,
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
		IdleTimeout:       120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.WithFields(map[string]interface{}{
			"addr":     cfg.HTTP.Addr,
			"vaults":   registry.Len(),
			"restored": restored,
			"version":  version,
		}).Info("vaultd listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
		close(serverErr)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		log.WithField("signal", sig.String()).Info("shutting down")
	case err := <-serverErr:
		if err != nil {
			return err
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http shutdown")
	}
	if checkpointer != nil {
		if err := checkpointer.Stop(shutdownCtx); err != nil {
			log.WithError(err).Warn("checkpointer stop")
		}
		if _, _, err := checkpointer.Capture(shutdownCtx); err != nil {
			log.WithError(err).Warn("final checkpoint failed")
		}
	}
	log.Info("vaultd stopped")
	return nil
}

// buildHandler wraps the API router as CORS, tracing, auth, rate limiting
// and then per-route metrics.
func buildHandler(ctx context.Context, cfg *config.Config, log *logging.Logger, key interface{}, collector *metrics.Collector, api *httpapi.Server) http.Handler {
	var handler http.Handler = api.Router(middleware.Metrics(collector))

	if cfg.HTTP.RateLimit > 0 {
		limiter := middleware.NewRateLimiter(cfg.HTTP.RateLimit, cfg.HTTP.RateBurst, log)
		limiter.StartCleanup(ctx, time.Minute)
		handler = limiter.Handler(handler)
	}

	auth := middleware.NewAuthMiddleware(key, log, publicPaths)
	if cfg.Auth.Issuer != "" {
		auth.RequireIssuer(cfg.Auth.Issuer)
	}
	handler = auth.Handler(handler)
	handler = middleware.NewTracingMiddleware(log).Handler(handler)

	if origins := cfg.HTTP.Origins(); len(origins) > 0 {
		handler = middleware.NewCORSMiddleware(origins).Handler(handler)
	}
	return handler
}

// publicPaths skip authentication.
var publicPaths = []string{"/health", "/metrics", "/events"}
