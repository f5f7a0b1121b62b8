package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/loykin/mcpgate/internal/cache"
	"github.com/loykin/mcpgate/internal/config"
	"github.com/loykin/mcpgate/internal/exturl"
	"github.com/loykin/mcpgate/internal/logger"
	"github.com/loykin/mcpgate/internal/manager"
	"github.com/loykin/mcpgate/internal/metrics"
	"github.com/loykin/mcpgate/internal/ratelimit"
	"github.com/loykin/mcpgate/internal/registry"
	"github.com/loykin/mcpgate/internal/server"
	"github.com/loykin/mcpgate/internal/tlsutil"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

func createServeCommand(globalFlags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve [config.toml]",
		Short: "Start the mcpgate daemon",
		Long: `Start the daemon: boot persisted services, serve the JSON-RPC proxy and
the management API, and supervise child processes until SIGINT/SIGTERM.

Examples:
  mcpgate serve
  mcpgate serve mcpgate.toml
  mcpgate serve --config=mcpgate.toml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath := globalFlags.ConfigPath
			if len(args) > 0 {
				configPath = args[0]
			}
			return runServe(configPath)
		},
	}
}

func runServe(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log := logger.Setup(cfg.Log.Level, cfg.Log.Color)

	store, err := registry.CreateStore(cfg.Store)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	if err := store.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	if err := maybeInitialSetup(ctx, store, log); err != nil {
		return err
	}

	sinks, err := cfg.History.Sinks()
	if err != nil {
		return err
	}
	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		log.Warn("metrics registration", "error", err)
	}

	mgr := manager.New(manager.Config{
		Store:    store,
		Sinks:    sinks,
		LogFiles: cfg.Log.FileLogging(),
		Logger:   log,
	})
	if err := mgr.Boot(ctx); err != nil {
		return fmt.Errorf("boot services: %w", err)
	}

	limiter := ratelimit.New(ratelimit.DefaultWindow)
	defer limiter.Close()
	respCache := cache.New(time.Minute)
	defer respCache.Close()

	router := server.NewRouter(server.Config{
		Manager:     mgr,
		Store:       store,
		Limiter:     limiter,
		Cache:       respCache,
		BasePath:    cfg.Server.BasePath,
		UpgradePath: cfg.Server.UpgradePath,
		Logger:      log,
	})
	handler := router.Handler()

	errCh := make(chan error, 2)
	srv := server.NewServer(cfg.Server.Listen, handler)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http listener: %w", err)
		}
	}()

	var tlsSrv *http.Server
	tlsCfg, err := tlsutil.Setup(cfg.TLS)
	if err != nil {
		return err
	}
	if tlsCfg != nil && cfg.Server.TLSListen != "" {
		tlsSrv = server.NewServer(cfg.Server.TLSListen, handler)
		tlsSrv.TLSConfig = tlsCfg
		go func() {
			if err := tlsSrv.ListenAndServeTLS("", ""); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("https listener: %w", err)
			}
		}()
	}

	printBanner(cfg, tlsSrv != nil)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		log.Info("shutting down", "signal", sig.String())
	case err := <-errCh:
		// The children still need an orderly stop before the error surfaces.
		_ = mgr.StopAll(30 * time.Second)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown", "error", err)
	}
	if tlsSrv != nil {
		if err := tlsSrv.Shutdown(shutdownCtx); err != nil {
			log.Warn("https shutdown", "error", err)
		}
	}
	if err := mgr.StopAll(30 * time.Second); err != nil {
		log.Warn("stop all services", "error", err)
	}
	return nil
}

func printBanner(cfg *config.FileConfig, tlsEnabled bool) {
	fmt.Printf("mcpgate listening on %s (management base %q, upgrade %s)\n",
		cfg.Server.Listen, cfg.Server.BasePath, cfg.Server.UpgradePath)
	if tlsEnabled {
		fmt.Printf("mcpgate TLS listening on %s\n", cfg.Server.TLSListen)
	}
	external := exturl.Chain{
		exturl.Static(cfg.Server.ExternalURL),
		exturl.FromEnv("MCPGATE_EXTERNAL_URL"),
	}
	if u := external.ExternalURL(); u != "" {
		fmt.Printf("external URL: %s\n", u)
	}
}

// maybeInitialSetup issues the first management key when MCPGATE_INITIAL_SETUP
// is set and no keys exist yet. The secret is printed exactly once.
func maybeInitialSetup(ctx context.Context, store registry.Store, log *slog.Logger) error {
	raw := os.Getenv("MCPGATE_INITIAL_SETUP")
	if raw == "" {
		raw = os.Getenv("INITIAL_SETUP")
	}
	enabled, _ := strconv.ParseBool(raw)
	if !enabled {
		return nil
	}
	keys, err := store.ListAPIKeys(ctx)
	if err != nil {
		return fmt.Errorf("list api keys: %w", err)
	}
	if len(keys) > 0 {
		log.Info("initial setup requested but keys already exist, skipping")
		return nil
	}

	secret, err := registry.NewSecret()
	if err != nil {
		return err
	}
	key := &registry.APIKey{
		ID:     uuid.NewString(),
		Name:   "initial-admin",
		Hash:   registry.HashKey(secret),
		Active: true,
	}
	if err := store.CreateAPIKey(ctx, key); err != nil {
		return fmt.Errorf("create initial api key: %w", err)
	}
	fmt.Printf("initial management API key (shown once): %s\n", secret)
	return nil
}
