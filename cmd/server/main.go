package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gembalance/internal/config"
	"gembalance/internal/healthcheck"
	"gembalance/internal/keypool"
	"gembalance/internal/logging"
	"gembalance/internal/proxy"
	srv "gembalance/internal/server"
	"gembalance/internal/store"

	log "github.com/sirupsen/logrus"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	debug := flag.Bool("debug", false, "Enable debug mode")
	flag.Parse()

	cfg := config.LoadWithFile(*configPath)
	if cfg == nil {
		log.Fatal("Failed to load configuration")
	}
	if *debug {
		cfg.Security.Debug = true
	}
	if err := logging.Setup(cfg); err != nil {
		log.WithError(err).Fatal("failed to configure logging")
	}

	log.Infof("Starting gembalance (config: %s)", *configPath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	keySource, settingsSource, errorStore := buildStores(ctx, cfg)
	defer func() {
		if errorStore != nil {
			_ = errorStore.Close()
		}
	}()

	overrides := store.EnvOverrides{
		UpstreamBaseURL:  cfg.Upstream.BaseURL,
		HealthCheckModel: cfg.HealthCheck.Model,
		ProxyURL:         cfg.Upstream.ProxyURL,
		MaxFailures:      cfg.Storage.MaxFailures,
	}
	settings := store.SettingsAccessor(settingsSource, overrides)

	provider := keypool.NewProvider(func(ctx context.Context) ([]string, int, error) {
		keys, err := keySource.ListKeys(ctx)
		if err != nil {
			return nil, 0, err
		}
		st, _ := settings(ctx)
		return keys, st.MaxFailures, nil
	})

	// Eager first build so a misconfigured store fails loudly at startup
	// instead of on the first proxied request.
	if pool, err := provider.Get(ctx); err != nil {
		log.WithError(err).Warn("initial pool build failed; will retry on first request")
	} else if pool.Len() == 0 {
		log.Warn("key pool is empty; proxy calls will be rejected until keys are added")
	}

	// Hot reload: file-backed key sources reset the pool when the file
	// changes on disk.
	if fs, ok := keySource.(*store.FileSource); ok {
		fs.Watch(ctx, provider.Reset)
	}

	var faults store.ErrorSink
	if errorStore != nil {
		faults = errorStore
	} else {
		faults = store.LogSink{}
	}

	checkTimeout := time.Duration(cfg.HealthCheck.TimeoutSec) * time.Second
	checker := healthcheck.New(healthcheck.SettingsFunc(settings), checkTimeout)
	engine := proxy.NewEngine(provider, proxy.SettingsFunc(settings), faults)

	stopSweep := startHealthSweep(ctx, cfg, provider, checker)
	defer stopSweep()

	deps := srv.Dependencies{
		Provider: provider,
		Engine:   engine,
		Checker:  checker,
	}
	if errorStore != nil {
		deps.Errors = errorStore
	}
	router := srv.NewRouter(cfg, deps)

	httpSrv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Infof("Proxy listening on :%s", cfg.Server.Port)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorf("http server: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info("Shutdown signal received")
	cancel()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancelShutdown()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("graceful shutdown incomplete")
	}
	log.Info("Server stopped")
}

// buildStores selects the credential and settings backends in order of
// preference: PostgreSQL, key file, inline environment keys.
func buildStores(ctx context.Context, cfg *config.Config) (store.KeySource, store.SettingsSource, *store.Postgres) {
	if cfg.Storage.PostgresDSN != "" {
		pg, err := store.NewPostgres(cfg.Storage.PostgresDSN)
		if err == nil {
			if err := pg.Initialize(ctx); err != nil {
				log.WithError(err).Warn("postgres migrations failed; falling back to non-database sources")
				_ = pg.Close()
			} else {
				log.Info("Using PostgreSQL key and settings store")
				return pg, pg, pg
			}
		} else {
			log.WithError(err).Warn("postgres unavailable; falling back to non-database sources")
		}
	}

	if cfg.Storage.KeysFile != "" {
		log.Infof("Using key file source: %s", cfg.Storage.KeysFile)
		return store.NewFileSource(cfg.Storage.KeysFile), nil, nil
	}

	log.Info("Using inline environment keys")
	return store.NewStaticSource(cfg.Storage.APIKeys), nil, nil
}
