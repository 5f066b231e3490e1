package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/dropDatabas3/hellojohn-keys/internal/bootstrap"
	"github.com/dropDatabas3/hellojohn-keys/internal/config"
	httpx "github.com/dropDatabas3/hellojohn-keys/internal/http"
	"github.com/dropDatabas3/hellojohn-keys/internal/metrics"
	"github.com/dropDatabas3/hellojohn-keys/internal/observability/logger"
)

var version = "dev"

func main() {
	var (
		flagConfigPath = flag.String("config", "", "ruta a config.yaml (default configs/config.yaml si existe)")
		flagEnvFile    = flag.String("env-file", ".env", "ruta a .env")
	)
	flag.Parse()

	if *flagEnvFile != "" {
		_ = godotenv.Load(*flagEnvFile)
	}

	cfg, err := loadConfig(*flagConfigPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(logger.Config{
		Env:         cfg.App.Env,
		Level:       cfg.Log.Level,
		ServiceName: "hellojohn-keys",
		Version:     version,
	})
	defer func() { _ = logger.Sync() }()
	log := logger.L()

	if err := run(cfg, log); err != nil {
		log.Error("service stopped", logger.Err(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := metrics.RegisterKeys(nil); err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}
	metricsHandler, err := httpx.RegisterMetrics(nil)
	if err != nil {
		return fmt.Errorf("register http metrics: %w", err)
	}

	keys, err := bootstrap.OpenKeys(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer keys.Close()

	// primera lectura antes de aceptar tráfico: crea claves si el store está vacío
	warm, cancel := context.WithTimeout(ctx, keys.Options.CreationLockTimeout+keys.Options.InitializationSynchronizationDelay+30*time.Second)
	current, err := keys.Manager.CurrentSigningKeys(warm)
	cancel()
	if err != nil {
		return fmt.Errorf("initial signing keys: %w", err)
	}
	for _, k := range current {
		log.Info("current signing key", logger.KeyID(k.ID()), logger.Alg(k.Algorithm()), logger.Created(k.Created()))
	}

	algs := make([]string, 0, len(keys.Options.Algorithms))
	for _, a := range keys.Options.Algorithms {
		algs = append(algs, a.Name)
	}
	wk := httpx.NewWellKnownHandler(keys.Manager, cfg.JWT.Issuer, algs, jwksMaxAge(keys.Options.KeyCacheDuration))

	// SIGHUP descarta los caches de claves y JWKS, p. ej. después de `keys prune`
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-hup:
				keys.Manager.InvalidateCache()
				wk.InvalidateJWKS()
				log.Info("signing key caches invalidated")
			}
		}
	}()

	router := httpx.NewRouter(httpx.RouterDeps{
		WellKnown: wk,
		Metrics:   metricsHandler,
		Ready:     keys.Ready,
		Logger:    log.Named("http"),
	})

	log.Info("listening", zap.String("addr", cfg.Server.Addr))
	return httpx.Serve(ctx, cfg.Server.Addr, router, 10*time.Second)
}

// jwksMaxAge acota el Cache-Control del JWKS: una clave nueva tiene que
// llegar a los clientes bastante antes de empezar a firmar.
func jwksMaxAge(keyCache time.Duration) time.Duration {
	const max = time.Hour
	if keyCache <= 0 || keyCache > max {
		return max
	}
	return keyCache
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" && fileExists("configs/config.yaml") {
		path = "configs/config.yaml"
	}
	if path == "" {
		return config.FromEnv()
	}
	return config.Load(path)
}

func fileExists(p string) bool {
	st, err := os.Stat(p)
	return err == nil && !st.IsDir()
}
