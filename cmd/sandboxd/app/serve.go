package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/sandkit/sandboxd/internal/api"
	"github.com/sandkit/sandboxd/internal/config"
	"github.com/sandkit/sandboxd/internal/lifecycle"
	"github.com/sandkit/sandboxd/internal/project"
	"github.com/sandkit/sandboxd/internal/runtime"
	"github.com/sandkit/sandboxd/internal/status"
	"github.com/sandkit/sandboxd/internal/telemetry"
	"github.com/sandkit/sandboxd/internal/versions"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the sandbox lifecycle server",
	Long: `Start the sandbox lifecycle server.

The server requires a configuration file (--config) that specifies:
- Listen addresses for the API and the metrics endpoint
- Container resource limits and the image build context
- Status store backend (memory or redis)
- Project record source (file or memory)

See examples/ directory for sample configurations.`,
	RunE: runServe,
}

const (
	defaultGracefulTimeout = 30 * time.Second
	serverRequestTimeout   = 10 * time.Second
	serverReadTimeout      = 10 * time.Second
	// Must be > serverRequestTimeout to let middleware handle the timeout
	serverWriteTimeout = 15 * time.Second
	serverIdleTimeout  = 60 * time.Second

	// probeMaxElapsed bounds the startup connectivity probes against the
	// container engine and the status store
	probeMaxElapsed = 30 * time.Second
)

func init() {
	serveCmd.Flags().String("address", "", "Address to listen on (overrides config)")
	serveCmd.Flags().String("config", "", "Path to configuration file (YAML format, required)")

	err := viper.BindPFlag("address", serveCmd.Flags().Lookup("address"))
	if err != nil {
		slog.Error("Failed to bind address flag", "error", err)
	}
	err = viper.BindPFlag("config", serveCmd.Flags().Lookup("config"))
	if err != nil {
		slog.Error("Failed to bind config flag", "error", err)
	}

	if err := serveCmd.MarkFlagRequired("config"); err != nil {
		slog.Error("Failed to mark config flag as required", "error", err)
	}
}

// probe retries op with exponential backoff until it succeeds or the elapsed
// budget runs out. Used for startup dependencies that may come up after us.
func probe(ctx context.Context, name string, op func(context.Context) error) error {
	operation := func() (struct{}, error) {
		if err := op(ctx); err != nil {
			slog.Warn("Dependency not ready, retrying", "dependency", name, "error", err)
			return struct{}{}, err
		}
		return struct{}{}, nil
	}

	_, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxElapsedTime(probeMaxElapsed),
	)
	if err != nil {
		return fmt.Errorf("%s unreachable: %w", name, err)
	}
	return nil
}

// buildStatusStore creates the configured status store backend, probing its
// connectivity for the redis case
func buildStatusStore(ctx context.Context, cfg *config.Config) (status.Store, error) {
	switch cfg.StatusStore.Type {
	case config.StoreTypeRedis:
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.StatusStore.Redis.Addr,
			Password: cfg.StatusStore.Redis.Password,
			DB:       cfg.StatusStore.Redis.DB,
		})
		if err := probe(ctx, "redis", func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}); err != nil {
			return nil, err
		}
		slog.Info("Using redis status store", "addr", cfg.StatusStore.Redis.Addr)
		return status.NewRedisStore(rdb, cfg.StatusStore.Redis.KeyPrefix), nil
	case config.StoreTypeMemory:
		slog.Info("Using in-memory status store")
		return status.NewInMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unsupported status store type: %s", cfg.StatusStore.Type)
	}
}

func runServe(_ *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	configPath := viper.GetString("config")
	cfg, err := config.LoadConfig(config.WithConfigPath(configPath))
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	address := cfg.Address
	if flagAddress := viper.GetString("address"); flagAddress != "" {
		address = flagAddress
	}

	opTimeout, err := cfg.GetOperationTimeout()
	if err != nil {
		return err
	}

	slog.Info("Loaded configuration",
		"path", configPath,
		"address", address,
		"statusStore", cfg.StatusStore.Type,
		"projects", cfg.Projects.Type)

	// Container engine client with a startup connectivity probe
	rt, err := runtime.NewDockerClient()
	if err != nil {
		return fmt.Errorf("failed to create container runtime client: %w", err)
	}
	if err := probe(ctx, "container engine", rt.Ping); err != nil {
		return err
	}

	store, err := buildStatusStore(ctx, cfg)
	if err != nil {
		return err
	}

	providerFactory := project.NewProviderFactory()
	projects, err := providerFactory.CreateProvider(cfg)
	if err != nil {
		return fmt.Errorf("failed to create project provider: %w", err)
	}

	// Metrics are optional; a nil provider yields nil-safe no-op metrics
	var metrics *telemetry.LifecycleMetrics
	if cfg.MetricsAddress != "" {
		meterProvider, err := telemetry.NewPrometheusMeterProvider("sandboxd", versions.GetVersionInfo().Version)
		if err != nil {
			return fmt.Errorf("failed to create meter provider: %w", err)
		}
		metrics, err = telemetry.NewLifecycleMetrics(meterProvider)
		if err != nil {
			return fmt.Errorf("failed to create lifecycle metrics: %w", err)
		}
	}

	orch := lifecycle.New(rt, store,
		lifecycle.WithLimits(runtime.Limits{
			CPUCount:     cfg.Limits.CPUCount,
			MemLimit:     cfg.Limits.MemLimit,
			MemswapLimit: cfg.Limits.MemswapLimit,
			PidsLimit:    cfg.Limits.PidsLimit,
		}),
		lifecycle.WithBuildContextDir(cfg.BuildContextDir),
		lifecycle.WithOperationTimeout(opTimeout),
		lifecycle.WithMetrics(metrics),
	)

	router := api.NewServer(projects, orch, rt, store,
		api.WithMiddlewares(
			middleware.RequestID,
			middleware.RealIP,
			middleware.Recoverer,
			middleware.Timeout(serverRequestTimeout),
			api.LoggingMiddleware,
		),
	)

	server := &http.Server{
		Addr:         address,
		Handler:      router,
		ReadTimeout:  serverReadTimeout,
		WriteTimeout: serverWriteTimeout,
		IdleTimeout:  serverIdleTimeout,
	}

	var metricsServer *http.Server
	if cfg.MetricsAddress != "" {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{
			Addr:        cfg.MetricsAddress,
			Handler:     metricsMux,
			ReadTimeout: serverReadTimeout,
		}
	}

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		slog.Info("Server listening", "address", address)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("api server failed: %w", err)
		}
		return nil
	})

	if metricsServer != nil {
		group.Go(func() error {
			slog.Info("Metrics listening", "address", cfg.MetricsAddress)
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server failed: %w", err)
			}
			return nil
		})
	}

	group.Go(func() error {
		<-groupCtx.Done()
		slog.Info("Shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultGracefulTimeout)
		defer cancel()

		// Let in-flight start tasks land their final states before the
		// process exits; the shared store keeps them visible to peers.
		if err := orch.Drain(shutdownCtx); err != nil {
			slog.Error("Failed to drain lifecycle tasks", "error", err)
		}

		if metricsServer != nil {
			if err := metricsServer.Shutdown(shutdownCtx); err != nil {
				slog.Error("Metrics server forced to shutdown", "error", err)
			}
		}
		return server.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil {
		return err
	}

	slog.Info("Server shutdown complete")
	return nil
}
