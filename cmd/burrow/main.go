package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/burrowctf/burrow/pkg/api"
	"github.com/burrowctf/burrow/pkg/catalog"
	"github.com/burrowctf/burrow/pkg/config"
	"github.com/burrowctf/burrow/pkg/events"
	"github.com/burrowctf/burrow/pkg/instance"
	"github.com/burrowctf/burrow/pkg/log"
	"github.com/burrowctf/burrow/pkg/metrics"
	"github.com/burrowctf/burrow/pkg/reconciler"
	"github.com/burrowctf/burrow/pkg/runtime"
	"github.com/burrowctf/burrow/pkg/scheduler"
	"github.com/burrowctf/burrow/pkg/storage"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

var configPath string

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "burrow",
	Short: "Burrow - Challenge instance broker",
	Long: `Burrow hands out ephemeral Docker containers for CTF challenges.

It packs users onto shared instances up to a per-challenge seat limit,
keeps warm spares for popular challenges, and reclaims idle containers
in the background. State lives in Redis or BoltDB, so the broker
survives restarts without losing track of its fleet.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Burrow version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("Burrow version %s\nCommit: %s\nBuilt: %s\n", Version, Commit, BuildTime)
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the broker",
	Long: `Run the challenge instance broker.

The broker loads every challenge under the challenge directory, builds
missing images, seeds warm instances for prestartable challenges, and
then serves the HTTP API until SIGINT or SIGTERM.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.APIKey == "" {
		return fmt.Errorf("API_KEY is required")
	}

	log.Init(log.Config{
		Level:      log.Level(cfg.LogLevel),
		JSONOutput: cfg.LogJSON,
		Output:     os.Stderr,
	})

	fmt.Println("Starting Burrow broker...")
	fmt.Printf("  Listen Address: %s\n", cfg.ListenAddr)
	fmt.Printf("  Challenge Directory: %s\n", cfg.ChallengeDir)
	fmt.Printf("  Store Backend: %s\n", cfg.StoreBackend)
	fmt.Println()

	ctx := context.Background()

	store, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("failed to open store: %v", err)
	}
	defer store.Close()
	if err := store.Ping(ctx); err != nil {
		return fmt.Errorf("failed to reach store: %v", err)
	}
	fmt.Println("✓ State store connected")

	rt, err := runtime.NewDockerRuntime()
	if err != nil {
		return fmt.Errorf("failed to create docker client: %v", err)
	}
	defer rt.Close()
	if err := rt.Ping(ctx); err != nil {
		return fmt.Errorf("failed to reach docker daemon: %v", err)
	}
	fmt.Println("✓ Container runtime connected")

	broker := events.NewBroker()
	broker.Start()
	audit := events.NewAuditLogger(broker)
	audit.Start()

	cat := catalog.New(cfg.ChallengeDir, rt)
	if err := cat.LoadAll(ctx); err != nil {
		return fmt.Errorf("failed to load challenges: %v", err)
	}
	fmt.Printf("✓ Catalog loaded: %d challenges\n", cat.Len())

	repo := instance.NewRepository(store)
	sched := scheduler.New(repo, cat, rt, broker)
	sched.SeedWarmInstances(ctx)
	fmt.Println("✓ Warm instances seeded")

	recon := reconciler.New(sched, cfg.CleanupInterval, cfg.PrestartInterval)
	recon.Start()
	fmt.Println("✓ Reconciler started")

	collector := metrics.NewCollector(repo, cat)
	collector.Start(metrics.DefaultCollectInterval)

	srv := api.New(api.Options{
		Scheduler: sched,
		Catalog:   cat,
		Store:     store,
		Runtime:   rt,
		Broker:    broker,
		APIKey:    cfg.APIKey,
		Version:   Version,
	})
	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(cfg.ListenAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("API server error: %v", err)
		}
	}()

	fmt.Println()
	fmt.Println("Broker is running. Press Ctrl+C to stop.")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		fmt.Println("\nShutting down...")
	case err := <-errCh:
		fmt.Fprintf(os.Stderr, "\nError: %v\n", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		fmt.Fprintf(os.Stderr, "API server shutdown: %v\n", err)
	}
	recon.Stop()
	collector.Stop()
	audit.Stop()
	broker.Stop()

	fmt.Println("✓ Shutdown complete")
	return nil
}

// openStore builds the configured persistence backend.
func openStore(cfg *config.Config) (storage.Store, error) {
	switch cfg.StoreBackend {
	case config.BackendRedis:
		return storage.NewRedisStore(storage.RedisConfig{
			Host:     cfg.Redis.Host,
			Port:     cfg.Redis.Port,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}), nil
	case config.BackendBolt:
		return storage.NewBoltStore(cfg.BoltPath)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}
