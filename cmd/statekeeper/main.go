package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/yairfalse/statekeeper/internal/api"
	"github.com/yairfalse/statekeeper/internal/integrations/neo4j"
	"github.com/yairfalse/statekeeper/internal/reconciler"
	"github.com/yairfalse/statekeeper/pkg/config"
	natsclient "github.com/yairfalse/statekeeper/pkg/integrations/nats"
)

var version = "dev"

var (
	cfgFile  string
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:   "statekeeper",
	Short: "Check-result reconciliation daemon",
	Long: `Statekeeper drains monitoring check events from a queue, reconciles
each against the last known state of its monitored entity, and persists
current state and history, requeuing anything that fails to persist.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the reconciliation daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		return run()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("statekeeper %s\n", version)
	},
}

func init() {
	cobra.OnInitialize(initViper)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML or JSON)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")

	runCmd.Flags().String("nats-url", "", "NATS server URL")
	runCmd.Flags().String("neo4j-uri", "", "Neo4j URI")
	runCmd.Flags().Int("batch-count", 0, "max events per batch")
	runCmd.Flags().Duration("batch-wait", 0, "max wait per batch")
	runCmd.Flags().String("listen", "", "API listen address")

	viper.BindPFlag("nats.url", runCmd.Flags().Lookup("nats-url"))
	viper.BindPFlag("store.uri", runCmd.Flags().Lookup("neo4j-uri"))
	viper.BindPFlag("pipeline.max_batch_count", runCmd.Flags().Lookup("batch-count"))
	viper.BindPFlag("pipeline.max_wait_time", runCmd.Flags().Lookup("batch-wait"))
	viper.BindPFlag("api.listen_addr", runCmd.Flags().Lookup("listen"))

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(versionCmd)
}

func initViper() {
	viper.SetEnvPrefix("STATEKEEPER")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
}

func loadConfig() (*config.Config, error) {
	var cfg *config.Config
	var err error

	if cfgFile != "" {
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return nil, err
		}
	} else {
		cfg = config.Default()
	}

	// Explicit flag/env overrides win over file and defaults.
	if v := viper.GetString("nats.url"); v != "" {
		cfg.NATS.URL = v
	}
	if v := viper.GetString("store.uri"); v != "" {
		cfg.Store.URI = v
	}
	if v := viper.GetInt("pipeline.max_batch_count"); v > 0 {
		cfg.Pipeline.MaxBatchCount = v
	}
	if v := viper.GetDuration("pipeline.max_wait_time"); v > 0 {
		cfg.Pipeline.MaxWaitTime = v
	}
	if v := viper.GetString("api.listen_addr"); v != "" {
		cfg.API.ListenAddr = v
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func newLogger() (*zap.Logger, error) {
	if logLevel == "debug" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func run() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger, err := newLogger()
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer logger.Sync()

	logger.Info("Starting statekeeper",
		zap.String("version", version),
		zap.String("nats_url", cfg.NATS.URL),
		zap.String("store_uri", cfg.Store.URI))

	queue, err := natsclient.NewClient(logger, cfg.NATS)
	if err != nil {
		return fmt.Errorf("failed to create queue client: %w", err)
	}
	defer queue.Close()

	store, err := neo4j.NewClient(neo4j.FromStoreConfig(cfg.Store), logger)
	if err != nil {
		return fmt.Errorf("failed to create store client: %w", err)
	}
	defer store.Close(context.Background())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := store.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("failed to ensure store schema: %w", err)
	}

	service, err := reconciler.NewService(logger, cfg.Pipeline, queue, store)
	if err != nil {
		return fmt.Errorf("failed to create reconciler service: %w", err)
	}

	errCh := make(chan error, 2)

	go func() {
		errCh <- service.Run(ctx)
	}()

	if cfg.API.Enabled {
		server := api.NewServer(logger, cfg.API.ListenAddr, service, store)
		go func() {
			errCh <- server.Run(ctx)
		}()
	}

	select {
	case <-ctx.Done():
		logger.Info("Received shutdown signal")
	case err := <-errCh:
		if err != nil {
			logger.Error("Component failed", zap.Error(err))
			stop()
			return err
		}
	}

	// Give the in-flight batch a bounded window to finish.
	done := make(chan struct{})
	go func() {
		<-errCh
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(cfg.Pipeline.ShutdownTimeout):
		logger.Warn("Timeout waiting for in-flight cycle to finish")
	}

	logger.Info("Statekeeper stopped")
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
