// craftbot crawls Infinite Craft: it combines known elements through the
// game's pair API, records every recipe, and keeps the shallowest known
// crafting path for each element.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"craftbot/internal/config"
	"craftbot/internal/logging"
	"craftbot/internal/repository"
)

var (
	// Global flags
	verbose    bool
	configPath string
	dataDir    string
	backend    string

	cfg    *config.Config
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "craftbot",
	Short: "craftbot - an Infinite Craft crawler",
	Long: `craftbot plays Infinite Craft (https://neal.fun/infinite-craft/) on its own:
it combines known elements through the game's pair API, records every recipe
and element it finds, and keeps the shallowest known crafting path for each
element.

Crawl strategies range from uniform random over depth-prioritized sampling to
exhaustive enumeration and embedding-guided crawling toward a target element.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		if dataDir != "" {
			cfg.Data.Dir = dataDir
		}
		if backend != "" {
			cfg.Data.Backend = backend
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		zapCfg := zap.NewProductionConfig()
		if verbose {
			zapCfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
			if !cfg.Logging.Enabled {
				cfg.Logging.Enabled = true
				cfg.Logging.Level = "debug"
			}
		}
		logger, err = zapCfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		if err := logging.Initialize(cfg.Data.Dir, logging.Options{
			Enabled:    cfg.Logging.Enabled,
			Level:      cfg.Logging.Level,
			Categories: cfg.Logging.Categories,
		}); err != nil {
			return fmt.Errorf("failed to initialize file logging: %w", err)
		}
		logging.Boot("craftbot starting: backend=%s dir=%s", cfg.Data.Backend, cfg.Data.Dir)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.CloseAll()
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "craftbot.yaml", "Config file path")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "Data directory (overrides config)")
	rootCmd.PersistentFlags().StringVar(&backend, "backend", "", "Storage backend: csv, json or sqlite (overrides config)")

	rootCmd.AddCommand(crawlCmd)
	rootCmd.AddCommand(queryCmd)
	rootCmd.AddCommand(pathsCmd)
}

// openRepo opens the configured repository backend.
func openRepo(writeAccess bool) (repository.Repository, error) {
	repo, err := repository.Open(cfg.Data.Backend, cfg.Data.Dir, writeAccess)
	if err == repository.ErrWriteLocked {
		return nil, fmt.Errorf("another craftbot is writing to %s; stop it first", cfg.Data.Dir)
	}
	return repo, err
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
