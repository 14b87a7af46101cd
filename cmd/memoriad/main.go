// Command memoriad is the CLI front end for the memory engine: store,
// query, stats, and checkpoint against a data directory, one process
// per invocation.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"memoria/internal/config"
	"memoria/internal/engine"
)

var (
	verbose   bool
	dataDir   string
	configPath string
	timeout   time.Duration

	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "memoriad",
	Short: "memoriad - provenance-tracked semantic memory engine",
	Long: `memoriad stores and retrieves semantic memory entries with
tracked provenance: every entry carries an L-Score derived from its
declared parents, queries rank by a blend of vector similarity and
that score, and a causal hypergraph links entries by typed relations.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("init logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&dataDir, "data-dir", "d", "./memoria-data", "data directory")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file (overrides data-dir)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "operation timeout")

	rootCmd.AddCommand(storeCmd, queryCmd, statsCmd, checkpointCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadEngine resolves the configured data directory (or explicit
// config file) and opens an engine.Engine, the one place this binary
// touches the filesystem lock.
func loadEngine() (*engine.Engine, context.Context, context.CancelFunc, error) {
	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.Load(configPath)
	} else {
		cfg = config.DefaultConfig()
		cfg.DataDir = dataDir
	}
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	e, err := engine.Open(ctx, cfg)
	if err != nil {
		cancel()
		return nil, nil, nil, err
	}
	return e, ctx, cancel, nil
}
