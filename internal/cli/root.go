// Package cli implements the tabulon command tree.
package cli

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/tabulon-ai/tabulon/internal/agent"
	"github.com/tabulon-ai/tabulon/internal/config"
)

var (
	cfgFile     string
	datasetPath string
	verbose     bool
)

var rootCmd = &cobra.Command{
	Use:           "tabulon",
	Short:         "Ask questions about tabular data in natural language",
	Long:          "Tabulon turns natural-language questions about a dataset into generated analysis code, checks it for safety, and executes it in a sandbox.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the command tree.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to config file")
	rootCmd.PersistentFlags().StringVarP(&datasetPath, "dataset", "d", "", "Dataset file (.csv or .json)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(replCmd)
	rootCmd.AddCommand(versionCmd)
}

func newLogger(verbose bool) *slog.Logger {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	return slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level: logLevel,
	}))
}

// buildAgent loads configuration, constructs the agent, and loads the
// dataset named on the command line, if any.
func buildAgent() (*agent.Agent, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}

	log := newLogger(verbose)
	slog.SetDefault(log)

	if cfg.Metrics.Enabled {
		go serveMetrics(cfg.Metrics.ListenAddr, log)
	}

	a, err := agent.New(cfg, agent.Options{Logger: log})
	if err != nil {
		return nil, err
	}

	if datasetPath != "" {
		if err := a.LoadDataset(datasetPath); err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to load dataset: %w", err)
		}
	}
	return a, nil
}

func serveMetrics(addr string, log *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Error("metrics listener failed", "addr", addr, "error", err)
	}
}
