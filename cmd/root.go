package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	tl "github.com/tuumbleweed/tintlog/logger"
	"github.com/tuumbleweed/tintlog/palette"

	cfgpkg "github.com/KaramelBytes/admissions-report/internal/config"
)

var (
	// Global flags (wired to config/viper)
	cfgFile string
	debug   bool
	// HTTP/retry flags (override config if set)
	flagHTTPTimeoutSec    int
	flagConnectTimeoutSec int
	flagRetryMax          int
	flagBackoffSec        float64
	flagOutputDir         string

	// Loaded configuration
	cfg *cfgpkg.Global
)

var rootCmd = &cobra.Command{
	Use:   "admreport",
	Short: "Build the admissions report from Tableau views",
	Long: `admreport signs in to Tableau, downloads the configured admissions views,
pivots them into term/program summaries with subtotals and a grand total,
writes a styled Excel workbook and emails it.`,
	SilenceUsage: true,
}

// Execute is the entry point called by main.main()
func Execute() {
	// Initialize configuration before executing commands
	cobra.OnInitialize(loadConfig)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "✗ Error:", err)
		stop()
		os.Exit(1)
	}
}

func init() {
	// Persistent global flags available to all subcommands
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ~/.admreport/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug output (HTTP request tracing)")
	rootCmd.PersistentFlags().IntVar(&flagHTTPTimeoutSec, "http-timeout", 0, "HTTP read timeout in seconds (overrides config)")
	rootCmd.PersistentFlags().IntVar(&flagConnectTimeoutSec, "connect-timeout", 0, "HTTP connect timeout in seconds (overrides config)")
	rootCmd.PersistentFlags().IntVar(&flagRetryMax, "retry-max", 0, "retries on 429/5xx and connection errors (overrides config)")
	rootCmd.PersistentFlags().Float64Var(&flagBackoffSec, "backoff", 0, "retry backoff factor in seconds (overrides config)")
	rootCmd.PersistentFlags().StringVar(&flagOutputDir, "output-dir", "", "directory for the generated workbook (overrides config)")
}

func loadConfig() {
	c, err := cfgpkg.Load(cfgFile)
	if err != nil {
		// Non-fatal: allow running commands that don't need config
		tl.Log(tl.Warning, palette.PurpleBright, "Failed to load config: %s", err)
		return
	}
	cfg = c
	applyFlagOverrides(cfg)
}

func applyFlagOverrides(c *cfgpkg.Global) {
	f := rootCmd.PersistentFlags()
	if f.Changed("http-timeout") && flagHTTPTimeoutSec > 0 {
		c.HTTP.ReadTimeoutSec = flagHTTPTimeoutSec
	}
	if f.Changed("connect-timeout") && flagConnectTimeoutSec > 0 {
		c.HTTP.ConnectTimeoutSec = flagConnectTimeoutSec
	}
	if f.Changed("retry-max") && flagRetryMax >= 0 {
		c.HTTP.RetryTotal = flagRetryMax
	}
	if f.Changed("backoff") && flagBackoffSec > 0 {
		c.HTTP.BackoffFactorSec = flagBackoffSec
	}
	if f.Changed("output-dir") && flagOutputDir != "" {
		c.Output.Dir = flagOutputDir
	}
}

// requireConfig returns the loaded configuration or an error for commands
// that cannot run without it.
func requireConfig() (*cfgpkg.Global, error) {
	if cfg == nil {
		return nil, fmt.Errorf("configuration not loaded (see warnings above)")
	}
	return cfg, nil
}
