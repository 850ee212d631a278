package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/fulmenhq/gofulmen/telemetry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/solanago/solanago/internal/config"
	"github.com/solanago/solanago/internal/observability"
)

var (
	cfgFile string
	verbose bool

	// Version info set by main package
	versionInfo struct {
		Version   string
		Commit    string
		BuildDate string
	}
)

// SetVersionInfo is called by main package to set version information
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
}

var rootCmd = &cobra.Command{
	Use:   config.AppName,
	Short: "Dispatch model predictions across a pool of Solana RPC endpoints",
	Long: `solanago initializes an on-chain Go evaluation model and dispatches
predictions across a pool of rate-limited RPC endpoints.

Use the subcommands to perform specific operations.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Disable global telemetry early to prevent config loading from emitting
	// metrics to stdout. Server mode will initialize proper telemetry later.
	disabledConfig := &telemetry.Config{Enabled: false}
	if sys, err := telemetry.NewSystem(disabledConfig); err == nil {
		telemetry.SetGlobalSystem(sys)
	}

	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default is $XDG_CONFIG_HOME/"+config.AppName+"/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output (sets log level to debug)")
}

// initConfig selects the config file and brings up the CLI logger. The
// configuration itself is loaded per command so that flag overrides apply.
func initConfig() {
	observability.InitCLILogger(config.AppName, verbose)
	config.SetConfigFile(cfgFile)
	if cfgFile != "" {
		observability.CLILogger.Debug("Using config file", zap.String("path", cfgFile))
	}
}

// loadConfig loads the configuration and sizes the core logger from it.
func loadConfig(ctx context.Context, overrides ...map[string]any) (*config.Config, error) {
	cfg, err := config.Load(ctx, overrides...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errInvalidConfig, err)
	}

	level := cfg.Logging.Level
	if verbose {
		level = "debug"
	}
	observability.InitCoreLogger(config.AppName, level, structuredProfile(cfg.Logging.Profile))
	return cfg, nil
}

func structuredProfile(profile string) bool {
	switch strings.ToUpper(strings.TrimSpace(profile)) {
	case "STRUCTURED", "ENTERPRISE":
		return true
	default:
		return false
	}
}
