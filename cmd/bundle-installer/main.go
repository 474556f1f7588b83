package main

import (
	"fmt"
	"os"

	"github.com/open-edge-platform/bundle-installer/internal/config"
	"github.com/open-edge-platform/bundle-installer/internal/errdefs"
	"github.com/open-edge-platform/bundle-installer/internal/utils/logger"
	"github.com/spf13/cobra"
)

// Global flags
var (
	configFile  string
	logLevel    string
	verbose     bool
	installRoot string
)

// Build information, set with -ldflags "-X main.Version=..."
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	rootCmd := createRootCommand()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(errdefs.ExitCode(err))
	}
}

// createRootCommand builds the command tree
func createRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "bundle-installer",
		Short: "Install pre-built application bundles from package descriptors",
		Long: `bundle-installer fetches a release archive named by a package descriptor,
verifies its digest, places the contained application bundle in the install
root and records a receipt so it can later be upgraded or uninstalled.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "",
		"Path to the configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "",
		"Log level: debug, info, warn or error (overrides config)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false,
		"Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&installRoot, "install-root", "",
		"Directory bundles are installed into (overrides "+config.EnvPrefix+"INSTALL_ROOT)")

	rootCmd.AddCommand(createInstallCommand())
	rootCmd.AddCommand(createUpgradeCommand())
	rootCmd.AddCommand(createUninstallCommand())
	rootCmd.AddCommand(createZapCommand())
	rootCmd.AddCommand(createFetchCommand())
	rootCmd.AddCommand(createValidateCommand())
	rootCmd.AddCommand(createAuditCommand())
	rootCmd.AddCommand(createInfoCommand())
	rootCmd.AddCommand(createListCommand())
	rootCmd.AddCommand(createCheckCommand())
	rootCmd.AddCommand(createPackCommand())
	rootCmd.AddCommand(createVersionCommand())

	attachLoggingHooks(rootCmd)
	return rootCmd
}

// attachLoggingHooks loads the configuration and sets up logging before
// any subcommand runs.
func attachLoggingHooks(rootCmd *cobra.Command) {
	for _, cmd := range rootCmd.Commands() {
		if cmd.Name() == "version" {
			continue
		}
		cmd.PersistentPreRunE = initRuntime
	}
}

func initRuntime(cmd *cobra.Command, args []string) error {
	path := config.FindConfigFile(configFile)
	cfg, err := config.Load(cmd.Context(), path)
	if err != nil {
		return err
	}
	if installRoot != "" {
		cfg.InstallRoot = installRoot
	}
	config.SetGlobal(cfg)

	level := resolveRequestedLogLevel(cmd)
	if level == "" {
		level = config.NewConfigHelpers(cfg).LogLevel()
	}
	if err := logger.Init(level); err != nil {
		return err
	}
	if path != "" {
		logger.Logger().Debugf("using configuration %s", path)
	}
	return nil
}

// resolveRequestedLogLevel returns the level asked for on the command
// line, or "" to use the configured one.
func resolveRequestedLogLevel(cmd *cobra.Command) string {
	if logLevel != "" {
		return logLevel
	}
	if cmd == nil {
		return ""
	}
	if v, err := cmd.Flags().GetBool("verbose"); err == nil && v {
		return "debug"
	}
	return ""
}
