// Package cli provides the command-line interface for structure-threader.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/popgen/structure-threader/internal/config"
	"github.com/popgen/structure-threader/internal/logging"
)

var (
	// Global flags
	cfgFile string
	verbose bool
	debug   bool

	// Global logger
	logger *logging.Logger

	// Harness defaults, loaded before any subcommand runs
	harness *config.HarnessConfig

	// Global context for signal handling
	rootContext context.Context
	cancelFunc  context.CancelFunc
)

// Version information - set by main package at startup
var (
	Version   = "v1.6.0-dev"
	BuildTime = "unknown"
)

// NewRootCmd creates the root command.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "structure_threader",
		Short: "Run STRUCTURE-like programs in parallel",
		Long: `structure_threader ` + Version + ` - Built: ` + BuildTime + `
Parallelizes runs of STRUCTURE, fastStructure, MavericK, ALStructure and
Neural ADMIXTURE over a range of K values and replicates, then selects the
best K and plots the Q-matrices.

Defaults for threads, replicates, seed, interpreters and plots are read from
threader.ini (see 'structure_threader config path').`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logger = logging.NewDefaultCLILogger()
			if verbose || debug {
				logging.SetGlobalLevel(zerolog.DebugLevel)
			}

			var err error
			harness, err = config.LoadHarnessConfig(cfgFile)
			if err != nil {
				return fmt.Errorf("failed to load defaults: %w", err)
			}
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "Defaults file path (threader.ini)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output (shows debug messages)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug output (same as --verbose)")

	rootCmd.Version = Version + " (" + BuildTime + ")"

	return rootCmd
}

// Execute runs the CLI.
func Execute() error {
	// Create a context that can be cancelled by signals
	rootContext, cancelFunc = context.WithCancel(context.Background())
	defer cancelFunc()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	// Loop so repeated Ctrl+C does not kill the process before cleanup
	go func() {
		for sig := range sigChan {
			if sig != nil {
				fmt.Fprintf(os.Stderr, "\n\nReceived signal %v, stopping running jobs...\n", sig)
				fmt.Fprintf(os.Stderr, "   Please wait for cleanup to complete.\n\n")
				cancelFunc()
			}
		}
	}()

	rootCmd := NewRootCmd()
	AddCommands(rootCmd)
	err := rootCmd.Execute()

	signal.Stop(sigChan)
	close(sigChan)

	return err
}

// AddCommands adds all subcommands to the root command.
func AddCommands(rootCmd *cobra.Command) {
	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newPlotCmd())
	rootCmd.AddCommand(newParamsCmd())
	rootCmd.AddCommand(newConfigCmd())
	rootCmd.AddCommand(newVersionCmd())
}

// GetLogger returns the global CLI logger.
func GetLogger() *logging.Logger {
	if logger == nil {
		logger = logging.NewDefaultCLILogger()
	}
	return logger
}

// GetHarness returns the loaded defaults, or the built-in ones.
func GetHarness() *config.HarnessConfig {
	if harness == nil {
		harness = config.NewHarnessConfig()
	}
	return harness
}

// GetContext returns the global CLI context with signal handling.
// This context will be cancelled when the user presses Ctrl+C.
func GetContext() context.Context {
	if rootContext == nil {
		return context.Background()
	}
	return rootContext
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "structure_threader %s (%s)\n", Version, BuildTime)
		},
	}
}
