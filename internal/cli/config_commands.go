package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/popgen/structure-threader/internal/config"
	"github.com/popgen/structure-threader/internal/publish"
)

// newConfigCmd creates the 'config' command group.
func newConfigCmd() *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the threader.ini defaults file",
		Long: `Manage the defaults applied to every run.

Commands:
  init  - Interactive defaults setup
  show  - Display the effective defaults
  path  - Show the defaults file path`,
	}

	configCmd.AddCommand(newConfigInitCmd())
	configCmd.AddCommand(newConfigShowCmd())
	configCmd.AddCommand(newConfigPathCmd())

	return configCmd
}

func configPath() (string, error) {
	if cfgFile != "" {
		return cfgFile, nil
	}
	return config.DefaultHarnessConfigPath()
}

// newConfigInitCmd creates the 'config init' command.
func newConfigInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize threader.ini interactively",
		Long: `Interactive setup of the defaults file.

Use --force to overwrite an existing file.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := GetLogger()
			out := cmd.OutOrStdout()

			path, err := configPath()
			if err != nil {
				return err
			}
			if !force {
				if _, err := os.Stat(path); err == nil {
					fmt.Fprintf(out, "Configuration already exists at: %s\n", path)
					fmt.Fprintln(out, "Use --force to overwrite or run 'config show' to view current defaults.")
					return nil
				}
			}

			cfg, err := promptHarnessConfig(newPrompter(cmd.InOrStdin(), out), config.NewHarnessConfig())
			if err != nil {
				return err
			}
			if err := config.SaveHarnessConfig(cfg, path); err != nil {
				return fmt.Errorf("failed to save config: %w", err)
			}

			logger.Info().Str("path", path).Msg("Configuration saved")
			fmt.Fprintf(out, "\nConfiguration saved to: %s\n", path)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite existing configuration")

	return cmd
}

// promptHarnessConfig fills cfg from answers, keeping its values as defaults.
func promptHarnessConfig(p *prompter, cfg *config.HarnessConfig) (*config.HarnessConfig, error) {
	var err error

	fmt.Fprintln(p.out, "Run Defaults (press Enter for defaults)")
	fmt.Fprintln(p.out, "---------------------------------------")
	if cfg.Run.Threads, err = p.Int("Threads", cfg.Run.Threads); err != nil {
		return nil, err
	}
	if cfg.Run.Replicates, err = p.Int("Replicates", cfg.Run.Replicates); err != nil {
		return nil, err
	}
	if cfg.Run.Seed, err = p.Int64("Master seed", cfg.Run.Seed); err != nil {
		return nil, err
	}

	fmt.Fprintln(p.out)
	fmt.Fprintln(p.out, "Interpreters")
	fmt.Fprintln(p.out, "------------")
	if cfg.Interpreters.Python, err = p.String("Python (fastStructure)", cfg.Interpreters.Python); err != nil {
		return nil, err
	}
	if cfg.Interpreters.Rscript, err = p.String("Rscript (ALStructure)", cfg.Interpreters.Rscript); err != nil {
		return nil, err
	}

	fmt.Fprintln(p.out)
	if cfg.Plot.Format, err = p.Choice("Plot format", []string{"png", "svg"}, cfg.Plot.Format); err != nil {
		return nil, err
	}

	fmt.Fprintln(p.out)
	wantPublish, err := p.YesNo("Publish results after each run?")
	if err != nil {
		return nil, err
	}
	if wantPublish {
		if cfg.Publish.Target, err = p.String("Target (s3://bucket/prefix, az://container/prefix or a directory)", cfg.Publish.Target); err != nil {
			return nil, err
		}
		if _, err := publish.ParseTarget(cfg.Publish.Target); err != nil {
			return nil, err
		}
		if cfg.Publish.Region, err = p.String("Region", cfg.Publish.Region); err != nil {
			return nil, err
		}
		if cfg.Publish.Endpoint, err = p.String("Endpoint (blank for the provider default)", cfg.Publish.Endpoint); err != nil {
			return nil, err
		}
		if cfg.Publish.NotifyURL, err = p.String("Notification URL (blank for none)", cfg.Publish.NotifyURL); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// newConfigShowCmd creates the 'config show' command.
func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Display the effective defaults",
		Long: `Display the defaults applied to every run.

Values come from:
  1. Defaults file (threader.ini)
  2. Environment variables (THREADER_THREADS, THREADER_SEED)

Command-line flags of 'run' override both.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := configPath()
			if err != nil {
				return err
			}
			printHarnessConfig(cmd.OutOrStdout(), GetHarness(), path)
			return nil
		},
	}
}

func printHarnessConfig(out io.Writer, cfg *config.HarnessConfig, path string) {
	fmt.Fprintln(out, "Current Configuration")
	fmt.Fprintln(out, "=====================")
	fmt.Fprintln(out)

	fmt.Fprintln(out, "Run Settings:")
	fmt.Fprintf(out, "  Threads:     %d\n", cfg.Run.Threads)
	fmt.Fprintf(out, "  Replicates:  %d\n", cfg.Run.Replicates)
	fmt.Fprintf(out, "  Master Seed: %d\n", cfg.Run.Seed)
	fmt.Fprintf(out, "  Keep Logs:   %t\n", cfg.Run.Log)
	fmt.Fprintln(out)

	fmt.Fprintln(out, "Interpreters:")
	fmt.Fprintf(out, "  Python:  %s\n", cfg.Interpreters.Python)
	fmt.Fprintf(out, "  Rscript: %s\n", cfg.Interpreters.Rscript)
	fmt.Fprintln(out)

	fmt.Fprintln(out, "Plot Settings:")
	fmt.Fprintf(out, "  Format: %s\n", cfg.Plot.Format)
	fmt.Fprintf(out, "  Size:   %gx%g cm\n", cfg.Plot.WidthCm, cfg.Plot.HeightCm)
	fmt.Fprintln(out)

	fmt.Fprintln(out, "Publish Settings:")
	if cfg.Publish.Target == "" {
		fmt.Fprintln(out, "  Target: <not set>")
	} else {
		fmt.Fprintf(out, "  Target: %s\n", cfg.Publish.Target)
		if cfg.Publish.Region != "" {
			fmt.Fprintf(out, "  Region: %s\n", cfg.Publish.Region)
		}
		if cfg.Publish.Endpoint != "" {
			fmt.Fprintf(out, "  Endpoint: %s\n", cfg.Publish.Endpoint)
		}
	}
	if cfg.Publish.NotifyURL != "" {
		fmt.Fprintf(out, "  Notify URL: %s\n", cfg.Publish.NotifyURL)
	}
	fmt.Fprintln(out)

	fmt.Fprintf(out, "Configuration file: %s\n", path)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		fmt.Fprintln(out, "  (file does not exist - using defaults)")
	}
}

// newConfigPathCmd creates the 'config path' command.
func newConfigPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Show configuration file path",
		Long:  `Display the path to the defaults file.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			path, err := configPath()
			if err != nil {
				return err
			}
			if cfgFile == "" {
				fmt.Fprintln(out, "Default configuration path:")
			} else {
				fmt.Fprintln(out, "Configuration path (from --config flag):")
			}
			fmt.Fprintf(out, "  %s\n\n", path)

			if info, err := os.Stat(path); err == nil {
				fmt.Fprintln(out, "Status: File exists")
				fmt.Fprintf(out, "Size:   %d bytes\n", info.Size())
				fmt.Fprintf(out, "Modified: %s\n", info.ModTime().Format("2006-01-02 15:04:05"))
			} else {
				fmt.Fprintln(out, "Status: File does not exist")
				fmt.Fprintln(out)
				fmt.Fprintln(out, "Create a configuration file with: structure_threader config init")
			}
			return nil
		},
	}
}
