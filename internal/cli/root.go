package cli

import (
	"fmt"
	"io"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/Dicklesworthstone/licrm/internal/config"
	"github.com/Dicklesworthstone/licrm/internal/logging"
	"github.com/Dicklesworthstone/licrm/internal/output"
)

var (
	cfgFile    string
	cfg        *config.Config
	jsonOutput bool
	logCloser  io.Closer

	// Build information - set by goreleaser via ldflags
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
	BuiltBy = "unknown"
)

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "licrm",
		Short: "Remove free licenses from a Steam account, one at a time",
		Long: `licrm drains a queue of free Steam license ids through the store's
removelicense endpoint. It sends one request at a time, waits out the
endpoint's throttling cooldown, and requeues anything that fails.

Quick Start:
  licrm config init                        # Write ~/.config/licrm/config.toml
  licrm scan --page licenses.html          # List removable ids from a saved page
  licrm run --page licenses.html           # Remove them
  licrm run --fetch --output tui           # Fetch the live page and watch progress`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Skip config loading for commands that never need it
			if cmd.Name() == "version" || cmd.Name() == "path" || cmd.Name() == "init" {
				return nil
			}

			loaded, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			cfg = loaded

			closer, err := logging.Setup(logConfig(cfg, false, cmd.ErrOrStderr()))
			if err != nil {
				return err
			}
			logCloser = closer
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return closeLog()
		},
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.config/licrm/config.toml)")
	root.PersistentFlags().BoolVar(&jsonOutput, "json", false, "print results and errors as JSON")

	root.AddCommand(
		newRunCmd(),
		newScanCmd(),
		newConfigCmd(),
		newVersionCmd(),
	)
	return root
}

// Execute runs the CLI. main prints the returned error.
func Execute() error {
	err := NewRootCmd().Execute()
	_ = closeLog()
	return err
}

// JSONMode reports whether --json was given, for error printing in main.
func JSONMode() bool { return jsonOutput }

func closeLog() error {
	if logCloser == nil {
		return nil
	}
	err := logCloser.Close()
	logCloser = nil
	return err
}

func logConfig(c *config.Config, quiet bool, stderr io.Writer) logging.Config {
	return logging.Config{
		Level:      c.Log.Level,
		Format:     c.Log.Format,
		File:       c.Log.File,
		MaxSizeMB:  c.Log.MaxSizeMB,
		MaxBackups: c.Log.MaxBackups,
		Stderr:     stderr,
		Quiet:      quiet,
	}
}

func formatter(cmd *cobra.Command, format output.Format) *output.Formatter {
	if jsonOutput {
		format = output.FormatJSON
	}
	return output.New(output.WithFormat(format), output.WithWriter(cmd.OutOrStdout()))
}

func newVersionCmd() *cobra.Command {
	var short bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			if short {
				fmt.Fprintln(cmd.OutOrStdout(), Version)
				return nil
			}
			return formatter(cmd, output.FormatText).Output(output.VersionResponse{
				Version:   Version,
				Commit:    Commit,
				Date:      Date,
				BuiltBy:   BuiltBy,
				GoVersion: runtime.Version(),
			})
		},
	}
	cmd.Flags().BoolVarP(&short, "short", "s", false, "Print only version number")
	return cmd
}

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Create default configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := config.CreateDefault()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created config file: %s\n", path)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Print configuration file path",
		Run: func(cmd *cobra.Command, args []string) {
			if cfgFile != "" {
				fmt.Fprintln(cmd.OutOrStdout(), cfgFile)
				return
			}
			fmt.Fprintln(cmd.OutOrStdout(), config.DefaultPath())
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			shown := *cfg
			shown.Steam.SessionID = redact(shown.Steam.SessionID)
			shown.Steam.LoginSecure = redact(shown.Steam.LoginSecure)
			return config.Print(&shown, cmd.OutOrStdout())
		},
	})

	return cmd
}

func redact(secret string) string {
	if secret == "" {
		return ""
	}
	return "<redacted>"
}
