package main

import (
	"context"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/MattCruikshank/templatebot/internal/config"
	"github.com/MattCruikshank/templatebot/internal/logging"
)

// app carries what every subcommand needs once flags are parsed.
type app struct {
	version    string
	configFile string
	logLevel   string

	cfg    *config.Config
	logger zerolog.Logger
	stderr io.Writer
}

func newApp(version string) *app {
	return &app{version: version, stderr: os.Stderr}
}

// Execute runs the CLI with args.
func (a *app) Execute(ctx context.Context, args []string) error {
	root := a.rootCommand()
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

func (a *app) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:     "templatebot",
		Short:   "Apply guild structure templates on Discord",
		Version: a.version,
		Long: `templatebot replaces a guild's categories, channels and roles with the
layout described by a JSON template, saving a backup of the previous layout
before anything is deleted.

Run "templatebot run" to connect the bot. The other commands work offline
against the template directory and the backup file.`,
		PersistentPreRunE: a.setup,
		SilenceUsage:      true,
		SilenceErrors:     true,
	}

	root.PersistentFlags().StringVar(&a.configFile, "config", "", "config file (default is .templatebot.yaml)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "log level: trace, debug, info, warn, error")
	root.SetVersionTemplate("templatebot {{.Version}}\n")

	root.AddCommand(
		a.runCommand(),
		a.validateCommand(),
		a.showCommand(),
		a.dryRunCommand(),
		a.watchCommand(),
	)
	return root
}

// setup loads configuration and installs the logger before any command runs.
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(a.configFile)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.LogLevel = a.logLevel
	}
	a.cfg = cfg

	a.logger = logging.New(logging.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
		Output: a.stderr,
	})
	logging.SetDefault(a.logger)

	if cfg.ConfigFile != "" {
		a.logger.Debug().Str("file", cfg.ConfigFile).Msg("Loaded config file")
	}
	return nil
}
