package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-yaml"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/MattCruikshank/templatebot/bot"
	"github.com/MattCruikshank/templatebot/client"
	"github.com/MattCruikshank/templatebot/internal/auth"
	"github.com/MattCruikshank/templatebot/internal/errors"
	"github.com/MattCruikshank/templatebot/internal/models"
	"github.com/MattCruikshank/templatebot/internal/platform"
	"github.com/MattCruikshank/templatebot/internal/protocol"
	"github.com/MattCruikshank/templatebot/internal/reconcile"
	"github.com/MattCruikshank/templatebot/internal/store"
	"github.com/MattCruikshank/templatebot/server"
)

// Output formats.
const (
	formatText = "text"
	formatJSON = "json"
	formatYAML = "yaml"
)

// dryRunGuild is the guild ID used for offline runs.
const dryRunGuild = "dry-run"

func (a *app) runCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Connect to Discord and serve chat commands",
		Long: `Connect to Discord with DISCORD_TOKEN and serve the template commands
until interrupted. When monitor_addr is set, the progress monitor is served
on that address as well.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.cfg.RequireToken(); err != nil {
				return err
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			logger := &a.logger

			var opts []bot.Option
			monitorErr := make(chan error, 1)
			if a.cfg.MonitorAddr != "" {
				hub := server.NewHub(logger)
				go hub.Run(ctx)

				srv := server.NewServer(hub,
					store.NewTemplates(a.cfg.TemplatesDir),
					store.NewBackups(a.cfg.BackupFile),
					auth.NewAuthenticator(a.cfg.MonitorToken, logger),
					a.version, logger)
				go func() {
					err := srv.ListenAndServe(ctx, a.cfg.MonitorAddr)
					if err != nil {
						logger.Error().Err(err).Msg("Monitor stopped")
						cancel()
					}
					monitorErr <- err
				}()
				opts = append(opts, bot.WithReporter(hub))
			} else {
				monitorErr <- nil
			}

			if err := bot.Run(ctx, a.cfg, logger, opts...); err != nil {
				return err
			}
			cancel()
			if err := <-monitorErr; err != nil {
				return fmt.Errorf("monitor: %w", err)
			}
			return nil
		},
	}
}

func (a *app) validateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file>",
		Short: "Check a template file without applying it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			tmpl, err := store.ParseTemplate(data)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			issues := tmpl.Issues()
			if len(issues) == 0 {
				fmt.Fprintf(out, "%s: ok (%d categories, %d roles)\n", args[0], len(tmpl.Channels), len(tmpl.Roles))
				return nil
			}
			for _, issue := range issues {
				fmt.Fprintf(out, "%s: %s\n", args[0], issue)
			}
			return fmt.Errorf("%w: %d issues in %s", errors.ErrInvalidInput, len(issues), args[0])
		},
	}
}

func (a *app) showCommand() *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "show <name>",
		Short: "Print a stored template",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tmpl, err := store.NewTemplates(a.cfg.TemplatesDir).Load(args[0])
			if err != nil {
				return err
			}
			return encode(cmd.OutOrStdout(), format, tmpl)
		},
	}
	cmd.Flags().StringVarP(&format, "format", "o", formatJSON, "output format: json, yaml")
	return cmd
}

func (a *app) dryRunCommand() *cobra.Command {
	var (
		format     string
		backupFile string
	)
	cmd := &cobra.Command{
		Use:   "dry-run <name>",
		Short: "Show what applying a template would do",
		Long: `Apply a stored template to an in-memory guild and print the journal.

The guild is seeded from the backup file (the layout saved before the last
run) or starts empty when there is none. Nothing on Discord is touched and
the real backup file is left alone.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tmpl, err := store.NewTemplates(a.cfg.TemplatesDir).Load(args[0])
			if err != nil {
				return err
			}

			if backupFile == "" {
				backupFile = a.cfg.BackupFile
			}
			guild, err := seedGuild(store.NewBackups(backupFile))
			if err != nil {
				return err
			}

			scratch, err := os.MkdirTemp("", "templatebot-dry-run-")
			if err != nil {
				return err
			}
			defer os.RemoveAll(scratch)

			r := reconcile.New(guild, store.NewBackups(filepath.Join(scratch, "backup.json")),
				reconcile.WithVoiceCategory(a.cfg.VoiceCategory),
				reconcile.WithLogger(&a.logger),
			)
			res, applyErr := r.Apply(cmd.Context(), dryRunGuild, tmpl, nil)
			res.Template = args[0]

			if err := printResult(cmd.OutOrStdout(), format, res); err != nil {
				return err
			}
			return applyErr
		},
	}
	cmd.Flags().StringVarP(&format, "format", "o", formatText, "output format: text, json, yaml")
	cmd.Flags().StringVar(&backupFile, "backup", "", "backup file to seed the guild from (default is backup_file)")
	return cmd
}

func (a *app) watchCommand() *cobra.Command {
	var token string
	cmd := &cobra.Command{
		Use:   "watch [guild-id]",
		Short: "Stream template runs from a running bot's monitor",
		Long: `Connect to the progress monitor of a running bot and print every event
for the guild. Without a guild ID, runs on every guild are shown.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.cfg.MonitorAddr == "" {
				return fmt.Errorf("%w: monitor_addr is not set", errors.ErrInvalidInput)
			}
			guildID := server.AllGuilds
			if len(args) == 1 {
				guildID = args[0]
			}
			if token == "" {
				token = a.cfg.MonitorToken
			}

			w, err := client.NewWatcher(a.cfg.MonitorAddr, token, &a.logger)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			w.SetHelloHandler(func(m protocol.HelloMessage) {
				fmt.Fprintf(out, "connected to templatebot %s (%d templates)\n", m.Version, len(m.Templates))
			})
			w.SetEventHandler(func(ev models.Event) {
				fmt.Fprintln(out, formatEvent(ev))
			})
			return w.Watch(cmd.Context(), guildID)
		},
	}
	cmd.Flags().StringVar(&token, "token", "", "monitor token (default is monitor_token)")
	return cmd
}

// seedGuild builds an in-memory guild from the last backup, or an empty one.
func seedGuild(backups *store.Backups) (*platform.Memory, error) {
	backup, err := backups.Read()
	switch {
	case errors.Is(err, errors.ErrNotFound):
		return platform.NewMemory(dryRunGuild), nil
	case err != nil:
		return nil, err
	}
	return platform.NewMemoryFromBackup(dryRunGuild, backup)
}

func printResult(w io.Writer, format string, res *reconcile.Result) error {
	if format != formatText {
		return encode(w, format, res)
	}

	table := tablewriter.NewTable(w)
	table.Header("Op", "Entity", "Name", "Reason")
	for _, act := range res.Journal {
		if err := table.Append(string(act.Op), string(act.Entity), act.Name, act.Reason); err != nil {
			return err
		}
	}
	if err := table.Render(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "\n%d created, %d deleted, %d skipped, %d kept\n",
		res.Count(reconcile.OpCreate), res.Count(reconcile.OpDelete),
		res.Count(reconcile.OpSkip), res.Count(reconcile.OpKeep))
	return err
}

func encode(w io.Writer, format string, v any) error {
	switch strings.ToLower(format) {
	case formatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "    ")
		return enc.Encode(v)
	case formatYAML:
		data, err := yaml.Marshal(v)
		if err != nil {
			return err
		}
		_, err = w.Write(data)
		return err
	default:
		return fmt.Errorf("%w: unknown format %q", errors.ErrInvalidInput, format)
	}
}

func formatEvent(ev models.Event) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s %s", ev.Timestamp.Format("15:04:05"), ev.GuildID, ev.Type)
	if ev.Entity != "" {
		fmt.Fprintf(&b, " %s", ev.Entity)
	}
	if ev.Name != "" {
		fmt.Fprintf(&b, " %q", ev.Name)
	}
	if ev.Parent != "" {
		fmt.Fprintf(&b, " in %q", ev.Parent)
	}
	if ev.Detail != "" {
		fmt.Fprintf(&b, " (%s)", ev.Detail)
	}
	return b.String()
}
