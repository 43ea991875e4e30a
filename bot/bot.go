// Package bot is the chat command surface. A Bot is built once from the
// configuration and a platform and handles every incoming message; each
// command runs in its own goroutine so the platform's event loop is never
// blocked.
package bot

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/MattCruikshank/templatebot/internal/capture"
	"github.com/MattCruikshank/templatebot/internal/config"
	"github.com/MattCruikshank/templatebot/internal/errors"
	"github.com/MattCruikshank/templatebot/internal/logging"
	"github.com/MattCruikshank/templatebot/internal/models"
	"github.com/MattCruikshank/templatebot/internal/platform"
	"github.com/MattCruikshank/templatebot/internal/reconcile"
	"github.com/MattCruikshank/templatebot/internal/store"
)

// Command names.
const (
	CmdTemplate       = "template"
	CmdTemplates      = "templates"
	CmdCreateTemplate = "criar_template"
	CmdCreateAlias    = "create_template"
)

// Bot holds everything a command needs. There is no package state.
type Bot struct {
	prefix     string
	platform   platform.Platform
	templates  *store.Templates
	backups    *store.Backups
	reconciler *reconcile.Reconciler
	waiter     *capture.Waiter
	capturer   *capture.Capturer
	reporter   reconcile.Reporter
	logger     *zerolog.Logger

	mu      sync.Mutex // guards closing and wg.Add
	closing bool
	wg      sync.WaitGroup
}

// Option configures a Bot.
type Option func(*Bot)

// WithReporter adds a progress reporter, such as the monitor hub, to every
// template run.
func WithReporter(r reconcile.Reporter) Option {
	return func(b *Bot) { b.reporter = r }
}

// WithLogger sets the logger.
func WithLogger(logger *zerolog.Logger) Option {
	return func(b *Bot) { b.logger = logger }
}

// New builds a Bot from cfg on top of p.
func New(cfg *config.Config, p platform.Platform, opts ...Option) *Bot {
	b := &Bot{
		prefix:    cfg.Prefix,
		platform:  p,
		templates: store.NewTemplates(cfg.TemplatesDir),
		backups:   store.NewBackups(cfg.BackupFile),
		waiter:    capture.NewWaiter(),
		logger:    logging.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.prefix == "" {
		b.prefix = config.DefaultPrefix
	}

	b.reconciler = reconcile.New(p, b.backups,
		reconcile.WithVoiceCategory(cfg.VoiceCategory),
		reconcile.WithLogger(b.logger),
	)
	b.capturer = capture.New(b.templates, b.waiter, p,
		capture.WithTimeout(cfg.CaptureTimeout),
		capture.WithLogger(b.logger),
	)
	return b
}

// Templates returns the template store.
func (b *Bot) Templates() *store.Templates {
	return b.templates
}

// HandleMessage routes an incoming message. Replies to a running capture
// are handed to it; prefixed commands start in their own goroutine.
func (b *Bot) HandleMessage(ctx context.Context, msg models.Message) {
	if msg.Author.Bot {
		return
	}
	if b.waiter.Dispatch(msg) {
		return
	}

	name, args, ok := b.parse(msg.Content)
	if !ok {
		return
	}

	logger := b.logger.With().
		Str("command", name).
		Str("guild_id", msg.GuildID).
		Str("channel_id", msg.ChannelID).
		Str("author", msg.Author.Username).
		Logger()

	var run func(ctx context.Context)
	switch name {
	case CmdTemplate:
		run = func(ctx context.Context) { b.applyTemplate(ctx, msg, args) }
	case CmdTemplates:
		run = func(ctx context.Context) { b.listTemplates(ctx, msg) }
	case CmdCreateTemplate, CmdCreateAlias:
		run = func(ctx context.Context) { b.createTemplate(ctx, msg) }
	default:
		logger.Debug().Msg("Ignoring unknown command")
		return
	}

	if msg.GuildID == "" {
		b.reply(ctx, msg, "❌ This command only works inside a server.")
		return
	}

	b.mu.Lock()
	if b.closing {
		b.mu.Unlock()
		logger.Debug().Msg("Shutting down, command dropped")
		return
	}
	b.wg.Add(1)
	b.mu.Unlock()

	logger.Info().Msg("Command received")
	go func() {
		defer b.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				logger.Error().Interface("panic", r).Msg("Command panicked")
			}
		}()
		run(logging.WithLogger(ctx, &logger))
	}()
}

// Wait blocks until every running command has returned.
func (b *Bot) Wait() {
	b.wg.Wait()
}

// Close stops accepting commands and waits for the running ones. Messages
// handled after Close are ignored.
func (b *Bot) Close() {
	b.mu.Lock()
	b.closing = true
	b.mu.Unlock()
	b.wg.Wait()
}

func (b *Bot) parse(content string) (name string, args []string, ok bool) {
	if !strings.HasPrefix(content, b.prefix) {
		return "", nil, false
	}
	fields := strings.Fields(strings.TrimPrefix(content, b.prefix))
	if len(fields) == 0 {
		return "", nil, false
	}
	return fields[0], fields[1:], true
}

// applyTemplate runs the reconciler for the named template. The template is
// loaded before anything touches the guild.
func (b *Bot) applyTemplate(ctx context.Context, msg models.Message, args []string) {
	logger := logging.FromContext(ctx)

	if len(args) == 0 {
		b.reply(ctx, msg, fmt.Sprintf("❌ Usage: `%s%s <name>`", b.prefix, CmdTemplate))
		return
	}
	name := args[0]

	tmpl, err := b.templates.Load(name)
	switch {
	case errors.Is(err, errors.ErrNotFound):
		b.reply(ctx, msg, fmt.Sprintf("❌ Template `%s` not found.", name))
		return
	case err != nil:
		logger.Warn().Err(err).Str("template", name).Msg("Failed to load template")
		b.reply(ctx, msg, fmt.Sprintf("❌ Template `%s` could not be read: %v", name, err))
		return
	}

	reporter := reconcile.Reporters{&chatReporter{bot: b, channelID: msg.ChannelID}, b.reporter}
	res, err := b.reconciler.Apply(ctx, msg.GuildID, tmpl, reporter)
	res.Template = name
	if err != nil {
		b.reply(ctx, msg, fmt.Sprintf("❌ Template `%s` stopped after %d changes: %v. The previous layout was saved to `%s`.",
			name, res.Count(reconcile.OpCreate)+res.Count(reconcile.OpDelete), err, res.BackupPath))
		return
	}

	if skipped := len(res.Skipped()); skipped > 0 {
		b.reply(ctx, msg, fmt.Sprintf("⚠️ %d changes were skipped for lack of permission.", skipped))
	}
	b.reply(ctx, msg, fmt.Sprintf("✅ Template `%s` applied successfully!", name))
}

func (b *Bot) listTemplates(ctx context.Context, msg models.Message) {
	names, err := b.templates.List()
	if err != nil {
		logging.FromContext(ctx).Error().Err(err).Msg("Failed to list templates")
		b.reply(ctx, msg, "❌ Could not list templates.")
		return
	}
	if len(names) == 0 {
		b.reply(ctx, msg, "No templates saved yet.")
		return
	}
	b.reply(ctx, msg, "📄 Templates: `"+strings.Join(names, "`, `")+"`")
}

func (b *Bot) createTemplate(ctx context.Context, msg models.Message) {
	outcome, err := b.capturer.Capture(ctx, capture.Conversation{
		GuildID:   msg.GuildID,
		ChannelID: msg.ChannelID,
		Author:    msg.Author,
	})
	logger := logging.FromContext(ctx)
	if err != nil {
		logger.Error().Err(err).Str("outcome", outcome.String()).Msg("Template capture failed")
		return
	}
	logger.Info().Str("outcome", outcome.String()).Msg("Template capture finished")
}

func (b *Bot) reply(ctx context.Context, msg models.Message, content string) {
	if err := b.platform.SendMessage(ctx, msg.ChannelID, content); err != nil {
		logging.FromContext(ctx).Warn().Err(err).Msg("Failed to send reply")
	}
}

// chatReporter announces created categories, voice channels and roles in
// the channel the command came from.
type chatReporter struct {
	bot       *Bot
	channelID string
}

// Report implements reconcile.Reporter.
func (r *chatReporter) Report(ctx context.Context, ev models.Event) {
	if ev.Type != models.EventCreated {
		return
	}

	var content string
	switch ev.Entity {
	case models.EntityCategory:
		if ev.Detail == reconcile.DetailVoiceCategory {
			return
		}
		content = fmt.Sprintf("✅ Category `%s` created.", ev.Name)
	case models.EntityVoice:
		content = fmt.Sprintf("✅ Voice channel `%s` created in category `%s`.", ev.Name, ev.Parent)
	case models.EntityRole:
		content = fmt.Sprintf("✅ Role `%s` created.", ev.Name)
	default:
		return
	}

	if err := r.bot.platform.SendMessage(ctx, r.channelID, content); err != nil {
		logging.FromContext(ctx).Warn().Err(err).Msg("Failed to send progress message")
	}
}
