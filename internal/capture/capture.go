// Package capture runs the interactive template authoring conversation:
// the bot asks for a template name, then for the JSON document, and saves
// it to the template store.
package capture

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/MattCruikshank/templatebot/internal/config"
	"github.com/MattCruikshank/templatebot/internal/errors"
	"github.com/MattCruikshank/templatebot/internal/logging"
	"github.com/MattCruikshank/templatebot/internal/models"
	"github.com/MattCruikshank/templatebot/internal/platform"
	"github.com/MattCruikshank/templatebot/internal/store"
)

// Outcome is how a capture conversation ended.
type Outcome int

const (
	OutcomeSaved Outcome = iota
	OutcomeInvalidName
	OutcomeInvalidJSON
	OutcomeTimedOut
	OutcomeCanceled
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSaved:
		return "saved"
	case OutcomeInvalidName:
		return "invalid name"
	case OutcomeInvalidJSON:
		return "invalid JSON"
	case OutcomeTimedOut:
		return "timed out"
	case OutcomeCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// Prompts and replies sent to the author.
const (
	MsgAskName     = "🔧 What is the template name?"
	MsgAskContent  = "🔧 Send the template content (JSON)."
	MsgInvalidJSON = "❌ The JSON you sent is invalid."
	MsgTimedOut    = "⌛ No reply in time, template creation cancelled."
)

// Conversation identifies who started the capture and where.
type Conversation struct {
	GuildID   string
	ChannelID string
	Author    models.User
}

// Capturer runs capture conversations.
type Capturer struct {
	templates *store.Templates
	waiter    *Waiter
	messenger platform.Messenger
	timeout   time.Duration
	logger    *zerolog.Logger
}

// Option configures a Capturer.
type Option func(*Capturer)

// WithTimeout bounds each wait for a reply.
func WithTimeout(d time.Duration) Option {
	return func(c *Capturer) { c.timeout = d }
}

// WithLogger sets the logger.
func WithLogger(logger *zerolog.Logger) Option {
	return func(c *Capturer) { c.logger = logger }
}

// New creates a Capturer. Replies reach it through waiter.Dispatch.
func New(templates *store.Templates, waiter *Waiter, messenger platform.Messenger, opts ...Option) *Capturer {
	c := &Capturer{
		templates: templates,
		waiter:    waiter,
		messenger: messenger,
		timeout:   config.DefaultCaptureTimeout,
		logger:    logging.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Capture asks for a name and a JSON document and saves the document as
// that template. User mistakes and timeouts are reported in chat and
// returned as an Outcome; the error is set only when sending a message or
// writing the file failed, or ctx was canceled.
func (c *Capturer) Capture(ctx context.Context, conv Conversation) (Outcome, error) {
	logger := c.logger.With().
		Str("guild_id", conv.GuildID).
		Str("channel_id", conv.ChannelID).
		Str("author", conv.Author.Username).
		Logger()

	nameMsg, outcome, err := c.ask(ctx, conv, MsgAskName)
	if nameMsg == nil {
		return outcome, err
	}
	name := strings.TrimSpace(nameMsg.Content)
	if err := store.ValidateName(name); err != nil {
		logger.Info().Str("name", name).Msg("Rejected template name")
		return OutcomeInvalidName, c.say(ctx, conv, fmt.Sprintf("❌ Invalid template name `%s`: %s.", name, reason(err)))
	}

	contentMsg, outcome, err := c.ask(ctx, conv, MsgAskContent)
	if contentMsg == nil {
		return outcome, err
	}
	raw := []byte(stripCodeFence(contentMsg.Content))
	if !json.Valid(raw) {
		logger.Info().Str("name", name).Msg("Rejected template content: invalid JSON")
		return OutcomeInvalidJSON, c.say(ctx, conv, MsgInvalidJSON)
	}

	if c.templates.Exists(name) {
		logger.Warn().Str("name", name).Msg("Overwriting existing template")
	}
	if err := c.templates.Save(name, raw); err != nil {
		return OutcomeSaved, fmt.Errorf("failed to save template %s: %w", name, err)
	}

	logger.Info().Str("name", name).Str("path", c.templates.Path(name)).Msg("Template saved")
	return OutcomeSaved, c.say(ctx, conv, fmt.Sprintf("✅ Template `%s` saved.", name))
}

// ask sends prompt and waits for the author's reply. A nil message means
// the conversation is over with the returned outcome.
func (c *Capturer) ask(ctx context.Context, conv Conversation, prompt string) (*models.Message, Outcome, error) {
	pending := c.waiter.Expect(conv.Author.ID, conv.ChannelID)
	if err := c.say(ctx, conv, prompt); err != nil {
		pending.Cancel()
		return nil, OutcomeCanceled, err
	}

	msg, err := pending.Wait(ctx, c.timeout)
	switch {
	case err == nil:
		return &msg, OutcomeSaved, nil
	case errors.Is(err, errors.ErrTimeout):
		c.logger.Info().Str("channel_id", conv.ChannelID).Dur("timeout", c.timeout).Msg("Capture timed out")
		return nil, OutcomeTimedOut, c.say(ctx, conv, MsgTimedOut)
	default:
		return nil, OutcomeCanceled, err
	}
}

func (c *Capturer) say(ctx context.Context, conv Conversation, content string) error {
	if err := c.messenger.SendMessage(ctx, conv.ChannelID, content); err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}

func reason(err error) string {
	var verr *errors.ValidationError
	if errors.As(err, &verr) {
		return verr.Message
	}
	return err.Error()
}

// stripCodeFence removes a surrounding ``` or ```json fence, which chat
// clients add when pasting code blocks.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") || !strings.HasSuffix(s, "```") || len(s) < 6 {
		return s
	}
	s = strings.TrimSuffix(strings.TrimPrefix(s, "```"), "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 && !strings.ContainsAny(s[:i], "{[") {
		s = s[i+1:]
	}
	return strings.TrimSpace(s)
}
