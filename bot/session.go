package bot

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog"

	"github.com/MattCruikshank/templatebot/internal/config"
	"github.com/MattCruikshank/templatebot/internal/platform"
)

// Intents requested at login: guild structure, messages with their
// content, presences and members.
const Intents = discordgo.IntentsGuilds |
	discordgo.IntentsGuildMessages |
	discordgo.IntentsGuildPresences |
	discordgo.IntentsGuildMembers |
	discordgo.IntentMessageContent

// Run connects to Discord and serves commands until ctx is done. In-flight
// commands are canceled through ctx and awaited before the session closes.
func Run(ctx context.Context, cfg *config.Config, logger *zerolog.Logger, opts ...Option) error {
	if err := cfg.RequireToken(); err != nil {
		return err
	}

	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return fmt.Errorf("create discord session: %w", err)
	}
	session.Identify.Intents = Intents

	b := New(cfg, platform.NewDiscord(session), append([]Option{WithLogger(logger)}, opts...)...)

	session.AddHandler(func(_ *discordgo.Session, r *discordgo.Ready) {
		logger.Info().Str("user", r.User.Username).Int("guilds", len(r.Guilds)).Msg("Connected to Discord")
	})
	session.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageCreate) {
		b.HandleMessage(ctx, platform.MessageFromDiscord(m.Message))
	})

	if err := session.Open(); err != nil {
		return fmt.Errorf("open discord session: %w", err)
	}

	logger.Info().Str("prefix", b.prefix).Str("templates_dir", cfg.TemplatesDir).Msg("Bot running")
	<-ctx.Done()

	logger.Info().Msg("Shutting down, waiting for running commands")
	err = session.Close()
	b.Close()
	return err
}
