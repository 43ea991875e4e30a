package platform

import (
	"context"
	"net/http"

	"github.com/bwmarrin/discordgo"

	"github.com/MattCruikshank/templatebot/internal/errors"
	"github.com/MattCruikshank/templatebot/internal/models"
)

// Session is the subset of *discordgo.Session used by Discord.
type Session interface {
	GuildRoles(guildID string, options ...discordgo.RequestOption) ([]*discordgo.Role, error)
	GuildChannels(guildID string, options ...discordgo.RequestOption) ([]*discordgo.Channel, error)
	GuildChannelCreateComplex(guildID string, data discordgo.GuildChannelCreateData, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	GuildRoleCreate(guildID string, data *discordgo.RoleParams, options ...discordgo.RequestOption) (*discordgo.Role, error)
	ChannelDelete(channelID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	GuildRoleDelete(guildID, roleID string, options ...discordgo.RequestOption) error
	ChannelMessageSend(channelID string, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Discord implements Platform over the Discord REST API.
type Discord struct {
	s Session
}

// NewDiscord wraps a discordgo session.
func NewDiscord(s Session) *Discord {
	return &Discord{s: s}
}

// Roles returns the guild's roles, the default role included.
func (d *Discord) Roles(ctx context.Context, guildID string) ([]models.Role, error) {
	roles, err := d.s.GuildRoles(guildID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, wrap("list roles", guildID, err)
	}
	out := make([]models.Role, 0, len(roles))
	for _, r := range roles {
		out = append(out, roleFromDiscord(r))
	}
	return out, nil
}

// Channels returns the guild's channels and categories.
func (d *Discord) Channels(ctx context.Context, guildID string) ([]models.Channel, error) {
	channels, err := d.s.GuildChannels(guildID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, wrap("list channels", guildID, err)
	}
	out := make([]models.Channel, 0, len(channels))
	for _, c := range channels {
		out = append(out, ChannelFromDiscord(c))
	}
	return out, nil
}

// CreateChannel creates a category, text or voice channel.
func (d *Discord) CreateChannel(ctx context.Context, guildID string, params models.ChannelParams) (models.Channel, error) {
	data := discordgo.GuildChannelCreateData{
		Name:     params.Name,
		ParentID: params.ParentID,
	}
	switch params.Kind {
	case models.KindCategory:
		data.Type = discordgo.ChannelTypeGuildCategory
	case models.KindVoice:
		data.Type = discordgo.ChannelTypeGuildVoice
		data.UserLimit = params.UserLimit
	case models.KindText:
		data.Type = discordgo.ChannelTypeGuildText
	default:
		return models.Channel{}, errors.NewValidationError("kind", params.Kind, "cannot create channel of kind "+params.Kind.String())
	}

	ch, err := d.s.GuildChannelCreateComplex(guildID, data, discordgo.WithContext(ctx))
	if err != nil {
		return models.Channel{}, wrap("create "+params.Kind.String(), params.Name, err)
	}
	return ChannelFromDiscord(ch), nil
}

// CreateRole creates a role with the given colour and permissions.
func (d *Discord) CreateRole(ctx context.Context, guildID string, params models.RoleParams) (models.Role, error) {
	color := params.Color
	perms := params.Permissions
	r, err := d.s.GuildRoleCreate(guildID, &discordgo.RoleParams{
		Name:        params.Name,
		Color:       &color,
		Permissions: &perms,
	}, discordgo.WithContext(ctx))
	if err != nil {
		return models.Role{}, wrap("create role", params.Name, err)
	}
	return roleFromDiscord(r), nil
}

// DeleteChannel deletes a channel or category.
func (d *Discord) DeleteChannel(ctx context.Context, guildID, channelID string) error {
	if _, err := d.s.ChannelDelete(channelID, discordgo.WithContext(ctx)); err != nil {
		return wrap("delete channel", channelID, err)
	}
	return nil
}

// DeleteRole deletes a role.
func (d *Discord) DeleteRole(ctx context.Context, guildID, roleID string) error {
	if err := d.s.GuildRoleDelete(guildID, roleID, discordgo.WithContext(ctx)); err != nil {
		return wrap("delete role", roleID, err)
	}
	return nil
}

// SendMessage posts content to a channel.
func (d *Discord) SendMessage(ctx context.Context, channelID, content string) error {
	if _, err := d.s.ChannelMessageSend(channelID, content, discordgo.WithContext(ctx)); err != nil {
		return wrap("send message", channelID, err)
	}
	return nil
}

// ChannelFromDiscord converts a discordgo channel. Announcement channels
// count as text; stage, forum and thread channels are KindOther.
func ChannelFromDiscord(c *discordgo.Channel) models.Channel {
	var kind models.ChannelKind
	switch c.Type {
	case discordgo.ChannelTypeGuildText, discordgo.ChannelTypeGuildNews:
		kind = models.KindText
	case discordgo.ChannelTypeGuildVoice:
		kind = models.KindVoice
	case discordgo.ChannelTypeGuildCategory:
		kind = models.KindCategory
	default:
		kind = models.KindOther
	}
	return models.Channel{
		ID:        c.ID,
		Name:      c.Name,
		Kind:      kind,
		ParentID:  c.ParentID,
		UserLimit: c.UserLimit,
		Position:  c.Position,
	}
}

// MessageFromDiscord converts a gateway message event.
func MessageFromDiscord(m *discordgo.Message) models.Message {
	msg := models.Message{
		ID:        m.ID,
		GuildID:   m.GuildID,
		ChannelID: m.ChannelID,
		Content:   m.Content,
		Timestamp: m.Timestamp,
	}
	if m.Author != nil {
		msg.Author = models.User{
			ID:          m.Author.ID,
			Username:    m.Author.Username,
			DisplayName: m.Author.GlobalName,
			Bot:         m.Author.Bot,
		}
	}
	return msg
}

func roleFromDiscord(r *discordgo.Role) models.Role {
	return models.Role{
		ID:          r.ID,
		Name:        r.Name,
		Color:       r.Color,
		Permissions: r.Permissions,
		Managed:     r.Managed,
		Position:    r.Position,
	}
}

// wrap converts REST failures into PlatformError so privilege failures
// match errors.ErrForbidden.
func wrap(op, entity string, err error) error {
	pe := &errors.PlatformError{Op: op, Entity: entity, Err: err}

	var rest *discordgo.RESTError
	if errors.As(err, &rest) {
		if rest.Response != nil {
			pe.StatusCode = rest.Response.StatusCode
		}
		if rest.Message != nil {
			pe.Code = rest.Message.Code
			if rest.Message.Code == discordgo.ErrCodeMissingPermissions || rest.Message.Code == discordgo.ErrCodeMissingAccess {
				pe.StatusCode = http.StatusForbidden
			}
		}
	}
	return pe
}
