// Package platform is the boundary between the bot and the chat platform.
// The reconciler only sees the Guild interface; Discord and an in-memory
// guild implement it.
package platform

import (
	"context"

	"github.com/MattCruikshank/templatebot/internal/models"
)

// Guild reads and mutates one guild's structure. Every call is a separate
// network round trip on a real platform and commits independently.
type Guild interface {
	Roles(ctx context.Context, guildID string) ([]models.Role, error)
	Channels(ctx context.Context, guildID string) ([]models.Channel, error)
	CreateChannel(ctx context.Context, guildID string, params models.ChannelParams) (models.Channel, error)
	CreateRole(ctx context.Context, guildID string, params models.RoleParams) (models.Role, error)
	DeleteChannel(ctx context.Context, guildID, channelID string) error
	DeleteRole(ctx context.Context, guildID, roleID string) error
}

// Messenger sends chat messages.
type Messenger interface {
	SendMessage(ctx context.Context, channelID, content string) error
}

// Platform is everything the bot needs from the chat platform.
type Platform interface {
	Guild
	Messenger
}
