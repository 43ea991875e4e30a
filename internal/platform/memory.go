package platform

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/google/uuid"

	"github.com/MattCruikshank/templatebot/internal/errors"
	"github.com/MattCruikshank/templatebot/internal/models"
)

// Op names a mutating Memory call, used for fault injection.
type Op string

const (
	OpCreateChannel Op = "create_channel"
	OpCreateRole    Op = "create_role"
	OpDeleteChannel Op = "delete_channel"
	OpDeleteRole    Op = "delete_role"
)

// SentMessage is a message recorded by Memory.SendMessage.
type SentMessage struct {
	ChannelID string
	Content   string
}

// Memory is an in-memory guild. It follows Discord's rules where the
// reconciler depends on them: the default role shares the guild ID and
// deleting a category leaves its children without a parent.
type Memory struct {
	guildID string

	mu        sync.Mutex
	channels  []models.Channel
	roles     []models.Role
	messages  []SentMessage
	failures  map[Op]map[string]error
	mutations int
}

// NewMemory creates a guild holding only the default role.
func NewMemory(guildID string) *Memory {
	return &Memory{
		guildID:  guildID,
		roles:    []models.Role{{ID: guildID, Name: "@everyone"}},
		failures: make(map[Op]map[string]error),
	}
}

// NewMemoryFromBackup seeds a guild from a backup document. Channels come
// back without parents since backups do not record them.
func NewMemoryFromBackup(guildID string, backup *models.Backup) (*Memory, error) {
	m := NewMemory(guildID)
	for _, r := range backup.Roles {
		spec := models.RoleSpec{Name: r.Name, Color: r.Color, Permissions: r.Permissions}
		color, err := spec.ParseColor()
		if err != nil {
			return nil, err
		}
		perms, err := spec.ParsePermissions()
		if err != nil {
			return nil, err
		}
		m.AddRole(models.Role{Name: r.Name, Color: color, Permissions: perms})
	}
	for _, c := range backup.Channels {
		m.AddChannel(models.Channel{Name: c.Name, Kind: models.KindFromBackupType(c.Type)})
	}
	return m, nil
}

// GuildID returns the guild's ID.
func (m *Memory) GuildID() string {
	return m.guildID
}

// AddChannel seeds a channel without counting it as a mutation.
func (m *Memory) AddChannel(c models.Channel) models.Channel {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	c.Position = len(m.channels)
	m.channels = append(m.channels, c)
	return c
}

// AddRole seeds a role without counting it as a mutation.
func (m *Memory) AddRole(r models.Role) models.Role {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	r.Position = len(m.roles)
	m.roles = append(m.roles, r)
	return r
}

// Fail makes op on the entity called name return err.
func (m *Memory) Fail(op Op, name string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failures[op] == nil {
		m.failures[op] = make(map[string]error)
	}
	m.failures[op][name] = err
}

// Forbid makes op on the entity called name fail with a privilege error.
func (m *Memory) Forbid(op Op, name string) {
	m.Fail(op, name, &errors.PlatformError{
		Op:         string(op),
		Entity:     name,
		StatusCode: http.StatusForbidden,
		Code:       50013,
		Err:        errors.New("Missing Permissions"),
	})
}

// Mutations counts successful create and delete calls.
func (m *Memory) Mutations() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mutations
}

// Messages returns every message sent so far.
func (m *Memory) Messages() []SentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SentMessage(nil), m.messages...)
}

// Roles implements Guild.
func (m *Memory) Roles(ctx context.Context, guildID string) ([]models.Role, error) {
	if err := m.check(ctx, guildID); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.Role(nil), m.roles...), nil
}

// Channels implements Guild.
func (m *Memory) Channels(ctx context.Context, guildID string) ([]models.Channel, error) {
	if err := m.check(ctx, guildID); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.Channel(nil), m.channels...), nil
}

// CreateChannel implements Guild.
func (m *Memory) CreateChannel(ctx context.Context, guildID string, params models.ChannelParams) (models.Channel, error) {
	if err := m.check(ctx, guildID); err != nil {
		return models.Channel{}, err
	}
	if params.Kind == models.KindOther {
		return models.Channel{}, errors.NewValidationError("kind", params.Kind, "cannot create channel of kind other")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure(OpCreateChannel, params.Name); err != nil {
		return models.Channel{}, err
	}
	if params.ParentID != "" && m.channelIndex(params.ParentID) < 0 {
		return models.Channel{}, &errors.PlatformError{Op: "create channel", Entity: params.Name, StatusCode: http.StatusBadRequest, Err: fmt.Errorf("unknown parent %s", params.ParentID)}
	}

	c := models.Channel{
		ID:       uuid.NewString(),
		Name:     params.Name,
		Kind:     params.Kind,
		ParentID: params.ParentID,
		Position: len(m.channels),
	}
	if params.Kind == models.KindVoice {
		c.UserLimit = params.UserLimit
	}
	m.channels = append(m.channels, c)
	m.mutations++
	return c, nil
}

// CreateRole implements Guild.
func (m *Memory) CreateRole(ctx context.Context, guildID string, params models.RoleParams) (models.Role, error) {
	if err := m.check(ctx, guildID); err != nil {
		return models.Role{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure(OpCreateRole, params.Name); err != nil {
		return models.Role{}, err
	}

	r := models.Role{
		ID:          uuid.NewString(),
		Name:        params.Name,
		Color:       params.Color,
		Permissions: params.Permissions,
		Position:    len(m.roles),
	}
	m.roles = append(m.roles, r)
	m.mutations++
	return r, nil
}

// DeleteChannel implements Guild. Children of a deleted category are kept
// and lose their parent.
func (m *Memory) DeleteChannel(ctx context.Context, guildID, channelID string) error {
	if err := m.check(ctx, guildID); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.channelIndex(channelID)
	if i < 0 {
		return &errors.PlatformError{Op: "delete channel", Entity: channelID, StatusCode: http.StatusNotFound, Err: errors.ErrNotFound}
	}
	if err := m.failure(OpDeleteChannel, m.channels[i].Name); err != nil {
		return err
	}

	m.channels = append(m.channels[:i], m.channels[i+1:]...)
	for j := range m.channels {
		if m.channels[j].ParentID == channelID {
			m.channels[j].ParentID = ""
		}
	}
	m.mutations++
	return nil
}

// DeleteRole implements Guild. The default role cannot be deleted.
func (m *Memory) DeleteRole(ctx context.Context, guildID, roleID string) error {
	if err := m.check(ctx, guildID); err != nil {
		return err
	}
	if models.IsDefaultRole(guildID, roleID) {
		return &errors.PlatformError{Op: "delete role", Entity: roleID, StatusCode: http.StatusBadRequest, Err: errors.New("cannot delete the default role")}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	i := -1
	for j, r := range m.roles {
		if r.ID == roleID {
			i = j
			break
		}
	}
	if i < 0 {
		return &errors.PlatformError{Op: "delete role", Entity: roleID, StatusCode: http.StatusNotFound, Err: errors.ErrNotFound}
	}
	if err := m.failure(OpDeleteRole, m.roles[i].Name); err != nil {
		return err
	}

	m.roles = append(m.roles[:i], m.roles[i+1:]...)
	m.mutations++
	return nil
}

// SendMessage implements Messenger.
func (m *Memory) SendMessage(ctx context.Context, channelID, content string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, SentMessage{ChannelID: channelID, Content: content})
	return nil
}

func (m *Memory) check(ctx context.Context, guildID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if guildID != m.guildID {
		return &errors.PlatformError{Op: "lookup guild", Entity: guildID, StatusCode: http.StatusNotFound, Err: errors.ErrNotFound}
	}
	return nil
}

func (m *Memory) failure(op Op, name string) error {
	return m.failures[op][name]
}

func (m *Memory) channelIndex(id string) int {
	for i, c := range m.channels {
		if c.ID == id {
			return i
		}
	}
	return -1
}
