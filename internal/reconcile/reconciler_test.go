package reconcile

import (
	"context"
	"path/filepath"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MattCruikshank/templatebot/internal/errors"
	"github.com/MattCruikshank/templatebot/internal/logging"
	"github.com/MattCruikshank/templatebot/internal/models"
	"github.com/MattCruikshank/templatebot/internal/platform"
	"github.com/MattCruikshank/templatebot/internal/store"
)

const (
	guildID   = "900"
	voiceName = "╔═•【VOZ】•═╗"
)

type eventLog struct {
	mu     sync.Mutex
	events []models.Event
}

func (l *eventLog) Report(_ context.Context, ev models.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) ofType(t models.EventType) []models.Event {
	var out []models.Event
	for _, ev := range l.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

func newReconciler(t *testing.T, g platform.Guild) (*Reconciler, *store.Backups) {
	t.Helper()
	backups := store.NewBackups(filepath.Join(t.TempDir(), "backup", "backup.json"))
	nop := logging.Nop
	return New(g, backups, WithVoiceCategory(voiceName), WithLogger(&nop)), backups
}

// seededGuild returns a guild with a legacy layout.
func seededGuild() *platform.Memory {
	m := platform.NewMemory(guildID)
	old := m.AddChannel(models.Channel{Name: "Old", Kind: models.KindCategory})
	m.AddChannel(models.Channel{Name: "old-chat", Kind: models.KindText, ParentID: old.ID})
	m.AddChannel(models.Channel{Name: "Old Voice", Kind: models.KindVoice, ParentID: old.ID, UserLimit: 2})
	m.AddChannel(models.Channel{Name: "loose", Kind: models.KindText})
	m.AddRole(models.Role{Name: "Veteran", Color: 0xabcdef, Permissions: 1024})
	return m
}

func sampleTemplate() *models.Template {
	return &models.Template{
		Roles: []models.RoleSpec{
			{Name: "Admin", Color: "#ff0000", Permissions: "8"},
			{Name: "Member", Color: "#00ff00", Permissions: "1024"},
		},
		Channels: []models.ChannelSpec{
			{Name: "General", Type: models.WireCategory, Channels: []models.ChannelSpec{
				{Name: "chat", Type: models.WireText},
				{Name: "Lounge", Type: models.WireVoice, UserLimit: 5},
			}},
			{Name: "Gaming", Type: models.WireCategory, Channels: []models.ChannelSpec{
				{Name: "clips", Type: models.WireText},
				{Name: "Squad", Type: models.WireVoice},
			}},
		},
	}
}

// shape is a comparable description of a guild.
type shape struct {
	Channels []string
	Roles    []string
}

func guildShape(t *testing.T, g platform.Guild) shape {
	t.Helper()
	ctx := context.Background()
	channels, err := g.Channels(ctx, guildID)
	require.NoError(t, err)
	roles, err := g.Roles(ctx, guildID)
	require.NoError(t, err)

	names := make(map[string]string)
	for _, c := range channels {
		names[c.ID] = c.Name
	}

	var s shape
	for _, c := range channels {
		s.Channels = append(s.Channels, c.Kind.String()+":"+names[c.ParentID]+"/"+c.Name)
	}
	for _, r := range roles {
		s.Roles = append(s.Roles, r.Name+":"+r.HexColor())
	}
	sort.Strings(s.Channels)
	sort.Strings(s.Roles)
	return s
}

func find(t *testing.T, g platform.Guild, name string) models.Channel {
	t.Helper()
	channels, err := g.Channels(context.Background(), guildID)
	require.NoError(t, err)
	for _, c := range channels {
		if c.Name == name {
			return c
		}
	}
	t.Fatalf("channel %q not found", name)
	return models.Channel{}
}

func TestApply_ReplacesStructure(t *testing.T) {
	ctx := context.Background()
	g := seededGuild()
	r, backups := newReconciler(t, g)
	events := &eventLog{}

	res, err := r.Apply(ctx, guildID, sampleTemplate(), events)
	require.NoError(t, err)

	assert.Equal(t, shape{
		Channels: []string{
			"category:/Gaming",
			"category:/General",
			"category:/" + voiceName,
			"text:Gaming/clips",
			"text:General/chat",
			"voice:" + voiceName + "/Lounge",
			"voice:" + voiceName + "/Squad",
		},
		Roles: []string{"@everyone:#000000", "Admin:#ff0000", "Member:#00ff00"},
	}, guildShape(t, g))

	assert.Equal(t, []string{"General", voiceName, "Gaming"}, res.Names(OpCreate, models.EntityCategory))
	assert.Equal(t, []string{"Lounge", "Squad"}, res.Names(OpCreate, models.EntityVoice))
	assert.Equal(t, []string{"Old"}, res.Names(OpDelete, models.EntityCategory))
	assert.ElementsMatch(t, []string{"old-chat", "Old Voice", "loose"},
		append(res.Names(OpDelete, models.EntityText), res.Names(OpDelete, models.EntityVoice)...))
	assert.Equal(t, []string{"Veteran"}, res.Names(OpDelete, models.EntityRole))
	assert.Empty(t, res.Skipped())
	assert.NotEmpty(t, res.RunID)

	lounge := find(t, g, "Lounge")
	assert.Equal(t, 5, lounge.UserLimit)
	assert.Equal(t, 0, find(t, g, "Squad").UserLimit)

	// The backup reflects the state before the run.
	backup, err := backups.Read()
	require.NoError(t, err)
	assert.Equal(t, []models.BackupRole{{Name: "Veteran", Color: "#abcdef", Permissions: "1024"}}, backup.Roles)
	assert.Equal(t, []models.BackupChannel{
		{Name: "Old", Type: "category"},
		{Name: "old-chat", Type: "text"},
		{Name: "Old Voice", Type: "voice"},
		{Name: "loose", Type: "text"},
	}, backup.Channels)

	require.NotEmpty(t, events.events)
	assert.Equal(t, models.EventRunStarted, events.events[0].Type)
	assert.Equal(t, models.EventRunFinished, events.events[len(events.events)-1].Type)
	for _, ev := range events.events {
		assert.Equal(t, res.RunID, ev.RunID)
		assert.Equal(t, guildID, ev.GuildID)
	}
	assert.Len(t, events.ofType(models.EventCreated), 9)
}

func TestApply_SingleCategoryScenario(t *testing.T) {
	ctx := context.Background()
	g := platform.NewMemory(guildID)
	prior := g.AddChannel(models.Channel{Name: "welcome", Kind: models.KindText})
	r, backups := newReconciler(t, g)

	tmpl := &models.Template{Channels: []models.ChannelSpec{
		{Name: "Hub", Type: models.WireCategory, Channels: []models.ChannelSpec{
			{Name: "talk", Type: models.WireText},
			{Name: "Voice Room", Type: models.WireVoice, UserLimit: 5},
		}},
	}}

	_, err := r.Apply(ctx, guildID, tmpl, nil)
	require.NoError(t, err)

	hub := find(t, g, "Hub")
	talk := find(t, g, "talk")
	assert.Equal(t, hub.ID, talk.ParentID)

	voice := find(t, g, "Voice Room")
	assert.Equal(t, 5, voice.UserLimit)
	assert.Equal(t, find(t, g, voiceName).ID, voice.ParentID)

	channels, _ := g.Channels(ctx, guildID)
	for _, c := range channels {
		assert.NotEqual(t, prior.ID, c.ID)
	}

	backup, err := backups.Read()
	require.NoError(t, err)
	assert.Empty(t, backup.Roles)
	assert.Equal(t, []models.BackupChannel{{Name: "welcome", Type: "text"}}, backup.Channels)
}

func TestApply_Idempotent(t *testing.T) {
	ctx := context.Background()
	g := seededGuild()
	r, _ := newReconciler(t, g)

	_, err := r.Apply(ctx, guildID, sampleTemplate(), nil)
	require.NoError(t, err)
	first := guildShape(t, g)

	res, err := r.Apply(ctx, guildID, sampleTemplate(), nil)
	require.NoError(t, err)
	assert.Equal(t, first, guildShape(t, g))

	// The voice category from the first run is reused, not recreated.
	assert.Equal(t, []string{"General", "Gaming"}, res.Names(OpCreate, models.EntityCategory))
	assert.Equal(t, []string{voiceName}, res.Names(OpKeep, models.EntityCategory))
}

func TestApply_VoiceCategoryCreatedOnce(t *testing.T) {
	g := platform.NewMemory(guildID)
	r, _ := newReconciler(t, g)

	tmpl := &models.Template{Channels: []models.ChannelSpec{
		{Name: "A", Type: models.WireCategory, Channels: []models.ChannelSpec{
			{Name: "v1", Type: models.WireVoice},
			{Name: "v2", Type: models.WireVoice},
		}},
		{Name: "B", Type: models.WireCategory, Channels: []models.ChannelSpec{
			{Name: "v3", Type: models.WireVoice, UserLimit: 10},
		}},
	}}

	res, err := r.Apply(context.Background(), guildID, tmpl, nil)
	require.NoError(t, err)

	n := 0
	for _, name := range res.Names(OpCreate, models.EntityCategory) {
		if name == voiceName {
			n++
		}
	}
	assert.Equal(t, 1, n)

	var details []string
	for _, a := range res.Journal {
		if a.Op == OpCreate && a.Entity == models.EntityCategory {
			details = append(details, a.Reason)
		}
	}
	assert.Equal(t, []string{"", DetailVoiceCategory, ""}, details)

	voiceCat := find(t, g, voiceName)
	for _, name := range []string{"v1", "v2", "v3"} {
		assert.Equal(t, voiceCat.ID, find(t, g, name).ParentID, name)
	}
}

func TestApply_ExistingVoiceCategoryKept(t *testing.T) {
	g := platform.NewMemory(guildID)
	existing := g.AddChannel(models.Channel{Name: voiceName, Kind: models.KindCategory})
	g.AddChannel(models.Channel{Name: "stale voice", Kind: models.KindVoice, ParentID: existing.ID})
	r, _ := newReconciler(t, g)

	tmpl := &models.Template{Channels: []models.ChannelSpec{
		{Name: "A", Type: models.WireCategory, Channels: []models.ChannelSpec{{Name: "v", Type: models.WireVoice}}},
	}}
	res, err := r.Apply(context.Background(), guildID, tmpl, nil)
	require.NoError(t, err)

	assert.Equal(t, existing.ID, find(t, g, voiceName).ID)
	assert.Equal(t, existing.ID, find(t, g, "v").ParentID)
	assert.Equal(t, []string{"stale voice"}, res.Names(OpDelete, models.EntityVoice))
}

func TestApply_DefaultRoleUntouched(t *testing.T) {
	g := seededGuild()
	r, backups := newReconciler(t, g)

	_, err := r.Apply(context.Background(), guildID, &models.Template{}, nil)
	require.NoError(t, err)

	roles, err := g.Roles(context.Background(), guildID)
	require.NoError(t, err)
	require.Len(t, roles, 1)
	assert.Equal(t, guildID, roles[0].ID)

	backup, err := backups.Read()
	require.NoError(t, err)
	for _, role := range backup.Roles {
		assert.NotEqual(t, "@everyone", role.Name)
	}
}

func TestApply_PrivilegeFailuresAreSkipped(t *testing.T) {
	ctx := context.Background()
	g := seededGuild()
	g.AddRole(models.Role{Name: "Admin", Color: 0x111111})
	g.Forbid(platform.OpCreateRole, "Admin")
	g.Forbid(platform.OpDeleteRole, "Veteran")
	g.Forbid(platform.OpDeleteChannel, "Old")
	g.Forbid(platform.OpDeleteChannel, "loose")
	r, _ := newReconciler(t, g)
	events := &eventLog{}

	res, err := r.Apply(ctx, guildID, sampleTemplate(), events)
	require.NoError(t, err)

	skipped := res.Skipped()
	require.Len(t, skipped, 4)
	assert.Equal(t, models.EntityRole, skipped[0].Entity)
	assert.Equal(t, "Admin", skipped[0].Name)
	assert.Len(t, events.ofType(models.EventSkipped), 4)

	s := guildShape(t, g)
	assert.Contains(t, s.Channels, "category:/Old")
	assert.Contains(t, s.Channels, "text:/loose")
	assert.NotContains(t, s.Channels, "text:/old-chat")
	assert.Contains(t, s.Roles, "Veteran:#abcdef")
	assert.Contains(t, s.Roles, "Member:#00ff00")

	// The pre-existing Admin role survives because its replacement was refused.
	assert.Contains(t, s.Roles, "Admin:#111111")
	assert.Equal(t, []string{"Admin"}, res.Names(OpKeep, models.EntityRole))
}

func TestApply_ManagedRolesKept(t *testing.T) {
	g := platform.NewMemory(guildID)
	g.AddRole(models.Role{Name: "TemplateBot", Managed: true})
	r, _ := newReconciler(t, g)

	res, err := r.Apply(context.Background(), guildID, &models.Template{}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"TemplateBot"}, res.Names(OpKeep, models.EntityRole))
	assert.Empty(t, res.Names(OpDelete, models.EntityRole))
}

func TestApply_CreationErrorAborts(t *testing.T) {
	g := seededGuild()
	g.Fail(platform.OpCreateChannel, "Gaming", errors.New("rate limited"))
	r, _ := newReconciler(t, g)
	events := &eventLog{}

	res, err := r.Apply(context.Background(), guildID, sampleTemplate(), events)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "create channels")
	require.NotNil(t, res)

	// Nothing was deleted and no role was created.
	assert.Zero(t, res.Count(OpDelete))
	assert.Empty(t, res.Names(OpCreate, models.EntityRole))
	assert.Contains(t, guildShape(t, g).Channels, "category:/Old")
	assert.Len(t, events.ofType(models.EventRunFailed), 1)
}

func TestApply_ForbiddenCategoryCreationAborts(t *testing.T) {
	g := seededGuild()
	g.Forbid(platform.OpCreateChannel, "General")
	r, _ := newReconciler(t, g)

	_, err := r.Apply(context.Background(), guildID, sampleTemplate(), nil)
	assert.True(t, errors.IsForbidden(err))
}

func TestApply_InvalidColorAborts(t *testing.T) {
	g := seededGuild()
	r, _ := newReconciler(t, g)
	tmpl := &models.Template{Roles: []models.RoleSpec{{Name: "Bad", Color: "blue", Permissions: "0"}}}

	res, err := r.Apply(context.Background(), guildID, tmpl, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "create roles")
	assert.Zero(t, res.Count(OpDelete))
}

func TestApply_BackupFailureIsFatal(t *testing.T) {
	g := seededGuild()
	dir := t.TempDir()
	// A file where the backup directory should be.
	blocker := filepath.Join(dir, "backup")
	require.NoError(t, store.NewBackups(blocker).Write(&models.Backup{}))

	nop := logging.Nop
	r := New(g, store.NewBackups(filepath.Join(blocker, "backup.json")), WithLogger(&nop))
	_, err := r.Apply(context.Background(), guildID, sampleTemplate(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "backup")
	assert.Equal(t, 0, g.Mutations())
}

func TestApply_IgnoresUnknownEntries(t *testing.T) {
	g := platform.NewMemory(guildID)
	r, _ := newReconciler(t, g)
	tmpl := &models.Template{Channels: []models.ChannelSpec{
		{Name: "top-text", Type: models.WireText},
		{Name: "Cat", Type: models.WireCategory, Channels: []models.ChannelSpec{{Name: "forum", Type: 15}}},
	}}

	res, err := r.Apply(context.Background(), guildID, tmpl, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Count(OpCreate))
}

func TestApply_CanceledContext(t *testing.T) {
	g := seededGuild()
	r, _ := newReconciler(t, g)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Apply(ctx, guildID, sampleTemplate(), nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, g.Mutations())
}

func TestSnapshot(t *testing.T) {
	backup := Snapshot(guildID,
		[]models.Role{{ID: guildID, Name: "@everyone"}, {ID: "1", Name: "Mod", Color: 0x0000ff, Permissions: 8}},
		[]models.Channel{{Name: "stage", Kind: models.KindOther}},
	)
	assert.Equal(t, []models.BackupRole{{Name: "Mod", Color: "#0000ff", Permissions: "8"}}, backup.Roles)
	assert.Equal(t, []models.BackupChannel{{Name: "stage", Type: "category"}}, backup.Channels)
}
