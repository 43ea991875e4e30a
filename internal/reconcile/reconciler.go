// Package reconcile applies a template to a guild: it snapshots the guild
// to a backup, creates the template's categories, channels and roles, then
// deletes everything that existed before and was not created by the run.
//
// Each step completes before the next starts and nothing is rolled back.
// Privilege failures on role creation and on deletions are logged and
// skipped; any other platform error aborts the run where it happened.
package reconcile

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/MattCruikshank/templatebot/internal/config"
	"github.com/MattCruikshank/templatebot/internal/errors"
	"github.com/MattCruikshank/templatebot/internal/logging"
	"github.com/MattCruikshank/templatebot/internal/models"
	"github.com/MattCruikshank/templatebot/internal/platform"
	"github.com/MattCruikshank/templatebot/internal/store"
)

// DetailVoiceCategory marks events and journal entries about the shared
// voice category, as opposed to categories named by the template.
const DetailVoiceCategory = "voice category"

// Reporter receives progress events.
type Reporter interface {
	Report(ctx context.Context, ev models.Event)
}

// ReporterFunc adapts a function to Reporter.
type ReporterFunc func(ctx context.Context, ev models.Event)

// Report implements Reporter.
func (f ReporterFunc) Report(ctx context.Context, ev models.Event) { f(ctx, ev) }

// Reporters fans an event out to several reporters.
type Reporters []Reporter

// Report implements Reporter.
func (rs Reporters) Report(ctx context.Context, ev models.Event) {
	for _, r := range rs {
		if r != nil {
			r.Report(ctx, ev)
		}
	}
}

// Reconciler applies templates to guilds.
type Reconciler struct {
	guild         platform.Guild
	backups       *store.Backups
	voiceCategory string
	logger        *zerolog.Logger
	now           func() time.Time
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithVoiceCategory sets the name of the category that holds every voice
// channel created by a run.
func WithVoiceCategory(name string) Option {
	return func(r *Reconciler) { r.voiceCategory = name }
}

// WithLogger sets the logger.
func WithLogger(logger *zerolog.Logger) Option {
	return func(r *Reconciler) { r.logger = logger }
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) { r.now = now }
}

// New creates a Reconciler.
func New(guild platform.Guild, backups *store.Backups, opts ...Option) *Reconciler {
	r := &Reconciler{
		guild:         guild,
		backups:       backups,
		voiceCategory: config.DefaultVoiceCategory,
		logger:        logging.Default(),
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// run holds the state of one Apply call.
type run struct {
	*Reconciler
	guildID  string
	reporter Reporter
	logger   zerolog.Logger
	result   *Result

	createdChannels map[string]bool // categories, text and voice channels
	createdRoles    map[string]bool
	skippedRoles    map[string]bool // names whose creation was refused
	voiceCategoryID string
}

// Apply reconciles guildID against tmpl. The returned Result is non-nil
// even when err is not, and journals whatever was committed before the
// failure.
func (r *Reconciler) Apply(ctx context.Context, guildID string, tmpl *models.Template, reporter Reporter) (*Result, error) {
	if reporter == nil {
		reporter = Reporters(nil)
	}

	res := &Result{
		RunID:      uuid.NewString(),
		GuildID:    guildID,
		BackupPath: r.backups.Path(),
		StartedAt:  r.now(),
	}
	x := &run{
		Reconciler:      r,
		guildID:         guildID,
		reporter:        reporter,
		logger:          r.logger.With().Str("run_id", res.RunID).Str("guild_id", guildID).Logger(),
		result:          res,
		createdChannels: make(map[string]bool),
		createdRoles:    make(map[string]bool),
		skippedRoles:    make(map[string]bool),
	}

	x.emit(ctx, models.Event{Type: models.EventRunStarted})
	x.logger.Info().Int("roles", len(tmpl.Roles)).Int("channels", len(tmpl.Channels)).Msg("Applying template")

	err := x.apply(ctx, tmpl)
	res.FinishedAt = r.now()

	if err != nil {
		x.logger.Error().Err(err).Int("actions", len(res.Journal)).Msg("Template run aborted")
		x.emit(ctx, models.Event{Type: models.EventRunFailed, Detail: err.Error()})
		return res, err
	}

	x.logger.Info().
		Int("created", res.Count(OpCreate)).
		Int("deleted", res.Count(OpDelete)).
		Int("skipped", res.Count(OpSkip)).
		Dur("took", res.FinishedAt.Sub(res.StartedAt)).
		Msg("Template applied")
	x.emit(ctx, models.Event{Type: models.EventRunFinished})
	return res, nil
}

func (x *run) apply(ctx context.Context, tmpl *models.Template) error {
	steps := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"backup", x.snapshot},
		{"create channels", func(ctx context.Context) error { return x.createChannels(ctx, tmpl.Channels) }},
		{"create roles", func(ctx context.Context) error { return x.createRoles(ctx, tmpl.Roles) }},
		{"delete categories", x.deleteCategories},
		{"delete channels", x.deleteChannels},
		{"delete roles", x.deleteRoles},
	}

	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%s: %w", step.name, err)
		}
		if err := step.fn(ctx); err != nil {
			return fmt.Errorf("%s: %w", step.name, err)
		}
	}
	return nil
}

// snapshot writes the pre-run state of the guild to the backup file.
func (x *run) snapshot(ctx context.Context) error {
	roles, err := x.guild.Roles(ctx, x.guildID)
	if err != nil {
		return err
	}
	channels, err := x.guild.Channels(ctx, x.guildID)
	if err != nil {
		return err
	}

	backup := Snapshot(x.guildID, roles, channels)
	if err := x.backups.Write(backup); err != nil {
		return err
	}

	x.logger.Info().Str("path", x.backups.Path()).Int("roles", len(backup.Roles)).Int("channels", len(backup.Channels)).Msg("Guild backup saved")
	x.emit(ctx, models.Event{Type: models.EventBackedUp, Detail: x.backups.Path()})
	return nil
}

// Snapshot builds the backup document of a guild. The default role is left
// out.
func Snapshot(guildID string, roles []models.Role, channels []models.Channel) *models.Backup {
	backup := &models.Backup{
		Roles:    make([]models.BackupRole, 0, len(roles)),
		Channels: make([]models.BackupChannel, 0, len(channels)),
	}
	for _, role := range roles {
		if models.IsDefaultRole(guildID, role.ID) {
			continue
		}
		backup.Roles = append(backup.Roles, models.BackupRole{
			Name:        role.Name,
			Color:       role.HexColor(),
			Permissions: strconv.FormatInt(role.Permissions, 10),
		})
	}
	for _, ch := range channels {
		backup.Channels = append(backup.Channels, models.BackupChannel{
			Name: ch.Name,
			Type: models.BackupType(ch.Kind),
		})
	}
	return backup
}

// createChannels creates the template's categories in document order, each
// followed by its nested text and voice channels. Creation errors are not
// guarded.
func (x *run) createChannels(ctx context.Context, specs []models.ChannelSpec) error {
	for _, spec := range specs {
		if spec.Kind() != models.KindCategory {
			x.logger.Debug().Str("name", spec.Name).Int("type", spec.Type).Msg("Ignoring top-level entry that is not a category")
			continue
		}

		cat, err := x.createChannel(ctx, models.ChannelParams{Name: spec.Name, Kind: models.KindCategory}, "", "")
		if err != nil {
			return err
		}

		for _, sub := range spec.Channels {
			switch sub.Kind() {
			case models.KindText:
				if _, err := x.createChannel(ctx, models.ChannelParams{
					Name:     sub.Name,
					Kind:     models.KindText,
					ParentID: cat.ID,
				}, cat.Name, ""); err != nil {
					return err
				}

			case models.KindVoice:
				voiceCat, err := x.resolveVoiceCategory(ctx)
				if err != nil {
					return err
				}
				limit := sub.UserLimit
				if limit < 0 {
					limit = 0
				}
				if _, err := x.createChannel(ctx, models.ChannelParams{
					Name:      sub.Name,
					Kind:      models.KindVoice,
					ParentID:  voiceCat.ID,
					UserLimit: limit,
				}, voiceCat.Name, ""); err != nil {
					return err
				}

			default:
				x.logger.Debug().Str("name", sub.Name).Int("type", sub.Type).Str("category", spec.Name).Msg("Ignoring nested entry")
			}
		}
	}
	return nil
}

// createChannel creates one channel and records it. detail is attached to
// the journal entry and the event.
func (x *run) createChannel(ctx context.Context, params models.ChannelParams, parent, detail string) (models.Channel, error) {
	ch, err := x.guild.CreateChannel(ctx, x.guildID, params)
	if err != nil {
		return models.Channel{}, err
	}
	x.createdChannels[ch.ID] = true

	entity := models.EntityOf(params.Kind)
	x.result.record(Action{Op: OpCreate, Entity: entity, ID: ch.ID, Name: ch.Name, Reason: detail})
	x.logger.Info().Str("entity", string(entity)).Str("name", ch.Name).Str("parent", parent).Msg("Created")
	x.emit(ctx, models.Event{Type: models.EventCreated, Entity: entity, Name: ch.Name, ID: ch.ID, Parent: parent, Detail: detail})
	return ch, nil
}

// resolveVoiceCategory returns the well-known voice category, looking it up
// by exact name or creating it. It is resolved at most once per run; a
// pre-existing category found this way is kept.
func (x *run) resolveVoiceCategory(ctx context.Context) (models.Channel, error) {
	if x.voiceCategoryID != "" {
		return models.Channel{ID: x.voiceCategoryID, Name: x.voiceCategory, Kind: models.KindCategory}, nil
	}

	channels, err := x.guild.Channels(ctx, x.guildID)
	if err != nil {
		return models.Channel{}, err
	}
	for _, ch := range channels {
		if ch.IsCategory() && ch.Name == x.voiceCategory {
			x.voiceCategoryID = ch.ID
			if !x.createdChannels[ch.ID] {
				x.createdChannels[ch.ID] = true
				x.result.record(Action{Op: OpKeep, Entity: models.EntityCategory, ID: ch.ID, Name: ch.Name, Reason: DetailVoiceCategory})
				x.emit(ctx, models.Event{Type: models.EventKept, Entity: models.EntityCategory, Name: ch.Name, ID: ch.ID, Detail: DetailVoiceCategory})
			}
			return ch, nil
		}
	}

	ch, err := x.createChannel(ctx, models.ChannelParams{Name: x.voiceCategory, Kind: models.KindCategory}, "", DetailVoiceCategory)
	if err != nil {
		return models.Channel{}, err
	}
	x.voiceCategoryID = ch.ID
	return ch, nil
}

// createRoles creates the template's roles in order. Refused creations are
// skipped; malformed colours or permissions abort the run.
func (x *run) createRoles(ctx context.Context, specs []models.RoleSpec) error {
	for _, spec := range specs {
		color, err := spec.ParseColor()
		if err != nil {
			return err
		}
		perms, err := spec.ParsePermissions()
		if err != nil {
			return err
		}

		role, err := x.guild.CreateRole(ctx, x.guildID, models.RoleParams{Name: spec.Name, Color: color, Permissions: perms})
		if err != nil {
			if errors.IsForbidden(err) {
				x.skippedRoles[spec.Name] = true
				x.skip(ctx, models.EntityRole, "", spec.Name, "create", err)
				continue
			}
			return err
		}

		x.createdRoles[role.ID] = true
		x.result.record(Action{Op: OpCreate, Entity: models.EntityRole, ID: role.ID, Name: role.Name})
		x.logger.Info().Str("entity", "role").Str("name", role.Name).Msg("Created")
		x.emit(ctx, models.Event{Type: models.EventCreated, Entity: models.EntityRole, Name: role.Name, ID: role.ID})
	}
	return nil
}

func (x *run) deleteCategories(ctx context.Context) error {
	channels, err := x.guild.Channels(ctx, x.guildID)
	if err != nil {
		return err
	}
	for _, ch := range channels {
		if !ch.IsCategory() || x.createdChannels[ch.ID] {
			continue
		}
		if err := x.deleteChannel(ctx, ch); err != nil {
			return err
		}
	}
	return nil
}

func (x *run) deleteChannels(ctx context.Context) error {
	channels, err := x.guild.Channels(ctx, x.guildID)
	if err != nil {
		return err
	}
	for _, ch := range channels {
		if !ch.IsTextOrVoice() || x.createdChannels[ch.ID] {
			continue
		}
		if err := x.deleteChannel(ctx, ch); err != nil {
			return err
		}
	}
	return nil
}

func (x *run) deleteChannel(ctx context.Context, ch models.Channel) error {
	entity := models.EntityOf(ch.Kind)
	if err := x.guild.DeleteChannel(ctx, x.guildID, ch.ID); err != nil {
		if errors.IsForbidden(err) {
			x.skip(ctx, entity, ch.ID, ch.Name, "delete", err)
			return nil
		}
		return err
	}
	x.deleted(ctx, entity, ch.ID, ch.Name)
	return nil
}

// deleteRoles removes every role the run did not create, except the
// default role, roles managed by an integration, and roles sharing a name
// with a template role whose creation was refused.
func (x *run) deleteRoles(ctx context.Context) error {
	roles, err := x.guild.Roles(ctx, x.guildID)
	if err != nil {
		return err
	}
	for _, role := range roles {
		if x.createdRoles[role.ID] || models.IsDefaultRole(x.guildID, role.ID) {
			continue
		}

		var reason string
		switch {
		case role.Managed:
			reason = "managed by an integration"
		case x.skippedRoles[role.Name]:
			reason = "template role could not be recreated"
		}
		if reason != "" {
			x.result.record(Action{Op: OpKeep, Entity: models.EntityRole, ID: role.ID, Name: role.Name, Reason: reason})
			x.logger.Info().Str("name", role.Name).Str("reason", reason).Msg("Keeping role")
			x.emit(ctx, models.Event{Type: models.EventKept, Entity: models.EntityRole, Name: role.Name, ID: role.ID, Detail: reason})
			continue
		}

		if err := x.guild.DeleteRole(ctx, x.guildID, role.ID); err != nil {
			if errors.IsForbidden(err) {
				x.skip(ctx, models.EntityRole, role.ID, role.Name, "delete", err)
				continue
			}
			return err
		}
		x.deleted(ctx, models.EntityRole, role.ID, role.Name)
	}
	return nil
}

func (x *run) deleted(ctx context.Context, entity models.Entity, id, name string) {
	x.result.record(Action{Op: OpDelete, Entity: entity, ID: id, Name: name})
	x.logger.Info().Str("entity", string(entity)).Str("name", name).Msg("Deleted")
	x.emit(ctx, models.Event{Type: models.EventDeleted, Entity: entity, Name: name, ID: id})
}

func (x *run) skip(ctx context.Context, entity models.Entity, id, name, verb string, err error) {
	x.result.record(Action{Op: OpSkip, Entity: entity, ID: id, Name: name, Reason: verb + ": " + err.Error()})
	x.logger.Warn().Err(err).Str("entity", string(entity)).Str("name", name).Msgf("No permission to %s %s", verb, entity)
	x.emit(ctx, models.Event{Type: models.EventSkipped, Entity: entity, Name: name, ID: id, Detail: verb})
}

func (x *run) emit(ctx context.Context, ev models.Event) {
	ev.RunID = x.result.RunID
	ev.GuildID = x.guildID
	ev.Timestamp = x.now()
	x.reporter.Report(ctx, ev)
}
