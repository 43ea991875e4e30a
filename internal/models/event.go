package models

import "time"

// EventType identifies a reconciliation progress event.
type EventType string

const (
	EventRunStarted  EventType = "run_started"
	EventBackedUp    EventType = "backed_up"
	EventCreated     EventType = "created"
	EventDeleted     EventType = "deleted"
	EventSkipped     EventType = "skipped" // privilege failure, run continues
	EventKept        EventType = "kept"
	EventRunFinished EventType = "run_finished"
	EventRunFailed   EventType = "run_failed"
)

// Entity names the kind of guild object an event refers to.
type Entity string

const (
	EntityCategory Entity = "category"
	EntityText     Entity = "text"
	EntityVoice    Entity = "voice"
	EntityRole     Entity = "role"
)

// EntityOf maps a channel kind to its event entity.
func EntityOf(k ChannelKind) Entity {
	switch k {
	case KindCategory:
		return EntityCategory
	case KindVoice:
		return EntityVoice
	default:
		return EntityText
	}
}

// Event is emitted by the reconciler as a run progresses.
type Event struct {
	RunID     string    `json:"run_id"`
	GuildID   string    `json:"guild_id"`
	Type      EventType `json:"type"`
	Entity    Entity    `json:"entity,omitempty"`
	Name      string    `json:"name,omitempty"`
	ID        string    `json:"id,omitempty"`
	Parent    string    `json:"parent,omitempty"` // Parent category name
	Detail    string    `json:"detail,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
