package models

import "fmt"

// ChannelKind is the explicit variant of a guild channel.
type ChannelKind int

const (
	KindOther ChannelKind = iota
	KindText
	KindVoice
	KindCategory
)

// Wire values used by template documents and the platform API.
const (
	WireText     = 0
	WireVoice    = 2
	WireCategory = 4
)

// KindFromWire maps a template/platform channel type number to a kind.
func KindFromWire(t int) ChannelKind {
	switch t {
	case WireText:
		return KindText
	case WireVoice:
		return KindVoice
	case WireCategory:
		return KindCategory
	default:
		return KindOther
	}
}

// Wire returns the numeric type, or -1 for KindOther.
func (k ChannelKind) Wire() int {
	switch k {
	case KindText:
		return WireText
	case KindVoice:
		return WireVoice
	case KindCategory:
		return WireCategory
	default:
		return -1
	}
}

func (k ChannelKind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindVoice:
		return "voice"
	case KindCategory:
		return "category"
	default:
		return "other"
	}
}

// Channel is a live guild channel, category included.
type Channel struct {
	ID        string      `json:"id"`
	Name      string      `json:"name"`
	Kind      ChannelKind `json:"kind"`
	ParentID  string      `json:"parent_id,omitempty"` // Owning category, if any
	UserLimit int         `json:"user_limit,omitempty"`
	Position  int         `json:"position"`
}

func (c Channel) String() string {
	return fmt.Sprintf("%s %q (%s)", c.Kind, c.Name, c.ID)
}

// IsCategory reports whether the channel is a category.
func (c Channel) IsCategory() bool { return c.Kind == KindCategory }

// IsTextOrVoice reports whether the channel is a plain text or voice channel.
func (c Channel) IsTextOrVoice() bool { return c.Kind == KindText || c.Kind == KindVoice }

// ChannelParams describes a channel to create.
type ChannelParams struct {
	Name      string
	Kind      ChannelKind
	ParentID  string
	UserLimit int
}
