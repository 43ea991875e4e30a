package models

import (
	"fmt"
	"strconv"
	"strings"
)

// Template describes the desired categories, channels and roles of a guild.
type Template struct {
	Roles    []RoleSpec    `json:"roles"`
	Channels []ChannelSpec `json:"channels"`
}

// RoleSpec is a role entry of a template.
type RoleSpec struct {
	Name        string `json:"name"`
	Color       string `json:"color"`       // "#RRGGBB"
	Permissions string `json:"permissions"` // decimal bitmask
}

// ChannelSpec is a channel entry of a template. Channels is only meaningful
// for categories and UserLimit only for voice channels.
type ChannelSpec struct {
	Name      string        `json:"name"`
	Type      int           `json:"type"`
	Channels  []ChannelSpec `json:"channels,omitempty"`
	UserLimit int           `json:"user_limit,omitempty"`
}

// Kind returns the channel variant of the entry.
func (c ChannelSpec) Kind() ChannelKind {
	return KindFromWire(c.Type)
}

// ParseColor parses "#RRGGBB" (the leading '#' is optional).
func (r RoleSpec) ParseColor() (int, error) {
	hex := strings.TrimPrefix(strings.TrimSpace(r.Color), "#")
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return 0, fmt.Errorf("role %q: invalid color %q: %w", r.Name, r.Color, err)
	}
	return int(v), nil
}

// ParsePermissions parses the decimal permission bitmask.
func (r RoleSpec) ParsePermissions() (int64, error) {
	v, err := strconv.ParseInt(strings.TrimSpace(r.Permissions), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("role %q: invalid permissions %q: %w", r.Name, r.Permissions, err)
	}
	return v, nil
}

// Issues lists problems a run would hit. An empty list means the template
// can be applied. Entries the reconciler silently ignores (unknown types,
// nested entries under non-categories) are reported too.
func (t *Template) Issues() []string {
	var issues []string

	for i, ch := range t.Channels {
		where := fmt.Sprintf("channels[%d]", i)
		if ch.Name == "" {
			issues = append(issues, where+": name is empty")
		}
		if ch.Kind() != KindCategory {
			issues = append(issues, fmt.Sprintf("%s: top-level entry %q has type %d and will be ignored (only categories are applied)", where, ch.Name, ch.Type))
			continue
		}
		for j, sub := range ch.Channels {
			subWhere := fmt.Sprintf("%s.channels[%d]", where, j)
			if sub.Name == "" {
				issues = append(issues, subWhere+": name is empty")
			}
			switch sub.Kind() {
			case KindText, KindVoice:
			default:
				issues = append(issues, fmt.Sprintf("%s: entry %q has type %d and will be ignored", subWhere, sub.Name, sub.Type))
			}
			if sub.UserLimit < 0 {
				issues = append(issues, subWhere+": user_limit is negative")
			}
		}
	}

	for i, r := range t.Roles {
		where := fmt.Sprintf("roles[%d]", i)
		if r.Name == "" {
			issues = append(issues, where+": name is empty")
		}
		if _, err := r.ParseColor(); err != nil {
			issues = append(issues, fmt.Sprintf("%s: %v", where, err))
		}
		if _, err := r.ParsePermissions(); err != nil {
			issues = append(issues, fmt.Sprintf("%s: %v", where, err))
		}
	}

	return issues
}
