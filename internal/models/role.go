package models

import "fmt"

// Role represents a live guild role.
type Role struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Color       int    `json:"color"`
	Permissions int64  `json:"permissions"`
	Managed     bool   `json:"managed"` // Owned by an integration
	Position    int    `json:"position"`
}

// HexColor renders the colour as "#rrggbb".
func (r Role) HexColor() string {
	return fmt.Sprintf("#%06x", r.Color&0xFFFFFF)
}

// RoleParams describes a role to create.
type RoleParams struct {
	Name        string
	Color       int
	Permissions int64
}
