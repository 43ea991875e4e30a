package models

// IsDefaultRole reports whether roleID is the guild's "everyone" role,
// which shares the guild's ID.
func IsDefaultRole(guildID, roleID string) bool {
	return guildID != "" && guildID == roleID
}
