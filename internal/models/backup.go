package models

// Backup snapshots a guild's roles and channels before a reconciliation run.
// It is written for manual recovery and never read back by the reconciler.
type Backup struct {
	Roles    []BackupRole    `json:"roles"`
	Channels []BackupChannel `json:"channels"`
}

// BackupRole is a role entry of a backup.
type BackupRole struct {
	Name        string `json:"name"`
	Color       string `json:"color"`
	Permissions string `json:"permissions"`
}

// BackupChannel is a channel entry of a backup. Type is "text", "voice"
// or "category"; anything that is neither text nor voice is recorded as
// "category".
type BackupChannel struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// BackupType returns the backup label of a channel kind.
func BackupType(k ChannelKind) string {
	switch k {
	case KindText:
		return "text"
	case KindVoice:
		return "voice"
	default:
		return "category"
	}
}

// KindFromBackupType is the inverse of BackupType.
func KindFromBackupType(s string) ChannelKind {
	switch s {
	case "text":
		return KindText
	case "voice":
		return KindVoice
	default:
		return KindCategory
	}
}
