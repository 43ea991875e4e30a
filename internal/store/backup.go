package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/MattCruikshank/templatebot/internal/errors"
	"github.com/MattCruikshank/templatebot/internal/models"
)

// Backups writes the single backup document. Each write replaces the
// previous one.
type Backups struct {
	path string
}

// NewBackups returns a backup store writing to path.
func NewBackups(path string) *Backups {
	return &Backups{path: path}
}

// Path returns the backup file path.
func (b *Backups) Path() string {
	return b.path
}

// Write serialises backup with four-space indentation, creating parent
// directories as needed.
func (b *Backups) Write(backup *models.Backup) error {
	if backup.Roles == nil {
		backup.Roles = []models.BackupRole{}
	}
	if backup.Channels == nil {
		backup.Channels = []models.BackupChannel{}
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", indent)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(backup); err != nil {
		return fmt.Errorf("failed to encode backup: %w", err)
	}

	if dir := filepath.Dir(b.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create backup directory: %w", err)
		}
	}
	if err := os.WriteFile(b.path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("failed to write backup: %w", err)
	}
	return nil
}

// Read loads the last backup written.
func (b *Backups) Read() (*models.Backup, error) {
	data, err := os.ReadFile(b.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NewNotFoundError("backup", b.path)
		}
		return nil, fmt.Errorf("failed to read backup: %w", err)
	}

	var backup models.Backup
	if err := json.Unmarshal(data, &backup); err != nil {
		return nil, fmt.Errorf("failed to parse backup: %w", err)
	}
	return &backup, nil
}
