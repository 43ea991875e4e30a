package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MattCruikshank/templatebot/internal/errors"
	"github.com/MattCruikshank/templatebot/internal/models"
)

func TestTemplates_SaveLoad(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "templates")
	s := NewTemplates(dir)

	raw := []byte(`{"roles":[{"name":"Mod","color":"#00ff00","permissions":"8"}],"channels":[{"name":"Info","type":4,"channels":[{"name":"rules","type":0}]}]}`)
	require.NoError(t, s.Save("community", raw))

	data, err := os.ReadFile(filepath.Join(dir, "community.json"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "\n    \"roles\": [\n        {")

	assert.True(t, s.Exists("community"))
	tmpl, err := s.Load("community")
	require.NoError(t, err)
	require.Len(t, tmpl.Roles, 1)
	assert.Equal(t, "Mod", tmpl.Roles[0].Name)
	require.Len(t, tmpl.Channels, 1)
	assert.Equal(t, "rules", tmpl.Channels[0].Channels[0].Name)
}

func TestTemplates_SaveKeepsUnknownFields(t *testing.T) {
	s := NewTemplates(t.TempDir())
	require.NoError(t, s.Save("extra", []byte(`{"description":"x","roles":[]}`)))

	raw, err := s.Raw("extra")
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"description": "x"`)
}

func TestTemplates_SaveInvalidJSON(t *testing.T) {
	dir := t.TempDir()
	s := NewTemplates(dir)

	err := s.Save("broken", []byte(`{"roles": [`))
	assert.ErrorIs(t, err, errors.ErrInvalidInput)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestTemplates_LoadMissing(t *testing.T) {
	s := NewTemplates(t.TempDir())
	assert.False(t, s.Exists("missing"))

	_, err := s.Load("missing")
	assert.ErrorIs(t, err, errors.ErrNotFound)
}

func TestTemplates_LoadJSONC(t *testing.T) {
	dir := t.TempDir()
	content := `{
	// staff roles
	"roles": [
		{"name": "Staff", "color": "#123456", "permissions": "0"},
	],
	/* no channels yet */
	"channels": [],
}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "commented.json"), []byte(content), 0o644))

	tmpl, err := NewTemplates(dir).Load("commented")
	require.NoError(t, err)
	require.Len(t, tmpl.Roles, 1)
	assert.Equal(t, "Staff", tmpl.Roles[0].Name)
}

func TestTemplates_LoadMalformed(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.json"), []byte(`{"roles": "nope"}`), 0o644))

	_, err := NewTemplates(dir).Load("bad")
	require.Error(t, err)
	assert.NotErrorIs(t, err, errors.ErrNotFound)
}

func TestValidateName(t *testing.T) {
	for _, name := range []string{"gaming", "Server Base", "v2.1"} {
		assert.NoError(t, ValidateName(name), name)
	}
	for _, name := range []string{"", "  ", "../etc/passwd", `a\b`, "a/b", ".."} {
		assert.ErrorIs(t, ValidateName(name), errors.ErrInvalidInput, name)
	}
}

func TestTemplates_List(t *testing.T) {
	dir := t.TempDir()
	s := NewTemplates(dir)

	names, err := NewTemplates(filepath.Join(dir, "absent")).List()
	require.NoError(t, err)
	assert.Empty(t, names)

	require.NoError(t, s.Save("zeta", []byte(`{}`)))
	require.NoError(t, s.Save("alpha", []byte(`{}`)))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))

	names, err = s.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "zeta"}, names)
}

func TestBackups_WriteRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "backup", "backup.json")
	b := NewBackups(path)

	_, err := b.Read()
	assert.ErrorIs(t, err, errors.ErrNotFound)

	backup := &models.Backup{
		Roles:    []models.BackupRole{{Name: "Mod", Color: "#00ff00", Permissions: "8"}},
		Channels: []models.BackupChannel{{Name: "╔═•【VOZ】•═╗", Type: "category"}},
	}
	require.NoError(t, b.Write(backup))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "    \"roles\": [")
	assert.Contains(t, string(data), "╔═•【VOZ】•═╗")

	got, err := b.Read()
	require.NoError(t, err)
	assert.Equal(t, backup, got)

	require.NoError(t, b.Write(&models.Backup{}))
	got, err = b.Read()
	require.NoError(t, err)
	assert.Empty(t, got.Roles)
	assert.Empty(t, got.Channels)

	data, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"roles": []`)
}
