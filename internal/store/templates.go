// Package store keeps templates and backups as flat JSON files.
package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/tidwall/jsonc"

	"github.com/MattCruikshank/templatebot/internal/errors"
	"github.com/MattCruikshank/templatebot/internal/models"
)

const (
	templateExt = ".json"
	indent      = "    "
)

// Templates handles the templates directory.
type Templates struct {
	dir string
}

// NewTemplates returns a store rooted at dir. The directory is created on
// first save.
func NewTemplates(dir string) *Templates {
	return &Templates{dir: dir}
}

// Dir returns the templates directory.
func (t *Templates) Dir() string {
	return t.dir
}

// Path returns the file path of the named template.
func (t *Templates) Path(name string) string {
	return filepath.Join(t.dir, name+templateExt)
}

// ValidateName rejects names that cannot be used as a file stem inside the
// templates directory.
func ValidateName(name string) error {
	switch {
	case strings.TrimSpace(name) == "":
		return errors.NewValidationError("name", name, "template name is empty")
	case strings.ContainsAny(name, `/\`) || name == "." || name == "..":
		return errors.NewValidationError("name", name, "template name must not contain path separators")
	}
	return nil
}

// Exists reports whether the named template is on disk.
func (t *Templates) Exists(name string) bool {
	if ValidateName(name) != nil {
		return false
	}
	info, err := os.Stat(t.Path(name))
	return err == nil && !info.IsDir()
}

// Load reads and parses the named template. Comments and trailing commas
// are accepted. A missing file yields an error matching errors.ErrNotFound.
func (t *Templates) Load(name string) (*models.Template, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(t.Path(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NewNotFoundError("template", name)
		}
		return nil, fmt.Errorf("failed to read template %s: %w", name, err)
	}

	tmpl, err := ParseTemplate(data)
	if err != nil {
		return nil, fmt.Errorf("template %s: %w", name, err)
	}
	return tmpl, nil
}

// ParseTemplate strips JSONC comments and trailing commas from data and
// decodes it into a Template.
func ParseTemplate(data []byte) (*models.Template, error) {
	var tmpl models.Template
	if err := json.Unmarshal(jsonc.ToJSON(data), &tmpl); err != nil {
		return nil, fmt.Errorf("failed to parse template: %w", err)
	}
	return &tmpl, nil
}

// Save writes raw JSON to the named template, re-indented with four
// spaces. The document is stored as given, without schema checks; raw must
// be valid JSON.
func (t *Templates) Save(name string, raw []byte) error {
	if err := ValidateName(name); err != nil {
		return err
	}

	var buf bytes.Buffer
	if err := json.Indent(&buf, bytes.TrimSpace(raw), "", indent); err != nil {
		return errors.NewValidationError("json", nil, err.Error())
	}

	if err := os.MkdirAll(t.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create templates directory: %w", err)
	}
	if err := os.WriteFile(t.Path(name), buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("failed to write template %s: %w", name, err)
	}
	return nil
}

// Raw returns the template file contents.
func (t *Templates) Raw(name string) ([]byte, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(t.Path(name))
	if os.IsNotExist(err) {
		return nil, errors.NewNotFoundError("template", name)
	}
	return data, err
}

// List returns the template names on disk, sorted.
func (t *Templates) List() ([]string, error) {
	entries, err := os.ReadDir(t.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list templates: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != templateExt {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), templateExt))
	}
	sort.Strings(names)
	return names, nil
}
