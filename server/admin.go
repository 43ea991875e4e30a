package server

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/MattCruikshank/templatebot/internal/errors"
	"github.com/MattCruikshank/templatebot/internal/store"
)

// maxTemplateSize bounds uploaded template documents.
const maxTemplateSize = 1 << 20

// AdminHandler serves the template and backup API.
type AdminHandler struct {
	templates *store.Templates
	backups   *store.Backups
	logger    *zerolog.Logger
}

// NewAdminHandler creates a new admin handler.
func NewAdminHandler(templates *store.Templates, backups *store.Backups, logger *zerolog.Logger) *AdminHandler {
	return &AdminHandler{
		templates: templates,
		backups:   backups,
		logger:    logger,
	}
}

func (a *AdminHandler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (a *AdminHandler) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, errors.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, errors.ErrInvalidInput):
		status = http.StatusBadRequest
	default:
		a.logger.Error().Err(err).Msg("Admin request failed")
	}
	a.writeJSON(w, status, map[string]string{"error": err.Error()})
}

// HandleTemplates lists the stored template names.
func (a *AdminHandler) HandleTemplates(w http.ResponseWriter, r *http.Request) {
	names, err := a.templates.List()
	if err != nil {
		a.writeError(w, err)
		return
	}
	if names == nil {
		names = []string{}
	}
	a.writeJSON(w, http.StatusOK, names)
}

// HandleTemplate returns a stored template document, or stores one on PUT.
func (a *AdminHandler) HandleTemplate(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	switch r.Method {
	case http.MethodGet:
		raw, err := a.templates.Raw(name)
		if err != nil {
			a.writeError(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(raw)

	case http.MethodPut:
		if err := store.ValidateName(name); err != nil {
			a.writeError(w, err)
			return
		}
		raw, err := io.ReadAll(io.LimitReader(r.Body, maxTemplateSize))
		if err != nil {
			a.writeError(w, errors.NewValidationError("body", nil, err.Error()))
			return
		}
		if !json.Valid(raw) {
			a.writeError(w, errors.NewValidationError("body", nil, "invalid JSON"))
			return
		}
		if err := a.templates.Save(name, raw); err != nil {
			a.writeError(w, err)
			return
		}
		a.logger.Info().Str("name", name).Msg("Template saved via API")
		w.WriteHeader(http.StatusNoContent)

	default:
		w.Header().Set("Allow", "GET, PUT")
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// HandleBackup returns the latest backup document.
func (a *AdminHandler) HandleBackup(w http.ResponseWriter, r *http.Request) {
	backup, err := a.backups.Read()
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, backup)
}
