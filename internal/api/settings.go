package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/episensor/app-template/internal/db"
	"github.com/episensor/app-template/internal/repositories"
)

// SettingsHandler groups the handlers for the persisted runtime settings.
// Values are stored and returned as raw JSON so the frontend can keep
// arbitrary structures under each key.
type SettingsHandler struct {
	repo   repositories.SettingsRepository
	logger *zap.Logger
}

// NewSettingsHandler creates a new SettingsHandler.
func NewSettingsHandler(repo repositories.SettingsRepository, logger *zap.Logger) *SettingsHandler {
	return &SettingsHandler{
		repo:   repo,
		logger: logger.Named("settings_handler"),
	}
}

// settingResponse is the JSON representation of a single setting.
type settingResponse struct {
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value"`
}

func settingToResponse(s *db.Setting) settingResponse {
	return settingResponse{Key: s.Key, Value: json.RawMessage(s.Value)}
}

type listSettingsResponse struct {
	Settings map[string]json.RawMessage `json:"settings"`
}

// List handles GET /api/settings.
func (h *SettingsHandler) List(w http.ResponseWriter, r *http.Request) {
	all, err := h.repo.All(r.Context())
	if err != nil {
		h.logger.Error("failed to list settings", zap.Error(err))
		ErrInternal(w)
		return
	}

	settings := make(map[string]json.RawMessage, len(all))
	for _, s := range all {
		settings[s.Key] = json.RawMessage(s.Value)
	}
	Ok(w, listSettingsResponse{Settings: settings})
}

// Get handles GET /api/settings/{key}. Returns 404 if the key has never
// been set.
func (h *SettingsHandler) Get(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	setting, err := h.repo.Get(r.Context(), key)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			Fail(w, http.StatusNotFound, "Setting not found")
			return
		}
		h.logger.Error("failed to get setting", zap.String("key", key), zap.Error(err))
		ErrInternal(w)
		return
	}
	Ok(w, settingToResponse(setting))
}

// putSettingRequest is the JSON body expected by PUT /api/settings/{key}.
// Value accepts any JSON shape, including null.
type putSettingRequest struct {
	Value json.RawMessage `json:"value"`
}

// Put handles PUT /api/settings/{key}. The key is created if it does not
// exist; otherwise its value is replaced.
func (h *SettingsHandler) Put(w http.ResponseWriter, r *http.Request) {
	var req putSettingRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if len(req.Value) == 0 {
		failValidationFields(w, validationDetail{Field: "value", Rule: "required"})
		return
	}

	key := chi.URLParam(r, "key")
	if err := h.repo.Set(r.Context(), key, string(req.Value)); err != nil {
		h.logger.Error("failed to save setting", zap.String("key", key), zap.Error(err))
		ErrInternal(w)
		return
	}
	Ok(w, settingResponse{Key: key, Value: req.Value})
}

type deleteSettingResponse struct {
	Key string `json:"key"`
}

// Delete handles DELETE /api/settings/{key}. Deleting a key that does not
// exist succeeds; the operation is idempotent.
func (h *SettingsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	if err := h.repo.Delete(r.Context(), key); err != nil {
		h.logger.Error("failed to delete setting", zap.String("key", key), zap.Error(err))
		ErrInternal(w)
		return
	}
	Ok(w, deleteSettingResponse{Key: key})
}
