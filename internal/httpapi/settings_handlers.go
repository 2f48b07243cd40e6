package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/mbecker/potline/internal/store"
)

// maxContextEntries caps the game-context map so a misbehaving client
// cannot stuff arbitrary data into the formatting prompt.
const maxContextEntries = 32

// handleGetSettings returns the user's game settings. Users who never
// saved settings get empty defaults, not a 404.
func (r *Router) handleGetSettings(w http.ResponseWriter, req *http.Request) {
	authUser := getAuthUser(req.Context())
	if authUser == nil {
		http.Error(w, `{"error": "not authenticated"}`, http.StatusUnauthorized)
		return
	}

	settings, err := r.store.GetGameSettings(req.Context(), authUser.ID)
	if err != nil {
		r.logger.Printf("settings: get failed for %s: %v", authUser.ID, err)
		http.Error(w, `{"error": "database error"}`, http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, settings)
}

// handleUpdateSettings replaces the user's game settings. The stored map is
// replaced wholesale; entries already queued for processing keep the
// snapshot taken when they were enqueued.
func (r *Router) handleUpdateSettings(w http.ResponseWriter, req *http.Request) {
	authUser := getAuthUser(req.Context())
	if authUser == nil {
		http.Error(w, `{"error": "not authenticated"}`, http.StatusUnauthorized)
		return
	}

	var body struct {
		Context map[string]string `json:"context"`
		Model   string            `json:"model"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		http.Error(w, `{"error": "invalid request body"}`, http.StatusBadRequest)
		return
	}

	if len(body.Context) > maxContextEntries {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "too many context entries",
		})
		return
	}

	cleaned := make(map[string]string, len(body.Context))
	for k, v := range body.Context {
		k = strings.TrimSpace(k)
		v = strings.TrimSpace(v)
		if k == "" || v == "" {
			continue
		}
		cleaned[k] = v
	}

	gs := store.GameSettings{
		UserID:  authUser.ID,
		Context: cleaned,
		Model:   strings.TrimSpace(body.Model),
	}

	if err := r.store.UpsertGameSettings(req.Context(), gs); err != nil {
		r.logger.Printf("settings: update failed for %s: %v", authUser.ID, err)
		http.Error(w, `{"error": "failed to save settings"}`, http.StatusInternalServerError)
		return
	}

	settings, err := r.store.GetGameSettings(req.Context(), authUser.ID)
	if err != nil {
		http.Error(w, `{"error": "database error"}`, http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, settings)
}
