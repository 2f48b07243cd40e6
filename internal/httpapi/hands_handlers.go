package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
)

const (
	defaultHandsLimit = 50
	maxHandsLimit     = 200
)

// handleListHands returns the user's hands, newest first.
func (r *Router) handleListHands(w http.ResponseWriter, req *http.Request) {
	authUser := getAuthUser(req.Context())
	if authUser == nil {
		http.Error(w, `{"error": "not authenticated"}`, http.StatusUnauthorized)
		return
	}

	limit := defaultHandsLimit
	if raw := req.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			http.Error(w, `{"error": "invalid limit"}`, http.StatusBadRequest)
			return
		}
		if n > maxHandsLimit {
			n = maxHandsLimit
		}
		limit = n
	}

	hands, err := r.store.ListHands(req.Context(), authUser.ID, limit)
	if err != nil {
		r.logger.Printf("hands: list failed for %s: %v", authUser.ID, err)
		http.Error(w, `{"error": "database error"}`, http.StatusInternalServerError)
		return
	}

	total, err := r.store.CountHands(req.Context(), authUser.ID)
	if err != nil {
		r.logger.Printf("hands: count failed for %s: %v", authUser.ID, err)
		http.Error(w, `{"error": "database error"}`, http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"hands": hands,
		"total": total,
	})
}

// handleGetHand returns one hand. Hands belonging to other users read as
// not found so IDs leak nothing.
func (r *Router) handleGetHand(w http.ResponseWriter, req *http.Request) {
	authUser := getAuthUser(req.Context())
	if authUser == nil {
		http.Error(w, `{"error": "not authenticated"}`, http.StatusUnauthorized)
		return
	}

	id := req.PathValue("id")
	if id == "" {
		http.Error(w, `{"error": "missing id"}`, http.StatusBadRequest)
		return
	}

	hand, err := r.store.GetHand(req.Context(), authUser.ID, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			http.Error(w, `{"error": "not found"}`, http.StatusNotFound)
			return
		}
		r.logger.Printf("hands: get %s failed: %v", id, err)
		http.Error(w, `{"error": "database error"}`, http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, hand)
}

// handleRenameHand sets a user-supplied title on a hand.
func (r *Router) handleRenameHand(w http.ResponseWriter, req *http.Request) {
	authUser := getAuthUser(req.Context())
	if authUser == nil {
		http.Error(w, `{"error": "not authenticated"}`, http.StatusUnauthorized)
		return
	}

	id := req.PathValue("id")

	var body struct {
		Title string `json:"title"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		http.Error(w, `{"error": "invalid request body"}`, http.StatusBadRequest)
		return
	}

	body.Title = strings.TrimSpace(body.Title)
	if body.Title == "" {
		http.Error(w, `{"error": "title is required"}`, http.StatusBadRequest)
		return
	}

	if err := r.store.UpdateHandTitle(req.Context(), authUser.ID, id, body.Title); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			http.Error(w, `{"error": "not found"}`, http.StatusNotFound)
			return
		}
		r.logger.Printf("hands: rename %s failed: %v", id, err)
		http.Error(w, `{"error": "database error"}`, http.StatusInternalServerError)
		return
	}

	hand, err := r.store.GetHand(req.Context(), authUser.ID, id)
	if err != nil {
		http.Error(w, `{"error": "not found"}`, http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, hand)
}

// handleDeleteHand removes a hand from the user's log.
func (r *Router) handleDeleteHand(w http.ResponseWriter, req *http.Request) {
	authUser := getAuthUser(req.Context())
	if authUser == nil {
		http.Error(w, `{"error": "not authenticated"}`, http.StatusUnauthorized)
		return
	}

	id := req.PathValue("id")

	if err := r.store.DeleteHand(req.Context(), authUser.ID, id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			http.Error(w, `{"error": "not found"}`, http.StatusNotFound)
			return
		}
		r.logger.Printf("hands: delete %s failed: %v", id, err)
		http.Error(w, `{"error": "database error"}`, http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}
