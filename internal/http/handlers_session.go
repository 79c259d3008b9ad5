package http

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"
)

type sessionResponse struct {
	UserID    int64     `json:"user_id"`
	Username  string    `json:"username"`
	ExpiresAt time.Time `json:"expires_at"`
}

// handleCreateSession signs a user in by name, creating the user row on
// first sight, and sets the session cookie.
func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	username := sanitizeInput(req.Username)
	if username == "" {
		writeError(w, http.StatusUnprocessableEntity, "username is required")
		return
	}

	user, err := s.repo.GetOrCreateUser(r.Context(), username)
	if err != nil {
		slog.ErrorContext(r.Context(), "Get or create user failed", "error", err, "username", username)
		writeError(w, http.StatusInternalServerError, "could not create session")
		return
	}

	sess := s.sessions.Create(user.ID, user.Username)
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    sess.ID,
		Path:     "/",
		Expires:  sess.ExpiresAt,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	writeJSON(w, http.StatusCreated, sessionResponse{
		UserID:    sess.UserID,
		Username:  sess.Username,
		ExpiresAt: sess.ExpiresAt,
	})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.currentSession(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "no active session")
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{
		UserID:    sess.UserID,
		Username:  sess.Username,
		ExpiresAt: sess.ExpiresAt,
	})
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(sessionCookieName); err == nil && cookie.Value != "" {
		s.sessions.Delete(cookie.Value)
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, map[string]string{"message": "signed out"})
}
