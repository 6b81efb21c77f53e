package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/madisonstylee/thetidytoad-sub000/internal/auth"
	"github.com/madisonstylee/thetidytoad-sub000/internal/middleware"
	"github.com/madisonstylee/thetidytoad-sub000/internal/store"
)

const (
	parentSessionTTL = 30 * 24 * time.Hour
	childSessionTTL  = 12 * time.Hour
)

type AuthHandler struct {
	families *store.FamilyStore
	sessions *store.SessionStore
	logger   *slog.Logger
}

func NewAuthHandler(families *store.FamilyStore, sessions *store.SessionStore, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{families: families, sessions: sessions, logger: logger}
}

type registerRequest struct {
	FamilyName  string `json:"family_name"`
	DisplayName string `json:"display_name"`
	Email       string `json:"email"`
	Password    string `json:"password"`
}

// Register creates a family with its first parent and signs them in.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}
	req.FamilyName = strings.TrimSpace(req.FamilyName)
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if req.FamilyName == "" || req.Email == "" || len(req.Password) < 8 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "family_name, email and a password of 8+ characters are required"})
		return
	}

	existing, _, err := h.families.GetParentByEmail(req.Email)
	if err != nil {
		h.logger.Error("lookup parent", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "registration failed"})
		return
	}
	if existing != nil {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "email already registered"})
		return
	}

	family, err := h.families.CreateFamily(req.FamilyName)
	if err != nil {
		h.logger.Error("create family", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "registration failed"})
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		h.logger.Error("hash password", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "registration failed"})
		return
	}

	parent, err := h.families.CreateParent(family.ID, req.DisplayName, req.Email, hash)
	if err != nil {
		h.logger.Error("create parent", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "registration failed"})
		return
	}

	h.issueSession(w, string(auth.RoleParent), parent.ID, family.ID, parentSessionTTL)
	writeJSON(w, http.StatusCreated, parent)
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))

	parent, hash, err := h.families.GetParentByEmail(req.Email)
	if err != nil {
		h.logger.Error("login lookup", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "login failed"})
		return
	}
	if parent == nil || auth.VerifyPassword(hash, req.Password) != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid email or password"})
		return
	}

	h.issueSession(w, string(auth.RoleParent), parent.ID, parent.FamilyID, parentSessionTTL)
	writeJSON(w, http.StatusOK, parent)
}

type childLoginRequest struct {
	ChildID int64  `json:"child_id"`
	PIN     string `json:"pin"`
}

// ChildLogin signs a child in with their PIN. Sits behind the rate limiter:
// a 4-digit PIN survives guessing only if guessing is slow.
func (h *AuthHandler) ChildLogin(w http.ResponseWriter, r *http.Request) {
	var req childLoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}

	child, err := h.families.GetChild(req.ChildID)
	if err != nil {
		h.logger.Error("child login lookup", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "login failed"})
		return
	}
	if child == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid child or PIN"})
		return
	}

	hash, err := h.families.GetChildPINHash(req.ChildID)
	if err != nil {
		h.logger.Error("child pin lookup", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "login failed"})
		return
	}
	if hash == "" || auth.VerifyPIN(hash, req.PIN) != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid child or PIN"})
		return
	}

	h.issueSession(w, string(auth.RoleChild), child.ID, child.FamilyID, childSessionTTL)
	writeJSON(w, http.StatusOK, child)
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(middleware.SessionCookieName); err == nil && cookie.Value != "" {
		if err := h.sessions.Delete(cookie.Value); err != nil {
			h.logger.Error("delete session", "error", err)
		}
	}

	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, map[string]string{"status": "logged out"})
}

func (h *AuthHandler) issueSession(w http.ResponseWriter, role string, actorID, familyID int64, ttl time.Duration) {
	sess, err := h.sessions.Create(role, actorID, familyID, ttl)
	if err != nil {
		h.logger.Error("create session", "error", err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    sess.Token,
		Path:     "/",
		Expires:  sess.ExpiresAt,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}
