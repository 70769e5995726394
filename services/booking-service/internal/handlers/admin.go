package handlers

import (
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/md-rashed-zaman/slotdesk/libs/auth"
	"github.com/md-rashed-zaman/slotdesk/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/slotdesk/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/slotdesk/services/booking-service/internal/settings"
)

const RoleAdmin = "admin"

// Credentials is the single admin account. PasswordHash is a bcrypt hash.
type Credentials struct {
	Username     string
	PasswordHash string
}

type AdminHandler struct {
	issuer   *auth.Issuer
	creds    Credentials
	settings settings.Provider
	logger   *slog.Logger
}

func NewAdminHandler(issuer *auth.Issuer, creds Credentials, provider settings.Provider, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{issuer: issuer, creds: creds, settings: provider, logger: logger}
}

type tokenRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresAt   string `json:"expires_at"`
}

func (h *AdminHandler) Token(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" || req.Password == "" {
		http.Error(w, "username and password required", http.StatusBadRequest)
		return
	}
	if h.creds.PasswordHash == "" {
		http.Error(w, "admin login disabled", http.StatusServiceUnavailable)
		return
	}

	userOK := subtle.ConstantTimeCompare([]byte(req.Username), []byte(h.creds.Username)) == 1
	if err := VerifyPassword(h.creds.PasswordHash, req.Password); err != nil || !userOK {
		h.logger.Warn("admin login failed", "username", req.Username)
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	}

	token, exp, err := h.issuer.Sign(req.Username, RoleAdmin)
	if err != nil {
		http.Error(w, "failed to issue token", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresAt:   exp.UTC().Format(time.RFC3339),
	})
}

func (h *AdminHandler) GetSettings(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.settings.Get(r.Context())
	if err != nil {
		h.logger.Error("load settings failed", "err", err)
		writeProblem(w, http.StatusServiceUnavailable, string(booking.KindStorage), "storage temporarily unavailable")
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (h *AdminHandler) PutSettings(w http.ResponseWriter, r *http.Request) {
	var cfg model.AvailabilityConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeProblem(w, http.StatusBadRequest, string(booking.KindValidation), "invalid json body")
		return
	}
	if err := cfg.Validate(); err != nil {
		writeProblem(w, http.StatusBadRequest, string(booking.KindValidation), err.Error())
		return
	}
	if err := h.settings.Save(r.Context(), cfg); err != nil {
		h.logger.Error("save settings failed", "err", err)
		writeProblem(w, http.StatusServiceUnavailable, string(booking.KindStorage), "storage temporarily unavailable")
		return
	}
	by := ""
	if claims, ok := auth.ClaimsFromContext(r.Context()); ok {
		by = claims.Subject
	}
	h.logger.Info("availability settings updated", "by", by, "start_hour", cfg.StartHour, "end_hour", cfg.EndHour, "locked", cfg.AvailabilityLocked)
	writeJSON(w, http.StatusOK, cfg)
}

func HashPassword(raw string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(raw), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func VerifyPassword(hash, raw string) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(raw))
}
