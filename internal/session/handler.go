package session

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/havenlist/service-identity/internal/apperror"
	"github.com/havenlist/service-identity/internal/httpapi"
)

// Handler exposes HTTP endpoints for session operations (logout / me /
// OAuth callback).
type Handler struct {
	sessions *Manager
	oauth    *OAuthFlow
	logger   *zap.SugaredLogger
}

func NewHandler(sessions *Manager, oauth *OAuthFlow, logger *zap.SugaredLogger) *Handler {
	return &Handler{sessions: sessions, oauth: oauth, logger: logger}
}

// Logout deletes the presented session and clears the cookie. Always 200:
// logging out without a session, or twice, succeeds the same way.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.Destroy(r.Context(), w, r); err != nil {
		h.logger.Warnw("logout cleanup failed", "err", err)
	}
	httpapi.WriteJSON(w, http.StatusOK, map[string]string{"message": "logged out"})
}

// Me resolves the current session and returns the authenticated user.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	ac := h.sessions.Resolve(r.Context(), r)
	if ac == nil {
		httpapi.WriteError(h.logger, w, apperror.Unauthorized("not authenticated"))
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, map[string]any{"user": ac.User})
}

// OAuthCallback completes a provider sign-in and issues a first-party
// session cookie.
func (h *Handler) OAuthCallback(w http.ResponseWriter, r *http.Request) {
	provider := r.PathValue("provider")
	code := r.URL.Query().Get("code")
	if code == "" {
		httpapi.WriteError(h.logger, w, apperror.BadRequest("missing code"))
		return
	}

	user, token, err := h.oauth.Callback(r.Context(), provider, code, httpapi.ClientMeta(r))
	if err != nil {
		httpapi.WriteError(h.logger, w, err)
		return
	}

	h.sessions.SetCookie(w, token)
	httpapi.WriteJSON(w, http.StatusOK, map[string]any{"user": user.Sanitize()})
}
