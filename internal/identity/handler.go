package identity

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/havenlist/service-identity/internal/apperror"
	"github.com/havenlist/service-identity/internal/httpapi"
	"github.com/havenlist/service-identity/internal/session"
)

// Handler serves the registration, login, and password-reset endpoints.
type Handler struct {
	service  *Service
	sessions *session.Manager
	logger   *zap.SugaredLogger
}

func NewHandler(service *Service, sessions *session.Manager, logger *zap.SugaredLogger) *Handler {
	return &Handler{service: service, sessions: sessions, logger: logger}
}

type registerRequest struct {
	Name              string `json:"name"`
	Password          string `json:"password"`
	ConfirmPassword   string `json:"confirmPassword"`
	Method            string `json:"method"`
	Identifier        string `json:"identifier"`
	VerificationToken string `json:"verificationToken"`
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpapi.WriteError(h.logger, w, apperror.BadRequest("invalid request body"))
		return
	}

	user, token, err := h.service.Register(r.Context(), RegisterInput{
		Name:              req.Name,
		Password:          req.Password,
		ConfirmPassword:   req.ConfirmPassword,
		Method:            Method(req.Method),
		Identifier:        req.Identifier,
		VerificationToken: req.VerificationToken,
	}, httpapi.ClientMeta(r))
	if err != nil {
		httpapi.WriteError(h.logger, w, err)
		return
	}

	h.sessions.SetCookie(w, token)
	httpapi.WriteJSON(w, http.StatusCreated, map[string]any{"user": user.Sanitize()})
}

type loginRequest struct {
	Method     string `json:"method"`
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpapi.WriteError(h.logger, w, apperror.BadRequest("invalid request body"))
		return
	}

	user, token, err := h.service.Login(r.Context(), LoginInput{
		Method:     Method(req.Method),
		Identifier: req.Identifier,
		Password:   req.Password,
	}, httpapi.ClientMeta(r))
	if err != nil {
		httpapi.WriteError(h.logger, w, err)
		return
	}

	h.sessions.SetCookie(w, token)
	httpapi.WriteJSON(w, http.StatusOK, map[string]any{"user": user.Sanitize()})
}

type forgotPasswordRequest struct {
	Method     string `json:"method"`
	Identifier string `json:"identifier"`
}

func (h *Handler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req forgotPasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpapi.WriteError(h.logger, w, apperror.BadRequest("invalid request body"))
		return
	}

	if err := h.service.RequestPasswordReset(r.Context(), Method(req.Method), req.Identifier); err != nil {
		httpapi.WriteError(h.logger, w, err)
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, map[string]string{"message": "if the account exists, a reset link has been sent"})
}

type resetPasswordRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"newPassword"`
}

func (h *Handler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpapi.WriteError(h.logger, w, apperror.BadRequest("invalid request body"))
		return
	}
	if req.Token == "" {
		httpapi.WriteError(h.logger, w, apperror.BadRequest("token is required"))
		return
	}

	if err := h.service.ResetPassword(r.Context(), req.Token, req.NewPassword); err != nil {
		httpapi.WriteError(h.logger, w, err)
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, map[string]bool{"success": true})
}

const historyPageSize = 20

// History returns the caller's recent authentication events.
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	ac := h.sessions.Resolve(r.Context(), r)
	if ac == nil {
		httpapi.WriteError(h.logger, w, apperror.Unauthorized("not authenticated"))
		return
	}

	entries, err := h.service.History(r.Context(), ac.UserID, historyPageSize)
	if err != nil {
		httpapi.WriteError(h.logger, w, err)
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, map[string]any{"history": entries})
}

// DeleteAccount soft-deletes the caller's account, revokes all of its
// sessions, and clears the cookie.
func (h *Handler) DeleteAccount(w http.ResponseWriter, r *http.Request) {
	ac := h.sessions.Resolve(r.Context(), r)
	if ac == nil {
		httpapi.WriteError(h.logger, w, apperror.Unauthorized("not authenticated"))
		return
	}

	if err := h.service.DeleteAccount(r.Context(), ac.UserID); err != nil {
		httpapi.WriteError(h.logger, w, err)
		return
	}
	h.sessions.ClearCookie(w)
	httpapi.WriteJSON(w, http.StatusOK, map[string]string{"message": "account deleted"})
}
