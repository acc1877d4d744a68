package otp

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/havenlist/service-identity/internal/apperror"
	"github.com/havenlist/service-identity/internal/httpapi"
	"github.com/havenlist/service-identity/internal/identity"
	"github.com/havenlist/service-identity/internal/otp/entity"
)

// TakenFunc reports whether an identifier already belongs to an account.
type TakenFunc func(ctx context.Context, identifier string) (bool, error)

// Handler serves the one-time-password endpoints.
type Handler struct {
	service *Service
	taken   TakenFunc
	logger  *zap.SugaredLogger
}

func NewHandler(service *Service, taken TakenFunc, logger *zap.SugaredLogger) *Handler {
	return &Handler{service: service, taken: taken, logger: logger}
}

type sendRequest struct {
	Identifier string `json:"identifier"`
	Method     string `json:"method"`
	Type       string `json:"type"`
}

// Send issues a fresh code for the identifier. The identifier is canonicalized
// here so the stored form matches what registration will later compare against.
func (h *Handler) Send(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpapi.WriteError(h.logger, w, apperror.BadRequest("invalid request body"))
		return
	}
	purpose := entity.Purpose(req.Type)
	if !purpose.Valid() {
		httpapi.WriteError(h.logger, w, apperror.BadRequest("type must be REGISTER, LOGIN, or FORGOT_PASSWORD"))
		return
	}
	identifier, err := identity.NormalizeIdentifier(identity.Method(req.Method), req.Identifier)
	if err != nil {
		httpapi.WriteError(h.logger, w, err)
		return
	}

	// No point mailing a registration code to an identifier that already
	// has an account; surface the conflict now instead of at the final step.
	if purpose == entity.PurposeRegister && h.taken != nil {
		taken, err := h.taken(r.Context(), identifier)
		if err != nil {
			httpapi.WriteError(h.logger, w, apperror.Internal(err))
			return
		}
		if taken {
			httpapi.WriteError(h.logger, w, apperror.Conflict("an account with this identifier already exists"))
			return
		}
	}

	verificationID, err := h.service.Issue(r.Context(), identifier, purpose)
	if err != nil {
		httpapi.WriteError(h.logger, w, err)
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, map[string]string{"verificationId": verificationID})
}

type verifyRequest struct {
	OTP        string `json:"otp"`
	Identifier string `json:"identifier"`
}

// Verify checks the submitted code against the identifier's most recent
// outstanding one. A match hands back the verification token; the record
// itself stays open until a downstream flow consumes it.
func (h *Handler) Verify(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpapi.WriteError(h.logger, w, apperror.BadRequest("invalid request body"))
		return
	}
	if req.OTP == "" {
		httpapi.WriteError(h.logger, w, apperror.BadRequest("otp is required"))
		return
	}
	// The verify payload carries no method field; the identifier's shape
	// says which kind it is.
	method := identity.MethodPhone
	if strings.Contains(req.Identifier, "@") {
		method = identity.MethodEmail
	}
	identifier, err := identity.NormalizeIdentifier(method, req.Identifier)
	if err != nil {
		httpapi.WriteError(h.logger, w, err)
		return
	}

	token, err := h.service.Verify(r.Context(), identifier, req.OTP)
	if err != nil {
		httpapi.WriteError(h.logger, w, err)
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, map[string]string{"verificationToken": token})
}
