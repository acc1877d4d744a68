// Package httpapi holds helpers shared by the HTTP handlers: JSON
// responses, the boundary mapping from application errors to status codes,
// and client metadata extraction.
package httpapi

import (
	"encoding/json"
	"net"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/havenlist/service-identity/internal/apperror"
	"github.com/havenlist/service-identity/internal/identity/entity"
)

// WriteJSON writes v as a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError converts err to the application taxonomy and writes the
// client-safe `{message}` body. Unexpected errors become a logged 500; the
// wrapped cause never reaches the client.
func WriteError(logger *zap.SugaredLogger, w http.ResponseWriter, err error) {
	e := apperror.FromError(err)
	if e.Status >= http.StatusInternalServerError {
		logger.Errorw("internal error", "err", err)
	}
	WriteJSON(w, e.Status, map[string]string{"message": e.Message})
}

// ClientIP extracts the caller's IP, preferring the first X-Forwarded-For
// hop over the socket address.
func ClientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			return strings.TrimSpace(fwd[:i])
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// ClientMeta collects the audit attributes recorded on sessions and login
// history. Country is a best-effort hint from the edge; absent header means
// empty.
func ClientMeta(r *http.Request) entity.ClientMeta {
	return entity.ClientMeta{
		IP:        ClientIP(r),
		UserAgent: r.UserAgent(),
		DeviceID:  r.Header.Get("X-Device-ID"),
		Country:   r.Header.Get("CF-IPCountry"),
	}
}
