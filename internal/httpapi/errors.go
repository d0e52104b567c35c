package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"uticoins/internal/model"
)

// Error kinds that are not claim errors.
const (
	KindBadRequest  = "BadRequest"
	KindRateLimited = "RateLimited"
	KindInternal    = "Internal"
)

// ErrorBody is the error envelope shared by every endpoint.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail describes one error.
type ErrorDetail struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// statusFor maps a claim error kind to its HTTP status.
func statusFor(kind model.ClaimErrorKind) int {
	switch kind {
	case model.ClaimUnauthenticated:
		return http.StatusUnauthorized
	case model.ClaimCodeMismatch:
		return http.StatusConflict
	case model.ClaimNotClaimable:
		return http.StatusUnprocessableEntity
	case model.ClaimNetworkTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("Failed to write response")
	}
}

func writeErrorKind(w http.ResponseWriter, status int, kind, message string) {
	writeJSON(w, status, ErrorBody{Error: ErrorDetail{Kind: kind, Message: message}})
}

// writeError renders err. Claim errors keep their kind; anything else is
// logged and reported as a generic internal error.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var claimErr *model.ClaimError
	if errors.As(err, &claimErr) {
		writeErrorKind(w, statusFor(claimErr.Kind), string(claimErr.Kind), claimErr.Message)
		return
	}
	log.Error().Err(err).
		Str("request_id", RequestIDFromContext(r.Context())).
		Str("path", r.URL.Path).
		Msg("Request failed")
	writeErrorKind(w, http.StatusInternalServerError, KindInternal, "internal error")
}
