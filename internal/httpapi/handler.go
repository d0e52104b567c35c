package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"uticoins/internal/service"
)

// ReplayedHeader is set to "true" when a claim response replays a stored
// result.
const ReplayedHeader = "X-Claim-Replayed"

const maxBodyBytes = 4 << 10

type handler struct {
	rewards  RewardAPI
	accounts AccountAPI
}

// ClaimRequest is the claim request body.
type ClaimRequest struct {
	Code string `json:"code"`
}

func (h *handler) codeState(w http.ResponseWriter, r *http.Request) {
	state, err := h.rewards.CurrentCodeState(r.Context(), UserIDFromContext(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, state)
}

func (h *handler) claim(w http.ResponseWriter, r *http.Request) {
	var req ClaimRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeErrorKind(w, http.StatusBadRequest, KindBadRequest, "invalid request body")
		return
	}
	if req.Code == "" {
		writeErrorKind(w, http.StatusBadRequest, KindBadRequest, "code is required")
		return
	}

	res, err := h.rewards.Claim(r.Context(), UserIDFromContext(r.Context()), req.Code)
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set(ReplayedHeader, strconv.FormatBool(res.Replayed))
	writeJSON(w, http.StatusOK, res)
}

func (h *handler) balance(w http.ResponseWriter, r *http.Request) {
	limit := service.DefaultHistoryLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 || n > 100 {
			writeErrorKind(w, http.StatusBadRequest, KindBadRequest, "limit must be between 1 and 100")
			return
		}
		limit = n
	}

	b, err := h.accounts.GetBalance(r.Context(), UserIDFromContext(r.Context()), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}
