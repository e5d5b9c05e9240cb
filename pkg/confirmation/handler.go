package confirmation

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/tixflow/go-reconciler/pkg/logging"
	"github.com/tixflow/go-reconciler/pkg/store"
)

// Handler exposes the confirmation endpoint.
type Handler struct {
	svc *Service
	log zerolog.Logger
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc, log: logging.WithComponent("confirmation-http")}
}

func (h *Handler) Routes(r chi.Router) {
	r.Get("/confirm/{token}", h.confirm)
}

type errorBody struct {
	Status string `json:"status"`
	Error  string `json:"error"`
}

func (h *Handler) confirm(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")

	result, err := h.svc.Confirm(r.Context(), token)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, result)
	case errors.Is(err, ErrBadToken):
		writeJSON(w, http.StatusBadRequest, errorBody{Status: "error", Error: "invalid confirmation token"})
	case errors.Is(err, ErrWindowExpired):
		writeJSON(w, http.StatusBadRequest, errorBody{Status: "expired", Error: "confirmation window has expired"})
	case errors.Is(err, store.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Status: "error", Error: "confirmation not found"})
	default:
		h.log.Error().Err(err).Msg("confirmation unavailable")
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Status: "error", Error: "temporarily unable to process confirmation"})
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
