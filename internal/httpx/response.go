package httpx

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/joao-fontenele/grocerflow/internal/domain"
)

type errorBody struct {
	Error string  `json:"error"`
	IDs   []int64 `json:"ids,omitempty"`
}

func WriteJSON(w http.ResponseWriter, logger *slog.Logger, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("failed to encode response", "error", err)
	}
}

func WriteMessage(w http.ResponseWriter, logger *slog.Logger, status int, message string) {
	WriteJSON(w, logger, status, map[string]string{"message": message})
}

// WriteError maps domain errors to their status code. Anything else is
// logged and hidden behind a 500.
func WriteError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	var de *domain.Error
	if errors.As(err, &de) {
		WriteJSON(w, logger, StatusFor(de.Kind), errorBody{Error: de.Message, IDs: de.IDs})
		return
	}

	logger.Error("request failed", "error", err, "method", r.Method, "path", r.URL.Path, "request_id", RequestIDFrom(r.Context()))
	WriteJSON(w, logger, http.StatusInternalServerError, errorBody{Error: "internal server error"})
}

func WriteStatus(w http.ResponseWriter, logger *slog.Logger, status int, message string) {
	WriteJSON(w, logger, status, errorBody{Error: message})
}

func StatusFor(kind domain.ErrorKind) int {
	switch kind {
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindBadRequest:
		return http.StatusBadRequest
	case domain.KindForbidden:
		return http.StatusForbidden
	case domain.KindUnauthorized:
		return http.StatusUnauthorized
	}
	return http.StatusInternalServerError
}
