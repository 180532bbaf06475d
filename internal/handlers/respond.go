package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/AlinhoWhat/SHousBackend/internal/apperr"
	"github.com/AlinhoWhat/SHousBackend/internal/middleware"
	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

type errorBody struct {
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps a service error onto its HTTP status. Anything that is
// not a known domain error is logged and hidden behind a generic 500.
func writeError(w http.ResponseWriter, log *slog.Logger, err error) {
	switch {
	case errors.Is(err, apperr.ErrValidation):
		writeJSON(w, http.StatusBadRequest, errorBody{Message: err.Error()})
	case errors.Is(err, apperr.ErrForbidden):
		writeJSON(w, http.StatusForbidden, errorBody{Message: "forbidden"})
	case errors.Is(err, apperr.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Message: "not found"})
	default:
		log.Error("Request failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Message: "internal server error"})
	}
}

// decode reads a JSON body into dst and runs its validate tags.
func decode(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return fmt.Errorf("%w: invalid request body", apperr.ErrValidation)
	}
	if err := validate.Struct(dst); err != nil {
		return fmt.Errorf("%w: %w", apperr.ErrValidation, err)
	}
	return nil
}

// callerID is set by middleware.AuthMiddleware. A handler mounted without
// it answers 401.
func callerID(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorBody{Message: "unauthorized"})
	}
	return userID, ok
}
