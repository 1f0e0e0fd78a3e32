package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/OliveiraNt/queuepilot/internal/application"
	"github.com/OliveiraNt/queuepilot/internal/utils"
)

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		utils.Logger.Error("encode response failed", "err", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

// statusFor maps application errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, application.ErrConsumerNotFound),
		errors.Is(err, application.ErrTenantNotFound),
		errors.Is(err, application.ErrEntryNotFound):
		return http.StatusNotFound
	case errors.Is(err, application.ErrTenantExists):
		return http.StatusConflict
	case errors.Is(err, application.ErrInvalidConsumerID),
		errors.Is(err, application.ErrInvalidStatus),
		errors.Is(err, application.ErrInvalidTenantID),
		errors.Is(err, application.ErrInvalidPartitionCount),
		errors.Is(err, application.ErrInvalidTopic):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		utils.Logger.Error("api "+op+" failed", "path", r.URL.Path, "err", err)
	} else {
		utils.Logger.Warn("api "+op+" rejected", "path", r.URL.Path, "err", err)
	}
	writeError(w, status, err.Error())
}

func decode(w http.ResponseWriter, r *http.Request, op string, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		utils.Logger.Warn("api "+op+" bad request", "path", r.URL.Path, "err", err)
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}
