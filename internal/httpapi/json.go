package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// apiError is the body of every error response.
type apiError struct {
	Status  int    `json:"status"`
	Error   string `json:"error"`
	Message string `json:"message"`
	Station string `json:"station,omitempty"`
}

// responder writes the JSON bodies of one station's API.
type responder struct {
	station string
	logger  *slog.Logger
}

// json encodes v before writing the header; a value that cannot be
// encoded is answered with a 500 error body.
func (rs responder) json(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		rs.logger.Error("failed to encode response", "status", status, "error", err)
		status = http.StatusInternalServerError
		body, _ = json.Marshal(apiError{
			Status:  status,
			Error:   http.StatusText(status),
			Message: "failed to encode response",
			Station: rs.station,
		})
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if _, err := w.Write(append(body, '\n')); err != nil {
		rs.logger.Debug("response write failed", "status", status, "error", err)
	}
}

func (rs responder) error(w http.ResponseWriter, status int, msg string) {
	rs.json(w, status, apiError{
		Status:  status,
		Error:   http.StatusText(status),
		Message: msg,
		Station: rs.station,
	})
}
