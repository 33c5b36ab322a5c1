package api

import (
	"encoding/json/v2"
	"net/http"

	"github.com/lyricsd/lyricsd/internal/errors"
	"github.com/lyricsd/lyricsd/internal/logger"
)

// Envelope provides a consistent JSON response structure.
type Envelope struct {
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Success bool   `json:"success"`
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any, log *logger.Logger) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)

	envelope := Envelope{
		Success: status < 400,
		Data:    data,
	}
	if err := json.MarshalWrite(w, envelope); err != nil {
		log.WithError(err).Error("encoding response failed")
	}
}

// writeError writes an error response, mapping domain errors to their
// HTTP status. Unknown errors become 500 without leaking detail.
func writeError(w http.ResponseWriter, err error, log *logger.Logger) {
	status := http.StatusInternalServerError
	message := "internal server error"

	var domainErr *errors.Error
	if errors.As(err, &domainErr) {
		status = domainErr.Code.HTTPStatus()
		message = domainErr.Message
	} else {
		log.WithError(err).Error("unhandled error")
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	envelope := Envelope{Success: false, Error: message}
	if encErr := json.MarshalWrite(w, envelope); encErr != nil {
		log.WithError(encErr).Error("encoding error response failed")
	}
}
