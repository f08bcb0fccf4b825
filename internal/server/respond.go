package server

import (
	"encoding/json"
	"net/http"

	"github.com/sirupsen/logrus"
)

// errorResponse is the structured error body returned on every failure path.
type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// respondJSON writes v as a JSON response.
func (ps *PlaybackServer) respondJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		ps.logger.WithError(err).Error("Failed to encode JSON response")
	}
}

// respondWithError sends a structured error response and logs it at a level
// matching its severity.
func (ps *PlaybackServer) respondWithError(w http.ResponseWriter, r *http.Request, statusCode int, code, message string, err error) {
	entry := ps.logger.WithFields(logrus.Fields{
		"method":      r.Method,
		"path":        r.URL.Path,
		"status_code": statusCode,
		"error_code":  code,
	})
	if err != nil {
		entry = entry.WithError(err)
	}

	if statusCode >= 500 {
		entry.Error("Request failed")
	} else {
		entry.Warn("Request rejected")
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if encodeErr := json.NewEncoder(w).Encode(errorResponse{Error: code, Message: message}); encodeErr != nil {
		ps.logger.WithError(encodeErr).Error("Failed to encode error response")
	}
}
