package util

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func JSONError(w http.ResponseWriter, message string, code int) {
	WriteJSON(w, code, map[string]string{"message": message})
}

func LogAndError(w http.ResponseWriter, logger *slog.Logger, message string, code int, err error) {
	if err != nil {
		logger.Error(message, "error", err)
	} else {
		logger.Error(message)
	}
	JSONError(w, message, code)
}
