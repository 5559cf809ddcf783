// Package middleware provides HTTP middleware components.
package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/phonechecker/phonechecker/internal/handler/dto"
)

// writeError writes the API error envelope. Middleware short-circuits with
// the same shape the dispatcher uses.
func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(dto.ErrorEnvelope{Success: false, Error: message})
}
