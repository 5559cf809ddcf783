// Package handler provides HTTP request handlers.
package handler

import (
	"encoding/json"
	"net/http"

	"github.com/phonechecker/phonechecker/internal/handler/dto"
)

// Handler serves the routes outside the API dispatcher.
type Handler struct {
	openapi []byte
}

// New creates a new Handler. openapi is served verbatim by OpenAPI.
func New(openapi []byte) *Handler {
	return &Handler{openapi: openapi}
}

// OpenAPI serves the API description.
// GET /openapi.yaml
func (h *Handler) OpenAPI(w http.ResponseWriter, r *http.Request) {
	if len(h.openapi) == 0 {
		writeError(w, http.StatusNotFound, "Not found")
		return
	}
	w.Header().Set("Content-Type", "application/yaml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(h.openapi)
}

// NotFound handles 404 responses.
func (h *Handler) NotFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusNotFound, "Not found")
}

// MethodNotAllowed handles 405 responses.
func (h *Handler) MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// Headers are already sent; nothing useful can be done with an encode error.
	_ = json.NewEncoder(w).Encode(data)
}

func writeSuccess(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, dto.SuccessEnvelope{Success: true, Data: data})
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, dto.ErrorEnvelope{Success: false, Error: message})
}
