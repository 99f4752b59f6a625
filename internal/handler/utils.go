package handler

import (
	"encoding/json"
	"net/http"

	"LinkMonitorAPI/internal/models"
)

type ErrorResponse struct {
	Error  string              `json:"error"`
	Errors []models.FieldError `json:"errors,omitempty"`
}

func respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	err := json.NewEncoder(w).Encode(data)
	if err != nil {
		return
	}
}

func respondError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}

func respondValidation(w http.ResponseWriter, verr *models.ValidationError) {
	respondJSON(w, http.StatusBadRequest, ErrorResponse{
		Error:  "Invalid request",
		Errors: verr.Fields,
	})
}

// methodNotAllowed answers 405 listing the methods a route supports.
func methodNotAllowed(allow string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Allow", allow)
		respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}
