package handler

import (
	"errors"
	"io"
	"net/http"

	"LinkMonitorAPI/internal/logger"
	"LinkMonitorAPI/internal/models"
	"LinkMonitorAPI/internal/service"

	"github.com/gorilla/mux"
)

type ReadingHandler struct {
	readingService *service.ReadingService
	maxBodyBytes   int64
	log            *logger.Logger
}

func NewReadingHandler(readingService *service.ReadingService, maxBodyBytes int64, log *logger.Logger) *ReadingHandler {
	return &ReadingHandler{
		readingService: readingService,
		maxBodyBytes:   maxBodyBytes,
		log:            log,
	}
}

func (h *ReadingHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/readings", h.IngestReadings).Methods("POST")
	r.HandleFunc("/readings", h.GetSnapshot).Methods("GET")
	r.HandleFunc("/readings", methodNotAllowed("GET, POST"))
}

func (h *ReadingHandler) IngestReadings(w http.ResponseWriter, r *http.Request) {
	body := io.Reader(r.Body)
	if h.maxBodyBytes > 0 {
		body = http.MaxBytesReader(w, r.Body, h.maxBodyBytes)
	}

	payload, err := io.ReadAll(body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(w, http.StatusRequestEntityTooLarge, "Request body too large")
			return
		}
		respondError(w, http.StatusBadRequest, "Failed to read request body")
		return
	}

	accepted, err := h.readingService.Ingest(r.Context(), payload)
	if err != nil {
		var verr *models.ValidationError
		if errors.As(err, &verr) {
			h.log.Debug("Rejected payload: %v", verr)
			respondValidation(w, verr)
			return
		}
		h.log.Error("Failed to ingest readings: %v", err)
		respondError(w, http.StatusInternalServerError, "Failed to store readings")
		return
	}

	respondJSON(w, http.StatusOK, models.IngestResponse{Accepted: accepted})
}

func (h *ReadingHandler) GetSnapshot(w http.ResponseWriter, r *http.Request) {
	snapshot, err := h.readingService.Snapshot(r.Context())
	if err != nil {
		h.log.Error("Failed to load snapshot: %v", err)
		respondError(w, http.StatusInternalServerError, "Failed to load readings")
		return
	}

	respondJSON(w, http.StatusOK, snapshot)
}
