package handler

import (
	"context"
	"net/http"
	"time"

	"LinkMonitorAPI/internal/logger"
	"LinkMonitorAPI/internal/models"
	"LinkMonitorAPI/internal/mqtt"

	"github.com/gorilla/mux"
)

type healthChecker interface {
	Health(ctx context.Context) error
}

type sessionCounter interface {
	Count() int
}

// HealthHandler reports store, MQTT and live-session status. mqttClient may
// be nil when MQTT is disabled; it is then left out of readiness.
type HealthHandler struct {
	store      healthChecker
	mqttClient *mqtt.Client
	sessions   sessionCounter
	log        *logger.Logger
}

func NewHealthHandler(store healthChecker, mqttClient *mqtt.Client, sessions sessionCounter, log *logger.Logger) *HealthHandler {
	return &HealthHandler{
		store:      store,
		mqttClient: mqttClient,
		sessions:   sessions,
		log:        log,
	}
}

func (h *HealthHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/health", h.Health).Methods("GET")
	r.HandleFunc("/health/live", h.Liveness).Methods("GET")
	r.HandleFunc("/health/ready", h.Readiness).Methods("GET")
}

func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	response := models.HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
	}

	response.Services.Store = h.store.Health(ctx) == nil

	mqttOK := true
	if h.mqttClient != nil {
		mqttHealth, mqttErr := h.mqttClient.Health(ctx)
		mqttOK = mqttErr == nil && mqttHealth.Connected
		response.Services.MQTT = mqttOK
	}

	if h.sessions != nil {
		response.Services.Sessions = h.sessions.Count()
	}

	if !response.Services.Store || !mqttOK {
		response.Status = "degraded"
		h.log.Warn("Health check degraded - Store: %v, MQTT: %v", response.Services.Store, mqttOK)
	}

	statusCode := http.StatusOK
	if response.Status == "degraded" {
		statusCode = http.StatusServiceUnavailable
	}

	respondJSON(w, statusCode, response)
}

func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "alive",
	})
}

func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	storeErr := h.store.Health(ctx)
	mqttConnected := h.mqttClient == nil || h.mqttClient.IsConnected()

	if storeErr != nil || !mqttConnected {
		h.log.Warn("Readiness check failed - Store error: %v, MQTT connected: %v", storeErr, mqttConnected)
		respondJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not ready",
		})
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{
		"status": "ready",
	})
}
