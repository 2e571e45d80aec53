// Package health provides health check handlers for the mark status service
package health

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/Nexora-Open-Source/markstatus/middleware"
	"github.com/Nexora-Open-Source/markstatus/types"
	"github.com/Nexora-Open-Source/markstatus/utils"
	"github.com/sirupsen/logrus"
)

// HealthStatus represents the health check response structure
type HealthStatus struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Version   string            `json:"version"`
	Services  map[string]string `json:"services"`
	Uptime    string            `json:"uptime"`
}

// Mounted reports how many feed cards are on screen
type Mounted interface {
	Len() int
}

// Limiter reports status check limiter stats
type Limiter interface {
	Status() types.LimiterStatus
}

// Handler contains dependencies for health handlers
type Handler struct {
	Feed    Mounted
	Limiter Limiter
	Logger  *logrus.Logger
}

// NewHandler creates a new health handler
func NewHandler(feed Mounted, limiter Limiter, logger *logrus.Logger) *Handler {
	return &Handler{
		Feed:    feed,
		Limiter: limiter,
		Logger:  logger,
	}
}

// HandleHealthCheck provides a health check endpoint for monitoring
// @Summary      Health check
// @Tags         health
// @Produce      json
// @Success      200  {object}  HealthStatus
// @Router       /health [get]
func (h *Handler) HandleHealthCheck(w http.ResponseWriter, r *http.Request) {
	utils.RequestID(w, r)

	health := HealthStatus{
		Status:    "healthy",
		Timestamp: time.Now().Format(time.RFC3339),
		Version:   "1.0.0",
		Services:  make(map[string]string),
		Uptime:    time.Since(startTime).String(),
	}

	if err := h.checkLimiter(); err != nil {
		health.Status = "degraded"
		health.Services["limiter"] = "degraded: " + err.Error()
		h.Logger.WithFields(logrus.Fields{
			"service": "limiter",
			"error":   err.Error(),
		}).Warn("Health check found a saturated limiter")
	} else {
		health.Services["limiter"] = "healthy"
	}

	if h.Feed.Len() == 0 {
		health.Services["feed"] = "empty"
	} else {
		health.Services["feed"] = fmt.Sprintf("%d cards mounted", h.Feed.Len())
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(health)
}

// HandleLivenessCheck provides a simple liveness probe
// @Summary      Liveness probe
// @Tags         health
// @Produce      json
// @Success      200  {object}  map[string]interface{}
// @Router       /health/live [get]
func (h *Handler) HandleLivenessCheck(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"status":    "alive",
		"timestamp": time.Now().Format(time.RFC3339),
		"uptime":    time.Since(startTime).String(),
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(response)
}

// HandleReadinessCheck is ready once the timeline has been mounted
// @Summary      Readiness probe
// @Tags         health
// @Produce      json
// @Success      200  {object}  map[string]interface{}
// @Failure      503  {object}  middleware.APIError
// @Router       /health/ready [get]
func (h *Handler) HandleReadinessCheck(w http.ResponseWriter, r *http.Request) {
	requestID := utils.RequestID(w, r)

	if h.Feed.Len() == 0 {
		middleware.RespondServiceUnavailable(w, fmt.Errorf("timeline not mounted yet"), requestID)
		return
	}

	response := map[string]interface{}{
		"status":    "ready",
		"timestamp": time.Now().Format(time.RFC3339),
		"services": map[string]string{
			"feed": "ready",
		},
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(response)
}

// checkLimiter fails when every check slot is taken
func (h *Handler) checkLimiter() error {
	status := h.Limiter.Status()
	if status.Capacity > 0 && status.InFlight >= status.Capacity {
		return fmt.Errorf("%d of %d check slots in use", status.InFlight, status.Capacity)
	}
	return nil
}

var startTime = time.Now()
