package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/Nexora-Open-Source/markstatus/middleware"
	"github.com/Nexora-Open-Source/markstatus/types"
	"github.com/Nexora-Open-Source/markstatus/utils"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// FeedResponse lists the mounted cards
type FeedResponse struct {
	Cards     []types.CardStatus `json:"cards"`
	Total     int                `json:"total"`
	RequestID string             `json:"request_id"`
}

// ReloadRequest is the optional body of POST /feed/reload
type ReloadRequest struct {
	Async bool `json:"async,omitempty"`
}

// ReloadResponse reports a finished or queued reload
type ReloadResponse struct {
	Success    bool   `json:"success"`
	Message    string `json:"message"`
	ItemsCount int    `json:"items_count,omitempty"`
	JobID      string `json:"job_id,omitempty"`
	Status     string `json:"status,omitempty"`
	RequestID  string `json:"request_id"`
}

// HandleGetFeed returns every mounted card with its resolved status
// @Summary      Mounted feed
// @Description  Cards in timeline order with mark status, mark count and the last mutation error
// @Tags         feed
// @Produce      json
// @Success      200  {object}  FeedResponse
// @Router       /feed [get]
func (h *Handler) HandleGetFeed(w http.ResponseWriter, r *http.Request) {
	requestID := utils.RequestID(w, r)
	cards := h.Host.Cards()

	writeJSON(w, http.StatusOK, FeedResponse{
		Cards:     cards,
		Total:     len(cards),
		RequestID: requestID,
	})
}

// HandleReloadFeed reloads the home timeline and remounts every card. With
// {"async": true} the reload is queued and answered with 202 and a job id.
// @Summary      Reload timeline
// @Description  Fetches the configured timeline and remounts all cards, optionally in the background
// @Tags         feed
// @Accept       json
// @Produce      json
// @Param        request  body      ReloadRequest  false  "Reload options"
// @Success      200      {object}  ReloadResponse
// @Success      202      {object}  ReloadResponse
// @Failure      400      {object}  middleware.APIError
// @Failure      502      {object}  middleware.APIError
// @Failure      503      {object}  middleware.APIError
// @Router       /feed/reload [post]
func (h *Handler) HandleReloadFeed(w http.ResponseWriter, r *http.Request) {
	requestID := utils.RequestID(w, r)

	var req ReloadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		middleware.RespondBadRequest(w, fmt.Errorf("invalid request body: %v", err), requestID)
		return
	}

	logger := h.Logger.WithFields(logrus.Fields{
		"request_id": requestID,
		"url":        h.TimelineURL,
		"async":      req.Async,
	})

	if req.Async {
		jobID, err := h.Reloader.Submit(h.TimelineURL, requestID)
		if err != nil {
			logger.WithError(err).Warn("Failed to queue timeline reload")
			middleware.RespondServiceUnavailable(w, err, requestID)
			return
		}
		writeJSON(w, http.StatusAccepted, ReloadResponse{
			Success:   true,
			Message:   "Reload queued",
			JobID:     jobID,
			Status:    "submitted",
			RequestID: requestID,
		})
		return
	}

	count, err := h.Reloader.Reload(r.Context(), h.TimelineURL)
	if err != nil {
		logger.WithError(err).Error("Timeline reload failed")
		middleware.RespondExternalAPIError(w, err, requestID)
		return
	}

	logger.WithField("items_count", count).Info("Timeline reloaded")
	writeJSON(w, http.StatusOK, ReloadResponse{
		Success:    true,
		Message:    "Timeline reloaded",
		ItemsCount: count,
		RequestID:  requestID,
	})
}

// HandleGetJobStatus retrieves the status of a queued reload
// @Summary      Reload job status
// @Tags         feed
// @Produce      json
// @Param        id   path      string  true  "Job ID"
// @Success      200  {object}  types.ReloadJobStatus
// @Failure      404  {object}  middleware.APIError
// @Router       /feed/jobs/{id} [get]
func (h *Handler) HandleGetJobStatus(w http.ResponseWriter, r *http.Request) {
	requestID := utils.RequestID(w, r)
	jobID := mux.Vars(r)["id"]

	status, ok := h.Reloader.JobStatus(jobID)
	if !ok {
		middleware.RespondNotFound(w, fmt.Errorf("job %s not found", jobID), requestID)
		return
	}

	h.Logger.WithFields(logrus.Fields{
		"request_id": requestID,
		"job_id":     jobID,
		"status":     status.Status,
	}).Debug("Job status retrieved")

	writeJSON(w, http.StatusOK, status)
}
