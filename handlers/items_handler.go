package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Nexora-Open-Source/markstatus/feed"
	"github.com/Nexora-Open-Source/markstatus/middleware"
	"github.com/Nexora-Open-Source/markstatus/types"
	"github.com/Nexora-Open-Source/markstatus/utils"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// MarkRequest is the body of PUT /items/{id}/mark
type MarkRequest struct {
	Marked *bool `json:"marked"`
}

// MarkResponse carries the displayed value once the mutation settled
type MarkResponse struct {
	ItemID    string           `json:"item_id"`
	Marked    bool             `json:"marked"`
	Card      types.CardStatus `json:"card"`
	RequestID string           `json:"request_id"`
}

// HandleGetItemStatus returns the cached mark status of an item
// @Summary      Cached item status
// @Description  The last observed mark status and whether it is still fresh
// @Tags         items
// @Produce      json
// @Param        id   path      string  true  "Item ID"
// @Success      200  {object}  types.ItemStatus
// @Failure      404  {object}  middleware.APIError
// @Router       /items/{id}/status [get]
func (h *Handler) HandleGetItemStatus(w http.ResponseWriter, r *http.Request) {
	requestID := utils.RequestID(w, r)
	itemID := mux.Vars(r)["id"]

	entry, found, fresh := h.Cache.Lookup(itemID, time.Now())
	if !found {
		middleware.RespondNotFound(w, fmt.Errorf("no cached status for %s", itemID), requestID)
		return
	}

	writeJSON(w, http.StatusOK, types.ItemStatus{
		ItemID:     entry.ItemID,
		Marked:     entry.Marked,
		ObservedAt: entry.ObservedAt,
		Source:     string(entry.Source),
		Fresh:      fresh,
	})
}

/*
HandleSetMark marks or unmarks a mounted item and waits for the outcome.

A failed mutation is not an HTTP error: the response carries the reverted
value and the card's last error.
*/
// @Summary      Mark or unmark an item
// @Tags         items
// @Accept       json
// @Produce      json
// @Param        id       path      string       true  "Item ID"
// @Param        request  body      MarkRequest  true  "Desired mark state"
// @Success      200      {object}  MarkResponse
// @Failure      400      {object}  middleware.APIError
// @Failure      404      {object}  middleware.APIError
// @Router       /items/{id}/mark [put]
func (h *Handler) HandleSetMark(w http.ResponseWriter, r *http.Request) {
	requestID := utils.RequestID(w, r)
	itemID := mux.Vars(r)["id"]

	var req MarkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.RespondBadRequest(w, fmt.Errorf("invalid request body: %v", err), requestID)
		return
	}
	if req.Marked == nil {
		middleware.RespondValidationError(w, fmt.Errorf("marked field is required"), requestID)
		return
	}

	marked, err := h.Host.SetMarked(r.Context(), itemID, *req.Marked)
	if errors.Is(err, feed.ErrNotMounted) {
		middleware.RespondNotFound(w, fmt.Errorf("item %s is not mounted", itemID), requestID)
		return
	}
	if err != nil {
		middleware.RespondInternalError(w, err, requestID)
		return
	}

	card, _ := h.Host.Card(itemID)
	h.Logger.WithFields(logrus.Fields{
		"request_id": requestID,
		"item_id":    itemID,
		"desired":    *req.Marked,
		"marked":     marked,
	}).Info("Mark mutation settled")

	writeJSON(w, http.StatusOK, MarkResponse{
		ItemID:    itemID,
		Marked:    marked,
		Card:      card,
		RequestID: requestID,
	})
}

// HandleGetLimiter reports status check limiter stats
// @Summary      Check limiter stats
// @Tags         items
// @Produce      json
// @Success      200  {object}  types.LimiterStatus
// @Router       /limiter [get]
func (h *Handler) HandleGetLimiter(w http.ResponseWriter, r *http.Request) {
	utils.RequestID(w, r)
	writeJSON(w, http.StatusOK, h.Limiter.Status())
}

// RegisterRoutes mounts every debug endpoint on router
func (h *Handler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/feed", h.HandleGetFeed).Methods(http.MethodGet)
	router.HandleFunc("/feed/reload", h.HandleReloadFeed).Methods(http.MethodPost)
	router.HandleFunc("/feed/jobs/{id}", h.HandleGetJobStatus).Methods(http.MethodGet)
	router.HandleFunc("/items/{id}/status", h.HandleGetItemStatus).Methods(http.MethodGet)
	router.HandleFunc("/items/{id}/mark", h.HandleSetMark).Methods(http.MethodPut)
	router.HandleFunc("/limiter", h.HandleGetLimiter).Methods(http.MethodGet)
}
