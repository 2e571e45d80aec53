/*
Package handlers provides the debug HTTP surface of the mark status service.

The Handler struct holds the feed host, reloader, status cache and check
limiter behind small interfaces so each endpoint can be tested without a
running remote API.
*/
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/Nexora-Open-Source/markstatus/cache"
	"github.com/Nexora-Open-Source/markstatus/types"
	"github.com/sirupsen/logrus"
)

// FeedHost is the mounted feed
type FeedHost interface {
	Cards() []types.CardStatus
	Card(itemID string) (types.CardStatus, bool)
	SetMarked(ctx context.Context, itemID string, marked bool) (bool, error)
}

// TimelineReloader reloads the timeline now or in the background
type TimelineReloader interface {
	Reload(ctx context.Context, feedURL string) (int, error)
	Submit(feedURL, requestID string) (string, error)
	JobStatus(jobID string) (types.ReloadJobStatus, bool)
}

// StatusCache reads cached mark status
type StatusCache interface {
	Lookup(itemID string, now time.Time) (entry cache.Entry, found, fresh bool)
}

// LimiterStatus reports status check limiter stats
type LimiterStatus interface {
	Status() types.LimiterStatus
}

// Handler contains all service dependencies for HTTP handlers
type Handler struct {
	Host        FeedHost
	Reloader    TimelineReloader
	Cache       StatusCache
	Limiter     LimiterStatus
	TimelineURL string
	Logger      *logrus.Logger
}

// NewHandler creates a new handler instance with injected dependencies
func NewHandler(host FeedHost, reloader TimelineReloader, statusCache StatusCache, limiter LimiterStatus, timelineURL string, logger *logrus.Logger) *Handler {
	if logger == nil {
		logger = logrus.New()
	}
	return &Handler{
		Host:        host,
		Reloader:    reloader,
		Cache:       statusCache,
		Limiter:     limiter,
		TimelineURL: timelineURL,
		Logger:      logger,
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
