// Package types contains shared types used across the mark status service
package types

import (
	"time"
)

// ErrorKind classifies failures of the remote mark API
type ErrorKind string

const (
	ErrorKindNetwork     ErrorKind = "network"
	ErrorKindRateLimited ErrorKind = "rate_limited"
	ErrorKindConflict    ErrorKind = "conflict"
	ErrorKindForbidden   ErrorKind = "forbidden"
)

// ItemStatus is the JSON view of a cached mark status
type ItemStatus struct {
	ItemID     string    `json:"item_id"`
	Marked     bool      `json:"marked"`
	ObservedAt time.Time `json:"observed_at"`
	Source     string    `json:"source"`
	Fresh      bool      `json:"fresh"`
}

// CardStatus is the JSON view of a mounted feed card
type CardStatus struct {
	ItemID    string    `json:"item_id"`
	Index     int       `json:"index"`
	Title     string    `json:"title"`
	Author    string    `json:"author,omitempty"`
	Link      string    `json:"link,omitempty"`
	Published time.Time `json:"published,omitempty"`
	Marked    bool      `json:"marked"`
	Resolved  bool      `json:"resolved"`
	MarkCount int       `json:"mark_count"`
	State     string    `json:"state"`
	LastError string    `json:"last_error,omitempty"`
}

// LimiterStatus is the JSON view of the status check limiter
type LimiterStatus struct {
	InFlight int    `json:"in_flight"`
	Capacity int    `json:"capacity"`
	Peak     int    `json:"peak"`
	Acquired uint64 `json:"acquired"`
	Rejected uint64 `json:"rejected"`
}

// ReloadJobStatus tracks a queued timeline reload
type ReloadJobStatus struct {
	JobID       string     `json:"job_id"`
	URL         string     `json:"url"`
	Status      string     `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	ItemsCount  int        `json:"items_count"`
	DurationMs  int64      `json:"duration_ms,omitempty"`
	Error       string     `json:"error,omitempty"`
}
