package store

import (
	"context"
	"time"
)

// RequestLogEntry records one outbound call to an external system.  Entries
// are immutable once written; bodies are sanitized before they get here.
type RequestLogEntry struct {
	ID           string    `json:"id"`
	Target       string    `json:"target"` // "upstream" | "hikcentral"
	Endpoint     string    `json:"endpoint"`
	Method       string    `json:"method"`
	StatusCode   int       `json:"statusCode"`
	DurationMs   int64     `json:"durationMs"`
	Error        string    `json:"error,omitempty"`
	RequestBody  string    `json:"requestBody,omitempty"`
	ResponseBody string    `json:"responseBody,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

// RequestLogStats summarizes the request log for the dashboard.
type RequestLogStats struct {
	TotalRequests  int64   `json:"totalRequests"`
	FailedRequests int64   `json:"failedRequests"`
	SuccessRate    float64 `json:"successRate"`
	AvgDurationMs  float64 `json:"avgDurationMs"`
}

type RequestLogStore interface {
	Append(ctx context.Context, e RequestLogEntry) error

	// Recent returns the newest entries, optionally filtered by target.
	Recent(ctx context.Context, limit int, target string) ([]RequestLogEntry, error)

	Stats(ctx context.Context) (RequestLogStats, error)

	// PruneOlderThan deletes entries created before cutoff and returns the
	// number of rows deleted.
	PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// RequestRecorder is the write-side hook handed to the HTTP clients.  A nil
// recorder disables request logging.
type RequestRecorder interface {
	Record(ctx context.Context, e RequestLogEntry)
}
