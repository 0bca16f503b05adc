// Package reqlog persists sanitized records of every outbound call so the
// dashboard can audit what the engine sent and received.
package reqlog

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog"

	"github.com/hydepark/worksync/internal/sanitize"
	"github.com/hydepark/worksync/internal/worksync/store"
)

// Recorder writes request log entries through the sanitizer.  A failed
// write is logged and dropped — audit logging must never fail a sync
// transition.
type Recorder struct {
	logs   store.RequestLogStore
	logger zerolog.Logger
}

func NewRecorder(logs store.RequestLogStore, logger zerolog.Logger) *Recorder {
	return &Recorder{logs: logs, logger: logger}
}

func (r *Recorder) Record(ctx context.Context, e store.RequestLogEntry) {
	e.RequestBody = sanitizeBody(e.RequestBody)
	e.ResponseBody = sanitizeBody(e.ResponseBody)
	e.Error = sanitize.String(e.Error)

	if err := r.logs.Append(ctx, e); err != nil {
		r.logger.Warn().Err(err).
			Str("target", e.Target).
			Str("endpoint", e.Endpoint).
			Msg("request log write failed")
	}
}

// sanitizeBody redacts a JSON body when it parses, and falls back to
// pattern masking for anything that isn't JSON.
func sanitizeBody(body string) string {
	if body == "" {
		return ""
	}

	var v any
	if err := json.Unmarshal([]byte(body), &v); err != nil {
		return sanitize.String(body)
	}

	cleaned, err := json.Marshal(sanitize.Value(v))
	if err != nil {
		return sanitize.String(body)
	}
	return string(cleaned)
}
