// Package upstream is the client for the online application backend the
// engine polls.  Its wire format is owned by the upstream team; only the
// fields the engine consumes are modeled here.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/hydepark/worksync/internal/observability"
	"github.com/hydepark/worksync/internal/worksync/store"
	"github.com/hydepark/worksync/internal/worksync/types"
)

var (
	ErrNoIdentity     = errors.New("either workerId or nationalIdNumber is required")
	ErrInvalidStatus  = errors.New("status must be approved or blocked")
	ErrMissingBlocked = errors.New("blockedReason is required when status is blocked")
)

type Config struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	Timeout     time.Duration
}

type Client struct {
	cfg      Config
	http     *http.Client
	logger   zerolog.Logger
	recorder store.RequestRecorder
}

func NewClient(cfg Config, logger zerolog.Logger, recorder store.RequestRecorder) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		cfg:      cfg,
		http:     &http.Client{Timeout: timeout},
		logger:   logger,
		recorder: recorder,
	}
}

// PendingEvents fetches up to limit unconsumed events, optionally filtered
// by event type.  The endpoint has returned both a bare array and an
// {events: [...]} wrapper; both are accepted.
func (c *Client) PendingEvents(ctx context.Context, limit int, eventType string) ([]types.Event, error) {
	if limit <= 0 {
		limit = 100
	}

	q := url.Values{"limit": {strconv.Itoa(limit)}}
	if eventType != "" {
		q.Set("type", eventType)
	}

	body, err := c.do(ctx, http.MethodGet, "/admin/events/pending?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}

	var events []types.Event
	if err := json.Unmarshal(body, &events); err == nil {
		return events, nil
	}

	var wrap struct {
		Events []types.Event `json:"events"`
	}
	if err := json.Unmarshal(body, &wrap); err != nil {
		return nil, fmt.Errorf("decode pending events: %w", err)
	}
	return wrap.Events, nil
}

// EventStats returns the upstream's pending/consumed counters as-is for the
// dashboard.
func (c *Client) EventStats(ctx context.Context) (json.RawMessage, error) {
	return c.do(ctx, http.MethodGet, "/admin/events/stats", nil)
}

// StatusUpdate acknowledges a consumed event back to the upstream.  Either
// WorkerID or IdentityKey must be set; BlockedReason is mandatory for
// blocked.
type StatusUpdate struct {
	WorkerID      string             `json:"workerId,omitempty"`
	IdentityKey   string             `json:"nationalIdNumber,omitempty"`
	Status        types.WorkerStatus `json:"status"`
	ExternalID    string             `json:"externalId,omitempty"`
	BlockedReason string             `json:"blockedReason,omitempty"`
}

func (c *Client) UpdateWorkerStatus(ctx context.Context, u StatusUpdate) error {
	if u.WorkerID == "" && u.IdentityKey == "" {
		return ErrNoIdentity
	}
	if u.Status != types.StatusApproved && u.Status != types.StatusBlocked {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, u.Status)
	}
	if u.Status == types.StatusBlocked && u.BlockedReason == "" {
		return ErrMissingBlocked
	}

	_, err := c.do(ctx, http.MethodPost, "/admin/workers/update-status", u)
	return err
}

func (c *Client) do(ctx context.Context, method, path string, body any) (json.RawMessage, error) {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal %s body: %w", path, err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", path, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.BearerToken)
	}
	if c.cfg.APIKey != "" {
		req.Header.Set("X-API-Key", c.cfg.APIKey)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.record(ctx, method, path, payload, 0, nil, time.Since(start), err)
		return nil, fmt.Errorf("upstream %s: %w", path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		c.record(ctx, method, path, payload, resp.StatusCode, nil, time.Since(start), err)
		return nil, fmt.Errorf("upstream %s: read body: %w", path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		statusErr := fmt.Errorf("upstream %s: unexpected status %d", path, resp.StatusCode)
		c.record(ctx, method, path, payload, resp.StatusCode, respBody, time.Since(start), statusErr)
		return nil, statusErr
	}

	c.record(ctx, method, path, payload, resp.StatusCode, respBody, time.Since(start), nil)
	return respBody, nil
}

func (c *Client) record(ctx context.Context, method, path string, reqBody []byte, status int, respBody []byte, dur time.Duration, callErr error) {
	observability.RecordRemoteCall("upstream", callErr)

	if c.recorder == nil {
		return
	}

	errMsg := ""
	if callErr != nil {
		errMsg = callErr.Error()
	}

	c.recorder.Record(ctx, store.RequestLogEntry{
		Target:       "upstream",
		Endpoint:     c.cfg.BaseURL + path,
		Method:       method,
		StatusCode:   status,
		DurationMs:   dur.Milliseconds(),
		Error:        errMsg,
		RequestBody:  string(reqBody),
		ResponseBody: string(respBody),
	})
}
