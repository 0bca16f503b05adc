// Package hikcentral is the signed RPC client for the access-control
// platform.  All mutations go through a single authenticated POST primitive;
// the operations in persons.go are thin mappings onto it with vendor-fixed
// paths and body shapes.
package hikcentral

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hydepark/worksync/internal/observability"
	"github.com/hydepark/worksync/internal/worksync/store"
)

// ErrRemote marks logical failures reported inside the vendor envelope.
var ErrRemote = errors.New("hikcentral remote error")

// CallError reports a failed call.  Transport failures (network, timeout,
// non-2xx) and logical envelope failures (code != "0") are the same to
// callers; the fields differ only in diagnostic detail.
type CallError struct {
	Path       string
	StatusCode int
	Code       string // envelope code, when one was decoded
	Msg        string
	Err        error
}

func (e *CallError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("hikcentral %s: code=%s msg=%q", e.Path, e.Code, e.Msg)
	}
	return fmt.Sprintf("hikcentral %s: %v", e.Path, e.Err)
}

func (e *CallError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return ErrRemote
}

type Config struct {
	// BaseURL is the appliance address; any path component is stripped, the
	// endpoint paths below already carry the /artemis prefix.
	BaseURL string

	AppKey    string
	AppSecret string
	UserID    string

	OrgIndexCode     string
	PrivilegeGroupID string

	// InsecureSkipVerify tolerates the self-signed certificate the
	// appliance ships with.
	InsecureSkipVerify bool

	Timeout time.Duration
}

type Client struct {
	cfg      Config
	base     string // scheme://host only
	http     *http.Client
	logger   zerolog.Logger
	recorder store.RequestRecorder
}

// NewClient builds a client.  recorder may be nil to disable request
// logging.
func NewClient(cfg Config, logger zerolog.Logger, recorder store.RequestRecorder) (*Client, error) {
	u, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse hikcentral base url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("hikcentral base url %q: scheme and host are required", cfg.BaseURL)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.InsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	return &Client{
		cfg:      cfg,
		base:     u.Scheme + "://" + u.Host,
		http:     &http.Client{Timeout: timeout, Transport: transport},
		logger:   logger,
		recorder: recorder,
	}, nil
}

// envelope is the vendor's uniform response wrapper.  code is a string by
// contract; "0" is the only success value.
type envelope struct {
	Code string          `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

// call POSTs a signed request to path and returns the decoded envelope data.
// No retry happens here; retry policy belongs to the event processor.
func (c *Client) call(ctx context.Context, path string, body any) (json.RawMessage, error) {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal %s body: %w", path, err)
		}
	}

	nonce := uuid.NewString()
	timestamp := strconv.FormatInt(time.Now().UnixMilli(), 10)

	md5Value := ""
	if len(payload) > 0 {
		md5Value = contentMD5(payload)
	}

	canonical := stringToSign(http.MethodPost, md5Value, c.cfg.AppKey, nonce, timestamp, path)
	signature := sign(c.cfg.AppSecret, canonical)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", path, err)
	}
	req.Header.Set("Accept", headerAccept)
	req.Header.Set("Content-Type", headerContentType)
	req.Header.Set("X-Ca-Key", c.cfg.AppKey)
	req.Header.Set("X-Ca-Nonce", nonce)
	req.Header.Set("X-Ca-Timestamp", timestamp)
	req.Header.Set("X-Ca-Signature-Headers", signatureHeaders)
	req.Header.Set("X-Ca-Signature", signature)
	req.Header.Set("userId", c.cfg.UserID)
	if md5Value != "" {
		req.Header.Set("Content-MD5", md5Value)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.record(ctx, path, payload, 0, nil, time.Since(start), err)
		return nil, &CallError{Path: path, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		c.record(ctx, path, payload, resp.StatusCode, nil, time.Since(start), err)
		return nil, &CallError{Path: path, StatusCode: resp.StatusCode, Err: err}
	}

	var env envelope
	decodeErr := json.Unmarshal(respBody, &env)

	// Logical failure: the envelope reports non-zero even on HTTP 2xx.
	// String comparison by vendor contract.
	if decodeErr == nil && env.Code != "" && env.Code != "0" {
		callErr := &CallError{Path: path, StatusCode: resp.StatusCode, Code: env.Code, Msg: env.Msg}
		c.record(ctx, path, payload, resp.StatusCode, respBody, time.Since(start), callErr)
		return nil, callErr
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		callErr := &CallError{
			Path:       path,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("unexpected status %d", resp.StatusCode),
		}
		c.record(ctx, path, payload, resp.StatusCode, respBody, time.Since(start), callErr)
		return nil, callErr
	}

	if decodeErr != nil {
		callErr := &CallError{Path: path, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode envelope: %w", decodeErr)}
		c.record(ctx, path, payload, resp.StatusCode, respBody, time.Since(start), callErr)
		return nil, callErr
	}

	c.record(ctx, path, payload, resp.StatusCode, respBody, time.Since(start), nil)
	return env.Data, nil
}

func (c *Client) record(ctx context.Context, path string, reqBody []byte, status int, respBody []byte, dur time.Duration, callErr error) {
	observability.RecordRemoteCall("hikcentral", callErr)

	if c.recorder == nil {
		return
	}

	errMsg := ""
	if callErr != nil {
		errMsg = callErr.Error()
	}

	c.recorder.Record(ctx, store.RequestLogEntry{
		Target:       "hikcentral",
		Endpoint:     c.base + path,
		Method:       http.MethodPost,
		StatusCode:   status,
		DurationMs:   dur.Milliseconds(),
		Error:        errMsg,
		RequestBody:  string(reqBody),
		ResponseBody: strings.ToValidUTF8(string(respBody), ""),
	})
}
