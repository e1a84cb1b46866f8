package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// StatusError is returned for non-2xx responses when no error handler is set.
type StatusError struct {
	Tag    string
	Method string
	Path   string
	Status int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s %s returned %d", e.Tag, e.Method, e.Path, e.Status)
}

// Executor sends JSON requests to an HTTP API and decodes JSON responses.
// It never retries: a failed call is reported to the caller as is.
type Executor struct {
	logger       *zap.Logger
	http         *http.Client
	tag          string
	errorHandler func(req *http.Request, status int, body []byte) error
}

// New creates an Executor. errorHandler is called on every non-2xx response to produce
// a caller-specific error. If nil, a *StatusError is returned. Response bodies are
// never logged since they may carry secret material.
func New(
	logger *zap.Logger,
	httpClient *http.Client,
	tag string,
	errorHandler func(req *http.Request, status int, body []byte) error,
) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Executor{
		logger:       logger,
		http:         httpClient,
		tag:          tag,
		errorHandler: errorHandler,
	}
}

// NewRequest builds a request with an optional JSON payload and extra headers.
func NewRequest(ctx context.Context, method, url string, payload any, headers map[string]string) (*http.Request, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode payload: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		if v != "" {
			req.Header.Set(k, v)
		}
	}
	return req, nil
}

// DoJSON executes req and JSON-decodes a successful response body into out.
func (e *Executor) DoJSON(req *http.Request, out any) error {
	start := time.Now()
	resp, err := e.http.Do(req)
	if err != nil {
		e.logger.Warn(e.tag+".http_failed",
			zap.String("method", req.Method),
			zap.String("path", req.URL.Path),
			zap.Error(err))
		return fmt.Errorf("%s %s %s: %w", e.tag, req.Method, req.URL.Path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s read body: %w", e.tag, err)
	}
	elapsed := time.Since(start)

	if resp.StatusCode >= 500 {
		e.logger.Warn(e.tag+".server_error",
			zap.String("method", req.Method),
			zap.String("path", req.URL.Path),
			zap.Int("status", resp.StatusCode),
			zap.Duration("latency", elapsed))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if e.errorHandler != nil {
			return e.errorHandler(req, resp.StatusCode, body)
		}
		return &StatusError{Tag: e.tag, Method: req.Method, Path: req.URL.Path, Status: resp.StatusCode}
	}

	if out != nil && len(body) > 0 {
		if err := json.Unmarshal(body, out); err != nil {
			e.logger.Warn(e.tag+".decode_failed",
				zap.String("path", req.URL.Path),
				zap.Error(err))
			return fmt.Errorf("decode failed: %w", err)
		}
	}

	e.logger.Debug(e.tag+".http_success",
		zap.String("method", req.Method),
		zap.String("path", req.URL.Path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", elapsed))

	return nil
}
