package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/joseph-ayodele/steps-tracker/internal/common"
)

// SendJSON sends a JSON request and returns the raw response body.
// A nil body sends no payload. Non-2xx responses return *common.HTTPError
// together with the raw body so callers can decode structured rejections.
func SendJSON(ctx context.Context, client *http.Client, method, url string, body any, headers map[string]string, logger *slog.Logger) ([]byte, int, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if client == nil {
		client = &http.Client{Timeout: 45 * time.Second}
	}

	ctx, reqID := common.EnsureRequestID(ctx)
	start := time.Now()

	var payload io.Reader
	var size int
	if body != nil {
		bs, err := json.Marshal(body)
		if err != nil {
			logger.Error("client.http.encode_error", "req_id", reqID, "error", err)
			return nil, 0, fmt.Errorf("encode json: %w", err)
		}
		payload = bytes.NewReader(bs)
		size = len(bs)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, payload)
	if err != nil {
		logger.Error("client.http.build_request_error", "req_id", reqID, "error", err)
		return nil, 0, fmt.Errorf("build request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("X-Request-ID", reqID)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	logger.Debug("client.http.request",
		"req_id", reqID,
		"method", method,
		"url", url,
		"content_length", size,
	)

	raw, status, err := do(client, req, reqID, start, logger)
	if err != nil {
		return raw, status, err
	}
	if status/100 != 2 {
		return raw, status, &common.HTTPError{Method: method, URL: url, StatusCode: status, Body: string(raw)}
	}
	return raw, status, nil
}

// SendBytes uploads a raw body, typically to a presigned upload URL.
func SendBytes(ctx context.Context, client *http.Client, method, url string, body []byte, contentType string, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	if client == nil {
		client = &http.Client{Timeout: 45 * time.Second}
	}

	ctx, reqID := common.EnsureRequestID(ctx)
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.ContentLength = int64(len(body))
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("X-Request-ID", reqID)

	logger.Debug("client.http.upload", "req_id", reqID, "url", url, "content_length", len(body))

	raw, status, err := do(client, req, reqID, start, logger)
	if err != nil {
		return err
	}
	if status/100 != 2 {
		return &common.HTTPError{Method: method, URL: url, StatusCode: status, Body: string(raw)}
	}
	return nil
}

func do(client *http.Client, req *http.Request, reqID string, start time.Time, logger *slog.Logger) ([]byte, int, error) {
	resp, err := client.Do(req)
	if err != nil {
		logger.Warn("client.http.send_error", "req_id", reqID, "error", err, "elapsed_ms", time.Since(start).Milliseconds())
		return nil, 0, err
	}
	defer func(Body io.ReadCloser) {
		if err := Body.Close(); err != nil {
			logger.Warn("client.http.response_body_close_error", "req_id", reqID, "error", err)
		}
	}(resp.Body)

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read response: %w", err)
	}

	logger.Debug("client.http.response",
		"req_id", reqID,
		"status", resp.StatusCode,
		"bytes", len(raw),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return raw, resp.StatusCode, nil
}
