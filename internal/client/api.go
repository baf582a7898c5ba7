package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/joseph-ayodele/steps-tracker/internal/common"
	"github.com/joseph-ayodele/steps-tracker/internal/entity"
)

// APIClient talks to the remote upload, extraction and record endpoints over HTTP+JSON.
type APIClient struct {
	baseURL string
	token   string
	userID  string
	http    *http.Client
	schema  map[string]any
	logger  *slog.Logger
}

var (
	_ Uploader        = (*APIClient)(nil)
	_ Extractor       = (*APIClient)(nil)
	_ RecordCommitter = (*APIClient)(nil)
	_ BulkMutator     = (*APIClient)(nil)
	_ RecordLister    = (*APIClient)(nil)
)

// NewAPIClient builds a client from service configuration.
func NewAPIClient(cfg common.ServiceConfig, logger *slog.Logger) *APIClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &APIClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.Token,
		userID:  cfg.UserID,
		http:    &http.Client{Timeout: cfg.Timeout},
		schema:  BuildExtractionJSONSchema(),
		logger:  logger,
	}
}

func (c *APIClient) headers(ctx context.Context) map[string]string {
	h := map[string]string{}
	if c.token != "" {
		h["Authorization"] = "Bearer " + c.token
	}
	userID := common.UserIDFromContext(ctx)
	if userID == "" {
		userID = c.userID
	}
	if userID != "" {
		h["X-User-ID"] = userID
	}
	if batchID := common.BatchIDFromContext(ctx); batchID != "" {
		h["X-Batch-ID"] = batchID
	}
	return h
}

func (c *APIClient) call(ctx context.Context, method, path string, body, out any) ([]byte, error) {
	raw, _, err := SendJSON(ctx, c.http, method, c.baseURL+path, body, c.headers(ctx), c.logger)
	if err != nil {
		return raw, err
	}
	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return raw, fmt.Errorf("%s %s: decode response: %w", method, path, err)
		}
	}
	return raw, nil
}

// RequestUploadTarget asks for a presigned upload URL.
func (c *APIClient) RequestUploadTarget(ctx context.Context, req UploadTargetRequest) (UploadTarget, error) {
	var target UploadTarget
	if _, err := c.call(ctx, http.MethodPost, "/uploads", req, &target); err != nil {
		return UploadTarget{}, err
	}
	if target.UploadURL == "" || target.Path == "" {
		return UploadTarget{}, fmt.Errorf("upload target incomplete (url=%q path=%q)", target.UploadURL, target.Path)
	}
	return target, nil
}

// Put transfers the proof bytes to the presigned URL. No auth header is sent.
func (c *APIClient) Put(ctx context.Context, target UploadTarget, body []byte, contentType string) error {
	return SendBytes(ctx, c.http, http.MethodPut, target.UploadURL, body, contentType, c.logger)
}

// Extract runs the extraction service. Responses that cannot be normalized
// into the expected schema are validation failures.
func (c *APIClient) Extract(ctx context.Context, req ExtractRequest) (ExtractResult, error) {
	raw, err := c.call(ctx, http.MethodPost, "/extractions", req, nil)
	if err != nil {
		return ExtractResult{}, err
	}

	clean, _, err := NormalizeExtractionJSON(raw, c.logger)
	if err != nil {
		return ExtractResult{}, fmt.Errorf("%w: %v", common.ErrValidation, err)
	}
	if err := ValidateJSONAgainstSchema(c.schema, clean); err != nil {
		c.logger.Warn("client.extract.schema_invalid", "proof_ref", req.ProofRef, "error", err)
		return ExtractResult{}, fmt.Errorf("%w: %v", common.ErrValidation, err)
	}

	var out ExtractResult
	if err := json.Unmarshal(clean, &out); err != nil {
		return ExtractResult{}, fmt.Errorf("%w: %v", common.ErrValidation, err)
	}
	return out, nil
}

type conflictBody struct {
	Date     string                `json:"date"`
	Existing entity.ExistingRecord `json:"existing"`
}

// Commit writes one record. A 409 carrying the existing record becomes *common.ConflictError.
func (c *APIClient) Commit(ctx context.Context, req CommitRequest) (CommitResult, error) {
	var out CommitResult
	raw, err := c.call(ctx, http.MethodPost, "/records", req, &out)
	if err != nil {
		var he *common.HTTPError
		if errors.As(err, &he) && he.StatusCode == http.StatusConflict {
			var body conflictBody
			if jerr := json.Unmarshal(raw, &body); jerr == nil && body.Existing.ID != "" {
				if body.Date == "" {
					body.Date = req.Date
				}
				return CommitResult{}, &common.ConflictError{Date: body.Date, Existing: body.Existing}
			}
		}
		return CommitResult{}, err
	}
	if out.ID == "" {
		return CommitResult{}, errors.New("commit response missing record id")
	}
	return out, nil
}

type idsBody struct {
	IDs []string `json:"ids"`
}

// DeleteByIDs removes the listed records.
func (c *APIClient) DeleteByIDs(ctx context.Context, ids []string) (BulkResult, error) {
	var out BulkResult
	_, err := c.call(ctx, http.MethodPost, "/records/delete", idsBody{IDs: ids}, &out)
	return out, err
}

// PatchDate moves one record to a new date.
func (c *APIClient) PatchDate(ctx context.Context, id, date string) error {
	_, err := c.call(ctx, http.MethodPatch, "/records/"+url.PathEscape(id), map[string]string{"date": date}, nil)
	return err
}

// ReverifyByIDs queues the listed records for re-verification.
func (c *APIClient) ReverifyByIDs(ctx context.Context, ids []string) (BulkResult, error) {
	var out BulkResult
	_, err := c.call(ctx, http.MethodPost, "/records/reverify", idsBody{IDs: ids}, &out)
	return out, err
}

// List fetches one page of records.
func (c *APIClient) List(ctx context.Context, filter entity.RecordFilter, page, pageSize int) (entity.RecordPage, error) {
	q := url.Values{}
	if filter.From != "" {
		q.Set("from", filter.From)
	}
	if filter.To != "" {
		q.Set("to", filter.To)
	}
	if filter.ViewContext != "" {
		q.Set("viewContext", string(filter.ViewContext))
	}
	if filter.UserID != "" {
		q.Set("userId", filter.UserID)
	}
	if filter.ProxyID != "" {
		q.Set("proxyId", filter.ProxyID)
	}
	if filter.Verified != nil {
		q.Set("verified", strconv.FormatBool(*filter.Verified))
	}
	q.Set("page", strconv.Itoa(page))
	q.Set("pageSize", strconv.Itoa(pageSize))

	var out entity.RecordPage
	if _, err := c.call(ctx, http.MethodGet, "/records?"+q.Encode(), nil, &out); err != nil {
		return entity.RecordPage{}, err
	}
	return out, nil
}
