package client

import (
	"context"

	"github.com/joseph-ayodele/steps-tracker/constants"
	"github.com/joseph-ayodele/steps-tracker/internal/entity"
)

// UploadTargetRequest asks the storage service for a place to put one proof.
type UploadTargetRequest struct {
	Filename    string `json:"filename"`
	ContentType string `json:"contentType"`
	Size        int    `json:"size"`
}

// UploadTarget is where the proof bytes go and how they are referenced afterwards.
type UploadTarget struct {
	UploadURL string `json:"uploadUrl"`
	Path      string `json:"path"`
}

// Uploader acquires upload targets and transfers bytes to them.
type Uploader interface {
	RequestUploadTarget(ctx context.Context, req UploadTargetRequest) (UploadTarget, error)
	Put(ctx context.Context, target UploadTarget, body []byte, contentType string) error
}

// ExtractRequest references an uploaded proof.
type ExtractRequest struct {
	ProofRef    string `json:"proofRef"`
	ContextHint string `json:"contextHint,omitempty"`
}

// ExtractResult is the normalized shape returned by the extraction service.
type ExtractResult struct {
	Steps      *int     `json:"steps,omitempty"`
	Date       string   `json:"date,omitempty"`
	Distance   *float64 `json:"distance,omitempty"`
	Calories   *float64 `json:"calories,omitempty"`
	Confidence string   `json:"confidence"`
	Notes      string   `json:"notes,omitempty"`
}

// ToExtracted converts the wire result into the item's extracted fields.
func (r ExtractResult) ToExtracted() *entity.Extracted {
	conf, _ := constants.Canonicalize(r.Confidence)
	return &entity.Extracted{
		Steps:      r.Steps,
		Date:       r.Date,
		Distance:   r.Distance,
		Calories:   r.Calories,
		Confidence: conf,
		Notes:      r.Notes,
	}
}

// Extractor is the opaque extraction/verification service.
type Extractor interface {
	Extract(ctx context.Context, req ExtractRequest) (ExtractResult, error)
}

// CommitRequest writes one daily record.
type CommitRequest struct {
	Date      string `json:"date"`
	Steps     int    `json:"steps"`
	ProofRef  string `json:"proofRef,omitempty"`
	Overwrite bool   `json:"overwrite"`
}

// CommitResult identifies the stored record.
type CommitResult struct {
	ID string `json:"id"`
}

// RecordCommitter persists records. A date collision without Overwrite is
// reported as *common.ConflictError carrying the existing record.
type RecordCommitter interface {
	Commit(ctx context.Context, req CommitRequest) (CommitResult, error)
}

// BulkResult reports the outcome of a bulk mutation. Errors is keyed by id
// when the endpoint reports per-id failures.
type BulkResult struct {
	Succeeded int               `json:"succeeded"`
	Failed    int               `json:"failed"`
	Errors    map[string]string `json:"errors,omitempty"`
}

// BulkMutator takes explicit id lists, never filters.
type BulkMutator interface {
	DeleteByIDs(ctx context.Context, ids []string) (BulkResult, error)
	PatchDate(ctx context.Context, id string, date string) error
	ReverifyByIDs(ctx context.Context, ids []string) (BulkResult, error)
}

// RecordLister pages through records matching a filter. Pages are 1-based.
type RecordLister interface {
	List(ctx context.Context, filter entity.RecordFilter, page, pageSize int) (entity.RecordPage, error)
}

// Fail records one per-id failure.
func (r *BulkResult) Fail(id, msg string) {
	if r.Errors == nil {
		r.Errors = map[string]string{}
	}
	r.Errors[id] = msg
	r.Failed++
}
