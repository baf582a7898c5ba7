package entity

import (
	"time"

	"github.com/joseph-ayodele/steps-tracker/constants"
)

// Extracted holds the fields the extraction service derived from a proof.
type Extracted struct {
	Steps      *int                 `json:"steps,omitempty"`
	Date       string               `json:"date,omitempty"` // YYYY-MM-DD
	Distance   *float64             `json:"distance,omitempty"`
	Calories   *float64             `json:"calories,omitempty"`
	Confidence constants.Confidence `json:"confidence"`
	Notes      string               `json:"notes,omitempty"`
}

// Edited holds the user's overrides, initialized from Extracted.
type Edited struct {
	Steps int    `json:"steps"`
	Date  string `json:"date"`
}

// RetryState tracks automatic and manual retries of one item.
type RetryState struct {
	Count        int       `json:"count"`
	NextRetryAt  time.Time `json:"next_retry_at,omitempty"`
	AutoRetrying bool      `json:"auto_retrying"`
	Retryable    bool      `json:"retryable"`
	LastError    string    `json:"last_error,omitempty"`
	LastKind     string    `json:"last_kind,omitempty"`
}

// BatchItem is one uploaded image undergoing processing.
type BatchItem struct {
	ID                     string               `json:"id"`
	Filename               string               `json:"filename"`
	Source                 []byte               `json:"-"`
	Status                 constants.ItemStatus `json:"status"`
	Extracted              *Extracted           `json:"extracted,omitempty"`
	Edited                 *Edited              `json:"edited,omitempty"`
	ConfirmedLowConfidence bool                 `json:"confirmed_low_confidence"`
	ProofRef               string               `json:"proof_ref,omitempty"`
	Retry                  RetryState           `json:"retry"`
	SubmissionID           string               `json:"submission_id,omitempty"`
	ExtractionStarted      bool                 `json:"-"`
	AddedAt                time.Time            `json:"added_at"`
}

// LowConfidence reports whether the extraction was tagged low.
func (b *BatchItem) LowConfidence() bool {
	return b.Extracted != nil && b.Extracted.Confidence == constants.ConfidenceLow
}

// HasCachedExtraction reports whether a submit-only retry is possible.
func (b *BatchItem) HasCachedExtraction() bool {
	return b.Extracted != nil && b.ProofRef != ""
}

// Clone returns a copy that shares no mutable pointers with b.
// Source bytes are shared; they are never mutated after Add.
func (b *BatchItem) Clone() BatchItem {
	out := *b
	if b.Extracted != nil {
		ex := *b.Extracted
		if ex.Steps != nil {
			v := *ex.Steps
			ex.Steps = &v
		}
		if ex.Distance != nil {
			v := *ex.Distance
			ex.Distance = &v
		}
		if ex.Calories != nil {
			v := *ex.Calories
			ex.Calories = &v
		}
		out.Extracted = &ex
	}
	if b.Edited != nil {
		ed := *b.Edited
		out.Edited = &ed
	}
	return out
}
