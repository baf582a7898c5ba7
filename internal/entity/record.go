package entity

import (
	"time"

	"github.com/joseph-ayodele/steps-tracker/constants"
)

// Record is a committed daily step record.
type Record struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Date      string    `json:"date"`
	Steps     int       `json:"steps"`
	Verified  bool      `json:"verified"`
	ProofRef  string    `json:"proofRef,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// RecordFilter scopes listings and bulk selections.
type RecordFilter struct {
	From        string                `json:"from,omitempty"` // inclusive, YYYY-MM-DD
	To          string                `json:"to,omitempty"`   // inclusive, YYYY-MM-DD
	ViewContext constants.ViewContext `json:"viewContext,omitempty"`
	UserID      string                `json:"userId,omitempty"`
	ProxyID     string                `json:"proxyId,omitempty"`
	Verified    *bool                 `json:"verified,omitempty"`
}

// RecordPage is one page of a listing.
type RecordPage struct {
	Items []Record `json:"items"`
	Total int      `json:"total"`
}

// ExistingRecord is the stored side of a date conflict.
type ExistingRecord struct {
	ID       string `json:"id"`
	Steps    int    `json:"steps"`
	Verified bool   `json:"verified"`
	ProofRef string `json:"proofRef,omitempty"`
}

// IncomingRecord is the batch side of a date conflict.
type IncomingRecord struct {
	Steps    int    `json:"steps"`
	ProofRef string `json:"proofRef,omitempty"`
}
