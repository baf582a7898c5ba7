// Package conflict recommends and applies resolutions for same-date record collisions.
package conflict

import (
	"errors"
	"fmt"

	"github.com/joseph-ayodele/steps-tracker/constants"
	"github.com/joseph-ayodele/steps-tracker/internal/entity"
)

// ErrInvalidResolution is returned for anything other than the three known actions.
var ErrInvalidResolution = errors.New("invalid conflict resolution")

// Recommend picks the default action. Rules apply in order:
//  1. existing verified with proof   -> keep_existing
//  2. incoming proof, existing none  -> use_incoming
//  3. existing proof, unverified     -> keep_existing
//  4. neither has proof              -> keep_existing
func Recommend(existing entity.ExistingRecord, incoming entity.IncomingRecord) constants.Resolution {
	switch {
	case existing.Verified && existing.ProofRef != "":
		return constants.ResolutionKeepExisting
	case incoming.ProofRef != "" && existing.ProofRef == "":
		return constants.ResolutionUseIncoming
	}
	return constants.ResolutionKeepExisting
}

// Case is one collision awaiting a decision.
type Case struct {
	ItemID   string                `json:"item_id"`
	Date     string                `json:"date"`
	Existing entity.ExistingRecord `json:"existing"`
	Incoming entity.IncomingRecord `json:"incoming"`

	resolution constants.Resolution
}

func NewCase(itemID, date string, existing entity.ExistingRecord, incoming entity.IncomingRecord) *Case {
	return &Case{ItemID: itemID, Date: date, Existing: existing, Incoming: incoming}
}

// Recommended is computed from the two records on every call.
func (c *Case) Recommended() constants.Resolution {
	return Recommend(c.Existing, c.Incoming)
}

// Resolution is the chosen action, defaulting to the recommendation.
func (c *Case) Resolution() constants.Resolution {
	if c.resolution == "" {
		return c.Recommended()
	}
	return c.resolution
}

// SetResolution overrides the default.
func (c *Case) SetResolution(r constants.Resolution) error {
	if !r.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidResolution, r)
	}
	c.resolution = r
	return nil
}

// Clone copies c including any override.
func (c *Case) Clone() *Case {
	out := *c
	return &out
}

// Option is one side of a single-conflict prompt.
type Option struct {
	Resolution  constants.Resolution
	Steps       int
	ProofRef    string
	Verified    bool
	Recommended bool
}

// Options lists both records side by side with the recommended one flagged.
func (c *Case) Options() []Option {
	rec := c.Recommended()
	return []Option{
		{
			Resolution:  constants.ResolutionKeepExisting,
			Steps:       c.Existing.Steps,
			ProofRef:    c.Existing.ProofRef,
			Verified:    c.Existing.Verified,
			Recommended: rec == constants.ResolutionKeepExisting,
		},
		{
			Resolution:  constants.ResolutionUseIncoming,
			Steps:       c.Incoming.Steps,
			ProofRef:    c.Incoming.ProofRef,
			Recommended: rec == constants.ResolutionUseIncoming,
		},
	}
}
