// Package review holds the confidence-gated review phase between extraction and commit.
package review

import (
	"errors"
	"fmt"
	"time"

	"github.com/joseph-ayodele/steps-tracker/constants"
	"github.com/joseph-ayodele/steps-tracker/internal/common"
	"github.com/joseph-ayodele/steps-tracker/internal/entity"
	"github.com/joseph-ayodele/steps-tracker/internal/period"
)

// ErrNotInReview is returned when a review mutation targets an item outside review.
var ErrNotInReview = errors.New("item is not in review")

// Gate applies review edits and decides whether a batch may be submitted.
type Gate struct {
	now func() time.Time
}

// NewGate builds a gate. A nil clock uses time.Now.
func NewGate(now func() time.Time) *Gate {
	if now == nil {
		now = time.Now
	}
	return &Gate{now: now}
}

// Enter stores the extraction on item and seeds Edited from it. Confirmation resets.
func (g *Gate) Enter(item *entity.BatchItem, ex *entity.Extracted) {
	item.Extracted = ex
	edited := &entity.Edited{}
	if ex != nil {
		if ex.Steps != nil {
			edited.Steps = *ex.Steps
		}
		if d, err := period.NormalizeDate(ex.Date); err == nil {
			edited.Date = d
		}
	}
	item.Edited = edited
	item.ConfirmedLowConfidence = false
}

// Edit overwrites the user-facing steps and date after validating them.
func (g *Gate) Edit(item *entity.BatchItem, steps int, date string) error {
	if item.Status != constants.StatusReview {
		return fmt.Errorf("edit %s: %w", item.ID, ErrNotInReview)
	}
	if err := g.validate(steps, date); err != nil {
		return err
	}
	d, _ := period.NormalizeDate(date)
	item.Edited = &entity.Edited{Steps: steps, Date: d}
	return nil
}

// Confirm records the user's explicit acceptance of a low-confidence extraction.
func (g *Gate) Confirm(item *entity.BatchItem, confirmed bool) error {
	if item.Status != constants.StatusReview {
		return fmt.Errorf("confirm %s: %w", item.ID, ErrNotInReview)
	}
	item.ConfirmedLowConfidence = confirmed
	return nil
}

// NeedsConfirmation reports whether the item must show a confirmation control.
func (g *Gate) NeedsConfirmation(item *entity.BatchItem) bool {
	return item.LowConfidence()
}

// Blocked reports whether the item alone would refuse a submit.
func (g *Gate) Blocked(item *entity.BatchItem) bool {
	return item.LowConfidence() && !item.ConfirmedLowConfidence
}

// Notice is the transparency text shown next to the extracted values.
func (g *Gate) Notice(item *entity.BatchItem) string {
	if item.Extracted == nil {
		return ""
	}
	switch item.Extracted.Confidence {
	case constants.ConfidenceHigh:
		return "High confidence extraction."
	case constants.ConfidenceMedium:
		return "Medium confidence extraction: double-check the steps and date."
	}
	if item.ConfirmedLowConfidence {
		return "Low confidence extraction confirmed."
	}
	return "Low confidence extraction: confirm the steps and date before submitting."
}

// ValidateEdited checks the values that will be committed.
func (g *Gate) ValidateEdited(item *entity.BatchItem) error {
	if item.Edited == nil {
		return fmt.Errorf("%w: %s has no reviewed values", common.ErrValidation, item.ID)
	}
	return g.validate(item.Edited.Steps, item.Edited.Date)
}

func (g *Gate) validate(steps int, date string) error {
	v := common.NewValidator().
		Field("steps", steps, common.Positive).
		Field("date", date, common.Required, common.DateYMD)
	if err := v.Error(); err != nil {
		return err
	}
	if err := period.ValidateRecordDate(date, g.now()); err != nil {
		return fmt.Errorf("%w: %v", common.ErrValidation, err)
	}
	return nil
}

// CheckSubmittable refuses the whole submit if any review item is low-confidence
// and unconfirmed, or carries invalid values. Items outside review are ignored.
func (g *Gate) CheckSubmittable(items []*entity.BatchItem) error {
	blocked := &common.BlockedSubmitError{}
	for _, it := range items {
		if it.Status != constants.StatusReview {
			continue
		}
		if g.Blocked(it) {
			blocked.Unconfirmed = append(blocked.Unconfirmed, it.ID)
		}
		if g.ValidateEdited(it) != nil {
			blocked.Invalid = append(blocked.Invalid, it.ID)
		}
	}
	if len(blocked.Unconfirmed) > 0 || len(blocked.Invalid) > 0 {
		return blocked
	}
	return nil
}
