package batch

import (
	"errors"
	"fmt"

	"github.com/joseph-ayodele/steps-tracker/constants"
	"github.com/joseph-ayodele/steps-tracker/internal/entity"
)

// ErrInvalidTransition is returned for any edge not listed in transitions.
var ErrInvalidTransition = errors.New("invalid status transition")

var transitions = map[constants.ItemStatus][]constants.ItemStatus{
	constants.StatusPending:    {constants.StatusExtracting},
	constants.StatusExtracting: {constants.StatusReview, constants.StatusError},
	constants.StatusReview:     {constants.StatusSubmitting},
	constants.StatusSubmitting: {constants.StatusSuccess, constants.StatusError},
	constants.StatusError:      {constants.StatusExtracting, constants.StatusReview},
}

// CanTransition reports whether from -> to is an allowed edge.
func CanTransition(from, to constants.ItemStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// transition moves item to status "to". Leaving pending is allowed once.
func transition(item *entity.BatchItem, to constants.ItemStatus) error {
	from := item.Status
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s (item %s)", ErrInvalidTransition, from, to, item.ID)
	}
	if from == constants.StatusPending {
		if item.ExtractionStarted {
			return fmt.Errorf("%w: extraction already started (item %s)", ErrInvalidTransition, item.ID)
		}
		item.ExtractionStarted = true
	}
	item.Status = to
	return nil
}
