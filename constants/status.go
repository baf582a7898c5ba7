package constants

// ItemStatus is the lifecycle state of one proof image inside a batch.
type ItemStatus string

// Stable values (reported in summaries and exports).
const (
	StatusPending    ItemStatus = "pending"    // selected, not yet sent anywhere
	StatusExtracting ItemStatus = "extracting" // compress/upload/extract in progress
	StatusReview     ItemStatus = "review"     // extracted, waiting for user edit/confirmation
	StatusSubmitting ItemStatus = "submitting" // commit in flight or waiting on a conflict decision
	StatusSuccess    ItemStatus = "success"    // terminal
	StatusError      ItemStatus = "error"      // failed; see retry state
)

// Terminal reports whether no further transition is possible.
func (s ItemStatus) Terminal() bool { return s == StatusSuccess }
