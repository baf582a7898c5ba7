package constants

// Resolution is the action chosen for a date conflict.
type Resolution string

const (
	ResolutionKeepExisting Resolution = "keep_existing"
	ResolutionUseIncoming  Resolution = "use_incoming"
	ResolutionSkip         Resolution = "skip" // discard incoming, leave existing untouched
)

// Valid reports whether r is one of the three known actions.
func (r Resolution) Valid() bool {
	switch r {
	case ResolutionKeepExisting, ResolutionUseIncoming, ResolutionSkip:
		return true
	}
	return false
}

// ViewContext scopes record listings to the signed-in user or to a proxied user.
type ViewContext string

const (
	ViewSelf  ViewContext = "self"
	ViewProxy ViewContext = "proxy"
)
