package conflict

import (
	"context"
	"log/slog"

	"github.com/joseph-ayodele/steps-tracker/constants"
	"github.com/joseph-ayodele/steps-tracker/internal/client"
)

// Outcome reports how one case was applied. RecordID is the record the item
// now points at; it is empty for skip and on error.
type Outcome struct {
	ItemID     string
	Resolution constants.Resolution
	RecordID   string
	Err        error
}

// Resolver commits conflict decisions.
type Resolver struct {
	committer client.RecordCommitter
	logger    *slog.Logger
}

func NewResolver(committer client.RecordCommitter, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{committer: committer, logger: logger}
}

// Apply executes one case. Only use_incoming calls the record API.
func (r *Resolver) Apply(ctx context.Context, c *Case) Outcome {
	res := c.Resolution()
	out := Outcome{ItemID: c.ItemID, Resolution: res}

	switch res {
	case constants.ResolutionKeepExisting:
		out.RecordID = c.Existing.ID
	case constants.ResolutionSkip:
	case constants.ResolutionUseIncoming:
		cr, err := r.committer.Commit(ctx, client.CommitRequest{
			Date:      c.Date,
			Steps:     c.Incoming.Steps,
			ProofRef:  c.Incoming.ProofRef,
			Overwrite: true,
		})
		if err != nil {
			r.logger.Warn("conflict.apply.failed", "item_id", c.ItemID, "date", c.Date, "error", err)
			out.Err = err
			return out
		}
		out.RecordID = cr.ID
	default:
		out.Err = ErrInvalidResolution
		return out
	}

	r.logger.Info("conflict.apply.ok",
		"item_id", c.ItemID,
		"date", c.Date,
		"resolution", res,
		"record_id", out.RecordID,
	)
	return out
}

// ApplyAll applies each case independently; one failure does not stop the rest.
func (r *Resolver) ApplyAll(ctx context.Context, cases []*Case) []Outcome {
	out := make([]Outcome, 0, len(cases))
	for _, c := range cases {
		out = append(out, r.Apply(ctx, c))
	}
	return out
}
