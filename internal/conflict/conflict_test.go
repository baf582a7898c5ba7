package conflict

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/steps-tracker/constants"
	"github.com/joseph-ayodele/steps-tracker/internal/client/clienttest"
	"github.com/joseph-ayodele/steps-tracker/internal/common"
	"github.com/joseph-ayodele/steps-tracker/internal/entity"
)

func TestRecommend(t *testing.T) {
	cases := []struct {
		name     string
		existing entity.ExistingRecord
		incoming entity.IncomingRecord
		want     constants.Resolution
	}{
		{"verified with proof beats incoming proof", entity.ExistingRecord{Verified: true, ProofRef: "a"}, entity.IncomingRecord{ProofRef: "b"}, constants.ResolutionKeepExisting},
		{"verified with proof beats manual", entity.ExistingRecord{Verified: true, ProofRef: "a"}, entity.IncomingRecord{}, constants.ResolutionKeepExisting},
		{"incoming proof over manual", entity.ExistingRecord{}, entity.IncomingRecord{ProofRef: "b"}, constants.ResolutionUseIncoming},
		{"incoming proof over verified manual", entity.ExistingRecord{Verified: true}, entity.IncomingRecord{ProofRef: "b"}, constants.ResolutionUseIncoming},
		{"pending proof beats incoming proof", entity.ExistingRecord{ProofRef: "a"}, entity.IncomingRecord{ProofRef: "b"}, constants.ResolutionKeepExisting},
		{"pending proof beats manual", entity.ExistingRecord{ProofRef: "a"}, entity.IncomingRecord{}, constants.ResolutionKeepExisting},
		{"both manual", entity.ExistingRecord{}, entity.IncomingRecord{}, constants.ResolutionKeepExisting},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Recommend(tc.existing, tc.incoming))
		})
	}
}

func TestCaseDefaultsToRecommendation(t *testing.T) {
	c := NewCase("i1", "2026-01-10", entity.ExistingRecord{ID: "r1"}, entity.IncomingRecord{Steps: 10, ProofRef: "p"})
	assert.Equal(t, constants.ResolutionUseIncoming, c.Resolution())

	opts := c.Options()
	require.Len(t, opts, 2)
	assert.False(t, opts[0].Recommended)
	assert.True(t, opts[1].Recommended)

	require.NoError(t, c.SetResolution(constants.ResolutionSkip))
	assert.Equal(t, constants.ResolutionSkip, c.Resolution())
	assert.Equal(t, constants.ResolutionUseIncoming, c.Recommended())
	assert.ErrorIs(t, c.SetResolution("merge"), ErrInvalidResolution)
}

func TestTableOverrideAndBulkApply(t *testing.T) {
	a := NewCase("a", "2026-01-01", entity.ExistingRecord{}, entity.IncomingRecord{ProofRef: "p"})
	b := NewCase("b", "2026-01-02", entity.ExistingRecord{}, entity.IncomingRecord{})
	c := NewCase("c", "2026-01-03", entity.ExistingRecord{Verified: true, ProofRef: "x"}, entity.IncomingRecord{ProofRef: "p"})
	tbl := NewTable([]*Case{a, b, c})

	rows := tbl.Rows()
	require.Len(t, rows, 3)
	assert.Equal(t, constants.ResolutionUseIncoming, rows[0].Case.Resolution())
	assert.Equal(t, constants.ResolutionKeepExisting, rows[1].Case.Resolution())

	require.NoError(t, tbl.Override("b", constants.ResolutionUseIncoming))
	assert.ErrorIs(t, tbl.Override("zzz", constants.ResolutionSkip), ErrUnknownRow)

	require.NoError(t, tbl.Check("a"))
	require.NoError(t, tbl.Check("c"))
	n, err := tbl.BulkApply(constants.ResolutionSkip)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, constants.ResolutionSkip, a.Resolution())
	assert.Equal(t, constants.ResolutionUseIncoming, b.Resolution(), "unchecked row keeps its override")
	assert.Equal(t, constants.ResolutionSkip, c.Resolution())

	tbl.CheckAll(true)
	require.NoError(t, tbl.Uncheck("c"))
	n, err = tbl.BulkApply(constants.ResolutionKeepExisting)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, constants.ResolutionSkip, c.Resolution())

	_, err = tbl.BulkApply("bogus")
	assert.ErrorIs(t, err, ErrInvalidResolution)
}

func TestResolverApply(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := clienttest.NewCommitter(
		entity.Record{ID: "r-keep", Date: "2026-01-01", Steps: 100},
		entity.Record{ID: "r-use", Date: "2026-01-02", Steps: 200},
		entity.Record{ID: "r-skip", Date: "2026-01-03", Steps: 300},
	)
	r := NewResolver(store, logger)

	keep := NewCase("k", "2026-01-01", entity.ExistingRecord{ID: "r-keep", Steps: 100}, entity.IncomingRecord{Steps: 1})
	use := NewCase("u", "2026-01-02", entity.ExistingRecord{ID: "r-use", Steps: 200}, entity.IncomingRecord{Steps: 2222, ProofRef: "proof.jpg"})
	skip := NewCase("s", "2026-01-03", entity.ExistingRecord{ID: "r-skip", Steps: 300}, entity.IncomingRecord{Steps: 3})
	require.NoError(t, skip.SetResolution(constants.ResolutionSkip))

	outs := r.ApplyAll(context.Background(), []*Case{keep, use, skip})
	require.Len(t, outs, 3)
	assert.Equal(t, "r-keep", outs[0].RecordID)
	assert.Equal(t, "r-use", outs[1].RecordID)
	assert.Empty(t, outs[2].RecordID)
	for _, o := range outs {
		assert.NoError(t, o.Err)
	}

	calls := store.Calls()
	require.Len(t, calls, 1, "only use_incoming reaches the record API")
	assert.True(t, calls[0].Overwrite)

	rec, _ := store.Record("2026-01-02")
	assert.Equal(t, 2222, rec.Steps)
	assert.Equal(t, "proof.jpg", rec.ProofRef)
	rec, _ = store.Record("2026-01-03")
	assert.Equal(t, 300, rec.Steps)
}

func TestResolverApplyAllIsIndependent(t *testing.T) {
	store := clienttest.NewCommitter()
	store.Errs = []error{&common.HTTPError{StatusCode: http.StatusBadGateway}}
	r := NewResolver(store, nil)

	a := NewCase("a", "2026-01-01", entity.ExistingRecord{}, entity.IncomingRecord{Steps: 1, ProofRef: "p1"})
	b := NewCase("b", "2026-01-02", entity.ExistingRecord{}, entity.IncomingRecord{Steps: 2, ProofRef: "p2"})

	outs := r.ApplyAll(context.Background(), []*Case{a, b})
	var he *common.HTTPError
	assert.True(t, errors.As(outs[0].Err, &he))
	assert.NoError(t, outs[1].Err)
	assert.NotEmpty(t, outs[1].RecordID)
}
