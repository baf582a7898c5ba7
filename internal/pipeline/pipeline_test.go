package pipeline

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
	"github.com/joseph-ayodele/steps-tracker/internal/client"
	"github.com/joseph-ayodele/steps-tracker/internal/client/clienttest"
	"github.com/joseph-ayodele/steps-tracker/internal/common"
)

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestRunUploadsThenExtracts(t *testing.T) {
	up := &clienttest.Uploader{}
	ex := &clienttest.Extractor{Fn: func(req client.ExtractRequest) (client.ExtractResult, error) {
		return client.ExtractResult{Steps: clienttest.IntPtr(8123), Date: "2026-01-10", Confidence: "medium"}, nil
	}}
	p := New(up, ex, Config{ContextHint: "daily steps"}, quietLogger())

	out, err := p.Run(context.Background(), Input{ItemID: "i1", Filename: "a.jpg", Source: []byte("jpeg-bytes")})
	require.NoError(t, err)
	assert.True(t, out.Uploaded)
	assert.Equal(t, "proofs/1-a.jpg", out.ProofRef)
	require.NotNil(t, out.Extracted)
	assert.Equal(t, 8123, *out.Extracted.Steps)
	assert.Equal(t, constants.ConfidenceMedium, out.Extracted.Confidence)

	calls := ex.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "proofs/1-a.jpg", calls[0].ProofRef)
	assert.Equal(t, "daily steps", calls[0].ContextHint)
}

func TestRunWithCachedProofSkipsUpload(t *testing.T) {
	up := &clienttest.Uploader{}
	ex := &clienttest.Extractor{}
	p := New(up, ex, Config{}, quietLogger())

	out, err := p.Run(context.Background(), Input{ItemID: "i1", Filename: "a.jpg", ProofRef: "proofs/cached.jpg"})
	require.NoError(t, err)
	assert.False(t, out.Uploaded)
	assert.Equal(t, "proofs/cached.jpg", out.ProofRef)
	assert.Equal(t, 0, up.Requests())
}

func TestRunExtractFailureKeepsProofRef(t *testing.T) {
	up := &clienttest.Uploader{}
	ex := &clienttest.Extractor{Errs: []error{&common.HTTPError{StatusCode: http.StatusTooManyRequests}}}
	p := New(up, ex, Config{}, quietLogger())

	out, err := p.Run(context.Background(), Input{ItemID: "i1", Filename: "a.jpg", Source: []byte("x")})
	require.Error(t, err)
	assert.Equal(t, "proofs/1-a.jpg", out.ProofRef)

	var se *common.StageError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, StageExtract, se.Stage)
	assert.Equal(t, common.KindRateLimited, se.Kind)
	assert.True(t, se.Retryable())
}

func TestRunUploadFailureIsStageError(t *testing.T) {
	up := &clienttest.Uploader{Errs: []error{&common.HTTPError{StatusCode: http.StatusServiceUnavailable}}}
	ex := &clienttest.Extractor{}
	p := New(up, ex, Config{}, quietLogger())

	out, err := p.Run(context.Background(), Input{ItemID: "i1", Filename: "a.jpg", Source: []byte("x")})
	require.Error(t, err)
	assert.Empty(t, out.ProofRef)
	assert.Empty(t, ex.Calls())

	var se *common.StageError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, StageUpload, se.Stage)
	assert.Equal(t, common.KindNetwork, se.Kind)
}

func TestRunCanceledIsTerminal(t *testing.T) {
	ex := &clienttest.Extractor{Errs: []error{context.Canceled}}
	p := New(&clienttest.Uploader{}, ex, Config{}, quietLogger())

	_, err := p.Run(context.Background(), Input{ItemID: "i1", Filename: "a.jpg", ProofRef: "p"})
	require.Error(t, err)
	assert.False(t, common.IsRetryable(err))
	assert.Equal(t, common.KindCanceled, common.Classify(err))
}
