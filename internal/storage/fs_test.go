package storage

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/steps-tracker/internal/client"
	"github.com/joseph-ayodele/steps-tracker/internal/common"
)

func TestFSUploaderRoundTrip(t *testing.T) {
	u, err := NewFSUploader(t.TempDir(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	u.now = func() time.Time { return time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC) }
	ctx := context.Background()

	target, err := u.RequestUploadTarget(ctx, client.UploadTargetRequest{Filename: "shot.PNG", Size: 3})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(target.Path, "proofs/2026/01/"))
	assert.True(t, strings.HasSuffix(target.Path, ".png"))

	require.NoError(t, u.Put(ctx, target, []byte("abc"), "image/png"))
	p, err := u.Resolve(target.Path)
	require.NoError(t, err)
	data, err := os.ReadFile(p)
	require.NoError(t, err)
	assert.Equal(t, "abc", string(data))
	assert.Equal(t, "file://"+p, target.UploadURL)
}

func TestFSUploaderRejectsEscapingRefs(t *testing.T) {
	u, err := NewFSUploader(t.TempDir(), nil)
	require.NoError(t, err)

	_, err = u.Resolve("../etc/passwd")
	assert.ErrorIs(t, err, common.ErrInvalidInput)
	err = u.Put(context.Background(), client.UploadTarget{Path: ""}, []byte("x"), "")
	assert.ErrorIs(t, err, common.ErrInvalidInput)

	_, err = u.RequestUploadTarget(context.Background(), client.UploadTargetRequest{Filename: "noext"})
	assert.ErrorIs(t, err, common.ErrValidation)
}
