// Package storage provides a local filesystem upload target for proofs.
package storage

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/steps-tracker/constants"
	"github.com/joseph-ayodele/steps-tracker/internal/client"
	"github.com/joseph-ayodele/steps-tracker/internal/common"
)

// FSUploader stores proofs under a root directory. Proof refs are
// slash-separated paths relative to the root.
type FSUploader struct {
	root   string
	now    func() time.Time
	logger *slog.Logger
}

var _ client.Uploader = (*FSUploader)(nil)

func NewFSUploader(root string, logger *slog.Logger) (*FSUploader, error) {
	if logger == nil {
		logger = slog.Default()
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}
	return &FSUploader{root: abs, now: time.Now, logger: logger}, nil
}

func (u *FSUploader) RequestUploadTarget(_ context.Context, req client.UploadTargetRequest) (client.UploadTarget, error) {
	ext := constants.NormalizeExt(filepath.Ext(req.Filename))
	if ext == "" {
		return client.UploadTarget{}, fmt.Errorf("%w: %q has no extension", common.ErrValidation, req.Filename)
	}
	now := u.now().UTC()
	ref := path.Join("proofs", now.Format("2006"), now.Format("01"), uuid.NewString()+"."+ext)
	return client.UploadTarget{UploadURL: "file://" + filepath.Join(u.root, filepath.FromSlash(ref)), Path: ref}, nil
}

// Put writes body to the target path via a temp file and rename.
func (u *FSUploader) Put(ctx context.Context, target client.UploadTarget, body []byte, _ string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dst, err := u.Resolve(target.Path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".upload-*")
	if err != nil {
		return err
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	if _, err := tmp.Write(body); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return err
	}
	u.logger.Debug("storage.put.ok", "proof_ref", target.Path, "bytes", len(body))
	return nil
}

// Resolve maps a proof ref to its file, refusing refs that escape the root.
func (u *FSUploader) Resolve(ref string) (string, error) {
	clean := path.Clean("/" + ref)
	if ref == "" || clean == "/" || strings.Contains(ref, "..") {
		return "", fmt.Errorf("%w: invalid proof ref %q", common.ErrInvalidInput, ref)
	}
	return filepath.Join(u.root, filepath.FromSlash(strings.TrimPrefix(clean, "/"))), nil
}
