// Package ingest discovers proof images on disk and reads them for a batch.
package ingest

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/joseph-ayodele/steps-tracker/constants"
	"github.com/joseph-ayodele/steps-tracker/internal/common"
)

// DefaultMaxBytes bounds a single proof read from disk.
const DefaultMaxBytes = 20 << 20

// Proof is one image read from disk.
type Proof struct {
	Path     string
	Filename string
	Data     []byte
	Hash     string // sha256, hex
}

// AllowedExt checks if a file extension is in the allowed proof set.
func AllowedExt(ext string) bool {
	_, ok := constants.AllowedExtensions[constants.NormalizeExt(ext)]
	return ok
}

// IsHidden checks if a file or directory is hidden (starts with '.').
func IsHidden(path string) bool {
	return strings.HasPrefix(filepath.Base(path), ".")
}

// ReadProof loads path after checking its extension and size.
func ReadProof(path string, maxBytes int64) (Proof, error) {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return Proof{}, err
	}
	if !AllowedExt(filepath.Ext(abs)) {
		return Proof{}, fmt.Errorf("%w: unsupported extension %q", common.ErrValidation, filepath.Ext(abs))
	}
	info, err := os.Stat(abs)
	if err != nil {
		return Proof{}, err
	}
	if info.IsDir() {
		return Proof{}, fmt.Errorf("%w: %s is a directory", common.ErrInvalidInput, abs)
	}
	if info.Size() == 0 {
		return Proof{}, fmt.Errorf("%w: %s is empty", common.ErrValidation, abs)
	}
	if info.Size() > maxBytes {
		return Proof{}, fmt.Errorf("%w: %s is %d bytes, limit %d", common.ErrValidation, abs, info.Size(), maxBytes)
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return Proof{}, err
	}
	sum := sha256.Sum256(data)
	return Proof{
		Path:     abs,
		Filename: filepath.Base(abs),
		Data:     data,
		Hash:     hex.EncodeToString(sum[:]),
	}, nil
}

// Deduper remembers content hashes already accepted into a batch.
type Deduper struct {
	mu   sync.Mutex
	seen map[string]string
}

func NewDeduper() *Deduper {
	return &Deduper{seen: make(map[string]string)}
}

// Accept records hash and reports false, with the first path, if it was seen before.
func (d *Deduper) Accept(hash, path string) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if first, ok := d.seen[hash]; ok {
		return first, false
	}
	d.seen[hash] = path
	return path, true
}
