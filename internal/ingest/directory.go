package ingest

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"
)

type FileResult struct {
	Path         string
	Hash         string
	Deduplicated bool
	DuplicateOf  string
	Err          string
}

type DirStats struct {
	Scanned      uint32
	Matched      uint32
	Succeeded    uint32
	Deduplicated uint32
	Failed       uint32
}

// ScanOptions tunes ScanDirectory.
type ScanOptions struct {
	SkipHidden bool
	MaxBytes   int64
	Dedup      *Deduper // nil -> fresh per scan
	Logger     *slog.Logger
}

// ScanDirectory walks root and reads every proof image it finds. Files whose
// content was already accepted are reported as deduplicated and not returned.
func ScanDirectory(ctx context.Context, root string, opts ScanOptions) ([]Proof, []FileResult, DirStats, error) {
	if strings.TrimSpace(root) == "" {
		return nil, nil, DirStats{}, errors.New("root path is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	dedup := opts.Dedup
	if dedup == nil {
		dedup = NewDeduper()
	}

	var (
		proofs  []Proof
		results []FileResult
		stats   DirStats
	)
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		stats.Scanned++
		if walkErr != nil {
			results = append(results, FileResult{Path: path, Err: walkErr.Error()})
			stats.Failed++
			return nil
		}
		if opts.SkipHidden && path != root && IsHidden(path) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || !AllowedExt(filepath.Ext(path)) {
			return nil
		}
		stats.Matched++

		p, err := ReadProof(path, opts.MaxBytes)
		if err != nil {
			logger.Warn("ingest.scan.read_failed", "path", path, "error", err)
			results = append(results, FileResult{Path: path, Err: err.Error()})
			stats.Failed++
			return nil
		}
		res := FileResult{Path: p.Path, Hash: p.Hash}
		if first, fresh := dedup.Accept(p.Hash, p.Path); !fresh {
			res.Deduplicated = true
			res.DuplicateOf = first
			stats.Deduplicated++
			logger.Info("ingest.scan.duplicate", "path", p.Path, "duplicate_of", first)
		} else {
			proofs = append(proofs, p)
		}
		results = append(results, res)
		stats.Succeeded++
		return nil
	})
	if err != nil {
		return proofs, results, stats, fmt.Errorf("walk: %w", err)
	}
	logger.Info("ingest.scan.done",
		"root", root,
		"matched", stats.Matched,
		"accepted", len(proofs),
		"deduplicated", stats.Deduplicated,
		"failed", stats.Failed,
	)
	return proofs, results, stats, nil
}
