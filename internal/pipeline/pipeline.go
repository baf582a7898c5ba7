// Package pipeline turns one proof image into extracted step data:
// compress, upload, then extract.
package pipeline

import (
	"context"
	"log/slog"

	"github.com/joseph-ayodele/steps-tracker/internal/client"
	"github.com/joseph-ayodele/steps-tracker/internal/common"
	"github.com/joseph-ayodele/steps-tracker/internal/entity"
)

// Stage names carried by *common.StageError.
const (
	StageCompress = "compress"
	StageUpload   = "upload"
	StageExtract  = "extract"
)

// Config tunes the pipeline.
type Config struct {
	Compress    CompressConfig
	ContextHint string
}

// ConfigFromBatch maps the batch configuration onto pipeline settings.
func ConfigFromBatch(c common.BatchConfig) Config {
	return Config{
		Compress: CompressConfig{
			Threshold:    c.CompressThreshold,
			MaxDimension: c.MaxImageDimension,
			Quality:      c.JPEGQuality,
		},
		ContextHint: c.ContextHint,
	}
}

// Input describes one item to process. A non-empty ProofRef skips compression and upload.
type Input struct {
	ItemID   string
	Filename string
	Source   []byte
	ProofRef string
}

// Output is returned even on failure; ProofRef is set once the upload succeeded.
type Output struct {
	ProofRef   string
	Extracted  *entity.Extracted
	Uploaded   bool
	Compressed bool
}

// Pipeline coordinates upload then extraction for a single proof.
type Pipeline struct {
	uploader  client.Uploader
	extractor client.Extractor
	cfg       Config
	logger    *slog.Logger
}

func New(uploader client.Uploader, extractor client.Extractor, cfg Config, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{uploader: uploader, extractor: extractor, cfg: cfg, logger: logger}
}

// Run executes the stages in order. Failures are *common.StageError.
func (p *Pipeline) Run(ctx context.Context, in Input) (Output, error) {
	out := Output{ProofRef: in.ProofRef}

	if out.ProofRef == "" {
		payload, err := Compress(in.Source, in.Filename, p.cfg.Compress)
		if err != nil {
			p.logger.Warn("pipeline.compress.failed", "item_id", in.ItemID, "filename", in.Filename, "error", err)
			return out, common.NewStageError(StageCompress, err)
		}
		out.Compressed = payload.Changed
		if payload.Changed {
			p.logger.Debug("pipeline.compress.ok",
				"item_id", in.ItemID,
				"bytes_in", len(in.Source),
				"bytes_out", len(payload.Data),
			)
		}

		ref, err := p.upload(ctx, payload)
		if err != nil {
			p.logger.Warn("pipeline.upload.failed", "item_id", in.ItemID, "error", err)
			return out, common.NewStageError(StageUpload, err)
		}
		out.ProofRef = ref
		out.Uploaded = true
		p.logger.Info("pipeline.upload.ok", "item_id", in.ItemID, "proof_ref", ref)
	} else {
		p.logger.Debug("pipeline.upload.skipped", "item_id", in.ItemID, "proof_ref", out.ProofRef)
	}

	res, err := p.extractor.Extract(ctx, client.ExtractRequest{ProofRef: out.ProofRef, ContextHint: p.cfg.ContextHint})
	if err != nil {
		p.logger.Warn("pipeline.extract.failed", "item_id", in.ItemID, "proof_ref", out.ProofRef, "error", err)
		return out, common.NewStageError(StageExtract, err)
	}
	out.Extracted = res.ToExtracted()
	p.logger.Info("pipeline.extract.ok",
		"item_id", in.ItemID,
		"confidence", out.Extracted.Confidence,
	)
	return out, nil
}

func (p *Pipeline) upload(ctx context.Context, payload Compressed) (string, error) {
	target, err := p.uploader.RequestUploadTarget(ctx, client.UploadTargetRequest{
		Filename:    payload.Filename,
		ContentType: payload.ContentType,
		Size:        len(payload.Data),
	})
	if err != nil {
		return "", err
	}
	if err := p.uploader.Put(ctx, target, payload.Data, payload.ContentType); err != nil {
		return "", err
	}
	return target.Path, nil
}
