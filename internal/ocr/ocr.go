// Package ocr is a local extraction backend: it runs tesseract over a stored
// proof and reads the step count and date out of the recognized text.
package ocr

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/joseph-ayodele/steps-tracker/internal/client"
	"github.com/joseph-ayodele/steps-tracker/internal/common"
)

type Config struct {
	Tesseract     string // binary name or absolute path; if empty -> "tesseract"
	TesseractLang string // default "eng"
	TessdataDir   string

	EnableTSVConfidence bool

	PSM int // 11 (sparse text) suits app screenshots; 0 keeps the tesseract default
	OEM int // 1 = LSTM; leave 0 to use default
}

// ProofResolver maps a proof ref to a readable local path.
type ProofResolver interface {
	Resolve(ref string) (string, error)
}

// Extractor implements client.Extractor on top of tesseract.
type Extractor struct {
	cfg    Config
	proofs ProofResolver
	runner Runner
	now    func() time.Time
	logger *slog.Logger
}

var _ client.Extractor = (*Extractor)(nil)

type Option func(*Extractor)

// WithRunner replaces the exec-based runner.
func WithRunner(r Runner) Option { return func(e *Extractor) { e.runner = r } }

// WithClock sets the clock used for relative dates.
func WithClock(now func() time.Time) Option { return func(e *Extractor) { e.now = now } }

func NewExtractor(cfg Config, proofs ProofResolver, logger *slog.Logger, opts ...Option) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Tesseract == "" {
		cfg.Tesseract = "tesseract"
	}
	if cfg.TesseractLang == "" {
		cfg.TesseractLang = "eng"
	}
	e := &Extractor{
		cfg:    cfg,
		proofs: proofs,
		runner: execRunner{logger: logger},
		now:    time.Now,
		logger: logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Extract recognizes the text of req.ProofRef and parses it.
func (e *Extractor) Extract(ctx context.Context, req client.ExtractRequest) (client.ExtractResult, error) {
	start := time.Now()
	path, err := e.proofs.Resolve(req.ProofRef)
	if err != nil {
		return client.ExtractResult{}, fmt.Errorf("%w: %v", common.ErrValidation, err)
	}

	txt, err := e.tesseract(ctx, path, "")
	if err != nil {
		return client.ExtractResult{}, err
	}
	txt = Normalize(txt)

	var ocrConf float64
	if e.cfg.EnableTSVConfidence {
		tsv, err := e.tesseract(ctx, path, "tsv")
		if err != nil {
			e.logger.Warn("ocr.tsv.failed", "proof_ref", req.ProofRef, "error", err)
		} else {
			ocrConf = MeanWordConfidence(tsv)
		}
	}

	parsed := Parse(txt, e.now())
	conf := Grade(parsed, ocrConf)

	e.logger.Info("ocr.extract.completed",
		"proof_ref", req.ProofRef,
		"chars", len(txt),
		"steps_found", parsed.Steps != nil,
		"date", parsed.Date,
		"word_confidence", ocrConf,
		"confidence", conf,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return client.ExtractResult{
		Steps:      parsed.Steps,
		Date:       parsed.Date,
		Confidence: string(conf),
		Notes:      strings.Join(parsed.Notes, "; "),
	}, nil
}

// tesseract runs "tesseract <file> stdout" with an optional config such as "tsv".
func (e *Extractor) tesseract(ctx context.Context, path, config string) (string, error) {
	args := []string{path, "stdout", "-l", e.cfg.TesseractLang}
	if e.cfg.PSM > 0 {
		args = append(args, "--psm", strconv.Itoa(e.cfg.PSM))
	}
	if e.cfg.OEM > 0 {
		args = append(args, "--oem", strconv.Itoa(e.cfg.OEM))
	}
	if e.cfg.TessdataDir != "" {
		args = append(args, "--tessdata-dir", e.cfg.TessdataDir)
	}
	if config != "" {
		args = append(args, config)
	}

	out, errb, err := e.runner.Run(ctx, e.cfg.Tesseract, args...)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		return "", fmt.Errorf("tesseract: %w: %s", err, truncate(strings.TrimSpace(string(errb)), 512))
	}
	return string(out), nil
}

// MeanWordConfidence averages the word confidences of tesseract TSV output,
// scaled to 0..1. Rows with conf -1 are layout rows and are skipped.
func MeanWordConfidence(tsv string) float64 {
	var sum, n float64
	for i, ln := range strings.Split(tsv, "\n") {
		if i == 0 || ln == "" {
			continue
		}
		cols := strings.Split(ln, "\t")
		if len(cols) < 12 || strings.TrimSpace(cols[11]) == "" {
			continue
		}
		v, err := strconv.ParseFloat(cols[10], 64)
		if err != nil || v < 0 {
			continue
		}
		sum += v
		n++
	}
	if n == 0 {
		return 0
	}
	return sum / n / 100
}
