package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/joseph-ayodele/steps-tracker/internal/batch"
	"github.com/joseph-ayodele/steps-tracker/internal/client"
	"github.com/joseph-ayodele/steps-tracker/internal/common"
	"github.com/joseph-ayodele/steps-tracker/internal/ocr"
	"github.com/joseph-ayodele/steps-tracker/internal/pipeline"
	"github.com/joseph-ayodele/steps-tracker/internal/repository"
	"github.com/joseph-ayodele/steps-tracker/internal/retry"
	"github.com/joseph-ayodele/steps-tracker/internal/storage"
)

// app carries the wired collaborators shared by every command.
type app struct {
	cfg    *common.Config
	logger *slog.Logger

	api       *client.APIClient
	uploader  client.Uploader
	extractor client.Extractor
	committer client.RecordCommitter
	mutator   client.BulkMutator
	lister    client.RecordLister
	db        *repository.DB

	closers []func()
}

func newApp(ctx context.Context) (*app, error) {
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, common.NewAppError("CONFIG_ERROR", "load "+envFile, err)
	}
	cfg, err := common.LoadConfig(cfgFile)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	a := &app{cfg: cfg}
	a.logger = newLogger(cfg.Log, a)
	slog.SetDefault(a.logger)

	a.api = client.NewAPIClient(cfg.Service, a.logger)
	a.uploader, a.extractor = a.api, a.api
	a.committer, a.mutator, a.lister = a.api, a.api, a.api

	if cfg.Database.DSN != "" {
		db, err := repository.Open(ctx, cfg.Database, a.logger)
		if err != nil {
			a.close()
			return nil, err
		}
		a.db = db
		a.closers = append(a.closers, db.Close)
		repo := repository.NewRecordRepository(db, cfg.Service.UserID, a.logger)
		a.committer, a.mutator, a.lister = repo, repo, repo
		a.logger.Info("app.records.local", "dialect", db.Dialect())
	}
	if cfg.Storage.LocalDir != "" {
		up, err := storage.NewFSUploader(cfg.Storage.LocalDir, a.logger)
		if err != nil {
			a.close()
			return nil, err
		}
		a.uploader = up
		a.logger.Info("app.uploads.local", "dir", cfg.Storage.LocalDir)

		if cfg.OCR.Enabled {
			a.extractor = ocr.NewExtractor(ocr.Config{
				Tesseract:           cfg.OCR.Tesseract,
				TesseractLang:       cfg.OCR.Lang,
				TessdataDir:         cfg.OCR.TessdataDir,
				PSM:                 cfg.OCR.PSM,
				EnableTSVConfidence: cfg.OCR.TSVConfidence,
			}, up, a.logger)
			a.logger.Info("app.extract.local", "tesseract", cfg.OCR.Tesseract, "lang", cfg.OCR.Lang)
		}
	}
	return a, nil
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func (a *app) controller(opts ...batch.Option) *batch.Controller {
	p := pipeline.New(a.uploader, a.extractor, pipeline.ConfigFromBatch(a.cfg.Batch), a.logger)
	base := []batch.Option{
		batch.WithInterItemDelay(a.cfg.Batch.InterItemDelay),
		batch.WithPolicy(retry.NewPolicy(a.cfg.Batch.RetryDelays, a.cfg.Batch.MaxRetries)),
	}
	return batch.NewController(p, a.committer, a.logger, append(base, opts...)...)
}

func newLogger(cfg common.LogConfig, a *app) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(cfg.Level))); err != nil {
		level = slog.LevelInfo
	}
	var w io.Writer = os.Stderr
	if cfg.File != "" {
		lj := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    20, // MB
			MaxBackups: 5,
			MaxAge:     28, // days
			Compress:   true,
		}
		a.closers = append(a.closers, func() { _ = lj.Close() })
		w = io.MultiWriter(os.Stderr, lj)
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
