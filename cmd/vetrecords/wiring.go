package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/abzdel/handwritten-text-extraction-ocr-llm/internal/common"
	"github.com/abzdel/handwritten-text-extraction-ocr-llm/internal/inference"
	"github.com/abzdel/handwritten-text-extraction-ocr-llm/internal/llm"
	"github.com/abzdel/handwritten-text-extraction-ocr-llm/internal/llm/gemini"
	"github.com/abzdel/handwritten-text-extraction-ocr-llm/internal/llm/openai"
	"github.com/abzdel/handwritten-text-extraction-ocr-llm/internal/ocr"
	"github.com/abzdel/handwritten-text-extraction-ocr-llm/internal/pipeline"
	"github.com/abzdel/handwritten-text-extraction-ocr-llm/internal/replicate"
	"github.com/abzdel/handwritten-text-extraction-ocr-llm/internal/repository"
)

func newReplicateClient(cfg *common.Config, logger *slog.Logger) *replicate.Client {
	return replicate.NewClient(cfg.Replicate.APIToken,
		replicate.WithBaseURL(cfg.Replicate.BaseURL),
		replicate.WithLogger(logger),
	)
}

// newStreamingBackend selects the structuring provider.
func newStreamingBackend(ctx context.Context, cfg *common.Config, rc *replicate.Client, logger *slog.Logger) (inference.StreamingInference, error) {
	switch cfg.Structuring.Provider {
	case common.ProviderReplicate:
		return rc, nil
	case common.ProviderOpenAI:
		return openai.NewClient(openai.Config{
			APIKey:  cfg.OpenAI.APIKey,
			BaseURL: cfg.OpenAI.BaseURL,
		}, logger), nil
	case common.ProviderGemini:
		gc, err := gemini.NewClient(ctx, gemini.Config{APIKey: cfg.Gemini.APIKey}, logger)
		if err != nil {
			return nil, err
		}
		return gc, nil
	default:
		return nil, fmt.Errorf("unknown structuring provider %q", cfg.Structuring.Provider)
	}
}

func newOCRExtractor(cfg *common.Config, rc *replicate.Client, logger *slog.Logger) *ocr.Extractor {
	return ocr.NewExtractor(ocr.Config{Model: cfg.Replicate.OCRModel}, rc, logger)
}

func newStructurer(ctx context.Context, cfg *common.Config, rc *replicate.Client, logger *slog.Logger) (*llm.Structurer, error) {
	backend, err := newStreamingBackend(ctx, cfg, rc, logger)
	if err != nil {
		return nil, err
	}
	return llm.NewStructurer(llm.Config{
		Model: cfg.Structuring.Model,
		Options: inference.GenerationOptions{
			Temperature:     cfg.Structuring.Temperature,
			TopP:            cfg.Structuring.TopP,
			PresencePenalty: cfg.Structuring.PresencePenalty,
			MinTokens:       cfg.Structuring.MinTokens,
		},
	}, backend, logger)
}

func newProcessor(ctx context.Context, cfg *common.Config, jobs repository.ExtractJobRepository, logger *slog.Logger) (*pipeline.Processor, error) {
	rc := newReplicateClient(cfg, logger)
	structurer, err := newStructurer(ctx, cfg, rc, logger)
	if err != nil {
		return nil, err
	}
	retry := pipeline.DefaultRetryPolicy()
	retry.MaxAttempts = cfg.Pipeline.RetryMaxAttempts

	return pipeline.NewProcessor(logger,
		pipeline.NewOCRStage(newOCRExtractor(cfg, rc, logger), retry, cfg.Pipeline.RemoteTimeout, logger),
		pipeline.NewStructureStage(structurer, retry, cfg.Pipeline.RemoteTimeout, logger),
		jobs,
	), nil
}

// openLedger returns the job ledger for cfg, migrated and ready. The returned
// close func is always safe to call.
func openLedger(ctx context.Context, cfg *common.Config, logger *slog.Logger) (repository.ExtractJobRepository, *repository.DB, func(), error) {
	if cfg.Ledger.Driver == "" || cfg.Ledger.Driver == common.LedgerNone {
		return repository.NoopExtractJobRepository{}, nil, func() {}, nil
	}
	db, err := repository.Open(ctx, repository.Config{
		Driver:          cfg.Ledger.Driver,
		DSN:             cfg.Ledger.DSN,
		MaxConns:        int32(max(cfg.Pipeline.Workers, 2)),
		MaxConnLifetime: 30 * time.Minute,
		MaxConnIdleTime: 5 * time.Minute,
		DialTimeout:     3 * time.Second,
	}, logger)
	if err != nil {
		return nil, nil, func() {}, fmt.Errorf("open ledger: %w", err)
	}
	closeFn := func() { db.Close(logger) }
	if err := db.Migrate(ctx); err != nil {
		closeFn()
		return nil, nil, func() {}, fmt.Errorf("migrate ledger: %w", err)
	}
	return repository.NewExtractJobRepository(db, logger), db, closeFn, nil
}
