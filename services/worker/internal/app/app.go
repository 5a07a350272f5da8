package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"sermonflow/internal/util"
	"sermonflow/pkg/ai"
	"sermonflow/pkg/domain"
	"sermonflow/pkg/queue"
	"sermonflow/pkg/storage"
	"sermonflow/pkg/store"
)

const (
	defaultGenerateTimeout = 2 * time.Minute
	maxErrorMessageLen     = 500
	resultContentType      = "text/markdown; charset=utf-8"
)

// JobQueue is the subset of the job queue the worker consumes.
type JobQueue interface {
	Start(ctx context.Context, concurrency int, handler queue.Handler, onFailed queue.FailedHandler)
	GetJob(ctx context.Context, jobID string) (queue.Job, bool, error)
	Ping(ctx context.Context) error
}

// Config wires the worker's dependencies.
type Config struct {
	Store           store.Store
	Objects         storage.ObjectStore
	Generator       ai.TextGenerator
	Queue           JobQueue
	Concurrency     int
	GenerateTimeout time.Duration
}

// App turns queued generation jobs into stored Markdown assets.
type App struct {
	store           store.Store
	objects         storage.ObjectStore
	generator       ai.TextGenerator
	queue           JobQueue
	concurrency     int
	generateTimeout time.Duration
}

// New validates cfg and returns a worker app.
func New(cfg Config) (*App, error) {
	if cfg.Store == nil {
		return nil, errors.New("store is required")
	}
	if cfg.Objects == nil {
		return nil, errors.New("object store is required")
	}
	if cfg.Generator == nil {
		return nil, errors.New("generator is required")
	}
	if cfg.Queue == nil {
		return nil, errors.New("queue is required")
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.GenerateTimeout <= 0 {
		cfg.GenerateTimeout = defaultGenerateTimeout
	}
	return &App{
		store:           cfg.Store,
		objects:         cfg.Objects,
		generator:       cfg.Generator,
		queue:           cfg.Queue,
		concurrency:     cfg.Concurrency,
		generateTimeout: cfg.GenerateTimeout,
	}, nil
}

// Run starts the consumers and blocks until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	a.queue.Start(ctx, a.concurrency, a.Process, a.Fail)
	util.LoggerFromContext(ctx).Info("generation workers started", "concurrency", a.concurrency)
	<-ctx.Done()
	return nil
}

// Ready reports whether the queue backend is reachable.
func (a *App) Ready(ctx context.Context) error {
	return a.queue.Ping(ctx)
}

// GetJob returns queue-side state for a job.
func (a *App) GetJob(ctx context.Context, jobID string) (queue.Job, bool, error) {
	return a.queue.GetJob(ctx, jobID)
}

// Process generates one asset. Returned errors are retried by the queue;
// problems that cannot heal on retry fail the row immediately.
func (a *App) Process(ctx context.Context, job queue.Job) error {
	logger := util.LoggerFromContext(ctx).With("generation_id", job.GenerationID, "asset_type", job.AssetType)

	gen, ok, err := a.store.GetGenerationRequest(ctx, job.GenerationID)
	if err != nil {
		return fmt.Errorf("load generation request: %w", err)
	}
	if !ok {
		logger.Warn("generation request missing, dropping job")
		return nil
	}
	if gen.Status != domain.GenerationProcessing {
		logger.Info("generation request already finished", "status", gen.Status)
		return nil
	}

	doc, ok, err := a.store.GetSourceDocument(ctx, gen.SourceDocumentID)
	if err != nil {
		return fmt.Errorf("load sermon: %w", err)
	}
	if !ok {
		a.failNow(ctx, gen.ID, "sermon not found")
		return nil
	}
	profile, ok, err := a.store.GetProfile(ctx, doc.ProfileID)
	if err != nil {
		return fmt.Errorf("load church profile: %w", err)
	}
	if !ok {
		a.failNow(ctx, gen.ID, "church profile not found")
		return nil
	}

	systemPrompt, userPrompt := ai.BuildAssetPrompts(profile, doc, gen.AssetType)
	genCtx, cancel := context.WithTimeout(ctx, a.generateTimeout)
	text, err := a.generator.GenerateText(genCtx, systemPrompt, userPrompt)
	cancel()
	if err != nil {
		return fmt.Errorf("generate %s: %w", gen.AssetType, err)
	}
	text = ai.StripCodeFence(text)
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("generate %s: empty response", gen.AssetType)
	}

	key := storage.AssetKey(doc.ID, gen.ID, gen.AssetType)
	body := []byte(text)
	if err := a.objects.Put(ctx, key, bytes.NewReader(body), int64(len(body)), resultContentType); err != nil {
		return fmt.Errorf("store asset: %w", err)
	}
	if err := a.store.CompleteGenerationRequest(ctx, gen.ID, key); err != nil {
		if errors.Is(err, store.ErrNotProcessing) {
			logger.Info("generation request finished elsewhere, keeping stored asset", "key", key)
			return nil
		}
		return fmt.Errorf("complete generation request: %w", err)
	}
	logger.Info("generation completed", "key", key, "bytes", len(body))
	return nil
}

// Fail marks the row failed once the queue has given up on the job.
func (a *App) Fail(ctx context.Context, job queue.Job, err error) {
	msg := "generation failed"
	if err != nil {
		msg = err.Error()
	}
	a.failNow(ctx, job.GenerationID, msg)
}

func (a *App) failNow(ctx context.Context, generationID, msg string) {
	if len(msg) > maxErrorMessageLen {
		msg = strings.ToValidUTF8(msg[:maxErrorMessageLen], "")
	}
	err := a.store.FailGenerationRequest(context.WithoutCancel(ctx), generationID, msg)
	if err != nil && !errors.Is(err, store.ErrNotProcessing) {
		util.LoggerFromContext(ctx).Error("mark generation failed", "generation_id", generationID, "err", err)
	}
}
