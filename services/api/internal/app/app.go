package app

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"sermonflow/internal/util"
	"sermonflow/pkg/activation"
	"sermonflow/pkg/domain"
	"sermonflow/pkg/intake"
	"sermonflow/pkg/notify"
	"sermonflow/pkg/storage"
	"sermonflow/pkg/store"
	"sermonflow/pkg/transcript"
)

// Dispatcher hands a persisted generation request to the workers.
type Dispatcher interface {
	Dispatch(ctx context.Context, req domain.GenerationRequest) error
}

// Config holds runtime dependencies for the core application.
type Config struct {
	Store         store.Store
	Objects       storage.ObjectStore
	Dispatcher    Dispatcher
	Notifier      notify.Notifier
	PresignExpiry time.Duration
	Now           func() time.Time
}

// App is the core application service behind the HTTP API. Every operation
// takes the acting user explicitly.
type App struct {
	store         store.Store
	objects       storage.ObjectStore
	dispatcher    Dispatcher
	notifier      notify.Notifier
	activation    *activation.Workflow
	presignExpiry time.Duration
	now           func() time.Time
}

func New(cfg Config) (*App, error) {
	if cfg.Store == nil {
		return nil, errors.New("store required")
	}
	if cfg.Objects == nil {
		return nil, errors.New("object store required")
	}
	if cfg.Dispatcher == nil {
		return nil, errors.New("dispatcher required")
	}
	notifier := cfg.Notifier
	if notifier == nil {
		notifier = notify.Nop{}
	}
	if cfg.PresignExpiry <= 0 {
		cfg.PresignExpiry = 15 * time.Minute
	}
	now := cfg.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &App{
		store:         cfg.Store,
		objects:       cfg.Objects,
		dispatcher:    cfg.Dispatcher,
		notifier:      notifier,
		activation:    activation.NewWorkflow(cfg.Store, notifier, activation.WithClock(now)),
		presignExpiry: cfg.PresignExpiry,
		now:           now,
	}, nil
}

// SubmitOnboarding stores a completed intake record as a pending request and
// notifies operators.
func (a *App) SubmitOnboarding(ctx context.Context, user domain.User, rec intake.Record) (domain.OnboardingRequest, error) {
	name := strings.TrimSpace(rec.ChurchName)
	if name == "" {
		return domain.OnboardingRequest{}, ErrChurchNameRequired
	}
	socials := rec.Socials
	if len(socials) == 0 && strings.TrimSpace(rec.SocialsRaw) != "" {
		socials = intake.ParseSocials(rec.SocialsRaw)
	}
	if socials == nil {
		socials = map[string]string{}
	}
	now := a.now()
	req := domain.OnboardingRequest{
		ID:           util.NewID(),
		UserID:       user.ID,
		ChurchName:   name,
		Website:      strings.TrimSpace(rec.Website),
		Denomination: strings.TrimSpace(rec.Denomination),
		SocialLinks:  socials,
		Status:       domain.OnboardingPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := a.store.InsertOnboardingRequest(ctx, req); err != nil {
		return domain.OnboardingRequest{}, fmt.Errorf("save onboarding request: %w", err)
	}

	logger := util.LoggerFromContext(ctx)
	event := notify.NewEvent(notify.EventOnboardingSubmitted, map[string]any{
		"requestId":  req.ID,
		"userId":     user.ID,
		"churchName": req.ChurchName,
	})
	if err := a.notifier.Notify(ctx, event); err != nil {
		logger.Warn("onboarding notification failed", "request_id", req.ID, "err", err)
	}
	logger.Info("onboarding submitted", "request_id", req.ID, "user_id", user.ID)
	return req, nil
}

// ListPendingOnboarding returns requests awaiting research, oldest first.
func (a *App) ListPendingOnboarding(ctx context.Context, user domain.User) ([]domain.OnboardingRequest, error) {
	if user.Role != domain.RoleAdmin {
		return nil, ErrForbidden
	}
	return a.store.ListOnboardingRequests(ctx, domain.OnboardingPending)
}

// OnboardingDetail returns a request with the pre-filled activation form.
func (a *App) OnboardingDetail(ctx context.Context, user domain.User, id string) (domain.OnboardingRequest, activation.FormDefaults, error) {
	if user.Role != domain.RoleAdmin {
		return domain.OnboardingRequest{}, activation.FormDefaults{}, ErrForbidden
	}
	req, ok, err := a.store.GetOnboardingRequest(ctx, id)
	if err != nil {
		return domain.OnboardingRequest{}, activation.FormDefaults{}, fmt.Errorf("load onboarding request: %w", err)
	}
	if !ok {
		return domain.OnboardingRequest{}, activation.FormDefaults{}, activation.ErrRequestNotFound
	}
	return req, activation.DefaultsFor(req), nil
}

// Activate runs the activation workflow. On a status update failure the
// created profile is returned together with the error.
func (a *App) Activate(ctx context.Context, user domain.User, in activation.Input) (domain.Profile, error) {
	if user.Role != domain.RoleAdmin {
		return domain.Profile{}, ErrForbidden
	}
	return a.activation.Activate(ctx, in)
}

// ChurchForUser returns the caller's active church.
func (a *App) ChurchForUser(ctx context.Context, user domain.User) (domain.Profile, error) {
	profile, ok, err := a.store.GetProfileByOwner(ctx, user.ID)
	if err != nil {
		return domain.Profile{}, fmt.Errorf("load church: %w", err)
	}
	if !ok {
		return domain.Profile{}, ErrChurchNotFound
	}
	return profile, nil
}

// CreateSermon stores a pasted transcript under the caller's church.
func (a *App) CreateSermon(ctx context.Context, user domain.User, title, text string) (domain.SourceDocument, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return domain.SourceDocument{}, ErrTitleRequired
	}
	text = transcript.Normalize(text)
	if text == "" {
		return domain.SourceDocument{}, ErrTranscriptRequired
	}
	church, err := a.ChurchForUser(ctx, user)
	if err != nil {
		return domain.SourceDocument{}, err
	}
	doc := domain.SourceDocument{
		ID:         util.NewID(),
		ProfileID:  church.ID,
		OwnerID:    user.ID,
		Title:      title,
		Transcript: text,
		CreatedAt:  a.now(),
	}
	if err := a.store.SaveSourceDocument(ctx, doc); err != nil {
		return domain.SourceDocument{}, fmt.Errorf("save sermon: %w", err)
	}
	util.LoggerFromContext(ctx).Info("sermon created", "sermon_id", doc.ID, "church_id", church.ID, "chars", len(doc.Transcript))
	return doc, nil
}

// CreateSermonFromFile extracts the transcript from an uploaded file. A blank
// title falls back to the file name.
func (a *App) CreateSermonFromFile(ctx context.Context, user domain.User, title, filename string, data []byte) (domain.SourceDocument, error) {
	text, err := transcript.Extract(filename, data)
	if err != nil {
		if errors.Is(err, transcript.ErrEmptyTranscript) {
			return domain.SourceDocument{}, ErrTranscriptRequired
		}
		return domain.SourceDocument{}, err
	}
	if strings.TrimSpace(title) == "" {
		title = titleFromName(filename)
	}
	return a.CreateSermon(ctx, user, title, text)
}

// ListSermons returns the caller's sermons, newest first.
func (a *App) ListSermons(ctx context.Context, user domain.User) ([]domain.SourceDocument, error) {
	church, err := a.ChurchForUser(ctx, user)
	if err != nil {
		return nil, err
	}
	return a.store.ListSourceDocuments(ctx, church.ID)
}

// GetSermon returns a sermon the caller may see. Other users' sermons are
// reported as not found.
func (a *App) GetSermon(ctx context.Context, user domain.User, id string) (domain.SourceDocument, error) {
	doc, ok, err := a.store.GetSourceDocument(ctx, id)
	if err != nil {
		return domain.SourceDocument{}, fmt.Errorf("load sermon: %w", err)
	}
	if !ok || (doc.OwnerID != user.ID && user.Role != domain.RoleAdmin) {
		return domain.SourceDocument{}, ErrNotFound
	}
	return doc, nil
}

// RequestGeneration atomically inserts a processing request for the sermon and
// asset type, then hands it to the workers. When dispatch fails the row is
// marked failed so the pair can be requested again.
func (a *App) RequestGeneration(ctx context.Context, user domain.User, sermonID string, assetType domain.AssetType) (domain.GenerationRequest, error) {
	if !assetType.Valid() {
		return domain.GenerationRequest{}, fmt.Errorf("%w: %q", domain.ErrUnknownAssetType, assetType)
	}
	doc, err := a.GetSermon(ctx, user, sermonID)
	if err != nil {
		return domain.GenerationRequest{}, err
	}
	now := a.now()
	req := domain.GenerationRequest{
		ID:               util.NewID(),
		SourceDocumentID: doc.ID,
		AssetType:        assetType,
		Status:           domain.GenerationProcessing,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := a.store.InsertGenerationRequestIfAbsent(ctx, req); err != nil {
		if errors.Is(err, domain.ErrAlreadyProcessing) {
			return domain.GenerationRequest{}, err
		}
		return domain.GenerationRequest{}, fmt.Errorf("save generation request: %w", err)
	}

	logger := util.LoggerFromContext(ctx).With("generation_id", req.ID, "sermon_id", doc.ID, "asset_type", assetType)
	if err := a.dispatcher.Dispatch(ctx, req); err != nil {
		logger.Error("dispatch generation failed", "err", err)
		msg := "dispatch failed: " + err.Error()
		if failErr := a.store.FailGenerationRequest(context.WithoutCancel(ctx), req.ID, msg); failErr != nil {
			logger.Error("mark undispatched generation failed", "err", failErr)
		}
		return domain.GenerationRequest{}, fmt.Errorf("%w: %w", ErrDispatchFailed, err)
	}
	logger.Info("generation requested")
	return req, nil
}

// ListGenerationRequests returns the sermon's requests, newest first, with a
// fresh download URL on each completed one.
func (a *App) ListGenerationRequests(ctx context.Context, user domain.User, sermonID string) ([]domain.GenerationRequest, error) {
	doc, err := a.GetSermon(ctx, user, sermonID)
	if err != nil {
		return nil, err
	}
	reqs, err := a.store.ListGenerationRequests(ctx, doc.ID)
	if err != nil {
		return nil, fmt.Errorf("list generation requests: %w", err)
	}
	for i := range reqs {
		if reqs[i].Status != domain.GenerationCompleted || reqs[i].ResultKey == "" {
			continue
		}
		uri, err := a.objects.PresignGet(ctx, reqs[i].ResultKey, a.presignExpiry)
		if err != nil {
			util.LoggerFromContext(ctx).Warn("presign asset failed", "generation_id", reqs[i].ID, "err", err)
			continue
		}
		reqs[i].ResultURI = uri
	}
	return reqs, nil
}

func titleFromName(filename string) string {
	base := filepath.Base(filename)
	title := strings.TrimSpace(strings.TrimSuffix(base, filepath.Ext(base)))
	if title == "." || title == "" {
		return ""
	}
	return title
}
