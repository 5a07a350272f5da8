// Package activation turns a pending onboarding request into an active church
// profile.
package activation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"sermonflow/internal/util"
	"sermonflow/pkg/domain"
	"sermonflow/pkg/notify"
	"sermonflow/pkg/store"
)

const DefaultSlogan = "Welcome Home"

// Store is the persistence the workflow needs.
type Store interface {
	GetOnboardingRequest(ctx context.Context, id string) (domain.OnboardingRequest, bool, error)
	InsertProfile(ctx context.Context, profile domain.Profile) error
	UpdateOnboardingStatus(ctx context.Context, id string, status domain.OnboardingStatus) error
}

// Input is the operator's enrichment of a request, as entered in the admin form.
type Input struct {
	RequestID         string `json:"requestId"`
	ChurchName        string `json:"churchName"`
	Theology          string `json:"theology"`
	VoiceToneCSV      string `json:"voiceTone"`
	InsiderLexiconCSV string `json:"insiderLexicon"`
	BrandingJSON      string `json:"brandingJson"`
	Slogan            string `json:"slogan"`
}

type Workflow struct {
	store    Store
	notifier notify.Notifier
	now      func() time.Time
	newID    func() string
}

type Option func(*Workflow)

// WithClock overrides time.Now for tests.
func WithClock(now func() time.Time) Option {
	return func(w *Workflow) { w.now = now }
}

// WithIDGenerator overrides util.NewID for tests.
func WithIDGenerator(newID func() string) Option {
	return func(w *Workflow) { w.newID = newID }
}

func NewWorkflow(st Store, notifier notify.Notifier, opts ...Option) *Workflow {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	w := &Workflow{
		store:    st,
		notifier: notifier,
		now:      func() time.Time { return time.Now().UTC() },
		newID:    util.NewID,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Activate validates the input, creates the profile, then marks the request
// active. Steps run in that order; see the package errors for how each
// failure is reported.
func (w *Workflow) Activate(ctx context.Context, in Input) (domain.Profile, error) {
	logger := util.LoggerFromContext(ctx).With("request_id", in.RequestID)

	branding, err := parseBranding(in.BrandingJSON)
	if err != nil {
		return domain.Profile{}, err
	}
	voiceTone := SplitCSV(in.VoiceToneCSV)
	lexicon := dedupe(SplitCSV(in.InsiderLexiconCSV))

	req, ok, err := w.store.GetOnboardingRequest(ctx, in.RequestID)
	if err != nil {
		return domain.Profile{}, fmt.Errorf("load onboarding request: %w", err)
	}
	if !ok {
		return domain.Profile{}, ErrRequestNotFound
	}
	if req.Status == domain.OnboardingActive {
		return domain.Profile{}, ErrRequestAlreadyActive
	}

	name := strings.TrimSpace(in.ChurchName)
	if name == "" {
		name = req.ChurchName
	}
	slogan := strings.TrimSpace(in.Slogan)
	if slogan == "" {
		slogan = DefaultSlogan
	}
	profile := domain.Profile{
		ID:        w.newID(),
		RequestID: req.ID,
		OwnerID:   req.UserID,
		Name:      name,
		Research: domain.ResearchProfile{
			Theology:       strings.TrimSpace(in.Theology),
			VoiceTone:      voiceTone,
			InsiderLexicon: lexicon,
			Slogan:         slogan,
		},
		BrandingAssets: branding,
		CreatedAt:      w.now(),
	}

	if err := w.store.InsertProfile(ctx, profile); err != nil {
		if errors.Is(err, store.ErrProfileExists) {
			return domain.Profile{}, ErrRequestAlreadyActive
		}
		return domain.Profile{}, fmt.Errorf("%w: %w", ErrProfileCreationFailed, err)
	}

	if err := w.store.UpdateOnboardingStatus(ctx, req.ID, domain.OnboardingActive); err != nil {
		logger.Error("activation needs reconciliation", "profile_id", profile.ID, "err", err)
		return profile, &StatusUpdateError{RequestID: req.ID, ProfileID: profile.ID, Err: err}
	}

	event := notify.NewEvent(notify.EventChurchActivated, map[string]any{
		"requestId":  req.ID,
		"churchId":   profile.ID,
		"ownerId":    profile.OwnerID,
		"churchName": profile.Name,
	})
	if err := w.notifier.Notify(ctx, event); err != nil {
		logger.Warn("activation notification failed", "profile_id", profile.ID, "err", err)
	}
	logger.Info("church activated", "profile_id", profile.ID, "owner_id", profile.OwnerID)
	return profile, nil
}

func parseBranding(raw string) (json.RawMessage, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return json.RawMessage("{}"), nil
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, []byte(raw)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBrandingJSON, err)
	}
	return json.RawMessage(buf.Bytes()), nil
}

// SplitCSV splits on commas, trims and drops empty tokens.
func SplitCSV(raw string) []string {
	out := []string{}
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// FormDefaults pre-fills the admin form for a pending request.
type FormDefaults struct {
	ChurchName        string `json:"churchName"`
	Theology          string `json:"theology"`
	VoiceToneCSV      string `json:"voiceTone"`
	InsiderLexiconCSV string `json:"insiderLexicon"`
	BrandingJSON      string `json:"brandingJson"`
	Slogan            string `json:"slogan"`
}

const defaultBrandingJSON = `{
  "primary_color": "#000000",
  "secondary_color": "#ffffff",
  "font_header": "Inter",
  "font_body": "Inter"
}`

func DefaultsFor(req domain.OnboardingRequest) FormDefaults {
	theology := strings.TrimSpace(req.Denomination)
	if theology == "" {
		theology = "Non-Denominational"
	}
	return FormDefaults{
		ChurchName:        req.ChurchName,
		Theology:          theology,
		VoiceToneCSV:      "Warm, Invitational, Modern",
		InsiderLexiconCSV: "Grace, Redemption, Stewardship, Fellowship",
		BrandingJSON:      defaultBrandingJSON,
		Slogan:            DefaultSlogan,
	}
}
