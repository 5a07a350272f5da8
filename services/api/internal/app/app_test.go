package app

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"sermonflow/pkg/activation"
	"sermonflow/pkg/domain"
	"sermonflow/pkg/intake"
	"sermonflow/pkg/notify"
	"sermonflow/pkg/storage"
	"sermonflow/pkg/store"
)

type fakeDispatcher struct {
	mu   sync.Mutex
	jobs []domain.GenerationRequest
	err  error
}

func (d *fakeDispatcher) Dispatch(_ context.Context, req domain.GenerationRequest) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.jobs = append(d.jobs, req)
	return nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []notify.Event
}

func (n *recordingNotifier) Notify(_ context.Context, e notify.Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, e)
	return nil
}

type fixture struct {
	app        *App
	store      *store.MemoryStore
	objects    *storage.MemoryStore
	dispatcher *fakeDispatcher
	notifier   *recordingNotifier
}

var (
	pastor = domain.User{ID: "user-1", Email: "pastor@grace.example", Role: domain.RoleUser}
	admin  = domain.User{ID: "admin-1", Role: domain.RoleAdmin}
)

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:      store.NewMemoryStore(),
		objects:    storage.NewMemoryStore(),
		dispatcher: &fakeDispatcher{},
		notifier:   &recordingNotifier{},
	}
	a, err := New(Config{Store: f.store, Objects: f.objects, Dispatcher: f.dispatcher, Notifier: f.notifier})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	f.app = a
	return f
}

// activeChurch runs intake submission and activation for pastor.
func (f *fixture) activeChurch(t *testing.T) domain.Profile {
	t.Helper()
	ctx := context.Background()
	req, err := f.app.SubmitOnboarding(ctx, pastor, intake.Record{
		ChurchName:   "Grace Chapel",
		Website:      "gracechapel.org",
		Denomination: "Baptist",
		SocialsRaw:   "ig: @gracechapel",
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	profile, err := f.app.Activate(ctx, admin, activation.Input{RequestID: req.ID, Theology: "Reformed"})
	if err != nil {
		t.Fatalf("activate: %v", err)
	}
	return profile
}

func (f *fixture) sermon(t *testing.T) domain.SourceDocument {
	t.Helper()
	f.activeChurch(t)
	doc, err := f.app.CreateSermon(context.Background(), pastor, "Sunday Sermon", "Grace upon grace.")
	if err != nil {
		t.Fatalf("create sermon: %v", err)
	}
	return doc
}

func TestNewRequiresDependencies(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatalf("expected missing store to fail")
	}
	if _, err := New(Config{Store: store.NewMemoryStore(), Objects: storage.NewMemoryStore()}); err == nil {
		t.Fatalf("expected missing dispatcher to fail")
	}
}

func TestSubmitOnboardingParsesSocialsAndNotifies(t *testing.T) {
	f := newFixture(t)
	req, err := f.app.SubmitOnboarding(context.Background(), pastor, intake.Record{
		ChurchName: "  Grace Chapel ",
		SocialsRaw: "ig: @gracechapel; fb: GraceTX",
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if req.ChurchName != "Grace Chapel" || req.Status != domain.OnboardingPending || req.UserID != pastor.ID {
		t.Fatalf("unexpected request: %+v", req)
	}
	if req.SocialLinks["instagram"] != "gracechapel" || req.SocialLinks["facebook"] != "GraceTX" {
		t.Fatalf("expected parsed socials, got %v", req.SocialLinks)
	}
	if len(f.notifier.events) != 1 || f.notifier.events[0].Type != notify.EventOnboardingSubmitted {
		t.Fatalf("expected onboarding.submitted, got %+v", f.notifier.events)
	}
	if _, err := f.app.SubmitOnboarding(context.Background(), pastor, intake.Record{ChurchName: " "}); !errors.Is(err, ErrChurchNameRequired) {
		t.Fatalf("expected ErrChurchNameRequired, got %v", err)
	}
}

func TestAdminOperationsRequireAdmin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.app.ListPendingOnboarding(ctx, pastor); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if _, _, err := f.app.OnboardingDetail(ctx, pastor, "x"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if _, err := f.app.Activate(ctx, pastor, activation.Input{RequestID: "x"}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}

func TestOnboardingDetailDefaults(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req, err := f.app.SubmitOnboarding(ctx, pastor, intake.Record{ChurchName: "Grace Chapel", Denomination: "Baptist"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	pending, err := f.app.ListPendingOnboarding(ctx, admin)
	if err != nil || len(pending) != 1 {
		t.Fatalf("expected one pending request, got %v err=%v", pending, err)
	}
	got, defaults, err := f.app.OnboardingDetail(ctx, admin, req.ID)
	if err != nil {
		t.Fatalf("detail: %v", err)
	}
	if got.ID != req.ID || defaults.Theology != "Baptist" || defaults.ChurchName != "Grace Chapel" {
		t.Fatalf("unexpected detail: %+v %+v", got, defaults)
	}
	if _, _, err := f.app.OnboardingDetail(ctx, admin, "missing"); !errors.Is(err, activation.ErrRequestNotFound) {
		t.Fatalf("expected ErrRequestNotFound, got %v", err)
	}
}

func TestCreateSermonRequiresChurch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.app.CreateSermon(ctx, pastor, "Title", "text"); !errors.Is(err, ErrChurchNotFound) {
		t.Fatalf("expected ErrChurchNotFound, got %v", err)
	}
	if _, err := f.app.CreateSermon(ctx, pastor, " ", "text"); !errors.Is(err, ErrTitleRequired) {
		t.Fatalf("expected ErrTitleRequired, got %v", err)
	}
	if _, err := f.app.CreateSermon(ctx, pastor, "Title", " \n "); !errors.Is(err, ErrTranscriptRequired) {
		t.Fatalf("expected ErrTranscriptRequired, got %v", err)
	}
}

func TestCreateSermonFromFile(t *testing.T) {
	f := newFixture(t)
	f.activeChurch(t)
	ctx := context.Background()

	doc, err := f.app.CreateSermonFromFile(ctx, pastor, "", "Easter Sunday.html", []byte("<html><body><p>He is risen.</p><script>x()</script></body></html>"))
	if err != nil {
		t.Fatalf("create from file: %v", err)
	}
	if doc.Title != "Easter Sunday" || !strings.Contains(doc.Transcript, "He is risen.") || strings.Contains(doc.Transcript, "x()") {
		t.Fatalf("unexpected sermon: %+v", doc)
	}
	if _, err := f.app.CreateSermonFromFile(ctx, pastor, "", "slides.pptx", []byte("x")); err == nil {
		t.Fatalf("expected unsupported format to fail")
	}
	if _, err := f.app.CreateSermonFromFile(ctx, pastor, "Blank", "blank.txt", []byte("  ")); !errors.Is(err, ErrTranscriptRequired) {
		t.Fatalf("expected ErrTranscriptRequired, got %v", err)
	}
	list, err := f.app.ListSermons(ctx, pastor)
	if err != nil || len(list) != 1 {
		t.Fatalf("expected one sermon, got %v err=%v", list, err)
	}
}

func TestGetSermonHidesOtherUsers(t *testing.T) {
	f := newFixture(t)
	doc := f.sermon(t)
	other := domain.User{ID: "user-2", Role: domain.RoleUser}
	if _, err := f.app.GetSermon(context.Background(), other, doc.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := f.app.GetSermon(context.Background(), admin, doc.ID); err != nil {
		t.Fatalf("admin should see any sermon: %v", err)
	}
}

func TestRequestGenerationDispatchesOnce(t *testing.T) {
	f := newFixture(t)
	doc := f.sermon(t)
	ctx := context.Background()

	req, err := f.app.RequestGeneration(ctx, pastor, doc.ID, domain.AssetEmailRecap)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if req.Status != domain.GenerationProcessing || len(f.dispatcher.jobs) != 1 {
		t.Fatalf("expected dispatched processing request, got %+v jobs=%d", req, len(f.dispatcher.jobs))
	}
	if _, err := f.app.RequestGeneration(ctx, pastor, doc.ID, domain.AssetEmailRecap); !errors.Is(err, domain.ErrAlreadyProcessing) {
		t.Fatalf("expected ErrAlreadyProcessing, got %v", err)
	}
	if len(f.dispatcher.jobs) != 1 {
		t.Fatalf("conflict must not dispatch")
	}
	if _, err := f.app.RequestGeneration(ctx, pastor, doc.ID, "podcast"); !errors.Is(err, domain.ErrUnknownAssetType) {
		t.Fatalf("expected ErrUnknownAssetType, got %v", err)
	}
}

func TestRequestGenerationDispatchFailureUnblocksPair(t *testing.T) {
	f := newFixture(t)
	doc := f.sermon(t)
	ctx := context.Background()

	f.dispatcher.err = errors.New("redis down")
	if _, err := f.app.RequestGeneration(ctx, pastor, doc.ID, domain.AssetDevotional); !errors.Is(err, ErrDispatchFailed) {
		t.Fatalf("expected ErrDispatchFailed, got %v", err)
	}
	reqs, err := f.app.ListGenerationRequests(ctx, pastor, doc.ID)
	if err != nil || len(reqs) != 1 || reqs[0].Status != domain.GenerationFailed {
		t.Fatalf("expected one failed request, got %+v err=%v", reqs, err)
	}

	f.dispatcher.err = nil
	if _, err := f.app.RequestGeneration(ctx, pastor, doc.ID, domain.AssetDevotional); err != nil {
		t.Fatalf("retry after dispatch failure: %v", err)
	}
}

func TestListGenerationRequestsPresignsCompleted(t *testing.T) {
	f := newFixture(t)
	doc := f.sermon(t)
	ctx := context.Background()

	req, err := f.app.RequestGeneration(ctx, pastor, doc.ID, domain.AssetSmallGroup)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	key := storage.AssetKey(doc.ID, req.ID, req.AssetType)
	body := []byte("# Small Group")
	if err := f.objects.Put(ctx, key, bytes.NewReader(body), int64(len(body)), "text/markdown"); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := f.store.CompleteGenerationRequest(ctx, req.ID, key); err != nil {
		t.Fatalf("complete: %v", err)
	}
	processing, err := f.app.RequestGeneration(ctx, pastor, doc.ID, domain.AssetServiceHost)
	if err != nil {
		t.Fatalf("second request: %v", err)
	}

	reqs, err := f.app.ListGenerationRequests(ctx, pastor, doc.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(reqs) != 2 || reqs[0].ID != processing.ID {
		t.Fatalf("expected newest first, got %+v", reqs)
	}
	if reqs[0].ResultURI != "" {
		t.Fatalf("processing request must not have a uri")
	}
	if !strings.HasPrefix(reqs[1].ResultURI, "memory://"+key) {
		t.Fatalf("expected presigned uri for %s, got %q", key, reqs[1].ResultURI)
	}
}
