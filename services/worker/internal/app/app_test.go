package app

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"sermonflow/pkg/ai"
	"sermonflow/pkg/domain"
	"sermonflow/pkg/queue"
	"sermonflow/pkg/storage"
	"sermonflow/pkg/store"
)

type fakeQueue struct{}

func (fakeQueue) Start(context.Context, int, queue.Handler, queue.FailedHandler) {}
func (fakeQueue) GetJob(context.Context, string) (queue.Job, bool, error) {
	return queue.Job{}, false, nil
}
func (fakeQueue) Ping(context.Context) error { return nil }

type scriptedGenerator struct {
	calls atomic.Int32
	text  string
	err   error
}

func (g *scriptedGenerator) GenerateText(context.Context, string, string) (string, error) {
	g.calls.Add(1)
	return g.text, g.err
}

type fixture struct {
	app     *App
	store   *store.MemoryStore
	objects *storage.MemoryStore
	gen     domain.GenerationRequest
}

func newFixture(t *testing.T, generator ai.TextGenerator) fixture {
	t.Helper()
	ctx := context.Background()
	st := store.NewMemoryStore()
	objects := storage.NewMemoryStore()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	profile := domain.Profile{
		ID:        "church-1",
		RequestID: "req-1",
		OwnerID:   "user-1",
		Name:      "Grace Chapel",
		Research: domain.ResearchProfile{
			Theology:       "Reformed",
			VoiceTone:      []string{"warm", "direct"},
			InsiderLexicon: []string{"Grace Groups"},
		},
		CreatedAt: now,
	}
	if err := st.InsertProfile(ctx, profile); err != nil {
		t.Fatalf("insert profile: %v", err)
	}
	doc := domain.SourceDocument{
		ID:         "sermon-1",
		ProfileID:  profile.ID,
		OwnerID:    profile.OwnerID,
		Title:      "Living Water",
		Transcript: "Jesus met a woman at the well and offered living water.",
		CreatedAt:  now,
	}
	if err := st.SaveSourceDocument(ctx, doc); err != nil {
		t.Fatalf("save sermon: %v", err)
	}
	gen := domain.GenerationRequest{
		ID:               "gen-1",
		SourceDocumentID: doc.ID,
		AssetType:        domain.AssetDevotional,
		Status:           domain.GenerationProcessing,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := st.InsertGenerationRequestIfAbsent(ctx, gen); err != nil {
		t.Fatalf("insert generation: %v", err)
	}

	a, err := New(Config{Store: st, Objects: objects, Generator: generator, Queue: fakeQueue{}})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	return fixture{app: a, store: st, objects: objects, gen: gen}
}

func jobFor(gen domain.GenerationRequest) queue.Job {
	return queue.Job{ID: "job-1", GenerationID: gen.ID, SourceDocumentID: gen.SourceDocumentID, AssetType: gen.AssetType}
}

func TestNewRequiresDependencies(t *testing.T) {
	if _, err := New(Config{Objects: storage.NewMemoryStore(), Generator: ai.StaticGenerator{}, Queue: fakeQueue{}}); err == nil {
		t.Fatalf("expected error without store")
	}
	if _, err := New(Config{Store: store.NewMemoryStore(), Objects: storage.NewMemoryStore(), Queue: fakeQueue{}}); err == nil {
		t.Fatalf("expected error without generator")
	}
}

func TestProcessStoresMarkdownAndCompletes(t *testing.T) {
	f := newFixture(t, &scriptedGenerator{text: "```markdown\n# Living Water Devotional\n\nDrink deeply.\n```"})
	ctx := context.Background()

	if err := f.app.Process(ctx, jobFor(f.gen)); err != nil {
		t.Fatalf("process: %v", err)
	}
	got, _, err := f.store.GetGenerationRequest(ctx, f.gen.ID)
	if err != nil {
		t.Fatalf("get generation: %v", err)
	}
	if got.Status != domain.GenerationCompleted {
		t.Fatalf("status = %q, want completed", got.Status)
	}
	wantKey := storage.AssetKey(f.gen.SourceDocumentID, f.gen.ID, f.gen.AssetType)
	if got.ResultKey != wantKey {
		t.Fatalf("result key = %q, want %q", got.ResultKey, wantKey)
	}
	body, err := f.objects.Get(ctx, wantKey)
	if err != nil {
		t.Fatalf("get object: %v", err)
	}
	if string(body) != "# Living Water Devotional\n\nDrink deeply." {
		t.Fatalf("stored body = %q", body)
	}
}

func TestProcessWithStaticGenerator(t *testing.T) {
	f := newFixture(t, ai.StaticGenerator{})
	ctx := context.Background()
	if err := f.app.Process(ctx, jobFor(f.gen)); err != nil {
		t.Fatalf("process: %v", err)
	}
	body, err := f.objects.Get(ctx, storage.AssetKey(f.gen.SourceDocumentID, f.gen.ID, f.gen.AssetType))
	if err != nil {
		t.Fatalf("get object: %v", err)
	}
	if !strings.HasPrefix(string(body), "# ") {
		t.Fatalf("expected markdown heading, got %q", body)
	}
}

func TestProcessSkipsFinishedRequests(t *testing.T) {
	gen := &scriptedGenerator{text: "# unused"}
	f := newFixture(t, gen)
	ctx := context.Background()
	if err := f.store.FailGenerationRequest(ctx, f.gen.ID, "cancelled"); err != nil {
		t.Fatalf("fail generation: %v", err)
	}
	if err := f.app.Process(ctx, jobFor(f.gen)); err != nil {
		t.Fatalf("process: %v", err)
	}
	if gen.calls.Load() != 0 {
		t.Fatalf("generator called %d times for a finished request", gen.calls.Load())
	}
}

func TestProcessGeneratorErrorIsRetryableThenFailed(t *testing.T) {
	f := newFixture(t, &scriptedGenerator{err: errors.New("model overloaded")})
	ctx := context.Background()
	job := jobFor(f.gen)

	err := f.app.Process(ctx, job)
	if err == nil || !strings.Contains(err.Error(), "model overloaded") {
		t.Fatalf("process err = %v, want generator error", err)
	}
	got, _, _ := f.store.GetGenerationRequest(ctx, f.gen.ID)
	if got.Status != domain.GenerationProcessing {
		t.Fatalf("status after retryable error = %q, want processing", got.Status)
	}

	f.app.Fail(ctx, job, err)
	got, _, _ = f.store.GetGenerationRequest(ctx, f.gen.ID)
	if got.Status != domain.GenerationFailed {
		t.Fatalf("status after Fail = %q, want failed", got.Status)
	}
	if !strings.Contains(got.ErrorMessage, "model overloaded") {
		t.Fatalf("error message = %q", got.ErrorMessage)
	}
	// a second Fail on a terminal row is a no-op
	f.app.Fail(ctx, job, errors.New("again"))
}

func TestProcessEmptyOutputIsAnError(t *testing.T) {
	f := newFixture(t, &scriptedGenerator{text: "  \n"})
	if err := f.app.Process(context.Background(), jobFor(f.gen)); err == nil {
		t.Fatalf("expected error for empty output")
	}
}

func TestProcessMissingSermonFailsImmediately(t *testing.T) {
	gen := &scriptedGenerator{text: "# unused"}
	f := newFixture(t, gen)
	ctx := context.Background()
	orphan := domain.GenerationRequest{
		ID:               "gen-orphan",
		SourceDocumentID: "sermon-missing",
		AssetType:        domain.AssetEmailRecap,
		Status:           domain.GenerationProcessing,
		CreatedAt:        time.Now(),
		UpdatedAt:        time.Now(),
	}
	if err := f.store.InsertGenerationRequestIfAbsent(ctx, orphan); err != nil {
		t.Fatalf("insert orphan: %v", err)
	}
	if err := f.app.Process(ctx, jobFor(orphan)); err != nil {
		t.Fatalf("process: %v", err)
	}
	got, _, _ := f.store.GetGenerationRequest(ctx, orphan.ID)
	if got.Status != domain.GenerationFailed || got.ErrorMessage != "sermon not found" {
		t.Fatalf("orphan = %+v, want failed with sermon not found", got)
	}
	if gen.calls.Load() != 0 {
		t.Fatalf("generator should not run for a missing sermon")
	}
}

func TestFailTruncatesLongMessages(t *testing.T) {
	f := newFixture(t, ai.StaticGenerator{})
	ctx := context.Background()
	f.app.Fail(ctx, jobFor(f.gen), errors.New(strings.Repeat("x", 2000)))
	got, _, _ := f.store.GetGenerationRequest(ctx, f.gen.ID)
	if len(got.ErrorMessage) != maxErrorMessageLen {
		t.Fatalf("error message length = %d, want %d", len(got.ErrorMessage), maxErrorMessageLen)
	}
}
