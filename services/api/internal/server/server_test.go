package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"

	"sermonflow/internal/usertoken"
	"sermonflow/pkg/domain"
	"sermonflow/pkg/storage"
	"sermonflow/pkg/store"
	"sermonflow/services/api/internal/app"
)

const testSecret = "test-secret-with-enough-entropy-for-hs256"

type nopDispatcher struct{}

func (nopDispatcher) Dispatch(context.Context, domain.GenerationRequest) error { return nil }

type flakyStatusStore struct {
	*store.MemoryStore
	updateErr error
}

func (s *flakyStatusStore) UpdateOnboardingStatus(ctx context.Context, id string, status domain.OnboardingStatus) error {
	if s.updateErr != nil {
		return s.updateErr
	}
	return s.MemoryStore.UpdateOnboardingStatus(ctx, id, status)
}

type testEnv struct {
	srv   *httptest.Server
	store *flakyStatusStore
}

func newTestEnv(t *testing.T, generateLimit int) *testEnv {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	st := &flakyStatusStore{MemoryStore: store.NewMemoryStore()}
	core, err := app.New(app.Config{Store: st, Objects: storage.NewMemoryStore(), Dispatcher: nopDispatcher{}})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	verifier, err := usertoken.NewVerifier(usertoken.Config{Secret: testSecret})
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}
	s, err := New(Config{
		App:                        core,
		TokenVerifier:              verifier,
		Redis:                      rdb,
		GenerateRateLimitPerMinute: generateLimit,
	})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	srv := httptest.NewServer(s.Router())
	t.Cleanup(srv.Close)
	return &testEnv{srv: srv, store: st}
}

func token(t *testing.T, sub string, admin bool) string {
	t.Helper()
	claims := jwt.MapClaims{
		"sub": sub,
		"aud": "authenticated",
		"exp": time.Now().Add(time.Hour).Unix(),
		"iat": time.Now().Unix(),
	}
	if admin {
		claims["app_metadata"] = map[string]any{"role": "admin"}
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return signed
}

func (e *testEnv) do(t *testing.T, method, path, tok string, body any) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	return resp, data
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("decode %s: %v", data, err)
	}
	return out
}

func expectStatus(t *testing.T, resp *http.Response, body []byte, want int) {
	t.Helper()
	if resp.StatusCode != want {
		t.Fatalf("%s %s: expected %d, got %d: %s", resp.Request.Method, resp.Request.URL.Path, want, resp.StatusCode, body)
	}
}

// onboardAndActivate returns the active church id for the pastor.
func (e *testEnv) onboardAndActivate(t *testing.T, pastor, admin string) string {
	t.Helper()
	resp, body := e.do(t, http.MethodPost, "/onboarding", pastor, map[string]any{
		"churchName":   "Grace Chapel",
		"website":      "gracechapel.org",
		"denomination": "Baptist",
		"socialsRaw":   "ig: @gracechapel",
	})
	expectStatus(t, resp, body, http.StatusCreated)
	req := decode[domain.OnboardingRequest](t, body)

	resp, body = e.do(t, http.MethodPost, "/admin/onboarding/"+req.ID+"/activate", admin, map[string]any{
		"theology":       "Reformed Baptist",
		"voiceTone":      "Warm, Bold",
		"insiderLexicon": "Dream Team",
		"brandingJson":   `{"primary_color":"#112233"}`,
	})
	expectStatus(t, resp, body, http.StatusCreated)
	return decode[domain.Profile](t, body).ID
}

func TestHealthAndAssetTypes(t *testing.T) {
	e := newTestEnv(t, 10)
	resp, body := e.do(t, http.MethodGet, "/healthz", "", nil)
	expectStatus(t, resp, body, http.StatusOK)

	resp, body = e.do(t, http.MethodGet, "/asset-types", "", nil)
	expectStatus(t, resp, body, http.StatusOK)
	got := decode[struct {
		Items []assetTypeResponse `json:"items"`
	}](t, body)
	if len(got.Items) != 6 || got.Items[0].ID != domain.AssetEmailRecap || got.Items[0].Label != "Email Recap" {
		t.Fatalf("unexpected catalog: %+v", got.Items)
	}
}

func TestUnauthorizedEnvelope(t *testing.T) {
	e := newTestEnv(t, 10)
	resp, body := e.do(t, http.MethodGet, "/sermons", "", nil)
	expectStatus(t, resp, body, http.StatusUnauthorized)
	env := decode[errorResponse](t, body)
	if env.Code != "UNAUTHORIZED" || env.RequestID == "" || env.RequestID != resp.Header.Get("X-Request-Id") {
		t.Fatalf("unexpected envelope: %+v", env)
	}

	resp, body = e.do(t, http.MethodGet, "/sermons", "not-a-token", nil)
	expectStatus(t, resp, body, http.StatusUnauthorized)
}

func TestAdminRoutesRequireAdmin(t *testing.T) {
	e := newTestEnv(t, 10)
	resp, body := e.do(t, http.MethodGet, "/admin/onboarding", token(t, "user-1", false), nil)
	expectStatus(t, resp, body, http.StatusForbidden)
	if env := decode[errorResponse](t, body); env.Code != "FORBIDDEN" {
		t.Fatalf("unexpected code %q", env.Code)
	}
}

func TestOnboardingToGenerationFlow(t *testing.T) {
	e := newTestEnv(t, 10)
	pastor := token(t, "user-1", false)
	admin := token(t, "admin-1", true)

	resp, body := e.do(t, http.MethodPost, "/onboarding", pastor, map[string]any{"churchName": "Grace Chapel", "denomination": "Baptist"})
	expectStatus(t, resp, body, http.StatusCreated)
	req := decode[domain.OnboardingRequest](t, body)

	resp, body = e.do(t, http.MethodGet, "/admin/onboarding", admin, nil)
	expectStatus(t, resp, body, http.StatusOK)
	pending := decode[struct {
		Count int `json:"count"`
	}](t, body)
	if pending.Count != 1 {
		t.Fatalf("expected one pending request, got %d", pending.Count)
	}

	resp, body = e.do(t, http.MethodGet, "/admin/onboarding/"+req.ID, admin, nil)
	expectStatus(t, resp, body, http.StatusOK)
	detail := decode[onboardingDetailResponse](t, body)
	if detail.Defaults.Theology != "Baptist" || detail.Defaults.Slogan != "Welcome Home" {
		t.Fatalf("unexpected defaults: %+v", detail.Defaults)
	}

	resp, body = e.do(t, http.MethodPost, "/admin/onboarding/"+req.ID+"/activate", admin, map[string]any{"brandingJson": "{bad"})
	expectStatus(t, resp, body, http.StatusBadRequest)
	if env := decode[errorResponse](t, body); env.Code != "INVALID_BRANDING_JSON" {
		t.Fatalf("unexpected code %q", env.Code)
	}

	resp, body = e.do(t, http.MethodPost, "/admin/onboarding/"+req.ID+"/activate", admin, map[string]any{"theology": "Reformed"})
	expectStatus(t, resp, body, http.StatusCreated)
	churchID := decode[domain.Profile](t, body).ID

	resp, body = e.do(t, http.MethodPost, "/admin/onboarding/"+req.ID+"/activate", admin, map[string]any{})
	expectStatus(t, resp, body, http.StatusConflict)
	if env := decode[errorResponse](t, body); env.Code != "ONBOARDING_ALREADY_ACTIVE" {
		t.Fatalf("unexpected code %q", env.Code)
	}

	resp, body = e.do(t, http.MethodGet, "/churches/me", pastor, nil)
	expectStatus(t, resp, body, http.StatusOK)
	if got := decode[domain.Profile](t, body); got.ID != churchID || got.Name != "Grace Chapel" {
		t.Fatalf("unexpected church: %+v", got)
	}

	resp, body = e.do(t, http.MethodPost, "/sermons", pastor, map[string]any{"title": "Sunday", "transcript": "Grace upon grace."})
	expectStatus(t, resp, body, http.StatusCreated)
	sermon := decode[domain.SourceDocument](t, body)

	resp, body = e.do(t, http.MethodPost, "/sermons/"+sermon.ID+"/assets", pastor, map[string]any{"assetType": "email-recap"})
	expectStatus(t, resp, body, http.StatusAccepted)
	if got := decode[domain.GenerationRequest](t, body); got.Status != domain.GenerationProcessing || got.AssetType != domain.AssetEmailRecap {
		t.Fatalf("unexpected generation: %+v", got)
	}

	resp, body = e.do(t, http.MethodPost, "/sermons/"+sermon.ID+"/assets", pastor, map[string]any{"assetType": "email_recap"})
	expectStatus(t, resp, body, http.StatusConflict)
	if env := decode[errorResponse](t, body); env.Code != "ASSET_ALREADY_PROCESSING" {
		t.Fatalf("unexpected code %q", env.Code)
	}

	resp, body = e.do(t, http.MethodPost, "/sermons/"+sermon.ID+"/assets", pastor, map[string]any{"assetType": "podcast"})
	expectStatus(t, resp, body, http.StatusBadRequest)

	resp, body = e.do(t, http.MethodGet, "/sermons/"+sermon.ID+"/assets", pastor, nil)
	expectStatus(t, resp, body, http.StatusOK)
	list := decode[struct {
		Items []domain.GenerationRequest `json:"items"`
	}](t, body)
	if len(list.Items) != 1 {
		t.Fatalf("expected one generation request, got %+v", list.Items)
	}

	resp, body = e.do(t, http.MethodGet, "/sermons/"+sermon.ID, token(t, "user-2", false), nil)
	expectStatus(t, resp, body, http.StatusNotFound)
}

func TestActivationStatusUpdateFailure(t *testing.T) {
	e := newTestEnv(t, 10)
	pastor := token(t, "user-1", false)
	admin := token(t, "admin-1", true)

	resp, body := e.do(t, http.MethodPost, "/onboarding", pastor, map[string]any{"churchName": "Grace Chapel"})
	expectStatus(t, resp, body, http.StatusCreated)
	req := decode[domain.OnboardingRequest](t, body)

	e.store.updateErr = errors.New("connection reset")
	resp, body = e.do(t, http.MethodPost, "/admin/onboarding/"+req.ID+"/activate", admin, map[string]any{})
	expectStatus(t, resp, body, http.StatusInternalServerError)
	env := decode[errorResponse](t, body)
	if env.Code != "ONBOARDING_STATUS_UPDATE_FAILED" || env.ProfileID == "" {
		t.Fatalf("unexpected envelope: %+v", env)
	}
	if _, ok, _ := e.store.GetProfile(context.Background(), env.ProfileID); !ok {
		t.Fatalf("profile %s should exist", env.ProfileID)
	}
}

func TestGenerationRateLimit(t *testing.T) {
	e := newTestEnv(t, 1)
	pastor := token(t, "user-1", false)
	e.onboardAndActivate(t, pastor, token(t, "admin-1", true))

	resp, body := e.do(t, http.MethodPost, "/sermons", pastor, map[string]any{"title": "Sunday", "transcript": "Grace."})
	expectStatus(t, resp, body, http.StatusCreated)
	sermon := decode[domain.SourceDocument](t, body)

	resp, body = e.do(t, http.MethodPost, "/sermons/"+sermon.ID+"/assets", pastor, map[string]any{"assetType": "devotional"})
	expectStatus(t, resp, body, http.StatusAccepted)
	resp, body = e.do(t, http.MethodPost, "/sermons/"+sermon.ID+"/assets", pastor, map[string]any{"assetType": "small_group"})
	expectStatus(t, resp, body, http.StatusTooManyRequests)
	if resp.Header.Get("Retry-After") != "60" {
		t.Fatalf("expected Retry-After 60, got %q", resp.Header.Get("Retry-After"))
	}
}

func TestUploadSermonFile(t *testing.T) {
	e := newTestEnv(t, 10)
	pastor := token(t, "user-1", false)
	e.onboardAndActivate(t, pastor, token(t, "admin-1", true))

	upload := func(filename, content string) (*http.Response, []byte) {
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		part, err := mw.CreateFormFile("file", filename)
		if err != nil {
			t.Fatalf("create form file: %v", err)
		}
		_, _ = part.Write([]byte(content))
		_ = mw.Close()
		req, _ := http.NewRequest(http.MethodPost, e.srv.URL+"/sermons", &buf)
		req.Header.Set("Content-Type", mw.FormDataContentType())
		req.Header.Set("Authorization", "Bearer "+pastor)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("upload: %v", err)
		}
		defer resp.Body.Close()
		data, _ := io.ReadAll(resp.Body)
		return resp, data
	}

	resp, body := upload("Palm Sunday.md", "# Palm Sunday\n\nHosanna in the highest.")
	expectStatus(t, resp, body, http.StatusCreated)
	if doc := decode[domain.SourceDocument](t, body); doc.Title != "Palm Sunday" {
		t.Fatalf("unexpected title %q", doc.Title)
	}

	resp, body = upload("notes.docx", "x")
	expectStatus(t, resp, body, http.StatusBadRequest)
	if env := decode[errorResponse](t, body); env.Code != "UNSUPPORTED_FILE_TYPE" {
		t.Fatalf("unexpected code %q", env.Code)
	}
}

func TestNewRequiresRedis(t *testing.T) {
	core, err := app.New(app.Config{Store: store.NewMemoryStore(), Objects: storage.NewMemoryStore(), Dispatcher: nopDispatcher{}})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	verifier, err := usertoken.NewVerifier(usertoken.Config{Secret: testSecret})
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}
	if _, err := New(Config{App: core, TokenVerifier: verifier}); err == nil {
		t.Fatalf("expected limiter initialization to fail without redis")
	}
}
