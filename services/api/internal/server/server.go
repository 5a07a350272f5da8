package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"sermonflow/internal/ratelimit"
	"sermonflow/internal/usertoken"
	"sermonflow/internal/util"
	"sermonflow/pkg/activation"
	"sermonflow/pkg/domain"
	"sermonflow/pkg/intake"
	"sermonflow/pkg/transcript"
	"sermonflow/services/api/internal/app"
)

// TokenVerifier resolves a bearer token to the calling identity.
type TokenVerifier interface {
	Verify(token string) (usertoken.Identity, error)
}

// Config wires required dependencies for the HTTP server.
type Config struct {
	App                          *app.App
	TokenVerifier                TokenVerifier
	Redis                        redis.UniversalClient
	GenerateRateLimitPerMinute   int
	OnboardingRateLimitPerMinute int
	MaxUploadBytes               int64
	AllowedOrigins               []string
}

// Server exposes HTTP endpoints for the backend.
type Server struct {
	app               *app.App
	tokenVerifier     TokenVerifier
	mux               *http.ServeMux
	maxUploadBytes    int64
	allowedOrigins    []string
	allowedExtensions map[string]struct{}
	generateLimiter   *ratelimit.FixedWindowLimiter
	onboardingLimiter *ratelimit.FixedWindowLimiter
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	if cfg.App == nil {
		return nil, errors.New("app required")
	}
	if cfg.TokenVerifier == nil {
		return nil, errors.New("token verifier required")
	}
	generateLimit := cfg.GenerateRateLimitPerMinute
	if generateLimit <= 0 {
		generateLimit = 20
	}
	onboardingLimit := cfg.OnboardingRateLimitPerMinute
	if onboardingLimit <= 0 {
		onboardingLimit = 5
	}
	newLimiter := func(name string, limit int) (*ratelimit.FixedWindowLimiter, error) {
		limiter, err := ratelimit.NewFixedWindowLimiter(cfg.Redis, "sermonflow:api:ratelimit:"+name, limit, time.Minute)
		if err != nil {
			return nil, fmt.Errorf("init %s limiter: %w", name, err)
		}
		return limiter, nil
	}
	generateLimiter, err := newLimiter("generate", generateLimit)
	if err != nil {
		return nil, err
	}
	onboardingLimiter, err := newLimiter("onboarding", onboardingLimit)
	if err != nil {
		return nil, err
	}

	s := &Server{
		app:               cfg.App,
		tokenVerifier:     cfg.TokenVerifier,
		mux:               http.NewServeMux(),
		maxUploadBytes:    normalizeMaxBytes(cfg.MaxUploadBytes),
		allowedOrigins:    cfg.AllowedOrigins,
		allowedExtensions: normalizeExtensions(transcript.SupportedExtensions()),
		generateLimiter:   generateLimiter,
		onboardingLimiter: onboardingLimiter,
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog(util.WithSecurityHeaders(util.WithCORS(s.allowedOrigins, s.mux))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)
	s.mux.HandleFunc("/asset-types", s.handleAssetTypes)

	s.mux.Handle("/onboarding", s.authenticated(s.handleOnboarding))
	s.mux.Handle("/churches/me", s.authenticated(s.handleMyChurch))

	s.mux.Handle("/sermons", s.authenticated(s.handleSermons))
	s.mux.Handle("/sermons/{id}", s.authenticated(s.handleSermonByID))
	s.mux.Handle("/sermons/{id}/assets", s.authenticated(s.handleSermonAssets))

	// admin
	s.mux.Handle("/admin/onboarding", s.adminOnly(s.handleAdminOnboarding))
	s.mux.Handle("/admin/onboarding/{id}", s.adminOnly(s.handleAdminOnboardingByID))
	s.mux.Handle("/admin/onboarding/{id}/activate", s.adminOnly(s.handleAdminActivate))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type assetTypeResponse struct {
	ID    domain.AssetType `json:"id"`
	Label string           `json:"label"`
}

func (s *Server) handleAssetTypes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r)
		return
	}
	types := domain.AssetTypes()
	items := make([]assetTypeResponse, 0, len(types))
	for _, t := range types {
		items = append(items, assetTypeResponse{ID: t, Label: t.Label()})
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "count": len(items)})
}

// auth wrappers
type authHandler func(http.ResponseWriter, *http.Request, domain.User)

func (s *Server) authenticated(next authHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := s.authorize(r)
		if !ok {
			writeError(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "unauthorized")
			return
		}
		next(w, r, user)
	})
}

func (s *Server) adminOnly(next authHandler) http.Handler {
	return s.authenticated(func(w http.ResponseWriter, r *http.Request, user domain.User) {
		if user.Role != domain.RoleAdmin {
			s.audit(r, "api.admin.authorize", "fail", "user_id", user.ID, "reason", "forbidden")
			writeError(w, r, http.StatusForbidden, "FORBIDDEN", "forbidden")
			return
		}
		s.audit(r, "api.admin.authorize", "success", "user_id", user.ID)
		next(w, r, user)
	})
}

func (s *Server) authorize(r *http.Request) (domain.User, bool) {
	token, ok := bearerToken(r)
	if !ok {
		s.audit(r, "api.token.verify", "fail", "reason", "missing_token")
		return domain.User{}, false
	}
	id, err := s.tokenVerifier.Verify(token)
	if err != nil {
		s.audit(r, "api.token.verify", "fail", "reason", "invalid_signature_or_claims")
		return domain.User{}, false
	}
	return id.User(), true
}

// /onboarding
func (s *Server) handleOnboarding(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r)
		return
	}
	if !s.allowRate(w, r, s.onboardingLimiter, "onboarding:"+user.ID, "too many onboarding submissions") {
		return
	}
	var rec intake.Record
	if !decodeJSON(w, r, &rec) {
		return
	}
	req, err := s.app.SubmitOnboarding(r.Context(), user, rec)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, req)
}

// /churches/me
func (s *Server) handleMyChurch(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r)
		return
	}
	church, err := s.app.ChurchForUser(r.Context(), user)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, church)
}

type createSermonRequest struct {
	Title      string `json:"title"`
	Transcript string `json:"transcript"`
}

// /sermons
func (s *Server) handleSermons(w http.ResponseWriter, r *http.Request, user domain.User) {
	switch r.Method {
	case http.MethodGet:
		sermons, err := s.app.ListSermons(r.Context(), user)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": sermons, "count": len(sermons)})
	case http.MethodPost:
		if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
			s.handleUploadSermon(w, r, user)
			return
		}
		var req createSermonRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		doc, err := s.app.CreateSermon(r.Context(), user, req.Title, req.Transcript)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, doc)
	default:
		methodNotAllowed(w, r)
	}
}

func (s *Server) handleUploadSermon(w http.ResponseWriter, r *http.Request, user domain.User) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_FORM", "invalid form data")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "FILE_REQUIRED", "file is required (field: file)")
		return
	}
	defer file.Close()
	if !s.isExtensionAllowed(header.Filename) {
		writeError(w, r, http.StatusBadRequest, "UNSUPPORTED_FILE_TYPE", "unsupported file type")
		return
	}
	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_FORM", "read upload failed")
		return
	}
	doc, err := s.app.CreateSermonFromFile(r.Context(), user, r.FormValue("title"), header.Filename, data)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, doc)
}

// /sermons/{id}
func (s *Server) handleSermonByID(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r)
		return
	}
	doc, err := s.app.GetSermon(r.Context(), user, r.PathValue("id"))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

type generateRequest struct {
	AssetType string `json:"assetType"`
}

// /sermons/{id}/assets
func (s *Server) handleSermonAssets(w http.ResponseWriter, r *http.Request, user domain.User) {
	sermonID := r.PathValue("id")
	switch r.Method {
	case http.MethodGet:
		reqs, err := s.app.ListGenerationRequests(r.Context(), user, sermonID)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": reqs, "count": len(reqs)})
	case http.MethodPost:
		if !s.allowRate(w, r, s.generateLimiter, "generate:"+user.ID, "too many generation requests") {
			return
		}
		var body generateRequest
		if !decodeJSON(w, r, &body) {
			return
		}
		assetType, err := domain.ParseAssetType(body.AssetType)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		req, err := s.app.RequestGeneration(r.Context(), user, sermonID, assetType)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusAccepted, req)
	default:
		methodNotAllowed(w, r)
	}
}

// admin handlers
func (s *Server) handleAdminOnboarding(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r)
		return
	}
	reqs, err := s.app.ListPendingOnboarding(r.Context(), user)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": reqs, "count": len(reqs)})
}

type onboardingDetailResponse struct {
	Request  domain.OnboardingRequest `json:"request"`
	Defaults activation.FormDefaults  `json:"defaults"`
}

func (s *Server) handleAdminOnboardingByID(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r)
		return
	}
	req, defaults, err := s.app.OnboardingDetail(r.Context(), user, r.PathValue("id"))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, onboardingDetailResponse{Request: req, Defaults: defaults})
}

func (s *Server) handleAdminActivate(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r)
		return
	}
	var in activation.Input
	if !decodeJSON(w, r, &in) {
		return
	}
	in.RequestID = r.PathValue("id")
	profile, err := s.app.Activate(r.Context(), user, in)
	if err != nil {
		s.audit(r, "api.onboarding.activate", "fail", "user_id", user.ID, "request_id", in.RequestID, "reason", err.Error())
		writeAppError(w, r, err)
		return
	}
	s.audit(r, "api.onboarding.activate", "success", "user_id", user.ID, "request_id", in.RequestID, "profile_id", profile.ID)
	writeJSON(w, http.StatusCreated, profile)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeError(w, r, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(dst); err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_JSON", "invalid JSON body")
		return false
	}
	return true
}

func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		return "", false
	}
	return token, true
}

func normalizeMaxBytes(value int64) int64 {
	if value <= 0 {
		return 20 * 1024 * 1024
	}
	return value
}

func normalizeExtensions(exts []string) map[string]struct{} {
	out := make(map[string]struct{}, len(exts))
	for _, ext := range exts {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		out[ext] = struct{}{}
	}
	return out
}

func (s *Server) isExtensionAllowed(filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	_, ok := s.allowedExtensions[ext]
	return ok
}

func (s *Server) audit(r *http.Request, event, outcome string, attrs ...any) {
	logAttrs := []any{
		"event", event,
		"outcome", outcome,
		"path", r.URL.Path,
		"method", r.Method,
		"ip", clientIP(r),
	}
	logAttrs = append(logAttrs, attrs...)
	logger := util.LoggerFromContext(r.Context())
	if outcome == "success" {
		logger.Info("security_event", logAttrs...)
		return
	}
	logger.Warn("security_event", logAttrs...)
}

func (s *Server) allowRate(w http.ResponseWriter, r *http.Request, limiter *ratelimit.FixedWindowLimiter, key, msg string) bool {
	if limiter.AllowContext(r.Context(), key) {
		return true
	}
	s.audit(r, "api.ratelimit", "rate_limited", "key", key)
	w.Header().Set("Retry-After", strconv.Itoa(int(limiter.Window().Seconds())))
	writeError(w, r, http.StatusTooManyRequests, "RATE_LIMITED", msg)
	return false
}

func clientIP(r *http.Request) string {
	if xfwd := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); xfwd != "" {
		if ip := strings.TrimSpace(strings.Split(xfwd, ",")[0]); ip != "" {
			return ip
		}
	}
	if realIP := strings.TrimSpace(r.Header.Get("X-Real-IP")); realIP != "" {
		return realIP
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil && host != "" {
		return host
	}
	return strings.TrimSpace(r.RemoteAddr)
}
