// Package apiclient talks to the SermonFlow HTTP API on behalf of a signed-in user.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"sermonflow/pkg/activation"
	"sermonflow/pkg/domain"
	"sermonflow/pkg/intake"
)

// APIError is a non-2xx response decoded from the API's error envelope.
type APIError struct {
	Status    int
	Code      string
	Message   string
	RequestID string
	ProfileID string
}

func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.Status)
	}
	if e.Code != "" {
		msg = e.Code + ": " + msg
	}
	if e.RequestID != "" {
		return fmt.Sprintf("api error %d (%s) request_id=%s", e.Status, msg, e.RequestID)
	}
	return fmt.Sprintf("api error %d (%s)", e.Status, msg)
}

// Is lets callers match API conflicts against the domain sentinel.
func (e *APIError) Is(target error) bool {
	return target == domain.ErrAlreadyProcessing && e.Code == "ASSET_ALREADY_PROCESSING"
}

// Client is safe for concurrent use.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// New returns a client for baseURL that authenticates with a bearer token.
func New(baseURL, token string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("api base url required")
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("invalid api base url: %w", err)
	}
	c := &Client{
		baseURL:    baseURL,
		token:      strings.TrimSpace(token),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type listResponse[T any] struct {
	Items []T `json:"items"`
	Count int `json:"count"`
}

// AssetType is an entry from the asset catalogue.
type AssetType struct {
	ID    domain.AssetType `json:"id"`
	Label string           `json:"label"`
}

// OnboardingDetail is a pending request with its pre-filled activation form.
type OnboardingDetail struct {
	Request  domain.OnboardingRequest `json:"request"`
	Defaults activation.FormDefaults  `json:"defaults"`
}

func (c *Client) AssetTypes(ctx context.Context) ([]AssetType, error) {
	var out listResponse[AssetType]
	if err := c.do(ctx, http.MethodGet, "/asset-types", nil, &out); err != nil {
		return nil, err
	}
	return out.Items, nil
}

// SubmitOnboarding satisfies intake.Submitter through SubmitterFunc.
func (c *Client) SubmitOnboarding(ctx context.Context, rec intake.Record) (domain.OnboardingRequest, error) {
	var out domain.OnboardingRequest
	err := c.do(ctx, http.MethodPost, "/onboarding", rec, &out)
	return out, err
}

func (c *Client) MyChurch(ctx context.Context) (domain.Profile, error) {
	var out domain.Profile
	err := c.do(ctx, http.MethodGet, "/churches/me", nil, &out)
	return out, err
}

func (c *Client) ListPendingOnboarding(ctx context.Context) ([]domain.OnboardingRequest, error) {
	var out listResponse[domain.OnboardingRequest]
	if err := c.do(ctx, http.MethodGet, "/admin/onboarding", nil, &out); err != nil {
		return nil, err
	}
	return out.Items, nil
}

func (c *Client) OnboardingDetail(ctx context.Context, requestID string) (OnboardingDetail, error) {
	var out OnboardingDetail
	err := c.do(ctx, http.MethodGet, "/admin/onboarding/"+url.PathEscape(requestID), nil, &out)
	return out, err
}

func (c *Client) Activate(ctx context.Context, in activation.Input) (domain.Profile, error) {
	var out domain.Profile
	err := c.do(ctx, http.MethodPost, "/admin/onboarding/"+url.PathEscape(in.RequestID)+"/activate", in, &out)
	return out, err
}

func (c *Client) CreateSermon(ctx context.Context, title, transcript string) (domain.SourceDocument, error) {
	var out domain.SourceDocument
	body := map[string]string{"title": title, "transcript": transcript}
	err := c.do(ctx, http.MethodPost, "/sermons", body, &out)
	return out, err
}

// UploadSermon sends a transcript file as multipart form data.
func (c *Client) UploadSermon(ctx context.Context, title, filename string, r io.Reader) (domain.SourceDocument, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if title != "" {
		if err := mw.WriteField("title", title); err != nil {
			return domain.SourceDocument{}, err
		}
	}
	part, err := mw.CreateFormFile("file", filepath.Base(filename))
	if err != nil {
		return domain.SourceDocument{}, err
	}
	if _, err := io.Copy(part, r); err != nil {
		return domain.SourceDocument{}, err
	}
	if err := mw.Close(); err != nil {
		return domain.SourceDocument{}, err
	}
	req, err := c.newRequest(ctx, http.MethodPost, "/sermons", &buf)
	if err != nil {
		return domain.SourceDocument{}, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	var out domain.SourceDocument
	err = c.send(req, &out)
	return out, err
}

func (c *Client) ListSermons(ctx context.Context) ([]domain.SourceDocument, error) {
	var out listResponse[domain.SourceDocument]
	if err := c.do(ctx, http.MethodGet, "/sermons", nil, &out); err != nil {
		return nil, err
	}
	return out.Items, nil
}

func (c *Client) GetSermon(ctx context.Context, id string) (domain.SourceDocument, error) {
	var out domain.SourceDocument
	err := c.do(ctx, http.MethodGet, "/sermons/"+url.PathEscape(id), nil, &out)
	return out, err
}

// RequestGeneration asks the API for one asset. A conflict matches
// domain.ErrAlreadyProcessing under errors.Is.
func (c *Client) RequestGeneration(ctx context.Context, sourceDocumentID string, assetType domain.AssetType) (domain.GenerationRequest, error) {
	var out domain.GenerationRequest
	body := map[string]string{"assetType": string(assetType)}
	err := c.do(ctx, http.MethodPost, "/sermons/"+url.PathEscape(sourceDocumentID)+"/assets", body, &out)
	return out, err
}

// ListGenerationRequests returns every request for the sermon, newest first.
func (c *Client) ListGenerationRequests(ctx context.Context, sourceDocumentID string) ([]domain.GenerationRequest, error) {
	var out listResponse[domain.GenerationRequest]
	if err := c.do(ctx, http.MethodGet, "/sermons/"+url.PathEscape(sourceDocumentID)+"/assets", nil, &out); err != nil {
		return nil, err
	}
	return out.Items, nil
}

func (c *Client) do(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.send(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

func (c *Client) send(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s response: %w", req.Method, req.URL.Path, err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	var envelope struct {
		Error     string `json:"error"`
		Code      string `json:"code"`
		RequestID string `json:"requestId"`
		ProfileID string `json:"profileId"`
	}
	_ = json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&envelope)
	requestID := envelope.RequestID
	if requestID == "" {
		requestID = resp.Header.Get("X-Request-Id")
	}
	return &APIError{
		Status:    resp.StatusCode,
		Code:      envelope.Code,
		Message:   envelope.Error,
		RequestID: requestID,
		ProfileID: envelope.ProfileID,
	}
}
