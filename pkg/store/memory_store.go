package store

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"sermonflow/pkg/domain"
)

// MemoryStore keeps everything in-process. Used by tests and local runs
// without a database.
type MemoryStore struct {
	mu          sync.RWMutex
	requests    map[string]domain.OnboardingRequest
	reqOrder    []string
	profiles    map[string]domain.Profile
	profOrder   []string
	byRequest   map[string]string // request ID -> profile ID
	documents   map[string]domain.SourceDocument
	docOrder    []string
	generations map[string]domain.GenerationRequest
	genOrder    []string
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		requests:    make(map[string]domain.OnboardingRequest),
		profiles:    make(map[string]domain.Profile),
		byRequest:   make(map[string]string),
		documents:   make(map[string]domain.SourceDocument),
		generations: make(map[string]domain.GenerationRequest),
	}
}

func (m *MemoryStore) InsertOnboardingRequest(_ context.Context, req domain.OnboardingRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.requests[req.ID]; exists {
		return fmt.Errorf("onboarding request %s already exists", req.ID)
	}
	req.SocialLinks = maps.Clone(req.SocialLinks)
	if req.SocialLinks == nil {
		req.SocialLinks = map[string]string{}
	}
	m.requests[req.ID] = req
	m.reqOrder = append(m.reqOrder, req.ID)
	return nil
}

func (m *MemoryStore) GetOnboardingRequest(_ context.Context, id string) (domain.OnboardingRequest, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	req, ok := m.requests[id]
	if !ok {
		return domain.OnboardingRequest{}, false, nil
	}
	req.SocialLinks = maps.Clone(req.SocialLinks)
	return req, true, nil
}

// ListOnboardingRequests returns requests in insertion order.
func (m *MemoryStore) ListOnboardingRequests(_ context.Context, status domain.OnboardingStatus) ([]domain.OnboardingRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.OnboardingRequest, 0, len(m.reqOrder))
	for _, id := range m.reqOrder {
		req := m.requests[id]
		if status != "" && req.Status != status {
			continue
		}
		req.SocialLinks = maps.Clone(req.SocialLinks)
		res = append(res, req)
	}
	return res, nil
}

func (m *MemoryStore) UpdateOnboardingStatus(_ context.Context, id string, status domain.OnboardingStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.requests[id]
	if !ok {
		return ErrNotFound
	}
	req.Status = status
	req.UpdatedAt = time.Now().UTC()
	m.requests[id] = req
	return nil
}

func (m *MemoryStore) InsertProfile(_ context.Context, profile domain.Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.byRequest[profile.RequestID]; exists {
		return ErrProfileExists
	}
	if _, exists := m.profiles[profile.ID]; exists {
		return fmt.Errorf("profile %s already exists", profile.ID)
	}
	m.profiles[profile.ID] = cloneProfile(profile)
	m.byRequest[profile.RequestID] = profile.ID
	m.profOrder = append(m.profOrder, profile.ID)
	return nil
}

func (m *MemoryStore) GetProfile(_ context.Context, id string) (domain.Profile, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.profiles[id]
	if !ok {
		return domain.Profile{}, false, nil
	}
	return cloneProfile(p), true, nil
}

func (m *MemoryStore) GetProfileByOwner(_ context.Context, ownerID string) (domain.Profile, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, id := range m.profOrder {
		if p := m.profiles[id]; p.OwnerID == ownerID {
			return cloneProfile(p), true, nil
		}
	}
	return domain.Profile{}, false, nil
}

func (m *MemoryStore) SaveSourceDocument(_ context.Context, doc domain.SourceDocument) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.documents[doc.ID]; !exists {
		m.docOrder = append(m.docOrder, doc.ID)
	}
	m.documents[doc.ID] = doc
	return nil
}

func (m *MemoryStore) GetSourceDocument(_ context.Context, id string) (domain.SourceDocument, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.documents[id]
	return doc, ok, nil
}

// ListSourceDocuments returns a church's sermons, newest first.
func (m *MemoryStore) ListSourceDocuments(_ context.Context, profileID string) ([]domain.SourceDocument, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.SourceDocument, 0)
	for i := len(m.docOrder) - 1; i >= 0; i-- {
		if doc := m.documents[m.docOrder[i]]; doc.ProfileID == profileID {
			res = append(res, doc)
		}
	}
	slices.SortStableFunc(res, func(a, b domain.SourceDocument) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return res, nil
}

// InsertGenerationRequestIfAbsent checks and inserts under one write lock.
func (m *MemoryStore) InsertGenerationRequestIfAbsent(_ context.Context, req domain.GenerationRequest) error {
	if req.Status != domain.GenerationProcessing {
		return fmt.Errorf("new generation request must be processing, got %q", req.Status)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.generations {
		if existing.SourceDocumentID == req.SourceDocumentID &&
			existing.AssetType == req.AssetType &&
			existing.Status == domain.GenerationProcessing {
			return domain.ErrAlreadyProcessing
		}
	}
	if _, exists := m.generations[req.ID]; exists {
		return fmt.Errorf("generation request %s already exists", req.ID)
	}
	m.generations[req.ID] = req
	m.genOrder = append(m.genOrder, req.ID)
	return nil
}

func (m *MemoryStore) GetGenerationRequest(_ context.Context, id string) (domain.GenerationRequest, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, ok := m.generations[id]
	return g, ok, nil
}

// ListGenerationRequests returns a sermon's requests, newest first.
func (m *MemoryStore) ListGenerationRequests(_ context.Context, sourceDocumentID string) ([]domain.GenerationRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.GenerationRequest, 0)
	for i := len(m.genOrder) - 1; i >= 0; i-- {
		if g := m.generations[m.genOrder[i]]; g.SourceDocumentID == sourceDocumentID {
			res = append(res, g)
		}
	}
	slices.SortStableFunc(res, func(a, b domain.GenerationRequest) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return res, nil
}

func (m *MemoryStore) CompleteGenerationRequest(_ context.Context, id, resultKey string) error {
	return m.finishGeneration(id, func(g *domain.GenerationRequest) {
		g.Status = domain.GenerationCompleted
		g.ResultKey = resultKey
		g.ErrorMessage = ""
	})
}

func (m *MemoryStore) FailGenerationRequest(_ context.Context, id, errMsg string) error {
	return m.finishGeneration(id, func(g *domain.GenerationRequest) {
		g.Status = domain.GenerationFailed
		g.ErrorMessage = errMsg
	})
}

func (m *MemoryStore) finishGeneration(id string, apply func(*domain.GenerationRequest)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.generations[id]
	if !ok {
		return ErrNotFound
	}
	if g.Status != domain.GenerationProcessing {
		return ErrNotProcessing
	}
	apply(&g)
	g.UpdatedAt = time.Now().UTC()
	m.generations[id] = g
	return nil
}

func cloneProfile(p domain.Profile) domain.Profile {
	p.Research.VoiceTone = slices.Clone(p.Research.VoiceTone)
	p.Research.InsiderLexicon = slices.Clone(p.Research.InsiderLexicon)
	p.BrandingAssets = json.RawMessage(slices.Clone([]byte(p.BrandingAssets)))
	return p
}
