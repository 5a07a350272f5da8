package store

import (
	"context"
	"errors"

	"sermonflow/pkg/domain"
)

var (
	// ErrNotFound is returned by updates that matched no row.
	ErrNotFound = errors.New("record not found")
	// ErrProfileExists is returned when a profile already exists for the onboarding request.
	ErrProfileExists = errors.New("profile already exists for request")
	// ErrNotProcessing is returned when a terminal generation request is asked to transition again.
	ErrNotProcessing = errors.New("generation request is not processing")
)

// Store defines persistence for onboarding, churches, sermons, and generation requests.
type Store interface {
	// onboarding requests
	InsertOnboardingRequest(ctx context.Context, req domain.OnboardingRequest) error
	GetOnboardingRequest(ctx context.Context, id string) (domain.OnboardingRequest, bool, error)
	ListOnboardingRequests(ctx context.Context, status domain.OnboardingStatus) ([]domain.OnboardingRequest, error)
	UpdateOnboardingStatus(ctx context.Context, id string, status domain.OnboardingStatus) error

	// profiles
	// InsertProfile fails with ErrProfileExists when the request already has a profile.
	InsertProfile(ctx context.Context, profile domain.Profile) error
	GetProfile(ctx context.Context, id string) (domain.Profile, bool, error)
	GetProfileByOwner(ctx context.Context, ownerID string) (domain.Profile, bool, error)

	// sermons
	SaveSourceDocument(ctx context.Context, doc domain.SourceDocument) error
	GetSourceDocument(ctx context.Context, id string) (domain.SourceDocument, bool, error)
	ListSourceDocuments(ctx context.Context, profileID string) ([]domain.SourceDocument, error)

	// generation requests
	// InsertGenerationRequestIfAbsent inserts a processing row unless one already
	// exists for the same sermon and asset type, in which case it returns
	// domain.ErrAlreadyProcessing. The check and insert are a single atomic write.
	InsertGenerationRequestIfAbsent(ctx context.Context, req domain.GenerationRequest) error
	GetGenerationRequest(ctx context.Context, id string) (domain.GenerationRequest, bool, error)
	// ListGenerationRequests returns every request for the sermon, newest first.
	ListGenerationRequests(ctx context.Context, sourceDocumentID string) ([]domain.GenerationRequest, error)
	CompleteGenerationRequest(ctx context.Context, id, resultKey string) error
	FailGenerationRequest(ctx context.Context, id, errMsg string) error
}
