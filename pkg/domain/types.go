package domain

import (
	"encoding/json"
	"time"
)

type OnboardingStatus string

const (
	OnboardingPending OnboardingStatus = "pending_research"
	OnboardingActive  OnboardingStatus = "active"
)

type GenerationStatus string

const (
	GenerationProcessing GenerationStatus = "processing"
	GenerationCompleted  GenerationStatus = "completed"
	GenerationFailed     GenerationStatus = "failed"
)

// Terminal reports whether no further transition can happen.
func (s GenerationStatus) Terminal() bool {
	return s == GenerationCompleted || s == GenerationFailed
}

type UserRole string

const (
	RoleUser  UserRole = "user"
	RoleAdmin UserRole = "admin"
)

// User is the authenticated caller. It is passed explicitly into every operation.
type User struct {
	ID    string   `json:"id"`
	Email string   `json:"email,omitempty"`
	Role  UserRole `json:"role"`
}

type OnboardingRequest struct {
	ID           string            `json:"id"`
	UserID       string            `json:"userId"`
	ChurchName   string            `json:"churchName"`
	Website      string            `json:"website"`
	Denomination string            `json:"denomination"`
	SocialLinks  map[string]string `json:"socialLinks"`
	Status       OnboardingStatus  `json:"status"`
	CreatedAt    time.Time         `json:"createdAt"`
	UpdatedAt    time.Time         `json:"updatedAt"`
}

// ResearchProfile is the operator-supplied voice of a church.
// InsiderLexicon holds unique terms in first-seen order.
type ResearchProfile struct {
	Theology       string   `json:"theology"`
	VoiceTone      []string `json:"voiceTone"`
	InsiderLexicon []string `json:"insiderLexicon"`
	Slogan         string   `json:"slogan"`
}

// Profile is an activated church account.
type Profile struct {
	ID             string          `json:"id"`
	RequestID      string          `json:"requestId"`
	OwnerID        string          `json:"ownerId"`
	Name           string          `json:"name"`
	Research       ResearchProfile `json:"researchProfile"`
	BrandingAssets json.RawMessage `json:"brandingAssets"`
	CreatedAt      time.Time       `json:"createdAt"`
}

// SourceDocument is a sermon transcript owned by a church.
type SourceDocument struct {
	ID         string    `json:"id"`
	ProfileID  string    `json:"profileId"`
	OwnerID    string    `json:"ownerId"`
	Title      string    `json:"title"`
	Transcript string    `json:"transcript"`
	CreatedAt  time.Time `json:"createdAt"`
}

// GenerationRequest is one asynchronous request for a derived document.
type GenerationRequest struct {
	ID               string           `json:"id"`
	SourceDocumentID string           `json:"sourceDocumentId"`
	AssetType        AssetType        `json:"assetType"`
	Status           GenerationStatus `json:"status"`
	ResultKey        string           `json:"-"`
	ResultURI        string           `json:"resultUri,omitempty"`
	ErrorMessage     string           `json:"errorMessage,omitempty"`
	CreatedAt        time.Time        `json:"createdAt"`
	UpdatedAt        time.Time        `json:"updatedAt"`
}
