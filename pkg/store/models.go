package store

import (
	"time"

	"gorm.io/datatypes"
)

// GORM models used for persistence. Table names follow the managed backend schema.
type OnboardingRequestModel struct {
	ID           string         `gorm:"primaryKey"`
	UserID       string         `gorm:"not null;index"`
	ChurchName   string         `gorm:"not null"`
	Website      string
	Denomination string
	SocialLinks  datatypes.JSON `gorm:"type:jsonb"`
	Status       string         `gorm:"not null;index"`
	CreatedAt    time.Time      `gorm:"not null;index"`
	UpdatedAt    time.Time      `gorm:"not null"`
}

func (OnboardingRequestModel) TableName() string { return "onboarding_requests" }

type ChurchModel struct {
	ID                  string         `gorm:"primaryKey"`
	RequestID           string         `gorm:"not null;uniqueIndex"`
	OwnerID             string         `gorm:"not null;index"`
	Name                string         `gorm:"not null"`
	DeepResearchProfile datatypes.JSON `gorm:"type:jsonb"`
	BrandingAssets      datatypes.JSON `gorm:"type:jsonb"`
	CreatedAt           time.Time      `gorm:"not null"`
}

func (ChurchModel) TableName() string { return "churches" }

type SermonModel struct {
	ID         string    `gorm:"primaryKey"`
	ChurchID   string    `gorm:"not null;index"`
	OwnerID    string    `gorm:"not null;index"`
	Title      string    `gorm:"not null"`
	Transcript string    `gorm:"type:text;not null"`
	CreatedAt  time.Time `gorm:"not null;index"`
}

func (SermonModel) TableName() string { return "sermons" }

type AssetModel struct {
	ID           string    `gorm:"primaryKey"`
	SermonID     string    `gorm:"not null;index"`
	Type         string    `gorm:"not null"`
	Status       string    `gorm:"not null;index"`
	ResultKey    string
	ErrorMessage string
	CreatedAt    time.Time `gorm:"not null;index"`
	UpdatedAt    time.Time `gorm:"not null"`
}

func (AssetModel) TableName() string { return "assets" }

// researchProfileDoc is the JSON shape stored in churches.deep_research_profile.
type researchProfileDoc struct {
	ChurchName     string   `json:"church_name"`
	Theology       string   `json:"theology"`
	VoiceTone      []string `json:"voice_tone"`
	InsiderLexicon []string `json:"insider_lexicon"`
	Slogan         string   `json:"slogan"`
}
