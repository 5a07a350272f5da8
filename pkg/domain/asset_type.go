package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrAlreadyProcessing is returned when a generation for the same sermon and
	// asset type is still in flight.
	ErrAlreadyProcessing = errors.New("generation already processing")
	ErrUnknownAssetType  = errors.New("unknown asset type")
)

type AssetType string

const (
	AssetEmailRecap       AssetType = "email_recap"
	AssetDevotional       AssetType = "devotional"
	AssetSmallGroup       AssetType = "small_group"
	AssetFamilyDiscussion AssetType = "family_discussion"
	AssetGuestFollowUp    AssetType = "guest_follow_up"
	AssetServiceHost      AssetType = "service_host"
)

var assetLabels = map[AssetType]string{
	AssetEmailRecap:       "Email Recap",
	AssetDevotional:       "5-Day Devo",
	AssetSmallGroup:       "Small Group",
	AssetFamilyDiscussion: "Family Guide",
	AssetGuestFollowUp:    "Guest Follow-up",
	AssetServiceHost:      "Host Script",
}

// AssetTypes returns the catalog in display order.
func AssetTypes() []AssetType {
	return []AssetType{
		AssetEmailRecap,
		AssetDevotional,
		AssetSmallGroup,
		AssetFamilyDiscussion,
		AssetGuestFollowUp,
		AssetServiceHost,
	}
}

// Label returns the human readable name.
func (t AssetType) Label() string {
	if label, ok := assetLabels[t]; ok {
		return label
	}
	return string(t)
}

func (t AssetType) Valid() bool {
	_, ok := assetLabels[t]
	return ok
}

// ParseAssetType accepts the canonical id, case-insensitive, with dashes or underscores.
func ParseAssetType(raw string) (AssetType, error) {
	normalized := strings.ToLower(strings.TrimSpace(raw))
	normalized = strings.ReplaceAll(normalized, "-", "_")
	t := AssetType(normalized)
	if !t.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownAssetType, raw)
	}
	return t, nil
}
