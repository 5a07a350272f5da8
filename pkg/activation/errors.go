package activation

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidBrandingJSON   = errors.New("invalid branding json")
	ErrRequestNotFound       = errors.New("onboarding request not found")
	ErrRequestAlreadyActive  = errors.New("onboarding request already active")
	ErrProfileCreationFailed = errors.New("profile creation failed")
	ErrStatusUpdateFailed    = errors.New("onboarding status update failed")
)

// StatusUpdateError reports that the profile was created but the request
// status could not be set to active. The pair needs manual reconciliation.
type StatusUpdateError struct {
	RequestID string
	ProfileID string
	Err       error
}

func (e *StatusUpdateError) Error() string {
	return fmt.Sprintf("profile %s created but request %s not marked active: %v", e.ProfileID, e.RequestID, e.Err)
}

func (e *StatusUpdateError) Unwrap() []error {
	return []error{ErrStatusUpdateFailed, e.Err}
}
