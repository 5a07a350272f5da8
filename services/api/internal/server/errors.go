package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"sermonflow/internal/util"
	"sermonflow/pkg/activation"
	"sermonflow/pkg/domain"
	"sermonflow/pkg/transcript"
	"sermonflow/services/api/internal/app"
)

// errorResponse is the body of every non-2xx response.
type errorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"requestId,omitempty"`
	ProfileID string `json:"profileId,omitempty"`
}

type errorMapping struct {
	target error
	status int
	code   string
}

// first match wins
var errorMappings = []errorMapping{
	{activation.ErrInvalidBrandingJSON, http.StatusBadRequest, "INVALID_BRANDING_JSON"},
	{domain.ErrUnknownAssetType, http.StatusBadRequest, "UNKNOWN_ASSET_TYPE"},
	{app.ErrTitleRequired, http.StatusBadRequest, "TITLE_REQUIRED"},
	{app.ErrTranscriptRequired, http.StatusBadRequest, "TRANSCRIPT_REQUIRED"},
	{app.ErrChurchNameRequired, http.StatusBadRequest, "CHURCH_NAME_REQUIRED"},
	{transcript.ErrUnsupportedFormat, http.StatusBadRequest, "UNSUPPORTED_FILE_TYPE"},
	{app.ErrForbidden, http.StatusForbidden, "FORBIDDEN"},
	{app.ErrNotFound, http.StatusNotFound, "NOT_FOUND"},
	{app.ErrChurchNotFound, http.StatusNotFound, "CHURCH_NOT_FOUND"},
	{activation.ErrRequestNotFound, http.StatusNotFound, "ONBOARDING_NOT_FOUND"},
	{domain.ErrAlreadyProcessing, http.StatusConflict, "ASSET_ALREADY_PROCESSING"},
	{activation.ErrRequestAlreadyActive, http.StatusConflict, "ONBOARDING_ALREADY_ACTIVE"},
	{app.ErrDispatchFailed, http.StatusServiceUnavailable, "DISPATCH_FAILED"},
}

func writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	var statusErr *activation.StatusUpdateError
	if errors.As(err, &statusErr) {
		writeJSON(w, http.StatusInternalServerError, errorResponse{
			Error:     "church profile created but onboarding status not updated",
			Code:      "ONBOARDING_STATUS_UPDATE_FAILED",
			RequestID: util.RequestIDFromContext(r.Context()),
			ProfileID: statusErr.ProfileID,
		})
		return
	}
	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			writeError(w, r, m.status, m.code, m.target.Error())
			return
		}
	}
	util.LoggerFromContext(r.Context()).Error("request failed", "err", err)
	writeError(w, r, http.StatusInternalServerError, "INTERNAL", "internal error")
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, msg string) {
	writeJSON(w, status, errorResponse{
		Error:     msg,
		Code:      code,
		RequestID: util.RequestIDFromContext(r.Context()),
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
