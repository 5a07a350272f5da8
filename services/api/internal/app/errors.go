package app

import "errors"

var (
	ErrForbidden          = errors.New("forbidden")
	ErrNotFound           = errors.New("not found")
	ErrChurchNotFound     = errors.New("no active church for user")
	ErrChurchNameRequired = errors.New("church name is required")
	ErrTitleRequired      = errors.New("title is required")
	ErrTranscriptRequired = errors.New("transcript is required")
	ErrDispatchFailed     = errors.New("generation dispatch failed")
)
