package util

import "github.com/google/uuid"

// NewID returns a random UUID string, matching the ids issued by the managed backend.
func NewID() string {
	return uuid.NewString()
}
