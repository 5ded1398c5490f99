package core

import (
	"strings"

	"github.com/google/uuid"
)

// CleanString trims all leading and trailing whitespace in `s` and optionally lowers it.
func CleanString(s string, lower ...bool) string {
	s = strings.TrimSpace(s)
	if len(lower) > 0 && lower[0] {
		return strings.ToLower(s)
	}
	return s
}

// NewID returns a new random entity ID.
func NewID() string {
	return uuid.New().String()
}

// IsValidID reports whether id looks like an entity ID.
func IsValidID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

// ContainsString reports whether s is in slice.
func ContainsString(slice []string, s string) bool {
	for _, v := range slice {
		if v == s {
			return true
		}
	}
	return false
}
