package models

import (
	"strings"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// UserID is the canonical user identifier exchanged across the API,
// stored on author snapshots, likes, shares and follow sets.
type UserID string

// NewID returns a fresh 24-character hex identifier.
func NewID() string {
	return primitive.NewObjectID().Hex()
}

// NewUserID returns a fresh user identifier.
func NewUserID() UserID {
	return UserID(NewID())
}

// IsNativeID reports whether s has the store's native id format.
func IsNativeID(s string) bool {
	return len(s) == 24 && primitive.IsValidObjectID(s)
}

// NormalizeID trims surrounding space and lower-cases native ids.
// Anything else is returned trimmed but otherwise untouched.
func NormalizeID(raw string) string {
	s := strings.TrimSpace(raw)
	if IsNativeID(s) {
		return strings.ToLower(s)
	}
	return s
}

// NormalizeUserID applies NormalizeID to an untrusted user reference.
func NormalizeUserID(raw string) UserID {
	return UserID(NormalizeID(raw))
}

func (id UserID) String() string { return string(id) }

// IsNative reports whether the id can be used for a primary-key lookup.
func (id UserID) IsNative() bool { return IsNativeID(string(id)) }

func (id UserID) IsZero() bool { return id == "" }

// UserIDs converts a slice of strings into user ids.
func UserIDs(raw []string) []UserID {
	out := make([]UserID, 0, len(raw))
	for _, r := range raw {
		out = append(out, UserID(r))
	}
	return out
}
