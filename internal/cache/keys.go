package cache

import (
	"fmt"
	"strings"
	"time"

	"projecthub/internal/models"
)

const (
	UserKeyPrefix      = "user:%s"
	MentorDirectoryKey = "directory:mentors:%s"
	BlacklistKeyPrefix = "blacklist:%s"
)

const (
	UserTTL            = 5 * time.Minute
	MentorDirectoryTTL = 2 * time.Minute
)

// UserKey is the cache key for a user's public profile.
func UserKey(id models.UserID) string {
	return fmt.Sprintf(UserKeyPrefix, id)
}

// MentorDirectoryKeyFor keys the directory listing by its role set.
func MentorDirectoryKeyFor(roles []models.Role) string {
	parts := make([]string, len(roles))
	for i, r := range roles {
		parts[i] = string(r)
	}
	return fmt.Sprintf(MentorDirectoryKey, strings.Join(parts, ","))
}

// BlacklistKey marks a revoked token id.
func BlacklistKey(jti string) string {
	return fmt.Sprintf(BlacklistKeyPrefix, jti)
}
