// Package models contains data structures for the application's domain models.
package models

import (
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
)

// DefaultPhoto is assigned to users that never uploaded an avatar.
const DefaultPhoto = "/images/default-avatar.png"

// Role is the account type that drives authorization.
type Role string

const (
	RoleStudent    Role = "student"
	RoleMentor     Role = "mentor"
	RoleAdmin      Role = "admin"
	RoleSuperAdmin Role = "super_admin"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleStudent, RoleMentor, RoleAdmin, RoleSuperAdmin:
		return true
	}
	return false
}

// IsAdmin reports whether r grants admin privileges.
func (r Role) IsAdmin() bool {
	return r == RoleAdmin || r == RoleSuperAdmin
}

// ParseRole converts user input into a Role.
func ParseRole(raw string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(raw)))
	if !r.Valid() {
		return "", fmt.Errorf("unknown role %q", raw)
	}
	return r, nil
}

// DefaultDirectoryRoles is the role set a mentor directory query matches.
var DefaultDirectoryRoles = []Role{RoleMentor, RoleAdmin, RoleSuperAdmin}

// ProfileType is the user's self-described standing, independent of Role.
type ProfileType string

const (
	ProfileStudent ProfileType = "student"
	ProfileMentor  ProfileType = "mentor"
)

// Profile is embedded in the users table with a profile_ prefix.
type Profile struct {
	Type       ProfileType `gorm:"type:varchar(20);not null;default:student" json:"type"`
	JoinedDate time.Time   `json:"joinedDate"`
	Bio        string      `gorm:"type:text" json:"bio"`
	Department string      `gorm:"size:120" json:"department"`
	Position   string      `gorm:"size:120" json:"position"`
	Skills     []string    `gorm:"serializer:json" json:"skills"`
}

// User represents an account. FollowerCount and FollowingCount cache the
// sizes of the follow sets and are recomputed whenever those sets change.
type User struct {
	ID             UserID    `gorm:"primaryKey;type:varchar(24)" json:"id"`
	Email          string    `gorm:"uniqueIndex;not null" json:"email"`
	PasswordHash   string    `gorm:"not null" json:"-"`
	FullName       string    `gorm:"not null" json:"fullName"`
	Photo          string    `json:"photo"`
	Type           Role      `gorm:"type:varchar(20);index;not null;default:student" json:"type"`
	Profile        Profile   `gorm:"embedded;embeddedPrefix:profile_" json:"profile"`
	FollowerCount  int       `gorm:"not null;default:0" json:"followerCount"`
	FollowingCount int       `gorm:"not null;default:0" json:"followingCount"`
	IsActive       bool      `gorm:"not null;default:true" json:"isActive"`
	IsBlocked      bool      `gorm:"not null;default:false" json:"isBlocked"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`

	Followers []UserID `gorm:"-" json:"followers,omitempty"`
	Following []UserID `gorm:"-" json:"following,omitempty"`
}

// BeforeCreate assigns an id and fills defaults.
func (u *User) BeforeCreate(_ *gorm.DB) error {
	u.ApplyDefaults(time.Now().UTC())
	return nil
}

// ApplyDefaults fills the fields every store expects on insert.
func (u *User) ApplyDefaults(now time.Time) {
	if u.ID == "" {
		u.ID = NewUserID()
	}
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	if u.Photo == "" {
		u.Photo = DefaultPhoto
	}
	if u.Type == "" {
		u.Type = RoleStudent
	}
	if u.Profile.Type == "" {
		u.Profile.Type = ProfileStudent
		if u.Type == RoleMentor {
			u.Profile.Type = ProfileMentor
		}
	}
	if u.Profile.JoinedDate.IsZero() {
		u.Profile.JoinedDate = now
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	u.UpdatedAt = now
}

// CanInteract reports whether the account may like, share, comment or follow.
func (u *User) CanInteract() bool {
	return u.IsActive && !u.IsBlocked
}

// PublicUser is the user shape exposed to other users.
type PublicUser struct {
	ID             UserID  `json:"id"`
	FullName       string  `json:"fullName"`
	Photo          string  `json:"photo"`
	Type           Role    `json:"type"`
	Profile        Profile `json:"profile"`
	FollowerCount  int     `json:"followerCount"`
	FollowingCount int     `json:"followingCount"`
}

// Public strips private fields.
func (u *User) Public() PublicUser {
	return PublicUser{
		ID:             u.ID,
		FullName:       u.FullName,
		Photo:          u.Photo,
		Type:           u.Type,
		Profile:        u.Profile,
		FollowerCount:  u.FollowerCount,
		FollowingCount: u.FollowingCount,
	}
}

// Follow is one edge of the follow graph.
type Follow struct {
	FollowerID UserID    `gorm:"primaryKey;type:varchar(24)"`
	FolloweeID UserID    `gorm:"primaryKey;type:varchar(24);index"`
	CreatedAt  time.Time `json:"createdAt"`
}

// TableName overrides the default "follows".
func (Follow) TableName() string { return "user_follows" }
