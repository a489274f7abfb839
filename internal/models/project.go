package models

import (
	"time"

	"gorm.io/gorm"
)

// Author is the denormalized snapshot of the posting user taken at creation
// time. ID normally holds a native user id; legacy records may carry an
// email instead.
type Author struct {
	ID    UserID `gorm:"type:varchar(254);index" json:"id"`
	Name  string `gorm:"size:200" json:"name"`
	Image string `json:"image"`
}

// SnapshotOf copies the author fields from a live user.
func SnapshotOf(u *User) Author {
	return Author{ID: u.ID, Name: u.FullName, Image: u.Photo}
}

// Project is a shared piece of work. LikeCount and ShareCount cache the
// sizes of Likes and Shares; the sets are authoritative.
type Project struct {
	ID          string    `gorm:"primaryKey;type:varchar(24)" json:"id"`
	Title       string    `gorm:"size:200;not null" json:"title"`
	Description string    `gorm:"type:text" json:"description"`
	Tags        []string  `gorm:"serializer:json" json:"tags"`
	Images      []string  `gorm:"serializer:json" json:"images"`
	GithubURL   string    `json:"githubUrl"`
	LiveURL     string    `json:"liveUrl"`
	Author      Author    `gorm:"embedded;embeddedPrefix:author_" json:"author"`
	LikeCount   int       `gorm:"not null;default:0" json:"likeCount"`
	ShareCount  int       `gorm:"not null;default:0" json:"shareCount"`
	CreatedAt   time.Time `gorm:"index" json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`

	Likes        []UserID  `gorm:"-" json:"likes"`
	Shares       []Share   `gorm:"-" json:"shares,omitempty"`
	Comments     []Comment `gorm:"-" json:"comments,omitempty"`
	CommentCount int       `gorm:"-" json:"commentCount"`
}

// BeforeCreate assigns an id.
func (p *Project) BeforeCreate(_ *gorm.DB) error {
	if p.ID == "" {
		p.ID = NewID()
	}
	return nil
}

// Drift reports which cached counters disagree with their backing sets.
func (p *Project) Drift() (likes, shares bool) {
	return p.LikeCount != len(p.Likes), p.ShareCount != len(p.Shares)
}

// SyncCounters rewrites the cached counters from the sets.
func (p *Project) SyncCounters() {
	p.LikeCount = len(p.Likes)
	p.ShareCount = len(p.Shares)
}

// LikedBy reports whether id is in the like set.
func (p *Project) LikedBy(id UserID) bool {
	for _, l := range p.Likes {
		if l == id {
			return true
		}
	}
	return false
}

// SharedBy reports whether id has at least one share entry.
func (p *Project) SharedBy(id UserID) bool {
	for _, s := range p.Shares {
		if s.UserID == id {
			return true
		}
	}
	return false
}

// ProjectLike is one member of a project's like set.
type ProjectLike struct {
	ProjectID string    `gorm:"primaryKey;type:varchar(24)"`
	UserID    UserID    `gorm:"primaryKey;type:varchar(24);index"`
	CreatedAt time.Time `json:"createdAt"`
}

// TableName overrides the default table name.
func (ProjectLike) TableName() string { return "project_likes" }

// Share is one share action. ClickID deduplicates retries of the same click.
type Share struct {
	ID        string    `gorm:"primaryKey;type:varchar(24)" json:"-"`
	ProjectID string    `gorm:"type:varchar(24);not null;uniqueIndex:idx_share_click" json:"-"`
	ClickID   string    `gorm:"type:varchar(80);not null;uniqueIndex:idx_share_click" json:"-"`
	UserID    UserID    `gorm:"type:varchar(24);not null;index" json:"userId"`
	SharedAt  time.Time `json:"sharedAt"`
}

// TableName overrides the default table name.
func (Share) TableName() string { return "project_shares" }

// BeforeCreate assigns an id.
func (s *Share) BeforeCreate(_ *gorm.DB) error {
	if s.ID == "" {
		s.ID = NewID()
	}
	return nil
}

// Comment is an entry in a project's ordered comment list.
type Comment struct {
	ID         string    `gorm:"primaryKey;type:varchar(24)" json:"id"`
	ProjectID  string    `gorm:"type:varchar(24);not null;index" json:"projectId"`
	UserID     UserID    `gorm:"type:varchar(24);not null;index" json:"userId"`
	UserName   string    `gorm:"size:200" json:"userName"`
	UserAvatar string    `json:"userAvatar"`
	Text       string    `gorm:"type:text;not null" json:"text"`
	CreatedAt  time.Time `gorm:"index" json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// TableName overrides the default table name.
func (Comment) TableName() string { return "project_comments" }

// BeforeCreate assigns an id.
func (c *Comment) BeforeCreate(_ *gorm.DB) error {
	if c.ID == "" {
		c.ID = NewID()
	}
	return nil
}

// CounterRepair describes a counter fix applied by a store.
type CounterRepair struct {
	ID     string `json:"id" yaml:"id"`
	Kind   string `json:"kind" yaml:"kind"`
	Stored int    `json:"stored" yaml:"stored"`
	Actual int    `json:"actual" yaml:"actual"`
}
