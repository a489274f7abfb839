package validation

import (
	"html"
	"net/url"
	"strings"
	"sync"
	"unicode/utf8"

	"projecthub/internal/models"

	"github.com/microcosm-cc/bluemonday"
)

// Field limits for user-submitted content.
const (
	MaxTitleLength       = 200
	MaxDescriptionLength = 5000
	MaxTags              = 10
	MaxTagLength         = 30
	MaxImages            = 8
	MaxCommentLength     = 1000
	MaxBioLength         = 1000
	MaxSkills            = 20
)

var (
	strictPolicy     *bluemonday.Policy
	strictPolicyOnce sync.Once
)

func getPolicy() *bluemonday.Policy {
	strictPolicyOnce.Do(func() {
		strictPolicy = bluemonday.StrictPolicy()
	})
	return strictPolicy
}

// SanitizeText strips all markup and returns plain text.
func SanitizeText(s string) string {
	if s == "" {
		return ""
	}
	return strings.TrimSpace(html.UnescapeString(getPolicy().Sanitize(s)))
}

// ProjectInput is the editable part of a project.
type ProjectInput struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Tags        []string `json:"tags"`
	Images      []string `json:"images"`
	GithubURL   string   `json:"githubUrl"`
	LiveURL     string   `json:"liveUrl"`
}

// NormalizeProject sanitizes in and checks every field limit. The first
// violation is returned as a field validation error.
func NormalizeProject(in ProjectInput) (ProjectInput, error) {
	out := ProjectInput{
		Title:       SanitizeText(in.Title),
		Description: SanitizeText(in.Description),
		GithubURL:   strings.TrimSpace(in.GithubURL),
		LiveURL:     strings.TrimSpace(in.LiveURL),
	}

	if out.Title == "" {
		return out, models.NewFieldError("title", "Title is required")
	}
	if utf8.RuneCountInString(out.Title) > MaxTitleLength {
		return out, models.NewFieldError("title", "Title must not exceed 200 characters")
	}
	if utf8.RuneCountInString(out.Description) > MaxDescriptionLength {
		return out, models.NewFieldError("description", "Description must not exceed 5000 characters")
	}

	tags, err := normalizeTags(in.Tags)
	if err != nil {
		return out, err
	}
	out.Tags = tags

	if len(in.Images) > MaxImages {
		return out, models.NewFieldError("images", "A project may have at most 8 images")
	}
	out.Images = make([]string, 0, len(in.Images))
	for _, img := range in.Images {
		img = strings.TrimSpace(img)
		if img == "" {
			continue
		}
		if !strings.HasPrefix(img, "/") && !isHTTPURL(img) {
			return out, models.NewFieldError("images", "Images must be upload paths or http(s) URLs")
		}
		out.Images = append(out.Images, img)
	}

	if !isLink(out.GithubURL) {
		return out, models.NewFieldError("githubUrl", "GitHub URL must be a valid http(s) URL")
	}
	if !isLink(out.LiveURL) {
		return out, models.NewFieldError("liveUrl", "Live URL must be a valid http(s) URL")
	}
	return out, nil
}

func normalizeTags(raw []string) ([]string, error) {
	seen := make(map[string]struct{}, len(raw))
	tags := make([]string, 0, len(raw))
	for _, t := range raw {
		t = strings.ToLower(SanitizeText(t))
		if t == "" {
			continue
		}
		if utf8.RuneCountInString(t) > MaxTagLength {
			return nil, models.NewFieldError("tags", "Tags must not exceed 30 characters")
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		tags = append(tags, t)
	}
	if len(tags) > MaxTags {
		return nil, models.NewFieldError("tags", "A project may have at most 10 tags")
	}
	return tags, nil
}

// isLink accepts an empty value, the "#" placeholder, or an absolute http(s) URL.
func isLink(s string) bool {
	return s == "" || s == "#" || isHTTPURL(s)
}

func isHTTPURL(s string) bool {
	u, err := url.Parse(s)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// NormalizeComment sanitizes comment text and checks its length.
func NormalizeComment(text string) (string, error) {
	text = SanitizeText(text)
	if text == "" {
		return "", models.NewFieldError("text", "Comment text is required")
	}
	if utf8.RuneCountInString(text) > MaxCommentLength {
		return "", models.NewFieldError("text", "Comment must not exceed 1000 characters")
	}
	return text, nil
}

// ProfileInput is the self-editable part of a user.
type ProfileInput struct {
	FullName   string   `json:"fullName"`
	Photo      string   `json:"photo"`
	Bio        string   `json:"bio"`
	Department string   `json:"department"`
	Position   string   `json:"position"`
	Skills     []string `json:"skills"`
}

// NormalizeProfile sanitizes a profile update.
func NormalizeProfile(in ProfileInput) (ProfileInput, error) {
	out := ProfileInput{
		FullName:   SanitizeText(in.FullName),
		Photo:      strings.TrimSpace(in.Photo),
		Bio:        SanitizeText(in.Bio),
		Department: SanitizeText(in.Department),
		Position:   SanitizeText(in.Position),
	}
	if err := ValidateFullName(out.FullName); err != nil {
		return out, models.NewFieldError("fullName", err.Error())
	}
	if out.Photo != "" && !strings.HasPrefix(out.Photo, "/") && !isHTTPURL(out.Photo) {
		return out, models.NewFieldError("photo", "Photo must be an upload path or http(s) URL")
	}
	if utf8.RuneCountInString(out.Bio) > MaxBioLength {
		return out, models.NewFieldError("bio", "Bio must not exceed 1000 characters")
	}
	if len(in.Skills) > MaxSkills {
		return out, models.NewFieldError("skills", "At most 20 skills are allowed")
	}
	for _, s := range in.Skills {
		if s = SanitizeText(s); s != "" {
			out.Skills = append(out.Skills, s)
		}
	}
	return out, nil
}
