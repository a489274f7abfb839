// Package classify separates operator-seeded sample projects from genuine
// user submissions.
package classify

import (
	"strings"

	"projecthub/internal/models"
)

// DefaultUploadsPrefix is the path prefix of images stored by the upload endpoint.
const DefaultUploadsPrefix = "/uploads/"

var (
	genericGithub = map[string]struct{}{"": {}, "#": {}, "https://github.com": {}}
	genericLive   = map[string]struct{}{"": {}, "#": {}, "https://example.com": {}}
)

// IsSample reports whether a project with these fields is sample content:
// both links are placeholders and none of the images came from the uploads
// store. Values are compared after trimming surrounding whitespace.
func IsSample(githubURL, liveURL string, images []string, uploadsPrefix string) bool {
	return hasGenericURLs(githubURL, liveURL) && !hasUploadedImage(images, uploadsPrefix)
}

func hasGenericURLs(githubURL, liveURL string) bool {
	_, gh := genericGithub[strings.TrimSpace(githubURL)]
	_, live := genericLive[strings.TrimSpace(liveURL)]
	return gh && live
}

func hasUploadedImage(images []string, uploadsPrefix string) bool {
	if uploadsPrefix == "" {
		uploadsPrefix = DefaultUploadsPrefix
	}
	for _, img := range images {
		if strings.HasPrefix(strings.TrimSpace(img), uploadsPrefix) {
			return true
		}
	}
	return false
}

// Classifier binds the uploads prefix so callers can classify projects directly.
type Classifier struct {
	uploadsPrefix string
}

// New returns a Classifier for the given uploads prefix.
func New(uploadsPrefix string) Classifier {
	if uploadsPrefix == "" {
		uploadsPrefix = DefaultUploadsPrefix
	}
	return Classifier{uploadsPrefix: uploadsPrefix}
}

// IsSample classifies p.
func (c Classifier) IsSample(p *models.Project) bool {
	if p == nil {
		return false
	}
	return IsSample(p.GithubURL, p.LiveURL, p.Images, c.uploadsPrefix)
}

// UploadsPrefix returns the configured prefix.
func (c Classifier) UploadsPrefix() string {
	return c.uploadsPrefix
}
