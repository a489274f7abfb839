package database

import (
	"testing"

	"projecthub/internal/models"

	"github.com/stretchr/testify/require"
)

func TestPersistentModels_IncludesInteractionSets(t *testing.T) {
	var likes, shares, follows bool
	for _, model := range PersistentModels() {
		switch model.(type) {
		case *models.ProjectLike:
			likes = true
		case *models.Share:
			shares = true
		case *models.Follow:
			follows = true
		}
	}
	require.True(t, likes, "PersistentModels should include ProjectLike")
	require.True(t, shares, "PersistentModels should include Share")
	require.True(t, follows, "PersistentModels should include Follow")
}
