package database

import "projecthub/internal/models"

// PersistentModels returns the authoritative set of schema-managed GORM models.
func PersistentModels() []interface{} {
	return []interface{}{
		&models.User{},
		&models.Follow{},
		&models.Project{},
		&models.ProjectLike{},
		&models.Share{},
		&models.Comment{},
	}
}
