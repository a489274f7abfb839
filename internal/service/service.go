// Package service holds the business rules that sit between the HTTP layer
// and the stores: classification, counter reconciliation, identity
// resolution and role provisioning.
package service

import (
	"context"
	"errors"
	"log/slog"

	"projecthub/internal/middleware"
	"projecthub/internal/models"
	"projecthub/internal/repository"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

func clampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// storeError passes AppErrors through and wraps anything else as INTERNAL.
func storeError(err error) error {
	if err == nil {
		return nil
	}
	var appErr *models.AppError
	if errors.As(err, &appErr) {
		return err
	}
	return models.NewInternalError(err)
}

func logger() *slog.Logger {
	if middleware.Logger != nil {
		return middleware.Logger
	}
	return slog.Default()
}

// loadActor fetches the acting user. A missing account is UNAUTHORIZED
// because the token outlived it.
func loadActor(ctx context.Context, users repository.UserRepository, id models.UserID) (*models.User, error) {
	if !id.IsNative() {
		return nil, models.NewUnauthorizedError("Authentication required")
	}
	u, err := users.GetByID(ctx, id)
	if err != nil {
		if models.IsNotFound(err) {
			return nil, models.NewUnauthorizedError("Account no longer exists")
		}
		return nil, storeError(err)
	}
	return u, nil
}

func requireInteractive(u *models.User) error {
	if !u.CanInteract() {
		return models.NewForbiddenError("Account is inactive or blocked")
	}
	return nil
}
