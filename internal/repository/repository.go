// Package repository declares the storage contracts of the directory service.
// Implementations live in subpackages (see repository/sqlite).
package repository

import (
	"context"

	"github.com/sakif/user-admin/internal/model"
)

// UserRepository stores directory accounts keyed by email.
//
// Implementations must:
//   - return apperror.ErrConflict from Create when the email already exists
//   - return apperror.ErrNotFound from DeleteByEmail for unknown emails
//   - return List in creation order (oldest first)
type UserRepository interface {
	Create(ctx context.Context, user *model.User) error
	List(ctx context.Context) ([]model.User, error)
	DeleteByEmail(ctx context.Context, email string) error
	Count(ctx context.Context) (int, error)
}
