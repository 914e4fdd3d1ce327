package service

import (
	"context"

	"github.com/nawapolsungjun/borrow-it/apperr"
	"github.com/nawapolsungjun/borrow-it/logger"
	"github.com/nawapolsungjun/borrow-it/models"
	"github.com/nawapolsungjun/borrow-it/store"
)

// UserAdminService backs the admin user screens.
type UserAdminService struct {
	store store.Store
}

func NewUserAdminService(s store.Store) *UserAdminService { return &UserAdminService{store: s} }

func (s *UserAdminService) List(ctx context.Context, q store.UserQuery) (*store.UserPage, error) {
	return s.store.ListUsers(ctx, q)
}

func (s *UserAdminService) Get(ctx context.Context, id uint) (*models.User, error) {
	return s.store.FindUserByID(ctx, id)
}

// Delete removes a user account. Admins cannot remove themselves or each
// other, and a user with borrow history is kept.
func (s *UserAdminService) Delete(ctx context.Context, admin models.Identity, id uint) error {
	if !admin.IsAdmin() {
		return apperr.Forbidden("forbidden")
	}
	if id == admin.UserID {
		return apperr.Validation("cannot delete yourself")
	}
	target, err := s.store.FindUserByID(ctx, id)
	if err != nil {
		return err
	}
	if target.Role == models.RoleAdmin {
		return apperr.Forbidden("cannot delete an admin")
	}
	if err := s.store.DeleteUser(ctx, id); err != nil {
		logFailure("delete user", err, "user_id", id)
		return err
	}
	logger.Log.Infow("user deleted", "user_id", id, "username", target.Username, "admin_id", admin.UserID)
	return nil
}
