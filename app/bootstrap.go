// app/bootstrap.go
package app

import (
	"context"

	"github.com/nawapolsungjun/borrow-it/logger"
	"github.com/nawapolsungjun/borrow-it/models"
)

type AdminBootstrapper interface {
	BootstrapAdmin(ctx context.Context, username, password string) (*models.User, bool, error)
}

type AdminCounter interface {
	CountAdmins(ctx context.Context) (int64, error)
}

// BootstrapFirstAdmin creates ADMIN_USERNAME on first start. Without it the
// only way to get an admin is a manual row in the database.
func BootstrapFirstAdmin(ctx context.Context, cfg Config, auth AdminBootstrapper, admins AdminCounter) error {
	if cfg.AdminUsername == "" {
		if n, err := admins.CountAdmins(ctx); err == nil && n == 0 {
			logger.Log.Warn("no admin account exists and ADMIN_USERNAME is not set")
		}
		return nil
	}
	u, created, err := auth.BootstrapAdmin(ctx, cfg.AdminUsername, cfg.AdminPassword)
	if err != nil {
		return err
	}
	if created {
		logger.Log.Infow("[BOOTSTRAP] admin created", "user_id", u.ID, "username", u.Username)
		return nil
	}
	if u.Role != models.RoleAdmin {
		logger.Log.Warnw("[BOOTSTRAP] ADMIN_USERNAME belongs to a non-admin account, left unchanged", "username", u.Username)
	}
	return nil
}
