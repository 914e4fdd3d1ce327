// db/repo_users_admin.go
package db

import (
	"context"

	"github.com/nawapolsungjun/borrow-it/apperr"
	"github.com/nawapolsungjun/borrow-it/models"
	"github.com/nawapolsungjun/borrow-it/store"

	"gorm.io/gorm"
)

// ListUsers 分页 + 关键词（匹配用户名）
func (r *Repo) ListUsers(ctx context.Context, q store.UserQuery) (*store.UserPage, error) {
	q = q.Normalize()
	base := func() *gorm.DB {
		tx := r.DB.WithContext(ctx).Model(&models.User{})
		if q.Q != "" {
			tx = tx.Where(`LOWER(username) LIKE ? ESCAPE '\'`, likePattern(q.Q))
		}
		return tx
	}

	var total int64
	if err := base().Count(&total).Error; err != nil {
		return nil, translate(err, "", "")
	}
	users := []models.User{}
	if err := base().
		Order("created_at DESC, id DESC").
		Offset(q.Offset()).
		Limit(q.Size).
		Find(&users).Error; err != nil {
		return nil, translate(err, "", "")
	}
	return &store.UserPage{Total: total, Users: users}, nil
}

// DeleteUser 先删凭据再删用户；有借用历史时外键拒绝，按冲突返回
func (r *Repo) DeleteUser(ctx context.Context, id uint) error {
	err := r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ?", id).Delete(&models.Credential{}).Error; err != nil {
			return err
		}
		res := tx.Delete(&models.User{}, id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return apperr.NotFound("user not found")
		}
		return nil
	})
	return translate(err, "user not found", "user has borrow records")
}

func (r *Repo) CountAdmins(ctx context.Context) (int64, error) {
	var n int64
	err := r.DB.WithContext(ctx).
		Model(&models.User{}).
		Where("role = ?", models.RoleAdmin).
		Count(&n).Error
	return n, translate(err, "", "")
}
