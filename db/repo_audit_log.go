package db

import (
	"context"
	"fmt"

	"github.com/nawapolsungjun/borrow-it/apperr"
	"github.com/nawapolsungjun/borrow-it/models"
)

func (t *txRepo) AddAudit(ctx context.Context, entry *models.AuditLog) error {
	if err := t.db.WithContext(ctx).Create(entry).Error; err != nil {
		return apperr.Internal(fmt.Errorf("insert audit log: %w", err))
	}
	return nil
}

// ListAudits returns the most recent audit entries, newest first.
func (r *Repo) ListAudits(ctx context.Context, itemID uint, limit int) ([]models.AuditLog, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	q := r.DB.WithContext(ctx).Order("created_at DESC, id DESC").Limit(limit)
	if itemID != 0 {
		q = q.Where("item_id = ?", itemID)
	}
	logs := []models.AuditLog{}
	if err := q.Find(&logs).Error; err != nil {
		return nil, translate(err, "", "")
	}
	return logs, nil
}
