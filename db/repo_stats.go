// db/repo_stats.go
package db

import (
	"context"

	"github.com/nawapolsungjun/borrow-it/models"
	"github.com/nawapolsungjun/borrow-it/store"
)

type statusCount struct {
	Status models.ItemStatus
	N      int64
}

// Stats 仪表盘汇总
func (r *Repo) Stats(ctx context.Context) (*store.Stats, error) {
	db := r.DB.WithContext(ctx)

	var rows []statusCount
	if err := db.Model(&models.Item{}).
		Select("status, COUNT(*) AS n").
		Group("status").
		Scan(&rows).Error; err != nil {
		return nil, translate(err, "", "")
	}

	st := &store.Stats{}
	for _, row := range rows {
		st.TotalItems += row.N
		switch row.Status {
		case models.ItemAvailable:
			st.AvailableItems = row.N
		case models.ItemBorrowed:
			st.BorrowedItems = row.N
		case models.ItemMaintenance:
			st.MaintenanceItems = row.N
		}
	}

	if err := db.Model(&models.User{}).Count(&st.TotalUsers).Error; err != nil {
		return nil, translate(err, "", "")
	}
	if err := db.Model(&models.BorrowRecord{}).
		Where("returned_at IS NULL").
		Count(&st.OpenRecords).Error; err != nil {
		return nil, translate(err, "", "")
	}
	return st, nil
}
