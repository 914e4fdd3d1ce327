package db

import (
	"context"
	"time"

	"github.com/nawapolsungjun/borrow-it/apperr"
	"github.com/nawapolsungjun/borrow-it/models"
	"github.com/nawapolsungjun/borrow-it/store"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Items

func (r *Repo) CreateItem(ctx context.Context, it *models.Item) error {
	if it.Status == "" {
		it.Status = models.ItemAvailable
	}
	err := r.DB.WithContext(ctx).Create(it).Error
	return translate(err, "item not found", "serial number already exists")
}

func (r *Repo) FindItemByID(ctx context.Context, id uint) (*models.Item, error) {
	var it models.Item
	if err := r.DB.WithContext(ctx).First(&it, "id = ?", id).Error; err != nil {
		return nil, translate(err, "item not found", "")
	}
	return &it, nil
}

func (r *Repo) ListItems(ctx context.Context, q store.ItemQuery) (*store.ItemPage, error) {
	q = q.Normalize()
	base := func() *gorm.DB {
		tx := r.DB.WithContext(ctx).Model(&models.Item{})
		if q.Status != "" {
			tx = tx.Where("status = ?", q.Status)
		}
		if q.Q != "" {
			pat := likePattern(q.Q)
			tx = tx.Where(`LOWER(name) LIKE ? ESCAPE '\' OR LOWER(serial_number) LIKE ? ESCAPE '\'`, pat, pat)
		}
		return tx
	}

	var total int64
	if err := base().Count(&total).Error; err != nil {
		return nil, translate(err, "", "")
	}
	items := []models.Item{}
	if err := base().
		Order("created_at DESC, id DESC").
		Offset(q.Offset()).
		Limit(q.Size).
		Find(&items).Error; err != nil {
		return nil, translate(err, "", "")
	}
	return &store.ItemPage{Total: total, Items: items}, nil
}

// Borrow records

func withParties(tx *gorm.DB) *gorm.DB {
	return tx.Preload("Item").
		Preload("User", func(db *gorm.DB) *gorm.DB { return db.Select("id", "username", "role") })
}

func (r *Repo) FindRecordByID(ctx context.Context, id uint) (*models.BorrowRecord, error) {
	var rec models.BorrowRecord
	if err := withParties(r.DB.WithContext(ctx)).First(&rec, "id = ?", id).Error; err != nil {
		return nil, translate(err, "borrow record not found", "")
	}
	return &rec, nil
}

func (r *Repo) ListRecords(ctx context.Context, q store.RecordQuery) (*store.RecordPage, error) {
	q = q.Normalize()
	base := func() *gorm.DB {
		tx := r.DB.WithContext(ctx).Model(&models.BorrowRecord{})
		if q.UserID != 0 {
			tx = tx.Where("user_id = ?", q.UserID)
		}
		if q.ItemID != 0 {
			tx = tx.Where("item_id = ?", q.ItemID)
		}
		switch q.Status {
		case store.RecordsOpen:
			tx = tx.Where("returned_at IS NULL")
		case store.RecordsReturned:
			tx = tx.Where("returned_at IS NOT NULL")
		}
		return tx
	}

	var total int64
	if err := base().Count(&total).Error; err != nil {
		return nil, translate(err, "", "")
	}
	recs := []models.BorrowRecord{}
	if err := withParties(base()).
		Order("borrowed_at DESC, id DESC").
		Offset(q.Offset()).
		Limit(q.Size).
		Find(&recs).Error; err != nil {
		return nil, translate(err, "", "")
	}
	return &store.RecordPage{Total: total, Records: recs}, nil
}

// WithinTx 借还的原子单元：item 状态与借用记录一起提交或一起回滚
func (r *Repo) WithinTx(ctx context.Context, fn func(tx store.Tx) error) error {
	err := r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&txRepo{db: tx})
	})
	return translate(err, "", "")
}

type txRepo struct{ db *gorm.DB }

func (t *txRepo) forUpdate(ctx context.Context) *gorm.DB {
	return t.db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"})
}

func (t *txRepo) LockItem(ctx context.Context, id uint) (*models.Item, error) {
	var it models.Item
	if err := t.forUpdate(ctx).First(&it, "id = ?", id).Error; err != nil {
		return nil, translate(err, "item not found", "")
	}
	return &it, nil
}

func (t *txRepo) SaveItem(ctx context.Context, it *models.Item) error {
	res := t.db.WithContext(ctx).Model(it).
		Select("name", "serial_number", "description", "status").
		Updates(it)
	if res.Error != nil {
		return translate(res.Error, "item not found", "serial number already exists")
	}
	if res.RowsAffected == 0 {
		return apperr.NotFound("item not found")
	}
	return nil
}

func (t *txRepo) SetItemStatus(ctx context.Context, id uint, status models.ItemStatus) error {
	res := t.db.WithContext(ctx).Model(&models.Item{}).
		Where("id = ?", id).
		Update("status", status)
	if res.Error != nil {
		return translate(res.Error, "item not found", "")
	}
	if res.RowsAffected == 0 {
		return apperr.NotFound("item not found")
	}
	return nil
}

func (t *txRepo) DeleteItem(ctx context.Context, id uint) error {
	res := t.db.WithContext(ctx).Delete(&models.Item{}, id)
	if res.Error != nil {
		return translate(res.Error, "item not found", "item has borrow records")
	}
	if res.RowsAffected == 0 {
		return apperr.NotFound("item not found")
	}
	return nil
}

func (t *txRepo) FindRecord(ctx context.Context, id uint) (*models.BorrowRecord, error) {
	var rec models.BorrowRecord
	if err := t.db.WithContext(ctx).First(&rec, "id = ?", id).Error; err != nil {
		return nil, translate(err, "borrow record not found", "")
	}
	return &rec, nil
}

func (t *txRepo) LockRecord(ctx context.Context, id uint) (*models.BorrowRecord, error) {
	var rec models.BorrowRecord
	if err := t.forUpdate(ctx).First(&rec, "id = ?", id).Error; err != nil {
		return nil, translate(err, "borrow record not found", "")
	}
	return &rec, nil
}

func (t *txRepo) OpenRecordForItem(ctx context.Context, itemID uint) (*models.BorrowRecord, error) {
	var recs []models.BorrowRecord
	if err := t.forUpdate(ctx).
		Where("item_id = ? AND returned_at IS NULL", itemID).
		Limit(1).
		Find(&recs).Error; err != nil {
		return nil, translate(err, "", "")
	}
	if len(recs) == 0 {
		return nil, nil
	}
	return &recs[0], nil
}

func (t *txRepo) CountRecordsForItem(ctx context.Context, itemID uint) (int64, error) {
	var n int64
	err := t.db.WithContext(ctx).Model(&models.BorrowRecord{}).
		Where("item_id = ?", itemID).
		Count(&n).Error
	return n, translate(err, "", "")
}

// CreateRecord 依赖部分唯一索引兜底：并发重复借出会撞索引
func (t *txRepo) CreateRecord(ctx context.Context, rec *models.BorrowRecord) error {
	err := t.db.WithContext(ctx).Omit(clause.Associations).Create(rec).Error
	return translate(err, "item not found", "item not available")
}

func (t *txRepo) CloseRecord(ctx context.Context, id uint, at time.Time, by uint) error {
	res := t.db.WithContext(ctx).Model(&models.BorrowRecord{}).
		Where("id = ? AND returned_at IS NULL", id).
		Updates(map[string]any{
			"returned_at": at,
			"returned_by": by,
		})
	if res.Error != nil {
		return translate(res.Error, "borrow record not found", "")
	}
	if res.RowsAffected == 0 {
		return apperr.Conflict("already returned")
	}
	return nil
}
