package service

import (
	"context"
	"fmt"
	"time"

	"github.com/nawapolsungjun/borrow-it/apperr"
	"github.com/nawapolsungjun/borrow-it/logger"
	"github.com/nawapolsungjun/borrow-it/models"
	"github.com/nawapolsungjun/borrow-it/store"
)

var errNotAvailable = apperr.Conflict("item not available")

// LoanService owns the borrow/return transitions. Every transition changes
// the item status and the ledger in the same transaction.
type LoanService struct {
	store store.Store
	now   func() time.Time
}

func NewLoanService(s store.Store) *LoanService {
	return &LoanService{store: s, now: func() time.Time { return time.Now().UTC() }}
}

// Borrow lends an AVAILABLE item to the acting user, who must hold role USER.
func (s *LoanService) Borrow(ctx context.Context, who models.Identity, itemID uint) (*models.BorrowRecord, error) {
	if who.Role != models.RoleUser {
		return nil, apperr.Forbidden("only users can borrow items")
	}
	rec, err := s.borrow(ctx, who.UserID, itemID, nil)
	if err != nil {
		return nil, err
	}
	logger.Log.Infow("item borrowed", "item_id", itemID, "user_id", who.UserID, "record_id", rec.ID)
	return rec, nil
}

// Lend is an admin checking an item out to a named user.
func (s *LoanService) Lend(ctx context.Context, admin models.Identity, itemID uint, username string) (*models.BorrowRecord, error) {
	if !admin.IsAdmin() {
		return nil, apperr.Forbidden("forbidden")
	}
	if username == "" {
		return nil, apperr.Validation("username is required")
	}
	borrower, err := s.store.FindUserByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	if borrower.Role != models.RoleUser {
		return nil, apperr.Validation("borrower must be a user account")
	}
	audit := &models.AuditLog{
		ActorID:       admin.UserID,
		ActorUsername: admin.Username,
		Action:        models.AuditLend,
		ItemID:        &itemID,
		Detail:        fmt.Sprintf("lent to %s", borrower.Username),
	}
	rec, err := s.borrow(ctx, borrower.ID, itemID, audit)
	if err != nil {
		return nil, err
	}
	logger.Log.Infow("item lent", "item_id", itemID, "user_id", borrower.ID, "admin_id", admin.UserID, "record_id", rec.ID)
	return rec, nil
}

func (s *LoanService) borrow(ctx context.Context, userID, itemID uint, audit *models.AuditLog) (*models.BorrowRecord, error) {
	var rec *models.BorrowRecord
	err := s.store.WithinTx(ctx, func(tx store.Tx) error {
		it, err := tx.LockItem(ctx, itemID)
		if err != nil {
			return err
		}
		if it.Status != models.ItemAvailable {
			return errNotAvailable
		}
		// status 与账本不一致时以账本为准
		open, err := tx.OpenRecordForItem(ctx, itemID)
		if err != nil {
			return err
		}
		if open != nil {
			return errNotAvailable
		}

		r := &models.BorrowRecord{ItemID: itemID, UserID: userID, BorrowedAt: s.now()}
		if err := tx.CreateRecord(ctx, r); err != nil {
			return err
		}
		if err := tx.SetItemStatus(ctx, itemID, models.ItemBorrowed); err != nil {
			return err
		}
		if audit != nil {
			if err := tx.AddAudit(ctx, audit); err != nil {
				return err
			}
		}
		rec = r
		return nil
	})
	if err != nil {
		logFailure("borrow", err, "item_id", itemID, "user_id", userID)
		return nil, err
	}
	return rec, nil
}

// Return closes a borrow record. Only the borrower or an admin may do it.
func (s *LoanService) Return(ctx context.Context, who models.Identity, recordID uint) (*models.BorrowRecord, error) {
	var rec *models.BorrowRecord
	err := s.store.WithinTx(ctx, func(tx store.Tx) error {
		r, err := tx.FindRecord(ctx, recordID)
		if err != nil {
			return err
		}
		// 先锁 item 再锁记录，与 ReturnItem 同序
		itemID := r.ItemID
		if _, err := tx.LockItem(ctx, itemID); err != nil {
			return err
		}
		if r, err = tx.LockRecord(ctx, recordID); err != nil {
			return err
		}
		if r.ItemID != itemID {
			return apperr.Internal(fmt.Errorf("record %d moved from item %d to %d", recordID, itemID, r.ItemID))
		}
		if err := s.close(ctx, tx, who, r); err != nil {
			return err
		}
		rec = r
		return nil
	})
	if err != nil {
		logFailure("return", err, "record_id", recordID, "user_id", who.UserID)
		return nil, err
	}
	logger.Log.Infow("item returned", "item_id", rec.ItemID, "record_id", rec.ID, "by", who.UserID)
	return rec, nil
}

// ReturnItem closes whatever record currently holds the item.
func (s *LoanService) ReturnItem(ctx context.Context, who models.Identity, itemID uint) (*models.BorrowRecord, error) {
	var rec *models.BorrowRecord
	err := s.store.WithinTx(ctx, func(tx store.Tx) error {
		if _, err := tx.LockItem(ctx, itemID); err != nil {
			return err
		}
		r, err := tx.OpenRecordForItem(ctx, itemID)
		if err != nil {
			return err
		}
		if r == nil {
			return apperr.Conflict("item is not borrowed")
		}
		if err := s.close(ctx, tx, who, r); err != nil {
			return err
		}
		rec = r
		return nil
	})
	if err != nil {
		logFailure("return item", err, "item_id", itemID, "user_id", who.UserID)
		return nil, err
	}
	logger.Log.Infow("item returned", "item_id", rec.ItemID, "record_id", rec.ID, "by", who.UserID)
	return rec, nil
}

// close checks ownership before state so a stranger learns nothing about
// someone else's record.
func (s *LoanService) close(ctx context.Context, tx store.Tx, who models.Identity, r *models.BorrowRecord) error {
	if !who.IsAdmin() && r.UserID != who.UserID {
		return apperr.Forbidden("not your borrow record")
	}
	if !r.Open() {
		return apperr.Conflict("already returned")
	}
	at := s.now()
	if err := tx.CloseRecord(ctx, r.ID, at, who.UserID); err != nil {
		return err
	}
	if err := tx.SetItemStatus(ctx, r.ItemID, models.ItemAvailable); err != nil {
		return err
	}
	if who.IsAdmin() && r.UserID != who.UserID {
		itemID := r.ItemID
		if err := tx.AddAudit(ctx, &models.AuditLog{
			ActorID:       who.UserID,
			ActorUsername: who.Username,
			Action:        models.AuditAdminReturn,
			ItemID:        &itemID,
			Detail:        fmt.Sprintf("closed record %d of user %d", r.ID, r.UserID),
		}); err != nil {
			return err
		}
	}
	by := who.UserID
	r.ReturnedAt = &at
	r.ReturnedBy = &by
	return nil
}

// Records lists borrow history. Non-admins only ever see their own.
func (s *LoanService) Records(ctx context.Context, who models.Identity, q store.RecordQuery) (*store.RecordPage, error) {
	if !who.IsAdmin() {
		q.UserID = who.UserID
	}
	if q.Status != "" && q.Status != store.RecordsOpen && q.Status != store.RecordsReturned {
		return nil, apperr.Validation("status must be open or returned")
	}
	return s.store.ListRecords(ctx, q)
}

func logFailure(op string, err error, kv ...any) {
	if apperr.KindOf(err) == apperr.KindInternal {
		logger.Log.Errorw(op+" failed", append(kv, "err", err)...)
		return
	}
	logger.Log.Debugw(op+" rejected", append(kv, "reason", err.Error())...)
}
