package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/nawapolsungjun/borrow-it/apperr"
	"github.com/nawapolsungjun/borrow-it/logger"
	"github.com/nawapolsungjun/borrow-it/models"
	"github.com/nawapolsungjun/borrow-it/store"
)

// ItemService is the admin registry. Status may only move between
// AVAILABLE and MAINTENANCE here; BORROWED belongs to LoanService.
type ItemService struct {
	store store.Store
}

func NewItemService(s store.Store) *ItemService { return &ItemService{store: s} }

type ItemInput struct {
	Name         string
	SerialNumber string
	Description  *string
	Status       models.ItemStatus
}

// ItemPatch carries only the fields the caller sent.
type ItemPatch struct {
	Name         *string
	SerialNumber *string
	Description  *string
	Status       *models.ItemStatus
}

func (s *ItemService) Create(ctx context.Context, in ItemInput) (*models.Item, error) {
	name := strings.TrimSpace(in.Name)
	serial := strings.TrimSpace(in.SerialNumber)
	if name == "" {
		return nil, apperr.Validation("name is required")
	}
	if serial == "" {
		return nil, apperr.Validation("serialNumber is required")
	}
	status := in.Status
	switch status {
	case "":
		status = models.ItemAvailable
	case models.ItemAvailable, models.ItemMaintenance:
	case models.ItemBorrowed:
		return nil, apperr.Validation("a new item cannot start as BORROWED")
	default:
		return nil, apperr.Validation("invalid status")
	}

	it := &models.Item{
		Name:         name,
		SerialNumber: serial,
		Description:  trimmedOrNil(in.Description),
		Status:       status,
	}
	if err := s.store.CreateItem(ctx, it); err != nil {
		return nil, err
	}
	logger.Log.Infow("item created", "item_id", it.ID, "serial", it.SerialNumber)
	return it, nil
}

func (s *ItemService) Get(ctx context.Context, id uint) (*models.Item, error) {
	return s.store.FindItemByID(ctx, id)
}

func (s *ItemService) List(ctx context.Context, q store.ItemQuery) (*store.ItemPage, error) {
	if q.Status != "" && !q.Status.Valid() {
		return nil, apperr.Validation("invalid status")
	}
	return s.store.ListItems(ctx, q)
}

// Update edits an item. A status change is an admin override: it is refused
// while the item is out and never reaches or leaves BORROWED.
func (s *ItemService) Update(ctx context.Context, admin models.Identity, id uint, p ItemPatch) (*models.Item, error) {
	if p.Name != nil && strings.TrimSpace(*p.Name) == "" {
		return nil, apperr.Validation("name must not be empty")
	}
	if p.SerialNumber != nil && strings.TrimSpace(*p.SerialNumber) == "" {
		return nil, apperr.Validation("serialNumber must not be empty")
	}
	if p.Status != nil && !p.Status.Valid() {
		return nil, apperr.Validation("invalid status")
	}

	var out *models.Item
	err := s.store.WithinTx(ctx, func(tx store.Tx) error {
		it, err := tx.LockItem(ctx, id)
		if err != nil {
			return err
		}
		var changes []string
		if p.Status != nil && *p.Status != it.Status {
			if *p.Status == models.ItemBorrowed || it.Status == models.ItemBorrowed {
				return apperr.Conflict("status BORROWED is managed by borrow and return")
			}
			open, err := tx.OpenRecordForItem(ctx, id)
			if err != nil {
				return err
			}
			if open != nil {
				return apperr.Conflict("item has an open borrow record")
			}
			changes = append(changes, fmt.Sprintf("status %s -> %s", it.Status, *p.Status))
			it.Status = *p.Status
		}
		if p.Name != nil {
			it.Name = strings.TrimSpace(*p.Name)
		}
		if p.SerialNumber != nil {
			serial := strings.TrimSpace(*p.SerialNumber)
			if serial != it.SerialNumber {
				changes = append(changes, fmt.Sprintf("serial %s -> %s", it.SerialNumber, serial))
			}
			it.SerialNumber = serial
		}
		if p.Description != nil {
			it.Description = trimmedOrNil(p.Description)
		}
		if err := tx.SaveItem(ctx, it); err != nil {
			return err
		}
		if len(changes) > 0 {
			itemID := it.ID
			if err := tx.AddAudit(ctx, &models.AuditLog{
				ActorID:       admin.UserID,
				ActorUsername: admin.Username,
				Action:        models.AuditItemUpdate,
				ItemID:        &itemID,
				Detail:        strings.Join(changes, "; "),
			}); err != nil {
				return err
			}
		}
		out = it
		return nil
	})
	if err != nil {
		logFailure("update item", err, "item_id", id)
		return nil, err
	}
	return out, nil
}

// Delete removes an item that has never been borrowed. Anything with
// history is kept so the ledger stays intact.
func (s *ItemService) Delete(ctx context.Context, admin models.Identity, id uint) error {
	err := s.store.WithinTx(ctx, func(tx store.Tx) error {
		it, err := tx.LockItem(ctx, id)
		if err != nil {
			return err
		}
		n, err := tx.CountRecordsForItem(ctx, id)
		if err != nil {
			return err
		}
		if n > 0 {
			return apperr.Conflict("item has borrow records")
		}
		if err := tx.DeleteItem(ctx, id); err != nil {
			return err
		}
		itemID := it.ID
		return tx.AddAudit(ctx, &models.AuditLog{
			ActorID:       admin.UserID,
			ActorUsername: admin.Username,
			Action:        models.AuditItemDelete,
			ItemID:        &itemID,
			Detail:        fmt.Sprintf("deleted %s (%s)", it.Name, it.SerialNumber),
		})
	})
	if err != nil {
		logFailure("delete item", err, "item_id", id)
		return err
	}
	logger.Log.Infow("item deleted", "item_id", id, "admin_id", admin.UserID)
	return nil
}

func (s *ItemService) Audits(ctx context.Context, itemID uint, limit int) ([]models.AuditLog, error) {
	return s.store.ListAudits(ctx, itemID, limit)
}

func (s *ItemService) Stats(ctx context.Context) (*store.Stats, error) {
	return s.store.Stats(ctx)
}

func trimmedOrNil(s *string) *string {
	if s == nil {
		return nil
	}
	t := strings.TrimSpace(*s)
	if t == "" {
		return nil
	}
	return &t
}
