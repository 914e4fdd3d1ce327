// Package store declares the persistence capability the services depend on.
// db.Repo is the Postgres implementation; MemoryStore backs tests and local
// runs without a database.
//
// Implementations report failures as apperr values: a missing row is
// apperr.NotFound, a uniqueness or reference violation is apperr.Conflict.
package store

import (
	"context"
	"time"

	"github.com/nawapolsungjun/borrow-it/models"
)

// Store is the non-transactional surface plus the entry point for units of
// work.
type Store interface {
	// WithinTx runs fn in one transaction. Any error from fn rolls
	// everything back; apperr values come back as they are, anything else
	// (including a failed commit) as apperr.Internal.
	WithinTx(ctx context.Context, fn func(tx Tx) error) error

	// items
	CreateItem(ctx context.Context, it *models.Item) error
	FindItemByID(ctx context.Context, id uint) (*models.Item, error)
	ListItems(ctx context.Context, q ItemQuery) (*ItemPage, error)

	// ledger
	FindRecordByID(ctx context.Context, id uint) (*models.BorrowRecord, error)
	ListRecords(ctx context.Context, q RecordQuery) (*RecordPage, error)

	// users
	CreateUser(ctx context.Context, u *models.User) error
	FindUserByID(ctx context.Context, id uint) (*models.User, error)
	FindUserByUsername(ctx context.Context, username string) (*models.User, error)
	ListUsers(ctx context.Context, q UserQuery) (*UserPage, error)
	DeleteUser(ctx context.Context, id uint) error
	TouchUserLogin(ctx context.Context, id uint, ip, ua string) error
	TouchUserSeen(ctx context.Context, id uint) error
	CountAdmins(ctx context.Context) (int64, error)

	// ListAudits returns newest first; itemID 0 means every item.
	ListAudits(ctx context.Context, itemID uint, limit int) ([]models.AuditLog, error)

	Stats(ctx context.Context) (*Stats, error)

	CredentialStore
}

// Tx is a unit of work. Lock* calls hold the row until commit.
type Tx interface {
	LockItem(ctx context.Context, id uint) (*models.Item, error)
	SaveItem(ctx context.Context, it *models.Item) error
	SetItemStatus(ctx context.Context, id uint, status models.ItemStatus) error
	DeleteItem(ctx context.Context, id uint) error

	// FindRecord reads without locking. Lock the item before LockRecord so
	// every transition takes item then record.
	FindRecord(ctx context.Context, id uint) (*models.BorrowRecord, error)
	LockRecord(ctx context.Context, id uint) (*models.BorrowRecord, error)
	// OpenRecordForItem returns nil, nil when the item is not out.
	OpenRecordForItem(ctx context.Context, itemID uint) (*models.BorrowRecord, error)
	CountRecordsForItem(ctx context.Context, itemID uint) (int64, error)
	CreateRecord(ctx context.Context, rec *models.BorrowRecord) error
	CloseRecord(ctx context.Context, id uint, at time.Time, by uint) error

	AddAudit(ctx context.Context, entry *models.AuditLog) error
}

// CredentialStore keeps passkeys.
type CredentialStore interface {
	AddCredential(ctx context.Context, c *models.Credential) error
	LoadUserCredentials(ctx context.Context, userID uint) ([]models.Credential, error)
	FindUserByCredentialID(ctx context.Context, credID []byte) (*models.User, *models.Credential, error)
	UpdateCredentialCounter(ctx context.Context, credID []byte, signCount uint32, cloneWarning bool) error
}

const (
	defaultPageSize = 20
	maxPageSize     = 200
)

func normalizePage(page, size int) (int, int) {
	if page <= 0 {
		page = 1
	}
	if size <= 0 || size > maxPageSize {
		size = defaultPageSize
	}
	return page, size
}

type ItemQuery struct {
	Status models.ItemStatus // empty = all
	Q      string            // substring of name or serial number
	Page   int
	Size   int
}

func (q ItemQuery) Normalize() ItemQuery {
	q.Page, q.Size = normalizePage(q.Page, q.Size)
	return q
}

func (q ItemQuery) Offset() int { return (q.Page - 1) * q.Size }

const (
	RecordsOpen     = "open"
	RecordsReturned = "returned"
)

type RecordQuery struct {
	UserID uint   // 0 = all users
	ItemID uint   // 0 = all items
	Status string // "", RecordsOpen, RecordsReturned
	Page   int
	Size   int
}

func (q RecordQuery) Normalize() RecordQuery {
	q.Page, q.Size = normalizePage(q.Page, q.Size)
	return q
}

func (q RecordQuery) Offset() int { return (q.Page - 1) * q.Size }

type UserQuery struct {
	Q    string
	Page int
	Size int
}

func (q UserQuery) Normalize() UserQuery {
	q.Page, q.Size = normalizePage(q.Page, q.Size)
	return q
}

func (q UserQuery) Offset() int { return (q.Page - 1) * q.Size }

type ItemPage struct {
	Total int64         `json:"total"`
	Items []models.Item `json:"items"`
}

type RecordPage struct {
	Total   int64                 `json:"total"`
	Records []models.BorrowRecord `json:"records"`
}

type UserPage struct {
	Total int64         `json:"total"`
	Users []models.User `json:"users"`
}

type Stats struct {
	TotalItems       int64 `json:"totalItems"`
	AvailableItems   int64 `json:"availableItems"`
	BorrowedItems    int64 `json:"borrowedItems"`
	MaintenanceItems int64 `json:"maintenanceItems"`
	TotalUsers       int64 `json:"totalUsers"`
	OpenRecords      int64 `json:"openRecords"`
}
