// models/item_loan.go
package models

import "time"

const (
	ItemTable         = "items"
	BorrowRecordTable = "borrow_records"
)

type ItemStatus string

const (
	ItemAvailable   ItemStatus = "AVAILABLE"
	ItemBorrowed    ItemStatus = "BORROWED"
	ItemMaintenance ItemStatus = "MAINTENANCE"
)

func (s ItemStatus) Valid() bool {
	switch s {
	case ItemAvailable, ItemBorrowed, ItemMaintenance:
		return true
	}
	return false
}

type Item struct {
	ID           uint       `gorm:"primaryKey" json:"id"`
	Name         string     `gorm:"size:200;not null" json:"name"`
	SerialNumber string     `gorm:"size:120;uniqueIndex;not null" json:"serialNumber"`
	Status       ItemStatus `gorm:"size:20;not null;default:'AVAILABLE';index" json:"status"`
	Description  *string    `gorm:"type:text" json:"description,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

// BorrowRecord is one borrow of one item. ReturnedAt == nil means the item
// is still out; once set the row is history and never changes again.
type BorrowRecord struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	ItemID     uint      `gorm:"index;not null" json:"itemId"`
	Item       *Item     `gorm:"constraint:OnUpdate:CASCADE,OnDelete:RESTRICT" json:"item,omitempty"`
	UserID     uint      `gorm:"index;not null" json:"userId"`
	User       *User     `gorm:"constraint:OnUpdate:CASCADE,OnDelete:RESTRICT" json:"user,omitempty"`
	BorrowedAt time.Time `gorm:"index;not null" json:"borrowedAt"`

	ReturnedAt *time.Time `gorm:"index" json:"returnedAt"`
	ReturnedBy *uint      `json:"returnedBy,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (r BorrowRecord) Open() bool { return r.ReturnedAt == nil }

func (Item) TableName() string         { return ItemTable }
func (BorrowRecord) TableName() string { return BorrowRecordTable }
