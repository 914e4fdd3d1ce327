package models

import "time"

const (
	AuditItemUpdate  = "item.update"
	AuditItemDelete  = "item.delete"
	AuditAdminReturn = "loan.admin_return"
	AuditLend        = "loan.lend"
)

// AuditLog records admin actions that bypass or act on behalf of the normal
// borrow/return flow. ItemID is kept as a plain column (no FK) so entries
// survive item deletion.
type AuditLog struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	ActorID       uint      `gorm:"index;not null" json:"actorId"`
	ActorUsername string    `gorm:"size:64" json:"actorUsername"`
	Action        string    `gorm:"size:40;index;not null" json:"action"`
	ItemID        *uint     `gorm:"index" json:"itemId,omitempty"`
	Detail        string    `gorm:"type:text" json:"detail,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}

func (AuditLog) TableName() string { return "audit_logs" }
