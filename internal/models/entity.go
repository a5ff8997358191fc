package models

import (
	"time"
)

// EntityRecord holds the persisted properties of one instance. Ids are unique per
// type hierarchy, so the key is the root type and the id while TypeName is the
// instance's own type.
type EntityRecord struct {
	RecordID   uint64 `gorm:"primaryKey;autoIncrement"`
	RootType   string `gorm:"uniqueIndex:idx_entity_key;size:255;not null"`
	EntityID   string `gorm:"uniqueIndex:idx_entity_key;size:64;not null"`
	TypeName   string `gorm:"index;size:255;not null"`
	Properties JSON
	Version    uint64 `gorm:"not null;default:0"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// TableName overrides the table name for EntityRecord
func (EntityRecord) TableName() string {
	return "entity_records"
}

// ChangeSetRecord is the ledger entry of one accepted change submission.
type ChangeSetRecord struct {
	ChangeSetID uint64 `gorm:"primaryKey;autoIncrement"`
	UserID      string `gorm:"index;size:255"`
	ChangeCount int    `gorm:"not null;default:0"`
	Changes     JSON
	CreatedAt   time.Time
}

// TableName overrides the table name for ChangeSetRecord
func (ChangeSetRecord) TableName() string {
	return "change_sets"
}
