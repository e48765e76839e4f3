package models

import (
	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	VersionPending  = "pending"
	VersionApproved = "approved"
	VersionRejected = "rejected"
)

// Version 一次上传的修订。不变式：每个 item 至多一个 isLatest=true，
// 且该版本必须是 approved（首版本引导时自动批准）。
type Version struct {
	Base
	ItemID       uuid.UUID      `gorm:"type:uuid;not null;index:idx_item_latest"`
	UploaderID   uuid.UUID      `gorm:"type:uuid;not null"`
	Size         int64          `gorm:"not null"`
	ETag         string         `gorm:"not null"`
	IsLatest     bool           `gorm:"default:false;index:idx_item_latest"`
	DeleteMarker bool           `gorm:"default:false"`
	Status       string         `gorm:"default:'pending'"`
	ApproverID   *uuid.UUID     `gorm:"type:uuid"`
	Notes        string         `gorm:"type:text"`
	Metadata     datatypes.JSON `gorm:"type:jsonb"`
}
