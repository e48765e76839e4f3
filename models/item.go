package models

import "github.com/google/uuid"

// Item 是 bucket 内的具名文件槽，key 在同一 bucket 内唯一
type Item struct {
	Base
	BucketID          uuid.UUID  `gorm:"type:uuid;not null;uniqueIndex:idx_bucket_key"`
	Key               string     `gorm:"not null;uniqueIndex:idx_bucket_key"`
	OwnerID           uuid.UUID  `gorm:"type:uuid;not null;index"`
	VersioningEnabled bool       `gorm:"default:true"`
	RequiresApproval  bool       `gorm:"default:false"`
	OwnerAutoApproves bool       `gorm:"default:true"`
	DefaultApproverID *uuid.UUID `gorm:"type:uuid"`
	ApprovalStatus    string     `gorm:"default:'pending'"`
}
