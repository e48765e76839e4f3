package models

import "github.com/google/uuid"

const (
	PermissionView  = "view"
	PermissionWrite = "write"
)

// Permission 显式授权行，BucketID/ItemID 恰好一个非空。
// inherited=true 表示解析时向子 bucket 级联，不会复制到子行。
type Permission struct {
	Base
	BucketID       *uuid.UUID `gorm:"type:uuid;index"`
	ItemID         *uuid.UUID `gorm:"type:uuid;index"`
	UserID         uuid.UUID  `gorm:"type:uuid;not null;index"`
	PermissionType string     `gorm:"not null"`
	Inherited      bool       `gorm:"default:false"`

	User User `gorm:"foreignKey:UserID"`
}
