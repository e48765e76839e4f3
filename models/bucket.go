package models

import "github.com/google/uuid"

// Bucket 目录树节点，parentId 为空表示根目录
type Bucket struct {
	Base
	Name              string     `gorm:"not null"`
	ParentID          *uuid.UUID `gorm:"type:uuid;index"`
	OwnerID           uuid.UUID  `gorm:"type:uuid;not null;index"`
	RequiresApproval  bool       `gorm:"default:true"`
	OwnerAutoApproves bool       `gorm:"default:true"`
	DefaultApproverID *uuid.UUID `gorm:"type:uuid"`
	ApprovalStatus    string     `gorm:"default:'pending'"`
}
