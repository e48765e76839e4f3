package models

import "github.com/google/uuid"

const (
	DecisionPending  = "pending"
	DecisionApproved = "approved"
	DecisionRejected = "rejected"
)

// Approval 一条待决/已决的审批记录。VersionID/BucketID/ItemID 恰好
// 一个非空：版本审批挂在 version 上，bucket/item 上的行只是审批人
// 与资源的关联记录。standard 群组共享一行（ActingUserID 批准时回填），
// unanimous 每个成员一行。
type Approval struct {
	Base
	VersionID    *uuid.UUID `gorm:"type:uuid;index"`
	BucketID     *uuid.UUID `gorm:"type:uuid;index"`
	ItemID       *uuid.UUID `gorm:"type:uuid;index"`
	ApproverID   uuid.UUID  `gorm:"type:uuid;not null;index"`
	ActingUserID *uuid.UUID `gorm:"type:uuid"`
	Decision     string     `gorm:"default:'pending'"`
	Comments     string     `gorm:"type:text"`
}
