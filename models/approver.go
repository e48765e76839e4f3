package models

import "github.com/google/uuid"

const (
	ApprovalStandard  = "standard"
	ApprovalUnanimous = "unanimous"

	ScopeBucket = "bucket"
	ScopeItem   = "item"
)

// Approver 审批人（个人或群组），绑定到一个 bucket 或 item。
// 作用域用类型化的 (ScopeType, ScopeID) 列保存；Name 仅保留
// bucket_<id>/file_<id> 的展示约定，不参与解析。
type Approver struct {
	Base
	Name         string    `gorm:"not null"`
	ScopeType    string    `gorm:"not null;index:idx_approver_scope"`
	ScopeID      uuid.UUID `gorm:"type:uuid;not null;index:idx_approver_scope"`
	IsGroup      bool      `gorm:"default:false"`
	ApprovalType string    `gorm:"default:'standard'"`
	MinApprovals int       `gorm:"default:1"`

	Users []User `gorm:"many2many:approver_users"`
}

// ApproverName 返回展示名（沿用旧的命名约定）
func ApproverName(scopeType string, scopeID uuid.UUID) string {
	if scopeType == ScopeItem {
		return "file_" + scopeID.String()
	}
	return "bucket_" + scopeID.String()
}
