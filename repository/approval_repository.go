package repository

import (
	"github.com/cumulusfs/cumulus/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type ApprovalRepository interface {
	BaseRepository[models.Approval]
	PendingByVersion(versionID uuid.UUID) ([]*models.Approval, error)
	PendingRoutedToUser(versionIDs []uuid.UUID, approverIDs []uuid.UUID, userID uuid.UUID) ([]*models.Approval, error)
	ScopeLinkExists(scopeType string, scopeID, approverID uuid.UUID) (bool, error)
	HistoryForItem(itemID uuid.UUID, versionIDs []uuid.UUID) ([]*models.Approval, error)
	DeleteByVersionIDs(versionIDs []uuid.UUID) error
	DeleteByScopeIDs(bucketIDs, itemIDs []uuid.UUID) error
}

type ApprovalRepositoryImpl struct {
	*BaseRepositoryImpl[models.Approval]
	db *gorm.DB
}

func NewApprovalRepository(db *gorm.DB) ApprovalRepository {
	return &ApprovalRepositoryImpl{
		BaseRepositoryImpl: NewBaseRepository[models.Approval](db),
		db:                 db,
	}
}

func (r *ApprovalRepositoryImpl) PendingByVersion(versionID uuid.UUID) ([]*models.Approval, error) {
	var approvals []*models.Approval
	err := r.db.Where("version_id = ? AND decision = ?", versionID, models.DecisionPending).
		Find(&approvals).Error
	return approvals, err
}

// PendingRoutedToUser 路由给该用户的待决审批行：要么是专属于他的行
// （unanimous/单人），要么是群组共享的未认领行（acting_user_id 为空）
func (r *ApprovalRepositoryImpl) PendingRoutedToUser(versionIDs []uuid.UUID, approverIDs []uuid.UUID, userID uuid.UUID) ([]*models.Approval, error) {
	if len(versionIDs) == 0 || len(approverIDs) == 0 {
		return nil, nil
	}
	var approvals []*models.Approval
	err := r.db.
		Where("version_id IN ? AND approver_id IN ? AND decision = ?", versionIDs, approverIDs, models.DecisionPending).
		Where("acting_user_id = ? OR acting_user_id IS NULL", userID).
		Find(&approvals).Error
	return approvals, err
}

// ScopeLinkExists 审批人与 bucket/item 的关联记录是否已存在
func (r *ApprovalRepositoryImpl) ScopeLinkExists(scopeType string, scopeID, approverID uuid.UUID) (bool, error) {
	var count int64
	q := r.db.Model(&models.Approval{}).Where("approver_id = ?", approverID)
	if scopeType == models.ScopeItem {
		q = q.Where("item_id = ?", scopeID)
	} else {
		q = q.Where("bucket_id = ?", scopeID)
	}
	err := q.Count(&count).Error
	return count > 0, err
}

// HistoryForItem item 自身及其所有版本的审批历史，新到旧
func (r *ApprovalRepositoryImpl) HistoryForItem(itemID uuid.UUID, versionIDs []uuid.UUID) ([]*models.Approval, error) {
	var approvals []*models.Approval
	q := r.db.Order("created_at DESC")
	if len(versionIDs) > 0 {
		q = q.Where("item_id = ? OR version_id IN ?", itemID, versionIDs)
	} else {
		q = q.Where("item_id = ?", itemID)
	}
	err := q.Find(&approvals).Error
	return approvals, err
}

func (r *ApprovalRepositoryImpl) DeleteByVersionIDs(versionIDs []uuid.UUID) error {
	if len(versionIDs) == 0 {
		return nil
	}
	return r.db.Where("version_id IN ?", versionIDs).Delete(&models.Approval{}).Error
}

func (r *ApprovalRepositoryImpl) DeleteByScopeIDs(bucketIDs, itemIDs []uuid.UUID) error {
	if len(bucketIDs) > 0 {
		if err := r.db.Where("bucket_id IN ?", bucketIDs).Delete(&models.Approval{}).Error; err != nil {
			return err
		}
	}
	if len(itemIDs) > 0 {
		if err := r.db.Where("item_id IN ?", itemIDs).Delete(&models.Approval{}).Error; err != nil {
			return err
		}
	}
	return nil
}
