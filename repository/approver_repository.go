package repository

import (
	"github.com/cumulusfs/cumulus/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type ApproverRepository interface {
	BaseRepository[models.Approver]
	GetByScope(scopeType string, scopeID uuid.UUID) (*models.Approver, error)
	GetWithUsers(id uuid.UUID) (*models.Approver, error)
	ListByScope(scopeType string, scopeID uuid.UUID) ([]*models.Approver, error)
	GroupsForUser(userID uuid.UUID) ([]*models.Approver, error)
	AddMember(approver *models.Approver, user *models.User) error
	RemoveMember(approver *models.Approver, userID uuid.UUID) error
	IsMember(approverIDs []uuid.UUID, userID uuid.UUID) (bool, error)
	DeleteByScopes(scopeType string, scopeIDs []uuid.UUID) error
}

type ApproverRepositoryImpl struct {
	*BaseRepositoryImpl[models.Approver]
	db *gorm.DB
}

func NewApproverRepository(db *gorm.DB) ApproverRepository {
	return &ApproverRepositoryImpl{
		BaseRepositoryImpl: NewBaseRepository[models.Approver](db),
		db:                 db,
	}
}

func (r *ApproverRepositoryImpl) GetByScope(scopeType string, scopeID uuid.UUID) (*models.Approver, error) {
	var approver models.Approver
	err := r.db.Preload("Users").
		Where("scope_type = ? AND scope_id = ?", scopeType, scopeID).
		First(&approver).Error
	if err != nil {
		return nil, err
	}
	return &approver, nil
}

func (r *ApproverRepositoryImpl) GetWithUsers(id uuid.UUID) (*models.Approver, error) {
	var approver models.Approver
	err := r.db.Preload("Users").First(&approver, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &approver, nil
}

func (r *ApproverRepositoryImpl) ListByScope(scopeType string, scopeID uuid.UUID) ([]*models.Approver, error) {
	var approvers []*models.Approver
	err := r.db.Preload("Users").
		Where("scope_type = ? AND scope_id = ?", scopeType, scopeID).
		Find(&approvers).Error
	return approvers, err
}

// GroupsForUser 用户所属的全部审批组
func (r *ApproverRepositoryImpl) GroupsForUser(userID uuid.UUID) ([]*models.Approver, error) {
	var approvers []*models.Approver
	err := r.db.
		Joins("JOIN approver_users au ON au.approver_id = approvers.id").
		Where("au.user_id = ?", userID).
		Find(&approvers).Error
	return approvers, err
}

func (r *ApproverRepositoryImpl) AddMember(approver *models.Approver, user *models.User) error {
	return r.db.Model(approver).Association("Users").Append(user)
}

func (r *ApproverRepositoryImpl) RemoveMember(approver *models.Approver, userID uuid.UUID) error {
	return r.db.Model(approver).Association("Users").Delete(&models.User{Base: models.Base{ID: userID}})
}

func (r *ApproverRepositoryImpl) IsMember(approverIDs []uuid.UUID, userID uuid.UUID) (bool, error) {
	if len(approverIDs) == 0 {
		return false, nil
	}
	var count int64
	err := r.db.Table("approver_users").
		Where("approver_id IN ? AND user_id = ?", approverIDs, userID).
		Count(&count).Error
	return count > 0, err
}

// DeleteByScopes 级联删除时清理审批组及其成员关联
func (r *ApproverRepositoryImpl) DeleteByScopes(scopeType string, scopeIDs []uuid.UUID) error {
	if len(scopeIDs) == 0 {
		return nil
	}
	var approverIDs []uuid.UUID
	err := r.db.Model(&models.Approver{}).
		Where("scope_type = ? AND scope_id IN ?", scopeType, scopeIDs).
		Pluck("id", &approverIDs).Error
	if err != nil || len(approverIDs) == 0 {
		return err
	}
	if err := r.db.Exec("DELETE FROM approver_users WHERE approver_id IN ?", approverIDs).Error; err != nil {
		return err
	}
	return r.db.Where("id IN ?", approverIDs).Delete(&models.Approver{}).Error
}
