package repository

import (
	"github.com/cumulusfs/cumulus/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type PermissionRepository interface {
	BaseRepository[models.Permission]
	ListByUser(userID uuid.UUID) ([]*models.Permission, error)
	GetBucketGrant(userID, bucketID uuid.UUID) (*models.Permission, error)
	GetItemGrant(userID, itemID uuid.UUID) (*models.Permission, error)
	ListByBucket(bucketID uuid.UUID) ([]*models.Permission, error)
	ListByItem(itemID uuid.UUID) ([]*models.Permission, error)
	ListItemGrantsByUser(userID uuid.UUID) ([]*models.Permission, error)
	DeleteByBucketIDs(bucketIDs []uuid.UUID) error
	DeleteByItemIDs(itemIDs []uuid.UUID) error
}

type PermissionRepositoryImpl struct {
	*BaseRepositoryImpl[models.Permission]
	db *gorm.DB
}

func NewPermissionRepository(db *gorm.DB) PermissionRepository {
	return &PermissionRepositoryImpl{
		BaseRepositoryImpl: NewBaseRepository[models.Permission](db),
		db:                 db,
	}
}

func (r *PermissionRepositoryImpl) ListByUser(userID uuid.UUID) ([]*models.Permission, error) {
	var perms []*models.Permission
	err := r.db.Where("user_id = ?", userID).Find(&perms).Error
	return perms, err
}

func (r *PermissionRepositoryImpl) GetBucketGrant(userID, bucketID uuid.UUID) (*models.Permission, error) {
	var perm models.Permission
	err := r.db.Where("user_id = ? AND bucket_id = ?", userID, bucketID).First(&perm).Error
	if err != nil {
		return nil, err
	}
	return &perm, nil
}

func (r *PermissionRepositoryImpl) GetItemGrant(userID, itemID uuid.UUID) (*models.Permission, error) {
	var perm models.Permission
	err := r.db.Where("user_id = ? AND item_id = ?", userID, itemID).First(&perm).Error
	if err != nil {
		return nil, err
	}
	return &perm, nil
}

func (r *PermissionRepositoryImpl) ListByBucket(bucketID uuid.UUID) ([]*models.Permission, error) {
	var perms []*models.Permission
	err := r.db.Preload("User").Where("bucket_id = ?", bucketID).Find(&perms).Error
	return perms, err
}

func (r *PermissionRepositoryImpl) ListByItem(itemID uuid.UUID) ([]*models.Permission, error) {
	var perms []*models.Permission
	err := r.db.Preload("User").Where("item_id = ?", itemID).Find(&perms).Error
	return perms, err
}

func (r *PermissionRepositoryImpl) ListItemGrantsByUser(userID uuid.UUID) ([]*models.Permission, error) {
	var perms []*models.Permission
	err := r.db.Where("user_id = ? AND item_id IS NOT NULL", userID).Find(&perms).Error
	return perms, err
}

func (r *PermissionRepositoryImpl) DeleteByBucketIDs(bucketIDs []uuid.UUID) error {
	if len(bucketIDs) == 0 {
		return nil
	}
	return r.db.Where("bucket_id IN ?", bucketIDs).Delete(&models.Permission{}).Error
}

func (r *PermissionRepositoryImpl) DeleteByItemIDs(itemIDs []uuid.UUID) error {
	if len(itemIDs) == 0 {
		return nil
	}
	return r.db.Where("item_id IN ?", itemIDs).Delete(&models.Permission{}).Error
}
