package repository

import (
	"github.com/cumulusfs/cumulus/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type BucketRepository interface {
	BaseRepository[models.Bucket]
	FindDuplicate(name string, ownerID uuid.UUID, parentID *uuid.UUID) (*models.Bucket, error)
	GetByName(name string) (*models.Bucket, error)
	ListChildren(parentID uuid.UUID) ([]*models.Bucket, error)
	ListChildIDs(parentIDs []uuid.UUID) ([]uuid.UUID, error)
	ListByIDs(ids []uuid.UUID) ([]*models.Bucket, error)
	ListByOwner(ownerID uuid.UUID) ([]*models.Bucket, error)
	ListRoots() ([]*models.Bucket, error)
	ListAllIDs() ([]uuid.UUID, error)
	DeleteByIDs(ids []uuid.UUID) error
}

type BucketRepositoryImpl struct {
	*BaseRepositoryImpl[models.Bucket]
	db *gorm.DB
}

func NewBucketRepository(db *gorm.DB) BucketRepository {
	return &BucketRepositoryImpl{
		BaseRepositoryImpl: NewBaseRepository[models.Bucket](db),
		db:                 db,
	}
}

// FindDuplicate 同一 owner、同一父级下的同名 bucket
func (r *BucketRepositoryImpl) FindDuplicate(name string, ownerID uuid.UUID, parentID *uuid.UUID) (*models.Bucket, error) {
	q := r.db.Where("name = ? AND owner_id = ?", name, ownerID)
	if parentID != nil {
		q = q.Where("parent_id = ?", *parentID)
	} else {
		q = q.Where("parent_id IS NULL")
	}
	var bucket models.Bucket
	if err := q.First(&bucket).Error; err != nil {
		return nil, err
	}
	return &bucket, nil
}

func (r *BucketRepositoryImpl) GetByName(name string) (*models.Bucket, error) {
	var bucket models.Bucket
	if err := r.db.Where("name = ?", name).First(&bucket).Error; err != nil {
		return nil, err
	}
	return &bucket, nil
}

func (r *BucketRepositoryImpl) ListChildren(parentID uuid.UUID) ([]*models.Bucket, error) {
	var buckets []*models.Bucket
	err := r.db.Where("parent_id = ?", parentID).Find(&buckets).Error
	return buckets, err
}

func (r *BucketRepositoryImpl) ListChildIDs(parentIDs []uuid.UUID) ([]uuid.UUID, error) {
	if len(parentIDs) == 0 {
		return nil, nil
	}
	var ids []uuid.UUID
	err := r.db.Model(&models.Bucket{}).
		Where("parent_id IN ?", parentIDs).
		Pluck("id", &ids).Error
	return ids, err
}

func (r *BucketRepositoryImpl) ListByIDs(ids []uuid.UUID) ([]*models.Bucket, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var buckets []*models.Bucket
	err := r.db.Where("id IN ?", ids).Find(&buckets).Error
	return buckets, err
}

func (r *BucketRepositoryImpl) ListByOwner(ownerID uuid.UUID) ([]*models.Bucket, error) {
	var buckets []*models.Bucket
	err := r.db.Where("owner_id = ?", ownerID).Find(&buckets).Error
	return buckets, err
}

func (r *BucketRepositoryImpl) ListRoots() ([]*models.Bucket, error) {
	var buckets []*models.Bucket
	err := r.db.Where("parent_id IS NULL").Find(&buckets).Error
	return buckets, err
}

func (r *BucketRepositoryImpl) ListAllIDs() ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.db.Model(&models.Bucket{}).Pluck("id", &ids).Error
	return ids, err
}

func (r *BucketRepositoryImpl) DeleteByIDs(ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	return r.db.Where("id IN ?", ids).Delete(&models.Bucket{}).Error
}
