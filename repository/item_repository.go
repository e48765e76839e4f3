package repository

import (
	"github.com/cumulusfs/cumulus/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type ItemRepository interface {
	BaseRepository[models.Item]
	GetByBucketAndKey(bucketID uuid.UUID, key string) (*models.Item, error)
	ListByBucket(bucketID uuid.UUID) ([]*models.Item, error)
	ListByBucketIDs(bucketIDs []uuid.UUID) ([]*models.Item, error)
	ListByIDs(ids []uuid.UUID) ([]*models.Item, error)
	DeleteByIDs(ids []uuid.UUID) error
}

type ItemRepositoryImpl struct {
	*BaseRepositoryImpl[models.Item]
	db *gorm.DB
}

func NewItemRepository(db *gorm.DB) ItemRepository {
	return &ItemRepositoryImpl{
		BaseRepositoryImpl: NewBaseRepository[models.Item](db),
		db:                 db,
	}
}

func (r *ItemRepositoryImpl) GetByBucketAndKey(bucketID uuid.UUID, key string) (*models.Item, error) {
	var item models.Item
	if err := r.db.Where("bucket_id = ? AND key = ?", bucketID, key).First(&item).Error; err != nil {
		return nil, err
	}
	return &item, nil
}

func (r *ItemRepositoryImpl) ListByBucket(bucketID uuid.UUID) ([]*models.Item, error) {
	var items []*models.Item
	err := r.db.Where("bucket_id = ?", bucketID).Find(&items).Error
	return items, err
}

func (r *ItemRepositoryImpl) ListByBucketIDs(bucketIDs []uuid.UUID) ([]*models.Item, error) {
	if len(bucketIDs) == 0 {
		return nil, nil
	}
	var items []*models.Item
	err := r.db.Where("bucket_id IN ?", bucketIDs).Find(&items).Error
	return items, err
}

func (r *ItemRepositoryImpl) ListByIDs(ids []uuid.UUID) ([]*models.Item, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var items []*models.Item
	err := r.db.Where("id IN ?", ids).Find(&items).Error
	return items, err
}

func (r *ItemRepositoryImpl) DeleteByIDs(ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	return r.db.Where("id IN ?", ids).Delete(&models.Item{}).Error
}
