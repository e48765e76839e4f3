package repository

import (
	"github.com/cumulusfs/cumulus/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type VersionRepository interface {
	BaseRepository[models.Version]
	GetLatest(itemID uuid.UUID) (*models.Version, error)
	ListByItem(itemID uuid.UUID) ([]*models.Version, error)
	ListByItemIDs(itemIDs []uuid.UUID) ([]*models.Version, error)
	LockItemVersions(itemID uuid.UUID) ([]*models.Version, error)
	DemoteLatest(itemID uuid.UUID) error
	PendingItemIDsForApprovers(approverIDs []uuid.UUID) ([]uuid.UUID, error)
	DeleteByItemIDs(itemIDs []uuid.UUID) error
	DeleteByIDs(ids []uuid.UUID) error
}

type VersionRepositoryImpl struct {
	*BaseRepositoryImpl[models.Version]
	db *gorm.DB
}

func NewVersionRepository(db *gorm.DB) VersionRepository {
	return &VersionRepositoryImpl{
		BaseRepositoryImpl: NewBaseRepository[models.Version](db),
		db:                 db,
	}
}

func (r *VersionRepositoryImpl) GetLatest(itemID uuid.UUID) (*models.Version, error) {
	var version models.Version
	err := r.db.Where("item_id = ? AND is_latest = ?", itemID, true).First(&version).Error
	if err != nil {
		return nil, err
	}
	return &version, nil
}

func (r *VersionRepositoryImpl) ListByItem(itemID uuid.UUID) ([]*models.Version, error) {
	var versions []*models.Version
	err := r.db.Where("item_id = ?", itemID).Order("created_at DESC").Find(&versions).Error
	return versions, err
}

func (r *VersionRepositoryImpl) ListByItemIDs(itemIDs []uuid.UUID) ([]*models.Version, error) {
	if len(itemIDs) == 0 {
		return nil, nil
	}
	var versions []*models.Version
	err := r.db.Where("item_id IN ?", itemIDs).Order("created_at DESC").Find(&versions).Error
	return versions, err
}

// LockItemVersions 在晋升 isLatest 前串行化同一 item 的版本集合，
// 两个并发审批不会同时拿到 isLatest=true。sqlite 单写者，不支持
// FOR UPDATE，跳过加锁子句。
func (r *VersionRepositoryImpl) LockItemVersions(itemID uuid.UUID) ([]*models.Version, error) {
	q := r.db.Where("item_id = ?", itemID)
	if r.db.Dialector.Name() == "postgres" {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var versions []*models.Version
	err := q.Find(&versions).Error
	return versions, err
}

// DemoteLatest 把 item 当前的 latest 摘掉，必须与晋升同事务执行
func (r *VersionRepositoryImpl) DemoteLatest(itemID uuid.UUID) error {
	return r.db.Model(&models.Version{}).
		Where("item_id = ? AND is_latest = ?", itemID, true).
		Update("is_latest", false).Error
}

// PendingItemIDsForApprovers 路由给这些审批组且待决的版本所属 item
func (r *VersionRepositoryImpl) PendingItemIDsForApprovers(approverIDs []uuid.UUID) ([]uuid.UUID, error) {
	if len(approverIDs) == 0 {
		return nil, nil
	}
	var ids []uuid.UUID
	err := r.db.Model(&models.Version{}).
		Distinct("item_id").
		Where("approver_id IN ? AND status = ?", approverIDs, models.VersionPending).
		Pluck("item_id", &ids).Error
	return ids, err
}

func (r *VersionRepositoryImpl) DeleteByItemIDs(itemIDs []uuid.UUID) error {
	if len(itemIDs) == 0 {
		return nil
	}
	return r.db.Where("item_id IN ?", itemIDs).Delete(&models.Version{}).Error
}

func (r *VersionRepositoryImpl) DeleteByIDs(ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	return r.db.Where("id IN ?", ids).Delete(&models.Version{}).Error
}
