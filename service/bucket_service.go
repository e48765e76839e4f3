package service

import (
	"context"
	"errors"
	"time"

	"github.com/cumulusfs/cumulus/database"
	"github.com/cumulusfs/cumulus/models"
	"github.com/cumulusfs/cumulus/pkg/apperr"
	"github.com/cumulusfs/cumulus/pkg/events"
	"github.com/cumulusfs/cumulus/pkg/metrics"
	"github.com/cumulusfs/cumulus/repository"
	"github.com/cumulusfs/cumulus/storage"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

type BucketService interface {
	Create(actorID uuid.UUID, name string, parentID *uuid.UUID) (*models.Bucket, error)
	Get(actorID, bucketID uuid.UUID) (*models.Bucket, error)
	Delete(ctx context.Context, actorID, bucketID uuid.UUID) error
	AssignPermission(actorID, bucketID uuid.UUID, email, permissionType string) (*models.Permission, error)
	RevokePermission(actorID, bucketID uuid.UUID, email string) error
	AccessList(actorID, bucketID uuid.UUID) ([]*models.Permission, error)
}

type BucketServiceImpl struct {
	db          *gorm.DB
	store       storage.Store
	permissions PermissionService
	publisher   events.Publisher
}

func NewBucketService(db *gorm.DB, store storage.Store, permissions PermissionService, publisher events.Publisher) BucketService {
	return &BucketServiceImpl{db: db, store: store, permissions: permissions, publisher: publisher}
}

func (s *BucketServiceImpl) Create(actorID uuid.UUID, name string, parentID *uuid.UUID) (*models.Bucket, error) {
	if name == "" {
		return nil, apperr.Invalid("bucket name is required")
	}
	return database.Transaction(s.db, func(tx *gorm.DB) (*models.Bucket, error) {
		actor, err := repository.NewUserRepository(tx).GetByID(actorID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, apperr.Unauthorized("unknown user")
			}
			return nil, err
		}

		if parentID != nil {
			access, err := s.permissions.ResolveBucketAccess(tx, actorID, *parentID)
			if err != nil {
				return nil, err
			}
			if access.Level < AccessWrite {
				return nil, apperr.Unauthorized("no write access to parent bucket")
			}
		}

		buckets := repository.NewBucketRepository(tx)
		if _, err := buckets.FindDuplicate(name, actorID, parentID); err == nil {
			return nil, apperr.Conflict("bucket %q already exists here", name)
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}

		bucket := &models.Bucket{
			Name:              name,
			ParentID:          parentID,
			OwnerID:           actorID,
			RequiresApproval:  true,
			OwnerAutoApproves: true,
			ApprovalStatus:    models.VersionApproved,
		}
		if err := buckets.Create(bucket); err != nil {
			return nil, err
		}

		// 所有者的 write 授权行向后代级联，列表解析无需特判所有权以外的路径
		perm := &models.Permission{
			BucketID:       &bucket.ID,
			UserID:         actorID,
			PermissionType: models.PermissionWrite,
			Inherited:      true,
		}
		if err := repository.NewPermissionRepository(tx).Create(perm); err != nil {
			return nil, err
		}

		approver, err := ensureScopeApprover(tx, models.ScopeBucket, bucket.ID, actor)
		if err != nil {
			return nil, err
		}
		bucket.DefaultApproverID = &approver.ID
		if err := buckets.Update(bucket); err != nil {
			return nil, err
		}
		return bucket, nil
	})
}

func (s *BucketServiceImpl) Get(actorID, bucketID uuid.UUID) (*models.Bucket, error) {
	access, err := s.permissions.ResolveBucketAccess(s.db, actorID, bucketID)
	if err != nil {
		return nil, err
	}
	if access.Level < AccessView {
		return nil, apperr.Unauthorized("no access to bucket")
	}
	return repository.NewBucketRepository(s.db).GetByID(bucketID)
}

// Delete 级联删除 bucket 子树：后代 bucket、item、版本、授权、审批人、
// 审批记录都在同一事务里删掉。blob 在提交之后删除，失败只降级为
// TransientStorage，数据库状态已经是删除后的。
func (s *BucketServiceImpl) Delete(ctx context.Context, actorID, bucketID uuid.UUID) error {
	type deletePlan struct {
		blobPaths []string
	}
	plan, err := database.Transaction(s.db, func(tx *gorm.DB) (*deletePlan, error) {
		access, err := s.permissions.ResolveBucketAccess(tx, actorID, bucketID)
		if err != nil {
			return nil, err
		}
		if access.Level < AccessOwner {
			return nil, apperr.Unauthorized("only the owner can delete a bucket")
		}

		buckets := repository.NewBucketRepository(tx)

		// 工作队列收集整棵子树
		bucketIDs := []uuid.UUID{bucketID}
		visited := map[uuid.UUID]bool{bucketID: true}
		frontier := []uuid.UUID{bucketID}
		for len(frontier) > 0 {
			children, err := buckets.ListChildIDs(frontier)
			if err != nil {
				return nil, err
			}
			frontier = frontier[:0]
			for _, id := range children {
				if !visited[id] {
					visited[id] = true
					bucketIDs = append(bucketIDs, id)
					frontier = append(frontier, id)
				}
			}
		}

		items, err := repository.NewItemRepository(tx).ListByBucketIDs(bucketIDs)
		if err != nil {
			return nil, err
		}
		itemIDs := make([]uuid.UUID, 0, len(items))
		itemByID := make(map[uuid.UUID]*models.Item, len(items))
		for _, it := range items {
			itemIDs = append(itemIDs, it.ID)
			itemByID[it.ID] = it
		}

		versions, err := repository.NewVersionRepository(tx).ListByItemIDs(itemIDs)
		if err != nil {
			return nil, err
		}
		plan := &deletePlan{}
		versionIDs := make([]uuid.UUID, 0, len(versions))
		for _, v := range versions {
			versionIDs = append(versionIDs, v.ID)
			if item := itemByID[v.ItemID]; item != nil {
				plan.blobPaths = append(plan.blobPaths,
					storage.ObjectPath(item.BucketID.String(), item.Key, v.ID.String()))
			}
		}

		approvals := repository.NewApprovalRepository(tx)
		if err := approvals.DeleteByVersionIDs(versionIDs); err != nil {
			return nil, err
		}
		if err := approvals.DeleteByScopeIDs(bucketIDs, itemIDs); err != nil {
			return nil, err
		}
		approvers := repository.NewApproverRepository(tx)
		if err := approvers.DeleteByScopes(models.ScopeBucket, bucketIDs); err != nil {
			return nil, err
		}
		if err := approvers.DeleteByScopes(models.ScopeItem, itemIDs); err != nil {
			return nil, err
		}
		perms := repository.NewPermissionRepository(tx)
		if err := perms.DeleteByBucketIDs(bucketIDs); err != nil {
			return nil, err
		}
		if err := perms.DeleteByItemIDs(itemIDs); err != nil {
			return nil, err
		}
		if err := repository.NewVersionRepository(tx).DeleteByItemIDs(itemIDs); err != nil {
			return nil, err
		}
		if err := repository.NewItemRepository(tx).DeleteByIDs(itemIDs); err != nil {
			return nil, err
		}
		if err := buckets.DeleteByIDs(bucketIDs); err != nil {
			return nil, err
		}
		return plan, nil
	})
	if err != nil {
		return err
	}

	metrics.BucketsDeleted.Inc()
	s.publisher.Publish(ctx, events.Event{
		Type:      events.TypeBucketDeleted,
		ActorID:   actorID.String(),
		Resource:  bucketID.String(),
		Timestamp: time.Now(),
	})

	failed := 0
	for _, p := range plan.blobPaths {
		if err := s.store.Delete(ctx, p); err != nil {
			failed++
			logrus.WithError(err).WithField("path", p).Warn("delete blob after bucket removal")
		}
	}
	if failed > 0 {
		return apperr.TransientStorage(nil, "bucket removed but some stored objects could not be deleted")
	}
	return nil
}

func (s *BucketServiceImpl) AssignPermission(actorID, bucketID uuid.UUID, email, permissionType string) (*models.Permission, error) {
	return database.Transaction(s.db, func(tx *gorm.DB) (*models.Permission, error) {
		access, err := s.permissions.ResolveBucketAccess(tx, actorID, bucketID)
		if err != nil {
			return nil, err
		}
		if access.Level < AccessOwner {
			return nil, apperr.Unauthorized("only the owner can manage permissions")
		}
		target, err := repository.NewUserRepository(tx).GetByEmail(email)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, apperr.NotFound("user %s not found", email)
			}
			return nil, err
		}
		return s.permissions.AssignBucketGrant(tx, target.ID, bucketID, permissionType)
	})
}

func (s *BucketServiceImpl) RevokePermission(actorID, bucketID uuid.UUID, email string) error {
	_, err := database.Transaction(s.db, func(tx *gorm.DB) (struct{}, error) {
		access, err := s.permissions.ResolveBucketAccess(tx, actorID, bucketID)
		if err != nil {
			return struct{}{}, err
		}
		if access.Level < AccessOwner {
			return struct{}{}, apperr.Unauthorized("only the owner can manage permissions")
		}
		target, err := repository.NewUserRepository(tx).GetByEmail(email)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return struct{}{}, apperr.NotFound("user %s not found", email)
			}
			return struct{}{}, err
		}
		return struct{}{}, s.permissions.RevokeBucketGrant(tx, target.ID, bucketID)
	})
	return err
}

func (s *BucketServiceImpl) AccessList(actorID, bucketID uuid.UUID) ([]*models.Permission, error) {
	access, err := s.permissions.ResolveBucketAccess(s.db, actorID, bucketID)
	if err != nil {
		return nil, err
	}
	if access.Level < AccessView {
		return nil, apperr.Unauthorized("no access to bucket")
	}
	return repository.NewPermissionRepository(s.db).ListByBucket(bucketID)
}
