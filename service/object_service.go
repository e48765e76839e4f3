package service

import (
	"context"
	"errors"
	"io"
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

type UploadResult struct {
	Item             *models.Item    `json:"item"`
	Version          *models.Version `json:"version"`
	RequiresApproval bool            `json:"requiresApproval"`
}

type ObjectService interface {
	Upload(ctx context.Context, actorID, bucketID uuid.UUID, key string, data []byte, notes string) (*UploadResult, error)
	Download(ctx context.Context, actorID, bucketID uuid.UUID, key string) (io.ReadCloser, *models.Version, error)
	DownloadVersion(ctx context.Context, actorID, versionID uuid.UUID) (io.ReadCloser, *models.Version, error)
	DeleteVersion(ctx context.Context, actorID, versionID uuid.UUID) error
	DeleteItem(ctx context.Context, actorID, itemID uuid.UUID) error
	AssignPermission(actorID, itemID uuid.UUID, email, permissionType string) (*models.Permission, error)
	RevokePermission(actorID, itemID uuid.UUID, email string) error
	AccessList(actorID, itemID uuid.UUID) ([]*models.Permission, error)
}

type ObjectServiceImpl struct {
	db          *gorm.DB
	store       storage.Store
	permissions PermissionService
	publisher   events.Publisher
}

func NewObjectService(db *gorm.DB, store storage.Store, permissions PermissionService, publisher events.Publisher) ObjectService {
	return &ObjectServiceImpl{db: db, store: store, permissions: permissions, publisher: publisher}
}

// Upload 写入一个新版本。数据库状态先在事务里定型，blob 提交后才写：
// 失败时返回 TransientStorage，行已存在，重传同内容会撞 etag 冲突，
// 调用方应先删版本再重试。
func (s *ObjectServiceImpl) Upload(ctx context.Context, actorID, bucketID uuid.UUID, key string, data []byte, notes string) (*UploadResult, error) {
	if key == "" {
		return nil, apperr.Invalid("object key is required")
	}
	etag := storage.ETag(data)

	type uploadPlan struct {
		result        *UploadResult
		blobPath      string
		replacedPaths []string
	}
	plan, err := database.Transaction(s.db, func(tx *gorm.DB) (*uploadPlan, error) {
		buckets := repository.NewBucketRepository(tx)
		bucket, err := buckets.GetByID(bucketID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, apperr.NotFound("bucket not found")
			}
			return nil, err
		}

		users := repository.NewUserRepository(tx)
		actor, err := users.GetByID(actorID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, apperr.Unauthorized("unknown user")
			}
			return nil, err
		}

		items := repository.NewItemRepository(tx)
		item, err := items.GetByBucketAndKey(bucketID, key)
		if err != nil {
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, err
			}
			access, err := s.permissions.ResolveBucketAccess(tx, actorID, bucketID)
			if err != nil {
				return nil, err
			}
			if access.Level < AccessWrite {
				return nil, apperr.Unauthorized("no write access to bucket")
			}
			// 新 item 继承 bucket 的审批设置和默认审批组
			item = &models.Item{
				BucketID:          bucketID,
				Key:               key,
				OwnerID:           actorID,
				VersioningEnabled: true,
				OwnerAutoApproves: bucket.OwnerAutoApproves,
				ApprovalStatus:    models.VersionPending,
			}
			if bucket.RequiresApproval {
				item.RequiresApproval = true
				item.DefaultApproverID = bucket.DefaultApproverID
			}
			if err := items.Create(item); err != nil {
				return nil, err
			}
			ownerGrant := &models.Permission{
				ItemID:         &item.ID,
				UserID:         actorID,
				PermissionType: models.PermissionWrite,
			}
			if err := repository.NewPermissionRepository(tx).Create(ownerGrant); err != nil {
				return nil, err
			}
			// bucket 没配默认审批组时才给 item 自建一个
			if item.RequiresApproval && item.DefaultApproverID == nil {
				approver, err := ensureScopeApprover(tx, models.ScopeItem, item.ID, actor)
				if err != nil {
					return nil, err
				}
				item.DefaultApproverID = &approver.ID
			}
		} else {
			access, err := s.permissions.ResolveItemAccess(tx, actorID, item.ID)
			if err != nil {
				return nil, err
			}
			if access.Level < AccessWrite {
				return nil, apperr.Unauthorized("no write access to item")
			}
		}

		versions := repository.NewVersionRepository(tx)
		existing, err := versions.LockItemVersions(item.ID)
		if err != nil {
			return nil, err
		}
		for _, v := range existing {
			if v.IsLatest && v.ETag == etag {
				return nil, apperr.Conflict("identical content already stored")
			}
		}

		plan := &uploadPlan{}

		// 版本化关闭的 item 只保留一个版本，旧的连行带 blob 一起换掉
		if !item.VersioningEnabled && len(existing) > 0 {
			ids := make([]uuid.UUID, 0, len(existing))
			for _, v := range existing {
				ids = append(ids, v.ID)
				plan.replacedPaths = append(plan.replacedPaths,
					storage.ObjectPath(item.BucketID.String(), item.Key, v.ID.String()))
			}
			if err := repository.NewApprovalRepository(tx).DeleteByVersionIDs(ids); err != nil {
				return nil, err
			}
			if err := versions.DeleteByIDs(ids); err != nil {
				return nil, err
			}
			existing = nil
		}

		version := &models.Version{
			ItemID:     item.ID,
			UploaderID: actorID,
			Size:       int64(len(data)),
			ETag:       etag,
			Notes:      notes,
			Status:     models.VersionPending,
		}

		requiresApproval := item.RequiresApproval || bucket.RequiresApproval
		ownerAutoApproves := actorID == item.OwnerID &&
			(item.OwnerAutoApproves || bucket.OwnerAutoApproves)

		approver, err := s.routedApprover(tx, item, bucket)
		if err != nil {
			return nil, err
		}
		if approver != nil {
			version.ApproverID = &approver.ID
		}

		switch {
		case len(existing) == 0:
			// 首版本引导：没有已批准的内容可以保护，直接可见
			version.Status = models.VersionApproved
			version.IsLatest = true
			if err := versions.Create(version); err != nil {
				return nil, err
			}
			if approver != nil {
				if err := recordDecision(tx, version.ID, approver.ID, actorID,
					models.DecisionApproved, "auto-approved initial version"); err != nil {
					return nil, err
				}
			}
		case !requiresApproval || ownerAutoApproves:
			comment := "approval not required"
			if requiresApproval {
				comment = "auto-approved by owner"
			}
			version.Status = models.VersionApproved
			if err := versions.DemoteLatest(item.ID); err != nil {
				return nil, err
			}
			version.IsLatest = true
			if err := versions.Create(version); err != nil {
				return nil, err
			}
			if approver != nil {
				if err := recordDecision(tx, version.ID, approver.ID, actorID,
					models.DecisionApproved, comment); err != nil {
					return nil, err
				}
			}
		default:
			// 待审版本不碰 isLatest，批准后才晋升
			if err := versions.Create(version); err != nil {
				return nil, err
			}
			if approver != nil {
				if err := openPendingApprovals(tx, version.ID, approver); err != nil {
					return nil, err
				}
			}
			// 没有任何审批组时版本停在 pending，等所有者配置后重审
		}

		item.ApprovalStatus = version.Status
		if err := items.Update(item); err != nil {
			return nil, err
		}

		plan.blobPath = storage.ObjectPath(item.BucketID.String(), item.Key, version.ID.String())
		plan.result = &UploadResult{
			Item:             item,
			Version:          version,
			RequiresApproval: version.Status == models.VersionPending,
		}
		return plan, nil
	})
	if err != nil {
		metrics.UploadsTotal.WithLabelValues("failed").Inc()
		return nil, err
	}

	for _, p := range plan.replacedPaths {
		if err := s.store.Delete(ctx, p); err != nil {
			logrus.WithError(err).WithField("path", p).Warn("delete replaced blob")
		}
	}
	if err := s.store.Put(ctx, plan.blobPath, data); err != nil {
		metrics.UploadsTotal.WithLabelValues("storage_failed").Inc()
		return nil, apperr.TransientStorage(err, "version recorded but content could not be stored")
	}

	metrics.UploadsTotal.WithLabelValues(plan.result.Version.Status).Inc()
	s.publisher.Publish(ctx, events.Event{
		Type:      events.TypeVersionUploaded,
		ActorID:   actorID.String(),
		Resource:  plan.result.Version.ID.String(),
		Detail:    plan.result.Item.Key,
		Timestamp: time.Now(),
	})
	return plan.result, nil
}

// routedApprover 审批路由目标：item 默认审批组 → item 作用域的组 →
// bucket 默认审批组 → bucket 作用域的组，找不到返回 nil
func (s *ObjectServiceImpl) routedApprover(tx *gorm.DB, item *models.Item, bucket *models.Bucket) (*models.Approver, error) {
	approvers := repository.NewApproverRepository(tx)
	if item.DefaultApproverID != nil {
		if a, err := approvers.GetWithUsers(*item.DefaultApproverID); err == nil {
			return a, nil
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}
	if a, err := approvers.GetByScope(models.ScopeItem, item.ID); err == nil {
		return a, nil
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	if bucket.DefaultApproverID != nil {
		if a, err := approvers.GetWithUsers(*bucket.DefaultApproverID); err == nil {
			return a, nil
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}
	if a, err := approvers.GetByScope(models.ScopeBucket, bucket.ID); err == nil {
		return a, nil
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	return nil, nil
}

func recordDecision(tx *gorm.DB, versionID, approverID, actingUserID uuid.UUID, decision, comments string) error {
	return repository.NewApprovalRepository(tx).Create(&models.Approval{
		VersionID:    &versionID,
		ApproverID:   approverID,
		ActingUserID: &actingUserID,
		Decision:     decision,
		Comments:     comments,
	})
}

// openPendingApprovals standard 组开一条共享待决记录（谁先批谁回填
// ActingUserID），unanimous 给每个成员各开一条
func openPendingApprovals(tx *gorm.DB, versionID uuid.UUID, approver *models.Approver) error {
	approvals := repository.NewApprovalRepository(tx)
	if approver.ApprovalType == models.ApprovalUnanimous && len(approver.Users) > 0 {
		for i := range approver.Users {
			memberID := approver.Users[i].ID
			row := &models.Approval{
				VersionID:    &versionID,
				ApproverID:   approver.ID,
				ActingUserID: &memberID,
				Decision:     models.DecisionPending,
			}
			if err := approvals.Create(row); err != nil {
				return err
			}
		}
		return nil
	}
	return approvals.Create(&models.Approval{
		VersionID:  &versionID,
		ApproverID: approver.ID,
		Decision:   models.DecisionPending,
	})
}

func (s *ObjectServiceImpl) Download(ctx context.Context, actorID, bucketID uuid.UUID, key string) (io.ReadCloser, *models.Version, error) {
	item, err := repository.NewItemRepository(s.db).GetByBucketAndKey(bucketID, key)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, apperr.NotFound("object not found")
		}
		return nil, nil, err
	}
	access, err := s.permissions.ResolveItemAccess(s.db, actorID, item.ID)
	if err != nil {
		return nil, nil, err
	}
	if access.Level < AccessView {
		return nil, nil, apperr.Unauthorized("no access to object")
	}
	latest, err := repository.NewVersionRepository(s.db).GetLatest(item.ID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, apperr.NotFound("no approved version available")
		}
		return nil, nil, err
	}
	rc, err := s.store.Open(ctx, storage.ObjectPath(item.BucketID.String(), item.Key, latest.ID.String()))
	if err != nil {
		return nil, nil, apperr.TransientStorage(err, "stored content unavailable")
	}
	return rc, latest, nil
}

// DownloadVersion 下载指定版本：已批准的对任何有 view 权限的人可见，
// 未批准的只有上传者本人能取回
func (s *ObjectServiceImpl) DownloadVersion(ctx context.Context, actorID, versionID uuid.UUID) (io.ReadCloser, *models.Version, error) {
	version, err := repository.NewVersionRepository(s.db).GetByID(versionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, apperr.NotFound("version not found")
		}
		return nil, nil, err
	}
	item, err := repository.NewItemRepository(s.db).GetByID(version.ItemID)
	if err != nil {
		return nil, nil, err
	}
	access, err := s.permissions.ResolveItemAccess(s.db, actorID, item.ID)
	if err != nil {
		return nil, nil, err
	}
	if access.Level < AccessView {
		return nil, nil, apperr.Unauthorized("no access to object")
	}
	if version.Status != models.VersionApproved && version.UploaderID != actorID && access.Level < AccessOwner {
		return nil, nil, apperr.Unauthorized("version is not approved")
	}
	rc, err := s.store.Open(ctx, storage.ObjectPath(item.BucketID.String(), item.Key, version.ID.String()))
	if err != nil {
		return nil, nil, apperr.TransientStorage(err, "stored content unavailable")
	}
	return rc, version, nil
}

// DeleteVersion 删除单个版本。版本化开启时 latest 不可删，历史链
// 必须经由 item 删除整体退场。
func (s *ObjectServiceImpl) DeleteVersion(ctx context.Context, actorID, versionID uuid.UUID) error {
	type plan struct{ blobPath string }
	p, err := database.Transaction(s.db, func(tx *gorm.DB) (*plan, error) {
		versions := repository.NewVersionRepository(tx)
		version, err := versions.GetByID(versionID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, apperr.NotFound("version not found")
			}
			return nil, err
		}
		item, err := repository.NewItemRepository(tx).GetByID(version.ItemID)
		if err != nil {
			return nil, err
		}
		access, err := s.permissions.ResolveItemAccess(tx, actorID, item.ID)
		if err != nil {
			return nil, err
		}
		if access.Level < AccessOwner {
			return nil, apperr.Unauthorized("only the owner can delete versions")
		}
		if version.IsLatest && item.VersioningEnabled {
			return nil, apperr.Conflict("cannot delete the latest version while versioning is enabled")
		}
		if err := repository.NewApprovalRepository(tx).DeleteByVersionIDs([]uuid.UUID{version.ID}); err != nil {
			return nil, err
		}
		if err := versions.Delete(version.ID); err != nil {
			return nil, err
		}
		return &plan{
			blobPath: storage.ObjectPath(item.BucketID.String(), item.Key, version.ID.String()),
		}, nil
	})
	if err != nil {
		return err
	}
	if err := s.store.Delete(ctx, p.blobPath); err != nil {
		logrus.WithError(err).WithField("path", p.blobPath).Warn("delete version blob")
		return apperr.TransientStorage(err, "version removed but content could not be deleted")
	}
	return nil
}

// DeleteItem 整个 item 连同全部版本、授权、审批组退场
func (s *ObjectServiceImpl) DeleteItem(ctx context.Context, actorID, itemID uuid.UUID) error {
	type plan struct{ blobPaths []string }
	p, err := database.Transaction(s.db, func(tx *gorm.DB) (*plan, error) {
		item, err := repository.NewItemRepository(tx).GetByID(itemID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, apperr.NotFound("item not found")
			}
			return nil, err
		}
		access, err := s.permissions.ResolveItemAccess(tx, actorID, item.ID)
		if err != nil {
			return nil, err
		}
		if access.Level < AccessOwner {
			return nil, apperr.Unauthorized("only the owner can delete an item")
		}

		versions, err := repository.NewVersionRepository(tx).ListByItem(item.ID)
		if err != nil {
			return nil, err
		}
		p := &plan{}
		versionIDs := make([]uuid.UUID, 0, len(versions))
		for _, v := range versions {
			versionIDs = append(versionIDs, v.ID)
			p.blobPaths = append(p.blobPaths,
				storage.ObjectPath(item.BucketID.String(), item.Key, v.ID.String()))
		}

		approvals := repository.NewApprovalRepository(tx)
		if err := approvals.DeleteByVersionIDs(versionIDs); err != nil {
			return nil, err
		}
		if err := approvals.DeleteByScopeIDs(nil, []uuid.UUID{item.ID}); err != nil {
			return nil, err
		}
		if err := repository.NewApproverRepository(tx).DeleteByScopes(models.ScopeItem, []uuid.UUID{item.ID}); err != nil {
			return nil, err
		}
		if err := repository.NewPermissionRepository(tx).DeleteByItemIDs([]uuid.UUID{item.ID}); err != nil {
			return nil, err
		}
		if err := repository.NewVersionRepository(tx).DeleteByItemIDs([]uuid.UUID{item.ID}); err != nil {
			return nil, err
		}
		return p, repository.NewItemRepository(tx).Delete(item.ID)
	})
	if err != nil {
		return err
	}
	failed := 0
	for _, path := range p.blobPaths {
		if err := s.store.Delete(ctx, path); err != nil {
			failed++
			logrus.WithError(err).WithField("path", path).Warn("delete blob after item removal")
		}
	}
	if failed > 0 {
		return apperr.TransientStorage(nil, "item removed but some stored objects could not be deleted")
	}
	return nil
}

func (s *ObjectServiceImpl) AssignPermission(actorID, itemID uuid.UUID, email, permissionType string) (*models.Permission, error) {
	return database.Transaction(s.db, func(tx *gorm.DB) (*models.Permission, error) {
		access, err := s.permissions.ResolveItemAccess(tx, actorID, itemID)
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
		return s.permissions.AssignItemGrant(tx, target.ID, itemID, permissionType)
	})
}

func (s *ObjectServiceImpl) RevokePermission(actorID, itemID uuid.UUID, email string) error {
	_, err := database.Transaction(s.db, func(tx *gorm.DB) (struct{}, error) {
		access, err := s.permissions.ResolveItemAccess(tx, actorID, itemID)
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
		return struct{}{}, s.permissions.RevokeItemGrant(tx, target.ID, itemID)
	})
	return err
}

func (s *ObjectServiceImpl) AccessList(actorID, itemID uuid.UUID) ([]*models.Permission, error) {
	access, err := s.permissions.ResolveItemAccess(s.db, actorID, itemID)
	if err != nil {
		return nil, err
	}
	if access.Level < AccessView {
		return nil, apperr.Unauthorized("no access to item")
	}
	return repository.NewPermissionRepository(s.db).ListByItem(itemID)
}
