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

// VersionService 审批决策。批准是幂等的，拒绝是终态：
// 已拒绝的版本不能再批准，反之亦然（Conflict）。
type VersionService interface {
	Approve(ctx context.Context, actorID, versionID uuid.UUID, comments string) (*models.Version, error)
	Reject(ctx context.Context, actorID, versionID uuid.UUID, comments string) (*models.Version, error)
	ListVersions(actorID, itemID uuid.UUID) ([]*models.Version, error)
}

type VersionServiceImpl struct {
	db          *gorm.DB
	store       storage.Store
	permissions PermissionService
	publisher   events.Publisher
}

func NewVersionService(db *gorm.DB, store storage.Store, permissions PermissionService, publisher events.Publisher) VersionService {
	return &VersionServiceImpl{db: db, store: store, permissions: permissions, publisher: publisher}
}

func (s *VersionServiceImpl) Approve(ctx context.Context, actorID, versionID uuid.UUID, comments string) (*models.Version, error) {
	type outcome struct {
		version  *models.Version
		promoted bool
	}
	out, err := database.Transaction(s.db, func(tx *gorm.DB) (*outcome, error) {
		versions := repository.NewVersionRepository(tx)
		version, err := versions.GetByID(versionID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, apperr.NotFound("version not found")
			}
			return nil, err
		}
		if version.Status == models.VersionApproved {
			return &outcome{version: version}, nil
		}
		if version.Status == models.VersionRejected {
			return nil, apperr.Conflict("version was already rejected")
		}

		admin, routed, err := s.authorizeDecision(tx, actorID, version)
		if err != nil {
			return nil, err
		}

		// 同一 item 的并发决策串行化，isLatest 唯一性靠这里保证
		if _, err := versions.LockItemVersions(version.ItemID); err != nil {
			return nil, err
		}

		approvals := repository.NewApprovalRepository(tx)
		flipped := 0
		for _, row := range routed {
			row.Decision = models.DecisionApproved
			row.Comments = comments
			if row.ActingUserID == nil {
				row.ActingUserID = &actorID
			}
			if err := approvals.Update(row); err != nil {
				return nil, err
			}
			flipped++
		}
		if admin && flipped == 0 {
			// 管理员越权批准：没有路由给他的行，落一条决策记录
			pending, err := approvals.PendingByVersion(version.ID)
			if err != nil {
				return nil, err
			}
			for _, row := range pending {
				row.Decision = models.DecisionApproved
				row.Comments = comments
				row.ActingUserID = &actorID
				if err := approvals.Update(row); err != nil {
					return nil, err
				}
			}
			if len(pending) == 0 && version.ApproverID != nil {
				if err := recordDecision(tx, version.ID, *version.ApproverID, actorID,
					models.DecisionApproved, comments); err != nil {
					return nil, err
				}
			}
		}

		// unanimous 组要等最后一票，还有待决行就不晋升
		remaining, err := approvals.PendingByVersion(version.ID)
		if err != nil {
			return nil, err
		}
		if len(remaining) > 0 {
			return &outcome{version: version}, nil
		}

		if err := versions.DemoteLatest(version.ItemID); err != nil {
			return nil, err
		}
		version.Status = models.VersionApproved
		version.IsLatest = true
		if err := versions.Update(version); err != nil {
			return nil, err
		}

		items := repository.NewItemRepository(tx)
		item, err := items.GetByID(version.ItemID)
		if err != nil {
			return nil, err
		}
		item.ApprovalStatus = models.VersionApproved
		if err := items.Update(item); err != nil {
			return nil, err
		}
		return &outcome{version: version, promoted: true}, nil
	})
	if err != nil {
		return nil, err
	}

	if out.promoted {
		metrics.ApprovalDecisions.WithLabelValues(models.DecisionApproved).Inc()
		s.publisher.Publish(ctx, events.Event{
			Type:      events.TypeVersionApproved,
			ActorID:   actorID.String(),
			Resource:  versionID.String(),
			Timestamp: time.Now(),
		})
	}
	return out.version, nil
}

// Reject 任何一票拒绝即终态：全部待决行翻成 rejected，blob 在
// 提交后删除，内容不保留。
func (s *VersionServiceImpl) Reject(ctx context.Context, actorID, versionID uuid.UUID, comments string) (*models.Version, error) {
	type outcome struct {
		version  *models.Version
		blobPath string
		changed  bool
	}
	out, err := database.Transaction(s.db, func(tx *gorm.DB) (*outcome, error) {
		versions := repository.NewVersionRepository(tx)
		version, err := versions.GetByID(versionID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, apperr.NotFound("version not found")
			}
			return nil, err
		}
		if version.Status == models.VersionRejected {
			return &outcome{version: version}, nil
		}
		if version.Status == models.VersionApproved {
			return nil, apperr.Conflict("version was already approved")
		}

		admin, routed, err := s.authorizeDecision(tx, actorID, version)
		if err != nil {
			return nil, err
		}

		if _, err := versions.LockItemVersions(version.ItemID); err != nil {
			return nil, err
		}

		approvals := repository.NewApprovalRepository(tx)
		pending, err := approvals.PendingByVersion(version.ID)
		if err != nil {
			return nil, err
		}
		mine := make(map[uuid.UUID]bool, len(routed))
		for _, row := range routed {
			mine[row.ID] = true
		}
		for _, row := range pending {
			row.Decision = models.DecisionRejected
			if mine[row.ID] || admin || row.ActingUserID == nil {
				row.ActingUserID = &actorID
				row.Comments = comments
			}
			if err := approvals.Update(row); err != nil {
				return nil, err
			}
		}
		if len(pending) == 0 && version.ApproverID != nil {
			if err := recordDecision(tx, version.ID, *version.ApproverID, actorID,
				models.DecisionRejected, comments); err != nil {
				return nil, err
			}
		}

		version.Status = models.VersionRejected
		if err := versions.Update(version); err != nil {
			return nil, err
		}

		items := repository.NewItemRepository(tx)
		item, err := items.GetByID(version.ItemID)
		if err != nil {
			return nil, err
		}
		item.ApprovalStatus = models.VersionRejected
		if err := items.Update(item); err != nil {
			return nil, err
		}
		return &outcome{
			version:  version,
			changed:  true,
			blobPath: storage.ObjectPath(item.BucketID.String(), item.Key, version.ID.String()),
		}, nil
	})
	if err != nil {
		return nil, err
	}

	if out.changed {
		metrics.ApprovalDecisions.WithLabelValues(models.DecisionRejected).Inc()
		s.publisher.Publish(ctx, events.Event{
			Type:      events.TypeVersionRejected,
			ActorID:   actorID.String(),
			Resource:  versionID.String(),
			Timestamp: time.Now(),
		})
		if err := s.store.Delete(ctx, out.blobPath); err != nil {
			logrus.WithError(err).WithField("path", out.blobPath).Warn("delete rejected blob")
			return out.version, apperr.TransientStorage(err, "version rejected but content could not be deleted")
		}
	}
	return out.version, nil
}

// authorizeDecision 管理员放行；其他人必须属于某个审批组且该版本
// 有一条路由给他（或共享未认领）的待决记录
func (s *VersionServiceImpl) authorizeDecision(tx *gorm.DB, actorID uuid.UUID, version *models.Version) (bool, []*models.Approval, error) {
	admin, err := s.permissions.IsAdmin(tx, actorID)
	if err != nil {
		return false, nil, err
	}
	if admin {
		return true, nil, nil
	}
	groups, err := repository.NewApproverRepository(tx).GroupsForUser(actorID)
	if err != nil {
		return false, nil, err
	}
	groupIDs := make([]uuid.UUID, 0, len(groups))
	for _, g := range groups {
		groupIDs = append(groupIDs, g.ID)
	}
	if len(groupIDs) == 0 {
		return false, nil, apperr.Unauthorized("not an approver for this version")
	}
	routed, err := repository.NewApprovalRepository(tx).PendingRoutedToUser(
		[]uuid.UUID{version.ID}, groupIDs, actorID)
	if err != nil {
		return false, nil, err
	}
	if len(routed) == 0 {
		return false, nil, apperr.Unauthorized("not an approver for this version")
	}
	return false, routed, nil
}

// ListVersions 按可见性过滤：approved 对有 view 权限的人可见，
// pending/rejected 限上传者本人、路由到的审批人和 owner
func (s *VersionServiceImpl) ListVersions(actorID, itemID uuid.UUID) ([]*models.Version, error) {
	access, err := s.permissions.ResolveItemAccess(s.db, actorID, itemID)
	if err != nil {
		return nil, err
	}
	if access.Level < AccessView {
		return nil, apperr.Unauthorized("no access to item")
	}
	versions, err := repository.NewVersionRepository(s.db).ListByItem(itemID)
	if err != nil {
		return nil, err
	}
	if access.Level >= AccessOwner {
		return versions, nil
	}
	groups, err := repository.NewApproverRepository(s.db).GroupsForUser(actorID)
	if err != nil {
		return nil, err
	}
	groupIDs := make(map[uuid.UUID]bool, len(groups))
	for _, g := range groups {
		groupIDs[g.ID] = true
	}
	visible := make([]*models.Version, 0, len(versions))
	for _, v := range versions {
		switch {
		case v.Status == models.VersionApproved:
			visible = append(visible, v)
		case v.UploaderID == actorID:
			visible = append(visible, v)
		case v.ApproverID != nil && groupIDs[*v.ApproverID]:
			visible = append(visible, v)
		}
	}
	return visible, nil
}
