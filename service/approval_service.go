package service

import (
	"errors"
	"time"

	"github.com/cumulusfs/cumulus/database"
	"github.com/cumulusfs/cumulus/models"
	"github.com/cumulusfs/cumulus/pkg/apperr"
	"github.com/cumulusfs/cumulus/repository"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// SettingsCommand 审批设置的封闭命令集。handler 把请求体解析成
// 具体变体，service 对变体做穷尽分派，不存在未知动作字符串。
type SettingsCommand interface{ isSettingsCommand() }

// UpdateSettings 开关类设置，nil 字段保持不变。VersioningEnabled
// 只对 item 有意义，出现在 bucket 命令里会被拒绝。
type UpdateSettings struct {
	RequiresApproval  *bool
	OwnerAutoApproves *bool
	VersioningEnabled *bool
}

type AddApprover struct{ Email string }

type RemoveApprover struct{ Email string }

// SetDefaultApprover 把包含该用户的审批组设为默认路由目标
type SetDefaultApprover struct{ Email string }

func (UpdateSettings) isSettingsCommand()     {}
func (AddApprover) isSettingsCommand()        {}
func (RemoveApprover) isSettingsCommand()     {}
func (SetDefaultApprover) isSettingsCommand() {}

type ApproverMember struct {
	ID       uuid.UUID `json:"id"`
	Username string    `json:"username"`
	Email    string    `json:"email"`
}

type ApproverInfo struct {
	ID           uuid.UUID        `json:"id"`
	Name         string           `json:"name"`
	ApprovalType string           `json:"approvalType"`
	MinApprovals int              `json:"minApprovals"`
	IsGroup      bool             `json:"isGroup"`
	Members      []ApproverMember `json:"members"`
}

type BucketSettings struct {
	BucketID          uuid.UUID      `json:"bucketId"`
	Name              string         `json:"name"`
	RequiresApproval  bool           `json:"requiresApproval"`
	OwnerAutoApproves bool           `json:"ownerAutoApproves"`
	DefaultApproverID *uuid.UUID     `json:"defaultApproverId"`
	Approvers         []ApproverInfo `json:"approvers"`
}

type ApprovalRecord struct {
	ID           uuid.UUID  `json:"id"`
	VersionID    *uuid.UUID `json:"versionId"`
	Decision     string     `json:"decision"`
	Comments     string     `json:"comments,omitempty"`
	ActingUserID *uuid.UUID `json:"actingUserId"`
	CreatedAt    time.Time  `json:"createdAt"`
}

type ItemSettings struct {
	ItemID            uuid.UUID        `json:"itemId"`
	Key               string           `json:"key"`
	RequiresApproval  bool             `json:"requiresApproval"`
	OwnerAutoApproves bool             `json:"ownerAutoApproves"`
	VersioningEnabled bool             `json:"versioningEnabled"`
	DefaultApproverID *uuid.UUID       `json:"defaultApproverId"`
	Approvers         []ApproverInfo   `json:"approvers"`
	History           []ApprovalRecord `json:"history"`
}

type PendingUpload struct {
	Item     *models.Item      `json:"item"`
	Versions []*models.Version `json:"versions"`
}

type ApprovalService interface {
	ApplyBucketCommand(actorID, bucketID uuid.UUID, cmd SettingsCommand) error
	ApplyItemCommand(actorID, itemID uuid.UUID, cmd SettingsCommand) error
	GetBucketSettings(actorID, bucketID uuid.UUID) (*BucketSettings, error)
	GetItemSettings(actorID, itemID uuid.UUID) (*ItemSettings, error)
	PendingApprovals(actorID uuid.UUID) ([]*PendingUpload, error)
}

type ApprovalServiceImpl struct {
	db          *gorm.DB
	permissions PermissionService
}

func NewApprovalService(db *gorm.DB, permissions PermissionService) ApprovalService {
	return &ApprovalServiceImpl{db: db, permissions: permissions}
}

// ensureScopeApprover 懒引导：取该资源的审批组，不存在就创建一个
// 以 owner 为唯一成员的 standard 组，并落一条关联审批记录。
func ensureScopeApprover(tx *gorm.DB, scopeType string, scopeID uuid.UUID, owner *models.User) (*models.Approver, error) {
	approvers := repository.NewApproverRepository(tx)
	approver, err := approvers.GetByScope(scopeType, scopeID)
	if err == nil {
		return approver, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	approver = &models.Approver{
		Name:         models.ApproverName(scopeType, scopeID),
		ScopeType:    scopeType,
		ScopeID:      scopeID,
		ApprovalType: models.ApprovalStandard,
		MinApprovals: 1,
	}
	if err := approvers.Create(approver); err != nil {
		return nil, err
	}
	if err := approvers.AddMember(approver, owner); err != nil {
		return nil, err
	}

	link := &models.Approval{
		ApproverID: approver.ID,
		Decision:   models.DecisionApproved,
		Comments:   "approver assigned",
	}
	if scopeType == models.ScopeItem {
		link.ItemID = &scopeID
	} else {
		link.BucketID = &scopeID
	}
	if err := repository.NewApprovalRepository(tx).Create(link); err != nil {
		return nil, err
	}
	approver.Users = []models.User{*owner}
	return approver, nil
}

// isScopeApprover 用户是否属于该资源的某个审批组
func isScopeApprover(tx *gorm.DB, userID uuid.UUID, scopeType string, scopeID uuid.UUID) (bool, error) {
	approvers := repository.NewApproverRepository(tx)
	groups, err := approvers.ListByScope(scopeType, scopeID)
	if err != nil {
		return false, err
	}
	ids := make([]uuid.UUID, 0, len(groups))
	for _, g := range groups {
		ids = append(ids, g.ID)
	}
	return approvers.IsMember(ids, userID)
}

func (s *ApprovalServiceImpl) ApplyBucketCommand(actorID, bucketID uuid.UUID, cmd SettingsCommand) error {
	_, err := database.Transaction(s.db, func(tx *gorm.DB) (struct{}, error) {
		buckets := repository.NewBucketRepository(tx)
		bucket, err := buckets.GetByID(bucketID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return struct{}{}, apperr.NotFound("bucket not found")
			}
			return struct{}{}, err
		}
		if err := s.gateCommand(tx, actorID, cmd, bucket.OwnerID, models.ScopeBucket, bucket.ID); err != nil {
			return struct{}{}, err
		}

		switch c := cmd.(type) {
		case UpdateSettings:
			if c.VersioningEnabled != nil {
				return struct{}{}, apperr.Invalid("versioning is a per-item setting")
			}
			if c.RequiresApproval != nil {
				bucket.RequiresApproval = *c.RequiresApproval
			}
			if c.OwnerAutoApproves != nil {
				bucket.OwnerAutoApproves = *c.OwnerAutoApproves
			}
			return struct{}{}, buckets.Update(bucket)
		case AddApprover:
			_, err := s.addApprover(tx, c.Email, models.ScopeBucket, bucket.ID, bucket.OwnerID)
			return struct{}{}, err
		case RemoveApprover:
			return struct{}{}, s.removeApprover(tx, c.Email, models.ScopeBucket, bucket.ID)
		case SetDefaultApprover:
			approver, err := s.findApproverWithMember(tx, c.Email, models.ScopeBucket, bucket.ID)
			if err != nil {
				return struct{}{}, err
			}
			bucket.DefaultApproverID = &approver.ID
			return struct{}{}, buckets.Update(bucket)
		default:
			return struct{}{}, apperr.Invalid("unsupported settings command")
		}
	})
	return err
}

func (s *ApprovalServiceImpl) ApplyItemCommand(actorID, itemID uuid.UUID, cmd SettingsCommand) error {
	_, err := database.Transaction(s.db, func(tx *gorm.DB) (struct{}, error) {
		items := repository.NewItemRepository(tx)
		item, err := items.GetByID(itemID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return struct{}{}, apperr.NotFound("item not found")
			}
			return struct{}{}, err
		}
		if err := s.gateCommand(tx, actorID, cmd, item.OwnerID, models.ScopeItem, item.ID); err != nil {
			return struct{}{}, err
		}

		switch c := cmd.(type) {
		case UpdateSettings:
			if c.RequiresApproval != nil {
				item.RequiresApproval = *c.RequiresApproval
			}
			if c.OwnerAutoApproves != nil {
				item.OwnerAutoApproves = *c.OwnerAutoApproves
			}
			if c.VersioningEnabled != nil {
				item.VersioningEnabled = *c.VersioningEnabled
			}
			return struct{}{}, items.Update(item)
		case AddApprover:
			_, err := s.addApprover(tx, c.Email, models.ScopeItem, item.ID, item.OwnerID)
			return struct{}{}, err
		case RemoveApprover:
			return struct{}{}, s.removeApprover(tx, c.Email, models.ScopeItem, item.ID)
		case SetDefaultApprover:
			approver, err := s.findApproverWithMember(tx, c.Email, models.ScopeItem, item.ID)
			if err != nil {
				return struct{}{}, err
			}
			item.DefaultApproverID = &approver.ID
			return struct{}{}, items.Update(item)
		default:
			return struct{}{}, apperr.Invalid("unsupported settings command")
		}
	})
	return err
}

// gateCommand 设置开关允许 owner 或该资源的审批组成员改，
// 审批人名单只有 owner（或管理员）能动。
func (s *ApprovalServiceImpl) gateCommand(tx *gorm.DB, actorID uuid.UUID, cmd SettingsCommand, ownerID uuid.UUID, scopeType string, scopeID uuid.UUID) error {
	admin, err := s.permissions.IsAdmin(tx, actorID)
	if err != nil {
		return err
	}
	if admin || actorID == ownerID {
		return nil
	}
	if _, ok := cmd.(UpdateSettings); ok {
		member, err := isScopeApprover(tx, actorID, scopeType, scopeID)
		if err != nil {
			return err
		}
		if member {
			return nil
		}
	}
	return apperr.Unauthorized("not allowed to change approval settings")
}

func (s *ApprovalServiceImpl) addApprover(tx *gorm.DB, email, scopeType string, scopeID, ownerID uuid.UUID) (*models.Approver, error) {
	users := repository.NewUserRepository(tx)
	target, err := users.GetByEmail(email)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("user %s not found", email)
		}
		return nil, err
	}
	owner, err := users.GetByID(ownerID)
	if err != nil {
		return nil, err
	}
	approver, err := ensureScopeApprover(tx, scopeType, scopeID, owner)
	if err != nil {
		return nil, err
	}

	approvers := repository.NewApproverRepository(tx)
	member, err := approvers.IsMember([]uuid.UUID{approver.ID}, target.ID)
	if err != nil {
		return nil, err
	}
	if member {
		return approver, nil
	}
	if err := approvers.AddMember(approver, target); err != nil {
		return nil, err
	}
	if !approver.IsGroup {
		approver.IsGroup = true
		if err := approvers.Update(approver); err != nil {
			return nil, err
		}
	}
	return approver, nil
}

func (s *ApprovalServiceImpl) removeApprover(tx *gorm.DB, email, scopeType string, scopeID uuid.UUID) error {
	target, err := repository.NewUserRepository(tx).GetByEmail(email)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperr.NotFound("user %s not found", email)
		}
		return err
	}
	approvers := repository.NewApproverRepository(tx)
	approver, err := approvers.GetByScope(scopeType, scopeID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperr.NotFound("no approver configured")
		}
		return err
	}
	member, err := approvers.IsMember([]uuid.UUID{approver.ID}, target.ID)
	if err != nil {
		return err
	}
	if !member {
		return apperr.NotFound("user %s is not an approver", email)
	}
	return approvers.RemoveMember(approver, target.ID)
}

func (s *ApprovalServiceImpl) findApproverWithMember(tx *gorm.DB, email, scopeType string, scopeID uuid.UUID) (*models.Approver, error) {
	target, err := repository.NewUserRepository(tx).GetByEmail(email)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("user %s not found", email)
		}
		return nil, err
	}
	approvers := repository.NewApproverRepository(tx)
	groups, err := approvers.ListByScope(scopeType, scopeID)
	if err != nil {
		return nil, err
	}
	for _, g := range groups {
		member, err := approvers.IsMember([]uuid.UUID{g.ID}, target.ID)
		if err != nil {
			return nil, err
		}
		if member {
			return g, nil
		}
	}
	return nil, apperr.Invalid("user %s is not an approver here", email)
}

func (s *ApprovalServiceImpl) GetBucketSettings(actorID, bucketID uuid.UUID) (*BucketSettings, error) {
	access, err := s.permissions.ResolveBucketAccess(s.db, actorID, bucketID)
	if err != nil {
		return nil, err
	}
	if access.Level < AccessView {
		return nil, apperr.Unauthorized("no access to bucket")
	}
	bucket, err := repository.NewBucketRepository(s.db).GetByID(bucketID)
	if err != nil {
		return nil, err
	}
	groups, err := repository.NewApproverRepository(s.db).ListByScope(models.ScopeBucket, bucketID)
	if err != nil {
		return nil, err
	}
	return &BucketSettings{
		BucketID:          bucket.ID,
		Name:              bucket.Name,
		RequiresApproval:  bucket.RequiresApproval,
		OwnerAutoApproves: bucket.OwnerAutoApproves,
		DefaultApproverID: bucket.DefaultApproverID,
		Approvers:         approverInfos(groups),
	}, nil
}

func (s *ApprovalServiceImpl) GetItemSettings(actorID, itemID uuid.UUID) (*ItemSettings, error) {
	access, err := s.permissions.ResolveItemAccess(s.db, actorID, itemID)
	if err != nil {
		return nil, err
	}
	if access.Level < AccessView {
		return nil, apperr.Unauthorized("no access to item")
	}
	item, err := repository.NewItemRepository(s.db).GetByID(itemID)
	if err != nil {
		return nil, err
	}
	groups, err := repository.NewApproverRepository(s.db).ListByScope(models.ScopeItem, itemID)
	if err != nil {
		return nil, err
	}
	versions, err := repository.NewVersionRepository(s.db).ListByItem(itemID)
	if err != nil {
		return nil, err
	}
	versionIDs := make([]uuid.UUID, 0, len(versions))
	for _, v := range versions {
		versionIDs = append(versionIDs, v.ID)
	}
	history, err := repository.NewApprovalRepository(s.db).HistoryForItem(itemID, versionIDs)
	if err != nil {
		return nil, err
	}
	records := make([]ApprovalRecord, 0, len(history))
	for _, a := range history {
		records = append(records, ApprovalRecord{
			ID:           a.ID,
			VersionID:    a.VersionID,
			Decision:     a.Decision,
			Comments:     a.Comments,
			ActingUserID: a.ActingUserID,
			CreatedAt:    a.CreatedAt,
		})
	}
	return &ItemSettings{
		ItemID:            item.ID,
		Key:               item.Key,
		RequiresApproval:  item.RequiresApproval,
		OwnerAutoApproves: item.OwnerAutoApproves,
		VersioningEnabled: item.VersioningEnabled,
		DefaultApproverID: item.DefaultApproverID,
		Approvers:         approverInfos(groups),
		History:           records,
	}, nil
}

// PendingApprovals 路由给该用户所属审批组、仍待决的上传
func (s *ApprovalServiceImpl) PendingApprovals(actorID uuid.UUID) ([]*PendingUpload, error) {
	groups, err := repository.NewApproverRepository(s.db).GroupsForUser(actorID)
	if err != nil {
		return nil, err
	}
	approverIDs := make([]uuid.UUID, 0, len(groups))
	for _, g := range groups {
		approverIDs = append(approverIDs, g.ID)
	}
	itemIDs, err := repository.NewVersionRepository(s.db).PendingItemIDsForApprovers(approverIDs)
	if err != nil {
		return nil, err
	}
	if len(itemIDs) == 0 {
		return []*PendingUpload{}, nil
	}
	items, err := repository.NewItemRepository(s.db).ListByIDs(itemIDs)
	if err != nil {
		return nil, err
	}
	versions, err := repository.NewVersionRepository(s.db).ListByItemIDs(itemIDs)
	if err != nil {
		return nil, err
	}
	approverSet := make(map[uuid.UUID]bool, len(approverIDs))
	for _, id := range approverIDs {
		approverSet[id] = true
	}
	pendingByItem := make(map[uuid.UUID][]*models.Version)
	for _, v := range versions {
		if v.Status == models.VersionPending && v.ApproverID != nil && approverSet[*v.ApproverID] {
			pendingByItem[v.ItemID] = append(pendingByItem[v.ItemID], v)
		}
	}
	out := make([]*PendingUpload, 0, len(items))
	for _, it := range items {
		if pending := pendingByItem[it.ID]; len(pending) > 0 {
			out = append(out, &PendingUpload{Item: it, Versions: pending})
		}
	}
	return out, nil
}

func approverInfos(groups []*models.Approver) []ApproverInfo {
	infos := make([]ApproverInfo, 0, len(groups))
	for _, g := range groups {
		members := make([]ApproverMember, 0, len(g.Users))
		for _, u := range g.Users {
			members = append(members, ApproverMember{ID: u.ID, Username: u.Username, Email: u.Email})
		}
		infos = append(infos, ApproverInfo{
			ID:           g.ID,
			Name:         g.Name,
			ApprovalType: g.ApprovalType,
			MinApprovals: g.MinApprovals,
			IsGroup:      g.IsGroup,
			Members:      members,
		})
	}
	return infos
}
