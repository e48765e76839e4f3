package service

import (
	"errors"

	"github.com/cumulusfs/cumulus/models"
	"github.com/cumulusfs/cumulus/pkg/apperr"
	"github.com/cumulusfs/cumulus/repository"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type AccessLevel int

const (
	AccessNone AccessLevel = iota
	AccessView
	AccessWrite
	AccessOwner
)

func (l AccessLevel) String() string {
	switch l {
	case AccessView:
		return "view"
	case AccessWrite:
		return "write"
	case AccessOwner:
		return "owner"
	default:
		return "none"
	}
}

func levelFromType(permissionType string) AccessLevel {
	switch permissionType {
	case models.PermissionView:
		return AccessView
	case models.PermissionWrite:
		return AccessWrite
	default:
		return AccessNone
	}
}

// Access 解析结果。对不存在的授权从不报错，返回 AccessNone；
// 把 none 翻译成授权错误是调用方边界的事。
type Access struct {
	Level          AccessLevel
	ViaInheritance bool
}

// PermissionService 权限解析与授权写路径。Permission 行只允许经由
// 这里修改，避免不变式漂移。方法都接收事务句柄，在调用方的事务里执行。
type PermissionService interface {
	IsAdmin(tx *gorm.DB, userID uuid.UUID) (bool, error)
	ResolveBucketAccess(tx *gorm.DB, userID, bucketID uuid.UUID) (Access, error)
	ResolveItemAccess(tx *gorm.DB, userID, itemID uuid.UUID) (Access, error)
	AccessibleBuckets(tx *gorm.DB, userID uuid.UUID) (*AccessibleSet, error)
	AssignBucketGrant(tx *gorm.DB, userID, bucketID uuid.UUID, permissionType string) (*models.Permission, error)
	AssignItemGrant(tx *gorm.DB, userID, itemID uuid.UUID, permissionType string) (*models.Permission, error)
	RevokeBucketGrant(tx *gorm.DB, userID, bucketID uuid.UUID) error
	RevokeItemGrant(tx *gorm.DB, userID, itemID uuid.UUID) error
}

// AccessibleSet 列表操作用的可达 bucket 集合：
// owned ∪ 显式授权 ∪ 从 inherited 授权 bucket 可达的所有后代
type AccessibleSet struct {
	IDs map[uuid.UUID]bool
	// GrantTypes 显式授权行的 permissionType，按 bucket 索引
	GrantTypes map[uuid.UUID]string
}

func (s *AccessibleSet) Has(id uuid.UUID) bool { return s.IDs[id] }

type PermissionServiceImpl struct{}

func NewPermissionService() PermissionService {
	return &PermissionServiceImpl{}
}

func (s *PermissionServiceImpl) IsAdmin(tx *gorm.DB, userID uuid.UUID) (bool, error) {
	user, err := repository.NewUserRepository(tx).GetByID(userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, err
	}
	return user.IsAdmin(), nil
}

func (s *PermissionServiceImpl) ResolveBucketAccess(tx *gorm.DB, userID, bucketID uuid.UUID) (Access, error) {
	buckets := repository.NewBucketRepository(tx)
	bucket, err := buckets.GetByID(bucketID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Access{}, apperr.NotFound("bucket not found")
		}
		return Access{}, err
	}

	admin, err := s.IsAdmin(tx, userID)
	if err != nil {
		return Access{}, err
	}
	if admin || bucket.OwnerID == userID {
		return Access{Level: AccessOwner}, nil
	}

	perms := repository.NewPermissionRepository(tx)
	if grant, err := perms.GetBucketGrant(userID, bucketID); err == nil {
		// 资源自身的授权行是直接授权，inherited 标记只影响后代
		return Access{Level: levelFromType(grant.PermissionType)}, nil
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return Access{}, err
	}

	// 沿父链向上找最近的 inherited=true 授权。visited 防御脏数据成环。
	visited := map[uuid.UUID]bool{bucket.ID: true}
	parentID := bucket.ParentID
	for parentID != nil && !visited[*parentID] {
		visited[*parentID] = true
		ancestor, err := buckets.GetByID(*parentID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				break
			}
			return Access{}, err
		}
		grant, err := perms.GetBucketGrant(userID, ancestor.ID)
		if err == nil && grant.Inherited {
			return Access{Level: levelFromType(grant.PermissionType), ViaInheritance: true}, nil
		}
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return Access{}, err
		}
		parentID = ancestor.ParentID
	}

	return Access{Level: AccessNone}, nil
}

func (s *PermissionServiceImpl) ResolveItemAccess(tx *gorm.DB, userID, itemID uuid.UUID) (Access, error) {
	item, err := repository.NewItemRepository(tx).GetByID(itemID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Access{}, apperr.NotFound("item not found")
		}
		return Access{}, err
	}

	admin, err := s.IsAdmin(tx, userID)
	if err != nil {
		return Access{}, err
	}
	if admin || item.OwnerID == userID {
		return Access{Level: AccessOwner}, nil
	}

	if grant, err := repository.NewPermissionRepository(tx).GetItemGrant(userID, itemID); err == nil {
		return Access{Level: levelFromType(grant.PermissionType)}, nil
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return Access{}, err
	}

	// item 自身没有授权时退回所在 bucket 的解析结果
	return s.ResolveBucketAccess(tx, userID, item.BucketID)
}

func (s *PermissionServiceImpl) AccessibleBuckets(tx *gorm.DB, userID uuid.UUID) (*AccessibleSet, error) {
	set := &AccessibleSet{
		IDs:        make(map[uuid.UUID]bool),
		GrantTypes: make(map[uuid.UUID]string),
	}

	owned, err := repository.NewBucketRepository(tx).ListByOwner(userID)
	if err != nil {
		return nil, err
	}
	for _, b := range owned {
		set.IDs[b.ID] = true
	}

	perms, err := repository.NewPermissionRepository(tx).ListByUser(userID)
	if err != nil {
		return nil, err
	}
	var inheritedRoots []uuid.UUID
	for _, p := range perms {
		if p.BucketID == nil {
			continue
		}
		set.IDs[*p.BucketID] = true
		set.GrantTypes[*p.BucketID] = p.PermissionType
		if p.Inherited {
			inheritedRoots = append(inheritedRoots, *p.BucketID)
		}
	}

	// 工作队列展开 inherited 授权的后代，visited 兜底防环
	buckets := repository.NewBucketRepository(tx)
	visited := make(map[uuid.UUID]bool)
	frontier := inheritedRoots
	for len(frontier) > 0 {
		var next []uuid.UUID
		for _, id := range frontier {
			if !visited[id] {
				visited[id] = true
				next = append(next, id)
			}
		}
		if len(next) == 0 {
			break
		}
		children, err := buckets.ListChildIDs(next)
		if err != nil {
			return nil, err
		}
		frontier = frontier[:0]
		for _, id := range children {
			if !set.IDs[id] {
				set.IDs[id] = true
			}
			if !visited[id] {
				frontier = append(frontier, id)
			}
		}
	}

	return set, nil
}

func (s *PermissionServiceImpl) AssignBucketGrant(tx *gorm.DB, userID, bucketID uuid.UUID, permissionType string) (*models.Permission, error) {
	if err := validatePermissionType(permissionType); err != nil {
		return nil, err
	}
	admin, err := s.IsAdmin(tx, userID)
	if err != nil {
		return nil, err
	}
	if admin {
		return nil, apperr.Conflict("admin already has full permissions")
	}

	perms := repository.NewPermissionRepository(tx)
	existing, err := perms.GetBucketGrant(userID, bucketID)
	if err == nil {
		if existing.PermissionType == permissionType {
			return nil, apperr.Conflict("user already has this permission")
		}
		existing.PermissionType = permissionType
		return existing, perms.Update(existing)
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	// bucket 授权默认向后代级联
	perm := &models.Permission{
		BucketID:       &bucketID,
		UserID:         userID,
		PermissionType: permissionType,
		Inherited:      true,
	}
	return perm, perms.Create(perm)
}

func (s *PermissionServiceImpl) AssignItemGrant(tx *gorm.DB, userID, itemID uuid.UUID, permissionType string) (*models.Permission, error) {
	if err := validatePermissionType(permissionType); err != nil {
		return nil, err
	}
	admin, err := s.IsAdmin(tx, userID)
	if err != nil {
		return nil, err
	}
	if admin {
		return nil, apperr.Conflict("admin already has full permissions")
	}

	perms := repository.NewPermissionRepository(tx)
	existing, err := perms.GetItemGrant(userID, itemID)
	if err == nil {
		if existing.PermissionType == permissionType {
			return nil, apperr.Conflict("user already has this permission")
		}
		existing.PermissionType = permissionType
		return existing, perms.Update(existing)
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	perm := &models.Permission{
		ItemID:         &itemID,
		UserID:         userID,
		PermissionType: permissionType,
	}
	return perm, perms.Create(perm)
}

func (s *PermissionServiceImpl) RevokeBucketGrant(tx *gorm.DB, userID, bucketID uuid.UUID) error {
	perms := repository.NewPermissionRepository(tx)
	grant, err := perms.GetBucketGrant(userID, bucketID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperr.NotFound("permission not found")
		}
		return err
	}
	return perms.Delete(grant.ID)
}

func (s *PermissionServiceImpl) RevokeItemGrant(tx *gorm.DB, userID, itemID uuid.UUID) error {
	perms := repository.NewPermissionRepository(tx)
	grant, err := perms.GetItemGrant(userID, itemID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperr.NotFound("permission not found")
		}
		return err
	}
	return perms.Delete(grant.ID)
}

func validatePermissionType(permissionType string) error {
	switch permissionType {
	case models.PermissionView, models.PermissionWrite:
		return nil
	default:
		return apperr.Invalid("unknown permission type %q", permissionType)
	}
}
