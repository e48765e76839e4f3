package service

import (
	"strings"
	"time"

	"github.com/cumulusfs/cumulus/models"
	"github.com/cumulusfs/cumulus/pkg/apperr"
	"github.com/cumulusfs/cumulus/repository"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type VersionEntry struct {
	ID         uuid.UUID `json:"id"`
	Size       int64     `json:"size"`
	ETag       string    `json:"etag"`
	Status     string    `json:"status"`
	IsLatest   bool      `json:"isLatest"`
	Notes      string    `json:"notes,omitempty"`
	UploaderID uuid.UUID `json:"uploaderId"`
	CreatedAt  time.Time `json:"createdAt"`
	// RequestingApproval 该版本待决且路由到了请求者所在的审批组
	RequestingApproval bool `json:"requestingApproval"`
}

type FileEntry struct {
	ID                uuid.UUID      `json:"id"`
	Key               string         `json:"key"`
	BucketID          uuid.UUID      `json:"bucketId"`
	OwnerID           uuid.UUID      `json:"ownerId"`
	VersioningEnabled bool           `json:"versioningEnabled"`
	ApprovalStatus    string         `json:"approvalStatus"`
	Versions          []VersionEntry `json:"versions"`
}

type FolderEntry struct {
	ID       uuid.UUID  `json:"id"`
	Name     string     `json:"name"`
	ParentID *uuid.UUID `json:"parentId"`
	OwnerID  uuid.UUID  `json:"ownerId"`
	// Access 请求者在该目录上的生效级别
	Access string `json:"access"`
}

type Listing struct {
	// Location 当前目录，根列表时为 nil
	Location *FolderEntry  `json:"location"`
	Folders  []FolderEntry `json:"folders"`
	Files    []FileEntry   `json:"files"`
}

type ListingService interface {
	ListBucketContents(actorID uuid.UUID, bucketID *uuid.UUID) (*Listing, error)
	ListByExtension(actorID uuid.UUID, extension string) ([]FileEntry, error)
}

type ListingServiceImpl struct {
	db          *gorm.DB
	permissions PermissionService
}

func NewListingService(db *gorm.DB, permissions PermissionService) ListingService {
	return &ListingServiceImpl{db: db, permissions: permissions}
}

// ListBucketContents bucketID 为 nil 时列请求者的根目录：可达集合里
// 父目录为空、或父目录本身不可达的 bucket。后者保证深层授权的目录
// 在根上露出，而不是藏在用户进不去的祖先后面。
func (s *ListingServiceImpl) ListBucketContents(actorID uuid.UUID, bucketID *uuid.UUID) (*Listing, error) {
	admin, err := s.permissions.IsAdmin(s.db, actorID)
	if err != nil {
		return nil, err
	}

	var set *AccessibleSet
	if !admin {
		set, err = s.permissions.AccessibleBuckets(s.db, actorID)
		if err != nil {
			return nil, err
		}
	}

	buckets := repository.NewBucketRepository(s.db)
	if bucketID == nil {
		var roots []*models.Bucket
		if admin {
			// 管理员的根就是真正的树根
			roots, err = buckets.ListRoots()
			if err != nil {
				return nil, err
			}
		} else {
			ids := make([]uuid.UUID, 0, len(set.IDs))
			for id := range set.IDs {
				ids = append(ids, id)
			}
			candidates, err := buckets.ListByIDs(ids)
			if err != nil {
				return nil, err
			}
			for _, b := range candidates {
				if b.ParentID == nil || !set.Has(*b.ParentID) {
					roots = append(roots, b)
				}
			}
		}
		return &Listing{
			Folders: s.folderEntries(actorID, admin, set, roots),
			Files:   []FileEntry{},
		}, nil
	}

	access, err := s.permissions.ResolveBucketAccess(s.db, actorID, *bucketID)
	if err != nil {
		return nil, err
	}
	if access.Level < AccessView {
		return nil, apperr.Unauthorized("no access to bucket")
	}
	bucket, err := buckets.GetByID(*bucketID)
	if err != nil {
		return nil, err
	}

	children, err := buckets.ListChildren(*bucketID)
	if err != nil {
		return nil, err
	}
	var visibleChildren []*models.Bucket
	for _, c := range children {
		if admin || set.Has(c.ID) {
			visibleChildren = append(visibleChildren, c)
		}
	}

	items, err := repository.NewItemRepository(s.db).ListByBucket(*bucketID)
	if err != nil {
		return nil, err
	}
	files, err := s.fileEntries(actorID, admin, items)
	if err != nil {
		return nil, err
	}

	location := s.folderEntry(actorID, admin, set, bucket)
	return &Listing{
		Location: &location,
		Folders:  s.folderEntries(actorID, admin, set, visibleChildren),
		Files:    files,
	}, nil
}

func (s *ListingServiceImpl) folderEntry(actorID uuid.UUID, admin bool, set *AccessibleSet, b *models.Bucket) FolderEntry {
	access := AccessView.String()
	switch {
	case admin || b.OwnerID == actorID:
		access = AccessOwner.String()
	case set != nil:
		if t, ok := set.GrantTypes[b.ID]; ok {
			access = levelFromType(t).String()
		}
	}
	return FolderEntry{
		ID:       b.ID,
		Name:     b.Name,
		ParentID: b.ParentID,
		OwnerID:  b.OwnerID,
		Access:   access,
	}
}

func (s *ListingServiceImpl) folderEntries(actorID uuid.UUID, admin bool, set *AccessibleSet, list []*models.Bucket) []FolderEntry {
	entries := make([]FolderEntry, 0, len(list))
	for _, b := range list {
		entries = append(entries, s.folderEntry(actorID, admin, set, b))
	}
	return entries
}

// fileEntries 版本可见性：approved 人人可见，pending/rejected 只给
// 上传者本人、owner、管理员和路由到的审批人。一个版本都看不到的
// item 整个隐藏。
func (s *ListingServiceImpl) fileEntries(actorID uuid.UUID, admin bool, items []*models.Item) ([]FileEntry, error) {
	if len(items) == 0 {
		return []FileEntry{}, nil
	}
	itemIDs := make([]uuid.UUID, 0, len(items))
	for _, it := range items {
		itemIDs = append(itemIDs, it.ID)
	}
	versions, err := repository.NewVersionRepository(s.db).ListByItemIDs(itemIDs)
	if err != nil {
		return nil, err
	}
	byItem := make(map[uuid.UUID][]*models.Version)
	for _, v := range versions {
		byItem[v.ItemID] = append(byItem[v.ItemID], v)
	}

	groups, err := repository.NewApproverRepository(s.db).GroupsForUser(actorID)
	if err != nil {
		return nil, err
	}
	myGroups := make(map[uuid.UUID]bool, len(groups))
	for _, g := range groups {
		myGroups[g.ID] = true
	}

	files := make([]FileEntry, 0, len(items))
	for _, it := range items {
		privileged := admin || it.OwnerID == actorID
		var entries []VersionEntry
		for _, v := range byItem[it.ID] {
			routed := v.Status == models.VersionPending &&
				v.ApproverID != nil && myGroups[*v.ApproverID]
			visible := privileged ||
				v.Status == models.VersionApproved ||
				v.UploaderID == actorID ||
				routed
			if !visible {
				continue
			}
			entries = append(entries, VersionEntry{
				ID:                 v.ID,
				Size:               v.Size,
				ETag:               v.ETag,
				Status:             v.Status,
				IsLatest:           v.IsLatest,
				Notes:              v.Notes,
				UploaderID:         v.UploaderID,
				CreatedAt:          v.CreatedAt,
				RequestingApproval: routed,
			})
		}
		if len(entries) == 0 {
			continue
		}
		files = append(files, FileEntry{
			ID:                it.ID,
			Key:               it.Key,
			BucketID:          it.BucketID,
			OwnerID:           it.OwnerID,
			VersioningEnabled: it.VersioningEnabled,
			ApprovalStatus:    it.ApprovalStatus,
			Versions:          entries,
		})
	}
	return files, nil
}

// ListByExtension 在请求者可达的全部目录里按扩展名找文件
func (s *ListingServiceImpl) ListByExtension(actorID uuid.UUID, extension string) ([]FileEntry, error) {
	if extension == "" {
		return nil, apperr.Invalid("extension is required")
	}
	if !strings.HasPrefix(extension, ".") {
		extension = "." + extension
	}

	admin, err := s.permissions.IsAdmin(s.db, actorID)
	if err != nil {
		return nil, err
	}
	var bucketIDs []uuid.UUID
	if admin {
		all, err := repository.NewBucketRepository(s.db).ListAllIDs()
		if err != nil {
			return nil, err
		}
		bucketIDs = all
	} else {
		set, err := s.permissions.AccessibleBuckets(s.db, actorID)
		if err != nil {
			return nil, err
		}
		for id := range set.IDs {
			bucketIDs = append(bucketIDs, id)
		}
	}

	items, err := repository.NewItemRepository(s.db).ListByBucketIDs(bucketIDs)
	if err != nil {
		return nil, err
	}
	var matched []*models.Item
	for _, it := range items {
		if strings.HasSuffix(strings.ToLower(it.Key), strings.ToLower(extension)) {
			matched = append(matched, it)
		}
	}
	return s.fileEntries(actorID, admin, matched)
}
