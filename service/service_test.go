package service

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/cumulusfs/cumulus/models"
	"github.com/cumulusfs/cumulus/pkg/events"
	"github.com/cumulusfs/cumulus/storage"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var testDBSeq atomic.Int64

type testEnv struct {
	db          *gorm.DB
	store       *storage.MemoryStore
	permissions PermissionService
	users       UserService
	buckets     BucketService
	objects     ObjectService
	versions    VersionService
	approvals   ApprovalService
	listings    ListingService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dsn := fmt.Sprintf("file:svctest%d?mode=memory&cache=shared", testDBSeq.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.User{},
		&models.Bucket{},
		&models.Item{},
		&models.Version{},
		&models.Permission{},
		&models.Approver{},
		&models.Approval{},
	))

	store := storage.NewMemoryStore()
	permissions := NewPermissionService()
	publisher := events.NopPublisher{}
	return &testEnv{
		db:          db,
		store:       store,
		permissions: permissions,
		users:       NewUserService(db, "test-secret", 60),
		buckets:     NewBucketService(db, store, permissions, publisher),
		objects:     NewObjectService(db, store, permissions, publisher),
		versions:    NewVersionService(db, store, permissions, publisher),
		approvals:   NewApprovalService(db, permissions),
		listings:    NewListingService(db, permissions),
	}
}

func (e *testEnv) registerUser(t *testing.T, username string) *models.User {
	t.Helper()
	user, err := e.users.Register(username, username+"@example.com", "password-1")
	require.NoError(t, err)
	return user
}

func (e *testEnv) registerAdmin(t *testing.T, username string) *models.User {
	t.Helper()
	user := e.registerUser(t, username)
	user.Role = models.RoleAdmin
	require.NoError(t, e.db.Save(user).Error)
	return user
}

func (e *testEnv) createBucket(t *testing.T, owner *models.User, name string, parentID *uuid.UUID) *models.Bucket {
	t.Helper()
	bucket, err := e.buckets.Create(owner.ID, name, parentID)
	require.NoError(t, err)
	return bucket
}

func (e *testEnv) upload(t *testing.T, actor *models.User, bucketID uuid.UUID, key string, data []byte) *UploadResult {
	t.Helper()
	result, err := e.objects.Upload(context.Background(), actor.ID, bucketID, key, data, "")
	require.NoError(t, err)
	return result
}

func (e *testEnv) itemVersionCount(t *testing.T, itemID uuid.UUID) int {
	t.Helper()
	var count int64
	require.NoError(t, e.db.Model(&models.Version{}).Where("item_id = ?", itemID).Count(&count).Error)
	return int(count)
}
