package service

import (
	"testing"

	"github.com/cumulusfs/cumulus/models"
	"github.com/cumulusfs/cumulus/pkg/apperr"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOwnerAndAdminResolveToOwner(t *testing.T) {
	e := newTestEnv(t)
	alice := e.registerUser(t, "alice")
	admin := e.registerAdmin(t, "root")
	bucket := e.createBucket(t, alice, "docs", nil)

	access, err := e.permissions.ResolveBucketAccess(e.db, alice.ID, bucket.ID)
	require.NoError(t, err)
	assert.Equal(t, AccessOwner, access.Level)

	access, err = e.permissions.ResolveBucketAccess(e.db, admin.ID, bucket.ID)
	require.NoError(t, err)
	assert.Equal(t, AccessOwner, access.Level)
}

func TestUnrelatedUserHasNoAccess(t *testing.T) {
	e := newTestEnv(t)
	alice := e.registerUser(t, "alice")
	bob := e.registerUser(t, "bob")
	bucket := e.createBucket(t, alice, "docs", nil)

	access, err := e.permissions.ResolveBucketAccess(e.db, bob.ID, bucket.ID)
	require.NoError(t, err)
	assert.Equal(t, AccessNone, access.Level)
	assert.False(t, access.ViaInheritance)
}

func TestInheritedGrantReachesDescendants(t *testing.T) {
	e := newTestEnv(t)
	alice := e.registerUser(t, "alice")
	bob := e.registerUser(t, "bob")
	root := e.createBucket(t, alice, "root", nil)
	child := e.createBucket(t, alice, "child", &root.ID)
	grandchild := e.createBucket(t, alice, "grandchild", &child.ID)

	_, err := e.buckets.AssignPermission(alice.ID, root.ID, bob.Email, models.PermissionView)
	require.NoError(t, err)

	access, err := e.permissions.ResolveBucketAccess(e.db, bob.ID, grandchild.ID)
	require.NoError(t, err)
	assert.Equal(t, AccessView, access.Level)
	assert.True(t, access.ViaInheritance)

	// 资源自身的授权不算继承
	access, err = e.permissions.ResolveBucketAccess(e.db, bob.ID, root.ID)
	require.NoError(t, err)
	assert.Equal(t, AccessView, access.Level)
	assert.False(t, access.ViaInheritance)
}

func TestNonInheritedGrantStopsAtBucket(t *testing.T) {
	e := newTestEnv(t)
	alice := e.registerUser(t, "alice")
	bob := e.registerUser(t, "bob")
	root := e.createBucket(t, alice, "root", nil)
	child := e.createBucket(t, alice, "child", &root.ID)

	perm := &models.Permission{
		BucketID:       &root.ID,
		UserID:         bob.ID,
		PermissionType: models.PermissionWrite,
		Inherited:      false,
	}
	require.NoError(t, e.db.Create(perm).Error)

	access, err := e.permissions.ResolveBucketAccess(e.db, bob.ID, root.ID)
	require.NoError(t, err)
	assert.Equal(t, AccessWrite, access.Level)

	access, err = e.permissions.ResolveBucketAccess(e.db, bob.ID, child.ID)
	require.NoError(t, err)
	assert.Equal(t, AccessNone, access.Level)
}

func TestNearestAncestorGrantWins(t *testing.T) {
	e := newTestEnv(t)
	alice := e.registerUser(t, "alice")
	bob := e.registerUser(t, "bob")
	root := e.createBucket(t, alice, "root", nil)
	child := e.createBucket(t, alice, "child", &root.ID)
	grandchild := e.createBucket(t, alice, "grandchild", &child.ID)

	_, err := e.buckets.AssignPermission(alice.ID, root.ID, bob.Email, models.PermissionView)
	require.NoError(t, err)
	_, err = e.buckets.AssignPermission(alice.ID, child.ID, bob.Email, models.PermissionWrite)
	require.NoError(t, err)

	access, err := e.permissions.ResolveBucketAccess(e.db, bob.ID, grandchild.ID)
	require.NoError(t, err)
	assert.Equal(t, AccessWrite, access.Level)
	assert.True(t, access.ViaInheritance)
}

func TestItemAccessFallsBackToBucket(t *testing.T) {
	e := newTestEnv(t)
	alice := e.registerUser(t, "alice")
	bob := e.registerUser(t, "bob")
	carol := e.registerUser(t, "carol")
	bucket := e.createBucket(t, alice, "docs", nil)
	result := e.upload(t, alice, bucket.ID, "report.txt", []byte("v1"))

	_, err := e.buckets.AssignPermission(alice.ID, bucket.ID, bob.Email, models.PermissionView)
	require.NoError(t, err)

	access, err := e.permissions.ResolveItemAccess(e.db, bob.ID, result.Item.ID)
	require.NoError(t, err)
	assert.Equal(t, AccessView, access.Level)

	// item 上的直接授权优先于 bucket 回退
	_, err = e.objects.AssignPermission(alice.ID, result.Item.ID, carol.Email, models.PermissionWrite)
	require.NoError(t, err)
	access, err = e.permissions.ResolveItemAccess(e.db, carol.ID, result.Item.ID)
	require.NoError(t, err)
	assert.Equal(t, AccessWrite, access.Level)
}

func TestAssignDuplicateGrantConflicts(t *testing.T) {
	e := newTestEnv(t)
	alice := e.registerUser(t, "alice")
	bob := e.registerUser(t, "bob")
	bucket := e.createBucket(t, alice, "docs", nil)

	_, err := e.buckets.AssignPermission(alice.ID, bucket.ID, bob.Email, models.PermissionView)
	require.NoError(t, err)

	_, err = e.buckets.AssignPermission(alice.ID, bucket.ID, bob.Email, models.PermissionView)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindConflict))

	// 换类型是更新，不是冲突
	perm, err := e.buckets.AssignPermission(alice.ID, bucket.ID, bob.Email, models.PermissionWrite)
	require.NoError(t, err)
	assert.Equal(t, models.PermissionWrite, perm.PermissionType)
}

func TestOnlyOwnerManagesPermissions(t *testing.T) {
	e := newTestEnv(t)
	alice := e.registerUser(t, "alice")
	bob := e.registerUser(t, "bob")
	carol := e.registerUser(t, "carol")
	bucket := e.createBucket(t, alice, "docs", nil)

	_, err := e.buckets.AssignPermission(alice.ID, bucket.ID, bob.Email, models.PermissionWrite)
	require.NoError(t, err)

	_, err = e.buckets.AssignPermission(bob.ID, bucket.ID, carol.Email, models.PermissionView)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindUnauthorized))
}

func TestRevokeGrant(t *testing.T) {
	e := newTestEnv(t)
	alice := e.registerUser(t, "alice")
	bob := e.registerUser(t, "bob")
	bucket := e.createBucket(t, alice, "docs", nil)

	_, err := e.buckets.AssignPermission(alice.ID, bucket.ID, bob.Email, models.PermissionView)
	require.NoError(t, err)
	require.NoError(t, e.buckets.RevokePermission(alice.ID, bucket.ID, bob.Email))

	access, err := e.permissions.ResolveBucketAccess(e.db, bob.ID, bucket.ID)
	require.NoError(t, err)
	assert.Equal(t, AccessNone, access.Level)

	err = e.buckets.RevokePermission(alice.ID, bucket.ID, bob.Email)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}
