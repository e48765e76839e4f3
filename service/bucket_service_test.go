package service

import (
	"context"
	"testing"

	"github.com/cumulusfs/cumulus/models"
	"github.com/cumulusfs/cumulus/pkg/apperr"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateBucketBootstrapsOwner(t *testing.T) {
	e := newTestEnv(t)
	alice := e.registerUser(t, "alice")
	bucket := e.createBucket(t, alice, "docs", nil)

	assert.Equal(t, alice.ID, bucket.OwnerID)
	assert.True(t, bucket.RequiresApproval)
	require.NotNil(t, bucket.DefaultApproverID)

	// owner 的授权行向后代级联
	var perm models.Permission
	require.NoError(t, e.db.Where("bucket_id = ? AND user_id = ?", bucket.ID, alice.ID).First(&perm).Error)
	assert.Equal(t, models.PermissionWrite, perm.PermissionType)
	assert.True(t, perm.Inherited)

	// 审批组以 owner 为唯一成员引导
	var approver models.Approver
	require.NoError(t, e.db.Preload("Users").
		Where("scope_type = ? AND scope_id = ?", models.ScopeBucket, bucket.ID).
		First(&approver).Error)
	assert.Equal(t, *bucket.DefaultApproverID, approver.ID)
	assert.Equal(t, models.ApproverName(models.ScopeBucket, bucket.ID), approver.Name)
	require.Len(t, approver.Users, 1)
	assert.Equal(t, alice.ID, approver.Users[0].ID)
}

func TestCreateDuplicateBucketConflicts(t *testing.T) {
	e := newTestEnv(t)
	alice := e.registerUser(t, "alice")
	e.createBucket(t, alice, "docs", nil)

	_, err := e.buckets.Create(alice.ID, "docs", nil)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindConflict))

	// 不同父级下同名不冲突
	parent := e.createBucket(t, alice, "parent", nil)
	_, err = e.buckets.Create(alice.ID, "docs", &parent.ID)
	require.NoError(t, err)
}

func TestCreateNestedNeedsParentWrite(t *testing.T) {
	e := newTestEnv(t)
	alice := e.registerUser(t, "alice")
	bob := e.registerUser(t, "bob")
	root := e.createBucket(t, alice, "root", nil)

	_, err := e.buckets.Create(bob.ID, "nested", &root.ID)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindUnauthorized))

	_, err = e.buckets.AssignPermission(alice.ID, root.ID, bob.Email, models.PermissionWrite)
	require.NoError(t, err)
	nested, err := e.buckets.Create(bob.ID, "nested", &root.ID)
	require.NoError(t, err)
	assert.Equal(t, bob.ID, nested.OwnerID)
}

func TestCascadeDeleteRemovesSubtree(t *testing.T) {
	e := newTestEnv(t)
	alice := e.registerUser(t, "alice")
	root := e.createBucket(t, alice, "root", nil)
	child := e.createBucket(t, alice, "child", &root.ID)
	e.upload(t, alice, root.ID, "top.txt", []byte("t"))
	e.upload(t, alice, child.ID, "deep.txt", []byte("d"))
	e.upload(t, alice, child.ID, "deep.txt", []byte("d2"))

	require.NoError(t, e.buckets.Delete(context.Background(), alice.ID, root.ID))

	for _, model := range []interface{}{
		&models.Bucket{}, &models.Item{}, &models.Version{},
		&models.Permission{}, &models.Approver{}, &models.Approval{},
	} {
		var count int64
		require.NoError(t, e.db.Model(model).Count(&count).Error)
		assert.Zerof(t, count, "%T rows left behind", model)
	}
	assert.Equal(t, 0, e.store.Len())

	_, err := e.permissions.ResolveBucketAccess(e.db, alice.ID, root.ID)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestDeleteBucketRequiresOwner(t *testing.T) {
	e := newTestEnv(t)
	alice := e.registerUser(t, "alice")
	bob := e.registerUser(t, "bob")
	bucket := e.createBucket(t, alice, "docs", nil)
	_, err := e.buckets.AssignPermission(alice.ID, bucket.ID, bob.Email, models.PermissionWrite)
	require.NoError(t, err)

	err = e.buckets.Delete(context.Background(), bob.ID, bucket.ID)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindUnauthorized))

	// 管理员可以
	admin := e.registerAdmin(t, "root")
	require.NoError(t, e.buckets.Delete(context.Background(), admin.ID, bucket.ID))
}
