package service

import (
	"context"
	"io"
	"testing"

	"github.com/cumulusfs/cumulus/models"
	"github.com/cumulusfs/cumulus/pkg/apperr"
	"github.com/cumulusfs/cumulus/pkg/metrics"
	"github.com/cumulusfs/cumulus/storage"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFirstUploadIsAutoApproved(t *testing.T) {
	e := newTestEnv(t)
	alice := e.registerUser(t, "alice")
	bucket := e.createBucket(t, alice, "docs", nil)

	result := e.upload(t, alice, bucket.ID, "report.txt", []byte("v1"))
	assert.Equal(t, models.VersionApproved, result.Version.Status)
	assert.True(t, result.Version.IsLatest)
	assert.False(t, result.RequiresApproval)

	path := storage.ObjectPath(bucket.ID.String(), "report.txt", result.Version.ID.String())
	assert.True(t, e.store.Exists(path))
}

func TestFirstUploadByGrantedUserIsAutoApproved(t *testing.T) {
	e := newTestEnv(t)
	alice := e.registerUser(t, "alice")
	bob := e.registerUser(t, "bob")
	bucket := e.createBucket(t, alice, "docs", nil)
	_, err := e.buckets.AssignPermission(alice.ID, bucket.ID, bob.Email, models.PermissionWrite)
	require.NoError(t, err)

	// 引导不看审批开关：新 item 的首版本没有已批准内容可保护
	result := e.upload(t, bob, bucket.ID, "notes.txt", []byte("v1"))
	assert.Equal(t, models.VersionApproved, result.Version.Status)
	assert.True(t, result.Version.IsLatest)
	assert.Equal(t, bob.ID, result.Item.OwnerID)
}

func TestIdenticalContentConflicts(t *testing.T) {
	e := newTestEnv(t)
	alice := e.registerUser(t, "alice")
	bucket := e.createBucket(t, alice, "docs", nil)
	e.upload(t, alice, bucket.ID, "report.txt", []byte("same"))

	_, err := e.objects.Upload(context.Background(), alice.ID, bucket.ID, "report.txt", []byte("same"), "")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindConflict))
}

func TestNonOwnerSecondUploadGoesPending(t *testing.T) {
	e := newTestEnv(t)
	alice := e.registerUser(t, "alice")
	bob := e.registerUser(t, "bob")
	bucket := e.createBucket(t, alice, "docs", nil)
	first := e.upload(t, alice, bucket.ID, "report.txt", []byte("v1"))
	_, err := e.buckets.AssignPermission(alice.ID, bucket.ID, bob.Email, models.PermissionWrite)
	require.NoError(t, err)

	second := e.upload(t, bob, bucket.ID, "report.txt", []byte("v2"))
	assert.Equal(t, models.VersionPending, second.Version.Status)
	assert.False(t, second.Version.IsLatest)
	assert.True(t, second.RequiresApproval)
	require.NotNil(t, second.Version.ApproverID)

	// 已批准的首版本仍是 latest
	latest := &models.Version{}
	require.NoError(t, e.db.Where("item_id = ? AND is_latest = ?", first.Item.ID, true).First(latest).Error)
	assert.Equal(t, first.Version.ID, latest.ID)

	// 待决记录路由到了继承的默认审批组
	var pending int64
	require.NoError(t, e.db.Model(&models.Approval{}).
		Where("version_id = ? AND decision = ?", second.Version.ID, models.DecisionPending).
		Count(&pending).Error)
	assert.EqualValues(t, 1, pending)
}

func TestOwnerAutoApprovesOwnUpload(t *testing.T) {
	e := newTestEnv(t)
	alice := e.registerUser(t, "alice")
	bucket := e.createBucket(t, alice, "docs", nil)
	first := e.upload(t, alice, bucket.ID, "report.txt", []byte("v1"))

	second := e.upload(t, alice, bucket.ID, "report.txt", []byte("v2"))
	assert.Equal(t, models.VersionApproved, second.Version.Status)
	assert.True(t, second.Version.IsLatest)

	var latestCount int64
	require.NoError(t, e.db.Model(&models.Version{}).
		Where("item_id = ? AND is_latest = ?", first.Item.ID, true).
		Count(&latestCount).Error)
	assert.EqualValues(t, 1, latestCount)
}

func TestNewItemInheritsBucketApprovalSettings(t *testing.T) {
	e := newTestEnv(t)
	alice := e.registerUser(t, "alice")
	bucket := e.createBucket(t, alice, "docs", nil)

	off := false
	require.NoError(t, e.approvals.ApplyBucketCommand(alice.ID, bucket.ID, UpdateSettings{OwnerAutoApproves: &off}))

	// 关掉 bucket 的 owner 自动批准后再建的 item 要继承这个状态
	first := e.upload(t, alice, bucket.ID, "report.txt", []byte("v1"))
	item := &models.Item{}
	require.NoError(t, e.db.First(item, "id = ?", first.Item.ID).Error)
	assert.False(t, item.OwnerAutoApproves)
	assert.True(t, item.RequiresApproval)
	require.NotNil(t, item.DefaultApproverID)
	assert.Equal(t, *bucket.DefaultApproverID, *item.DefaultApproverID)

	// owner 的第二版因此也要走审批
	second := e.upload(t, alice, bucket.ID, "report.txt", []byte("v2"))
	assert.Equal(t, models.VersionPending, second.Version.Status)
	assert.False(t, second.Version.IsLatest)
}

func TestFailedUploadCountsAsFailedNotRejected(t *testing.T) {
	e := newTestEnv(t)
	alice := e.registerUser(t, "alice")
	bob := e.registerUser(t, "bob")
	bucket := e.createBucket(t, alice, "docs", nil)

	failedBefore := testutil.ToFloat64(metrics.UploadsTotal.WithLabelValues("failed"))
	rejectedBefore := testutil.ToFloat64(metrics.UploadsTotal.WithLabelValues("rejected"))

	_, err := e.objects.Upload(context.Background(), bob.ID, bucket.ID, "new.txt", []byte("x"), "")
	require.Error(t, err)

	// 授权失败记成 failed，不和审批驳回混在一起
	assert.Equal(t, failedBefore+1, testutil.ToFloat64(metrics.UploadsTotal.WithLabelValues("failed")))
	assert.Equal(t, rejectedBefore, testutil.ToFloat64(metrics.UploadsTotal.WithLabelValues("rejected")))
}

func TestOwnerUploadPendingWhenAutoApproveOff(t *testing.T) {
	e := newTestEnv(t)
	alice := e.registerUser(t, "alice")
	bucket := e.createBucket(t, alice, "docs", nil)
	result := e.upload(t, alice, bucket.ID, "report.txt", []byte("v1"))

	off := false
	require.NoError(t, e.approvals.ApplyBucketCommand(alice.ID, bucket.ID, UpdateSettings{OwnerAutoApproves: &off}))
	require.NoError(t, e.approvals.ApplyItemCommand(alice.ID, result.Item.ID, UpdateSettings{OwnerAutoApproves: &off}))

	second := e.upload(t, alice, bucket.ID, "report.txt", []byte("v2"))
	assert.Equal(t, models.VersionPending, second.Version.Status)
	assert.False(t, second.Version.IsLatest)
}

func TestUploadWithoutWriteAccess(t *testing.T) {
	e := newTestEnv(t)
	alice := e.registerUser(t, "alice")
	bob := e.registerUser(t, "bob")
	bucket := e.createBucket(t, alice, "docs", nil)
	e.upload(t, alice, bucket.ID, "report.txt", []byte("v1"))

	_, err := e.objects.Upload(context.Background(), bob.ID, bucket.ID, "new.txt", []byte("x"), "")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindUnauthorized))

	_, err = e.buckets.AssignPermission(alice.ID, bucket.ID, bob.Email, models.PermissionView)
	require.NoError(t, err)
	_, err = e.objects.Upload(context.Background(), bob.ID, bucket.ID, "report.txt", []byte("v2"), "")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindUnauthorized))
}

func TestVersioningDisabledReplacesContent(t *testing.T) {
	e := newTestEnv(t)
	alice := e.registerUser(t, "alice")
	bucket := e.createBucket(t, alice, "docs", nil)
	first := e.upload(t, alice, bucket.ID, "report.txt", []byte("v1"))

	off := false
	require.NoError(t, e.approvals.ApplyItemCommand(alice.ID, first.Item.ID, UpdateSettings{VersioningEnabled: &off}))

	second := e.upload(t, alice, bucket.ID, "report.txt", []byte("v2"))
	assert.Equal(t, models.VersionApproved, second.Version.Status)
	assert.True(t, second.Version.IsLatest)
	assert.Equal(t, 1, e.itemVersionCount(t, first.Item.ID))

	oldPath := storage.ObjectPath(bucket.ID.String(), "report.txt", first.Version.ID.String())
	newPath := storage.ObjectPath(bucket.ID.String(), "report.txt", second.Version.ID.String())
	assert.False(t, e.store.Exists(oldPath))
	assert.True(t, e.store.Exists(newPath))
}

func TestDownloadServesLatestApproved(t *testing.T) {
	e := newTestEnv(t)
	alice := e.registerUser(t, "alice")
	bob := e.registerUser(t, "bob")
	bucket := e.createBucket(t, alice, "docs", nil)
	e.upload(t, alice, bucket.ID, "report.txt", []byte("v1"))
	_, err := e.buckets.AssignPermission(alice.ID, bucket.ID, bob.Email, models.PermissionWrite)
	require.NoError(t, err)
	e.upload(t, bob, bucket.ID, "report.txt", []byte("v2 pending"))

	rc, version, err := e.objects.Download(context.Background(), bob.ID, bucket.ID, "report.txt")
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), data)
	assert.Equal(t, models.VersionApproved, version.Status)
}

func TestDownloadDeniedWithoutView(t *testing.T) {
	e := newTestEnv(t)
	alice := e.registerUser(t, "alice")
	bob := e.registerUser(t, "bob")
	bucket := e.createBucket(t, alice, "docs", nil)
	e.upload(t, alice, bucket.ID, "report.txt", []byte("v1"))

	_, _, err := e.objects.Download(context.Background(), bob.ID, bucket.ID, "report.txt")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindUnauthorized))
}

func TestDeleteLatestVersionBlockedWhileVersioned(t *testing.T) {
	e := newTestEnv(t)
	alice := e.registerUser(t, "alice")
	bucket := e.createBucket(t, alice, "docs", nil)
	first := e.upload(t, alice, bucket.ID, "report.txt", []byte("v1"))

	err := e.objects.DeleteVersion(context.Background(), alice.ID, first.Version.ID)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindConflict))

	off := false
	require.NoError(t, e.approvals.ApplyItemCommand(alice.ID, first.Item.ID, UpdateSettings{VersioningEnabled: &off}))
	require.NoError(t, e.objects.DeleteVersion(context.Background(), alice.ID, first.Version.ID))
	assert.Equal(t, 0, e.itemVersionCount(t, first.Item.ID))
}

func TestDeleteItemRemovesEverything(t *testing.T) {
	e := newTestEnv(t)
	alice := e.registerUser(t, "alice")
	bucket := e.createBucket(t, alice, "docs", nil)
	first := e.upload(t, alice, bucket.ID, "report.txt", []byte("v1"))
	e.upload(t, alice, bucket.ID, "report.txt", []byte("v2"))

	require.NoError(t, e.objects.DeleteItem(context.Background(), alice.ID, first.Item.ID))

	assert.Equal(t, 0, e.itemVersionCount(t, first.Item.ID))
	var items int64
	require.NoError(t, e.db.Model(&models.Item{}).Where("id = ?", first.Item.ID).Count(&items).Error)
	assert.EqualValues(t, 0, items)
	var approvers int64
	require.NoError(t, e.db.Model(&models.Approver{}).
		Where("scope_type = ? AND scope_id = ?", models.ScopeItem, first.Item.ID).
		Count(&approvers).Error)
	assert.EqualValues(t, 0, approvers)
	assert.Equal(t, 0, e.store.Len())
}
