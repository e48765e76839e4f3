package service

import (
	"context"
	"testing"

	"github.com/cumulusfs/cumulus/models"
	"github.com/cumulusfs/cumulus/pkg/apperr"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func folderIDs(listing *Listing) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(listing.Folders))
	for _, f := range listing.Folders {
		ids = append(ids, f.ID)
	}
	return ids
}

func TestRootListingDeduplicatesSubtree(t *testing.T) {
	e := newTestEnv(t)
	alice := e.registerUser(t, "alice")
	bob := e.registerUser(t, "bob")
	root := e.createBucket(t, alice, "root", nil)
	child := e.createBucket(t, alice, "child", &root.ID)

	_, err := e.buckets.AssignPermission(alice.ID, root.ID, bob.Email, models.PermissionView)
	require.NoError(t, err)

	// 整棵子树可达，但根列表只露出子树的顶点
	listing, err := e.listings.ListBucketContents(bob.ID, nil)
	require.NoError(t, err)
	assert.ElementsMatch(t, []uuid.UUID{root.ID}, folderIDs(listing))

	inner, err := e.listings.ListBucketContents(bob.ID, &root.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []uuid.UUID{child.ID}, folderIDs(inner))
	require.NotNil(t, inner.Location)
	assert.Equal(t, root.ID, inner.Location.ID)
}

func TestDeepGrantSurfacesAtRoot(t *testing.T) {
	e := newTestEnv(t)
	alice := e.registerUser(t, "alice")
	bob := e.registerUser(t, "bob")
	root := e.createBucket(t, alice, "root", nil)
	child := e.createBucket(t, alice, "child", &root.ID)
	grandchild := e.createBucket(t, alice, "grandchild", &child.ID)

	_, err := e.buckets.AssignPermission(alice.ID, grandchild.ID, bob.Email, models.PermissionView)
	require.NoError(t, err)

	// 祖先不可达，深层目录直接出现在 bob 的根上
	listing, err := e.listings.ListBucketContents(bob.ID, nil)
	require.NoError(t, err)
	assert.ElementsMatch(t, []uuid.UUID{grandchild.ID}, folderIDs(listing))

	// 祖先本身仍然不可见
	_, err = e.listings.ListBucketContents(bob.ID, &child.ID)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindUnauthorized))
}

func TestOwnerRootListsOwnedTops(t *testing.T) {
	e := newTestEnv(t)
	alice := e.registerUser(t, "alice")
	root := e.createBucket(t, alice, "root", nil)
	e.createBucket(t, alice, "child", &root.ID)
	other := e.createBucket(t, alice, "other", nil)

	listing, err := e.listings.ListBucketContents(alice.ID, nil)
	require.NoError(t, err)
	assert.ElementsMatch(t, []uuid.UUID{root.ID, other.ID}, folderIDs(listing))
	for _, f := range listing.Folders {
		assert.Equal(t, "owner", f.Access)
	}
}

func TestVersionVisibilityInListing(t *testing.T) {
	e := newTestEnv(t)
	alice := e.registerUser(t, "alice")
	bob := e.registerUser(t, "bob")
	carol := e.registerUser(t, "carol")
	bucket := e.createBucket(t, alice, "docs", nil)
	first := e.upload(t, alice, bucket.ID, "report.txt", []byte("v1"))
	_, err := e.buckets.AssignPermission(alice.ID, bucket.ID, bob.Email, models.PermissionWrite)
	require.NoError(t, err)
	_, err = e.buckets.AssignPermission(alice.ID, bucket.ID, carol.Email, models.PermissionView)
	require.NoError(t, err)
	second := e.upload(t, bob, bucket.ID, "report.txt", []byte("v2"))
	require.Equal(t, models.VersionPending, second.Version.Status)

	// 旁观者 carol 只看到已批准的版本
	listing, err := e.listings.ListBucketContents(carol.ID, &bucket.ID)
	require.NoError(t, err)
	require.Len(t, listing.Files, 1)
	require.Len(t, listing.Files[0].Versions, 1)
	assert.Equal(t, first.Version.ID, listing.Files[0].Versions[0].ID)

	// 上传者 bob 看到自己的待审版本，但不带审批标记
	listing, err = e.listings.ListBucketContents(bob.ID, &bucket.ID)
	require.NoError(t, err)
	require.Len(t, listing.Files, 1)
	assert.Len(t, listing.Files[0].Versions, 2)
	for _, v := range listing.Files[0].Versions {
		assert.False(t, v.RequestingApproval)
	}

	// 审批人 alice 看到待审版本并被标记
	listing, err = e.listings.ListBucketContents(alice.ID, &bucket.ID)
	require.NoError(t, err)
	require.Len(t, listing.Files, 1)
	flagged := 0
	for _, v := range listing.Files[0].Versions {
		if v.RequestingApproval {
			flagged++
			assert.Equal(t, second.Version.ID, v.ID)
		}
	}
	assert.Equal(t, 1, flagged)
}

func TestItemWithNoVisibleVersionsIsOmitted(t *testing.T) {
	e := newTestEnv(t)
	alice := e.registerUser(t, "alice")
	bucket := e.createBucket(t, alice, "docs", nil)
	first := e.upload(t, alice, bucket.ID, "report.txt", []byte("v1"))
	e.upload(t, alice, bucket.ID, "kept.txt", []byte("keep"))

	off := false
	require.NoError(t, e.approvals.ApplyItemCommand(alice.ID, first.Item.ID, UpdateSettings{VersioningEnabled: &off}))
	require.NoError(t, e.objects.DeleteVersion(context.Background(), alice.ID, first.Version.ID))

	listing, err := e.listings.ListBucketContents(alice.ID, &bucket.ID)
	require.NoError(t, err)
	require.Len(t, listing.Files, 1)
	assert.Equal(t, "kept.txt", listing.Files[0].Key)
}

func TestAdminSeesWholeTree(t *testing.T) {
	e := newTestEnv(t)
	alice := e.registerUser(t, "alice")
	admin := e.registerAdmin(t, "root")
	top := e.createBucket(t, alice, "top", nil)
	e.createBucket(t, alice, "nested", &top.ID)

	listing, err := e.listings.ListBucketContents(admin.ID, nil)
	require.NoError(t, err)
	assert.ElementsMatch(t, []uuid.UUID{top.ID}, folderIDs(listing))
}

func TestListByExtension(t *testing.T) {
	e := newTestEnv(t)
	alice := e.registerUser(t, "alice")
	bob := e.registerUser(t, "bob")
	bucket := e.createBucket(t, alice, "docs", nil)
	sub := e.createBucket(t, alice, "sub", &bucket.ID)
	e.upload(t, alice, bucket.ID, "a.pdf", []byte("a"))
	e.upload(t, alice, sub.ID, "b.PDF", []byte("b"))
	e.upload(t, alice, bucket.ID, "c.txt", []byte("c"))

	files, err := e.listings.ListByExtension(alice.ID, "pdf")
	require.NoError(t, err)
	assert.Len(t, files, 2)

	// bob 什么都够不到
	files, err = e.listings.ListByExtension(bob.ID, ".pdf")
	require.NoError(t, err)
	assert.Len(t, files, 0)
}
