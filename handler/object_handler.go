package handler

import (
	"io"
	"net/http"

	"github.com/cumulusfs/cumulus/service"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

type ObjectHandler struct {
	objects   service.ObjectService
	versions  service.VersionService
	listings  service.ListingService
	approvals service.ApprovalService
}

func NewObjectHandler(objects service.ObjectService, versions service.VersionService, listings service.ListingService, approvals service.ApprovalService) *ObjectHandler {
	return &ObjectHandler{objects: objects, versions: versions, listings: listings, approvals: approvals}
}

// Upload 上传一个版本
// POST /api/buckets/:bucketId/objects  (multipart: key, file, notes)
func (h *ObjectHandler) Upload(c *gin.Context) {
	actorID, ok := mustActor(c)
	if !ok {
		return
	}
	bucketID, ok := parseIDParam(c, "bucketId")
	if !ok {
		return
	}
	key := c.PostForm("key")
	file, header, err := c.Request.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
		return
	}
	defer file.Close()
	if key == "" {
		key = header.Filename
	}
	data, err := io.ReadAll(file)
	if err != nil {
		logrus.WithError(err).Warn("read upload body")
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read file"})
		return
	}

	result, err := h.objects.Upload(c.Request.Context(), actorID, bucketID, key, data, c.PostForm("notes"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

// Download 最新已批准版本的内容
// GET /api/buckets/:bucketId/objects/:key
func (h *ObjectHandler) Download(c *gin.Context) {
	actorID, ok := mustActor(c)
	if !ok {
		return
	}
	bucketID, ok := parseIDParam(c, "bucketId")
	if !ok {
		return
	}
	key := c.Param("key")
	rc, version, err := h.objects.Download(c.Request.Context(), actorID, bucketID, key)
	if err != nil {
		respondError(c, err)
		return
	}
	defer rc.Close()
	c.Header("ETag", version.ETag)
	c.Header("X-Version-Id", version.ID.String())
	c.DataFromReader(http.StatusOK, version.Size, "application/octet-stream", rc, nil)
}

// ListVersions item 的版本历史（按可见性过滤）
// GET /api/items/:itemId/versions
func (h *ObjectHandler) ListVersions(c *gin.Context) {
	actorID, ok := mustActor(c)
	if !ok {
		return
	}
	itemID, ok := parseIDParam(c, "itemId")
	if !ok {
		return
	}
	versions, err := h.versions.ListVersions(actorID, itemID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"versions": versions})
}

// DownloadVersion 指定版本的内容
// GET /api/versions/:versionId/content
func (h *ObjectHandler) DownloadVersion(c *gin.Context) {
	actorID, ok := mustActor(c)
	if !ok {
		return
	}
	versionID, ok := parseIDParam(c, "versionId")
	if !ok {
		return
	}
	rc, version, err := h.objects.DownloadVersion(c.Request.Context(), actorID, versionID)
	if err != nil {
		respondError(c, err)
		return
	}
	defer rc.Close()
	c.Header("ETag", version.ETag)
	c.DataFromReader(http.StatusOK, version.Size, "application/octet-stream", rc, nil)
}

// DeleteVersion 删除单个版本
// DELETE /api/versions/:versionId
func (h *ObjectHandler) DeleteVersion(c *gin.Context) {
	actorID, ok := mustActor(c)
	if !ok {
		return
	}
	versionID, ok := parseIDParam(c, "versionId")
	if !ok {
		return
	}
	if err := h.objects.DeleteVersion(c.Request.Context(), actorID, versionID); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": versionID})
}

// DeleteItem 删除 item 及其全部版本
// DELETE /api/items/:itemId
func (h *ObjectHandler) DeleteItem(c *gin.Context) {
	actorID, ok := mustActor(c)
	if !ok {
		return
	}
	itemID, ok := parseIDParam(c, "itemId")
	if !ok {
		return
	}
	if err := h.objects.DeleteItem(c.Request.Context(), actorID, itemID); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": itemID})
}

// AssignPermission item 上的直接授权
// POST /api/items/:itemId/permissions
func (h *ObjectHandler) AssignPermission(c *gin.Context) {
	actorID, ok := mustActor(c)
	if !ok {
		return
	}
	itemID, ok := parseIDParam(c, "itemId")
	if !ok {
		return
	}
	var req grantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	perm, err := h.objects.AssignPermission(actorID, itemID, req.Email, req.PermissionType)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, perm)
}

// RevokePermission 撤销 item 授权
// DELETE /api/items/:itemId/permissions
func (h *ObjectHandler) RevokePermission(c *gin.Context) {
	actorID, ok := mustActor(c)
	if !ok {
		return
	}
	itemID, ok := parseIDParam(c, "itemId")
	if !ok {
		return
	}
	var req revokeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.objects.RevokePermission(actorID, itemID, req.Email); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"revoked": req.Email})
}

// AccessList item 上的授权列表
// GET /api/items/:itemId/permissions
func (h *ObjectHandler) AccessList(c *gin.Context) {
	actorID, ok := mustActor(c)
	if !ok {
		return
	}
	itemID, ok := parseIDParam(c, "itemId")
	if !ok {
		return
	}
	perms, err := h.objects.AccessList(actorID, itemID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"permissions": perms})
}

// GetApprovalSettings item 审批设置、审批组与历史
// GET /api/items/:itemId/approval
func (h *ObjectHandler) GetApprovalSettings(c *gin.Context) {
	actorID, ok := mustActor(c)
	if !ok {
		return
	}
	itemID, ok := parseIDParam(c, "itemId")
	if !ok {
		return
	}
	settings, err := h.approvals.GetItemSettings(actorID, itemID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, settings)
}

// UpdateApprovalSettings item 审批设置命令
// PUT /api/items/:itemId/approval
func (h *ObjectHandler) UpdateApprovalSettings(c *gin.Context) {
	actorID, ok := mustActor(c)
	if !ok {
		return
	}
	itemID, ok := parseIDParam(c, "itemId")
	if !ok {
		return
	}
	cmd, err := parseSettingsCommand(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.approvals.ApplyItemCommand(actorID, itemID, cmd); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": itemID})
}

// SearchByExtension 按扩展名跨目录检索
// GET /api/search?ext=.pdf
func (h *ObjectHandler) SearchByExtension(c *gin.Context) {
	actorID, ok := mustActor(c)
	if !ok {
		return
	}
	files, err := h.listings.ListByExtension(actorID, c.Query("ext"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"files": files})
}
